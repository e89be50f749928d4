package session

import (
	"log"
	"sync"
	"time"

	"github.com/avatara/tutor/internal/convo"
	"github.com/avatara/tutor/internal/observability"
	"github.com/avatara/tutor/internal/protocol"
)

// relayRenderer bridges a session's SpeechQueue to whichever websocket client
// is currently attached. Speak requests go out as frames; the browser answers
// with playback_complete once the avatar finishes.
//
// With no client attached the renderer acknowledges units itself, so turns
// submitted over plain REST still drain and finalise instead of hanging on an
// ack nobody will send.
type relayRenderer struct {
	sessionID string
	metrics   *observability.Metrics

	mu          sync.Mutex
	send        func(v any) error
	outstanding bool

	turnID         string
	acceptedAt     time.Time
	firstSpeakDone bool

	// Set after construction; the session and renderer reference each other.
	ack func()
}

func newRelayRenderer(sessionID string, metrics *observability.Metrics) *relayRenderer {
	return &relayRenderer{sessionID: sessionID, metrics: metrics}
}

func (r *relayRenderer) attach(send func(v any) error) {
	r.mu.Lock()
	r.send = send
	r.mu.Unlock()
}

func (r *relayRenderer) detach() {
	r.mu.Lock()
	r.send = nil
	r.mu.Unlock()
}

func (r *relayRenderer) attached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.send != nil
}

// deliver pushes any server frame to the attached client. Returns false when
// no client is listening.
func (r *relayRenderer) deliver(v any) bool {
	r.mu.Lock()
	send := r.send
	r.mu.Unlock()
	if send == nil {
		return false
	}
	if err := send(v); err != nil {
		log.Printf("session %s: relay send failed: %v", r.sessionID, err)
		return false
	}
	return true
}

// noteTurnAccepted arms first-speak latency measurement for one turn.
func (r *relayRenderer) noteTurnAccepted(turnID string, at time.Time) {
	r.mu.Lock()
	r.turnID = turnID
	r.acceptedAt = at
	r.firstSpeakDone = false
	r.mu.Unlock()
}

func (r *relayRenderer) Speak(unit convo.SpeakableUnit) {
	r.metrics.SentenceUnits.Inc()

	r.mu.Lock()
	if !r.outstanding {
		r.outstanding = true
		r.metrics.SpeakingSessions.Inc()
	}
	if unit.TurnID == r.turnID && !r.firstSpeakDone {
		r.firstSpeakDone = true
		r.metrics.ObserveFirstSpeakLatency(time.Since(r.acceptedAt))
	}
	r.mu.Unlock()

	ok := r.deliver(protocol.SpeakRequest{
		Type:      protocol.TypeSpeakRequest,
		SessionID: r.sessionID,
		TurnID:    unit.TurnID,
		Seq:       unit.Seq,
		Text:      unit.Text,
	})
	if ok {
		r.metrics.WSMessages.WithLabelValues("out", string(protocol.TypeSpeakRequest)).Inc()
		return
	}

	// Headless path: self-acknowledge so the queue keeps draining.
	r.completed()
	if r.ack != nil {
		r.ack()
	}
}

func (r *relayRenderer) CancelPending() {
	r.completed()
	if r.deliver(protocol.SpeakCancel{Type: protocol.TypeSpeakCancel, SessionID: r.sessionID}) {
		r.metrics.WSMessages.WithLabelValues("out", string(protocol.TypeSpeakCancel)).Inc()
	}
}

// completed clears the outstanding-utterance flag. Called on playback ack,
// self-ack and cancel; safe to call when nothing is outstanding.
func (r *relayRenderer) completed() {
	r.mu.Lock()
	if r.outstanding {
		r.outstanding = false
		r.metrics.SpeakingSessions.Dec()
	}
	r.mu.Unlock()
}
