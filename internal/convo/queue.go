package convo

import (
	"sync"
	"time"
)

// SpeakableUnit is the smallest chunk of assistant text dispatched to the
// renderer as one playback request, ordinarily one sentence.
type SpeakableUnit struct {
	Text      string    `json:"text"`
	TurnID    string    `json:"turn_id"`
	Seq       int       `json:"seq"`
	EmittedAt time.Time `json:"emitted_at"`
}

// Renderer is the external playback sink. Speak hands over exactly one unit;
// the renderer must eventually report completion through the session's
// OnPlaybackComplete (at-least-once is tolerated, the queue is idempotent).
// CancelPending is advisory: the renderer may be unable to interrupt an
// utterance already in flight.
type Renderer interface {
	Speak(unit SpeakableUnit)
	CancelPending()
}

// SpeechQueue serializes speakable units to a single renderer: at most one
// unit is active at any instant, units play in enqueue order, and nothing is
// dropped. Producer (turn goroutine) and consumer (renderer callback) both
// funnel through the one mutex; the renderer is always called with the lock
// released so a synchronous completion callback cannot deadlock.
type SpeechQueue struct {
	mu       sync.Mutex
	renderer Renderer
	current  *SpeakableUnit
	pending  []SpeakableUnit

	// onIdle fires after a completion signal leaves the queue empty. It does
	// not fire on duplicate completions while already idle.
	onIdle func()
}

func NewSpeechQueue(renderer Renderer, onIdle func()) *SpeechQueue {
	return &SpeechQueue{renderer: renderer, onIdle: onIdle}
}

// Enqueue appends a unit. If the queue is idle the unit becomes active and
// the renderer is signalled immediately.
func (q *SpeechQueue) Enqueue(unit SpeakableUnit) {
	q.mu.Lock()
	if q.current != nil {
		q.pending = append(q.pending, unit)
		q.mu.Unlock()
		return
	}
	q.current = &unit
	q.mu.Unlock()

	q.renderer.Speak(unit)
}

// OnPlaybackComplete advances the queue after the renderer finishes the
// active unit. A duplicate signal while idle is a no-op, not an error: the
// browser side can double-fire on reconnects.
func (q *SpeechQueue) OnPlaybackComplete() {
	q.mu.Lock()
	if q.current == nil {
		q.mu.Unlock()
		return
	}
	if len(q.pending) == 0 {
		q.current = nil
		idle := q.onIdle
		q.mu.Unlock()
		if idle != nil {
			idle()
		}
		return
	}
	next := q.pending[0]
	q.pending = q.pending[1:]
	q.current = &next
	q.mu.Unlock()

	q.renderer.Speak(next)
}

// CancelAll drops the backlog and forgets the active unit, then relays a
// best-effort cancel to the renderer. It does not guarantee the renderer
// stops an utterance already being produced.
func (q *SpeechQueue) CancelAll() {
	q.mu.Lock()
	q.pending = nil
	q.current = nil
	q.mu.Unlock()

	q.renderer.CancelPending()
}

// Idle reports whether nothing is active or waiting.
func (q *SpeechQueue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current == nil && len(q.pending) == 0
}

// Depth returns the number of units not yet finished (active plus pending).
func (q *SpeechQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	if q.current != nil {
		n++
	}
	return n
}
