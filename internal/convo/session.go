package convo

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avatara/tutor/internal/brain"
)

// DefaultFailureReply is substituted for the assistant message of a turn
// whose model stream failed. Partial speech already enqueued keeps playing.
const DefaultFailureReply = "I'm sorry, I ran into a problem answering that. Could you ask me again?"

var (
	ErrSessionInactive = errors.New("session is not active")
	ErrTurnInFlight    = errors.New("a turn is already in flight")
)

// Events are optional observation hooks. They are invoked outside the
// session's internal locks, after the state change they report has been
// applied. A nil hook is skipped.
type Events struct {
	MessageAppended func(msg Message)
	AssistantDelta  func(turnID string, delta string)
	TurnFinished    func(turn Turn)
}

// SessionConfig wires one session's collaborators.
type SessionConfig struct {
	// SystemPrompt is appended as the first history message on Start and
	// after ClearHistory, unless SkipSystemMessage is set.
	SystemPrompt string
	// SkipSystemMessage suppresses the system message. Set it when a
	// retrieval layer injects role framing on the model side; the caller
	// decides, the session never infers it.
	SkipSystemMessage bool
	// FailureReply overrides DefaultFailureReply when non-empty.
	FailureReply string

	Adapter  brain.Adapter
	Renderer Renderer
	Events   Events
}

// SessionState is a point-in-time snapshot for UI indicators.
type SessionState struct {
	Active     bool       `json:"active"`
	TurnID     string     `json:"turn_id,omitempty"`
	TurnStatus TurnStatus `json:"turn_status,omitempty"`
	QueueDepth int        `json:"queue_depth"`
	Messages   int        `json:"messages"`
}

// SubmitResult reports whether an input event opened a turn.
type SubmitResult struct {
	Decision Decision `json:"decision"`
	TurnID   string   `json:"turn_id,omitempty"`
	TurnSeq  int      `json:"turn_seq,omitempty"`
}

func (r SubmitResult) Accepted() bool { return r.Decision.Accepted() }

// ConversationSession is the aggregate root: it owns the message history,
// the current turn, the sentence accumulator, the speech queue and the dedup
// guard, and is the single entry point for input events.
//
// Concurrency model: at most one turn is in flight; within a turn the stream
// producer (model deltas) and the playback consumer (renderer completions)
// run on independent goroutines and meet only inside the SpeechQueue's
// critical section. Renderer and Events calls always happen with the session
// mutex released.
type ConversationSession struct {
	id     string
	cfg    SessionConfig
	events Events

	queue *SpeechQueue

	mu              sync.Mutex
	active          bool
	messages        []Message
	nextSeq         int
	nextTurn        int
	current         *Turn
	streamDone      bool
	speechCancelled bool
	unitSeq         int
	accum           SentenceAccumulator
	dedup           *TurnDeduplicator
	turnCancel      context.CancelFunc

	wg sync.WaitGroup
}

func NewConversationSession(cfg SessionConfig) *ConversationSession {
	s := &ConversationSession{
		id:     uuid.NewString(),
		cfg:    cfg,
		events: cfg.Events,
		dedup:  NewTurnDeduplicator(),
	}
	s.queue = NewSpeechQueue(cfg.Renderer, s.maybeFinishTurn)
	return s
}

func (s *ConversationSession) ID() string { return s.id }

// Start activates the session and seeds the system message. Starting an
// already active session is a no-op.
func (s *ConversationSession) Start() {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	seeded, ok := s.seedSystemMessageLocked()
	s.mu.Unlock()

	if ok {
		s.emitMessage(seeded)
	}
}

// Stop deactivates the session, cancels any in-flight model stream and drops
// queued speech. History stays intact. The cancellation is advisory for the
// renderer: an utterance already dispatched may finish on its own.
func (s *ConversationSession) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	cancel := s.turnCancel
	s.turnCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.queue.CancelAll()
}

// ClearHistory empties the history and resets the accumulator, then reseeds
// the system message. Only allowed while active and between turns.
func (s *ConversationSession) ClearHistory() error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return ErrSessionInactive
	}
	if s.current.InFlight() {
		s.mu.Unlock()
		return ErrTurnInFlight
	}
	s.messages = nil
	s.nextSeq = 0
	s.accum.Reset()
	s.dedup.TurnFinalised()
	seeded, ok := s.seedSystemMessageLocked()
	s.mu.Unlock()

	if ok {
		s.emitMessage(seeded)
	}
	return nil
}

// Submit runs one input event through the dedup guard and, on acceptance,
// appends the user message and launches the turn. Rejections are immediate;
// the caller may retry the same input once the current turn finishes.
func (s *ConversationSession) Submit(ctx context.Context, channel InputChannel, text string) SubmitResult {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return SubmitResult{Decision: DecisionRejectInactive}
	}

	decision := s.dedup.ShouldStartTurn(channel, text, s.current)
	if !decision.Accepted() {
		s.mu.Unlock()
		return SubmitResult{Decision: decision}
	}

	turn := &Turn{
		ID:        uuid.NewString(),
		Seq:       s.nextTurn,
		InputText: text,
		Channel:   channel,
		Status:    TurnPending,
		StartedAt: time.Now().UTC(),
	}
	s.nextTurn++
	s.current = turn
	s.streamDone = false
	s.speechCancelled = false
	s.unitSeq = 0
	s.accum.Reset()
	s.dedup.NoteAccepted(channel, text)

	userMsg := s.appendMessageLocked(RoleUser, text)
	history := s.historyForModelLocked()

	// The turn outlives the Submit call; its lifetime is bound to the
	// session, not to the caller's request context.
	turnCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.turnCancel = cancel
	started := *turn
	s.mu.Unlock()

	s.emitMessage(userMsg)

	s.wg.Add(1)
	go s.runTurn(turnCtx, started, history)

	return SubmitResult{Decision: DecisionAccept, TurnID: started.ID, TurnSeq: started.Seq}
}

// CancelSpeech drops queued speech and suppresses speech for the remainder
// of the current turn: a stream still open keeps producing text (history and
// deltas are unaffected) but no further units reach the renderer. The session
// stays active; if the current turn's stream has already closed, the turn
// finalises immediately.
func (s *ConversationSession) CancelSpeech() {
	s.mu.Lock()
	if s.current.InFlight() {
		s.speechCancelled = true
		s.accum.Reset()
	}
	s.mu.Unlock()

	s.queue.CancelAll()
	s.maybeFinishTurn()
}

// OnPlaybackComplete is relayed from the external renderer. Duplicate or
// stale signals are absorbed by the queue.
func (s *ConversationSession) OnPlaybackComplete() {
	s.queue.OnPlaybackComplete()
}

// History returns a copy of the message history in append order.
func (s *ConversationSession) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *ConversationSession) State() SessionState {
	s.mu.Lock()
	state := SessionState{
		Active:   s.active,
		Messages: len(s.messages),
	}
	if s.current != nil {
		state.TurnID = s.current.ID
		state.TurnStatus = s.current.Status
	}
	s.mu.Unlock()

	state.QueueDepth = s.queue.Depth()
	return state
}

// Wait blocks until any in-flight turn goroutine has returned. Stop first to
// interrupt an active stream.
func (s *ConversationSession) Wait() {
	s.wg.Wait()
}

func (s *ConversationSession) runTurn(ctx context.Context, turn Turn, history []brain.Message) {
	defer s.wg.Done()

	s.mu.Lock()
	if s.current != nil && s.current.ID == turn.ID {
		s.current.Status = TurnStreaming
	}
	s.mu.Unlock()

	req := brain.Request{
		SessionID: s.id,
		TurnID:    turn.ID,
		Messages:  history,
	}

	reply, err := s.cfg.Adapter.StreamReply(ctx, req, func(delta string) error {
		return s.acceptDelta(turn, delta)
	})

	if err != nil {
		s.finishStream(turn, "", err)
		return
	}
	s.finishStream(turn, reply.Text, nil)
}

// acceptDelta folds one streamed fragment into the accumulator and dispatches
// any completed sentences. Returns an error to abort the stream when the turn
// is no longer current.
func (s *ConversationSession) acceptDelta(turn Turn, delta string) error {
	s.mu.Lock()
	if s.current == nil || s.current.ID != turn.ID {
		s.mu.Unlock()
		return context.Canceled
	}
	units := s.collectUnitsLocked(turn, s.accum.Accept(delta))
	s.mu.Unlock()

	if s.events.AssistantDelta != nil {
		s.events.AssistantDelta(turn.ID, delta)
	}
	for _, u := range units {
		s.queue.Enqueue(u)
	}
	return nil
}

// finishStream closes out the producer side of a turn: flushes the trailing
// sentence, appends the assistant message (or the failure substitute) and
// arms turn finalisation, which fires once the queue drains.
//
// streamDone is armed only after the flush units are enqueued. Arming it
// first would open a window where a playback ack drains the queue and
// finalises the turn with its trailing unit still unqueued.
func (s *ConversationSession) finishStream(turn Turn, fullText string, streamErr error) {
	s.mu.Lock()
	if s.current == nil || s.current.ID != turn.ID {
		s.mu.Unlock()
		return
	}

	var units []SpeakableUnit
	var appended Message
	appendedOK := false

	if streamErr == nil {
		if rest, ok := s.accum.Flush(); ok {
			units = s.collectUnitsLocked(turn, []string{rest})
		}
		appended = s.appendMessageLocked(RoleAssistant, fullText)
		appendedOK = true
	} else {
		s.current.Status = TurnFailed
		// A cancelled stream means the session was stopped; no apology
		// message in that case.
		if s.active && !errors.Is(streamErr, context.Canceled) {
			appended = s.appendMessageLocked(RoleAssistant, s.failureReply())
			appendedOK = true
		}
	}
	s.turnCancel = nil
	s.mu.Unlock()

	if appendedOK {
		s.emitMessage(appended)
	}
	for _, u := range units {
		s.queue.Enqueue(u)
	}

	s.mu.Lock()
	if s.current != nil && s.current.ID == turn.ID {
		s.streamDone = true
	}
	s.mu.Unlock()

	s.maybeFinishTurn()
}

// maybeFinishTurn finalises the current turn once the stream has closed and
// the speech queue has drained. Called from both the producer side (stream
// end) and the consumer side (queue idle).
func (s *ConversationSession) maybeFinishTurn() {
	s.mu.Lock()
	if s.current == nil || !s.streamDone || !s.queue.Idle() {
		s.mu.Unlock()
		return
	}
	finished := *s.current
	if finished.Status != TurnFailed {
		finished.Status = TurnComplete
	}
	s.current = nil
	s.streamDone = false
	s.dedup.TurnFinalised()
	s.mu.Unlock()

	if s.events.TurnFinished != nil {
		s.events.TurnFinished(finished)
	}
}

// collectUnitsLocked turns raw sentence strings into dispatchable units,
// dropping any that sanitise down to nothing. Returns nothing once speech
// has been cancelled for the current turn.
func (s *ConversationSession) collectUnitsLocked(turn Turn, sentences []string) []SpeakableUnit {
	if len(sentences) == 0 || s.speechCancelled {
		return nil
	}
	units := make([]SpeakableUnit, 0, len(sentences))
	for _, raw := range sentences {
		text := speakableText(raw)
		if text == "" {
			continue
		}
		units = append(units, SpeakableUnit{
			Text:      text,
			TurnID:    turn.ID,
			Seq:       s.unitSeq,
			EmittedAt: time.Now().UTC(),
		})
		s.unitSeq++
	}
	return units
}

func (s *ConversationSession) appendMessageLocked(role Role, content string) Message {
	msg := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Sequence:  s.nextSeq,
		CreatedAt: time.Now().UTC(),
	}
	s.nextSeq++
	s.messages = append(s.messages, msg)
	return msg
}

func (s *ConversationSession) seedSystemMessageLocked() (Message, bool) {
	if s.cfg.SkipSystemMessage || s.cfg.SystemPrompt == "" {
		return Message{}, false
	}
	return s.appendMessageLocked(RoleSystem, s.cfg.SystemPrompt), true
}

func (s *ConversationSession) historyForModelLocked() []brain.Message {
	out := make([]brain.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, brain.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func (s *ConversationSession) failureReply() string {
	if s.cfg.FailureReply != "" {
		return s.cfg.FailureReply
	}
	return DefaultFailureReply
}

func (s *ConversationSession) emitMessage(msg Message) {
	if s.events.MessageAppended != nil {
		s.events.MessageAppended(msg)
	}
}
