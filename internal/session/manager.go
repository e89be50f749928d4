package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/avatara/tutor/internal/brain"
	"github.com/avatara/tutor/internal/convo"
	"github.com/avatara/tutor/internal/observability"
	"github.com/avatara/tutor/internal/policy"
	"github.com/avatara/tutor/internal/protocol"
	"github.com/avatara/tutor/internal/transcript"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound       = errors.New("session not found")
	ErrSessionEnded   = errors.New("session has ended")
	ErrUnknownChannel = errors.New("unknown input channel")
)

// ManagerConfig wires the collaborators shared by every session.
type ManagerConfig struct {
	InactivityTimeout time.Duration
	Metrics           *observability.Metrics
	Transcripts       transcript.Store
	Adapter           brain.Adapter

	SystemPrompt string
	FailureReply string
	// SkipSystemMessage is set when the retrieval layer injects role framing
	// on the model side.
	SkipSystemMessage bool
	// RedactTranscripts masks PII in persisted transcript entries. The live
	// session history is never rewritten.
	RedactTranscripts bool
}

type live struct {
	convo    *convo.ConversationSession
	renderer *relayRenderer

	mu             sync.Mutex
	studentID      string
	status         Status
	startedAt      time.Time
	lastActivityAt time.Time
	acceptedAt     time.Time
	firstDeltaSeen bool
}

// Manager is the registry of live tutoring sessions. It builds each session's
// collaborator graph, mirrors history into the transcript store, relays
// server frames to attached clients and expires idle sessions.
type Manager struct {
	cfg ManagerConfig

	mu       sync.RWMutex
	sessions map[string]*live
	onExpire func(Info)
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = 5 * time.Minute
	}
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*live),
	}
}

func (m *Manager) InactivityTimeout() time.Duration {
	return m.cfg.InactivityTimeout
}

// SetExpireHook registers a callback fired after the janitor ends an idle
// session.
func (m *Manager) SetExpireHook(hook func(Info)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Create builds, starts and registers a new session.
func (m *Manager) Create(studentID string) Info {
	now := time.Now().UTC()
	l := &live{
		studentID:      studentID,
		status:         StatusActive,
		startedAt:      now,
		lastActivityAt: now,
	}
	l.renderer = newRelayRenderer("", m.cfg.Metrics)

	var cs *convo.ConversationSession
	cs = convo.NewConversationSession(convo.SessionConfig{
		SystemPrompt:      m.cfg.SystemPrompt,
		SkipSystemMessage: m.cfg.SkipSystemMessage,
		FailureReply:      m.cfg.FailureReply,
		Adapter:           m.cfg.Adapter,
		Renderer:          l.renderer,
		Events: convo.Events{
			MessageAppended: func(msg convo.Message) { m.mirrorMessage(cs.ID(), msg) },
			AssistantDelta:  func(turnID, delta string) { m.onAssistantDelta(l, turnID, delta) },
			TurnFinished:    func(turn convo.Turn) { m.onTurnFinished(l, turn) },
		},
	})
	l.convo = cs
	l.renderer.sessionID = cs.ID()
	l.renderer.ack = cs.OnPlaybackComplete

	m.mu.Lock()
	m.sessions[cs.ID()] = l
	m.mu.Unlock()

	cs.Start()
	m.cfg.Metrics.ActiveSessions.Inc()
	log.Printf("session %s: created (student=%q)", cs.ID(), studentID)
	return m.info(l)
}

// Submit routes one input event into a session. Text is sanitised before it
// reaches the session; the decision comes back to the caller either way.
func (m *Manager) Submit(ctx context.Context, sessionID, channel, text string) (convo.SubmitResult, error) {
	ch, err := parseChannel(channel)
	if err != nil {
		return convo.SubmitResult{}, err
	}
	l, err := m.lookup(sessionID)
	if err != nil {
		return convo.SubmitResult{}, err
	}

	res := l.convo.Submit(ctx, ch, policy.SanitizeInput(text))
	m.touch(l)

	if res.Accepted() {
		now := time.Now().UTC()
		l.mu.Lock()
		l.acceptedAt = now
		l.firstDeltaSeen = false
		l.mu.Unlock()
		l.renderer.noteTurnAccepted(res.TurnID, now)
	} else {
		m.cfg.Metrics.SubmitRejections.WithLabelValues(string(res.Decision)).Inc()
		m.cfg.Metrics.ObserveTurnIndicator(string(res.Decision))
	}
	return res, nil
}

// PlaybackComplete relays the renderer's ack for the active utterance.
func (m *Manager) PlaybackComplete(sessionID string) error {
	l, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	l.renderer.completed()
	l.convo.OnPlaybackComplete()
	m.touch(l)
	return nil
}

func (m *Manager) ClearHistory(sessionID string) error {
	l, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	if err := l.convo.ClearHistory(); err != nil {
		return err
	}
	m.touch(l)
	m.pushState(l)
	return nil
}

func (m *Manager) CancelSpeech(sessionID string) error {
	l, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	l.convo.CancelSpeech()
	m.touch(l)
	return nil
}

// End stops a session. The entry stays registered so transcripts remain
// reachable until the janitor or a restart drops it.
func (m *Manager) End(sessionID string) (Info, error) {
	l, err := m.lookup(sessionID)
	if err != nil {
		return Info{}, err
	}
	m.end(l)
	return m.info(l), nil
}

func (m *Manager) Get(sessionID string) (Info, error) {
	l, err := m.lookup(sessionID)
	if err != nil {
		return Info{}, err
	}
	return m.info(l), nil
}

func (m *Manager) History(sessionID string) ([]convo.Message, error) {
	l, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return l.convo.History(), nil
}

func (m *Manager) Transcript(ctx context.Context, sessionID string, limit int) ([]transcript.Entry, error) {
	if _, err := m.lookup(sessionID); err != nil {
		return nil, err
	}
	return m.cfg.Transcripts.SessionTranscript(ctx, sessionID, limit)
}

// AttachClient binds a websocket's send function to the session. At most one
// client is attached at a time; a reconnect displaces the previous link.
func (m *Manager) AttachClient(sessionID string, send func(v any) error) error {
	l, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	l.renderer.attach(send)
	m.touch(l)
	m.pushState(l)
	return nil
}

func (m *Manager) DetachClient(sessionID string) {
	l, err := m.lookup(sessionID)
	if err != nil {
		return
	}
	l.renderer.detach()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, l := range m.sessions {
		l.mu.Lock()
		if l.status == StatusActive {
			count++
		}
		l.mu.Unlock()
	}
	return count
}

// StartJanitor expires idle sessions until ctx is cancelled.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

// Shutdown ends every active session and waits for in-flight turns.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	lives := make([]*live, 0, len(m.sessions))
	for _, l := range m.sessions {
		lives = append(lives, l)
	}
	m.mu.RUnlock()

	for _, l := range lives {
		m.end(l)
		l.convo.Wait()
	}
}

func (m *Manager) lookup(sessionID string) (*live, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return l, nil
}

func (m *Manager) touch(l *live) {
	l.mu.Lock()
	l.lastActivityAt = time.Now().UTC()
	l.mu.Unlock()
}

func (m *Manager) end(l *live) {
	l.mu.Lock()
	wasActive := l.status == StatusActive
	l.status = StatusEnded
	l.lastActivityAt = time.Now().UTC()
	l.mu.Unlock()

	if !wasActive {
		return
	}
	l.convo.Stop()
	m.cfg.Metrics.ActiveSessions.Dec()
	log.Printf("session %s: ended", l.convo.ID())
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	timeout := m.cfg.InactivityTimeout

	m.mu.RLock()
	var expired []*live
	for _, l := range m.sessions {
		l.mu.Lock()
		idle := l.status == StatusActive && now.Sub(l.lastActivityAt) >= timeout
		l.mu.Unlock()
		if idle {
			expired = append(expired, l)
		}
	}
	hook := m.onExpire
	m.mu.RUnlock()

	for _, l := range expired {
		log.Printf("session %s: expiring after inactivity", l.convo.ID())
		m.end(l)
		if hook != nil {
			hook(m.info(l))
		}
	}
}

func (m *Manager) info(l *live) Info {
	l.mu.Lock()
	info := Info{
		SessionID:      l.convo.ID(),
		StudentID:      l.studentID,
		Status:         l.status,
		StartedAt:      l.startedAt,
		LastActivityAt: l.lastActivityAt,
	}
	l.mu.Unlock()
	info.State = l.convo.State()
	return info
}

// mirrorMessage appends one history message to the transcript store,
// optionally redacted. Store failures are logged, never surfaced into the
// turn pipeline.
func (m *Manager) mirrorMessage(sessionID string, msg convo.Message) {
	content := msg.Content
	redacted := false
	if m.cfg.RedactTranscripts {
		content, redacted = policy.RedactPII(content)
	}
	entry := transcript.Entry{
		ID:        msg.ID,
		SessionID: sessionID,
		Role:      string(msg.Role),
		Content:   content,
		Sequence:  msg.Sequence,
		Redacted:  redacted,
		CreatedAt: msg.CreatedAt,
	}
	if err := m.cfg.Transcripts.Append(context.Background(), entry); err != nil {
		log.Printf("session %s: transcript append failed: %v", sessionID, err)
	}
}

func (m *Manager) onAssistantDelta(l *live, turnID, delta string) {
	l.mu.Lock()
	if !l.firstDeltaSeen {
		l.firstDeltaSeen = true
		m.cfg.Metrics.ObserveTurnStage(observability.StageAcceptToFirstSentence, time.Since(l.acceptedAt))
	}
	l.mu.Unlock()

	if l.renderer.deliver(protocol.AssistantTextDelta{
		Type:      protocol.TypeAssistantTextDelta,
		SessionID: l.convo.ID(),
		TurnID:    turnID,
		TextDelta: delta,
	}) {
		m.cfg.Metrics.WSMessages.WithLabelValues("out", string(protocol.TypeAssistantTextDelta)).Inc()
	}
}

func (m *Manager) onTurnFinished(l *live, turn convo.Turn) {
	m.cfg.Metrics.TurnOutcomes.WithLabelValues(string(turn.Status), string(turn.Channel)).Inc()
	m.cfg.Metrics.ObserveTurnStage(observability.StageTurnTotal, time.Since(turn.StartedAt))
	if turn.Status == convo.TurnFailed {
		m.cfg.Metrics.StreamFailures.Inc()
	}

	if l.renderer.deliver(protocol.TurnEnd{
		Type:      protocol.TypeTurnEnd,
		SessionID: l.convo.ID(),
		TurnID:    turn.ID,
		Status:    string(turn.Status),
	}) {
		m.cfg.Metrics.WSMessages.WithLabelValues("out", string(protocol.TypeTurnEnd)).Inc()
	}
	m.pushState(l)
}

// pushState mirrors the session snapshot to the attached client.
func (m *Manager) pushState(l *live) {
	state := l.convo.State()
	if l.renderer.deliver(protocol.SessionState{
		Type:       protocol.TypeSessionState,
		SessionID:  l.convo.ID(),
		Active:     state.Active,
		TurnID:     state.TurnID,
		TurnStatus: string(state.TurnStatus),
		QueueDepth: state.QueueDepth,
		Messages:   state.Messages,
	}) {
		m.cfg.Metrics.WSMessages.WithLabelValues("out", string(protocol.TypeSessionState)).Inc()
	}
}

func parseChannel(name string) (convo.InputChannel, error) {
	switch name {
	case string(convo.ChannelTyped):
		return convo.ChannelTyped, nil
	case string(convo.ChannelVoice):
		return convo.ChannelVoice, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownChannel, name)
	}
}
