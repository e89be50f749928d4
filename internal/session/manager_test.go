package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/avatara/tutor/internal/brain"
	"github.com/avatara/tutor/internal/convo"
	"github.com/avatara/tutor/internal/observability"
	"github.com/avatara/tutor/internal/transcript"
)

var metricsSeq atomic.Int64

// Each test needs its own namespace: instruments register against the
// default prometheus registry.
func newTestMetrics() *observability.Metrics {
	return observability.NewMetrics(fmt.Sprintf("test_session_%d", metricsSeq.Add(1)), 0)
}

func newTestManager(adapter brain.Adapter, mutate func(*ManagerConfig)) (*Manager, transcript.Store) {
	store := transcript.NewInMemoryStore()
	cfg := ManagerConfig{
		InactivityTimeout: time.Minute,
		Metrics:           newTestMetrics(),
		Transcripts:       store,
		Adapter:           adapter,
		SystemPrompt:      "You are a friendly tutor.",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewManager(cfg), store
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestManagerHeadlessTurnDrains(t *testing.T) {
	adapter := brain.NewMockAdapter()
	adapter.QueueReply("Four, of course.")
	m, store := newTestManager(adapter, nil)

	info := m.Create("student-1")
	if info.Status != StatusActive || info.SessionID == "" {
		t.Fatalf("created info = %+v", info)
	}
	if m.ActiveCount() != 1 {
		t.Fatalf("active count = %d, want 1", m.ActiveCount())
	}

	res, err := m.Submit(context.Background(), info.SessionID, "typed", "  What is 2+2?  ")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Accepted() {
		t.Fatalf("submit rejected: %q", res.Decision)
	}

	// No websocket attached: the relay self-acknowledges speech, so the turn
	// finishes on its own.
	waitFor(t, "turn to finish", func() bool {
		got, err := m.Get(info.SessionID)
		return err == nil && got.State.TurnID == ""
	})

	history, err := m.History(info.SessionID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	if history[1].Content != "What is 2+2?" {
		t.Fatalf("submitted text should be sanitised, got %q", history[1].Content)
	}

	entries, err := store.SessionTranscript(context.Background(), info.SessionID, 0)
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("transcript entries = %d, want 3", len(entries))
	}
	if entries[2].Role != "assistant" || entries[2].Content != "Four, of course." {
		t.Fatalf("transcript tail = %+v", entries[2])
	}
}

type frameSink struct {
	mu     sync.Mutex
	frames []map[string]any
}

func (f *frameSink) send(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var frame map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil {
		return err
	}
	f.mu.Lock()
	f.frames = append(f.frames, frame)
	f.mu.Unlock()
	return nil
}

func (f *frameSink) ofType(msgType string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]any
	for _, fr := range f.frames {
		if fr["type"] == msgType {
			out = append(out, fr)
		}
	}
	return out
}

func TestManagerAttachedClientDrivesPlayback(t *testing.T) {
	adapter := brain.NewMockAdapter()
	adapter.QueueReply("Gravity pulls things down.")
	m, _ := newTestManager(adapter, nil)
	info := m.Create("")

	sink := &frameSink{}
	if err := m.AttachClient(info.SessionID, sink.send); err != nil {
		t.Fatalf("attach: %v", err)
	}

	if _, err := m.Submit(context.Background(), info.SessionID, "voice", "why do things fall"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// With a client attached the turn stays open until the client acks.
	waitFor(t, "speak_request frame", func() bool {
		return len(sink.ofType("speak_request")) == 1
	})
	if ends := sink.ofType("turn_end"); len(ends) != 0 {
		t.Fatalf("turn ended before playback ack: %+v", ends)
	}

	if err := m.PlaybackComplete(info.SessionID); err != nil {
		t.Fatalf("playback complete: %v", err)
	}
	waitFor(t, "turn_end frame", func() bool {
		return len(sink.ofType("turn_end")) == 1
	})

	end := sink.ofType("turn_end")[0]
	if end["status"] != "complete" {
		t.Fatalf("turn_end status = %v", end["status"])
	}
	if len(sink.ofType("assistant_text_delta")) == 0 {
		t.Fatalf("expected streamed text deltas")
	}
	if len(sink.ofType("session_state")) == 0 {
		t.Fatalf("expected session_state pushes")
	}
}

func TestManagerSubmitValidation(t *testing.T) {
	m, _ := newTestManager(brain.NewMockAdapter(), nil)
	info := m.Create("")

	if _, err := m.Submit(context.Background(), info.SessionID, "telepathy", "hi"); !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("err = %v, want ErrUnknownChannel", err)
	}
	if _, err := m.Submit(context.Background(), "nope", "typed", "hi"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	res, err := m.Submit(context.Background(), info.SessionID, "typed", "   ")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Decision != convo.DecisionRejectEmpty {
		t.Fatalf("decision = %q, want empty rejection", res.Decision)
	}
}

func TestManagerEndStopsSession(t *testing.T) {
	m, _ := newTestManager(brain.NewMockAdapter(), nil)
	info := m.Create("")

	ended, err := m.End(info.SessionID)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("status = %q, want ended", ended.Status)
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("active count = %d, want 0", m.ActiveCount())
	}

	res, err := m.Submit(context.Background(), info.SessionID, "typed", "hello?")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Decision != convo.DecisionRejectInactive {
		t.Fatalf("decision = %q, want inactive rejection", res.Decision)
	}
}

func TestManagerExpiresIdleSessions(t *testing.T) {
	m, _ := newTestManager(brain.NewMockAdapter(), func(cfg *ManagerConfig) {
		cfg.InactivityTimeout = 10 * time.Millisecond
	})

	var mu sync.Mutex
	var expired []Info
	m.SetExpireHook(func(info Info) {
		mu.Lock()
		expired = append(expired, info)
		mu.Unlock()
	})

	info := m.Create("")
	time.Sleep(20 * time.Millisecond)
	m.expireInactive()

	got, err := m.Get(info.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusEnded {
		t.Fatalf("status = %q, want ended", got.Status)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(expired) != 1 || expired[0].SessionID != info.SessionID {
		t.Fatalf("expire hook = %+v", expired)
	}
}

func TestManagerRedactsTranscripts(t *testing.T) {
	adapter := brain.NewMockAdapter()
	adapter.QueueReply("I will not repeat that address.")
	m, store := newTestManager(adapter, func(cfg *ManagerConfig) {
		cfg.RedactTranscripts = true
	})
	info := m.Create("")

	if _, err := m.Submit(context.Background(), info.SessionID, "typed", "my email is kid@example.com"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, "turn to finish", func() bool {
		got, err := m.Get(info.SessionID)
		return err == nil && got.State.TurnID == ""
	})

	entries, err := store.SessionTranscript(context.Background(), info.SessionID, 0)
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	var userEntry *transcript.Entry
	for i := range entries {
		if entries[i].Role == "user" {
			userEntry = &entries[i]
		}
	}
	if userEntry == nil {
		t.Fatalf("no user entry in transcript")
	}
	if !userEntry.Redacted || strings.Contains(userEntry.Content, "kid@example.com") {
		t.Fatalf("user entry should be redacted: %+v", userEntry)
	}

	// The live history keeps the original text.
	history, err := m.History(info.SessionID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(history[1].Content, "kid@example.com") {
		t.Fatalf("live history should not be redacted: %q", history[1].Content)
	}
}
