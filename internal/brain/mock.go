package brain

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MockAdapter produces a canned streamed reply without any backend. Useful
// for local development and for exercising the turn pipeline in tests.
type MockAdapter struct {
	mu      sync.Mutex
	replies []string
	// Delay between emitted fragments. Zero means emit as fast as possible.
	FragmentDelay time.Duration
}

func NewMockAdapter() *MockAdapter {
	return &MockAdapter{}
}

// QueueReply sets the text returned for the next StreamReply call. Queued
// replies are consumed in order; when the queue is empty a generic echo of
// the last user message is produced.
func (m *MockAdapter) QueueReply(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, text)
}

func (m *MockAdapter) StreamReply(ctx context.Context, req Request, onDelta DeltaHandler) (Reply, error) {
	text := m.nextReply(req)

	var out strings.Builder
	for _, frag := range splitFragments(text) {
		select {
		case <-ctx.Done():
			return Reply{}, ctx.Err()
		default:
		}
		if m.FragmentDelay > 0 {
			select {
			case <-ctx.Done():
				return Reply{}, ctx.Err()
			case <-time.After(m.FragmentDelay):
			}
		}
		out.WriteString(frag)
		if onDelta != nil {
			if err := onDelta(frag); err != nil {
				return Reply{}, err
			}
		}
	}
	return Reply{Text: out.String()}, nil
}

func (m *MockAdapter) nextReply(req Request) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.replies) > 0 {
		text := m.replies[0]
		m.replies = m.replies[1:]
		return text
	}

	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			last = req.Messages[i].Content
			break
		}
	}
	if last == "" {
		return "Hello! I am ready when you are."
	}
	return "You said: " + last + ". Let's talk about that."
}

// splitFragments chops a reply into small word-level pieces so consumers see
// a realistic token stream rather than one blob.
func splitFragments(text string) []string {
	words := strings.Fields(text)
	frags := make([]string, 0, len(words))
	for i, w := range words {
		if i == 0 {
			frags = append(frags, w)
			continue
		}
		frags = append(frags, " "+w)
	}
	return frags
}
