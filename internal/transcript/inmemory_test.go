package transcript

import (
	"context"
	"testing"
)

func TestInMemoryStoreRoundTrip(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	for i, content := range []string{"system prompt", "hello", "hi there!"} {
		err := s.Append(ctx, Entry{
			SessionID: "sess-1",
			Role:      "user",
			Content:   content,
			Sequence:  i,
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := s.Append(ctx, Entry{SessionID: "sess-2", Content: "other"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.SessionTranscript(ctx, "sess-1", 0)
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("entries = %d, want 3", len(got))
	}
	if got[0].ID == "" || got[0].CreatedAt.IsZero() {
		t.Fatalf("append should fill id and timestamp: %+v", got[0])
	}

	tail, err := s.SessionTranscript(ctx, "sess-1", 2)
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	if len(tail) != 2 || tail[0].Content != "hello" || tail[1].Content != "hi there!" {
		t.Fatalf("tail = %+v, want the two most recent in order", tail)
	}

	if got, _ := s.SessionTranscript(ctx, "missing", 5); got != nil {
		t.Fatalf("unknown session should return nil, got %+v", got)
	}
}
