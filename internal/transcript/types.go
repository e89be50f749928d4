package transcript

import (
	"context"
	"time"
)

// Entry is one persisted transcript line, mirrored from a session's message
// history as it grows. Entries are append-only.
type Entry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Sequence  int       `json:"sequence"`
	Redacted  bool      `json:"redacted,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists and retrieves session transcripts.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	SessionTranscript(ctx context.Context, sessionID string, limit int) ([]Entry, error)
	Close() error
}
