package session

import (
	"time"

	"github.com/avatara/tutor/internal/convo"
)

// Info is a point-in-time snapshot of one registered session.
type Info struct {
	SessionID      string             `json:"session_id"`
	StudentID      string             `json:"student_id,omitempty"`
	Status         Status             `json:"status"`
	StartedAt      time.Time          `json:"started_at"`
	LastActivityAt time.Time          `json:"last_activity_at"`
	State          convo.SessionState `json:"state"`
}

// CreateRequest defines the payload for creating a new session.
type CreateRequest struct {
	StudentID string `json:"student_id"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	StudentID       string    `json:"student_id,omitempty"`
	Status          Status    `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}

// SubmitRequest carries one REST-submitted input event.
type SubmitRequest struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}
