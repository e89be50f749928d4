package convo

import "time"

type InputChannel string

const (
	ChannelTyped InputChannel = "typed"
	ChannelVoice InputChannel = "voice"
)

type TurnStatus string

const (
	TurnPending   TurnStatus = "pending"
	TurnStreaming TurnStatus = "streaming"
	TurnComplete  TurnStatus = "complete"
	TurnFailed    TurnStatus = "failed"
)

// Turn is one full request/response exchange: a user input through completion
// of the assistant reply and its speech playback. At most one turn per session
// is pending or streaming at any time.
type Turn struct {
	ID        string       `json:"turn_id"`
	Seq       int          `json:"turn_seq"`
	InputText string       `json:"input_text"`
	Channel   InputChannel `json:"input_channel"`
	Status    TurnStatus   `json:"status"`
	StartedAt time.Time    `json:"started_at"`
}

// InFlight reports whether the turn still occupies the session's single
// admission slot.
func (t *Turn) InFlight() bool {
	if t == nil {
		return false
	}
	return t.Status == TurnPending || t.Status == TurnStreaming
}
