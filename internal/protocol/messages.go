package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

// Client to server.
const (
	TypeTypedInput       MessageType = "typed_input"
	TypeVoiceInput       MessageType = "voice_input"
	TypePlaybackComplete MessageType = "playback_complete"
	TypeClientControl    MessageType = "client_control"
)

// Server to client.
const (
	TypeTurnAccepted       MessageType = "turn_accepted"
	TypeTurnRejected       MessageType = "turn_rejected"
	TypeSpeakRequest       MessageType = "speak_request"
	TypeSpeakCancel        MessageType = "speak_cancel"
	TypeAssistantTextDelta MessageType = "assistant_text_delta"
	TypeTurnEnd            MessageType = "turn_end"
	TypeSessionState       MessageType = "session_state"
	TypeErrorEvent         MessageType = "error_event"
)

// Client control actions.
const (
	ActionStart        = "start"
	ActionStop         = "stop"
	ActionClearHistory = "clear_history"
	ActionCancelSpeech = "cancel_speech"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// TypedInput is text the student typed.
type TypedInput struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	TSMs      int64       `json:"ts_ms,omitempty"`
}

// VoiceInput is a final recognized phrase from the browser-side recognizer.
// Recognizers may deliver the same phrase more than once; the server
// deduplicates.
type VoiceInput struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence,omitempty"`
	TSMs       int64       `json:"ts_ms,omitempty"`
}

// PlaybackComplete acknowledges that the avatar finished one speak request.
type PlaybackComplete struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id,omitempty"`
	Seq       int         `json:"seq,omitempty"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	TSMs      int64       `json:"ts_ms,omitempty"`
}

// TurnAccepted confirms an input event opened a turn.
type TurnAccepted struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	TurnSeq   int         `json:"turn_seq"`
	Channel   string      `json:"channel"`
}

// TurnRejected tells the client why an input event was dropped. The client
// may retry the same input once the current turn ends.
type TurnRejected struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Channel   string      `json:"channel"`
	Reason    string      `json:"reason"`
}

// SpeakRequest hands the client one speakable unit. The client must answer
// with playback_complete when the avatar finishes it.
type SpeakRequest struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	Seq       int         `json:"seq"`
	Text      string      `json:"text"`
}

// SpeakCancel asks the client to stop queued avatar speech. Advisory: an
// utterance already rendering may finish on its own.
type SpeakCancel struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type AssistantTextDelta struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	TextDelta string      `json:"text_delta"`
}

// TurnEnd reports a finished turn. Status is "complete" or "failed".
type TurnEnd struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	Status    string      `json:"status"`
}

// SessionState mirrors the session snapshot for UI indicators.
type SessionState struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	Active     bool        `json:"active"`
	TurnID     string      `json:"turn_id,omitempty"`
	TurnStatus string      `json:"turn_status,omitempty"`
	QueueDepth int         `json:"queue_depth"`
	Messages   int         `json:"messages"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

// ParseClientMessage decodes and validates one inbound frame.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeTypedInput:
		var msg TypedInput
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid typed_input")
		}
		return msg, nil
	case TypeVoiceInput:
		var msg VoiceInput
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid voice_input")
		}
		return msg, nil
	case TypePlaybackComplete:
		var msg PlaybackComplete
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid playback_complete")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		switch msg.Action {
		case ActionStart, ActionStop, ActionClearHistory, ActionCancelSpeech:
		default:
			return nil, fmt.Errorf("unknown control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
