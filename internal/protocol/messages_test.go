package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageTypedInput(t *testing.T) {
	raw := []byte(`{"type":"typed_input","session_id":"s1","text":"What is 2+2?","ts_ms":123}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	typed, ok := msg.(TypedInput)
	if !ok {
		t.Fatalf("message type = %T, want TypedInput", msg)
	}
	if typed.SessionID != "s1" || typed.Text != "What is 2+2?" {
		t.Fatalf("unexpected typed input: %+v", typed)
	}
}

func TestParseClientMessageVoiceInput(t *testing.T) {
	raw := []byte(`{"type":"voice_input","session_id":"s1","text":"hello there","confidence":0.92}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	voice, ok := msg.(VoiceInput)
	if !ok {
		t.Fatalf("message type = %T, want VoiceInput", msg)
	}
	if voice.Text != "hello there" || voice.Confidence != 0.92 {
		t.Fatalf("unexpected voice input: %+v", voice)
	}
}

func TestParseClientMessagePlaybackComplete(t *testing.T) {
	raw := []byte(`{"type":"playback_complete","session_id":"s1","turn_id":"t1","seq":2}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	done, ok := msg.(PlaybackComplete)
	if !ok {
		t.Fatalf("message type = %T, want PlaybackComplete", msg)
	}
	if done.TurnID != "t1" || done.Seq != 2 {
		t.Fatalf("unexpected playback complete: %+v", done)
	}
}

func TestParseClientMessageControl(t *testing.T) {
	raw := []byte(`{"type":"client_control","session_id":"s1","action":"clear_history"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	control, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("message type = %T, want ClientControl", msg)
	}
	if control.Action != ActionClearHistory {
		t.Fatalf("Action = %q, want %q", control.Action, ActionClearHistory)
	}
}

func TestParseClientMessageRejectsUnknownControlAction(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"client_control","session_id":"s1","action":"reboot"}`))
	if err == nil {
		t.Fatalf("expected an error for unknown action")
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRequiresSessionID(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"typed_input","text":"hi"}`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func BenchmarkParseClientMessageTypedInput(b *testing.B) {
	raw := []byte(`{"type":"typed_input","session_id":"s1","text":"Explain photosynthesis in one sentence.","ts_ms":123456}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(TypedInput); !ok {
			b.Fatalf("message type = %T, want TypedInput", msg)
		}
	}
}
