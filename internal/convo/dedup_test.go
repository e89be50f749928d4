package convo

import "testing"

func TestDedupRejectsEmptyInput(t *testing.T) {
	d := NewTurnDeduplicator()
	if got := d.ShouldStartTurn(ChannelTyped, "   ", nil); got != DecisionRejectEmpty {
		t.Fatalf("decision = %q, want %q", got, DecisionRejectEmpty)
	}
}

func TestDedupRejectsRepeatWithinWindow(t *testing.T) {
	d := NewTurnDeduplicator()

	if got := d.ShouldStartTurn(ChannelVoice, "hello there", nil); got != DecisionAccept {
		t.Fatalf("first submit: %q", got)
	}
	d.NoteAccepted(ChannelVoice, "hello there")

	if got := d.ShouldStartTurn(ChannelVoice, "hello there", nil); got != DecisionRejectDuplicate {
		t.Fatalf("repeat within window: %q, want duplicate rejection", got)
	}

	// Same text on the other channel is not a duplicate.
	if got := d.ShouldStartTurn(ChannelTyped, "hello there", nil); got != DecisionAccept {
		t.Fatalf("other channel: %q, want accept", got)
	}
}

func TestDedupAcceptsRepeatAfterFinalisation(t *testing.T) {
	d := NewTurnDeduplicator()
	d.NoteAccepted(ChannelVoice, "again please")
	d.TurnFinalised()

	if got := d.ShouldStartTurn(ChannelVoice, "again please", nil); got != DecisionAccept {
		t.Fatalf("decision = %q, want accept after finalisation", got)
	}
}

func TestDedupRejectsWhileTurnInFlight(t *testing.T) {
	d := NewTurnDeduplicator()
	current := &Turn{ID: "t1", Status: TurnStreaming}

	if got := d.ShouldStartTurn(ChannelTyped, "new question", current); got != DecisionRejectTurnInProgress {
		t.Fatalf("decision = %q, want turn-in-progress rejection", got)
	}

	current.Status = TurnComplete
	if got := d.ShouldStartTurn(ChannelTyped, "new question", current); got != DecisionAccept {
		t.Fatalf("decision = %q, want accept once turn completed", got)
	}
}
