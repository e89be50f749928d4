package convo

import "strings"

// Decision is the outcome of turn admission.
type Decision string

const (
	DecisionAccept               Decision = "accept"
	DecisionRejectEmpty          Decision = "reject_empty"
	DecisionRejectDuplicate      Decision = "reject_duplicate"
	DecisionRejectTurnInProgress Decision = "reject_turn_in_progress"
	DecisionRejectInactive       Decision = "reject_inactive"
)

// Accepted reports whether the decision admits a new turn.
func (d Decision) Accepted() bool { return d == DecisionAccept }

// TurnDeduplicator decides whether an input event starts a new turn or is a
// repeat/stale signal. Voice recognizers can fire the same final phrase more
// than once while refining interim results; the guard is an exact text match
// against the most recent accepted input on the same channel, cleared when a
// turn finalises. Deterministic by construction, no time-window heuristics.
//
// Known limit, kept on purpose: only the immediately previous text per
// channel is remembered, so interleaved distinct repeats (A, B, A) within one
// window are admitted.
type TurnDeduplicator struct {
	lastAccepted map[InputChannel]string
}

func NewTurnDeduplicator() *TurnDeduplicator {
	return &TurnDeduplicator{lastAccepted: make(map[InputChannel]string)}
}

// ShouldStartTurn applies the admission policy in order: empty input,
// duplicate on the same channel, then turn already in flight.
func (d *TurnDeduplicator) ShouldStartTurn(channel InputChannel, text string, current *Turn) Decision {
	if strings.TrimSpace(text) == "" {
		return DecisionRejectEmpty
	}
	if last, ok := d.lastAccepted[channel]; ok && last == text {
		return DecisionRejectDuplicate
	}
	if current.InFlight() {
		return DecisionRejectTurnInProgress
	}
	return DecisionAccept
}

// NoteAccepted records text as the channel's open dedup window.
func (d *TurnDeduplicator) NoteAccepted(channel InputChannel, text string) {
	d.lastAccepted[channel] = text
}

// TurnFinalised closes every channel's window: once a turn reaches complete
// or failed, resubmitting the same text is a legitimate new turn.
func (d *TurnDeduplicator) TurnFinalised() {
	clear(d.lastAccepted)
}
