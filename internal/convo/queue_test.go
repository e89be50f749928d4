package convo

import (
	"reflect"
	"testing"
	"time"
)

func unit(text string) SpeakableUnit {
	return SpeakableUnit{Text: text, TurnID: "t1", EmittedAt: time.Now()}
}

func TestQueueRendersInEnqueueOrder(t *testing.T) {
	r := NewMockRenderer()
	idle := 0
	q := NewSpeechQueue(r, func() { idle++ })

	q.Enqueue(unit("A"))
	q.Enqueue(unit("B"))
	q.Enqueue(unit("C"))

	if got := r.SpokenTexts(); !reflect.DeepEqual(got, []string{"A"}) {
		t.Fatalf("only the first unit should be dispatched while active, got %q", got)
	}
	if q.Depth() != 3 {
		t.Fatalf("depth = %d, want 3", q.Depth())
	}

	q.OnPlaybackComplete()
	q.OnPlaybackComplete()
	q.OnPlaybackComplete()

	if got := r.SpokenTexts(); !reflect.DeepEqual(got, []string{"A", "B", "C"}) {
		t.Fatalf("spoken = %q, want [A B C]", got)
	}
	if !q.Idle() {
		t.Fatalf("queue should be idle after draining")
	}
	if idle != 1 {
		t.Fatalf("onIdle fired %d times, want 1", idle)
	}
}

func TestQueueDuplicateCompletionIsNoop(t *testing.T) {
	r := NewMockRenderer()
	idle := 0
	q := NewSpeechQueue(r, func() { idle++ })

	q.OnPlaybackComplete()

	q.Enqueue(unit("A"))
	q.OnPlaybackComplete()
	q.OnPlaybackComplete()

	if got := r.SpokenTexts(); !reflect.DeepEqual(got, []string{"A"}) {
		t.Fatalf("spoken = %q, want [A]", got)
	}
	if idle != 1 {
		t.Fatalf("onIdle fired %d times, want 1", idle)
	}
}

func TestQueueCancelAll(t *testing.T) {
	r := NewMockRenderer()
	q := NewSpeechQueue(r, nil)

	q.Enqueue(unit("A"))
	q.Enqueue(unit("B"))
	q.CancelAll()

	if !q.Idle() {
		t.Fatalf("queue should be idle after cancel")
	}
	if r.Cancels() != 1 {
		t.Fatalf("cancels = %d, want 1", r.Cancels())
	}

	// A stale completion for the cancelled unit must not resurrect anything.
	q.OnPlaybackComplete()
	if got := r.SpokenTexts(); !reflect.DeepEqual(got, []string{"A"}) {
		t.Fatalf("spoken = %q, want [A]", got)
	}
}

func TestQueueSynchronousCompletionDrains(t *testing.T) {
	r := NewMockRenderer()
	q := NewSpeechQueue(r, nil)
	r.AutoComplete = q.OnPlaybackComplete

	q.Enqueue(unit("A"))
	q.Enqueue(unit("B"))

	if got := r.SpokenTexts(); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Fatalf("spoken = %q, want [A B]", got)
	}
	if !q.Idle() {
		t.Fatalf("queue should be idle")
	}
}
