package main

import (
	"reflect"
	"testing"
)

func TestSplitTexts(t *testing.T) {
	got := splitTexts("  one | two||  three  ")
	want := []string{"one", "two", "three"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("splitTexts() = %v, want %v", got, want)
	}
	if got := splitTexts("   "); got != nil {
		t.Fatalf("splitTexts(blank) = %v, want nil", got)
	}
}

func TestWSURLForSession(t *testing.T) {
	got, err := wsURLForSession("http://127.0.0.1:8080", "abc 123")
	if err != nil {
		t.Fatalf("wsURLForSession() error = %v", err)
	}
	want := "ws://127.0.0.1:8080/v1/session/ws?session_id=abc+123"
	if got != want {
		t.Fatalf("wsURLForSession() = %q, want %q", got, want)
	}

	got, err = wsURLForSession("https://tutor.example.com/", "s1")
	if err != nil {
		t.Fatalf("wsURLForSession() error = %v", err)
	}
	if got != "wss://tutor.example.com/v1/session/ws?session_id=s1" {
		t.Fatalf("wsURLForSession() = %q", got)
	}

	if _, err := wsURLForSession("ftp://nope", "s1"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}

func TestSummarize(t *testing.T) {
	s := summarize([]float64{100, 200, 300, 400})
	if s.count != 4 {
		t.Fatalf("count = %d, want 4", s.count)
	}
	if s.min != 100 || s.max != 400 {
		t.Fatalf("min/max = %.0f/%.0f", s.min, s.max)
	}
	if s.avg != 250 {
		t.Fatalf("avg = %.0f, want 250", s.avg)
	}
	if s.p50 != 250 {
		t.Fatalf("p50 = %.0f, want 250", s.p50)
	}

	empty := summarize(nil)
	if empty.count != 0 {
		t.Fatalf("empty count = %d, want 0", empty.count)
	}
}
