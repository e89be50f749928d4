package convo

import (
	"reflect"
	"strings"
	"testing"
)

func TestAccumulatorEmitsSentencesAcrossFragments(t *testing.T) {
	var a SentenceAccumulator
	fragments := []string{"Hel", "lo world. How ", "are you?"}

	var got []string
	for _, f := range fragments {
		got = append(got, a.Accept(f)...)
	}
	if _, ok := a.Flush(); ok {
		t.Fatalf("flush should be empty after a terminated stream")
	}

	want := []string{"Hello world.", " How are you?"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("sentences = %q, want %q", got, want)
	}
	if strings.Join(got, "") != strings.Join(fragments, "") {
		t.Fatalf("output does not reproduce the input stream")
	}
}

func TestAccumulatorReproducesArbitraryStreams(t *testing.T) {
	streams := [][]string{
		{"no terminal at all"},
		{"a.b.c.", "d"},
		{"", "x", "", "!"},
		{"one. two? three! four: five; six"},
	}
	for _, fragments := range streams {
		var a SentenceAccumulator
		var out strings.Builder
		for _, f := range fragments {
			for _, s := range a.Accept(f) {
				out.WriteString(s)
			}
		}
		if rest, ok := a.Flush(); ok {
			out.WriteString(rest)
		}
		if out.String() != strings.Join(fragments, "") {
			t.Fatalf("stream %q reproduced as %q", strings.Join(fragments, ""), out.String())
		}
	}
}

func TestAccumulatorFullWidthTerminals(t *testing.T) {
	var a SentenceAccumulator
	got := a.Accept("你好。世界")
	if len(got) != 1 || got[0] != "你好。" {
		t.Fatalf("got %q, want [你好。]", got)
	}
	rest, ok := a.Flush()
	if !ok || rest != "世界" {
		t.Fatalf("flush = %q, %v", rest, ok)
	}
}

func TestAccumulatorSplitsInsideNumerals(t *testing.T) {
	// The boundary policy has no lookahead, so decimals split. That is the
	// documented behavior, not a bug.
	var a SentenceAccumulator
	got := a.Accept("Pi is 3.14.")
	want := []string{"Pi is 3.", "14."}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestAccumulatorReset(t *testing.T) {
	var a SentenceAccumulator
	a.Accept("first. second")
	a.Reset()
	if a.Emitted() != 0 {
		t.Fatalf("emitted = %d after reset", a.Emitted())
	}
	if _, ok := a.Flush(); ok {
		t.Fatalf("buffer should be empty after reset")
	}
}
