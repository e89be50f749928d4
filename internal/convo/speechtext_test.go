package convo

import "testing"

func TestSpeakableTextStripsMarkup(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Plain sentence.", "Plain sentence."},
		{"**Bold** and _italic_ text.", "Bold and italic text."},
		{"See [the docs](https://example.com/guide) for more.", "See the docs for more."},
		{"Check https://example.com/page now.", "Check now."},
		{"Use `fmt.Println` here.", "Use here."},
		{"Great job! 🎉🎉", "Great job!"},
		{"# Heading\nbody", "Heading body"},
		{"🎉", ""},
		{"   ", ""},
	}
	for _, tc := range cases {
		if got := speakableText(tc.in); got != tc.want {
			t.Fatalf("speakableText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSpeakableTextDropsFencedCode(t *testing.T) {
	in := "Run this:\n```\nls -la\n```\nand report back."
	want := "Run this: and report back."
	if got := speakableText(in); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
