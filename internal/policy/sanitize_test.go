package policy

import (
	"strings"
	"testing"
)

func TestSanitizeInput(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  hello   world  ", "hello world"},
		{"line\r\nbreaks\tand\ttabs", "line breaks and tabs"},
		{"bell\x07char\x00s", "bellchars"},
		{"", ""},
		{"\n\t ", ""},
	}
	for _, tc := range cases {
		if got := SanitizeInput(tc.in); got != tc.want {
			t.Fatalf("SanitizeInput(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeInputCapsLength(t *testing.T) {
	long := strings.Repeat("a", MaxInputRunes+500)
	got := SanitizeInput(long)
	if len([]rune(got)) != MaxInputRunes {
		t.Fatalf("length = %d, want %d", len([]rune(got)), MaxInputRunes)
	}
}

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}

	out, changed = RedactPII("nothing sensitive here")
	if changed || out != "nothing sensitive here" {
		t.Fatalf("clean input should pass through unchanged")
	}
}
