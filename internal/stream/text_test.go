package stream

import "testing"

func TestCleanTranscript(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "plain text", input: "hello world", expected: "hello world"},
		{name: "round annotation", input: "hello (music) world", expected: "hello world"},
		{name: "square annotation", input: "[BLANK_AUDIO] hello", expected: "hello"},
		{name: "only annotations", input: " [BLANK_AUDIO] (silence) ", expected: ""},
		{name: "mixed brackets", input: "a (b [c) d] e", expected: "a e"},
		{name: "unclosed bracket", input: "hello (trailing", expected: "hello"},
		{name: "stray closing bracket", input: "hello) world]", expected: "hello world"},
		{name: "whitespace runs", input: "  one\t two \n three  ", expected: "one two three"},
		{name: "unicode", input: "привіт [шум] світ", expected: "привіт світ"},
		{name: "empty", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanTranscript(tt.input); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}
