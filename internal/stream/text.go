package stream

import "strings"

// cleanTranscript drops bracketed annotations such as "(music)" or
// "[BLANK_AUDIO]" that speech services emit for non-speech audio, then
// collapses runs of whitespace. Brackets do not nest.
func cleanTranscript(text string) string {
	var (
		b        strings.Builder
		inRound  bool
		inSquare bool
	)
	b.Grow(len(text))

	for _, r := range text {
		switch r {
		case '(':
			inRound = true
		case ')':
			inRound = false
		case '[':
			inSquare = true
		case ']':
			inSquare = false
		default:
			if !inRound && !inSquare {
				b.WriteRune(r)
			}
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}
