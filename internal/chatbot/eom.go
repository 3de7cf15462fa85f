package chatbot

import "strings"

const trailingSpace = " \t\r\n"

// StripEndOfMessage removes every end of message marker and the surrounding
// whitespace of the answer.
func StripEndOfMessage(text string) string {
	return strings.TrimSpace(strings.ReplaceAll(text, EndOfMessage, ""))
}

// eomFilter removes the end of message marker from a chunked answer. It holds
// back a trailing partial marker and the whitespace in front of it until the
// next chunk shows whether the marker completes.
type eomFilter struct {
	pending string
}

func (f *eomFilter) push(chunk string) string {
	f.pending = strings.ReplaceAll(f.pending+chunk, EndOfMessage, "")

	keep := len(f.pending) - markerPrefixLen(f.pending)
	keep = len(strings.TrimRight(f.pending[:keep], trailingSpace))

	out := f.pending[:keep]
	f.pending = f.pending[keep:]
	return out
}

// flush returns what is still held, minus trailing whitespace.
func (f *eomFilter) flush() string {
	out := strings.TrimRight(f.pending, trailingSpace)
	f.pending = ""
	return out
}

// markerPrefixLen is the length of the longest proper prefix of the marker
// that s ends with.
func markerPrefixLen(s string) int {
	for n := min(len(EndOfMessage)-1, len(s)); n > 0; n-- {
		if strings.HasSuffix(s, EndOfMessage[:n]) {
			return n
		}
	}
	return 0
}
