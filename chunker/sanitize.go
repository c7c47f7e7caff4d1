package chunker

import (
	"strings"
	"unicode/utf8"
)

// sanitize replaces invalid UTF-8 byte sequences (the product of a bad PDF
// extraction emitting a broken surrogate pair) with the Unicode replacement
// character, so downstream tokenizers never fault on malformed input.
func sanitize(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	for i, r := range text {
		if r == utf8.RuneError {
			_, size := utf8.DecodeRuneInString(text[i:])
			if size == 1 {
				b.WriteRune(utf8.RuneError)
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

func splitWords(text string) []string {
	return strings.Fields(text)
}

func joinWords(words []string) string {
	return strings.Join(words, " ")
}

func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
