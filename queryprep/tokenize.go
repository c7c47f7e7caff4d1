package queryprep

import (
	"strings"
	"unicode"
)

// token is one word extracted from a raw query, retaining enough of its
// original form to drive both tsquery construction and the adaptive alpha
// heuristics, which both care about casing that normalization would erase.
type token struct {
	raw           string // as it appeared in the query, punctuation stripped
	lower         string
	position      int // 0-based position among all tokens
	isAcronym     bool
	isCapitalized bool
}

// tokenize splits a raw query into words, stripping surrounding punctuation
// but keeping intra-word hyphens ("porte-clés") and dots inside acronyms
// ("U.S.A").
func tokenize(query string) []token {
	var out []token
	var b strings.Builder
	pos := 0

	flush := func() {
		if b.Len() == 0 {
			return
		}
		raw := strings.Trim(b.String(), "-.")
		b.Reset()
		if raw == "" {
			return
		}
		out = append(out, token{
			raw:           raw,
			lower:         strings.ToLower(raw),
			position:      pos,
			isAcronym:     isAcronymToken(raw),
			isCapitalized: isCapitalizedToken(raw),
		})
		pos++
	}

	runes := []rune(query)
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '-':
			// Intra-word hyphen ("porte-clés"): keep if flanked by letters.
			if b.Len() > 0 && i+1 < len(runes) && (unicode.IsLetter(runes[i+1]) || unicode.IsDigit(runes[i+1])) {
				b.WriteRune(r)
			} else {
				flush()
			}
		case r == '\'':
			// Elision boundary ("qu'", "l'", "c'est"): always a word break,
			// unlike the hyphen — French contractions are two tokens.
			flush()
		case r == '.':
			// Dot inside an acronym ("U.S.A"): keep if both neighbors are letters.
			if b.Len() > 0 && i+1 < len(runes) && unicode.IsLetter(runes[i+1]) {
				b.WriteRune(r)
			} else {
				flush()
			}
		default:
			flush()
		}
	}
	flush()
	return out
}

// isAcronymToken reports at least two consecutive uppercase letters in the
// token, bounded by a non-letter or the token edge (dots from acronym
// notation count as bounds, so "U.S.A" still qualifies once dots are
// stripped from the comparison).
func isAcronymToken(raw string) bool {
	letters := []rune(strings.ReplaceAll(raw, ".", ""))
	for i := 0; i < len(letters); {
		if !unicode.IsUpper(letters[i]) {
			i++
			continue
		}
		j := i
		for j < len(letters) && unicode.IsUpper(letters[j]) {
			j++
		}
		if j-i >= 2 && (i == 0 || !unicode.IsLetter(letters[i-1])) && (j == len(letters) || !unicode.IsLetter(letters[j])) {
			return true
		}
		i = j
	}
	return false
}

// isCapitalizedToken reports an initial uppercase letter followed by at
// least one lowercase letter — the shape of a proper noun, as opposed to an
// acronym (all caps) or an ordinary lowercase word.
func isCapitalizedToken(raw string) bool {
	r := []rune(raw)
	if len(r) < 2 || !unicode.IsUpper(r[0]) {
		return false
	}
	for _, c := range r[1:] {
		if unicode.IsLower(c) {
			return true
		}
	}
	return false
}
