package queryprep

import "strings"

// BuildTSQuery turns a raw user query into a to_tsquery('french', ...)
// expression: stopwords (unless capitalized or an acronym), one-character
// tokens and bare punctuation are dropped, surviving tokens are AND-joined. An empty return signals "keyword search disabled for this
// query" — callers must not fall back to a wildcard.
func BuildTSQuery(query string) string {
	tokens := tokenize(query)

	var terms []string
	for _, t := range tokens {
		if len(t.lower) < 2 && !t.isAcronym {
			continue
		}
		if isStopword(t.lower) && !t.isAcronym && !t.isCapitalized {
			continue
		}
		terms = append(terms, t.lower)
	}

	return strings.Join(terms, " & ")
}
