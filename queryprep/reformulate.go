package queryprep

import (
	"context"
	"fmt"
	"strings"

	"github.com/ragfab/core/llm"
)

var strongDemonstratives = map[string]bool{
	"celui": true, "celle": true, "ceux": true, "celles": true,
	"celui-ci": true, "celui-là": true, "celui-la": true,
	"celle-ci": true, "celle-là": true, "celle-la": true,
}

var mediumNeuterDemonstratives = map[string]bool{
	"ça": true, "ca": true, "cela": true, "ceci": true,
}

// firstPositionPronouns are subject/object clitics that, in sentence-initial
// position, usually stand in for something said earlier in the
// conversation. Bare articles ("le", "la", "les") are deliberately excluded
// — they are grammatical noise, never contextual references.
var firstPositionPronouns = map[string]bool{
	"il": true, "elle": true, "ils": true, "elles": true, "y": true, "en": true,
}

// HasContextualReference reports whether query contains a pronoun or
// demonstrative that likely refers to something earlier in the
// conversation, strong enough to warrant a reformulation pass.
func HasContextualReference(query string) bool {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return false
	}

	for _, t := range tokens {
		if strongDemonstratives[t.lower] {
			return true
		}
	}
	if len(tokens) < 8 {
		for _, t := range tokens {
			if mediumNeuterDemonstratives[t.lower] {
				return true
			}
		}
	}
	if firstPositionPronouns[tokens[0].lower] {
		return true
	}
	return false
}

// MessagePair is one user/assistant turn, the unit the reformulation prompt
// is built from.
type MessagePair struct {
	User      string
	Assistant string
}

const maxReformulationPairs = 3

const reformulationSystemPrompt = `Tu reformules la dernière question d'un utilisateur en une question autonome, compréhensible sans le reste de la conversation. Remplace les pronoms et démonstratifs ambigus par ce à quoi ils font référence. Réponds uniquement avec la question reformulée, sans commentaire.`

// Reformulate asks the LLM to rewrite query into a standalone question,
// given at most the last maxReformulationPairs exchanges. Callers should
// only invoke this when HasContextualReference(query) is true; it does no
// detection of its own.
func Reformulate(ctx context.Context, provider llm.Provider, query string, history []MessagePair) (string, error) {
	if len(history) > maxReformulationPairs {
		history = history[len(history)-maxReformulationPairs:]
	}

	var transcript strings.Builder
	for _, p := range history {
		fmt.Fprintf(&transcript, "Utilisateur: %s\nAssistant: %s\n", p.User, p.Assistant)
	}
	fmt.Fprintf(&transcript, "Utilisateur: %s", query)

	resp, err := provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: reformulationSystemPrompt},
			{Role: "user", Content: transcript.String()},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("queryprep: reformulation call failed: %w", err)
	}

	reformulated := strings.TrimSpace(resp.Content)
	if reformulated == "" {
		return query, nil
	}
	return reformulated, nil
}
