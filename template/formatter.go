// Package template reshapes an already-produced assistant answer through a
// named, operator-authored template: substitute placeholders, issue one LLM
// completion, and persist the formatted result against the original
// message.
package template

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ragfab/core/llm"
	"github.com/ragfab/core/store"
)

// Store is the subset of *store.Store the formatter depends on.
type Store interface {
	GetTemplateByName(ctx context.Context, name string) (*store.Template, error)
	UpsertFormattedResponse(ctx context.Context, f store.FormattedResponse) (uuid.UUID, error)
}

// UserProfile carries the name fields substituted into a template; it is
// supplied by the caller rather than loaded from the store, since user
// identity management is out of scope here.
type UserProfile struct {
	FirstName string
	LastName  string
}

// Formatter applies named templates to assistant messages.
type Formatter struct {
	store Store
	chat  llm.Provider
	model string
}

// New returns a Formatter.
func New(s Store, chat llm.Provider, model string) *Formatter {
	return &Formatter{store: s, chat: chat, model: model}
}

// Apply loads templateName, substitutes its placeholders, issues a single
// completion with the substituted text as the sole user message, and
// persists the result keyed by messageID. Re-applying a template to the
// same message replaces its previous formatted version.
func (f *Formatter) Apply(ctx context.Context, messageID uuid.UUID, originalResponse, templateName string, conversation []store.Message, profile UserProfile) (*store.FormattedResponse, error) {
	tmpl, err := f.store.GetTemplateByName(ctx, templateName)
	if err != nil {
		return nil, fmt.Errorf("loading template %q: %w", templateName, err)
	}

	instruction := substitute(tmpl.Body, originalResponse, formatConversation(conversation), profile)

	resp, err := f.chat.Chat(ctx, llm.ChatRequest{
		Model:       f.model,
		Messages:    []llm.Message{{Role: "user", Content: instruction}},
		Temperature: 0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("formatting completion: %w", err)
	}

	formatted := store.FormattedResponse{
		MessageID:    messageID,
		TemplateName: templateName,
		Content:      resp.Content,
	}
	id, err := f.store.UpsertFormattedResponse(ctx, formatted)
	if err != nil {
		return nil, fmt.Errorf("persisting formatted response: %w", err)
	}
	formatted.ID = id
	return &formatted, nil
}

func substitute(body, originalResponse, conversationContext string, profile UserProfile) string {
	replacer := strings.NewReplacer(
		"{original_response}", originalResponse,
		"{conversation_context}", conversationContext,
		"{user_first_name}", profile.FirstName,
		"{user_last_name}", profile.LastName,
	)
	return replacer.Replace(body)
}

// formatConversation renders the conversation so far as a plain transcript,
// one "role: content" line per message in chronological order.
func formatConversation(messages []store.Message) string {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}
