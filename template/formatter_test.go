package template

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/ragfab/core/llm"
	"github.com/ragfab/core/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	templates  map[string]store.Template
	lastUpsert store.FormattedResponse
}

func (f *fakeStore) GetTemplateByName(ctx context.Context, name string) (*store.Template, error) {
	t, ok := f.templates[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (f *fakeStore) UpsertFormattedResponse(ctx context.Context, r store.FormattedResponse) (uuid.UUID, error) {
	f.lastUpsert = r
	return uuid.New(), nil
}

type fakeChat struct {
	lastMessages []llm.Message
	response     string
	err          error
}

func (f *fakeChat) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.lastMessages = req.Messages
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Content: f.response, Model: req.Model}, nil
}

func (f *fakeChat) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("not implemented")
}

func TestApplySubstitutesAllPlaceholdersAndPersists(t *testing.T) {
	s := &fakeStore{templates: map[string]store.Template{
		"friendly": {Name: "friendly", Body: "Bonjour {user_first_name} {user_last_name}, voici une reformulation de: {original_response}\n\nContexte:\n{conversation_context}"},
	}}
	chat := &fakeChat{response: "Réponse reformulée"}
	f := New(s, chat, "gpt-4o-mini")

	messageID := uuid.New()
	conversation := []store.Message{
		{Role: store.RoleUser, Content: "Quels sont mes droits de congés ?"},
		{Role: store.RoleAssistant, Content: "Vous avez droit à 25 jours."},
	}

	result, err := f.Apply(context.Background(), messageID, "Vous avez droit à 25 jours.", "friendly", conversation, UserProfile{FirstName: "Marie", LastName: "Dupont"})
	require.NoError(t, err)
	assert.Equal(t, "Réponse reformulée", result.Content)
	assert.Equal(t, messageID, s.lastUpsert.MessageID)
	assert.Equal(t, "friendly", s.lastUpsert.TemplateName)

	require.Len(t, chat.lastMessages, 1)
	prompt := chat.lastMessages[0].Content
	assert.Contains(t, prompt, "Marie")
	assert.Contains(t, prompt, "Dupont")
	assert.Contains(t, prompt, "Vous avez droit à 25 jours.")
	assert.Contains(t, prompt, "user: Quels sont mes droits de congés ?")
	assert.NotContains(t, prompt, "{user_first_name}")
}

func TestApplyUnknownTemplateReturnsError(t *testing.T) {
	s := &fakeStore{templates: map[string]store.Template{}}
	chat := &fakeChat{response: "unused"}
	f := New(s, chat, "gpt-4o-mini")

	_, err := f.Apply(context.Background(), uuid.New(), "original", "missing", nil, UserProfile{})
	require.Error(t, err)
}

func TestApplyPropagatesCompletionFailure(t *testing.T) {
	s := &fakeStore{templates: map[string]store.Template{"t": {Name: "t", Body: "{original_response}"}}}
	chat := &fakeChat{err: errors.New("upstream unavailable")}
	f := New(s, chat, "gpt-4o-mini")

	_, err := f.Apply(context.Background(), uuid.New(), "original", "t", nil, UserProfile{})
	require.Error(t, err)
}
