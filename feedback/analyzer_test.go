package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/ragfab/core/llm"
	"github.com/ragfab/core/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	rating           *store.RatingContext
	validations      []store.ThumbsDownValidation
	qualityUpdates   map[uuid.UUID]string
	notifications    []store.UserNotification
	getRatingErr     error
}

func (f *fakeStore) GetRatingForValidation(ctx context.Context, ratingID uuid.UUID) (*store.RatingContext, error) {
	if f.getRatingErr != nil {
		return nil, f.getRatingErr
	}
	return f.rating, nil
}

func (f *fakeStore) CreateThumbsDownValidation(ctx context.Context, v store.ThumbsDownValidation) (uuid.UUID, error) {
	f.validations = append(f.validations, v)
	return uuid.New(), nil
}

func (f *fakeStore) UpsertDocumentQuality(ctx context.Context, documentID uuid.UUID, needsReingestion bool, reason string) error {
	if f.qualityUpdates == nil {
		f.qualityUpdates = make(map[uuid.UUID]string)
	}
	f.qualityUpdates[documentID] = reason
	return nil
}

func (f *fakeStore) CreateNotification(ctx context.Context, n store.UserNotification) (uuid.UUID, error) {
	f.notifications = append(f.notifications, n)
	return uuid.New(), nil
}

type fakeChat struct {
	response string
	err      error
}

func (f *fakeChat) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Content: f.response}, nil
}

func (f *fakeChat) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("not implemented")
}

func ratingContext() *store.RatingContext {
	return &store.RatingContext{
		Rating:  store.Rating{ID: uuid.New(), UserID: uuid.New(), Polarity: -1},
		Question: "Quelle est la procédure RTT ?",
		Answer:   "Je ne sais pas.",
		Sources:  []store.SourceSnapshot{{ChunkID: uuid.New(), DocumentID: uuid.New()}},
	}
}

func jsonClassification(t *testing.T, c llmClassification) string {
	t.Helper()
	data, err := json.Marshal(c)
	require.NoError(t, err)
	return string(data)
}

func TestProcessRoutesMissingSourcesToReingestion(t *testing.T) {
	rc := ratingContext()
	s := &fakeStore{rating: rc}
	chat := &fakeChat{response: jsonClassification(t, llmClassification{
		Classification: "missing_sources", Confidence: 0.9, Reasoning: "aucune source pertinente",
	})}
	a := New(s, chat, "gpt-4o-mini", 0.7)

	err := a.Process(context.Background(), rc.Rating.ID)
	require.NoError(t, err)

	require.Len(t, s.validations, 1)
	assert.Equal(t, store.ActionMarkForReingestion, s.validations[0].AdminAction)
	assert.False(t, s.validations[0].NeedsAdminReview)
	assert.Contains(t, s.qualityUpdates, rc.Sources[0].DocumentID)
}

func TestProcessRoutesBadQuestionToContactUser(t *testing.T) {
	rc := ratingContext()
	s := &fakeStore{rating: rc}
	chat := &fakeChat{response: jsonClassification(t, llmClassification{
		Classification: "bad_question", Confidence: 0.8, Reasoning: "question vague", SuggestedReformulation: "Précisez votre demande.",
	})}
	a := New(s, chat, "gpt-4o-mini", 0.7)

	err := a.Process(context.Background(), rc.Rating.ID)
	require.NoError(t, err)

	require.Len(t, s.validations, 1)
	assert.Equal(t, store.ActionContactUser, s.validations[0].AdminAction)
	require.Len(t, s.notifications, 1)
	assert.Contains(t, s.notifications[0].Message, "Précisez votre demande.")
}

func TestProcessBadAnswerAlwaysPending(t *testing.T) {
	rc := ratingContext()
	s := &fakeStore{rating: rc}
	chat := &fakeChat{response: jsonClassification(t, llmClassification{
		Classification: "bad_answer", Confidence: 0.95, Reasoning: "réponse incorrecte",
	})}
	a := New(s, chat, "gpt-4o-mini", 0.7)

	err := a.Process(context.Background(), rc.Rating.ID)
	require.NoError(t, err)

	require.Len(t, s.validations, 1)
	assert.Equal(t, store.ActionPending, s.validations[0].AdminAction)
}

func TestProcessLowConfidenceForcesAdminReviewRegardlessOfClassification(t *testing.T) {
	rc := ratingContext()
	s := &fakeStore{rating: rc}
	chat := &fakeChat{response: jsonClassification(t, llmClassification{
		Classification: "unrealistic_expectations", Confidence: 0.4, Reasoning: "incertain",
	})}
	a := New(s, chat, "gpt-4o-mini", 0.7)

	err := a.Process(context.Background(), rc.Rating.ID)
	require.NoError(t, err)

	require.Len(t, s.validations, 1)
	assert.True(t, s.validations[0].NeedsAdminReview)
	assert.Equal(t, store.ActionPending, s.validations[0].AdminAction)
}

func TestClassifyFallsBackToBadAnswerOnMalformedJSON(t *testing.T) {
	rc := ratingContext()
	s := &fakeStore{rating: rc}
	chat := &fakeChat{response: "not json at all"}
	a := New(s, chat, "gpt-4o-mini", 0.7)

	err := a.Process(context.Background(), rc.Rating.ID)
	require.NoError(t, err)

	require.Len(t, s.validations, 1)
	assert.Equal(t, store.ClassBadAnswer, s.validations[0].Classification)
	assert.Equal(t, 0.5, s.validations[0].Confidence)
	assert.True(t, s.validations[0].NeedsAdminReview)
}

func TestProcessWithRetryRecordsPendingValidationOnPermanentFailure(t *testing.T) {
	rc := ratingContext()
	chat := &fakeChat{err: errors.New("llm unavailable")}

	// classify() degrades gracefully on chat failure, so Process() itself
	// only fails when persistence fails — exercise ProcessWithRetry's
	// exhausted-retries fallback via a store whose first N writes fail.
	failing := &failingStore{fakeStore: fakeStore{rating: rc}}
	a := New(failing, chat, "gpt-4o-mini", 0.7)

	err := a.ProcessWithRetry(context.Background(), rc.Rating.ID)
	require.NoError(t, err)
	require.Len(t, failing.validations, 1)
	assert.Equal(t, store.ActionPending, failing.validations[0].AdminAction)
	assert.True(t, failing.validations[0].NeedsAdminReview)
}

// failingStore fails CreateThumbsDownValidation's first N calls so
// Process() itself returns an error, exercising ProcessWithRetry's
// exponential-backoff-then-fallback path.
type failingStore struct {
	fakeStore
	calls int
}

func (f *failingStore) CreateThumbsDownValidation(ctx context.Context, v store.ThumbsDownValidation) (uuid.UUID, error) {
	f.calls++
	if f.calls <= retryAttempts {
		return uuid.Nil, errors.New("transient storage error")
	}
	return f.fakeStore.CreateThumbsDownValidation(ctx, v)
}
