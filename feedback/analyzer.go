// Package feedback consumes negative-rating events and classifies them into
// one of four categories, routing confident classifications to an automatic
// admin action and flagging the rest for human review.
package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ragfab/core/llm"
	"github.com/ragfab/core/store"
)

// Store is the subset of *store.Store the analyzer depends on.
type Store interface {
	GetRatingForValidation(ctx context.Context, ratingID uuid.UUID) (*store.RatingContext, error)
	CreateThumbsDownValidation(ctx context.Context, v store.ThumbsDownValidation) (uuid.UUID, error)
	UpsertDocumentQuality(ctx context.Context, documentID uuid.UUID, needsReingestion bool, reason string) error
	CreateNotification(ctx context.Context, n store.UserNotification) (uuid.UUID, error)
}

const (
	defaultConfidenceThreshold = 0.7
	retryAttempts              = 3
	baseRetryDelay             = 500 * time.Millisecond
)

// Analyzer classifies negative ratings one at a time, as they arrive on the
// negative_rating_created channel.
type Analyzer struct {
	store               Store
	chat                llm.Provider
	model               string
	confidenceThreshold float64
}

// New returns an Analyzer. confidenceThreshold is the admin-review cutoff
// (THUMBS_DOWN_CONFIDENCE_THRESHOLD); zero selects the documented default.
func New(s Store, chat llm.Provider, model string, confidenceThreshold float64) *Analyzer {
	if confidenceThreshold <= 0 {
		confidenceThreshold = defaultConfidenceThreshold
	}
	return &Analyzer{store: s, chat: chat, model: model, confidenceThreshold: confidenceThreshold}
}

// Listen subscribes on the negative_rating_created Postgres channel using a
// dedicated connection from pool, and processes each notified rating until
// ctx is cancelled. A single subscriber processes events FIFO. Each Listen
// call issues its own LISTEN, so every subscriber receives every
// notification: running several Listen goroutines makes each of them
// process every rating; events are not divided between subscribers.
func (a *Analyzer) Listen(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("feedback: acquiring listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN negative_rating_created"); err != nil {
		return fmt.Errorf("feedback: issuing LISTEN: %w", err)
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("feedback: waiting for notification: %w", err)
		}

		ratingID, err := uuid.Parse(notification.Payload)
		if err != nil {
			slog.Error("feedback: malformed notification payload", "payload", notification.Payload, "error", err)
			continue
		}

		if err := a.ProcessWithRetry(ctx, ratingID); err != nil {
			slog.Error("feedback: permanent failure processing rating", "rating_id", ratingID, "error", err)
		}
	}
}

// ProcessWithRetry runs Process with exponential backoff; a permanent
// failure still records a validation row flagged for admin review, with the
// error itself recorded as the reasoning, so no negative rating is silently
// dropped.
func (a *Analyzer) ProcessWithRetry(ctx context.Context, ratingID uuid.UUID) error {
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(baseRetryDelay << uint(attempt-1)):
			}
		}
		if err := a.Process(ctx, ratingID); err != nil {
			lastErr = err
			slog.Warn("feedback: processing attempt failed, retrying", "rating_id", ratingID, "attempt", attempt, "error", err)
			continue
		}
		return nil
	}

	rc, loadErr := a.store.GetRatingForValidation(ctx, ratingID)
	if loadErr != nil {
		return fmt.Errorf("feedback: rating %s failed permanently and could not be reloaded to record a fallback: %w", ratingID, lastErr)
	}
	_, err := a.store.CreateThumbsDownValidation(ctx, store.ThumbsDownValidation{
		RatingID:         ratingID,
		Question:         rc.Question,
		Answer:           rc.Answer,
		Sources:          rc.Sources,
		Classification:   store.ClassBadAnswer,
		Confidence:       0,
		Reasoning:        fmt.Sprintf("analyzer failed permanently: %v", lastErr),
		NeedsAdminReview: true,
		AdminAction:      store.ActionPending,
	})
	return err
}

// Process classifies one negative rating and persists the resulting
// validation plus any routed side effect.
func (a *Analyzer) Process(ctx context.Context, ratingID uuid.UUID) error {
	rc, err := a.store.GetRatingForValidation(ctx, ratingID)
	if err != nil {
		return fmt.Errorf("loading rating context: %w", err)
	}

	classification := a.classify(ctx, rc)

	action := store.ActionPending
	if classification.Confidence >= a.confidenceThreshold {
		action = routeAction(classification.Classification)
	}
	needsReview := classification.Confidence < a.confidenceThreshold

	validationID, err := a.store.CreateThumbsDownValidation(ctx, store.ThumbsDownValidation{
		RatingID:               ratingID,
		Question:               rc.Question,
		Answer:                 rc.Answer,
		Sources:                rc.Sources,
		Classification:         classification.Classification,
		Confidence:             classification.Confidence,
		Reasoning:              classification.Reasoning,
		SuggestedReformulation: classification.SuggestedReformulation,
		NeedsAdminReview:       needsReview,
		AdminAction:            action,
	})
	if err != nil {
		return fmt.Errorf("persisting validation: %w", err)
	}

	switch action {
	case store.ActionMarkForReingestion:
		if err := a.markSourcesForReingestion(ctx, rc, classification); err != nil {
			return fmt.Errorf("marking sources for reingestion: %w", err)
		}
	case store.ActionContactUser:
		if err := a.notifyUser(ctx, rc, classification); err != nil {
			return fmt.Errorf("notifying user: %w", err)
		}
	}

	slog.Info("feedback: rating classified", "rating_id", ratingID, "validation_id", validationID,
		"classification", classification.Classification, "confidence", classification.Confidence, "action", action)
	return nil
}

func routeAction(c store.ThumbsDownClassification) store.AdminAction {
	switch c {
	case store.ClassBadQuestion:
		return store.ActionContactUser
	case store.ClassMissingSources:
		return store.ActionMarkForReingestion
	case store.ClassUnrealisticExpectations:
		return store.ActionIgnore
	default: // bad_answer, or anything unrecognized
		return store.ActionPending
	}
}

type classificationResult struct {
	Classification         store.ThumbsDownClassification
	Confidence              float64
	Reasoning               string
	SuggestedReformulation  string
	MissingInfoDetails      string
}

type llmClassification struct {
	Classification         string  `json:"classification"`
	Confidence              float64 `json:"confidence"`
	Reasoning               string  `json:"reasoning"`
	SuggestedReformulation  string  `json:"suggested_reformulation"`
	MissingInfoDetails      string  `json:"missing_info_details"`
}

// classify calls the LLM with a JSON-mode classification prompt. On
// parse failure it defaults to {bad_answer, 0.5}, which always lands below
// the default confidence threshold and so is always routed to admin review.
func (a *Analyzer) classify(ctx context.Context, rc *store.RatingContext) classificationResult {
	resp, err := a.chat.Chat(ctx, llm.ChatRequest{
		Model:          a.model,
		Messages:       buildClassificationPrompt(rc),
		Temperature:    0,
		ResponseFormat: "json_object",
	})
	if err != nil {
		slog.Warn("feedback: classification call failed, defaulting to bad_answer", "error", err)
		return classificationResult{Classification: store.ClassBadAnswer, Confidence: 0.5, Reasoning: fmt.Sprintf("classification call failed: %v", err)}
	}

	var parsed llmClassification
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		slog.Warn("feedback: classification response was not valid JSON, defaulting to bad_answer", "error", err)
		return classificationResult{Classification: store.ClassBadAnswer, Confidence: 0.5, Reasoning: "classification response was not valid JSON"}
	}

	class := store.ThumbsDownClassification(parsed.Classification)
	switch class {
	case store.ClassBadQuestion, store.ClassBadAnswer, store.ClassMissingSources, store.ClassUnrealisticExpectations:
	default:
		return classificationResult{Classification: store.ClassBadAnswer, Confidence: 0.5, Reasoning: fmt.Sprintf("unrecognized classification %q", parsed.Classification)}
	}

	return classificationResult{
		Classification:         class,
		Confidence:             parsed.Confidence,
		Reasoning:              parsed.Reasoning,
		SuggestedReformulation: parsed.SuggestedReformulation,
		MissingInfoDetails:     parsed.MissingInfoDetails,
	}
}

func buildClassificationPrompt(rc *store.RatingContext) []llm.Message {
	system := `Tu es un classificateur de retours négatifs pour un système de questions-réponses. ` +
		`On te donne une question, une réponse, et un retour éventuel de l'utilisateur. Classe le problème dans exactement une des quatre catégories suivantes :
- bad_question: la question de l'utilisateur était mal formulée, ambiguë, ou contenait une faute qui a induit le système en erreur.
- missing_sources: la base de connaissances ne contient probablement pas l'information demandée ; il faudrait ingérer un nouveau document.
- unrealistic_expectations: l'utilisateur attend une capacité hors du périmètre du système (opinion, prédiction, action).
- bad_answer: le système avait l'information nécessaire mais a mal répondu.

Réponds uniquement avec un objet JSON: {"classification": "...", "confidence": 0.0-1.0, "reasoning": "...", "suggested_reformulation": "...", "missing_info_details": "..."}`

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nRéponse: %s\n", rc.Question, rc.Answer)
	if rc.Rating.Feedback != "" {
		fmt.Fprintf(&b, "\nRetour de l'utilisateur: %s\n", rc.Rating.Feedback)
	}

	return []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: b.String()},
	}
}

// markSourcesForReingestion flags the owning document of every chunk in the
// answer's sources snapshot as needing reingestion.
func (a *Analyzer) markSourcesForReingestion(ctx context.Context, rc *store.RatingContext, c classificationResult) error {
	reason := "thumbs-down flagged missing_sources"
	if c.MissingInfoDetails != "" {
		reason = fmt.Sprintf("%s: %s", reason, c.MissingInfoDetails)
	}

	seen := make(map[uuid.UUID]bool)
	for _, src := range rc.Sources {
		if seen[src.DocumentID] {
			continue
		}
		seen[src.DocumentID] = true
		if err := a.store.UpsertDocumentQuality(ctx, src.DocumentID, true, reason); err != nil {
			return err
		}
	}
	return nil
}

// notifyUser creates a pedagogical notification derived from the
// classification's reasoning, with a dynamic hint keyed on the kind of
// issue the reasoning text surfaces.
func (a *Analyzer) notifyUser(ctx context.Context, rc *store.RatingContext, c classificationResult) error {
	message := pedagogicalMessage(c)
	_, err := a.store.CreateNotification(ctx, store.UserNotification{
		UserID:  rc.Rating.UserID,
		Kind:    store.NotificationQuestionImprovement,
		Message: message,
	})
	return err
}

func pedagogicalMessage(c classificationResult) string {
	if c.SuggestedReformulation != "" {
		return fmt.Sprintf("Votre question pourrait être reformulée ainsi : \"%s\"", c.SuggestedReformulation)
	}

	lower := strings.ToLower(c.Reasoning)
	switch {
	case strings.Contains(lower, "orthographe") || strings.Contains(lower, "spelling"):
		return "Votre question contenait peut-être une faute d'orthographe qui a gêné la recherche ; essayez de la reformuler."
	case strings.Contains(lower, "grammaire") || strings.Contains(lower, "grammar"):
		return "La formulation grammaticale de votre question a pu gêner la recherche ; essayez une phrase plus simple."
	case strings.Contains(lower, "vague") || strings.Contains(lower, "ambigu"):
		return "Votre question était peut-être trop générale ; essayez d'y ajouter des détails précis."
	default:
		return "Votre question pourrait être reformulée pour obtenir une meilleure réponse."
	}
}
