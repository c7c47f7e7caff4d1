package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// GetRatingForValidation loads a rating plus the question/answer/sources it
// is attached to, the input the feedback analyzer's classification prompt
// needs. It joins back through the message to its conversation's preceding
// user turn.
type RatingContext struct {
	Rating     Rating
	Question   string
	Answer     string
	Sources    []SourceSnapshot
}

func (s *Store) GetRatingForValidation(ctx context.Context, ratingID uuid.UUID) (*RatingContext, error) {
	var rc RatingContext
	var sources []byte
	err := s.pool.QueryRow(ctx, `
		SELECT mr.id, mr.message_id, mr.user_id, mr.polarity, COALESCE(mr.feedback, ''),
		       mr.is_cancelled, mr.cancelled_by, COALESCE(mr.cancel_reason, ''), mr.created_at,
		       m.content, m.sources,
		       COALESCE((
		           SELECT content FROM messages
		           WHERE conversation_id = m.conversation_id AND created_at < m.created_at AND role = 'user'
		           ORDER BY created_at DESC LIMIT 1
		       ), '')
		FROM message_ratings mr
		JOIN messages m ON m.id = mr.message_id
		WHERE mr.id = $1`, ratingID,
	).Scan(&rc.Rating.ID, &rc.Rating.MessageID, &rc.Rating.UserID, &rc.Rating.Polarity, &rc.Rating.Feedback,
		&rc.Rating.IsCancelled, &rc.Rating.CancelledBy, &rc.Rating.CancelReason, &rc.Rating.CreatedAt,
		&rc.Answer, &sources, &rc.Question)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(sources) > 0 {
		_ = json.Unmarshal(sources, &rc.Sources)
	}
	return &rc, nil
}

// CreateThumbsDownValidation persists the feedback analyzer's classification
// of a negative rating.
func (s *Store) CreateThumbsDownValidation(ctx context.Context, v ThumbsDownValidation) (uuid.UUID, error) {
	sources, err := json.Marshal(v.Sources)
	if err != nil {
		return uuid.Nil, err
	}

	var id uuid.UUID
	err = s.pool.QueryRow(ctx, `
		INSERT INTO thumbs_down_validations
			(rating_id, question, answer, sources, classification, confidence,
			 reasoning, suggested_reformulation, needs_admin_review, admin_action)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		v.RatingID, v.Question, v.Answer, sources, v.Classification, v.Confidence,
		v.Reasoning, v.SuggestedReformulation, v.NeedsAdminReview, v.AdminAction,
	).Scan(&id)
	return id, err
}

// SetAdminAction records the admin's override classification and/or final
// action on a validation that needed review.
func (s *Store) SetAdminAction(ctx context.Context, validationID uuid.UUID, validatorID uuid.UUID, overrideClassification string, action AdminAction) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE thumbs_down_validations
		SET admin_override_classification = NULLIF($3, ''), admin_action = $4,
		    validator_id = $2, updated_at = now()
		WHERE id = $1`,
		validationID, validatorID, overrideClassification, action)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListValidationsNeedingReview returns unresolved validations for admin review.
func (s *Store) ListValidationsNeedingReview(ctx context.Context) ([]ThumbsDownValidation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, rating_id, question, answer, sources, classification, confidence,
		       COALESCE(reasoning, ''), COALESCE(suggested_reformulation, ''), needs_admin_review,
		       COALESCE(admin_override_classification, ''), admin_action, validator_id, created_at, updated_at
		FROM thumbs_down_validations
		WHERE needs_admin_review AND admin_action = 'pending'
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ThumbsDownValidation
	for rows.Next() {
		v, err := scanValidation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func scanValidation(rows pgx.Rows) (*ThumbsDownValidation, error) {
	var v ThumbsDownValidation
	var sources []byte
	if err := rows.Scan(&v.ID, &v.RatingID, &v.Question, &v.Answer, &sources, &v.Classification, &v.Confidence,
		&v.Reasoning, &v.SuggestedReformulation, &v.NeedsAdminReview,
		&v.AdminOverrideClassification, &v.AdminAction, &v.ValidatorID, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	if len(sources) > 0 {
		_ = json.Unmarshal(sources, &v.Sources)
	}
	return &v, nil
}

// CreateNotification records a pedagogical or informational message for a user.
func (s *Store) CreateNotification(ctx context.Context, n UserNotification) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO user_notifications (user_id, kind, message)
		VALUES ($1, $2, $3)
		RETURNING id`,
		n.UserID, n.Kind, n.Message,
	).Scan(&id)
	return id, err
}

// ListNotifications returns a user's notifications, most recent first.
func (s *Store) ListNotifications(ctx context.Context, userID uuid.UUID) ([]UserNotification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, kind, message, read, created_at
		FROM user_notifications WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UserNotification
	for rows.Next() {
		var n UserNotification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
