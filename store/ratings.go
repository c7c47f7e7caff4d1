package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateRating records a thumbs-up/thumbs-down on a message. A negative
// rating fires the notify_negative_rating trigger, which the feedback
// analyzer picks up over LISTEN/NOTIFY — callers do not enqueue anything
// themselves.
func (s *Store) CreateRating(ctx context.Context, r Rating) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO message_ratings (message_id, user_id, polarity, feedback)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		r.MessageID, r.UserID, r.Polarity, r.Feedback,
	).Scan(&id)
	return id, err
}

// CancelRating marks a rating withdrawn without deleting its history.
func (s *Store) CancelRating(ctx context.Context, id uuid.UUID, cancelledBy uuid.UUID, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE message_ratings
		SET is_cancelled = true, cancelled_by = $2, cancel_reason = $3
		WHERE id = $1`,
		id, cancelledBy, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRating fetches a rating by id.
func (s *Store) GetRating(ctx context.Context, id uuid.UUID) (*Rating, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, message_id, user_id, polarity, COALESCE(feedback, ''), is_cancelled,
		       cancelled_by, COALESCE(cancel_reason, ''), created_at
		FROM message_ratings WHERE id = $1`, id)
	return scanRating(row)
}

func scanRating(row pgx.Row) (*Rating, error) {
	var r Rating
	if err := row.Scan(&r.ID, &r.MessageID, &r.UserID, &r.Polarity, &r.Feedback, &r.IsCancelled,
		&r.CancelledBy, &r.CancelReason, &r.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}
