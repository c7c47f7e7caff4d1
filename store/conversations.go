package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateConversation starts a new conversation for a user.
func (s *Store) CreateConversation(ctx context.Context, c Conversation) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (user_id, universe_id, title, hybrid_enabled, alpha, reranker_enabled)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		c.UserID, c.UniverseID, c.Title, c.HybridEnabled, c.Alpha, c.RerankerEnabled,
	).Scan(&id)
	return id, err
}

// GetConversation fetches a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, universe_id, title, hybrid_enabled, alpha, reranker_enabled,
		       archived, created_at, updated_at
		FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

// ListConversations returns a user's conversations, most recent first.
func (s *Store) ListConversations(ctx context.Context, userID uuid.UUID) ([]Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, universe_id, title, hybrid_enabled, alpha, reranker_enabled,
		       archived, created_at, updated_at
		FROM conversations WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// UpdateConversationSettings applies per-conversation retrieval overrides;
// nil hybridEnabled or alpha means "leave unchanged", not "clear".
// rerankerEnabled is written only when rerankerSet is true, in which case a
// nil value clears the override back to the global default.
func (s *Store) UpdateConversationSettings(ctx context.Context, id uuid.UUID, hybridEnabled *bool, alpha *float64, rerankerEnabled RerankerSetting, rerankerSet bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE conversations SET
			hybrid_enabled = COALESCE($2, hybrid_enabled),
			alpha = COALESCE($3, alpha),
			reranker_enabled = CASE WHEN $5 THEN $4 ELSE reranker_enabled END,
			updated_at = now()
		WHERE id = $1`,
		id, hybridEnabled, alpha, rerankerEnabled, rerankerSet)
	return err
}

// TouchConversation bumps updated_at, used after appending a message so
// ListConversations orders by recent activity.
func (s *Store) TouchConversation(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE conversations SET updated_at = now() WHERE id = $1`, id)
	return err
}

// ArchiveConversation marks a conversation archived without deleting it.
func (s *Store) ArchiveConversation(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE conversations SET archived = true WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	if err := row.Scan(&c.ID, &c.UserID, &c.UniverseID, &c.Title, &c.HybridEnabled, &c.Alpha,
		&c.RerankerEnabled, &c.Archived, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}
