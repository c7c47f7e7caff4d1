package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AppendMessage inserts a message and touches the parent conversation.
func (s *Store) AppendMessage(ctx context.Context, m Message) (uuid.UUID, error) {
	sources, err := json.Marshal(m.Sources)
	if err != nil {
		return uuid.Nil, err
	}

	var id uuid.UUID
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		if scanErr := tx.QueryRow(ctx, `
			INSERT INTO messages (conversation_id, role, content, sources)
			VALUES ($1, $2, $3, $4)
			RETURNING id`,
			m.ConversationID, m.Role, m.Content, sources,
		).Scan(&id); scanErr != nil {
			return scanErr
		}
		_, execErr := tx.Exec(ctx, `UPDATE conversations SET updated_at = now() WHERE id = $1`, m.ConversationID)
		return execErr
	})
	return id, err
}

// GetMessage fetches a single message, including its frozen source snapshot.
func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (*Message, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, conversation_id, role, content, sources, created_at
		FROM messages WHERE id = $1`, id)
	return scanMessage(row)
}

// ListMessages returns a conversation's messages in chronological order.
func (s *Store) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, role, content, sources, created_at
		FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// LastMessagePair returns the most recent user/assistant exchange, used by
// contextual reformulation to decide whether a follow-up query references
// the prior turn.
func (s *Store) LastMessagePair(ctx context.Context, conversationID uuid.UUID) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, role, content, sources, created_at
		FROM messages WHERE conversation_id = $1
		ORDER BY created_at DESC LIMIT 2`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	// reverse to chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	var sources []byte
	if err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &sources, &m.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(sources) > 0 {
		_ = json.Unmarshal(sources, &m.Sources)
	}
	return &m, nil
}
