package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UpsertTemplate creates or replaces a named response template.
func (s *Store) UpsertTemplate(ctx context.Context, name, body string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO response_templates (name, body)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET body = EXCLUDED.body, updated_at = now()
		RETURNING id`,
		name, body,
	).Scan(&id)
	return id, err
}

// GetTemplateByName fetches a template by its unique name.
func (s *Store) GetTemplateByName(ctx context.Context, name string) (*Template, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, body, created_at, updated_at
		FROM response_templates WHERE name = $1`, name)
	var t Template
	if err := row.Scan(&t.ID, &t.Name, &t.Body, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// UpsertFormattedResponse replaces the formatted output for a message,
// enforcing the one-per-message invariant via the unique index on message_id.
func (s *Store) UpsertFormattedResponse(ctx context.Context, f FormattedResponse) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO formatted_responses (message_id, template_name, content)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id) DO UPDATE
		SET template_name = EXCLUDED.template_name, content = EXCLUDED.content, updated_at = now()
		RETURNING id`,
		f.MessageID, f.TemplateName, f.Content,
	).Scan(&id)
	return id, err
}

// GetFormattedResponse fetches the formatted output for a message, if any.
func (s *Store) GetFormattedResponse(ctx context.Context, messageID uuid.UUID) (*FormattedResponse, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, message_id, template_name, content, created_at, updated_at
		FROM formatted_responses WHERE message_id = $1`, messageID)
	var f FormattedResponse
	if err := row.Scan(&f.ID, &f.MessageID, &f.TemplateName, &f.Content, &f.CreatedAt, &f.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}
