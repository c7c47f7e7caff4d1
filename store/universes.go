package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateUniverse registers a new tenancy boundary.
func (s *Store) CreateUniverse(ctx context.Context, name, description string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO product_universes (name, description)
		VALUES ($1, $2)
		RETURNING id`, name, description,
	).Scan(&id)
	return id, err
}

// GrantUniverseAccess lets userID see documents and conversations scoped to
// universeID.
func (s *Store) GrantUniverseAccess(ctx context.Context, userID, universeID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_universe_access (user_id, universe_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, universe_id) DO NOTHING`, userID, universeID)
	return err
}

// RevokeUniverseAccess removes a grant.
func (s *Store) RevokeUniverseAccess(ctx context.Context, userID, universeID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM user_universe_access WHERE user_id = $1 AND universe_id = $2`, userID, universeID)
	return err
}

// AllowedUniverses returns the universe ids userID may query, used to scope
// HybridSearch and ListDocuments to a tenant's visibility.
func (s *Store) AllowedUniverses(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT universe_id FROM user_universe_access WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// GetUniverse fetches a universe by id.
func (s *Store) GetUniverse(ctx context.Context, id uuid.UUID) (*ProductUniverse, error) {
	var u ProductUniverse
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, COALESCE(description, ''), created_at
		FROM product_universes WHERE id = $1`, id,
	).Scan(&u.ID, &u.Name, &u.Description, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUniverses returns all registered universes.
func (s *Store) ListUniverses(ctx context.Context) ([]ProductUniverse, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, COALESCE(description, ''), created_at
		FROM product_universes ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProductUniverse
	for rows.Next() {
		var u ProductUniverse
		if err := rows.Scan(&u.ID, &u.Name, &u.Description, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
