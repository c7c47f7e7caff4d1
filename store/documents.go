package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UpsertDocument inserts a document or, when (UniverseID, SourcePath)
// already exists, updates it in place — preserving the document's identity
// across re-ingestion per the canonical-source-key invariant.
func (s *Store) UpsertDocument(ctx context.Context, d Document) (uuid.UUID, error) {
	meta, err := json.Marshal(d.Metadata)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshaling metadata: %w", err)
	}

	var id uuid.UUID
	err = s.pool.QueryRow(ctx, `
		INSERT INTO documents (universe_id, title, source_path, content, content_hash, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (COALESCE(universe_id, '00000000-0000-0000-0000-000000000000'::uuid), source_path)
		DO UPDATE SET title = EXCLUDED.title, content = EXCLUDED.content,
		              content_hash = EXCLUDED.content_hash, metadata = EXCLUDED.metadata,
		              updated_at = now()
		RETURNING id`,
		d.UniverseID, d.Title, d.SourcePath, d.Content, d.ContentHash, meta,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upserting document: %w", err)
	}
	return id, nil
}

// GetDocumentBySourcePath looks up a document by its canonical source key.
func (s *Store) GetDocumentBySourcePath(ctx context.Context, universeID *uuid.UUID, sourcePath string) (*Document, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, universe_id, title, source_path, content, content_hash, metadata, created_at, updated_at
		FROM documents
		WHERE COALESCE(universe_id, '00000000-0000-0000-0000-000000000000'::uuid) =
		      COALESCE($1, '00000000-0000-0000-0000-000000000000'::uuid)
		  AND source_path = $2`,
		universeID, sourcePath)
	return scanDocument(row)
}

// GetDocument fetches a document by id.
func (s *Store) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, universe_id, title, source_path, content, content_hash, metadata, created_at, updated_at
		FROM documents WHERE id = $1`, id)
	return scanDocument(row)
}

func scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	var meta []byte
	if err := row.Scan(&d.ID, &d.UniverseID, &d.Title, &d.SourcePath, &d.Content, &d.ContentHash, &meta, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &d.Metadata)
	}
	return &d, nil
}

// ListDocuments returns all documents visible in allowedUniverses (nil means
// unrestricted — used by administrative tooling, never by retrieval).
func (s *Store) ListDocuments(ctx context.Context, allowedUniverses []uuid.UUID) ([]Document, error) {
	var rows pgx.Rows
	var err error
	if allowedUniverses == nil {
		rows, err = s.pool.Query(ctx, `
			SELECT id, universe_id, title, source_path, content, content_hash, metadata, created_at, updated_at
			FROM documents ORDER BY created_at DESC`)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT id, universe_id, title, source_path, content, content_hash, metadata, created_at, updated_at
			FROM documents WHERE universe_id = ANY($1) ORDER BY created_at DESC`, allowedUniverses)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

// DeleteDocument cascades to chunks and quality scores.
func (s *Store) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertDocumentQuality sets needs_reingestion with a reason, used by the
// feedback analyzer's mark_for_reingestion action.
func (s *Store) UpsertDocumentQuality(ctx context.Context, documentID uuid.UUID, needsReingestion bool, reason string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO document_quality_scores (document_id, needs_reingestion, reingestion_reason)
		VALUES ($1, $2, $3)
		ON CONFLICT (document_id) DO UPDATE
		SET needs_reingestion = true,
		    reingestion_reason = CASE
		        WHEN document_quality_scores.reingestion_reason IS NULL OR document_quality_scores.reingestion_reason = ''
		        THEN EXCLUDED.reingestion_reason
		        ELSE document_quality_scores.reingestion_reason || '; ' || EXCLUDED.reingestion_reason
		    END`,
		documentID, needsReingestion, reason)
	return err
}

// GetDocumentQuality fetches a document's aggregated quality record.
func (s *Store) GetDocumentQuality(ctx context.Context, documentID uuid.UUID) (*DocumentQualityScore, error) {
	var q DocumentQualityScore
	q.DocumentID = documentID
	err := s.pool.QueryRow(ctx, `
		SELECT positive_count, negative_count, needs_reingestion, COALESCE(reingestion_reason, '')
		FROM document_quality_scores WHERE document_id = $1`, documentID,
	).Scan(&q.PositiveCount, &q.NegativeCount, &q.NeedsReingestion, &q.ReingestionReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return &q, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// ErrNotFound is returned by repository lookups that find no row.
var ErrNotFound = errors.New("store: not found")
