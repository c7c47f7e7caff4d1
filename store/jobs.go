package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// EnqueueJob creates a pending ingestion job for a source path.
func (s *Store) EnqueueJob(ctx context.Context, j IngestionJob) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO ingestion_jobs (document_id, source_path, ocr_engine, vlm_engine, chunker_variant, universe_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		j.DocumentID, j.SourcePath, j.OCREngine, j.VLMEngine, j.ChunkerVariant, j.UniverseID,
	).Scan(&id)
	return id, err
}

// ClaimNextJob atomically claims the oldest pending job for workerID via a
// compare-and-set on status, returning nil with no error when the queue is
// empty.
func (s *Store) ClaimNextJob(ctx context.Context, workerID string) (*IngestionJob, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE ingestion_jobs
		SET status = 'processing', worker_id = $1, started_at = now()
		WHERE id = (
			SELECT id FROM ingestion_jobs
			WHERE status = 'pending'
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, document_id, source_path, COALESCE(ocr_engine, ''), COALESCE(vlm_engine, ''),
		          chunker_variant, universe_id, progress, status, COALESCE(error, ''), worker_id,
		          created_at, started_at, completed_at`, workerID)

	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

// UpdateJobProgress reports percent-complete without changing status.
func (s *Store) UpdateJobProgress(ctx context.Context, id uuid.UUID, progress int) error {
	_, err := s.pool.Exec(ctx, `UPDATE ingestion_jobs SET progress = $2 WHERE id = $1`, id, progress)
	return err
}

// CompleteJob marks a job finished and links it to the persisted document.
func (s *Store) CompleteJob(ctx context.Context, id uuid.UUID, documentID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE ingestion_jobs
		SET status = 'completed', progress = 100, document_id = $2, completed_at = now()
		WHERE id = $1`, id, documentID)
	return err
}

// FailJob records a terminal failure and its error message.
func (s *Store) FailJob(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE ingestion_jobs
		SET status = 'failed', error = $2, completed_at = now()
		WHERE id = $1`, id, errMsg)
	return err
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*IngestionJob, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, document_id, source_path, COALESCE(ocr_engine, ''), COALESCE(vlm_engine, ''),
		       chunker_variant, universe_id, progress, status, COALESCE(error, ''), worker_id,
		       created_at, started_at, completed_at
		FROM ingestion_jobs WHERE id = $1`, id)
	return scanJob(row)
}

func scanJob(row pgx.Row) (*IngestionJob, error) {
	var j IngestionJob
	var workerID *string
	if err := row.Scan(&j.ID, &j.DocumentID, &j.SourcePath, &j.OCREngine, &j.VLMEngine,
		&j.ChunkerVariant, &j.UniverseID, &j.Progress, &j.Status, &j.Error, &workerID,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if workerID != nil {
		j.WorkerID = *workerID
	}
	return &j, nil
}
