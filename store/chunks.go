package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// ChunkInput is what the chunker and ingestion pipeline hand to the store.
// ParentIndex references another element of the same slice by position (the
// teacher's "temporary position id, remapped to a real id on insert"
// pattern) and is resolved to a real parent_chunk_id inside InsertChunks.
type ChunkInput struct {
	Chunk
	ParentIndex *int
}

// InsertChunks persists chunks for a document in document order, resolving
// ParentIndex references to real ids and materializing the prev/next
// adjacency list in a single pass, all inside one transaction. Embeddings
// may be nil (set later via UpdateEmbedding during the embed phase) or
// populated up front.
func (s *Store) InsertChunks(ctx context.Context, documentID uuid.UUID, inputs []ChunkInput) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, len(inputs))

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		// Pass 1: insert parents first so children can resolve ParentIndex.
		for i, in := range inputs {
			if in.ChunkLevel != ChunkLevelParent {
				continue
			}
			id, err := insertChunkRow(ctx, tx, documentID, in.Chunk, nil)
			if err != nil {
				return fmt.Errorf("inserting parent chunk %d: %w", i, err)
			}
			ids[i] = id
		}

		// Pass 2: insert everything else, resolving parent references.
		for i, in := range inputs {
			if in.ChunkLevel == ChunkLevelParent {
				continue
			}
			var parentID *uuid.UUID
			if in.ParentIndex != nil {
				pid := ids[*in.ParentIndex]
				if pid == uuid.Nil {
					return fmt.Errorf("chunk %d references unresolved parent index %d", i, *in.ParentIndex)
				}
				parentID = &pid
			}
			id, err := insertChunkRow(ctx, tx, documentID, in.Chunk, parentID)
			if err != nil {
				return fmt.Errorf("inserting chunk %d: %w", i, err)
			}
			ids[i] = id
		}

		// Pass 3: adjacency — prev/next in document order, single pass.
		for i := range inputs {
			var prev, next *uuid.UUID
			if i > 0 {
				prev = &ids[i-1]
			}
			if i < len(inputs)-1 {
				next = &ids[i+1]
			}
			if prev == nil && next == nil {
				continue
			}
			if _, err := tx.Exec(ctx,
				`UPDATE chunks SET prev_chunk_id = $1, next_chunk_id = $2 WHERE id = $3`,
				prev, next, ids[i]); err != nil {
				return fmt.Errorf("linking adjacency for chunk %d: %w", i, err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func insertChunkRow(ctx context.Context, tx pgx.Tx, documentID uuid.UUID, c Chunk, parentID *uuid.UUID) (uuid.UUID, error) {
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return uuid.Nil, err
	}

	var embArg interface{}
	if c.Embedding != nil {
		embArg = pgvector.NewVector(c.Embedding)
	}

	level := c.ChunkLevel
	if level == "" {
		level = ChunkLevelUnlabeled
	}

	var id uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO chunks (document_id, chunk_index, content, token_count, embedding,
		                     section_hierarchy, heading_context, document_position,
		                     parent_chunk_id, chunk_level, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		documentID, c.ChunkIndex, c.Content, c.TokenCount, embArg,
		c.SectionHierarchy, c.HeadingContext, c.DocumentPosition,
		parentID, level, meta,
	).Scan(&id)
	return id, err
}

// UpdateEmbedding sets a chunk's embedding after batched embedding
// generation (used when InsertChunks was called with nil embeddings).
func (s *Store) UpdateEmbedding(ctx context.Context, chunkID uuid.UUID, embedding []float32) error {
	_, err := s.pool.Exec(ctx, `UPDATE chunks SET embedding = $1 WHERE id = $2`,
		pgvector.NewVector(embedding), chunkID)
	return err
}

// DeleteChunksForDocument removes all chunks of a document (used before
// re-ingestion persists new ones); quality scores cascade with the chunks.
func (s *Store) DeleteChunksForDocument(ctx context.Context, documentID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID)
	return err
}

// GetChunksByIDs fetches chunks (e.g. prev/next neighbors for adjacent-chunk
// expansion, or parents for hierarchical resolution) preserving no
// particular order — callers re-associate by id.
func (s *Store) GetChunksByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Chunk, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]Chunk{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, chunk_index, content, token_count,
		       section_hierarchy, heading_context, document_position,
		       prev_chunk_id, next_chunk_id, parent_chunk_id, chunk_level, metadata
		FROM chunks WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]Chunk, len(ids))
	for rows.Next() {
		c, err := scanChunkRow(rows)
		if err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}

func scanChunkRow(rows pgx.Rows) (Chunk, error) {
	var c Chunk
	var meta []byte
	if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &c.TokenCount,
		&c.SectionHierarchy, &c.HeadingContext, &c.DocumentPosition,
		&c.PrevChunkID, &c.NextChunkID, &c.ParentChunkID, &c.ChunkLevel, &meta); err != nil {
		return c, err
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &c.Metadata)
	}
	return c, nil
}

// GetChunkQuality fetches a chunk's quality record; a chunk with no
// recorded feedback returns a zero-value record (insufficient data passes
// through quality gating).
func (s *Store) GetChunkQuality(ctx context.Context, chunkID uuid.UUID) (ChunkQualityScore, error) {
	q := ChunkQualityScore{ChunkID: chunkID}
	err := s.pool.QueryRow(ctx, `
		SELECT positive_count, negative_count, appearances, blacklisted,
		       COALESCE(blacklist_reason, ''), whitelisted, last_seen_at
		FROM chunk_quality_scores WHERE chunk_id = $1`, chunkID,
	).Scan(&q.PositiveCount, &q.NegativeCount, &q.Appearances, &q.Blacklisted,
		&q.BlacklistReason, &q.Whitelisted, &q.LastSeenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return q, nil
	}
	return q, err
}

// RecordChunkAppearance bumps the appearance counter and last-seen
// timestamp for every chunk surfaced in an answer's sources.
func (s *Store) RecordChunkAppearance(ctx context.Context, chunkIDs []uuid.UUID) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chunk_quality_scores (chunk_id, appearances, last_seen_at)
		SELECT unnest($1::uuid[]), 1, now()
		ON CONFLICT (chunk_id) DO UPDATE
		SET appearances = chunk_quality_scores.appearances + 1, last_seen_at = now()`,
		chunkIDs)
	return err
}

// RecordChunkRating increments the positive or negative counter for every
// chunk in a sources snapshot when a message is rated.
func (s *Store) RecordChunkRating(ctx context.Context, chunkIDs []uuid.UUID, polarity int) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	col := "negative_count"
	if polarity > 0 {
		col = "positive_count"
	}
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO chunk_quality_scores (chunk_id, %s)
		SELECT unnest($1::uuid[]), 1
		ON CONFLICT (chunk_id) DO UPDATE
		SET %s = chunk_quality_scores.%s + 1`, col, col, col),
		chunkIDs)
	return err
}
