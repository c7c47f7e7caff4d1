package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const rrfK = 60

// candidatePoolMultiplier controls how far past the requested result count
// each individual ranking method reaches before fusion narrows back down —
// a candidate outside either method's own top k*4 can never out-rank one
// present in both, so widening further only adds query cost.
const candidatePoolMultiplier = 4

// HybridSearch runs vector similarity and French keyword ranking against
// chunks in a single round trip, fusing them with Reciprocal Rank Fusion
// (score = alpha/(k+rank_vector) + (1-alpha)/(k+rank_keyword), k=60).
// tsquery is a caller-built to_tsquery expression (e.g. "chat & noir"); an
// empty tsquery switches to a vector-only query instead of joining on an
// empty keyword candidate set. allowedUniverses nil means unrestricted.
func (s *Store) HybridSearch(ctx context.Context, queryEmbedding []float32, tsquery string, alpha float64, k int, allowedUniverses []uuid.UUID, hierarchical bool) ([]ScoredChunk, error) {
	if k <= 0 {
		k = 20
	}
	pool := k * candidatePoolMultiplier

	vec := pgvector.NewVector(queryEmbedding)

	if tsquery == "" {
		return s.vectorOnlySearch(ctx, vec, k, allowedUniverses, hierarchical)
	}

	rows, err := s.pool.Query(ctx, `
		WITH vector_candidates AS (
			SELECT c.id,
			       1 - (c.embedding <=> $1) AS similarity,
			       row_number() OVER (ORDER BY c.embedding <=> $1) AS rank
			FROM chunks c
			JOIN documents d ON d.id = c.document_id
			LEFT JOIN chunk_quality_scores q ON q.chunk_id = c.id
			WHERE c.embedding IS NOT NULL
			  AND ($5::uuid[] IS NULL OR d.universe_id = ANY($5))
			  AND (NOT $7 OR c.chunk_level = 'child')
			  AND NOT COALESCE(q.blacklisted, false)
			ORDER BY c.embedding <=> $1
			LIMIT $2
		),
		keyword_candidates AS (
			SELECT c.id,
			       ts_rank_cd(c.content_tsv, q.query, 32) AS bm25,
			       row_number() OVER (ORDER BY ts_rank_cd(c.content_tsv, q.query, 32) DESC) AS rank
			FROM chunks c
			JOIN documents d ON d.id = c.document_id
			LEFT JOIN chunk_quality_scores qs ON qs.chunk_id = c.id
			CROSS JOIN LATERAL to_tsquery('french', $3) AS q(query)
			WHERE c.content_tsv @@ q.query
			  AND ($5::uuid[] IS NULL OR d.universe_id = ANY($5))
			  AND (NOT $7 OR c.chunk_level = 'child')
			  AND NOT COALESCE(qs.blacklisted, false)
			ORDER BY bm25 DESC
			LIMIT $2
		),
		fused AS (
			SELECT
				COALESCE(v.id, kw.id) AS id,
				COALESCE(v.similarity, 0) AS similarity,
				COALESCE(kw.bm25, 0) AS bm25,
				COALESCE(v.rank, 1000) AS rank_vector,
				COALESCE(kw.rank, 1000) AS rank_keyword,
				$4::float8 / (60 + COALESCE(v.rank, 1000)) +
				(1 - $4::float8) / (60 + COALESCE(kw.rank, 1000)) AS combined
			FROM vector_candidates v
			FULL OUTER JOIN keyword_candidates kw ON kw.id = v.id
		)
		SELECT c.id, c.document_id, c.chunk_index, c.content, c.token_count,
		       c.section_hierarchy, c.heading_context, c.document_position,
		       c.prev_chunk_id, c.next_chunk_id, c.parent_chunk_id, c.chunk_level, c.metadata,
		       f.similarity, f.bm25, f.combined, f.rank_vector, f.rank_keyword
		FROM fused f
		JOIN chunks c ON c.id = f.id
		ORDER BY f.combined DESC, c.id ASC
		LIMIT $6`,
		vec, pool, tsquery, alpha, uuidArrayOrNil(allowedUniverses), k, hierarchical)
	if err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}
	defer rows.Close()

	return scanScoredChunks(rows)
}

// vectorOnlySearch is the fallback used when query preprocessing yields an
// empty tsquery (e.g. a query made entirely of stopwords).
func (s *Store) vectorOnlySearch(ctx context.Context, vec pgvector.Vector, k int, allowedUniverses []uuid.UUID, hierarchical bool) ([]ScoredChunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.document_id, c.chunk_index, c.content, c.token_count,
		       c.section_hierarchy, c.heading_context, c.document_position,
		       c.prev_chunk_id, c.next_chunk_id, c.parent_chunk_id, c.chunk_level, c.metadata,
		       1 - (c.embedding <=> $1) AS similarity, 0::float8 AS bm25,
		       1 - (c.embedding <=> $1) AS combined,
		       row_number() OVER (ORDER BY c.embedding <=> $1) AS rank_vector, 1000 AS rank_keyword
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		LEFT JOIN chunk_quality_scores q ON q.chunk_id = c.id
		WHERE c.embedding IS NOT NULL
		  AND ($2::uuid[] IS NULL OR d.universe_id = ANY($2))
		  AND (NOT $4 OR c.chunk_level = 'child')
		  AND NOT COALESCE(q.blacklisted, false)
		ORDER BY c.embedding <=> $1
		LIMIT $3`,
		vec, uuidArrayOrNil(allowedUniverses), k, hierarchical)
	if err != nil {
		return nil, fmt.Errorf("vector-only search: %w", err)
	}
	defer rows.Close()

	return scanScoredChunks(rows)
}

func uuidArrayOrNil(ids []uuid.UUID) interface{} {
	if ids == nil {
		return nil
	}
	return ids
}

func scanScoredChunks(rows pgx.Rows) ([]ScoredChunk, error) {
	var out []ScoredChunk
	for rows.Next() {
		var sc ScoredChunk
		var meta []byte
		if err := rows.Scan(&sc.ID, &sc.DocumentID, &sc.ChunkIndex, &sc.Content, &sc.TokenCount,
			&sc.SectionHierarchy, &sc.HeadingContext, &sc.DocumentPosition,
			&sc.PrevChunkID, &sc.NextChunkID, &sc.ParentChunkID, &sc.ChunkLevel, &meta,
			&sc.VectorSimilarity, &sc.BM25Score, &sc.Combined, &sc.RankVector, &sc.RankKeyword); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &sc.Metadata)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// ResolveParents fetches the parent chunk for every child chunk in results
// that has one, used by hierarchical parent/child resolution to promote a
// matched child's parent into the context window.
func (s *Store) ResolveParents(ctx context.Context, results []ScoredChunk) (map[uuid.UUID]Chunk, error) {
	var parentIDs []uuid.UUID
	for _, r := range results {
		if r.ParentChunkID != nil {
			parentIDs = append(parentIDs, *r.ParentChunkID)
		}
	}
	return s.GetChunksByIDs(ctx, parentIDs)
}
