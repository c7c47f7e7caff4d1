// Package retrieval implements the hybrid retrieval engine: vector
// similarity fused with French keyword ranking via Reciprocal Rank Fusion,
// plus the hierarchical parent/child resolution and vector-only fallback
// the fusion query supports.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ragfab/core/llm"
	"github.com/ragfab/core/store"
)

// SearchOptions configures a single search operation.
type SearchOptions struct {
	K                int
	Alpha            float64
	AllowedUniverses []uuid.UUID
	Hierarchical     bool
}

// SearchTrace records the breakdown of one search operation, useful for
// debugging relevance and for the admin-facing query inspector.
type SearchTrace struct {
	ResultCount  int           `json:"result_count"`
	Alpha        float64       `json:"alpha"`
	Hierarchical bool          `json:"hierarchical"`
	TSQueryEmpty bool          `json:"tsquery_empty"`
	ElapsedMs    int64         `json:"elapsed_ms"`
}

// Engine performs hybrid retrieval against the chunk store.
type Engine struct {
	store    *store.Store
	embedder llm.Provider
}

// New returns a retrieval Engine. embedder generates the query embedding;
// the keyword side operates entirely inside the store's SQL.
func New(s *store.Store, embedder llm.Provider) *Engine {
	return &Engine{store: s, embedder: embedder}
}

// Search embeds queryText, then asks the store for a single-round-trip
// fused result set. tsqueryText is the caller's already-built
// to_tsquery expression (see package queryprep); an empty string
// triggers the vector-only fallback.
func (e *Engine) Search(ctx context.Context, queryText, tsqueryText string, opts SearchOptions) ([]store.ScoredChunk, *SearchTrace, error) {
	if opts.K <= 0 {
		opts.K = 20
	}
	if opts.Alpha == 0 {
		opts.Alpha = 0.5
	}

	start := time.Now()

	embeddings, err := e.embedder.Embed(ctx, []string{queryText})
	if err != nil {
		return nil, nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return nil, nil, fmt.Errorf("retrieval: embedding service returned no vector")
	}

	results, err := e.store.HybridSearch(ctx, embeddings[0], tsqueryText, opts.Alpha, opts.K, opts.AllowedUniverses, opts.Hierarchical)
	if err != nil {
		return nil, nil, fmt.Errorf("hybrid search: %w", err)
	}

	if opts.Hierarchical {
		results, err = e.resolveParents(ctx, results)
		if err != nil {
			slog.Warn("retrieval: parent resolution failed, returning child content", "error", err)
		}
	}

	trace := &SearchTrace{
		ResultCount:  len(results),
		Alpha:        opts.Alpha,
		Hierarchical: opts.Hierarchical,
		TSQueryEmpty: tsqueryText == "",
		ElapsedMs:    time.Since(start).Milliseconds(),
	}
	return results, trace, nil
}

// resolveParents substitutes each child chunk's content with its parent's,
// keeping the child's rank and scores, and deduplicates by parent id so a
// parent whose multiple children matched contributes one context block.
func (e *Engine) resolveParents(ctx context.Context, results []store.ScoredChunk) ([]store.ScoredChunk, error) {
	parents, err := e.store.ResolveParents(ctx, results)
	if err != nil {
		return results, err
	}

	seenParent := make(map[uuid.UUID]bool)
	out := make([]store.ScoredChunk, 0, len(results))
	for _, r := range results {
		if r.ParentChunkID == nil {
			out = append(out, r)
			continue
		}
		if seenParent[*r.ParentChunkID] {
			continue
		}
		parent, ok := parents[*r.ParentChunkID]
		if !ok {
			out = append(out, r)
			continue
		}
		seenParent[*r.ParentChunkID] = true
		r.Content = parent.Content
		r.TokenCount = parent.TokenCount
		r.SectionHierarchy = parent.SectionHierarchy
		r.HeadingContext = parent.HeadingContext
		out = append(out, r)
	}
	return out, nil
}
