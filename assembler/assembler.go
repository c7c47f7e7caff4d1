// Package assembler turns ranked candidates from package retrieval into the
// context blocks and source snapshot the orchestrator hands the LLM:
// optional cross-encoder reranking, quality gating against recorded
// chunk-quality scores, and adjacent-chunk expansion.
package assembler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/ragfab/core/reranker"
	"github.com/ragfab/core/store"
)

// QualityStore is the subset of *store.Store quality gating depends on.
type QualityStore interface {
	GetChunkQuality(ctx context.Context, chunkID uuid.UUID) (store.ChunkQualityScore, error)
}

// AdjacencyStore is the subset of *store.Store adjacent-chunk expansion
// depends on.
type AdjacencyStore interface {
	GetChunksByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]store.Chunk, error)
}

// Reranker is satisfied by *reranker.Client; an interface so tests can fake
// the cross-encoder call.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []reranker.Document, topK int) ([]reranker.Reranked, error)
}

// Config bounds assembly behavior; zero-value Config uses the documented
// defaults.
type Config struct {
	RerankEnabled     bool
	RerankInitialK    int // default 20
	RerankReturnK     int // default 5
	AdjacentChunks    bool
	QualityThreshold  float64 // default 0.3
	SignificanceFloor int     // default 3
}

func (c Config) withDefaults() Config {
	if c.RerankInitialK <= 0 {
		c.RerankInitialK = 20
	}
	if c.RerankReturnK <= 0 {
		c.RerankReturnK = 5
	}
	if c.QualityThreshold <= 0 {
		c.QualityThreshold = 0.3
	}
	if c.SignificanceFloor <= 0 {
		c.SignificanceFloor = 3
	}
	return c
}

// ContextBlock is one passage ready to inject into the LLM prompt, already
// expanded with adjacent chunks if that step ran.
type ContextBlock struct {
	ChunkID uuid.UUID
	Content string
}

// Assembler runs the rerank/gate/expand pipeline.
type Assembler struct {
	quality   QualityStore
	adjacency AdjacencyStore
	rerank    Reranker
}

// New returns an Assembler. rerank may be nil when reranking is globally
// unavailable; Assemble then skips step 1 regardless of cfg.RerankEnabled.
func New(quality QualityStore, adjacency AdjacencyStore, rerank Reranker) *Assembler {
	return &Assembler{quality: quality, adjacency: adjacency, rerank: rerank}
}

const adjacentSeparator = "\n\n---\n\n"

// Assemble runs the three optional steps over candidates (already ordered
// by the retrieval engine's combined score) and returns the context blocks
// to inject into the prompt plus the source snapshot for attribution.
func (a *Assembler) Assemble(ctx context.Context, query string, candidates []store.ScoredChunk, cfg Config) ([]ContextBlock, []store.SourceSnapshot, error) {
	cfg = cfg.withDefaults()

	ranked := candidates
	if cfg.RerankEnabled && a.rerank != nil {
		ranked = a.rerankCandidates(ctx, query, candidates, cfg)
	}

	gated := a.gateByQuality(ctx, ranked, cfg)

	blocks := make([]ContextBlock, 0, len(gated))
	sources := make([]store.SourceSnapshot, 0, len(gated))
	for _, c := range gated {
		content := c.Content
		if cfg.AdjacentChunks {
			content = a.expandAdjacent(ctx, c)
		}
		blocks = append(blocks, ContextBlock{ChunkID: c.ID, Content: content})
		sources = append(sources, store.SourceSnapshot{
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			Similarity: c.VectorSimilarity,
			BM25:       c.BM25Score,
			Combined:   c.Combined,
		})
	}
	return blocks, sources, nil
}

// rerankCandidates submits the top RerankInitialK candidates to the
// cross-encoder and returns them reordered by its score, truncated to
// RerankReturnK. On reranker failure candidates keep their retrieval order,
// truncated to RerankReturnK.
func (a *Assembler) rerankCandidates(ctx context.Context, query string, candidates []store.ScoredChunk, cfg Config) []store.ScoredChunk {
	initial := candidates
	if len(initial) > cfg.RerankInitialK {
		initial = initial[:cfg.RerankInitialK]
	}

	docs := make([]reranker.Document, len(initial))
	byID := make(map[string]store.ScoredChunk, len(initial))
	for i, c := range initial {
		docs[i] = reranker.Document{ChunkID: c.ID.String(), Content: c.Content}
		byID[c.ID.String()] = c
	}

	reordered, err := a.rerank.Rerank(ctx, query, docs, cfg.RerankReturnK)
	if err != nil {
		slog.Warn("assembler: reranker failed, keeping retrieval order", "error", err)
		if len(candidates) > cfg.RerankReturnK {
			return candidates[:cfg.RerankReturnK]
		}
		return candidates
	}

	out := make([]store.ScoredChunk, 0, len(reordered))
	for _, r := range reordered {
		if c, ok := byID[r.ChunkID]; ok {
			out = append(out, c)
		}
	}
	return out
}

// gateByQuality drops any chunk that is blacklisted, or whose satisfaction
// rate is below threshold with enough appearances for the rate to be
// meaningful. Chunks with insufficient data always pass through.
func (a *Assembler) gateByQuality(ctx context.Context, candidates []store.ScoredChunk, cfg Config) []store.ScoredChunk {
	out := make([]store.ScoredChunk, 0, len(candidates))
	for _, c := range candidates {
		quality, err := a.quality.GetChunkQuality(ctx, c.ID)
		if err != nil {
			slog.Warn("assembler: quality lookup failed, keeping chunk", "chunk_id", c.ID, "error", err)
			out = append(out, c)
			continue
		}
		if quality.Blacklisted {
			continue
		}
		if rate, hasData := quality.SatisfactionRate(); hasData {
			if rate < cfg.QualityThreshold && quality.Appearances >= cfg.SignificanceFloor {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

// expandAdjacent concatenates the chunk's prev/next siblings (by document
// order) around its own content. The expanded block is never re-embedded
// or re-ranked — it only widens what the LLM reads.
func (a *Assembler) expandAdjacent(ctx context.Context, c store.ScoredChunk) string {
	var ids []uuid.UUID
	if c.PrevChunkID != nil {
		ids = append(ids, *c.PrevChunkID)
	}
	if c.NextChunkID != nil {
		ids = append(ids, *c.NextChunkID)
	}
	if len(ids) == 0 {
		return c.Content
	}

	siblings, err := a.adjacency.GetChunksByIDs(ctx, ids)
	if err != nil {
		slog.Warn("assembler: adjacent-chunk fetch failed, using chunk alone", "chunk_id", c.ID, "error", err)
		return c.Content
	}

	var parts []string
	if c.PrevChunkID != nil {
		if prev, ok := siblings[*c.PrevChunkID]; ok {
			parts = append(parts, prev.Content)
		}
	}
	parts = append(parts, c.Content)
	if c.NextChunkID != nil {
		if next, ok := siblings[*c.NextChunkID]; ok {
			parts = append(parts, next.Content)
		}
	}
	return strings.Join(parts, adjacentSeparator)
}

// FormatSourcesHeader renders a header block identifying each source
// passage, used by the orchestrator's tool result text.
func FormatSourcesHeader(blocks []ContextBlock) string {
	var b strings.Builder
	for i, block := range blocks {
		fmt.Fprintf(&b, "[Source %d]\n%s\n\n", i+1, block.Content)
	}
	return b.String()
}
