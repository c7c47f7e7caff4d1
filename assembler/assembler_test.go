package assembler

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/ragfab/core/reranker"
	"github.com/ragfab/core/store"
)

type fakeQualityStore struct {
	scores map[uuid.UUID]store.ChunkQualityScore
}

func (f *fakeQualityStore) GetChunkQuality(ctx context.Context, chunkID uuid.UUID) (store.ChunkQualityScore, error) {
	if s, ok := f.scores[chunkID]; ok {
		return s, nil
	}
	return store.ChunkQualityScore{ChunkID: chunkID}, nil
}

type fakeAdjacencyStore struct {
	chunks map[uuid.UUID]store.Chunk
}

func (f *fakeAdjacencyStore) GetChunksByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]store.Chunk, error) {
	out := make(map[uuid.UUID]store.Chunk)
	for _, id := range ids {
		if c, ok := f.chunks[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

type fakeReranker struct {
	order []string
	err   error
}

func (f *fakeReranker) Rerank(ctx context.Context, query string, candidates []reranker.Document, topK int) ([]reranker.Reranked, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []reranker.Reranked
	for _, id := range f.order {
		out = append(out, reranker.Reranked{ChunkID: id, Score: 1.0})
		if len(out) >= topK {
			break
		}
	}
	return out, nil
}

func newScored(id uuid.UUID, content string) store.ScoredChunk {
	return store.ScoredChunk{Chunk: store.Chunk{ID: id, Content: content}}
}

func TestAssembleQualityGateDropsBlacklisted(t *testing.T) {
	good := uuid.New()
	bad := uuid.New()
	candidates := []store.ScoredChunk{newScored(good, "good content"), newScored(bad, "bad content")}

	quality := &fakeQualityStore{scores: map[uuid.UUID]store.ChunkQualityScore{
		bad: {ChunkID: bad, Blacklisted: true},
	}}
	a := New(quality, &fakeAdjacencyStore{}, nil)

	blocks, sources, err := a.Assemble(context.Background(), "query", candidates, Config{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(blocks) != 1 || blocks[0].ChunkID != good {
		t.Fatalf("expected only the non-blacklisted chunk to survive, got %+v", blocks)
	}
	if len(sources) != 1 {
		t.Fatalf("expected 1 source snapshot, got %d", len(sources))
	}
}

func TestAssembleQualityGateDropsLowSatisfactionAboveFloor(t *testing.T) {
	lowQuality := uuid.New()
	candidates := []store.ScoredChunk{newScored(lowQuality, "content")}

	quality := &fakeQualityStore{scores: map[uuid.UUID]store.ChunkQualityScore{
		lowQuality: {ChunkID: lowQuality, PositiveCount: 1, NegativeCount: 9, Appearances: 10}, // rate 0.1
	}}
	a := New(quality, &fakeAdjacencyStore{}, nil)

	blocks, _, err := a.Assemble(context.Background(), "query", candidates, Config{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(blocks) != 0 {
		t.Fatalf("expected the low-satisfaction chunk to be dropped, got %+v", blocks)
	}
}

func TestAssembleQualityGateKeepsInsufficientData(t *testing.T) {
	sparse := uuid.New()
	candidates := []store.ScoredChunk{newScored(sparse, "content")}

	quality := &fakeQualityStore{scores: map[uuid.UUID]store.ChunkQualityScore{
		sparse: {ChunkID: sparse, PositiveCount: 0, NegativeCount: 1, Appearances: 1}, // rate 0, but appearances < floor 3
	}}
	a := New(quality, &fakeAdjacencyStore{}, nil)

	blocks, _, err := a.Assemble(context.Background(), "query", candidates, Config{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("expected the chunk with insufficient data to pass through, got %+v", blocks)
	}
}

func TestAssembleRerankReordersAndTruncates(t *testing.T) {
	a1, a2, a3 := uuid.New(), uuid.New(), uuid.New()
	candidates := []store.ScoredChunk{
		newScored(a1, "first by similarity"),
		newScored(a2, "second by similarity"),
		newScored(a3, "third by similarity"),
	}
	quality := &fakeQualityStore{scores: map[uuid.UUID]store.ChunkQualityScore{}}
	rr := &fakeReranker{order: []string{a3.String(), a1.String()}}
	a := New(quality, &fakeAdjacencyStore{}, rr)

	blocks, _, err := a.Assemble(context.Background(), "query", candidates, Config{
		RerankEnabled: true, RerankReturnK: 2,
	})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(blocks) != 2 || blocks[0].ChunkID != a3 || blocks[1].ChunkID != a1 {
		t.Fatalf("expected reranked order [a3, a1], got %+v", blocks)
	}
}

func TestAssembleRerankFailurePassesThroughUnchanged(t *testing.T) {
	a1, a2 := uuid.New(), uuid.New()
	candidates := []store.ScoredChunk{newScored(a1, "one"), newScored(a2, "two")}
	quality := &fakeQualityStore{scores: map[uuid.UUID]store.ChunkQualityScore{}}
	rr := &fakeReranker{err: context.DeadlineExceeded}
	a := New(quality, &fakeAdjacencyStore{}, rr)

	blocks, _, err := a.Assemble(context.Background(), "query", candidates, Config{RerankEnabled: true})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(blocks) != 2 || blocks[0].ChunkID != a1 || blocks[1].ChunkID != a2 {
		t.Fatalf("expected original order preserved on reranker failure, got %+v", blocks)
	}
}

func TestAssembleAdjacentExpansionConcatenatesInOrder(t *testing.T) {
	prevID, chunkID, nextID := uuid.New(), uuid.New(), uuid.New()
	scored := newScored(chunkID, "middle")
	scored.PrevChunkID = &prevID
	scored.NextChunkID = &nextID

	quality := &fakeQualityStore{scores: map[uuid.UUID]store.ChunkQualityScore{}}
	adjacency := &fakeAdjacencyStore{chunks: map[uuid.UUID]store.Chunk{
		prevID: {ID: prevID, Content: "before"},
		nextID: {ID: nextID, Content: "after"},
	}}
	a := New(quality, adjacency, nil)

	blocks, _, err := a.Assemble(context.Background(), "query", []store.ScoredChunk{scored}, Config{AdjacentChunks: true})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
	content := blocks[0].Content
	if !strings.Contains(content, "before") || !strings.Contains(content, "middle") || !strings.Contains(content, "after") {
		t.Fatalf("expanded content missing a part: %q", content)
	}
	if strings.Index(content, "before") > strings.Index(content, "middle") || strings.Index(content, "middle") > strings.Index(content, "after") {
		t.Fatalf("expanded content out of document order: %q", content)
	}
}

func TestAssembleNoExpansionWithoutFlag(t *testing.T) {
	prevID, chunkID := uuid.New(), uuid.New()
	scored := newScored(chunkID, "middle")
	scored.PrevChunkID = &prevID

	quality := &fakeQualityStore{scores: map[uuid.UUID]store.ChunkQualityScore{}}
	adjacency := &fakeAdjacencyStore{chunks: map[uuid.UUID]store.Chunk{
		prevID: {ID: prevID, Content: "before"},
	}}
	a := New(quality, adjacency, nil)

	blocks, _, err := a.Assemble(context.Background(), "query", []store.ScoredChunk{scored}, Config{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if blocks[0].Content != "middle" {
		t.Fatalf("expected unexpanded content when AdjacentChunks is false, got %q", blocks[0].Content)
	}
}

func TestFormatSourcesHeaderNumbersSources(t *testing.T) {
	blocks := []ContextBlock{{Content: "alpha"}, {Content: "beta"}}
	got := FormatSourcesHeader(blocks)
	if !strings.Contains(got, "[Source 1]") || !strings.Contains(got, "[Source 2]") {
		t.Errorf("header %q missing numbered source markers", got)
	}
}
