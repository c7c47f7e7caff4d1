package chunker

import (
	"strings"

	"github.com/ragfab/core/store"
)

// fallbackChunk is used when structural parsing produced no sections at
// all: split on blank-line paragraph boundaries only, never at an
// arbitrary character offset, then pack paragraphs to the same
// size-adaptive budget as the hybrid chunker.
func (c *Chunker) fallbackChunk(rawContent string) []store.ChunkInput {
	content := sanitize(strings.TrimSpace(rawContent))
	if content == "" {
		return nil
	}

	target := targetTokensFor(len(splitWords(content)))
	pieces := c.packToBudget(content, target)

	out := make([]store.ChunkInput, 0, len(pieces))
	for i, piece := range pieces {
		prefixed := enrichedContent(c.cfg.Title, nil, piece)
		out = append(out, store.ChunkInput{
			Chunk: store.Chunk{
				ChunkIndex:       i,
				Content:          prefixed,
				TokenCount:       c.counter.Count(prefixed),
				DocumentPosition: float64(i),
				ChunkLevel:       store.ChunkLevelUnlabeled,
			},
		})
	}
	return out
}
