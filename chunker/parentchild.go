package chunker

import (
	"strings"

	"github.com/ragfab/core/parser"
	"github.com/ragfab/core/store"
)

// parentChildChunk produces parents of ~2000 tokens (no embedding, returned
// as context at retrieval time) and splits each into children of ~600
// tokens that carry the embedding and parent_chunk_id. Used for long
// narrative text where structural boundaries are too coarse to chunk
// directly.
func (c *Chunker) parentChildChunk(sections []parser.Section) []store.ChunkInput {
	var flat strings.Builder
	var hierarchy []string
	var walk func(sec parser.Section, stack []string)
	walk = func(sec parser.Section, stack []string) {
		if sec.Heading != "" {
			stack = append(append([]string{}, stack...), sec.Heading)
		}
		if content := sanitize(strings.TrimSpace(sec.Content)); content != "" {
			if flat.Len() > 0 {
				flat.WriteString("\n\n")
			}
			flat.WriteString(content)
			hierarchy = stack
		}
		for _, child := range sec.Children {
			walk(child, stack)
		}
	}
	for _, s := range sections {
		walk(s, nil)
	}

	parentTexts := c.packToBudgetNoOverlap(flat.String(), parentTargetTokens)

	var out []store.ChunkInput
	index := 0
	for _, parentText := range parentTexts {
		parentIdx := index
		out = append(out, store.ChunkInput{
			Chunk: store.Chunk{
				ChunkIndex:       index,
				Content:          parentText,
				TokenCount:       c.counter.Count(parentText),
				SectionHierarchy: hierarchy,
				HeadingContext:   strings.Join(hierarchy, " > "),
				DocumentPosition: float64(index),
				ChunkLevel:       store.ChunkLevelParent,
			},
		})
		index++

		for _, childText := range c.packToBudgetNoOverlap(parentText, childTargetTokens) {
			pi := parentIdx
			out = append(out, store.ChunkInput{
				Chunk: store.Chunk{
					ChunkIndex:       index,
					Content:          childText,
					TokenCount:       c.counter.Count(childText),
					SectionHierarchy: hierarchy,
					HeadingContext:   strings.Join(hierarchy, " > "),
					DocumentPosition: float64(index),
					ChunkLevel:       store.ChunkLevelChild,
				},
				ParentIndex: &pi,
			})
			index++
		}
	}
	return out
}

// packToBudgetNoOverlap packs paragraphs into pieces bounded by
// targetTokens with no overlap, used for parent-child splitting (the
// 400-token overlap rule applies only to the hybrid chunker).
func (c *Chunker) packToBudgetNoOverlap(text string, targetTokens int) []string {
	if c.counter.Count(text) <= targetTokens {
		return []string{strings.TrimSpace(text)}
	}

	paragraphs := splitParagraphs(text)
	var pieces []string
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		pieces = append(pieces, strings.TrimSpace(current.String()))
		current.Reset()
	}

	for _, para := range paragraphs {
		if c.counter.Count(para) > targetTokens {
			flush()
			pieces = append(pieces, c.packSentences(para, targetTokens, "")...)
			continue
		}
		candidate := current.String()
		if candidate != "" {
			candidate += "\n\n"
		}
		candidate += para
		if c.counter.Count(candidate) > targetTokens && current.Len() > 0 {
			flush()
			current.WriteString(para)
			continue
		}
		current.Reset()
		current.WriteString(candidate)
	}
	flush()
	return pieces
}
