package chunker

import (
	"strings"

	"github.com/ragfab/core/parser"
	"github.com/ragfab/core/store"
)

// hybridChunk respects document structure boundaries (headings, paragraphs)
// and targets a document-size-adaptive token budget with 400-token overlap.
// Every emitted chunk carries a "[Document: ...] [Section: ...]" prefix so
// the embedded and stored text match exactly.
func (c *Chunker) hybridChunk(sections []parser.Section) []store.ChunkInput {
	target := targetTokensFor(countWords(sections))

	var out []store.ChunkInput
	index := 0
	var walk func(sec parser.Section, hierarchy []string)
	walk = func(sec parser.Section, hierarchy []string) {
		stack := hierarchy
		if sec.Heading != "" {
			stack = append(append([]string{}, hierarchy...), sec.Heading)
		}

		if content := sanitize(strings.TrimSpace(sec.Content)); content != "" {
			for _, piece := range c.packToBudget(content, target) {
				out = append(out, c.newChunk(piece, stack, index))
				index++
			}
		}

		for _, child := range sec.Children {
			walk(child, stack)
		}
	}
	for _, s := range sections {
		walk(s, nil)
	}
	return out
}

func (c *Chunker) newChunk(content string, hierarchy []string, index int) store.ChunkInput {
	prefixed := enrichedContent(c.cfg.Title, hierarchy, content)
	return store.ChunkInput{
		Chunk: store.Chunk{
			ChunkIndex:       index,
			Content:          prefixed,
			TokenCount:       c.counter.Count(prefixed),
			SectionHierarchy: hierarchy,
			HeadingContext:   strings.Join(hierarchy, " > "),
			DocumentPosition: float64(index),
			ChunkLevel:       store.ChunkLevelUnlabeled,
		},
	}
}

func enrichedContent(title string, hierarchy []string, content string) string {
	var b strings.Builder
	b.WriteString("[Document: ")
	b.WriteString(title)
	b.WriteString("] [Section: ")
	b.WriteString(strings.Join(hierarchy, " > "))
	b.WriteString("]\n\n")
	b.WriteString(content)
	return b.String()
}

// packToBudget packs paragraphs of text into pieces of about targetTokens,
// sharing hybridOverlapTokens worth of trailing text between consecutive
// pieces. A piece that opens with the overlap carried from its predecessor
// can exceed targetTokens by up to hybridOverlapTokens. Splits only ever
// happen at paragraph (or, for an over-long paragraph, sentence) boundaries.
func (c *Chunker) packToBudget(text string, targetTokens int) []string {
	if c.counter.Count(text) <= targetTokens {
		return []string{text}
	}

	paragraphs := splitParagraphs(text)
	var pieces []string
	var current strings.Builder
	overlap := ""

	flush := func() {
		if current.Len() == 0 {
			return
		}
		piece := strings.TrimSpace(current.String())
		pieces = append(pieces, piece)
		overlap = c.counter.Tail(piece, hybridOverlapTokens)
		current.Reset()
	}

	startWithOverlap := func() {
		if overlap != "" {
			current.WriteString(overlap)
			current.WriteString("\n\n")
		}
	}

	startWithOverlap()
	for _, para := range paragraphs {
		if c.counter.Count(para) > targetTokens {
			flush()
			for _, sentPiece := range c.packSentences(para, targetTokens, overlap) {
				pieces = append(pieces, sentPiece)
			}
			if len(pieces) > 0 {
				overlap = c.counter.Tail(pieces[len(pieces)-1], hybridOverlapTokens)
			}
			startWithOverlap()
			continue
		}

		candidate := current.String()
		if candidate != "" {
			candidate += "\n\n"
		}
		candidate += para
		if c.counter.Count(candidate) > targetTokens && current.Len() > 0 {
			flush()
			startWithOverlap()
			current.WriteString(para)
			continue
		}
		current.Reset()
		current.WriteString(candidate)
	}
	flush()

	return pieces
}

// packSentences handles a single paragraph that alone exceeds targetTokens.
func (c *Chunker) packSentences(text string, targetTokens int, initialOverlap string) []string {
	sentences := splitSentences(text)
	var pieces []string
	var current strings.Builder

	startWithOverlap := func() {
		if initialOverlap != "" {
			current.WriteString(initialOverlap)
			current.WriteString(" ")
			initialOverlap = ""
		}
	}
	startWithOverlap()

	for _, sent := range sentences {
		candidate := current.String()
		if candidate != "" {
			candidate += " "
		}
		candidate += sent
		if c.counter.Count(candidate) > targetTokens && current.Len() > 0 {
			pieces = append(pieces, strings.TrimSpace(current.String()))
			tail := c.counter.Tail(current.String(), hybridOverlapTokens)
			current.Reset()
			if tail != "" {
				current.WriteString(tail)
				current.WriteString(" ")
			}
			current.WriteString(sent)
			continue
		}
		current.Reset()
		current.WriteString(candidate)
	}
	if current.Len() > 0 {
		pieces = append(pieces, strings.TrimSpace(current.String()))
	}
	return pieces
}

// splitSentences is a simple tokenizer that splits on period/question
// mark/exclamation followed by whitespace or end of string.
func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		cur.WriteRune(runes[i])
		if runes[i] == '.' || runes[i] == '?' || runes[i] == '!' {
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
				if s := strings.TrimSpace(cur.String()); s != "" {
					sentences = append(sentences, s)
				}
				cur.Reset()
			}
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
