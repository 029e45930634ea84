package chunker

import (
	"regexp"
	"strings"

	"github.com/xhad/dealwise/internal/models"
)

type ChunkerConfig struct {
	MinTokens     int
	MaxTokens     int
	OverlapTokens int
}

// Chunker splits a markdown document body into retrieval-sized chunks. It is
// deterministic: the same input always yields the same chunks.
type Chunker struct {
	config    ChunkerConfig
	tokenizer Tokenizer
}

var (
	headingRe  = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*$`)
	listItemRe = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+`)
	fenceRe    = regexp.MustCompile("^\\s*(```|~~~)")
)

func NewWithConfig(config ChunkerConfig, tokenizer Tokenizer) *Chunker {
	if config.MinTokens == 0 {
		config.MinTokens = 64
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 512
	}
	if config.OverlapTokens == 0 {
		config.OverlapTokens = 64
	}
	if tokenizer == nil {
		tokenizer = HeuristicTokenizer{}
	}

	return &Chunker{
		config:    config,
		tokenizer: tokenizer,
	}
}

// section is a run of lines under one heading ancestry.
type section struct {
	content    string
	breadcrumb []string
}

// Chunk splits a document body into ordered chunks. Sections are cut at
// heading boundaries; oversized sections are split at blank-line paragraph
// boundaries, except atomic blocks (fenced code, mostly-list paragraphs)
// which are never split. A final pass prefixes every chunk but the first
// with up to OverlapTokens of the previous chunk's tail.
func (c *Chunker) Chunk(body string) []models.Chunk {
	sections := c.splitSections(body)

	var chunks []models.Chunk
	for _, sec := range sections {
		chunks = append(chunks, c.chunkSection(sec)...)
	}

	for i := range chunks {
		chunks[i].Index = i
	}

	c.applyOverlap(chunks)

	return chunks
}

// splitSections cuts the body at markdown headings (levels 1-6), tracking the
// heading stack so each section knows its ancestry. The heading line itself
// stays in the section content.
func (c *Chunker) splitSections(body string) []section {
	lines := strings.Split(body, "\n")

	type stackEntry struct {
		level int
		title string
	}

	var (
		sections []section
		stack    []stackEntry
		current  []string
		inFence  bool
	)

	breadcrumb := func() []string {
		bc := make([]string, len(stack))
		for i, e := range stack {
			bc[i] = e.title
		}
		return bc
	}

	flush := func(bc []string) {
		content := strings.TrimRight(strings.Join(current, "\n"), "\n")
		if strings.TrimSpace(content) != "" {
			sections = append(sections, section{content: content, breadcrumb: bc})
		}
		current = nil
	}

	for _, line := range lines {
		if fenceRe.MatchString(line) {
			inFence = !inFence
		}

		m := headingRe.FindStringSubmatch(line)
		if m != nil && !inFence {
			flush(breadcrumb())

			level := len(m[1])
			for len(stack) > 0 && stack[len(stack)-1].level >= level {
				stack = stack[:len(stack)-1]
			}
			stack = append(stack, stackEntry{level: level, title: m[2]})
		}

		current = append(current, line)
	}
	flush(breadcrumb())

	return sections
}

// chunkSection emits one chunk when the section fits, otherwise greedily
// packs paragraphs up to MaxTokens. A trailing chunk below MinTokens folds
// back into its predecessor when the merge still fits.
func (c *Chunker) chunkSection(sec section) []models.Chunk {
	if c.tokenizer.CountTokens(sec.content) <= c.config.MaxTokens {
		return []models.Chunk{{
			Content:    sec.content,
			TokenCount: c.tokenizer.CountTokens(sec.content),
			Breadcrumb: sec.breadcrumb,
		}}
	}

	var (
		chunks []models.Chunk
		buffer []string
		tokens int
	)

	emit := func(content string) {
		content = strings.TrimRight(content, "\n")
		if strings.TrimSpace(content) == "" {
			return
		}
		chunks = append(chunks, models.Chunk{
			Content:    content,
			TokenCount: c.tokenizer.CountTokens(content),
			Breadcrumb: sec.breadcrumb,
		})
	}

	flushBuffer := func() {
		if len(buffer) > 0 {
			emit(strings.Join(buffer, "\n\n"))
			buffer = nil
			tokens = 0
		}
	}

	for _, para := range splitParagraphs(sec.content) {
		paraTokens := c.tokenizer.CountTokens(para)

		if isAtomic(para) {
			// Atomic blocks are never split, even when oversized.
			flushBuffer()
			emit(para)
			continue
		}

		if paraTokens > c.config.MaxTokens {
			// Oversized prose paragraph: fall back to sentence packing so
			// only atomic blocks ever exceed MaxTokens.
			flushBuffer()
			for _, piece := range c.splitOversized(para) {
				emit(piece)
			}
			continue
		}

		if len(buffer) > 0 && tokens+paraTokens > c.config.MaxTokens {
			flushBuffer()
		}

		buffer = append(buffer, para)
		tokens += paraTokens
	}
	flushBuffer()

	if n := len(chunks); n >= 2 && chunks[n-1].TokenCount < c.config.MinTokens {
		merged := chunks[n-2].Content + "\n\n" + chunks[n-1].Content
		if mergedTokens := c.tokenizer.CountTokens(merged); mergedTokens <= c.config.MaxTokens {
			chunks[n-2].Content = merged
			chunks[n-2].TokenCount = mergedTokens
			chunks = chunks[:n-1]
		}
	}

	return chunks
}

// splitOversized packs the sentences of one oversized paragraph into pieces
// of at most MaxTokens each.
func (c *Chunker) splitOversized(para string) []string {
	sentences := splitSentences(para)

	var (
		pieces  []string
		current strings.Builder
	)

	for _, sentence := range sentences {
		if current.Len() > 0 {
			joined := current.String() + " " + sentence
			if c.tokenizer.CountTokens(joined) > c.config.MaxTokens {
				pieces = append(pieces, current.String())
				current.Reset()
			} else {
				current.Reset()
				current.WriteString(joined)
				continue
			}
		}
		current.WriteString(sentence)
	}
	if current.Len() > 0 {
		pieces = append(pieces, current.String())
	}

	return pieces
}

func splitSentences(text string) []string {
	enders := []string{". ", "! ", "? ", ".\n", "!\n", "?\n"}

	var sentences []string
	current := strings.Builder{}

	for i := 0; i < len(text); i++ {
		current.WriteByte(text[i])

		for _, ender := range enders {
			if strings.HasSuffix(current.String(), ender) {
				sentences = append(sentences, strings.TrimSpace(current.String()))
				current.Reset()
				break
			}
		}
	}

	if strings.TrimSpace(current.String()) != "" {
		sentences = append(sentences, strings.TrimSpace(current.String()))
	}

	return sentences
}

// splitParagraphs splits at blank lines, keeping fenced code blocks whole
// regardless of blank lines inside the fence.
func splitParagraphs(content string) []string {
	lines := strings.Split(content, "\n")

	var (
		paragraphs []string
		current    []string
		inFence    bool
	)

	flush := func() {
		para := strings.Join(current, "\n")
		if strings.TrimSpace(para) != "" {
			paragraphs = append(paragraphs, para)
		}
		current = nil
	}

	for _, line := range lines {
		if fenceRe.MatchString(line) {
			if !inFence {
				// A fence opens its own paragraph.
				flush()
			}
			inFence = !inFence
			current = append(current, line)
			if !inFence {
				flush()
			}
			continue
		}

		if !inFence && strings.TrimSpace(line) == "" {
			flush()
			continue
		}

		current = append(current, line)
	}
	flush()

	return paragraphs
}

// isAtomic reports whether a paragraph must never be split: fenced code, or
// more than half of its lines look like list items.
func isAtomic(para string) bool {
	if fenceRe.MatchString(para) {
		return true
	}

	lines := strings.Split(para, "\n")
	total, listLines := 0, 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		total++
		if listItemRe.MatchString(line) {
			listLines++
		}
	}

	return total > 0 && listLines*2 > total
}

// applyOverlap prefixes every chunk but the first with up to OverlapTokens
// pulled from the tail of the previous chunk, walking backward line by line,
// and recomputes token counts.
func (c *Chunker) applyOverlap(chunks []models.Chunk) {
	if c.config.OverlapTokens <= 0 {
		return
	}

	for i := len(chunks) - 1; i >= 1; i-- {
		prevLines := strings.Split(chunks[i-1].Content, "\n")

		var tail []string
		for j := len(prevLines) - 1; j >= 0; j-- {
			candidate := append([]string{prevLines[j]}, tail...)
			if c.tokenizer.CountTokens(strings.Join(candidate, "\n")) > c.config.OverlapTokens {
				break
			}
			tail = candidate
		}

		for len(tail) > 0 && strings.TrimSpace(tail[0]) == "" {
			tail = tail[1:]
		}
		overlap := strings.Join(tail, "\n")
		if strings.TrimSpace(overlap) == "" {
			continue
		}

		chunks[i].Overlap = overlap
		chunks[i].Continuation = true
		chunks[i].TokenCount = c.tokenizer.CountTokens(chunks[i].Text())
	}
}
