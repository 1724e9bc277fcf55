package parser

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"juris-rag/internal/config"
	"juris-rag/internal/models"
)

const (
	defaultChunkSize    = 3500
	defaultChunkOverlap = 400
)

// Section is a labelled slice of a ruling. Start is the byte offset of Text
// within the full document text.
type Section struct {
	Label string
	Text  string
	Start int
}

// Chunker splits ruling text into sections and overlapping windows.
type Chunker struct {
	heading *regexp.Regexp
	labels  []string
	size    int
	overlap int
}

// NewChunker builds a chunker from the rag settings. A nil config falls back to
// the default window sizes and section labels.
func NewChunker(cfg *config.Config) *Chunker {
	if cfg == nil {
		cfg = config.Default()
	}
	size, overlap := cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = min(defaultChunkOverlap, size/2)
	}

	labels := append([]string(nil), cfg.RAG.SectionLabels...)
	// longest first so "Considerandos" wins over a "Considerando" label
	sort.SliceStable(labels, func(i, j int) bool { return len(labels[i]) > len(labels[j]) })

	c := &Chunker{labels: labels, size: size, overlap: overlap}
	if len(labels) > 0 {
		quoted := make([]string, len(labels))
		for i, l := range labels {
			quoted[i] = regexp.QuoteMeta(l)
		}
		c.heading = regexp.MustCompile(fmt.Sprintf(models.SectionHeadingRegex, strings.Join(quoted, "|")))
	}
	return c
}

type sectionState struct {
	label  string
	start  int
	result []Section
}

func (s *sectionState) flush(text string, end int) {
	if end <= s.start {
		return
	}
	body := text[s.start:end]
	if strings.TrimSpace(body) == "" {
		return
	}
	s.result = append(s.result, Section{Label: s.label, Text: body, Start: s.start})
}

// SplitSections cuts text at lines that open with a known section label. The
// heading line belongs to the section it opens; text before the first heading
// is labelled Body. Concatenating the Text of every section, whitespace-only
// gaps aside, gives back the input.
func (c *Chunker) SplitSections(text string) []Section {
	state := sectionState{label: models.BodySection}
	pos := 0
	for pos < len(text) {
		lineEnd := len(text)
		if nl := strings.IndexByte(text[pos:], '\n'); nl >= 0 {
			lineEnd = pos + nl + 1
		}
		if label := c.matchHeading(text[pos:lineEnd]); label != "" {
			state.flush(text, pos)
			state.label, state.start = label, pos
		}
		pos = lineEnd
	}
	state.flush(text, len(text))

	if len(state.result) == 0 {
		return []Section{{Label: models.BodySection, Text: text}}
	}
	return state.result
}

func (c *Chunker) matchHeading(line string) string {
	if c.heading == nil {
		return ""
	}
	m := c.heading.FindStringSubmatch(line)
	if m == nil {
		return ""
	}
	for _, l := range c.labels {
		if strings.EqualFold(l, m[1]) {
			return l
		}
	}
	return m[1]
}

type window struct {
	start, end int
}

// windows returns byte ranges of at most maxChars runes each, consecutive
// windows sharing overlap runes. A window end is pulled back to the last space,
// newline or period within its final tenth when one exists.
func windows(text string, maxChars, overlap int) []window {
	if text == "" || maxChars <= 0 {
		return nil
	}
	offs := make([]int, 0, utf8.RuneCountInString(text)+1)
	for i := range text {
		offs = append(offs, i)
	}
	n := len(offs)
	offs = append(offs, len(text))

	var out []window
	i := 0
	for i < n {
		j := min(i+maxChars, n)
		if j < n {
			lookBack := maxChars / 10
			for k := j - 1; k >= j-lookBack && k > i; k-- {
				if c := text[offs[k]]; c == ' ' || c == '\n' || c == '.' {
					j = k + 1
					break
				}
			}
		}
		out = append(out, window{start: offs[i], end: offs[j]})
		if j >= n {
			break
		}
		next := j - overlap
		if next <= i {
			next = i + 1
		}
		i = next
	}
	return out
}

// Chunks splits text into sections and windows each section. ChunkIDs are
// sequential from zero and spans are byte offsets into text, so
// text[SpanStart:SpanEnd] == Content for every chunk. Empty text yields no chunks.
func (c *Chunker) Chunks(docID, text string) []models.Chunk {
	if text == "" {
		return nil
	}

	var chunks []models.Chunk
	for _, sec := range c.SplitSections(text) {
		for _, w := range windows(sec.Text, c.size, c.overlap) {
			piece := sec.Text[w.start:w.end]
			if strings.TrimSpace(piece) == "" {
				continue
			}
			chunks = append(chunks, models.Chunk{
				DocID:     docID,
				ChunkID:   len(chunks),
				Section:   sec.Label,
				Content:   piece,
				SpanStart: sec.Start + w.start,
				SpanEnd:   sec.Start + w.end,
			})
		}
	}

	if len(chunks) == 0 {
		chunks = append(chunks, models.Chunk{
			DocID:   docID,
			Section: models.BodySection,
			Content: text,
			SpanEnd: len(text),
		})
	}
	return chunks
}
