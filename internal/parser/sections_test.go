package parser

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"juris-rag/internal/config"
	"juris-rag/internal/models"
)

const ruling = `CAUSA 12.345 "Pérez c/ Fisco s/ despido"
Sumario: despido indirecto, art. 80 LCT.
VISTOS: los autos caratulados.
CONSIDERANDOS:
I. Que la actora reclama la entrega del certificado de trabajo.
II. Que corresponde la multa del art. 80.
FALLO: Hacer lugar a la demanda.
`

func TestSplitSections(t *testing.T) {
	c := NewChunker(nil)
	sections := c.SplitSections(ruling)

	var labels []string
	for _, s := range sections {
		labels = append(labels, s.Label)
		assert.Equal(t, s.Text, ruling[s.Start:s.Start+len(s.Text)])
	}
	assert.Equal(t, []string{models.BodySection, "Sumario", "Vistos", "Considerandos", "Fallo"}, labels)
	assert.True(t, strings.HasPrefix(sections[3].Text, "CONSIDERANDOS:"))
}

func TestSplitSections_NoHeadings(t *testing.T) {
	sections := NewChunker(nil).SplitSections("texto libre sin encabezados")
	require.Len(t, sections, 1)
	assert.Equal(t, models.BodySection, sections[0].Label)
}

func TestWindows_OverlapAndCleanBreak(t *testing.T) {
	text := strings.Repeat("palabra ", 100)
	ws := windows(text, 100, 20)
	require.NotEmpty(t, ws)

	for i, w := range ws {
		assert.LessOrEqual(t, utf8.RuneCountInString(text[w.start:w.end]), 100)
		if i < len(ws)-1 {
			// ends on a space from the clean-break lookback
			assert.Equal(t, byte(' '), text[w.end-1])
			assert.Less(t, ws[i+1].start, w.end, "windows must overlap")
		}
	}
	assert.Equal(t, len(text), ws[len(ws)-1].end)
}

func TestWindows_MultibyteRunes(t *testing.T) {
	text := strings.Repeat("ñ", 250)
	ws := windows(text, 100, 10)
	for _, w := range ws {
		assert.True(t, utf8.ValidString(text[w.start:w.end]))
		assert.LessOrEqual(t, utf8.RuneCountInString(text[w.start:w.end]), 100)
	}
	assert.Equal(t, len(text), ws[len(ws)-1].end)
}

func TestChunks_SpansAndUniqueness(t *testing.T) {
	cfg := config.Default()
	cfg.RAG.ChunkSize = 60
	cfg.RAG.ChunkOverlap = 10
	c := NewChunker(cfg)

	chunks := c.Chunks("doc-1", ruling)
	require.NotEmpty(t, chunks)

	seen := map[string]bool{}
	for i, ch := range chunks {
		key := fmt.Sprintf("%s/%d", ch.DocID, ch.ChunkID)
		assert.False(t, seen[key], "duplicate chunk %s", key)
		seen[key] = true

		assert.Equal(t, i, ch.ChunkID)
		assert.GreaterOrEqual(t, ch.SpanStart, 0)
		assert.LessOrEqual(t, ch.SpanEnd, len(ruling))
		assert.Equal(t, ch.Content, ruling[ch.SpanStart:ch.SpanEnd])
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Content), 60)
	}
}

func TestChunks_EmptyAndFallback(t *testing.T) {
	c := NewChunker(nil)
	assert.Empty(t, c.Chunks("doc-1", ""))

	chunks := c.Chunks("doc-2", "   \n  ")
	require.Len(t, chunks, 1)
	assert.Equal(t, models.BodySection, chunks[0].Section)
	assert.Equal(t, "   \n  ", chunks[0].Content)
	assert.Equal(t, 0, chunks[0].SpanStart)
	assert.Equal(t, 6, chunks[0].SpanEnd)
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"2023-05-17", "2023-05-17"},
		{"17/05/2023", "2023-05-17"},
		{"17-05-2023", "2023-05-17"},
		{`"2023-05-17"`, "2023-05-17"},
		{"“17/05/2023”", "2023-05-17"},
		{"2023-05-17T10:00:00Z", "2023-05-17"},
		{"n/a", ""},
		{"Sin-Fecha", ""},
		{"null", ""},
		{"", ""},
		{"mayo de 2023", ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := ParseDate(tt.raw)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Format("2006-01-02"))
		})
	}
}
