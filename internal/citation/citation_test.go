package citation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"juris-rag/internal/models"
)

type signingPresigner struct {
	calls int
	err   error
}

func (p *signingPresigner) Presign(_ context.Context, key string, _ time.Duration) (string, error) {
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	return fmt.Sprintf("https://Storage.GoogleAPIs.com/juris/%s?X-Goog-Signature=%04d&X-Goog-Expires=900", key, p.calls), nil
}

func TestCanonicalURL(t *testing.T) {
	tests := map[string]string{
		"HTTPS://Juba.SCBA.gov.ar/Fallo?id=1#p2":      "https://juba.scba.gov.ar/Fallo",
		"https://juba.scba.gov.ar/Fallo":              "https://juba.scba.gov.ar/Fallo",
		"https://storage.googleapis.com/b/k.pdf?sig=": "https://storage.googleapis.com/b/k.pdf",
		"  not a url?x=1 ":                            "not a url",
	}
	for in, want := range tests {
		assert.Equal(t, want, CanonicalURL(in), in)
	}
}

func TestCitations_SignedLinksToSameObjectCollapse(t *testing.T) {
	p := &signingPresigner{}
	d := New(p, 15*time.Minute)

	cites := d.Citations(context.Background(), []models.Hit{
		{DocID: "a", Title: "Pérez", StorageKey: "fallos/a.pdf", Score: 0.9},
		{DocID: "b", Title: "Pérez (copia)", StorageKey: "fallos/a.pdf", Score: 0.8},
	})

	require.Len(t, cites, 1)
	assert.Equal(t, 2, p.calls)
	assert.Equal(t, "Pérez", cites[0].Title)
	assert.Contains(t, cites[0].URL, "X-Goog-Signature=0001")
}

func TestCitations_FirstSeenWinsAndNoDuplicateURLs(t *testing.T) {
	date := time.Date(2022, 4, 1, 0, 0, 0, 0, time.UTC)
	d := New(&signingPresigner{}, time.Minute)

	cites := d.Citations(context.Background(), []models.Hit{
		{DocID: "a", ChunkID: 0, Title: "A", Court: "Cámara", PublishedOn: &date, OriginLink: "https://juba.example/a", Score: 0.95},
		{DocID: "a", ChunkID: 1, Title: "A", OriginLink: "https://juba.example/a", Score: 0.90},
		{DocID: "c", Title: "C", OriginLink: "HTTPS://JUBA.example/a?utm=x", Score: 0.85},
		{DocID: "b", Title: "B", StorageKey: "fallos/b.pdf", Score: 0.80},
	})

	require.Len(t, cites, 2)
	assert.Equal(t, "A", cites[0].Title)
	assert.Equal(t, "Cámara", cites[0].Court)
	assert.Equal(t, &date, cites[0].Date)
	assert.Equal(t, 0.95, cites[0].Score)
	assert.Equal(t, "B", cites[1].Title)

	seen := map[string]bool{}
	for _, c := range cites {
		canonical := CanonicalURL(c.URL)
		assert.False(t, seen[canonical])
		seen[canonical] = true
	}
}

func TestCitations_UnresolvableHitsAreDropped(t *testing.T) {
	hits := []models.Hit{
		{DocID: "a", Title: "Sin enlace"},
		{DocID: "a", ChunkID: 1, Title: "Sin enlace"},
		{DocID: "b", Title: "Firma falla", StorageKey: "fallos/b.pdf"},
	}

	cites := New(nil, time.Minute).Citations(context.Background(), hits)
	assert.Empty(t, cites)
	assert.NotNil(t, cites)

	p := &signingPresigner{err: errors.New("no signer")}
	cites = New(p, time.Minute).Citations(context.Background(), hits)
	assert.Empty(t, cites)
	assert.Equal(t, 1, p.calls)
}
