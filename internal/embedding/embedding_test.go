package embedding

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"juris-rag/internal/models"
)

type fakeProvider struct {
	dim     int
	calls   [][]string
	failOn  int
	shorten bool
}

func (f *fakeProvider) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, texts)
	if f.failOn > 0 && len(f.calls) == f.failOn {
		return nil, errors.New("rate limited")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, f.dim)
		v[0] = float32(len(texts[i]))
		out[i] = v
	}
	if f.shorten {
		out = out[:len(out)-1]
	}
	return out, nil
}

func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = strings.Repeat("a", i+1)
	}
	return out
}

func TestEmbed_BatchesAndKeepsOrder(t *testing.T) {
	p := &fakeProvider{dim: 4}
	c := New(p, 64, 4, nil)

	in := texts(130)
	vectors, err := c.Embed(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, vectors, 130)
	require.Len(t, p.calls, 3)
	assert.Len(t, p.calls[0], 64)
	assert.Len(t, p.calls[1], 64)
	assert.Len(t, p.calls[2], 2)
	for i, v := range vectors {
		assert.Equal(t, float32(len(in[i])), v[0])
	}
}

func TestEmbed_BatchFailureFailsWholeCall(t *testing.T) {
	p := &fakeProvider{dim: 4, failOn: 2}
	c := New(p, 2, 4, nil)

	vectors, err := c.Embed(context.Background(), texts(5))
	assert.Nil(t, vectors)
	assert.ErrorIs(t, err, models.ErrProviderFailure)
}

func TestEmbed_RejectsWrongShape(t *testing.T) {
	_, err := New(&fakeProvider{dim: 3}, 8, 4, nil).Embed(context.Background(), texts(2))
	assert.ErrorIs(t, err, models.ErrProviderFailure)

	_, err = New(&fakeProvider{dim: 4, shorten: true}, 8, 4, nil).Embed(context.Background(), texts(2))
	assert.ErrorIs(t, err, models.ErrProviderFailure)
}

func TestEmbedQuery(t *testing.T) {
	c := New(&fakeProvider{dim: 4}, 0, 0, nil)

	v, err := c.EmbedQuery(context.Background(), "despido")
	require.NoError(t, err)
	assert.Len(t, v, 4)

	vectors, err := c.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}
