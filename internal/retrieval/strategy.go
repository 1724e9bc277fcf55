package retrieval

import (
	"context"
	"sort"

	"juris-rag/internal/config"
	"juris-rag/internal/models"
)

const (
	TierStrict     = "strict"
	TierStrictSoft = "strict_soft"
	TierVector     = "vector"
)

// ChunkSearcher is the chunk store query primitive.
type ChunkSearcher interface {
	SearchChunks(ctx context.Context, q models.ChunkQuery) ([]models.Hit, error)
}

// Query is a retrieval request after the question has been embedded and its
// full-text expression derived.
type Query struct {
	Text      string
	TextExpr  string
	Embedding []float32
	Filters   models.Filters
	K         int
}

// Strategy is one tier of the cascade.
type Strategy interface {
	Name() string
	Search(ctx context.Context, store ChunkSearcher, q Query) ([]models.Hit, error)
}

// Tier is a Strategy configured by which filters it applies and how it cuts
// the candidates returned by the store.
type Tier struct {
	name            string
	textSearch      bool
	jurisdiction    bool
	domainAndCourt  bool
	minScore        float64
	minChars        int
	maxPerDoc       int
	fetchMultiplier int
}

// StrictTier requires a full-text match and every metadata filter.
func StrictTier(cfg config.RetrievalConfig) *Tier {
	return &Tier{
		name:            TierStrict,
		textSearch:      true,
		jurisdiction:    true,
		domainAndCourt:  true,
		minScore:        cfg.StrictMinScore,
		minChars:        cfg.StrictMinChars,
		maxPerDoc:       cfg.MaxPerDoc,
		fetchMultiplier: cfg.FetchMultiplier,
	}
}

// SoftTier is StrictTier without the jurisdiction filter and with lower floors.
func SoftTier(cfg config.RetrievalConfig) *Tier {
	return &Tier{
		name:            TierStrictSoft,
		textSearch:      true,
		domainAndCourt:  true,
		minScore:        cfg.SoftMinScore,
		minChars:        cfg.SoftMinChars,
		maxPerDoc:       cfg.MaxPerDoc,
		fetchMultiplier: cfg.FetchMultiplier,
	}
}

// VectorTier ranks purely by similarity, filtering only by length and date range.
func VectorTier(cfg config.RetrievalConfig) *Tier {
	return &Tier{
		name:            TierVector,
		minChars:        cfg.VectorMinChars,
		maxPerDoc:       cfg.MaxPerDoc,
		fetchMultiplier: cfg.FetchMultiplier,
	}
}

// DefaultTiers returns the cascade in precision-first order.
func DefaultTiers(cfg config.RetrievalConfig) []Strategy {
	return []Strategy{StrictTier(cfg), SoftTier(cfg), VectorTier(cfg)}
}

func (t *Tier) Name() string { return t.name }

func (t *Tier) UsesTextSearch() bool { return t.textSearch }

func (t *Tier) Search(ctx context.Context, store ChunkSearcher, q Query) ([]models.Hit, error) {
	cq := models.ChunkQuery{
		Embedding: q.Embedding,
		From:      q.Filters.From,
		To:        q.Filters.To,
		MinChars:  t.minChars,
		Limit:     q.K * max(t.fetchMultiplier, 1),
	}
	if t.textSearch {
		cq.TextQuery = q.TextExpr
	}
	if t.domainAndCourt {
		cq.Domain = q.Filters.Domain
		cq.Court = q.Filters.Court
	}
	if t.jurisdiction {
		cq.Jurisdiction = q.Filters.Jurisdiction
	}

	hits, err := store.SearchChunks(ctx, cq)
	if err != nil {
		return nil, err
	}
	return Select(hits, t.minScore, t.maxPerDoc, q.K), nil
}

// Select keeps hits scoring at least minScore, at most maxPerDoc per document,
// and the first k of those. Hits are ordered by non-increasing score; equal
// scores keep their scan order.
func Select(hits []models.Hit, minScore float64, maxPerDoc, k int) []models.Hit {
	ordered := make([]models.Hit, len(hits))
	copy(ordered, hits)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Score > ordered[j].Score })

	perDoc := make(map[string]int)
	var out []models.Hit
	for _, h := range ordered {
		if h.Score < minScore {
			continue
		}
		if maxPerDoc > 0 && perDoc[h.DocID] >= maxPerDoc {
			continue
		}
		perDoc[h.DocID]++
		out = append(out, h)
		if k > 0 && len(out) >= k {
			break
		}
	}
	return out
}
