package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"juris-rag/internal/config"
	"juris-rag/internal/models"
)

type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type Options struct {
	// Strict runs the full cascade. When false only tiers without a full-text
	// requirement run.
	Strict bool
	K      int
}

// Result carries the hits of the first tier that produced any.
type Result struct {
	Hits       []models.Hit `json:"-"`
	Tier       string       `json:"tier"`
	TiersTried []string     `json:"tiers_tried"`
	TextQuery  string       `json:"text_query"`
}

// Engine runs the retrieval cascade. Tiers execute sequentially and the first
// non-empty tier wins.
type Engine struct {
	store    ChunkSearcher
	embedder QueryEmbedder
	tiers    []Strategy
	terms    *TermExtractor
	k        int
}

// NewEngine builds an engine over store. Without explicit tiers the default
// strict, strict_soft, vector cascade is used.
func NewEngine(cfg config.RetrievalConfig, store ChunkSearcher, embedder QueryEmbedder, tiers ...Strategy) *Engine {
	if len(tiers) == 0 {
		tiers = DefaultTiers(cfg)
	}
	return &Engine{store: store, embedder: embedder, tiers: tiers, terms: NewTermExtractor(cfg), k: cfg.K}
}

func (e *Engine) Search(ctx context.Context, query string, filters models.Filters, opts Options) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", models.ErrInvalidInput)
	}
	if filters.From != nil && filters.To != nil && filters.From.After(*filters.To) {
		return nil, fmt.Errorf("%w: date range starts after it ends", models.ErrInvalidInput)
	}

	vec, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	k := opts.K
	if k <= 0 {
		k = e.k
	}
	q := Query{Text: query, TextExpr: e.terms.Expression(query), Embedding: vec, Filters: filters, K: k}
	res := &Result{TextQuery: q.TextExpr}

	for _, tier := range e.tiers {
		if !opts.Strict {
			if ts, ok := tier.(interface{ UsesTextSearch() bool }); ok && ts.UsesTextSearch() {
				continue
			}
		}
		res.TiersTried = append(res.TiersTried, tier.Name())

		hits, err := tier.Search(ctx, e.store, q)
		if err != nil {
			return nil, fmt.Errorf("tier %s: %w", tier.Name(), err)
		}
		log.Debug().Str("tier", tier.Name()).Int("hits", len(hits)).Msg("Retrieval tier finished")
		if len(hits) > 0 {
			res.Hits = hits
			res.Tier = tier.Name()
			return res, nil
		}
	}

	log.Info().Str("query_expr", q.TextExpr).Strs("tiers", res.TiersTried).Msg("No evidence found")
	return res, nil
}
