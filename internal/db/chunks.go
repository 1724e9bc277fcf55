package db

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"juris-rag/internal/models"
)

// Store is the Postgres chunk and conversation store.
type Store struct {
	db       *bun.DB
	tsConfig string
}

// NewStore returns a store using tsConfig as the full-text search configuration.
func NewStore(db *bun.DB, tsConfig string) *Store {
	if tsConfig == "" {
		tsConfig = "simple"
	}
	return &Store{db: db, tsConfig: tsConfig}
}

// ReplaceChunks upserts doc and swaps its chunks in one transaction. The upsert
// takes the document row lock, so concurrent re-ingestion of the same document
// is serialized by postgres.
func (s *Store) ReplaceChunks(ctx context.Context, doc models.SourceDocument, chunks []models.Chunk) error {
	row := documentFromModel(doc)
	rows := make([]Chunk, 0, len(chunks))
	for _, c := range chunks {
		rows = append(rows, Chunk{
			DocID:     doc.DocID,
			ChunkID:   c.ChunkID,
			Section:   c.Section,
			Content:   c.Content,
			SpanStart: c.SpanStart,
			SpanEnd:   c.SpanEnd,
			Embedding: pgvector.NewVector(c.Embedding),
		})
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().Model(&row).
			On("CONFLICT (doc_id) DO UPDATE").
			Set("title = EXCLUDED.title").
			Set("domain = EXCLUDED.domain").
			Set("jurisdiction = EXCLUDED.jurisdiction").
			Set("court = EXCLUDED.court").
			Set("published_on = EXCLUDED.published_on").
			Set("origin_link = EXCLUDED.origin_link").
			Set("storage_key = EXCLUDED.storage_key").
			Set("metadata_key = EXCLUDED.metadata_key").
			Set("ingested_at = EXCLUDED.ingested_at").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("upsert document: %w", err)
		}

		if _, err := tx.NewDelete().Model((*Chunk)(nil)).Where("doc_id = ?", doc.DocID).Exec(ctx); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
			return fmt.Errorf("insert chunks: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Debug().Str("doc_id", doc.DocID).Int("chunks", len(rows)).Msg("Replaced chunks")
	return nil
}

type hitRow struct {
	DocID       string     `bun:"doc_id"`
	ChunkID     int        `bun:"chunk_id"`
	Section     string     `bun:"section"`
	Content     string     `bun:"content"`
	Score       float64    `bun:"score"`
	Title       string     `bun:"title"`
	Court       string     `bun:"court"`
	PublishedOn *time.Time `bun:"published_on"`
	OriginLink  string     `bun:"origin_link"`
	StorageKey  string     `bun:"storage_key"`
}

// SearchChunks runs the single search primitive: filters, optional full-text
// match and ordering by cosine distance to q.Embedding.
func (s *Store) SearchChunks(ctx context.Context, q models.ChunkQuery) ([]models.Hit, error) {
	var rows []hitRow
	if err := s.searchQuery(q).Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}

	hits := make([]models.Hit, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, models.Hit{
			DocID:       r.DocID,
			ChunkID:     r.ChunkID,
			Section:     r.Section,
			Content:     r.Content,
			Score:       r.Score,
			Title:       r.Title,
			Court:       r.Court,
			PublishedOn: r.PublishedOn,
			OriginLink:  r.OriginLink,
			StorageKey:  r.StorageKey,
		})
	}
	return hits, nil
}

func (s *Store) searchQuery(q models.ChunkQuery) *bun.SelectQuery {
	vec := pgvector.NewVector(q.Embedding)
	sel := s.db.NewSelect().
		TableExpr("juris_chunks AS c").
		Join("JOIN juris_documents AS d ON d.doc_id = c.doc_id").
		ColumnExpr("c.doc_id, c.chunk_id, c.section, c.content").
		ColumnExpr("1 - (c.embedding <=> ?::vector) AS score", vec).
		ColumnExpr("d.title, d.court, d.published_on, d.origin_link, d.storage_key")

	if q.TextQuery != "" {
		sel = sel.Where("to_tsvector(?::regconfig, coalesce(d.title, '') || ' ' || c.content) @@ websearch_to_tsquery(?::regconfig, ?)",
			s.tsConfig, s.tsConfig, q.TextQuery)
	}
	if q.Domain != "" {
		sel = sel.Where("LOWER(d.domain) = LOWER(?)", q.Domain)
	}
	if q.Jurisdiction != "" {
		sel = sel.Where("d.jurisdiction ILIKE ?", "%"+q.Jurisdiction+"%")
	}
	if q.Court != "" {
		sel = sel.Where("d.court ILIKE ?", "%"+q.Court+"%")
	}
	if q.From != nil {
		sel = sel.Where("d.published_on >= ?", *q.From)
	}
	if q.To != nil {
		sel = sel.Where("d.published_on <= ?", *q.To)
	}
	if q.MinChars > 0 {
		sel = sel.Where("char_length(c.content) >= ?", q.MinChars)
	}

	sel = sel.OrderExpr("c.embedding <=> ?::vector", vec).OrderExpr("c.doc_id, c.chunk_id")
	if q.Limit > 0 {
		sel = sel.Limit(q.Limit)
	}
	return sel
}

func documentFromModel(doc models.SourceDocument) Document {
	ingestedAt := doc.IngestedAt
	if ingestedAt.IsZero() {
		ingestedAt = time.Now().UTC()
	}
	return Document{
		DocID:        doc.DocID,
		Title:        doc.Title,
		Domain:       doc.Domain,
		Jurisdiction: doc.Jurisdiction,
		Court:        doc.Court,
		PublishedOn:  doc.PublishedOn,
		OriginLink:   doc.OriginLink,
		StorageKey:   doc.StorageKey,
		MetadataKey:  doc.MetadataKey,
		IngestedAt:   ingestedAt,
	}
}
