package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"juris-rag/internal/config"
	"juris-rag/internal/models"
	"juris-rag/internal/parser"
)

const (
	metadataSuffix = "metadata.json"
	untitled       = "Sin título"
)

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ChunkWriter swaps all chunks of a document atomically.
type ChunkWriter interface {
	ReplaceChunks(ctx context.Context, doc models.SourceDocument, chunks []models.Chunk) error
}

type ObjectReader interface {
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

type Ingestor struct {
	chunker  *parser.Chunker
	embedder Embedder
	store    ChunkWriter
	objects  ObjectReader
	rag      config.RAGConfig
	now      func() time.Time
}

// New builds an ingestor. objects may be nil when only local text is ingested.
func New(cfg *config.Config, embedder Embedder, store ChunkWriter, objects ObjectReader) *Ingestor {
	return &Ingestor{
		chunker:  parser.NewChunker(cfg),
		embedder: embedder,
		store:    store,
		objects:  objects,
		rag:      cfg.RAG,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// DocID derives the stable document id from its title and origin link.
func DocID(title, link string) string {
	sum := sha256.Sum256([]byte(title + "|" + link))
	return hex.EncodeToString(sum[:])[:32]
}

// Ingest chunks, embeds and stores text as the content of doc, returning the
// number of chunks written. Empty text is a no-op. A failed embedding call
// leaves the stored chunks untouched.
func (i *Ingestor) Ingest(ctx context.Context, doc models.SourceDocument, text string) (int, error) {
	if doc.DocID == "" {
		doc.DocID = DocID(doc.Title, doc.OriginLink)
	}
	if text == "" {
		log.Info().Str("doc_id", doc.DocID).Msg("Empty document text, skipping")
		return 0, nil
	}

	chunks := i.chunker.Chunks(doc.DocID, text)
	texts := make([]string, len(chunks))
	for n, c := range chunks {
		texts[n] = c.Content
	}
	vectors, err := i.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed %s: %w", doc.DocID, err)
	}
	for n := range chunks {
		chunks[n].Embedding = vectors[n]
	}

	doc.IngestedAt = i.now()
	if err := i.store.ReplaceChunks(ctx, doc, chunks); err != nil {
		return 0, fmt.Errorf("store %s: %w", doc.DocID, err)
	}
	log.Info().Str("doc_id", doc.DocID).Int("chunks", len(chunks)).Msg("Ingested document")
	return len(chunks), nil
}

// Metadata is the metadata.json written next to each scraped ruling.
type Metadata struct {
	Titulo        string `json:"titulo"`
	Link          string `json:"link"`
	LinkOrigen    string `json:"link_origen"`
	Fuero         string `json:"fuero"`
	Jurisdiccion  string `json:"jurisdiccion"`
	Tribunal      string `json:"tribunal"`
	Fecha         any    `json:"fecha"`
	Resumen       string `json:"resumen"`
	S3KeyDocument string `json:"s3_key_document"`
	S3DocumentKey string `json:"_s3_document_key"`
}

// Document maps metadata onto a source document. Unparseable dates become nil.
func (m Metadata) Document(metadataKey string, rag config.RAGConfig) models.SourceDocument {
	title := firstNonEmpty(m.Titulo, untitled)
	link := firstNonEmpty(m.Link, m.LinkOrigen)
	doc := models.SourceDocument{
		DocID:        DocID(title, link),
		Title:        title,
		Domain:       firstNonEmpty(m.Fuero, rag.DefaultDomain),
		Jurisdiction: firstNonEmpty(m.Jurisdiccion, rag.DefaultJurisdiction),
		Court:        m.Tribunal,
		OriginLink:   link,
		StorageKey:   firstNonEmpty(m.S3KeyDocument, m.S3DocumentKey),
		MetadataKey:  metadataKey,
	}
	if m.Fecha != nil {
		doc.PublishedOn = parser.ParseDate(fmt.Sprint(m.Fecha))
	}
	return doc
}

// IngestFromMetadata reads a metadata.json from object storage, extracts the
// referenced document and ingests it. When extraction yields nothing the
// summary, then the title, stand in for the text.
func (i *Ingestor) IngestFromMetadata(ctx context.Context, metadataKey string) (string, int, error) {
	if i.objects == nil {
		return "", 0, fmt.Errorf("%w: object storage is not configured", models.ErrInvalidInput)
	}
	raw, err := i.objects.Get(ctx, metadataKey)
	if err != nil {
		return "", 0, fmt.Errorf("read %s: %w", metadataKey, err)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return "", 0, fmt.Errorf("%w: decode %s: %v", models.ErrInvalidInput, metadataKey, err)
	}

	doc := meta.Document(metadataKey, i.rag)
	if doc.PublishedOn == nil && meta.Fecha != nil {
		log.Debug().Str("key", metadataKey).Interface("fecha", meta.Fecha).Msg("Unparseable date, storing null")
	}

	text := ""
	if doc.StorageKey != "" {
		text, err = i.extract(ctx, doc.StorageKey)
		if err != nil {
			log.Warn().Err(err).Str("doc_id", doc.DocID).Str("key", doc.StorageKey).Msg("Document extraction failed, using summary")
		}
	}
	if strings.TrimSpace(text) == "" {
		text = firstNonEmpty(meta.Resumen, doc.Title)
	}

	n, err := i.Ingest(ctx, doc, text)
	return doc.DocID, n, err
}

func (i *Ingestor) extract(ctx context.Context, key string) (string, error) {
	data, err := i.objects.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return parser.ExtractText(key, data)
}

// Report summarizes a bulk ingestion run.
type Report struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// IngestPrefix ingests every metadata.json under prefix, at most limit of them
// (0 means no limit), with up to concurrency documents in flight. A failing
// document is logged and counted but never stops the run.
func (i *Ingestor) IngestPrefix(ctx context.Context, prefix string, limit, concurrency int) (Report, error) {
	if i.objects == nil {
		return Report{}, fmt.Errorf("%w: object storage is not configured", models.ErrInvalidInput)
	}
	if prefix != "" {
		prefix = strings.TrimRight(prefix, "/") + "/"
	}
	keys, err := i.objects.List(ctx, prefix)
	if err != nil {
		return Report{}, fmt.Errorf("list %s: %w", prefix, err)
	}

	var targets []string
	for _, k := range keys {
		if !strings.HasSuffix(k, metadataSuffix) {
			continue
		}
		if limit > 0 && len(targets) >= limit {
			log.Warn().Int("limit", limit).Msg("Ingestion limit reached")
			break
		}
		targets = append(targets, k)
	}

	if concurrency < 1 {
		concurrency = max(i.rag.IngestConcurrency, 1)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed int32
	for _, key := range targets {
		key := key // per-iteration copy; go.mod targets go1.21 loop semantics
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			docID, n, err := i.IngestFromMetadata(gctx, key)
			if err != nil {
				atomic.AddInt32(&failed, 1)
				log.Error().Err(err).Str("key", key).Msg("Ingestion failed")
				return nil
			}
			atomic.AddInt32(&succeeded, 1)
			log.Info().Str("doc_id", docID).Int("chunks", n).Str("key", key).Msg("Ingested metadata")
			return nil
		})
	}
	err = g.Wait()

	report := Report{Processed: len(targets), Succeeded: int(succeeded), Failed: int(failed)}
	log.Info().Int("processed", report.Processed).Int("succeeded", report.Succeeded).Int("failed", report.Failed).Msg("Bulk ingestion finished")
	return report, err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
