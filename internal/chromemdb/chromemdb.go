package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"juris-rag/internal/config"
	"juris-rag/internal/models"
)

const compress = false

// Store is an embedded chunk store for local runs. Each chunk is one chromem
// document whose metadata carries the parent document's fields.
type Store struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	dbPath     string
}

// chromem only calls this for documents without a precomputed embedding.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromemdb: embeddings must be precomputed")
}

// NewStore opens (or creates) the configured collection, in memory or persisted under ChromemPath.
func NewStore(cfg config.StoreConfig) (*Store, error) {
	var db *chromem.DB
	var err error
	if cfg.ChromemInMem {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.ChromemPath, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %v", err)
		}
	}

	c, err := db.GetOrCreateCollection(cfg.CollectionName, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %v", err)
	}
	return &Store{db: db, collection: c, dbPath: cfg.ChromemPath}, nil
}

// ReplaceChunks drops every chunk of doc and adds the new ones while holding
// the write lock, so searches never see a half-replaced document.
func (s *Store) ReplaceChunks(ctx context.Context, doc models.SourceDocument, chunks []models.Chunk) error {
	docs := make([]chromem.Document, 0, len(chunks))
	for _, c := range chunks {
		docs = append(docs, chromem.Document{
			ID:        fmt.Sprintf("%s#%d", doc.DocID, c.ChunkID),
			Content:   c.Content,
			Metadata:  chunkMetadata(doc, c),
			Embedding: c.Embedding,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.collection.Delete(ctx, map[string]string{"doc_id": doc.DocID}, nil); err != nil {
		return fmt.Errorf("failed to delete chunks: %v", err)
	}
	if len(docs) == 0 {
		return nil
	}
	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add chunks: %v", err)
	}
	log.Debug().Str("doc_id", doc.DocID).Int("chunks", len(docs)).Msg("Replaced chunks")
	return nil
}

// SearchChunks ranks every chunk by similarity and applies the filters in
// memory. Full-text matching is approximated by term containment.
func (s *Store) SearchChunks(ctx context.Context, q models.ChunkQuery) ([]models.Hit, error) {
	if len(q.Embedding) == 0 {
		return nil, fmt.Errorf("%w: query embedding is required", models.ErrInvalidInput)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.collection.Count()
	if n == 0 {
		return nil, nil
	}
	results, err := s.collection.QueryEmbedding(ctx, q.Embedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %v", err)
	}

	text := parseTextQuery(q.TextQuery)
	var hits []models.Hit
	for _, r := range results {
		hit := hitFromResult(r)
		if !matches(hit, r.Metadata, q, text) {
			continue
		}
		hits = append(hits, hit)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].DocID != hits[j].DocID {
			return hits[i].DocID < hits[j].DocID
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}

func (s *Store) Count() int {
	return s.collection.Count()
}

// DeleteCollection removes the collection and recreates it empty.
func (s *Store) DeleteCollection() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := s.collection.Name
	if err := s.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("failed to drop collection: %v", err)
	}
	c, err := s.db.GetOrCreateCollection(name, nil, noEmbedding)
	if err != nil {
		return fmt.Errorf("failed to recreate collection: %v", err)
	}
	s.collection = c
	return nil
}

// Export writes the collection to filePath, encrypted when encryptionKey is set
// (it must then be 32 bytes long).
func (s *Store) Export(filePath, encryptionKey string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log.Debug().Str("collection", s.collection.Name).Str("file", filePath).Bool("compress", compress).Msg("Exporting collection")
	if err := s.db.ExportToFile(filePath, compress, encryptionKey, s.collection.Name); err != nil {
		return fmt.Errorf("failed to export database: %v", err)
	}
	return nil
}

// Import loads a collection previously written by Export.
func (s *Store) Import(filePath, encryptionKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := s.collection.Name
	if err := s.db.ImportFromFile(filePath, encryptionKey, name); err != nil {
		return fmt.Errorf("failed to import database: %v", err)
	}
	c := s.db.GetCollection(name, noEmbedding)
	if c == nil {
		return fmt.Errorf("collection %s not found in %s", name, filePath)
	}
	s.collection = c
	return nil
}

func chunkMetadata(doc models.SourceDocument, c models.Chunk) map[string]string {
	meta := map[string]string{
		"doc_id":       doc.DocID,
		"chunk_id":     strconv.Itoa(c.ChunkID),
		"section":      c.Section,
		"span_start":   strconv.Itoa(c.SpanStart),
		"span_end":     strconv.Itoa(c.SpanEnd),
		"title":        doc.Title,
		"domain":       doc.Domain,
		"jurisdiction": doc.Jurisdiction,
		"court":        doc.Court,
		"origin_link":  doc.OriginLink,
		"storage_key":  doc.StorageKey,
	}
	if doc.PublishedOn != nil {
		meta["published_on"] = doc.PublishedOn.Format(time.DateOnly)
	}
	return meta
}

func hitFromResult(r chromem.Result) models.Hit {
	m := r.Metadata
	chunkID, _ := strconv.Atoi(m["chunk_id"])
	hit := models.Hit{
		DocID:      m["doc_id"],
		ChunkID:    chunkID,
		Section:    m["section"],
		Content:    r.Content,
		Score:      float64(r.Similarity),
		Title:      m["title"],
		Court:      m["court"],
		OriginLink: m["origin_link"],
		StorageKey: m["storage_key"],
	}
	if raw := m["published_on"]; raw != "" {
		if t, err := time.Parse(time.DateOnly, raw); err == nil {
			hit.PublishedOn = &t
		}
	}
	return hit
}

func matches(hit models.Hit, meta map[string]string, q models.ChunkQuery, text textQuery) bool {
	if q.MinChars > 0 && len([]rune(hit.Content)) < q.MinChars {
		return false
	}
	if q.Domain != "" && !strings.EqualFold(meta["domain"], q.Domain) {
		return false
	}
	if q.Jurisdiction != "" && !containsFold(meta["jurisdiction"], q.Jurisdiction) {
		return false
	}
	if q.Court != "" && !containsFold(hit.Court, q.Court) {
		return false
	}
	if q.From != nil && (hit.PublishedOn == nil || hit.PublishedOn.Before(*q.From)) {
		return false
	}
	if q.To != nil && (hit.PublishedOn == nil || hit.PublishedOn.After(*q.To)) {
		return false
	}
	return text.match(hit.Title + " " + hit.Content)
}
