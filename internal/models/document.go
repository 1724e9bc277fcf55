package models

import "time"

// SourceDocument is one ingested ruling or doctrine piece.
type SourceDocument struct {
	DocID        string     `json:"doc_id"`
	Title        string     `json:"title"`
	Domain       string     `json:"domain"`
	Jurisdiction string     `json:"jurisdiction"`
	Court        string     `json:"court"`
	PublishedOn  *time.Time `json:"published_on,omitempty"`
	OriginLink   string     `json:"origin_link"`
	StorageKey   string     `json:"storage_key"`
	MetadataKey  string     `json:"metadata_key"`
	IngestedAt   time.Time  `json:"ingested_at"`
}

// Chunk is a bounded, embeddable slice of a document. SpanStart and SpanEnd are
// byte offsets into the document's extracted text.
type Chunk struct {
	DocID     string    `json:"doc_id"`
	ChunkID   int       `json:"chunk_id"`
	Section   string    `json:"section"`
	Content   string    `json:"content"`
	SpanStart int       `json:"span_start"`
	SpanEnd   int       `json:"span_end"`
	Embedding []float32 `json:"-"`
}

// Hit is a chunk returned by the chunk store, joined with its document metadata.
type Hit struct {
	DocID       string     `json:"doc_id"`
	ChunkID     int        `json:"chunk_id"`
	Section     string     `json:"section"`
	Content     string     `json:"content"`
	Score       float64    `json:"score"`
	Title       string     `json:"title"`
	Court       string     `json:"court"`
	PublishedOn *time.Time `json:"published_on,omitempty"`
	OriginLink  string     `json:"origin_link"`
	StorageKey  string     `json:"storage_key"`
}

// Filters narrow retrieval by document metadata. Empty fields are ignored.
type Filters struct {
	Domain       string     `json:"domain,omitempty"`
	Jurisdiction string     `json:"jurisdiction,omitempty"`
	Court        string     `json:"court,omitempty"`
	From         *time.Time `json:"from,omitempty"`
	To           *time.Time `json:"to,omitempty"`
}

// ChunkQuery is the single search primitive understood by chunk stores.
// Results must come back ordered by ascending vector distance.
type ChunkQuery struct {
	Embedding []float32
	// TextQuery is a websearch-style expression; empty disables full-text matching.
	TextQuery    string
	Domain       string
	Jurisdiction string
	Court        string
	From         *time.Time
	To           *time.Time
	MinChars     int
	Limit        int
}

type Citation struct {
	Title string     `json:"title"`
	Court string     `json:"court,omitempty"`
	Date  *time.Time `json:"date,omitempty"`
	URL   string     `json:"url,omitempty"`
	Score float64    `json:"score"`
}
