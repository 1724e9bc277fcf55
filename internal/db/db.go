package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"juris-rag/internal/config"
	"juris-rag/internal/models"
)

type Document struct {
	bun.BaseModel `bun:"table:juris_documents,alias:d"`
	DocID         string     `bun:"doc_id,pk"`
	Title         string     `bun:"title,notnull"`
	Domain        string     `bun:"domain"`
	Jurisdiction  string     `bun:"jurisdiction"`
	Court         string     `bun:"court"`
	PublishedOn   *time.Time `bun:"published_on,type:date"`
	OriginLink    string     `bun:"origin_link"`
	StorageKey    string     `bun:"storage_key"`
	MetadataKey   string     `bun:"metadata_key"`
	IngestedAt    time.Time  `bun:"ingested_at,notnull"`
}

// Chunk.Embedding width must match config.PGVectorDimension.
type Chunk struct {
	bun.BaseModel `bun:"table:juris_chunks,alias:c"`
	ID            int64           `bun:"id,pk,autoincrement"`
	DocID         string          `bun:"doc_id,notnull,unique:juris_chunks_doc_chunk"`
	ChunkID       int             `bun:"chunk_id,notnull,unique:juris_chunks_doc_chunk"`
	Section       string          `bun:"section,notnull"`
	Content       string          `bun:"content,notnull"`
	SpanStart     int             `bun:"span_start,notnull"`
	SpanEnd       int             `bun:"span_end,notnull"`
	Embedding     pgvector.Vector `bun:"embedding,notnull,type:vector(1536)"`
}

type Conversation struct {
	bun.BaseModel `bun:"table:conversations,alias:cv"`
	ID            string    `bun:"id,pk"`
	Owner         string    `bun:"owner,notnull"`
	Title         string    `bun:"title,notnull"`
	CaseID        string    `bun:"case_id"`
	Summary       string    `bun:"summary"`
	SummaryUpTo   int       `bun:"summary_up_to,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
	UpdatedAt     time.Time `bun:"updated_at,notnull"`
	LastMessageAt time.Time `bun:"last_message_at,notnull"`
}

type Message struct {
	bun.BaseModel  `bun:"table:messages,alias:m"`
	Seq            int64             `bun:"seq,pk,autoincrement"`
	ID             string            `bun:"id,notnull,unique"`
	ConversationID string            `bun:"conversation_id,notnull"`
	Role           string            `bun:"role,notnull"`
	Content        string            `bun:"content,notnull"`
	Citations      []models.Citation `bun:"citations,type:jsonb"`
	CreatedAt      time.Time         `bun:"created_at,notnull"`
}

// IdempotencyKey.Response stays SQL NULL until the first request commits.
type IdempotencyKey struct {
	bun.BaseModel `bun:"table:idempotency_keys,alias:ik"`
	Owner         string          `bun:"owner,pk"`
	Key           string          `bun:"key,pk"`
	Target        string          `bun:"target,pk"`
	Response      json.RawMessage `bun:"response,type:jsonb,nullzero"`
	CreatedAt     time.Time       `bun:"created_at,notnull"`
}

// NewDB wraps sqldb with the postgres dialect. Queries are logged when debug is set.
func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens a pool with the configured driver: "pg" uses bun's pgdriver,
// "postgres" uses lib/pq.
func ConnectDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	switch cfg.Driver {
	case "postgres":
		return sql.Open("postgres", cfg.DSN)
	default:
		opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	}
}

var tableModels = []interface{}{
	(*Document)(nil),
	(*Chunk)(nil),
	(*Conversation)(nil),
	(*Message)(nil),
	(*IdempotencyKey)(nil),
}

// InitDB creates the pgvector extension, tables and indexes when missing.
func InitDB(ctx context.Context, db *bun.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}

	for _, model := range tableModels {
		q := db.NewCreateTable().Model(model).IfNotExists()
		switch model.(type) {
		case *Chunk:
			q = q.ForeignKey(`("doc_id") REFERENCES "juris_documents" ("doc_id") ON DELETE CASCADE`)
		case *Message:
			q = q.ForeignKey(`("conversation_id") REFERENCES "conversations" ("id") ON DELETE CASCADE`)
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS juris_chunks_embedding_idx ON juris_chunks USING hnsw (embedding vector_cosine_ops)`,
		`CREATE INDEX IF NOT EXISTS juris_chunks_doc_idx ON juris_chunks (doc_id)`,
		`CREATE INDEX IF NOT EXISTS conversations_owner_idx ON conversations (owner, last_message_at DESC)`,
		`CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages (conversation_id, created_at, seq)`,
	}
	for _, stmt := range indexes {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	log.Info().Msg("Database schema ready")
	return nil
}

// DropTables removes every table owned by the engine.
func DropTables(ctx context.Context, db *bun.DB) error {
	for i := len(tableModels) - 1; i >= 0; i-- {
		if _, err := db.NewDropTable().Model(tableModels[i]).IfExists().Cascade().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}
