package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"juris-rag/internal/chromemdb"
	"juris-rag/internal/citation"
	"juris-rag/internal/config"
	"juris-rag/internal/conversation"
	"juris-rag/internal/db"
	"juris-rag/internal/embedding"
	"juris-rag/internal/ingest"
	"juris-rag/internal/llmservice"
	"juris-rag/internal/models"
	"juris-rag/internal/rag"
	"juris-rag/internal/retrieval"
	"juris-rag/internal/storage"
)

type chunkStore interface {
	ReplaceChunks(ctx context.Context, doc models.SourceDocument, chunks []models.Chunk) error
	SearchChunks(ctx context.Context, q models.ChunkQuery) ([]models.Hit, error)
}

// app owns every process-wide client handle. Handles are built once at
// startup, shared by all requests and released by close.
type app struct {
	cfg *config.Config

	bunDB         *bun.DB
	chromem       *chromemdb.Store
	chunks        chunkStore
	conversations conversation.Store

	bucket    *storage.Bucket
	redis     *goredis.Client
	presigner citation.Presigner
	embedder  *embedding.Client
}

// openStores connects the chunk and conversation stores of the configured backend.
func openStores(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	switch strings.ToLower(cfg.Store.Backend) {
	case "chromem":
		store, err := chromemdb.NewStore(cfg.Store)
		if err != nil {
			return nil, err
		}
		a.chromem = store
		a.chunks = store
		a.conversations = conversation.NewMemoryStore()
		log.Warn().Msg("Conversations are kept in memory with the chromem backend")
	default:
		sqldb, err := db.ConnectDB(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.bunDB = db.NewDB(sqldb, cfg.Database.Debug)
		store := db.NewStore(a.bunDB, cfg.Retrieval.TextSearchConfig)
		a.chunks = store
		a.conversations = store
	}
	return a, nil
}

// newApp opens the stores plus the provider and storage clients.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a, err := openStores(cfg)
	if err != nil {
		return nil, err
	}

	if a.embedder, err = embedding.NewClient(cfg); err != nil {
		a.close()
		return nil, err
	}

	if cfg.Storage.Bucket == "" {
		log.Warn().Msg("No storage bucket configured, citations fall back to origin links only")
		return a, nil
	}
	if a.bucket, err = storage.NewBucket(ctx, cfg.Storage); err != nil {
		a.close()
		return nil, err
	}
	a.presigner = a.bucket

	if cfg.Storage.RedisAddr != "" {
		rdb, err := storage.NewRedisClient(ctx, cfg.Storage)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, signing links without cache")
		} else {
			a.redis = rdb
			a.presigner = storage.NewCachedPresigner(a.bucket, rdb)
		}
	}
	return a, nil
}

func (a *app) objects() ingest.ObjectReader {
	if a.bucket == nil {
		return nil
	}
	return a.bucket
}

func (a *app) ingestor() *ingest.Ingestor {
	return ingest.New(a.cfg, a.embedder, a.chunks, a.objects())
}

func (a *app) newRAG() (*rag.RAG, error) {
	chat, err := llmservice.NewClient(a.cfg.ChatLLM)
	if err != nil {
		return nil, fmt.Errorf("init chat llm: %w", err)
	}
	engine := retrieval.NewEngine(a.cfg.Retrieval, a.chunks, a.embedder)
	return rag.NewRAG(a.cfg, engine, citation.New(a.presigner, a.cfg.Storage.PresignTTL), chat), nil
}

func (a *app) conversationManager(answerer conversation.Answerer) (*conversation.Manager, error) {
	summarizer, err := llmservice.NewClient(a.cfg.SummaryLLM)
	if err != nil {
		return nil, fmt.Errorf("init summary llm: %w", err)
	}
	return conversation.NewManager(a.cfg.Conversation, a.conversations, answerer, summarizer), nil
}

func (a *app) close() {
	var errs []error
	if a.bunDB != nil {
		errs = append(errs, a.bunDB.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.bucket != nil {
		errs = append(errs, a.bucket.Close())
	}
	if err := errors.Join(errs...); err != nil {
		log.Warn().Err(err).Msg("Error releasing clients")
	}
}
