package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Log          LogConfig          `yaml:"log"`
	Database     DatabaseConfig     `yaml:"database"`
	Store        StoreConfig        `yaml:"store"`
	EmbedLLM     LLMConfig          `yaml:"embed_llm"`
	ChatLLM      LLMConfig          `yaml:"chat_llm"`
	SummaryLLM   LLMConfig          `yaml:"summary_llm"`
	Storage      StorageConfig      `yaml:"storage"`
	RAG          RAGConfig          `yaml:"rag"`
	Retrieval    RetrievalConfig    `yaml:"retrieval"`
	Conversation ConversationConfig `yaml:"conversation"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

type DatabaseConfig struct {
	// Driver is "pg" (bun pgdriver) or "postgres" (lib/pq).
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

// StoreConfig selects the chunk store backend.
type StoreConfig struct {
	Backend        string `yaml:"backend"` // postgres | chromem
	ChromemPath    string `yaml:"chromem_path"`
	ChromemInMem   bool   `yaml:"chromem_in_memory"`
	CollectionName string `yaml:"collection_name"`
}

type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	Key         string  `yaml:"key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type StorageConfig struct {
	Bucket          string        `yaml:"bucket"`
	CredentialsFile string        `yaml:"credentials_file"`
	PresignTTL      time.Duration `yaml:"presign_ttl"`
	RedisAddr       string        `yaml:"redis_addr"`
	RedisPassword   string        `yaml:"redis_password"`
}

type RAGConfig struct {
	ChunkSize           int      `yaml:"chunk_size"`
	ChunkOverlap        int      `yaml:"chunk_overlap"`
	SectionLabels       []string `yaml:"section_labels"`
	EmbedBatchSize      int      `yaml:"embed_batch_size"`
	EmbedRatePerSecond  float64  `yaml:"embed_rate_per_second"`
	EmbeddingDimension  int      `yaml:"embedding_dimension"`
	CaseContextChars    int      `yaml:"case_context_chars"`
	AttachmentChars     int      `yaml:"attachment_chars"`
	JurisContextChars   int      `yaml:"juris_context_chars"`
	WebContextChars     int      `yaml:"web_context_chars"`
	Verify              bool     `yaml:"verify"`
	DefaultDomain       string   `yaml:"default_domain"`
	DefaultJurisdiction string   `yaml:"default_jurisdiction"`
	IngestConcurrency   int      `yaml:"ingest_concurrency"`
}

type RetrievalConfig struct {
	K                int               `yaml:"k"`
	FetchMultiplier  int               `yaml:"fetch_multiplier"`
	StrictMinScore   float64           `yaml:"strict_min_score"`
	SoftMinScore     float64           `yaml:"soft_min_score"`
	StrictMinChars   int               `yaml:"strict_min_chars"`
	SoftMinChars     int               `yaml:"soft_min_chars"`
	VectorMinChars   int               `yaml:"vector_min_chars"`
	MaxPerDoc        int               `yaml:"max_per_doc"`
	TextSearchConfig string            `yaml:"text_search_config"`
	PlaceNames       []string          `yaml:"place_names"`
	KeywordTerms     map[string]string `yaml:"keyword_terms"`
}

type ConversationConfig struct {
	HistoryWindow   int `yaml:"history_window"`
	SummaryMaxChars int `yaml:"summary_max_chars"`
	TitleMaxChars   int `yaml:"title_max_chars"`
}

// LoadConfig reads the yaml file at path, expanding ${VAR} references from the
// environment. A .env file next to the working directory is loaded first when present.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes raw yaml over the defaults and validates the result. Keys
// present in the yaml win even when they hold a zero value.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, err
	}
	if cfg.SummaryLLM.Key == "" {
		cfg.SummaryLLM.Key = cfg.ChatLLM.Key
	}
	if cfg.SummaryLLM.BaseURL == "" {
		cfg.SummaryLLM.BaseURL = cfg.ChatLLM.BaseURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PGVectorDimension is the width of the pgvector embedding column.
const PGVectorDimension = 1536

// Default returns a config with every tunable at its default value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		Log:      LogConfig{Level: "info"},
		Database: DatabaseConfig{Driver: "pg"},
		Store: StoreConfig{
			Backend:        "postgres",
			ChromemPath:    "./chromemdb",
			CollectionName: "juris_chunks",
		},
		EmbedLLM:   LLMConfig{Model: "text-embedding-3-small"},
		ChatLLM:    LLMConfig{Model: "gpt-4o", MaxTokens: 1200, Temperature: 0.2},
		SummaryLLM: LLMConfig{Model: "gpt-4o-mini", MaxTokens: 400, Temperature: 0.2},
		Storage:    StorageConfig{PresignTTL: 15 * time.Minute},
		RAG: RAGConfig{
			ChunkSize:           3500,
			ChunkOverlap:        400,
			SectionLabels:       []string{"Sumario", "Vistos", "Resultando", "Considerandos", "Fallo", "Parte Dispositiva"},
			EmbedBatchSize:      64,
			EmbeddingDimension:  PGVectorDimension,
			CaseContextChars:    6000,
			AttachmentChars:     8000,
			JurisContextChars:   10000,
			WebContextChars:     3000,
			DefaultDomain:       "Laboral",
			DefaultJurisdiction: "Provincia de Buenos Aires",
			IngestConcurrency:   4,
		},
		Retrieval: RetrievalConfig{
			K:                8,
			FetchMultiplier:  8,
			StrictMinScore:   0.82,
			SoftMinScore:     0.75,
			StrictMinChars:   200,
			SoftMinChars:     80,
			VectorMinChars:   80,
			MaxPerDoc:        2,
			TextSearchConfig: "spanish",
			PlaceNames:       []string{"La Plata"},
			KeywordTerms:     map[string]string{"certific": "certificado"},
		},
		Conversation: ConversationConfig{
			HistoryWindow:   5,
			SummaryMaxChars: 1200,
			TitleMaxChars:   60,
		},
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.RAG.ChunkSize <= 0 {
		errs = append(errs, errors.New("rag.chunk_size must be positive"))
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		errs = append(errs, fmt.Errorf("rag.chunk_overlap must be in [0, %d)", c.RAG.ChunkSize))
	}
	if c.RAG.EmbeddingDimension <= 0 {
		errs = append(errs, errors.New("rag.embedding_dimension must be positive"))
	}
	if strings.EqualFold(c.Store.Backend, "postgres") && c.RAG.EmbeddingDimension != PGVectorDimension {
		errs = append(errs, fmt.Errorf("rag.embedding_dimension must be %d with the postgres backend, got %d", PGVectorDimension, c.RAG.EmbeddingDimension))
	}
	if c.RAG.EmbedBatchSize <= 0 {
		errs = append(errs, errors.New("rag.embed_batch_size must be positive"))
	}
	for name, v := range map[string]float64{
		"retrieval.strict_min_score": c.Retrieval.StrictMinScore,
		"retrieval.soft_min_score":   c.Retrieval.SoftMinScore,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0, 1], got %v", name, v))
		}
	}
	if c.Retrieval.MaxPerDoc < 1 {
		errs = append(errs, errors.New("retrieval.max_per_doc must be at least 1"))
	}
	if c.Retrieval.FetchMultiplier < 1 {
		errs = append(errs, errors.New("retrieval.fetch_multiplier must be at least 1"))
	}
	if c.Retrieval.K < 1 {
		errs = append(errs, errors.New("retrieval.k must be at least 1"))
	}
	if c.Conversation.HistoryWindow < 1 {
		errs = append(errs, errors.New("conversation.history_window must be at least 1"))
	}
	switch strings.ToLower(c.Store.Backend) {
	case "postgres", "chromem":
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q", c.Store.Backend))
	}
	switch c.Database.Driver {
	case "pg", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}
	return errors.Join(errs...)
}
