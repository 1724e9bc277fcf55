package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"juris-rag/internal/db"
	"juris-rag/internal/helper"
	"juris-rag/internal/ingest"
	"juris-rag/internal/models"
	"juris-rag/internal/parser"
	"juris-rag/internal/rag"
	"juris-rag/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		r, err := a.newRAG()
		if err != nil {
			return err
		}
		manager, err := a.conversationManager(r)
		if err != nil {
			return err
		}
		rc := server.RouterConfig{Querier: r, Conversations: manager}
		if a.bucket != nil {
			rc.Ingester = a.ingestor()
		}
		return server.Run(ctx, cfg.Server, server.NewRouter(rc))
	},
}

var migrateReset bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create tables and indexes (or the chromem collection)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openStores(cfg)
		if err != nil {
			return err
		}
		defer a.close()

		if a.chromem != nil {
			if migrateReset {
				return a.chromem.DeleteCollection()
			}
			log.Info().Int("chunks", a.chromem.Count()).Msg("Chromem collection ready")
			return nil
		}
		if migrateReset {
			if err := db.DropTables(cmd.Context(), a.bunDB); err != nil {
				return err
			}
		}
		if err := db.InitDB(cmd.Context(), a.bunDB); err != nil {
			return err
		}
		log.Info().Msg("Database migrated")
		return nil
	},
}

var (
	ingestPrefix      string
	ingestLimit       int
	ingestConcurrency int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest every metadata.json under an object storage prefix",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()
		if a.bucket == nil {
			return errors.New("storage.bucket must be configured for bulk ingestion")
		}

		report, err := a.ingestor().IngestPrefix(cmd.Context(), ingestPrefix, ingestLimit, ingestConcurrency)
		if err != nil {
			return err
		}
		return helper.PrettyPrint(cmd.OutOrStdout(), report)
	},
}

var (
	fileTitle        string
	fileLink         string
	fileCourt        string
	fileJurisdiction string
	fileDomain       string
	fileDate         string
)

var ingestFileCmd = &cobra.Command{
	Use:   "ingest-file [path]",
	Short: "Ingest a local document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		text, err := parser.ExtractFile(path)
		if err != nil {
			return fmt.Errorf("extract %s: %w", path, err)
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		title := fileTitle
		if title == "" {
			title = filepath.Base(path)
		}
		doc := models.SourceDocument{
			DocID:        ingest.DocID(title, fileLink),
			Title:        title,
			Domain:       orDefault(fileDomain, cfg.RAG.DefaultDomain),
			Jurisdiction: orDefault(fileJurisdiction, cfg.RAG.DefaultJurisdiction),
			Court:        fileCourt,
			PublishedOn:  parser.ParseDate(fileDate),
			OriginLink:   fileLink,
		}
		n, err := a.ingestor().Ingest(cmd.Context(), doc, text)
		if err != nil {
			return err
		}
		return helper.PrettyPrint(cmd.OutOrStdout(), map[string]any{"doc_id": doc.DocID, "chunks": n})
	},
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

var (
	askStrict bool
	askDebug  bool
	askCourt  string
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer one question against the jurisprudence base",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		r, err := a.newRAG()
		if err != nil {
			return err
		}
		start := time.Now()
		resp, err := r.Query(cmd.Context(), rag.QueryRequest{
			Query:   args[0],
			Filters: models.Filters{Court: askCourt},
			Strict:  askStrict,
			Debug:   askDebug,
		})
		if err != nil {
			return err
		}
		log.Debug().Dur("took", time.Since(start)).Msg("Answered")
		return helper.PrettyPrint(cmd.OutOrStdout(), resp)
	},
}

var snapshotKey string

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Export or import the chromem collection",
}

var snapshotExportCmd = &cobra.Command{
	Use:   "export [file]",
	Args:  cobra.ExactArgs(1),
	Short: "Write the collection to a file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withChromem(func(a *app) error { return a.chromem.Export(args[0], snapshotKey) })
	},
}

var snapshotImportCmd = &cobra.Command{
	Use:   "import [file]",
	Args:  cobra.ExactArgs(1),
	Short: "Replace the collection with a file written by export",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(args[0]); err != nil {
			return err
		}
		return withChromem(func(a *app) error { return a.chromem.Import(args[0], snapshotKey) })
	},
}

func withChromem(fn func(*app) error) error {
	a, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer a.close()
	if a.chromem == nil {
		return errors.New("snapshots require store.backend: chromem")
	}
	return fn(a)
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateReset, "reset", false, "drop existing data first")

	ingestCmd.Flags().StringVar(&ingestPrefix, "prefix", "", "object storage prefix to scan")
	ingestCmd.Flags().IntVar(&ingestLimit, "limit", 0, "maximum number of documents (0 = all)")
	ingestCmd.Flags().IntVar(&ingestConcurrency, "concurrency", 0, "documents ingested in parallel (default rag.ingest_concurrency)")

	ingestFileCmd.Flags().StringVar(&fileTitle, "title", "", "document title (defaults to the file name)")
	ingestFileCmd.Flags().StringVar(&fileLink, "link", "", "origin link")
	ingestFileCmd.Flags().StringVar(&fileCourt, "court", "", "court")
	ingestFileCmd.Flags().StringVar(&fileJurisdiction, "jurisdiction", "", "jurisdiction")
	ingestFileCmd.Flags().StringVar(&fileDomain, "domain", "", "legal domain")
	ingestFileCmd.Flags().StringVar(&fileDate, "date", "", "publication date (YYYY-MM-DD or DD/MM/YYYY)")

	askCmd.Flags().BoolVar(&askStrict, "strict", true, "run the full strict cascade")
	askCmd.Flags().BoolVar(&askDebug, "debug", false, "include retrieval details")
	askCmd.Flags().StringVar(&askCourt, "court", "", "court filter")

	snapshotCmd.PersistentFlags().StringVar(&snapshotKey, "key", "", "32-byte encryption key")
	snapshotCmd.AddCommand(snapshotExportCmd, snapshotImportCmd)

	rootCmd.AddCommand(serveCmd, migrateCmd, ingestCmd, ingestFileCmd, askCmd, snapshotCmd)
}
