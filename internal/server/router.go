package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"juris-rag/internal/config"
)

type RouterConfig struct {
	Querier       Querier
	Conversations Conversations
	// Ingester is optional; without it the ingest route answers 503.
	Ingester Ingester
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	h := &Handler{querier: cfg.Querier, conversations: cfg.Conversations, ingester: cfg.Ingester}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", h.Health)

	api := router.Group("/api")
	api.POST("/ia/ask-juris", h.AskJuris)
	api.POST("/ia/ingest", h.Ingest)

	protected := api.Group("/conversations", requireOwner())
	protected.POST("", h.SendMessage)
	protected.GET("", h.ListConversations)
	protected.GET("/:id", h.GetConversation)

	return router
}

// Run serves router until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, cfg config.ServerConfig, router http.Handler) error {
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		log.Info().Msg("Shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
