package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"juris-rag/internal/conversation"
	"juris-rag/internal/models"
	"juris-rag/internal/rag"
)

type Querier interface {
	Query(ctx context.Context, req rag.QueryRequest) (*rag.QueryResponse, error)
}

type Conversations interface {
	Send(ctx context.Context, req conversation.SendRequest) (*conversation.Result, error)
	List(ctx context.Context, owner string) ([]models.Conversation, error)
	Get(ctx context.Context, owner, id string) (*conversation.Detail, error)
}

type Ingester interface {
	IngestFromMetadata(ctx context.Context, metadataKey string) (string, int, error)
}

type askFilters struct {
	Court string `json:"court"`
	From  string `json:"from"`
	To    string `json:"to"`
}

type askRequest struct {
	Query   string     `json:"query"`
	Filters askFilters `json:"filters"`
	Strict  *bool      `json:"strict"`
	Debug   bool       `json:"debug"`
}

type conversationRequest struct {
	ConversationID string              `json:"conversation_id"`
	FirstMessage   string              `json:"first_message"`
	Content        string              `json:"content"`
	Title          string              `json:"title"`
	CaseID         string              `json:"case_id"`
	Attachments    []models.Attachment `json:"attachments"`
	IdempotencyKey string              `json:"idempotency_key"`
}

type ingestRequest struct {
	MetadataKey string `json:"metadata_key"`
}

type Handler struct {
	querier       Querier
	conversations Conversations
	ingester      Ingester
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) AskJuris(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	filters := models.Filters{Court: strings.TrimSpace(req.Filters.Court)}
	var err error
	if filters.From, err = parseDay(req.Filters.From); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_date", err)
		return
	}
	if filters.To, err = parseDay(req.Filters.To); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_date", err)
		return
	}

	strict := true
	if req.Strict != nil {
		strict = *req.Strict
	}
	resp, err := h.querier.Query(c.Request.Context(), rag.QueryRequest{
		Query:   req.Query,
		Filters: filters,
		Strict:  strict,
		Debug:   req.Debug,
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func parseDay(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, fmt.Errorf("date %q must be YYYY-MM-DD", raw)
	}
	return &t, nil
}

// SendMessage handles both the first message of a new conversation and
// follow-ups. The idempotency key may come in the body or the header.
func (h *Handler) SendMessage(c *gin.Context) {
	var req conversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	content := req.Content
	if content == "" {
		content = req.FirstMessage
	}
	key := req.IdempotencyKey
	if key == "" {
		key = c.GetHeader("Idempotency-Key")
	}

	res, err := h.conversations.Send(c.Request.Context(), conversation.SendRequest{
		Owner:          c.GetString("owner"),
		ConversationID: req.ConversationID,
		Content:        content,
		Title:          req.Title,
		CaseID:         req.CaseID,
		Attachments:    req.Attachments,
		IdempotencyKey: key,
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListConversations(c *gin.Context) {
	convs, err := h.conversations.List(c.Request.Context(), c.GetString("owner"))
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

func (h *Handler) GetConversation(c *gin.Context) {
	detail, err := h.conversations.Get(c.Request.Context(), c.GetString("owner"), c.Param("id"))
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *Handler) Ingest(c *gin.Context) {
	if h.ingester == nil {
		respondError(c, http.StatusServiceUnavailable, "ingest_disabled", errors.New("object storage is not configured"))
		return
	}
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.MetadataKey) == "" {
		respondError(c, http.StatusBadRequest, "invalid_body", errors.New("metadata_key is required"))
		return
	}
	docID, n, err := h.ingester.IngestFromMetadata(c.Request.Context(), req.MetadataKey)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"doc_id": docID, "chunks": n})
}
