package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"juris-rag/internal/config"
	"juris-rag/internal/helper"
	"juris-rag/internal/llmservice"
	"juris-rag/internal/models"
	"juris-rag/internal/rag"
)

// Store persists conversations, messages and idempotency keys.
type Store interface {
	ClaimIdempotencyKey(ctx context.Context, rec models.IdempotencyRecord) (*models.IdempotencyRecord, bool, error)
	ReleaseIdempotencyKey(ctx context.Context, owner, key, target string) error
	GetConversation(ctx context.Context, owner, id string) (*models.Conversation, error)
	ListConversations(ctx context.Context, owner string) ([]models.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	CommitExchange(ctx context.Context, ex models.Exchange) error
}

type Answerer interface {
	Answer(ctx context.Context, req rag.AnswerRequest) (*rag.Answer, error)
}

// Summarizer is the lightweight model used to condense old history.
type Summarizer interface {
	Complete(ctx context.Context, messages []llmservice.Message, opts llmservice.Options) (string, error)
}

type SendRequest struct {
	Owner          string
	ConversationID string
	Content        string
	Title          string
	CaseID         string
	Attachments    []models.Attachment
	IdempotencyKey string
}

// Result holds only the message pair produced by one Send.
type Result struct {
	ConversationID string           `json:"conversation_id"`
	Title          string           `json:"title"`
	Messages       []models.Message `json:"messages"`
}

type Detail struct {
	Conversation models.Conversation `json:"conversation"`
	Messages     []models.Message    `json:"messages"`
}

type Manager struct {
	store      Store
	answerer   Answerer
	summarizer Summarizer

	historyWindow   int
	summaryMaxChars int
	titleMaxChars   int
	now             func() time.Time
}

// NewManager wires a manager. summarizer may be nil, in which case history
// beyond the window is dropped instead of condensed.
func NewManager(cfg config.ConversationConfig, store Store, answerer Answerer, summarizer Summarizer) *Manager {
	return &Manager{
		store:           store,
		answerer:        answerer,
		summarizer:      summarizer,
		historyWindow:   cfg.HistoryWindow,
		summaryMaxChars: cfg.SummaryMaxChars,
		titleMaxChars:   cfg.TitleMaxChars,
		now:             time.Now,
	}
}

// Send appends a user message and its generated reply to a conversation,
// creating the conversation when req.ConversationID is empty. With an
// idempotency key, a repeated request replays the stored result verbatim.
func (m *Manager) Send(ctx context.Context, req SendRequest) (res *Result, err error) {
	content := strings.TrimSpace(req.Content)
	if req.Owner == "" {
		return nil, fmt.Errorf("%w: missing owner", models.ErrInvalidInput)
	}
	if content == "" {
		return nil, fmt.Errorf("%w: empty message", models.ErrInvalidInput)
	}

	var claim *models.IdempotencyRecord
	if req.IdempotencyKey != "" {
		target := req.ConversationID
		if target == "" {
			target = models.IdempotencyTargetNew
		}
		rec, claimed, err := m.store.ClaimIdempotencyKey(ctx, models.IdempotencyRecord{
			Owner: req.Owner, Key: req.IdempotencyKey, Target: target, CreatedAt: m.now().UTC(),
		})
		if err != nil {
			return nil, err
		}
		if !claimed {
			return replay(rec)
		}
		claim = rec
		defer func() {
			if err == nil {
				return
			}
			// A fresh context so a cancelled request still frees its key.
			if rerr := m.store.ReleaseIdempotencyKey(context.WithoutCancel(ctx), claim.Owner, claim.Key, claim.Target); rerr != nil {
				log.Error().Err(rerr).Str("key", claim.Key).Msg("Failed to release idempotency key")
			}
		}()
	}

	conv, created, err := m.resolve(ctx, req, content)
	if err != nil {
		return nil, err
	}

	var history []models.Message
	if !created {
		if history, err = m.condense(ctx, conv); err != nil {
			return nil, err
		}
	}

	answer, err := m.answerer.Answer(ctx, rag.AnswerRequest{
		Question:    content,
		Attachments: req.Attachments,
		History:     history,
		Summary:     conv.Summary,
		CaseID:      conv.CaseID,
	})
	if err != nil {
		return nil, err
	}

	userID, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	assistantID, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	at := m.now().UTC().Truncate(time.Microsecond)
	user := models.NewUserMessage(userID, conv.ID, content, at)
	assistant := models.NewAssistantMessage(assistantID, conv.ID, answer.Content, answer.Citations, at.Add(time.Microsecond))

	if created {
		conv.CreatedAt = at
	}
	conv.UpdatedAt = assistant.CreatedAt
	conv.LastMessageAt = assistant.CreatedAt

	res = &Result{ConversationID: conv.ID, Title: conv.Title, Messages: []models.Message{user, assistant}}
	if claim != nil {
		payload, err := json.Marshal(res)
		if err != nil {
			return nil, err
		}
		claim.Response = payload
	}

	if err := m.store.CommitExchange(ctx, models.Exchange{
		Conversation: conv,
		Created:      created,
		User:         user,
		Assistant:    assistant,
		Idempotency:  claim,
	}); err != nil {
		return nil, fmt.Errorf("commit exchange: %w", err)
	}

	log.Info().Str("conversation_id", conv.ID).Bool("created", created).Int("citations", len(answer.Citations)).Msg("Message answered")
	return res, nil
}

func replay(rec *models.IdempotencyRecord) (*Result, error) {
	// A JSON null is a claim whose response has not been written yet.
	if len(rec.Response) == 0 || bytes.Equal(bytes.TrimSpace(rec.Response), []byte("null")) {
		return nil, models.ErrRequestInProgress
	}
	var res Result
	if err := json.Unmarshal(rec.Response, &res); err != nil {
		return nil, fmt.Errorf("decode stored response for key %q: %w", rec.Key, err)
	}
	log.Info().Str("key", rec.Key).Str("conversation_id", res.ConversationID).Msg("Replaying idempotent response")
	return &res, nil
}

func (m *Manager) resolve(ctx context.Context, req SendRequest, content string) (*models.Conversation, bool, error) {
	if req.ConversationID != "" {
		conv, err := m.store.GetConversation(ctx, req.Owner, req.ConversationID)
		return conv, false, err
	}
	id, err := helper.GenerateUUID()
	if err != nil {
		return nil, false, err
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = DeriveTitle(content, m.titleMaxChars)
	}
	return &models.Conversation{ID: id, Owner: req.Owner, Title: title, CaseID: req.CaseID}, true, nil
}

// condense returns the messages kept verbatim and refreshes conv.Summary so
// it covers everything older than the window.
func (m *Manager) condense(ctx context.Context, conv *models.Conversation) ([]models.Message, error) {
	msgs, err := m.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	if len(msgs) <= m.historyWindow {
		return msgs, nil
	}

	cut := len(msgs) - m.historyWindow
	if conv.SummaryUpTo < cut && m.summarizer != nil {
		summary, err := m.summarize(ctx, conv.Summary, msgs[conv.SummaryUpTo:cut])
		switch {
		case errors.Is(err, models.ErrProviderFailure):
			// Keep the stale summary; the next turn retries.
			log.Warn().Err(err).Str("conversation_id", conv.ID).Msg("History summary failed")
		case err != nil:
			return nil, err
		default:
			conv.Summary = summary
			conv.SummaryUpTo = cut
		}
	}
	return msgs[cut:], nil
}

func (m *Manager) summarize(ctx context.Context, previous string, msgs []models.Message) (string, error) {
	var sb strings.Builder
	for _, msg := range msgs {
		role := "Abogado"
		if msg.Role == models.RoleAssistant {
			role = "Asistente"
		}
		fmt.Fprintf(&sb, "%s: %s\n", role, rag.ScrubURLs(msg.Content))
	}
	prior := ""
	if previous != "" {
		prior = "Resumen anterior, a extender:\n" + previous + "\n"
	}
	prompt := fmt.Sprintf(models.SummaryPromptTemplate, m.summaryMaxChars, prior, sb.String())

	out, err := m.summarizer.Complete(ctx, []llmservice.Message{{Role: llmservice.RoleUser, Content: prompt}}, llmservice.Options{})
	if err != nil {
		return "", err
	}
	out = rag.Clean(out)
	if utf8.RuneCountInString(out) > m.summaryMaxChars {
		out = string([]rune(out)[:m.summaryMaxChars])
	}
	return out, nil
}

// DeriveTitle turns a first message into a title of at most maxChars runes,
// cutting on a word boundary where possible and marking the cut with an ellipsis.
func DeriveTitle(content string, maxChars int) string {
	title := strings.Join(strings.Fields(content), " ")
	if maxChars <= 0 || utf8.RuneCountInString(title) <= maxChars {
		return title
	}
	cut := string([]rune(title)[:maxChars-1])
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.;:") + "…"
}

func (m *Manager) List(ctx context.Context, owner string) ([]models.Conversation, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: missing owner", models.ErrInvalidInput)
	}
	return m.store.ListConversations(ctx, owner)
}

// Get returns a conversation with its messages in creation order.
func (m *Manager) Get(ctx context.Context, owner, id string) (*Detail, error) {
	conv, err := m.store.GetConversation(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	msgs, err := m.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	return &Detail{Conversation: *conv, Messages: msgs}, nil
}
