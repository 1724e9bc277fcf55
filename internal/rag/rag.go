package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"juris-rag/internal/config"
	"juris-rag/internal/llmservice"
	"juris-rag/internal/models"
	"juris-rag/internal/parser"
	"juris-rag/internal/retrieval"
)

const providerFailureCode = "provider_failure"

type Completer interface {
	Complete(ctx context.Context, messages []llmservice.Message, opts llmservice.Options) (string, error)
}

type Retriever interface {
	Search(ctx context.Context, query string, filters models.Filters, opts retrieval.Options) (*retrieval.Result, error)
}

type CitationResolver interface {
	Citations(ctx context.Context, hits []models.Hit) []models.Citation
}

// CaseContextProvider renders the stored facts of a case as plain text.
type CaseContextProvider interface {
	CaseContext(ctx context.Context, caseID string) (string, error)
}

type WebSearcher interface {
	Search(ctx context.Context, query string) ([]WebResult, error)
}

// RAG answers legal questions grounded on retrieved jurisprudence.
type RAG struct {
	retriever Retriever
	citations CitationResolver
	llm       Completer
	composer  *Composer
	cases     CaseContextProvider
	web       WebSearcher

	verify              bool
	verifyChars         int
	defaultDomain       string
	defaultJurisdiction string
}

type Option func(*RAG)

func WithCaseContext(p CaseContextProvider) Option {
	return func(r *RAG) { r.cases = p }
}

func WithWebSearch(w WebSearcher) Option {
	return func(r *RAG) { r.web = w }
}

func NewRAG(cfg *config.Config, retriever Retriever, citations CitationResolver, llm Completer, opts ...Option) *RAG {
	r := &RAG{
		retriever:           retriever,
		citations:           citations,
		llm:                 llm,
		composer:            NewComposer(cfg.RAG),
		verify:              cfg.RAG.Verify,
		verifyChars:         cfg.RAG.JurisContextChars,
		defaultDomain:       cfg.RAG.DefaultDomain,
		defaultJurisdiction: cfg.RAG.DefaultJurisdiction,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type QueryRequest struct {
	Query   string
	Filters models.Filters
	Strict  bool
	Debug   bool
}

type DebugHit struct {
	DocID   string  `json:"doc_id"`
	ChunkID int     `json:"chunk_id"`
	Section string  `json:"section"`
	Title   string  `json:"title"`
	Court   string  `json:"court,omitempty"`
	Score   float64 `json:"score"`
}

type Debug struct {
	Tier         string        `json:"tier"`
	TiersTried   []string      `json:"tiers_tried"`
	TextQuery    string        `json:"text_query"`
	Hits         []DebugHit    `json:"hits"`
	Verification *Verification `json:"verification,omitempty"`
}

type QueryResponse struct {
	Answer    string            `json:"answer"`
	Citations []models.Citation `json:"citations"`
	Debug     *Debug            `json:"debug,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Query runs the stateless pipeline. No evidence and provider failures both
// produce a normal response with a fixed answer; only invalid input and store
// errors are returned as errors.
func (r *RAG) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	start := time.Now()
	filters := r.withDefaults(req.Filters)

	res, err := r.retriever.Search(ctx, req.Query, filters, retrieval.Options{Strict: req.Strict})
	if errors.Is(err, models.ErrProviderFailure) {
		log.Error().Err(err).Msg("Query embedding failed")
		return &QueryResponse{Answer: models.ProviderUnavailableAnswer, Citations: []models.Citation{}, Error: providerFailureCode}, nil
	}
	if err != nil {
		return nil, err
	}

	resp := &QueryResponse{Citations: []models.Citation{}}
	if req.Debug {
		resp.Debug = newDebug(res)
	}
	if len(res.Hits) == 0 {
		resp.Answer = models.InsufficientContextAnswer
		return resp, nil
	}

	resp.Citations = r.citations.Citations(ctx, res.Hits)
	prompt := r.composer.BuildPrompt(PromptInput{Question: req.Query, Hits: res.Hits})
	answer, err := r.llm.Complete(ctx, prompt, llmservice.Options{})
	if errors.Is(err, models.ErrProviderFailure) {
		log.Error().Err(err).Str("tier", res.Tier).Msg("Answer generation failed")
		resp.Answer = models.ProviderUnavailableAnswer
		resp.Error = providerFailureCode
		return resp, nil
	}
	if err != nil {
		return nil, err
	}
	resp.Answer = Clean(answer)

	if r.verify && req.Debug {
		resp.Debug.Verification = r.Verify(ctx, resp.Answer, res.Hits)
	}

	log.Info().
		Str("tier", res.Tier).
		Int("hits", len(res.Hits)).
		Int("citations", len(resp.Citations)).
		Dur("took", time.Since(start)).
		Msg("Query answered")
	return resp, nil
}

func newDebug(res *retrieval.Result) *Debug {
	d := &Debug{Tier: res.Tier, TiersTried: res.TiersTried, TextQuery: res.TextQuery, Hits: make([]DebugHit, 0, len(res.Hits))}
	for _, h := range res.Hits {
		d.Hits = append(d.Hits, DebugHit{DocID: h.DocID, ChunkID: h.ChunkID, Section: h.Section, Title: h.Title, Court: h.Court, Score: h.Score})
	}
	return d
}

func (r *RAG) withDefaults(f models.Filters) models.Filters {
	if f.Domain == "" {
		f.Domain = r.defaultDomain
	}
	if f.Jurisdiction == "" {
		f.Jurisdiction = r.defaultJurisdiction
	}
	return f
}

// AnswerRequest is one conversational turn. History holds only the recent
// messages kept verbatim; older ones arrive condensed in Summary.
type AnswerRequest struct {
	Question    string
	Attachments []models.Attachment
	History     []models.Message
	Summary     string
	CaseID      string
}

type Answer struct {
	Content   string
	Citations []models.Citation
}

// Answer produces the assistant reply for a conversational turn. Unlike
// Query, provider failures are returned so the caller can roll back.
func (r *RAG) Answer(ctx context.Context, req AnswerRequest) (*Answer, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: empty question", models.ErrInvalidInput)
	}

	res, err := r.retriever.Search(ctx, question, r.withDefaults(models.Filters{}), retrieval.Options{Strict: true})
	if err != nil {
		return nil, err
	}

	in := PromptInput{
		Question:    question,
		CaseContext: r.caseContext(ctx, req.CaseID),
		Attachments: extractAttachments(req.Attachments),
		Hits:        res.Hits,
		Web:         r.webResults(ctx, question),
		Summary:     req.Summary,
		History:     req.History,
	}
	if len(in.Hits) == 0 && len(in.Attachments) == 0 && in.CaseContext == "" && len(in.Web) == 0 {
		return &Answer{Content: models.InsufficientContextAnswer, Citations: []models.Citation{}}, nil
	}

	content, err := r.llm.Complete(ctx, r.composer.BuildPrompt(in), llmservice.Options{})
	if err != nil {
		return nil, err
	}
	return &Answer{Content: Clean(content), Citations: r.citations.Citations(ctx, res.Hits)}, nil
}

func (r *RAG) caseContext(ctx context.Context, caseID string) string {
	if r.cases == nil || caseID == "" {
		return ""
	}
	text, err := r.cases.CaseContext(ctx, caseID)
	if err != nil {
		log.Warn().Err(err).Str("case_id", caseID).Msg("Case context unavailable")
		return ""
	}
	return text
}

func (r *RAG) webResults(ctx context.Context, query string) []WebResult {
	if r.web == nil {
		return nil
	}
	results, err := r.web.Search(ctx, query)
	if err != nil {
		log.Warn().Err(err).Msg("Web search failed")
		return nil
	}
	return results
}

// extractAttachments skips any attachment that cannot be read.
func extractAttachments(atts []models.Attachment) []ExtractedAttachment {
	out := make([]ExtractedAttachment, 0, len(atts))
	for _, a := range atts {
		text, err := parser.ExtractText(a.Name, a.Data)
		if err != nil {
			log.Warn().Err(err).Str("attachment", a.Name).Msg("Skipping unreadable attachment")
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		out = append(out, ExtractedAttachment{Name: a.Name, Text: text})
	}
	return out
}
