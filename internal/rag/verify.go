package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"juris-rag/internal/llmservice"
	"juris-rag/internal/models"
)

const (
	VerdictOK      = "ok"
	VerdictWarning = "warning"
	VerdictFail    = "fail"
)

type Issue struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

type Verification struct {
	Verdict string  `json:"verdict"`
	Issues  []Issue `json:"issues"`
}

// Verify asks the model, in JSON mode, whether answer is supported by hits.
// It never fails: provider or parse errors become a warning verdict.
func (r *RAG) Verify(ctx context.Context, answer string, hits []models.Hit) *Verification {
	var fragments []string
	used := 0
	for i, h := range hits {
		block := hitBlock(i+1, h)
		if used+len(block) > r.verifyChars {
			break
		}
		used += len(block)
		fragments = append(fragments, block)
	}

	prompt := fmt.Sprintf(models.VerifierPromptTemplate, answer, strings.Join(fragments, models.ContextSeparator))
	raw, err := r.llm.Complete(ctx, []llmservice.Message{{Role: llmservice.RoleUser, Content: prompt}}, llmservice.Options{JSON: true, Temperature: 0.01})
	if err != nil {
		log.Warn().Err(err).Msg("Verifier call failed")
		return &Verification{Verdict: VerdictWarning, Issues: []Issue{{Type: "verifier_error", Detail: "verification unavailable"}}}
	}

	v, err := parseVerification(raw)
	if err != nil {
		log.Warn().Err(err).Msg("Verifier returned invalid JSON")
		return &Verification{Verdict: VerdictWarning, Issues: []Issue{{Type: "parser_error", Detail: err.Error()}}}
	}
	log.Debug().Str("verdict", v.Verdict).Int("issues", len(v.Issues)).Msg("Answer verified")
	return v
}

func parseVerification(raw string) (*Verification, error) {
	raw = strings.TrimSpace(thinkRe.ReplaceAllString(raw, ""))
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var v Verification
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &v); err != nil {
		return nil, err
	}
	switch v.Verdict {
	case VerdictOK, VerdictWarning, VerdictFail:
	default:
		v.Verdict = VerdictWarning
	}
	if v.Issues == nil {
		v.Issues = []Issue{}
	}
	return &v, nil
}
