package rag

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"juris-rag/internal/config"
	"juris-rag/internal/llmservice"
	"juris-rag/internal/models"
)

var (
	urlRe      = regexp.MustCompile(models.URLRegex)
	thinkRe    = regexp.MustCompile(models.ThinkTag)
	spaceRunRe = regexp.MustCompile(`[ \t]{2,}`)
	emptyRefRe = regexp.MustCompile(`\(\s*\)|\[\s*\]|<\s*>`)
)

// ScrubURLs removes every raw URL from text.
func ScrubURLs(text string) string {
	if !urlRe.MatchString(text) {
		return text
	}
	// Sentence punctuation glued to the end of a URL is kept.
	text = urlRe.ReplaceAllStringFunc(text, func(u string) string {
		return u[len(strings.TrimRight(u, ".,;:!?")):]
	})
	text = emptyRefRe.ReplaceAllString(text, "")
	return spaceRunRe.ReplaceAllString(text, " ")
}

// Clean post-processes model output before it reaches a client.
func Clean(answer string) string {
	answer = thinkRe.ReplaceAllString(answer, "")
	return strings.TrimSpace(ScrubURLs(answer))
}

// ExtractedAttachment is an attachment already turned into text.
type ExtractedAttachment struct {
	Name string
	Text string
}

type WebResult struct {
	Title   string
	Snippet string
	URL     string
}

// PromptInput holds everything a prompt can be grounded on. Groups are
// rendered in priority order: case context, attachments, jurisprudence, web.
type PromptInput struct {
	Question    string
	CaseContext string
	Attachments []ExtractedAttachment
	Hits        []models.Hit
	Web         []WebResult
	Summary     string
	History     []models.Message
}

// Budgets are per-group character caps.
type Budgets struct {
	CaseContext int
	Attachments int
	Juris       int
	Web         int
}

type Composer struct {
	budgets Budgets
}

func NewComposer(cfg config.RAGConfig) *Composer {
	return &Composer{budgets: Budgets{
		CaseContext: cfg.CaseContextChars,
		Attachments: cfg.AttachmentChars,
		Juris:       cfg.JurisContextChars,
		Web:         cfg.WebContextChars,
	}}
}

// BuildPrompt renders the system prompt, the optional history summary, the
// recent history and a final user turn carrying the grounded context.
func (c *Composer) BuildPrompt(in PromptInput) []llmservice.Message {
	msgs := []llmservice.Message{{Role: llmservice.RoleSystem, Content: models.SystemPrompt}}
	if s := strings.TrimSpace(in.Summary); s != "" {
		msgs = append(msgs, llmservice.Message{
			Role:    llmservice.RoleSystem,
			Content: "Resumen de la conversación previa:\n" + ScrubURLs(s),
		})
	}
	for _, m := range in.History {
		role := llmservice.RoleUser
		if m.Role == models.RoleAssistant {
			role = llmservice.RoleAssistant
		}
		msgs = append(msgs, llmservice.Message{Role: role, Content: ScrubURLs(m.Content)})
	}

	var sb strings.Builder
	sb.WriteString("Consulta del usuario:\n")
	sb.WriteString(strings.TrimSpace(in.Question))
	sb.WriteString("\n\n")
	sb.WriteString(c.Context(in))
	sb.WriteString("\n\n")
	sb.WriteString(models.AnswerInstructions)

	return append(msgs, llmservice.Message{Role: llmservice.RoleUser, Content: sb.String()})
}

// Context renders the four context groups. Each group stays within its own
// budget so a large attachment never crowds out jurisprudence.
func (c *Composer) Context(in PromptInput) string {
	var groups []string

	if text := strings.TrimSpace(in.CaseContext); text != "" {
		groups = append(groups, "=== CONTEXTO DE LA CAUSA ===\n"+truncate(ScrubURLs(text), c.budgets.CaseContext))
	}

	if blocks := c.attachmentBlocks(in.Attachments); len(blocks) > 0 {
		groups = append(groups, "=== DOCUMENTOS DE LA CAUSA ===\n"+strings.Join(blocks, models.ContextSeparator))
	}

	source := 0
	var juris []string
	used := 0
	for _, h := range in.Hits {
		block := hitBlock(source+1, h)
		n := utf8.RuneCountInString(block)
		if used+n > c.budgets.Juris {
			continue
		}
		source++
		used += n
		juris = append(juris, block)
	}
	if len(juris) > 0 {
		groups = append(groups, "=== JURISPRUDENCIA Y DOCTRINA ===\n"+strings.Join(juris, models.ContextSeparator))
	}

	var web []string
	used = 0
	for _, w := range in.Web {
		block := fmt.Sprintf("[Source %d] %s\n%s", source+1, strings.TrimSpace(w.Title), ScrubURLs(strings.TrimSpace(w.Snippet)))
		n := utf8.RuneCountInString(block)
		if used+n > c.budgets.Web {
			continue
		}
		source++
		used += n
		web = append(web, block)
	}
	if len(web) > 0 {
		groups = append(groups, "=== FUENTES WEB ===\n"+strings.Join(web, models.ContextSeparator))
	}

	if len(groups) == 0 {
		return "(sin contexto)"
	}
	return strings.Join(groups, "\n\n")
}

// attachmentBlocks fills the attachment budget in order, truncating the
// document that crosses it and dropping the rest.
func (c *Composer) attachmentBlocks(atts []ExtractedAttachment) []string {
	var blocks []string
	remaining := c.budgets.Attachments
	for _, a := range atts {
		text := strings.TrimSpace(a.Text)
		if text == "" {
			continue
		}
		header := fmt.Sprintf("[Doc %d] %s\n", len(blocks)+1, a.Name)
		room := remaining - utf8.RuneCountInString(header)
		if room <= 0 {
			break
		}
		body := truncate(ScrubURLs(text), room)
		blocks = append(blocks, header+body)
		remaining = room - utf8.RuneCountInString(body)
	}
	return blocks
}

func hitBlock(n int, h models.Hit) string {
	date := "s/f"
	if h.PublishedOn != nil {
		date = h.PublishedOn.Format("2006-01-02")
	}
	header := fmt.Sprintf("[Source %d] %s | %s | %s", n, strings.TrimSpace(h.Title), strings.TrimSpace(h.Court), date)
	if h.Section != "" && h.Section != models.BodySection {
		header += " | " + h.Section
	}
	return header + "\n" + ScrubURLs(strings.TrimSpace(h.Content))
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	r := []rune(s)
	return string(r[:maxChars])
}
