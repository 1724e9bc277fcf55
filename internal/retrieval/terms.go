package retrieval

import (
	"regexp"
	"sort"
	"strings"

	"juris-rag/internal/config"
	"juris-rag/internal/models"
)

var articleRe = regexp.MustCompile(models.ArticleRegex)

// TermExtractor derives required full-text terms from a question: cited
// statute articles, known place names and keyword stems.
type TermExtractor struct {
	places   []string
	stems    []string
	keywords map[string]string
}

func NewTermExtractor(cfg config.RetrievalConfig) *TermExtractor {
	stems := make([]string, 0, len(cfg.KeywordTerms))
	for stem := range cfg.KeywordTerms {
		stems = append(stems, stem)
	}
	sort.Strings(stems)
	return &TermExtractor{places: cfg.PlaceNames, stems: stems, keywords: cfg.KeywordTerms}
}

// RequiredTerms returns the terms in detection order without duplicates.
func (e *TermExtractor) RequiredTerms(query string) []string {
	lower := strings.ToLower(query)
	var terms []string
	add := func(t string) {
		for _, existing := range terms {
			if strings.EqualFold(existing, t) {
				return
			}
		}
		terms = append(terms, t)
	}

	for _, m := range articleRe.FindAllStringSubmatch(query, -1) {
		add(m[1])
	}
	for _, place := range e.places {
		if place != "" && strings.Contains(lower, strings.ToLower(place)) {
			add(place)
		}
	}
	for _, stem := range e.stems {
		if strings.Contains(lower, strings.ToLower(stem)) {
			add(e.keywords[stem])
		}
	}
	return terms
}

// Expression appends each required term to the query as a quoted phrase,
// which websearch_to_tsquery treats as mandatory.
func (e *TermExtractor) Expression(query string) string {
	expr := strings.TrimSpace(query)
	for _, t := range e.RequiredTerms(query) {
		expr += ` "` + strings.ReplaceAll(t, `"`, "") + `"`
	}
	return strings.TrimSpace(expr)
}
