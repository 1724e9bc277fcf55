package chromemdb

import (
	"strings"
	"unicode"
)

var foldAccents = strings.NewReplacer("á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u")

func normalize(s string) string {
	return foldAccents.Replace(strings.ToLower(s))
}

func containsFold(s, sub string) bool {
	return strings.Contains(normalize(s), normalize(sub))
}

// textQuery is a websearch-style expression: quoted phrases are required and
// at least one of the bare terms must appear.
type textQuery struct {
	phrases []string
	terms   []string
}

func parseTextQuery(raw string) textQuery {
	var q textQuery
	rest := raw
	for {
		open := strings.IndexByte(rest, '"')
		if open < 0 {
			break
		}
		closing := strings.IndexByte(rest[open+1:], '"')
		if closing < 0 {
			break
		}
		if phrase := strings.TrimSpace(rest[open+1 : open+1+closing]); phrase != "" {
			q.phrases = append(q.phrases, normalize(phrase))
		}
		rest = rest[:open] + " " + rest[open+1+closing+1:]
	}

	for _, f := range strings.FieldsFunc(normalize(rest), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		// short words are mostly stopwords and would match everything
		if len([]rune(f)) >= 4 || isDigits(f) {
			q.terms = append(q.terms, f)
		}
	}
	return q
}

func (q textQuery) empty() bool {
	return len(q.phrases) == 0 && len(q.terms) == 0
}

func (q textQuery) match(doc string) bool {
	if q.empty() {
		return true
	}
	doc = normalize(doc)
	for _, p := range q.phrases {
		if !strings.Contains(doc, p) {
			return false
		}
	}
	if len(q.terms) == 0 {
		return true
	}
	for _, t := range q.terms {
		if strings.Contains(doc, t) {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}
