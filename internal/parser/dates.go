package parser

import (
	"strings"
	"time"
)

var dateLayouts = []string{"2006-01-02", "02/01/2006", "02-01-2006", "2/1/2006", "2-1-2006"}

var nullDates = map[string]bool{"": true, "n/a": true, "na": true, "sin-fecha": true, "sin fecha": true, "null": true, "none": true}

// ParseDate reads a ruling date written as ISO or day-first with slashes or
// dashes. Quotes are stripped. Placeholders such as "n/a" or "sin-fecha" and
// anything unparseable return nil.
func ParseDate(raw string) *time.Time {
	s := strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), `"'“”`))
	if nullDates[strings.ToLower(s)] {
		return nil
	}
	// ISO timestamps keep only their date part
	if len(s) > 10 && s[4] == '-' && (s[10] == 'T' || s[10] == ' ') {
		s = s[:10]
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
