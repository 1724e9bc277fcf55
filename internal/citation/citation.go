package citation

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"juris-rag/internal/models"
)

type Presigner interface {
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// CanonicalURL lowercases scheme and host and drops the query string and
// fragment, so signed links to the same object compare equal.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		if i := strings.IndexAny(raw, "?#"); i >= 0 {
			raw = raw[:i]
		}
		return strings.ToLower(raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// Deduplicator turns retrieved hits into the citation list shown to clients.
type Deduplicator struct {
	presigner Presigner
	ttl       time.Duration
}

// New returns a deduplicator. presigner may be nil, in which case documents
// without an origin link cannot be cited.
func New(presigner Presigner, ttl time.Duration) *Deduplicator {
	return &Deduplicator{presigner: presigner, ttl: ttl}
}

// Citations resolves a URL per hit and keeps the first hit for each canonical
// URL. Hits with no resolvable URL are deduped by document and left out.
func (d *Deduplicator) Citations(ctx context.Context, hits []models.Hit) []models.Citation {
	out := make([]models.Citation, 0, len(hits))
	seenURL := make(map[string]bool)
	resolved := make(map[string]string)

	for _, h := range hits {
		link, ok := resolved[h.DocID]
		if !ok {
			link = d.resolve(ctx, h)
			resolved[h.DocID] = link
		}
		if link == "" {
			continue
		}

		canonical := CanonicalURL(link)
		if seenURL[canonical] {
			continue
		}
		seenURL[canonical] = true
		out = append(out, models.Citation{
			Title: h.Title,
			Court: h.Court,
			Date:  h.PublishedOn,
			URL:   link,
			Score: h.Score,
		})
	}
	return out
}

func (d *Deduplicator) resolve(ctx context.Context, h models.Hit) string {
	if link := strings.TrimSpace(h.OriginLink); link != "" {
		return link
	}
	if h.StorageKey == "" || d.presigner == nil {
		return ""
	}
	link, err := d.presigner.Presign(ctx, h.StorageKey, d.ttl)
	if err != nil {
		log.Warn().Err(err).Str("doc_id", h.DocID).Msg("Presign failed, citation dropped")
		return ""
	}
	return link
}
