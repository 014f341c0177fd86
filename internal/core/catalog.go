package core

import (
	"context"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// CatalogSource supplies the read-only product catalog for a given user.
type CatalogSource interface {
	Catalog(ctx context.Context, phone string) ([]CatalogEntry, error)
}

// CatalogMatcher fuzzy-matches free-text item descriptions against catalog
// entries: case-insensitive, accent-insensitive, token-overlap scored, with
// edit distance as a tie-breaker for typos.
type CatalogMatcher struct {
	// MinOverlap is the minimum token-overlap ratio for a match.
	MinOverlap float64
}

// NewCatalogMatcher returns a matcher with the default overlap threshold.
func NewCatalogMatcher() *CatalogMatcher {
	return &CatalogMatcher{MinOverlap: 0.5}
}

var accentFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeDescription lowercases, strips accents, and trims a trailing
// plural 's' per token so "cámaras" matches "camara".
func normalizeDescription(s string) []string {
	folded, _, err := transform.String(accentFold, strings.ToLower(s))
	if err != nil {
		folded = strings.ToLower(s)
	}
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) > 3 && strings.HasSuffix(f, "s") {
			f = strings.TrimSuffix(f, "s")
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// Match returns the single best catalog entry for description, or false when
// no entry clears the overlap threshold.
func (m *CatalogMatcher) Match(description string, entries []CatalogEntry) (CatalogEntry, bool) {
	want := normalizeDescription(description)
	if len(want) == 0 {
		return CatalogEntry{}, false
	}

	var (
		best      CatalogEntry
		bestScore float64
		bestDist  int
		found     bool
	)
	wantJoined := strings.Join(want, " ")

	for _, e := range entries {
		have := normalizeDescription(e.Name)
		if len(have) == 0 {
			continue
		}
		score := tokenOverlap(want, have)
		if score < m.MinOverlap {
			continue
		}
		dist := levenshtein.ComputeDistance(wantJoined, strings.Join(have, " "))
		if !found || score > bestScore || (score == bestScore && dist < bestDist) {
			best, bestScore, bestDist, found = e, score, dist, true
		}
	}
	return best, found
}

// tokenOverlap scores how many of the query tokens appear in the candidate,
// counting close-edit tokens (distance <= 1 for short words, <= 2 otherwise)
// as hits so single-letter typos still match.
func tokenOverlap(want, have []string) float64 {
	if len(want) == 0 {
		return 0
	}
	hits := 0
	for _, w := range want {
		for _, h := range have {
			if w == h || closeEnough(w, h) {
				hits++
				break
			}
		}
	}
	return float64(hits) / float64(len(want))
}

func closeEnough(a, b string) bool {
	if len(a) < 4 || len(b) < 4 {
		return false
	}
	limit := 1
	if len(a) >= 7 {
		limit = 2
	}
	return levenshtein.ComputeDistance(a, b) <= limit
}

// StaticCatalog is an in-memory CatalogSource, used by tests and the REPL.
type StaticCatalog []CatalogEntry

func (c StaticCatalog) Catalog(context.Context, string) ([]CatalogEntry, error) {
	return c, nil
}
