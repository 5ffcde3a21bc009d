package registry

import (
	"strings"
	"sync"
)

// SearchIndex is an inverted index from lower-cased terms (symbol, name,
// listing base and pair) to asset ids in the order they were registered.
type SearchIndex struct {
	mu    sync.RWMutex
	terms map[string][]string
}

// NewSearchIndex creates an empty SearchIndex.
func NewSearchIndex() *SearchIndex {
	return &SearchIndex{terms: make(map[string][]string)}
}

// NormalizeTerm returns the index form of a search term.
func NormalizeTerm(term string) string {
	return strings.ToLower(strings.TrimSpace(term))
}

// Add registers assetID under every non-empty term. Duplicate registrations are ignored.
func (s *SearchIndex) Add(assetID string, terms ...string) {
	if assetID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, term := range terms {
		term = NormalizeTerm(term)
		if term == "" || containsString(s.terms[term], assetID) {
			continue
		}
		s.terms[term] = append(s.terms[term], assetID)
	}
}

// Lookup returns the asset ids registered under term.
func (s *SearchIndex) Lookup(term string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.terms[NormalizeTerm(term)]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// Size returns the number of indexed terms.
func (s *SearchIndex) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.terms)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
