package manager

import "strings"

// WrappedTokenMap maps an origin asset id to the ids of assets that wrap it
// one-to-one and therefore share its market figures.
type WrappedTokenMap map[string][]string

// DefaultWrappedTokens is the wrapped-token configuration used when none is supplied.
var DefaultWrappedTokens = WrappedTokenMap{
	"ethereum":    {"weth", "stakewise-v3-oseth", "wrapped-steth", "staked-ether", "mantle-staked-ether", "mantle-restaked-eth"},
	"bitcoin":     {"wrapped-bitcoin"},
	"binancecoin": {"bridged-wbnb", "wbnb"},
}

// NewWrappedTokenMap builds a map from raw configuration, trimming ids and
// dropping empty or repeated entries while keeping their order.
func NewWrappedTokenMap(raw map[string][]string) WrappedTokenMap {
	m := make(WrappedTokenMap, len(raw))
	for origin, wrapped := range raw {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		seen := make(map[string]bool, len(wrapped))
		for _, id := range wrapped {
			id = strings.TrimSpace(id)
			if id == "" || id == origin || seen[id] {
				continue
			}
			seen[id] = true
			m[origin] = append(m[origin], id)
		}
	}
	return m
}

// Wrapped returns the wrapped ids of origin.
func (m WrappedTokenMap) Wrapped(origin string) []string {
	return m[origin]
}

// IsWrapped reports whether id wraps some origin asset.
func (m WrappedTokenMap) IsWrapped(id string) bool {
	for _, wrapped := range m {
		for _, w := range wrapped {
			if w == id {
				return true
			}
		}
	}
	return false
}
