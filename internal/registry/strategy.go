package registry

import (
	"fmt"
	"strings"
	"unicode"
)

// MatchStrategy decides when two (symbol, name) pairs denote the same asset.
// Records whose keys are equal are considered a match.
type MatchStrategy interface {
	Name() string
	Key(symbol, name string) string
	Confidence() float64
}

// ExactStrategy matches on case-insensitive equality of symbol and name.
type ExactStrategy struct{}

// Name returns the strategy identifier.
func (ExactStrategy) Name() string { return "exact" }

// Key returns the lower-cased symbol and name.
func (ExactStrategy) Key(symbol, name string) string {
	return strings.ToLower(symbol) + "\x00" + strings.ToLower(name)
}

// Confidence returns the confidence attached to matches of this strategy.
func (ExactStrategy) Confidence() float64 { return 1.0 }

// NormalizedStrategy matches after folding case, whitespace and punctuation,
// so "Wrapped Ether" and "wrapped-ether" resolve to the same asset.
type NormalizedStrategy struct{}

// Name returns the strategy identifier.
func (NormalizedStrategy) Name() string { return "normalized" }

// Key returns symbol and name reduced to lower-case letters and digits.
func (NormalizedStrategy) Key(symbol, name string) string {
	return fold(symbol) + "\x00" + fold(name)
}

// Confidence returns the confidence attached to matches of this strategy.
func (NormalizedStrategy) Confidence() float64 { return 0.9 }

func fold(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// StrategyByName returns the strategy registered under name.
func StrategyByName(name string) (MatchStrategy, error) {
	switch strings.ToLower(name) {
	case "", "exact":
		return ExactStrategy{}, nil
	case "normalized":
		return NormalizedStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown match strategy: %s", name)
	}
}
