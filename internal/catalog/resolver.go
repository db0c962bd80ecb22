package catalog

import (
	"context"
	"strings"
)

// minTokenOverlap is the number of shared words a partial match needs before
// it is trusted. Single-word overlaps ("FIO") match half the catalog.
const minTokenOverlap = 2

// substringBonus rewards one normalized name containing the other whole.
const substringBonus = 2

// RepositoryPort abstracts catalog storage for the resolver.
type RepositoryPort interface {
	ListActiveEntries(ctx context.Context) ([]NameEntry, error)
}

// Resolver turns free-text item descriptions into raw material identities.
// It is a pure lookup: registration of new materials is the caller's call.
type Resolver struct {
	repo RepositoryPort
}

// NewResolver constructs a Resolver.
func NewResolver(repo RepositoryPort) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve matches freeText against active canonical names. Exact normalized
// equality wins with confidence 1. Otherwise the entry sharing the most words
// with the input wins, with a bonus when one name contains the other; at least
// minTokenOverlap shared words are required. Ties go to the lowest entity id.
func (r *Resolver) Resolve(ctx context.Context, freeText string) (Resolution, error) {
	normalized := Normalize(freeText)
	if normalized == "" {
		return Resolution{}, ErrEmptyInput
	}

	entries, err := r.repo.ListActiveEntries(ctx)
	if err != nil {
		return Resolution{}, err
	}

	for _, entry := range entries {
		if entry.Normalized == normalized {
			return Resolution{EntityID: entry.EntityID, MatchedName: entry.Name, Confidence: 1.0}, nil
		}
	}

	inputTokens := Tokens(normalized)
	var (
		best      NameEntry
		bestScore int
		tied      bool
		found     bool
	)
	for _, entry := range entries {
		overlap := tokenOverlap(inputTokens, Tokens(entry.Normalized))
		if overlap < minTokenOverlap {
			continue
		}
		score := overlap
		if strings.Contains(normalized, entry.Normalized) || strings.Contains(entry.Normalized, normalized) {
			score += substringBonus
		}
		switch {
		case !found || score > bestScore:
			best, bestScore, tied, found = entry, score, false, true
		case score == bestScore && entry.EntityID != best.EntityID:
			tied = true
			if entry.EntityID < best.EntityID {
				best = entry
			}
		}
	}
	if !found {
		return Resolution{}, ErrNotFound
	}

	return Resolution{
		EntityID:    best.EntityID,
		MatchedName: best.Name,
		Confidence:  partialConfidence(bestScore, len(inputTokens)),
		Ambiguous:   tied,
	}, nil
}

func tokenOverlap(a, b []string) int {
	set := make(map[string]struct{}, len(a))
	for _, tok := range a {
		set[tok] = struct{}{}
	}
	count := 0
	for _, tok := range b {
		if _, ok := set[tok]; ok {
			count++
			delete(set, tok)
		}
	}
	return count
}

// partialConfidence scales the score against the best a partial match could
// reach for this input (every word shared plus the substring bonus), capped
// below 1 so only exact matches report certainty.
func partialConfidence(score, inputTokens int) float64 {
	max := inputTokens + substringBonus
	if max <= 0 {
		return 0
	}
	conf := float64(score) / float64(max)
	if conf >= 1 {
		conf = 0.99
	}
	return conf
}
