package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryIndex struct {
	entries []NameEntry
}

func (m *memoryIndex) ListActiveEntries(ctx context.Context) ([]NameEntry, error) {
	return m.entries, nil
}

func indexOf(names map[int64]string) *memoryIndex {
	idx := &memoryIndex{}
	for id, name := range names {
		idx.entries = append(idx.entries, NameEntry{EntityID: id, Name: name, Normalized: Normalize(name)})
	}
	return idx
}

func TestResolveExactMatch(t *testing.T) {
	idx := indexOf(map[int64]string{
		1: "FIO 2.0X7.0 (CANTO QUADRADO)",
		2: "FIO 1.5X7.0 (CANTO QUADRADO)",
	})
	resolver := NewResolver(idx)

	res, err := resolver.Resolve(context.Background(), "-FIO 2.0X7.0 CANTO QUADRADO - inf KG")
	require.NoError(t, err)
	require.Equal(t, int64(1), res.EntityID)
	require.Equal(t, 1.0, res.Confidence)
	require.False(t, res.Ambiguous)
}

func TestResolvePartialMatch(t *testing.T) {
	idx := indexOf(map[int64]string{
		1: "FIO 2.0X7.0 CANTO QUADRADO",
		2: "FIO 1.5X7.0 CANTO QUADRADO",
		3: "VERNIZ ASA 952 INCOLOR",
	})
	resolver := NewResolver(idx)

	res, err := resolver.Resolve(context.Background(), "FIO 2.0X7.0 CANTO QUADRADO ROLO 25KG")
	require.NoError(t, err)
	require.Equal(t, int64(1), res.EntityID)
	require.Greater(t, res.Confidence, 0.0)
	require.Less(t, res.Confidence, 1.0)
}

func TestResolveSubstringBonusBreaksOverlapTie(t *testing.T) {
	idx := indexOf(map[int64]string{
		// Both entries share two tokens with the input; only entry 2 is a
		// whole substring of it.
		1: "VERNIZ ASA FOSCO",
		2: "VERNIZ ASA",
	})
	resolver := NewResolver(idx)

	res, err := resolver.Resolve(context.Background(), "VERNIZ ASA 952 INCOLOR 18L")
	require.NoError(t, err)
	require.Equal(t, int64(2), res.EntityID)
	require.False(t, res.Ambiguous)
}

func TestResolveRequiresTwoSharedTokens(t *testing.T) {
	idx := indexOf(map[int64]string{
		1: "FIO 2.0X7.0 CANTO QUADRADO",
	})
	resolver := NewResolver(idx)

	_, err := resolver.Resolve(context.Background(), "FIO GALVANIZADO")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResolveTieBreaksToLowestID(t *testing.T) {
	idx := indexOf(map[int64]string{
		7: "FIO CANTO REDONDO",
		3: "FIO CANTO OVAL",
	})
	resolver := NewResolver(idx)

	res, err := resolver.Resolve(context.Background(), "FIO CANTO ESPECIAL")
	require.NoError(t, err)
	require.Equal(t, int64(3), res.EntityID)
	require.True(t, res.Ambiguous)
}

func TestResolveEmptyInput(t *testing.T) {
	resolver := NewResolver(&memoryIndex{})

	_, err := resolver.Resolve(context.Background(), " -_- ")
	require.ErrorIs(t, err, ErrEmptyInput)
}

func TestResolveNothingRegistered(t *testing.T) {
	resolver := NewResolver(&memoryIndex{})

	_, err := resolver.Resolve(context.Background(), "FIO 2.0X7.0 CANTO QUADRADO")
	require.ErrorIs(t, err, ErrNotFound)
}
