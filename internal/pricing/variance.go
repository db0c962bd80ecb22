package pricing

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// VarianceResult reports the move between two prices.
type VarianceResult struct {
	Absolute decimal.Decimal
	Percent  decimal.Decimal
}

// percentScale keeps percentage divisions at a stable precision.
const percentScale = 4

// Variance computes current minus previous. Percent is zero when the previous
// value is zero, so a price appearing from nothing never divides by zero.
func Variance(current, previous decimal.Decimal) VarianceResult {
	abs := current.Sub(previous)
	percent := decimal.Zero
	if !previous.IsZero() {
		percent = abs.DivRound(previous, percentScale+2).Mul(decimal.NewFromInt(100)).Round(percentScale)
	}
	return VarianceResult{Absolute: abs, Percent: percent}
}

// PriceMove is one consecutive change inside a history window.
type PriceMove struct {
	At       time.Time
	Previous decimal.Decimal
	Current  decimal.Decimal
	Variance VarianceResult
}

// WindowStats summarises an entity's price moves over a window.
type WindowStats struct {
	EntityID        int64
	Moves           []PriceMove
	LargestAbsolute decimal.Decimal
	LargestPercent  decimal.Decimal
}

// AnalyzeWindow walks the entity's history inside [from, to] and reports each
// consecutive move plus the largest absolute and percent swings. Used for
// drift reporting after bulk imports.
func (s *Service) AnalyzeWindow(ctx context.Context, entityID int64, from, to time.Time) (WindowStats, error) {
	records, err := s.repo.GetHistory(ctx, HistoryQuery{EntityID: entityID, From: from, To: to})
	if err != nil {
		return WindowStats{}, err
	}
	// History arrives newest first; walk it oldest first.
	sort.Slice(records, func(i, j int) bool {
		return records[i].EffectiveFrom.Before(records[j].EffectiveFrom)
	})

	stats := WindowStats{EntityID: entityID}
	for i := 1; i < len(records); i++ {
		prev, cur := records[i-1], records[i]
		move := PriceMove{
			At:       cur.EffectiveFrom,
			Previous: prev.Value,
			Current:  cur.Value,
			Variance: Variance(cur.Value, prev.Value),
		}
		stats.Moves = append(stats.Moves, move)
		if move.Variance.Absolute.Abs().GreaterThan(stats.LargestAbsolute.Abs()) {
			stats.LargestAbsolute = move.Variance.Absolute
		}
		if move.Variance.Percent.Abs().GreaterThan(stats.LargestPercent.Abs()) {
			stats.LargestPercent = move.Variance.Percent
		}
	}
	return stats, nil
}
