// Package ranking orders scored entities and assigns competition positions.
package ranking

import (
	"cmp"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/victornm/etrivia/internal/domain"
)

// Entry is an entity to rank. TieBreak orders entries with equal scores, lower first;
// callers use the join sequence within a room or the account creation time.
type Entry struct {
	ID       string
	Name     string
	Score    decimal.Decimal
	TieBreak int64
}

// Rank sorts entries by score descending, then tie-break ascending, then ID ascending,
// and assigns 1-based competition positions: equal scores share the position of the first
// of them and the next distinct score resumes at its count-based position (1, 1, 3, 4).
// The input is not modified.
func Rank(entries []Entry) []domain.RankingEntry {
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, compare)

	ranked := make([]domain.RankingEntry, 0, len(sorted))
	position := 0
	for i, e := range sorted {
		if i == 0 || !e.Score.Equal(sorted[i-1].Score) {
			position = i + 1
		}

		ranked = append(ranked, domain.RankingEntry{
			ID:       e.ID,
			Name:     e.Name,
			Score:    e.Score.InexactFloat64(),
			Position: position,
		})
	}

	return ranked
}

// Top ranks entries and keeps the first n of them. n <= 0 keeps everything.
func Top(entries []Entry, n int) []domain.RankingEntry {
	ranked := Rank(entries)
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

func compare(a, b Entry) int {
	if c := b.Score.Cmp(a.Score); c != 0 {
		return c
	}
	if c := cmp.Compare(a.TieBreak, b.TieBreak); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}
