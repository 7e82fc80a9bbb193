package ranking_test

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/victornm/etrivia/internal/domain"
	"github.com/victornm/etrivia/internal/ranking"
)

func entry(id string, score int64, tieBreak int64) ranking.Entry {
	return ranking.Entry{ID: id, Name: "name-" + id, Score: decimal.NewFromInt(score), TieBreak: tieBreak}
}

func positions(ranked []domain.RankingEntry) []int {
	out := make([]int, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.Position)
	}
	return out
}

func ids(ranked []domain.RankingEntry) []string {
	out := make([]string, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.ID)
	}
	return out
}

func TestRank(t *testing.T) {
	tests := map[string]struct {
		in            []ranking.Entry
		wantIDs       []string
		wantPositions []int
	}{
		"ties share a position and the next score resumes at its count": {
			in: []ranking.Entry{
				entry("a", 50, 1),
				entry("b", 50, 2),
				entry("c", 30, 3),
				entry("d", 10, 4),
			},
			wantIDs:       []string{"a", "b", "c", "d"},
			wantPositions: []int{1, 1, 3, 4},
		},
		"tie-break key orders equal scores": {
			in: []ranking.Entry{
				entry("late", 100, 20),
				entry("early", 100, 10),
				entry("low", 90, 1),
			},
			wantIDs:       []string{"early", "late", "low"},
			wantPositions: []int{1, 1, 3},
		},
		"exact ties fall back to the identifier": {
			in: []ranking.Entry{
				entry("b", 10, 1),
				entry("a", 10, 1),
			},
			wantIDs:       []string{"a", "b"},
			wantPositions: []int{1, 1},
		},
		"all zero scores": {
			in: []ranking.Entry{
				entry("a", 0, 3),
				entry("b", 0, 1),
				entry("c", 0, 2),
			},
			wantIDs:       []string{"b", "c", "a"},
			wantPositions: []int{1, 1, 1},
		},
		"empty input": {
			in:            nil,
			wantIDs:       []string{},
			wantPositions: []int{},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got := ranking.Rank(tt.in)
			require.Equal(t, tt.wantIDs, ids(got))
			require.Equal(t, tt.wantPositions, positions(got))
		})
	}
}

func TestRank_IndependentOfInputOrder(t *testing.T) {
	in := []ranking.Entry{
		entry("a", 70, 5),
		entry("b", 70, 2),
		entry("c", 40, 1),
		entry("d", 90, 9),
		entry("e", 40, 3),
		entry("f", 10, 4),
	}
	want := ranking.Rank(in)

	r := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		shuffled := append([]ranking.Entry(nil), in...)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		require.Equal(t, want, ranking.Rank(shuffled))
	}
}

func TestRank_DoesNotMutateInput(t *testing.T) {
	in := []ranking.Entry{entry("low", 1, 1), entry("high", 2, 2)}
	_ = ranking.Rank(in)
	require.Equal(t, "low", in[0].ID)
}

func TestTop(t *testing.T) {
	in := []ranking.Entry{
		entry("a", 100, 1),
		entry("b", 100, 2),
		entry("c", 90, 3),
	}

	got := ranking.Top(in, 2)
	require.Equal(t, []string{"a", "b"}, ids(got))

	require.Len(t, ranking.Top(in, 0), 3)
	require.Len(t, ranking.Top(in, 10), 3)
}
