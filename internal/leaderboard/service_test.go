package leaderboard_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/etrivia/internal/domain"
	"github.com/victornm/etrivia/internal/errors"
	"github.com/victornm/etrivia/internal/event"
	"github.com/victornm/etrivia/internal/leaderboard"
	"github.com/victornm/etrivia/internal/leaderboard/redisstore"
)

func TestService_Register(t *testing.T) {
	ctx := context.Background()
	s := makeService(t)

	rec, err := s.Register(ctx, leaderboard.RegisterRequest{PlayerID: "p1", Username: "alice"})
	require.NoError(t, err)
	require.Equal(t, "p1", rec.PlayerID)
	require.True(t, rec.TotalScore.IsZero())

	_, err = s.Register(ctx, leaderboard.RegisterRequest{PlayerID: "p1", Username: "alice"})
	require.True(t, errors.IsCode(err, errors.CodeAlreadyExists), "got %v", err)

	_, err = s.Register(ctx, leaderboard.RegisterRequest{PlayerID: "p2"})
	require.True(t, errors.IsCode(err, errors.CodeInvalidArgument), "got %v", err)

	gen, err := s.Register(ctx, leaderboard.RegisterRequest{Username: "bob"})
	require.NoError(t, err)
	require.NotEmpty(t, gen.PlayerID)

	pos, err := s.GetPosition(ctx, gen.PlayerID)
	require.NoError(t, err)
	require.Equal(t, int64(2), pos.Position, "a new account ranks after older accounts with the same total")
}

func TestService_SubmitScore(t *testing.T) {
	type submit struct {
		game   string
		points int64
	}

	tests := map[string]struct {
		submits   []submit
		wantTotal int64
		wantGames map[string]int64
	}{
		"should sum scores across games": {
			submits:   []submit{{"TRIVIA", 30}, {"SPEED", 20}},
			wantTotal: 50,
			wantGames: map[string]int64{"TRIVIA": 30, "SPEED": 20},
		},
		"should overwrite the score of a game with the last submission": {
			submits:   []submit{{"TRIVIA", 30}, {"TRIVIA", 40}},
			wantTotal: 40,
			wantGames: map[string]int64{"TRIVIA": 40},
		},
		"should never decrease the total": {
			submits:   []submit{{"TRIVIA", 50}, {"TRIVIA", 20}},
			wantTotal: 50,
			wantGames: map[string]int64{"TRIVIA": 20},
		},
		"should raise the total again once the sum exceeds it": {
			submits:   []submit{{"TRIVIA", 50}, {"TRIVIA", 20}, {"SPEED", 40}},
			wantTotal: 60,
			wantGames: map[string]int64{"TRIVIA": 20, "SPEED": 40},
		},
		"should accept zero points": {
			submits:   []submit{{"TRIVIA", 0}},
			wantTotal: 0,
			wantGames: map[string]int64{"TRIVIA": 0},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s, store := makeServiceWithStore(t)
			register(t, s, "p1")

			var resp *leaderboard.SubmitScoreResponse
			for _, sub := range tc.submits {
				var err error
				resp, err = s.SubmitScore(ctx, leaderboard.SubmitScoreRequest{
					PlayerID: "p1",
					Game:     sub.game,
					Points:   decimal.NewFromInt(sub.points),
				})
				require.NoError(t, err)
			}

			assert.True(t, resp.NewTotal.Equal(decimal.NewFromInt(tc.wantTotal)), "total %s", resp.NewTotal)

			rec, err := store.Get(ctx, "p1")
			require.NoError(t, err)
			assert.True(t, rec.TotalScore.Equal(decimal.NewFromInt(tc.wantTotal)), "stored total %s", rec.TotalScore)
			require.Len(t, rec.GameScores, len(tc.wantGames))
			for g, want := range tc.wantGames {
				assert.True(t, rec.GameScores[g].Equal(decimal.NewFromInt(want)), "game %s: %s", g, rec.GameScores[g])
			}
		})
	}
}

func TestService_SubmitScoreErrors(t *testing.T) {
	ctx := context.Background()
	s := makeService(t)
	register(t, s, "p1")

	tests := map[string]struct {
		req  leaderboard.SubmitScoreRequest
		code errors.Code
	}{
		"unknown player": {
			req:  leaderboard.SubmitScoreRequest{PlayerID: "nobody", Game: "TRIVIA", Points: decimal.NewFromInt(1)},
			code: errors.CodeNotFound,
		},
		"negative points": {
			req:  leaderboard.SubmitScoreRequest{PlayerID: "p1", Game: "TRIVIA", Points: decimal.NewFromInt(-1)},
			code: errors.CodeInvalidArgument,
		},
		"missing game": {
			req:  leaderboard.SubmitScoreRequest{PlayerID: "p1", Points: decimal.NewFromInt(1)},
			code: errors.CodeInvalidArgument,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := s.SubmitScore(ctx, tc.req)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, tc.code), "got %v", err)
		})
	}
}

func TestService_GetRankingAndPosition(t *testing.T) {
	ctx := context.Background()
	s := makeService(t)

	// Registered in order, so a is the oldest account.
	for _, id := range []string{"a", "b", "c"} {
		register(t, s, id)
	}
	submit(t, s, "b", 100)
	submit(t, s, "a", 100)
	submit(t, s, "c", 90)

	rk, err := s.GetRanking(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []domain.RankingEntry{
		{ID: "a", Name: "user-a", Score: 100, Position: 1},
		{ID: "b", Name: "user-b", Score: 100, Position: 1},
		{ID: "c", Name: "user-c", Score: 90, Position: 3},
	}, rk)

	top1, err := s.GetRanking(ctx, 1)
	require.NoError(t, err)
	require.Len(t, top1, 1)
	require.Equal(t, "a", top1[0].ID, "the older account wins the tie")

	for id, want := range map[string]int64{"a": 1, "b": 2, "c": 3} {
		pos, err := s.GetPosition(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, pos.Position, "player %s", id)
	}

	_, err = s.GetPosition(ctx, "nobody")
	require.True(t, errors.IsCode(err, errors.CodeNotFound), "got %v", err)
}

func TestService_SubmitGameScores(t *testing.T) {
	ctx := context.Background()
	eb := event.NewBus()
	s, store := makeServiceWithStore(t, withEventBus(eb))

	register(t, s, "acc-1")
	register(t, s, "acc-2")

	eb.Publish(ctx, domain.EventGameEnded{
		RoomID: "r1",
		Players: []domain.Player{
			{ID: "p1", Name: "alice", Score: 30, AccountID: "acc-1"},
			{ID: "p2", Name: "guest", Score: 50},
			{ID: "p3", Name: "bob", Score: 10, AccountID: "acc-2"},
		},
	})
	eb.Stop()

	for id, want := range map[string]int64{"acc-1": 30, "acc-2": 10} {
		rec, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, rec.GameScores[leaderboard.DefaultGame].Equal(decimal.NewFromInt(want)), "account %s", id)
		assert.True(t, rec.TotalScore.Equal(decimal.NewFromInt(want)), "account %s", id)
	}
}

func TestService_SubmitGameScoresReportsFailure(t *testing.T) {
	s := makeService(t)

	err := s.SubmitGameScores(context.Background(), domain.EventGameEnded{
		RoomID:  "r1",
		Players: []domain.Player{{ID: "p1", Score: 10, AccountID: "unknown"}},
	})
	require.Error(t, err)
	require.True(t, errors.IsCode(err, errors.CodeNotFound), "got %v", err)
}

func TestService_PublishLeaderboardUpdated(t *testing.T) {
	type (
		inputs struct {
			submits []string
		}

		outputs struct {
			publishedEvents []domain.EventLeaderboardUpdated
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"should publish leaderboard.updated after a score is submitted": {
			arrange: func() inputs {
				return inputs{submits: []string{"p1"}}
			},
			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1)
				require.Equal(t, []domain.RankingEntry{
					{ID: "p1", Name: "user-p1", Score: 10, Position: 1},
				}, out.publishedEvents[0].Ranking)
			},
		},
		"should publish once per submission": {
			arrange: func() inputs {
				return inputs{submits: []string{"p1", "p2"}}
			},
			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 2)
			},
		},
		"should not publish when nothing is submitted": {
			arrange: func() inputs {
				return inputs{}
			},
			assert: func(t *testing.T, out outputs) {
				require.Empty(t, out.publishedEvents)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in, out := tt.arrange(), outputs{}

			eb := event.NewBus()

			var mu sync.Mutex
			event.On(eb, func(_ context.Context, e domain.EventLeaderboardUpdated) error {
				mu.Lock()
				out.publishedEvents = append(out.publishedEvents, e)
				mu.Unlock()
				return nil
			})

			s := makeService(t, withEventBus(eb))
			for _, id := range in.submits {
				register(t, s, id)
				submit(t, s, id, 10)
			}

			eb.Drain()
			eb.Stop()

			tt.assert(t, out)
		})
	}
}

func register(t *testing.T, s *leaderboard.Service, id string) {
	t.Helper()
	_, err := s.Register(context.Background(), leaderboard.RegisterRequest{PlayerID: id, Username: "user-" + id})
	require.NoError(t, err)
}

func submit(t *testing.T, s *leaderboard.Service, id string, points int64) {
	t.Helper()
	_, err := s.SubmitScore(context.Background(), leaderboard.SubmitScoreRequest{
		PlayerID: id,
		Game:     leaderboard.DefaultGame,
		Points:   decimal.NewFromInt(points),
	})
	require.NoError(t, err)
}

type options func(*leaderboard.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *leaderboard.Config) {
		c.EventBus = eb
	}
}

func makeService(t *testing.T, opts ...options) *leaderboard.Service {
	s, _ := makeServiceWithStore(t, opts...)
	return s
}

func makeServiceWithStore(t *testing.T, opts ...options) (*leaderboard.Service, *redisstore.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	store := redisstore.New(redisstore.Config{Redis: rc, Prefix: "test"})

	// Every registration is one second younger than the previous one.
	var (
		mu  sync.Mutex
		now = time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	)

	c := leaderboard.Config{
		EventBus: event.NewBus(),
		Store:    store,
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			now = now.Add(time.Second)
			return now
		},
	}

	for _, opt := range opts {
		opt(&c)
	}

	return leaderboard.NewService(c), store
}
