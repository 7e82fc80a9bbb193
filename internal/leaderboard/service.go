package leaderboard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/etrivia/internal/domain"
	"github.com/victornm/etrivia/internal/errors"
	"github.com/victornm/etrivia/internal/event"
	"github.com/victornm/etrivia/internal/ranking"
)

const (
	DefaultGame  = "TRIVIA"
	DefaultLimit = 10

	maxConcurrentSubmits = 8
)

type Config struct {
	EventBus *event.Bus
	Store    Store
	// Game is the name room scores are submitted under when a game ends.
	Game string
	// Limit is the ranking size when the caller does not ask for one.
	Limit int
	Now   func() time.Time
}

type Service struct {
	eb    *event.Bus
	store Store
	game  string
	limit int
	now   func() time.Time
}

func NewService(c Config) *Service {
	if c.Game == "" {
		c.Game = DefaultGame
	}
	if c.Limit <= 0 {
		c.Limit = DefaultLimit
	}
	if c.Now == nil {
		c.Now = time.Now
	}

	s := &Service{
		eb:    c.EventBus,
		store: c.Store,
		game:  c.Game,
		limit: c.Limit,
		now:   c.Now,
	}

	if s.eb != nil {
		event.On(s.eb, s.SubmitGameScores)
		event.On(s.eb, s.PublishLeaderboard)
	}

	return s
}

type RegisterRequest struct {
	// PlayerID is generated when empty.
	PlayerID string
	Username string
}

// Register creates the persistent record of an account with no scores.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*domain.PlayerRecord, error) {
	if req.Username == "" {
		return nil, errors.InvalidArgument("username is required")
	}

	if req.PlayerID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("leaderboard: generate player id: %w", err)
		}
		req.PlayerID = id.String()
	}

	rec := domain.PlayerRecord{
		PlayerID:   req.PlayerID,
		Username:   req.Username,
		GameScores: map[string]decimal.Decimal{},
		TotalScore: decimal.Zero,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("leaderboard: register: player=%s: %w", req.PlayerID, err)
	}

	return &rec, nil
}

type SubmitScoreRequest struct {
	PlayerID string
	Game     string
	Points   decimal.Decimal
}

type SubmitScoreResponse struct {
	Record   domain.PlayerRecord
	NewTotal decimal.Decimal
}

// SubmitScore records points as the player's score for game, replacing the previous one
// even when it was higher. The total is recomputed as the sum over games and only stored
// when it beats the stored total, so totals never decrease.
func (s *Service) SubmitScore(ctx context.Context, req SubmitScoreRequest) (*SubmitScoreResponse, error) {
	if req.Game == "" {
		return nil, errors.InvalidArgument("game is required")
	}
	if req.Points.IsNegative() {
		return nil, errors.InvalidArgument("points must not be negative: %s", req.Points)
	}

	rec, err := s.store.Update(ctx, req.PlayerID, func(rec *domain.PlayerRecord) error {
		if rec.GameScores == nil {
			rec.GameScores = make(map[string]decimal.Decimal)
		}
		rec.GameScores[req.Game] = req.Points

		if total := rec.SumGameScores(); total.GreaterThan(rec.TotalScore) {
			rec.TotalScore = total
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("leaderboard: submit score: player=%s: %w", req.PlayerID, err)
	}

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventScoreUpdated{Record: *rec, Game: req.Game})
	}

	return &SubmitScoreResponse{
		Record:   *rec,
		NewTotal: rec.TotalScore,
	}, nil
}

// GetRanking returns the top limit players by total score; equal totals are ordered by
// account creation, the oldest account first.
func (s *Service) GetRanking(ctx context.Context, limit int) ([]domain.RankingEntry, error) {
	if limit <= 0 {
		limit = s.limit
	}

	recs, err := s.store.FindTopByTotal(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: get ranking: %w", err)
	}

	entries := make([]ranking.Entry, 0, len(recs))
	for _, r := range recs {
		entries = append(entries, ranking.Entry{
			ID:       r.PlayerID,
			Name:     r.Username,
			Score:    r.TotalScore,
			TieBreak: r.CreatedAt.UnixNano(),
		})
	}

	return ranking.Top(entries, limit), nil
}

// GetPosition returns the unique place of a player: players with a greater total, plus
// players with the same total and an older account, plus one.
func (s *Service) GetPosition(ctx context.Context, playerID string) (*domain.Position, error) {
	rec, err := s.store.Get(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: get position: player=%s: %w", playerID, err)
	}

	ahead, err := s.store.CountAhead(ctx, rec.TotalScore, rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: get position: count: %w", err)
	}

	return &domain.Position{
		PlayerID:   rec.PlayerID,
		Username:   rec.Username,
		TotalScore: rec.TotalScore,
		Position:   ahead + 1,
	}, nil
}

// SubmitGameScores submits the final room score of every account-linked player.
// Guests are skipped. The first failure is returned; nothing is retried.
func (s *Service) SubmitGameScores(ctx context.Context, e domain.EventGameEnded) error {
	var eg errgroup.Group
	eg.SetLimit(maxConcurrentSubmits)

	for _, p := range e.Players {
		if p.AccountID == "" {
			continue
		}

		eg.Go(func() error {
			_, err := s.SubmitScore(ctx, SubmitScoreRequest{
				PlayerID: p.AccountID,
				Game:     s.game,
				Points:   decimal.NewFromInt(p.Score),
			})
			if err != nil {
				return fmt.Errorf("room=%s: %w", e.RoomID, err)
			}

			slog.InfoContext(ctx, "leaderboard: game score submitted",
				"room", e.RoomID,
				"player", p.AccountID,
				"points", p.Score,
			)
			return nil
		})
	}

	return eg.Wait()
}

// PublishLeaderboard publishes the current top ranking after a score change.
func (s *Service) PublishLeaderboard(ctx context.Context, _ domain.EventScoreUpdated) error {
	rk, err := s.GetRanking(ctx, s.limit)
	if err != nil {
		return err
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{Ranking: rk})
	return nil
}
