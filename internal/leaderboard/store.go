package leaderboard

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/etrivia/internal/domain"
)

// Store persists player records. Implementations return a CodeNotFound error for unknown
// players and serialize Update per player.
type Store interface {
	Get(ctx context.Context, playerID string) (*domain.PlayerRecord, error)
	Create(ctx context.Context, rec domain.PlayerRecord) error

	// Update applies fn to the current record and persists the result atomically.
	Update(ctx context.Context, playerID string, fn func(rec *domain.PlayerRecord) error) (*domain.PlayerRecord, error)

	// FindTopByTotal returns at least the first limit records by total descending, then creation
	// ascending. Records tied with the last one may be appended.
	FindTopByTotal(ctx context.Context, limit int) ([]domain.PlayerRecord, error)

	// CountAhead counts records with a greater total, or an equal total and an earlier creation.
	CountAhead(ctx context.Context, total decimal.Decimal, createdAt time.Time) (int64, error)
}
