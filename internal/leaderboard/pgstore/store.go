package pgstore

import (
	"context"
	_ "embed"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/victornm/etrivia/internal/domain"
	"github.com/victornm/etrivia/internal/errors"
	"github.com/victornm/etrivia/internal/leaderboard"
)

const codeUniqueViolation = "23505"

//go:embed schema.sql
var schema string

var _ leaderboard.Store = (*Store)(nil)

type Config struct {
	DB *pgxpool.Pool
}

type Store struct {
	db *pgxpool.Pool
}

func New(c Config) *Store {
	return &Store{db: c.DB}
}

// Migrate creates the players table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("pgstore: migrate: %w", err)
	}
	return nil
}

const selectColumns = `player_id, username, game_scores, total_score, create_time`

func (s *Store) Get(ctx context.Context, playerID string) (*domain.PlayerRecord, error) {
	const stmt = `SELECT ` + selectColumns + ` FROM players WHERE player_id = $1;`

	rows, err := s.db.Query(ctx, stmt, playerID)
	if err != nil {
		return nil, err
	}

	rec, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("player not found: %s", playerID)
	}
	if err != nil {
		return nil, err
	}

	return &rec, nil
}

func (s *Store) Create(ctx context.Context, rec domain.PlayerRecord) error {
	const stmt = `
INSERT INTO players (player_id, username, game_scores, total_score, create_time)
VALUES ($1, $2, $3, $4, $5);`

	_, err := s.db.Exec(ctx, stmt, rec.PlayerID, rec.Username, gameScores(rec), rec.TotalScore, rec.CreatedAt)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("player already exists: %s", rec.PlayerID),
			errors.WithCause(err))
	}

	return err
}

// Update locks the player's row for the duration of fn, so concurrent updates of the same
// player are applied one after the other.
func (s *Store) Update(ctx context.Context, playerID string, fn func(rec *domain.PlayerRecord) error) (_ *domain.PlayerRecord, err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		selStmt = `SELECT ` + selectColumns + ` FROM players WHERE player_id = $1 FOR UPDATE;`
		updStmt = `UPDATE players SET game_scores = $2, total_score = $3 WHERE player_id = $1;`
	)

	rows, err := tx.Query(ctx, selStmt, playerID)
	if err != nil {
		return nil, fmt.Errorf("select player: %w", err)
	}

	rec, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("player not found: %s", playerID)
	}
	if err != nil {
		return nil, fmt.Errorf("scan player: %w", err)
	}

	if err = fn(&rec); err != nil {
		return nil, err
	}

	if _, err = tx.Exec(ctx, updStmt, playerID, gameScores(rec), rec.TotalScore); err != nil {
		return nil, fmt.Errorf("update player: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return &rec, nil
}

func (s *Store) FindTopByTotal(ctx context.Context, limit int) ([]domain.PlayerRecord, error) {
	const stmt = `
SELECT ` + selectColumns + `
FROM players
ORDER BY total_score DESC, create_time ASC, player_id ASC
LIMIT $1;`

	rows, err := s.db.Query(ctx, stmt, limit)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, scanRecord)
}

func (s *Store) CountAhead(ctx context.Context, total decimal.Decimal, createdAt time.Time) (int64, error) {
	const stmt = `
SELECT COUNT(*)
FROM players
WHERE total_score > $1 OR (total_score = $1 AND create_time < $2);`

	var n int64
	if err := s.db.QueryRow(ctx, stmt, total, createdAt).Scan(&n); err != nil {
		return 0, err
	}

	return n, nil
}

func scanRecord(r pgx.CollectableRow) (domain.PlayerRecord, error) {
	var rec domain.PlayerRecord
	if err := r.Scan(&rec.PlayerID, &rec.Username, &rec.GameScores, &rec.TotalScore, &rec.CreatedAt); err != nil {
		return domain.PlayerRecord{}, err
	}

	if rec.GameScores == nil {
		rec.GameScores = make(map[string]decimal.Decimal)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()

	return rec, nil
}

func gameScores(rec domain.PlayerRecord) map[string]decimal.Decimal {
	if rec.GameScores == nil {
		return map[string]decimal.Decimal{}
	}
	return rec.GameScores
}
