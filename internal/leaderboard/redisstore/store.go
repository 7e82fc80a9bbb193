// Package redisstore keeps player records in Redis: one hash per player holding the
// username, creation time, total and per-game scores, plus a sorted set of totals used
// for ranking queries.
package redisstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/victornm/etrivia/internal/domain"
	"github.com/victornm/etrivia/internal/errors"
	"github.com/victornm/etrivia/internal/leaderboard"
)

const (
	fieldUsername   = "username"
	fieldCreatedAt  = "created_at"
	fieldTotal      = "total"
	gameFieldPrefix = "game:"

	maxTxRetries = 10
)

var _ leaderboard.Store = (*Store)(nil)

type Config struct {
	Redis  redis.UniversalClient
	Prefix string
}

type Store struct {
	redis  redis.UniversalClient
	prefix string
}

func New(c Config) *Store {
	return &Store{
		redis:  c.Redis,
		prefix: c.Prefix,
	}
}

func (s *Store) Get(ctx context.Context, playerID string) (*domain.PlayerRecord, error) {
	return s.get(ctx, s.redis, playerID)
}

func (s *Store) Create(ctx context.Context, rec domain.PlayerRecord) error {
	key := s.playerKey(rec.PlayerID)

	return s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("exists: %w", err)
		}
		if n > 0 {
			return errors.AlreadyExists("player already exists: %s", rec.PlayerID)
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			s.write(ctx, p, rec)
			return nil
		})
		return err
	}, key)
}

func (s *Store) Update(ctx context.Context, playerID string, fn func(rec *domain.PlayerRecord) error) (*domain.PlayerRecord, error) {
	key := s.playerKey(playerID)

	var updated *domain.PlayerRecord
	err := s.watch(ctx, func(tx *redis.Tx) error {
		rec, err := s.get(ctx, tx, playerID)
		if err != nil {
			return err
		}

		if err := fn(rec); err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			s.write(ctx, p, *rec)
			return nil
		})
		if err != nil {
			return err
		}

		updated = rec
		return nil
	}, key)
	if err != nil {
		return nil, err
	}

	return updated, nil
}

func (s *Store) FindTopByTotal(ctx context.Context, limit int) ([]domain.PlayerRecord, error) {
	if limit <= 0 {
		return []domain.PlayerRecord{}, nil
	}

	top, err := s.redis.ZRevRangeWithScores(ctx, s.totalsKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange: %w", err)
	}

	ids := make([]string, 0, len(top))
	seen := make(map[string]struct{}, len(top))
	for _, z := range top {
		id := z.Member.(string)
		ids = append(ids, id)
		seen[id] = struct{}{}
	}

	// The sorted set orders equal totals by member, not by creation, so everyone tied
	// with the last entry is fetched and the caller decides who makes the cut.
	if len(top) == limit {
		last := formatScore(top[len(top)-1].Score)
		tied, err := s.redis.ZRangeByScore(ctx, s.totalsKey(), &redis.ZRangeBy{Min: last, Max: last}).Result()
		if err != nil {
			return nil, fmt.Errorf("zrangebyscore: %w", err)
		}

		for _, id := range tied {
			if _, ok := seen[id]; !ok {
				ids = append(ids, id)
			}
		}
	}

	return s.getMany(ctx, ids)
}

func (s *Store) CountAhead(ctx context.Context, total decimal.Decimal, createdAt time.Time) (int64, error) {
	score := formatScore(total.InexactFloat64())

	greater, err := s.redis.ZCount(ctx, s.totalsKey(), "("+score, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("zcount: %w", err)
	}

	tied, err := s.redis.ZRangeByScore(ctx, s.totalsKey(), &redis.ZRangeBy{Min: score, Max: score}).Result()
	if err != nil {
		return 0, fmt.Errorf("zrangebyscore: %w", err)
	}

	cmds, err := s.redis.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, id := range tied {
			p.HGet(ctx, s.playerKey(id), fieldCreatedAt)
		}
		return nil
	})
	if err != nil && !stderrors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("get creation times: %w", err)
	}

	older := int64(0)
	for _, cmd := range cmds {
		v, err := cmd.(*redis.StringCmd).Int64()
		if err != nil {
			continue
		}
		if time.Unix(0, v).Before(createdAt) {
			older++
		}
	}

	return greater + older, nil
}

func (s *Store) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for range maxTxRetries {
		err := s.redis.Watch(ctx, fn, keys...)
		if stderrors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}

	return errors.Unavailable("redisstore: too many concurrent updates: %v", keys)
}

func (s *Store) get(ctx context.Context, c redis.Cmdable, playerID string) (*domain.PlayerRecord, error) {
	m, err := c.HGetAll(ctx, s.playerKey(playerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall: %w", err)
	}

	if len(m) == 0 {
		return nil, errors.NotFound("player not found: %s", playerID)
	}

	return decode(playerID, m)
}

func (s *Store) getMany(ctx context.Context, ids []string) ([]domain.PlayerRecord, error) {
	cmds, err := s.redis.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, id := range ids {
			p.HGetAll(ctx, s.playerKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("hgetall: %w", err)
	}

	recs := make([]domain.PlayerRecord, 0, len(ids))
	for i, cmd := range cmds {
		m := cmd.(*redis.MapStringStringCmd).Val()
		if len(m) == 0 {
			continue
		}

		rec, err := decode(ids[i], m)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}

	return recs, nil
}

func (s *Store) write(ctx context.Context, p redis.Pipeliner, rec domain.PlayerRecord) {
	fields := map[string]any{
		fieldUsername:  rec.Username,
		fieldCreatedAt: rec.CreatedAt.UnixNano(),
		fieldTotal:     rec.TotalScore.String(),
	}
	for game, score := range rec.GameScores {
		fields[gameFieldPrefix+game] = score.String()
	}

	p.HSet(ctx, s.playerKey(rec.PlayerID), fields)
	p.ZAdd(ctx, s.totalsKey(), redis.Z{
		Score:  rec.TotalScore.InexactFloat64(),
		Member: rec.PlayerID,
	})
}

func decode(playerID string, m map[string]string) (*domain.PlayerRecord, error) {
	rec := &domain.PlayerRecord{
		PlayerID:   playerID,
		Username:   m[fieldUsername],
		GameScores: make(map[string]decimal.Decimal),
	}

	var err error
	if rec.TotalScore, err = decimal.NewFromString(m[fieldTotal]); err != nil {
		return nil, fmt.Errorf("decode total: player=%s: %w", playerID, err)
	}

	ns, err := strconv.ParseInt(m[fieldCreatedAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode created_at: player=%s: %w", playerID, err)
	}
	rec.CreatedAt = time.Unix(0, ns).UTC()

	for k, v := range m {
		game, ok := strings.CutPrefix(k, gameFieldPrefix)
		if !ok {
			continue
		}

		score, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("decode game score: player=%s, game=%s: %w", playerID, game, err)
		}
		rec.GameScores[game] = score
	}

	return rec, nil
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (s *Store) playerKey(id string) string {
	return fmt.Sprintf("%s:player:%s", s.prefix, id)
}

func (s *Store) totalsKey() string {
	return fmt.Sprintf("%s:totals", s.prefix)
}
