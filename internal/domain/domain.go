package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Question is one round of a trivia session. The expected answer never leaves the server.
type Question struct {
	ID      string   `json:"id,omitempty"`
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
	Answer  string   `json:"-"`
}

// Player is a participant of a single room. It lives as long as the room does.
type Player struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Score      int64      `json:"score"`
	AnsweredAt *time.Time `json:"answeredAt,omitempty"`
	Correct    bool       `json:"answeredCorrect"`

	// AccountID links the player to a persistent account, empty for guests.
	AccountID string `json:"-"`
}

// Answered reports whether the player already answered the current round.
func (p *Player) Answered() bool {
	return p.AnsweredAt != nil
}

// RankingEntry is a ranked projection of a player, computed on every query.
type RankingEntry struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
	Position int     `json:"position"`
}

// PlayerRecord is the persistent score state of an account.
type PlayerRecord struct {
	PlayerID   string
	Username   string
	GameScores map[string]decimal.Decimal
	TotalScore decimal.Decimal
	CreatedAt  time.Time
}

// SumGameScores returns the sum of the per-game entries.
func (r *PlayerRecord) SumGameScores() decimal.Decimal {
	total := decimal.Zero
	for _, s := range r.GameScores {
		total = total.Add(s)
	}
	return total
}

// Position is an account's place in the global leaderboard.
type Position struct {
	PlayerID   string
	Username   string
	TotalScore decimal.Decimal
	Position   int64
}
