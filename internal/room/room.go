package room

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/etrivia/internal/domain"
	"github.com/victornm/etrivia/internal/ranking"
)

// Phase is the lifecycle state of a room.
type Phase string

const (
	PhaseLobby       Phase = "lobby"
	PhaseCountdown   Phase = "countdown"
	PhaseRoundActive Phase = "roundActive"
	PhaseEnded       Phase = "ended"
)

// Room is one trivia session. Every field is guarded by mu; the registry owns the room
// and the service is the only writer.
type Room struct {
	ID string

	mu        sync.Mutex
	phase     Phase
	questions []domain.Question
	round     int
	active    bool
	players   []*domain.Player
	timer     roundTimer

	// roundDuration is fixed for a session when the game starts.
	roundDuration time.Duration

	lastActivity time.Time
	evicted      bool
}

func newRoom(id string, now time.Time) *Room {
	return &Room{
		ID:           id,
		phase:        PhaseLobby,
		lastActivity: now,
	}
}

// State is a read-only copy of a room.
type State struct {
	ID              string
	Phase           Phase
	Active          bool
	Round           int
	Rounds          int
	CurrentQuestion *domain.Question
	Players         []domain.Player
}

func (r *Room) currentQuestion() *domain.Question {
	if !r.active || r.round < 0 || r.round >= len(r.questions) {
		return nil
	}
	q := r.questions[r.round]
	return &q
}

// revealedQuestion is the current question as shown to clients, without its answer.
func (r *Room) revealedQuestion() *domain.Question {
	q := r.currentQuestion()
	if q != nil {
		q.Answer = ""
	}
	return q
}

func (r *Room) player(id string) *domain.Player {
	for _, p := range r.players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (r *Room) allAnswered() bool {
	if len(r.players) == 0 {
		return false
	}
	for _, p := range r.players {
		if !p.Answered() {
			return false
		}
	}
	return true
}

func (r *Room) resetAnswers() {
	for _, p := range r.players {
		p.AnsweredAt = nil
		p.Correct = false
	}
}

// ranking uses the join order as tie-break, earlier joiners rank higher.
func (r *Room) ranking() []domain.RankingEntry {
	entries := make([]ranking.Entry, 0, len(r.players))
	for i, p := range r.players {
		entries = append(entries, ranking.Entry{
			ID:       p.ID,
			Name:     p.Name,
			Score:    decimal.NewFromInt(p.Score),
			TieBreak: int64(i),
		})
	}
	return ranking.Rank(entries)
}

func (r *Room) snapshotPlayers() []domain.Player {
	players := make([]domain.Player, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, copyPlayer(p))
	}
	return players
}

// state hides the question until its round is live, the countdown keeps it secret.
func (r *Room) state() State {
	st := State{
		ID:      r.ID,
		Phase:   r.phase,
		Active:  r.active,
		Round:   r.round,
		Rounds:  len(r.questions),
		Players: r.snapshotPlayers(),
	}
	if r.phase == PhaseRoundActive {
		st.CurrentQuestion = r.revealedQuestion()
	}
	return st
}

func copyPlayer(p *domain.Player) domain.Player {
	c := *p
	if p.AnsweredAt != nil {
		t := *p.AnsweredAt
		c.AnsweredAt = &t
	}
	return c
}
