package room

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/victornm/etrivia/internal/domain"
	"github.com/victornm/etrivia/internal/errors"
	"github.com/victornm/etrivia/internal/event"
)

const (
	DefaultRoundTimer       = 10 * time.Second
	DefaultCountdown        = 3 * time.Second
	DefaultPointsPerCorrect = 10
)

// Broadcaster delivers an event to every client of a room. It is called with the room
// lock held, so it must not block on the network nor call back into the Service.
type Broadcaster interface {
	Broadcast(ctx context.Context, roomID, event string, payload any)
}

type Config struct {
	Registry    *Registry
	Broadcaster Broadcaster
	EventBus    *event.Bus
	Metrics     prometheus.Registerer

	RoundTimer       time.Duration
	Countdown        time.Duration
	PointsPerCorrect int64

	Now func() time.Time
}

// Service is the room session state machine. Each room is serialized by its own lock,
// so rooms progress independently of each other.
type Service struct {
	registry *Registry
	bc       Broadcaster
	eb       *event.Bus
	m        *metrics

	roundTimer time.Duration
	countdown  time.Duration
	points     int64

	now func() time.Time
}

func NewService(c Config) *Service {
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Registry == nil {
		c.Registry = NewRegistry(c.Now)
	}
	if c.Broadcaster == nil {
		c.Broadcaster = nopBroadcaster{}
	}
	if c.RoundTimer <= 0 {
		c.RoundTimer = DefaultRoundTimer
	}
	if c.Countdown <= 0 {
		c.Countdown = DefaultCountdown
	}
	if c.PointsPerCorrect <= 0 {
		c.PointsPerCorrect = DefaultPointsPerCorrect
	}

	return &Service{
		registry:   c.Registry,
		bc:         c.Broadcaster,
		eb:         c.EventBus,
		m:          newMetrics(c.Metrics, c.Registry),
		roundTimer: c.RoundTimer,
		countdown:  c.Countdown,
		points:     c.PointsPerCorrect,
		now:        c.Now,
	}
}

type JoinRequest struct {
	RoomID string
	Name   string
	// AccountID is the opaque identity of a registered player, empty for guests.
	AccountID string
}

// Join adds a new player to a room, creating the room on first join.
// Names are not unique; every call yields a fresh player.
func (s *Service) Join(ctx context.Context, req JoinRequest) (*domain.Player, error) {
	if req.RoomID == "" {
		return nil, errors.InvalidArgument("room id is required")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("room: generate player id: %w", err)
	}

	p := &domain.Player{
		ID:        id.String(),
		Name:      req.Name,
		AccountID: req.AccountID,
	}

	for {
		r, created := s.registry.GetOrCreate(req.RoomID)

		r.mu.Lock()
		if r.evicted {
			// Swept between lookup and lock, the next lookup creates a fresh room.
			r.mu.Unlock()
			continue
		}

		r.players = append(r.players, p)
		r.lastActivity = s.now()
		joined := copyPlayer(p)
		s.bc.Broadcast(ctx, r.ID, domain.RoomEventPlayerJoined, joined)
		r.mu.Unlock()

		if created {
			slog.InfoContext(ctx, "room: created", "room", r.ID)
		}

		return &joined, nil
	}
}

type StartRequest struct {
	RoomID    string
	Questions []domain.Question
	// RoundTimer overrides the configured round duration for this session.
	RoundTimer time.Duration
}

// Start assigns the questions and opens the countdown. The first question is revealed
// when the countdown elapses. It returns false without effect if the room does not exist,
// has already started or no question is given.
func (s *Service) Start(ctx context.Context, req StartRequest) bool {
	r, ok := s.registry.Get(req.RoomID)
	if !ok {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.evicted || r.active || r.phase != PhaseLobby || len(req.Questions) == 0 {
		return false
	}

	r.questions = slices.Clone(req.Questions)
	r.round = 0
	r.active = true
	r.phase = PhaseCountdown
	r.roundDuration = s.roundTimer
	if req.RoundTimer > 0 {
		r.roundDuration = req.RoundTimer
	}
	r.resetAnswers()
	r.lastActivity = s.now()

	s.bc.Broadcast(ctx, r.ID, domain.RoomEventCountdown, domain.CountdownPayload{
		Seconds: seconds(s.countdown),
	})
	r.timer.arm(s.countdown, func(gen uint64) { s.reveal(r, gen) })

	slog.InfoContext(ctx, "room: game started", "room", r.ID, "questions", len(r.questions), "players", len(r.players))
	return true
}

func (s *Service) reveal(r *Room, gen uint64) {
	ctx := context.Background()

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.timer.claim(gen) || r.evicted || r.phase != PhaseCountdown {
		return
	}

	r.phase = PhaseRoundActive
	r.lastActivity = s.now()

	s.bc.Broadcast(ctx, r.ID, domain.RoomEventGameStarted, domain.GameStartedPayload{
		RoomID:   r.ID,
		Question: r.revealedQuestion(),
		Round:    r.round,
		Timer:    seconds(r.roundDuration),
	})
	s.armRound(ctx, r)
}

func (s *Service) armRound(ctx context.Context, r *Room) {
	round := r.round
	r.timer.arm(r.roundDuration, func(gen uint64) { s.expire(r, gen, round) })

	s.bc.Broadcast(ctx, r.ID, domain.RoomEventTimerStarted, domain.TimerStartedPayload{
		Seconds: seconds(r.roundDuration),
	})
}

// expire closes the round when its timer fires. Players who did not answer are judged
// incorrect before the round advances, so an answer racing the timer is either accepted
// before this runs or rejected after.
func (s *Service) expire(r *Room, gen uint64, round int) {
	ctx := context.Background()

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.timer.claim(gen) || r.evicted || r.phase != PhaseRoundActive || r.round != round {
		return
	}

	now := s.now()
	for _, p := range r.players {
		if p.Answered() {
			continue
		}
		at := now
		p.AnsweredAt = &at
		p.Correct = false
		s.m.answers.WithLabelValues("timeout").Inc()
	}

	s.advance(ctx, r, round, triggerTimer)
}

// AnswerResult is the judgement of an accepted answer.
type AnswerResult struct {
	Correct bool  `json:"correct"`
	Score   int64 `json:"score"`
}

// SubmitAnswer judges the first answer of a player for the current round. It returns nil
// when the room or player is unknown, no round is live, or the player already answered.
// When every player has answered the round advances immediately.
func (s *Service) SubmitAnswer(ctx context.Context, roomID, playerID, answer string) *AnswerResult {
	r, ok := s.registry.Get(roomID)
	if !ok {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.evicted || !r.active || r.phase != PhaseRoundActive {
		return nil
	}

	p := r.player(playerID)
	if p == nil || p.Answered() {
		return nil
	}

	q := r.currentQuestion()
	now := s.now()
	p.AnsweredAt = &now
	p.Correct = judge(answer, q.Answer)
	if p.Correct {
		p.Score += s.points
	}
	r.lastActivity = now
	s.m.answers.WithLabelValues(answerResult(p.Correct)).Inc()

	s.bc.Broadcast(ctx, r.ID, domain.RoomEventAnswerSubmitted, domain.AnswerSubmittedPayload{
		PlayerID: p.ID,
		Correct:  p.Correct,
		Score:    p.Score,
	})
	s.bc.Broadcast(ctx, r.ID, domain.RoomEventRankingUpdated, domain.RankingPayload{
		Ranking: r.ranking(),
	})

	res := &AnswerResult{Correct: p.Correct, Score: p.Score}

	if r.allAnswered() {
		s.advance(ctx, r, r.round, triggerAllAnswered)
	}

	return res
}

// NextRound advances the room past round. The round argument is the index the caller saw:
// a request for a round that is no longer current is ignored, so concurrent triggers for the
// same round advance it once. It returns true if a new round started; false if the game ended,
// the room is unknown or the request was stale. Callers tell these apart with State.
func (s *Service) NextRound(ctx context.Context, roomID string, round int) bool {
	r, ok := s.registry.Get(roomID)
	if !ok {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.evicted {
		return false
	}

	return s.advance(ctx, r, round, triggerManual)
}

// advance is the only transition out of a live round. Callers hold the room lock.
func (s *Service) advance(ctx context.Context, r *Room, round int, trigger string) bool {
	if !r.active || r.phase != PhaseRoundActive || r.round != round {
		return false
	}

	r.timer.stop()
	r.lastActivity = s.now()
	s.m.rounds.WithLabelValues(trigger).Inc()

	if r.round+1 < len(r.questions) {
		r.round++
		r.resetAnswers()

		s.bc.Broadcast(ctx, r.ID, domain.RoomEventNewRound, domain.NewRoundPayload{
			Round:    r.round,
			Question: r.revealedQuestion(),
			Timer:    seconds(r.roundDuration),
		})
		s.armRound(ctx, r)
		return true
	}

	r.active = false
	r.phase = PhaseEnded
	s.m.gamesEnded.Inc()

	rk := r.ranking()
	s.bc.Broadcast(ctx, r.ID, domain.RoomEventGameEnded, domain.RankingPayload{Ranking: rk})

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventGameEnded{
			RoomID:  r.ID,
			Players: r.snapshotPlayers(),
			Ranking: rk,
		})
	}

	slog.InfoContext(ctx, "room: game ended", "room", r.ID, "rounds", len(r.questions), "trigger", trigger)
	return false
}

// Ranking returns the live standings of a room, empty if the room does not exist.
func (s *Service) Ranking(_ context.Context, roomID string) []domain.RankingEntry {
	r, ok := s.registry.Get(roomID)
	if !ok {
		return []domain.RankingEntry{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.evicted {
		return []domain.RankingEntry{}
	}

	return r.ranking()
}

// State returns a copy of the room.
func (s *Service) State(_ context.Context, roomID string) (State, bool) {
	r, ok := s.registry.Get(roomID)
	if !ok {
		return State{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.evicted {
		return State{}, false
	}

	return r.state(), true
}

// Remove evicts a room, cancelling its pending timer.
func (s *Service) Remove(ctx context.Context, roomID string) bool {
	ok := s.registry.Remove(roomID)
	if ok {
		slog.InfoContext(ctx, "room: removed", "room", roomID)
	}
	return ok
}

func judge(answer, expected string) bool {
	expected = strings.TrimSpace(expected)
	return expected != "" && strings.EqualFold(strings.TrimSpace(answer), expected)
}

// seconds rounds up, a client never sees a deadline earlier than the real one.
func seconds(d time.Duration) int {
	return int((d + time.Second - 1) / time.Second)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(context.Context, string, string, any) {}
