package api

import (
	"encoding/json"

	"github.com/victornm/etrivia/internal/domain"
	"github.com/victornm/etrivia/internal/errors"
)

// Events sent by websocket clients.
const (
	eventJoinRoom     = "joinRoom"
	eventStartGame    = "startGame"
	eventSubmitAnswer = "submitAnswer"
	eventNextRound    = "nextRound"
	eventGetRanking   = "getRanking"
	eventGetPosition  = "getPosition"
)

// Replies to a single client.
const (
	eventAck   = "ack"
	eventError = "error"
)

type (
	// Notification is the envelope of every message written to a client or published on
	// the pubsub channel of a room. ID echoes the id of the request being answered.
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
		ID    string `json:"id,omitempty"`
	}

	request struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
		ID    string          `json:"id"`
	}

	errorPayload struct {
		Code    errors.Code `json:"code"`
		Message string      `json:"message"`
	}
)

type (
	joinRoomRequest struct {
		RoomID string `json:"roomId"`
		Name   string `json:"name"`
	}

	joinRoomResponse struct {
		Success bool           `json:"success"`
		Player  *domain.Player `json:"player"`
	}

	questionRequest struct {
		ID      string   `json:"id"`
		Text    string   `json:"text"`
		Options []string `json:"options"`
		Answer  string   `json:"answer"`
	}

	startGameRequest struct {
		RoomID       string            `json:"roomId"`
		Questions    []questionRequest `json:"questions"`
		TimerSeconds int               `json:"timerSeconds"`
	}

	successResponse struct {
		Success bool `json:"success"`
	}

	submitAnswerRequest struct {
		RoomID   string `json:"roomId"`
		PlayerID string `json:"playerId"`
		Answer   string `json:"answer"`
	}

	// nextRoundRequest carries the round the caller is looking at, requests for any
	// other round are stale.
	nextRoundRequest struct {
		RoomID string `json:"roomId"`
		Round  *int   `json:"round"`
	}

	getRankingRequest struct {
		RoomID string `json:"roomId"`
	}
)

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		return v, errors.InvalidArgument("missing payload")
	}

	if err := json.Unmarshal(raw, &v); err != nil {
		return v, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("malformed payload: %s", err),
			errors.WithCause(err))
	}

	return v, nil
}

func (q questionRequest) toDomain() domain.Question {
	return domain.Question{
		ID:      q.ID,
		Text:    q.Text,
		Options: q.Options,
		Answer:  q.Answer,
	}
}
