package domain

// Names of the events broadcast to the clients of a room. They are part of the wire contract.
const (
	RoomEventPlayerJoined    = "playerJoined"
	RoomEventCountdown       = "countdown"
	RoomEventGameStarted     = "gameStarted"
	RoomEventTimerStarted    = "timerStarted"
	RoomEventAnswerSubmitted = "answerSubmitted"
	RoomEventRankingUpdated  = "rankingUpdated"
	RoomEventNewRound        = "newRound"
	RoomEventGameEnded       = "gameEnded"

	// Global leaderboard pushes, not scoped to a room.
	EventRankingUpdates = "rankingUpdates"
	EventMyPosition     = "myPosition"
)

type CountdownPayload struct {
	Seconds int `json:"seconds"`
}

type GameStartedPayload struct {
	RoomID   string    `json:"roomId"`
	Question *Question `json:"question"`
	Round    int       `json:"round"`
	Timer    int       `json:"timer"`
}

type TimerStartedPayload struct {
	Seconds int `json:"seconds"`
}

type AnswerSubmittedPayload struct {
	PlayerID string `json:"playerId"`
	Correct  bool   `json:"correct"`
	Score    int64  `json:"score"`
}

// RankingPayload is shared by rankingUpdated, gameEnded and rankingUpdates.
type RankingPayload struct {
	Ranking []RankingEntry `json:"ranking"`
}

type NewRoundPayload struct {
	Round    int       `json:"round"`
	Question *Question `json:"question"`
	Timer    int       `json:"timer"`
}

type PositionPayload struct {
	Position *int64 `json:"position"`
}
