package domain

// Names of the events exchanged on the in-process event bus.
const (
	EventNameGameEnded          = "game.ended"
	EventNameScoreUpdated       = "score.updated"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventGameEnded struct {
	RoomID  string
	Players []Player
	Ranking []RankingEntry
}

func (EventGameEnded) Name() string { return EventNameGameEnded }

type EventScoreUpdated struct {
	Record PlayerRecord
	Game   string
}

func (EventScoreUpdated) Name() string { return EventNameScoreUpdated }

type EventLeaderboardUpdated struct {
	Ranking []RankingEntry
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
