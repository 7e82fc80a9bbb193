package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/victornm/etrivia/internal/domain"
	"github.com/victornm/etrivia/internal/errors"
	"github.com/victornm/etrivia/internal/event"
	"github.com/victornm/etrivia/internal/leaderboard"
	"github.com/victornm/etrivia/internal/room"
)

type Config struct {
	Router      gin.IRouter
	EventBus    *event.Bus
	Hub         *Hub
	Room        *room.Service
	Leaderboard *leaderboard.Service
	Identity    Identity
}

type API struct {
	rs *room.Service
	ls *leaderboard.Service

	hub        *Hub
	identity   Identity
	upgrader   websocket.Upgrader
	wsHandlers map[string]handlerFunc
}

func New(c Config) *API {
	if c.Identity == nil {
		c.Identity = HeaderIdentity(DefaultIdentityHeader)
	}

	a := &API{
		rs:       c.Room,
		ls:       c.Leaderboard,
		hub:      c.Hub,
		identity: c.Identity,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	a.wsHandlers = a.handlers()

	c.Router.GET("/ws", a.ServeWS)

	v1 := c.Router.Group("/api/v1")
	v1.POST("/players", a.RegisterPlayer)
	v1.POST("/scores/submit", a.SubmitScore)
	v1.GET("/scores/ranking", a.GetRanking)
	v1.GET("/scores/position/:playerId", a.GetPosition)
	v1.GET("/rooms/:roomId", a.GetRoom)

	// Register event handlers
	event.On(c.EventBus, a.PublishRankingUpdates)

	return a
}

// PublishRankingUpdates pushes the global leaderboard to every connected client.
func (a *API) PublishRankingUpdates(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	a.hub.BroadcastAll(ctx, domain.EventRankingUpdates, domain.RankingPayload{Ranking: e.Ranking})
	return nil
}

func abort(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "api: request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}
