package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/victornm/etrivia/internal/domain"
	"github.com/victornm/etrivia/internal/errors"
	"github.com/victornm/etrivia/internal/room"
)

// ServeWS upgrades the request to a websocket connection. The account id, if any, is
// resolved once here and bound to every player joined through the connection.
func (a *API) ServeWS(c *gin.Context) {
	account := a.identity(c.Request)

	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.WarnContext(c.Request.Context(), "ws: upgrade failed", "error", err)
		return
	}

	// The connection outlives the request context once hijacked.
	ctx := context.WithoutCancel(c.Request.Context())

	client := newClient(a.hub, conn, account)
	a.hub.register(client)

	slog.InfoContext(ctx, "ws: connection opened", "client", client.id, "account", account)

	go client.writePump(ctx)
	client.readPump(ctx, a.handle)
}

type handlerFunc func(ctx context.Context, c *Client, data json.RawMessage) (string, any, error)

func (a *API) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		eventJoinRoom:     a.joinRoom,
		eventStartGame:    a.startGame,
		eventSubmitAnswer: a.submitAnswer,
		eventNextRound:    a.nextRound,
		eventGetRanking:   a.getRanking,
		eventGetPosition:  a.getPosition,
	}
}

func (a *API) handle(ctx context.Context, c *Client, req request) {
	h, ok := a.wsHandlers[req.Event]
	if !ok {
		a.reply(ctx, c, req, "", nil, errors.InvalidArgument("unknown event: %q", req.Event))
		return
	}

	event, data, err := h(ctx, c, req.Data)
	a.reply(ctx, c, req, event, data, err)
}

func (a *API) reply(ctx context.Context, c *Client, req request, event string, data any, err error) {
	if err != nil {
		e := errors.Convert(err)
		if e.Code == errors.CodeInternal {
			slog.ErrorContext(ctx, "ws: handle request failed", "client", c.id, "event", req.Event, "error", err)
		}

		a.hub.Deliver(ctx, c, Notification{
			Event: eventError,
			Data:  errorPayload{Code: e.Code, Message: e.Message},
			ID:    req.ID,
		})
		return
	}

	a.hub.Deliver(ctx, c, Notification{Event: event, Data: data, ID: req.ID})
}

func (a *API) joinRoom(ctx context.Context, c *Client, data json.RawMessage) (string, any, error) {
	req, err := decode[joinRoomRequest](data)
	if err != nil {
		return "", nil, err
	}

	req.RoomID = strings.TrimSpace(req.RoomID)
	req.Name = strings.TrimSpace(req.Name)
	if req.RoomID == "" || req.Name == "" {
		return "", nil, errors.InvalidArgument("roomId and name are required")
	}

	// Subscribe first, so the joiner receives its own playerJoined.
	a.hub.subscribe(c, req.RoomID)

	p, err := a.rs.Join(ctx, room.JoinRequest{
		RoomID:    req.RoomID,
		Name:      req.Name,
		AccountID: c.account,
	})
	if err != nil {
		return "", nil, err
	}
	c.players[p.ID] = req.RoomID

	return eventAck, joinRoomResponse{Success: true, Player: p}, nil
}

func (a *API) startGame(ctx context.Context, _ *Client, data json.RawMessage) (string, any, error) {
	req, err := decode[startGameRequest](data)
	if err != nil {
		return "", nil, err
	}

	if req.TimerSeconds < 0 {
		return "", nil, errors.InvalidArgument("timerSeconds must not be negative: %d", req.TimerSeconds)
	}

	qs := make([]domain.Question, 0, len(req.Questions))
	for _, q := range req.Questions {
		qs = append(qs, q.toDomain())
	}

	started := a.rs.Start(ctx, room.StartRequest{
		RoomID:     req.RoomID,
		Questions:  qs,
		RoundTimer: time.Duration(req.TimerSeconds) * time.Second,
	})

	return eventAck, successResponse{Success: started}, nil
}

func (a *API) submitAnswer(ctx context.Context, c *Client, data json.RawMessage) (string, any, error) {
	req, err := decode[submitAnswerRequest](data)
	if err != nil {
		return "", nil, err
	}

	if !c.owns(req.PlayerID, req.RoomID) {
		return "", nil, errors.InvalidArgument("player %q did not join room %q on this connection", req.PlayerID, req.RoomID)
	}

	// A nil result (room gone, answer already given, no round live) is acknowledged as null.
	return eventAck, a.rs.SubmitAnswer(ctx, req.RoomID, req.PlayerID, req.Answer), nil
}

func (a *API) nextRound(ctx context.Context, _ *Client, data json.RawMessage) (string, any, error) {
	req, err := decode[nextRoundRequest](data)
	if err != nil {
		return "", nil, err
	}

	if req.Round == nil {
		return "", nil, errors.InvalidArgument("missing round")
	}

	advanced := a.rs.NextRound(ctx, req.RoomID, *req.Round)
	return eventAck, successResponse{Success: advanced}, nil
}

func (a *API) getRanking(ctx context.Context, _ *Client, data json.RawMessage) (string, any, error) {
	req, err := decode[getRankingRequest](data)
	if err != nil {
		return "", nil, err
	}

	return eventAck, domain.RankingPayload{Ranking: a.rs.Ranking(ctx, req.RoomID)}, nil
}

// getPosition answers with myPosition, whose position is null for unknown accounts.
func (a *API) getPosition(ctx context.Context, c *Client, _ json.RawMessage) (string, any, error) {
	if c.account == "" {
		return "", nil, errors.Unauthenticated("missing account")
	}

	pos, err := a.ls.GetPosition(ctx, c.account)
	if errors.IsCode(err, errors.CodeNotFound) {
		return domain.EventMyPosition, domain.PositionPayload{}, nil
	}
	if err != nil {
		return "", nil, err
	}

	return domain.EventMyPosition, domain.PositionPayload{Position: &pos.Position}, nil
}
