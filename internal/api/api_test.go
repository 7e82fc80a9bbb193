package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/victornm/etrivia/internal/api"
	"github.com/victornm/etrivia/internal/event"
	"github.com/victornm/etrivia/internal/leaderboard"
	"github.com/victornm/etrivia/internal/leaderboard/redisstore"
	"github.com/victornm/etrivia/internal/room"
)

const readTimeout = 3 * time.Second

type env struct {
	srv    *httptest.Server
	engine *gin.Engine
	rs     *room.Service
	ls     *leaderboard.Service
	hub    *api.Hub
	pub    *api.Publisher
	redis  redis.UniversalClient
}

type envOption func(*room.Config)

func withCountdown(d time.Duration) envOption {
	return func(c *room.Config) { c.Countdown = d }
}

func makeEnv(t *testing.T, opts ...envOption) *env {
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	t.Cleanup(func() { _ = rc.Close() })

	eb := event.NewBus()
	pub := api.NewPublisher(api.PublisherConfig{Redis: rc, Prefix: "test"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pub.Run(ctx)
	}()

	hub := api.NewHub(api.HubConfig{Publisher: pub})

	roomCfg := room.Config{
		Broadcaster: hub,
		EventBus:    eb,
		Countdown:   10 * time.Millisecond,
		RoundTimer:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(&roomCfg)
	}
	rs := room.NewService(roomCfg)

	ls := leaderboard.NewService(leaderboard.Config{
		EventBus: eb,
		Store:    redisstore.New(redisstore.Config{Redis: rc, Prefix: "test"}),
	})

	e := gin.New()
	api.New(api.Config{
		Router:      e,
		EventBus:    eb,
		Hub:         hub,
		Room:        rs,
		Leaderboard: ls,
	})

	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		srv.Close()
		eb.Stop()
		cancel()
		<-done
	})

	return &env{
		srv:    srv,
		engine: e,
		rs:     rs,
		ls:     ls,
		hub:    hub,
		pub:    pub,
		redis:  rc,
	}
}

type notification struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	ID    string          `json:"id"`
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
	// Notifications read while waiting for something else.
	backlog []notification
}

func (e *env) dial(t *testing.T, account string) *wsClient {
	t.Helper()

	h := http.Header{}
	if account != "" {
		h.Set(api.DefaultIdentityHeader, account)
	}

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, h)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(event, id string, data any) {
	c.t.Helper()

	b, err := json.Marshal(data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(notification{Event: event, Data: b, ID: id}))
}

// expect returns the oldest unread notification of the given event.
func (c *wsClient) expect(event string) notification {
	c.t.Helper()

	return c.next(func(n notification) bool { return n.Event == event })
}

// request sends a request and waits for its ack or error.
func (c *wsClient) request(event, id string, data any) notification {
	c.t.Helper()

	c.send(event, id, data)
	return c.next(func(n notification) bool { return n.ID == id })
}

func (c *wsClient) next(match func(n notification) bool) notification {
	c.t.Helper()

	for i, n := range c.backlog {
		if match(n) {
			c.backlog = append(c.backlog[:i:i], c.backlog[i+1:]...)
			return n
		}
	}

	deadline := time.Now().Add(readTimeout)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))

		var n notification
		require.NoError(c.t, c.conn.ReadJSON(&n), "waiting for a notification")
		if match(n) {
			return n
		}
		c.backlog = append(c.backlog, n)
	}
}

func decodeData[T any](t *testing.T, n notification) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(n.Data, &v), "decode %s: %s", n.Event, n.Data)
	return v
}
