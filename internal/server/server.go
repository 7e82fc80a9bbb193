package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/victornm/etrivia/internal/api"
	"github.com/victornm/etrivia/internal/event"
	"github.com/victornm/etrivia/internal/leaderboard"
	"github.com/victornm/etrivia/internal/leaderboard/pgstore"
	"github.com/victornm/etrivia/internal/leaderboard/redisstore"
	"github.com/victornm/etrivia/internal/room"
	"github.com/victornm/etrivia/internal/telemetry"
)

const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"

	serviceName = "etrivia"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Room struct {
		RoundTimer       time.Duration
		Countdown        time.Duration
		PointsPerCorrect int64
		IdleTTL          time.Duration
		SweepInterval    time.Duration
	}

	Leaderboard struct {
		// Backend is the store of player records: redis or postgres.
		Backend string
		Game    string
		Limit   int
	}

	Identity struct {
		Header string
	}

	Redis struct {
		Leaderboard struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Leaderboard struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}
}

// DefaultConfig returns the values used for every key the config file leaves out.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.GRPC.Port = 8081
	c.Room.RoundTimer = room.DefaultRoundTimer
	c.Room.Countdown = room.DefaultCountdown
	c.Room.PointsPerCorrect = room.DefaultPointsPerCorrect
	c.Room.IdleTTL = 10 * time.Minute
	c.Room.SweepInterval = time.Minute
	c.Leaderboard.Backend = BackendRedis
	c.Leaderboard.Game = leaderboard.DefaultGame
	c.Leaderboard.Limit = leaderboard.DefaultLimit
	c.Identity.Header = api.DefaultIdentityHeader
	c.Redis.Leaderboard.Prefix = "etrivia:leaderboard"
	c.Redis.Pubsub.Prefix = "etrivia"
	return c
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
		}

		postgres struct {
			leaderboard *pgxpool.Pool
		}
	}

	service struct {
		rooms       *room.Registry
		room        *room.Service
		leaderboard *leaderboard.Service
	}

	hub       *api.Hub
	publisher *api.Publisher

	http   *http.Server
	grpc   *grpc.Server
	health *health.Server

	// Lifetime of the background loops.
	ctx    context.Context
	cancel context.CancelFunc
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		s.abort()
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		s.abort()
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if s.c.Leaderboard.Backend == BackendPostgres {
		if err := s.initPostgres(); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			_ = r.Close()
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			_ = r.Close()
			return nil, err
		}

		return r, nil
	}

	var err error
	if s.c.Leaderboard.Backend == BackendRedis {
		s.infra.redis.leaderboard, err = connect(s.c.Redis.Leaderboard.Addrs, s.c.Redis.Leaderboard.Pass)
		if err != nil {
			return fmt.Errorf("leaderboard: %w", err)
		}
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() (err error) {
	connect := func(addr, user, pass, name string) (*pgxpool.Pool, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", user, pass, addr, name))
		if err != nil {
			return nil, err
		}

		db, err := pgxpool.NewWithConfig(ctx, cc)
		if err != nil {
			return nil, err
		}

		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, err
		}

		return db, nil
	}

	pg := s.c.Postgres.Leaderboard
	s.infra.postgres.leaderboard, err = connect(pg.Addr, pg.User, pg.Pass, pg.Name)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	return nil
}

func (s *Server) initService() error {
	store, err := s.leaderboardStore()
	if err != nil {
		return fmt.Errorf("leaderboard store: %w", err)
	}

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Store:    store,
		Game:     s.c.Leaderboard.Game,
		Limit:    s.c.Leaderboard.Limit,
	})

	s.publisher = api.NewPublisher(api.PublisherConfig{
		Redis:   s.infra.redis.pubsub,
		Prefix:  s.c.Redis.Pubsub.Prefix,
		Metrics: prometheus.DefaultRegisterer,
	})

	s.hub = api.NewHub(api.HubConfig{
		Publisher: s.publisher,
		Metrics:   prometheus.DefaultRegisterer,
	})

	s.service.rooms = room.NewRegistry(time.Now)
	s.service.room = room.NewService(room.Config{
		Registry:         s.service.rooms,
		Broadcaster:      s.hub,
		EventBus:         s.eb,
		Metrics:          prometheus.DefaultRegisterer,
		RoundTimer:       s.c.Room.RoundTimer,
		Countdown:        s.c.Room.Countdown,
		PointsPerCorrect: s.c.Room.PointsPerCorrect,
	})

	return nil
}

func (s *Server) leaderboardStore() (leaderboard.Store, error) {
	switch s.c.Leaderboard.Backend {
	case BackendRedis:
		return redisstore.New(redisstore.Config{
			Redis:  s.infra.redis.leaderboard,
			Prefix: s.c.Redis.Leaderboard.Prefix,
		}), nil

	case BackendPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		st := pgstore.New(pgstore.Config{DB: s.infra.postgres.leaderboard})
		if err := st.Migrate(ctx); err != nil {
			return nil, err
		}
		return st, nil

	default:
		return nil, fmt.Errorf("unknown backend %q", s.c.Leaderboard.Backend)
	}
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor())
	s.health = telemetry.RegisterHealth(s.grpc, serviceName)

	api.New(api.Config{
		Router:      e,
		EventBus:    s.eb,
		Hub:         s.hub,
		Room:        s.service.room,
		Leaderboard: s.service.leaderboard,
		Identity:    api.HeaderIdentity(s.c.Identity.Header),
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := s.ctx

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		return s.service.rooms.Run(ctx, s.c.Room.SweepInterval, s.c.Room.IdleTTL)
	})

	eg.Go(func() error {
		return s.publisher.Run(ctx)
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.health.Shutdown()
	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.cancel()

	s.eb.Stop()
	s.closeInfra()

	slog.InfoContext(ctx, "server: shutdown completed")
}

// abort releases whatever a failed Init already opened.
func (s *Server) abort() {
	s.cancel()
	s.eb.Stop()
	s.closeInfra()
}

func (s *Server) closeInfra() {
	for _, r := range []redis.UniversalClient{s.infra.redis.leaderboard, s.infra.redis.pubsub} {
		if r != nil {
			_ = r.Close()
		}
	}
	if s.infra.postgres.leaderboard != nil {
		s.infra.postgres.leaderboard.Close()
	}
}
