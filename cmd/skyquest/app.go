package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/skyquest-client/internal/airports"
	"github.com/park285/skyquest-client/internal/authority"
	"github.com/park285/skyquest-client/internal/config"
	"github.com/park285/skyquest-client/internal/feed"
	"github.com/park285/skyquest-client/internal/game"
	"github.com/park285/skyquest-client/internal/leaderboard"
	"github.com/park285/skyquest-client/internal/metrics"
	"github.com/park285/skyquest-client/internal/obslog"
	"github.com/park285/skyquest-client/internal/session"
)

// app holds the wired client components for one process.
type app struct {
	cfg       *config.AppConfig
	logger    *zap.Logger
	registry  *prometheus.Registry
	metrics   *metrics.Collectors
	authority *authority.Client
	feed      *feed.Client
	boards    *leaderboard.Cache
	airports  *airports.Directory
	rdb       *redis.Client
}

func newApp(ctx context.Context, cfg *config.AppConfig) (*app, error) {
	logger, err := obslog.Init(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	dir, err := airports.New(cfg.AirportsFile)
	if err != nil {
		return nil, fmt.Errorf("load airports: %w", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	auth := authority.NewClient(cfg.APIBaseURL,
		authority.WithTimeout(cfg.RequestTimeout),
		authority.WithRetry(cfg.RequestRetries+1),
		authority.WithRateLimit(cfg.RequestsPerSecond, 1),
		authority.WithMetrics(m),
		authority.WithLogger(logger),
	)

	fc := feed.NewClient(cfg.FeedURL,
		feed.WithBackoff(cfg.FeedBaseDelay, cfg.FeedMaxReconnects),
		feed.WithMetrics(m),
		feed.WithLogger(logger),
	)

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = leaderboard.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("leaderboard_cache_disabled", zap.Error(err))
			rdb = nil
		}
	}
	boards := leaderboard.NewCache(auth, rdb,
		leaderboard.WithTTL(cfg.LeaderboardTTL),
		leaderboard.WithLogger(logger),
	)

	return &app{
		cfg:       cfg,
		logger:    logger,
		registry:  reg,
		metrics:   m,
		authority: auth,
		feed:      fc,
		boards:    boards,
		airports:  dir,
		rdb:       rdb,
	}, nil
}

func (a *app) newOrchestrator() *game.Orchestrator {
	store := session.NewStore(session.WithLogger(a.logger))
	return game.NewOrchestrator(store, a.authority,
		game.WithFeed(a.feed),
		game.WithLeaderboards(a.boards),
		game.WithDifficulty(a.cfg.Difficulty),
		game.WithLogger(a.logger),
	)
}

// serveMetrics exposes the registry on METRICS_ADDR until ctx is done.
func (a *app) serveMetrics(ctx context.Context, g *errgroup.Group) {
	if a.cfg.MetricsAddr == "" {
		return
	}
	srv := &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           metrics.Handler(a.registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		a.logger.Info("metrics_listening", zap.String("addr", a.cfg.MetricsAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.feed.Close(ctx); err != nil {
		a.logger.Warn("feed_close", zap.Error(err))
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	_ = a.logger.Sync()
}
