package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/skyquest-client/internal/airports"
	"github.com/park285/skyquest-client/internal/config"
	"github.com/park285/skyquest-client/internal/fakeauthority"
	"github.com/park285/skyquest-client/internal/feed"
	"github.com/park285/skyquest-client/internal/obslog"
	dto "github.com/park285/skyquest-client/pkg/skyquestdto"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warning: could not load .env file: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cliApp := &cli.App{
		Name:  "skyquest",
		Usage: "guess where the flight is going",
		Commands: []*cli.Command{
			playCommand(),
			leaderboardCommand(),
			watchCommand(),
			fakeAuthorityCommand(),
		},
	}
	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// withApp loads configuration, wires the client and runs fn alongside the
// metrics endpoint.
func withApp(c *cli.Context, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if d := c.String("difficulty"); d != "" {
		parsed, ok := dto.ParseDifficulty(d)
		if !ok {
			return fmt.Errorf("unknown difficulty %q", d)
		}
		cfg.Difficulty = parsed
	}

	a, err := newApp(c.Context, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	g, gctx := errgroup.WithContext(c.Context)
	runCtx, stop := context.WithCancel(gctx)
	a.serveMetrics(runCtx, g)
	g.Go(func() error {
		defer stop()
		return fn(runCtx, a)
	})
	return g.Wait()
}

func difficultyFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "difficulty",
		Usage: "easy, medium or hard; overrides SKYQUEST_DIFFICULTY",
	}
}

func playCommand() *cli.Command {
	return &cli.Command{
		Name:  "play",
		Usage: "play an interactive game on stdin",
		Flags: []cli.Flag{
			difficultyFlag(),
			&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Usage: "player name"},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app) error {
				orch := a.newOrchestrator()
				defer orch.Close()
				p := &player{app: a, orch: orch, in: os.Stdin, out: os.Stdout}
				if u := c.String("username"); u != "" {
					if err := orch.SetUsername(u); err != nil {
						return err
					}
				}
				return p.run(ctx)
			})
		},
	}
}

func leaderboardCommand() *cli.Command {
	return &cli.Command{
		Name:  "leaderboard",
		Usage: "print the leaderboard",
		Flags: []cli.Flag{
			difficultyFlag(),
			&cli.IntFlag{Name: "limit", Value: 10},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app) error {
				d := dto.Difficulty("")
				if c.IsSet("difficulty") {
					d = a.cfg.Difficulty
				}
				resp, err := a.boards.Get(ctx, d, c.Int("limit"))
				if err != nil {
					return err
				}
				printLeaderboard(os.Stdout, resp)
				return nil
			})
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "print feed traffic and connection state until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "session", Usage: "session id to register"},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app) error {
				a.feed.OnStateChange(func(sc feed.StateChange) {
					switch {
					case sc.Delay > 0:
						fmt.Printf("state %s attempt=%d delay=%s\n", sc.State, sc.Attempt, sc.Delay)
					case sc.Err != nil:
						fmt.Printf("state %s err=%v\n", sc.State, sc.Err)
					default:
						fmt.Printf("state %s\n", sc.State)
					}
				})
				a.feed.Subscribe(func(env feed.Envelope) {
					fmt.Printf("%s %s\n", env.Type, env.Payload)
				})
				if err := a.feed.Connect(ctx, c.String("session")); err != nil {
					a.logger.Warn("watch_connect_failed", zap.Error(err))
				}
				<-ctx.Done()
				return nil
			})
		},
	}
}

func fakeAuthorityCommand() *cli.Command {
	return &cli.Command{
		Name:  "fake-authority",
		Usage: "serve an in-memory authority for local play",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: ":8080"},
			&cli.IntFlag{Name: "rounds", Value: fakeauthority.DefaultRounds},
			&cli.DurationFlag{Name: "push-interval", Value: 2 * time.Second},
			&cli.StringFlag{Name: "airports", EnvVars: []string{"AIRPORTS_FILE"}},
		},
		Action: func(c *cli.Context) error {
			logger, err := obslog.Init(obslog.Options{Level: "info", Format: "console", Console: true})
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			dir, err := airports.New(c.String("airports"))
			if err != nil {
				return err
			}
			fa := fakeauthority.New(dir,
				fakeauthority.WithRounds(c.Int("rounds")),
				fakeauthority.WithLogger(logger),
			)
			srv := &http.Server{
				Addr:              c.String("addr"),
				Handler:           fa.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			g, gctx := errgroup.WithContext(c.Context)
			g.Go(func() error {
				logger.Info("fake_authority_listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				fa.Run(gctx, c.Duration("push-interval"))
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(sctx)
			})
			return g.Wait()
		},
	}
}
