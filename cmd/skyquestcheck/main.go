package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/park285/skyquest-client/internal/authority"
	"github.com/park285/skyquest-client/internal/config"
	"github.com/park285/skyquest-client/internal/feed"
	dto "github.com/park285/skyquest-client/pkg/skyquestdto"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	client := authority.NewClient(cfg.APIBaseURL, authority.WithTimeout(8*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	board, err := client.GetLeaderboard(ctx, dto.LeaderboardRequest{Difficulty: cfg.Difficulty, Limit: 3})
	if err != nil {
		log.Printf("leaderboard error: %v", err)
	} else {
		log.Printf("leaderboard ok: difficulty=%s entries=%d", cfg.Difficulty, board.Count)
	}

	window := 10 * time.Second
	if len(os.Args) > 1 {
		if d, err := time.ParseDuration(os.Args[1]); err == nil {
			window = d
		}
	}

	fc := feed.NewClient(cfg.FeedURL, feed.WithBackoff(cfg.FeedBaseDelay, cfg.FeedMaxReconnects))
	fc.OnStateChange(func(sc feed.StateChange) {
		log.Printf("feed state: %s attempt=%d delay=%s", sc.State, sc.Attempt, sc.Delay)
	})
	fc.Subscribe(func(env feed.Envelope) {
		fmt.Printf("feed %s bytes=%d\n", env.Type, len(env.Payload))
	})

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := fc.Connect(cctx, ""); err != nil {
		log.Printf("feed connect error: %v", err)
		return
	}

	t := time.NewTimer(window)
	<-t.C

	_ = fc.Close(context.Background())
}
