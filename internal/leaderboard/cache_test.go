package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	dto "github.com/park285/skyquest-client/pkg/skyquestdto"
)

type countingFetcher struct {
	calls   atomic.Int32
	err     error
	release chan struct{}
	ctxErr  chan error
}

func (f *countingFetcher) GetLeaderboard(ctx context.Context, req dto.LeaderboardRequest) (*dto.LeaderboardResponse, error) {
	n := f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if f.ctxErr != nil {
		f.ctxErr <- ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &dto.LeaderboardResponse{
		Difficulty:  req.Difficulty,
		Count:       1,
		Leaderboard: []dto.LeaderboardEntry{{Rank: 1, Username: fmt.Sprintf("call-%d", n), TotalScore: 9000}},
	}, nil
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestCacheHit(t *testing.T) {
	_, rdb := newTestRedis(t)
	f := &countingFetcher{}
	c := NewCache(f, rdb)
	ctx := context.Background()

	first, err := c.Get(ctx, dto.DifficultyEasy, 10)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := c.Get(ctx, dto.DifficultyEasy, 10)
	if err != nil {
		t.Fatalf("Get#2: %v", err)
	}
	if f.calls.Load() != 1 {
		t.Fatalf("fetches = %d, want 1", f.calls.Load())
	}
	if second.Leaderboard[0].Username != first.Leaderboard[0].Username {
		t.Fatalf("cached page differs: %+v vs %+v", first, second)
	}

	if _, err := c.Get(ctx, dto.DifficultyHard, 10); err != nil {
		t.Fatalf("Get hard: %v", err)
	}
	if f.calls.Load() != 2 {
		t.Fatalf("difficulty must be part of the key, fetches = %d", f.calls.Load())
	}
}

func TestCacheExpires(t *testing.T) {
	mr, rdb := newTestRedis(t)
	f := &countingFetcher{}
	c := NewCache(f, rdb, WithTTL(5*time.Second))
	ctx := context.Background()

	if _, err := c.Get(ctx, dto.DifficultyEasy, 0); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ttl := mr.TTL(keyFor(dto.DifficultyEasy, DefaultLimit)); ttl != 5*time.Second {
		t.Fatalf("ttl = %v", ttl)
	}
	mr.FastForward(6 * time.Second)
	if _, err := c.Get(ctx, dto.DifficultyEasy, 0); err != nil {
		t.Fatalf("Get after expiry: %v", err)
	}
	if f.calls.Load() != 2 {
		t.Fatalf("fetches = %d, want 2", f.calls.Load())
	}
}

func TestCacheWithoutRedisPassesThrough(t *testing.T) {
	f := &countingFetcher{}
	c := NewCache(f, nil)
	for i := 0; i < 3; i++ {
		if _, err := c.Get(context.Background(), dto.DifficultyEasy, 5); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	if f.calls.Load() != 3 {
		t.Fatalf("fetches = %d, want 3", f.calls.Load())
	}
	if err := c.Invalidate(context.Background(), dto.DifficultyEasy); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
}

func TestCacheDegradesWhenRedisDown(t *testing.T) {
	mr, rdb := newTestRedis(t)
	f := &countingFetcher{}
	c := NewCache(f, rdb)
	mr.Close()

	resp, err := c.Get(context.Background(), dto.DifficultyMedium, 10)
	if err != nil {
		t.Fatalf("Get with redis down: %v", err)
	}
	if resp.Difficulty != dto.DifficultyMedium {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestCacheDoesNotStoreFailures(t *testing.T) {
	_, rdb := newTestRedis(t)
	f := &countingFetcher{err: &dto.AuthorityError{Op: "get_leaderboard", Status: 503}}
	c := NewCache(f, rdb)

	_, err := c.Get(context.Background(), dto.DifficultyEasy, 10)
	var ae *dto.AuthorityError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v", err)
	}
	f.err = nil
	if _, err := c.Get(context.Background(), dto.DifficultyEasy, 10); err != nil {
		t.Fatalf("Get after recovery: %v", err)
	}
	if f.calls.Load() != 2 {
		t.Fatalf("fetches = %d, want 2", f.calls.Load())
	}
}

func TestConcurrentMissesShareOneFetch(t *testing.T) {
	_, rdb := newTestRedis(t)
	f := &countingFetcher{release: make(chan struct{})}
	c := NewCache(f, rdb)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Get(context.Background(), dto.DifficultyEasy, 10)
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(f.release)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	if f.calls.Load() != 1 {
		t.Fatalf("fetches = %d, want 1", f.calls.Load())
	}
}

func TestCancelledCallerDoesNotFailSharedFetch(t *testing.T) {
	_, rdb := newTestRedis(t)
	f := &countingFetcher{release: make(chan struct{}), ctxErr: make(chan error, 1)}
	c := NewCache(f, rdb)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx, dto.DifficultyHard, 5)
		first <- err
	}()
	for f.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	second := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background(), dto.DifficultyHard, 5)
		second <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller err = %v, want context.Canceled", err)
	}
	close(f.release)
	if err := <-f.ctxErr; err != nil {
		t.Fatalf("fetch saw ctx err %v", err)
	}
	if err := <-second; err != nil {
		t.Fatalf("waiting caller: %v", err)
	}
	if f.calls.Load() != 1 {
		t.Fatalf("fetches = %d, want 1", f.calls.Load())
	}
	if _, ok := c.load(context.Background(), keyFor(dto.DifficultyHard, 5)); !ok {
		t.Fatal("shared result was not cached")
	}
}

func TestInvalidate(t *testing.T) {
	mr, rdb := newTestRedis(t)
	f := &countingFetcher{}
	c := NewCache(f, rdb)
	ctx := context.Background()

	for _, limit := range []int{5, 10} {
		if _, err := c.Get(ctx, dto.DifficultyEasy, limit); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	if _, err := c.Get(ctx, dto.DifficultyHard, 5); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := c.Get(ctx, "", 5); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := c.Invalidate(ctx, dto.DifficultyEasy); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if mr.Exists(keyFor(dto.DifficultyEasy, 5)) || mr.Exists(keyFor(dto.DifficultyEasy, 10)) {
		t.Fatalf("easy pages still cached")
	}
	if mr.Exists(keyFor("", 5)) {
		t.Fatalf("all-difficulty page still cached")
	}
	if !mr.Exists(keyFor(dto.DifficultyHard, 5)) {
		t.Fatalf("hard page must survive")
	}
}

func TestOpenRedis(t *testing.T) {
	mr, _ := newTestRedis(t)
	rdb, err := OpenRedis(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("OpenRedis: %v", err)
	}
	_ = rdb.Close()
	if _, err := OpenRedis(context.Background(), "::not a url"); err == nil {
		t.Fatalf("expected parse error")
	}
}
