package fakeauthority

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/skyquest-client/internal/feed"
	gameorch "github.com/park285/skyquest-client/internal/game"
	"github.com/park285/skyquest-client/internal/session"
	dto "github.com/park285/skyquest-client/pkg/skyquestdto"
)

func (h *harness) feedURL() string {
	return "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"
}

func newFeed(t *testing.T, h *harness) *feed.Client {
	t.Helper()
	fc := feed.NewClient(h.feedURL(),
		feed.WithBackoff(20*time.Millisecond, 5),
		feed.WithPingInterval(0),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = fc.Close(ctx)
	})
	return fc
}

type envelopeLog struct {
	mu   sync.Mutex
	seen []feed.Envelope
}

func (l *envelopeLog) add(env feed.Envelope) {
	l.mu.Lock()
	l.seen = append(l.seen, env)
	l.mu.Unlock()
}

func (l *envelopeLog) has(typ string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.seen {
		if e.Type == typ {
			return true
		}
	}
	return false
}

func TestFeedRegistersAndReceivesUpdates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start, err := h.client.StartGame(ctx, dto.StartGameRequest{Username: "ava"})
	require.NoError(t, err)

	fc := newFeed(t, h)
	batches := make(chan []dto.Flight, 4)
	fc.OnFlightUpdate(func(f []dto.Flight) { batches <- f })

	require.NoError(t, fc.Connect(ctx, start.SessionID))
	require.Eventually(t, func() bool { return h.srv.Hub().Registered(start.SessionID) }, 2*time.Second, 10*time.Millisecond)

	n, err := h.srv.PushPositions()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	select {
	case got := <-batches:
		require.Len(t, got, 1)
		assert.Equal(t, start.Flight.ID, got[0].ID)
		assert.Nil(t, got[0].Arrival)
	case <-time.After(2 * time.Second):
		t.Fatal("no flight update delivered")
	}
}

func TestFeedRegisterInBand(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fc := newFeed(t, h)
	require.NoError(t, fc.Connect(ctx, ""))
	require.Eventually(t, func() bool { return h.srv.Hub().Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, fc.Connect(ctx, "late-session"))
	assert.Eventually(t, func() bool { return h.srv.Hub().Registered("late-session") }, 2*time.Second, 10*time.Millisecond)
}

func TestFeedReconnectsAfterServerDrop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fc := newFeed(t, h)

	var mu sync.Mutex
	var states []feed.State
	fc.OnStateChange(func(c feed.StateChange) {
		mu.Lock()
		states = append(states, c.State)
		mu.Unlock()
	})

	require.NoError(t, fc.Connect(ctx, "s-drop"))
	require.Eventually(t, func() bool { return h.srv.Hub().Registered("s-drop") }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, h.srv.Hub().DropAll())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range states {
			if s == feed.StateClosedRetrying {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return fc.Status().State == feed.StateOpen && h.srv.Hub().Registered("s-drop")
	}, 3*time.Second, 10*time.Millisecond)
	assert.Zero(t, fc.Status().Attempts)
}

func TestFeedMalformedFrameIsSkipped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fc := newFeed(t, h)
	var log envelopeLog
	fc.Subscribe(log.add)

	require.NoError(t, fc.Connect(ctx, "s-raw"))
	require.Eventually(t, func() bool { return h.srv.Hub().Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	h.srv.Hub().SendRaw([]byte("{not json"))
	_, err := h.srv.Hub().Broadcast(dto.FeedGameEnd, dto.GameEndPayload{SessionID: "s-raw"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return log.has(dto.FeedGameEnd) }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, feed.StateOpen, fc.Status().State)
}

func TestFullGameThroughOrchestrator(t *testing.T) {
	h := newHarness(t, WithRounds(2))
	ctx := context.Background()
	fc := newFeed(t, h)
	var log envelopeLog
	fc.Subscribe(log.add)

	store := session.NewStore()
	orch := gameorch.NewOrchestrator(store, h.client, gameorch.WithFeed(fc), gameorch.WithDifficulty(dto.DifficultyMedium))
	t.Cleanup(orch.Close)

	require.NoError(t, orch.SetUsername("eve"))
	require.NoError(t, orch.StartGame(ctx))
	st := store.Snapshot()
	require.Equal(t, session.StatusPlaying, st.Status)
	sid := st.SessionID
	require.Eventually(t, func() bool { return h.srv.Hub().Registered(sid) }, 2*time.Second, 10*time.Millisecond)

	before := store.Snapshot().CurrentFlight
	require.NotNil(t, before)
	_, err := h.srv.PushPositions()
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		f := store.Snapshot().CurrentFlight
		return f != nil && f.Latitude != before.Latitude
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, orch.SelectAirport(strings.ToLower(h.arrival(t, sid).IATA)))
	require.NoError(t, orch.SubmitGuess(ctx, nil))
	st = store.Snapshot()
	require.True(t, st.ShowResult)
	assert.Equal(t, 1950, st.TotalScore)
	require.Eventually(t, func() bool { return log.has(dto.FeedGuessResult) && log.has(dto.FeedRoundStart) }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, orch.NextRound())
	require.NoError(t, orch.SelectAirport(h.arrival(t, sid).IATA))
	require.NoError(t, orch.SubmitGuess(ctx, nil))
	assert.Equal(t, session.StatusFinished, store.Snapshot().Status)

	summary, err := orch.EndGame(ctx)
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, 3900, summary.TotalScore)
	assert.Equal(t, 1, summary.Rank)
	assert.Len(t, summary.Rounds, 2)
	assert.Equal(t, session.StatusIdle, store.Snapshot().Status)

	board, err := orch.Leaderboard(ctx, dto.DifficultyMedium, 10)
	require.NoError(t, err)
	require.Len(t, board.Leaderboard, 1)
	assert.Equal(t, "eve", board.Leaderboard[0].Username)
}
