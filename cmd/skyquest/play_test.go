package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/skyquest-client/internal/airports"
	"github.com/park285/skyquest-client/internal/authority"
	"github.com/park285/skyquest-client/internal/config"
	"github.com/park285/skyquest-client/internal/fakeauthority"
	"github.com/park285/skyquest-client/internal/game"
	"github.com/park285/skyquest-client/internal/leaderboard"
	"github.com/park285/skyquest-client/internal/session"
	dto "github.com/park285/skyquest-client/pkg/skyquestdto"
)

func newTestPlayer(t *testing.T, script string) (*player, *bytes.Buffer) {
	t.Helper()
	dir := airports.MustDefault()
	fa := fakeauthority.New(dir, fakeauthority.WithRounds(1), fakeauthority.WithSeed(3))
	hs := httptest.NewServer(fa.Handler())
	t.Cleanup(hs.Close)

	auth := authority.NewClient(hs.URL + "/api")
	a := &app{
		cfg:       &config.AppConfig{Difficulty: dto.DifficultyEasy},
		authority: auth,
		boards:    leaderboard.NewCache(auth, nil),
		airports:  dir,
	}
	orch := game.NewOrchestrator(session.NewStore(), auth, game.WithLeaderboards(a.boards))
	t.Cleanup(orch.Close)

	var out bytes.Buffer
	return &player{app: a, orch: orch, in: strings.NewReader(script), out: &out}, &out
}

func TestPlayScript(t *testing.T) {
	p, out := newTestPlayer(t, strings.Join([]string{
		"start",
		"name ava",
		"start",
		"search london",
		"pick lhr",
		"guess 80",
		"end",
		"board",
		"quit",
	}, "\n"))

	require.NoError(t, p.run(context.Background()))
	text := out.String()

	assert.Contains(t, text, "error: ", "starting without a name is refused")
	assert.Contains(t, text, "round 1/1")
	assert.Contains(t, text, "LHR  London Heathrow")
	assert.Contains(t, text, "game over")
	assert.Contains(t, text, "ava finished easy")
	assert.Contains(t, text, "RANK")
	assert.Equal(t, session.StatusIdle, p.orch.View().Status)
}

func TestPlayUnknownCommand(t *testing.T) {
	p, out := newTestPlayer(t, "fly\nguess\n")
	require.NoError(t, p.run(context.Background()))
	assert.Contains(t, out.String(), `unknown command "fly"`)
	assert.Contains(t, out.String(), "error: ")
}

func TestPrintLeaderboardEmpty(t *testing.T) {
	var buf bytes.Buffer
	printLeaderboard(&buf, &dto.LeaderboardResponse{})
	assert.Equal(t, "leaderboard is empty\n", buf.String())
}
