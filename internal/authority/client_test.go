package authority

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	dto "github.com/park285/skyquest-client/pkg/skyquestdto"
)

func newTestServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func asAuthorityError(t *testing.T, err error) *dto.AuthorityError {
	t.Helper()
	var ae *dto.AuthorityError
	if !errors.As(err, &ae) {
		t.Fatalf("expected *AuthorityError, got %T: %v", err, err)
	}
	return ae
}

func TestStartGame(t *testing.T) {
	var gotReq dto.StartGameRequest
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/game/start" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Request-Id") == "" {
			t.Errorf("missing request id")
		}
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		writeJSON(w, http.StatusOK, dto.StartGameResponse{
			SessionID:   "abc",
			Difficulty:  dto.DifficultyEasy,
			TotalRounds: 10,
			Flight:      dto.Flight{ID: "f1", Departure: dto.Airport{IATA: "ICN"}},
		})
	})

	c := NewClient(srv.URL + "/api/")
	resp, err := c.StartGame(context.Background(), dto.StartGameRequest{Username: "Ava", Difficulty: dto.DifficultyEasy})
	if err != nil {
		t.Fatalf("StartGame: %v", err)
	}
	if resp.SessionID != "abc" || resp.TotalRounds != 10 || resp.Flight.ID != "f1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if gotReq.Username != "Ava" || gotReq.Difficulty != dto.DifficultyEasy {
		t.Fatalf("request body not forwarded: %+v", gotReq)
	}
}

func TestSubmitGuessForwardsBody(t *testing.T) {
	var body map[string]any
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, http.StatusOK, dto.GuessResponse{
			Score:       dto.ScoreResult{MatchType: dto.MatchExact, TotalPoints: 1000},
			RoundNumber: 1,
			NextFlight:  &dto.Flight{ID: "f2"},
			TotalScore:  1000,
		})
	})

	conf := 80
	resp, err := NewClient(srv.URL).SubmitGuess(context.Background(), dto.GuessRequest{SessionID: "abc", AirportIATA: "LAX", Confidence: &conf})
	if err != nil {
		t.Fatalf("SubmitGuess: %v", err)
	}
	if resp.Score.MatchType != dto.MatchExact || resp.NextFlight == nil || resp.NextFlight.ID != "f2" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if body["sessionId"] != "abc" || body["airportIata"] != "LAX" || body["confidence"] != float64(80) {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestSubmitGuessRefusesEmptyAirportWithoutNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) { hits.Add(1) })

	_, err := NewClient(srv.URL).SubmitGuess(context.Background(), dto.GuessRequest{SessionID: "abc", AirportIATA: "   "})
	if !errors.Is(err, ErrEmptyAirport) {
		t.Fatalf("err = %v, want ErrEmptyAirport", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("request was sent")
	}
}

func TestErrorBodyNormalized(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"error field", http.StatusBadRequest, `{"error":"invalid airport code"}`, "invalid airport code"},
		{"message field", http.StatusNotFound, `{"message":"session not found"}`, "session not found"},
		{"plain text", http.StatusConflict, "game already finished", "game already finished"},
		{"empty body", http.StatusForbidden, "", "Forbidden"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := NewClient(srv.URL).EndGame(context.Background(), dto.EndGameRequest{SessionID: "abc"})
			ae := asAuthorityError(t, err)
			if ae.Status != tc.status || ae.Message != tc.want {
				t.Fatalf("got status=%d message=%q, want %d %q", ae.Status, ae.Message, tc.status, tc.want)
			}
			if ae.Op != "end_game" {
				t.Fatalf("op = %q", ae.Op)
			}
		})
	}
}

func TestUnreachableAuthorityHasStatusZero(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, WithTimeout(time.Second)).StartGame(context.Background(), dto.StartGameRequest{Username: "Ava"})
	ae := asAuthorityError(t, err)
	if ae.Status != 0 || !ae.Retryable() {
		t.Fatalf("unexpected error: %+v", ae)
	}
}

func TestMalformedSuccessBody(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>"))
	})
	_, err := NewClient(srv.URL).StartGame(context.Background(), dto.StartGameRequest{Username: "Ava"})
	ae := asAuthorityError(t, err)
	if ae.Status != http.StatusOK || ae.Message != "malformed response body" {
		t.Fatalf("unexpected error: %+v", ae)
	}
}

func TestNoRetryByDefault(t *testing.T) {
	var hits atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "busy"})
	})
	_, err := NewClient(srv.URL).StartGame(context.Background(), dto.StartGameRequest{Username: "Ava"})
	if ae := asAuthorityError(t, err); ae.Status != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", ae.Status)
	}
	if hits.Load() != 1 {
		t.Fatalf("hits = %d, want 1", hits.Load())
	}
}

func TestWithRetryRecoversFrom5xx(t *testing.T) {
	var hits atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, dto.EndGameResponse{SessionID: "abc", TotalScore: 900, Rank: 3})
	})
	resp, err := NewClient(srv.URL, WithRetry(3)).EndGame(context.Background(), dto.EndGameRequest{SessionID: "abc"})
	if err != nil {
		t.Fatalf("EndGame: %v", err)
	}
	if resp.Rank != 3 || hits.Load() != 2 {
		t.Fatalf("rank=%d hits=%d", resp.Rank, hits.Load())
	}
}

func TestWithRetryDoesNotRetry4xx(t *testing.T) {
	var hits atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "game is not active"})
	})
	_, err := NewClient(srv.URL, WithRetry(3)).SubmitGuess(context.Background(), dto.GuessRequest{SessionID: "abc", AirportIATA: "LAX"})
	if ae := asAuthorityError(t, err); ae.Retryable() {
		t.Fatalf("4xx must not be retryable: %+v", ae)
	}
	if hits.Load() != 1 {
		t.Fatalf("hits = %d, want 1", hits.Load())
	}
}

func TestLeaderboardQuery(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/leaderboard" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.URL.Query().Get("difficulty") != "hard" || r.URL.Query().Get("limit") != "5" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		writeJSON(w, http.StatusOK, dto.LeaderboardResponse{
			Leaderboard: []dto.LeaderboardEntry{{Rank: 1, Username: "Ava", TotalScore: 9000}},
			Count:       1,
			Difficulty:  dto.DifficultyHard,
		})
	})
	resp, err := NewClient(srv.URL).GetLeaderboard(context.Background(), dto.LeaderboardRequest{Difficulty: dto.DifficultyHard, Limit: 5})
	if err != nil {
		t.Fatalf("GetLeaderboard: %v", err)
	}
	if resp.Count != 1 || resp.Leaderboard[0].Username != "Ava" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHeaderProviderAndCancelledContext(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Client") != "skyquest" {
			t.Errorf("header not forwarded")
		}
		writeJSON(w, http.StatusOK, dto.EndGameResponse{})
	})
	c := NewClient(srv.URL, WithHeaderProvider(func() map[string]string {
		return map[string]string{"X-Client": "skyquest", "": "dropped"}
	}))
	if _, err := c.EndGame(context.Background(), dto.EndGameRequest{SessionID: "abc"}); err != nil {
		t.Fatalf("EndGame: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.EndGame(ctx, dto.EndGameRequest{SessionID: "abc"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

type recordingMetrics struct {
	ops []string
}

func (m *recordingMetrics) ObserveRequest(op string, status int, _ time.Duration) {
	m.ops = append(m.ops, op)
}

func TestMetricsObserved(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, dto.LeaderboardResponse{})
	})
	m := &recordingMetrics{}
	c := NewClient(srv.URL, WithMetrics(m), WithRateLimit(100, 1))
	for i := 0; i < 2; i++ {
		if _, err := c.GetLeaderboard(context.Background(), dto.LeaderboardRequest{}); err != nil {
			t.Fatalf("GetLeaderboard: %v", err)
		}
	}
	if len(m.ops) != 2 || m.ops[0] != "get_leaderboard" {
		t.Fatalf("ops = %v", m.ops)
	}
}
