package fakeauthority

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/park285/skyquest-client/internal/airports"
	"github.com/park285/skyquest-client/internal/obslog"
	dto "github.com/park285/skyquest-client/pkg/skyquestdto"
)

const DefaultRounds = 10

var (
	errSessionNotFound = errors.New("game session not found")
	errGameCompleted   = errors.New("game already completed")
)

type round struct {
	number    int
	flight    dto.Flight
	progress  float64
	startedAt time.Time
	guess     *string
	points    int
	guessTime float64
	conf      *int
	doneAt    *time.Time
}

type game struct {
	id         string
	username   string
	difficulty dto.Difficulty
	rounds     []*round
	current    int
	totalScore int
	completed  bool
	saved      bool
}

// Server is an in-memory remote authority speaking the same HTTP and push
// protocol as the real one. It exists for local play and tests.
type Server struct {
	dir    *airports.Directory
	hub    *Hub
	clock  clockwork.Clock
	logger *zap.Logger
	rounds int

	mu     sync.Mutex
	rng    *rand.Rand
	games  map[string]*game
	scores map[string]*dto.LeaderboardEntry
}

type Option func(*Server)

func WithRounds(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.rounds = n
		}
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(s *Server) { s.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithSeed makes flight selection reproducible.
func WithSeed(seed uint64) Option {
	return func(s *Server) { s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

func New(dir *airports.Directory, opts ...Option) *Server {
	s := &Server{
		dir:    dir,
		clock:  clockwork.NewRealClock(),
		rounds: DefaultRounds,
		rng:    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
		games:  make(map[string]*game),
		scores: make(map[string]*dto.LeaderboardEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = obslog.Or(s.logger).With(zap.String("component", "fakeauthority"))
	s.hub = NewHub(s.logger)
	return s
}

func (s *Server) Hub() *Hub { return s.hub }

// Handler mounts the API under /api and the push feed at /ws.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	r.Route("/api", func(r chi.Router) {
		r.Post("/game/start", s.handleStart)
		r.Post("/game/guess", s.handleGuess)
		r.Post("/game/end", s.handleEnd)
		r.Get("/leaderboard", s.handleLeaderboard)
	})
	r.Handle("/ws", s.hub)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req dto.StartGameRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}
	if req.Difficulty == "" {
		req.Difficulty = dto.DifficultyEasy
	}
	if _, ok := dto.ParseDifficulty(string(req.Difficulty)); !ok {
		writeError(w, http.StatusBadRequest, "invalid difficulty, must be easy, medium, or hard")
		return
	}

	g, err := s.newGame(req.Username, req.Difficulty)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.logger.Info("fake_game_started", zap.String("session_id", g.id), zap.String("username", g.username))
	writeJSON(w, http.StatusOK, dto.StartGameResponse{
		SessionID:    g.id,
		Difficulty:   g.difficulty,
		TotalRounds:  len(g.rounds),
		CurrentRound: 1,
		Flight:       display(g.rounds[0].flight, g.difficulty),
	})
}

func (s *Server) newGame(username string, d dto.Difficulty) (*game, error) {
	all := s.dir.All()
	if len(all) < 2 {
		return nil, errors.New("no flights available")
	}
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	g := &game{id: uuid.NewString(), username: username, difficulty: d}
	for i := 0; i < s.rounds; i++ {
		dep := all[s.rng.IntN(len(all))]
		arr := all[s.rng.IntN(len(all))]
		for arr.IATA == dep.IATA {
			arr = all[s.rng.IntN(len(all))]
		}
		g.rounds = append(g.rounds, &round{number: i + 1, flight: s.flightLocked(dep, arr, now), progress: 0.3})
	}
	g.rounds[0].startedAt = now
	advance(g.rounds[0])
	s.games[g.id] = g
	return g, nil
}

func (s *Server) flightLocked(dep, arr dto.Airport, now time.Time) dto.Flight {
	num := 100 + s.rng.IntN(900)
	arrival := arr
	return dto.Flight{
		ID:           uuid.NewString(),
		ICAO24:       fmt.Sprintf("%06x", s.rng.Uint32()&0xffffff),
		Callsign:     fmt.Sprintf("SKQ%d", num),
		Status:       "en-route",
		Departure:    dep,
		Arrival:      &arrival,
		Aircraft:     dto.Aircraft{ICAO: "B77W", Model: "Boeing 777-300ER"},
		Airline:      dto.Airline{IATA: "SQ", ICAO: "SKQ", Name: "SkyQuest Air"},
		FlightNumber: fmt.Sprintf("SQ%d", num),
		Hint:         "Destination is in " + arr.Country,
		UpdatedAt:    now,
	}
}

// advance moves the flight of r along the straight line between its airports.
func advance(r *round) {
	f := &r.flight
	if f.Arrival == nil {
		return
	}
	p := math.Min(r.progress, 0.95)
	dep, arr := f.Departure, *f.Arrival
	f.Latitude = dep.Latitude + (arr.Latitude-dep.Latitude)*p
	f.Longitude = dep.Longitude + (arr.Longitude-dep.Longitude)*p
	f.Altitude = 35000
	f.Speed = 480
	f.Heading = math.Mod(math.Atan2(arr.Longitude-dep.Longitude, arr.Latitude-dep.Latitude)*180/math.Pi+360, 360)
}

// display strips what the player must not see for the given difficulty.
func display(f dto.Flight, d dto.Difficulty) dto.Flight {
	f.Arrival = nil
	switch d {
	case dto.DifficultyMedium:
		f.Hint = ""
	case dto.DifficultyHard:
		f.Hint = ""
		f.Airline = dto.Airline{}
		f.FlightNumber = ""
	}
	return f
}

func (s *Server) handleGuess(w http.ResponseWriter, r *http.Request) {
	var req dto.GuessRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	guessed, ok := s.dir.Lookup(req.AirportIATA)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid airport code")
		return
	}

	resp, err := s.guess(req, guessed)
	switch {
	case errors.Is(err, errSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, errGameCompleted):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	_, _ = s.hub.SendTo(req.SessionID, dto.FeedGuessResult, dto.GuessResultPayload{
		SessionID:   req.SessionID,
		RoundNumber: resp.RoundNumber,
		Score:       resp.Score,
		TotalScore:  resp.TotalScore,
	})
	if resp.NextFlight != nil {
		_, _ = s.hub.SendTo(req.SessionID, dto.FeedRoundStart, dto.RoundStartPayload{
			SessionID:   req.SessionID,
			RoundNumber: resp.RoundNumber + 1,
			Flight:      *resp.NextFlight,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) guess(req dto.GuessRequest, guessed dto.Airport) (*dto.GuessResponse, error) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[req.SessionID]
	if !ok {
		return nil, errSessionNotFound
	}
	if g.completed {
		return nil, errGameCompleted
	}
	cur := g.rounds[g.current]
	elapsed := now.Sub(cur.startedAt).Seconds()
	result := score(*cur.flight.Arrival, guessed, g.difficulty, elapsed)

	code := guessed.IATA
	cur.guess = &code
	cur.points = result.TotalPoints
	cur.guessTime = elapsed
	cur.conf = req.Confidence
	done := now
	cur.doneAt = &done
	g.totalScore += result.TotalPoints

	resp := &dto.GuessResponse{Score: result, RoundNumber: cur.number, TotalScore: g.totalScore}
	if g.current == len(g.rounds)-1 {
		g.completed = true
		resp.IsGameOver = true
		return resp, nil
	}
	g.current++
	next := g.rounds[g.current]
	next.startedAt = now
	advance(next)
	nf := display(next.flight, g.difficulty)
	resp.NextFlight = &nf
	return resp, nil
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	var req dto.EndGameRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := s.end(req.SessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	_, _ = s.hub.SendTo(req.SessionID, dto.FeedGameEnd, dto.GameEndPayload{
		SessionID:  resp.SessionID,
		TotalScore: resp.TotalScore,
		Rank:       resp.Rank,
	})
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) end(sessionID string) (*dto.EndGameResponse, error) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[sessionID]
	if !ok {
		return nil, errSessionNotFound
	}
	g.completed = true
	if !g.saved {
		s.saveScoreLocked(g, now)
		g.saved = true
	}

	resp := &dto.EndGameResponse{
		SessionID:  g.id,
		TotalScore: g.totalScore,
		Difficulty: g.difficulty,
		Rank:       s.rankLocked(g.username, g.difficulty),
	}
	for _, rd := range g.rounds {
		if rd.guess == nil {
			continue
		}
		resp.Rounds = append(resp.Rounds, dto.Round{
			RoundNumber:   rd.number,
			FlightID:      rd.flight.ID,
			Departure:     rd.flight.Departure.IATA,
			ActualArrival: rd.flight.Arrival.IATA,
			PlayerGuess:   rd.guess,
			PointsEarned:  rd.points,
			GuessTime:     rd.guessTime,
			Confidence:    rd.conf,
			StartedAt:     rd.startedAt,
			CompletedAt:   rd.doneAt,
		})
	}
	return resp, nil
}

func scoreKey(username string, d dto.Difficulty) string { return username + ":" + string(d) }

// saveScoreLocked keeps the best total per player and difficulty.
func (s *Server) saveScoreLocked(g *game, now time.Time) {
	key := scoreKey(g.username, g.difficulty)
	e, ok := s.scores[key]
	if !ok {
		s.scores[key] = &dto.LeaderboardEntry{
			ID:          uuid.NewString(),
			Username:    g.username,
			Difficulty:  g.difficulty,
			TotalScore:  g.totalScore,
			GamesPlayed: 1,
			UpdatedAt:   now,
		}
		return
	}
	e.GamesPlayed++
	e.UpdatedAt = now
	if g.totalScore > e.TotalScore {
		e.TotalScore = g.totalScore
	}
}

func (s *Server) rankedLocked(d dto.Difficulty) []dto.LeaderboardEntry {
	var out []dto.LeaderboardEntry
	for _, e := range s.scores {
		if d == "" || e.Difficulty == d {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalScore != out[j].TotalScore {
			return out[i].TotalScore > out[j].TotalScore
		}
		return out[i].Username < out[j].Username
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func (s *Server) rankLocked(username string, d dto.Difficulty) int {
	for _, e := range s.rankedLocked(d) {
		if e.Username == username {
			return e.Rank
		}
	}
	return 0
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	d := dto.Difficulty(r.URL.Query().Get("difficulty"))
	if d != "" {
		if _, ok := dto.ParseDifficulty(string(d)); !ok {
			writeError(w, http.StatusBadRequest, "invalid difficulty")
			return
		}
	}
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, 100)
	}
	s.mu.Lock()
	entries := s.rankedLocked(d)
	s.mu.Unlock()
	if len(entries) > limit {
		entries = entries[:limit]
	}
	if entries == nil {
		entries = []dto.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, dto.LeaderboardResponse{Leaderboard: entries, Count: len(entries), Difficulty: d})
}

// PushPositions advances every open round and broadcasts one flight:update
// batch. It returns the number of clients reached.
func (s *Server) PushPositions() (int, error) {
	now := s.clock.Now()
	s.mu.Lock()
	var batch []dto.Flight
	for _, g := range s.games {
		if g.completed {
			continue
		}
		cur := g.rounds[g.current]
		cur.progress = math.Min(cur.progress+0.01, 0.95)
		advance(cur)
		cur.flight.UpdatedAt = now
		batch = append(batch, display(cur.flight, g.difficulty))
	}
	s.mu.Unlock()
	if len(batch) == 0 {
		return 0, nil
	}
	return s.hub.Broadcast(dto.FeedFlightUpdate, dto.FlightUpdatePayload{Flights: batch})
}

// Run pushes positions every interval until ctx is done.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	t := s.clock.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
			if _, err := s.PushPositions(); err != nil {
				s.logger.Warn("fake_push_failed", zap.Error(err))
			}
		}
	}
}
