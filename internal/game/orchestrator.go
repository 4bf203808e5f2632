package game

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/skyquest-client/internal/obslog"
	"github.com/park285/skyquest-client/internal/session"
	dto "github.com/park285/skyquest-client/pkg/skyquestdto"
)

// Authority is the remote side of a game.
type Authority interface {
	StartGame(ctx context.Context, req dto.StartGameRequest) (*dto.StartGameResponse, error)
	SubmitGuess(ctx context.Context, req dto.GuessRequest) (*dto.GuessResponse, error)
	EndGame(ctx context.Context, req dto.EndGameRequest) (*dto.EndGameResponse, error)
	GetLeaderboard(ctx context.Context, req dto.LeaderboardRequest) (*dto.LeaderboardResponse, error)
}

// Feed is the push channel the orchestrator registers sessions with.
type Feed interface {
	Connect(ctx context.Context, sessionID string) error
	OnFlightUpdate(fn func([]dto.Flight)) func()
}

// Leaderboards serves leaderboard reads, usually through a cache.
type Leaderboards interface {
	Get(ctx context.Context, difficulty dto.Difficulty, limit int) (*dto.LeaderboardResponse, error)
	Invalidate(ctx context.Context, difficulty dto.Difficulty) error
}

// Orchestrator turns user actions into authority calls and applies each
// response as one store transition. Besides the store it only tracks which
// actions are in flight and how each last failed.
type Orchestrator struct {
	store      *session.Store
	authority  Authority
	feed       Feed
	boards     Leaderboards
	difficulty dto.Difficulty
	logger     *zap.Logger

	bgTimeout time.Duration // feed registration and abandoned-session cleanup

	mu       sync.Mutex
	inflight map[Action]session.Ticket
	lastErr  map[Action]error
	summary  *Summary

	unsubscribeFeed func()
	wg              sync.WaitGroup
}

type Option func(*Orchestrator)

func WithFeed(f Feed) Option {
	return func(o *Orchestrator) { o.feed = f }
}

func WithLeaderboards(l Leaderboards) Option {
	return func(o *Orchestrator) { o.boards = l }
}

func WithDifficulty(d dto.Difficulty) Option {
	return func(o *Orchestrator) {
		if d != "" {
			o.difficulty = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func NewOrchestrator(store *session.Store, authority Authority, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		authority:   authority,
		difficulty:  dto.DifficultyEasy,
		bgTimeout: 10 * time.Second,
		inflight:    make(map[Action]session.Ticket),
		lastErr:     make(map[Action]error),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = obslog.Or(o.logger).With(zap.String("component", "game"))
	if o.feed != nil {
		o.unsubscribeFeed = o.feed.OnFlightUpdate(o.mergeFlights)
	}
	return o
}

// Close detaches from the feed and waits for background work.
func (o *Orchestrator) Close() {
	if o.unsubscribeFeed != nil {
		o.unsubscribeFeed()
	}
	o.wg.Wait()
}

func (o *Orchestrator) Store() *session.Store { return o.store }

// View returns the current read model.
func (o *Orchestrator) View() View {
	st := o.store.Snapshot()
	o.mu.Lock()
	defer o.mu.Unlock()
	v := View{State: st, Errors: make(map[Action]error, len(o.lastErr))}
	_, v.Starting = o.inflight[ActionStart]
	_, v.Submitting = o.inflight[ActionSubmit]
	_, v.Ending = o.inflight[ActionEnd]
	for a, err := range o.lastErr {
		v.Errors[a] = err
	}
	if o.summary != nil {
		s := *o.summary
		s.Rounds = append([]dto.Round(nil), o.summary.Rounds...)
		v.LastSummary = &s
	}
	return v
}

// begin marks action as in flight for ticket. It reports false when the same
// action is already pending, in which case the caller must do nothing.
func (o *Orchestrator) begin(action Action, ticket session.Ticket) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if pending, ok := o.inflight[action]; ok {
		o.logger.Debug("action_already_in_flight",
			zap.String("action", string(action)),
			zap.Int("pending_round", pending.Round),
			zap.Int("round", ticket.Round),
		)
		return false
	}
	o.inflight[action] = ticket
	delete(o.lastErr, action)
	return true
}

func (o *Orchestrator) finish(action Action, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, action)
	o.recordLocked(action, err)
}

func (o *Orchestrator) record(action Action, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recordLocked(action, err)
}

func (o *Orchestrator) recordLocked(action Action, err error) {
	if err == nil {
		delete(o.lastErr, action)
		return
	}
	o.lastErr[action] = err
}

func (o *Orchestrator) SetUsername(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		err := invalid(ActionSetUsername, ErrUsernameRequired, "")
		o.record(ActionSetUsername, err)
		return err
	}
	if _, err := o.store.Dispatch(session.UsernameSet{Username: name}); err != nil {
		verr := invalid(ActionSetUsername, ErrInvalidState, err.Error())
		o.record(ActionSetUsername, verr)
		return verr
	}
	o.record(ActionSetUsername, nil)
	return nil
}

// StartGame asks the authority for a new session. A call made while another
// start is pending returns nil without doing anything.
func (o *Orchestrator) StartGame(ctx context.Context) error {
	st, ticket := o.store.Current()
	if st.Status != session.StatusIdle {
		err := invalid(ActionStart, ErrInvalidState, "a game is already open")
		o.record(ActionStart, err)
		return err
	}
	if st.Username == "" {
		err := invalid(ActionStart, ErrUsernameRequired, "")
		o.record(ActionStart, err)
		return err
	}
	if !o.begin(ActionStart, ticket) {
		return nil
	}

	resp, err := o.authority.StartGame(ctx, dto.StartGameRequest{Username: st.Username, Difficulty: o.difficulty})
	if err != nil {
		o.logger.Warn("start_game_failed", zap.String("username", st.Username), zap.Error(err))
		o.finish(ActionStart, err)
		return err
	}

	next, err := o.store.Dispatch(session.GameStarted{
		Ticket:      ticket,
		SessionID:   resp.SessionID,
		Flight:      resp.Flight,
		TotalRounds: resp.TotalRounds,
	})
	switch {
	case errors.Is(err, session.ErrStaleTicket):
		o.logger.Info("start_stale_discarded", zap.String("session_id", resp.SessionID))
		o.finish(ActionStart, nil)
		o.abandon(resp.SessionID)
		return nil
	case err != nil:
		o.finish(ActionStart, err)
		return err
	}
	o.finish(ActionStart, nil)
	o.logger.Info("game_started",
		zap.String("session_id", next.SessionID),
		zap.String("username", next.Username),
		zap.Int("total_rounds", next.TotalRounds),
	)
	o.registerFeed(next.SessionID)
	return nil
}

// abandon ends a session the authority opened for a start the player no
// longer wants. Best effort: failures are logged only.
func (o *Orchestrator) abandon(sessionID string) {
	if sessionID == "" {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.bgTimeout)
		defer cancel()
		if _, err := o.authority.EndGame(ctx, dto.EndGameRequest{SessionID: sessionID}); err != nil {
			o.logger.Warn("abandoned_session_end_failed", zap.String("session_id", sessionID), zap.Error(err))
			return
		}
		o.logger.Info("abandoned_session_ended", zap.String("session_id", sessionID))
	}()
}

// registerFeed attaches the session to the feed in the background. Failures
// are logged only; the game does not depend on the feed.
func (o *Orchestrator) registerFeed(sessionID string) {
	if o.feed == nil {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.bgTimeout)
		defer cancel()
		if err := o.feed.Connect(ctx, sessionID); err != nil {
			o.logger.Warn("feed_register_failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}()
}

// SelectAirport stages iata as the guess; an empty code clears the selection.
func (o *Orchestrator) SelectAirport(iata string) error {
	iata = strings.ToUpper(strings.TrimSpace(iata))
	_, err := o.store.Dispatch(session.AirportSelected{IATA: iata})
	switch {
	case err == nil, errors.Is(err, session.ErrNoEffect):
		o.record(ActionSelect, nil)
		return nil
	default:
		verr := invalid(ActionSelect, ErrInvalidState, err.Error())
		o.record(ActionSelect, verr)
		return verr
	}
}

// SubmitGuess sends the staged airport. Only one submission per round can be
// in flight; a duplicate returns nil. A response that arrives after the game
// moved on is discarded.
func (o *Orchestrator) SubmitGuess(ctx context.Context, confidence *int) error {
	st, ticket := o.store.Current()
	if st.Status != session.StatusPlaying || st.SessionID == "" {
		err := invalid(ActionSubmit, ErrNoSession, "")
		o.record(ActionSubmit, err)
		return err
	}
	if st.ShowResult {
		err := invalid(ActionSubmit, ErrInvalidState, "round already scored")
		o.record(ActionSubmit, err)
		return err
	}
	if st.SelectedAirport == "" {
		err := invalid(ActionSubmit, ErrNoAirportSelected, "")
		o.record(ActionSubmit, err)
		return err
	}
	if !o.begin(ActionSubmit, ticket) {
		return nil
	}

	guess := st.SelectedAirport
	resp, err := o.authority.SubmitGuess(ctx, dto.GuessRequest{
		SessionID:   st.SessionID,
		AirportIATA: guess,
		Confidence:  confidence,
	})
	if err != nil {
		o.logger.Warn("submit_guess_failed",
			zap.String("session_id", st.SessionID),
			zap.Int("round", ticket.Round),
			zap.Error(err),
		)
		o.finish(ActionSubmit, err)
		return err
	}

	next, err := o.store.Dispatch(session.GuessScored{
		Ticket:      ticket,
		Guess:       guess,
		Confidence:  confidence,
		Score:       resp.Score,
		NextFlight:  resp.NextFlight,
		IsGameOver:  resp.IsGameOver,
		RoundNumber: resp.RoundNumber,
	})
	switch {
	case errors.Is(err, session.ErrStaleTicket), errors.Is(err, session.ErrTransitionRejected):
		o.logger.Info("guess_stale_discarded",
			zap.String("session_id", st.SessionID),
			zap.Int("round", ticket.Round),
			zap.Error(err),
		)
		o.finish(ActionSubmit, nil)
		return nil
	case err != nil:
		o.finish(ActionSubmit, err)
		return err
	}
	o.finish(ActionSubmit, nil)

	if resp.TotalScore != next.TotalScore {
		o.logger.Warn("authority_total_mismatch",
			zap.String("session_id", next.SessionID),
			zap.Int("local_total", next.TotalScore),
			zap.Int("authority_total", resp.TotalScore),
		)
	}
	o.logger.Info("guess_scored",
		zap.String("session_id", next.SessionID),
		zap.Int("round", ticket.Round),
		zap.String("match_type", string(resp.Score.MatchType)),
		zap.Int("points", resp.Score.TotalPoints),
		zap.Bool("game_over", resp.IsGameOver),
	)
	return nil
}

func (o *Orchestrator) NextRound() error {
	if _, err := o.store.Dispatch(session.RoundAdvanced{}); err != nil {
		verr := invalid(ActionNextRound, ErrInvalidState, err.Error())
		o.record(ActionNextRound, verr)
		return verr
	}
	o.record(ActionNextRound, nil)
	return nil
}

// EndGame closes the session with the authority and leaves the store in its
// initial state, even when the authority call fails. If the store was reset
// or a new game started while the call was pending, the store is left alone.
// A duplicate call while one is pending returns nil, nil.
func (o *Orchestrator) EndGame(ctx context.Context) (*Summary, error) {
	st, ticket := o.store.Current()
	if st.Status == session.StatusIdle || st.SessionID == "" {
		err := invalid(ActionEnd, ErrNoSession, "")
		o.record(ActionEnd, err)
		return nil, err
	}
	if !o.begin(ActionEnd, ticket) {
		return nil, nil
	}

	resp, err := o.authority.EndGame(ctx, dto.EndGameRequest{SessionID: st.SessionID})
	if err != nil {
		o.logger.Warn("end_game_failed", zap.String("session_id", st.SessionID), zap.Error(err))
		o.close(ticket)
		o.finish(ActionEnd, err)
		return nil, err
	}

	final, err := o.store.Dispatch(session.GameEnded{Ticket: ticket.AnyRound(), Rounds: resp.Rounds})
	if err != nil {
		// The store moved on; report what the authority returned.
		final = st
		final.Rounds = resp.Rounds
	}
	summary := &Summary{
		SessionID:  st.SessionID,
		Username:   st.Username,
		Difficulty: resp.Difficulty,
		TotalScore: resp.TotalScore,
		Rank:       resp.Rank,
		Rounds:     append([]dto.Round(nil), final.Rounds...),
	}
	if summary.Difficulty == "" {
		summary.Difficulty = o.difficulty
	}

	closed := o.close(ticket)
	if o.boards != nil {
		if err := o.boards.Invalidate(ctx, summary.Difficulty); err != nil {
			o.logger.Warn("leaderboard_invalidate_failed", zap.Error(err))
		}
	}
	if closed {
		o.mu.Lock()
		o.summary = summary
		o.mu.Unlock()
	}
	o.finish(ActionEnd, nil)

	o.logger.Info("game_ended",
		zap.String("session_id", summary.SessionID),
		zap.Int("total_score", summary.TotalScore),
		zap.Int("rank", summary.Rank),
		zap.Int("rounds", len(summary.Rounds)),
	)
	return summary, nil
}

// ResetGame returns an idle or finished store to its initial state. An open
// game must be ended through EndGame.
func (o *Orchestrator) ResetGame() error {
	if st := o.store.Snapshot(); st.Status == session.StatusPlaying {
		err := invalid(ActionReset, ErrInvalidState, "end the game before resetting")
		o.record(ActionReset, err)
		return err
	}
	o.reset("reset_game")
	o.mu.Lock()
	o.summary = nil
	clear(o.lastErr)
	o.mu.Unlock()
	return nil
}

// close resets the store for the game ticket was issued against. It reports
// false when that game is no longer the current one.
func (o *Orchestrator) close(ticket session.Ticket) bool {
	_, err := o.store.Dispatch(session.GameClosed{Ticket: ticket.AnyRound()})
	switch {
	case err == nil:
		return true
	case errors.Is(err, session.ErrStaleTicket):
		o.logger.Info("end_stale_discarded", zap.String("session_id", ticket.SessionID))
	default:
		o.logger.Error("session_close_failed", zap.String("session_id", ticket.SessionID), zap.Error(err))
	}
	return false
}

func (o *Orchestrator) reset(cause string) {
	if _, err := o.store.Dispatch(session.GameReset{}); err != nil {
		o.logger.Error("session_reset_failed", zap.String("cause", cause), zap.Error(err))
	}
}

// Leaderboard reads through the configured cache, or straight from the
// authority when there is none.
func (o *Orchestrator) Leaderboard(ctx context.Context, difficulty dto.Difficulty, limit int) (*dto.LeaderboardResponse, error) {
	if difficulty == "" {
		difficulty = o.difficulty
	}
	var (
		resp *dto.LeaderboardResponse
		err  error
	)
	if o.boards != nil {
		resp, err = o.boards.Get(ctx, difficulty, limit)
	} else {
		resp, err = o.authority.GetLeaderboard(ctx, dto.LeaderboardRequest{Difficulty: difficulty, Limit: limit})
	}
	o.record(ActionLeaderboard, err)
	return resp, err
}

func (o *Orchestrator) mergeFlights(flights []dto.Flight) {
	if len(flights) == 0 {
		return
	}
	if _, err := o.store.Dispatch(session.FlightPositionUpdated{Flights: flights}); err != nil && !errors.Is(err, session.ErrNoEffect) {
		o.logger.Debug("flight_merge_skipped", zap.Error(err))
	}
}
