package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	dto "github.com/park285/skyquest-client/pkg/skyquestdto"
)

var (
	// ErrTransitionRejected means the event is not legal in the current state.
	ErrTransitionRejected = errors.New("transition rejected")
	// ErrStaleTicket means the event answers a request issued against an older state.
	ErrStaleTicket = errors.New("stale ticket")
	// ErrNoEffect means the event was legal but changed nothing.
	ErrNoEffect = errors.New("event has no effect")
	// ErrMalformedScore means the score payload failed shape validation.
	ErrMalformedScore = errors.New("malformed score")
)

func rejected(ev Event, s State, why string) error {
	return fmt.Errorf("%w: %s in %s: %s", ErrTransitionRejected, ev.Kind(), s.Status, why)
}

// Transition computes the successor of s for ev. It never mutates s; on error
// the returned state is s unchanged.
func Transition(s State, ev Event, now time.Time) (State, error) {
	switch e := ev.(type) {
	case UsernameSet:
		if s.Status != StatusIdle {
			return s, rejected(ev, s, "username is fixed once a game starts")
		}
		next := s
		next.Username = e.Username
		return next, nil

	case GameStarted:
		if s.Status != StatusIdle {
			return s, rejected(ev, s, "a game is already open")
		}
		if strings.TrimSpace(e.SessionID) == "" {
			return s, rejected(ev, s, "empty session id")
		}
		rounds := e.TotalRounds
		if rounds <= 0 {
			rounds = DefaultTotalRounds
		}
		return State{
			Status:         StatusPlaying,
			SessionID:      e.SessionID,
			Username:       s.Username,
			CurrentRound:   1,
			TotalRounds:    rounds,
			CurrentFlight:  concealed(&e.Flight),
			RoundStartedAt: now,
		}, nil

	case AirportSelected:
		if e.IATA == "" {
			if s.SelectedAirport == "" {
				return s, ErrNoEffect
			}
			next := s
			next.SelectedAirport = ""
			return next, nil
		}
		if s.Status != StatusPlaying || s.ShowResult {
			return s, rejected(ev, s, "no open round to stage a guess for")
		}
		next := s
		next.SelectedAirport = e.IATA
		return next, nil

	case GuessScored:
		if s.Status != StatusPlaying {
			return s, rejected(ev, s, "no game in progress")
		}
		if s.ShowResult {
			return s, rejected(ev, s, "round already scored")
		}
		if err := validateScore(e.Score); err != nil {
			return s, err
		}
		next := s
		score := e.Score
		next.TotalScore += score.TotalPoints
		next.LastScore = &score
		next.ShowResult = true
		next.Rounds = append(append(make([]dto.Round, 0, len(s.Rounds)+1), s.Rounds...), confirmedRound(s, e, now))
		if e.IsGameOver {
			next.Status = StatusFinished
		} else {
			next.CurrentFlight = concealed(e.NextFlight)
		}
		return next, nil

	case RoundAdvanced:
		if s.Status != StatusPlaying {
			return s, rejected(ev, s, "no game in progress")
		}
		if !s.ShowResult {
			return s, rejected(ev, s, "current round has no result yet")
		}
		next := s
		next.CurrentRound++
		next.SelectedAirport = ""
		next.LastScore = nil
		next.ShowResult = false
		next.RoundStartedAt = now
		return next, nil

	case GameEnded:
		if s.Status == StatusIdle {
			return s, rejected(ev, s, "no game to end")
		}
		next := s
		next.Status = StatusFinished
		next.ShowResult = false
		next.Rounds = nil
		if len(e.Rounds) > 0 {
			next.Rounds = make([]dto.Round, len(e.Rounds))
			copy(next.Rounds, e.Rounds)
		}
		return next, nil

	case GameReset, GameClosed:
		return InitialState(), nil

	case FlightPositionUpdated:
		if s.Status != StatusPlaying || s.CurrentFlight == nil {
			return s, ErrNoEffect
		}
		for _, f := range e.Flights {
			if s.CurrentFlight.SameAircraft(f) {
				next := s
				merged := s.CurrentFlight.WithPosition(f)
				next.CurrentFlight = &merged
				return next, nil
			}
		}
		return s, ErrNoEffect

	default:
		return s, fmt.Errorf("%w: unknown event %T", ErrTransitionRejected, ev)
	}
}

func validateScore(sc dto.ScoreResult) error {
	if !sc.MatchType.Valid() {
		return fmt.Errorf("%w: match type %q", ErrMalformedScore, sc.MatchType)
	}
	if sc.TotalPoints < 0 {
		return fmt.Errorf("%w: negative total %d", ErrMalformedScore, sc.TotalPoints)
	}
	return nil
}

// concealed copies f without the arrival airport, which stays secret while a
// round is open.
func concealed(f *dto.Flight) *dto.Flight {
	if f == nil {
		return nil
	}
	out := *f
	out.Arrival = nil
	return &out
}

func confirmedRound(s State, e GuessScored, now time.Time) dto.Round {
	number := e.RoundNumber
	if number <= 0 {
		number = s.CurrentRound
	}
	r := dto.Round{
		RoundNumber:   number,
		ActualArrival: e.Score.CorrectAirport.IATA,
		PointsEarned:  e.Score.TotalPoints,
		Confidence:    e.Confidence,
		StartedAt:     s.RoundStartedAt,
	}
	if s.CurrentFlight != nil {
		r.FlightID = s.CurrentFlight.ID
		r.Departure = s.CurrentFlight.Departure.IATA
	}
	if e.Guess != "" {
		guess := e.Guess
		r.PlayerGuess = &guess
	}
	if !s.RoundStartedAt.IsZero() {
		r.GuessTime = now.Sub(s.RoundStartedAt).Seconds()
	}
	completed := now
	r.CompletedAt = &completed
	return r
}
