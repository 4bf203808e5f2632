package session

import (
	"time"

	dto "github.com/park285/skyquest-client/pkg/skyquestdto"
)

// Status is the coarse lifecycle of one game.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

// DefaultTotalRounds is the round count shown before the authority fixes one.
const DefaultTotalRounds = 10

// State is the read model handed to the presentation layer.
// SelectedAirport is empty when nothing is staged.
type State struct {
	Status          Status
	SessionID       string
	Username        string
	CurrentRound    int
	TotalRounds     int
	CurrentFlight   *dto.Flight
	RoundStartedAt  time.Time
	TotalScore      int
	Rounds          []dto.Round
	LastScore       *dto.ScoreResult
	SelectedAirport string
	ShowResult      bool
}

// InitialState is the ground state every reset returns to.
func InitialState() State {
	return State{
		Status:      StatusIdle,
		TotalRounds: DefaultTotalRounds,
	}
}

// Clone returns a deep copy so callers cannot alias store internals.
func (s State) Clone() State {
	out := s
	if s.CurrentFlight != nil {
		f := *s.CurrentFlight
		out.CurrentFlight = &f
	}
	if s.LastScore != nil {
		sc := *s.LastScore
		out.LastScore = &sc
	}
	if s.Rounds != nil {
		out.Rounds = make([]dto.Round, len(s.Rounds))
		copy(out.Rounds, s.Rounds)
	}
	return out
}

// Ticket identifies the store state a network request was issued against.
// Round 0 matches any round of the same session.
type Ticket struct {
	Epoch     uint64
	SessionID string
	Round     int
}

func (t Ticket) matches(cur Ticket) bool {
	if t.Epoch != cur.Epoch || t.SessionID != cur.SessionID {
		return false
	}
	return t.Round == 0 || t.Round == cur.Round
}

// AnyRound widens a ticket to every round of its session.
func (t Ticket) AnyRound() Ticket {
	t.Round = 0
	return t
}
