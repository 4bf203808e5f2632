package game

import (
	"github.com/park285/skyquest-client/internal/session"
	dto "github.com/park285/skyquest-client/pkg/skyquestdto"
)

// Action names a user-triggered operation that may be in flight.
type Action string

const (
	ActionSetUsername Action = "set_username"
	ActionStart       Action = "start_game"
	ActionSelect      Action = "select_airport"
	ActionSubmit      Action = "submit_guess"
	ActionNextRound   Action = "next_round"
	ActionEnd         Action = "end_game"
	ActionReset       Action = "reset_game"
	ActionLeaderboard Action = "leaderboard"
)

// Summary is what the authority reported when a game was ended.
type Summary struct {
	SessionID  string
	Username   string
	Difficulty dto.Difficulty
	TotalScore int
	Rank       int
	Rounds     []dto.Round
}

// View is the read model for the presentation layer: the store snapshot plus
// request flags and the last failure of each action.
type View struct {
	session.State

	Starting   bool
	Submitting bool
	Ending     bool

	Errors      map[Action]error
	LastSummary *Summary
}

// Err returns the last failure recorded for a.
func (v View) Err(a Action) error {
	return v.Errors[a]
}
