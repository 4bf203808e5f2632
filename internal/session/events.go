package session

import (
	dto "github.com/park285/skyquest-client/pkg/skyquestdto"
)

// Event is a tagged store transition request. The set is closed.
type Event interface {
	Kind() string
	sealed()
}

// ticketed events complete a network request and are dropped when the store
// has moved on since the request was issued.
type ticketed interface {
	issuedAgainst() Ticket
}

type UsernameSet struct {
	Username string
}

type GameStarted struct {
	Ticket      Ticket
	SessionID   string
	Flight      dto.Flight
	TotalRounds int
}

// AirportSelected stages a guess; an empty IATA clears the selection.
type AirportSelected struct {
	IATA string
}

type GuessScored struct {
	Ticket      Ticket
	Guess       string
	Confidence  *int
	Score       dto.ScoreResult
	NextFlight  *dto.Flight
	IsGameOver  bool
	RoundNumber int
}

type RoundAdvanced struct{}

type GameEnded struct {
	Ticket Ticket
	Rounds []dto.Round
}

type GameReset struct{}

// GameClosed returns to the initial state once the authority has answered an
// end request. Unlike GameReset it is dropped when the store has moved on.
type GameClosed struct {
	Ticket Ticket
}

// FlightPositionUpdated carries a feed batch; only the displayed flight is merged.
type FlightPositionUpdated struct {
	Flights []dto.Flight
}

func (UsernameSet) Kind() string           { return "UsernameSet" }
func (GameStarted) Kind() string           { return "GameStarted" }
func (AirportSelected) Kind() string       { return "AirportSelected" }
func (GuessScored) Kind() string           { return "GuessScored" }
func (RoundAdvanced) Kind() string         { return "RoundAdvanced" }
func (GameEnded) Kind() string             { return "GameEnded" }
func (GameReset) Kind() string             { return "GameReset" }
func (GameClosed) Kind() string            { return "GameClosed" }
func (FlightPositionUpdated) Kind() string { return "FlightPositionUpdated" }

func (UsernameSet) sealed()           {}
func (GameStarted) sealed()           {}
func (AirportSelected) sealed()       {}
func (GuessScored) sealed()           {}
func (RoundAdvanced) sealed()         {}
func (GameEnded) sealed()             {}
func (GameReset) sealed()             {}
func (GameClosed) sealed()            {}
func (FlightPositionUpdated) sealed() {}

func (e GameStarted) issuedAgainst() Ticket { return e.Ticket }
func (e GuessScored) issuedAgainst() Ticket { return e.Ticket }
func (e GameEnded) issuedAgainst() Ticket   { return e.Ticket }
func (e GameClosed) issuedAgainst() Ticket  { return e.Ticket }
