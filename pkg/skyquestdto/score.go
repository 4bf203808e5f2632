package skyquestdto

import "time"

// MatchType is an ordered quality scale; exact dominates family dominates
// country dominates distance dominates wrong.
type MatchType string

const (
	MatchExact    MatchType = "exact"
	MatchFamily   MatchType = "family"
	MatchCountry  MatchType = "country"
	MatchDistance MatchType = "distance"
	MatchWrong    MatchType = "wrong"
)

// Rank orders match tiers; higher is better and unknown tiers rank below wrong.
func (m MatchType) Rank() int {
	switch m {
	case MatchExact:
		return 4
	case MatchFamily:
		return 3
	case MatchCountry:
		return 2
	case MatchDistance:
		return 1
	case MatchWrong:
		return 0
	default:
		return -1
	}
}

func (m MatchType) Valid() bool { return m.Rank() >= 0 }

// Beats reports whether m is a strictly better tier than o.
func (m MatchType) Beats(o MatchType) bool { return m.Rank() > o.Rank() }

// ScoreResult is the authority's verdict on one guess. The client checks its
// shape only and never recomputes it.
type ScoreResult struct {
	MatchType            MatchType `json:"matchType"`
	BasePoints           int       `json:"basePoints"`
	DifficultyMultiplier float64   `json:"difficultyMultiplier"`
	SpeedMultiplier      float64   `json:"speedMultiplier"`
	TotalPoints          int       `json:"totalPoints"`
	DistanceKm           float64   `json:"distanceKm"`
	CorrectAirport       Airport   `json:"correctAirport"`
	GuessedAirport       Airport   `json:"guessedAirport"`
}

// Round is one authority-confirmed guessing unit.
type Round struct {
	RoundNumber   int        `json:"roundNumber"`
	FlightID      string     `json:"flightId"`
	Departure     string     `json:"departure"`
	ActualArrival string     `json:"actualArrival"`
	PlayerGuess   *string    `json:"playerGuess,omitempty"`
	PointsEarned  int        `json:"pointsEarned"`
	GuessTime     float64    `json:"guessTime"` // seconds
	Confidence    *int       `json:"confidence,omitempty"`
	StartedAt     time.Time  `json:"startedAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}
