package skyquestdto

import "time"

// Difficulty selects how much flight information the authority reveals.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ParseDifficulty maps free text to a Difficulty, falling back to easy.
func ParseDifficulty(s string) (Difficulty, bool) {
	switch Difficulty(s) {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return Difficulty(s), true
	default:
		return DifficultyEasy, false
	}
}

type Airport struct {
	IATA      string  `json:"iata" yaml:"iata"`
	ICAO      string  `json:"icao" yaml:"icao"`
	Name      string  `json:"name" yaml:"name"`
	City      string  `json:"city" yaml:"city"`
	Country   string  `json:"country" yaml:"country"`
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

type Aircraft struct {
	IATA         string `json:"iata"`
	ICAO         string `json:"icao"`
	Model        string `json:"model"`
	Registration string `json:"registration"`
}

type Airline struct {
	IATA string `json:"iata"`
	ICAO string `json:"icao"`
	Name string `json:"name"`
}

// Flight is the aircraft currently being guessed. Arrival is withheld by the
// authority while a round is open and must not be shown.
type Flight struct {
	ID            string    `json:"id"`
	ICAO24        string    `json:"icao24"`
	Callsign      string    `json:"callsign"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Altitude      float64   `json:"altitude"`      // feet
	Speed         float64   `json:"speed"`         // knots
	Heading       float64   `json:"direction"`     // degrees
	VerticalSpeed float64   `json:"verticalSpeed"` // feet per minute
	Status        string    `json:"status"`
	Departure     Airport   `json:"departure"`
	Arrival       *Airport  `json:"arrival,omitempty"`
	Aircraft      Aircraft  `json:"aircraft"`
	Airline       Airline   `json:"airline"`
	FlightNumber  string    `json:"flightNumber"`
	Hint          string    `json:"hint,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// WithPosition returns a copy of f carrying the live kinematics of p.
// Identity and static attributes of f are preserved.
func (f Flight) WithPosition(p Flight) Flight {
	f.Latitude = p.Latitude
	f.Longitude = p.Longitude
	f.Altitude = p.Altitude
	f.Speed = p.Speed
	f.Heading = p.Heading
	f.VerticalSpeed = p.VerticalSpeed
	if p.Status != "" {
		f.Status = p.Status
	}
	if !p.UpdatedAt.IsZero() {
		f.UpdatedAt = p.UpdatedAt
	}
	return f
}

// SameAircraft reports whether p describes the same tracked flight as f.
func (f Flight) SameAircraft(p Flight) bool {
	if f.ID != "" && p.ID != "" {
		return f.ID == p.ID
	}
	return f.ICAO24 != "" && f.ICAO24 == p.ICAO24
}
