package fakeauthority

import (
	"testing"

	dto "github.com/park285/skyquest-client/pkg/skyquestdto"
)

func TestScoreTiers(t *testing.T) {
	jfk := dto.Airport{IATA: "JFK", City: "New York", Country: "United States", Latitude: 40.6413, Longitude: -73.7781}
	lga := dto.Airport{IATA: "LGA", City: "New York", Country: "United States", Latitude: 40.7769, Longitude: -73.8740}
	lax := dto.Airport{IATA: "LAX", City: "Los Angeles", Country: "United States", Latitude: 33.9416, Longitude: -118.4085}
	yyz := dto.Airport{IATA: "YYZ", City: "Toronto", Country: "Canada", Latitude: 43.6777, Longitude: -79.6248}
	bos := dto.Airport{IATA: "BOS", City: "Boston", Country: "United States", Latitude: 42.3656, Longitude: -71.0096}
	lhr := dto.Airport{IATA: "LHR", City: "London", Country: "United Kingdom", Latitude: 51.47, Longitude: -0.4543}
	// Within 500 km of Boston but in another country.
	yul := dto.Airport{IATA: "YUL", City: "Montreal", Country: "Canada", Latitude: 45.4706, Longitude: -73.7408}

	tests := []struct {
		name    string
		actual  dto.Airport
		guessed dto.Airport
		match   dto.MatchType
		base    int
	}{
		{"exact", jfk, jfk, dto.MatchExact, 1000},
		{"same city", jfk, lga, dto.MatchFamily, 750},
		{"same country", jfk, lax, dto.MatchCountry, 500},
		{"nearby", bos, yul, dto.MatchDistance, 250},
		{"far", jfk, lhr, dto.MatchWrong, 0},
		{"far other country", lax, yyz, dto.MatchWrong, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := score(tt.actual, tt.guessed, dto.DifficultyEasy, 60)
			if got.MatchType != tt.match || got.BasePoints != tt.base {
				t.Fatalf("got %s/%d, want %s/%d", got.MatchType, got.BasePoints, tt.match, tt.base)
			}
			if got.TotalPoints != tt.base {
				t.Fatalf("total: got %d want %d", got.TotalPoints, tt.base)
			}
		})
	}
}

func TestScoreMultipliers(t *testing.T) {
	a := dto.Airport{IATA: "ICN", City: "Seoul", Country: "South Korea"}
	tests := []struct {
		d       dto.Difficulty
		seconds float64
		want    int
	}{
		{dto.DifficultyEasy, 5, 1300},
		{dto.DifficultyEasy, 20, 1100},
		{dto.DifficultyMedium, 60, 1500},
		{dto.DifficultyHard, 10, 2600},
		{dto.DifficultyHard, 30.5, 2000},
	}
	for _, tt := range tests {
		if got := score(a, a, tt.d, tt.seconds).TotalPoints; got != tt.want {
			t.Errorf("%s at %.1fs: got %d want %d", tt.d, tt.seconds, got, tt.want)
		}
	}
}
