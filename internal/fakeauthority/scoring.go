package fakeauthority

import (
	"github.com/park285/skyquest-client/internal/airports"
	dto "github.com/park285/skyquest-client/pkg/skyquestdto"
)

const nearbyKm = 500

func difficultyMultiplier(d dto.Difficulty) float64 {
	switch d {
	case dto.DifficultyMedium:
		return 1.5
	case dto.DifficultyHard:
		return 2.0
	default:
		return 1.0
	}
}

func speedMultiplier(guessSeconds float64) float64 {
	switch {
	case guessSeconds <= 10:
		return 1.3
	case guessSeconds <= 30:
		return 1.1
	default:
		return 1.0
	}
}

// score grades guessed against actual. Tiers: exact code, same city, same
// country, within nearbyKm, otherwise wrong.
func score(actual, guessed dto.Airport, d dto.Difficulty, guessSeconds float64) dto.ScoreResult {
	r := dto.ScoreResult{
		DifficultyMultiplier: difficultyMultiplier(d),
		SpeedMultiplier:      speedMultiplier(guessSeconds),
		CorrectAirport:       actual,
		GuessedAirport:       guessed,
	}
	switch {
	case actual.IATA == guessed.IATA:
		r.MatchType, r.BasePoints = dto.MatchExact, 1000
	default:
		r.DistanceKm = airports.DistanceKm(actual, guessed)
		switch {
		case actual.City == guessed.City:
			r.MatchType, r.BasePoints = dto.MatchFamily, 750
		case actual.Country == guessed.Country:
			r.MatchType, r.BasePoints = dto.MatchCountry, 500
		case r.DistanceKm <= nearbyKm:
			r.MatchType, r.BasePoints = dto.MatchDistance, 250
		default:
			r.MatchType, r.BasePoints = dto.MatchWrong, 0
		}
	}
	r.TotalPoints = int(float64(r.BasePoints) * r.DifficultyMultiplier * r.SpeedMultiplier)
	return r
}
