package skyquestdto

import "time"

type StartGameRequest struct {
	Username   string     `json:"username"`
	Difficulty Difficulty `json:"difficulty"`
}

type StartGameResponse struct {
	SessionID    string     `json:"sessionId"`
	Difficulty   Difficulty `json:"difficulty"`
	TotalRounds  int        `json:"totalRounds"`
	CurrentRound int        `json:"currentRound"`
	Flight       Flight     `json:"flight"`
}

type GuessRequest struct {
	SessionID   string `json:"sessionId"`
	AirportIATA string `json:"airportIata"`
	Confidence  *int   `json:"confidence,omitempty"`
}

type GuessResponse struct {
	Score       ScoreResult `json:"score"`
	RoundNumber int         `json:"roundNumber"`
	IsGameOver  bool        `json:"isGameOver"`
	NextFlight  *Flight     `json:"nextFlight,omitempty"`
	TotalScore  int         `json:"totalScore"`
}

type EndGameRequest struct {
	SessionID string `json:"sessionId"`
}

type EndGameResponse struct {
	SessionID  string     `json:"sessionId"`
	TotalScore int        `json:"totalScore"`
	Rounds     []Round    `json:"rounds"`
	Rank       int        `json:"rank"`
	Difficulty Difficulty `json:"difficulty"`
}

type LeaderboardRequest struct {
	Difficulty Difficulty
	Limit      int
}

type LeaderboardEntry struct {
	ID          string     `json:"id"`
	Rank        int        `json:"rank"`
	Username    string     `json:"username"`
	Difficulty  Difficulty `json:"difficulty"`
	TotalScore  int        `json:"totalScore"`
	GamesPlayed int        `json:"gamesPlayed"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type LeaderboardResponse struct {
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
	Count       int                `json:"count"`
	Difficulty  Difficulty         `json:"difficulty"`
}
