package skyquestdto

// Feed envelope types pushed by the authority.
const (
	FeedFlightUpdate = "flight:update"
	FeedRegister     = "register"
	FeedRoundStart   = "round:start"
	FeedGuessResult  = "guess:result"
	FeedGameEnd      = "game:end"
)

type FlightUpdatePayload struct {
	Flights []Flight `json:"flights"`
}

type RegisterPayload struct {
	SessionID string `json:"sessionId"`
}

type RoundStartPayload struct {
	SessionID   string `json:"sessionId"`
	RoundNumber int    `json:"roundNumber"`
	Flight      Flight `json:"flight"`
}

type GuessResultPayload struct {
	SessionID   string      `json:"sessionId"`
	RoundNumber int         `json:"roundNumber"`
	Score       ScoreResult `json:"score"`
	TotalScore  int         `json:"totalScore"`
}

type GameEndPayload struct {
	SessionID  string `json:"sessionId"`
	TotalScore int    `json:"totalScore"`
	Rank       int    `json:"rank"`
}
