package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/park285/skyquest-client/internal/game"
	"github.com/park285/skyquest-client/internal/session"
	dto "github.com/park285/skyquest-client/pkg/skyquestdto"
)

const playHelp = `commands:
  name <username>     set the player name
  start               start a game
  search <text>       find airports by code, name, city or country
  pick <IATA>         select the destination guess
  guess [confidence]  submit the selected airport
  next                advance to the next round
  end                 end the game and show the summary
  reset               clear a finished game
  board [limit]       show the leaderboard
  status              show the current round
  quit`

type player struct {
	app  *app
	orch *game.Orchestrator
	in   io.Reader
	out  io.Writer
}

func (p *player) run(ctx context.Context) error {
	fmt.Fprintln(p.out, playHelp)
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(p.in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		fmt.Fprint(p.out, "> ")
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = l
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		cmd, args := strings.ToLower(fields[0]), fields[1:]
		if cmd == "quit" || cmd == "exit" {
			return nil
		}
		if err := p.exec(ctx, cmd, args); err != nil {
			fmt.Fprintf(p.out, "error: %v\n", err)
		}
	}
}

func (p *player) exec(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help":
		fmt.Fprintln(p.out, playHelp)
	case "name":
		if len(args) == 0 {
			return errors.New("usage: name <username>")
		}
		return p.orch.SetUsername(strings.Join(args, " "))
	case "start":
		if err := p.orch.StartGame(ctx); err != nil {
			return err
		}
		p.printRound()
	case "search":
		if len(args) == 0 {
			return errors.New("usage: search <text>")
		}
		for _, a := range p.app.airports.Search(strings.Join(args, " "), 10) {
			fmt.Fprintf(p.out, "  %s  %s, %s (%s)\n", a.IATA, a.Name, a.City, a.Country)
		}
	case "pick":
		if len(args) != 1 {
			return errors.New("usage: pick <IATA>")
		}
		code := strings.ToUpper(args[0])
		if _, ok := p.app.airports.Lookup(code); !ok {
			fmt.Fprintf(p.out, "note: %s is not in the local directory\n", code)
		}
		return p.orch.SelectAirport(code)
	case "guess":
		var conf *int
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("confidence must be a number: %w", err)
			}
			conf = &n
		}
		if err := p.orch.SubmitGuess(ctx, conf); err != nil {
			return err
		}
		p.printResult()
	case "next":
		if err := p.orch.NextRound(); err != nil {
			return err
		}
		p.printRound()
	case "end":
		sum, err := p.orch.EndGame(ctx)
		if err != nil {
			return err
		}
		if sum != nil {
			printSummary(p.out, sum)
		}
	case "reset":
		return p.orch.ResetGame()
	case "board":
		limit := 10
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("limit must be a number: %w", err)
			}
			limit = n
		}
		resp, err := p.orch.Leaderboard(ctx, p.app.cfg.Difficulty, limit)
		if err != nil {
			return err
		}
		printLeaderboard(p.out, resp)
	case "status":
		p.printRound()
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func (p *player) printRound() {
	st := p.orch.View().State
	if st.Status == session.StatusIdle {
		fmt.Fprintln(p.out, "no game in progress")
		return
	}
	fmt.Fprintf(p.out, "round %d/%d  score %d  status %s\n", st.CurrentRound, st.TotalRounds, st.TotalScore, st.Status)
	if f := st.CurrentFlight; f != nil {
		fmt.Fprintf(p.out, "  %s from %s (%s)  %.2f,%.2f  %.0fft %.0fkt hdg %.0f\n",
			f.Callsign, f.Departure.IATA, f.Departure.City, f.Latitude, f.Longitude, f.Altitude, f.Speed, f.Heading)
		if f.Hint != "" {
			fmt.Fprintf(p.out, "  hint: %s\n", f.Hint)
		}
	}
	if st.SelectedAirport != "" {
		fmt.Fprintf(p.out, "  selected: %s\n", st.SelectedAirport)
	}
}

func (p *player) printResult() {
	st := p.orch.View().State
	if st.LastScore == nil {
		return
	}
	s := st.LastScore
	fmt.Fprintf(p.out, "%s: %d points (base %d x%.1f x%.1f)  answer %s %s\n",
		s.MatchType, s.TotalPoints, s.BasePoints, s.DifficultyMultiplier, s.SpeedMultiplier,
		s.CorrectAirport.IATA, s.CorrectAirport.City)
	if s.DistanceKm > 0 {
		fmt.Fprintf(p.out, "  off by %.0f km\n", s.DistanceKm)
	}
	fmt.Fprintf(p.out, "  total %d\n", st.TotalScore)
	if st.Status == session.StatusFinished {
		fmt.Fprintln(p.out, "game over, type 'end' to save")
	}
}

func printSummary(w io.Writer, s *game.Summary) {
	fmt.Fprintf(w, "%s finished %s with %d points, rank %d\n", s.Username, s.Difficulty, s.TotalScore, s.Rank)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROUND\tFROM\tTO\tGUESS\tPOINTS")
	for _, r := range s.Rounds {
		guess := "-"
		if r.PlayerGuess != nil {
			guess = *r.PlayerGuess
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", r.RoundNumber, r.Departure, r.ActualArrival, guess, r.PointsEarned)
	}
	_ = tw.Flush()
}

func printLeaderboard(w io.Writer, resp *dto.LeaderboardResponse) {
	if resp == nil || len(resp.Leaderboard) == 0 {
		fmt.Fprintln(w, "leaderboard is empty")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tPLAYER\tDIFFICULTY\tSCORE\tGAMES")
	for _, e := range resp.Leaderboard {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\n", e.Rank, e.Username, e.Difficulty, e.TotalScore, e.GamesPlayed)
	}
	_ = tw.Flush()
}
