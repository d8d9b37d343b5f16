// Command analyze prints a quick, human-readable report of the sessions
// saved by the file store: how many games sit in each status, which lobbies
// are old enough for the janitor to evict, how finished games ended, and
// which files cannot be decoded.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v3"

	"github.com/wricardo/mcp-training/tictactoe/game/service"
	"github.com/wricardo/mcp-training/tictactoe/game/session"
)

// Report summarizes one sessions directory.
type Report struct {
	Total        int
	ByStatus     map[service.Status]int
	StaleLobbies []string
	Wins         map[string]int
	Draws        int
	Corrupt      []string
}

func main() {
	cmd := &cli.Command{
		Name:  "analyze",
		Usage: "summarize sessions saved by the file store",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dir", Value: "sessions", Usage: "directory written by the file store"},
			&cli.DurationFlag{Name: "lobby-age", Value: service.DefaultAbandonedLobbyAge, Usage: "age after which an open lobby counts as abandoned"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			report, err := analyze(ctx, cmd.String("dir"), time.Now(), cmd.Duration("lobby-age"))
			if err != nil {
				return err
			}
			printReport(os.Stdout, cmd.String("dir"), report)
			return nil
		},
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "analyze: %v\n", err)
		os.Exit(1)
	}
}

func analyze(ctx context.Context, dir string, now time.Time, lobbyAge time.Duration) (*Report, error) {
	store, err := session.NewFilePersistence(dir)
	if err != nil {
		return nil, err
	}
	ids, err := store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)

	report := &Report{Wins: make(map[string]int)}
	var sessions []service.Session
	for _, id := range ids {
		s, err := store.Load(ctx, id)
		if errors.Is(err, session.ErrCorruptSession) {
			report.Corrupt = append(report.Corrupt, id)
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "load %s", id)
		}
		sessions = append(sessions, s)
	}

	report.Total = len(sessions)
	report.ByStatus = lo.CountValuesBy(sessions, func(s service.Session) service.Status {
		return s.Status
	})

	for _, s := range sessions {
		switch {
		case s.Status == service.StatusNew && now.Sub(s.CreatedAt) > lobbyAge:
			report.StaleLobbies = append(report.StaleLobbies, s.ID)
		case s.Status == service.StatusFinished && s.IsDraw():
			report.Draws++
		case s.Status == service.StatusFinished:
			if winner := s.PlayerOf(s.Winner); winner != "" {
				report.Wins[winner]++
			}
		}
	}
	return report, nil
}

func printReport(w io.Writer, dir string, r *Report) {
	fmt.Fprintf(w, "=== Sessions in %s ===\n", dir)
	fmt.Fprintf(w, "Total: %d\n", r.Total)
	for _, st := range []service.Status{service.StatusNew, service.StatusActive, service.StatusFinished} {
		fmt.Fprintf(w, "  %-8s %d\n", st, r.ByStatus[st])
	}

	if len(r.StaleLobbies) > 0 {
		fmt.Fprintf(w, "Abandoned lobbies (%d):\n", len(r.StaleLobbies))
		for _, id := range r.StaleLobbies {
			fmt.Fprintf(w, "  %s\n", id)
		}
	}

	if len(r.Wins) > 0 || r.Draws > 0 {
		fmt.Fprintf(w, "Finished games: %d wins, %d draws\n", lo.Sum(lo.Values(r.Wins)), r.Draws)
		players := lo.Keys(r.Wins)
		sort.Strings(players)
		for _, p := range players {
			fmt.Fprintf(w, "  %s: %d\n", p, r.Wins[p])
		}
	}

	if len(r.Corrupt) > 0 {
		fmt.Fprintf(w, "Unreadable files (%d):\n", len(r.Corrupt))
		for _, id := range r.Corrupt {
			fmt.Fprintf(w, "  %s.json\n", id)
		}
	}
}
