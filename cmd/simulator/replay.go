package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/MRamiBalles/MafiaGemelos/server/internal/infra/storage"
)

var (
	replayDB    string
	replayGame  string
	replayRecap string
	replaySince uint64
)

func init() {
	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-verify persisted games and print player recaps",
		RunE: func(cmd *cobra.Command, args []string) error {
			if replayDB == "" {
				return errors.New("--db is required")
			}
			db, err := storage.InitSQLite(replayDB)
			if err != nil {
				return err
			}
			defer db.Close()
			repo := storage.NewSQLiteEventRepository(db)
			rec := storage.NewReconstructor(repo, storage.NewSQLiteSnapshotRepository(db))
			return verifyStored(cmd.Context(), rec, repo, cmd.OutOrStdout())
		},
	}
	f := replayCmd.Flags()
	f.StringVar(&replayDB, "db", "", "SQLite file written by run --db")
	f.StringVar(&replayGame, "game", "", "Only this game (default: every stored game)")
	f.StringVar(&replayRecap, "recap", "", "Print the history this player saw")
	f.Uint64Var(&replaySince, "since", 0, "Recap only events after this sequence")
	rootCmd.AddCommand(replayCmd)
}

func verifyStored(ctx context.Context, rec *storage.Reconstructor, repo storage.EventRepository, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ids := []string{replayGame}
	if replayGame == "" {
		var err error
		if ids, err = repo.ListGames(ctx); err != nil {
			return err
		}
	}

	failed := 0
	for _, id := range ids {
		state, err := rec.Verify(ctx, id)
		if err != nil {
			failed++
			fmt.Fprintf(w, "%-12s %s\n", id, color.RedString("FAILED: %v", err))
			continue
		}
		winner := string(state.Winner)
		if winner == "" {
			winner = string(state.Status)
		}
		fmt.Fprintf(w, "%-12s %s day=%d winner=%s\n", id, color.GreenString("ok"), state.Day, winner)

		if replayRecap == "" {
			continue
		}
		g, err := rec.Rebuild(ctx, id)
		if err != nil {
			return err
		}
		if !g.Seated(replayRecap) {
			return fmt.Errorf("game %s has no seat %q", id, replayRecap)
		}
		lines, err := rec.Recap(ctx, id, g.ViewerFor(replayRecap), replaySince)
		if err != nil {
			return err
		}
		for _, line := range lines {
			fmt.Fprintf(w, "    %s\n", line)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d stored game(s) failed verification", failed, len(ids))
	}
	return nil
}
