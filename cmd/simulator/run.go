package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/MRamiBalles/MafiaGemelos/server/internal/agent"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/budget"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/domain/role"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/engine"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/events"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/infra/storage"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/platform/config"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/platform/logger"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/platform/metrics"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/platform/optimization"
)

// simOptions configure a batch of simulated games.
type simOptions struct {
	Games       int
	Seed        int64
	Players     int
	Mafia       int
	MultiRole   bool
	MaxDays     int
	TiePolicy   string
	Concurrency int
	Adaptive    bool
	DBPath      string
	Timeout     time.Duration
	Verbose     bool
}

// gameReport is the outcome of one simulated game.
type gameReport struct {
	ID        string
	Seed      int64
	Winner    role.Faction
	Reason    string
	Days      int
	Events    int
	Fallbacks int
	Cost      float64
	ReplayOK  bool
	ReplayErr error
}

var runOpts simOptions

func init() {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Play seeded games with heuristic agents and verify their replays",
		RunE: func(cmd *cobra.Command, args []string) error {
			reports, err := simulate(cmd.Context(), runOpts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if failed := printSummary(cmd.OutOrStdout(), reports); failed > 0 {
				return fmt.Errorf("%d game(s) failed replay verification", failed)
			}
			return nil
		},
	}
	f := runCmd.Flags()
	f.IntVar(&runOpts.Games, "games", 10, "Number of games to play")
	f.Int64Var(&runOpts.Seed, "seed", 42, "Seed of the first game; game i uses seed+i")
	f.IntVar(&runOpts.Players, "players", 7, "Seats per table")
	f.IntVar(&runOpts.Mafia, "mafia", 2, "Mafia members per table")
	f.BoolVar(&runOpts.MultiRole, "multi-role", false, "Stack SHERIFF onto the first mafia member")
	f.IntVar(&runOpts.MaxDays, "max-days", 10, "End a game without a winner after this many days (0 disables)")
	f.StringVar(&runOpts.TiePolicy, "tie-policy", string(engine.TieBreakSeeded), "Vote tie policy: SEEDED_TIE_BREAK or NO_ELIMINATION")
	f.IntVar(&runOpts.Concurrency, "concurrency", 1, "Concurrent agent calls per phase")
	f.BoolVar(&runOpts.Adaptive, "adaptive", false, "Retune concurrency between games from collected metrics")
	f.StringVar(&runOpts.DBPath, "db", "", "Persist games to this SQLite file")
	f.DurationVar(&runOpts.Timeout, "timeout", time.Minute, "Wall-clock limit per game")
	f.BoolVar(&runOpts.Verbose, "verbose", false, "Log engine activity")
	rootCmd.AddCommand(runCmd)
}

// deck builds the role sets dealt to a table.
func deck(opts simOptions) ([]role.Set, role.StackingRules, error) {
	rules := role.DefaultStackingRules()
	specials := []role.Role{role.Sheriff, role.Doctor}
	if opts.Players >= 8 {
		specials = append(specials, role.Vigilante)
	}
	var out []role.Set
	for i := 0; i < opts.Mafia; i++ {
		out = append(out, role.NewSet(role.Mafia))
	}
	if opts.MultiRole {
		if opts.Mafia < 2 {
			return nil, rules, errors.New("multi-role tables need at least 2 mafia")
		}
		rules = role.MultiRoleRules()
		out[0] = role.NewSet(role.Mafia, role.Sheriff)
		specials = specials[1:]
	}
	for _, r := range specials {
		out = append(out, role.NewSet(r))
	}
	for len(out) < opts.Players {
		out = append(out, role.NewSet(role.Villager))
	}
	if len(out) > opts.Players {
		return nil, rules, fmt.Errorf("%d players cannot hold %d mafia and %d specials", opts.Players, opts.Mafia, len(specials))
	}
	return out, rules, role.ValidateComposition(out, rules)
}

func setupFor(opts simOptions, seed int64) (engine.Setup, error) {
	sets, stacking, err := deck(opts)
	if err != nil {
		return engine.Setup{}, err
	}
	seats := make([]engine.SeatSpec, opts.Players)
	for i := range seats {
		seats[i] = engine.SeatSpec{ID: fmt.Sprintf("p%d", i+1), DisplayName: fmt.Sprintf("Player %d", i+1)}
	}
	rules := engine.DefaultRules()
	rules.Stacking = stacking
	rules.MaxDays = opts.MaxDays
	rules.TiePolicy = engine.TiePolicy(opts.TiePolicy)
	return engine.Setup{Seed: seed, Seats: seats, Deck: sets, Rules: rules}, nil
}

// simulate plays opts.Games games and verifies each log replays to its final state.
func simulate(ctx context.Context, opts simOptions, out io.Writer) ([]gameReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logger.NewNopLogger()
	if opts.Verbose {
		log = logger.NewWriterLogger(out)
	}
	factory, err := agent.NewFactory(config.Server{Provider: agent.HeuristicModel}, log)
	if err != nil {
		return nil, err
	}

	base := []engine.GameOption{
		engine.WithLogger(log),
		engine.WithBudget(budget.DefaultConfig(), budget.DefaultPriceTable()),
	}
	if opts.DBPath != "" {
		db, err := storage.InitSQLite(opts.DBPath)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		base = append(base,
			engine.WithPersister(storage.NewSQLiteEventRepository(db)),
			engine.WithSnapshots(
				storage.NewSQLiteSnapshotRepository(db).Retain(optimization.LowResourceConfig().SnapshotsKept),
				optimization.LowResourceConfig().SnapshotEvery,
			),
		)
	}

	tuning := optimization.LowResourceConfig()
	tuning.AgentConcurrency = max(opts.Concurrency, 1)

	reports := make([]gameReport, 0, opts.Games)
	for i := 0; i < opts.Games; i++ {
		seed := opts.Seed + int64(i)
		setup, err := setupFor(opts, seed)
		if err != nil {
			return reports, err
		}
		ids := make([]string, len(setup.Seats))
		for j, s := range setup.Seats {
			ids[j] = s.ID
		}
		clock := events.LogicalClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i)*time.Hour), time.Second)
		g := engine.NewGame(fmt.Sprintf("sim-%d", seed), append(base,
			engine.WithClock(clock),
			engine.WithConcurrency(tuning.AgentConcurrency),
			engine.WithAgents(factory.Seat(seed, ids)),
		)...)

		report, err := play(ctx, g, setup, opts.Timeout)
		if err != nil {
			return reports, fmt.Errorf("game %s: %w", g.ID(), err)
		}
		reports = append(reports, report)

		if opts.Adaptive {
			rec := optimization.Analyze(metrics.Get().Snapshot())
			optimization.ApplyRecommendations(tuning, rec)
			for _, note := range rec.Notes {
				log.Warnf("tuning: %s", note)
			}
		}
	}
	return reports, nil
}

func play(ctx context.Context, g *engine.Game, setup engine.Setup, timeout time.Duration) (gameReport, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := g.Setup(ctx, setup); err != nil {
		return gameReport{}, err
	}
	if err := g.Run(ctx); err != nil {
		return gameReport{}, err
	}

	state := g.State()
	history := g.History()
	report := gameReport{
		ID:     g.ID(),
		Seed:   setup.Seed,
		Winner: state.Winner,
		Reason: state.EndReason,
		Days:   state.Day,
		Events: len(history),
		Cost:   state.Budget.Usage(budget.ScopeGame, "", "").CostUSD,
	}
	for _, e := range history {
		if e.Type == events.EventTypeAgentFallback {
			report.Fallbacks++
		}
	}
	report.ReplayErr = engine.VerifyReplay(state, history)
	report.ReplayOK = report.ReplayErr == nil
	return report, nil
}

// printSummary writes one line per game and the totals, and returns the
// number of games whose replay failed.
func printSummary(w io.Writer, reports []gameReport) int {
	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed, color.Bold).SprintFunc()

	wins := map[role.Faction]int{}
	failed, totalEvents := 0, 0
	var cost float64
	for _, r := range reports {
		status := ok("replay ok")
		if !r.ReplayOK {
			status = bad("replay FAILED: " + r.ReplayErr.Error())
			failed++
		}
		winner := string(r.Winner)
		if winner == "" {
			winner = "none"
		}
		fmt.Fprintf(w, "%-10s seed=%-6d winner=%-5s days=%-2d events=%-5s fallbacks=%-3d %s\n",
			r.ID, r.Seed, winner, r.Days, humanize.Comma(int64(r.Events)), r.Fallbacks, status)
		wins[r.Winner]++
		totalEvents += r.Events
		cost += r.Cost
	}

	fmt.Fprintln(w, "------------------------------------------------------------")
	fmt.Fprintf(w, "games: %d  town: %d  mafia: %d  undecided: %d\n",
		len(reports), wins[role.FactionTown], wins[role.FactionMafia], wins[""])
	fmt.Fprintf(w, "events: %s  cost: $%s  replay failures: %d\n",
		humanize.Comma(int64(totalEvents)), humanize.FormatFloat("#,###.####", cost), failed)
	return failed
}
