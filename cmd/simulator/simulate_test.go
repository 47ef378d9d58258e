package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRamiBalles/MafiaGemelos/server/internal/domain/role"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/infra/storage"
)

func baseOptions() simOptions {
	return simOptions{
		Games:       3,
		Seed:        100,
		Players:     7,
		Mafia:       2,
		MaxDays:     8,
		TiePolicy:   "SEEDED_TIE_BREAK",
		Concurrency: 1,
		Timeout:     10 * time.Second,
	}
}

func count(sets []role.Set, r role.Role) int {
	n := 0
	for _, s := range sets {
		if s.Has(r) {
			n++
		}
	}
	return n
}

func TestDeck(t *testing.T) {
	opts := baseOptions()
	sets, rules, err := deck(opts)
	require.NoError(t, err)
	assert.Len(t, sets, 7)
	assert.Equal(t, 2, count(sets, role.Mafia))
	assert.Equal(t, 1, count(sets, role.Sheriff))
	assert.Equal(t, 1, count(sets, role.Doctor))
	assert.Zero(t, count(sets, role.Vigilante))
	assert.False(t, rules.MultiRole)

	opts.Players = 9
	sets, _, err = deck(opts)
	require.NoError(t, err)
	assert.Equal(t, 1, count(sets, role.Vigilante))

	opts.Players = 7
	opts.MultiRole = true
	sets, rules, err = deck(opts)
	require.NoError(t, err)
	assert.True(t, rules.MultiRole)
	assert.True(t, sets[0].Has(role.Mafia) && sets[0].Has(role.Sheriff))
	assert.Equal(t, 1, count(sets, role.Sheriff))
}

func TestDeckRejectsBadTables(t *testing.T) {
	opts := baseOptions()
	opts.MultiRole = true
	opts.Mafia = 1
	_, _, err := deck(opts)
	assert.Error(t, err)

	opts = baseOptions()
	opts.Players = 4
	opts.Mafia = 3
	_, _, err = deck(opts)
	assert.Error(t, err)

	opts = baseOptions()
	opts.Players = 4
	_, _, err = deck(opts)
	assert.ErrorIs(t, err, role.ErrInvalidComposition)
}

func TestSimulateVerifiesEveryGame(t *testing.T) {
	var out bytes.Buffer
	reports, err := simulate(context.Background(), baseOptions(), &out)
	require.NoError(t, err)
	require.Len(t, reports, 3)
	for _, r := range reports {
		assert.True(t, r.ReplayOK, "game %s: %v", r.ID, r.ReplayErr)
		assert.NotZero(t, r.Events)
		assert.Zero(t, r.Fallbacks)
		assert.Zero(t, r.Cost)
	}
	assert.Equal(t, "sim-100", reports[0].ID)
	assert.Zero(t, printSummary(&out, reports))
	assert.Contains(t, out.String(), "replay ok")
}

func TestSimulateIsDeterministicAcrossConcurrency(t *testing.T) {
	opts := baseOptions()
	opts.Games = 2
	sequential, err := simulate(context.Background(), opts, &bytes.Buffer{})
	require.NoError(t, err)

	opts.Concurrency = 4
	opts.Adaptive = true
	parallel, err := simulate(context.Background(), opts, &bytes.Buffer{})
	require.NoError(t, err)

	require.Len(t, parallel, len(sequential))
	for i := range sequential {
		assert.Equal(t, sequential[i].Winner, parallel[i].Winner)
		assert.Equal(t, sequential[i].Days, parallel[i].Days)
		assert.Equal(t, sequential[i].Events, parallel[i].Events)
	}
}

func TestSimulateMultiRoleTable(t *testing.T) {
	opts := baseOptions()
	opts.Games = 1
	opts.MultiRole = true
	reports, err := simulate(context.Background(), opts, &bytes.Buffer{})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].ReplayOK, "%v", reports[0].ReplayErr)
}

func TestPrintSummaryCountsFailures(t *testing.T) {
	var out bytes.Buffer
	failed := printSummary(&out, []gameReport{
		{ID: "a", Winner: role.FactionTown, ReplayOK: true},
		{ID: "b", Winner: role.FactionMafia, ReplayErr: errors.New("diverged at 12")},
	})
	assert.Equal(t, 1, failed)
	assert.Contains(t, out.String(), "diverged at 12")
	assert.Contains(t, out.String(), "town: 1  mafia: 1")
}

func TestReplayCommandReverifiesStoredGames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.db")
	opts := baseOptions()
	opts.Games = 2
	opts.DBPath = path
	reports, err := simulate(context.Background(), opts, &bytes.Buffer{})
	require.NoError(t, err)

	db, err := storage.InitSQLite(path)
	require.NoError(t, err)
	defer db.Close()
	repo := storage.NewSQLiteEventRepository(db)
	rec := storage.NewReconstructor(repo, storage.NewSQLiteSnapshotRepository(db))

	replayGame, replayRecap, replaySince = "", "", 0
	var out bytes.Buffer
	require.NoError(t, verifyStored(context.Background(), rec, repo, &out))
	assert.Contains(t, out.String(), reports[0].ID)
	assert.Contains(t, out.String(), reports[1].ID)

	replayGame, replayRecap = reports[0].ID, "p3"
	t.Cleanup(func() { replayGame, replayRecap = "", "" })
	out.Reset()
	require.NoError(t, verifyStored(context.Background(), rec, repo, &out))
	assert.Contains(t, out.String(), "you are")

	replayRecap = "p99"
	assert.Error(t, verifyStored(context.Background(), rec, repo, &out))
}
