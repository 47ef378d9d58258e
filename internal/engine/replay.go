package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/MRamiBalles/MafiaGemelos/server/internal/budget"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/events"
)

// Replay rebuilds the state of a game from its full log. Derived outcomes
// (night deaths, vote eliminations) are recomputed from the replayed state and
// must match what the log recorded.
func Replay(history []events.GameEvent) (*State, error) {
	s := NewState()
	if len(history) == 0 {
		return s, nil
	}
	if err := events.ValidateSequence(history[0].GameID, history); err != nil {
		return nil, err
	}
	for _, e := range history {
		if err := s.recheck(e); err != nil {
			return nil, err
		}
		if err := s.Apply(e); err != nil {
			return nil, &DivergenceError{Sequence: e.Sequence, Field: "apply", Replayed: err.Error()}
		}
	}
	return s, nil
}

func (s *State) recheck(e events.GameEvent) error {
	switch e.Type {
	case events.EventTypeNightResolved:
		var p NightResolvedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		res := ResolveNight(s.nightInput())
		got := make([]string, 0, len(res.Deaths))
		for _, d := range res.Deaths {
			got = append(got, d.PlayerID)
		}
		if strings.Join(got, ",") != strings.Join(p.Deaths, ",") {
			return &DivergenceError{Sequence: e.Sequence, Field: "night.deaths", Live: fmt.Sprint(p.Deaths), Replayed: fmt.Sprint(got)}
		}
	case events.EventTypeVoteResult:
		var p VoteResultPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		res := Tally(s.Votes, s.Rules.TiePolicy, s.Seed, s.Day)
		if res.Eliminated != p.Eliminated {
			return &DivergenceError{Sequence: e.Sequence, Field: "vote.eliminated", Live: p.Eliminated, Replayed: res.Eliminated}
		}
	}
	return nil
}

// VerifyReplay replays history and compares the result with live. Any
// difference is an ErrReplayDivergence naming the first differing field.
func VerifyReplay(live *State, history []events.GameEvent) error {
	replayed, err := Replay(history)
	if err != nil {
		var div *DivergenceError
		if errors.As(err, &div) {
			return div
		}
		return &DivergenceError{Field: "log", Replayed: err.Error()}
	}
	a, err := live.Canonical()
	if err != nil {
		return err
	}
	b, err := replayed.Canonical()
	if err != nil {
		return err
	}
	if bytes.Equal(a, b) {
		return nil
	}
	return firstDifference(live.LastSequence, a, b)
}

func firstDifference(seq uint64, live, replayed []byte) error {
	var lm, rm map[string]json.RawMessage
	_ = json.Unmarshal(live, &lm)
	_ = json.Unmarshal(replayed, &rm)
	keys := make([]string, 0, len(lm))
	for k := range lm {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !bytes.Equal(lm[k], rm[k]) {
			return &DivergenceError{Sequence: seq, Field: k, Live: clip(lm[k]), Replayed: clip(rm[k])}
		}
	}
	return &DivergenceError{Sequence: seq, Field: "state", Live: clip(live), Replayed: clip(replayed)}
}

func clip(b []byte) string {
	const limit = 200
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

// RestoreFromSnapshot fast-forwards to snap and applies the events after it.
// The snapshot only saves work; the log stays authoritative.
func RestoreFromSnapshot(snap events.Snapshot, tail []events.GameEvent) (*State, error) {
	s := NewState()
	if err := json.Unmarshal(snap.State, s); err != nil {
		return nil, fmt.Errorf("decode snapshot %s@%d: %w", snap.GameID, snap.Sequence, err)
	}
	if s.LastSequence != snap.Sequence || s.GameID != snap.GameID {
		return nil, fmt.Errorf("snapshot %s@%d holds state %s@%d", snap.GameID, snap.Sequence, s.GameID, s.LastSequence)
	}
	for _, e := range tail {
		if e.Sequence <= s.LastSequence {
			continue
		}
		if err := s.Apply(e); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// LoadGame rebuilds a game from its persisted log. The budget ceilings the game
// was created with override the ones in opts. With a snapshot store
// configured it starts from the newest snapshot and falls back to a full replay.
func LoadGame(ctx context.Context, id string, history []events.GameEvent, opts ...GameOption) (*Game, error) {
	cfg := buildConfig(opts)
	if stored, ok := createdBudget(history); ok {
		cfg.budget = stored
	}
	log, err := events.Restore(id, history, cfg.persister, cfg.logOpts...)
	if err != nil {
		return nil, err
	}

	var state *State
	if cfg.snapshots != nil {
		if snap, err := cfg.snapshots.LatestSnapshot(ctx, id); err == nil {
			state, err = RestoreFromSnapshot(snap, history)
			if err != nil {
				cfg.logger.Warnf("snapshot of %s unusable, replaying: %v", id, err)
				state = nil
			}
		}
	}
	if state == nil {
		if state, err = Replay(history); err != nil {
			return nil, err
		}
	}
	return newGame(id, log, state, cfg), nil
}

// createdBudget returns the budget configuration recorded at game creation.
func createdBudget(history []events.GameEvent) (budget.Config, bool) {
	for _, e := range history {
		if e.Type != events.EventTypeGameCreated {
			continue
		}
		var p GameCreatedPayload
		if err := e.Decode(&p); err != nil || p.Budget.Validate() != nil {
			return budget.Config{}, false
		}
		return p.Budget, true
	}
	return budget.Config{}, false
}
