package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/MRamiBalles/MafiaGemelos/server/internal/budget"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/domain/role"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// stubAgent answers turns from a function. It reports usage of usage per call.
type stubAgent struct {
	mu    sync.Mutex
	calls int
	usage budget.CallUsage
	act   func(req TurnRequest) (Response, error)
}

func (a *stubAgent) Model() string { return "stub" }

func (a *stubAgent) Act(ctx context.Context, req TurnRequest) (Response, budget.CallUsage, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Response{}, budget.CallUsage{}, err
	}
	resp, err := a.act(req)
	return resp, a.usage, err
}

// script is what a scripted agent does on every turn it gets.
type script struct {
	night map[role.Ability]string
	vote  string
	say   string
}

func scripted(s script) *stubAgent {
	return &stubAgent{act: func(req TurnRequest) (Response, error) {
		resp := Response{Reasoning: "considering " + string(req.Phase)}
		switch req.Phase {
		case PhaseNight:
			for _, ability := range offered(req.Options) {
				if target := s.night[ability]; contains(req.Options.Night[ability], target) {
					resp.Actions = append(resp.Actions, ActionChoice{Kind: ActionKind(ability), TargetID: target})
				}
			}
		case PhaseDiscussion:
			resp.Statement = s.say
		case PhaseVoting:
			if contains(req.Options.Vote, s.vote) {
				resp.Vote = s.vote
			}
		}
		return resp, nil
	}}
}

// eager uses every ability on the first offered target and votes for the
// first player on the ballot.
func eager() *stubAgent {
	return &stubAgent{act: func(req TurnRequest) (Response, error) {
		resp := Response{Reasoning: "first option"}
		switch req.Phase {
		case PhaseNight:
			for _, ability := range offered(req.Options) {
				resp.Actions = append(resp.Actions, ActionChoice{Kind: ActionKind(ability), TargetID: req.Options.Night[ability][0]})
			}
		case PhaseDiscussion:
			resp.Statement = "I am " + req.PlayerID
		case PhaseVoting:
			resp.Vote = req.Options.Vote[0]
		}
		return resp, nil
	}}
}

func offered(opts Options) []role.Ability {
	out := make([]role.Ability, 0, len(opts.Night))
	for a := range opts.Night {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func table(seed int64, roles ...string) Setup {
	seats := make([]SeatSpec, len(roles))
	for i, r := range roles {
		seats[i] = SeatSpec{ID: fmt.Sprintf("p%d", i+1), Roles: role.ParseSet(r)}
	}
	return Setup{Seed: seed, Seats: seats, Rules: Rules{MaxDays: 3}}
}

func testBudget() budget.Config {
	cfg := budget.DefaultConfig()
	cfg.RetryDelay = 0
	cfg.MaxRetries = 1
	return cfg
}

func newTestGame(t *testing.T, setup Setup, agents map[string]Agent, opts ...GameOption) *Game {
	t.Helper()
	base := []GameOption{
		WithAgents(agents),
		WithClock(events.LogicalClock(epoch, time.Second)),
		WithBudget(testBudget(), nil),
	}
	g := NewGame("game-1", append(base, opts...)...)
	require.NoError(t, g.Setup(context.Background(), setup))
	return g
}

func runToEnd(t *testing.T, g *Game) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, g.Run(ctx))
	require.True(t, g.State().Finished())
}

func ofType(history []events.GameEvent, typ events.EventType) []events.GameEvent {
	var out []events.GameEvent
	for _, e := range history {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func eagerTable(n int) map[string]Agent {
	agents := make(map[string]Agent, n)
	for i := 1; i <= n; i++ {
		agents[fmt.Sprintf("p%d", i)] = eager()
	}
	return agents
}

func TestProtectedTargetSurvivesTheNight(t *testing.T) {
	agents := map[string]Agent{
		"p1": scripted(script{night: map[role.Ability]string{role.AbilityKill: "p4"}, vote: "p3", say: "p3 is odd"}),
		"p2": scripted(script{night: map[role.Ability]string{role.AbilityProtect: "p4"}, vote: "p1"}),
		"p3": scripted(script{night: map[role.Ability]string{role.AbilityInvestigate: "p1"}, vote: "p1", say: "p1 is mafia"}),
		"p4": scripted(script{vote: "p1"}),
		"p5": scripted(script{vote: "p1"}),
	}
	g := newTestGame(t, table(42, "MAFIA", "DOCTOR", "SHERIFF", "VILLAGER", "VILLAGER"), agents)
	runToEnd(t, g)
	history := g.History()

	resolved := ofType(history, events.EventTypeNightResolved)
	require.Len(t, resolved, 1)
	assert.JSONEq(t, `{"night":1,"killed":null,"deaths":[]}`, string(resolved[0].Payload))
	assert.Equal(t, events.VisibilityPublic, resolved[0].Visibility)

	inv := ofType(history, events.EventTypeInvestigation)
	require.Len(t, inv, 1)
	assert.Equal(t, events.VisibilityActor, inv[0].Visibility)
	assert.Equal(t, "p3", inv[0].ActorID)

	prot := ofType(history, events.EventTypeProtectionApplied)
	require.Len(t, prot, 1)
	assert.Equal(t, "p2", prot[0].ActorID)

	// a villager sees neither the investigation nor the protection
	viewer := g.ViewerFor("p4")
	for _, e := range g.Events(0, events.Filter{Viewer: &viewer}) {
		assert.NotContains(t, []events.EventType{events.EventTypeInvestigation, events.EventTypeProtectionApplied}, e.Type,
			"p4 saw %s #%d", e.Type, e.Sequence)
	}

	s := g.State()
	assert.Equal(t, role.FactionTown, s.Winner)
	assert.False(t, s.Player("p1").Alive)
	assert.Len(t, s.Alive(), 4)
	assert.Equal(t, 1, s.Day)

	ended := ofType(history, events.EventTypeGameEnded)
	require.Len(t, ended, 1)
	var p GameEndedPayload
	require.NoError(t, ended[0].Decode(&p))
	assert.Equal(t, role.Set{role.Sheriff}, p.Roles["p3"])
}

func TestSequenceIsContiguous(t *testing.T) {
	g := newTestGame(t, table(5, "MAFIA", "DOCTOR", "SHERIFF", "VIGILANTE", "VILLAGER", "VILLAGER", "VILLAGER"), eagerTable(7))
	runToEnd(t, g)

	history := g.History()
	require.NotEmpty(t, history)
	for i, e := range history {
		assert.Equal(t, uint64(i+1), e.Sequence)
		assert.Equal(t, "game-1", e.GameID)
	}
	assert.Equal(t, uint64(len(history)), g.LastSequence())
	assert.Equal(t, events.EventTypeGameCreated, history[0].Type)
	assert.Equal(t, events.EventTypeGameEnded, history[len(history)-1].Type)
}

func TestMafiaParityEndsGameAtMorning(t *testing.T) {
	agents := map[string]Agent{
		"p1": scripted(script{night: map[role.Ability]string{role.AbilityKill: "p3"}}),
		"p2": scripted(script{night: map[role.Ability]string{role.AbilityKill: "p3"}}),
		"p3": scripted(script{}),
		"p4": scripted(script{}),
		"p5": scripted(script{}),
	}
	g := newTestGame(t, table(1, "MAFIA", "MAFIA", "VILLAGER", "VILLAGER", "VILLAGER"), agents)
	runToEnd(t, g)

	s := g.State()
	assert.Equal(t, role.FactionMafia, s.Winner)
	assert.Equal(t, 1, s.Day)
	assert.Empty(t, ofType(g.History(), events.EventTypeVoteCast))

	var phases []Phase
	for _, e := range ofType(g.History(), events.EventTypePhaseChanged) {
		var p PhaseChangedPayload
		require.NoError(t, e.Decode(&p))
		phases = append(phases, p.To)
	}
	assert.Equal(t, []Phase{PhaseNight, PhaseMorning, PhaseResolution}, phases)

	elim := ofType(g.History(), events.EventTypePlayerEliminated)
	require.Len(t, elim, 1)
	var p EliminationPayload
	require.NoError(t, elim[0].Decode(&p))
	assert.Equal(t, EliminationPayload{PlayerID: "p3", Cause: CauseMafia, Day: 1, Revealed: role.Set{role.Villager}}, p)
}

func TestMafiaNightChatStaysOnTeamChannel(t *testing.T) {
	mafia := &stubAgent{act: func(req TurnRequest) (Response, error) {
		resp := Response{Reasoning: "hunting"}
		if req.Phase == PhaseNight {
			resp.Statement = "take p5"
			resp.Actions = []ActionChoice{{Kind: ActionKill, TargetID: "p5"}}
		}
		return resp, nil
	}}
	agents := eagerTable(6)
	agents["p1"] = mafia
	g := newTestGame(t, table(2, "MAFIA", "MAFIA", "VILLAGER", "VILLAGER", "VILLAGER", "DOCTOR"), agents)
	runToEnd(t, g)

	var night []events.GameEvent
	for _, e := range ofType(g.History(), events.EventTypeStatement) {
		var p SpeechPayload
		require.NoError(t, e.Decode(&p))
		if p.Phase == PhaseNight {
			night = append(night, e)
		}
	}
	require.NotEmpty(t, night)
	for _, e := range night {
		assert.Equal(t, events.VisibilityTeam, e.Visibility)
		assert.Equal(t, string(role.FactionMafia), e.Team)
	}

	town := g.ViewerFor("p3")
	mate := g.ViewerFor("p2")
	assert.False(t, town.CanSee(night[0]))
	assert.True(t, mate.CanSee(night[0]))
}

func TestSameSeedProducesIdenticalLogs(t *testing.T) {
	deck := Setup{
		Seed: 7,
		Deck: []role.Set{{role.Mafia}, {role.Doctor}, {role.Sheriff}, {role.Vigilante}, {role.Villager}, {role.Villager}},
		Seats: []SeatSpec{
			{ID: "p1"}, {ID: "p2"}, {ID: "p3"}, {ID: "p4"}, {ID: "p5"}, {ID: "p6"},
		},
		Rules: Rules{MaxDays: 4},
	}
	play := func(opts ...GameOption) []byte {
		g := newTestGame(t, deck, eagerTable(6), opts...)
		runToEnd(t, g)
		raw, err := json.Marshal(g.History())
		require.NoError(t, err)
		return raw
	}

	first := play()
	assert.Equal(t, string(first), string(play()))
	assert.Equal(t, string(first), string(play(WithConcurrency(4))))
}

func TestReplayRebuildsLiveState(t *testing.T) {
	g := newTestGame(t, table(11, "MAFIA", "MAFIA", "DOCTOR", "SHERIFF", "VIGILANTE", "VILLAGER", "VILLAGER"), eagerTable(7))
	runToEnd(t, g)

	history := g.History()
	assert.Empty(t, ofType(history, events.EventTypeReplayDivergence))

	replayed, err := Replay(history)
	require.NoError(t, err)
	live, err := g.State().Canonical()
	require.NoError(t, err)
	again, err := replayed.Canonical()
	require.NoError(t, err)
	assert.JSONEq(t, string(live), string(again))
	assert.NoError(t, VerifyReplay(g.State(), history))
}

func TestReplayDetectsTamperedOutcome(t *testing.T) {
	g := newTestGame(t, table(11, "MAFIA", "DOCTOR", "SHERIFF", "VILLAGER", "VILLAGER"), eagerTable(5))
	runToEnd(t, g)

	history := g.History()
	for i, e := range history {
		if e.Type == events.EventTypeNightResolved {
			history[i].Payload = json.RawMessage(`{"night":1,"killed":null,"deaths":["nobody"]}`)
			break
		}
	}
	_, err := Replay(history)
	assert.ErrorIs(t, err, ErrReplayDivergence)

	var div *DivergenceError
	require.ErrorAs(t, err, &div)
	assert.Equal(t, "night.deaths", div.Field)
}

func TestFallbackAfterRetriesExhausted(t *testing.T) {
	broken := &stubAgent{act: func(req TurnRequest) (Response, error) {
		return Response{}, fmt.Errorf("%w: garbled reply", budget.ErrRetryable)
	}}
	agents := eagerTable(5)
	agents["p2"] = broken
	setup := table(3, "MAFIA", "DOCTOR", "SHERIFF", "VILLAGER", "VILLAGER")
	setup.Rules.MaxDays = 1
	g := newTestGame(t, setup, agents)
	runToEnd(t, g)
	history := g.History()

	var retries, fallbacks int
	for _, e := range history {
		if e.ActorID != "p2" {
			continue
		}
		switch e.Type {
		case events.EventTypeAgentRetry:
			retries++
			assert.Equal(t, events.VisibilityActor, e.Visibility)
		case events.EventTypeAgentFallback:
			fallbacks++
			var p FallbackPayload
			require.NoError(t, e.Decode(&p))
			assert.Contains(t, p.Reason, "retries exhausted")
			assert.False(t, p.Blocked)
		}
	}
	assert.Positive(t, retries)
	assert.Positive(t, fallbacks)
	assert.Equal(t, 2*fallbacks, broken.calls)

	var protect *NightAction
	for _, e := range ofType(history, events.EventTypeNightAction) {
		var a NightAction
		require.NoError(t, e.Decode(&a))
		if a.ActorID == "p2" {
			protect = &a
		}
	}
	require.NotNil(t, protect)
	assert.Equal(t, ActionProtect, protect.Kind)
	assert.True(t, protect.Fallback)
	assert.NotEmpty(t, protect.TargetID)

	for _, e := range ofType(history, events.EventTypeVoteCast) {
		var v Vote
		require.NoError(t, e.Decode(&v))
		if v.VoterID == "p2" {
			assert.Equal(t, Abstain, v.TargetID)
			assert.True(t, v.Fallback)
		}
	}
	assert.Equal(t, fallbacks, g.State().Fallbacks)
}

func TestGameCeilingBlocksFurtherCalls(t *testing.T) {
	agents := make(map[string]Agent)
	for i := 1; i <= 5; i++ {
		a := eager()
		a.usage = budget.CallUsage{Model: "stub", PromptTokens: 1000}
		agents[fmt.Sprintf("p%d", i)] = a
	}
	cfg := testBudget()
	cfg.PerPlayerPerTurn = 0
	cfg.PerGameTotal = 1.00
	// every call costs $0.30
	prices := budget.NewPriceTable(map[string]budget.Price{"stub": {InputPerMillion: 300}}, budget.Price{})

	setup := table(4, "MAFIA", "DOCTOR", "SHERIFF", "VILLAGER", "VILLAGER")
	setup.Rules.MaxDays = 1
	g := newTestGame(t, setup, agents, WithBudget(cfg, prices))
	runToEnd(t, g)
	history := g.History()

	assert.Len(t, ofType(history, events.EventTypeAgentCallCharged), 3)
	for _, typ := range []events.EventType{events.EventTypeBudgetWarning, events.EventTypeBudgetExceeded} {
		notices := ofType(history, typ)
		require.Len(t, notices, 1, typ)
		assert.Equal(t, events.VisibilityPublic, notices[0].Visibility)
		var n budget.Notice
		require.NoError(t, notices[0].Decode(&n))
		assert.Equal(t, budget.ScopeGame, n.Scope)
	}

	blocked := 0
	for _, e := range ofType(history, events.EventTypeAgentFallback) {
		var p FallbackPayload
		require.NoError(t, e.Decode(&p))
		if p.Blocked {
			blocked++
		}
	}
	assert.Positive(t, blocked)

	s := g.State()
	assert.InDelta(t, 0.90, s.Budget.Game.CostUSD, 1e-9)
	assert.Equal(t, "day limit 1 reached", s.EndReason)
	assert.Empty(t, s.Winner)
}

func TestOutOfPhaseSubmissionsAreRejected(t *testing.T) {
	g := newTestGame(t, table(1, "MAFIA", "MAFIA", "DOCTOR", "VILLAGER", "VILLAGER", "VILLAGER"), nil)
	ctx := context.Background()

	assert.ErrorIs(t, g.SubmitVote(ctx, "p3", "p1"), ErrInvalidPhaseAction)
	assert.ErrorIs(t, g.SubmitNightAction(ctx, NightAction{ActorID: "p4", Kind: ActionKill, TargetID: "p3"}), ErrInvalidActor)
	assert.ErrorIs(t, g.SubmitNightAction(ctx, NightAction{ActorID: "p1", Kind: ActionKill, TargetID: "p2"}), ErrInvalidTarget)
	assert.ErrorIs(t, g.SubmitNightAction(ctx, NightAction{ActorID: "ghost", Kind: ActionKill, TargetID: "p3"}), ErrInvalidActor)
	assert.ErrorIs(t, g.SubmitStatement(ctx, "p4", "hello?"), ErrInvalidPhaseAction)

	require.NoError(t, g.SubmitNightAction(ctx, NightAction{ActorID: "p1", Kind: ActionKill, TargetID: "p4"}))
	require.NoError(t, g.SubmitStatement(ctx, "p1", "p4 tonight"))

	s := g.State()
	assert.Equal(t, 5, s.Rejections)
	assert.Len(t, s.Night, 1)

	rejected := ofType(g.History(), events.EventTypeActionRejected)
	require.Len(t, rejected, 5)
	for _, e := range rejected {
		assert.Equal(t, events.VisibilityActor, e.Visibility)
	}
	var p RejectionPayload
	require.NoError(t, rejected[0].Decode(&p))
	assert.Equal(t, CodeInvalidPhase, p.Code)
	assert.Equal(t, "p3", p.ActorID)

	// the kill nomination is visible to the whole mafia and nobody else
	viewer := g.ViewerFor("p2")
	kills := g.Events(0, events.Filter{Viewer: &viewer, Types: []events.EventType{events.EventTypeNightAction}})
	require.Len(t, kills, 1)
	town := g.ViewerFor("p4")
	assert.Empty(t, g.Events(0, events.Filter{Viewer: &town, Types: []events.EventType{events.EventTypeNightAction, events.EventTypeStatement}}))
}

func TestVigilanteFiresOnce(t *testing.T) {
	g := newTestGame(t, table(8, "MAFIA", "VIGILANTE", "DOCTOR", "VILLAGER", "VILLAGER", "VILLAGER"), nil)
	ctx := context.Background()

	require.NoError(t, g.SubmitNightAction(ctx, NightAction{ActorID: "p1", Kind: ActionKill, TargetID: "p5"}))
	require.NoError(t, g.SubmitNightAction(ctx, NightAction{ActorID: "p2", Kind: ActionShoot, TargetID: "p6"}))
	require.NoError(t, g.SubmitNightAction(ctx, NightAction{ActorID: "p3", Kind: ActionProtect, TargetID: "p4"}))

	g.mu.Lock()
	require.NoError(t, g.resolveNightLocked(ctx))
	g.mu.Unlock()

	shots := ofType(g.History(), events.EventTypeVigilanteShot)
	require.Len(t, shots, 1)
	assert.Equal(t, events.VisibilityActor, shots[0].Visibility)

	s := g.State()
	assert.True(t, s.Player("p2").Memory.HasFired)
	assert.Len(t, s.Pending, 2)

	// the next night offers no shot and refuses one
	s.Phase, s.Day, s.NightResolved = PhaseNight, 2, false
	opts := s.NightOptions("p2")
	assert.NotContains(t, opts.Night, role.AbilityShoot)
	assert.False(t, opts.CanPass)
	aerr := s.checkNightAction(NightAction{ActorID: "p2", Kind: ActionShoot, TargetID: "p1"})
	require.NotNil(t, aerr)
	assert.ErrorIs(t, aerr, ErrInvalidActor)
}

func TestVigilanteFallbackPassKeepsShot(t *testing.T) {
	silent := &stubAgent{act: func(req TurnRequest) (Response, error) {
		return Response{Reasoning: "waiting"}, nil
	}}
	agents := eagerTable(5)
	agents["p2"] = silent
	setup := table(6, "MAFIA", "VIGILANTE", "VILLAGER", "VILLAGER", "VILLAGER")
	setup.Rules.VigilantePassConsumes = true
	setup.Rules.MaxDays = 1
	g := newTestGame(t, setup, agents)
	runToEnd(t, g)

	var pass *NightAction
	for _, e := range ofType(g.History(), events.EventTypeNightAction) {
		var a NightAction
		require.NoError(t, e.Decode(&a))
		if a.ActorID == "p2" {
			pass = &a
		}
	}
	require.NotNil(t, pass)
	assert.Equal(t, ActionPass, pass.Kind)
	assert.True(t, pass.Fallback)
	assert.Empty(t, ofType(g.History(), events.EventTypeVigilantePassed))
	assert.True(t, g.State().Player("p2").CanShoot(true))
}

func TestPauseStopAndResume(t *testing.T) {
	ctx := context.Background()

	t.Run("stop while paused", func(t *testing.T) {
		g := newTestGame(t, table(1, "MAFIA", "DOCTOR", "VILLAGER", "VILLAGER", "VILLAGER"), eagerTable(5))
		require.NoError(t, g.Pause(ctx))
		assert.Equal(t, StatusPaused, g.State().Status)

		done := make(chan error, 1)
		go func() { done <- g.Run(ctx) }()
		require.NoError(t, g.Stop(ctx, ""))

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("Run did not return after Stop")
		}
		s := g.State()
		assert.True(t, s.Finished())
		assert.Equal(t, "stopped", s.EndReason)
		assert.Empty(t, s.Winner)
		assert.ErrorIs(t, g.SubmitVote(ctx, "p1", "p2"), ErrGameFinished)
		assert.NoError(t, g.Stop(ctx, "again"))
	})

	t.Run("resume", func(t *testing.T) {
		g := newTestGame(t, table(1, "MAFIA", "DOCTOR", "VILLAGER", "VILLAGER", "VILLAGER"), eagerTable(5))
		require.NoError(t, g.Pause(ctx))

		done := make(chan error, 1)
		go func() { done <- g.Run(ctx) }()
		require.NoError(t, g.Resume(ctx))

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("Run did not finish after Resume")
		}
		assert.NotEmpty(t, g.State().Winner)
	})
}

func TestSetupRejectsBadTables(t *testing.T) {
	ctx := context.Background()

	g := NewGame("g")
	err := g.Setup(ctx, table(1, "MAFIA", "MAFIA", "VILLAGER"))
	assert.ErrorIs(t, err, role.ErrInvalidComposition)
	assert.Zero(t, g.LastSequence())

	g = NewGame("g")
	bad := table(1, "MAFIA", "VILLAGER", "VILLAGER", "VILLAGER")
	bad.Seats[2].ID = "p1"
	assert.Error(t, g.Setup(ctx, bad))

	g = NewGame("g")
	assert.ErrorIs(t, g.Run(ctx), ErrNotSetUp)

	g = NewGame("g")
	require.NoError(t, g.Setup(ctx, table(1, "MAFIA", "DOCTOR", "VILLAGER", "VILLAGER", "VILLAGER")))
	assert.Error(t, g.Setup(ctx, table(1, "MAFIA", "VILLAGER", "VILLAGER", "VILLAGER")))
}

func TestMultiRoleSetupBriefsPlayer(t *testing.T) {
	setup := table(1, "MAFIA+SHERIFF", "MAFIA", "DOCTOR", "VILLAGER", "VILLAGER", "VILLAGER")
	setup.Rules.Stacking = role.MultiRoleRules()
	g := newTestGame(t, setup, nil)

	s := g.State()
	require.Len(t, s.Context["p1"], 1)
	assert.Contains(t, s.Context["p1"][0], "MAFIA+SHERIFF")

	opts := s.NightOptions("p1")
	assert.Contains(t, opts.Night, role.AbilityKill)
	assert.Contains(t, opts.Night, role.AbilityInvestigate)
	assert.True(t, opts.Speak)

	view := g.View(g.ViewerFor("p2"))
	assert.Equal(t, role.Set{role.Mafia, role.Sheriff}, view.Players[0].Roles)
	assert.Empty(t, view.Players[2].Roles)
}

func TestDeadlineDefaultsAreSeatOrdered(t *testing.T) {
	setup := table(42, "MAFIA", "MAFIA", "DOCTOR", "SHERIFF", "VILLAGER", "VILLAGER", "VILLAGER")
	setup.Rules.MaxDays = 2
	setup.Rules.Deadlines = Deadlines{Night: 5 * time.Millisecond, Discussion: 5 * time.Millisecond, Voting: 5 * time.Millisecond}

	play := func() []events.GameEvent {
		g := newTestGame(t, setup, nil)
		runToEnd(t, g)
		return g.History()
	}

	first := play()
	raw, err := json.Marshal(first)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := json.Marshal(play())
		require.NoError(t, err)
		require.Equal(t, string(raw), string(again), "run %d", i)
	}

	var kills []NightAction
	for _, e := range ofType(first, events.EventTypeNightAction) {
		var a NightAction
		require.NoError(t, e.Decode(&a))
		if a.Kind == ActionKill {
			kills = append(kills, a)
		}
	}
	require.GreaterOrEqual(t, len(kills), 2)
	assert.Equal(t, "p1", kills[0].ActorID)
	assert.Equal(t, "p2", kills[1].ActorID)
	assert.True(t, kills[1].Fallback)
	assert.Equal(t, kills[0].TargetID, kills[1].TargetID, "the second mafia member follows the first")
}

func TestConcurrentBudgetIsDeterministic(t *testing.T) {
	cfg := testBudget()
	cfg.PerPlayerPerTurn = 0
	cfg.PerGameTotal = 1.00
	prices := budget.NewPriceTable(map[string]budget.Price{"stub": {InputPerMillion: 300}}, budget.Price{})
	setup := table(9, "MAFIA", "MAFIA", "DOCTOR", "SHERIFF", "VILLAGER", "VILLAGER", "VILLAGER")
	setup.Rules.MaxDays = 2

	play := func() string {
		agents := make(map[string]Agent)
		for i := 1; i <= 7; i++ {
			a := eager()
			a.usage = budget.CallUsage{Model: "stub", PromptTokens: 1000}
			act := a.act
			// completion order varies from run to run
			a.act = func(req TurnRequest) (Response, error) {
				time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
				return act(req)
			}
			agents[fmt.Sprintf("p%d", i)] = a
		}
		g := newTestGame(t, setup, agents, WithBudget(cfg, prices), WithConcurrency(4))
		runToEnd(t, g)
		raw, err := json.Marshal(g.History())
		require.NoError(t, err)
		return string(raw)
	}

	first := play()
	for i := 0; i < 30; i++ {
		require.Equal(t, first, play(), "run %d", i)
	}
}
