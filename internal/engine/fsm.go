package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MRamiBalles/MafiaGemelos/server/internal/domain/rules"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/events"
)

// Run drives the phase controller until the game finishes, is stopped, or a
// fatal error halts it. It returns nil for a finished game.
func (g *Game) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.mu.Lock()
	if err := g.activeLocked(); err != nil {
		g.mu.Unlock()
		if errors.Is(err, ErrGameFinished) {
			return nil
		}
		return err
	}
	g.cancel = cancel
	g.mu.Unlock()

	g.logger.Info("phase controller started")
	for {
		g.mu.Lock()
		phase, status, fatal := g.state.Phase, g.state.Status, g.fatal
		g.mu.Unlock()

		switch {
		case fatal != nil:
			return fatal
		case status == StatusFinished:
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case status == StatusPaused:
			select {
			case <-ctx.Done():
			case <-g.wake:
			}
			continue
		}

		err := g.runPhase(ctx, phase)
		if err != nil {
			g.mu.Lock()
			stopped := g.fatal == nil && g.state.Finished()
			g.mu.Unlock()
			if stopped {
				return nil
			}
			return err
		}
	}
}

var tracer = otel.Tracer("github.com/MRamiBalles/MafiaGemelos/server/internal/engine")

// runPhase runs one phase step inside a span.
func (g *Game) runPhase(ctx context.Context, phase Phase) error {
	g.mu.Lock()
	day := g.state.Day
	g.mu.Unlock()
	ctx, span := tracer.Start(ctx, "phase "+string(phase), trace.WithAttributes(
		attribute.String("game.id", g.id),
		attribute.Int("game.day", day),
	))
	defer span.End()

	var err error
	switch phase {
	case PhaseNight:
		err = g.runNight(ctx)
	case PhaseMorning:
		err = g.runMorning(ctx)
	case PhaseDiscussion:
		err = g.runDiscussion(ctx)
	case PhaseVoting:
		err = g.runVoting(ctx)
	case PhaseResolution:
		err = g.runResolution(ctx)
	default:
		err = fmt.Errorf("phase controller cannot run %s", phase)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// phaseContext bounds the waiting part of a phase by its deadline.
func (g *Game) phaseContext(ctx context.Context, phase Phase) (context.Context, context.CancelFunc, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	deadline := g.deadlineLocked(phase)
	if deadline <= 0 {
		deadline = time.Minute
	}
	pctx, cancel := context.WithTimeout(ctx, deadline)
	return pctx, cancel, g.state.Round
}

// await blocks until done holds, the round goes stale, or ctx ends.
func (g *Game) await(ctx context.Context, round int, done func(*State) bool) {
	for {
		g.mu.Lock()
		ok := g.staleLocked(round) || done(g.state)
		g.mu.Unlock()
		if ok {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-g.wake:
		}
	}
}

func (g *Game) runNight(ctx context.Context) error {
	pctx, cancel, round := g.phaseContext(ctx, PhaseNight)
	defer cancel()

	g.mu.Lock()
	var ids []string
	for id := range g.state.expectedNight() {
		ids = append(ids, id)
	}
	ids = g.state.inSeatOrder(ids)
	g.mu.Unlock()

	build := func(id string) (TurnRequest, bool) {
		opts := g.state.NightOptions(id)
		if len(g.state.expectedNight()[id]) == 0 {
			return TurnRequest{}, false
		}
		return g.buildTurnLocked(id, opts, ""), true
	}
	if err := g.runTurns(pctx, round, ids, build, g.applyNightTurnLocked, false); err != nil {
		return err
	}
	g.await(pctx, round, (*State).nightComplete)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.staleLocked(round) {
		return nil
	}
	owed := g.state.expectedNight()
	missing := make([]string, 0, len(owed))
	for id := range owed {
		missing = append(missing, id)
	}
	// Defaults read earlier defaults (mafia follow a teammate), so seat order matters.
	for _, id := range g.state.inSeatOrder(missing) {
		if err := g.nightDefaultsLocked(ctx, id, "deadline elapsed"); err != nil {
			return err
		}
	}
	return g.resolveNightLocked(ctx)
}

// resolveNightLocked publishes the night outcome, then the private results.
func (g *Game) resolveNightLocked(ctx context.Context) error {
	s := g.state
	res := ResolveNight(s.nightInput())
	if res.Split {
		g.logger.Infof("mafia split over %v, seed chose %s", res.Nominations, res.KillTarget)
	}

	summary := NightResolvedPayload{Night: res.Night, Deaths: []string{}}
	if res.Killed != "" {
		killed := res.Killed
		summary.Killed = &killed
	}
	for _, d := range res.Deaths {
		summary.Deaths = append(summary.Deaths, d.PlayerID)
	}
	drafts := []events.Draft{{Type: events.EventTypeNightResolved, Payload: summary}}

	for _, p := range res.Protections {
		drafts = append(drafts, events.Draft{Type: events.EventTypeProtectionApplied, Visibility: events.VisibilityActor, ActorID: p.DoctorID, Payload: p})
	}
	for _, inv := range res.Investigations {
		drafts = append(drafts, events.Draft{Type: events.EventTypeInvestigation, Visibility: events.VisibilityActor, ActorID: inv.SheriffID, Payload: inv})
	}
	for _, shot := range res.Shots {
		drafts = append(drafts, events.Draft{Type: events.EventTypeVigilanteShot, Visibility: events.VisibilityActor, ActorID: shot.VigilanteID, Payload: shot})
	}
	for _, pass := range res.Passes {
		drafts = append(drafts, events.Draft{Type: events.EventTypeVigilantePassed, Visibility: events.VisibilityActor, ActorID: pass.VigilanteID, Payload: pass})
	}
	for _, d := range res.Decisions {
		if d.Addendum != "" {
			drafts = append(drafts, events.Draft{
				Type: events.EventTypeRoleConflict, Visibility: events.VisibilityActor, ActorID: d.ActorID,
				Payload: ConflictPayload{PlayerID: d.ActorID, Addendum: d.Addendum},
			})
		}
		if d.Broadcast != nil {
			drafts = append(drafts, events.Draft{
				Type: events.EventTypeTeamBroadcast, Visibility: events.VisibilityTeam, Team: string(d.Broadcast.Team),
				ActorID: d.ActorID, Payload: d.Broadcast,
			})
		}
	}
	for _, d := range drafts {
		if _, err := g.emitLocked(ctx, d); err != nil {
			return err
		}
	}
	return g.enterPhaseLocked(ctx, PhaseMorning, s.Day)
}

// runMorning reveals the night's deaths. When they decide the game it goes
// straight to RESOLUTION.
func (g *Game) runMorning(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.eliminatePendingLocked(ctx); err != nil {
		return err
	}
	next := PhaseDiscussion
	if rules.Winner(g.state.Headcount()) != "" {
		next = PhaseResolution
	}
	return g.enterPhaseLocked(ctx, next, g.state.Day)
}

func (g *Game) eliminatePendingLocked(ctx context.Context) error {
	pending := append([]Death(nil), g.state.Pending...)
	for _, d := range pending {
		p := g.state.Player(d.PlayerID)
		if p == nil || !p.Alive {
			continue
		}
		if _, err := g.emitLocked(ctx, events.Draft{
			Type:    events.EventTypePlayerEliminated,
			ActorID: p.ID,
			Payload: EliminationPayload{PlayerID: p.ID, Cause: d.Cause, Day: g.state.Day, Revealed: p.Roles},
		}); err != nil {
			return err
		}
	}
	return nil
}

// runDiscussion gives every living player the floor in seat order, one
// speaker at a time, for the configured number of rounds.
func (g *Game) runDiscussion(ctx context.Context) error {
	pctx, cancel, round := g.phaseContext(ctx, PhaseDiscussion)
	defer cancel()

	g.mu.Lock()
	rounds := g.state.Rules.DiscussionRounds
	g.mu.Unlock()

	for k := 1; k <= rounds; k++ {
		g.mu.Lock()
		ids := g.state.AliveIDs()
		g.mu.Unlock()
		suffix := fmt.Sprintf(".%d", k)
		build := func(id string) (TurnRequest, bool) {
			return g.buildTurnLocked(id, Options{Speak: true}, suffix), true
		}
		if err := g.runTurns(pctx, round, ids, build, g.applySpeechTurnLocked, true); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.staleLocked(round) {
		return nil
	}
	return g.enterPhaseLocked(ctx, PhaseVoting, g.state.Day)
}

func (g *Game) runVoting(ctx context.Context) error {
	pctx, cancel, round := g.phaseContext(ctx, PhaseVoting)
	defer cancel()

	g.mu.Lock()
	ids := g.state.AliveIDs()
	g.mu.Unlock()

	build := func(id string) (TurnRequest, bool) {
		return g.buildTurnLocked(id, Options{Speak: true, Vote: g.state.VoteOptions(id)}, ""), true
	}
	if err := g.runTurns(pctx, round, ids, build, g.applyVoteTurnLocked, false); err != nil {
		return err
	}
	g.await(pctx, round, (*State).votingComplete)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.staleLocked(round) {
		return nil
	}
	for _, id := range g.state.AliveIDs() {
		if g.state.hasActiveVote(id) {
			continue
		}
		if err := fatalOnly(g.submitVoteLocked(ctx, Vote{VoterID: id, TargetID: Abstain, Fallback: true})); err != nil {
			return err
		}
	}

	s := g.state
	result := Tally(s.Votes, s.Rules.TiePolicy, s.Seed, s.Day)
	if result.Tie {
		g.logger.Infof("day %d vote tied between %v, eliminated %q", s.Day, result.Tied, result.Eliminated)
	}
	if _, err := g.emitLocked(ctx, events.Draft{Type: events.EventTypeVoteResult, Payload: result}); err != nil {
		return err
	}
	return g.enterPhaseLocked(ctx, PhaseResolution, s.Day)
}

// runResolution applies the day's elimination, verifies the log replays to the
// live state, and either ends the game or opens the next night.
func (g *Game) runResolution(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.eliminatePendingLocked(ctx); err != nil {
		return err
	}
	if err := g.verifyLocked(ctx); err != nil {
		return err
	}

	s := g.state
	h := s.Headcount()
	if winner := rules.Winner(h); winner != "" {
		return g.endLocked(ctx, winner, fmt.Sprintf("%d mafia and %d town alive", h.AliveMafia, h.AliveTown))
	}
	if s.Rules.MaxDays > 0 && s.Day >= s.Rules.MaxDays {
		return g.endLocked(ctx, "", fmt.Sprintf("day limit %d reached", s.Rules.MaxDays))
	}
	return g.enterPhaseLocked(ctx, PhaseNight, s.Day+1)
}

// verifyLocked replays the full log and compares it with the live state. A
// divergence is recorded and halts the game.
func (g *Game) verifyLocked(ctx context.Context) error {
	err := VerifyReplay(g.state, g.log.All())
	if err == nil {
		return nil
	}
	g.logger.Errorf("replay check failed: %v", err)
	_, _ = g.emitLocked(ctx, events.Draft{
		Type:    events.EventTypeReplayDivergence,
		Payload: map[string]string{"error": err.Error()},
	})
	g.fatal = err
	return err
}

func (s *State) hasActiveVote(voterID string) bool {
	for _, v := range s.Votes {
		if v.VoterID == voterID && v.Active() {
			return true
		}
	}
	return false
}

func (s *State) inSeatOrder(ids []string) []string {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []string
	for _, p := range s.Players {
		if want[p.ID] {
			out = append(out, p.ID)
		}
	}
	return out
}
