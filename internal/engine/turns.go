package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MRamiBalles/MafiaGemelos/server/internal/budget"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/domain/role"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/events"
	"golang.org/x/sync/errgroup"
)

// turnBuilder assembles the request of one player. It runs under the game lock
// and returns false when the player has nothing to do.
type turnBuilder func(playerID string) (TurnRequest, bool)

// turnApplier folds an agent outcome into the game. It runs under the game lock.
type turnApplier func(ctx context.Context, req TurnRequest, out budget.Outcome[Response]) error

type pendingTurn struct {
	req   TurnRequest
	agent Agent
	guard *budget.Guard
	out   budget.Outcome[Response]
}

// runTurns asks the agents of ids to act. Sequential runs build each request
// after the previous result is applied; concurrent runs build all requests
// first, each against a budget fork taken in seat order, and settle the
// buffered results in seat order.
func (g *Game) runTurns(ctx context.Context, round int, ids []string, build turnBuilder, apply turnApplier, sequential bool) error {
	if sequential || g.concurrency <= 1 {
		for _, id := range ids {
			if ctx.Err() != nil {
				return nil
			}
			g.mu.Lock()
			t, ok := g.prepareLocked(round, id, build)
			g.mu.Unlock()
			if !ok {
				continue
			}
			t.out = g.invoke(ctx, g.guard, t.agent, t.req)
			g.mu.Lock()
			err := g.settleLocked(ctx, round, t, apply)
			g.mu.Unlock()
			if err != nil {
				return err
			}
		}
		return nil
	}

	g.mu.Lock()
	var batch []*pendingTurn
	for _, id := range ids {
		if t, ok := g.prepareLocked(round, id, build); ok {
			t.guard = g.guard.Fork()
			batch = append(batch, t)
		}
	}
	g.mu.Unlock()

	var eg errgroup.Group
	eg.SetLimit(g.concurrency)
	for _, t := range batch {
		eg.Go(func() error {
			t.out = g.invoke(ctx, t.guard, t.agent, t.req)
			return nil
		})
	}
	_ = eg.Wait()

	g.mu.Lock()
	defer g.mu.Unlock()
	defer g.guard.Release()
	for _, t := range batch {
		t.out.Notices = g.guard.Settle(budgetRequest(t.agent, t.req), t.out.Notices)
		if err := g.settleLocked(ctx, round, t, apply); err != nil {
			return err
		}
	}
	return nil
}

func (g *Game) prepareLocked(round int, playerID string, build turnBuilder) (*pendingTurn, bool) {
	if g.staleLocked(round) {
		return nil, false
	}
	a := g.agents[playerID]
	if a == nil {
		return nil, false
	}
	req, ok := build(playerID)
	if !ok {
		return nil, false
	}
	return &pendingTurn{req: req, agent: a}, true
}

// settleLocked records what the invocation cost, then applies its result
// unless the game moved past the round that asked for it.
func (g *Game) settleLocked(ctx context.Context, round int, t *pendingTurn, apply turnApplier) error {
	if err := g.recordOutcomeLocked(ctx, t.req, t.out); err != nil {
		return err
	}
	if g.staleLocked(round) {
		g.logger.Warnf("discarding result of %s from round %d", t.req.PlayerID, round)
		return nil
	}
	return fatalOnly(apply(ctx, t.req, t.out))
}

func (g *Game) staleLocked(round int) bool {
	return g.fatal != nil || g.state.Finished() || g.state.Round != round
}

// fatalOnly drops rejections: they are already recorded as events.
func fatalOnly(err error) error {
	var aerr *ActionError
	if errors.As(err, &aerr) {
		return nil
	}
	return err
}

// buildTurnLocked assembles a request with the player's visible history,
// compressed to the context budget.
func (g *Game) buildTurnLocked(playerID string, opts Options, suffix string) TurnRequest {
	s := g.state
	viewer := s.ViewerFor(playerID)
	history, omitted := budget.Compress(historyFor(g.log.All(), viewer), g.guard.Config().MaxContextChars)
	return TurnRequest{
		GameID:   g.id,
		PlayerID: playerID,
		Phase:    s.Phase,
		Day:      s.Day,
		Round:    s.Round,
		TurnID:   fmt.Sprintf("%s#%d%s", s.Phase, s.Round, suffix),
		View:     s.ViewFor(viewer),
		Options:  opts,
		History:  history,
		Omitted:  omitted,
		Addendum: append([]string(nil), s.Context[playerID]...),
	}
}

func budgetRequest(a Agent, req TurnRequest) budget.Request {
	return budget.Request{GameID: req.GameID, PlayerID: req.PlayerID, TurnID: req.TurnID, Model: a.Model()}
}

func (g *Game) invoke(ctx context.Context, guard *budget.Guard, a Agent, req TurnRequest) budget.Outcome[Response] {
	return budget.Invoke(ctx, guard, budgetRequest(a, req), func(ctx context.Context, attempt int) (Response, budget.CallUsage, error) {
		r := req
		r.Attempt = attempt
		resp, usage, err := a.Act(ctx, r)
		if err == nil {
			err = validateResponse(r, resp)
		}
		return resp, usage, err
	})
}

// recordOutcomeLocked turns budget notices into events: charges and retries
// are private to the actor, game-wide thresholds are public.
func (g *Game) recordOutcomeLocked(ctx context.Context, req TurnRequest, out budget.Outcome[Response]) error {
	perCall := out.Latency
	if out.Attempts > 1 {
		perCall /= time.Duration(out.Attempts)
	}
	for _, n := range out.Notices {
		d := events.Draft{Visibility: events.VisibilityActor, ActorID: req.PlayerID, Payload: n}
		switch n.Kind {
		case budget.NoticeCharge:
			d.Type = events.EventTypeAgentCallCharged
			d.Payload = n.Charge
			g.metrics.RecordAgentCall(n.Charge.PromptTokens+n.Charge.CompletionTokens, n.Charge.CostUSD, perCall)
		case budget.NoticeRetry:
			d.Type = events.EventTypeAgentRetry
			g.metrics.RecordRetry()
		case budget.NoticeWarning, budget.NoticeExceeded:
			d.Type = events.EventTypeBudgetWarning
			if n.Kind == budget.NoticeExceeded {
				d.Type = events.EventTypeBudgetExceeded
			}
			if n.Scope == budget.ScopeGame {
				d.Visibility = events.VisibilityPublic
				d.ActorID = ""
			}
			g.logger.Warn(n.Summary())
		default:
			continue
		}
		if _, err := g.emitLocked(ctx, d); err != nil {
			return err
		}
	}
	if !out.Fallback() {
		return nil
	}
	g.metrics.RecordFallback(out.Blocked())
	g.logger.Warnf("%s falls back on %s: %v", req.PlayerID, req.TurnID, out.Err)
	_, err := g.emitLocked(ctx, events.Draft{
		Type: events.EventTypeAgentFallback, Visibility: events.VisibilityActor, ActorID: req.PlayerID,
		Payload: FallbackPayload{
			PlayerID: req.PlayerID, TurnID: req.TurnID, Phase: req.Phase,
			Reason: out.Err.Error(), Blocked: out.Blocked(),
		},
	})
	return err
}

// applyNightTurnLocked records a night response, then defaults whatever the
// agent left undone.
func (g *Game) applyNightTurnLocked(ctx context.Context, req TurnRequest, out budget.Outcome[Response]) error {
	if out.Fallback() {
		return g.nightDefaultsLocked(ctx, req.PlayerID, "agent fallback: "+out.Err.Error())
	}
	resp := out.Value
	if err := g.recordReasoningLocked(ctx, req.PlayerID, resp.Reasoning); err != nil {
		return err
	}
	if resp.Statement != "" && req.Options.Speak {
		if err := fatalOnly(g.submitStatementLocked(ctx, req.PlayerID, resp.Statement)); err != nil {
			return err
		}
	}
	for _, a := range resp.Actions {
		a := NightAction{ActorID: req.PlayerID, Kind: a.Kind, TargetID: a.TargetID}
		if err := fatalOnly(g.submitNightLocked(ctx, a)); err != nil {
			return err
		}
	}
	return g.nightDefaultsLocked(ctx, req.PlayerID, "no action chosen")
}

// nightDefaultsLocked synthesizes a marked default for every ability of
// playerID still missing tonight.
func (g *Game) nightDefaultsLocked(ctx context.Context, playerID, reason string) error {
	for _, ability := range g.state.expectedNight()[playerID] {
		a := g.state.defaultNightAction(playerID, ability, reason)
		if err := fatalOnly(g.submitNightLocked(ctx, a)); err != nil {
			return err
		}
	}
	return nil
}

// defaultNightAction picks a deterministic legal action. A mafia member follows
// a teammate's nomination when there is one; the vigilante holds its shot.
func (s *State) defaultNightAction(playerID string, ability role.Ability, reason string) NightAction {
	a := NightAction{ActorID: playerID, Kind: ActionKind(ability), Fallback: true, Reason: reason}
	p := s.Player(playerID)
	if ability == role.AbilityShoot {
		a.Kind = ActionPass
		return a
	}
	targets := s.nightTargets(p, ability)
	if ability == role.AbilityKill {
		for _, mate := range s.Teammates(playerID) {
			nom, ok := s.Night[NightAction{ActorID: mate, Kind: ActionKill}.key()]
			if ok && contains(targets, nom.TargetID) {
				a.TargetID = nom.TargetID
				return a
			}
		}
	}
	a.TargetID = seededPick(s.Seed, purposeDefault+"/"+playerID+"/"+string(ability), s.Round, targets)
	return a
}

func (g *Game) applySpeechTurnLocked(ctx context.Context, req TurnRequest, out budget.Outcome[Response]) error {
	if out.Fallback() {
		return nil
	}
	if err := g.recordReasoningLocked(ctx, req.PlayerID, out.Value.Reasoning); err != nil {
		return err
	}
	if out.Value.Statement == "" {
		return nil
	}
	return g.submitStatementLocked(ctx, req.PlayerID, out.Value.Statement)
}

func (g *Game) applyVoteTurnLocked(ctx context.Context, req TurnRequest, out budget.Outcome[Response]) error {
	if out.Fallback() {
		return g.submitVoteLocked(ctx, Vote{VoterID: req.PlayerID, TargetID: Abstain, Fallback: true})
	}
	resp := out.Value
	if err := g.recordReasoningLocked(ctx, req.PlayerID, resp.Reasoning); err != nil {
		return err
	}
	if resp.Statement != "" {
		if err := fatalOnly(g.submitStatementLocked(ctx, req.PlayerID, resp.Statement)); err != nil {
			return err
		}
	}
	target := resp.Vote
	if target == "" {
		target = Abstain
	}
	return g.submitVoteLocked(ctx, Vote{VoterID: req.PlayerID, TargetID: target})
}
