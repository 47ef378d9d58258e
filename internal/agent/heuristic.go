package agent

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"

	"github.com/MRamiBalles/MafiaGemelos/server/internal/budget"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/domain/role"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/engine"
)

// HeuristicModel is the price-table name of the rule-based agent. It is free.
const HeuristicModel = "heuristic"

// Heuristic is a rule-based agent. Its choices depend only on its seed and the
// request, so two runs with the same seed make the same decisions.
type Heuristic struct {
	seed int64
}

// NewHeuristic creates a rule-based agent.
func NewHeuristic(seed int64) *Heuristic {
	return &Heuristic{seed: seed}
}

// Model returns HeuristicModel.
func (h *Heuristic) Model() string {
	return HeuristicModel
}

func (h *Heuristic) rand(req engine.TurnRequest) *rand.Rand {
	f := fnv.New64a()
	fmt.Fprintf(f, "%d|%s|%s|%d", h.seed, req.PlayerID, req.TurnID, req.Attempt)
	return rand.New(rand.NewSource(int64(f.Sum64())))
}

// Act decides a turn by rules. It never fails and costs nothing.
func (h *Heuristic) Act(ctx context.Context, req engine.TurnRequest) (engine.Response, budget.CallUsage, error) {
	if err := ctx.Err(); err != nil {
		return engine.Response{}, budget.CallUsage{}, err
	}
	r := h.rand(req)
	p := perceive(req)

	var resp engine.Response
	switch {
	case len(req.Options.Night) > 0 || req.Options.CanPass:
		resp = h.night(r, req, p)
	case len(req.Options.Vote) > 0:
		resp = h.vote(r, req, p)
	default:
		resp = h.speak(r, p)
	}
	return resp, budget.CallUsage{Model: HeuristicModel}, nil
}

// perception is what the rules look at.
type perception struct {
	self      string
	mafia     bool
	teammates map[string]bool
	others    []string
	exposed   []string
	findings  map[string]role.Set
}

func perceive(req engine.TurnRequest) perception {
	p := perception{
		self:      req.PlayerID,
		mafia:     req.View.Roles.Faction() == role.FactionMafia,
		teammates: map[string]bool{},
		findings:  map[string]role.Set{},
	}
	for _, id := range req.View.Teammates {
		p.teammates[id] = true
	}
	for _, pl := range req.View.Players {
		if pl.Alive && pl.ID != req.PlayerID {
			p.others = append(p.others, pl.ID)
		}
	}
	if req.View.Memory != nil {
		for id, set := range req.View.Memory.Findings {
			p.findings[id] = set
			if set.Faction() == role.FactionMafia && contains(p.others, id) {
				p.exposed = append(p.exposed, id)
			}
		}
	}
	sort.Strings(p.exposed)
	return p
}

// suspects are the living players this agent would accuse.
func (p perception) suspects() []string {
	if !p.mafia && len(p.exposed) > 0 {
		return p.exposed
	}
	var out []string
	for _, id := range p.others {
		if p.mafia && p.teammates[id] {
			continue
		}
		if set, ok := p.findings[id]; ok && set.Faction() != role.FactionMafia && !p.mafia {
			continue
		}
		out = append(out, id)
	}
	if len(out) == 0 {
		return p.others
	}
	return out
}

func (h *Heuristic) night(r *rand.Rand, req engine.TurnRequest, p perception) engine.Response {
	resp := engine.Response{Reasoning: "Night falls; I act on what I know."}
	abilities := make([]string, 0, len(req.Options.Night))
	for a := range req.Options.Night {
		abilities = append(abilities, string(a))
	}
	sort.Strings(abilities)

	for _, name := range abilities {
		ability := role.Ability(name)
		targets := req.Options.Night[ability]
		var target string
		switch ability {
		case role.AbilityInvestigate:
			var fresh []string
			for _, t := range targets {
				if _, seen := p.findings[t]; !seen {
					fresh = append(fresh, t)
				}
			}
			if len(fresh) == 0 {
				fresh = targets
			}
			target = pick(r, fresh)
		case role.AbilityProtect:
			if contains(targets, p.self) && r.Intn(3) == 0 {
				target = p.self
			} else {
				target = pick(r, targets)
			}
		case role.AbilityShoot:
			known := intersect(p.exposed, targets)
			switch {
			case !p.mafia && len(known) > 0:
				target = known[0]
			case req.Day >= 2 && r.Intn(4) == 0:
				target = pick(r, intersect(p.suspects(), targets))
			}
		default:
			target = pick(r, targets)
		}
		if target == "" {
			continue
		}
		resp.Actions = append(resp.Actions, engine.ActionChoice{Kind: engine.ActionKind(ability), TargetID: target})
		resp.Reasoning += fmt.Sprintf(" %s on %s.", ability, target)
	}
	if req.Options.CanPass && !hasKind(resp.Actions, engine.ActionShoot) {
		resp.Actions = append(resp.Actions, engine.ActionChoice{Kind: engine.ActionPass})
		resp.Reasoning += " I keep my shot."
	}
	if req.Options.Speak && p.mafia {
		for _, a := range resp.Actions {
			if a.Kind == engine.ActionKill {
				resp.Statement = fmt.Sprintf("I say we take %s tonight.", a.TargetID)
			}
		}
	}
	return resp
}

func (h *Heuristic) speak(r *rand.Rand, p perception) engine.Response {
	if !p.mafia && len(p.exposed) > 0 {
		target := p.exposed[0]
		return engine.Response{
			Reasoning: fmt.Sprintf("My investigation exposed %s. Time to say it.", target),
			Statement: fmt.Sprintf("I investigated %s. They are mafia.", target),
		}
	}
	target := pick(r, p.suspects())
	if target == "" {
		return engine.Response{Reasoning: "Nobody left to suspect."}
	}
	reasoning := fmt.Sprintf("%s is my best guess for now.", target)
	if p.mafia {
		reasoning = fmt.Sprintf("Pushing suspicion onto %s keeps eyes off my team.", target)
	}
	return engine.Response{Reasoning: reasoning, Statement: fmt.Sprintf("I have doubts about %s.", target)}
}

func (h *Heuristic) vote(r *rand.Rand, req engine.TurnRequest, p perception) engine.Response {
	options := req.Options.Vote
	if !p.mafia && len(intersect(p.exposed, options)) > 0 {
		target := intersect(p.exposed, options)[0]
		return engine.Response{Reasoning: "I know who is mafia.", Statement: "Vote " + target + ".", Vote: target}
	}
	if !p.mafia && r.Intn(10) == 0 {
		return engine.Response{Reasoning: "Not enough to go on.", Vote: engine.Abstain}
	}

	// Follow the current leader when it is an acceptable target.
	counts := map[string]int{}
	for _, v := range req.View.Votes {
		if v.TargetID != engine.Abstain {
			counts[v.TargetID]++
		}
	}
	candidates := intersect(p.suspects(), options)
	best, top := "", 0
	for _, id := range candidates {
		if counts[id] > top {
			best, top = id, counts[id]
		}
	}
	if best == "" {
		best = pick(r, candidates)
	}
	if best == "" {
		return engine.Response{Reasoning: "No acceptable target.", Vote: engine.Abstain}
	}
	return engine.Response{Reasoning: fmt.Sprintf("Voting %s.", best), Vote: best}
}

func pick(r *rand.Rand, ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return ids[r.Intn(len(ids))]
}

func intersect(a, b []string) []string {
	var out []string
	for _, id := range a {
		if contains(b, id) {
			out = append(out, id)
		}
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func hasKind(actions []engine.ActionChoice, kind engine.ActionKind) bool {
	for _, a := range actions {
		if a.Kind == kind {
			return true
		}
	}
	return false
}

var _ engine.Agent = (*Heuristic)(nil)
