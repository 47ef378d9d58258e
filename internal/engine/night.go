package engine

import (
	"sort"

	"github.com/MRamiBalles/MafiaGemelos/server/internal/domain/player"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/domain/role"
)

// NightInput is everything ResolveNight reads.
type NightInput struct {
	Seed    int64
	Night   int
	Rules   Rules
	Players []*player.Player
	Actions NightActionSet
}

// NightResult is the mechanical outcome of one night.
type NightResult struct {
	Night int
	// Nominations are the distinct mafia targets, sorted.
	Nominations []string
	KillTarget  string
	// Split is set when the mafia disagreed and the seed chose the target.
	Split          bool
	Killed         string
	Protections    []ProtectionPayload
	Investigations []InvestigationPayload
	Shots          []ShotPayload
	Passes         []ShotPayload
	Decisions      []role.Decision
	Deaths         []Death
}

// ResolveNight resolves the submitted actions of one night. It is pure: the
// same input always yields the same result.
func ResolveNight(in NightInput) NightResult {
	res := NightResult{Night: in.Night}
	byID := make(map[string]*player.Player, len(in.Players))
	for _, p := range in.Players {
		byID[p.ID] = p
	}
	living := func(id string) *player.Player {
		if p := byID[id]; p != nil && p.Alive {
			return p
		}
		return nil
	}

	keys := make([]string, 0, len(in.Actions))
	for k := range in.Actions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	resolver := role.NewResolver()
	votes := make(map[string]int)
	protected := make(map[string]bool)
	var shotTargets []string

	for _, k := range keys {
		a := in.Actions[k]
		actor := living(a.ActorID)
		if actor == nil {
			continue
		}
		switch a.Kind {
		case ActionKill:
			target := living(a.TargetID)
			if !actor.Has(role.Mafia) || target == nil || target.Faction() == role.FactionMafia {
				continue
			}
			votes[target.ID]++

		case ActionProtect:
			target := living(a.TargetID)
			if !actor.Has(role.Doctor) || target == nil {
				continue
			}
			candidates, waived := DoctorCandidates(actor, in.Players, in.Night)
			if !contains(candidates, target.ID) {
				continue
			}
			protected[target.ID] = true
			res.Protections = append(res.Protections, ProtectionPayload{
				DoctorID: actor.ID, TargetID: target.ID, Night: in.Night,
				Waived: waived && target.ID == actor.Memory.LastProtectedTargetID,
			})
			res.Decisions = append(res.Decisions, resolver.Protect(actor.ID, actor.Roles, target.ID, target.Roles))

		case ActionInvestigate:
			target := living(a.TargetID)
			if !actor.Has(role.Sheriff) || target == nil || target.ID == actor.ID {
				continue
			}
			d := resolver.Investigate(actor.ID, actor.Roles, target.ID, target.Roles)
			res.Investigations = append(res.Investigations, InvestigationPayload{
				SheriffID: actor.ID, TargetID: target.ID, Finding: d.Finding, Night: in.Night,
			})
			res.Decisions = append(res.Decisions, d)

		case ActionShoot:
			target := living(a.TargetID)
			if !actor.CanShoot(in.Rules.VigilantePassConsumes) || target == nil || target.ID == actor.ID {
				continue
			}
			res.Shots = append(res.Shots, ShotPayload{VigilanteID: actor.ID, TargetID: target.ID, Night: in.Night})
			res.Decisions = append(res.Decisions, resolver.Shoot(actor.ID, actor.Roles, target.ID, target.Roles))
			shotTargets = append(shotTargets, target.ID)

		case ActionPass:
			// A synthesized hold is not a decision and never consumes the shot.
			if a.Fallback || !actor.CanShoot(in.Rules.VigilantePassConsumes) {
				continue
			}
			res.Passes = append(res.Passes, ShotPayload{VigilanteID: actor.ID, Night: in.Night})
		}
	}

	res.KillTarget, res.Split = chooseKill(in.Seed, in.Night, votes)
	for id := range votes {
		res.Nominations = append(res.Nominations, id)
	}
	sort.Strings(res.Nominations)

	if res.KillTarget != "" && !protected[res.KillTarget] {
		res.Killed = res.KillTarget
		res.Deaths = append(res.Deaths, Death{PlayerID: res.Killed, Cause: CauseMafia})
	}
	for _, id := range shotTargets {
		if !hasDeath(res.Deaths, id) {
			res.Deaths = append(res.Deaths, Death{PlayerID: id, Cause: CauseVigilante})
		}
	}
	return res
}

// chooseKill returns the mafia target: the unanimous nomination, otherwise a
// seed-derived choice among every nominated target.
func chooseKill(seed int64, night int, votes map[string]int) (string, bool) {
	switch len(votes) {
	case 0:
		return "", false
	case 1:
		for id := range votes {
			return id, false
		}
	}
	targets := make([]string, 0, len(votes))
	for id := range votes {
		targets = append(targets, id)
	}
	return seededPick(seed, purposeMafiaKill, night, targets), true
}

// DoctorCandidates lists whom doctor may protect on night. The target of the
// previous night is excluded unless nobody else is left, in which case the rule
// is waived.
func DoctorCandidates(doctor *player.Player, players []*player.Player, night int) ([]string, bool) {
	var all, allowed []string
	last := doctor.Memory.LastProtectedTargetID
	consecutive := last != "" && doctor.Memory.LastProtectedNight == night-1
	for _, p := range players {
		if !p.Alive {
			continue
		}
		all = append(all, p.ID)
		if consecutive && p.ID == last {
			continue
		}
		allowed = append(allowed, p.ID)
	}
	if len(allowed) == 0 {
		return all, consecutive
	}
	return allowed, false
}

func hasDeath(deaths []Death, id string) bool {
	for _, d := range deaths {
		if d.PlayerID == id {
			return true
		}
	}
	return false
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
