package engine

import (
	"github.com/MRamiBalles/MafiaGemelos/server/internal/domain/player"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/domain/role"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/events"
)

// Submission is a kind of input a phase may accept.
type Submission string

const (
	SubmitNightAction Submission = "NIGHT_ACTION"
	SubmitStatement   Submission = "STATEMENT"
	SubmitVote        Submission = "VOTE"
)

// phaseRule is one row of the phase table.
type phaseRule struct {
	accepts []Submission
	next    []Phase
}

// phaseTable lists, per phase, the submissions it accepts and where it may go.
// Any phase may end the game.
var phaseTable = map[Phase]phaseRule{
	PhaseSetup:      {next: []Phase{PhaseNight}},
	PhaseNight:      {accepts: []Submission{SubmitNightAction, SubmitStatement}, next: []Phase{PhaseMorning}},
	PhaseMorning:    {next: []Phase{PhaseDiscussion, PhaseResolution}},
	PhaseDiscussion: {accepts: []Submission{SubmitStatement}, next: []Phase{PhaseVoting}},
	PhaseVoting:     {accepts: []Submission{SubmitVote, SubmitStatement}, next: []Phase{PhaseResolution}},
	PhaseResolution: {next: []Phase{PhaseNight}},
}

func canTransition(from, to Phase) bool {
	for _, p := range phaseTable[from].next {
		if p == to {
			return true
		}
	}
	return false
}

// Accepts reports whether the current phase takes submissions of kind k.
func (s *State) Accepts(k Submission) bool {
	if s.Status != StatusRunning && s.Status != StatusPaused {
		return false
	}
	for _, a := range phaseTable[s.Phase].accepts {
		if a == k {
			return true
		}
	}
	return false
}

// nightTargets lists the legal targets of one ability for p tonight.
func (s *State) nightTargets(p *player.Player, ability role.Ability) []string {
	var out []string
	switch ability {
	case role.AbilityProtect:
		out, _ = DoctorCandidates(p, s.Players, s.Day)
	case role.AbilityKill:
		for _, q := range s.Alive() {
			if q.Faction() != role.FactionMafia {
				out = append(out, q.ID)
			}
		}
	case role.AbilityInvestigate, role.AbilityShoot:
		for _, q := range s.Alive() {
			if q.ID != p.ID {
				out = append(out, q.ID)
			}
		}
	}
	return out
}

// NightOptions returns the night choices offered to playerID.
func (s *State) NightOptions(playerID string) Options {
	opts := Options{Night: make(map[role.Ability][]string)}
	p := s.Player(playerID)
	if p == nil || !p.Alive {
		return opts
	}
	for _, ability := range p.Roles.Abilities() {
		if ability == role.AbilityShoot && !p.CanShoot(s.Rules.VigilantePassConsumes) {
			continue
		}
		if targets := s.nightTargets(p, ability); len(targets) > 0 {
			opts.Night[ability] = targets
		}
		if ability == role.AbilityShoot {
			opts.CanPass = true
		}
	}
	opts.Speak = p.Faction() == role.FactionMafia
	return opts
}

// expectedNight returns the action keys still owed tonight, per player in seat order.
func (s *State) expectedNight() map[string][]role.Ability {
	out := make(map[string][]role.Ability)
	for _, p := range s.Alive() {
		opts := s.NightOptions(p.ID)
		for _, ability := range p.Roles.Abilities() {
			_, offered := opts.Night[ability]
			if !offered && !(ability == role.AbilityShoot && opts.CanPass) {
				continue
			}
			key := NightAction{ActorID: p.ID, Kind: ActionKind(ability)}.key()
			if _, done := s.Night[key]; !done {
				out[p.ID] = append(out[p.ID], ability)
			}
		}
	}
	return out
}

func (s *State) nightComplete() bool {
	return len(s.expectedNight()) == 0
}

func (s *State) checkNightAction(a NightAction) *ActionError {
	if !s.Accepts(SubmitNightAction) || s.NightResolved {
		return phaseError("night actions are not accepted during %s", s.Phase)
	}
	p := s.Player(a.ActorID)
	if p == nil || !p.Alive {
		return actorError("%q is not a living player", a.ActorID)
	}
	if a.Kind == ActionPass {
		if !p.CanShoot(s.Rules.VigilantePassConsumes) {
			return actorError("%s holds no vigilante shot", p.ID)
		}
		return nil
	}
	ability := role.Ability(a.Kind)
	if ability.Grants() == "" || !p.Has(ability.Grants()) {
		return actorError("%s cannot %s", p.ID, a.Kind)
	}
	if ability == role.AbilityShoot && !p.CanShoot(s.Rules.VigilantePassConsumes) {
		return actorError("%s already used the vigilante shot", p.ID)
	}
	if !contains(s.nightTargets(p, ability), a.TargetID) {
		return targetError("%s cannot %s %q tonight", p.ID, a.Kind, a.TargetID)
	}
	return nil
}

// VoteOptions returns the ballot offered to playerID, ending with Abstain.
func (s *State) VoteOptions(playerID string) []string {
	var out []string
	for _, q := range s.Alive() {
		if q.ID != playerID || s.Rules.AllowSelfVote {
			out = append(out, q.ID)
		}
	}
	return append(out, Abstain)
}

func (s *State) votingComplete() bool {
	voted := make(map[string]bool)
	for _, v := range s.Votes {
		if v.Active() {
			voted[v.VoterID] = true
		}
	}
	for _, p := range s.Alive() {
		if !voted[p.ID] {
			return false
		}
	}
	return true
}

func (s *State) checkVote(voterID, targetID string) *ActionError {
	if !s.Accepts(SubmitVote) || s.VoteResolved {
		return phaseError("votes are not accepted during %s", s.Phase)
	}
	voter := s.Player(voterID)
	if voter == nil || !voter.Alive {
		return actorError("%q is not a living player", voterID)
	}
	if targetID == Abstain {
		return nil
	}
	target := s.Player(targetID)
	if target == nil || !target.Alive {
		return targetError("%q is not a living player", targetID)
	}
	if targetID == voterID && !s.Rules.AllowSelfVote {
		return targetError("self-vote is not allowed")
	}
	return nil
}

// checkStatement returns the visibility a statement by playerID would have.
func (s *State) checkStatement(playerID, text string) (events.Visibility, *ActionError) {
	if !s.Accepts(SubmitStatement) {
		return "", phaseError("statements are not accepted during %s", s.Phase)
	}
	p := s.Player(playerID)
	if p == nil || !p.Alive {
		return "", actorError("%q is not a living player", playerID)
	}
	if text == "" {
		return "", targetError("empty statement")
	}
	if s.Phase == PhaseNight {
		if p.Faction() != role.FactionMafia {
			return "", phaseError("only the mafia may speak at night")
		}
		return events.VisibilityTeam, nil
	}
	return events.VisibilityPublic, nil
}

func (s *State) nightInput() NightInput {
	return NightInput{Seed: s.Seed, Night: s.Day, Rules: s.Rules, Players: s.Players, Actions: s.Night}
}
