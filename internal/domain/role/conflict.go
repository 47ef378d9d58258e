package role

import (
	"fmt"
	"strings"
)

// Ability is a night ability granted by a role.
type Ability string

const (
	AbilityKill        Ability = "KILL"
	AbilityProtect     Ability = "PROTECT"
	AbilityInvestigate Ability = "INVESTIGATE"
	AbilityShoot       Ability = "SHOOT"
)

// Grants returns the role that grants ability a.
func (a Ability) Grants() Role {
	switch a {
	case AbilityKill:
		return Mafia
	case AbilityProtect:
		return Doctor
	case AbilityInvestigate:
		return Sheriff
	case AbilityShoot:
		return Vigilante
	}
	return ""
}

// Abilities lists the night abilities of a set in canonical order.
func (s Set) Abilities() []Ability {
	var out []Ability
	for _, a := range []Ability{AbilityKill, AbilityInvestigate, AbilityProtect, AbilityShoot} {
		if s.Has(a.Grants()) {
			out = append(out, a)
		}
	}
	return out
}

// Broadcast is a read-only message to one faction's private channel.
type Broadcast struct {
	Team    Faction `json:"team"`
	FromID  string  `json:"from_id"`
	Ability Ability `json:"ability"`
	Target  string  `json:"target_id"`
	Finding Set     `json:"finding,omitempty"`
	Message string  `json:"message"`
}

// Decision is the conflict-aware outcome of one role action. Mechanical fields
// are the recorded truth; Addendum and Broadcast are context derived from it.
type Decision struct {
	ActorID   string     `json:"actor_id"`
	Ability   Ability    `json:"ability"`
	TargetID  string     `json:"target_id"`
	Finding   Set        `json:"finding,omitempty"`
	Addendum  string     `json:"addendum,omitempty"`
	Broadcast *Broadcast `json:"broadcast,omitempty"`
}

// Resolver produces decisions for players that may hold several roles.
type Resolver struct{}

// NewResolver returns a resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Investigate records the exact role set of the target. A mafia-aligned
// sheriff shares the finding with the mafia channel.
func (r *Resolver) Investigate(actorID string, actor Set, targetID string, target Set) Decision {
	d := Decision{
		ActorID:  actorID,
		Ability:  AbilityInvestigate,
		TargetID: targetID,
		Finding:  append(Set(nil), target...),
	}
	if actor.Faction() != FactionMafia {
		return d
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You hold %s. Your investigation of %s returned %s and is recorded truthfully. ", actor, targetID, target)
	if target.Faction() == FactionMafia {
		b.WriteString("The target is your own teammate; naming them would hand the town a mafia member. ")
	} else if len(target.Specials()) > 0 {
		fmt.Fprintf(&b, "The target holds %s, a town power your team may want removed. ", joinRoles(target.Specials()))
	}
	b.WriteString("What you say in public may differ from this result; the result itself cannot change.")
	d.Addendum = b.String()
	d.Broadcast = &Broadcast{
		Team:    FactionMafia,
		FromID:  actorID,
		Ability: AbilityInvestigate,
		Target:  targetID,
		Finding: d.Finding,
		Message: fmt.Sprintf("%s investigated %s: %s", actorID, targetID, target),
	}
	return d
}

// Protect records a doctor protection. A mafia-aligned doctor tells the team
// whom the town ability shielded.
func (r *Resolver) Protect(actorID string, actor Set, targetID string, target Set) Decision {
	d := Decision{ActorID: actorID, Ability: AbilityProtect, TargetID: targetID}
	if actor.Faction() != FactionMafia {
		return d
	}
	d.Addendum = fmt.Sprintf("You hold %s. Your protection of %s is binding tonight even if it shields the mafia's own target.", actor, targetID)
	d.Broadcast = &Broadcast{
		Team:    FactionMafia,
		FromID:  actorID,
		Ability: AbilityProtect,
		Target:  targetID,
		Message: fmt.Sprintf("%s protected %s tonight", actorID, targetID),
	}
	return d
}

// Shoot records a vigilante shot.
func (r *Resolver) Shoot(actorID string, actor Set, targetID string, target Set) Decision {
	d := Decision{ActorID: actorID, Ability: AbilityShoot, TargetID: targetID}
	if actor.Faction() != FactionMafia {
		return d
	}
	d.Addendum = fmt.Sprintf("You hold %s. Your single vigilante shot at %s is spent whatever the outcome.", actor, targetID)
	if target.Faction() == FactionMafia {
		d.Addendum += " The target is your own teammate."
	}
	d.Broadcast = &Broadcast{
		Team:    FactionMafia,
		FromID:  actorID,
		Ability: AbilityShoot,
		Target:  targetID,
		Message: fmt.Sprintf("%s used the vigilante shot on %s", actorID, targetID),
	}
	return d
}

// Briefing describes the tension between the roles of a multi-role player. It
// returns "" for sets without conflict.
func (r *Resolver) Briefing(set Set) string {
	if !set.Multi() {
		return ""
	}
	if set.Faction() == FactionMafia {
		return fmt.Sprintf(
			"You hold %s. You win with the mafia, yet your %s ability acts for the town and its results are recorded truthfully. Anything you learn is shared with your team; what you claim in public is your choice.",
			set, joinRoles(set.Specials()))
	}
	return fmt.Sprintf("You hold %s. Each ability resolves independently every night.", set)
}

func joinRoles(roles []Role) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, " and ")
}
