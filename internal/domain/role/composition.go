package role

import (
	"errors"
	"fmt"
)

// ErrInvalidComposition is wrapped by every setup-time composition rejection.
var ErrInvalidComposition = errors.New("invalid role composition")

// CompositionError names the seat (or -1 for table-wide rules) that broke a rule.
type CompositionError struct {
	Seat   int
	Reason string
}

func (e *CompositionError) Error() string {
	if e.Seat < 0 {
		return fmt.Sprintf("%s: %s", ErrInvalidComposition, e.Reason)
	}
	return fmt.Sprintf("%s: seat %d: %s", ErrInvalidComposition, e.Seat, e.Reason)
}

func (e *CompositionError) Unwrap() error { return ErrInvalidComposition }

// StackingRules configure which role sets are accepted at setup.
type StackingRules struct {
	MultiRole         bool `json:"multi_role"`
	MaxRolesPerPlayer int  `json:"max_roles_per_player"`
	UniqueSpecials    bool `json:"unique_specials"`
}

// DefaultStackingRules allow a single role per player and one of each special.
func DefaultStackingRules() StackingRules {
	return StackingRules{MultiRole: false, MaxRolesPerPlayer: 1, UniqueSpecials: true}
}

// MultiRoleRules allow up to two roles per player.
func MultiRoleRules() StackingRules {
	return StackingRules{MultiRole: true, MaxRolesPerPlayer: 2, UniqueSpecials: true}
}

// ValidateComposition checks the role sets of every seat against rules.
func ValidateComposition(sets []Set, rules StackingRules) error {
	if len(sets) < 3 {
		return &CompositionError{Seat: -1, Reason: fmt.Sprintf("need at least 3 players, got %d", len(sets))}
	}
	maxRoles := rules.MaxRolesPerPlayer
	if maxRoles <= 0 {
		maxRoles = 1
	}

	specialHolders := make(map[Role]int)
	mafia, town, mafiaWithSpecial := 0, 0, 0

	for seat, set := range sets {
		if len(set) == 0 {
			return &CompositionError{Seat: seat, Reason: "no role assigned"}
		}
		for _, r := range set {
			if !r.Known() {
				return &CompositionError{Seat: seat, Reason: fmt.Sprintf("unknown role %q", r)}
			}
		}
		if set.Multi() {
			if !rules.MultiRole {
				return &CompositionError{Seat: seat, Reason: fmt.Sprintf("multi-role disabled, got %s", set)}
			}
			if set.Has(Villager) {
				return &CompositionError{Seat: seat, Reason: "VILLAGER cannot be stacked with another role"}
			}
		}
		if len(set) > maxRoles {
			return &CompositionError{Seat: seat, Reason: fmt.Sprintf("%d roles exceeds limit %d", len(set), maxRoles)}
		}
		specials := set.Specials()
		for _, r := range specials {
			specialHolders[r]++
		}
		if set.Faction() == FactionMafia {
			mafia++
			if len(specials) > 0 {
				mafiaWithSpecial++
			}
		} else {
			town++
		}
	}

	if rules.UniqueSpecials {
		for _, r := range []Role{Sheriff, Doctor, Vigilante} {
			if specialHolders[r] > 1 {
				return &CompositionError{Seat: -1, Reason: fmt.Sprintf("%s assigned to %d players", r, specialHolders[r])}
			}
		}
	}
	if mafia == 0 {
		return &CompositionError{Seat: -1, Reason: "no mafia member"}
	}
	if mafia >= town {
		return &CompositionError{Seat: -1, Reason: fmt.Sprintf("mafia (%d) already at parity with town (%d)", mafia, town)}
	}
	if mafiaWithSpecial > 0 && mafiaWithSpecial == mafia {
		return &CompositionError{Seat: -1, Reason: "every mafia member also holds a special role"}
	}
	return nil
}
