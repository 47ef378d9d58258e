// Package role defines the canonical roles, the per-player role set and the
// rules for stacking several roles on one player.
// This package is PURE and must NOT import any infrastructure packages.
package role

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Role is one of the canonical roles.
type Role string

const (
	Mafia     Role = "MAFIA"
	Sheriff   Role = "SHERIFF"
	Doctor    Role = "DOCTOR"
	Vigilante Role = "VIGILANTE"
	Villager  Role = "VILLAGER"
)

// Faction is a win-condition side.
type Faction string

const (
	FactionTown  Faction = "TOWN"
	FactionMafia Faction = "MAFIA"
)

// ordinal fixes the canonical order of roles inside a Set.
var ordinal = map[Role]int{
	Mafia:     0,
	Sheriff:   1,
	Doctor:    2,
	Vigilante: 3,
	Villager:  4,
}

// Known reports whether r is a canonical role.
func (r Role) Known() bool {
	_, ok := ordinal[r]
	return ok
}

// Special reports whether r is a unique town power role.
func (r Role) Special() bool {
	return r == Sheriff || r == Doctor || r == Vigilante
}

// Set is the sorted, de-duplicated set of roles held by one player.
type Set []Role

// NewSet builds a canonical Set from roles. Unknown roles are kept so
// composition validation can report them.
func NewSet(roles ...Role) Set {
	seen := make(map[Role]bool, len(roles))
	out := make(Set, 0, len(roles))
	for _, r := range roles {
		r = Role(strings.ToUpper(strings.TrimSpace(string(r))))
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		oi, ok := ordinal[out[i]]
		if !ok {
			oi = len(ordinal)
		}
		oj, ok := ordinal[out[j]]
		if !ok {
			oj = len(ordinal)
		}
		if oi != oj {
			return oi < oj
		}
		return out[i] < out[j]
	})
	return out
}

// ParseSet reads "MAFIA+SHERIFF" style notation.
func ParseSet(s string) Set {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '+' || r == ',' || r == '|' })
	roles := make([]Role, len(parts))
	for i, p := range parts {
		roles[i] = Role(p)
	}
	return NewSet(roles...)
}

// Has reports whether the set contains r.
func (s Set) Has(r Role) bool {
	for _, x := range s {
		if x == r {
			return true
		}
	}
	return false
}

// Faction returns MAFIA when the set holds MAFIA, TOWN otherwise.
func (s Set) Faction() Faction {
	if s.Has(Mafia) {
		return FactionMafia
	}
	return FactionTown
}

// Specials returns the town power roles in the set.
func (s Set) Specials() []Role {
	var out []Role
	for _, r := range s {
		if r.Special() {
			out = append(out, r)
		}
	}
	return out
}

// Multi reports whether the player holds more than one role.
func (s Set) Multi() bool {
	return len(s) > 1
}

// Equal compares two sets.
func (s Set) Equal(o Set) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

func (s Set) String() string {
	parts := make([]string, len(s))
	for i, r := range s {
		parts[i] = string(r)
	}
	return strings.Join(parts, "+")
}

// UnmarshalJSON accepts either a single role string or an array of roles and
// normalises both into a canonical set.
func (s *Set) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = ParseSet(single)
		return nil
	}
	var many []Role
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("role set: %w", err)
	}
	*s = NewSet(many...)
	return nil
}
