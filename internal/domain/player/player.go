// Package player defines a seat at the table and the private memory its roles keep.
// This package is PURE and must NOT import any infrastructure packages.
package player

import "github.com/MRamiBalles/MafiaGemelos/server/internal/domain/role"

// Memory is the per-role private state carried across nights.
type Memory struct {
	// Doctor
	LastProtectedTargetID string `json:"last_protected_target_id,omitempty"`
	LastProtectedNight    int    `json:"last_protected_night,omitempty"`

	// Vigilante
	HasFired  bool `json:"has_fired,omitempty"`
	HasPassed bool `json:"has_passed,omitempty"`

	// Sheriff findings, keyed by target id.
	Findings map[string]role.Set `json:"findings,omitempty"`
}

// Player represents one participant. Identity and roles are fixed at setup;
// Alive only goes from true to false.
type Player struct {
	ID           string   `json:"id"`
	DisplayName  string   `json:"display_name"`
	Seat         int      `json:"seat"`
	Roles        role.Set `json:"roles"`
	Alive        bool     `json:"alive"`
	EliminatedOn int      `json:"eliminated_on,omitempty"`
	Memory       Memory   `json:"memory"`
}

// New creates a living player without roles.
func New(id, displayName string, seat int) *Player {
	if displayName == "" {
		displayName = id
	}
	return &Player{ID: id, DisplayName: displayName, Seat: seat, Alive: true}
}

// Faction returns the player's win-condition side.
func (p *Player) Faction() role.Faction {
	return p.Roles.Faction()
}

// Has reports whether the player holds r.
func (p *Player) Has(r role.Role) bool {
	return p.Roles.Has(r)
}

// Eliminate marks the player dead on the given day. It is a no-op for the dead.
func (p *Player) Eliminate(day int) {
	if !p.Alive {
		return
	}
	p.Alive = false
	p.EliminatedOn = day
}

// CanShoot reports whether a vigilante still holds the one shot.
// passConsumes applies the house rule that an explicit pass forfeits it.
func (p *Player) CanShoot(passConsumes bool) bool {
	if !p.Has(role.Vigilante) || p.Memory.HasFired {
		return false
	}
	return !(passConsumes && p.Memory.HasPassed)
}

// RecordFinding stores a sheriff result.
func (p *Player) RecordFinding(targetID string, finding role.Set) {
	if p.Memory.Findings == nil {
		p.Memory.Findings = make(map[string]role.Set)
	}
	p.Memory.Findings[targetID] = finding
}

// Clone returns a deep copy.
func (p *Player) Clone() *Player {
	cp := *p
	cp.Roles = append(role.Set(nil), p.Roles...)
	if p.Memory.Findings != nil {
		cp.Memory.Findings = make(map[string]role.Set, len(p.Memory.Findings))
		for k, v := range p.Memory.Findings {
			cp.Memory.Findings[k] = append(role.Set(nil), v...)
		}
	}
	return &cp
}
