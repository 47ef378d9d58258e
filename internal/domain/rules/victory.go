// Package rules contains the pure calculation logic for game mechanics.
// This package is PURE and must NOT import any infrastructure packages.
package rules

import (
	"github.com/MRamiBalles/MafiaGemelos/server/internal/domain/player"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/domain/role"
)

// Headcount is the number of living players per faction.
type Headcount struct {
	AliveMafia int `json:"alive_mafia"`
	AliveTown  int `json:"alive_town"`
}

// Count tallies the living players of each faction.
func Count(players []*player.Player) Headcount {
	var h Headcount
	for _, p := range players {
		if !p.Alive {
			continue
		}
		if p.Faction() == role.FactionMafia {
			h.AliveMafia++
		} else {
			h.AliveTown++
		}
	}
	return h
}

// Winner returns the winning faction, or "" while the game goes on.
// TOWN wins iff no mafia is alive; MAFIA wins iff it matches or outnumbers the town.
func Winner(h Headcount) role.Faction {
	if h.AliveMafia == 0 {
		return role.FactionTown
	}
	if h.AliveMafia >= h.AliveTown {
		return role.FactionMafia
	}
	return ""
}
