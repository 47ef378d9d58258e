// Package agent provides the participants that play a game: an LLM-backed
// agent speaking the THINK/SAYS contract and a free rule-based agent.
package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/MRamiBalles/MafiaGemelos/server/internal/engine"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/infra/ai"
)

// Perceive turns a turn request into the prompt an LLM sees.
func Perceive(req engine.TurnRequest) string {
	view := req.View
	var alive []string
	for _, p := range view.Players {
		if p.Alive {
			alive = append(alive, p.ID)
		}
	}

	var knowledge []string
	for _, p := range view.Players {
		if !p.Alive && len(p.Roles) > 0 {
			knowledge = append(knowledge, fmt.Sprintf("%s was eliminated on day %d and was %s", p.ID, p.EliminatedOn, p.Roles))
		}
	}
	if view.Memory != nil {
		targets := make([]string, 0, len(view.Memory.Findings))
		for id := range view.Memory.Findings {
			targets = append(targets, id)
		}
		sort.Strings(targets)
		for _, id := range targets {
			knowledge = append(knowledge, fmt.Sprintf("your investigation found %s is %s", id, view.Memory.Findings[id]))
		}
		if view.Memory.LastProtectedTargetID != "" {
			knowledge = append(knowledge, fmt.Sprintf("you protected %s on night %d", view.Memory.LastProtectedTargetID, view.Memory.LastProtectedNight))
		}
	}

	options := make(map[string][]string, len(req.Options.Night))
	for ability, targets := range req.Options.Night {
		options[string(ability)] = targets
	}
	if req.Options.CanPass {
		options[string(engine.ActionPass)] = []string{"(no target)"}
	}

	var vote []string
	for _, id := range req.Options.Vote {
		if id != engine.Abstain {
			vote = append(vote, id)
		}
	}

	return ai.BuildTurnPrompt(ai.TurnPrompt{
		PlayerID:  req.PlayerID,
		Roles:     view.Roles.String(),
		Phase:     string(req.Phase),
		Day:       req.Day,
		Alive:     alive,
		Teammates: view.Teammates,
		Knowledge: knowledge,
		Options:   options,
		VoteFor:   vote,
		History:   req.History,
		Omitted:   req.Omitted,
		Addendum:  strings.Join(req.Addendum, "\n"),
	})
}
