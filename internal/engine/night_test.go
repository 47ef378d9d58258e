package engine

import (
	"encoding/json"
	"testing"

	"github.com/MRamiBalles/MafiaGemelos/server/internal/domain/player"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/domain/role"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seat builds a living player holding roles ("MAFIA+SHERIFF" notation).
func seat(id, roles string) *player.Player {
	p := player.New(id, "", 0)
	p.Roles = role.ParseSet(roles)
	return p
}

func actions(list ...NightAction) NightActionSet {
	set := make(NightActionSet)
	for _, a := range list {
		set[a.key()] = a
	}
	return set
}

func classicTable() []*player.Player {
	return []*player.Player{
		seat("p1", "MAFIA"),
		seat("p2", "DOCTOR"),
		seat("p3", "SHERIFF"),
		seat("p4", "VILLAGER"),
		seat("p5", "VILLAGER"),
	}
}

func TestResolveNightProtectionSavesTarget(t *testing.T) {
	res := ResolveNight(NightInput{
		Seed: 42, Night: 1, Rules: DefaultRules(), Players: classicTable(),
		Actions: actions(
			NightAction{ActorID: "p1", Kind: ActionKill, TargetID: "p4"},
			NightAction{ActorID: "p2", Kind: ActionProtect, TargetID: "p4"},
			NightAction{ActorID: "p3", Kind: ActionInvestigate, TargetID: "p1"},
		),
	})

	assert.Equal(t, "p4", res.KillTarget)
	assert.Empty(t, res.Killed)
	assert.Empty(t, res.Deaths)
	require.Len(t, res.Protections, 1)
	assert.Equal(t, ProtectionPayload{DoctorID: "p2", TargetID: "p4", Night: 1}, res.Protections[0])
	require.Len(t, res.Investigations, 1)
	assert.Equal(t, role.Set{role.Mafia}, res.Investigations[0].Finding)
}

func TestResolveNightUnprotectedKill(t *testing.T) {
	res := ResolveNight(NightInput{
		Seed: 42, Night: 1, Rules: DefaultRules(), Players: classicTable(),
		Actions: actions(
			NightAction{ActorID: "p1", Kind: ActionKill, TargetID: "p4"},
			NightAction{ActorID: "p2", Kind: ActionProtect, TargetID: "p5"},
		),
	})
	assert.Equal(t, "p4", res.Killed)
	assert.Equal(t, []Death{{PlayerID: "p4", Cause: CauseMafia}}, res.Deaths)
}

func TestResolveNightIgnoresIllegalActions(t *testing.T) {
	players := classicTable()
	players[4].Eliminate(1)
	res := ResolveNight(NightInput{
		Seed: 1, Night: 2, Rules: DefaultRules(), Players: players,
		Actions: actions(
			// villagers have no night ability and the dead cannot be targeted
			NightAction{ActorID: "p4", Kind: ActionKill, TargetID: "p3"},
			NightAction{ActorID: "p1", Kind: ActionKill, TargetID: "p5"},
			NightAction{ActorID: "p3", Kind: ActionInvestigate, TargetID: "p3"},
		),
	})
	assert.Empty(t, res.KillTarget)
	assert.Empty(t, res.Deaths)
	assert.Empty(t, res.Investigations)
}

func TestResolveNightSplitMafiaIsSeeded(t *testing.T) {
	players := []*player.Player{
		seat("p1", "MAFIA"), seat("p2", "MAFIA"),
		seat("p3", "VILLAGER"), seat("p4", "VILLAGER"), seat("p5", "VILLAGER"), seat("p6", "VILLAGER"),
	}
	in := NightInput{
		Seed: 99, Night: 3, Rules: DefaultRules(), Players: players,
		Actions: actions(
			NightAction{ActorID: "p1", Kind: ActionKill, TargetID: "p5"},
			NightAction{ActorID: "p2", Kind: ActionKill, TargetID: "p3"},
		),
	}
	first := ResolveNight(in)
	assert.True(t, first.Split)
	assert.Equal(t, []string{"p3", "p5"}, first.Nominations)
	assert.Contains(t, first.Nominations, first.Killed)

	for i := 0; i < 10; i++ {
		assert.Equal(t, first.Killed, ResolveNight(in).Killed)
	}
}

func TestResolveNightVigilanteShotAndMafiaKillStack(t *testing.T) {
	players := []*player.Player{
		seat("p1", "MAFIA"), seat("p2", "VIGILANTE"),
		seat("p3", "VILLAGER"), seat("p4", "VILLAGER"), seat("p5", "VILLAGER"),
	}
	res := ResolveNight(NightInput{
		Seed: 3, Night: 1, Rules: DefaultRules(), Players: players,
		Actions: actions(
			NightAction{ActorID: "p1", Kind: ActionKill, TargetID: "p3"},
			NightAction{ActorID: "p2", Kind: ActionShoot, TargetID: "p1"},
		),
	})
	assert.Equal(t, []Death{{PlayerID: "p3", Cause: CauseMafia}, {PlayerID: "p1", Cause: CauseVigilante}}, res.Deaths)
	require.Len(t, res.Shots, 1)
	assert.Empty(t, res.Passes)
}

func TestResolveNightVigilantePass(t *testing.T) {
	vig := seat("p2", "VIGILANTE")
	players := []*player.Player{seat("p1", "MAFIA"), vig, seat("p3", "VILLAGER"), seat("p4", "VILLAGER")}

	explicit := ResolveNight(NightInput{
		Night: 1, Rules: DefaultRules(), Players: players,
		Actions: actions(NightAction{ActorID: "p2", Kind: ActionPass}),
	})
	assert.Len(t, explicit.Passes, 1)

	synthesized := ResolveNight(NightInput{
		Night: 1, Rules: DefaultRules(), Players: players,
		Actions: actions(NightAction{ActorID: "p2", Kind: ActionPass, Fallback: true}),
	})
	assert.Empty(t, synthesized.Passes)

	vig.Memory.HasFired = true
	spent := ResolveNight(NightInput{
		Night: 2, Rules: DefaultRules(), Players: players,
		Actions: actions(NightAction{ActorID: "p2", Kind: ActionShoot, TargetID: "p1"}),
	})
	assert.Empty(t, spent.Shots)
	assert.Empty(t, spent.Deaths)
}

func TestDoctorCandidatesNoRepeat(t *testing.T) {
	players := classicTable()
	doc := players[1]
	doc.Memory.LastProtectedTargetID = "p4"
	doc.Memory.LastProtectedNight = 1

	got, waived := DoctorCandidates(doc, players, 2)
	assert.Equal(t, []string{"p1", "p2", "p3", "p5"}, got)
	assert.False(t, waived)

	// only consecutive nights are restricted
	got, _ = DoctorCandidates(doc, players, 3)
	assert.Contains(t, got, "p4")

	res := ResolveNight(NightInput{
		Night: 2, Rules: DefaultRules(), Players: players,
		Actions: actions(
			NightAction{ActorID: "p1", Kind: ActionKill, TargetID: "p4"},
			NightAction{ActorID: "p2", Kind: ActionProtect, TargetID: "p4"},
		),
	})
	assert.Empty(t, res.Protections)
	assert.Equal(t, "p4", res.Killed)
}

func TestDoctorCandidatesWaivedWhenAlone(t *testing.T) {
	doc := seat("p2", "DOCTOR")
	doc.Memory.LastProtectedTargetID = "p2"
	doc.Memory.LastProtectedNight = 4
	others := seat("p3", "VILLAGER")
	others.Eliminate(4)

	got, waived := DoctorCandidates(doc, []*player.Player{doc, others}, 5)
	assert.Equal(t, []string{"p2"}, got)
	assert.True(t, waived)
}

func TestResolveNightMafiaSheriffBroadcast(t *testing.T) {
	players := []*player.Player{
		seat("p1", "MAFIA+SHERIFF"), seat("p2", "MAFIA"),
		seat("p3", "DOCTOR"), seat("p4", "VILLAGER"), seat("p5", "VILLAGER"), seat("p6", "VILLAGER"),
	}
	res := ResolveNight(NightInput{
		Night: 1, Rules: Rules{Stacking: role.MultiRoleRules()}, Players: players,
		Actions: actions(NightAction{ActorID: "p1", Kind: ActionInvestigate, TargetID: "p3"}),
	})
	require.Len(t, res.Investigations, 1)
	assert.Equal(t, role.Set{role.Doctor}, res.Investigations[0].Finding)
	require.Len(t, res.Decisions, 1)
	assert.NotNil(t, res.Decisions[0].Broadcast)
}

func TestTallyPlurality(t *testing.T) {
	votes := []Vote{
		{VoterID: "p1", TargetID: "p3"},
		{VoterID: "p2", TargetID: "p3"},
		{VoterID: "p3", TargetID: "p1"},
		{VoterID: "p4", TargetID: Abstain},
		{VoterID: "p5", TargetID: "p1", SupersededBy: 9},
		{VoterID: "p5", TargetID: "p3"},
	}
	res := Tally(votes, TieBreakSeeded, 1, 2)
	assert.Equal(t, "p3", res.Eliminated)
	assert.False(t, res.Tie)
	assert.Equal(t, map[string]int{"p3": 3, "p1": 1}, res.Distribution)
	assert.Equal(t, 1, res.Abstentions)
}

func TestTallyTieIsSeededAndOrderIndependent(t *testing.T) {
	var votes []Vote
	for i := 1; i <= 8; i++ {
		target := "p9"
		if i > 4 {
			target = "p10"
		}
		votes = append(votes, Vote{VoterID: "v" + string(rune('0'+i)), TargetID: target})
	}
	reversed := make([]Vote, len(votes))
	for i, v := range votes {
		reversed[len(votes)-1-i] = v
	}

	res := Tally(votes, TieBreakSeeded, 7, 1)
	assert.True(t, res.Tie)
	assert.Equal(t, []string{"p10", "p9"}, res.Tied)
	assert.Contains(t, res.Tied, res.Eliminated)
	assert.Equal(t, res, Tally(reversed, TieBreakSeeded, 7, 1))

	none := Tally(votes, TieNoElimination, 7, 1)
	assert.True(t, none.Tie)
	assert.Empty(t, none.Eliminated)
}

func TestTallyAllAbstain(t *testing.T) {
	res := Tally([]Vote{{VoterID: "p1", TargetID: Abstain}, {VoterID: "p2", TargetID: Abstain}}, TieBreakSeeded, 1, 1)
	assert.Empty(t, res.Eliminated)
	assert.False(t, res.Tie)
	assert.Equal(t, 2, res.Abstentions)
}

func TestLaterVoteSupersedesEarlier(t *testing.T) {
	g := newTestGame(t, table(3, "MAFIA", "DOCTOR", "VILLAGER", "VILLAGER", "VILLAGER"), nil)
	s := g.State()
	s.Phase = PhaseVoting

	aerr := s.checkVote("p3", "p3")
	require.NotNil(t, aerr)
	assert.Equal(t, CodeInvalidTarget, aerr.Code)
	s.Rules.AllowSelfVote = true
	assert.Nil(t, s.checkVote("p3", "p3"))

	cast := func(voter, target string) {
		payload, err := json.Marshal(Vote{VoterID: voter, TargetID: target})
		require.NoError(t, err)
		require.NoError(t, s.Apply(events.GameEvent{
			GameID:     s.GameID,
			Sequence:   s.LastSequence + 1,
			Type:       events.EventTypeVoteCast,
			ActorID:    voter,
			Visibility: events.VisibilityPublic,
			Payload:    payload,
		}))
	}
	cast("p3", "p1")
	first := s.LastSequence
	cast("p3", "p2")

	require.Len(t, s.Votes, 2)
	assert.Equal(t, s.LastSequence, s.Votes[0].SupersededBy)
	assert.Equal(t, first, s.Votes[0].Sequence)
	assert.True(t, s.Votes[1].Active())
	assert.Equal(t, "p2", s.Votes[1].TargetID)
}
