package role

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSetCanonicalOrder(t *testing.T) {
	s := NewSet(Sheriff, Mafia, "sheriff", " mafia ")
	assert.Equal(t, Set{Mafia, Sheriff}, s)
	assert.Equal(t, "MAFIA+SHERIFF", s.String())
	assert.Equal(t, FactionMafia, s.Faction())
	assert.True(t, s.Multi())
	assert.Equal(t, []Ability{AbilityKill, AbilityInvestigate}, s.Abilities())

	assert.Equal(t, FactionTown, NewSet(Doctor).Faction())
	assert.True(t, ParseSet("SHERIFF+MAFIA").Equal(s))
}

func TestSetUnmarshalAcceptsScalarOrArray(t *testing.T) {
	var a, b Set
	require.NoError(t, json.Unmarshal([]byte(`"DOCTOR"`), &a))
	require.NoError(t, json.Unmarshal([]byte(`["SHERIFF","MAFIA"]`), &b))
	assert.Equal(t, Set{Doctor}, a)
	assert.Equal(t, Set{Mafia, Sheriff}, b)

	raw, err := json.Marshal(b)
	require.NoError(t, err)
	assert.JSONEq(t, `["MAFIA","SHERIFF"]`, string(raw))
}

func sets(specs ...string) []Set {
	out := make([]Set, len(specs))
	for i, s := range specs {
		out[i] = ParseSet(s)
	}
	return out
}

func TestValidateComposition(t *testing.T) {
	tests := []struct {
		name    string
		sets    []Set
		rules   StackingRules
		wantErr bool
	}{
		{"classic five", sets("MAFIA", "DOCTOR", "SHERIFF", "VILLAGER", "VILLAGER"), DefaultStackingRules(), false},
		{"too few players", sets("MAFIA", "VILLAGER"), DefaultStackingRules(), true},
		{"no mafia", sets("DOCTOR", "VILLAGER", "VILLAGER"), DefaultStackingRules(), true},
		{"mafia parity", sets("MAFIA", "MAFIA", "VILLAGER", "DOCTOR"), DefaultStackingRules(), true},
		{"unknown role", sets("MAFIA", "JESTER", "VILLAGER", "VILLAGER"), DefaultStackingRules(), true},
		{"empty seat", []Set{NewSet(Mafia), {}, NewSet(Villager), NewSet(Villager)}, DefaultStackingRules(), true},
		{"duplicate sheriff", sets("MAFIA", "SHERIFF", "SHERIFF", "VILLAGER", "VILLAGER"), DefaultStackingRules(), true},
		{"multi disabled", sets("MAFIA+SHERIFF", "MAFIA", "VILLAGER", "VILLAGER", "VILLAGER", "DOCTOR"), DefaultStackingRules(), true},
		{"multi enabled", sets("MAFIA+SHERIFF", "MAFIA", "VILLAGER", "VILLAGER", "VILLAGER", "DOCTOR"), MultiRoleRules(), false},
		{"every mafia special", sets("MAFIA+SHERIFF", "VILLAGER", "VILLAGER", "DOCTOR"), MultiRoleRules(), true},
		{"villager stacked", sets("MAFIA", "VILLAGER+DOCTOR", "VILLAGER", "VILLAGER"), MultiRoleRules(), true},
		{"over role limit", sets("MAFIA+SHERIFF+DOCTOR", "MAFIA", "VILLAGER", "VILLAGER", "VILLAGER"), MultiRoleRules(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateComposition(tt.sets, tt.rules)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidComposition))
			var ce *CompositionError
			assert.True(t, errors.As(err, &ce))
		})
	}
}

func TestInvestigateIsTruthfulAndBroadcastForMafiaSheriff(t *testing.T) {
	r := NewResolver()

	town := r.Investigate("p3", NewSet(Sheriff), "p1", NewSet(Mafia))
	assert.Equal(t, Set{Mafia}, town.Finding)
	assert.Empty(t, town.Addendum)
	assert.Nil(t, town.Broadcast)

	d := r.Investigate("p1", NewSet(Mafia, Sheriff), "p2", NewSet(Doctor))
	assert.Equal(t, Set{Doctor}, d.Finding)
	assert.Contains(t, d.Addendum, "recorded truthfully")
	assert.Contains(t, d.Addendum, "DOCTOR")
	require.NotNil(t, d.Broadcast)
	assert.Equal(t, FactionMafia, d.Broadcast.Team)
	assert.Equal(t, Set{Doctor}, d.Broadcast.Finding)
	assert.Equal(t, "p2", d.Broadcast.Target)
}

func TestProtectAndShootConflicts(t *testing.T) {
	r := NewResolver()

	plain := r.Protect("d", NewSet(Doctor), "x", NewSet(Villager))
	assert.Nil(t, plain.Broadcast)

	mixed := r.Protect("d", NewSet(Mafia, Doctor), "x", NewSet(Villager))
	require.NotNil(t, mixed.Broadcast)
	assert.Equal(t, AbilityProtect, mixed.Broadcast.Ability)

	shot := r.Shoot("v", NewSet(Mafia, Vigilante), "m2", NewSet(Mafia))
	assert.Contains(t, shot.Addendum, "own teammate")
	require.NotNil(t, shot.Broadcast)
}

func TestBriefing(t *testing.T) {
	r := NewResolver()
	assert.Empty(t, r.Briefing(NewSet(Villager)))
	assert.Contains(t, r.Briefing(NewSet(Mafia, Sheriff)), "SHERIFF")
}
