package balance

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/inhouse-matchmaker/internal/player"
)

func rated(id string, mu float64) player.Player {
	return player.Player{ID: id, Rating: player.Rating{Mu: mu, Sigma: 333}}
}

func scenarioRoster() []player.Player {
	return []player.Player{
		rated("p4", 900), rated("p1", 1200), rated("p6", 700),
		rated("p3", 1000), rated("p5", 800), rated("p2", 1100),
	}
}

func TestSplit_Scenario(t *testing.T) {
	teams, diff, err := Split(scenarioRoster())
	require.NoError(t, err)

	assert.Equal(t, []string{"p1", "p3", "p5"}, player.IDs(teams.A))
	assert.Equal(t, []string{"p2", "p4", "p6"}, player.IDs(teams.B))
	assert.Equal(t, 3000.0, Sum(teams.A))
	assert.Equal(t, 2700.0, Sum(teams.B))
	assert.Equal(t, 300.0, diff)
}

func TestSplit_RosterTooSmall(t *testing.T) {
	cases := []struct {
		name   string
		roster []player.Player
	}{
		{name: "empty", roster: nil},
		{name: "single", roster: []player.Player{rated("solo", 1000)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Split(tc.roster)
			require.ErrorIs(t, err, ErrRosterTooSmall)
		})
	}
}

func TestSplit_EvenRostersPartitionEqually(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for size := 2; size <= 12; size += 2 {
		roster := make([]player.Player, size)
		for i := range roster {
			roster[i] = rated(fmt.Sprintf("p%02d", i), float64(500+rng.Intn(1500)))
		}

		teams, _, err := Split(roster)
		require.NoError(t, err)
		require.Len(t, teams.A, size/2)
		require.Len(t, teams.B, size/2)

		seen := map[string]bool{}
		for _, p := range append(append([]player.Player{}, teams.A...), teams.B...) {
			require.False(t, seen[p.ID], "player %s on both teams", p.ID)
			seen[p.ID] = true
		}
		require.Len(t, seen, size)
	}
}

func TestSplit_OddRosterDiffersByOne(t *testing.T) {
	roster := []player.Player{rated("a", 1000), rated("b", 1100), rated("c", 900)}
	teams, diff, err := Split(roster)
	require.NoError(t, err)
	assert.Len(t, teams.A, 2)
	assert.Len(t, teams.B, 1)
	assert.Equal(t, 1000.0, diff)
}

func TestSplit_Deterministic(t *testing.T) {
	roster := []player.Player{
		rated("x", 1000), rated("y", 1000), rated("z", 1000), rated("w", 1000),
	}
	first, d1, err := Split(roster)
	require.NoError(t, err)

	shuffled := []player.Player{roster[2], roster[0], roster[3], roster[1]}
	for i := 0; i < 5; i++ {
		again, d2, err := Split(shuffled)
		require.NoError(t, err)
		assert.Equal(t, first, again)
		assert.Equal(t, d1, d2)
	}
	assert.Equal(t, []string{"w", "y"}, player.IDs(first.A))
}

func TestTeams_TeamOf(t *testing.T) {
	teams, _, err := Split(scenarioRoster())
	require.NoError(t, err)

	team, ok := teams.TeamOf("p4")
	require.True(t, ok)
	assert.Equal(t, TeamB, team)
	assert.Equal(t, TeamA, team.Other())

	_, ok = teams.TeamOf("ghost")
	assert.False(t, ok)
}
