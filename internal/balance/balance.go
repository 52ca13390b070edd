package balance

import (
	"cmp"
	"errors"
	"math"
	"slices"

	"github.com/DoyleJ11/inhouse-matchmaker/internal/player"
)

var ErrRosterTooSmall = errors.New("roster needs at least two players")

type Team string

const (
	TeamA Team = "A"
	TeamB Team = "B"
)

func (t Team) Valid() bool { return t == TeamA || t == TeamB }

func (t Team) Other() Team {
	if t == TeamA {
		return TeamB
	}
	return TeamA
}

func ParseTeam(s string) (Team, bool) {
	switch s {
	case "A", "a", "team1", "1":
		return TeamA, true
	case "B", "b", "team2", "2":
		return TeamB, true
	default:
		return "", false
	}
}

type Teams struct {
	A []player.Player `json:"a"`
	B []player.Player `json:"b"`
}

func (t Teams) Empty() bool { return len(t.A) == 0 && len(t.B) == 0 }

func (t Teams) Of(team Team) []player.Player {
	if team == TeamA {
		return t.A
	}
	return t.B
}

// TeamOf reports which side a player is on.
func (t Teams) TeamOf(id string) (Team, bool) {
	for _, p := range t.A {
		if p.ID == id {
			return TeamA, true
		}
	}
	for _, p := range t.B {
		if p.ID == id {
			return TeamB, true
		}
	}
	return "", false
}

func Sum(players []player.Player) float64 {
	var s float64
	for _, p := range players {
		s += p.Rating.Mu
	}
	return s
}

// Split sorts the roster by rating, strongest first, and deals it out
// alternately: 0->A, 1->B, 2->A, ... It never searches for a better partition;
// whether diff is acceptable is the caller's decision.
func Split(roster []player.Player) (Teams, float64, error) {
	if len(roster) < 2 {
		return Teams{}, 0, ErrRosterTooSmall
	}

	sorted := slices.Clone(roster)
	slices.SortStableFunc(sorted, func(a, b player.Player) int {
		if c := cmp.Compare(b.Rating.Mu, a.Rating.Mu); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	var teams Teams
	for i, p := range sorted {
		if i%2 == 0 {
			teams.A = append(teams.A, p)
		} else {
			teams.B = append(teams.B, p)
		}
	}

	diff := math.Abs(Sum(teams.A) - Sum(teams.B))
	return teams, diff, nil
}
