// Package rating computes post-match skill ratings.
//
// The lifecycle engine only depends on Algorithm; TrueSkill is the default
// implementation and is parameterized through Config.
package rating

import (
	"errors"
	"math"
	"slices"

	"github.com/DoyleJ11/inhouse-matchmaker/internal/balance"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/player"
)

var ErrEmptyTeam = errors.New("both teams need at least one player")
var ErrUnknownWinner = errors.New("winner must be team A or team B")

// Algorithm returns the new rating of every player on both teams. It must be
// pure and must not depend on the order of players within a team.
type Algorithm interface {
	Update(teamA, teamB []player.Player, winner balance.Team) (map[string]player.Rating, error)
}

type Config struct {
	Mu              float64
	Sigma           float64
	Beta            float64
	Tau             float64
	DrawProbability float64
}

// DefaultConfig scales the usual TrueSkill constants (25, 25/3, ...) to the
// given starting mean.
func DefaultConfig(mu float64) Config {
	return Config{
		Mu:              mu,
		Sigma:           mu / 3,
		Beta:            mu / 6,
		Tau:             mu / 300,
		DrawProbability: 0.10,
	}
}

func (c Config) Initial() player.Rating {
	return player.Rating{Mu: c.Mu, Sigma: c.Sigma}
}

type TrueSkill struct {
	cfg Config
}

func NewTrueSkill(cfg Config) TrueSkill {
	return TrueSkill{cfg: cfg}
}

func (ts TrueSkill) Update(teamA, teamB []player.Player, winner balance.Team) (map[string]player.Rating, error) {
	if len(teamA) == 0 || len(teamB) == 0 {
		return nil, ErrEmptyTeam
	}
	if !winner.Valid() {
		return nil, ErrUnknownWinner
	}

	winners, losers := teamA, teamB
	if winner == balance.TeamB {
		winners, losers = teamB, teamA
	}

	tau2 := ts.cfg.Tau * ts.cfg.Tau
	beta2 := ts.cfg.Beta * ts.cfg.Beta
	all := append(slices.Clone(winners), losers...)

	c2 := sortedSum(all, func(p player.Player) float64 {
		return p.Rating.Sigma*p.Rating.Sigma + tau2 + beta2
	})
	c := math.Sqrt(c2)
	mean := func(p player.Player) float64 { return p.Rating.Mu }
	t := (sortedSum(winners, mean) - sortedSum(losers, mean)) / c
	eps := drawMargin(ts.cfg.DrawProbability, ts.cfg.Beta, len(all)) / c

	v := vExceeds(t, eps)
	w := wExceeds(t, eps)

	out := make(map[string]player.Rating, len(all))
	shift := func(p player.Player, sign float64) {
		s2 := p.Rating.Sigma*p.Rating.Sigma + tau2
		out[p.ID] = player.Rating{
			Mu:    p.Rating.Mu + sign*(s2/c)*v,
			Sigma: math.Sqrt(s2 * (1 - (s2/c2)*w)),
		}
	}
	for _, p := range winners {
		shift(p, 1)
	}
	for _, p := range losers {
		shift(p, -1)
	}
	return out, nil
}

// sortedSum adds values smallest first so the float result does not depend on
// the order players were listed in.
func sortedSum(players []player.Player, f func(player.Player) float64) float64 {
	vals := make([]float64, len(players))
	for i, p := range players {
		vals[i] = f(p)
	}
	slices.Sort(vals)
	var s float64
	for _, v := range vals {
		s += v
	}
	return s
}

func drawMargin(p, beta float64, n int) float64 {
	if p <= 0 {
		return 0
	}
	return invCDF((p+1)/2) * math.Sqrt(float64(n)) * beta
}

const tinyCDF = 2.222758749e-162

func pdf(x float64) float64 { return math.Exp(-x*x/2) / math.Sqrt(2*math.Pi) }

func cdf(x float64) float64 { return 0.5 * math.Erfc(-x/math.Sqrt2) }

func invCDF(p float64) float64 { return math.Sqrt2 * math.Erfinv(2*p-1) }

func vExceeds(t, eps float64) float64 {
	x := t - eps
	denom := cdf(x)
	if denom < tinyCDF {
		return -x
	}
	return pdf(x) / denom
}

func wExceeds(t, eps float64) float64 {
	x := t - eps
	if cdf(x) < tinyCDF {
		if x < 0 {
			return 1
		}
		return 0
	}
	v := vExceeds(t, eps)
	return v * (v + x)
}
