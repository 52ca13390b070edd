package vote

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/DoyleJ11/inhouse-matchmaker/internal/balance"
)

var ErrDuplicateVote = errors.New("player already voted")
var ErrNotEligible = errors.New("player is not on the match roster")
var ErrInvalidChoice = errors.New("vote must be for team A or team B")
var ErrVotingClosed = errors.New("voting is closed")

type Status string

const (
	StatusPending    Status = "pending"
	StatusDecided    Status = "decided"
	StatusUnresolved Status = "unresolved"
)

type Outcome struct {
	Status Status
	Winner balance.Team
}

type Tally struct {
	A int `json:"a"`
	B int `json:"b"`
}

// StrictMajority is the smallest count more than half of n voters can reach.
func StrictMajority(n int) int { return n/2 + 1 }

type Config struct {
	Eligible []string
	// Quorum <= 0 means a strict majority of Eligible.
	Quorum   int
	Deadline time.Time
	Clock    clock.Clock
}

type ballot struct {
	choice balance.Team
	at     time.Time
	seq    uint64
}

// Collector gathers one match's result votes. Every method takes the same
// lock, so a vote racing the deadline is either counted or rejected, never
// both.
type Collector struct {
	mu       sync.Mutex
	clk      clock.Clock
	eligible map[string]struct{}
	quorum   int
	deadline time.Time
	closed   bool
	seq      uint64
	votes    map[string]ballot
	tally    map[balance.Team]int
	// reached holds the vote that brought each side to quorum.
	reached map[balance.Team]ballot
}

func New(cfg Config) *Collector {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	quorum := cfg.Quorum
	if quorum <= 0 {
		quorum = StrictMajority(len(cfg.Eligible))
	}
	eligible := make(map[string]struct{}, len(cfg.Eligible))
	for _, id := range cfg.Eligible {
		eligible[id] = struct{}{}
	}
	return &Collector{
		clk:      clk,
		eligible: eligible,
		quorum:   quorum,
		deadline: cfg.Deadline,
		votes:    make(map[string]ballot),
		tally:    make(map[balance.Team]int),
		reached:  make(map[balance.Team]ballot),
	}
}

func (c *Collector) Record(playerID string, choice balance.Team) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !choice.Valid() {
		return ErrInvalidChoice
	}
	now := c.clk.Now()
	if c.closed || c.expired(now) {
		return ErrVotingClosed
	}
	if _, ok := c.eligible[playerID]; !ok {
		return ErrNotEligible
	}
	if _, ok := c.votes[playerID]; ok {
		return ErrDuplicateVote
	}

	c.seq++
	b := ballot{choice: choice, at: now, seq: c.seq}
	c.votes[playerID] = b
	c.tally[choice]++
	if c.tally[choice] == c.quorum {
		c.reached[choice] = b
	}
	return nil
}

func (c *Collector) IsDecided() bool {
	return c.Outcome().Status != StatusPending
}

func (c *Collector) Outcome() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	if w, ok := c.earliestQuorum(); ok {
		return Outcome{Status: StatusDecided, Winner: w}
	}
	if c.expired(c.clk.Now()) {
		return Outcome{Status: StatusUnresolved}
	}
	return Outcome{Status: StatusPending}
}

// Close stops accepting votes without deciding anything.
func (c *Collector) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Collector) Tally() Tally {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Tally{A: c.tally[balance.TeamA], B: c.tally[balance.TeamB]}
}

func (c *Collector) Quorum() int { return c.quorum }

func (c *Collector) Deadline() time.Time { return c.deadline }

func (c *Collector) expired(now time.Time) bool {
	return !c.deadline.IsZero() && !now.Before(c.deadline)
}

// earliestQuorum only matters for quorums at or below half the roster, where
// both sides can get there.
func (c *Collector) earliestQuorum() (balance.Team, bool) {
	a, okA := c.reached[balance.TeamA]
	b, okB := c.reached[balance.TeamB]
	switch {
	case okA && okB:
		if b.at.Before(a.at) || (b.at.Equal(a.at) && b.seq < a.seq) {
			return balance.TeamB, true
		}
		return balance.TeamA, true
	case okA:
		return balance.TeamA, true
	case okB:
		return balance.TeamB, true
	}
	return "", false
}
