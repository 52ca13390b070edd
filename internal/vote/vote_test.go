package vote

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/inhouse-matchmaker/internal/balance"
)

var roster = []string{"p1", "p2", "p3", "p4", "p5", "p6"}

func newCollector(t *testing.T, quorum int) (*Collector, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	c := New(Config{
		Eligible: roster,
		Quorum:   quorum,
		Deadline: clk.Now().Add(10 * time.Minute),
		Clock:    clk,
	})
	return c, clk
}

func TestStrictMajority(t *testing.T) {
	cases := []struct{ n, want int }{{6, 4}, {5, 3}, {2, 2}, {1, 1}}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StrictMajority(tc.n), "n=%d", tc.n)
	}
}

func TestCollector_DuplicateVoteCountsFirstOnly(t *testing.T) {
	c, _ := newCollector(t, 0)

	require.NoError(t, c.Record("p1", balance.TeamA))
	err := c.Record("p1", balance.TeamB)
	require.ErrorIs(t, err, ErrDuplicateVote)

	assert.Equal(t, Tally{A: 1, B: 0}, c.Tally())
}

func TestCollector_DecidedExactlyAtQuorum(t *testing.T) {
	c, _ := newCollector(t, 0)
	require.Equal(t, 4, c.Quorum())

	for i, id := range []string{"p1", "p2", "p3"} {
		require.NoError(t, c.Record(id, balance.TeamA))
		assert.False(t, c.IsDecided(), "decided too early after %d votes", i+1)
	}
	require.NoError(t, c.Record("p4", balance.TeamB))
	assert.False(t, c.IsDecided())

	require.NoError(t, c.Record("p5", balance.TeamA))
	require.True(t, c.IsDecided())
	assert.Equal(t, Outcome{Status: StatusDecided, Winner: balance.TeamA}, c.Outcome())
}

func TestCollector_RejectsBadVotes(t *testing.T) {
	c, _ := newCollector(t, 0)

	cases := []struct {
		name    string
		player  string
		choice  balance.Team
		wantErr error
	}{
		{name: "unknown team", player: "p1", choice: "C", wantErr: ErrInvalidChoice},
		{name: "not on roster", player: "stranger", choice: balance.TeamA, wantErr: ErrNotEligible},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, c.Record(tc.player, tc.choice), tc.wantErr)
		})
	}
	assert.Equal(t, Tally{}, c.Tally())
}

func TestCollector_DeadlineWithoutQuorumIsUnresolved(t *testing.T) {
	c, clk := newCollector(t, 0)
	for _, id := range []string{"p1", "p2", "p3"} {
		require.NoError(t, c.Record(id, balance.TeamA))
	}
	assert.Equal(t, StatusPending, c.Outcome().Status)

	clk.Add(10 * time.Minute)

	assert.True(t, c.IsDecided())
	assert.Equal(t, Outcome{Status: StatusUnresolved}, c.Outcome())
	require.ErrorIs(t, c.Record("p4", balance.TeamA), ErrVotingClosed, "a vote at the deadline is not counted")
	assert.Equal(t, 3, c.Tally().A)
}

func TestCollector_VoteJustBeforeDeadlineCounts(t *testing.T) {
	c, clk := newCollector(t, 0)
	for _, id := range []string{"p1", "p2", "p3"} {
		require.NoError(t, c.Record(id, balance.TeamB))
	}
	clk.Add(10*time.Minute - time.Nanosecond)
	require.NoError(t, c.Record("p4", balance.TeamB))

	clk.Add(time.Nanosecond)
	assert.Equal(t, Outcome{Status: StatusDecided, Winner: balance.TeamB}, c.Outcome())
}

func TestCollector_NonStrictQuorumEarliestCompletionWins(t *testing.T) {
	c, clk := newCollector(t, 3)

	require.NoError(t, c.Record("p1", balance.TeamB))
	require.NoError(t, c.Record("p2", balance.TeamA))
	require.NoError(t, c.Record("p3", balance.TeamB))
	clk.Add(time.Second)
	require.NoError(t, c.Record("p4", balance.TeamB)) // B completes quorum first
	clk.Add(time.Second)
	require.NoError(t, c.Record("p5", balance.TeamA))
	require.NoError(t, c.Record("p6", balance.TeamA)) // A completes later

	assert.Equal(t, Tally{A: 3, B: 3}, c.Tally())
	assert.Equal(t, Outcome{Status: StatusDecided, Winner: balance.TeamB}, c.Outcome())
}

func TestCollector_NonStrictQuorumSameInstantUsesArrivalOrder(t *testing.T) {
	c, _ := newCollector(t, 3)

	for _, v := range []struct {
		id     string
		choice balance.Team
	}{
		{"p1", balance.TeamA}, {"p2", balance.TeamB}, {"p3", balance.TeamA},
		{"p4", balance.TeamB}, {"p5", balance.TeamA}, {"p6", balance.TeamB},
	} {
		require.NoError(t, c.Record(v.id, v.choice))
	}
	assert.Equal(t, balance.TeamA, c.Outcome().Winner)
}

func TestCollector_CloseRejectsVotes(t *testing.T) {
	c, _ := newCollector(t, 0)
	c.Close()
	require.ErrorIs(t, c.Record("p1", balance.TeamA), ErrVotingClosed)
	assert.False(t, c.IsDecided())
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	clk := clock.NewMock()
	voters := make([]string, 100)
	for i := range voters {
		voters[i] = fmt.Sprintf("v%d", i)
	}
	c := New(Config{Eligible: voters, Deadline: clk.Now().Add(time.Hour), Clock: clk})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for _, id := range voters {
		for n := 0; n < 3; n++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				if c.Record(id, balance.TeamA) == nil {
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			}(id)
		}
	}
	wg.Wait()

	assert.Equal(t, 100, accepted)
	assert.Equal(t, Tally{A: 100}, c.Tally())
	assert.Equal(t, balance.TeamA, c.Outcome().Winner)
}
