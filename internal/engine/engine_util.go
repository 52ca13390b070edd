package engine

import (
	"time"

	"github.com/DoyleJ11/inhouse-matchmaker/internal/balance"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/player"
)

func NewMatch(id string, roster []player.Player, rules Rules, now time.Time) Match {
	return Match{
		ID:            id,
		Roster:        roster,
		Rules:         rules,
		CreatedAt:     now,
		LobbyDeadline: now.Add(rules.LobbyDelay),
		State:         Forming{},
	}
}

func (m Match) Terminal() bool {
	switch m.State.(type) {
	case Resolved, Cancelled:
		return true
	}
	return false
}

// Teams is empty unless the match is Active, AwaitingResult, OnHold or Resolved.
func (m Match) Teams() balance.Teams {
	switch st := m.State.(type) {
	case Active:
		return st.Teams
	case AwaitingResult:
		return st.Teams
	case OnHold:
		return st.Teams
	case Resolved:
		return st.Teams
	}
	return balance.Teams{}
}

func (m Match) Winner() (balance.Team, bool) {
	if st, ok := m.State.(Resolved); ok {
		return st.Winner, true
	}
	return "", false
}

func (m Match) CancelReason() (Reason, bool) {
	if st, ok := m.State.(Cancelled); ok {
		return st.Reason, true
	}
	return "", false
}

func (m Match) RosterIDs() []string {
	return player.IDs(m.Roster)
}

func ContainsEffect(effects []Effect, t EffectType) bool {
	for _, e := range effects {
		if e.Type == t {
			return true
		}
	}
	return false
}
