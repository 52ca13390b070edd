package store

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/DoyleJ11/inhouse-matchmaker/internal/player"
)

type storedMatch struct {
	rec     MatchRecord
	outcome *Outcome
}

// Memory is the store used when no database is configured.
type Memory struct {
	mu      sync.Mutex
	matches map[string]storedMatch
	ratings map[string]player.Rating
	reports map[string]Report
}

func NewMemory() *Memory {
	return &Memory{
		matches: make(map[string]storedMatch),
		ratings: make(map[string]player.Rating),
		reports: make(map[string]Report),
	}
}

func (m *Memory) SaveMatch(_ context.Context, rec MatchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.TeamA = slices.Clone(rec.TeamA)
	rec.TeamB = slices.Clone(rec.TeamB)
	prev := m.matches[rec.ID]
	m.matches[rec.ID] = storedMatch{rec: rec, outcome: prev.outcome}
	return nil
}

func (m *Memory) UpdateOutcome(_ context.Context, matchID string, outcome Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sm, ok := m.matches[matchID]
	if !ok {
		return ErrNotFound
	}
	sm.outcome = &outcome
	m.matches[matchID] = sm
	return nil
}

func (m *Memory) SavePlayerRating(_ context.Context, playerID string, rating player.Rating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ratings[playerID] = rating
	return nil
}

func (m *Memory) LoadPlayers(_ context.Context) ([]player.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]player.Player, 0, len(m.ratings))
	for id, rt := range m.ratings {
		out = append(out, player.Player{ID: id, Rating: rt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveReport(_ context.Context, r Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[r.ID]; ok {
		return ErrDuplicateReport
	}
	m.reports[r.ID] = r
	return nil
}

func (m *Memory) ListReports(_ context.Context) ([]Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Report, 0, len(m.reports))
	for _, r := range m.reports {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Match returns what was stored for a match, for callers that inspect history.
func (m *Memory) Match(id string) (MatchRecord, *Outcome, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sm, ok := m.matches[id]
	return sm.rec, sm.outcome, ok
}
