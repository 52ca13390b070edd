package player

import (
	"sync"
)

// Rating is a skill estimate. Mu is the value teams are balanced on; Sigma is
// how unsure the rating model still is about Mu.
type Rating struct {
	Mu    float64 `json:"mu"`
	Sigma float64 `json:"sigma"`
}

type Player struct {
	ID     string `json:"id"`
	Rating Rating `json:"rating"`
}

// Registry holds the current rating of every player the process has seen.
type Registry struct {
	mu       sync.RWMutex
	players  map[string]Rating
	defaults Rating
}

func NewRegistry(defaults Rating) *Registry {
	return &Registry{
		players:  make(map[string]Rating),
		defaults: defaults,
	}
}

// Seed loads known players, typically from the store at process start.
func (r *Registry) Seed(players []Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range players {
		r.players[p.ID] = p.Rating
	}
}

// Ensure returns the player, creating it with the default rating on first contact.
func (r *Registry) Ensure(id string) Player {
	r.mu.RLock()
	rt, ok := r.players[id]
	r.mu.RUnlock()
	if ok {
		return Player{ID: id, Rating: rt}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rt, ok := r.players[id]; ok {
		return Player{ID: id, Rating: rt}
	}
	r.players[id] = r.defaults
	return Player{ID: id, Rating: r.defaults}
}

func (r *Registry) Get(id string) (Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.players[id]
	return Player{ID: id, Rating: rt}, ok
}

// Lookup resolves ids in order, seeding unknown players.
func (r *Registry) Lookup(ids []string) []Player {
	out := make([]Player, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.Ensure(id))
	}
	return out
}

// Apply stores new ratings in one critical section.
func (r *Registry) Apply(ratings map[string]Rating) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rt := range ratings {
		r.players[id] = rt
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

func IDs(players []Player) []string {
	ids := make([]string, len(players))
	for i, p := range players {
		ids[i] = p.ID
	}
	return ids
}
