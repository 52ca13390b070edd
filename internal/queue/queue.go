package queue

import (
	"errors"
	"slices"
	"sync"
)

var ErrAlreadyQueued = errors.New("player already queued")
var ErrNotQueued = errors.New("player not queued")
var ErrInsufficientPlayers = errors.New("not enough players queued")

// Queue is the FIFO of players waiting for a match. Membership is unique.
type Queue struct {
	mu      sync.Mutex
	order   []string
	members map[string]struct{}
}

func New() *Queue {
	return &Queue{members: make(map[string]struct{})}
}

func (q *Queue) Join(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.members[id]; ok {
		return ErrAlreadyQueued
	}
	q.members[id] = struct{}{}
	q.order = append(q.order, id)
	return nil
}

func (q *Queue) Leave(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.members[id]; !ok {
		return ErrNotQueued
	}
	delete(q.members, id)
	q.order = slices.DeleteFunc(q.order, func(s string) bool { return s == id })
	return nil
}

// DrawRoster removes and returns the first n players, or nothing at all.
func (q *Queue) DrawRoster(n int) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n <= 0 || len(q.order) < n {
		return nil, ErrInsufficientPlayers
	}
	drawn := slices.Clone(q.order[:n])
	q.order = slices.Clone(q.order[n:])
	for _, id := range drawn {
		delete(q.members, id)
	}
	return drawn, nil
}

// Requeue puts players back at the head of the queue in the given order.
// Players already queued keep their place.
func (q *Queue) Requeue(ids ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	front := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := q.members[id]; ok {
			continue
		}
		q.members[id] = struct{}{}
		front = append(front, id)
	}
	q.order = append(front, q.order...)
}

func (q *Queue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.members[id]
	return ok
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

func (q *Queue) Snapshot() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.order)
}
