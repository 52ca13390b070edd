package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/DoyleJ11/inhouse-matchmaker/internal/balance"
)

var ErrSessionExists = errors.New("voice session already provisioned")

// Handle identifies one provisioned team channel.
type Handle struct {
	ID      string       `json:"id"`
	MatchID string       `json:"match_id"`
	Team    balance.Team `json:"team"`
}

type Provisioner interface {
	ProvisionTeamResource(ctx context.Context, matchID string, team balance.Team) (Handle, error)
	// ReleaseResource succeeds when the resource is already gone.
	ReleaseResource(ctx context.Context, h Handle) error
}

// RedisProvisioner records each team channel as a key with a TTL, so channels
// for a crashed process expire on their own.
type RedisProvisioner struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisProvisioner(client *redis.Client, prefix string, ttl time.Duration) *RedisProvisioner {
	return &RedisProvisioner{client: client, prefix: prefix, ttl: ttl}
}

func (p *RedisProvisioner) Key(matchID string, team balance.Team) string {
	return fmt.Sprintf("%svoice:%s:%s", p.prefix, matchID, team)
}

func (p *RedisProvisioner) ProvisionTeamResource(ctx context.Context, matchID string, team balance.Team) (Handle, error) {
	h := Handle{ID: uuid.NewString(), MatchID: matchID, Team: team}
	data, err := json.Marshal(h)
	if err != nil {
		return Handle{}, fmt.Errorf("encode voice handle: %w", err)
	}
	ok, err := p.client.SetNX(ctx, p.Key(matchID, team), data, p.ttl).Result()
	if err != nil {
		return Handle{}, fmt.Errorf("provision voice %s/%s: %w", matchID, team, err)
	}
	if !ok {
		return Handle{}, ErrSessionExists
	}
	return h, nil
}

func (p *RedisProvisioner) ReleaseResource(ctx context.Context, h Handle) error {
	if err := p.client.Del(ctx, p.Key(h.MatchID, h.Team)).Err(); err != nil {
		return fmt.Errorf("release voice %s/%s: %w", h.MatchID, h.Team, err)
	}
	return nil
}

type MemoryProvisioner struct {
	mu       sync.Mutex
	sessions map[string]Handle
}

func NewMemoryProvisioner() *MemoryProvisioner {
	return &MemoryProvisioner{sessions: make(map[string]Handle)}
}

func (p *MemoryProvisioner) ProvisionTeamResource(_ context.Context, matchID string, team balance.Team) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := matchID + ":" + string(team)
	if _, ok := p.sessions[key]; ok {
		return Handle{}, ErrSessionExists
	}
	h := Handle{ID: uuid.NewString(), MatchID: matchID, Team: team}
	p.sessions[key] = h
	return h, nil
}

func (p *MemoryProvisioner) ReleaseResource(_ context.Context, h Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, h.MatchID+":"+string(h.Team))
	return nil
}

// Active lists the live sessions ordered by match then team.
func (p *MemoryProvisioner) Active() []Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Handle, 0, len(p.sessions))
	for _, h := range p.sessions {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MatchID != out[j].MatchID {
			return out[i].MatchID < out[j].MatchID
		}
		return out[i].Team < out[j].Team
	})
	return out
}
