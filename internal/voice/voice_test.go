package voice

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/inhouse-matchmaker/internal/balance"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *RedisProvisioner) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return s, NewRedisProvisioner(client, "mm:", time.Hour)
}

func TestRedisProvisioner_Lifecycle(t *testing.T) {
	s, p := newRedis(t)
	ctx := context.Background()

	a, err := p.ProvisionTeamResource(ctx, "m1", balance.TeamA)
	require.NoError(t, err)
	b, err := p.ProvisionTeamResource(ctx, "m1", balance.TeamB)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	require.True(t, s.Exists("mm:voice:m1:A"))
	assert.Equal(t, time.Hour, s.TTL("mm:voice:m1:A"))

	_, err = p.ProvisionTeamResource(ctx, "m1", balance.TeamA)
	require.ErrorIs(t, err, ErrSessionExists)

	require.NoError(t, p.ReleaseResource(ctx, a))
	require.NoError(t, p.ReleaseResource(ctx, a), "releasing twice is fine")
	assert.False(t, s.Exists("mm:voice:m1:A"))
	assert.True(t, s.Exists("mm:voice:m1:B"))
}

func TestRedisProvisioner_SessionsExpire(t *testing.T) {
	s, p := newRedis(t)
	_, err := p.ProvisionTeamResource(context.Background(), "m2", balance.TeamA)
	require.NoError(t, err)

	s.FastForward(time.Hour)
	assert.False(t, s.Exists("mm:voice:m2:A"))
}

func TestMemoryProvisioner(t *testing.T) {
	p := NewMemoryProvisioner()
	ctx := context.Background()

	h, err := p.ProvisionTeamResource(ctx, "m1", balance.TeamB)
	require.NoError(t, err)
	_, err = p.ProvisionTeamResource(ctx, "m1", balance.TeamA)
	require.NoError(t, err)

	active := p.Active()
	require.Len(t, active, 2)
	assert.Equal(t, balance.TeamA, active[0].Team)

	require.NoError(t, p.ReleaseResource(ctx, h))
	assert.Len(t, p.Active(), 1)
}
