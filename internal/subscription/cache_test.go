package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePlane is a scripted Plane
type fakePlane struct {
	mu       sync.Mutex
	servers  map[string][]string // agentID -> servers
	channels map[string][]string // serverID -> channels
	fail     bool
}

func (f *fakePlane) GetAgentServers(_ context.Context, agentID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("plane unavailable")
	}
	return f.servers[agentID], nil
}

func (f *fakePlane) GetServerChannels(_ context.Context, serverID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("plane unavailable")
	}
	return f.channels[serverID], nil
}

func TestRefresh(t *testing.T) {
	plane := &fakePlane{
		servers:  map[string][]string{"a1": {"s1", "s2"}},
		channels: map[string][]string{"s1": {"c1"}, "s2": {"c2", "c3"}},
	}
	cache := New("a1", plane, zerolog.Nop())

	require.NoError(t, cache.Refresh(context.Background()))

	assert.True(t, cache.HasServer("s1"))
	assert.True(t, cache.HasServer("s2"))
	assert.False(t, cache.HasServer("s3"))
	assert.True(t, cache.HasChannel("c1"))
	assert.True(t, cache.HasChannel("c3"))
	assert.False(t, cache.HasChannel("c9"))
	assert.Equal(t, 2, cache.ServerCount())
}

func TestRefresh_PlaneFailure(t *testing.T) {
	plane := &fakePlane{fail: true}
	cache := New("a1", plane, zerolog.Nop())

	require.Error(t, cache.Refresh(context.Background()))
	assert.Equal(t, 0, cache.ServerCount())
}

func TestApplyMembershipChange_Join(t *testing.T) {
	plane := &fakePlane{
		servers:  map[string][]string{"a1": {}},
		channels: map[string][]string{"s1": {"c1", "c2"}},
	}
	cache := New("a1", plane, zerolog.Nop())

	cache.ApplyMembershipChange(context.Background(), "s1", true)

	assert.True(t, cache.HasServer("s1"))
	assert.True(t, cache.HasChannel("c1"))
	assert.True(t, cache.HasChannel("c2"))
}

func TestApplyMembershipChange_LeaveDropsServerAndChannels(t *testing.T) {
	plane := &fakePlane{
		servers:  map[string][]string{"a1": {"s1", "s2"}},
		channels: map[string][]string{"s1": {"c1"}, "s2": {"c2"}},
	}
	cache := New("a1", plane, zerolog.Nop())
	require.NoError(t, cache.Refresh(context.Background()))

	// Control plane no longer lists s1 for this agent.
	plane.mu.Lock()
	plane.servers["a1"] = []string{"s2"}
	plane.mu.Unlock()

	cache.ApplyMembershipChange(context.Background(), "s1", false)

	assert.False(t, cache.HasServer("s1"))
	assert.True(t, cache.HasServer("s2"))
	assert.False(t, cache.HasChannel("c1"))
	assert.True(t, cache.HasChannel("c2"))
}
