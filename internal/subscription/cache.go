// Package subscription tracks which central servers an agent belongs to and
// which channel ids are currently valid for it, mirroring control plane
// state and reacting to membership-change events.
package subscription

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Plane is the subset of the bridge the cache needs
type Plane interface {
	GetAgentServers(ctx context.Context, agentID string) ([]string, error)
	GetServerChannels(ctx context.Context, serverID string) ([]string, error)
}

// Cache holds the agent's current fabric subscriptions
type Cache struct {
	agentID string
	plane   Plane
	logger  zerolog.Logger

	mu       sync.RWMutex
	servers  map[string]bool
	channels map[string]bool
}

// New creates an empty subscription cache
func New(agentID string, plane Plane, logger zerolog.Logger) *Cache {
	return &Cache{
		agentID:  agentID,
		plane:    plane,
		logger:   logger,
		servers:  make(map[string]bool),
		channels: make(map[string]bool),
	}
}

// Refresh reloads the full membership picture from the control plane
func (c *Cache) Refresh(ctx context.Context) error {
	serverIDs, err := c.plane.GetAgentServers(ctx, c.agentID)
	if err != nil {
		return fmt.Errorf("failed to fetch agent servers: %w", err)
	}

	servers := make(map[string]bool, len(serverIDs))
	channels := make(map[string]bool)

	for _, serverID := range serverIDs {
		servers[serverID] = true

		channelIDs, err := c.plane.GetServerChannels(ctx, serverID)
		if err != nil {
			// A stale channel list only widens the validity set; the
			// participant check still gates processing.
			c.logger.Warn().Err(err).Str("server_id", serverID).Msg("Channel list refresh failed")
			continue
		}
		for _, channelID := range channelIDs {
			channels[channelID] = true
		}
	}

	c.mu.Lock()
	c.servers = servers
	c.channels = channels
	c.mu.Unlock()

	c.logger.Debug().
		Int("servers", len(servers)).
		Int("channels", len(channels)).
		Msg("Subscriptions refreshed")

	return nil
}

// ApplyMembershipChange updates the cache for a single join/leave event
func (c *Cache) ApplyMembershipChange(ctx context.Context, serverID string, joined bool) {
	if !joined {
		c.mu.Lock()
		delete(c.servers, serverID)
		c.mu.Unlock()

		// Channel validity for the departed server can only be restored
		// by a full refresh; drop everything we cannot attribute.
		if err := c.Refresh(ctx); err != nil {
			c.logger.Warn().Err(err).Str("server_id", serverID).Msg("Refresh after leave failed")
		}
		return
	}

	channelIDs, err := c.plane.GetServerChannels(ctx, serverID)
	if err != nil {
		c.logger.Warn().Err(err).Str("server_id", serverID).Msg("Channel list fetch failed on join")
	}

	c.mu.Lock()
	c.servers[serverID] = true
	for _, channelID := range channelIDs {
		c.channels[channelID] = true
	}
	c.mu.Unlock()

	c.logger.Info().Str("server_id", serverID).Msg("Joined message server")
}

// HasServer reports whether the agent is subscribed to the server
func (c *Cache) HasServer(serverID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.servers[serverID]
}

// HasChannel reports whether the channel id is currently valid
func (c *Cache) HasChannel(channelID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels[channelID]
}

// ServerCount returns the number of subscribed servers
func (c *Cache) ServerCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.servers)
}
