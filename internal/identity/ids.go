// Package identity derives the local identifiers an agent uses for its
// mirrors of central fabric objects. The same central id always maps to the
// same local id for a given agent, across restarts.
package identity

import (
	"github.com/google/uuid"
)

// fabricNamespace is the root UUID namespace for all derived identifiers.
// Changing it would orphan every existing mirror, so it never changes.
var fabricNamespace = uuid.MustParse("b1f2640e-7c9a-4f63-9ec8-22d1a25c8a11")

// AgentNamespace returns the per-agent UUID namespace
func AgentNamespace(agentID string) uuid.UUID {
	return uuid.NewSHA1(fabricNamespace, []byte(agentID))
}

// WorldID derives the local world id that mirrors a central server
func WorldID(agentID, serverID string) string {
	return uuid.NewSHA1(AgentNamespace(agentID), []byte("world:"+serverID)).String()
}

// RoomID derives the local room id that mirrors a central channel
func RoomID(agentID, channelID string) string {
	return uuid.NewSHA1(AgentNamespace(agentID), []byte("room:"+channelID)).String()
}

// EntityID derives the local entity id that mirrors a message author
func EntityID(agentID, authorID string) string {
	return uuid.NewSHA1(AgentNamespace(agentID), []byte("entity:"+authorID)).String()
}

// DedupKey derives the at-most-once delivery key for a central message.
// It is a pure function of its inputs.
func DedupKey(messageID, agentID string) string {
	return uuid.NewSHA1(AgentNamespace(agentID), []byte("msg:"+messageID)).String()
}
