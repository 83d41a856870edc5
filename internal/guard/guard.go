// Package guard implements the per-room response guard: the latest message
// accepted for a room holds the room's token, and any earlier in-flight run
// whose token no longer matches must suppress its output. Tokens are never
// persisted; work in flight at restart is simply unguarded, not resumed.
package guard

import (
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Guard tracks the latest response token per room
type Guard struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// New creates an empty response guard
func New() *Guard {
	return &Guard{
		tokens: make(map[string]string),
	}
}

// Begin assigns a fresh token to the room, superseding any prior token,
// and returns it.
func (g *Guard) Begin(roomID string) string {
	token := gonanoid.Must()

	g.mu.Lock()
	g.tokens[roomID] = token
	g.mu.Unlock()

	return token
}

// IsCurrent reports whether token is still the room's latest token.
func (g *Guard) IsCurrent(roomID, token string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return token != "" && g.tokens[roomID] == token
}

// Finish releases the room's token if it is still held by this task. A
// superseded task's Finish is a no-op.
func (g *Guard) Finish(roomID, token string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tokens[roomID] == token {
		delete(g.tokens, roomID)
	}
}

// Len returns the number of rooms with an active token
func (g *Guard) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.tokens)
}
