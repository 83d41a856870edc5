package store

import (
	"context"
	"sort"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// MemStore is an in-memory Store for tests and ephemeral runs
type MemStore struct {
	mu       sync.RWMutex
	worlds   map[string]World
	rooms    map[string]Room
	entities map[string]Entity
	memories map[string]Memory
	logs     []Log
}

// NewMemStore creates an empty in-memory store
func NewMemStore() *MemStore {
	return &MemStore{
		worlds:   make(map[string]World),
		rooms:    make(map[string]Room),
		entities: make(map[string]Entity),
		memories: make(map[string]Memory),
	}
}

// Close implements Store
func (s *MemStore) Close() error { return nil }

// CreateWorld implements Store
func (s *MemStore) CreateWorld(_ context.Context, w World) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.worlds[w.ID]; exists {
		return ErrDuplicate
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	s.worlds[w.ID] = w
	return nil
}

// GetWorld implements Store
func (s *MemStore) GetWorld(_ context.Context, id string) (*World, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, exists := s.worlds[id]
	if !exists {
		return nil, ErrNotFound
	}
	return &w, nil
}

// CreateRoom implements Store
func (s *MemStore) CreateRoom(_ context.Context, r Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rooms[r.ID]; exists {
		return ErrDuplicate
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	s.rooms[r.ID] = r
	return nil
}

// GetRoom implements Store
func (s *MemStore) GetRoom(_ context.Context, id string) (*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.rooms[id]
	if !exists {
		return nil, ErrNotFound
	}
	return &r, nil
}

// CreateEntity implements Store
func (s *MemStore) CreateEntity(_ context.Context, e Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entities[e.ID]; exists {
		return ErrDuplicate
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	s.entities[e.ID] = e
	return nil
}

// GetEntity implements Store
func (s *MemStore) GetEntity(_ context.Context, id string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.entities[id]
	if !exists {
		return nil, ErrNotFound
	}
	return &e, nil
}

// CreateMemory implements Store
func (s *MemStore) CreateMemory(_ context.Context, m Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.memories[m.ID]; exists {
		return ErrDuplicate
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	s.memories[m.ID] = m
	return nil
}

// GetMemory implements Store
func (s *MemStore) GetMemory(_ context.Context, id string) (*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.memories[id]
	if !exists {
		return nil, ErrNotFound
	}
	return &m, nil
}

// DeleteMemory implements Store. Deleting an absent record succeeds.
func (s *MemStore) DeleteMemory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.memories, id)
	return nil
}

// ClearRoomMemories implements Store
func (s *MemStore) ClearRoomMemories(_ context.Context, roomID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, m := range s.memories {
		if m.RoomID == roomID {
			delete(s.memories, id)
			count++
		}
	}
	return count, nil
}

// RecentMemories implements Store; newest first
func (s *MemStore) RecentMemories(_ context.Context, roomID string, limit int) ([]Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Memory
	for _, m := range s.memories {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateLog implements Store
func (s *MemStore) CreateLog(_ context.Context, l Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l.ID == "" {
		l.ID = gonanoid.Must()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	s.logs = append(s.logs, l)
	return nil
}

// QueryLogs implements Store; results ordered oldest first
func (s *MemStore) QueryLogs(_ context.Context, q LogQuery) ([]Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entitySet map[string]bool
	if len(q.EntityIDs) > 0 {
		entitySet = make(map[string]bool, len(q.EntityIDs))
		for _, id := range q.EntityIDs {
			entitySet[id] = true
		}
	}

	var out []Log
	for _, l := range s.logs {
		if entitySet != nil && !entitySet[l.EntityID] {
			continue
		}
		if q.RoomID != "" && l.RoomID != q.RoomID {
			continue
		}
		if q.Type != "" && l.Type != q.Type {
			continue
		}
		if !q.Since.IsZero() && l.CreatedAt.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && l.CreatedAt.After(q.Until) {
			continue
		}
		out = append(out, l)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}
