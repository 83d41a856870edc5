package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends returns both Store implementations so every behavior is
// verified against each.
func backends(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "fabric.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemStore(),
		"sqlite": sqlite,
	}
}

func TestCreateWorld_DuplicateIsErrDuplicate(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			w := World{ID: "w1", AgentID: "a1", ServerID: "s1"}

			require.NoError(t, s.CreateWorld(ctx, w))
			assert.ErrorIs(t, s.CreateWorld(ctx, w), ErrDuplicate)

			got, err := s.GetWorld(ctx, "w1")
			require.NoError(t, err)
			assert.Equal(t, "s1", got.ServerID)
		})
	}
}

func TestGet_Missing(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.GetWorld(ctx, "nope")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.GetRoom(ctx, "nope")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.GetEntity(ctx, "nope")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.GetMemory(ctx, "nope")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestMemoryLifecycle(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			m := Memory{ID: "mem1", AgentID: "a1", RoomID: "r1", EntityID: "e1", Content: "hello"}
			require.NoError(t, s.CreateMemory(ctx, m))
			assert.ErrorIs(t, s.CreateMemory(ctx, m), ErrDuplicate)

			// Deleting twice succeeds both times.
			require.NoError(t, s.DeleteMemory(ctx, "mem1"))
			require.NoError(t, s.DeleteMemory(ctx, "mem1"))

			_, err := s.GetMemory(ctx, "mem1")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestClearRoomMemories(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for i, id := range []string{"m1", "m2", "m3"} {
				room := "r1"
				if i == 2 {
					room = "r2"
				}
				require.NoError(t, s.CreateMemory(ctx, Memory{
					ID: id, AgentID: "a1", RoomID: room, EntityID: "e1", Content: "x",
				}))
			}

			n, err := s.ClearRoomMemories(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			// Other rooms untouched.
			remaining, err := s.RecentMemories(ctx, "r2", 10)
			require.NoError(t, err)
			assert.Len(t, remaining, 1)
		})
	}
}

func TestRecentMemories_NewestFirst(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().Add(-time.Hour)

			for i, id := range []string{"m1", "m2", "m3"} {
				require.NoError(t, s.CreateMemory(ctx, Memory{
					ID: id, AgentID: "a1", RoomID: "r1", EntityID: "e1",
					Content:   id,
					CreatedAt: base.Add(time.Duration(i) * time.Minute),
				}))
			}

			got, err := s.RecentMemories(ctx, "r1", 2)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "m3", got[0].ID)
			assert.Equal(t, "m2", got[1].ID)
		})
	}
}

func TestQueryLogs_Filters(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().Add(-time.Hour)

			logs := []Log{
				{ID: "l1", EntityID: "a1", RoomID: "r1", Type: LogTypeRunEvent, Body: LogBody{RunID: "run1", Status: "started"}, CreatedAt: base},
				{ID: "l2", EntityID: "a1", RoomID: "r1", Type: LogTypeRunEvent, Body: LogBody{RunID: "run1", Status: "completed"}, CreatedAt: base.Add(3 * time.Second)},
				{ID: "l3", EntityID: "u1", RoomID: "r1", Type: LogTypeAction, Body: LogBody{RunID: "run1", Action: "REPLY", Phase: "started"}, CreatedAt: base.Add(time.Second)},
				{ID: "l4", EntityID: "a1", RoomID: "r2", Type: LogTypeModelUsage, Body: LogBody{RunID: "run2", Model: "gpt-4o", Purpose: "summary"}, CreatedAt: base.Add(2 * time.Second)},
			}
			for _, l := range logs {
				require.NoError(t, s.CreateLog(ctx, l))
			}

			// Type + entity filter.
			got, err := s.QueryLogs(ctx, LogQuery{EntityIDs: []string{"a1"}, Type: LogTypeRunEvent})
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "started", got[0].Body.Status)
			assert.Equal(t, "completed", got[1].Body.Status)

			// Room filter spans entities.
			got, err = s.QueryLogs(ctx, LogQuery{RoomID: "r1"})
			require.NoError(t, err)
			assert.Len(t, got, 3)

			// Time window.
			got, err = s.QueryLogs(ctx, LogQuery{Since: base.Add(500 * time.Millisecond), Until: base.Add(2500 * time.Millisecond)})
			require.NoError(t, err)
			assert.Len(t, got, 2)

			// Body survives the round trip.
			got, err = s.QueryLogs(ctx, LogQuery{Type: LogTypeModelUsage})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "gpt-4o", got[0].Body.Model)
			assert.Equal(t, "run2", got[0].Body.RunID)
		})
	}
}

func TestCreateLog_GeneratesID(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.CreateLog(ctx, Log{
				EntityID: "a1", RoomID: "r1", Type: LogTypeRunEvent,
				Body: LogBody{RunID: "run1", Status: "started"},
			}))
			got, err := s.QueryLogs(ctx, LogQuery{Type: LogTypeRunEvent})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.NotEmpty(t, got[0].ID)
		})
	}
}
