package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/todoencadena/agentfabric/internal/identity"
	"github.com/todoencadena/agentfabric/pkg/store"
)

const (
	testAgent = "agent-1"
	testRoom  = "room-1"
)

func seedLog(t *testing.T, st store.Store, entityID string, at time.Time, kind store.LogType, body store.LogBody) {
	t.Helper()
	require.NoError(t, st.CreateLog(context.Background(), store.Log{
		EntityID:  entityID,
		RoomID:    testRoom,
		Type:      kind,
		Body:      body,
		CreatedAt: at,
	}))
}

func agentEntity() string { return identity.EntityID(testAgent, testAgent) }

func boolPtr(b bool) *bool { return &b }

func TestListRunsJoinCorrectness(t *testing.T) {
	st := store.NewMemStore()
	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	seedLog(t, st, agentEntity(), t0, store.LogTypeRunEvent,
		store.LogBody{RunID: "R", Status: "started", MessageID: "m1"})
	seedLog(t, st, agentEntity(), t0.Add(3*time.Second), store.LogTypeRunEvent,
		store.LogBody{RunID: "R", Status: "completed"})

	agg := NewAggregator(st, zerolog.Nop())
	runs, err := agg.ListRuns(context.Background(), ListQuery{AgentID: testAgent, RoomID: testRoom})
	require.NoError(t, err)
	require.Len(t, runs, 1)

	run := runs[0]
	assert.Equal(t, "R", run.RunID)
	assert.Equal(t, "completed", run.Status)
	assert.Equal(t, int64(3000), run.DurationMs)
	assert.Equal(t, "m1", run.MessageID)
	assert.Equal(t, t0, run.StartedAt)
	require.NotNil(t, run.EndedAt)
}

func TestListRunsCounts(t *testing.T) {
	st := store.NewMemStore()
	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	seedLog(t, st, agentEntity(), t0, store.LogTypeRunEvent,
		store.LogBody{RunID: "R", Status: "started"})
	seedLog(t, st, agentEntity(), t0.Add(time.Second), store.LogTypeAction,
		store.LogBody{RunID: "R", Action: "ECHO", Phase: "started"})
	seedLog(t, st, agentEntity(), t0.Add(2*time.Second), store.LogTypeAction,
		store.LogBody{RunID: "R", Action: "ECHO", Phase: "completed", Success: boolPtr(true)})
	seedLog(t, st, agentEntity(), t0.Add(3*time.Second), store.LogTypeAction,
		store.LogBody{RunID: "R", Action: "GET_TIME", Phase: "completed", Success: boolPtr(false)})
	seedLog(t, st, agentEntity(), t0.Add(4*time.Second), store.LogTypeModelUsage,
		store.LogBody{RunID: "R", Model: "m", Purpose: "step"})
	seedLog(t, st, agentEntity(), t0.Add(5*time.Second), store.LogTypeEvaluator,
		store.LogBody{RunID: "R", Evaluator: "tone"})
	seedLog(t, st, agentEntity(), t0.Add(6*time.Second), store.LogTypeRunEvent,
		store.LogBody{RunID: "R", Status: "completed"})

	agg := NewAggregator(st, zerolog.Nop())
	runs, err := agg.ListRuns(context.Background(), ListQuery{AgentID: testAgent, RoomID: testRoom})
	require.NoError(t, err)
	require.Len(t, runs, 1)

	counts := runs[0].Counts
	assert.Equal(t, 2, counts.Actions, "only completed action records count")
	assert.Equal(t, 1, counts.ModelCalls)
	assert.Equal(t, 1, counts.Evaluators)
	assert.Equal(t, 1, counts.Errors, "one failed action")
}

func TestListRunsStatusFilter(t *testing.T) {
	st := store.NewMemStore()
	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	seedLog(t, st, agentEntity(), t0, store.LogTypeRunEvent, store.LogBody{RunID: "R1", Status: "started"})
	seedLog(t, st, agentEntity(), t0.Add(time.Second), store.LogTypeRunEvent, store.LogBody{RunID: "R1", Status: "completed"})
	seedLog(t, st, agentEntity(), t0.Add(2*time.Second), store.LogTypeRunEvent, store.LogBody{RunID: "R2", Status: "started"})
	seedLog(t, st, agentEntity(), t0.Add(3*time.Second), store.LogTypeRunEvent, store.LogBody{RunID: "R2", Status: "error"})

	agg := NewAggregator(st, zerolog.Nop())
	runs, err := agg.ListRuns(context.Background(), ListQuery{AgentID: testAgent, RoomID: testRoom, Status: "error"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "R2", runs[0].RunID)
	assert.Equal(t, 1, runs[0].Counts.Errors, "error status counts as one error")
}

func TestListRunsIdentityWidening(t *testing.T) {
	st := store.NewMemStore()
	ctx := context.Background()
	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// run activity logged under a message author's identity, not the agent's
	authorEntity := identity.EntityID(testAgent, "u1")
	seedLog(t, st, authorEntity, t0, store.LogTypeRunEvent, store.LogBody{RunID: "R", Status: "started"})
	seedLog(t, st, authorEntity, t0.Add(time.Second), store.LogTypeRunEvent, store.LogBody{RunID: "R", Status: "completed"})

	// the author is discoverable through recent room memories
	require.NoError(t, st.CreateMemory(ctx, store.Memory{
		ID:       "mem-1",
		AgentID:  testAgent,
		RoomID:   testRoom,
		EntityID: authorEntity,
		Content:  "hello",
	}))

	agg := NewAggregator(st, zerolog.Nop())
	runs, err := agg.ListRuns(ctx, ListQuery{AgentID: testAgent, RoomID: testRoom})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "R", runs[0].RunID)
	assert.Equal(t, "completed", runs[0].Status)
}

func TestListRunsStatusFilterWidens(t *testing.T) {
	st := store.NewMemStore()
	ctx := context.Background()
	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// the agent's own identity has enough runs to fill the limit, but
	// none with the requested status
	seedLog(t, st, agentEntity(), t0, store.LogTypeRunEvent, store.LogBody{RunID: "R1", Status: "started"})
	seedLog(t, st, agentEntity(), t0.Add(time.Second), store.LogTypeRunEvent, store.LogBody{RunID: "R1", Status: "completed"})

	// the matching run is logged under a message author's identity
	authorEntity := identity.EntityID(testAgent, "u1")
	seedLog(t, st, authorEntity, t0.Add(2*time.Second), store.LogTypeRunEvent, store.LogBody{RunID: "R2", Status: "started"})
	seedLog(t, st, authorEntity, t0.Add(3*time.Second), store.LogTypeRunEvent, store.LogBody{RunID: "R2", Status: "error"})

	require.NoError(t, st.CreateMemory(ctx, store.Memory{
		ID:       "mem-1",
		AgentID:  testAgent,
		RoomID:   testRoom,
		EntityID: authorEntity,
		Content:  "hello",
	}))

	agg := NewAggregator(st, zerolog.Nop())
	runs, err := agg.ListRuns(ctx, ListQuery{AgentID: testAgent, RoomID: testRoom, Status: "error", Limit: 1})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "R2", runs[0].RunID)
	assert.Equal(t, "error", runs[0].Status)
}

func TestRunDetailTimeline(t *testing.T) {
	st := store.NewMemStore()
	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	seedLog(t, st, agentEntity(), t0, store.LogTypeRunEvent, store.LogBody{RunID: "R", Status: "started"})
	seedLog(t, st, agentEntity(), t0.Add(time.Second), store.LogTypeAction,
		store.LogBody{RunID: "R", Action: "ECHO", Phase: "started"})
	seedLog(t, st, agentEntity(), t0.Add(2*time.Second), store.LogTypeAction,
		store.LogBody{RunID: "R", Action: "ECHO", Phase: "completed", Success: boolPtr(true), Detail: "hello"})
	seedLog(t, st, agentEntity(), t0.Add(3*time.Second), store.LogTypeModelUsage,
		store.LogBody{RunID: "R", Model: "m", Purpose: "summary"})
	seedLog(t, st, agentEntity(), t0.Add(4*time.Second), store.LogTypeRunEvent, store.LogBody{RunID: "R", Status: "completed"})

	agg := NewAggregator(st, zerolog.Nop())
	detail, err := agg.RunDetail(context.Background(), ListQuery{AgentID: testAgent, RoomID: testRoom}, "R")
	require.NoError(t, err)

	types := make([]TimelineEventType, 0, len(detail.Timeline))
	for _, ev := range detail.Timeline {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []TimelineEventType{
		EventRunStarted,
		EventActionStarted,
		EventActionCompleted,
		EventModelUsed,
		EventRunEnded,
	}, types)

	assert.Equal(t, "completed", detail.Summary.Status)
	assert.Equal(t, int64(4000), detail.Summary.DurationMs)
	assert.Equal(t, 1, detail.Summary.Counts.Actions)
	assert.Equal(t, 1, detail.Summary.Counts.ModelCalls)
}

func TestRunDetailNotFound(t *testing.T) {
	agg := NewAggregator(store.NewMemStore(), zerolog.Nop())

	_, err := agg.RunDetail(context.Background(), ListQuery{AgentID: testAgent, RoomID: testRoom}, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListCacheExpiry(t *testing.T) {
	c := newListCache(30 * time.Millisecond)
	q := ListQuery{AgentID: testAgent, Limit: 10}

	_, ok := c.get(q)
	assert.False(t, ok)

	c.put(q, []RunSummary{{RunID: "R"}})
	runs, ok := c.get(q)
	require.True(t, ok)
	assert.Equal(t, "R", runs[0].RunID)

	time.Sleep(50 * time.Millisecond)
	_, ok = c.get(q)
	assert.False(t, ok, "entries expire after the TTL")
}
