package telemetry

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/todoencadena/agentfabric/internal/identity"
	"github.com/todoencadena/agentfabric/pkg/store"
)

const (
	defaultLimit = 20
	maxLimit     = 100

	// widening safety cap: never scan more than this many identities
	maxIdentities = 20

	// how many recent memories feed the author-widening stage
	widenMemoryWindow = 50
)

// Aggregator joins log records into run summaries and timelines. Stateless
// between calls except for the short-TTL list cache owned by the server.
type Aggregator struct {
	store  store.Store
	logger zerolog.Logger
}

// NewAggregator creates an aggregator over a log store
func NewAggregator(st store.Store, logger zerolog.Logger) *Aggregator {
	return &Aggregator{store: st, logger: logger}
}

// ListRuns reconstructs runs for an agent, newest first. Run activity is
// logged under the message author's identity rather than the agent's, so
// the identity scope widens progressively (agent, then recent message
// authors, then the whole room) until the requested count is satisfied or
// the identity cap is hit.
func (a *Aggregator) ListRuns(ctx context.Context, q ListQuery) ([]RunSummary, error) {
	limit := clampLimit(q.Limit)

	events, err := a.fetchRunEvents(ctx, q, limit)
	if err != nil {
		return nil, err
	}

	runs := foldRuns(events)
	if q.Status != "" {
		filtered := runs[:0]
		for _, r := range runs {
			if r.Status == q.Status {
				filtered = append(filtered, r)
			}
		}
		runs = filtered
	}
	if len(runs) == 0 {
		return []RunSummary{}, nil
	}

	runSet := make(map[string]*RunSummary, len(runs))
	for i := range runs {
		runSet[runs[i].RunID] = &runs[i]
	}
	if err := a.joinCounts(ctx, q, runSet); err != nil {
		return nil, err
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// RunDetail reconstructs one run's ordered event timeline
func (a *Aggregator) RunDetail(ctx context.Context, q ListQuery, runID string) (*RunDetail, error) {
	identities, err := a.identityScope(ctx, q, true)
	if err != nil {
		return nil, err
	}

	logs, err := a.store.QueryLogs(ctx, store.LogQuery{
		EntityIDs: identities,
		RoomID:    q.RoomID,
	})
	if err != nil {
		return nil, err
	}

	var related []store.Log
	for _, l := range logs {
		if l.Body.RunID == runID {
			related = append(related, l)
		}
	}
	if len(related) == 0 {
		return nil, store.ErrNotFound
	}

	sort.Slice(related, func(i, j int) bool {
		return related[i].CreatedAt.Before(related[j].CreatedAt)
	})

	runEvents := filterType(related, store.LogTypeRunEvent)
	summary := foldRuns(runEvents)
	detail := &RunDetail{Timeline: make([]TimelineEvent, 0, len(related))}
	if len(summary) > 0 {
		detail.Summary = summary[0]
	} else {
		detail.Summary = RunSummary{RunID: runID, Status: "unknown"}
	}

	for _, l := range related {
		detail.Timeline = append(detail.Timeline, timelineEvent(l))
		countLog(l, &detail.Summary.Counts)
	}
	return detail, nil
}

// fetchRunEvents loads run_event records with progressive identity
// widening until limit matching runs are represented or the scope is
// exhausted
func (a *Aggregator) fetchRunEvents(ctx context.Context, q ListQuery, limit int) ([]store.Log, error) {
	base := store.LogQuery{
		RoomID: q.RoomID,
		Type:   store.LogTypeRunEvent,
		Since:  q.From,
		Until:  q.To,
	}

	// stage 1: the agent's own identity
	base.EntityIDs = []string{identity.EntityID(q.AgentID, q.AgentID)}
	events, err := a.store.QueryLogs(ctx, base)
	if err != nil {
		return nil, err
	}
	if countRuns(events, q.Status) >= limit {
		return events, nil
	}

	// stage 2: recent message authors in the room
	widened, err := a.identityScope(ctx, q, false)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Identity widening failed, using direct scope")
		return events, nil
	}
	if len(widened) > len(base.EntityIDs) {
		base.EntityIDs = widened
		events, err = a.store.QueryLogs(ctx, base)
		if err != nil {
			return nil, err
		}
		if countRuns(events, q.Status) >= limit {
			return events, nil
		}
	}

	// stage 3: the whole room, no identity filter
	base.EntityIDs = nil
	return a.store.QueryLogs(ctx, base)
}

// identityScope builds the widened identity list: the agent itself plus
// authors of recent memories in the room, capped. full also drops the cap
// check ordering concern by always including the agent first.
func (a *Aggregator) identityScope(ctx context.Context, q ListQuery, full bool) ([]string, error) {
	identities := []string{identity.EntityID(q.AgentID, q.AgentID)}
	if q.RoomID == "" {
		if full {
			return nil, nil // no room scope: scan unfiltered
		}
		return identities, nil
	}

	memories, err := a.store.RecentMemories(ctx, q.RoomID, widenMemoryWindow)
	if err != nil {
		return identities, err
	}

	seen := map[string]bool{identities[0]: true}
	for _, m := range memories {
		if len(identities) >= maxIdentities {
			break
		}
		if m.EntityID == "" || seen[m.EntityID] {
			continue
		}
		seen[m.EntityID] = true
		identities = append(identities, m.EntityID)
	}
	return identities, nil
}

// joinCounts bulk-fetches action, model_usage and evaluator records once
// and folds them into the run set in a single pass per type. This avoids
// the per-run query explosion a naive join would cause.
func (a *Aggregator) joinCounts(ctx context.Context, q ListQuery, runSet map[string]*RunSummary) error {
	identities, err := a.identityScope(ctx, q, true)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Count-join identity widening failed")
	}

	for _, kind := range []store.LogType{store.LogTypeAction, store.LogTypeModelUsage, store.LogTypeEvaluator} {
		logs, err := a.store.QueryLogs(ctx, store.LogQuery{
			EntityIDs: identities,
			RoomID:    q.RoomID,
			Type:      kind,
			Since:     q.From,
			Until:     q.To,
		})
		if err != nil {
			return err
		}
		for _, l := range logs {
			summary, ok := runSet[l.Body.RunID]
			if !ok {
				continue
			}
			countLog(l, &summary.Counts)
		}
	}
	return nil
}

// foldRuns groups run_event records by run id and derives each run's
// status and duration from the started record and the last terminal record
func foldRuns(events []store.Log) []RunSummary {
	byRun := make(map[string]*RunSummary)
	order := make([]string, 0)

	for _, l := range events {
		runID := l.Body.RunID
		if runID == "" {
			continue
		}
		summary, ok := byRun[runID]
		if !ok {
			summary = &RunSummary{RunID: runID, Status: "started"}
			byRun[runID] = summary
			order = append(order, runID)
		}

		switch l.Body.Status {
		case "started":
			summary.StartedAt = l.CreatedAt
			summary.MessageID = l.Body.MessageID
			summary.RoomID = l.RoomID
			summary.EntityID = l.EntityID
		case "completed", "timeout", "error":
			endedAt := l.CreatedAt
			if summary.EndedAt == nil || endedAt.After(*summary.EndedAt) {
				summary.Status = l.Body.Status
				summary.EndedAt = &endedAt
				summary.Superseded = l.Body.Superseded
			}
		}
	}

	out := make([]RunSummary, 0, len(byRun))
	for _, runID := range order {
		summary := byRun[runID]
		if summary.EndedAt != nil && !summary.StartedAt.IsZero() {
			summary.DurationMs = summary.EndedAt.Sub(summary.StartedAt).Milliseconds()
		}
		if summary.Status == "error" {
			summary.Counts.Errors++
		}
		out = append(out, *summary)
	}
	return out
}

// timelineEvent projects one log record into its typed timeline entry
func timelineEvent(l store.Log) TimelineEvent {
	ev := TimelineEvent{Timestamp: l.CreatedAt}

	switch l.Type {
	case store.LogTypeRunEvent:
		if l.Body.Status == "started" {
			ev.Type = EventRunStarted
		} else {
			ev.Type = EventRunEnded
			ev.Status = l.Body.Status
		}
	case store.LogTypeAction:
		if l.Body.Phase == "started" {
			ev.Type = EventActionStarted
		} else {
			ev.Type = EventActionCompleted
			ev.Success = l.Body.Success
			ev.Detail = l.Body.Detail
		}
		ev.Action = l.Body.Action
	case store.LogTypeModelUsage:
		ev.Type = EventModelUsed
		ev.Model = l.Body.Model
		ev.Purpose = l.Body.Purpose
	case store.LogTypeEvaluator:
		ev.Type = EventEvaluatorCompleted
		ev.Evaluator = l.Body.Evaluator
		ev.Success = l.Body.Success
	case store.LogTypeEmbedding:
		ev.Type = EventEmbedding
	}
	return ev
}

// countLog folds one non-lifecycle record into a count set
func countLog(l store.Log, counts *RunCounts) {
	switch l.Type {
	case store.LogTypeAction:
		if l.Body.Phase == "completed" {
			counts.Actions++
			if l.Body.Success != nil && !*l.Body.Success {
				counts.Errors++
			}
		}
	case store.LogTypeModelUsage:
		counts.ModelCalls++
	case store.LogTypeEvaluator:
		counts.Evaluators++
	}
}

// countRuns reports how many distinct runs the events describe. A
// non-empty status counts only runs whose derived status matches, so a
// status-filtered listing keeps widening until it can actually be
// satisfied.
func countRuns(events []store.Log, status string) int {
	n := 0
	for _, r := range foldRuns(events) {
		if status == "" || r.Status == status {
			n++
		}
	}
	return n
}

func filterType(logs []store.Log, kind store.LogType) []store.Log {
	var out []store.Log
	for _, l := range logs {
		if l.Type == kind {
			out = append(out, l)
		}
	}
	return out
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultLimit
	case limit > maxLimit:
		return maxLimit
	default:
		return limit
	}
}

// cacheTTLDefault is the list-cache lifetime when the server does not
// override it
const cacheTTLDefault = 15 * time.Second
