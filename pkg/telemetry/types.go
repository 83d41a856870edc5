// Package telemetry reconstructs orchestration runs from raw log records
// and serves them over HTTP. Runs are not stored as rows; they are joined
// on demand from run_event, action, model_usage and evaluator records
// sharing a run id.
package telemetry

import "time"

// RunCounts aggregates per-run activity
type RunCounts struct {
	Actions    int `json:"actions"`
	ModelCalls int `json:"modelCalls"`
	Errors     int `json:"errors"`
	Evaluators int `json:"evaluators"`
}

// RunSummary is one reconstructed run
type RunSummary struct {
	RunID      string     `json:"runId"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"startedAt"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
	DurationMs int64      `json:"durationMs,omitempty"`
	MessageID  string     `json:"messageId,omitempty"`
	RoomID     string     `json:"roomId,omitempty"`
	EntityID   string     `json:"entityId,omitempty"`
	Superseded bool       `json:"superseded,omitempty"`
	Counts     RunCounts  `json:"counts"`
}

// TimelineEventType identifies one step in a run timeline
type TimelineEventType string

// Timeline event types, ordered by occurrence within a run.
const (
	EventRunStarted         TimelineEventType = "RUN_STARTED"
	EventActionStarted      TimelineEventType = "ACTION_STARTED"
	EventActionCompleted    TimelineEventType = "ACTION_COMPLETED"
	EventModelUsed          TimelineEventType = "MODEL_USED"
	EventEvaluatorCompleted TimelineEventType = "EVALUATOR_COMPLETED"
	EventEmbedding          TimelineEventType = "EMBEDDING_EVENT"
	EventRunEnded           TimelineEventType = "RUN_ENDED"
)

// TimelineEvent is one typed, timestamped entry in a run timeline
type TimelineEvent struct {
	Type      TimelineEventType `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Action    string            `json:"action,omitempty"`
	Success   *bool             `json:"success,omitempty"`
	Detail    string            `json:"detail,omitempty"`
	Model     string            `json:"model,omitempty"`
	Purpose   string            `json:"purpose,omitempty"`
	Status    string            `json:"status,omitempty"`
	Evaluator string            `json:"evaluator,omitempty"`
}

// RunDetail is a run summary plus its ordered event timeline
type RunDetail struct {
	Summary  RunSummary      `json:"summary"`
	Timeline []TimelineEvent `json:"timeline"`
}

// ListQuery filters a run listing
type ListQuery struct {
	AgentID string
	RoomID  string
	Status  string
	Limit   int
	From    time.Time
	To      time.Time
}
