package orchestrator

import (
	"context"
	"time"
)

// RunStatus is the terminal disposition of a run
type RunStatus string

// Run statuses. A run transitions exactly once from started to one of the
// terminal statuses and is never mutated afterward.
const (
	RunStatusStarted   RunStatus = "started"
	RunStatusCompleted RunStatus = "completed"
	RunStatusTimeout   RunStatus = "timeout"
	RunStatusError     RunStatus = "error"
)

// Gate verdicts returned by the should-respond check.
const (
	verdictRespond = "RESPOND"
	verdictIgnore  = "IGNORE"
	verdictStop    = "STOP"
)

// Task is one inbound message handed off by the router
type Task struct {
	MessageID  string // central message id, used for reply linking
	ChannelID  string // central channel id, used for bridge notifications
	Content    string
	AuthorName string
	RoomID     string
	WorldID    string
	EntityID   string
	RoomKind   string // group, dm, voice_dm, feed
	SourceType string
	GuardToken string
	Metadata   map[string]any
}

// Callbacks receives the outcome of a run. OnResponse fires at most once,
// only when the run produced user-facing text and was not superseded.
type Callbacks struct {
	OnResponse func(ctx context.Context, content string)
	OnError    func(ctx context.Context, err error)
}

// ActionTraceEntry records one capability invocation within a run
type ActionTraceEntry struct {
	ActionName string
	Thought    string
	Success    bool
	ResultText string
	ErrorText  string
}

// stepDecision is the model's structured answer for one loop iteration
type stepDecision struct {
	NextStepType string `json:"nextStepType"` // action or finish
	ActionName   string `json:"actionName,omitempty"`
	Thought      string `json:"thought,omitempty"`
}

// Config bounds and shapes orchestration
type Config struct {
	AgentID       string
	AgentName     string
	MaxSteps      int
	RunTimeout    time.Duration
	BypassRooms   []string // room kinds that skip the should-respond gate
	BypassSources []string // source tags that skip the should-respond gate
}
