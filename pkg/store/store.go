// Package store defines the storage contract the message router,
// orchestrator and telemetry aggregator share, together with the SQLite and
// in-memory backends that implement it.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned when a create hits an existing primary key.
// Callers that rely on idempotent creation treat it as success.
var ErrDuplicate = errors.New("duplicate record")

// World is an agent's local mirror of a central message server
type World struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agentId"`
	ServerID  string    `json:"serverId"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Room is an agent's local mirror of a central channel
type Room struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agentId"`
	WorldID   string    `json:"worldId"`
	ChannelID string    `json:"channelId"`
	Source    string    `json:"source,omitempty"`
	Kind      string    `json:"kind,omitempty"` // group, dm, voice_dm, feed
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Entity is an agent's local mirror of a message author
type Entity struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agentId"`
	AuthorID  string    `json:"authorId"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Memory is a persisted message or agent response in a room
type Memory struct {
	ID          string    `json:"id"`
	AgentID     string    `json:"agentId"`
	RoomID      string    `json:"roomId"`
	WorldID     string    `json:"worldId,omitempty"`
	EntityID    string    `json:"entityId"`
	Content     string    `json:"content"`
	Source      string    `json:"source,omitempty"`
	InReplyToID string    `json:"inReplyToId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// LogType identifies a log record kind
type LogType string

// Log record kinds written by the router and orchestrator.
const (
	LogTypeRunEvent   LogType = "run_event"
	LogTypeAction     LogType = "action"
	LogTypeModelUsage LogType = "model_usage"
	LogTypeEvaluator  LogType = "evaluator"
	LogTypeEmbedding  LogType = "embedding_event"
)

// LogBody carries the per-kind payload of a log record. RunID is the join
// key shared across kinds; the remaining fields are populated per the
// record's LogType.
type LogBody struct {
	RunID string `json:"runId"`

	// run_event
	Status     string `json:"status,omitempty"` // started, completed, timeout, error
	MessageID  string `json:"messageId,omitempty"`
	Superseded bool   `json:"superseded,omitempty"`

	// action
	Action  string `json:"action,omitempty"`
	Phase   string `json:"phase,omitempty"` // started, completed
	Success *bool  `json:"success,omitempty"`
	Detail  string `json:"detail,omitempty"`

	// model_usage
	Model            string `json:"model,omitempty"`
	Purpose          string `json:"purpose,omitempty"` // gate, step, summary
	PromptTokens     int    `json:"promptTokens,omitempty"`
	CompletionTokens int    `json:"completionTokens,omitempty"`

	// evaluator
	Evaluator string `json:"evaluator,omitempty"`
}

// Log is a durable, append-only record of agent activity
type Log struct {
	ID        string    `json:"id"`
	EntityID  string    `json:"entityId"` // identity the record is attributed to
	RoomID    string    `json:"roomId"`
	Type      LogType   `json:"type"`
	Body      LogBody   `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// LogQuery filters a log scan. Zero values are wildcards.
type LogQuery struct {
	EntityIDs []string
	RoomID    string
	Type      LogType
	Since     time.Time
	Until     time.Time
	Limit     int
}

// Store is the persistence contract shared by the router, orchestrator and
// telemetry aggregator.
type Store interface {
	Close() error

	CreateWorld(ctx context.Context, w World) error
	GetWorld(ctx context.Context, id string) (*World, error)

	CreateRoom(ctx context.Context, r Room) error
	GetRoom(ctx context.Context, id string) (*Room, error)

	CreateEntity(ctx context.Context, e Entity) error
	GetEntity(ctx context.Context, id string) (*Entity, error)

	CreateMemory(ctx context.Context, m Memory) error
	GetMemory(ctx context.Context, id string) (*Memory, error)
	DeleteMemory(ctx context.Context, id string) error
	ClearRoomMemories(ctx context.Context, roomID string) (int, error)
	RecentMemories(ctx context.Context, roomID string, limit int) ([]Memory, error)

	CreateLog(ctx context.Context, l Log) error
	QueryLogs(ctx context.Context, q LogQuery) ([]Log, error)
}
