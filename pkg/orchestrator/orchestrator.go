// Package orchestrator runs the per-message reasoning state machine: a
// should-respond gate, a bounded iterative action loop, and a final
// summary step that yields the user-facing reply.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/todoencadena/agentfabric/internal/bridge"
	"github.com/todoencadena/agentfabric/internal/guard"
	"github.com/todoencadena/agentfabric/internal/metrics"
	"github.com/todoencadena/agentfabric/pkg/actions"
	"github.com/todoencadena/agentfabric/pkg/model"
	"github.com/todoencadena/agentfabric/pkg/store"
)

// gateContextSize bounds how much recent conversation the gate prompt sees
const gateContextSize = 10

// ProgressNotifier announces action progress to the control plane. Both
// calls are best-effort.
type ProgressNotifier interface {
	SubmitActionStart(ctx context.Context, p bridge.ActionPayload)
	UpdateAction(ctx context.Context, actionID string, p bridge.ActionUpdatePayload)
}

// Orchestrator executes runs. Safe for concurrent use; each run owns its
// action trace exclusively and the only shared state it touches is the
// response guard.
type Orchestrator struct {
	cfg      Config
	store    store.Store
	provider model.Provider
	registry *actions.Registry
	guard    *guard.Guard
	notifier ProgressNotifier
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

// Deps collects the orchestrator's collaborators. Notifier and Metrics
// are optional.
type Deps struct {
	Store    store.Store
	Provider model.Provider
	Registry *actions.Registry
	Guard    *guard.Guard
	Notifier ProgressNotifier
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
}

// New creates an orchestrator
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 12
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = time.Hour
	}

	return &Orchestrator{
		cfg:      cfg,
		store:    deps.Store,
		provider: deps.Provider,
		registry: deps.Registry,
		guard:    deps.Guard,
		notifier: deps.Notifier,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
	}
}

// Run processes one message to completion. It always emits a started and a
// terminal run_event, even when the run is superseded mid-flight; only the
// observable output is suppressed in that case.
func (o *Orchestrator) Run(ctx context.Context, task Task, cb Callbacks) {
	runID := uuid.NewString()
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.RunTimeout)
	defer cancel()

	o.logRunEvent(ctx, task, store.LogBody{
		RunID:     runID,
		Status:    string(RunStatusStarted),
		MessageID: task.MessageID,
	})
	o.countRun(RunStatusStarted)

	content, runErr := o.process(ctx, task, runID)

	status := RunStatusCompleted
	switch {
	case runErr != nil && errors.Is(runErr, context.DeadlineExceeded):
		status = RunStatusTimeout
	case runErr != nil:
		status = RunStatusError
	}

	superseded := !o.guard.IsCurrent(task.RoomID, task.GuardToken)

	// terminal event must land even if the run deadline already expired
	endCtx := context.WithoutCancel(ctx)
	o.logRunEvent(endCtx, task, store.LogBody{
		RunID:      runID,
		Status:     string(status),
		MessageID:  task.MessageID,
		Superseded: superseded,
	})
	o.countRun(status)
	if o.metrics != nil {
		o.metrics.RunDuration.Observe(time.Since(start).Seconds())
	}

	if superseded {
		o.logger.Debug().
			Str("run_id", runID).
			Str("room_id", task.RoomID).
			Msg("Run superseded, output discarded")
		return
	}

	switch {
	case runErr != nil:
		o.logger.Error().Err(runErr).Str("run_id", runID).Msg("Run failed")
		if cb.OnError != nil {
			cb.OnError(endCtx, runErr)
		}
	case content != "":
		if cb.OnResponse != nil {
			cb.OnResponse(endCtx, content)
		}
	}
}

// process walks GATE, LOOP and SUMMARY. An empty result with a nil error
// is a silent completion.
func (o *Orchestrator) process(ctx context.Context, task Task, runID string) (string, error) {
	if !o.bypassGate(task) {
		verdict, err := o.gate(ctx, task, runID)
		if err != nil {
			return "", err
		}
		if verdict != verdictRespond {
			o.logger.Debug().
				Str("run_id", runID).
				Str("verdict", verdict).
				Msg("Gate declined response")
			return "", nil
		}
	}

	trace, lastThought, err := o.loop(ctx, task, runID)
	if err != nil {
		return "", err
	}

	return o.summarize(ctx, task, runID, trace, lastThought)
}

// bypassGate reports whether the room kind or source tag is on the
// configured allow-list that skips the should-respond check
func (o *Orchestrator) bypassGate(task Task) bool {
	return slices.Contains(o.cfg.BypassRooms, task.RoomKind) ||
		slices.Contains(o.cfg.BypassSources, task.SourceType)
}

// gate runs the small-model should-respond check
func (o *Orchestrator) gate(ctx context.Context, task Task, runID string) (string, error) {
	recent, err := o.store.RecentMemories(ctx, task.RoomID, gateContextSize)
	if err != nil {
		o.logger.Warn().Err(err).Str("room_id", task.RoomID).Msg("Recent memory fetch failed")
	}

	resp, err := o.provider.Generate(ctx, model.Request{
		Prompt:    gatePrompt(o.cfg.AgentName, task, recent),
		Tier:      model.TierSmall,
		MaxTokens: 16,
	})
	if err != nil {
		return "", fmt.Errorf("gate model call: %w", err)
	}
	o.logModelUsage(ctx, task, runID, resp, "gate")

	return parseVerdict(resp.Text), nil
}

// loop runs the bounded iterative action phase. Each iteration asks the
// model for exactly one step: invoke a named capability or finish. Unknown
// names and malformed decisions become failed trace entries, never fatal
// errors.
func (o *Orchestrator) loop(ctx context.Context, task Task, runID string) ([]ActionTraceEntry, string, error) {
	var trace []ActionTraceEntry
	var lastThought string
	available := o.registry.Names()

	for step := 0; step < o.cfg.MaxSteps; step++ {
		resp, err := o.provider.Generate(ctx, model.Request{
			Prompt: decidePrompt(o.cfg.AgentName, task, trace, available),
			Tier:   model.TierLarge,
		})
		if err != nil {
			return nil, "", fmt.Errorf("step decision: %w", err)
		}
		o.logModelUsage(ctx, task, runID, resp, "step")

		decision, err := parseDecision(resp.Text)
		if err != nil {
			trace = append(trace, ActionTraceEntry{
				ActionName: "decision",
				Success:    false,
				ErrorText:  err.Error(),
			})
			continue
		}

		lastThought = decision.Thought
		if decision.NextStepType == "finish" {
			return trace, lastThought, nil
		}

		trace = append(trace, o.invokeAction(ctx, task, runID, decision))
	}

	o.logger.Warn().
		Str("run_id", runID).
		Int("max_steps", o.cfg.MaxSteps).
		Msg("Action loop hit step cap")
	return trace, lastThought, nil
}

// invokeAction runs one capability and records its outcome in the action
// log and, best-effort, on the control plane
func (o *Orchestrator) invokeAction(ctx context.Context, task Task, runID string, decision *stepDecision) ActionTraceEntry {
	actionID := uuid.NewString()

	if o.notifier != nil && o.guard.IsCurrent(task.RoomID, task.GuardToken) {
		o.notifier.SubmitActionStart(ctx, bridge.ActionPayload{
			ID:        actionID,
			AgentID:   o.cfg.AgentID,
			ChannelID: task.ChannelID,
			Action:    decision.ActionName,
			Status:    "started",
		})
	}
	o.logAction(ctx, task, store.LogBody{
		RunID:  runID,
		Action: decision.ActionName,
		Phase:  "started",
	})

	result := o.registry.Invoke(ctx, decision.ActionName, actions.State{
		AgentID:   o.cfg.AgentID,
		RoomID:    task.RoomID,
		WorldID:   task.WorldID,
		EntityID:  task.EntityID,
		MessageID: task.MessageID,
		Content:   task.Content,
		Metadata:  task.Metadata,
	})

	entry := ActionTraceEntry{
		ActionName: decision.ActionName,
		Thought:    decision.Thought,
		Success:    result.Success,
		ResultText: result.Text,
		ErrorText:  result.Error,
	}

	detail := result.Text
	outcome := "completed"
	if !result.Success {
		detail = result.Error
		outcome = "failed"
	}
	success := result.Success
	o.logAction(ctx, task, store.LogBody{
		RunID:   runID,
		Action:  decision.ActionName,
		Phase:   "completed",
		Success: &success,
		Detail:  detail,
	})
	if o.metrics != nil {
		o.metrics.ActionInvocationsTotal.WithLabelValues(decision.ActionName, outcome).Inc()
	}

	if o.notifier != nil && o.guard.IsCurrent(task.RoomID, task.GuardToken) {
		o.notifier.UpdateAction(ctx, actionID, bridge.ActionUpdatePayload{
			Status: outcome,
			Detail: detail,
		})
	}

	return entry
}

// summarize synthesizes the final user-facing message from the trace. An
// empty answer means the run completes silently.
func (o *Orchestrator) summarize(ctx context.Context, task Task, runID string, trace []ActionTraceEntry, lastThought string) (string, error) {
	resp, err := o.provider.Generate(ctx, model.Request{
		Prompt: summaryPrompt(o.cfg.AgentName, task, trace, lastThought),
		Tier:   model.TierLarge,
	})
	if err != nil {
		return "", fmt.Errorf("summary model call: %w", err)
	}
	o.logModelUsage(ctx, task, runID, resp, "summary")

	return strings.TrimSpace(resp.Text), nil
}

func (o *Orchestrator) logRunEvent(ctx context.Context, task Task, body store.LogBody) {
	o.writeLog(ctx, task, store.LogTypeRunEvent, body)
}

func (o *Orchestrator) logAction(ctx context.Context, task Task, body store.LogBody) {
	o.writeLog(ctx, task, store.LogTypeAction, body)
}

func (o *Orchestrator) logModelUsage(ctx context.Context, task Task, runID string, resp *model.Response, purpose string) {
	o.writeLog(ctx, task, store.LogTypeModelUsage, store.LogBody{
		RunID:            runID,
		Model:            resp.Model,
		Purpose:          purpose,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
	})
	if o.metrics != nil {
		o.metrics.ModelCallsTotal.WithLabelValues(purpose).Inc()
	}
}

// writeLog persists a log record; failures are logged and swallowed so
// telemetry never fails a run
func (o *Orchestrator) writeLog(ctx context.Context, task Task, kind store.LogType, body store.LogBody) {
	err := o.store.CreateLog(ctx, store.Log{
		EntityID: task.EntityID,
		RoomID:   task.RoomID,
		Type:     kind,
		Body:     body,
	})
	if err != nil {
		o.logger.Warn().Err(err).Str("type", string(kind)).Msg("Log write failed")
	}
}

func (o *Orchestrator) countRun(status RunStatus) {
	if o.metrics != nil {
		o.metrics.RunsTotal.WithLabelValues(string(status)).Inc()
	}
}
