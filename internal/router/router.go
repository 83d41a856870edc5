// Package router consumes fabric events from the in-process bus, performs
// validation, membership checks, idempotent mirror resolution and
// deduplication, and dispatches accepted messages into the reasoning
// orchestrator.
package router

import (
	"context"
	"errors"
	"slices"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/todoencadena/agentfabric/internal/bridge"
	"github.com/todoencadena/agentfabric/internal/bus"
	"github.com/todoencadena/agentfabric/internal/guard"
	"github.com/todoencadena/agentfabric/internal/identity"
	"github.com/todoencadena/agentfabric/internal/metrics"
	"github.com/todoencadena/agentfabric/internal/subscription"
	"github.com/todoencadena/agentfabric/pkg/orchestrator"
	"github.com/todoencadena/agentfabric/pkg/store"
)

// Plane is the slice of the control-plane bridge the router needs
type Plane interface {
	GetChannelParticipants(ctx context.Context, channelID string) ([]string, error)
	SubmitResponse(ctx context.Context, p bridge.ResponsePayload)
	NotifyComplete(ctx context.Context, p bridge.CompletionPayload)
}

// Runner executes one orchestration run per accepted message
type Runner interface {
	Run(ctx context.Context, task orchestrator.Task, cb orchestrator.Callbacks)
}

// Router wires bus events to storage, the orchestrator and the bridge.
// All handlers are fire-and-forget: effects are storage writes,
// orchestration runs and bridge calls, never return values to the bus.
type Router struct {
	agentID string
	store   store.Store
	plane   Plane
	cache   *subscription.Cache
	guard   *guard.Guard
	orch    Runner
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// Deps collects the router's collaborators. Metrics is optional.
type Deps struct {
	AgentID string
	Store   store.Store
	Plane   Plane
	Cache   *subscription.Cache
	Guard   *guard.Guard
	Orch    Runner
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// New creates a router
func New(deps Deps) *Router {
	return &Router{
		agentID: deps.AgentID,
		store:   deps.Store,
		plane:   deps.Plane,
		cache:   deps.Cache,
		guard:   deps.Guard,
		orch:    deps.Orch,
		logger:  deps.Logger,
		metrics: deps.Metrics,
	}
}

// Attach subscribes the router to all four bus topics. ctx bounds every
// handler spawned from the bus.
func (r *Router) Attach(ctx context.Context, b *bus.Bus) {
	b.OnMessage(func(ev bus.MessageEvent) {
		r.HandleIncomingMessage(ctx, ev)
	})
	b.OnMessageDeleted(func(ev bus.MessageDeletedEvent) {
		r.HandleMessageDeleted(ctx, ev)
	})
	b.OnChannelCleared(func(ev bus.ChannelClearedEvent) {
		r.HandleChannelCleared(ctx, ev)
	})
	b.OnMembershipChanged(func(ev bus.MembershipChangedEvent) {
		r.HandleMembershipChanged(ctx, ev)
	})
}

// HandleIncomingMessage validates, mirrors and deduplicates one inbound
// message, then hands it to the orchestrator. Malformed input is dropped
// and never retried; authorization drops are silent.
func (r *Router) HandleIncomingMessage(ctx context.Context, ev bus.MessageEvent) {
	if r.metrics != nil {
		r.metrics.MessagesReceivedTotal.Inc()
	}

	if ev.ID == "" || ev.ChannelID == "" || ev.AuthorID == "" || ev.Content == "" {
		r.drop("malformed")
		r.logger.Warn().
			Str("message_id", ev.ID).
			Str("channel_id", ev.ChannelID).
			Msg("Dropping malformed message")
		return
	}

	if ev.AuthorID == r.agentID {
		r.drop("self")
		return
	}

	if !r.cache.HasServer(ev.ServerID) {
		r.drop("unsubscribed_server")
		return
	}

	participants, err := r.plane.GetChannelParticipants(ctx, ev.ChannelID)
	if err != nil {
		r.drop("participants_lookup")
		r.logger.Warn().Err(err).Str("channel_id", ev.ChannelID).Msg("Participant lookup failed")
		return
	}
	if !slices.Contains(participants, r.agentID) {
		r.drop("not_participant")
		return
	}

	worldID, roomID, entityID, err := r.resolveMirrors(ctx, ev)
	if err != nil {
		r.drop("mirror_error")
		r.logger.Error().Err(err).Str("message_id", ev.ID).Msg("Mirror resolution failed")
		return
	}

	// at-most-once delivery: the dedup key doubles as the memory id
	memory := store.Memory{
		ID:          identity.DedupKey(ev.ID, r.agentID),
		AgentID:     r.agentID,
		RoomID:      roomID,
		WorldID:     worldID,
		EntityID:    entityID,
		Content:     ev.Content,
		Source:      ev.SourceType,
		InReplyToID: ev.InReplyToID,
		CreatedAt:   ev.CreatedAt,
	}
	if err := r.store.CreateMemory(ctx, memory); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			if r.metrics != nil {
				r.metrics.MessagesDedupedTotal.Inc()
			}
			return
		}
		r.drop("storage_error")
		r.logger.Error().Err(err).Str("message_id", ev.ID).Msg("Memory persist failed")
		return
	}

	r.dispatch(ctx, ev, worldID, roomID, entityID)
}

// dispatch hands an accepted message to the orchestrator and signals
// completion to the control plane afterwards regardless of outcome
func (r *Router) dispatch(ctx context.Context, ev bus.MessageEvent, worldID, roomID, entityID string) {
	token := r.guard.Begin(roomID)

	task := orchestrator.Task{
		MessageID:  ev.ID,
		ChannelID:  ev.ChannelID,
		Content:    ev.Content,
		AuthorName: ev.AuthorDisplayName,
		RoomID:     roomID,
		WorldID:    worldID,
		EntityID:   entityID,
		RoomKind:   roomKind(ev),
		SourceType: ev.SourceType,
		GuardToken: token,
		Metadata:   ev.Metadata,
	}

	r.orch.Run(ctx, task, orchestrator.Callbacks{
		OnResponse: func(cbCtx context.Context, content string) {
			r.publishResponse(cbCtx, ev, roomID, worldID, content)
		},
		OnError: func(_ context.Context, err error) {
			r.logger.Error().Err(err).Str("message_id", ev.ID).Msg("Orchestration failed")
		},
	})

	r.guard.Finish(roomID, token)

	// flow-control acknowledgement, sent on success and on error alike
	r.plane.NotifyComplete(ctx, bridge.CompletionPayload{
		AgentID:   r.agentID,
		ChannelID: ev.ChannelID,
	})
}

// publishResponse persists the agent's reply as a local memory and submits
// it to the control plane, linked to the original message
func (r *Router) publishResponse(ctx context.Context, ev bus.MessageEvent, roomID, worldID, content string) {
	memory := store.Memory{
		ID:          uuid.NewString(),
		AgentID:     r.agentID,
		RoomID:      roomID,
		WorldID:     worldID,
		EntityID:    identity.EntityID(r.agentID, r.agentID),
		Content:     content,
		Source:      "agent_response",
		InReplyToID: ev.ID,
	}
	if err := r.store.CreateMemory(ctx, memory); err != nil && !errors.Is(err, store.ErrDuplicate) {
		r.logger.Error().Err(err).Str("message_id", ev.ID).Msg("Response persist failed")
	}

	r.plane.SubmitResponse(ctx, bridge.ResponsePayload{
		AgentID:     r.agentID,
		ChannelID:   ev.ChannelID,
		Content:     content,
		InReplyToID: ev.ID,
	})
}

// resolveMirrors creates the World, Room and Entity mirrors for a message
// if they do not exist yet. Duplicate-key races from concurrent messages
// are success, not error.
func (r *Router) resolveMirrors(ctx context.Context, ev bus.MessageEvent) (worldID, roomID, entityID string, err error) {
	worldID = identity.WorldID(r.agentID, ev.ServerID)
	if err = r.createIgnoringDuplicate(r.store.CreateWorld(ctx, store.World{
		ID:       worldID,
		AgentID:  r.agentID,
		ServerID: ev.ServerID,
	})); err != nil {
		return "", "", "", err
	}

	roomID = identity.RoomID(r.agentID, ev.ChannelID)
	if err = r.createIgnoringDuplicate(r.store.CreateRoom(ctx, store.Room{
		ID:        roomID,
		AgentID:   r.agentID,
		WorldID:   worldID,
		ChannelID: ev.ChannelID,
		Source:    ev.SourceType,
		Kind:      roomKind(ev),
	})); err != nil {
		return "", "", "", err
	}

	entityID = identity.EntityID(r.agentID, ev.AuthorID)
	if err = r.createIgnoringDuplicate(r.store.CreateEntity(ctx, store.Entity{
		ID:       entityID,
		AgentID:  r.agentID,
		AuthorID: ev.AuthorID,
		Name:     ev.AuthorDisplayName,
	})); err != nil {
		return "", "", "", err
	}

	return worldID, roomID, entityID, nil
}

func (r *Router) createIgnoringDuplicate(err error) error {
	if errors.Is(err, store.ErrDuplicate) {
		return nil
	}
	return err
}

// HandleMessageDeleted removes the local mirror of a deleted central
// message. Deleting an already-deleted record is success.
func (r *Router) HandleMessageDeleted(ctx context.Context, ev bus.MessageDeletedEvent) {
	if ev.MessageID == "" {
		return
	}

	memoryID := identity.DedupKey(ev.MessageID, r.agentID)
	if err := r.store.DeleteMemory(ctx, memoryID); err != nil {
		r.logger.Warn().Err(err).Str("message_id", ev.MessageID).Msg("Memory delete failed")
		return
	}
	r.logger.Debug().Str("message_id", ev.MessageID).Msg("Memory deleted")
}

// HandleChannelCleared wipes the local memories of a cleared channel
func (r *Router) HandleChannelCleared(ctx context.Context, ev bus.ChannelClearedEvent) {
	if ev.ChannelID == "" {
		return
	}

	roomID := identity.RoomID(r.agentID, ev.ChannelID)
	cleared, err := r.store.ClearRoomMemories(ctx, roomID)
	if err != nil {
		r.logger.Warn().Err(err).Str("channel_id", ev.ChannelID).Msg("Room clear failed")
		return
	}
	r.logger.Info().
		Str("channel_id", ev.ChannelID).
		Int("cleared", cleared).
		Int("reported", ev.MemoryCount).
		Msg("Room memories cleared")
}

// HandleMembershipChanged updates the subscription cache when this agent
// joins or leaves a server. Events for other agents are ignored.
func (r *Router) HandleMembershipChanged(ctx context.Context, ev bus.MembershipChangedEvent) {
	if ev.AgentID != r.agentID {
		return
	}
	r.cache.ApplyMembershipChange(ctx, ev.ServerID, ev.Joined)
}

// roomKind extracts the channel kind hint from message metadata
func roomKind(ev bus.MessageEvent) string {
	if kind, ok := ev.Metadata["channelKind"].(string); ok {
		return kind
	}
	return "group"
}

func (r *Router) drop(reason string) {
	if r.metrics != nil {
		r.metrics.MessagesDroppedTotal.WithLabelValues(reason).Inc()
	}
}
