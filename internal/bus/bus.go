// Package bus provides the in-process event bus that carries fabric events
// from the transport layer to the message router. Single process scope, no
// network hop.
package bus

import (
	"sync"
	"time"
)

// MessageEvent is published when the control plane delivers a new message.
type MessageEvent struct {
	ID                string         `json:"id"`
	ChannelID         string         `json:"channelId"`
	ServerID          string         `json:"serverId"`
	AuthorID          string         `json:"authorId"`
	AuthorDisplayName string         `json:"authorDisplayName,omitempty"`
	Content           string         `json:"content"`
	SourceType        string         `json:"sourceType"`
	CreatedAt         time.Time      `json:"createdAt"`
	InReplyToID       string         `json:"inReplyToId,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// MessageDeletedEvent is published when a central message is deleted.
type MessageDeletedEvent struct {
	MessageID string `json:"messageId"`
}

// ChannelClearedEvent is published when a central channel is wiped.
type ChannelClearedEvent struct {
	ChannelID   string `json:"channelId"`
	MemoryCount int    `json:"memoryCount"`
}

// MembershipChangedEvent is published when an agent joins or leaves a
// central server.
type MembershipChangedEvent struct {
	AgentID  string `json:"agentId"`
	ServerID string `json:"serverId"`
	Joined   bool   `json:"joined"`
}

// Bus is a four-topic in-process publish/subscribe channel. Each published
// event is dispatched to every subscriber in its own goroutine; subscribers
// never return values to the publisher.
type Bus struct {
	mu             sync.RWMutex
	messageSubs    []func(MessageEvent)
	deletedSubs    []func(MessageDeletedEvent)
	clearedSubs    []func(ChannelClearedEvent)
	membershipSubs []func(MembershipChangedEvent)

	wg sync.WaitGroup
}

// New creates a new event bus
func New() *Bus {
	return &Bus{}
}

// OnMessage subscribes to new-message events
func (b *Bus) OnMessage(fn func(MessageEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messageSubs = append(b.messageSubs, fn)
}

// OnMessageDeleted subscribes to message-deleted events
func (b *Bus) OnMessageDeleted(fn func(MessageDeletedEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletedSubs = append(b.deletedSubs, fn)
}

// OnChannelCleared subscribes to channel-cleared events
func (b *Bus) OnChannelCleared(fn func(ChannelClearedEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clearedSubs = append(b.clearedSubs, fn)
}

// OnMembershipChanged subscribes to server-membership events
func (b *Bus) OnMembershipChanged(fn func(MembershipChangedEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.membershipSubs = append(b.membershipSubs, fn)
}

// PublishMessage dispatches a new-message event
func (b *Bus) PublishMessage(ev MessageEvent) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	b.mu.RLock()
	subs := b.messageSubs
	b.mu.RUnlock()

	for _, fn := range subs {
		b.dispatch(func() { fn(ev) })
	}
}

// PublishMessageDeleted dispatches a message-deleted event
func (b *Bus) PublishMessageDeleted(ev MessageDeletedEvent) {
	b.mu.RLock()
	subs := b.deletedSubs
	b.mu.RUnlock()

	for _, fn := range subs {
		b.dispatch(func() { fn(ev) })
	}
}

// PublishChannelCleared dispatches a channel-cleared event
func (b *Bus) PublishChannelCleared(ev ChannelClearedEvent) {
	b.mu.RLock()
	subs := b.clearedSubs
	b.mu.RUnlock()

	for _, fn := range subs {
		b.dispatch(func() { fn(ev) })
	}
}

// PublishMembershipChanged dispatches a membership event
func (b *Bus) PublishMembershipChanged(ev MembershipChangedEvent) {
	b.mu.RLock()
	subs := b.membershipSubs
	b.mu.RUnlock()

	for _, fn := range subs {
		b.dispatch(func() { fn(ev) })
	}
}

func (b *Bus) dispatch(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

// Wait blocks until all in-flight dispatches complete or the timeout
// elapses. Returns true if everything drained.
func (b *Bus) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
