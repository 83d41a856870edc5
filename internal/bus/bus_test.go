package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishMessage_ReachesAllSubscribers(t *testing.T) {
	b := New()

	var mu sync.Mutex
	var got []string

	b.OnMessage(func(ev MessageEvent) {
		mu.Lock()
		got = append(got, "first:"+ev.ID)
		mu.Unlock()
	})
	b.OnMessage(func(ev MessageEvent) {
		mu.Lock()
		got = append(got, "second:"+ev.ID)
		mu.Unlock()
	})

	b.PublishMessage(MessageEvent{ID: "m1", ChannelID: "c1", Content: "hi"})
	require.True(t, b.Wait(time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"first:m1", "second:m1"}, got)
}

func TestPublishMessage_StampsCreatedAt(t *testing.T) {
	b := New()

	ch := make(chan MessageEvent, 1)
	b.OnMessage(func(ev MessageEvent) { ch <- ev })

	b.PublishMessage(MessageEvent{ID: "m1"})

	select {
	case ev := <-ch:
		assert.False(t, ev.CreatedAt.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestTopicsAreIndependent(t *testing.T) {
	b := New()

	deleted := make(chan MessageDeletedEvent, 1)
	cleared := make(chan ChannelClearedEvent, 1)
	membership := make(chan MembershipChangedEvent, 1)

	b.OnMessageDeleted(func(ev MessageDeletedEvent) { deleted <- ev })
	b.OnChannelCleared(func(ev ChannelClearedEvent) { cleared <- ev })
	b.OnMembershipChanged(func(ev MembershipChangedEvent) { membership <- ev })
	b.OnMessage(func(ev MessageEvent) { t.Error("message subscriber must not fire") })

	b.PublishMessageDeleted(MessageDeletedEvent{MessageID: "m9"})
	b.PublishChannelCleared(ChannelClearedEvent{ChannelID: "c9", MemoryCount: 3})
	b.PublishMembershipChanged(MembershipChangedEvent{AgentID: "a1", ServerID: "s1", Joined: true})

	require.True(t, b.Wait(time.Second))

	assert.Equal(t, "m9", (<-deleted).MessageID)

	ev := <-cleared
	assert.Equal(t, "c9", ev.ChannelID)
	assert.Equal(t, 3, ev.MemoryCount)

	m := <-membership
	assert.True(t, m.Joined)
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	b := New()
	b.PublishMessage(MessageEvent{ID: "m1"})
	assert.True(t, b.Wait(time.Second))
}
