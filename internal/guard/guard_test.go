package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBegin_SupersedesPriorToken(t *testing.T) {
	g := New()

	first := g.Begin("room-1")
	assert.True(t, g.IsCurrent("room-1", first))

	second := g.Begin("room-1")
	assert.False(t, g.IsCurrent("room-1", first))
	assert.True(t, g.IsCurrent("room-1", second))
}

func TestRoomsAreIndependent(t *testing.T) {
	g := New()

	t1 := g.Begin("room-1")
	t2 := g.Begin("room-2")

	assert.True(t, g.IsCurrent("room-1", t1))
	assert.True(t, g.IsCurrent("room-2", t2))

	g.Begin("room-1")
	assert.False(t, g.IsCurrent("room-1", t1))
	assert.True(t, g.IsCurrent("room-2", t2))
}

func TestEmptyTokenIsNeverCurrent(t *testing.T) {
	g := New()
	assert.False(t, g.IsCurrent("room-1", ""))
}

func TestFinish_OnlyReleasesOwnToken(t *testing.T) {
	g := New()

	stale := g.Begin("room-1")
	fresh := g.Begin("room-1")

	// A superseded task finishing must not clear the fresh token.
	g.Finish("room-1", stale)
	assert.True(t, g.IsCurrent("room-1", fresh))
	assert.Equal(t, 1, g.Len())

	g.Finish("room-1", fresh)
	assert.Equal(t, 0, g.Len())
}
