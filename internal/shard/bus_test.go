package shard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordlitegateway/internal/dispatch"
)

func note(shard int, e dispatch.Event) dispatch.Notification {
	return dispatch.Notification{Shard: shard, Event: e}
}

func TestBus_DeliversInOrder(t *testing.T) {
	bus := NewBus(8, zap.NewNop())
	sub := bus.Subscribe()

	bus.Publish(note(0, ShardStateChanged{From: "disconnected", To: "connecting"}))
	bus.Publish(note(0, dispatch.Resumed{}))
	bus.Publish(note(1, ShardSessionInvalidated{}))

	got := []string{(<-sub.C).Event.Name(), (<-sub.C).Event.Name(), (<-sub.C).Event.Name()}
	assert.Equal(t, []string{EventShardStateChanged, dispatch.EventResumed, EventShardSessionInvalidated}, got)
}

func TestBus_FiltersByEventName(t *testing.T) {
	bus := NewBus(8, zap.NewNop())
	resumed := bus.Subscribe(dispatch.EventResumed)
	all := bus.Subscribe()

	bus.Publish(note(0, ShardSessionInvalidated{}))
	bus.Publish(note(2, dispatch.Resumed{}))

	n := <-resumed.C
	assert.Equal(t, 2, n.Shard)
	assert.Empty(t, resumed.C)
	assert.Len(t, all.C, 2)
}

func TestBus_FullSubscriberDropsWithoutBlocking(t *testing.T) {
	bus := NewBus(1, zap.NewNop())
	slow := bus.Subscribe()
	fast := bus.Subscribe()

	bus.Publish(note(0, dispatch.Resumed{}))
	<-fast.C
	bus.Publish(note(0, dispatch.Resumed{}))

	stats := bus.Stats()
	assert.Equal(t, 2, stats.Subscribers)
	assert.Equal(t, uint64(2), stats.Published)
	assert.Equal(t, uint64(3), stats.Delivered)
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Len(t, slow.C, 1)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(4, zap.NewNop())
	sub := bus.Subscribe()

	require.True(t, bus.Unsubscribe(sub.ID))
	assert.False(t, bus.Unsubscribe(sub.ID))

	_, open := <-sub.C
	assert.False(t, open)

	bus.Publish(note(0, dispatch.Resumed{}))
	assert.Equal(t, 0, bus.Stats().Subscribers)
}

func TestBus_Close(t *testing.T) {
	bus := NewBus(4, zap.NewNop())
	sub := bus.Subscribe()
	bus.Close()

	_, open := <-sub.C
	assert.False(t, open)

	late := bus.Subscribe()
	_, open = <-late.C
	assert.False(t, open)
	assert.False(t, bus.Unsubscribe(late.ID))
}
