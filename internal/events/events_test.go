package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesPublishedEvents(t *testing.T) {
	b := NewBus(nil)
	sub := b.Subscribe(4)
	defer sub.Close()

	b.Publish(Event{Category: CategoryPlugin, Type: "started"})

	select {
	case ev := <-sub.C():
		assert.Equal(t, CategoryPlugin, ev.Category)
		assert.Equal(t, "started", ev.Type)
		assert.False(t, ev.Time.IsZero(), "Publish must stamp a zero time")
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the published event")
	}
}

func TestPublishDropsRatherThanBlocksOnFullSubscriberChannel(t *testing.T) {
	b := NewBus(nil)
	sub := b.Subscribe(1)
	defer sub.Close()

	b.Publish(Event{Type: "first"})
	b.Publish(Event{Type: "second"})

	stats := b.Stats()
	assert.Equal(t, uint64(2), stats.Published)
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Equal(t, uint64(1), stats.PerSubscriberDrops[sub.ID()])
}

func TestUnsubscribeStopsDeliveryAndClosesChannel(t *testing.T) {
	b := NewBus(nil)
	sub := b.Subscribe(4)
	b.Unsubscribe(sub)

	_, open := <-sub.C()
	assert.False(t, open, "the subscriber's channel must be closed on Unsubscribe")

	b.Publish(Event{Type: "after-unsubscribe"})
	assert.Equal(t, int64(0), b.Stats().Subscribers)
}

func TestStatsReflectsLiveSubscriberCount(t *testing.T) {
	b := NewBus(nil)
	require.Equal(t, int64(0), b.Stats().Subscribers)

	a := b.Subscribe(1)
	_ = b.Subscribe(1)
	assert.Equal(t, int64(2), b.Stats().Subscribers)

	a.Close()
	assert.Equal(t, int64(1), b.Stats().Subscribers)
}
