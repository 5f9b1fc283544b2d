package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvEvent(t *testing.T, sub Subscriber) *Event {
	t.Helper()
	select {
	case ev := <-sub:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestPublishReachesSubscriber(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Publish(&Event{Type: EventTestStart, Metadata: map[string]string{"test_id": "t1"}})

	ev := recvEvent(t, sub)
	assert.Equal(t, EventTestStart, ev.Type)
	assert.Equal(t, "t1", ev.Metadata["test_id"])
	assert.False(t, ev.Timestamp.IsZero())
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	first := b.Subscribe()
	second := b.Subscribe()
	require.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{Type: EventRunStart})

	assert.Equal(t, EventRunStart, recvEvent(t, first).Type)
	assert.Equal(t, EventRunStart, recvEvent(t, second).Type)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)

	_, open := <-sub
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestEventPublishedAtStopStillDelivered(t *testing.T) {
	b := NewBroker()
	b.Start()

	sub := b.Subscribe()
	b.Publish(&Event{Type: EventRunFinished, Metadata: map[string]string{"pass": "3"}})
	b.Stop()

	ev := recvEvent(t, sub)
	assert.Equal(t, EventRunFinished, ev.Type)
	assert.Equal(t, "3", ev.Metadata["pass"])
}
