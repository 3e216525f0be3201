package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesPublishedEvent(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Type: EventBranchChanged, Message: "branch updated"})

	select {
	case got := <-sub:
		assert.Equal(t, EventBranchChanged, got.Type)
		assert.False(t, got.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBlockWrittenEventsForSameLocatorCoalesce(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	for i := 0; i < 5; i++ {
		b.Publish(&Event{Type: EventBlockWritten, Metadata: map[string]string{"locator": "loc-a"}})
	}
	// Let the broadcast loop drain the single surviving event before the
	// next assertion, since coalescing only blocks enqueue while one is
	// already pending.
	time.Sleep(50 * time.Millisecond)

	select {
	case got := <-sub:
		assert.Equal(t, EventBlockWritten, got.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for coalesced event")
	}

	select {
	case <-sub:
		t.Fatal("expected only one coalesced BlockWritten event")
	default:
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())
	b.Unsubscribe(sub)
	require.Equal(t, 0, b.SubscriberCount())

	b.Publish(&Event{Type: EventPeerSetChanged})

	select {
	case _, ok := <-sub:
		assert.False(t, ok, "channel should be closed, not deliver an event")
	case <-time.After(time.Second):
		t.Fatal("channel was neither closed nor delivered to")
	}
}
