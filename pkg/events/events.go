package events

import (
	"sync"
	"time"

	"github.com/ouisync/ouisync/pkg/metrics"
)

// EventType identifies what changed (spec.md §4.9's subscribe_events
// stream: BlockWritten | BranchChanged | PeerSetChanged).
type EventType string

const (
	// EventBlockWritten fires once per distinct locator written to the
	// local branch; repeated writes to the same locator before a
	// subscriber drains them coalesce into one event.
	EventBlockWritten EventType = "block.written"
	// EventBranchChanged fires whenever any branch (local or remote)
	// accepts a new root.
	EventBranchChanged EventType = "branch.changed"
	// EventPeerSetChanged fires when a peer is added, demoted, or
	// otherwise changes reconciliation state.
	EventPeerSetChanged EventType = "peer.set_changed"
)

// Event is one notification delivered to every subscriber.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker fans out events to every subscriber without blocking on any one
// of them, and coalesces back-to-back BlockWritten events for the same
// locator into a single delivery.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}

	coalesceMu      sync.Mutex
	pendingLocators map[string]bool
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers:     make(map[Subscriber]bool),
		eventCh:         make(chan *Event, 100),
		stopCh:          make(chan struct{}),
		pendingLocators: make(map[string]bool),
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers. A BlockWritten event
// whose locator (event.Metadata["locator"]) already has an undelivered
// event queued is dropped rather than enqueued again, so a burst of
// writes to the same block surfaces as one notification.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if event.Type == EventBlockWritten {
		locator := event.Metadata["locator"]
		b.coalesceMu.Lock()
		if b.pendingLocators[locator] {
			b.coalesceMu.Unlock()
			metrics.EventsCoalescedTotal.Inc()
			return
		}
		b.pendingLocators[locator] = true
		b.coalesceMu.Unlock()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	if event.Type == EventBlockWritten {
		b.coalesceMu.Lock()
		delete(b.pendingLocators, event.Metadata["locator"])
		b.coalesceMu.Unlock()
	}
	metrics.EventsPublishedTotal.WithLabelValues(string(event.Type)).Inc()

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip.
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
