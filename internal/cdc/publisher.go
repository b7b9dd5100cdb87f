package cdc

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pgqlgate/pgqlgate/internal/observability"
)

const (
	// defaultSubscriberBuffer is the per-subscriber channel capacity when the
	// configuration does not set one. A subscriber that falls this far behind
	// gets an ERROR event instead of blocking the replication stream.
	defaultSubscriberBuffer = 64

	// defaultHeartbeatInterval is how often idle subscribers receive a
	// heartbeat when the configuration does not set one.
	defaultHeartbeatInterval = 30 * time.Second
)

// Subscription is one subscriber's view of a table's change stream
type Subscription struct {
	id      string
	table   string
	events  chan Event
	pub     *Publisher
	closed  bool
	mu      sync.Mutex
	dropped bool
}

// C returns the event channel. It closes when the subscription is closed or
// the publisher shuts down.
func (s *Subscription) C() <-chan Event {
	return s.events
}

// Close detaches the subscription from the publisher
func (s *Subscription) Close() {
	s.pub.unsubscribe(s)
}

// deliver hands an event to the subscriber without blocking. On overflow the
// event is dropped and a single ERROR event takes the place of the oldest
// buffered one; the subscriber decides whether to resubscribe or tear down.
func (s *Subscription) deliver(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.events <- event:
		s.dropped = false
	default:
		if s.dropped {
			return
		}
		s.dropped = true

		// Evict the oldest buffered event so the error always fits
		select {
		case <-s.events:
		default:
		}
		errEvent := Event{
			Schema:    event.Schema,
			Table:     s.table,
			Operation: OpError,
			Timestamp: time.Now().UTC(),
			Error:     "subscriber too slow; change events were dropped",
		}
		select {
		case s.events <- errEvent:
		default:
		}
		s.pub.noteDropped(s.table)
		log.Warn().
			Str("subscription_id", s.id).
			Str("table", s.table).
			Msg("Dropped change event for slow subscriber")
	}
}

func (s *Subscription) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}

// Publisher fans change events out to per-table subscribers
type Publisher struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*Subscription // table → subscription id
	stopped     bool
	stop        chan struct{}
	bufferSize  int
	heartbeat   time.Duration
	metrics     *observability.Metrics
}

// SetMetrics attaches the metrics recorder
func (p *Publisher) SetMetrics(m *observability.Metrics) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics = m
}

// totalSubscribersLocked counts subscriptions across all tables. Callers hold
// at least a read lock.
func (p *Publisher) totalSubscribersLocked() int {
	total := 0
	for _, subs := range p.subscribers {
		total += len(subs)
	}
	return total
}

// NewPublisher creates a publisher and starts its heartbeat loop
func NewPublisher(bufferSize int, heartbeat time.Duration) *Publisher {
	if bufferSize < 1 {
		bufferSize = defaultSubscriberBuffer
	}
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	p := &Publisher{
		subscribers: make(map[string]map[string]*Subscription),
		stop:        make(chan struct{}),
		bufferSize:  bufferSize,
		heartbeat:   heartbeat,
	}
	go p.heartbeatLoop()
	return p
}

// Subscribe registers a subscriber for one table's change stream
func (p *Publisher) Subscribe(table string) *Subscription {
	sub := &Subscription{
		id:     uuid.New().String(),
		table:  table,
		events: make(chan Event, p.bufferSize),
		pub:    p,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		sub.shutdown()
		return sub
	}
	if p.subscribers[table] == nil {
		p.subscribers[table] = make(map[string]*Subscription)
	}
	p.subscribers[table][sub.id] = sub
	if p.metrics != nil {
		p.metrics.UpdateSubscriptions(p.totalSubscribersLocked())
	}

	log.Debug().
		Str("subscription_id", sub.id).
		Str("table", table).
		Msg("Change subscription registered")
	return sub
}

func (p *Publisher) unsubscribe(sub *Subscription) {
	p.mu.Lock()
	if subs, ok := p.subscribers[sub.table]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(p.subscribers, sub.table)
		}
	}
	if p.metrics != nil {
		p.metrics.UpdateSubscriptions(p.totalSubscribersLocked())
	}
	p.mu.Unlock()

	sub.shutdown()
}

// Publish delivers one event to the table's subscribers
func (p *Publisher) Publish(event Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.metrics != nil {
		p.metrics.RecordChangeEvent(event.Table, string(event.Operation))
	}
	for _, sub := range p.subscribers[event.Table] {
		sub.deliver(event)
	}
}

// noteDropped runs from deliver, which only executes while Publish or
// Broadcast holds the read lock, so metrics is stable here.
func (p *Publisher) noteDropped(table string) {
	if p.metrics != nil {
		p.metrics.RecordDroppedEvent(table)
	}
}

// Broadcast delivers one event to every subscriber regardless of table,
// stamping each copy with the subscriber's table. Used for heartbeats and
// stream-level errors.
func (p *Publisher) Broadcast(event Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for table, subs := range p.subscribers {
		for _, sub := range subs {
			perTable := event
			perTable.Table = table
			sub.deliver(perTable)
		}
	}
}

// SubscriberCount reports active subscriptions for a table
func (p *Publisher) SubscriberCount(table string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscribers[table])
}

// Shutdown closes every subscription and stops the heartbeat loop
func (p *Publisher) Shutdown() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.stop)

	var all []*Subscription
	for _, subs := range p.subscribers {
		for _, sub := range subs {
			all = append(all, sub)
		}
	}
	p.subscribers = make(map[string]map[string]*Subscription)
	if p.metrics != nil {
		p.metrics.UpdateSubscriptions(0)
	}
	p.mu.Unlock()

	for _, sub := range all {
		sub.shutdown()
	}
}

func (p *Publisher) heartbeatLoop() {
	ticker := time.NewTicker(p.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.Broadcast(Event{
				Operation: OpHeartbeat,
				Timestamp: time.Now().UTC(),
			})
		}
	}
}
