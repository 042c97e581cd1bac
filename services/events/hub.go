package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/customeros/mailpulse/dto"
	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/logger"
	"github.com/customeros/mailpulse/internal/tracing"
)

const (
	SubscriberBuffer = 64
	outboxBuffer     = 256
)

// Subscription receives the events of one account, or of every account
// when AccountID is empty. C is closed on Unsubscribe or hub Close.
type Subscription struct {
	AccountID string
	C         <-chan dto.DomainEvent

	id      uint64
	ch      chan dto.DomainEvent
	dropped atomic.Uint64
}

// Dropped counts events discarded because the subscriber fell behind.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Hub fans domain events out to in-process subscribers and forwards them
// to the broker. Publish never blocks: slow subscribers lose events.
type Hub struct {
	log    logger.Logger
	broker interfaces.EventBroker

	mu          sync.RWMutex
	subscribers map[uint64]*Subscription
	nextID      uint64
	closed      bool

	outbox chan dto.DomainEvent
	done   chan struct{}
}

// NewHub starts the broker forwarder when broker is non-nil.
func NewHub(broker interfaces.EventBroker, log logger.Logger) *Hub {
	h := &Hub{
		log:         log,
		broker:      broker,
		subscribers: make(map[uint64]*Subscription),
		done:        make(chan struct{}),
	}
	if broker != nil {
		h.outbox = make(chan dto.DomainEvent, outboxBuffer)
		go h.forward()
	} else {
		close(h.done)
	}
	return h
}

var _ interfaces.EventPublisher = (*Hub)(nil)

func (h *Hub) Publish(ctx context.Context, event dto.DomainEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}

	h.deliverLocked(event)

	if h.outbox != nil {
		select {
		case h.outbox <- event:
		default:
			h.log.Warnf("[%s] broker outbox full, dropping %s event", event.AccountID, event.Type)
		}
	}
}

// Deliver hands an event that originated elsewhere to local subscribers
// only.
func (h *Hub) Deliver(event dto.DomainEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	h.deliverLocked(event)
}

func (h *Hub) deliverLocked(event dto.DomainEvent) {
	for _, sub := range h.subscribers {
		if sub.AccountID != "" && sub.AccountID != event.AccountID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			sub.dropped.Add(1)
		}
	}
}

func (h *Hub) Subscribe(accountID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan dto.DomainEvent, SubscriberBuffer)
	sub := &Subscription{AccountID: accountID, C: ch, ch: ch}
	if h.closed {
		close(ch)
		return sub
	}

	h.nextID++
	sub.id = h.nextID
	h.subscribers[sub.id] = sub
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[sub.id]; ok {
		delete(h.subscribers, sub.id)
		close(sub.ch)
	}
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close disconnects every subscriber and drains the broker outbox.
func (h *Hub) Close(ctx context.Context) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for id, sub := range h.subscribers {
		delete(h.subscribers, id)
		close(sub.ch)
	}
	if h.outbox != nil {
		close(h.outbox)
	}
	h.mu.Unlock()

	select {
	case <-h.done:
	case <-ctx.Done():
		h.log.Warn("Timed out draining broker outbox")
	}
}

func (h *Hub) forward() {
	defer close(h.done)
	defer tracing.RecoverAndLogToJaeger(h.log)

	for event := range h.outbox {
		if err := h.broker.PublishFanoutEvent(context.Background(), event); err != nil {
			h.log.Errorf("[%s] failed to forward %s event to broker: %v", event.AccountID, event.Type, err)
		}
	}
}
