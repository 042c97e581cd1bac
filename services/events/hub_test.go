package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailpulse/dto"
	"github.com/customeros/mailpulse/internal/enum"
	"github.com/customeros/mailpulse/internal/logger"
)

type recordingBroker struct {
	mu     sync.Mutex
	events []dto.DomainEvent
	err    error
}

func (b *recordingBroker) PublishFanoutEvent(ctx context.Context, event dto.DomainEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return b.err
}

func (b *recordingBroker) Close() error { return nil }

func (b *recordingBroker) published() []dto.DomainEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]dto.DomainEvent(nil), b.events...)
}

func receive(t *testing.T, sub *Subscription) dto.DomainEvent {
	t.Helper()
	select {
	case event := <-sub.C:
		return event
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return dto.DomainEvent{}
	}
}

func assertNothing(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case event := <-sub.C:
		t.Fatalf("unexpected event %+v", event)
	default:
	}
}

func TestHub_PublishFillsIdentity(t *testing.T) {
	hub := NewHub(nil, logger.NewNopLogger())
	sub := hub.Subscribe("acct_1")

	hub.Publish(context.Background(), dto.DomainEvent{Type: enum.EventConnected, AccountID: "acct_1"})

	event := receive(t, sub)
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.OccurredAt.IsZero())
	assert.Equal(t, enum.EventConnected, event.Type)
}

func TestHub_FiltersByAccount(t *testing.T) {
	hub := NewHub(nil, logger.NewNopLogger())
	mine := hub.Subscribe("acct_1")
	other := hub.Subscribe("acct_2")
	all := hub.Subscribe("")

	hub.Publish(context.Background(), dto.DomainEvent{Type: enum.EventEmailIngested, AccountID: "acct_1"})

	assert.Equal(t, "acct_1", receive(t, mine).AccountID)
	assert.Equal(t, "acct_1", receive(t, all).AccountID)
	assertNothing(t, other)
}

func TestHub_SlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	hub := NewHub(nil, logger.NewNopLogger())
	slow := hub.Subscribe("")

	done := make(chan struct{})
	go func() {
		for i := 0; i < SubscriberBuffer+10; i++ {
			hub.Publish(context.Background(), dto.DomainEvent{Type: enum.EventEmailIngested, AccountID: "acct_1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Equal(t, uint64(10), slow.Dropped())
	assert.Len(t, slow.C, SubscriberBuffer)
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub(nil, logger.NewNopLogger())
	sub := hub.Subscribe("acct_1")
	require.Equal(t, 1, hub.SubscriberCount())

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)

	_, open := <-sub.C
	assert.False(t, open)
	assert.Equal(t, 0, hub.SubscriberCount())
	assert.NotPanics(t, func() {
		hub.Publish(context.Background(), dto.DomainEvent{Type: enum.EventConnected, AccountID: "acct_1"})
	})
}

func TestHub_ForwardsToBroker(t *testing.T) {
	broker := &recordingBroker{}
	hub := NewHub(broker, logger.NewNopLogger())

	hub.Publish(context.Background(), dto.DomainEvent{Type: enum.EventConnected, AccountID: "acct_1"})
	hub.Publish(context.Background(), dto.DomainEvent{Type: enum.EventDisconnected, AccountID: "acct_1"})
	hub.Close(context.Background())

	published := broker.published()
	require.Len(t, published, 2)
	assert.Equal(t, enum.EventConnected, published[0].Type)
	assert.Equal(t, enum.EventDisconnected, published[1].Type)
}

func TestHub_BrokerFailureDoesNotAffectLocalDelivery(t *testing.T) {
	broker := &recordingBroker{err: errors.New("broker down")}
	hub := NewHub(broker, logger.NewNopLogger())
	sub := hub.Subscribe("acct_1")

	hub.Publish(context.Background(), dto.DomainEvent{Type: enum.EventError, AccountID: "acct_1"})

	assert.Equal(t, enum.EventError, receive(t, sub).Type)
	hub.Close(context.Background())
}

func TestHub_DeliverSkipsBroker(t *testing.T) {
	broker := &recordingBroker{}
	hub := NewHub(broker, logger.NewNopLogger())
	sub := hub.Subscribe("")

	hub.Deliver(dto.DomainEvent{ID: "evt-1", Type: enum.EventEmailIngested, AccountID: "acct_9"})
	hub.Close(context.Background())

	assert.Equal(t, "evt-1", receive(t, sub).ID)
	assert.Empty(t, broker.published())
}

func TestHub_CloseDisconnectsSubscribers(t *testing.T) {
	hub := NewHub(nil, logger.NewNopLogger())
	sub := hub.Subscribe("")

	hub.Close(context.Background())

	_, open := <-sub.C
	assert.False(t, open)

	late := hub.Subscribe("")
	_, open = <-late.C
	assert.False(t, open)
}

func TestDecodeEvent(t *testing.T) {
	occurred := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	body, err := json.Marshal(dto.Event{
		Event: dto.EventDetails{
			Id:        "evt-1",
			AccountId: "acct_1",
			EntityId:  "email_1",
			EventType: enum.EventEmailIngested,
			Data:      map[string]interface{}{"subject": "hi"},
		},
		Metadata: dto.EventMetadata{AppSource: "pod-a", Timestamp: occurred.Format(time.RFC3339Nano)},
	})
	require.NoError(t, err)

	event, origin, err := DecodeEvent(body)

	require.NoError(t, err)
	assert.Equal(t, "pod-a", origin)
	assert.Equal(t, "evt-1", event.ID)
	assert.Equal(t, "email_1", event.EntityID)
	assert.True(t, occurred.Equal(event.OccurredAt))
	assert.Equal(t, "hi", event.Data.(map[string]interface{})["subject"])

	_, _, err = DecodeEvent([]byte(`{"event":{}}`))
	assert.Error(t, err)
}
