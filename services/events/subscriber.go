package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"

	"github.com/customeros/mailpulse/dto"
	"github.com/customeros/mailpulse/internal/logger"
	"github.com/customeros/mailpulse/internal/tracing"
	"github.com/customeros/mailpulse/internal/utils"
)

// EventSink receives events published by other replicas.
type EventSink interface {
	Deliver(event dto.DomainEvent)
}

type SubscriberConfig struct {
	AppSource        string
	ReconnectBackoff time.Duration
}

// RabbitMQSubscriber binds a per-replica queue to the events exchange so
// live subscribers on this replica see events ingested by the others.
type RabbitMQSubscriber struct {
	connection      *amqp091.Connection
	connectionMutex sync.Mutex
	url             string
	logger          logger.Logger
	config          SubscriberConfig
	sink            EventSink
	cancel          context.CancelFunc
	done            chan struct{}
}

func NewRabbitMQSubscriber(rabbitmqURL string, logger logger.Logger, sink EventSink, config *SubscriberConfig) (*RabbitMQSubscriber, error) {
	if config == nil {
		config = &SubscriberConfig{}
	}
	if config.ReconnectBackoff <= 0 {
		config.ReconnectBackoff = 5 * time.Second
	}

	subscriber := &RabbitMQSubscriber{
		url:    rabbitmqURL,
		logger: logger,
		config: *config,
		sink:   sink,
		done:   make(chan struct{}),
	}

	if err := subscriber.connect(); err != nil {
		return nil, err
	}

	return subscriber, nil
}

// Listen consumes until Close. Reconnects on channel or connection loss.
func (r *RabbitMQSubscriber) Listen() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	go func() {
		defer close(r.done)
		for ctx.Err() == nil {
			err := r.consume(ctx)
			if ctx.Err() != nil {
				return
			}
			r.logger.Warnf("Event bridge consumer stopped: %v. Reconnecting...", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(r.config.ReconnectBackoff):
			}
			if connection := r.currentConnection(); connection == nil || connection.IsClosed() {
				if err := r.connect(); err != nil {
					r.logger.Errorf("Failed to reconnect event bridge: %v", err)
				}
			}
		}
	}()
}

func (r *RabbitMQSubscriber) consume(ctx context.Context) error {
	connection := r.currentConnection()
	if connection == nil || connection.IsClosed() {
		return errors.New("no connection")
	}

	channel, err := connection.Channel()
	if err != nil {
		return errors.Wrap(err, "Failed to open channel")
	}
	defer channel.Close()

	if err := declareExchanges(channel); err != nil {
		return err
	}

	// server-named, exclusive and auto-deleted with the connection
	queue, err := channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return errors.Wrap(err, "Failed to declare bridge queue")
	}
	if err := channel.QueueBind(queue.Name, "", ExchangeMailpulseEvents, false, nil); err != nil {
		return errors.Wrapf(err, "Failed to bind queue %s to exchange %s", queue.Name, ExchangeMailpulseEvents)
	}

	msgs, err := channel.Consume(
		queue.Name, // queue
		"",         // consumer tag
		true,       // auto-ack
		true,       // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		return errors.Wrapf(err, "Failed to register consumer on queue %s", queue.Name)
	}

	r.logger.Infof("Listening for replica events on queue %s", queue.Name)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			r.handleMessage(d)
		}
	}
}

func (r *RabbitMQSubscriber) handleMessage(d amqp091.Delivery) {
	defer tracing.RecoverAndLogToJaeger(r.logger)

	event, origin, err := DecodeEvent(d.Body)
	if err != nil {
		r.logger.Errorf("Failed to decode replica event: %v", err)
		return
	}
	if origin == r.config.AppSource {
		return
	}

	r.sink.Deliver(event)
}

// DecodeEvent unwraps a broker envelope and reports which replica sent it.
func DecodeEvent(body []byte) (dto.DomainEvent, string, error) {
	var envelope dto.Event
	if err := json.Unmarshal(body, &envelope); err != nil {
		return dto.DomainEvent{}, "", errors.Wrap(err, "failed to unmarshal message")
	}
	if envelope.Event.Id == "" || envelope.Event.EventType == "" {
		return dto.DomainEvent{}, "", errors.New("event id or type is empty")
	}

	ctx := utils.WithCustomContext(context.Background(), &utils.CustomContext{
		AppSource: envelope.Metadata.AppSource,
		AccountId: envelope.Event.AccountId,
	})
	_, span := tracing.StartRabbitMQMessageTracerSpanWithHeader(ctx, "RabbitMQSubscriber.DecodeEvent", envelope.Metadata.UberTraceId)
	span.LogKV("event_type", envelope.Event.EventType.String())
	span.Finish()

	occurredAt, err := time.Parse(time.RFC3339Nano, envelope.Metadata.Timestamp)
	if err != nil {
		occurredAt = time.Now().UTC()
	}

	return dto.DomainEvent{
		ID:         envelope.Event.Id,
		Type:       envelope.Event.EventType,
		AccountID:  envelope.Event.AccountId,
		EntityID:   envelope.Event.EntityId,
		OccurredAt: occurredAt,
		Data:       envelope.Event.Data,
	}, envelope.Metadata.AppSource, nil
}

func (r *RabbitMQSubscriber) connect() error {
	r.connectionMutex.Lock()
	defer r.connectionMutex.Unlock()

	connection, err := amqp091.Dial(r.url)
	if err != nil {
		return errors.Wrap(err, "Failed to connect to RabbitMQ")
	}
	r.connection = connection
	return nil
}

func (r *RabbitMQSubscriber) currentConnection() *amqp091.Connection {
	r.connectionMutex.Lock()
	defer r.connectionMutex.Unlock()
	return r.connection
}

func (r *RabbitMQSubscriber) Close() error {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}

	r.connectionMutex.Lock()
	defer r.connectionMutex.Unlock()

	if r.connection != nil && !r.connection.IsClosed() {
		return r.connection.Close()
	}
	return nil
}
