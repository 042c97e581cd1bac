package events

import (
	"context"
	"fmt"

	"github.com/customeros/mailpulse/config"
	"github.com/customeros/mailpulse/internal/logger"
)

type EventsService struct {
	Hub        *Hub
	Publisher  *RabbitMQPublisher
	Subscriber *RabbitMQSubscriber
}

// NewEventsService always provides the in-process hub. The broker is
// optional: without RABBITMQ_URL events stay local to this replica.
func NewEventsService(cfg *config.RabbitMQConfig, appSource string, log logger.Logger) (*EventsService, error) {
	if cfg == nil || cfg.URL == "" {
		log.Info("RabbitMQ not configured, events are delivered in-process only")
		return &EventsService{Hub: NewHub(nil, log)}, nil
	}

	publisher, err := NewRabbitMQPublisher(cfg.URL, log, DefaultPublisherConfig(appSource))
	if err != nil {
		return nil, err
	}

	hub := NewHub(publisher, log)
	subscriber, err := NewRabbitMQSubscriber(cfg.URL, log, hub, &SubscriberConfig{AppSource: appSource})
	if err != nil {
		hub.Close(context.Background())
		_ = publisher.Close()
		return nil, err
	}
	subscriber.Listen()

	return &EventsService{
		Hub:        hub,
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

func (s *EventsService) Close(ctx context.Context) error {
	var errs []error

	if s.Subscriber != nil {
		if err := s.Subscriber.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if s.Hub != nil {
		s.Hub.Close(ctx)
	}

	if s.Publisher != nil {
		if err := s.Publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing events service: %v", errs)
	}

	return nil
}
