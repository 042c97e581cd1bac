package interfaces

import (
	"context"

	"github.com/customeros/mailpulse/dto"
)

type EventPublisher interface {
	Publish(ctx context.Context, event dto.DomainEvent)
}

type EventBroker interface {
	PublishFanoutEvent(ctx context.Context, event dto.DomainEvent) error
	Close() error
}
