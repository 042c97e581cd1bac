package interfaces

import (
	"context"

	"github.com/customeros/mailpulse/dto"
)

type Notifier interface {
	Notify(ctx context.Context, event dto.NotificationEvent)
}
