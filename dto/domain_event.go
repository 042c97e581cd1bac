package dto

import (
	"time"

	"github.com/customeros/mailpulse/internal/enum"
)

// DomainEvent is broadcast to live subscribers of an account.
type DomainEvent struct {
	ID         string         `json:"id"`
	Type       enum.EventType `json:"type"`
	AccountID  string         `json:"accountId"`
	EntityID   string         `json:"entityId,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
	Data       interface{}    `json:"data,omitempty"`
}

type ConnectionEventData struct {
	State enum.ConnectionState `json:"state"`
	Mode  string               `json:"mode,omitempty"`
	Error string               `json:"error,omitempty"`
}

type EmailIngestedEventData struct {
	MessageID  string             `json:"messageId"`
	Subject    string             `json:"subject"`
	From       string             `json:"from"`
	Folder     string             `json:"folder"`
	Category   enum.EmailCategory `json:"category"`
	Confidence float64            `json:"confidence"`
	SentAt     time.Time          `json:"sentAt"`
}

type EmailUpdatedEventData struct {
	Fields []string `json:"fields"`
}
