package dto

import "github.com/customeros/mailpulse/internal/enum"

// Event is the envelope written to the broker.
type Event struct {
	Event    EventDetails  `json:"event"`
	Metadata EventMetadata `json:"metadata"`
}

type EventDetails struct {
	Id        string         `json:"id"`
	AccountId string         `json:"accountId"`
	EntityId  string         `json:"entityId,omitempty"`
	EventType enum.EventType `json:"eventType"`
	Data      interface{}    `json:"data,omitempty"`
}

type EventMetadata struct {
	UberTraceId string `json:"uber-trace-id"`
	AppSource   string `json:"appSource"`
	Timestamp   string `json:"timestamp"`
}
