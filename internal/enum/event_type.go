package enum

type EventType string

const (
	EventConnected     EventType = "connected"
	EventDisconnected  EventType = "disconnected"
	EventError         EventType = "error"
	EventEmailIngested EventType = "email.ingested"
	EventEmailUpdated  EventType = "email.updated"
	EventInterested    EventType = "email.interested"
)

func (e EventType) String() string {
	return string(e)
}
