package dto

import (
	"time"

	"github.com/customeros/mailpulse/internal/enum"
)

type NotificationEvent struct {
	EventType  enum.EventType     `json:"eventType"`
	AccountID  string             `json:"accountId"`
	EmailID    string             `json:"emailId"`
	Sender     string             `json:"sender"`
	Subject    string             `json:"subject"`
	Category   enum.EmailCategory `json:"category"`
	Confidence float64            `json:"confidence"`
	Timestamp  time.Time          `json:"timestamp"`
}
