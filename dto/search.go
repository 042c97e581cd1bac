package dto

import (
	"time"

	"github.com/customeros/mailpulse/internal/enum"
	"github.com/customeros/mailpulse/internal/models"
)

type EmailSearchFilter struct {
	AccountID string
	Folder    string
	Category  enum.EmailCategory
	IsRead    *bool
	From      *time.Time
	To        *time.Time
	// Query is matched against subject, body, sender and recipients.
	Query string
}

type Pagination struct {
	Offset int
	Limit  int
}

const (
	DefaultPageLimit = 25
	MaxPageLimit     = 200
)

func (p Pagination) Normalize() Pagination {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

type EmailPage struct {
	Items  []*models.EmailRecord `json:"items"`
	Total  int64                 `json:"total"`
	Offset int                   `json:"offset"`
	Limit  int                   `json:"limit"`
}
