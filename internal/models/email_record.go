package models

import (
	"fmt"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/customeros/mailpulse/internal/enum"
	"github.com/customeros/mailpulse/internal/utils"
)

// Column limits of email_records; values are cut to fit before storing.
const (
	MaxMessageIDLength = 500
	MaxFolderLength    = 255
	MaxSubjectLength   = 1000
	MaxAddressLength   = 255
)

// EmailRecord is the searchable unit of the index. (AccountID, MessageID) is
// the natural key, enforced by a unique index.
type EmailRecord struct {
	ID        string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	AccountID string `gorm:"column:account_id;type:varchar(50);not null;uniqueIndex:idx_email_records_natural_key,priority:1" json:"accountId"`
	MessageID string `gorm:"column:message_id;type:varchar(500);not null;uniqueIndex:idx_email_records_natural_key,priority:2" json:"messageId"`
	ImapUID   uint32 `gorm:"column:imap_uid" json:"imapUid"`
	Folder    string `gorm:"column:folder;type:varchar(255);index;not null" json:"folder"`

	// Core email metadata
	Subject      string         `gorm:"column:subject;type:varchar(1000)" json:"subject"`
	FromAddress  string         `gorm:"column:from_address;type:varchar(255);index" json:"fromAddress"`
	FromName     string         `gorm:"column:from_name;type:varchar(255)" json:"fromName"`
	ToAddresses  pq.StringArray `gorm:"column:to_addresses;type:text[]" json:"toAddresses"`
	CcAddresses  pq.StringArray `gorm:"column:cc_addresses;type:text[]" json:"ccAddresses"`
	BccAddresses pq.StringArray `gorm:"column:bcc_addresses;type:text[]" json:"bccAddresses"`
	SentAt       time.Time      `gorm:"column:sent_at;type:timestamp;index;not null" json:"sentAt"`

	// Content
	BodyText      string  `gorm:"column:body_text;type:text" json:"bodyText"`
	BodyHTML      string  `gorm:"column:body_html;type:text" json:"bodyHtml"`
	HasAttachment bool    `gorm:"column:has_attachment;default:false" json:"hasAttachment"`
	RawHeaders    JSONMap `gorm:"column:raw_headers;type:jsonb" json:"-"`

	// Mailbox state
	IsRead    bool `gorm:"column:is_read;not null;default:false;index" json:"isRead"`
	IsFlagged bool `gorm:"column:is_flagged;not null;default:false" json:"isFlagged"`

	// Enrichment
	Category       enum.EmailCategory `gorm:"column:category;type:varchar(50);index" json:"category"`
	Confidence     float64            `gorm:"column:confidence" json:"confidence"`
	CategoryReason string             `gorm:"column:category_reason;type:text" json:"categoryReason"`
	SuggestedReply string             `gorm:"column:suggested_reply;type:text" json:"suggestedReply,omitempty"`

	// Standard timestamps
	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (EmailRecord) TableName() string {
	return "email_records"
}

// RawArchiveKey is where the original message bytes live in the raw archive.
func (e *EmailRecord) RawArchiveKey() string {
	return fmt.Sprintf("%s/%s.eml", e.AccountID, e.ID)
}

func (e *EmailRecord) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = utils.GenerateNanoIdWithPrefix("email", 24)
	}
	return nil
}

// EmailRecordUpdatableColumns maps API field names to the columns a partial
// update may touch. Everything else is immutable after ingestion.
var EmailRecordUpdatableColumns = map[string]string{
	"category":       "category",
	"confidence":     "confidence",
	"categoryReason": "category_reason",
	"suggestedReply": "suggested_reply",
	"isRead":         "is_read",
	"isFlagged":      "is_flagged",
	"folder":         "folder",
}
