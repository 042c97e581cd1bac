package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/customeros/mailpulse/internal/enum"
	"github.com/customeros/mailpulse/internal/utils"
)

// Account is a remote mailbox watched by the sync engine.
type Account struct {
	ID           string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	EmailAddress string `gorm:"column:email_address;type:varchar(255);uniqueIndex;not null" json:"emailAddress"`
	DisplayName  string `gorm:"column:display_name;type:varchar(255)" json:"displayName"`
	// IMAP Configuration
	ImapServer   string            `gorm:"column:imap_server;type:varchar(255);not null" json:"imapServer"`
	ImapPort     int               `gorm:"column:imap_port;not null" json:"imapPort"`
	ImapUsername string            `gorm:"column:imap_username;type:varchar(255);not null" json:"imapUsername"`
	ImapPassword string            `gorm:"column:imap_password;type:varchar(255);not null" json:"-"`
	ImapSecurity enum.ImapSecurity `gorm:"column:imap_security;type:varchar(20);not null;default:tls" json:"imapSecurity"`
	Folder       string            `gorm:"column:folder;type:varchar(255);not null;default:INBOX" json:"folder"`
	// Status Information
	Active           bool                 `gorm:"column:active;not null;default:true;index" json:"active"`
	LastSync         *time.Time           `gorm:"column:last_sync;type:timestamp" json:"lastSync"`
	ConnectionStatus enum.ConnectionState `gorm:"column:connection_status;type:varchar(20)" json:"connectionStatus"`
	ErrorMessage     string               `gorm:"column:error_message;type:text" json:"errorMessage"`
	// Standard timestamps
	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (Account) TableName() string {
	return "accounts"
}

func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = utils.GenerateNanoIdWithPrefix("acct", 16)
	}
	if a.Folder == "" {
		a.Folder = "INBOX"
	}
	if a.ImapSecurity == "" {
		a.ImapSecurity = enum.ImapSecurityTLS
	}
	return nil
}

func (a *Account) ImapAddress() string {
	return fmt.Sprintf("%s:%d", a.ImapServer, a.ImapPort)
}
