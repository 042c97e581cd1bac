package dto

import "time"

// RawMessage is a message as fetched from the mail server. It is consumed
// once by the parser and then discarded.
type RawMessage struct {
	UID          uint32
	UIDValidity  uint32
	Folder       string
	Flags        []string
	InternalDate time.Time
	Size         uint32
	Body         []byte
	// ReadErr is set when the body could not be read completely; Body is
	// nil then.
	ReadErr error
}

type ParsedMessage struct {
	MessageID   string
	Subject     string
	FromName    string
	FromAddress string
	To          []string
	Cc          []string
	Bcc         []string
	SentAt      time.Time
	TextBody    string
	HTMLBody    string
	Headers     map[string]string
	Attachments int
}

// MailboxSnapshot is the result of selecting a folder.
type MailboxSnapshot struct {
	Folder      string
	UIDValidity uint32
	UIDNext     uint32
	Messages    uint32
}
