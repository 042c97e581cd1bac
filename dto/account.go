package dto

import "github.com/customeros/mailpulse/internal/enum"

type CreateAccountRequest struct {
	EmailAddress string            `json:"emailAddress" binding:"required"`
	DisplayName  string            `json:"displayName"`
	ImapServer   string            `json:"imapServer" binding:"required"`
	ImapPort     int               `json:"imapPort"`
	ImapUsername string            `json:"imapUsername"`
	ImapPassword string            `json:"imapPassword" binding:"required"`
	ImapSecurity enum.ImapSecurity `json:"imapSecurity"`
	Folder       string            `json:"folder"`
	// Active defaults to true.
	Active *bool `json:"active"`
}

// ReconcileResult lists what a reconciliation pass changed.
type ReconcileResult struct {
	Started []string `json:"started"`
	Stopped []string `json:"stopped"`
}
