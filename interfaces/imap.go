package interfaces

import (
	"context"
	"time"

	"github.com/customeros/mailpulse/dto"
	"github.com/customeros/mailpulse/internal/models"
)

// MessageFetcher retrieves raw messages by UID from the selected folder.
type MessageFetcher interface {
	Fetch(ctx context.Context, uids []uint32) ([]*dto.RawMessage, error)
}

// MailConnection is one authenticated connection to a mail server.
type MailConnection interface {
	MessageFetcher
	SupportsIdle() bool
	Select(ctx context.Context, folder string) (*dto.MailboxSnapshot, error)
	ListSince(ctx context.Context, since time.Time) ([]uint32, error)
	ListAfterUID(ctx context.Context, uid uint32) ([]uint32, error)
	// WaitForChange blocks until the server reports a change (true), the
	// timeout elapses (false), ctx is done or the connection fails.
	WaitForChange(ctx context.Context, timeout time.Duration) (bool, error)
	Noop(ctx context.Context) error
	Close() error
}

type MailDialer interface {
	Dial(ctx context.Context, account *models.Account) (MailConnection, error)
}

type SyncSupervisor interface {
	Start(ctx context.Context) error
	Stop() error
	AddAccount(ctx context.Context, accountID string) error
	RemoveAccount(ctx context.Context, accountID string) error
	RequestSync(accountID string) (dto.SyncRequestOutcome, error)
	Status() map[string]dto.AccountSyncStatus
	AccountStatus(accountID string) (dto.AccountSyncStatus, bool)
}
