package interfaces

import (
	"context"
	"time"

	"github.com/customeros/mailpulse/dto"
	"github.com/customeros/mailpulse/internal/enum"
	"github.com/customeros/mailpulse/internal/models"
)

type AccountRepository interface {
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]*models.Account, error)
	ListActiveAccounts(ctx context.Context) ([]*models.Account, error)
	CreateAccount(ctx context.Context, account *models.Account) error
	SetActive(ctx context.Context, id string, active bool) error
	UpdateLastSync(ctx context.Context, id string, lastSync time.Time) error
	UpdateConnectionStatus(ctx context.Context, id string, state enum.ConnectionState, errorMessage string) error
	DeleteAccount(ctx context.Context, id string) error
}

type SyncStateRepository interface {
	GetSyncState(ctx context.Context, accountID, folder string) (*models.SyncState, error)
	SaveSyncState(ctx context.Context, state *models.SyncState) error
	DeleteAccountSyncStates(ctx context.Context, accountID string) error
}

// EmailIndex is the searchable store of email records.
type EmailIndex interface {
	ExistsByNaturalKey(ctx context.Context, accountID, messageID string) (bool, error)
	// Upsert reports false when a record with the same natural key already existed.
	Upsert(ctx context.Context, record *models.EmailRecord) (bool, error)
	Update(ctx context.Context, id string, fields map[string]interface{}) (*models.EmailRecord, error)
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*models.EmailRecord, error)
	Search(ctx context.Context, filter dto.EmailSearchFilter, page dto.Pagination) (*dto.EmailPage, error)
	DeleteByAccount(ctx context.Context, accountID string) error
}
