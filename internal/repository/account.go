package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/enum"
	"github.com/customeros/mailpulse/internal/models"
	"github.com/customeros/mailpulse/internal/tracing"
)

type accountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) interfaces.AccountRepository {
	return &accountRepository{db: db}
}

// GetAccount returns nil, nil when the account does not exist
func (r *accountRepository) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.GetAccount")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, id)

	var account models.Account
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return &account, nil
}

func (r *accountRepository) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.ListAccounts")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	var accounts []*models.Account
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&accounts).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	span.LogKV("result.count", len(accounts))
	return accounts, nil
}

func (r *accountRepository) ListActiveAccounts(ctx context.Context) ([]*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.ListActiveAccounts")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	var accounts []*models.Account
	if err := r.db.WithContext(ctx).Where("active = ?", true).Find(&accounts).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list active accounts: %w", err)
	}

	span.LogKV("result.count", len(accounts))
	return accounts, nil
}

func (r *accountRepository) CreateAccount(ctx context.Context, account *models.Account) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.CreateAccount")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	if err := r.db.WithContext(ctx).Create(account).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to create account: %w", err)
	}

	tracing.TagAccount(span, account.ID)
	return nil
}

func (r *accountRepository) SetActive(ctx context.Context, id string, active bool) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.SetActive")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, id)
	span.LogKV("active", active)

	return r.updateColumns(ctx, span, id, map[string]interface{}{"active": active})
}

// UpdateLastSync only moves lastSync forward.
func (r *accountRepository) UpdateLastSync(ctx context.Context, id string, lastSync time.Time) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.UpdateLastSync")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, id)

	err := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ? AND (last_sync IS NULL OR last_sync < ?)", id, lastSync).
		Updates(map[string]interface{}{
			"last_sync":  lastSync,
			"updated_at": time.Now().UTC(),
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to update last sync: %w", err)
	}

	return nil
}

func (r *accountRepository) UpdateConnectionStatus(ctx context.Context, id string, state enum.ConnectionState, errorMessage string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.UpdateConnectionStatus")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, id)
	span.LogKV("state", state.String())

	return r.updateColumns(ctx, span, id, map[string]interface{}{
		"connection_status": state,
		"error_message":     errorMessage,
	})
}

func (r *accountRepository) DeleteAccount(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.DeleteAccount")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, id)

	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Account{}).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to delete account: %w", err)
	}

	return nil
}

func (r *accountRepository) updateColumns(ctx context.Context, span opentracing.Span, id string, columns map[string]interface{}) error {
	columns["updated_at"] = time.Now().UTC()
	err := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Updates(columns).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to update account: %w", err)
	}
	return nil
}
