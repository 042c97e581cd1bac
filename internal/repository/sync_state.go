package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/models"
	"github.com/customeros/mailpulse/internal/tracing"
)

type syncStateRepository struct {
	db *gorm.DB
}

func NewSyncStateRepository(db *gorm.DB) interfaces.SyncStateRepository {
	return &syncStateRepository{db: db}
}

// GetSyncState returns nil when the folder was never synced
func (r *syncStateRepository) GetSyncState(ctx context.Context, accountID, folder string) (*models.SyncState, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.GetSyncState")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	var state models.SyncState
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND folder = ?", accountID, folder).
		First(&state).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}

	return &state, nil
}

func (r *syncStateRepository) SaveSyncState(ctx context.Context, state *models.SyncState) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.SaveSyncState")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, state.AccountID)
	span.LogKV("folder", state.Folder, "uidValidity", state.UIDValidity, "lastUid", state.LastUID)

	if state.LastSync.IsZero() {
		state.LastSync = time.Now().UTC()
	}

	// Try to update first
	result := r.db.WithContext(ctx).
		Model(&models.SyncState{}).
		Where("account_id = ? AND folder = ?", state.AccountID, state.Folder).
		Updates(map[string]interface{}{
			"uid_validity":   state.UIDValidity,
			"last_uid":       state.LastUID,
			"retry_uid":      state.RetryUID,
			"retry_attempts": state.RetryAttempts,
			"last_sync":      state.LastSync,
			"updated_at":     time.Now().UTC(),
		})

	if result.Error == nil && result.RowsAffected == 0 {
		result = r.db.WithContext(ctx).Create(state)
	}

	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to save sync state: %w", result.Error)
	}

	return nil
}

func (r *syncStateRepository) DeleteAccountSyncStates(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.DeleteAccountSyncStates")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Delete(&models.SyncState{}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to delete sync states: %w", err)
	}

	return nil
}
