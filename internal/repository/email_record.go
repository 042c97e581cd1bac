package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/customeros/mailpulse/dto"
	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/enum"
	mperrors "github.com/customeros/mailpulse/internal/errors"
	"github.com/customeros/mailpulse/internal/models"
	"github.com/customeros/mailpulse/internal/tracing"
)

const (
	searchDocumentSQL = `to_tsvector('simple',
		coalesce(subject, '') || ' ' ||
		coalesce(body_text, '') || ' ' ||
		coalesce(from_name, '') || ' ' ||
		coalesce(from_address, '') || ' ' ||
		coalesce(array_to_string(to_addresses, ' '), '') || ' ' ||
		coalesce(array_to_string(cc_addresses, ' '), ''))`

	// relevance is boosted by up to recencyBoost for brand new mail, decaying
	// with a half weight after recencyHalfLifeDays
	recencyBoost        = 1.0
	recencyHalfLifeDays = 30.0
)

type emailRecordRepository struct {
	db *gorm.DB
}

func NewEmailRecordRepository(db *gorm.DB) interfaces.EmailIndex {
	return &emailRecordRepository{db: db}
}

func (r *emailRecordRepository) ExistsByNaturalKey(ctx context.Context, accountID, messageID string) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRecordRepository.ExistsByNaturalKey")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)
	span.LogKV("messageId", messageID)

	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.EmailRecord{}).
		Where("account_id = ? AND message_id = ?", accountID, messageID).
		Limit(1).
		Count(&count).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return false, fmt.Errorf("failed to check email existence: %w", err)
	}

	span.LogKV("result.exists", count > 0)
	return count > 0, nil
}

func (r *emailRecordRepository) Upsert(ctx context.Context, record *models.EmailRecord) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRecordRepository.Upsert")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, record.AccountID)

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "message_id"}},
			DoNothing: true,
		}).
		Create(record)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return false, fmt.Errorf("failed to upsert email record: %w", result.Error)
	}

	created := result.RowsAffected > 0
	tracing.TagEntity(span, record.ID)
	span.LogKV("result.created", created)
	return created, nil
}

// Update applies a partial update. Fields use the API names of
// models.EmailRecordUpdatableColumns; any other field is rejected.
// Returns nil, nil when the record does not exist.
func (r *emailRecordRepository) Update(ctx context.Context, id string, fields map[string]interface{}) (*models.EmailRecord, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRecordRepository.Update")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)
	tracing.LogObjectAsJson(span, "fields", fields)

	columns, err := EmailRecordUpdateColumns(fields)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	columns["updated_at"] = time.Now().UTC()

	result := r.db.WithContext(ctx).
		Model(&models.EmailRecord{}).
		Where("id = ?", id).
		Updates(columns)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to update email record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}

	return r.GetByID(ctx, id)
}

// EmailRecordUpdateColumns translates API field names to columns and validates
// values. Untouched fields never appear in the result.
func EmailRecordUpdateColumns(fields map[string]interface{}) (map[string]interface{}, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no fields to update", mperrors.ErrInvalidField)
	}

	columns := make(map[string]interface{}, len(fields))
	for field, value := range fields {
		column, ok := models.EmailRecordUpdatableColumns[field]
		if !ok {
			return nil, fmt.Errorf("%w: %s", mperrors.ErrInvalidField, field)
		}
		switch field {
		case "category":
			s, ok := value.(string)
			if c, valid := enum.ParseEmailCategory(s); ok && valid {
				value = c
			} else if c, isCategory := value.(enum.EmailCategory); isCategory && c.IsValid() {
				value = c
			} else {
				return nil, fmt.Errorf("%w: invalid category %v", mperrors.ErrInvalidField, value)
			}
		case "confidence":
			f, ok := value.(float64)
			if !ok || f < 0 || f > 1 {
				return nil, fmt.Errorf("%w: confidence must be between 0 and 1", mperrors.ErrInvalidField)
			}
		case "isRead", "isFlagged":
			if _, ok := value.(bool); !ok {
				return nil, fmt.Errorf("%w: %s must be a boolean", mperrors.ErrInvalidField, field)
			}
		default:
			if _, ok := value.(string); !ok {
				return nil, fmt.Errorf("%w: %s must be a string", mperrors.ErrInvalidField, field)
			}
		}
		columns[column] = value
	}
	return columns, nil
}

func (r *emailRecordRepository) Delete(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRecordRepository.Delete")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.EmailRecord{}).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to delete email record: %w", err)
	}

	return nil
}

func (r *emailRecordRepository) DeleteByAccount(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRecordRepository.DeleteByAccount")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	if err := r.db.WithContext(ctx).Where("account_id = ?", accountID).Delete(&models.EmailRecord{}).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to delete account email records: %w", err)
	}

	return nil
}

// GetByID returns nil, nil when the record does not exist
func (r *emailRecordRepository) GetByID(ctx context.Context, id string) (*models.EmailRecord, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRecordRepository.GetByID")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	var record models.EmailRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get email record: %w", err)
	}

	return &record, nil
}

// Search orders newest first, or by relevance with a recency boost when a
// text query is present.
func (r *emailRecordRepository) Search(ctx context.Context, filter dto.EmailSearchFilter, page dto.Pagination) (*dto.EmailPage, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRecordRepository.Search")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.LogObjectAsJson(span, "filter", filter)

	page = page.Normalize()

	query := r.db.WithContext(ctx).Model(&models.EmailRecord{})
	if filter.AccountID != "" {
		query = query.Where("account_id = ?", filter.AccountID)
	}
	if filter.Folder != "" {
		query = query.Where("folder = ?", filter.Folder)
	}
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.IsRead != nil {
		query = query.Where("is_read = ?", *filter.IsRead)
	}
	if filter.From != nil {
		query = query.Where("sent_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("sent_at <= ?", *filter.To)
	}
	if filter.Query != "" {
		query = query.Where(searchDocumentSQL+" @@ plainto_tsquery('simple', ?)", filter.Query)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to count email records: %w", err)
	}

	if filter.Query != "" {
		query = query.Order(clause.OrderBy{Expression: clause.Expr{
			SQL: "ts_rank(" + searchDocumentSQL + ", plainto_tsquery('simple', ?)) * " +
				"(1 + ? / (1 + extract(epoch from (now() - sent_at)) / 86400.0 / ?)) DESC",
			Vars:               []interface{}{filter.Query, recencyBoost, recencyHalfLifeDays},
			WithoutParentheses: true,
		}})
	}
	query = query.Order("sent_at DESC").Order("id ASC")

	var records []*models.EmailRecord
	if err := query.Offset(page.Offset).Limit(page.Limit).Find(&records).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to search email records: %w", err)
	}

	span.LogKV("result.total", total, "result.count", len(records))
	return &dto.EmailPage{
		Items:  records,
		Total:  total,
		Offset: page.Offset,
		Limit:  page.Limit,
	}, nil
}
