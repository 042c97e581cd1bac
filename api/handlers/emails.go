package handlers

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	apierrors "github.com/customeros/mailpulse/api/errors"
	"github.com/customeros/mailpulse/dto"
	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/enum"
	mperrors "github.com/customeros/mailpulse/internal/errors"
	"github.com/customeros/mailpulse/internal/logger"
	"github.com/customeros/mailpulse/internal/models"
	"github.com/customeros/mailpulse/internal/tracing"
)

type EmailsHandler struct {
	index      interfaces.EmailIndex
	enrichment interfaces.EnrichmentGateway
	events     interfaces.EventPublisher
	archive    interfaces.StorageService
	log        logger.Logger
}

func NewEmailsHandler(index interfaces.EmailIndex, enrichment interfaces.EnrichmentGateway, events interfaces.EventPublisher, archive interfaces.StorageService, log logger.Logger) *EmailsHandler {
	return &EmailsHandler{
		index:      index,
		enrichment: enrichment,
		events:     events,
		archive:    archive,
		log:        log,
	}
}

// Search lists records matching the query string filters, newest first
// unless a text query ranks them.
func (h *EmailsHandler) Search(c *gin.Context) {
	filter, page, err := parseSearchQuery(c)
	if err != nil {
		apierrors.Respond(c, err)
		return
	}

	result, err := h.index.Search(c.Request.Context(), filter, page)
	if err != nil {
		apierrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func parseSearchQuery(c *gin.Context) (dto.EmailSearchFilter, dto.Pagination, error) {
	errs := apierrors.NewMultiErrors()
	filter := dto.EmailSearchFilter{
		AccountID: c.Query("accountId"),
		Folder:    c.Query("folder"),
		Query:     c.Query("q"),
	}

	if raw := c.Query("category"); raw != "" {
		if category, ok := enum.ParseEmailCategory(raw); ok {
			filter.Category = category
		} else {
			errs.Add("category", "unknown category", nil)
		}
	}
	if raw := c.Query("isRead"); raw != "" {
		if isRead, err := strconv.ParseBool(raw); err == nil {
			filter.IsRead = &isRead
		} else {
			errs.Add("isRead", "must be true or false", err)
		}
	}
	for _, param := range []struct {
		name   string
		target **time.Time
	}{{"from", &filter.From}, {"to", &filter.To}} {
		raw := c.Query(param.name)
		if raw == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			errs.Add(param.name, "must be an RFC3339 timestamp", err)
			continue
		}
		*param.target = &parsed
	}

	var page dto.Pagination
	for _, param := range []struct {
		name   string
		target *int
	}{{"offset", &page.Offset}, {"limit", &page.Limit}} {
		raw := c.Query(param.name)
		if raw == "" {
			continue
		}
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			errs.Add(param.name, "must be a non-negative integer", err)
			continue
		}
		*param.target = value
	}

	if errs.HasErrors() {
		return filter, page, errs
	}
	return filter, page.Normalize(), nil
}

func (h *EmailsHandler) Get(c *gin.Context) {
	record, err := h.load(c.Request.Context(), c.Param("id"))
	if err != nil {
		apierrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// Patch updates the mutable fields of a record, using their JSON names.
func (h *EmailsHandler) Patch(c *gin.Context) {
	var fields map[string]interface{}
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := h.update(c.Request.Context(), c.Param("id"), fields)
	if err != nil {
		apierrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *EmailsHandler) Delete(c *gin.Context) {
	ctx := c.Request.Context()
	record, err := h.load(ctx, c.Param("id"))
	if err != nil {
		apierrors.Respond(c, err)
		return
	}

	if err := h.index.Delete(ctx, record.ID); err != nil {
		apierrors.Respond(c, err)
		return
	}
	if h.archive != nil {
		if err := h.archive.Delete(ctx, record.RawArchiveKey()); err != nil {
			h.log.Warnf("[%s] failed to delete archived message %s: %v", record.AccountID, record.ID, err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "email deleted", "id": record.ID})
}

// SuggestReply regenerates the suggested reply for a record.
func (h *EmailsHandler) SuggestReply(c *gin.Context) {
	ctx := c.Request.Context()
	span, ctx := opentracing.StartSpanFromContext(ctx, "EmailsHandler.SuggestReply")
	defer span.Finish()
	tracing.TagComponentRest(span)

	record, err := h.load(ctx, c.Param("id"))
	if err != nil {
		apierrors.Respond(c, err)
		return
	}

	reply := h.enrichment.SuggestReply(ctx, record)
	if reply == "" {
		c.JSON(http.StatusBadGateway, gin.H{"error": "no reply could be generated"})
		return
	}

	updated, err := h.update(ctx, record.ID, map[string]interface{}{"suggestedReply": reply})
	if err != nil {
		apierrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// Recategorize classifies a record again. A fallback answer is returned
// but never overwrites the stored category.
func (h *EmailsHandler) Recategorize(c *gin.Context) {
	ctx := c.Request.Context()
	span, ctx := opentracing.StartSpanFromContext(ctx, "EmailsHandler.Recategorize")
	defer span.Finish()
	tracing.TagComponentRest(span)

	record, err := h.load(ctx, c.Param("id"))
	if err != nil {
		apierrors.Respond(c, err)
		return
	}

	result := h.enrichment.Classify(ctx, record)
	if result.Fallback {
		c.JSON(http.StatusBadGateway, gin.H{"error": "classification unavailable", "result": result})
		return
	}

	updated, err := h.update(ctx, record.ID, map[string]interface{}{
		"category":       string(result.Category),
		"confidence":     result.Confidence,
		"categoryReason": result.Rationale,
	})
	if err != nil {
		apierrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// Raw serves the original message from the raw archive.
func (h *EmailsHandler) Raw(c *gin.Context) {
	if h.archive == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "raw archive is disabled"})
		return
	}
	ctx := c.Request.Context()
	record, err := h.load(ctx, c.Param("id"))
	if err != nil {
		apierrors.Respond(c, err)
		return
	}

	data, err := h.archive.Download(ctx, record.RawArchiveKey())
	if err != nil {
		h.log.Warnf("[%s] failed to download archived message %s: %v", record.AccountID, record.ID, err)
		c.JSON(http.StatusNotFound, gin.H{"error": "raw message not available"})
		return
	}
	c.Data(http.StatusOK, "message/rfc822", data)
}

func (h *EmailsHandler) load(ctx context.Context, id string) (*models.EmailRecord, error) {
	record, err := h.index.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, mperrors.ErrEmailNotFound
	}
	return record, nil
}

func (h *EmailsHandler) update(ctx context.Context, id string, fields map[string]interface{}) (*models.EmailRecord, error) {
	record, err := h.index.Update(ctx, id, fields)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, mperrors.ErrEmailNotFound
	}

	changed := make([]string, 0, len(fields))
	for field := range fields {
		changed = append(changed, field)
	}
	sort.Strings(changed)
	h.events.Publish(ctx, dto.DomainEvent{
		Type:      enum.EventEmailUpdated,
		AccountID: record.AccountID,
		EntityID:  record.ID,
		Data:      dto.EmailUpdatedEventData{Fields: changed},
	})
	return record, nil
}
