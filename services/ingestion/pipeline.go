package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailpulse/config"
	"github.com/customeros/mailpulse/dto"
	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/enum"
	mperrors "github.com/customeros/mailpulse/internal/errors"
	"github.com/customeros/mailpulse/internal/logger"
	"github.com/customeros/mailpulse/internal/models"
	"github.com/customeros/mailpulse/internal/tracing"
	"github.com/customeros/mailpulse/internal/utils"
	"github.com/customeros/mailpulse/services/parser"
)

const (
	StageFetch  = "fetch"
	StageParse  = "parse"
	StageIndex  = "index"
	StageUpsert = "upsert"

	defaultChunkSize    = 10
	defaultFetchTimeout = 2 * time.Minute
	defaultIndexTimeout = 30 * time.Second
	archiveTimeout      = 30 * time.Second
	flagSeen            = `\Seen`
	flagFlagged         = `\Flagged`
)

type Dependencies struct {
	Parser     interfaces.MessageParser
	Index      interfaces.EmailIndex
	Accounts   interfaces.AccountRepository
	Enrichment interfaces.EnrichmentGateway
	Notifier   interfaces.Notifier
	Events     interfaces.EventPublisher
	// Archive receives the raw bytes of new messages; nil disables it.
	Archive interfaces.StorageService
}

// Pipeline turns candidate UIDs into enriched, indexed email records. A
// pipeline is shared by all accounts; runs for one account must not
// overlap, which the supervisor guarantees.
type Pipeline struct {
	cfg  *config.SyncConfig
	log  logger.Logger
	deps Dependencies
	seen *lru.Cache[string, struct{}]
	now  func() time.Time
}

func NewPipeline(cfg *config.SyncConfig, log logger.Logger, deps Dependencies) (*Pipeline, error) {
	size := cfg.DedupCacheSize
	if size <= 0 {
		size = 10000
	}
	seen, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup cache: %w", err)
	}
	return &Pipeline{
		cfg:  cfg,
		log:  log,
		deps: deps,
		seen: seen,
		now:  time.Now,
	}, nil
}

var _ interfaces.IngestionPipeline = (*Pipeline)(nil)

// WithClock replaces the pipeline's time source.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Ingest processes request.CandidateIDs in chunks. The returned error is a
// transport failure of the fetcher; per-message failures are reported in
// the result. Once ctx is done the current chunk completes and the rest of
// the candidates are reported as unprocessed.
func (p *Pipeline) Ingest(ctx context.Context, fetcher interfaces.MessageFetcher, request dto.IngestRequest) (*dto.IngestResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Pipeline.Ingest")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, request.AccountID)
	span.LogKV("folder", request.Folder, "candidates", len(request.CandidateIDs))

	result := &dto.IngestResult{
		Errors:    []dto.MessageError{},
		StartedAt: p.now().UTC(),
	}
	defer func() {
		result.FinishedAt = p.now().UTC()
	}()

	var horizon time.Time
	if request.Lookback > 0 {
		horizon = p.now().Add(-request.Lookback)
	}

	chunkSize := p.cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	for start := 0; start < len(request.CandidateIDs); start += chunkSize {
		if ctx.Err() != nil {
			result.Unprocessed = append(result.Unprocessed, request.CandidateIDs[start:]...)
			p.log.Infof("[%s] ingestion cancelled, %d candidates left", request.AccountID, len(result.Unprocessed))
			break
		}

		end := min(start+chunkSize, len(request.CandidateIDs))
		if err := p.ingestChunk(ctx, fetcher, request, request.CandidateIDs[start:end], horizon, result); err != nil {
			result.Unprocessed = append(result.Unprocessed, request.CandidateIDs[start:]...)
			tracing.TraceErr(span, err)
			return result, err
		}
	}

	p.updateLastSync(ctx, request.AccountID)

	span.LogKV("processed", result.ProcessedCount, "new", result.NewCount, "duplicates", result.DuplicateCount,
		"dropped", result.DroppedCount, "failed", result.FailedCount)
	if result.ProcessedCount > 0 {
		p.log.Infof("[%s] ingested %s: processed=%d new=%d duplicates=%d dropped=%d failed=%d",
			request.AccountID, request.Folder, result.ProcessedCount, result.NewCount,
			result.DuplicateCount, result.DroppedCount, result.FailedCount)
	}
	return result, nil
}

// pendingMessage is a message that passed dedup and the horizon check and
// waits for enrichment.
type pendingMessage struct {
	uid    uint32
	key    string
	record *models.EmailRecord
	body   []byte
}

// ingestChunk runs detached from ctx cancellation so that a started chunk is
// never left half done; every external call has its own timeout instead.
// New messages of a chunk are classified together.
func (p *Pipeline) ingestChunk(ctx context.Context, fetcher interfaces.MessageFetcher, request dto.IngestRequest, uids []uint32, horizon time.Time, result *dto.IngestResult) error {
	workCtx := context.WithoutCancel(ctx)

	fetchCtx, cancel := context.WithTimeout(workCtx, durationOr(p.cfg.FetchTimeout, defaultFetchTimeout))
	raws, err := fetcher.Fetch(fetchCtx, uids)
	cancel()
	if err != nil {
		return mperrors.Classify(mperrors.ErrTransport, err)
	}

	result.ProcessedCount += len(raws)
	pending := make([]*pendingMessage, 0, len(raws))
	inChunk := make(map[string]struct{}, len(raws))
	for i, raw := range raws {
		if msg := p.prepare(workCtx, request, raw, horizon, inChunk, result); msg != nil {
			pending = append(pending, msg)
		}
		raws[i] = nil
	}
	if len(pending) == 0 {
		return nil
	}

	records := make([]*models.EmailRecord, len(pending))
	for i, msg := range pending {
		records[i] = msg.record
	}
	enrichments := p.deps.Enrichment.ClassifyBatch(workCtx, records)

	for i, msg := range pending {
		p.store(workCtx, request, msg, enrichments[i], result)
		// release the body as soon as the message is done
		pending[i] = nil
	}
	return nil
}

// prepare parses a fetched message and returns nil when it is a duplicate,
// outside the horizon or failed.
func (p *Pipeline) prepare(ctx context.Context, request dto.IngestRequest, raw *dto.RawMessage, horizon time.Time, inChunk map[string]struct{}, result *dto.IngestResult) *pendingMessage {
	if raw == nil {
		return nil
	}
	if raw.ReadErr != nil {
		p.fail(request.AccountID, result, raw.UID, StageFetch, raw.ReadErr, true)
		return nil
	}

	parsed, err := p.deps.Parser.Parse(raw.Body)
	if err != nil {
		p.fail(request.AccountID, result, raw.UID, StageParse, err, false)
		return nil
	}

	uidValidity := raw.UIDValidity
	if uidValidity == 0 {
		uidValidity = request.UIDValidity
	}
	messageID := utils.SanitizeText(parsed.MessageID, models.MaxMessageIDLength)
	if messageID == "" {
		messageID = utils.SyntheticMessageID(request.Folder, uidValidity, raw.UID)
	}

	key := request.AccountID + "\x00" + messageID
	if _, ok := inChunk[key]; ok || p.seen.Contains(key) {
		result.DuplicateCount++
		return nil
	}

	exists, err := p.existsInIndex(ctx, request.AccountID, messageID)
	if err != nil {
		p.fail(request.AccountID, result, raw.UID, StageIndex, err, true)
		return nil
	}
	if exists {
		p.seen.Add(key, struct{}{})
		result.DuplicateCount++
		return nil
	}

	sentAt := parser.ResolveSentAt(parsed, raw, p.now())
	if !horizon.IsZero() && sentAt.Before(horizon) {
		result.DroppedCount++
		return nil
	}

	inChunk[key] = struct{}{}
	return &pendingMessage{
		uid:    raw.UID,
		key:    key,
		record: newEmailRecord(request, raw, parsed, messageID, sentAt),
		body:   raw.Body,
	}
}

func (p *Pipeline) store(ctx context.Context, request dto.IngestRequest, msg *pendingMessage, enrichment dto.EnrichmentResult, result *dto.IngestResult) {
	record := msg.record
	record.Category = enrichment.Category
	record.Confidence = enrichment.Confidence
	record.CategoryReason = utils.SanitizeText(enrichment.Rationale, 0)
	if record.Category == enum.CategoryInterested {
		record.SuggestedReply = utils.SanitizeText(p.deps.Enrichment.SuggestReply(ctx, record), 0)
	}

	created, err := p.upsert(ctx, record)
	if err != nil {
		p.fail(request.AccountID, result, msg.uid, StageUpsert, err, true)
		return
	}
	p.seen.Add(msg.key, struct{}{})
	if !created {
		result.DuplicateCount++
		return
	}
	result.NewCount++

	p.archive(ctx, record, msg.body)

	if record.Category == enum.CategoryInterested && p.deps.Notifier != nil {
		p.deps.Notifier.Notify(ctx, dto.NotificationEvent{
			EventType:  enum.EventInterested,
			AccountID:  record.AccountID,
			EmailID:    record.ID,
			Sender:     sender(record),
			Subject:    record.Subject,
			Category:   record.Category,
			Confidence: record.Confidence,
			Timestamp:  p.now().UTC(),
		})
	}

	if p.deps.Events != nil {
		p.deps.Events.Publish(ctx, dto.DomainEvent{
			Type:      enum.EventEmailIngested,
			AccountID: record.AccountID,
			EntityID:  record.ID,
			Data: dto.EmailIngestedEventData{
				MessageID:  record.MessageID,
				Subject:    record.Subject,
				From:       sender(record),
				Folder:     record.Folder,
				Category:   record.Category,
				Confidence: record.Confidence,
				SentAt:     record.SentAt,
			},
		})
	}
}

func (p *Pipeline) existsInIndex(ctx context.Context, accountID, messageID string) (bool, error) {
	indexCtx, cancel := context.WithTimeout(ctx, durationOr(p.cfg.IndexTimeout, defaultIndexTimeout))
	defer cancel()
	exists, err := p.deps.Index.ExistsByNaturalKey(indexCtx, accountID, messageID)
	if err != nil {
		return false, mperrors.Classify(mperrors.ErrIndex, err)
	}
	return exists, nil
}

func (p *Pipeline) upsert(ctx context.Context, record *models.EmailRecord) (bool, error) {
	indexCtx, cancel := context.WithTimeout(ctx, durationOr(p.cfg.IndexTimeout, defaultIndexTimeout))
	defer cancel()
	created, err := p.deps.Index.Upsert(indexCtx, record)
	if err != nil {
		return false, mperrors.Classify(mperrors.ErrIndex, err)
	}
	return created, nil
}

func (p *Pipeline) archive(ctx context.Context, record *models.EmailRecord, body []byte) {
	if p.deps.Archive == nil {
		return
	}
	archiveCtx, cancel := context.WithTimeout(ctx, archiveTimeout)
	defer cancel()

	if err := p.deps.Archive.Upload(archiveCtx, record.RawArchiveKey(), body, "message/rfc822"); err != nil {
		p.log.Warnf("[%s] failed to archive raw message %s: %v", record.AccountID, record.ID, err)
	}
}

func (p *Pipeline) updateLastSync(ctx context.Context, accountID string) {
	if p.deps.Accounts == nil {
		return
	}
	updateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), durationOr(p.cfg.IndexTimeout, defaultIndexTimeout))
	defer cancel()
	if err := p.deps.Accounts.UpdateLastSync(updateCtx, accountID, p.now().UTC()); err != nil {
		p.log.Errorf("[%s] failed to update last sync: %v", accountID, err)
	}
}

func (p *Pipeline) fail(accountID string, result *dto.IngestResult, uid uint32, stage string, err error, retryable bool) {
	result.FailedCount++
	result.Errors = append(result.Errors, dto.MessageError{
		UID:       uid,
		Stage:     stage,
		Error:     err.Error(),
		Retryable: retryable,
	})
	p.log.Warnf("[%s] message uid %d failed at %s: %v", accountID, uid, stage, err)
}

// newEmailRecord cuts every value to what its column accepts, so a hostile
// or broken message can still be indexed.
func newEmailRecord(request dto.IngestRequest, raw *dto.RawMessage, parsed *dto.ParsedMessage, messageID string, sentAt time.Time) *models.EmailRecord {
	headers := make(models.JSONMap, len(parsed.Headers))
	for k, v := range parsed.Headers {
		headers[utils.SanitizeText(k, 0)] = utils.SanitizeText(v, 0)
	}

	folder := raw.Folder
	if folder == "" {
		folder = request.Folder
	}

	return &models.EmailRecord{
		AccountID:     request.AccountID,
		MessageID:     messageID,
		ImapUID:       raw.UID,
		Folder:        utils.SanitizeText(folder, models.MaxFolderLength),
		Subject:       utils.SanitizeText(parsed.Subject, models.MaxSubjectLength),
		FromAddress:   utils.SanitizeText(parsed.FromAddress, models.MaxAddressLength),
		FromName:      utils.SanitizeText(parsed.FromName, models.MaxAddressLength),
		ToAddresses:   utils.SanitizeTextSlice(parsed.To, 0),
		CcAddresses:   utils.SanitizeTextSlice(parsed.Cc, 0),
		BccAddresses:  utils.SanitizeTextSlice(parsed.Bcc, 0),
		SentAt:        sentAt.UTC(),
		BodyText:      utils.SanitizeText(parsed.TextBody, 0),
		BodyHTML:      utils.SanitizeText(parsed.HTMLBody, 0),
		HasAttachment: parsed.Attachments > 0,
		RawHeaders:    headers,
		IsRead:        hasFlag(raw.Flags, flagSeen),
		IsFlagged:     hasFlag(raw.Flags, flagFlagged),
	}
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

func sender(record *models.EmailRecord) string {
	if record.FromName == "" {
		return record.FromAddress
	}
	return fmt.Sprintf("%s <%s>", record.FromName, record.FromAddress)
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
