package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailpulse/config"
	"github.com/customeros/mailpulse/dto"
	"github.com/customeros/mailpulse/internal/enum"
	mperrors "github.com/customeros/mailpulse/internal/errors"
	"github.com/customeros/mailpulse/internal/logger"
	"github.com/customeros/mailpulse/internal/models"
	"github.com/customeros/mailpulse/services/enrichment"
	"github.com/customeros/mailpulse/services/parser"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

const testLookback = 730 * 24 * time.Hour

// fakes

type fakeFetcher struct {
	messages map[uint32]*dto.RawMessage
	err      error
	onFetch  func(uids []uint32)
	fetched  [][]uint32
}

func (f *fakeFetcher) Fetch(ctx context.Context, uids []uint32) ([]*dto.RawMessage, error) {
	f.fetched = append(f.fetched, append([]uint32(nil), uids...))
	if f.onFetch != nil {
		f.onFetch(uids)
	}
	if f.err != nil {
		return nil, f.err
	}
	var out []*dto.RawMessage
	for _, uid := range uids {
		if raw, ok := f.messages[uid]; ok {
			copied := *raw
			out = append(out, &copied)
		}
	}
	return out, nil
}

type fakeIndex struct {
	mu          sync.Mutex
	records     map[string]*models.EmailRecord
	existsCalls int
	existsErr   error
	upsertErr   map[string]error
	nextID      int
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{records: map[string]*models.EmailRecord{}, upsertErr: map[string]error{}}
}

func naturalKey(accountID, messageID string) string {
	return accountID + "|" + messageID
}

func (f *fakeIndex) ExistsByNaturalKey(ctx context.Context, accountID, messageID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.existsCalls++
	if f.existsErr != nil {
		return false, f.existsErr
	}
	_, ok := f.records[naturalKey(accountID, messageID)]
	return ok, nil
}

func (f *fakeIndex) Upsert(ctx context.Context, record *models.EmailRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.upsertErr[record.MessageID]; err != nil {
		return false, err
	}
	key := naturalKey(record.AccountID, record.MessageID)
	if _, ok := f.records[key]; ok {
		return false, nil
	}
	f.nextID++
	record.ID = fmt.Sprintf("email_%d", f.nextID)
	f.records[key] = record
	return true, nil
}

func (f *fakeIndex) Update(ctx context.Context, id string, fields map[string]interface{}) (*models.EmailRecord, error) {
	return nil, nil
}

func (f *fakeIndex) Delete(ctx context.Context, id string) error { return nil }

func (f *fakeIndex) GetByID(ctx context.Context, id string) (*models.EmailRecord, error) {
	return nil, nil
}

func (f *fakeIndex) Search(ctx context.Context, filter dto.EmailSearchFilter, page dto.Pagination) (*dto.EmailPage, error) {
	return &dto.EmailPage{}, nil
}

func (f *fakeIndex) DeleteByAccount(ctx context.Context, accountID string) error { return nil }

func (f *fakeIndex) get(accountID, messageID string) *models.EmailRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[naturalKey(accountID, messageID)]
}

func (f *fakeIndex) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fakeAccounts struct {
	mu        sync.Mutex
	lastSyncs map[string]time.Time
}

func (f *fakeAccounts) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	return nil, nil
}

func (f *fakeAccounts) ListAccounts(ctx context.Context) ([]*models.Account, error) { return nil, nil }

func (f *fakeAccounts) ListActiveAccounts(ctx context.Context) ([]*models.Account, error) {
	return nil, nil
}

func (f *fakeAccounts) CreateAccount(ctx context.Context, account *models.Account) error { return nil }

func (f *fakeAccounts) SetActive(ctx context.Context, id string, active bool) error { return nil }

func (f *fakeAccounts) UpdateLastSync(ctx context.Context, id string, lastSync time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastSyncs == nil {
		f.lastSyncs = map[string]time.Time{}
	}
	f.lastSyncs[id] = lastSync
	return nil
}

func (f *fakeAccounts) UpdateConnectionStatus(ctx context.Context, id string, state enum.ConnectionState, errorMessage string) error {
	return nil
}

func (f *fakeAccounts) DeleteAccount(ctx context.Context, id string) error { return nil }

// fakeGateway classifies by subject.
type fakeGateway struct {
	mu          sync.Mutex
	bySubject   map[string]dto.EnrichmentResult
	classified  int
	batches     int
	replyCalled int
}

func (g *fakeGateway) Classify(ctx context.Context, record *models.EmailRecord) dto.EnrichmentResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.classified++
	if result, ok := g.bySubject[record.Subject]; ok {
		return result
	}
	return dto.EnrichmentResult{Category: enum.CategoryNotInterested, Confidence: 0.5, Rationale: "default"}
}

func (g *fakeGateway) ClassifyBatch(ctx context.Context, records []*models.EmailRecord) []dto.EnrichmentResult {
	g.mu.Lock()
	g.batches++
	g.mu.Unlock()
	results := make([]dto.EnrichmentResult, len(records))
	for i, record := range records {
		results[i] = g.Classify(ctx, record)
	}
	return results
}

func (g *fakeGateway) SuggestReply(ctx context.Context, record *models.EmailRecord) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replyCalled++
	return "Thanks for your reply about " + record.Subject
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, event dto.NotificationEvent) {
	m.Called(ctx, event)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []dto.DomainEvent
}

func (r *recordingEvents) Publish(ctx context.Context, event dto.DomainEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEvents) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// helpers

func rawMessage(uid uint32, messageID, subject string, sentAt time.Time) *dto.RawMessage {
	var idHeader string
	if messageID != "" {
		idHeader = fmt.Sprintf("Message-ID: <%s>\r\n", messageID)
	}
	body := idHeader +
		"From: Jane Doe <jane@example.com>\r\n" +
		"To: sales@example.com\r\n" +
		"Subject: " + subject + "\r\n" +
		"Date: " + sentAt.Format(time.RFC1123Z) + "\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Hello there.\r\n"
	return &dto.RawMessage{
		UID:          uid,
		UIDValidity:  7,
		Folder:       "INBOX",
		Flags:        []string{`\Seen`},
		InternalDate: sentAt,
		Body:         []byte(body),
	}
}

type harness struct {
	pipeline *Pipeline
	index    *fakeIndex
	accounts *fakeAccounts
	gateway  *fakeGateway
	notifier *mockNotifier
	events   *recordingEvents
}

func newHarness(t *testing.T, chunkSize int) *harness {
	t.Helper()
	h := &harness{
		index:    newFakeIndex(),
		accounts: &fakeAccounts{},
		gateway:  &fakeGateway{bySubject: map[string]dto.EnrichmentResult{}},
		notifier: &mockNotifier{},
		events:   &recordingEvents{},
	}
	cfg := config.DefaultSyncConfig()
	cfg.ChunkSize = chunkSize

	pipeline, err := NewPipeline(cfg, logger.NewNopLogger(), Dependencies{
		Parser:     parser.NewParser(),
		Index:      h.index,
		Accounts:   h.accounts,
		Enrichment: h.gateway,
		Notifier:   h.notifier,
		Events:     h.events,
	})
	require.NoError(t, err)
	h.pipeline = pipeline.WithClock(func() time.Time { return testNow })
	return h
}

func request(uids ...uint32) dto.IngestRequest {
	return dto.IngestRequest{
		AccountID:    "acct_1",
		Folder:       "INBOX",
		UIDValidity:  7,
		CandidateIDs: uids,
		Lookback:     testLookback,
	}
}

func mailbox(count int) (*fakeFetcher, []uint32) {
	fetcher := &fakeFetcher{messages: map[uint32]*dto.RawMessage{}}
	uids := make([]uint32, 0, count)
	for i := 1; i <= count; i++ {
		uid := uint32(i)
		fetcher.messages[uid] = rawMessage(uid, fmt.Sprintf("m-%d@example.com", i), fmt.Sprintf("Message %d", i), testNow.Add(-time.Duration(i)*time.Hour))
		uids = append(uids, uid)
	}
	return fetcher, uids
}

// tests

func TestIngest_IndexesNewMessages(t *testing.T) {
	h := newHarness(t, 10)
	fetcher, uids := mailbox(3)

	result, err := h.pipeline.Ingest(context.Background(), fetcher, request(uids...))

	require.NoError(t, err)
	assert.Equal(t, 3, result.ProcessedCount)
	assert.Equal(t, 3, result.NewCount)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 3, h.index.count())
	assert.Equal(t, 3, h.events.count())
	assert.Equal(t, testNow, h.accounts.lastSyncs["acct_1"])

	record := h.index.get("acct_1", "m-1@example.com")
	require.NotNil(t, record)
	assert.Equal(t, "Message 1", record.Subject)
	assert.Equal(t, "jane@example.com", record.FromAddress)
	assert.Equal(t, uint32(1), record.ImapUID)
	assert.True(t, record.IsRead)
	assert.Equal(t, enum.CategoryNotInterested, record.Category)
}

func TestIngest_IsIdempotent(t *testing.T) {
	h := newHarness(t, 10)
	fetcher, uids := mailbox(4)

	_, err := h.pipeline.Ingest(context.Background(), fetcher, request(uids...))
	require.NoError(t, err)
	second, err := h.pipeline.Ingest(context.Background(), fetcher, request(uids...))
	require.NoError(t, err)

	assert.Equal(t, 4, second.ProcessedCount)
	assert.Equal(t, 0, second.NewCount)
	assert.Equal(t, 4, second.DuplicateCount)
	assert.Equal(t, 4, h.index.count())
	assert.Equal(t, 4, h.gateway.classified)
	assert.Equal(t, 4, h.events.count())
}

func TestIngest_DedupCacheSkipsIndexLookups(t *testing.T) {
	h := newHarness(t, 10)
	fetcher, uids := mailbox(2)

	_, err := h.pipeline.Ingest(context.Background(), fetcher, request(uids...))
	require.NoError(t, err)
	lookups := h.index.existsCalls

	_, err = h.pipeline.Ingest(context.Background(), fetcher, request(uids...))
	require.NoError(t, err)

	assert.Equal(t, lookups, h.index.existsCalls)
}

func TestIngest_ExistingRecordsAreUntouched(t *testing.T) {
	h := newHarness(t, 10)
	fetcher, uids := mailbox(15)
	for _, i := range []int{2, 7, 11} {
		messageID := fmt.Sprintf("m-%d@example.com", i)
		h.index.records[naturalKey("acct_1", messageID)] = &models.EmailRecord{
			ID:        fmt.Sprintf("existing_%d", i),
			AccountID: "acct_1",
			MessageID: messageID,
			Subject:   "kept as is",
			Category:  enum.CategoryMeetingBooked,
		}
	}

	result, err := h.pipeline.Ingest(context.Background(), fetcher, request(uids...))

	require.NoError(t, err)
	assert.Equal(t, 15, result.ProcessedCount)
	assert.Equal(t, 12, result.NewCount)
	assert.Equal(t, 3, result.DuplicateCount)
	assert.Equal(t, 12, h.gateway.classified)
	assert.Equal(t, 15, h.index.count())

	existing := h.index.get("acct_1", "m-7@example.com")
	assert.Equal(t, "existing_7", existing.ID)
	assert.Equal(t, "kept as is", existing.Subject)
	assert.Equal(t, enum.CategoryMeetingBooked, existing.Category)
}

func TestIngest_LookbackHorizonIsInclusive(t *testing.T) {
	h := newHarness(t, 10)
	horizon := testNow.Add(-testLookback)
	fetcher := &fakeFetcher{messages: map[uint32]*dto.RawMessage{
		1: rawMessage(1, "at-horizon@example.com", "At horizon", horizon),
		2: rawMessage(2, "past-horizon@example.com", "Past horizon", horizon.Add(-24*time.Hour)),
	}}

	result, err := h.pipeline.Ingest(context.Background(), fetcher, request(1, 2))

	require.NoError(t, err)
	assert.Equal(t, 2, result.ProcessedCount)
	assert.Equal(t, 1, result.NewCount)
	assert.Equal(t, 1, result.DroppedCount)
	assert.NotNil(t, h.index.get("acct_1", "at-horizon@example.com"))
	assert.Nil(t, h.index.get("acct_1", "past-horizon@example.com"))
}

func TestIngest_ZeroLookbackKeepsEverything(t *testing.T) {
	h := newHarness(t, 10)
	fetcher := &fakeFetcher{messages: map[uint32]*dto.RawMessage{
		1: rawMessage(1, "ancient@example.com", "Ancient", testNow.AddDate(-20, 0, 0)),
	}}
	req := request(1)
	req.Lookback = 0

	result, err := h.pipeline.Ingest(context.Background(), fetcher, req)

	require.NoError(t, err)
	assert.Equal(t, 1, result.NewCount)
}

func TestIngest_InterestedGetsReplyAndOneNotification(t *testing.T) {
	h := newHarness(t, 10)
	h.gateway.bySubject["Interested"] = dto.EnrichmentResult{Category: enum.CategoryInterested, Confidence: 0.82, Rationale: "asks for a call"}
	h.gateway.bySubject["Spam"] = dto.EnrichmentResult{Category: enum.CategorySpam, Confidence: 0.9, Rationale: "lottery"}
	fetcher := &fakeFetcher{messages: map[uint32]*dto.RawMessage{
		1: rawMessage(1, "interested@example.com", "Interested", testNow.Add(-time.Hour)),
		2: rawMessage(2, "spam@example.com", "Spam", testNow.Add(-time.Hour)),
	}}
	h.notifier.On("Notify", mock.Anything, mock.MatchedBy(func(event dto.NotificationEvent) bool {
		return event.EventType == enum.EventInterested &&
			event.Category == enum.CategoryInterested &&
			event.Confidence == 0.82 &&
			event.Subject == "Interested" &&
			event.EmailID != ""
	})).Once()

	result, err := h.pipeline.Ingest(context.Background(), fetcher, request(1, 2))
	require.NoError(t, err)
	assert.Equal(t, 2, result.NewCount)

	interested := h.index.get("acct_1", "interested@example.com")
	assert.Equal(t, enum.CategoryInterested, interested.Category)
	assert.Equal(t, 0.82, interested.Confidence)
	assert.Equal(t, "Thanks for your reply about Interested", interested.SuggestedReply)

	spam := h.index.get("acct_1", "spam@example.com")
	assert.Equal(t, enum.CategorySpam, spam.Category)
	assert.Empty(t, spam.SuggestedReply)

	assert.Equal(t, 1, h.gateway.replyCalled)
	h.notifier.AssertExpectations(t)
	h.notifier.AssertNumberOfCalls(t, "Notify", 1)
}

type failingProvider struct{}

func (failingProvider) Name() string     { return "failing" }
func (failingProvider) Concurrency() int { return 1 }
func (failingProvider) Classify(ctx context.Context, request dto.EnrichmentRequest) (*dto.ProviderClassification, error) {
	return nil, errors.New("provider unavailable")
}
func (failingProvider) SuggestReply(ctx context.Context, request dto.EnrichmentRequest) (string, error) {
	return "", errors.New("provider unavailable")
}

func TestIngest_EnrichmentFailureStoresFallback(t *testing.T) {
	h := newHarness(t, 10)
	h.pipeline.deps.Enrichment = enrichment.NewGateway(&config.EnrichmentConfig{Timeout: time.Second, BreakerTrips: 5, BreakerTimeout: time.Minute}, failingProvider{}, logger.NewNopLogger())
	fetcher, uids := mailbox(1)

	result, err := h.pipeline.Ingest(context.Background(), fetcher, request(uids...))

	require.NoError(t, err)
	assert.Equal(t, 1, result.NewCount)
	assert.Empty(t, result.Errors)
	record := h.index.get("acct_1", "m-1@example.com")
	require.NotNil(t, record)
	assert.Equal(t, enrichment.FallbackCategory, record.Category)
	assert.Less(t, record.Confidence, enrichment.LowConfidenceThreshold)
	assert.Contains(t, record.CategoryReason, "fallback")
	h.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestIngest_ParseFailureIsIsolated(t *testing.T) {
	h := newHarness(t, 10)
	fetcher, uids := mailbox(3)
	fetcher.messages[2].Body = []byte("   ")

	result, err := h.pipeline.Ingest(context.Background(), fetcher, request(uids...))

	require.NoError(t, err)
	assert.Equal(t, 3, result.ProcessedCount)
	assert.Equal(t, 2, result.NewCount)
	assert.Equal(t, 1, result.FailedCount)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, uint32(2), result.Errors[0].UID)
	assert.Equal(t, StageParse, result.Errors[0].Stage)
	assert.False(t, result.Errors[0].Retryable)
	assert.Zero(t, result.RetryFloor())
}

func TestIngest_UpsertFailureIsRetryable(t *testing.T) {
	h := newHarness(t, 10)
	fetcher, uids := mailbox(3)
	h.index.upsertErr["m-2@example.com"] = errors.New("connection reset")

	result, err := h.pipeline.Ingest(context.Background(), fetcher, request(uids...))

	require.NoError(t, err)
	assert.Equal(t, 2, result.NewCount)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, StageUpsert, result.Errors[0].Stage)
	assert.True(t, result.Errors[0].Retryable)
	assert.Equal(t, uint32(2), result.RetryFloor())
	assert.Nil(t, h.index.get("acct_1", "m-2@example.com"))
	assert.Equal(t, 2, h.events.count())
}

func TestIngest_MissingMessageIDGetsSyntheticKey(t *testing.T) {
	h := newHarness(t, 10)
	fetcher := &fakeFetcher{messages: map[uint32]*dto.RawMessage{
		42: rawMessage(42, "", "No id", testNow.Add(-time.Hour)),
	}}

	result, err := h.pipeline.Ingest(context.Background(), fetcher, request(42))

	require.NoError(t, err)
	assert.Equal(t, 1, result.NewCount)
	assert.NotNil(t, h.index.get("acct_1", "inbox.7.42@imap"))
}

func TestIngest_CancellationStopsBetweenChunks(t *testing.T) {
	h := newHarness(t, 2)
	fetcher, uids := mailbox(5)
	ctx, cancel := context.WithCancel(context.Background())
	fetcher.onFetch = func([]uint32) { cancel() }

	result, err := h.pipeline.Ingest(ctx, fetcher, request(uids...))

	require.NoError(t, err)
	assert.Len(t, fetcher.fetched, 1)
	assert.Equal(t, 2, result.ProcessedCount)
	assert.Equal(t, 2, result.NewCount)
	assert.Equal(t, []uint32{3, 4, 5}, result.Unprocessed)
	assert.Equal(t, uint32(3), result.RetryFloor())
}

func TestIngest_FetchFailureIsTransportError(t *testing.T) {
	h := newHarness(t, 2)
	fetcher, uids := mailbox(3)
	fetcher.err = errors.New("connection closed")

	result, err := h.pipeline.Ingest(context.Background(), fetcher, request(uids...))

	require.Error(t, err)
	assert.True(t, mperrors.IsTransport(err))
	assert.Equal(t, []uint32{1, 2, 3}, result.Unprocessed)
	assert.Empty(t, h.accounts.lastSyncs)
}

func TestIngest_IndexLookupFailureIsRetryable(t *testing.T) {
	h := newHarness(t, 10)
	fetcher, uids := mailbox(2)
	h.index.existsErr = errors.New("timeout")

	result, err := h.pipeline.Ingest(context.Background(), fetcher, request(uids...))

	require.NoError(t, err)
	assert.Equal(t, 2, result.FailedCount)
	assert.Equal(t, 0, h.gateway.classified)
	assert.Equal(t, uint32(1), result.RetryFloor())
}

func TestIngest_ChunksBoundFetchSize(t *testing.T) {
	h := newHarness(t, 4)
	fetcher, uids := mailbox(10)

	_, err := h.pipeline.Ingest(context.Background(), fetcher, request(uids...))

	require.NoError(t, err)
	require.Len(t, fetcher.fetched, 3)
	assert.Len(t, fetcher.fetched[0], 4)
	assert.Len(t, fetcher.fetched[1], 4)
	assert.Len(t, fetcher.fetched[2], 2)
}

func TestIngest_ClassifiesEachChunkInOneBatch(t *testing.T) {
	h := newHarness(t, 4)
	fetcher, uids := mailbox(10)

	_, err := h.pipeline.Ingest(context.Background(), fetcher, request(uids...))
	require.NoError(t, err)
	assert.Equal(t, 3, h.gateway.batches)
	assert.Equal(t, 10, h.gateway.classified)

	// nothing new, nothing to classify
	_, err = h.pipeline.Ingest(context.Background(), fetcher, request(uids...))
	require.NoError(t, err)
	assert.Equal(t, 3, h.gateway.batches)
}

func TestIngest_DuplicateWithinChunkIsStoredOnce(t *testing.T) {
	h := newHarness(t, 10)
	fetcher := &fakeFetcher{messages: map[uint32]*dto.RawMessage{
		1: rawMessage(1, "same@example.com", "First copy", testNow.Add(-time.Hour)),
		2: rawMessage(2, "same@example.com", "Second copy", testNow.Add(-time.Hour)),
	}}

	result, err := h.pipeline.Ingest(context.Background(), fetcher, request(1, 2))

	require.NoError(t, err)
	assert.Equal(t, 1, result.NewCount)
	assert.Equal(t, 1, result.DuplicateCount)
	assert.Equal(t, 1, h.gateway.classified)
	assert.Equal(t, "First copy", h.index.get("acct_1", "same@example.com").Subject)
}

func TestIngest_UnreadableBodyIsRetryableFetchFailure(t *testing.T) {
	h := newHarness(t, 10)
	fetcher, uids := mailbox(2)
	fetcher.messages[1].Body = nil
	fetcher.messages[1].ReadErr = errors.New("unexpected EOF")

	result, err := h.pipeline.Ingest(context.Background(), fetcher, request(uids...))

	require.NoError(t, err)
	assert.Equal(t, 1, result.NewCount)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, StageFetch, result.Errors[0].Stage)
	assert.True(t, result.Errors[0].Retryable)
	assert.Nil(t, h.index.get("acct_1", "m-1@example.com"))
}

type stubParser struct {
	parsed *dto.ParsedMessage
}

func (s stubParser) Parse(raw []byte) (*dto.ParsedMessage, error) {
	copied := *s.parsed
	return &copied, nil
}

func TestIngest_OversizedAndBinaryFieldsFitTheColumns(t *testing.T) {
	h := newHarness(t, 10)
	longID := strings.Repeat("x", 600) + "@example.com"
	h.pipeline.deps.Parser = stubParser{parsed: &dto.ParsedMessage{
		MessageID:   longID,
		Subject:     "Hi\x00 " + strings.Repeat("s", 1200),
		FromName:    strings.Repeat("n", 300),
		FromAddress: "jane@example.com",
		To:          []string{"sales\x00@example.com"},
		SentAt:      testNow.Add(-time.Hour),
		TextBody:    "body with \x00 nul and bad \xff byte",
		Headers:     map[string]string{"X-Bin": "a\x00b"},
	}}
	fetcher := &fakeFetcher{messages: map[uint32]*dto.RawMessage{
		1: {UID: 1, UIDValidity: 7, Folder: "INBOX", Body: []byte("ignored")},
	}}

	result, err := h.pipeline.Ingest(context.Background(), fetcher, request(1))

	require.NoError(t, err)
	require.Equal(t, 1, result.NewCount)
	record := h.index.get("acct_1", longID[:models.MaxMessageIDLength])
	require.NotNil(t, record)
	assert.Len(t, []rune(record.Subject), models.MaxSubjectLength)
	assert.NotContains(t, record.Subject, "\x00")
	assert.Len(t, []rune(record.FromName), models.MaxAddressLength)
	assert.Equal(t, []string{"sales@example.com"}, []string(record.ToAddresses))
	assert.Equal(t, "body with  nul and bad \uFFFD byte", record.BodyText)
	assert.Equal(t, "ab", record.RawHeaders["X-Bin"])

	// a second sight of the same message is recognized under the cut id
	result, err = h.pipeline.Ingest(context.Background(), fetcher, request(1))
	require.NoError(t, err)
	assert.Equal(t, 1, result.DuplicateCount)
}
