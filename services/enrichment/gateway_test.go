package enrichment

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailpulse/config"
	"github.com/customeros/mailpulse/dto"
	"github.com/customeros/mailpulse/internal/enum"
	"github.com/customeros/mailpulse/internal/logger"
	"github.com/customeros/mailpulse/internal/models"
)

type mockProvider struct {
	mock.Mock
	concurrency int
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Concurrency() int { return m.concurrency }

func (m *mockProvider) Classify(ctx context.Context, request dto.EnrichmentRequest) (*dto.ProviderClassification, error) {
	args := m.Called(ctx, request)
	answer, _ := args.Get(0).(*dto.ProviderClassification)
	return answer, args.Error(1)
}

func (m *mockProvider) SuggestReply(ctx context.Context, request dto.EnrichmentRequest) (string, error) {
	args := m.Called(ctx, request)
	return args.String(0), args.Error(1)
}

func testConfig() *config.EnrichmentConfig {
	return &config.EnrichmentConfig{
		Timeout:        time.Second,
		BreakerTimeout: time.Minute,
		BreakerTrips:   5,
		ReplyAgenda:    "Book here: https://cal.example.com/demo",
	}
}

func testRecord() *models.EmailRecord {
	return &models.EmailRecord{
		AccountID:   "acct_1",
		MessageID:   "m-1@example.com",
		FromName:    "Jane",
		FromAddress: "jane@example.com",
		Subject:     "Re: intro",
		BodyText:    "Sounds interesting, tell me more.",
	}
}

func TestGateway_Classify(t *testing.T) {
	provider := &mockProvider{concurrency: 3}
	provider.On("Classify", mock.Anything, mock.MatchedBy(func(r dto.EnrichmentRequest) bool {
		return r.From == "Jane <jane@example.com>" && r.Subject == "Re: intro"
	})).Return(&dto.ProviderClassification{Category: "interested", Confidence: 0.82, Rationale: "asks for more"}, nil)

	result := NewGateway(testConfig(), provider, logger.NewNopLogger()).Classify(context.Background(), testRecord())

	assert.Equal(t, enum.CategoryInterested, result.Category)
	assert.Equal(t, 0.82, result.Confidence)
	assert.Equal(t, "asks for more", result.Rationale)
	assert.False(t, result.Fallback)
	provider.AssertExpectations(t)
}

func TestGateway_Classify_ProviderErrorFallsBack(t *testing.T) {
	provider := &mockProvider{concurrency: 3}
	provider.On("Classify", mock.Anything, mock.Anything).Return(nil, errors.New("upstream 503"))

	result := NewGateway(testConfig(), provider, logger.NewNopLogger()).Classify(context.Background(), testRecord())

	assert.True(t, result.Fallback)
	assert.Equal(t, FallbackCategory, result.Category)
	assert.Less(t, result.Confidence, LowConfidenceThreshold)
	assert.Contains(t, result.Rationale, "upstream 503")
}

func TestGateway_Classify_TimeoutFallsBack(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 50 * time.Millisecond
	provider := &mockProvider{concurrency: 3}
	provider.On("Classify", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { time.Sleep(500 * time.Millisecond) }).
		Return(&dto.ProviderClassification{Category: "interested", Confidence: 0.9}, nil)

	start := time.Now()
	result := NewGateway(cfg, provider, logger.NewNopLogger()).Classify(context.Background(), testRecord())

	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.True(t, result.Fallback)
	assert.Less(t, result.Confidence, LowConfidenceThreshold)
}

func TestGateway_Classify_MalformedResponsesFallBack(t *testing.T) {
	tests := map[string]*dto.ProviderClassification{
		"unknown category":    {Category: "maybe", Confidence: 0.5},
		"confidence too high": {Category: "spam", Confidence: 1.7},
		"negative confidence": {Category: "spam", Confidence: -0.1},
	}

	for name, answer := range tests {
		t.Run(name, func(t *testing.T) {
			provider := &mockProvider{concurrency: 3}
			provider.On("Classify", mock.Anything, mock.Anything).Return(answer, nil)

			result := NewGateway(testConfig(), provider, logger.NewNopLogger()).Classify(context.Background(), testRecord())

			assert.True(t, result.Fallback)
			assert.Equal(t, FallbackCategory, result.Category)
		})
	}
}

func TestGateway_Classify_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cfg := testConfig()
	cfg.BreakerTrips = 2
	provider := &mockProvider{concurrency: 3}
	provider.On("Classify", mock.Anything, mock.Anything).Return(nil, errors.New("boom"))
	gw := NewGateway(cfg, provider, logger.NewNopLogger())

	for i := 0; i < 4; i++ {
		result := gw.Classify(context.Background(), testRecord())
		assert.True(t, result.Fallback)
	}

	provider.AssertNumberOfCalls(t, "Classify", 2)
}

func TestGateway_SuggestReply(t *testing.T) {
	provider := &mockProvider{concurrency: 3}
	provider.On("SuggestReply", mock.Anything, mock.MatchedBy(func(r dto.EnrichmentRequest) bool {
		return r.Agenda == "Book here: https://cal.example.com/demo"
	})).Return("  Happy to chat!  ", nil)

	reply := NewGateway(testConfig(), provider, logger.NewNopLogger()).SuggestReply(context.Background(), testRecord())

	assert.Equal(t, "Happy to chat!", reply)
}

func TestGateway_SuggestReply_FailureReturnsEmpty(t *testing.T) {
	provider := &mockProvider{concurrency: 3}
	provider.On("SuggestReply", mock.Anything, mock.Anything).Return("", errors.New("model overloaded"))

	reply := NewGateway(testConfig(), provider, logger.NewNopLogger()).SuggestReply(context.Background(), testRecord())

	assert.Empty(t, reply)
}

type countingProvider struct {
	keywordProvider
	concurrency int
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	mu          sync.Mutex
	seen        []string
}

func (p *countingProvider) Concurrency() int { return p.concurrency }

func (p *countingProvider) Classify(ctx context.Context, request dto.EnrichmentRequest) (*dto.ProviderClassification, error) {
	current := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		peak := p.maxInFlight.Load()
		if current <= peak || p.maxInFlight.CompareAndSwap(peak, current) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	p.mu.Lock()
	p.seen = append(p.seen, request.Subject)
	p.mu.Unlock()
	return p.keywordProvider.Classify(ctx, request)
}

func TestGateway_ClassifyBatch_CapsConcurrencyAndKeepsOrder(t *testing.T) {
	cfg := testConfig()
	cfg.BatchDelay = 10 * time.Millisecond
	provider := &countingProvider{concurrency: 2}
	gw := NewGateway(cfg, provider, logger.NewNopLogger())

	records := []*models.EmailRecord{
		{MessageID: "1", Subject: "I am not interested"},
		{MessageID: "2", Subject: "Out of office"},
		{MessageID: "3", Subject: "Tell me more please"},
		{MessageID: "4", Subject: "You have won the lottery"},
		{MessageID: "5", Subject: "Invitation: demo call"},
	}

	results := gw.ClassifyBatch(context.Background(), records)

	require.Len(t, results, 5)
	assert.Equal(t, enum.CategoryNotInterested, results[0].Category)
	assert.Equal(t, enum.CategoryOutOfOffice, results[1].Category)
	assert.Equal(t, enum.CategoryInterested, results[2].Category)
	assert.Equal(t, enum.CategorySpam, results[3].Category)
	assert.Equal(t, enum.CategoryMeetingBooked, results[4].Category)
	assert.LessOrEqual(t, provider.maxInFlight.Load(), int32(2))
	assert.Len(t, provider.seen, 5)
}

func TestGateway_ClassifyBatch_CancelledContextFallsBack(t *testing.T) {
	cfg := testConfig()
	cfg.BatchDelay = time.Hour
	gw := NewGateway(cfg, &countingProvider{concurrency: 1}, logger.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := gw.ClassifyBatch(ctx, []*models.EmailRecord{testRecord(), testRecord()})

	require.Len(t, results, 2)
	for _, result := range results {
		assert.True(t, result.Fallback)
	}
}
