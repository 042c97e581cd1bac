package enrichment

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/customeros/mailpulse/config"
	"github.com/customeros/mailpulse/dto"
	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/enum"
	"github.com/customeros/mailpulse/internal/logger"
	"github.com/customeros/mailpulse/internal/models"
	"github.com/customeros/mailpulse/internal/tracing"
	"github.com/customeros/mailpulse/internal/utils"
)

const (
	FallbackCategory   = enum.CategoryNotInterested
	FallbackConfidence = 0.1
	// LowConfidenceThreshold is strictly above every fallback confidence.
	LowConfidenceThreshold = 0.2

	defaultBodyExcerpt = 4000
)

type gateway struct {
	cfg      *config.EnrichmentConfig
	log      logger.Logger
	provider interfaces.EnrichmentProvider
	breaker  *gobreaker.CircuitBreaker
	pacer    *rate.Limiter
}

func NewGateway(cfg *config.EnrichmentConfig, provider interfaces.EnrichmentProvider, log logger.Logger) interfaces.EnrichmentGateway {
	trips := cfg.BreakerTrips
	if trips == 0 {
		trips = 5
	}
	settings := gobreaker.Settings{
		Name:        "enrichment-" + provider.Name(),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trips
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("Circuit breaker %s changed from %s to %s", name, from.String(), to.String())
		},
	}

	pacer := rate.NewLimiter(rate.Inf, 1)
	if cfg.BatchDelay > 0 {
		pacer = rate.NewLimiter(rate.Every(cfg.BatchDelay), 1)
	}

	return &gateway{
		cfg:      cfg,
		log:      log,
		provider: provider,
		breaker:  gobreaker.NewCircuitBreaker(settings),
		pacer:    pacer,
	}
}

func Fallback(reason string) dto.EnrichmentResult {
	return dto.EnrichmentResult{
		Category:   FallbackCategory,
		Confidence: FallbackConfidence,
		Rationale:  "fallback: " + reason,
		Fallback:   true,
	}
}

func (g *gateway) Classify(ctx context.Context, record *models.EmailRecord) dto.EnrichmentResult {
	span, ctx := opentracing.StartSpanFromContext(ctx, "EnrichmentGateway.Classify")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, record.MessageID)
	span.SetTag("provider", g.provider.Name())

	answer, err := callWithTimeout(ctx, g.cfg.Timeout, func(callCtx context.Context) (*dto.ProviderClassification, error) {
		result, err := g.breaker.Execute(func() (interface{}, error) {
			return g.provider.Classify(callCtx, g.request(record))
		})
		if err != nil {
			return nil, err
		}
		return result.(*dto.ProviderClassification), nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		g.log.Warnf("[%s] classification of %s fell back: %v", record.AccountID, record.MessageID, err)
		return Fallback(err.Error())
	}

	result, err := validate(answer)
	if err != nil {
		tracing.TraceErr(span, err)
		g.log.Warnf("[%s] malformed classification for %s: %v", record.AccountID, record.MessageID, err)
		return Fallback(err.Error())
	}

	span.LogKV("category", result.Category.String(), "confidence", result.Confidence)
	return result
}

// ClassifyBatch keeps at most provider.Concurrency() requests in flight and
// paces consecutive batches. Results are returned in input order.
func (g *gateway) ClassifyBatch(ctx context.Context, records []*models.EmailRecord) []dto.EnrichmentResult {
	span, ctx := opentracing.StartSpanFromContext(ctx, "EnrichmentGateway.ClassifyBatch")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.LogKV("records", len(records))

	results := make([]dto.EnrichmentResult, len(records))
	batchSize := g.provider.Concurrency()
	if batchSize <= 0 {
		batchSize = 1
	}

	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))

		if err := g.pacer.Wait(ctx); err != nil {
			for i := start; i < len(records); i++ {
				results[i] = Fallback("cancelled")
			}
			return results
		}

		group := new(errgroup.Group)
		group.SetLimit(batchSize)
		for i := start; i < end; i++ {
			i := i
			group.Go(func() error {
				results[i] = g.Classify(ctx, records[i])
				return nil
			})
		}
		_ = group.Wait()
	}

	return results
}

func (g *gateway) SuggestReply(ctx context.Context, record *models.EmailRecord) string {
	span, ctx := opentracing.StartSpanFromContext(ctx, "EnrichmentGateway.SuggestReply")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, record.MessageID)

	request := g.request(record)
	request.Agenda = g.cfg.ReplyAgenda

	reply, err := callWithTimeout(ctx, g.cfg.Timeout, func(callCtx context.Context) (string, error) {
		result, err := g.breaker.Execute(func() (interface{}, error) {
			return g.provider.SuggestReply(callCtx, request)
		})
		if err != nil {
			return "", err
		}
		return result.(string), nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		g.log.Warnf("[%s] reply suggestion for %s failed: %v", record.AccountID, record.MessageID, err)
		return ""
	}

	return strings.TrimSpace(reply)
}

func (g *gateway) request(record *models.EmailRecord) dto.EnrichmentRequest {
	excerpt := g.cfg.BodyExcerpt
	if excerpt <= 0 {
		excerpt = defaultBodyExcerpt
	}
	from := record.FromAddress
	if record.FromName != "" {
		from = fmt.Sprintf("%s <%s>", record.FromName, record.FromAddress)
	}
	return dto.EnrichmentRequest{
		From:        from,
		Subject:     record.Subject,
		BodyExcerpt: utils.Truncate(record.BodyText, excerpt),
	}
}

// callWithTimeout returns when fn does or the timeout elapses, whichever is
// first, so a provider ignoring its context cannot stall the caller.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("provider panic: %v", r)}
			}
		}()
		value, err := fn(callCtx)
		done <- outcome{value: value, err: err}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-callCtx.Done():
		return zero, fmt.Errorf("provider call: %w", callCtx.Err())
	}
}

func validate(answer *dto.ProviderClassification) (dto.EnrichmentResult, error) {
	if answer == nil {
		return dto.EnrichmentResult{}, fmt.Errorf("empty response")
	}
	category, ok := enum.ParseEmailCategory(strings.TrimSpace(answer.Category))
	if !ok {
		return dto.EnrichmentResult{}, fmt.Errorf("unknown category %q", answer.Category)
	}
	if math.IsNaN(answer.Confidence) || answer.Confidence < 0 || answer.Confidence > 1 {
		return dto.EnrichmentResult{}, fmt.Errorf("confidence %v out of range", answer.Confidence)
	}
	return dto.EnrichmentResult{
		Category:   category,
		Confidence: answer.Confidence,
		Rationale:  utils.Truncate(strings.TrimSpace(answer.Rationale), 500),
	}, nil
}
