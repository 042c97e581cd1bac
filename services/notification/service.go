package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailpulse/config"
	"github.com/customeros/mailpulse/dto"
	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/logger"
	"github.com/customeros/mailpulse/internal/tracing"
)

const defaultTimeout = 10 * time.Second

type destination interface {
	name() string
	payload(event dto.NotificationEvent) interface{}
	url() string
}

type notificationService struct {
	log          logger.Logger
	client       *http.Client
	timeout      time.Duration
	destinations []destination
	wg           sync.WaitGroup
}

// NewNotificationService builds a notifier for every configured webhook. With
// none configured Notify does nothing.
func NewNotificationService(cfg *config.NotificationConfig, log logger.Logger) *notificationService {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	s := &notificationService{
		log:     log,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
	if cfg.SlackWebhookURL != "" {
		s.destinations = append(s.destinations, slackDestination{webhook: cfg.SlackWebhookURL})
	}
	if cfg.WebhookURL != "" {
		s.destinations = append(s.destinations, webhookDestination{webhook: cfg.WebhookURL})
	}
	return s
}

var _ interfaces.Notifier = (*notificationService)(nil)

// Notify delivers the event to each destination on its own goroutine and
// returns immediately. Failures are logged and never reach the caller.
func (s *notificationService) Notify(ctx context.Context, event dto.NotificationEvent) {
	if len(s.destinations) == 0 {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	for _, d := range s.destinations {
		s.wg.Add(1)
		go func(d destination) {
			defer s.wg.Done()
			defer tracing.RecoverAndLogToJaeger(s.log)

			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
			defer cancel()

			if err := s.send(sendCtx, d, event); err != nil {
				s.log.Warnf("[%s] %s notification for email %s failed: %v", event.AccountID, d.name(), event.EmailID, err)
			}
		}(d)
	}
}

// Wait blocks until in-flight deliveries finish.
func (s *notificationService) Wait() {
	s.wg.Wait()
}

func (s *notificationService) send(ctx context.Context, d destination, event dto.NotificationEvent) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "NotificationService.send")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, event.AccountID)
	tracing.TagEntity(span, event.EmailID)
	span.SetTag("destination", d.name())

	body, err := json.Marshal(d.payload(event))
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url(), bytes.NewBuffer(body))
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectSpanContextIntoHTTPRequest(req, span)

	resp, err := s.client.Do(req)
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err = fmt.Errorf("request failed with status code %d: %s", resp.StatusCode, string(respBody))
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

type slackDestination struct {
	webhook string
}

type slackMessage struct {
	Text string `json:"text"`
}

func (d slackDestination) name() string { return "slack" }

func (d slackDestination) url() string { return d.webhook }

func (d slackDestination) payload(event dto.NotificationEvent) interface{} {
	return slackMessage{
		Text: fmt.Sprintf(":email: New *%s* reply (%.0f%%)\n*From:* %s\n*Subject:* %s",
			event.Category, event.Confidence*100, event.Sender, event.Subject),
	}
}

// webhookDestination posts the event as is.
type webhookDestination struct {
	webhook string
}

func (d webhookDestination) name() string { return "webhook" }

func (d webhookDestination) url() string { return d.webhook }

func (d webhookDestination) payload(event dto.NotificationEvent) interface{} {
	return event
}
