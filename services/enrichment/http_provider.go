package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailpulse/dto"
	"github.com/customeros/mailpulse/internal/enum"
	"github.com/customeros/mailpulse/internal/tracing"
)

const httpProviderConcurrency = 3

type classifyPayload struct {
	dto.EnrichmentRequest
	Categories []enum.EmailCategory `json:"categories"`
}

type replyResponse struct {
	Reply string `json:"reply"`
}

// httpProvider calls a remote model service. It is accurate but slow and
// rate limited, hence the low concurrency.
type httpProvider struct {
	url    string
	apiKey string
	client *http.Client
}

func NewHTTPProvider(url, apiKey string, client *http.Client) *httpProvider {
	if client == nil {
		client = &http.Client{}
	}
	return &httpProvider{
		url:    strings.TrimRight(url, "/"),
		apiKey: apiKey,
		client: client,
	}
}

func (p *httpProvider) Name() string {
	return "http"
}

func (p *httpProvider) Concurrency() int {
	return httpProviderConcurrency
}

func (p *httpProvider) Classify(ctx context.Context, request dto.EnrichmentRequest) (*dto.ProviderClassification, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "httpProvider.Classify")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	var response dto.ProviderClassification
	err := p.post(ctx, span, "/v1/classify", classifyPayload{
		EnrichmentRequest: request,
		Categories:        enum.AllEmailCategories(),
	}, &response)
	if err != nil {
		return nil, err
	}

	tracing.LogObjectAsJson(span, "response", response)
	return &response, nil
}

func (p *httpProvider) SuggestReply(ctx context.Context, request dto.EnrichmentRequest) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "httpProvider.SuggestReply")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	var response replyResponse
	if err := p.post(ctx, span, "/v1/reply", request, &response); err != nil {
		return "", err
	}
	if strings.TrimSpace(response.Reply) == "" {
		return "", errors.New("empty reply")
	}
	return response.Reply, nil
}

func (p *httpProvider) post(ctx context.Context, span opentracing.Span, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+path, bytes.NewBuffer(body))
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	tracing.InjectSpanContextIntoHTTPRequest(req, span)

	resp, err := p.client.Do(req)
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "unable to read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err = fmt.Errorf("request failed with status code %d: %s", resp.StatusCode, string(respBody))
		tracing.TraceErr(span, err)
		return err
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
