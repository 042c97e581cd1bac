package interfaces

import (
	"context"

	"github.com/customeros/mailpulse/dto"
	"github.com/customeros/mailpulse/internal/models"
)

// EnrichmentGateway never fails: errors degrade to a fallback result.
type EnrichmentGateway interface {
	Classify(ctx context.Context, record *models.EmailRecord) dto.EnrichmentResult
	ClassifyBatch(ctx context.Context, records []*models.EmailRecord) []dto.EnrichmentResult
	// SuggestReply returns an empty string when no reply could be produced.
	SuggestReply(ctx context.Context, record *models.EmailRecord) string
}

type EnrichmentProvider interface {
	Name() string
	// Concurrency is the number of in-flight requests the provider tolerates.
	Concurrency() int
	Classify(ctx context.Context, request dto.EnrichmentRequest) (*dto.ProviderClassification, error)
	SuggestReply(ctx context.Context, request dto.EnrichmentRequest) (string, error)
}
