package interfaces

import (
	"context"

	"github.com/customeros/mailpulse/dto"
)

type MessageParser interface {
	Parse(raw []byte) (*dto.ParsedMessage, error)
}

type IngestionPipeline interface {
	Ingest(ctx context.Context, fetcher MessageFetcher, request dto.IngestRequest) (*dto.IngestResult, error)
}
