package dto

import "github.com/customeros/mailpulse/internal/enum"

type EnrichmentRequest struct {
	From        string `json:"from"`
	Subject     string `json:"subject"`
	BodyExcerpt string `json:"body"`
	Agenda      string `json:"agenda,omitempty"`
}

// ProviderClassification is the unvalidated answer of a provider.
type ProviderClassification struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

type EnrichmentResult struct {
	Category   enum.EmailCategory `json:"category"`
	Confidence float64            `json:"confidence"`
	Rationale  string             `json:"rationale"`
	Fallback   bool               `json:"fallback"`
}
