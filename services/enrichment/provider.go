package enrichment

import (
	"net/http"

	"github.com/customeros/mailpulse/config"
	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/logger"
)

// NewProvider picks the provider named in the config. The remote provider
// needs a URL; without it the keyword provider is used.
func NewProvider(cfg *config.EnrichmentConfig, log logger.Logger) interfaces.EnrichmentProvider {
	switch cfg.Provider {
	case "http":
		if cfg.URL != "" {
			return NewHTTPProvider(cfg.URL, cfg.APIKey, &http.Client{Timeout: cfg.Timeout})
		}
		log.Warn("ENRICHMENT_PROVIDER=http without ENRICHMENT_URL, using keyword provider")
	case "keyword", "":
	default:
		log.Warnf("Unknown enrichment provider %q, using keyword provider", cfg.Provider)
	}
	return NewKeywordProvider()
}
