package enrichment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailpulse/dto"
)

func TestHTTPProvider_Classify(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/classify", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var payload classifyPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "Re: intro", payload.Subject)
		assert.Len(t, payload.Categories, 5)

		_ = json.NewEncoder(w).Encode(dto.ProviderClassification{Category: "interested", Confidence: 0.7, Rationale: "asks for pricing"})
	}))
	defer server.Close()

	provider := NewHTTPProvider(server.URL+"/", "secret", server.Client())
	answer, err := provider.Classify(context.Background(), dto.EnrichmentRequest{Subject: "Re: intro"})

	require.NoError(t, err)
	assert.Equal(t, "interested", answer.Category)
	assert.Equal(t, 0.7, answer.Confidence)
}

func TestHTTPProvider_Classify_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer server.Close()

	_, err := NewHTTPProvider(server.URL, "", server.Client()).Classify(context.Background(), dto.EnrichmentRequest{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestHTTPProvider_SuggestReply_EmptyReplyIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/reply", r.URL.Path)
		_, _ = w.Write([]byte(`{"reply":"   "}`))
	}))
	defer server.Close()

	_, err := NewHTTPProvider(server.URL, "", server.Client()).SuggestReply(context.Background(), dto.EnrichmentRequest{})

	assert.Error(t, err)
}
