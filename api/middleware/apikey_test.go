package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newAPIKeyRouter(validKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(APIKeyMiddleware(APIKeyConfig{ValidAPIKey: validKey}))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func TestAPIKeyMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		validKey string
		header   string
		status   int
	}{
		{name: "missing", validKey: "secret", header: "", status: http.StatusUnauthorized},
		{name: "wrong", validKey: "secret", header: "nope", status: http.StatusUnauthorized},
		{name: "valid with whitespace", validKey: "secret", header: "  secret ", status: http.StatusOK},
		{name: "unconfigured key rejects all", validKey: "", header: "anything", status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			if tt.header != "" {
				req.Header.Set(APIKeyHeader, tt.header)
			}
			w := httptest.NewRecorder()
			newAPIKeyRouter(tt.validKey).ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestCustomContextMiddleware_RequestId(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CustomContextMiddleware("mailpulse"))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("RequestId")) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, w.Body.String())
	assert.Equal(t, w.Body.String(), w.Header().Get(RequestIdHeader))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIdHeader, "req-42")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Body.String())
}
