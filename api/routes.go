package api

import (
	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailpulse/api/handlers"
	"github.com/customeros/mailpulse/api/middleware"
	"github.com/customeros/mailpulse/internal/logger"
	"github.com/customeros/mailpulse/internal/repository"
	"github.com/customeros/mailpulse/internal/tracing"
	"github.com/customeros/mailpulse/services"
)

const appSource = "mailpulse"

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(r *gin.Engine, s *services.Services, repos *repository.Repositories, apikey string, log logger.Logger) {
	if s == nil {
		panic("Services cannot be nil")
	}
	if repos == nil {
		panic("Repositories cannot be nil")
	}

	r.Use(gin.Recovery())
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer()))

	apiHandlers := handlers.InitHandlers(s, repos, log)

	r.GET("/health", apiHandlers.Health.HealthCheck)
	r.GET("/status", apiHandlers.Health.Status)

	api := r.Group("/v1")
	api.Use(middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  middleware.APIKeyHeader,
		ValidAPIKey: apikey,
	}))
	api.Use(middleware.CustomContextMiddleware(appSource))
	api.Use(middleware.TracingMiddleware())
	{
		accounts := api.Group("/accounts")
		{
			accounts.GET("", apiHandlers.Accounts.List)
			accounts.POST("", apiHandlers.Accounts.Create)
			accounts.GET("/:id", apiHandlers.Accounts.Get)
			accounts.DELETE("/:id", apiHandlers.Accounts.Delete)
			accounts.POST("/:id/activate", apiHandlers.Accounts.Activate)
			accounts.POST("/:id/deactivate", apiHandlers.Accounts.Deactivate)
			accounts.POST("/:id/sync", apiHandlers.Accounts.Sync)
		}

		emails := api.Group("/emails")
		{
			emails.GET("", apiHandlers.Emails.Search)
			emails.GET("/:id", apiHandlers.Emails.Get)
			emails.PATCH("/:id", apiHandlers.Emails.Patch)
			emails.DELETE("/:id", apiHandlers.Emails.Delete)
			emails.GET("/:id/raw", apiHandlers.Emails.Raw)
			emails.POST("/:id/reply-suggestion", apiHandlers.Emails.SuggestReply)
			emails.POST("/:id/recategorize", apiHandlers.Emails.Recategorize)
		}

		api.GET("/events", apiHandlers.Events.Stream)
	}
}
