package handlers

import (
	"github.com/customeros/mailpulse/internal/logger"
	"github.com/customeros/mailpulse/internal/repository"
	"github.com/customeros/mailpulse/services"
)

type APIHandlers struct {
	Health   *HealthHandler
	Accounts *AccountsHandler
	Emails   *EmailsHandler
	Events   *EventsHandler
}

func InitHandlers(s *services.Services, r *repository.Repositories, log logger.Logger) *APIHandlers {
	return &APIHandlers{
		Health:   NewHealthHandler(s.SyncSupervisor, s.EventsService.Hub),
		Accounts: NewAccountsHandler(s.AccountService, s.SyncSupervisor),
		Emails:   NewEmailsHandler(r.EmailRecordRepository, s.EnrichmentGateway, s.EventsService.Hub, s.RawArchive, log),
		Events:   NewEventsHandler(s.EventsService.Hub, DefaultKeepAlive),
	}
}
