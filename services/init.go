package services

import (
	"context"

	"github.com/customeros/mailpulse/config"
	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/logger"
	"github.com/customeros/mailpulse/internal/repository"
	"github.com/customeros/mailpulse/services/accounts"
	"github.com/customeros/mailpulse/services/enrichment"
	"github.com/customeros/mailpulse/services/events"
	"github.com/customeros/mailpulse/services/imap"
	"github.com/customeros/mailpulse/services/ingestion"
	"github.com/customeros/mailpulse/services/notification"
	"github.com/customeros/mailpulse/services/parser"
	"github.com/customeros/mailpulse/services/storage"
)

// NotificationService is a Notifier whose in-flight deliveries can be
// awaited at shutdown.
type NotificationService interface {
	interfaces.Notifier
	Wait()
}

type Services struct {
	EventsService       *events.EventsService
	EnrichmentGateway   interfaces.EnrichmentGateway
	NotificationService NotificationService
	// RawArchive is nil when archiving is disabled.
	RawArchive     interfaces.StorageService
	Pipeline       interfaces.IngestionPipeline
	SyncSupervisor interfaces.SyncSupervisor
	AccountService *accounts.AccountService
}

func InitServices(cfg *config.Config, log logger.Logger, repos *repository.Repositories) (*Services, error) {
	eventsService, err := events.NewEventsService(cfg.RabbitMQConfig, cfg.AppConfig.PodName, log)
	if err != nil {
		return nil, err
	}

	archive, err := storage.NewRawArchive(cfg.RawArchiveConfig)
	if err != nil {
		_ = eventsService.Close(context.Background())
		return nil, err
	}

	enrichmentGateway := enrichment.NewGateway(cfg.EnrichmentConfig, enrichment.NewProvider(cfg.EnrichmentConfig, log), log)
	notificationService := notification.NewNotificationService(cfg.NotificationConfig, log)

	pipeline, err := ingestion.NewPipeline(cfg.SyncConfig, log, ingestion.Dependencies{
		Parser:     parser.NewParser(),
		Index:      repos.EmailRecordRepository,
		Accounts:   repos.AccountRepository,
		Enrichment: enrichmentGateway,
		Notifier:   notificationService,
		Events:     eventsService.Hub,
		Archive:    archive,
	})
	if err != nil {
		_ = eventsService.Close(context.Background())
		return nil, err
	}

	supervisor := imap.NewSyncSupervisor(cfg.SyncConfig, log, imap.Dependencies{
		Accounts:   repos.AccountRepository,
		SyncStates: repos.SyncStateRepository,
		Dialer:     imap.NewDialer(cfg.SyncConfig.FetchTimeout, log),
		Pipeline:   pipeline,
		Events:     eventsService.Hub,
	})

	accountService := accounts.NewAccountService(log, accounts.Dependencies{
		Accounts:   repos.AccountRepository,
		SyncStates: repos.SyncStateRepository,
		Index:      repos.EmailRecordRepository,
		Supervisor: supervisor,
		Archive:    archive,
	})

	return &Services{
		EventsService:       eventsService,
		EnrichmentGateway:   enrichmentGateway,
		NotificationService: notificationService,
		RawArchive:          archive,
		Pipeline:            pipeline,
		SyncSupervisor:      supervisor,
		AccountService:      accountService,
	}, nil
}
