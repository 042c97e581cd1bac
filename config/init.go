package config

import (
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/customeros/mailpulse/internal/logger"
	"github.com/customeros/mailpulse/internal/tracing"
)

type Config struct {
	AppConfig          *AppConfig
	Logger             *logger.Config
	Tracing            *tracing.JaegerConfig
	DatabaseConfig     *DatabaseConfig
	SyncConfig         *SyncConfig
	EnrichmentConfig   *EnrichmentConfig
	NotificationConfig *NotificationConfig
	RabbitMQConfig     *RabbitMQConfig
	RawArchiveConfig   *RawArchiveConfig
	CronConfig         *CronConfig
}

func InitConfig() (*Config, error) {
	config := &Config{
		AppConfig:          &AppConfig{},
		Logger:             &logger.Config{},
		Tracing:            &tracing.JaegerConfig{},
		DatabaseConfig:     &DatabaseConfig{},
		SyncConfig:         &SyncConfig{},
		EnrichmentConfig:   &EnrichmentConfig{},
		NotificationConfig: &NotificationConfig{},
		RabbitMQConfig:     &RabbitMQConfig{},
		RawArchiveConfig:   &RawArchiveConfig{},
		CronConfig:         &CronConfig{},
	}

	err := godotenv.Load()
	if err != nil {
		log.Print("Unable to load .env file")
	}

	err = env.Parse(config)
	if err != nil {
		return nil, err
	}

	return config, nil
}

// DefaultSyncConfig returns the env defaults without reading the environment.
func DefaultSyncConfig() *SyncConfig {
	cfg := &SyncConfig{}
	_ = env.Parse(cfg, env.Options{Environment: map[string]string{}})
	return cfg
}
