package config

import (
	"time"
)

type AppConfig struct {
	APIPort string `env:"PORT,required" envDefault:"12222"`
	APIKey  string `env:"API_KEY,required"`
	// Namespace and PodName drive cron leader election when running in k8s
	Namespace string `env:"NAMESPACE" envDefault:"default"`
	PodName   string `env:"POD_NAME" envDefault:"local"`
}

type DatabaseConfig struct {
	Host            string `env:"MAILPULSE_POSTGRES_HOST,required"`
	Port            string `env:"MAILPULSE_POSTGRES_PORT,required"`
	User            string `env:"MAILPULSE_POSTGRES_USER,required"`
	DBName          string `env:"MAILPULSE_POSTGRES_DB_NAME,required"`
	Password        string `env:"MAILPULSE_POSTGRES_PASSWORD,required"`
	MaxConn         int    `env:"MAILPULSE_POSTGRES_DB_MAX_CONN" envDefault:"50"`
	MaxIdleConn     int    `env:"MAILPULSE_POSTGRES_DB_MAX_IDLE_CONN" envDefault:"10"`
	ConnMaxLifetime int    `env:"MAILPULSE_POSTGRES_DB_CONN_MAX_LIFETIME" envDefault:"60"`
	LogLevel        string `env:"MAILPULSE_POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"MAILPULSE_POSTGRES_SSL_MODE" envDefault:"require"`
}

// SyncConfig drives the connection supervisors and the ingestion pipeline.
type SyncConfig struct {
	// LookbackDays is the retention horizon, used both to pick initial
	// candidates and as the ingestion cutoff.
	LookbackDays       int           `env:"SYNC_LOOKBACK_DAYS" envDefault:"730"`
	InitialMaxMessages int           `env:"SYNC_INITIAL_MAX_MESSAGES" envDefault:"500"`
	ChunkSize          int           `env:"SYNC_CHUNK_SIZE" envDefault:"10"`
	PollInterval       time.Duration `env:"SYNC_POLL_INTERVAL" envDefault:"45s"`
	IdleDwell          time.Duration `env:"SYNC_IDLE_DWELL" envDefault:"5m"`
	RetryBackoff       time.Duration `env:"SYNC_RETRY_BACKOFF" envDefault:"2m"`
	MaxRetries         int           `env:"SYNC_MAX_RETRIES" envDefault:"5"`
	// MaxMessageAttempts is how many runs may fail on the same UID before
	// it is given up and the cursor moves past it.
	MaxMessageAttempts int           `env:"SYNC_MAX_MESSAGE_ATTEMPTS" envDefault:"5"`
	ConnectTimeout     time.Duration `env:"SYNC_CONNECT_TIMEOUT" envDefault:"1m"`
	FetchTimeout       time.Duration `env:"SYNC_FETCH_TIMEOUT" envDefault:"2m"`
	IndexTimeout       time.Duration `env:"SYNC_INDEX_TIMEOUT" envDefault:"30s"`
	DedupCacheSize     int           `env:"SYNC_DEDUP_CACHE_SIZE" envDefault:"10000"`
	ShutdownTimeout    time.Duration `env:"SYNC_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

func (c *SyncConfig) Lookback() time.Duration {
	if c.LookbackDays <= 0 {
		return 0
	}
	return time.Duration(c.LookbackDays) * 24 * time.Hour
}

type EnrichmentConfig struct {
	// Provider is "http" for the remote model service or "keyword" for the
	// offline heuristics.
	Provider       string        `env:"ENRICHMENT_PROVIDER" envDefault:"keyword"`
	URL            string        `env:"ENRICHMENT_URL"`
	APIKey         string        `env:"ENRICHMENT_API_KEY"`
	Timeout        time.Duration `env:"ENRICHMENT_TIMEOUT" envDefault:"30s"`
	BatchDelay     time.Duration `env:"ENRICHMENT_BATCH_DELAY" envDefault:"1s"`
	ReplyAgenda    string        `env:"ENRICHMENT_REPLY_AGENDA"`
	BodyExcerpt    int           `env:"ENRICHMENT_BODY_EXCERPT" envDefault:"4000"`
	BreakerTimeout time.Duration `env:"ENRICHMENT_BREAKER_TIMEOUT" envDefault:"1m"`
	BreakerTrips   uint32        `env:"ENRICHMENT_BREAKER_TRIPS" envDefault:"5"`
}

type NotificationConfig struct {
	SlackWebhookURL string        `env:"SLACK_WEBHOOK_URL"`
	WebhookURL      string        `env:"NOTIFICATION_WEBHOOK_URL"`
	Timeout         time.Duration `env:"NOTIFICATION_TIMEOUT" envDefault:"10s"`
}

type RabbitMQConfig struct {
	URL string `env:"RABBITMQ_URL"`
}

type RawArchiveConfig struct {
	Enabled         bool   `env:"RAW_ARCHIVE_ENABLED" envDefault:"false"`
	AccountID       string `env:"CLOUDFLARE_R2_ACCOUNT_ID"`
	AccessKeyID     string `env:"CLOUDFLARE_R2_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"CLOUDFLARE_R2_ACCESS_KEY_SECRET"`
	Bucket          string `env:"RAW_ARCHIVE_BUCKET" envDefault:"raw-emails"`
}

type CronConfig struct {
	// Heartbeat check, every minute
	CronScheduleHeartbeat string `env:"CRON_SCHEDULE_HEARTBEAT" envDefault:"0 * * * * *"`
	// Start supervisors for newly activated accounts, every minute
	CronScheduleReconcileAccounts string `env:"CRON_SCHEDULE_RECONCILE_ACCOUNTS" envDefault:"30 * * * * *"`
	// Safety sync of every connected account, every 15 minutes
	CronScheduleSafetySync string `env:"CRON_SCHEDULE_SAFETY_SYNC" envDefault:"0 */15 * * * *"`
}
