package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/customeros/mailpulse/config"
	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/models"
)

type Repositories struct {
	AccountRepository     interfaces.AccountRepository
	EmailRecordRepository interfaces.EmailIndex
	SyncStateRepository   interfaces.SyncStateRepository
}

func InitRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		AccountRepository:     NewAccountRepository(db),
		EmailRecordRepository: NewEmailRecordRepository(db),
		SyncStateRepository:   NewSyncStateRepository(db),
	}
}

func MigrateDB(dbConfig *config.DatabaseConfig, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	sqlDB.SetMaxOpenConns(5)

	err = db.AutoMigrate(
		&models.Account{},
		&models.EmailRecord{},
		&models.SyncState{},
	)
	if err == nil {
		// full text search over the same document the search query builds
		err = db.Exec("CREATE INDEX IF NOT EXISTS idx_email_records_search ON email_records USING GIN (" + searchDocumentSQL + ")").Error
	}

	sqlDB.SetMaxIdleConns(dbConfig.MaxIdleConn)
	sqlDB.SetMaxOpenConns(dbConfig.MaxConn)
	sqlDB.SetConnMaxLifetime(time.Duration(dbConfig.ConnMaxLifetime) * time.Minute)

	return err
}
