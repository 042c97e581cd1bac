package database

import (
	"gorm.io/gorm"

	"github.com/customeros/mailpulse/config"
	"github.com/customeros/mailpulse/internal/logger"
)

func InitDatabase(dbConfig *config.DatabaseConfig, log logger.Logger) (*gorm.DB, error) {
	db, err := NewConnection(dbConfig)
	if err != nil {
		log.Errorf("Failed to connect to the database: %v", err)
		return nil, err
	}

	log.Infof("Connected to database %s on %s", dbConfig.DBName, dbConfig.Host)
	return db, nil
}
