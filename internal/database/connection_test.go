package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	gormlogger "gorm.io/gorm/logger"

	"github.com/customeros/mailpulse/config"
)

func TestValidateConfig(t *testing.T) {
	valid := &config.DatabaseConfig{
		Host:     "localhost",
		Port:     "5432",
		User:     "postgres",
		Password: "postgres",
		DBName:   "mailpulse",
		SSLMode:  "disable",
	}
	assert.NoError(t, validateConfig(valid))

	missingHost := *valid
	missingHost.Host = ""
	assert.Error(t, validateConfig(&missingHost))

	assert.Error(t, validateConfig(nil))
}

func TestNewConnection_InvalidPort(t *testing.T) {
	_, err := NewConnection(&config.DatabaseConfig{
		Host:     "localhost",
		Port:     "not-a-port",
		User:     "postgres",
		Password: "postgres",
		DBName:   "mailpulse",
		SSLMode:  "disable",
	})

	assert.ErrorContains(t, err, "invalid port number")
}

func TestGormLogLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Info, gormLogLevel("info"))
	assert.Equal(t, gormlogger.Silent, gormLogLevel("SILENT"))
	assert.Equal(t, gormlogger.Warn, gormLogLevel("unknown"))
}
