package storage

import (
	"github.com/customeros/mailpulse/config"
	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/services/storage/aws_client"
)

// NewRawArchive returns nil when archiving is disabled.
func NewRawArchive(cfg *config.RawArchiveConfig) (interfaces.StorageService, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	client, err := aws_client.NewR2Client(cfg.AccountID, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, err
	}
	return NewStorageService(client, cfg.Bucket), nil
}
