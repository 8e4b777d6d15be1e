package storage

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/common"
	"github.com/ternarybob/flashdeck/internal/interfaces"
	"github.com/ternarybob/flashdeck/internal/storage/badger"
	"github.com/ternarybob/flashdeck/internal/storage/redis"
)

// NewStorageManager creates a new storage manager based on config
func NewStorageManager(ctx context.Context, logger arbor.ILogger, config *common.Config) (interfaces.StorageManager, error) {
	switch config.Storage.Type {
	case "", "badger":
		return badger.NewManager(logger, &config.Storage.Badger)
	case "redis":
		return redis.NewManager(ctx, logger, &config.Storage.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (expected 'badger' or 'redis')", config.Storage.Type)
	}
}
