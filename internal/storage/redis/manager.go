// -----------------------------------------------------------------------
// Redis storage - shared Registry for several clients of one user
// -----------------------------------------------------------------------

package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/common"
	"github.com/ternarybob/flashdeck/internal/interfaces"
)

// Manager implements the StorageManager interface for Redis
type Manager struct {
	client     *redis.Client
	registry   *RegistryStorage
	history    *HistoryStorage
	credential *CredentialStorage
	logger     arbor.ILogger
}

// NewManager connects to config.URL and verifies the connection
func NewManager(ctx context.Context, logger arbor.ILogger, config *common.RedisConfig) (interfaces.StorageManager, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.Info().Str("addr", opts.Addr).Str("prefix", config.KeyPrefix).Msg("Redis storage manager initialized")

	return NewManagerWithClient(client, config.KeyPrefix, logger), nil
}

// NewManagerWithClient wraps an existing client
func NewManagerWithClient(client *redis.Client, prefix string, logger arbor.ILogger) *Manager {
	keys := keyspace{prefix: prefix}
	return &Manager{
		client:     client,
		registry:   &RegistryStorage{client: client, keys: keys, logger: logger},
		history:    &HistoryStorage{client: client, keys: keys, logger: logger},
		credential: &CredentialStorage{client: client, keys: keys},
		logger:     logger,
	}
}

func (m *Manager) JobRegistry() interfaces.JobRegistry {
	return m.registry
}

func (m *Manager) HistoryStorage() interfaces.HistoryStorage {
	return m.history
}

func (m *Manager) CredentialStorage() interfaces.CredentialStorage {
	return m.credential
}

func (m *Manager) Close() error {
	return m.client.Close()
}

type keyspace struct {
	prefix string
}

func (k keyspace) key(parts ...string) string {
	key := k.prefix
	for _, p := range parts {
		if key == "" {
			key = p
			continue
		}
		key += ":" + p
	}
	return key
}

func (k keyspace) registry(owner string) string {
	return k.key("registry", owner)
}

func (k keyspace) history(owner string) string {
	return k.key("history", owner)
}

func (k keyspace) session() string {
	return k.key("session")
}
