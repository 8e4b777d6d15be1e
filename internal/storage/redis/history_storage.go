package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/interfaces"
	"github.com/ternarybob/flashdeck/internal/models"
)

// HistoryStorage keeps a newest-first list per owner, trimmed on every append
type HistoryStorage struct {
	client *redis.Client
	keys   keyspace
	logger arbor.ILogger
}

func (s *HistoryStorage) Append(ctx context.Context, entry *models.ActionHistoryEntry, maxEntries int) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	key := s.keys.history(entry.Owner)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, payload)
		if maxEntries > 0 {
			pipe.LTrim(ctx, key, 0, int64(maxEntries-1))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append history entry: %w", err)
	}
	return nil
}

func (s *HistoryStorage) List(ctx context.Context, owner string, limit int) ([]*models.ActionHistoryEntry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	values, err := s.client.LRange(ctx, s.keys.history(owner), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	entries := make([]*models.ActionHistoryEntry, 0, len(values))
	for _, value := range values {
		var entry models.ActionHistoryEntry
		if err := json.Unmarshal([]byte(value), &entry); err != nil {
			s.logger.Warn().Err(err).Msg("Skipping unreadable history entry")
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

func (s *HistoryStorage) Clear(ctx context.Context, owner string) error {
	if err := s.client.Del(ctx, s.keys.history(owner)).Err(); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

// CredentialStorage stores the session under a single key
type CredentialStorage struct {
	client *redis.Client
	keys   keyspace
}

func (s *CredentialStorage) SaveCredential(ctx context.Context, cred *models.SessionCredential) error {
	cred.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.keys.session(), payload, 0).Err(); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

func (s *CredentialStorage) LoadCredential(ctx context.Context) (*models.SessionCredential, error) {
	data, err := s.client.Get(ctx, s.keys.session()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	var cred models.SessionCredential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}
	return &cred, nil
}

func (s *CredentialStorage) DeleteCredential(ctx context.Context) error {
	if err := s.client.Del(ctx, s.keys.session()).Err(); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}
