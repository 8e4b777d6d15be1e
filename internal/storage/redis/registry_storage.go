package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/interfaces"
	"github.com/ternarybob/flashdeck/internal/models"
)

const maxWatchRetries = 10

// RegistryStorage keeps one hash per owner, field = resource id, value = JSON descriptor
type RegistryStorage struct {
	client *redis.Client
	keys   keyspace
	logger arbor.ILogger
}

func (s *RegistryStorage) Get(ctx context.Context, key models.RegistryKey) (*models.JobDescriptor, error) {
	data, err := s.client.HGet(ctx, s.keys.registry(key.Owner), key.ResourceID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job descriptor %s: %w", key, err)
	}
	return decodeDescriptor(data)
}

// Create uses WATCH so a concurrent writer on the owner's hash aborts the transaction
func (s *RegistryStorage) Create(ctx context.Context, desc *models.JobDescriptor) error {
	if err := desc.Validate(); err != nil {
		return fmt.Errorf("invalid job descriptor: %w", err)
	}
	desc.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(desc)
	if err != nil {
		return err
	}

	hash := s.keys.registry(desc.Owner)
	txf := func(tx *redis.Tx) error {
		existing, err := tx.HGet(ctx, hash, desc.ResourceID).Bytes()
		switch {
		case err == nil:
			current, err := decodeDescriptor(existing)
			if err != nil {
				return err
			}
			if !current.IsTerminal() {
				return interfaces.ErrAlreadyInFlight
			}
		case !errors.Is(err, redis.Nil):
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, hash, desc.ResourceID, payload)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err = s.client.Watch(ctx, txf, hash)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, interfaces.ErrAlreadyInFlight) {
			return err
		}
		if err != nil {
			return fmt.Errorf("failed to create job descriptor %s: %w", desc.Key(), err)
		}
		return nil
	}
	return fmt.Errorf("failed to create job descriptor %s: too much contention", desc.Key())
}

func (s *RegistryStorage) Save(ctx context.Context, desc *models.JobDescriptor) error {
	if err := desc.Validate(); err != nil {
		return fmt.Errorf("invalid job descriptor: %w", err)
	}
	desc.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(desc)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.keys.registry(desc.Owner), desc.ResourceID, payload).Err(); err != nil {
		return fmt.Errorf("failed to save job descriptor %s: %w", desc.Key(), err)
	}
	return nil
}

func (s *RegistryStorage) Delete(ctx context.Context, key models.RegistryKey) error {
	if err := s.client.HDel(ctx, s.keys.registry(key.Owner), key.ResourceID).Err(); err != nil {
		return fmt.Errorf("failed to delete job descriptor %s: %w", key, err)
	}
	return nil
}

func (s *RegistryStorage) List(ctx context.Context, owner string) ([]*models.JobDescriptor, error) {
	fields, err := s.client.HGetAll(ctx, s.keys.registry(owner)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list job descriptors: %w", err)
	}

	result := make([]*models.JobDescriptor, 0, len(fields))
	for field, value := range fields {
		desc, err := decodeDescriptor([]byte(value))
		if err != nil {
			s.logger.Warn().Err(err).Str("resource_id", field).Msg("Skipping unreadable job descriptor")
			continue
		}
		result = append(result, desc)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].SubmittedAt.After(result[j].SubmittedAt)
	})
	return result, nil
}

func (s *RegistryStorage) ListActive(ctx context.Context, owner string) ([]*models.JobDescriptor, error) {
	all, err := s.List(ctx, owner)
	if err != nil {
		return nil, err
	}
	active := make([]*models.JobDescriptor, 0, len(all))
	for _, desc := range all {
		if !desc.IsTerminal() {
			active = append(active, desc)
		}
	}
	return active, nil
}

func decodeDescriptor(data []byte) (*models.JobDescriptor, error) {
	var desc models.JobDescriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("decode job descriptor: %w", err)
	}
	return &desc, nil
}
