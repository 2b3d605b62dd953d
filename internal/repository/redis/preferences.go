// Package redis stores view preferences in Redis so that several monview
// instances share them.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"monview/internal/domain"
	"monview/internal/repository"
)

// DefaultPrefix namespaces preference keys
const DefaultPrefix = "monview:prefs:"

// PreferenceRepository implements repository.PreferenceRepository
type PreferenceRepository struct {
	client redis.UniversalClient
	prefix string
}

var _ repository.PreferenceRepository = (*PreferenceRepository)(nil)

// NewPreferenceRepository creates a repository on client. An empty prefix
// selects DefaultPrefix.
func NewPreferenceRepository(client redis.UniversalClient, prefix string) *PreferenceRepository {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &PreferenceRepository{client: client, prefix: prefix}
}

// Dial connects to a single Redis server and verifies the connection
func Dial(ctx context.Context, addr, password string, db int) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

func (r *PreferenceRepository) key(machineID string) string {
	return r.prefix + machineID
}

// LoadPreference returns the stored entry of a machine
func (r *PreferenceRepository) LoadPreference(ctx context.Context, machineID string) (domain.ViewPreference, bool, error) {
	data, err := r.client.Get(ctx, r.key(machineID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ViewPreference{}, false, nil
	}
	if err != nil {
		return domain.ViewPreference{}, false, fmt.Errorf("get preference %s: %w", machineID, err)
	}

	var pref domain.ViewPreference
	if err := json.Unmarshal(data, &pref); err != nil {
		return domain.ViewPreference{}, false, fmt.Errorf("unmarshal preference %s: %w", machineID, err)
	}
	return pref.Clone(), true, nil
}

// SavePreferences writes all entries in one pipeline
func (r *PreferenceRepository) SavePreferences(ctx context.Context, entries map[string]domain.ViewPreference) error {
	if len(entries) == 0 {
		return nil
	}
	pipe := r.client.TxPipeline()
	for machineID, pref := range entries {
		data, err := json.Marshal(pref)
		if err != nil {
			return fmt.Errorf("marshal preference %s: %w", machineID, err)
		}
		pipe.Set(ctx, r.key(machineID), data, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}
