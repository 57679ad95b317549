package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wearwatch/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrCacheMiss is returned by KVStore.Get for a missing key
var ErrCacheMiss = errors.New("cache miss")

// KVStore is the key-value backend of the snapshot mirror
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// RedisKVStore implements KVStore with go-redis
type RedisKVStore struct {
	client *redis.Client
}

func NewRedisKVStore(client *redis.Client) *RedisKVStore {
	return &RedisKVStore{client: client}
}

func (r *RedisKVStore) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrCacheMiss
		}
		return "", err
	}
	return val, nil
}

func (r *RedisKVStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// snapshotReader is the query side of the engine
type snapshotReader interface {
	GetAllDeviceStates() []models.DeviceState
	GetAlerts() []models.AlertRecord
	GetStats(scopeDeviceID string) models.Stats
	GetHistory(deviceID string) []models.HistoryPoint
}

// SnapshotMirror copies the engine's view into a KV store after every change
// so other processes can render the dashboard
type SnapshotMirror struct {
	reader snapshotReader
	kv     KVStore
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

func NewSnapshotMirror(reader snapshotReader, kv KVStore, prefix string, ttl time.Duration, logger *zap.Logger) *SnapshotMirror {
	return &SnapshotMirror{
		reader: reader,
		kv:     kv,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

// Run writes a snapshot for every change event until the channel closes
// or ctx is cancelled
func (m *SnapshotMirror) Run(ctx context.Context, changes <-chan models.ChangeEvent) error {
	m.logger.Info("Starting snapshot mirror", zap.String("prefix", m.prefix), zap.Duration("ttl", m.ttl))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Snapshot mirror stopped")
			return nil
		case ev, ok := <-changes:
			if !ok {
				m.logger.Info("Change channel closed, snapshot mirror stopped")
				return nil
			}
			if err := m.Write(ctx, ev.DeviceIDs); err != nil {
				m.logger.Error("Failed to write snapshot",
					zap.String("reason", string(ev.Reason)),
					zap.Error(err))
			}
		}
	}
}

// Write stores the device table, alerts, fleet stats and the history of the
// given devices
func (m *SnapshotMirror) Write(ctx context.Context, deviceIDs []string) error {
	if err := m.setJSON(ctx, m.prefix+"devices", m.reader.GetAllDeviceStates()); err != nil {
		return err
	}
	if err := m.setJSON(ctx, m.prefix+"alerts", m.reader.GetAlerts()); err != nil {
		return err
	}
	if err := m.setJSON(ctx, m.prefix+"stats", m.reader.GetStats("")); err != nil {
		return err
	}
	for _, id := range deviceIDs {
		if err := m.setJSON(ctx, m.historyKey(id), m.reader.GetHistory(id)); err != nil {
			return err
		}
	}

	m.logger.Debug("Snapshot written", zap.Strings("device_ids", deviceIDs))
	return nil
}

func (m *SnapshotMirror) historyKey(deviceID string) string {
	return m.prefix + "history:" + deviceID
}

func (m *SnapshotMirror) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := m.kv.Set(ctx, key, string(data), m.ttl); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
