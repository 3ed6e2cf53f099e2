// Package redis publishes the latest forecast per station to Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// KeyPrefix namespaces snapshot keys.
const KeyPrefix = "sealevel:forecast:"

// SnapshotStore keeps one JSON snapshot per station with a TTL.
type SnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewClient creates a Redis client and verifies the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return rdb, nil
}

// NewSnapshotStore wraps client. Snapshots expire after ttl.
func NewSnapshotStore(client *redis.Client, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{client: client, ttl: ttl}
}

// Key returns the snapshot key of station.
func Key(station string) string {
	return KeyPrefix + station
}

// Publish replaces the station's snapshot.
func (s *SnapshotStore) Publish(ctx context.Context, station string, payload []byte) error {
	if err := s.client.Set(ctx, Key(station), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", station, err)
	}
	return nil
}

// Latest returns the station's snapshot. The bool is false when none is
// stored or it has expired.
func (s *SnapshotStore) Latest(ctx context.Context, station string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, Key(station)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get %s: %w", station, err)
	}
	return val, true, nil
}

// CheckReadiness pings Redis.
func (s *SnapshotStore) CheckReadiness(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *SnapshotStore) Close() error {
	return s.client.Close()
}
