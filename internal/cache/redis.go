package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// RedisPersister stores cache entries in Redis under a shared hash tag
// prefix so multiple gateway instances can warm from the same backend.
type RedisPersister struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// RedisPersisterConfig holds configuration for the Redis backend.
type RedisPersisterConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string        // default: "llmgate:cache"
	TTL       time.Duration // Redis-side expiry, normally the cache TTL
}

// NewRedisPersister connects to Redis and verifies the connection.
func NewRedisPersister(ctx context.Context, cfg RedisPersisterConfig) (*RedisPersister, error) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "llmgate:cache"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisPersister{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.TTL,
	}, nil
}

// Save writes the entry with the configured Redis-side TTL.
func (r *RedisPersister) Save(ctx context.Context, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	return r.client.Set(ctx, r.key(entry.Fingerprint), data, r.ttl).Err()
}

// Load scans the prefix and returns all decodable entries.
func (r *RedisPersister) Load(ctx context.Context) ([]*Entry, error) {
	var entries []*Entry

	iter := r.client.Scan(ctx, 0, r.keyPrefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		if entry.Fingerprint == "" {
			continue
		}
		entries = append(entries, &entry)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return entries, nil
}

// Delete removes an entry by fingerprint.
func (r *RedisPersister) Delete(ctx context.Context, fingerprint string) error {
	return r.client.Del(ctx, r.key(fingerprint)).Err()
}

// Clear removes all entries under the prefix.
func (r *RedisPersister) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.keyPrefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// Close closes the Redis connection.
func (r *RedisPersister) Close() error {
	return r.client.Close()
}

func (r *RedisPersister) key(fingerprint string) string {
	return r.keyPrefix + ":" + fingerprint
}
