package marker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/miradorstack/mirador-chaos/internal/config"
	"github.com/miradorstack/mirador-chaos/internal/utils"
)

// ValkeyStore persists the marker in a Valkey/Redis-compatible server, for
// deployments where the pod filesystem does not survive restarts.
type ValkeyStore struct {
	client *redis.Client
	key    string
}

// NewValkeyStore connects to the configured server and pings it to fail fast
// on bad credentials or connectivity.
func NewValkeyStore(cfg config.ValkeyConfig, key string) (*ValkeyStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	if key == "" {
		return nil, errors.New("valkey marker key is required")
	}

	opts := &redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping valkey: %w", err)
	}

	return &ValkeyStore{client: client, key: key}, nil
}

// Read returns the persisted timestamp, or ErrNoMarker when the key is absent.
func (s *ValkeyStore) Read(ctx context.Context) (time.Time, error) {
	value, err := s.client.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, ErrNoMarker
		}
		return time.Time{}, fmt.Errorf("read marker: %w", err)
	}
	t, err := utils.ParseRFC3339(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode marker: %w", err)
	}
	return t, nil
}

// Write persists the timestamp without expiry. The marker stays until a
// recovery clears it.
func (s *ValkeyStore) Write(ctx context.Context, t time.Time) error {
	if err := s.client.Set(ctx, s.key, utils.FormatRFC3339(t), 0).Err(); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	return nil
}

// Clear removes the marker key.
func (s *ValkeyStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("clear marker: %w", err)
	}
	return nil
}

// Close releases the client connection pool.
func (s *ValkeyStore) Close() error { return s.client.Close() }
