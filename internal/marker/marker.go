package marker

import (
	"context"
	"errors"
	"time"
)

// Store persists the last-known-unhealthy timestamp across process restarts,
// so a new instance can measure its crash-to-startup interval.
type Store interface {
	Read(ctx context.Context) (time.Time, error)
	Write(ctx context.Context, t time.Time) error
	Clear(ctx context.Context) error
	Close() error
}

// ErrNoMarker signals that no unhealthy marker is persisted.
var ErrNoMarker = errors.New("no unhealthy marker")

// NoopStore implements Store but never persists anything. With it, every
// startup interval is unmeasurable.
type NoopStore struct{}

// Read always returns ErrNoMarker.
func (NoopStore) Read(context.Context) (time.Time, error) {
	return time.Time{}, ErrNoMarker
}

// Write discards the timestamp and returns nil.
func (NoopStore) Write(context.Context, time.Time) error { return nil }

// Clear is a no-op.
func (NoopStore) Clear(context.Context) error { return nil }

// Close is a no-op.
func (NoopStore) Close() error { return nil }
