package cache

import (
	"context"
	"errors"
	"time"
)

// FleetHeartbeatTTL bounds how long a persisted fleet heartbeat snapshot
// survives in the cache after the agent's last heartbeat. The fleet
// registry only writes this key; nothing in this module reads it back.
const FleetHeartbeatTTL = 5 * time.Minute

// FleetHeartbeatKey namespaces a fleet agent's heartbeat snapshot key.
func FleetHeartbeatKey(agentID string) string {
	return "fleet:heartbeat:" + agentID
}

// SLISnapshotTTL bounds how long a persisted SLI aggregate survives in the
// cache. It is a fixed two minutes, independent of the indicators' own
// windows; the SLO-evaluation loop rewrites snapshots every 30 seconds.
const SLISnapshotTTL = 2 * time.Minute

// SLISnapshotKey namespaces an agent's per-indicator aggregate snapshot key.
func SLISnapshotKey(agentID, sliName string) string {
	return "sli:snapshot:" + agentID + ":" + sliName
}

// Provider defines the minimal cache operations needed by the service.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrCacheMiss signals that a cache key was not found.
var ErrCacheMiss = errors.New("cache miss")

// NoopProvider implements Provider but never stores data.
type NoopProvider struct{}

// Get always returns ErrCacheMiss.
func (NoopProvider) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

// Set discards the value and returns nil.
func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

// SetNX pretends to store the value and reports success.
func (NoopProvider) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return true, nil
}

// Del is a no-op for the noop cache.
func (NoopProvider) Del(context.Context, string) error { return nil }

// Close is a no-op.
func (NoopProvider) Close() error { return nil }
