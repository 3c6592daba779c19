package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationList records credential IDs (jti) that must no longer be accepted
type RevocationList interface {
	Revoke(ctx context.Context, credentialID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, credentialID string) (bool, error)
}

// RedisRevocations keeps revoked credential IDs in Redis until the credential would have expired
type RedisRevocations struct {
	rdb    redis.Cmdable
	prefix string
}

// NewRedisRevocations creates a Redis-backed revocation list
func NewRedisRevocations(rdb redis.Cmdable, prefix string) *RedisRevocations {
	if prefix == "" {
		prefix = "quickauth:revoked:"
	}
	return &RedisRevocations{rdb: rdb, prefix: prefix}
}

// Revoke marks the credential revoked for ttl
func (r *RedisRevocations) Revoke(ctx context.Context, credentialID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.rdb.Set(ctx, r.prefix+credentialID, 1, ttl).Err(); err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	return nil
}

// IsRevoked reports whether the credential was revoked
func (r *RedisRevocations) IsRevoked(ctx context.Context, credentialID string) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.prefix+credentialID).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return n > 0, nil
}

// MemoryRevocations is an in-process revocation list for single-instance and test setups
type MemoryRevocations struct {
	mu      sync.Mutex
	revoked map[string]time.Time
}

// NewMemoryRevocations creates an empty in-process revocation list
func NewMemoryRevocations() *MemoryRevocations {
	return &MemoryRevocations{revoked: make(map[string]time.Time)}
}

// Revoke marks the credential revoked for ttl and drops entries that have
// already expired.
func (m *MemoryRevocations) Revoke(_ context.Context, credentialID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, until := range m.revoked {
		if now.After(until) {
			delete(m.revoked, id)
		}
	}
	m.revoked[credentialID] = now.Add(ttl)
	return nil
}

// IsRevoked reports whether the credential was revoked
func (m *MemoryRevocations) IsRevoked(_ context.Context, credentialID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.revoked[credentialID]
	if !ok {
		return false, nil
	}
	if time.Now().After(until) {
		delete(m.revoked, credentialID)
		return false, nil
	}
	return true, nil
}
