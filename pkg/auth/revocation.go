package auth

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationStore records token ids that were invalidated before expiry.
// Revoke reports true only for the call that moved the id into the store.
type RevocationStore interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error)
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Blacklist is the per-process revocation set. Entries are kept until the
// token's own expiry, after which Sweep drops them.
type Blacklist struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

// NewBlacklist creates an empty revocation set
func NewBlacklist() *Blacklist {
	return &Blacklist{entries: make(map[string]time.Time)}
}

// Revoke adds a token id to the set
func (b *Blacklist) Revoke(_ context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[tokenID]; ok {
		return false, nil
	}
	b.entries[tokenID] = expiresAt
	return true, nil
}

// IsRevoked reports whether the token id is in the set
func (b *Blacklist) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.entries[tokenID]
	return ok, nil
}

// Sweep removes entries whose token expiry has passed and returns how many were dropped
func (b *Blacklist) Sweep(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for id, expiresAt := range b.entries {
		if !now.Before(expiresAt) {
			delete(b.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of revoked token ids currently held
func (b *Blacklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Run sweeps the set on every tick until ctx is cancelled
func (b *Blacklist) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := b.Sweep(now); n > 0 {
				log.Printf("🧹 Swept %d expired revocations (%d left)", n, b.Len())
			}
		}
	}
}

// RedisRevocationStore keeps revocations in Redis so every process sees them.
// Keys expire together with the token, so no sweep is needed.
type RedisRevocationStore struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRedisRevocationStore creates a Redis backed revocation store
func NewRedisRevocationStore(rdb *redis.Client) *RedisRevocationStore {
	return &RedisRevocationStore{rdb: rdb, now: time.Now}
}

func blacklistKey(tokenID string) string {
	return "blacklist:" + tokenID
}

// Revoke writes blacklist:<tokenID> with a TTL equal to the remaining token
// lifetime. SETNX makes the first writer across all processes the only winner.
func (s *RedisRevocationStore) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return false, nil
	}
	return s.rdb.SetNX(ctx, blacklistKey(tokenID), "revoked", ttl).Result()
}

// IsRevoked checks for the blacklist key
func (s *RedisRevocationStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, blacklistKey(tokenID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
