package repository

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryLedger is the in-process counterpart of the Redis claim ledger, used
// when no Redis is configured. Claims do not survive a restart.
type MemoryLedger struct {
	entries *cache.Cache
	ttl     time.Duration
}

func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryLedger{
		entries: cache.New(ttl, 2*ttl),
		ttl:     ttl,
	}
}

func (l *MemoryLedger) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = l.ttl
	}
	// Add fails when an unexpired item exists, which is exactly a lost claim.
	if err := l.entries.Add(key, time.Now(), ttl); err != nil {
		return false, nil
	}
	return true, nil
}

func (l *MemoryLedger) Release(_ context.Context, key string) error {
	l.entries.Delete(key)
	return nil
}
