package adapters

import (
	"context"
	"sync"
	"time"

	"github.com/satriahrh/voicenote-relay/domain/repositories"
)

// MemoryDedupeStore is an in-process DedupeStore used when Redis is not
// configured. Claims do not survive a restart.
type MemoryDedupeStore struct {
	mu     sync.Mutex
	seen   map[string]time.Time // key -> expiry
	ttl    time.Duration
	now    func() time.Time
	claims int
}

var _ repositories.DedupeStore = (*MemoryDedupeStore)(nil)

// sweepEvery bounds how often expired keys are purged
const sweepEvery = 256

// NewMemoryDedupeStore creates a store that remembers keys for ttl
func NewMemoryDedupeStore(ttl time.Duration) *MemoryDedupeStore {
	return &MemoryDedupeStore{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Claim implements DedupeStore
func (m *MemoryDedupeStore) Claim(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.claims++
	if m.claims%sweepEvery == 0 {
		for k, exp := range m.seen {
			if !now.Before(exp) {
				delete(m.seen, k)
			}
		}
	}

	if exp, ok := m.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.seen[key] = now.Add(m.ttl)
	return true, nil
}

// Len returns the number of remembered keys, including expired ones not yet swept
func (m *MemoryDedupeStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}
