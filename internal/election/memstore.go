package election

import (
	"context"
	"sync"
	"time"
)

// MemoryLeaseStore keeps leases in process memory. Electors sharing one
// instance behave like separate processes sharing a database.
type MemoryLeaseStore struct {
	mu     sync.Mutex
	leases map[string]memoryLease
	now    func() time.Time
}

type memoryLease struct {
	owner     string
	expiresAt time.Time
}

// NewMemoryLeaseStore creates an empty store using the wall clock.
func NewMemoryLeaseStore() *MemoryLeaseStore {
	return &MemoryLeaseStore{
		leases: make(map[string]memoryLease),
		now:    time.Now,
	}
}

func (s *MemoryLeaseStore) TryAcquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	current, held := s.leases[name]
	if held && current.owner != owner && now.Before(current.expiresAt) {
		return false, nil
	}
	s.leases[name] = memoryLease{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *MemoryLeaseStore) Release(ctx context.Context, name, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, held := s.leases[name]; held && current.owner == owner {
		delete(s.leases, name)
	}
	return nil
}

// Holder returns the current unexpired owner of name, if any.
func (s *MemoryLeaseStore) Holder(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, held := s.leases[name]
	if !held || !s.now().Before(current.expiresAt) {
		return "", false
	}
	return current.owner, true
}
