package actionstore

import (
	"context"
	"sync"
	"time"

	"github.com/chantierhq/chantier/pkg/contracts"
)

// MemoryStore holds tickets in a mutex-guarded map. Expiry is enforced
// lazily on every access; the optional sweeper only bounds memory.
// Expired entries are kept until swept so Redeem can report Expired
// rather than NotFound.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*contracts.PendingAction
	clock   func() time.Time
	done    chan struct{}
	once    sync.Once
}

// NewMemoryStore creates an empty in-process ticket store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*contracts.PendingAction),
		clock:   time.Now,
		done:    make(chan struct{}),
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

// StartSweeper launches the periodic garbage pass. Stop with Close.
func (s *MemoryStore) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-s.done:
				return
			}
		}
	}()
}

// Close stops the sweeper, if running.
func (s *MemoryStore) Close() {
	s.once.Do(func() { close(s.done) })
}

// Sweep drops expired and consumed-and-expired entries.
func (s *MemoryStore) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	for id, a := range s.entries {
		if a.Expired(now) {
			delete(s.entries, id)
		}
	}
}

func (s *MemoryStore) Put(ctx context.Context, action *contracts.PendingAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	val := *action
	s.entries[action.ID] = &val
	return nil
}

func (s *MemoryStore) Peek(ctx context.Context, id string) (*contracts.PendingAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.entries[id]
	if !ok || a.Expired(s.clock()) {
		return nil, errTicketNotFound()
	}
	val := *a
	return &val, nil
}

func (s *MemoryStore) Redeem(ctx context.Context, id, principalID string) (*contracts.PendingAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.entries[id]
	if !ok {
		return nil, errTicketNotFound()
	}
	if !scopeAllowed(a.PrincipalID, principalID) {
		return nil, contracts.PermissionDenied()
	}
	if a.Expired(s.clock()) {
		return nil, errTicketExpired()
	}
	if a.Consumed {
		return nil, errTicketConsumed()
	}
	a.Consumed = true
	val := *a
	return &val, nil
}

func (s *MemoryStore) Cancel(ctx context.Context, id, principalID string) error {
	_, err := s.Redeem(ctx, id, principalID)
	return err
}

func (s *MemoryStore) Newest(ctx context.Context, principalID string) (*contracts.PendingAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	var newest *contracts.PendingAction
	for _, a := range s.entries {
		if a.Consumed || a.Expired(now) {
			continue
		}
		if !scopeAllowed(a.PrincipalID, principalID) {
			continue
		}
		if newest == nil || a.CreatedAt.After(newest.CreatedAt) {
			newest = a
		}
	}
	if newest == nil {
		return nil, errTicketNotFound()
	}
	val := *newest
	return &val, nil
}
