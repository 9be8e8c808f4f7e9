package cache

import (
	"context"
	"sync"
	"time"

	"github.com/pulsedeck/backend/internal/domain/canonical"
	"github.com/pulsedeck/backend/internal/domain/integration"
)

// MemoryDeliveryDedup remembers webhook delivery ids in process memory.
// Suitable for a single instance and for tests; instances do not share
// state, so a redelivery hitting another instance is processed again.
type MemoryDeliveryDedup struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewMemoryDeliveryDedup creates the store and starts its expiry sweep
func NewMemoryDeliveryDedup() *MemoryDeliveryDedup {
	s := &MemoryDeliveryDedup{
		seen: make(map[string]time.Time),
		stop: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.sweepLoop()
	return s
}

// Remember records a delivery id, returning false when it was already seen
// within its TTL
func (s *MemoryDeliveryDedup) Remember(ctx context.Context, provider canonical.SourceTool, deliveryID string, ttl time.Duration) (bool, error) {
	key := string(provider) + ":" + deliveryID

	s.mu.Lock()
	defer s.mu.Unlock()

	if expiresAt, ok := s.seen[key]; ok && time.Now().Before(expiresAt) {
		return false, nil
	}
	s.seen[key] = time.Now().Add(ttl)
	return true, nil
}

// Close stops the expiry sweep. Safe to call more than once.
func (s *MemoryDeliveryDedup) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
	})
	return nil
}

// Size reports the number of remembered ids
func (s *MemoryDeliveryDedup) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func (s *MemoryDeliveryDedup) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryDeliveryDedup) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, expiresAt := range s.seen {
		if now.After(expiresAt) {
			delete(s.seen, key)
		}
	}
}

// Ensure MemoryDeliveryDedup implements DeliveryDedup
var _ integration.DeliveryDedup = (*MemoryDeliveryDedup)(nil)
