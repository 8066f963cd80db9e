package service

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/CaioWing/Fiscus/internal/domain"
)

// inflightSet admits at most one mutating action per device at a time.
type inflightSet struct {
	mu      sync.Mutex
	running map[uuid.UUID]domain.AuditAction
}

func newInflightSet() *inflightSet {
	return &inflightSet{running: make(map[uuid.UUID]domain.AuditAction)}
}

// acquire claims id for action. The returned release must be called exactly once.
func (s *inflightSet) acquire(id uuid.UUID, action domain.AuditAction) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, busy := s.running[id]; busy {
		return nil, fmt.Errorf("%w: %s is running on device %s", domain.ErrActionInFlight, current, id)
	}
	s.running[id] = action

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.running, id)
			s.mu.Unlock()
		})
	}, nil
}
