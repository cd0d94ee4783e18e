package distributor

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// CursorStore persists the next registry index of the factory loop per distributor.
// A distributor with no saved cursor starts at 0.
type CursorStore interface {
	LoadCursor(ctx context.Context, distributor common.Address) (uint64, error)
	SaveCursor(ctx context.Context, distributor common.Address, cursor uint64) error
}

// MemoryCursorStore is a CursorStore that lives only as long as the process.
type MemoryCursorStore struct {
	mu      sync.RWMutex
	cursors map[common.Address]uint64
}

func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{cursors: make(map[common.Address]uint64)}
}

func (s *MemoryCursorStore) LoadCursor(_ context.Context, distributor common.Address) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursors[distributor], nil
}

func (s *MemoryCursorStore) SaveCursor(_ context.Context, distributor common.Address, cursor uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[distributor] = cursor
	return nil
}
