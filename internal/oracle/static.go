package oracle

import (
	"context"
	"math/big"
	"sync"
)

// Static is an in-memory adapter with operator-settable rounds. It backs local
// development and doubles as the deterministic test oracle: tests can publish
// stale, zero, or negative answers to exercise every converter branch.
type Static struct {
	mu     sync.RWMutex
	rounds map[string]Round
}

// NewStatic creates an empty static adapter.
func NewStatic() *Static {
	return &Static{rounds: make(map[string]Round)}
}

// SetRound publishes the latest answer for a feed handle.
func (s *Static) SetRound(handle string, price *big.Int, updatedAt, roundID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rounds[handle] = Round{Price: price, UpdatedAt: updatedAt, RoundID: roundID}.Copy()
}

// Clear removes the answer for a feed handle, simulating a dead feed.
func (s *Static) Clear(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rounds, handle)
}

// LatestRound returns the published round, or a zero round when nothing has
// been published for the handle.
func (s *Static) LatestRound(_ context.Context, handle string) (Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	round, ok := s.rounds[handle]
	if !ok {
		return Round{}, nil
	}
	return round.Copy(), nil
}
