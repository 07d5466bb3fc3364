package oracle

import (
	"context"
	"math/big"
)

// Round is a single price observation as reported by an external feed. Prices
// are signed integers carrying the reference currency's fixed precision; a
// zero UpdatedAt or RoundID marks the round as degenerate and callers must
// refuse to convert through it.
type Round struct {
	Price     *big.Int
	UpdatedAt uint64
	RoundID   uint64
}

// Copy returns a deep copy so callers cannot mutate a shared price.
func (r Round) Copy() Round {
	clone := r
	if r.Price != nil {
		clone.Price = new(big.Int).Set(r.Price)
	}
	return clone
}

// Adapter wraps one external price source. Implementations return the latest
// round for a feed handle; an unknown or empty feed yields a zero Round rather
// than an error, leaving validity checks to the converter. Errors are reserved
// for transport failures.
type Adapter interface {
	LatestRound(ctx context.Context, handle string) (Round, error)
}
