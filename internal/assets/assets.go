package assets

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

const (
	// Native is the reserved symbol for the natively settled asset.
	Native = "NATIVE"
	// NativeDecimals is fixed at construction; the native asset never reports
	// its own precision the way registered tokens do.
	NativeDecimals = uint8(18)
)

var (
	// ErrUnknownAsset occurs when an operation references an asset that was
	// never registered with the custody service.
	ErrUnknownAsset = errors.New("assets: unknown asset")

	// ErrInvalidAsset indicates a malformed or reserved asset symbol.
	ErrInvalidAsset = errors.New("assets: invalid asset symbol")
)

// Info describes a registered asset.
type Info struct {
	Symbol   string
	Decimals uint8
}

// Registry answers precision queries for registered assets. It is the service
// side stand-in for querying decimals from the asset contract itself.
type Registry interface {
	Decimals(ctx context.Context, asset string) (uint8, error)
	Register(ctx context.Context, asset string, decimals uint8) error
	List(ctx context.Context) ([]Info, error)
}

// Normalize canonicalizes an asset symbol for use as a ledger key.
func Normalize(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

type memoryRegistry struct {
	mu       sync.RWMutex
	decimals map[string]uint8
}

// NewMemoryRegistry creates a concurrency-safe in-memory asset registry.
func NewMemoryRegistry() Registry {
	return &memoryRegistry{decimals: make(map[string]uint8)}
}

func (r *memoryRegistry) Decimals(_ context.Context, asset string) (uint8, error) {
	symbol := Normalize(asset)
	if symbol == Native {
		return NativeDecimals, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	dec, ok := r.decimals[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAsset, symbol)
	}
	return dec, nil
}

func (r *memoryRegistry) Register(_ context.Context, asset string, decimals uint8) error {
	symbol := Normalize(asset)
	if symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidAsset)
	}
	if symbol == Native {
		return fmt.Errorf("%w: native asset precision is fixed", ErrInvalidAsset)
	}
	if decimals > 36 {
		return fmt.Errorf("%w: decimals %d out of range", ErrInvalidAsset, decimals)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.decimals[symbol] = decimals
	return nil
}

func (r *memoryRegistry) List(_ context.Context) ([]Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.decimals)+1)
	infos = append(infos, Info{Symbol: Native, Decimals: NativeDecimals})
	for symbol, dec := range r.decimals {
		infos = append(infos, Info{Symbol: symbol, Decimals: dec})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Symbol < infos[j].Symbol })
	return infos, nil
}
