package feeds

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/vaultbank/vaultbank/internal/assets"
)

var (
	// ErrFeedUnavailable occurs when no price feed is bound for an asset, or
	// when a bind is attempted with an absent feed handle.
	ErrFeedUnavailable = errors.New("feeds: no price feed bound")

	// ErrNativeFixed indicates an attempt to rebind the native asset's feed,
	// which is set once at construction.
	ErrNativeFixed = errors.New("feeds: native feed binding is fixed")
)

// Registry maps asset symbols to external price feed handles. The native
// binding is immutable; token bindings are admin-settable and default to
// unbound, which makes any conversion for the asset fail until bound.
type Registry struct {
	mu     sync.RWMutex
	native string
	bound  map[string]string
}

// NewRegistry creates a registry with the native feed fixed to the provided
// handle.
func NewRegistry(nativeFeed string) (*Registry, error) {
	handle := strings.TrimSpace(nativeFeed)
	if handle == "" {
		return nil, fmt.Errorf("%w: native feed handle required", ErrFeedUnavailable)
	}
	return &Registry{native: handle, bound: make(map[string]string)}, nil
}

// NativeFeed returns the fixed native-asset feed handle.
func (r *Registry) NativeFeed() string {
	return r.native
}

// Bind associates an asset with a feed handle, overwriting any prior binding.
// Rebinding to the same handle is a no-op.
func (r *Registry) Bind(asset, handle string) error {
	symbol := assets.Normalize(asset)
	if symbol == assets.Native {
		return ErrNativeFixed
	}
	if symbol == "" {
		return fmt.Errorf("feeds: asset symbol required")
	}
	trimmed := strings.TrimSpace(handle)
	if trimmed == "" {
		return fmt.Errorf("%w: feed handle required", ErrFeedUnavailable)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.bound[symbol] = trimmed
	return nil
}

// Resolve returns the feed handle for an asset, failing when unbound.
func (r *Registry) Resolve(asset string) (string, error) {
	symbol := assets.Normalize(asset)
	if symbol == assets.Native {
		return r.native, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	handle, ok := r.bound[symbol]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrFeedUnavailable, symbol)
	}
	return handle, nil
}

// Bindings returns a copy of the current token bindings plus the native feed.
func (r *Registry) Bindings() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.bound)+1)
	out[assets.Native] = r.native
	for symbol, handle := range r.bound {
		out[symbol] = handle
	}
	return out
}
