package custody

import (
	"context"
	"fmt"
	"math/big"

	"github.com/vaultbank/vaultbank/internal/assets"
	"github.com/vaultbank/vaultbank/internal/feeds"
	"github.com/vaultbank/vaultbank/internal/oracle"
)

// ReferenceDecimals is the system-wide precision of the reference currency.
// Feeds quote prices with this precision and converted values carry it.
const ReferenceDecimals = uint8(8)

// Converter turns asset amounts into reference-currency value using the bound
// price feed for the asset. It is pure with respect to ledger state; the only
// side effect is the oracle read.
type Converter struct {
	feeds   *feeds.Registry
	adapter oracle.Adapter
	assets  assets.Registry
}

// NewConverter wires the feed registry, price adapter and asset registry.
func NewConverter(registry *feeds.Registry, adapter oracle.Adapter, assetRegistry assets.Registry) *Converter {
	return &Converter{feeds: registry, adapter: adapter, assets: assetRegistry}
}

// Convert resolves the asset's feed binding, validates the latest round, and
// computes amount * price / 10^assetDecimals with truncation toward zero. The
// result keeps the feed's 8-decimal reference precision.
func (c *Converter) Convert(ctx context.Context, asset string, amount *big.Int) (*big.Int, error) {
	handle, err := c.feeds.Resolve(asset)
	if err != nil {
		return nil, err
	}

	round, err := c.adapter.LatestRound(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("query feed %q: %w", handle, err)
	}
	// The three checks below are a strict contract: weakening any one lets a
	// zero, negative, or untimed price pass through.
	if round.Price == nil || round.Price.Sign() <= 0 || round.UpdatedAt == 0 || round.RoundID == 0 {
		return nil, fmt.Errorf("%w: feed %q", ErrStaleOrInvalidFeed, handle)
	}

	decimals, err := c.decimals(ctx, asset)
	if err != nil {
		return nil, err
	}

	value := new(big.Int).Mul(amount, round.Price)
	return value.Quo(value, pow10(decimals)), nil
}

func (c *Converter) decimals(ctx context.Context, asset string) (uint8, error) {
	if assets.Normalize(asset) == assets.Native {
		return assets.NativeDecimals, nil
	}
	return c.assets.Decimals(ctx, asset)
}

func pow10(exp uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}
