package evm

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// PriceResolver turns pair reserves into a price. Implementations may call out
// to other sources; the default only looks at the reserves.
type PriceResolver interface {
	ResolvePrice(ctx context.Context, network, pair string, r *Reserves) (decimal.Decimal, error)
}

// ReserveRatio prices token0 in units of token1, both scaled by the same decimals.
type ReserveRatio struct {
	Decimals0 int32
	Decimals1 int32
}

func (rr ReserveRatio) ResolvePrice(_ context.Context, _, _ string, r *Reserves) (decimal.Decimal, error) {
	if r == nil || r.Reserve0 == nil || r.Reserve0.Sign() == 0 {
		return decimal.Zero, ErrNoLiquidity
	}
	r0 := decimal.NewFromBigInt(r.Reserve0, -rr.Decimals0)
	r1 := decimal.NewFromBigInt(r.Reserve1, -rr.Decimals1)
	return r1.DivRound(r0, 18), nil
}

// GetPairPrice reads the pair reserves and resolves them into a price.
func (c *Client) GetPairPrice(ctx context.Context, network, pair string) (decimal.Decimal, error) {
	reserves, err := c.GetPairReserves(ctx, network, pair)
	if err != nil {
		return decimal.Zero, err
	}
	price, err := c.prices.ResolvePrice(ctx, network, pair, reserves)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to resolve pair price: %w", err)
	}
	return price, nil
}
