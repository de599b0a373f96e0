package risk

import (
	"deriv_client/internal/assets"
	"deriv_client/internal/market"
	"deriv_client/internal/model"

	"github.com/shopspring/decimal"
)

// Calculator evaluates accounts against an injected market context. Each
// call takes a fresh snapshot so one computation sees consistent prices.
type Calculator struct {
	mctx *market.Context
}

func NewCalculator(mctx *market.Context) *Calculator {
	return &Calculator{mctx: mctx}
}

// AccountState computes the margin state of either account variant.
func (c *Calculator) AccountState(acc model.Account) (MarginAccountState, error) {
	return GetAccountState(acc, c.mctx.Snapshot(), nil)
}

// CrossAccountState computes a cross-margin state with optional PnL simulation.
func (c *Calculator) CrossAccountState(acc *model.CrossMarginAccount, opts *PnlOptions) (CrossMarginAccountState, error) {
	return GetCrossMarginAccountState(acc, c.mctx.Snapshot(), opts)
}

// MarginRequirements returns the requirement table of every loaded market of asset.
func (c *Calculator) MarginRequirements(asset assets.Asset) (map[int]MarginRequirement, error) {
	return GetMarginRequirements(c.mctx.Snapshot(), c.mctx.Markets(), asset)
}

// MaxLiquidationNativeSize sizes a liquidation against the current context.
func (c *Calculator) MaxLiquidationNativeSize(available decimal.Decimal, key model.MarketKey, isLong bool) (int64, error) {
	return CalculateMaxLiquidationNativeSize(c.mctx.Snapshot(), available, key, isLong)
}

// LiquidationCandidates evaluates acc and returns its liquidatable positions.
func (c *Calculator) LiquidationCandidates(acc model.Account) ([]LiquidationCandidate, MarginAccountState, error) {
	snap := c.mctx.Snapshot()
	state, err := GetAccountState(acc, snap, nil)
	if err != nil {
		return nil, MarginAccountState{}, err
	}
	return FindLiquidationCandidates(acc, state, snap), state, nil
}
