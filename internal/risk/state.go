package risk

import (
	"fmt"

	"deriv_client/internal/assets"
	"deriv_client/internal/market"
	"deriv_client/internal/model"
	"deriv_client/pkg/fixedpoint"

	"github.com/shopspring/decimal"
)

// MarginAccountState is a point-in-time margin summary. Available balances may be negative.
type MarginAccountState struct {
	Balance                     decimal.Decimal
	InitialMargin               decimal.Decimal
	MaintenanceMargin           decimal.Decimal
	UnrealizedPnl               decimal.Decimal
	AvailableBalanceInitial     decimal.Decimal
	AvailableBalanceMaintenance decimal.Decimal
}

// CanOpenRisk reports whether initial margin is satisfied.
func (s MarginAccountState) CanOpenRisk() bool {
	return !s.AvailableBalanceInitial.IsNegative()
}

// Liquidatable reports whether maintenance margin is breached.
func (s MarginAccountState) Liquidatable() bool {
	return s.AvailableBalanceMaintenance.IsNegative()
}

// AssetMarginState is one asset's contribution to a cross-margin account.
type AssetMarginState struct {
	InitialMargin     decimal.Decimal
	MaintenanceMargin decimal.Decimal
	UnrealizedPnl     decimal.Decimal
}

// CrossMarginAccountState adds the per-asset breakdown.
type CrossMarginAccountState struct {
	MarginAccountState
	ByAsset map[assets.Asset]AssetMarginState
}

// PnlOptions simulates closing positions at hypothetical prices. A nil
// options value uses live marks and no fees.
type PnlOptions struct {
	ExecutionPrices map[assets.Asset]decimal.Decimal
	AddTakerFees    bool
}

type ledgerContribution struct {
	initial     decimal.Decimal
	maintenance decimal.Decimal
	pnl         decimal.Decimal
}

func contribution(v market.View, e model.LedgerEntry, opts *PnlOptions) (ledgerContribution, error) {
	req, err := RequirementFor(v, e.Key)
	if err != nil {
		return ledgerContribution{}, err
	}
	mark, err := markPrice(v, e.Key)
	if err != nil {
		return ledgerContribution{}, err
	}

	mult := e.Key.Asset.Multiplier()
	pl := e.Ledger
	var c ledgerContribution

	bids := fixedpoint.ToDecimalSize(int64(pl.OrderState.OpeningOrders[model.SideBid]), mult)
	asks := fixedpoint.ToDecimalSize(int64(pl.OrderState.OpeningOrders[model.SideAsk]), mult)
	c.initial = bids.Mul(req.InitialLong).Add(asks.Mul(req.InitialShort))

	if pl.Position.Size == 0 {
		return c, nil
	}

	isLong := pl.IsLong()
	size := fixedpoint.ToDecimalSize(int64(pl.AbsSize()), mult)
	c.initial = c.initial.Add(size.Mul(req.Initial(isLong)))
	c.maintenance = size.Mul(req.Maintenance(isLong))

	price := mark
	if opts != nil {
		if p, ok := opts.ExecutionPrices[e.Key.Asset]; ok {
			price = p
		}
	}
	cost := fixedpoint.ToDecimalUnsigned(pl.Position.CostOfTrades, fixedpoint.PlatformPrecision)
	if isLong {
		c.pnl = price.Mul(size).Sub(cost)
	} else {
		c.pnl = cost.Sub(price.Mul(size))
	}

	if opts != nil && opts.AddTakerFees {
		params, err := marginParams(v, e.Key.Asset)
		if err != nil {
			return ledgerContribution{}, err
		}
		c.pnl = c.pnl.Sub(size.Mul(price).Mul(params.TakerFeeRate))
	}
	return c, nil
}

func finish(balance decimal.Decimal, initial, maintenance, pnl decimal.Decimal) MarginAccountState {
	return MarginAccountState{
		Balance:                     balance,
		InitialMargin:               initial,
		MaintenanceMargin:           maintenance,
		UnrealizedPnl:               pnl,
		AvailableBalanceInitial:     balance.Add(pnl).Sub(initial),
		AvailableBalanceMaintenance: balance.Add(pnl).Sub(maintenance),
	}
}

// GetMarginAccountState computes the state of a legacy single-asset account.
// Every relevant market must have a mark price.
func GetMarginAccountState(acc *model.MarginAccount, v market.View) (MarginAccountState, error) {
	initial, maintenance, pnl := decimal.Zero, decimal.Zero, decimal.Zero
	for _, e := range model.RelevantLedgers(acc.Ledgers()) {
		c, err := contribution(v, e, nil)
		if err != nil {
			return MarginAccountState{}, err
		}
		initial = initial.Add(c.initial)
		maintenance = maintenance.Add(c.maintenance)
		pnl = pnl.Add(c.pnl)
	}
	balance := fixedpoint.ToDecimalUnsigned(acc.Balance, fixedpoint.PlatformPrecision)
	return finish(balance, initial, maintenance, pnl), nil
}

// GetCrossMarginAccountState computes the state of a cross-margin account.
func GetCrossMarginAccountState(acc *model.CrossMarginAccount, v market.View, opts *PnlOptions) (CrossMarginAccountState, error) {
	byAsset := make(map[assets.Asset]AssetMarginState)
	initial, maintenance, pnl := decimal.Zero, decimal.Zero, decimal.Zero

	for _, e := range model.RelevantLedgers(acc.Ledgers()) {
		c, err := contribution(v, e, opts)
		if err != nil {
			return CrossMarginAccountState{}, err
		}
		initial = initial.Add(c.initial)
		maintenance = maintenance.Add(c.maintenance)
		pnl = pnl.Add(c.pnl)

		a := byAsset[e.Key.Asset]
		a.InitialMargin = a.InitialMargin.Add(c.initial)
		a.MaintenanceMargin = a.MaintenanceMargin.Add(c.maintenance)
		a.UnrealizedPnl = a.UnrealizedPnl.Add(c.pnl)
		byAsset[e.Key.Asset] = a
	}

	balance := fixedpoint.ToDecimalUnsigned(acc.Balance, fixedpoint.PlatformPrecision)
	return CrossMarginAccountState{
		MarginAccountState: finish(balance, initial, maintenance, pnl),
		ByAsset:            byAsset,
	}, nil
}

// GetAccountState dispatches on the account variant.
func GetAccountState(acc model.Account, v market.View, opts *PnlOptions) (MarginAccountState, error) {
	switch a := acc.(type) {
	case *model.MarginAccount:
		return GetMarginAccountState(a, v)
	case *model.CrossMarginAccount:
		s, err := GetCrossMarginAccountState(a, v, opts)
		return s.MarginAccountState, err
	default:
		return MarginAccountState{}, fmt.Errorf("unsupported account type %T", acc)
	}
}
