// Package risk computes margin requirements, account margin state and
// liquidation sizing from decoded accounts and market state.
//
// Every computation runs against a market.View and is recomputed on each
// call. Nothing here caches results.
package risk

import (
	"fmt"

	"deriv_client/internal/assets"
	"deriv_client/internal/core"
	"deriv_client/internal/market"
	"deriv_client/internal/model"
	"deriv_client/pkg/fixedpoint"

	"github.com/shopspring/decimal"
)

// MarginRequirement is the per-unit-size requirement of a market in quote units.
type MarginRequirement struct {
	InitialLong      decimal.Decimal
	InitialShort     decimal.Decimal
	MaintenanceLong  decimal.Decimal
	MaintenanceShort decimal.Decimal
}

// Initial returns the initial requirement for a side.
func (r MarginRequirement) Initial(isLong bool) decimal.Decimal {
	if isLong {
		return r.InitialLong
	}
	return r.InitialShort
}

// Maintenance returns the maintenance requirement for a side.
func (r MarginRequirement) Maintenance(isLong bool) decimal.Decimal {
	if isLong {
		return r.MaintenanceLong
	}
	return r.MaintenanceShort
}

func markPrice(v market.View, key model.MarketKey) (decimal.Decimal, error) {
	native, ok := v.MarkPrice(key)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", core.ErrMissingMarkPrice, key)
	}
	return fixedpoint.ToDecimalPrice(native, key.Asset.Multiplier()), nil
}

func spotPrice(v market.View, asset assets.Asset) (decimal.Decimal, error) {
	native, ok := v.SpotPrice(asset)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: spot %s", core.ErrMissingMarkPrice, asset)
	}
	return fixedpoint.ToDecimalPrice(native, asset.Multiplier()), nil
}

func marginParams(v market.View, asset assets.Asset) (market.MarginParams, error) {
	p, ok := v.MarginParams(asset)
	if !ok {
		return market.MarginParams{}, fmt.Errorf("%w: margin params for %s", core.ErrMissingMarket, asset)
	}
	return p, nil
}

// RequirementFor computes the margin requirement of one market slot.
func RequirementFor(v market.View, key model.MarketKey) (MarginRequirement, error) {
	params, err := marginParams(v, key.Asset)
	if err != nil {
		return MarginRequirement{}, err
	}
	mark, err := markPrice(v, key)
	if err != nil {
		return MarginRequirement{}, err
	}

	switch kind := key.Kind(); kind {
	case model.KindPerp:
		return flatRequirement(mark, params.PerpInitial, params.PerpMaintenance), nil
	case model.KindFuture:
		return flatRequirement(mark, params.FutureInitial, params.FutureMaintenance), nil
	case model.KindCall, model.KindPut:
		m, ok := v.Market(key)
		if !ok {
			return MarginRequirement{}, fmt.Errorf("%w: %s", core.ErrMissingMarket, key)
		}
		spot, err := spotPrice(v, key.Asset)
		if err != nil {
			return MarginRequirement{}, err
		}
		strike := fixedpoint.ToDecimalPrice(m.Strike, key.Asset.Multiplier())
		return optionRequirement(kind, mark, spot, strike, params), nil
	default:
		return MarginRequirement{}, fmt.Errorf("%w: %s has no instrument kind", core.ErrMissingMarket, key)
	}
}

func flatRequirement(mark, initial, maintenance decimal.Decimal) MarginRequirement {
	im := mark.Mul(initial)
	mm := mark.Mul(maintenance)
	return MarginRequirement{InitialLong: im, InitialShort: im, MaintenanceLong: mm, MaintenanceShort: mm}
}

// optionRequirement: longs are bounded by the premium-based and spot-based
// rates; shorts take the larger of the OTM-adjusted spot rate and the base
// rate, and puts can never require more than the strike.
func optionRequirement(kind model.MarketKind, mark, spot, strike decimal.Decimal, p market.MarginParams) MarginRequirement {
	var otm decimal.Decimal
	if kind == model.KindCall {
		otm = decimal.Max(strike.Sub(spot), decimal.Zero)
	} else {
		otm = decimal.Max(spot.Sub(strike), decimal.Zero)
	}

	long := func(markPct, spotPct decimal.Decimal) decimal.Decimal {
		return decimal.Min(mark.Mul(markPct), spot.Mul(spotPct))
	}
	short := func(spotPct, basePct decimal.Decimal) decimal.Decimal {
		r := decimal.Max(spot.Mul(spotPct).Sub(otm), spot.Mul(basePct))
		if kind == model.KindPut {
			r = decimal.Min(r, strike)
		}
		return r
	}

	return MarginRequirement{
		InitialLong:      long(p.OptionMarkLongInitial, p.OptionSpotLongInitial),
		InitialShort:     short(p.OptionSpotShortInitial, p.OptionBaseShortInitial),
		MaintenanceLong:  long(p.OptionMarkLongMaintenance, p.OptionSpotLongMaintenance),
		MaintenanceShort: short(p.OptionSpotShortMaintenance, p.OptionBaseShortMaintenance),
	}
}

// GetMarginRequirements returns the requirement table of every loaded market
// of asset, keyed by market index.
func GetMarginRequirements(v market.View, keys []model.MarketKey, asset assets.Asset) (map[int]MarginRequirement, error) {
	out := make(map[int]MarginRequirement)
	for _, key := range keys {
		if key.Asset != asset {
			continue
		}
		req, err := RequirementFor(v, key)
		if err != nil {
			return nil, err
		}
		out[key.Index] = req
	}
	return out, nil
}
