package risk

import (
	"errors"

	"deriv_client/internal/market"
	"deriv_client/internal/model"
	"deriv_client/pkg/fixedpoint"

	"github.com/shopspring/decimal"
)

// ErrZeroRequirement is returned when a market has no initial requirement to size against.
var ErrZeroRequirement = errors.New("initial margin requirement is zero")

// MaxLiquidationNativeSize returns the largest native size whose initial
// requirement fits in available. The result is floored, never rounded up.
func MaxLiquidationNativeSize(available decimal.Decimal, perUnit decimal.Decimal, multiplier decimal.Decimal) (int64, error) {
	if !perUnit.IsPositive() {
		return 0, ErrZeroRequirement
	}
	if !available.IsPositive() {
		return 0, nil
	}

	units := available.Div(perUnit)
	if !multiplier.IsZero() && !multiplier.Equal(decimal.NewFromInt(1)) {
		units = units.Div(multiplier)
	}
	native, err := fixedpoint.ToNativeFloor(units, fixedpoint.PositionPrecision)
	if err != nil {
		return 0, err
	}

	// Division is inexact; step down until the requirement fits.
	for native > 0 && fixedpoint.ToDecimalSize(native, multiplier).Mul(perUnit).GreaterThan(available) {
		native--
	}
	return native, nil
}

// CalculateMaxLiquidationNativeSize sizes a liquidation for a liquidator with
// available initial balance, taking on the isLong side of key. Only the
// initial requirement is used, even for maintenance-driven liquidations.
func CalculateMaxLiquidationNativeSize(v market.View, available decimal.Decimal, key model.MarketKey, isLong bool) (int64, error) {
	req, err := RequirementFor(v, key)
	if err != nil {
		return 0, err
	}
	return MaxLiquidationNativeSize(available, req.Initial(isLong), key.Asset.Multiplier())
}

// LiquidationCandidate is a position that can be taken over.
type LiquidationCandidate struct {
	Key        model.MarketKey
	NativeSize int64
}

// ScanRelevant returns the markets the liquidation scan considers, before
// expiry filtering.
func ScanRelevant(acc model.Account) []model.MarketKey {
	return model.RelevantKeys(acc)
}

// FindLiquidationCandidates returns the live positions of an account whose
// maintenance margin is breached. Expired markets are skipped since their
// books can no longer match.
func FindLiquidationCandidates(acc model.Account, state MarginAccountState, v market.View) []LiquidationCandidate {
	if !state.Liquidatable() {
		return nil
	}
	var out []LiquidationCandidate
	for _, e := range model.RelevantLedgers(acc.Ledgers()) {
		if e.Ledger.Position.Size == 0 || market.IsExpired(v, e.Key) {
			continue
		}
		out = append(out, LiquidationCandidate{Key: e.Key, NativeSize: e.Ledger.Position.Size})
	}
	return out
}
