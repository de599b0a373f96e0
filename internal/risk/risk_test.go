package risk

import (
	"testing"

	"deriv_client/internal/assets"
	"deriv_client/internal/core"
	"deriv_client/internal/market"
	"deriv_client/internal/model"
	"deriv_client/pkg/fixedpoint"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newContext() *market.Context {
	mctx := market.NewContext(solana.PublicKey{}, solana.PublicKey{})
	for _, a := range []assets.Asset{assets.BTC, assets.SOL, assets.BONK} {
		mctx.SetMarket(market.Market{Key: model.PerpKey(a)})
		mctx.SetMarginParams(a, market.MarginParams{
			PerpInitial:                d("0.1"),
			PerpMaintenance:            d("0.05"),
			FutureInitial:              d("0.15"),
			FutureMaintenance:          d("0.075"),
			OptionMarkLongInitial:      d("1"),
			OptionSpotLongInitial:      d("0.15"),
			OptionSpotShortInitial:     d("0.1"),
			OptionBaseShortInitial:     d("0.025"),
			OptionMarkLongMaintenance:  d("1"),
			OptionSpotLongMaintenance:  d("0.075"),
			OptionSpotShortMaintenance: d("0.05"),
			OptionBaseShortMaintenance: d("0.0125"),
			TakerFeeRate:               d("0.0005"),
		})
	}
	mctx.SetMarkPrice(model.PerpKey(assets.BTC), 50_000_000_000)
	mctx.SetMarkPrice(model.PerpKey(assets.SOL), 100_000_000)
	mctx.SetClock(core.Clock{UnixTimestamp: 1_700_000_000})
	return mctx
}

func exampleAccount() *model.CrossMarginAccount {
	acc := &model.CrossMarginAccount{Balance: 10_000_000_000}
	acc.ProductLedgers[assets.BTC].Position = model.LedgerPosition{Size: 2_000, CostOfTrades: 98_000_000_000}
	return acc
}

func TestCrossMarginState_ExampleScenario(t *testing.T) {
	state, err := GetCrossMarginAccountState(exampleAccount(), newContext(), nil)
	require.NoError(t, err)

	assert.True(t, state.Balance.Equal(d("10000")))
	assert.True(t, state.InitialMargin.Equal(d("10000")), "initial %s", state.InitialMargin)
	assert.True(t, state.MaintenanceMargin.Equal(d("5000")))
	assert.True(t, state.UnrealizedPnl.Equal(d("2000")))
	assert.True(t, state.AvailableBalanceInitial.Equal(d("2000")))
	assert.True(t, state.AvailableBalanceMaintenance.Equal(d("7000")))

	btc := state.ByAsset[assets.BTC]
	assert.True(t, btc.InitialMargin.Equal(d("10000")))
}

func TestShortPnl(t *testing.T) {
	acc := &model.CrossMarginAccount{Balance: 1_000_000_000}
	// short 10 SOL entered at 110, mark 100
	acc.ProductLedgers[assets.SOL].Position = model.LedgerPosition{Size: -10_000, CostOfTrades: 1_100_000_000}

	state, err := GetCrossMarginAccountState(acc, newContext(), nil)
	require.NoError(t, err)
	assert.True(t, state.UnrealizedPnl.Equal(d("100")), "pnl %s", state.UnrealizedPnl)
	assert.True(t, state.InitialMargin.Equal(d("100")))
}

func TestMarginMonotonicInBalance(t *testing.T) {
	mctx := newContext()
	acc := exampleAccount()
	base, err := GetCrossMarginAccountState(acc, mctx, nil)
	require.NoError(t, err)

	for _, delta := range []uint64{1, 1_000_000, 123_456_789} {
		bumped := *acc
		bumped.Balance += delta
		next, err := GetCrossMarginAccountState(&bumped, mctx, nil)
		require.NoError(t, err)

		want := fixedpoint.ToDecimalUnsigned(delta, fixedpoint.PlatformPrecision)
		assert.True(t, next.AvailableBalanceInitial.Sub(base.AvailableBalanceInitial).Equal(want))
		assert.True(t, next.AvailableBalanceMaintenance.Sub(base.AvailableBalanceMaintenance).Equal(want))
	}
}

func TestOpeningOrdersCountTowardsInitial(t *testing.T) {
	acc := &model.CrossMarginAccount{Balance: 1_000_000_000}
	acc.ProductLedgers[assets.SOL].OrderState.OpeningOrders = [2]uint64{2_000, 1_000}

	state, err := GetCrossMarginAccountState(acc, newContext(), nil)
	require.NoError(t, err)
	// 3 SOL * 100 * 10%
	assert.True(t, state.InitialMargin.Equal(d("30")))
	assert.True(t, state.MaintenanceMargin.IsZero())
	assert.True(t, state.UnrealizedPnl.IsZero())
}

func TestMissingMarkPriceIsAnError(t *testing.T) {
	acc := &model.CrossMarginAccount{}
	acc.ProductLedgers[assets.ETH].OrderState.ClosingOrders = 1

	mctx := newContext()
	mctx.SetMarginParams(assets.ETH, market.MarginParams{PerpInitial: d("0.1")})
	_, err := GetCrossMarginAccountState(acc, mctx, nil)
	assert.ErrorIs(t, err, core.ErrMissingMarkPrice)
}

func TestPnlSimulation(t *testing.T) {
	acc := exampleAccount()
	mctx := newContext()

	state, err := GetCrossMarginAccountState(acc, mctx, &PnlOptions{
		ExecutionPrices: map[assets.Asset]decimal.Decimal{assets.BTC: d("48000")},
	})
	require.NoError(t, err)
	assert.True(t, state.UnrealizedPnl.Equal(d("-2000")))
	// requirements still use the live mark
	assert.True(t, state.InitialMargin.Equal(d("10000")))

	state, err = GetCrossMarginAccountState(acc, mctx, &PnlOptions{AddTakerFees: true})
	require.NoError(t, err)
	// 2000 - 2 * 50000 * 0.0005
	assert.True(t, state.UnrealizedPnl.Equal(d("1950")))
}

func TestLegacyAccountState(t *testing.T) {
	mctx := newContext()
	future := model.MarketKey{Asset: assets.BTC, Index: 22}
	mctx.SetMarket(market.Market{Key: future, Expiry: 1_800_000_000})
	mctx.SetMarkPrice(future, 50_000_000_000)

	acc := &model.MarginAccount{Asset: assets.BTC, Balance: 20_000_000_000}
	acc.ProductLedgers[22].Position = model.LedgerPosition{Size: -1_000, CostOfTrades: 51_000_000_000}
	acc.PerpProductLedger.Position = model.LedgerPosition{Size: 1_000, CostOfTrades: 49_000_000_000}

	state, err := GetMarginAccountState(acc, mctx)
	require.NoError(t, err)
	// future 50000*15% + perp 50000*10%
	assert.True(t, state.InitialMargin.Equal(d("12500")))
	assert.True(t, state.MaintenanceMargin.Equal(d("6250")))
	assert.True(t, state.UnrealizedPnl.Equal(d("2000")))
	assert.True(t, state.AvailableBalanceInitial.Equal(d("9500")))
}

func TestOptionRequirements(t *testing.T) {
	mctx := newContext()
	call := model.MarketKey{Asset: assets.SOL, Index: 3}
	put := model.MarketKey{Asset: assets.SOL, Index: 11}
	mctx.SetMarket(market.Market{Key: call, Strike: 120_000_000, Expiry: 1_800_000_000})
	mctx.SetMarket(market.Market{Key: put, Strike: 10_000_000, Expiry: 1_800_000_000})
	mctx.SetMarkPrice(call, 2_000_000)
	mctx.SetMarkPrice(put, 100_000)

	req, err := RequirementFor(mctx, call)
	require.NoError(t, err)
	// long: min(2*1, 100*0.15)
	assert.True(t, req.InitialLong.Equal(d("2")))
	// short: max(100*0.1 - 20, 100*0.025)
	assert.True(t, req.InitialShort.Equal(d("2.5")))

	mctx.SetMarginParams(assets.SOL, market.MarginParams{
		OptionSpotShortInitial: d("0.5"),
		OptionBaseShortInitial: d("0.2"),
	})
	req, err = RequirementFor(mctx, put)
	require.NoError(t, err)
	// put short max(50 - 90, 20) capped at strike 10
	assert.True(t, req.InitialShort.Equal(d("10")))
}

func TestMarginRequirementsTable(t *testing.T) {
	mctx := newContext()
	call := model.MarketKey{Asset: assets.SOL, Index: 3}
	mctx.SetMarket(market.Market{Key: call, Strike: 120_000_000, Expiry: 1_800_000_000})
	mctx.SetMarkPrice(call, 2_000_000)
	calc := NewCalculator(mctx)

	tests := []struct {
		name  string
		asset assets.Asset
		want  map[int]MarginRequirement
	}{
		{
			name:  "perp only",
			asset: assets.BTC,
			want: map[int]MarginRequirement{
				model.PerpIndex: {InitialLong: d("5000"), InitialShort: d("5000"), MaintenanceLong: d("2500"), MaintenanceShort: d("2500")},
			},
		},
		{
			name:  "perp and call",
			asset: assets.SOL,
			want: map[int]MarginRequirement{
				model.PerpIndex: {InitialLong: d("10"), InitialShort: d("10"), MaintenanceLong: d("5"), MaintenanceShort: d("5")},
				// long min(2*1, 100*0.15); short max(100*0.1 - 20, 100*0.025)
				3: {InitialLong: d("2"), InitialShort: d("2.5"), MaintenanceLong: d("2"), MaintenanceShort: d("1.25")},
			},
		},
		{
			name:  "no markets loaded",
			asset: assets.ETH,
			want:  map[int]MarginRequirement{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := calc.MarginRequirements(tt.asset)
			require.NoError(t, err)
			require.Len(t, got, len(tt.want))
			for index, want := range tt.want {
				req, ok := got[index]
				require.True(t, ok, "index %d", index)
				assert.True(t, req.InitialLong.Equal(want.InitialLong), "index %d initial long %s", index, req.InitialLong)
				assert.True(t, req.InitialShort.Equal(want.InitialShort), "index %d initial short %s", index, req.InitialShort)
				assert.True(t, req.MaintenanceLong.Equal(want.MaintenanceLong), "index %d maintenance long %s", index, req.MaintenanceLong)
				assert.True(t, req.MaintenanceShort.Equal(want.MaintenanceShort), "index %d maintenance short %s", index, req.MaintenanceShort)
			}
		})
	}

	// a loaded market without a mark price fails the whole table
	mctx.SetMarket(market.Market{Key: model.MarketKey{Asset: assets.SOL, Index: 4}, Strike: 90_000_000, Expiry: 1_800_000_000})
	_, err := calc.MarginRequirements(assets.SOL)
	assert.ErrorIs(t, err, core.ErrMissingMarkPrice)
}

func TestMaxLiquidationNativeSize(t *testing.T) {
	one := decimal.NewFromInt(1)
	tests := []struct {
		name      string
		available string
		perUnit   string
		want      int64
	}{
		{"exact", "5000", "5000", 1000},
		{"floors", "9999.999", "5000", 1999},
		{"thirds", "1", "3", 333},
		{"zero", "0", "5000", 0},
		{"negative", "-10", "5000", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MaxLiquidationNativeSize(d(tt.available), d(tt.perUnit), one)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := MaxLiquidationNativeSize(d("10"), decimal.Zero, one)
	assert.ErrorIs(t, err, ErrZeroRequirement)
}

func TestMaxLiquidationNeverOverAllocates(t *testing.T) {
	one := decimal.NewFromInt(1)
	perUnits := []string{"3", "7", "0.333", "49999.999999", "1.000001"}
	availables := []string{"0.001", "1", "10", "12345.678901", "99999999.999999"}

	for _, pu := range perUnits {
		for _, av := range availables {
			size, err := MaxLiquidationNativeSize(d(av), d(pu), one)
			require.NoError(t, err)
			used := fixedpoint.ToDecimal(size, fixedpoint.PositionPrecision).Mul(d(pu))
			assert.True(t, used.LessThanOrEqual(d(av)), "size %d * %s > %s", size, pu, av)

			next := fixedpoint.ToDecimal(size+1, fixedpoint.PositionPrecision).Mul(d(pu))
			assert.True(t, next.GreaterThan(d(av)), "size %d not maximal for %s/%s", size, av, pu)
		}
	}
}

func TestCalculateMaxLiquidationNativeSize_UsesSideRate(t *testing.T) {
	mctx := newContext()
	size, err := CalculateMaxLiquidationNativeSize(mctx, d("5000"), model.PerpKey(assets.BTC), true)
	require.NoError(t, err)
	// 5000 / (50000 * 10%) = 1 BTC
	assert.Equal(t, int64(1000), size)
}

func TestLiquidationCandidates(t *testing.T) {
	mctx := newContext()
	expired := model.MarketKey{Asset: assets.SOL, Index: 22}
	mctx.SetMarket(market.Market{Key: expired, Expiry: 1_600_000_000})
	mctx.SetMarkPrice(expired, 100_000_000)

	acc := &model.MarginAccount{Asset: assets.SOL, Balance: 0}
	acc.PerpProductLedger.Position = model.LedgerPosition{Size: 5_000, CostOfTrades: 1_000_000_000}
	acc.ProductLedgers[22].Position = model.LedgerPosition{Size: 1_000, CostOfTrades: 100_000_000}
	acc.ProductLedgers[0].OrderState.OpeningOrders[0] = 1

	calc := NewCalculator(mctx)
	mctx.SetMarket(market.Market{Key: model.MarketKey{Asset: assets.SOL, Index: 0}, Strike: 100_000_000, Expiry: 1_800_000_000})
	mctx.SetMarkPrice(model.MarketKey{Asset: assets.SOL, Index: 0}, 1_000_000)

	candidates, state, err := calc.LiquidationCandidates(acc)
	require.NoError(t, err)
	assert.True(t, state.Liquidatable())
	require.Len(t, candidates, 1)
	assert.Equal(t, model.PerpKey(assets.SOL), candidates[0].Key)
	assert.Equal(t, int64(5_000), candidates[0].NativeSize)

	assert.ElementsMatch(t, []model.MarketKey{
		{Asset: assets.SOL, Index: 0}, expired, model.PerpKey(assets.SOL),
	}, ScanRelevant(acc))

	healthy := *acc
	healthy.Balance = 1_000_000_000_000
	candidates, _, err = calc.LiquidationCandidates(&healthy)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestBonkMultiplier(t *testing.T) {
	mctx := newContext()
	// 20 per million tokens
	mctx.SetMarkPrice(model.PerpKey(assets.BONK), 20_000_000)

	acc := &model.CrossMarginAccount{Balance: 100_000_000}
	// one lot is a million tokens, entered at 18 per million
	acc.ProductLedgers[assets.BONK].Position = model.LedgerPosition{Size: 1_000, CostOfTrades: 18_000_000}

	state, err := GetCrossMarginAccountState(acc, mctx, nil)
	require.NoError(t, err)
	assert.True(t, state.UnrealizedPnl.Equal(d("2")), "pnl %s", state.UnrealizedPnl)
	assert.True(t, state.InitialMargin.Equal(d("2")), "im %s", state.InitialMargin)
}
