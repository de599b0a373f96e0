package codec

import (
	"testing"

	"deriv_client/internal/assets"
	"deriv_client/internal/model"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAccount_SelectsVariantByDiscriminator(t *testing.T) {
	owner := solana.NewWallet().PublicKey()

	cross := &model.CrossMarginAccount{Authority: owner, Balance: 10_000_000_000}
	cross.ProductLedgers[assets.BTC].Position = model.LedgerPosition{Size: 2000, CostOfTrades: 98_000_000_000}
	cross.OpenOrdersNonce[assets.BTC] = 3
	cross.TriggerOrderBits = cross.TriggerOrderBits.With(5).With(90)

	data, err := EncodeAccount(cross)
	require.NoError(t, err)

	acc, err := DecodeAccount(data)
	require.NoError(t, err)
	require.IsType(t, &model.CrossMarginAccount{}, acc)
	assert.Equal(t, cross, acc)
	assert.Equal(t, model.KindCrossMarginAccount, acc.Kind())

	legacy := &model.MarginAccount{Authority: owner, Asset: assets.ETH, Balance: 42}
	legacy.ProductLedgers[22].OrderState.OpeningOrders = [2]uint64{1, 2}
	legacy.PerpProductLedger.Position.Size = -7

	data, err = EncodeAccount(legacy)
	require.NoError(t, err)

	acc, err = DecodeAccount(data)
	require.NoError(t, err)
	require.IsType(t, &model.MarginAccount{}, acc)
	assert.Equal(t, legacy, acc)
}

func TestDecodeAccount_Errors(t *testing.T) {
	_, err := DecodeAccount([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrShortData)

	_, err = DecodeAccount(make([]byte, 64))
	assert.ErrorIs(t, err, ErrUnknownDiscriminator)

	// A valid header with a truncated body is a decode error, not a fallback.
	_, err = DecodeAccount(append(CrossMarginAccountDiscriminator[:], 0, 1))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownDiscriminator)

	// Legacy bytes are never accepted by the cross decoder.
	data, err := EncodeAccount(&model.MarginAccount{Asset: assets.SOL})
	require.NoError(t, err)
	_, err = DecodeCrossMarginAccount(data)
	assert.ErrorIs(t, err, ErrUnknownDiscriminator)
}

func TestTriggerOrder_Variants(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	addr := solana.NewWallet().PublicKey()

	in := model.TriggerOrder{
		Bit:        9,
		Asset:      assets.SOL,
		OrderPrice: 100_000_000,
		Trigger:    model.PriceTrigger{Price: 95_000_000, Direction: model.TriggerLessThanOrEqual},
		Size:       1000,
		Side:       model.SideAsk,
		ReduceOnly: true,
	}
	data, err := EncodeTriggerOrder(owner, in)
	require.NoError(t, err)

	out, err := DecodeTriggerOrder(addr, data)
	require.NoError(t, err)
	assert.Equal(t, addr, out.Address)
	assert.Equal(t, in.Trigger, out.Trigger)
	assert.Equal(t, uint8(9), out.Bit)
	assert.True(t, out.ReduceOnly)

	in.Trigger = model.TimestampTrigger{Timestamp: 1_700_000_000}
	data, err = EncodeTriggerOrder(owner, in)
	require.NoError(t, err)
	out, err = DecodeTriggerOrder(addr, data)
	require.NoError(t, err)
	assert.Equal(t, model.TimestampTrigger{Timestamp: 1_700_000_000}, out.Trigger)
}

func TestTriggerOrder_RejectsBothOrNeither(t *testing.T) {
	addr := solana.NewWallet().PublicKey()

	both, err := encodeBody(TriggerOrderDiscriminator, &triggerOrderLayout{
		HasTriggerPrice: true, TriggerPrice: 1, TriggerDirection: 1,
		HasTriggerTs: true, TriggerTs: 1,
	})
	require.NoError(t, err)
	_, err = DecodeTriggerOrder(addr, both)
	assert.ErrorIs(t, err, model.ErrInvalidTrigger)

	neither, err := encodeBody(TriggerOrderDiscriminator, &triggerOrderLayout{})
	require.NoError(t, err)
	_, err = DecodeTriggerOrder(addr, neither)
	assert.ErrorIs(t, err, model.ErrInvalidTrigger)
}

func TestOrderBook(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	book := &model.OrderBook{
		Market:        solana.NewWallet().PublicKey(),
		EpochStartSeq: 1000,
		EpochStartTs:  1_700_000_000,
		Bids: []model.BookOrder{
			{OrderID: model.OrderID{Lo: 1}, Owner: owner, Side: model.SideBid, Price: 10, Size: 1, SeqNum: 900},
		},
		Asks: []model.BookOrder{
			{OrderID: model.OrderID{Lo: 2, Hi: 1}, ClientOrderID: 77, Owner: owner, Side: model.SideAsk, Price: 12, Size: 3, SeqNum: 950, TIFOffset: 60},
		},
	}
	data, err := EncodeOrderBook(book)
	require.NoError(t, err)

	out, err := DecodeOrderBook(data)
	require.NoError(t, err)
	assert.Equal(t, book, out)
}

func TestPricingAndGroup(t *testing.T) {
	p := &Pricing{TIFBuffer: 5, DepositLimit: 1_000_000}
	p.MarkPrices[assets.BTC] = 50_000_000_000
	p.Params[assets.BTC].PerpMarginInitial = 10_000_000

	data, err := EncodePricing(p)
	require.NoError(t, err)
	out, err := DecodePricing(data)
	require.NoError(t, err)
	assert.Equal(t, p, out)

	g := &Group{Asset: uint8(assets.ETH)}
	g.Expiries[1] = 1_800_000_000
	g.Strikes[0][3] = 3_000_000_000
	data, err = EncodeGroup(g)
	require.NoError(t, err)
	gout, err := DecodeGroup(data)
	require.NoError(t, err)
	assert.Equal(t, g, gout)

	_, err = DecodeGroup(data[:10])
	assert.Error(t, err)
}
