package orders

import (
	"errors"
	"testing"

	"deriv_client/internal/assets"
	"deriv_client/internal/core"
	"deriv_client/internal/model"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterBook_ExpiredOrders(t *testing.T) {
	oo := solana.NewWallet().PublicKey()
	other := solana.NewWallet().PublicKey()
	target := Target{Key: model.PerpKey(assets.SOL), OpenOrders: oo}

	book := &model.OrderBook{
		EpochStartSeq: 1000,
		Bids: []model.BookOrder{
			{OrderID: model.OrderID{Lo: 1}, Owner: oo, SeqNum: 500, TIFOffset: 400},
			{OrderID: model.OrderID{Lo: 2}, Owner: oo, SeqNum: 500, TIFOffset: 600},
			{OrderID: model.OrderID{Lo: 3}, Owner: other, SeqNum: 500, TIFOffset: 600},
		},
		Asks: []model.BookOrder{
			{OrderID: model.OrderID{Lo: 4}, Owner: oo, Side: model.SideAsk, SeqNum: 1, TIFOffset: 0},
		},
	}

	got := FilterBook(book, target, 0)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), got[0].OrderID.Lo)
	assert.Equal(t, uint64(4), got[1].OrderID.Lo)
	assert.Equal(t, target.Key, got[0].Key)

	// a buffer keeps the first order alive: 500 + 400 + 200 >= 1000
	got = FilterBook(book, target, 200)
	assert.Len(t, got, 3)
}

func TestTargets_RegisteredDerivedAndSkipped(t *testing.T) {
	f := newFixture(t, 0)
	acc := &model.CrossMarginAccount{}
	acc.ProductLedgers[assets.SOL].Position.Size = 10
	acc.OpenOrdersNonce[assets.SOL] = 1
	acc.ProductLedgers[assets.BTC].OrderState.OpeningOrders[0] = 5
	acc.ProductLedgers[assets.ETH].OrderState.ClosingOrders = 1

	registered := solana.NewWallet().PublicKey()
	targets, err := f.rec.Targets(f.account, acc, map[model.MarketKey]solana.PublicKey{
		model.PerpKey(assets.BTC): registered,
	})
	require.NoError(t, err)
	require.Len(t, targets, 2)

	derived, err := f.mctx.Deriver().OpenOrders(f.marketAddr(assets.SOL), f.account)
	require.NoError(t, err)
	assert.Equal(t, model.PerpKey(assets.SOL), targets[0].Key)
	assert.Equal(t, derived, targets[0].OpenOrders)
	assert.Equal(t, registered, targets[1].OpenOrders)
}

func TestTargets_UnknownMarket(t *testing.T) {
	f := newFixture(t, 0)
	acc := &model.CrossMarginAccount{}
	acc.ProductLedgers[assets.WIF].Position.Size = 1
	_, err := f.rec.Targets(f.account, acc, nil)
	assert.ErrorIs(t, err, core.ErrMissingMarket)
}

func TestFetchOrders_KeepsTargetOrder(t *testing.T) {
	f := newFixture(t, 0)
	var targets []Target
	for i, a := range []assets.Asset{assets.SOL, assets.BTC, assets.ETH} {
		oo := solana.NewWallet().PublicKey()
		targets = append(targets, Target{Key: model.PerpKey(a), Market: f.marketAddr(a), OpenOrders: oo})
		f.data.SetOrderBook(&model.OrderBook{
			Market: f.marketAddr(a),
			Bids:   []model.BookOrder{{OrderID: model.OrderID{Lo: uint64(i + 1)}, Owner: oo}},
		})
	}

	got, err := f.rec.FetchOrders(t.Context(), targets)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, o := range got {
		assert.Equal(t, uint64(i+1), o.OrderID.Lo)
		assert.Equal(t, targets[i].Key, o.Key)
	}
	assert.Equal(t, int64(3), f.data.Calls())
}

func TestFetchOrders_BookFailureFailsCall(t *testing.T) {
	f := newFixture(t, 0)
	boom := errors.New("rpc down")
	f.data.SetBookError(f.marketAddr(assets.BTC), boom)

	targets := []Target{
		{Key: model.PerpKey(assets.SOL), Market: f.marketAddr(assets.SOL)},
		{Key: model.PerpKey(assets.BTC), Market: f.marketAddr(assets.BTC)},
	}
	_, err := f.rec.FetchOrders(t.Context(), targets)
	assert.ErrorIs(t, err, boom)
}

func TestFetchOrders_Empty(t *testing.T) {
	f := newFixture(t, 0)
	got, err := f.rec.FetchOrders(t.Context(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
