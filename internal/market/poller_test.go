package market

import (
	"context"
	"testing"
	"time"

	"deriv_client/internal/assets"
	"deriv_client/internal/core"
	"deriv_client/internal/mock"
	"deriv_client/internal/model"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	tmock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockLoader struct {
	tmock.Mock
}

func (m *mockLoader) LoadMarkets(ctx context.Context, mctx *Context, list []assets.Asset) error {
	args := m.Called(list)
	mctx.SetMarket(Market{Key: model.PerpKey(assets.BTC)})
	return args.Error(0)
}

func TestPoller_StartLoadsAndPolls(t *testing.T) {
	ledger := mock.NewMockLedger()
	ledger.SetClock(core.Clock{UnixTimestamp: 1234, Slot: 99})
	md := mock.NewMockMarketData()
	md.SetMarkPrice(model.PerpKey(assets.BTC), 50_000_000_000)

	loader := &mockLoader{}
	loader.On("LoadMarkets", []assets.Asset{assets.BTC}).Return(nil)

	mctx := NewContext(solana.PublicKey{}, solana.PublicKey{})
	p := NewPoller(mctx, md, ledger, loader, []assets.Asset{assets.BTC}, 10*time.Millisecond, &mockLogger{})
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	loader.AssertExpectations(t)
	price, ok := mctx.MarkPrice(model.PerpKey(assets.BTC))
	assert.True(t, ok)
	assert.Equal(t, uint64(50_000_000_000), price)
	assert.Equal(t, int64(1234), mctx.Clock().UnixTimestamp)

	md.SetMarkPrice(model.PerpKey(assets.BTC), 51_000_000_000)
	assert.Eventually(t, func() bool {
		p, _ := mctx.MarkPrice(model.PerpKey(assets.BTC))
		return p == 51_000_000_000
	}, time.Second, 10*time.Millisecond)
}

func TestPoller_PollErrorsOnMissingPrice(t *testing.T) {
	mctx := NewContext(solana.PublicKey{}, solana.PublicKey{})
	mctx.SetMarket(Market{Key: model.PerpKey(assets.ETH)})

	p := NewPoller(mctx, mock.NewMockMarketData(), mock.NewMockLedger(), nil, nil, time.Second, &mockLogger{})
	assert.Error(t, p.Poll(context.Background()))
}
