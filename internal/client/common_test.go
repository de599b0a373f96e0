package client

import (
	"context"
	"fmt"
	"testing"
	"time"

	"deriv_client/internal/assets"
	"deriv_client/internal/codec"
	"deriv_client/internal/core"
	"deriv_client/internal/market"
	"deriv_client/internal/mock"
	"deriv_client/internal/model"
	"deriv_client/internal/txbuilder"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, f ...interface{})               {}
func (m *mockLogger) Info(msg string, f ...interface{})                {}
func (m *mockLogger) Warn(msg string, f ...interface{})                { fmt.Printf("WARN: %s %v\n", msg, f) }
func (m *mockLogger) Error(msg string, f ...interface{})               { fmt.Printf("ERROR: %s %v\n", msg, f) }
func (m *mockLogger) Fatal(msg string, f ...interface{})               { fmt.Printf("FATAL: %s %v\n", msg, f) }
func (m *mockLogger) WithField(k string, v interface{}) core.ILogger   { return m }
func (m *mockLogger) WithFields(f map[string]interface{}) core.ILogger { return m }

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	mctx   *market.Context
	ledger *mock.MockLedger
	data   *mock.MockMarketData
	wallet solana.PublicKey
	opts   Options
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mctx := market.NewContext(solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey())
	for _, a := range assets.All() {
		mctx.SetMarket(market.Market{Key: model.PerpKey(a), Address: solana.NewWallet().PublicKey()})
		mctx.SetMarginParams(a, market.MarginParams{
			PerpInitial:     d("0.1"),
			PerpMaintenance: d("0.05"),
		})
		mctx.SetMarkPrice(model.PerpKey(a), 100_000_000)
	}
	mctx.SetMarkPrice(model.PerpKey(assets.BTC), 50_000_000_000)
	mctx.SetClock(core.Clock{UnixTimestamp: 1_700_000_000, Slot: 1})

	opts := DefaultOptions()
	opts.PollInterval = time.Hour
	opts.RefreshInterval = time.Hour
	opts.RefreshAfterSubmit = false
	opts.Mint = solana.NewWallet().PublicKey()

	return &fixture{
		mctx:   mctx,
		ledger: mock.NewMockLedger(),
		data:   mock.NewMockMarketData(),
		wallet: solana.NewWallet().PublicKey(),
		opts:   opts,
	}
}

// crossAddress is the cross account of authority at subaccount 0.
func (f *fixture) crossAddress(t *testing.T, authority solana.PublicKey) solana.PublicKey {
	t.Helper()
	addr, err := f.mctx.Deriver().CrossMarginAccount(authority, 0)
	require.NoError(t, err)
	return addr
}

func (f *fixture) marketAddr(a assets.Asset) solana.PublicKey {
	m, _ := f.mctx.Market(model.PerpKey(a))
	return m.Address
}

func (f *fixture) setAccount(t *testing.T, addr solana.PublicKey, acc model.Account, slot uint64) {
	t.Helper()
	data, err := codec.EncodeAccount(acc)
	require.NoError(t, err)
	f.ledger.SetAccount(addr, data, slot)
}

func (f *fixture) load(t *testing.T) *Client {
	t.Helper()
	c, err := Load(context.Background(), f.ledger, f.data, f.mctx, f.wallet, f.opts, &mockLogger{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// exampleAccount holds 10,000 of collateral and is long 2 BTC entered at 49,000.
func exampleAccount(authority solana.PublicKey) *model.CrossMarginAccount {
	acc := &model.CrossMarginAccount{Authority: authority, Balance: 10_000_000_000}
	acc.ProductLedgers[assets.BTC].Position = model.LedgerPosition{Size: 2_000, CostOfTrades: 98_000_000_000}
	return acc
}

func instructionNames(t *testing.T, batch []solana.Instruction, names ...string) []string {
	t.Helper()
	lookup := make(map[[8]byte]string, len(names))
	for _, n := range names {
		lookup[txbuilder.InstructionDiscriminator(n)] = n
	}
	out := make([]string, 0, len(batch))
	for _, ix := range batch {
		data, err := ix.Data()
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(data), 8)
		var disc [8]byte
		copy(disc[:], data[:8])
		name, ok := lookup[disc]
		if !ok {
			name = "unknown"
		}
		out = append(out, name)
	}
	return out
}
