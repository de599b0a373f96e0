package orders

import (
	"fmt"
	"testing"

	"deriv_client/internal/assets"
	"deriv_client/internal/core"
	"deriv_client/internal/market"
	"deriv_client/internal/mock"
	"deriv_client/internal/model"
	"deriv_client/pkg/concurrency"

	"github.com/gagliardetto/solana-go"
)

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, f ...interface{})               {}
func (m *mockLogger) Info(msg string, f ...interface{})                {}
func (m *mockLogger) Warn(msg string, f ...interface{})                { fmt.Printf("WARN: %s %v\n", msg, f) }
func (m *mockLogger) Error(msg string, f ...interface{})               { fmt.Printf("ERROR: %s %v\n", msg, f) }
func (m *mockLogger) Fatal(msg string, f ...interface{})               { fmt.Printf("FATAL: %s %v\n", msg, f) }
func (m *mockLogger) WithField(k string, v interface{}) core.ILogger   { return m }
func (m *mockLogger) WithFields(f map[string]interface{}) core.ILogger { return m }

type fixture struct {
	mctx    *market.Context
	ledger  *mock.MockLedger
	data    *mock.MockMarketData
	rec     *Reconciler
	account solana.PublicKey
}

func newFixture(t *testing.T, triggerBatch int) *fixture {
	t.Helper()
	mctx := market.NewContext(solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey())
	for _, a := range []assets.Asset{assets.SOL, assets.BTC, assets.ETH} {
		mctx.SetMarket(market.Market{Key: model.PerpKey(a), Address: solana.NewWallet().PublicKey()})
	}
	ledger := mock.NewMockLedger()
	data := mock.NewMockMarketData()
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "books", MaxWorkers: 4, MaxCapacity: 16}, &mockLogger{})
	t.Cleanup(pool.Stop)

	return &fixture{
		mctx:    mctx,
		ledger:  ledger,
		data:    data,
		rec:     NewReconciler(mctx, data, ledger, pool, triggerBatch, &mockLogger{}),
		account: solana.NewWallet().PublicKey(),
	}
}

func (f *fixture) marketAddr(a assets.Asset) solana.PublicKey {
	m, _ := f.mctx.Market(model.PerpKey(a))
	return m.Address
}
