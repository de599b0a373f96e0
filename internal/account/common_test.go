package account

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"deriv_client/internal/assets"
	"deriv_client/internal/codec"
	"deriv_client/internal/core"
	"deriv_client/internal/mock"
	"deriv_client/internal/model"
	"deriv_client/internal/orders"

	"github.com/gagliardetto/solana-go"
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

type fakeSource struct {
	mu       sync.Mutex
	orders   []model.Order
	triggers map[assets.Asset][]model.TriggerOrder
	targets  [][]model.MarketKey
}

func (f *fakeSource) Targets(account solana.PublicKey, acc model.Account, registered map[model.MarketKey]solana.PublicKey) ([]orders.Target, error) {
	var out []orders.Target
	var keys []model.MarketKey
	for _, k := range model.RelevantKeys(acc) {
		out = append(out, orders.Target{Key: k, OpenOrders: registered[k]})
		keys = append(keys, k)
	}
	f.mu.Lock()
	f.targets = append(f.targets, keys)
	f.mu.Unlock()
	return out, nil
}

func (f *fakeSource) FetchOrders(ctx context.Context, targets []orders.Target) ([]model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Order(nil), f.orders...), nil
}

func (f *fakeSource) FetchTriggerOrders(ctx context.Context, account solana.PublicKey, bits model.TriggerBits) (map[assets.Asset][]model.TriggerOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.triggers == nil {
		return map[assets.Asset][]model.TriggerOrder{}, nil
	}
	return f.triggers, nil
}

func (f *fakeSource) setOrders(o []model.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = o
}

type fakeClock struct {
	nanos atomic.Int64
}

func newFakeClock() *fakeClock {
	c := &fakeClock{}
	c.nanos.Store(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano())
	return c
}

func (c *fakeClock) Now() time.Time          { return time.Unix(0, c.nanos.Load()) }
func (c *fakeClock) Advance(d time.Duration) { c.nanos.Add(int64(d)) }

type recordingSink struct {
	mu    sync.Mutex
	saved []core.AccountSnapshot
}

func (r *recordingSink) SaveSnapshot(ctx context.Context, snap core.AccountSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, snap)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saved)
}

// gate blocks selected account fetches until released.
type gate struct {
	entered chan struct{}
	release chan struct{}
	active  atomic.Int64
	peak    atomic.Int64
	block   atomic.Int64 // number of upcoming fetches to block
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}, 64), release: make(chan struct{})}
}

func (g *gate) hook(target solana.PublicKey) func(ctx context.Context, addr solana.PublicKey) error {
	return func(ctx context.Context, addr solana.PublicKey) error {
		if addr != target {
			return nil
		}
		n := g.active.Add(1)
		defer g.active.Add(-1)
		for {
			p := g.peak.Load()
			if n <= p || g.peak.CompareAndSwap(p, n) {
				break
			}
		}
		if g.block.Add(-1) < 0 {
			g.block.Store(0)
			return nil
		}
		g.entered <- struct{}{}
		select {
		case <-g.release:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}
}

type harness struct {
	ledger *mock.MockLedger
	source *fakeSource
	sink   *recordingSink
	clock  *fakeClock
	events chan Event
	addr   solana.PublicKey
	store  *Store
}

func crossAccount(balance uint64) *model.CrossMarginAccount {
	acc := &model.CrossMarginAccount{Balance: balance}
	acc.ProductLedgers[assets.SOL].Position = model.LedgerPosition{Size: 1_000, CostOfTrades: 100_000_000}
	return acc
}

func encode(t *testing.T, acc model.Account) []byte {
	t.Helper()
	data, err := codec.EncodeAccount(acc)
	require.NoError(t, err)
	return data
}

// newHarness builds a store over an existing account at slot 10. It is not started.
func newHarness(t *testing.T, cfg Config, seed bool) *harness {
	t.Helper()
	h := &harness{
		ledger: mock.NewMockLedger(),
		source: &fakeSource{},
		sink:   &recordingSink{},
		clock:  newFakeClock(),
		events: make(chan Event, 256),
		addr:   solana.NewWallet().PublicKey(),
	}
	if seed {
		h.ledger.SetAccount(h.addr, encode(t, crossAccount(1_000_000)), 10)
	}
	cfg.Address = h.addr
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Hour // ticks are driven by the tests
	}
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = time.Hour
	}
	h.store = NewStore(cfg, h.ledger, h.source, h.sink, &mockLogger{}, func(e Event) { h.events <- e })
	h.store.now = h.clock.Now
	t.Cleanup(func() { _ = h.store.Close() })
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.store.Start(context.Background()))
	h.waitEvent(t, EventRefreshed)
}

func (h *harness) tick() {
	h.store.inbox <- tickMsg{}
}

func (h *harness) drain() {
	for {
		select {
		case <-h.events:
		default:
			return
		}
	}
}

func (h *harness) waitEvent(t *testing.T, want EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-h.events:
			if e.Type == want {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %d", want)
			return Event{}
		}
	}
}
