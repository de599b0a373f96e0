package mock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"deriv_client/internal/assets"
	"deriv_client/internal/model"

	"github.com/gagliardetto/solana-go"
)

// MockMarketData implements core.IMarketDataProvider for testing
type MockMarketData struct {
	mu     sync.RWMutex
	books  map[solana.PublicKey]*model.OrderBook
	marks  map[model.MarketKey]uint64
	errs   map[solana.PublicKey]error
	hook   func(market solana.PublicKey)
	calls  atomic.Int64
	active atomic.Int64
	peak   atomic.Int64
}

func NewMockMarketData() *MockMarketData {
	return &MockMarketData{
		books: make(map[solana.PublicKey]*model.OrderBook),
		marks: make(map[model.MarketKey]uint64),
		errs:  make(map[solana.PublicKey]error),
	}
}

func (m *MockMarketData) SetOrderBook(book *model.OrderBook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[book.Market] = book
}

func (m *MockMarketData) SetMarkPrice(key model.MarketKey, price uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks[key] = price
}

func (m *MockMarketData) SetBookError(market solana.PublicKey, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[market] = err
}

// SetHook installs a function run inside every GetOrderBook call.
func (m *MockMarketData) SetHook(fn func(market solana.PublicKey)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = fn
}

func (m *MockMarketData) GetOrderBook(ctx context.Context, market solana.PublicKey) (*model.OrderBook, error) {
	m.calls.Add(1)
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}

	m.mu.RLock()
	hook := m.hook
	err := m.errs[market]
	book, ok := m.books[market]
	m.mu.RUnlock()

	if hook != nil {
		hook(market)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return &model.OrderBook{Market: market}, nil
	}
	cp := *book
	cp.Bids = append([]model.BookOrder(nil), book.Bids...)
	cp.Asks = append([]model.BookOrder(nil), book.Asks...)
	return &cp, nil
}

func (m *MockMarketData) GetMarkPrice(ctx context.Context, asset assets.Asset, marketIndex int) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.marks[model.MarketKey{Asset: asset, Index: marketIndex}]
	if !ok {
		return 0, fmt.Errorf("no mark price for %s-%d", asset, marketIndex)
	}
	return p, nil
}

// Calls returns the number of GetOrderBook calls.
func (m *MockMarketData) Calls() int64 { return m.calls.Load() }

// PeakConcurrency returns the highest number of concurrent GetOrderBook calls observed.
func (m *MockMarketData) PeakConcurrency() int64 { return m.peak.Load() }
