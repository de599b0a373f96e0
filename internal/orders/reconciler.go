// Package orders derives an account's open orders from live order books and
// its trigger orders from their individually addressed records.
package orders

import (
	"context"
	"fmt"

	"deriv_client/internal/core"
	"deriv_client/internal/market"
	"deriv_client/internal/model"
	"deriv_client/pkg/concurrency"

	"github.com/gagliardetto/solana-go"
)

// Target is one relevant market slot with the open-orders address that owns
// the account's resting orders there.
type Target struct {
	Key        model.MarketKey
	Market     solana.PublicKey
	OpenOrders solana.PublicKey
}

// Reconciler rebuilds order lists. It holds no per-account state; every call
// reads books and the epoch afresh.
type Reconciler struct {
	mctx         *market.Context
	data         core.IMarketDataProvider
	ledger       core.ILedgerStore
	pool         *concurrency.WorkerPool
	triggerBatch int
	logger       core.ILogger
}

// NewReconciler creates a reconciler. A triggerBatch of zero uses the ledger's
// batch limit.
func NewReconciler(
	mctx *market.Context,
	data core.IMarketDataProvider,
	ledger core.ILedgerStore,
	pool *concurrency.WorkerPool,
	triggerBatch int,
	logger core.ILogger,
) *Reconciler {
	if limit := ledger.MaxBatchSize(); triggerBatch <= 0 || triggerBatch > limit {
		triggerBatch = limit
	}
	return &Reconciler{
		mctx:         mctx,
		data:         data,
		ledger:       ledger,
		pool:         pool,
		triggerBatch: triggerBatch,
		logger:       logger.WithField("component", "order_reconciler"),
	}
}

// Targets resolves the relevant markets of acc. A registered address wins over
// derivation; slots with neither a registered address nor a nonce have no
// open-orders account and are skipped.
func (r *Reconciler) Targets(account solana.PublicKey, acc model.Account, registered map[model.MarketKey]solana.PublicKey) ([]Target, error) {
	deriver := r.mctx.Deriver()
	var out []Target
	for _, e := range model.RelevantLedgers(acc.Ledgers()) {
		m, ok := r.mctx.Market(e.Key)
		if !ok {
			return nil, fmt.Errorf("%w: %s", core.ErrMissingMarket, e.Key)
		}

		oo, ok := registered[e.Key]
		if !ok {
			if e.OpenOrdersNonce == 0 {
				continue
			}
			derived, err := deriver.OpenOrders(m.Address, account)
			if err != nil {
				return nil, fmt.Errorf("derive open orders for %s: %w", e.Key, err)
			}
			oo = derived
		}
		out = append(out, Target{Key: e.Key, Market: m.Address, OpenOrders: oo})
	}
	return out, nil
}

// FetchOrders loads every target's book in parallel and returns the account's
// live orders in target order. Any book failure fails the whole call so a
// caller never mixes fresh and missing markets.
func (r *Reconciler) FetchOrders(ctx context.Context, targets []Target) ([]model.Order, error) {
	type result struct {
		orders []model.Order
		err    error
	}
	results := make([]result, len(targets))
	buffer := r.mctx.TIFBuffer()

	tasks := make([]func(), len(targets))
	for i, t := range targets {
		i, t := i, t
		tasks[i] = func() {
			book, err := r.data.GetOrderBook(ctx, t.Market)
			if err != nil {
				results[i].err = fmt.Errorf("order book %s: %w", t.Key, err)
				return
			}
			results[i].orders = FilterBook(book, t, buffer)
		}
	}
	r.pool.RunAll(tasks)

	var out []model.Order
	for _, res := range results {
		if res.err != nil {
			return nil, res.err
		}
		out = append(out, res.orders...)
	}
	return out, nil
}

// FilterBook extracts the orders owned by t.OpenOrders that have not expired
// against the book's current epoch. Bids come before asks.
func FilterBook(book *model.OrderBook, t Target, tifBuffer uint64) []model.Order {
	var out []model.Order
	for _, side := range [][]model.BookOrder{book.Bids, book.Asks} {
		for _, o := range side {
			if o.Owner != t.OpenOrders {
				continue
			}
			if model.IsExpired(o.SeqNum, o.TIFOffset, tifBuffer, book.EpochStartSeq) {
				continue
			}
			out = append(out, model.Order{
				Key:           t.Key,
				Market:        t.Market,
				OpenOrders:    t.OpenOrders,
				OrderID:       o.OrderID,
				ClientOrderID: o.ClientOrderID,
				Side:          o.Side,
				Price:         o.Price,
				Size:          o.Size,
				SeqNum:        o.SeqNum,
				TIFOffset:     o.TIFOffset,
			})
		}
	}
	return out
}
