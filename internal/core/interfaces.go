// Package core defines the core interfaces for the derivatives client
package core

import (
	"context"

	"deriv_client/internal/assets"
	"deriv_client/internal/model"

	"github.com/gagliardetto/solana-go"
)

// ILedgerStore is the chain boundary: raw account reads, subscriptions,
// transaction submission and the cluster clock.
type ILedgerStore interface {
	// FetchAccount returns ErrAccountNotFound when no account exists at address.
	FetchAccount(ctx context.Context, address solana.PublicKey) (*AccountInfo, error)
	// FetchMultipleAccounts preserves input order; missing accounts are nil.
	// Callers must chunk to MaxBatchSize.
	FetchMultipleAccounts(ctx context.Context, addresses []solana.PublicKey) ([]*AccountInfo, error)
	SubscribeAccountChange(ctx context.Context, address solana.PublicKey, commitment Commitment) (ISubscription, error)
	// SubmitTransaction has at-least-once semantics.
	SubmitTransaction(ctx context.Context, ops []solana.Instruction, payer solana.PublicKey, opts SubmitOptions) (solana.Signature, error)
	GetClock(ctx context.Context) (Clock, error)
	MaxBatchSize() int
}

// ISubscription is a live account-change stream.
type ISubscription interface {
	Updates() <-chan AccountUpdate
	// Unsubscribe is idempotent.
	Unsubscribe() error
}

// IMarketDataProvider supplies order books and mark prices.
type IMarketDataProvider interface {
	GetOrderBook(ctx context.Context, market solana.PublicKey) (*model.OrderBook, error)
	GetMarkPrice(ctx context.Context, asset assets.Asset, marketIndex int) (uint64, error)
}

// ISnapshotSink persists the raw bytes of successfully refreshed accounts.
type ISnapshotSink interface {
	SaveSnapshot(ctx context.Context, snap AccountSnapshot) error
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
