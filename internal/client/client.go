// Package client is the public surface of the SDK: it loads one margin
// account, keeps it mirrored, and submits operations against it.
package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"deriv_client/internal/account"
	"deriv_client/internal/assets"
	"deriv_client/internal/codec"
	"deriv_client/internal/core"
	"deriv_client/internal/market"
	"deriv_client/internal/model"
	"deriv_client/internal/orders"
	"deriv_client/internal/risk"
	"deriv_client/internal/txbuilder"
	"deriv_client/pkg/concurrency"
	"deriv_client/pkg/telemetry"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
)

// Options configure a client.
type Options struct {
	// CrossMargin selects the cross-margin account; otherwise the legacy
	// account of Asset is used.
	CrossMargin bool
	Asset       assets.Asset
	Subaccount  uint8
	// Delegator is the account authority when the wallet acts as its delegate.
	Delegator   solana.PublicKey
	Whitelisted bool
	// Mint is the collateral token mint.
	Mint solana.PublicKey

	Commitment core.Commitment
	Submit     core.SubmitOptions

	Throttle           bool
	PollInterval       time.Duration
	RefreshInterval    time.Duration
	StuckTimeout       time.Duration
	RefreshAfterSubmit bool
	// StaleAfter fails the health check when no refresh succeeded for this long.
	StaleAfter time.Duration

	InstructionsPerTx int
	TriggerFetchBatch int
	BookPoolSize      int
	BookPoolBuffer    int

	// Sink persists refreshed account bytes. Optional.
	Sink core.ISnapshotSink
}

// DefaultOptions returns options for a cross-margin client.
func DefaultOptions() Options {
	return Options{
		CrossMargin:        true,
		Asset:              assets.UNDEFINED,
		Commitment:         core.CommitmentConfirmed,
		Submit:             core.SubmitOptions{Commitment: core.CommitmentConfirmed},
		PollInterval:       account.DefaultPollInterval,
		RefreshInterval:    account.DefaultRefreshInterval,
		StuckTimeout:       account.DefaultStuckTimeout,
		RefreshAfterSubmit: true,
		InstructionsPerTx:  5,
		BookPoolSize:       8,
		BookPoolBuffer:     64,
	}
}

// Client operates one margin account.
type Client struct {
	opts    Options
	ref     txbuilder.AccountRef
	mctx    *market.Context
	ledger  core.ILedgerStore
	builder *txbuilder.Builder
	calc    *risk.Calculator
	store   *account.Store
	pool    *concurrency.WorkerPool
	logger  core.ILogger
	metrics *telemetry.MetricsHolder
	tracer  trace.Tracer
	label   string
	now     func() time.Time

	// triggerMu serialises trigger-bit selection and submission.
	triggerMu sync.Mutex
	claimed   model.TriggerBits

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Load derives the account address of wallet, starts mirroring it and waits
// for the first refresh. callback may be nil and follows the rules of
// account.Callback.
func Load(
	ctx context.Context,
	ledger core.ILedgerStore,
	data core.IMarketDataProvider,
	mctx *market.Context,
	wallet solana.PublicKey,
	opts Options,
	logger core.ILogger,
	callback account.Callback,
) (*Client, error) {
	if opts.InstructionsPerTx <= 0 {
		return nil, fmt.Errorf("%w: instructions per transaction must be positive", core.ErrInvalidArgument)
	}
	if !opts.CrossMargin && !opts.Asset.Valid() {
		return nil, fmt.Errorf("%w: legacy accounts need an asset", core.ErrInvalidArgument)
	}
	if opts.StaleAfter <= 0 {
		interval := opts.RefreshInterval
		if interval <= 0 {
			interval = account.DefaultRefreshInterval
		}
		opts.StaleAfter = 3 * interval
	}

	authority := wallet
	if !opts.Delegator.IsZero() {
		authority = opts.Delegator
	}
	deriver := mctx.Deriver()
	ref := txbuilder.AccountRef{Authority: authority, Signer: wallet, Subaccount: opts.Subaccount}
	var err error
	if opts.CrossMargin {
		ref.Kind = model.KindCrossMarginAccount
		ref.Address, err = deriver.CrossMarginAccount(authority, opts.Subaccount)
	} else {
		ref.Kind = model.KindMarginAccount
		ref.Address, err = deriver.MarginAccount(authority, opts.Asset)
	}
	if err != nil {
		return nil, fmt.Errorf("derive account address: %w", err)
	}

	log := logger.WithField("component", "client").WithField("account", ref.Address.String())
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "order_books",
		MaxWorkers:  opts.BookPoolSize,
		MaxCapacity: opts.BookPoolBuffer,
	}, logger)

	c := &Client{
		opts:    opts,
		ref:     ref,
		mctx:    mctx,
		ledger:  ledger,
		builder: txbuilder.NewBuilder(deriver, opts.Mint),
		calc:    risk.NewCalculator(mctx),
		pool:    pool,
		logger:  log,
		metrics: telemetry.GetGlobalMetrics(),
		tracer:  telemetry.GetTracer("client"),
		label:   ref.Address.String(),
		now:     time.Now,
	}

	rec := orders.NewReconciler(mctx, data, ledger, pool, opts.TriggerFetchBatch, logger)
	c.store = account.NewStore(account.Config{
		Address:         ref.Address,
		Commitment:      opts.Commitment,
		Throttle:        opts.Throttle,
		PollInterval:    opts.PollInterval,
		RefreshInterval: opts.RefreshInterval,
		StuckTimeout:    opts.StuckTimeout,
	}, ledger, rec, opts.Sink, logger, c.observe(callback))

	if err := c.store.Start(ctx); err != nil {
		pool.Stop()
		return nil, err
	}
	log.Info("Client loaded",
		"kind", ref.Kind.String(),
		"authority", authority.String(),
		"delegated", c.Delegated(),
		"exists", c.store.Snapshot().Exists())
	return c, nil
}

// observe wraps the user callback and keeps the balance gauges current.
func (c *Client) observe(next account.Callback) account.Callback {
	return func(e account.Event) {
		if e.Type != account.EventRefreshFailed {
			c.recordState()
		}
		if next != nil {
			next(e)
		}
	}
}

func (c *Client) recordState() {
	acc := c.store.Snapshot().Account
	if acc == nil {
		return
	}
	candidates, state, err := c.calc.LiquidationCandidates(acc)
	if err != nil {
		c.logger.Debug("Margin state unavailable", "error", err)
		return
	}
	initial, _ := state.AvailableBalanceInitial.Float64()
	maintenance, _ := state.AvailableBalanceMaintenance.Float64()
	c.metrics.SetAvailableBalance(c.label, initial, maintenance)
	c.metrics.SetLiquidationCandidates(c.label, int64(len(candidates)))
}

// Address returns the margin account address.
func (c *Client) Address() solana.PublicKey {
	return c.ref.Address
}

// Delegated reports whether the wallet acts as a delegate.
func (c *Client) Delegated() bool {
	return c.ref.Authority != c.ref.Signer
}

// Snapshot returns the latest mirror snapshot.
func (c *Client) Snapshot() *account.Snapshot {
	return c.store.Snapshot()
}

// Status returns the mirror's refresh status.
func (c *Client) Status() account.Status {
	return c.store.Status()
}

// Refresh forces a full refresh of the mirror.
func (c *Client) Refresh(ctx context.Context) error {
	return c.store.Refresh(ctx, true)
}

// MarginAccountState computes the margin state of the account. Cross-margin
// collateral is shared, so every asset reports the account-wide state.
func (c *Client) MarginAccountState(asset assets.Asset) (risk.MarginAccountState, error) {
	acc := c.store.Snapshot().Account
	if acc == nil {
		return risk.MarginAccountState{}, core.ErrAccountNotFound
	}
	if legacy, ok := acc.(*model.MarginAccount); ok && asset != assets.UNDEFINED && asset != legacy.Asset {
		return risk.MarginAccountState{}, fmt.Errorf("%w: account holds %s, not %s", core.ErrInvalidArgument, legacy.Asset, asset)
	}
	return c.calc.AccountState(acc)
}

// CrossMarginAccountState returns the per-asset breakdown with optional PnL simulation.
func (c *Client) CrossMarginAccountState(opts *risk.PnlOptions) (risk.CrossMarginAccountState, error) {
	acc := c.store.Snapshot().Account
	cross, ok := acc.(*model.CrossMarginAccount)
	if !ok {
		if acc == nil {
			return risk.CrossMarginAccountState{}, core.ErrAccountNotFound
		}
		return risk.CrossMarginAccountState{}, fmt.Errorf("%w: not a cross margin account", core.ErrInvalidArgument)
	}
	return c.calc.CrossAccountState(cross, opts)
}

// MarginRequirements returns the per-market-index requirement table of asset.
func (c *Client) MarginRequirements(asset assets.Asset) (map[int]risk.MarginRequirement, error) {
	if !asset.Valid() {
		return nil, fmt.Errorf("%w: asset %s", core.ErrInvalidArgument, asset)
	}
	return c.calc.MarginRequirements(asset)
}

// Positions returns the non-zero positions of asset.
func (c *Client) Positions(asset assets.Asset) []account.Position {
	return c.store.Snapshot().PositionsFor(asset)
}

// Orders returns the open orders of asset.
func (c *Client) Orders(asset assets.Asset) []model.Order {
	return c.store.Snapshot().OrdersFor(asset)
}

// TriggerOrders returns the trigger orders of asset ordered by bit.
func (c *Client) TriggerOrders(asset assets.Asset) []model.TriggerOrder {
	return c.store.Snapshot().TriggerOrdersFor(asset)
}

// MaxLiquidationSize sizes a liquidation on key with this account as the
// liquidator taking the isLong side. A negative available balance sizes to zero.
func (c *Client) MaxLiquidationSize(key model.MarketKey, isLong bool) (int64, error) {
	state, err := c.MarginAccountState(assets.UNDEFINED)
	if err != nil {
		return 0, err
	}
	return c.calc.MaxLiquidationNativeSize(decimal.Max(state.AvailableBalanceInitial, decimal.Zero), key, isLong)
}

// LiquidationCandidates reads target from the ledger and returns its
// liquidatable positions with its margin state.
func (c *Client) LiquidationCandidates(ctx context.Context, target solana.PublicKey) ([]risk.LiquidationCandidate, risk.MarginAccountState, error) {
	info, err := c.ledger.FetchAccount(ctx, target)
	if err != nil {
		return nil, risk.MarginAccountState{}, fmt.Errorf("fetch %s: %w", target, err)
	}
	acc, err := codec.DecodeAccount(info.Data)
	if err != nil {
		return nil, risk.MarginAccountState{}, fmt.Errorf("decode %s: %w", target, err)
	}
	return c.calc.LiquidationCandidates(acc)
}

// HealthCheck fails when the client is closed or the mirror is stale.
func (c *Client) HealthCheck() error {
	if c.closed.Load() {
		return core.ErrStoreClosed
	}
	st := c.store.Status()
	if st.Closed {
		return core.ErrStoreClosed
	}
	if st.LastRefresh.IsZero() {
		return fmt.Errorf("account %s never refreshed", c.label)
	}
	if age := c.now().Sub(st.LastRefresh); age > c.opts.StaleAfter {
		return fmt.Errorf("account %s stale: last refresh %s ago", c.label, age.Round(time.Second))
	}
	return nil
}

// Close stops the mirror and the worker pool. It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.store.Close()
		c.pool.Stop()
		c.logger.Info("Client closed")
	})
	return c.closeErr
}
