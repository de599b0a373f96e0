package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"deriv_client/internal/assets"
	"deriv_client/internal/core"
)

// Loader loads market metadata and parameters into a context.
type Loader interface {
	LoadMarkets(ctx context.Context, mctx *Context, list []assets.Asset) error
}

// Poller keeps a Context current: mark prices and the clock every tick,
// metadata every reloadEvery ticks.
type Poller struct {
	mctx        *Context
	provider    core.IMarketDataProvider
	ledger      core.ILedgerStore
	loader      Loader
	assets      []assets.Asset
	interval    time.Duration
	reloadEvery int
	logger      core.ILogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	ticks  int
}

// NewPoller creates a poller. loader may be nil when metadata is set up by the caller.
func NewPoller(
	mctx *Context,
	provider core.IMarketDataProvider,
	ledger core.ILedgerStore,
	loader Loader,
	list []assets.Asset,
	interval time.Duration,
	logger core.ILogger,
) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		mctx:        mctx,
		provider:    provider,
		ledger:      ledger,
		loader:      loader,
		assets:      list,
		interval:    interval,
		reloadEvery: 60,
		logger:      logger.WithField("component", "market_poller"),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start loads the context once synchronously, then polls in the background.
func (p *Poller) Start(ctx context.Context) error {
	if p.loader != nil {
		if err := p.loader.LoadMarkets(ctx, p.mctx, p.assets); err != nil {
			return fmt.Errorf("failed to load markets: %w", err)
		}
	}
	if err := p.Poll(ctx); err != nil {
		return err
	}

	p.wg.Add(1)
	go p.runLoop()
	p.logger.Info("Market poller started", "interval", p.interval, "markets", len(p.mctx.Markets()))
	return nil
}

// Stop stops the background loop.
func (p *Poller) Stop() {
	p.cancel()
	p.wg.Wait()
}

// Poll refreshes every loaded market's mark price and the clock.
func (p *Poller) Poll(ctx context.Context) error {
	clock, err := p.ledger.GetClock(ctx)
	if err != nil {
		return fmt.Errorf("failed to get clock: %w", err)
	}
	p.mctx.SetClock(clock)

	for _, key := range p.mctx.Markets() {
		price, err := p.provider.GetMarkPrice(ctx, key.Asset, key.Index)
		if err != nil {
			return fmt.Errorf("failed to get mark price for %s: %w", key, err)
		}
		p.mctx.SetMarkPrice(key, price)
	}
	return nil
}

func (p *Poller) runLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *Poller) tick() {
	ctx, cancel := context.WithTimeout(p.ctx, 30*time.Second)
	defer cancel()

	p.ticks++
	if p.loader != nil && p.reloadEvery > 0 && p.ticks%p.reloadEvery == 0 {
		if err := p.loader.LoadMarkets(ctx, p.mctx, p.assets); err != nil {
			p.logger.Error("Market reload failed", "error", err.Error())
		}
	}
	if err := p.Poll(ctx); err != nil {
		p.logger.Error("Market poll failed", "error", err.Error())
	}
}
