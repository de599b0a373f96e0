package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"deriv_client/internal/address"
	"deriv_client/internal/assets"
	"deriv_client/internal/codec"
	"deriv_client/internal/core"
	"deriv_client/internal/model"

	"github.com/gagliardetto/solana-go"
)

// LedgerProvider implements core.IMarketDataProvider by decoding program
// accounts read through the ledger store. Pricing and group accounts are
// cached for a short TTL so one poll cycle costs one fetch per account.
type LedgerProvider struct {
	ledger   core.ILedgerStore
	deriver  address.Deriver
	logger   core.ILogger
	cacheTTL time.Duration
	now      func() time.Time

	mu        sync.Mutex
	pricing   *codec.Pricing
	pricingAt time.Time
	groups    map[assets.Asset]*codec.Group
	groupsAt  map[assets.Asset]time.Time
}

// NewLedgerProvider creates a provider for a deployment.
func NewLedgerProvider(ledger core.ILedgerStore, deriver address.Deriver, cacheTTL time.Duration, logger core.ILogger) *LedgerProvider {
	return &LedgerProvider{
		ledger:   ledger,
		deriver:  deriver,
		logger:   logger.WithField("component", "market_provider"),
		cacheTTL: cacheTTL,
		now:      time.Now,
		groups:   make(map[assets.Asset]*codec.Group),
		groupsAt: make(map[assets.Asset]time.Time),
	}
}

// GetOrderBook reads and decodes the book held by a market account.
func (p *LedgerProvider) GetOrderBook(ctx context.Context, market solana.PublicKey) (*model.OrderBook, error) {
	info, err := p.ledger.FetchAccount(ctx, market)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch order book %s: %w", market, err)
	}
	book, err := codec.DecodeOrderBook(info.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode order book %s: %w", market, err)
	}
	return book, nil
}

// GetMarkPrice returns the native mark price of a market slot.
func (p *LedgerProvider) GetMarkPrice(ctx context.Context, asset assets.Asset, marketIndex int) (uint64, error) {
	idx, err := assets.ToIndex(asset)
	if err != nil {
		return 0, err
	}
	if marketIndex == model.PerpIndex {
		pricing, err := p.loadPricing(ctx)
		if err != nil {
			return 0, err
		}
		return pricing.MarkPrices[idx], nil
	}
	if marketIndex < 0 || marketIndex >= model.TotalMarkets {
		return 0, fmt.Errorf("%w: market index %d", core.ErrInvalidArgument, marketIndex)
	}
	group, err := p.loadGroup(ctx, asset)
	if err != nil {
		return 0, err
	}
	return group.MarkPrices[marketIndex], nil
}

// LoadMarkets populates mctx with market metadata, margin parameters, spot
// prices and exchange settings for the given assets.
func (p *LedgerProvider) LoadMarkets(ctx context.Context, mctx *Context, list []assets.Asset) error {
	pricing, err := p.loadPricing(ctx)
	if err != nil {
		return err
	}

	for _, a := range list {
		idx, err := assets.ToIndex(a)
		if err != nil {
			return err
		}
		mctx.SetMarginParams(a, MarginParamsFromLayout(pricing.Params[idx]))
		mctx.SetSpotPrice(a, pricing.SpotPrices[idx])
		mctx.SetMarket(Market{
			Key:     model.PerpKey(a),
			Address: pricing.PerpMarkets[idx],
			Kind:    model.KindPerp,
		})

		group, err := p.loadGroup(ctx, a)
		if errors.Is(err, core.ErrAccountNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		for i := 0; i < model.TotalMarkets; i++ {
			m := Market{
				Key:     model.MarketKey{Asset: a, Index: i},
				Address: group.Markets[i],
				Kind:    model.KindForIndex(i),
				Expiry:  group.Expiries[model.ExpiryIndex(i)],
			}
			if s := model.StrikeIndex(i); s >= 0 {
				m.Strike = group.Strikes[model.ExpiryIndex(i)][s]
			}
			mctx.SetMarket(m)
		}
	}

	mctx.SetTIFBuffer(pricing.TIFBuffer)
	mctx.SetDepositLimit(pricing.DepositLimit)
	return nil
}

func (p *LedgerProvider) loadPricing(ctx context.Context) (*codec.Pricing, error) {
	p.mu.Lock()
	if p.pricing != nil && p.now().Sub(p.pricingAt) < p.cacheTTL {
		cached := p.pricing
		p.mu.Unlock()
		return cached, nil
	}
	p.mu.Unlock()

	addr, err := p.deriver.Pricing()
	if err != nil {
		return nil, err
	}
	info, err := p.ledger.FetchAccount(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pricing: %w", err)
	}
	pricing, err := codec.DecodePricing(info.Data)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.pricing = pricing
	p.pricingAt = p.now()
	p.mu.Unlock()
	return pricing, nil
}

func (p *LedgerProvider) loadGroup(ctx context.Context, asset assets.Asset) (*codec.Group, error) {
	p.mu.Lock()
	if g, ok := p.groups[asset]; ok && p.now().Sub(p.groupsAt[asset]) < p.cacheTTL {
		p.mu.Unlock()
		return g, nil
	}
	p.mu.Unlock()

	addr, err := p.deriver.Group(asset)
	if err != nil {
		return nil, err
	}
	info, err := p.ledger.FetchAccount(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch group for %s: %w", asset, err)
	}
	group, err := codec.DecodeGroup(info.Data)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.groups[asset] = group
	p.groupsAt[asset] = p.now()
	p.mu.Unlock()
	return group, nil
}
