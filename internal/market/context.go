// Package market holds the market context shared by the risk, order and
// state components, and the providers that keep it current.
package market

import (
	"sync"

	"deriv_client/internal/address"
	"deriv_client/internal/assets"
	"deriv_client/internal/codec"
	"deriv_client/internal/core"
	"deriv_client/internal/model"
	"deriv_client/pkg/fixedpoint"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// MarginParams are one asset's margin percentages and fee rates as fractions.
type MarginParams struct {
	FutureInitial     decimal.Decimal
	FutureMaintenance decimal.Decimal
	PerpInitial       decimal.Decimal
	PerpMaintenance   decimal.Decimal

	OptionMarkLongInitial      decimal.Decimal
	OptionSpotLongInitial      decimal.Decimal
	OptionSpotShortInitial     decimal.Decimal
	OptionBaseShortInitial     decimal.Decimal
	OptionMarkLongMaintenance  decimal.Decimal
	OptionSpotLongMaintenance  decimal.Decimal
	OptionSpotShortMaintenance decimal.Decimal
	OptionBaseShortMaintenance decimal.Decimal

	TakerFeeRate decimal.Decimal
	MakerFeeRate decimal.Decimal
}

// MarginParamsFromLayout converts margin-precision integers into fractions.
func MarginParamsFromLayout(l codec.MarginParamsLayout) MarginParams {
	f := func(v uint64) decimal.Decimal { return fixedpoint.ToDecimalUnsigned(v, fixedpoint.MarginPrecision) }
	return MarginParams{
		FutureInitial:              f(l.FutureMarginInitial),
		FutureMaintenance:          f(l.FutureMarginMaintenance),
		PerpInitial:                f(l.PerpMarginInitial),
		PerpMaintenance:            f(l.PerpMarginMaintenance),
		OptionMarkLongInitial:      f(l.OptionMarkPercentageLongInitial),
		OptionSpotLongInitial:      f(l.OptionSpotPercentageLongInitial),
		OptionSpotShortInitial:     f(l.OptionSpotPercentageShortInitial),
		OptionBaseShortInitial:     f(l.OptionBasePercentageShortInitial),
		OptionMarkLongMaintenance:  f(l.OptionMarkPercentageLongMaintenance),
		OptionSpotLongMaintenance:  f(l.OptionSpotPercentageLongMaintenance),
		OptionSpotShortMaintenance: f(l.OptionSpotPercentageShortMaintenance),
		OptionBaseShortMaintenance: f(l.OptionBasePercentageShortMaintenance),
		TakerFeeRate:               f(l.TakerFee),
		MakerFeeRate:               f(l.MakerFee),
	}
}

// Market is the static description of one market slot.
type Market struct {
	Key     model.MarketKey
	Address solana.PublicKey
	Kind    model.MarketKind
	Strike  uint64 // native platform precision, options only
	Expiry  int64  // unix seconds, 0 for perps
}

// View is a read-only view of market state.
type View interface {
	Market(key model.MarketKey) (Market, bool)
	MarkPrice(key model.MarketKey) (uint64, bool)
	SpotPrice(asset assets.Asset) (uint64, bool)
	MarginParams(asset assets.Asset) (MarginParams, bool)
	Clock() core.Clock
	TIFBuffer() uint64
}

// Context is the explicitly constructed market state injected into the
// components that need prices, parameters or the clock.
type Context struct {
	deriver address.Deriver

	mu           sync.RWMutex
	markets      map[model.MarketKey]Market
	markPrices   map[model.MarketKey]uint64
	spotPrices   map[assets.Asset]uint64
	params       map[assets.Asset]MarginParams
	clock        core.Clock
	tifBuffer    uint64
	depositLimit uint64
}

// NewContext creates an empty context for a program deployment.
func NewContext(programID, dexProgramID solana.PublicKey) *Context {
	return &Context{
		deriver:    address.Deriver{ProgramID: programID, DexProgramID: dexProgramID},
		markets:    make(map[model.MarketKey]Market),
		markPrices: make(map[model.MarketKey]uint64),
		spotPrices: make(map[assets.Asset]uint64),
		params:     make(map[assets.Asset]MarginParams),
	}
}

// Deriver returns the address deriver of the deployment.
func (c *Context) Deriver() address.Deriver {
	return c.deriver
}

func (c *Context) SetMarket(m Market) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m.Kind == model.KindUninitialized {
		m.Kind = m.Key.Kind()
	}
	c.markets[m.Key] = m
}

func (c *Context) Market(key model.MarketKey) (Market, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.markets[key]
	return m, ok
}

// Markets returns every loaded market key.
func (c *Context) Markets() []model.MarketKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.MarketKey, 0, len(c.markets))
	for k := range c.markets {
		out = append(out, k)
	}
	return out
}

func (c *Context) SetMarkPrice(key model.MarketKey, native uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markPrices[key] = native
}

func (c *Context) MarkPrice(key model.MarketKey) (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.markPrices[key]
	return p, ok
}

func (c *Context) SetSpotPrice(asset assets.Asset, native uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spotPrices[asset] = native
}

// SpotPrice falls back to the perp mark when no spot price is loaded.
func (c *Context) SpotPrice(asset assets.Asset) (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.spotPrices[asset]; ok && p != 0 {
		return p, true
	}
	p, ok := c.markPrices[model.PerpKey(asset)]
	return p, ok
}

func (c *Context) SetMarginParams(asset assets.Asset, p MarginParams) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params[asset] = p
}

func (c *Context) MarginParams(asset assets.Asset) (MarginParams, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.params[asset]
	return p, ok
}

func (c *Context) SetClock(clock core.Clock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = clock
}

func (c *Context) Clock() core.Clock {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clock
}

func (c *Context) SetTIFBuffer(buffer uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tifBuffer = buffer
}

func (c *Context) TIFBuffer() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tifBuffer
}

// SetDepositLimit sets the deposit size above which a whitelisted user is required. Zero disables the limit.
func (c *Context) SetDepositLimit(native uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.depositLimit = native
}

func (c *Context) DepositLimit() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.depositLimit
}

// IsExpired reports whether a dated market has reached expiry on the cluster clock.
func IsExpired(v View, key model.MarketKey) bool {
	if key.Index == model.PerpIndex {
		return false
	}
	m, ok := v.Market(key)
	if !ok || m.Expiry == 0 {
		return false
	}
	return m.Expiry <= v.Clock().UnixTimestamp
}

// Snapshot returns an immutable copy of the context for one computation.
func (c *Context) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := &Snapshot{
		markets:    make(map[model.MarketKey]Market, len(c.markets)),
		markPrices: make(map[model.MarketKey]uint64, len(c.markPrices)),
		spotPrices: make(map[assets.Asset]uint64, len(c.spotPrices)),
		params:     make(map[assets.Asset]MarginParams, len(c.params)),
		clock:      c.clock,
		tifBuffer:  c.tifBuffer,
	}
	for k, v := range c.markets {
		s.markets[k] = v
	}
	for k, v := range c.markPrices {
		s.markPrices[k] = v
	}
	for k, v := range c.spotPrices {
		s.spotPrices[k] = v
	}
	for k, v := range c.params {
		s.params[k] = v
	}
	return s
}

// Snapshot is a frozen View.
type Snapshot struct {
	markets    map[model.MarketKey]Market
	markPrices map[model.MarketKey]uint64
	spotPrices map[assets.Asset]uint64
	params     map[assets.Asset]MarginParams
	clock      core.Clock
	tifBuffer  uint64
}

func (s *Snapshot) Market(key model.MarketKey) (Market, bool) {
	m, ok := s.markets[key]
	return m, ok
}

func (s *Snapshot) MarkPrice(key model.MarketKey) (uint64, bool) {
	p, ok := s.markPrices[key]
	return p, ok
}

func (s *Snapshot) SpotPrice(asset assets.Asset) (uint64, bool) {
	if p, ok := s.spotPrices[asset]; ok && p != 0 {
		return p, true
	}
	p, ok := s.markPrices[model.PerpKey(asset)]
	return p, ok
}

func (s *Snapshot) MarginParams(asset assets.Asset) (MarginParams, bool) {
	p, ok := s.params[asset]
	return p, ok
}

func (s *Snapshot) Clock() core.Clock { return s.clock }
func (s *Snapshot) TIFBuffer() uint64 { return s.tifBuffer }
