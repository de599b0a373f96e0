package txbuilder

import (
	"fmt"

	"deriv_client/internal/assets"
	"deriv_client/internal/core"
	"deriv_client/internal/market"
	"deriv_client/internal/model"

	"github.com/gagliardetto/solana-go"
)

// OpenOrdersState is the account's open-orders account on one market.
type OpenOrdersState struct {
	Address     solana.PublicKey
	Initialized bool
}

// OrderParams are the order fields in native units.
type OrderParams struct {
	Price         uint64
	Size          uint64
	Side          model.Side
	Type          model.OrderType
	ReduceOnly    bool
	ClientOrderID uint64
	TIFOffset     uint16
}

// CancelRef identifies a resting order.
type CancelRef struct {
	Market     market.Market
	OpenOrders solana.PublicKey
	Side       model.Side
	OrderID    model.OrderID
}

type placeOrderArgs struct {
	Price         uint64
	Size          uint64
	Side          uint8
	OrderType     uint8
	ReduceOnly    bool
	HasClientID   bool
	ClientOrderID uint64
	HasTIFOffset  bool
	TIFOffset     uint16
	Asset         uint8
	Index         uint16
}

type cancelOrderArgs struct {
	Side    uint8
	OrderLo uint64
	OrderHi uint64
}

type cancelByClientIDArgs struct {
	ClientOrderID uint64
}

type initOpenOrdersArgs struct {
	Asset uint8
	Index uint16
}

type liquidateArgs struct {
	Size  uint64
	Asset uint8
	Index uint16
}

func (b *Builder) marketMetas(ref AccountRef, m market.Market, openOrders solana.PublicKey) ([]*solana.AccountMeta, error) {
	pricing, err := b.deriver.Pricing()
	if err != nil {
		return nil, err
	}
	group, err := b.deriver.Group(m.Key.Asset)
	if err != nil {
		return nil, err
	}
	return []*solana.AccountMeta{
		writable(ref.Address),
		signer(ref.Signer),
		writable(openOrders),
		writable(m.Address),
		readonly(pricing),
		readonly(group),
		readonly(b.deriver.DexProgramID),
	}, nil
}

func (b *Builder) initOpenOrders(ref AccountRef, m market.Market, openOrders solana.PublicKey) (solana.Instruction, error) {
	return b.instruction("initialize_open_orders_v3",
		initOpenOrdersArgs{Asset: uint8(m.Key.Asset), Index: uint16(m.Key.Index)},
		writable(openOrders),
		writable(ref.Address),
		readonly(m.Address),
		readonly(b.deriver.DexProgramID),
		payer(ref.Signer),
		readonly(solana.SystemProgramID),
	)
}

func (b *Builder) placeOrder(ref AccountRef, m market.Market, oo solana.PublicKey, p OrderParams) (solana.Instruction, error) {
	if p.Size == 0 {
		return nil, fmt.Errorf("%w: order size is zero", core.ErrInvalidArgument)
	}
	if p.Price == 0 {
		return nil, fmt.Errorf("%w: order price is zero", core.ErrInvalidArgument)
	}
	metas, err := b.marketMetas(ref, m, oo)
	if err != nil {
		return nil, err
	}
	return b.instruction("place_order_v5", placeOrderArgs{
		Price:         p.Price,
		Size:          p.Size,
		Side:          uint8(p.Side),
		OrderType:     uint8(p.Type),
		ReduceOnly:    p.ReduceOnly,
		HasClientID:   p.ClientOrderID != 0,
		ClientOrderID: p.ClientOrderID,
		HasTIFOffset:  p.TIFOffset != 0,
		TIFOffset:     p.TIFOffset,
		Asset:         uint8(m.Key.Asset),
		Index:         uint16(m.Key.Index),
	}, metas...)
}

// PlaceOrder builds an order placement. An uninitialised open-orders account
// is created in the same group and reported in NewOpenOrders.
func (b *Builder) PlaceOrder(ref AccountRef, m market.Market, oo OpenOrdersState, p OrderParams) (Intent, error) {
	intent := Intent{Op: "place_order", Asset: m.Key.Asset}
	var group Group
	if !oo.Initialized {
		ix, err := b.initOpenOrders(ref, m, oo.Address)
		if err != nil {
			return Intent{}, err
		}
		group = append(group, ix)
		intent.NewOpenOrders = map[model.MarketKey]solana.PublicKey{m.Key: oo.Address}
	}
	ix, err := b.placeOrder(ref, m, oo.Address, p)
	if err != nil {
		return Intent{}, err
	}
	intent.Groups = []Group{append(group, ix)}
	return intent, nil
}

func (b *Builder) cancel(name string, ref AccountRef, c CancelRef) (solana.Instruction, error) {
	metas, err := b.marketMetas(ref, c.Market, c.OpenOrders)
	if err != nil {
		return nil, err
	}
	return b.instruction(name, cancelOrderArgs{
		Side:    uint8(c.Side),
		OrderLo: c.OrderID.Lo,
		OrderHi: c.OrderID.Hi,
	}, metas...)
}

// CancelOrder cancels one order by its book id.
func (b *Builder) CancelOrder(ref AccountRef, c CancelRef) (Intent, error) {
	ix, err := b.cancel("cancel_order", ref, c)
	if err != nil {
		return Intent{}, err
	}
	return Intent{Op: "cancel_order", Asset: c.Market.Key.Asset, Groups: []Group{{ix}}}, nil
}

// CancelOrderByClientOrderID cancels one order by its non-zero client id.
func (b *Builder) CancelOrderByClientOrderID(ref AccountRef, m market.Market, openOrders solana.PublicKey, clientOrderID uint64) (Intent, error) {
	if clientOrderID == 0 {
		return Intent{}, core.ErrInvalidClientOrderID
	}
	metas, err := b.marketMetas(ref, m, openOrders)
	if err != nil {
		return Intent{}, err
	}
	ix, err := b.instruction("cancel_order_by_client_order_id", cancelByClientIDArgs{ClientOrderID: clientOrderID}, metas...)
	if err != nil {
		return Intent{}, err
	}
	return Intent{Op: "cancel_order_by_client_order_id", Asset: m.Key.Asset, Groups: []Group{{ix}}}, nil
}

// CancelAll cancels every listed order, one group per cancel. With noError
// the program ignores orders that are already gone.
func (b *Builder) CancelAll(ref AccountRef, cancels []CancelRef, noError bool) (Intent, error) {
	name := "cancel_order"
	if noError {
		name = "cancel_order_no_error"
	}
	intent := Intent{Op: "cancel_all_orders", Asset: assets.UNDEFINED}
	for _, c := range cancels {
		ix, err := b.cancel(name, ref, c)
		if err != nil {
			return Intent{}, err
		}
		intent.Groups = append(intent.Groups, Group{ix})
	}
	return intent, nil
}

// CancelAndPlace cancels and places atomically on one market.
func (b *Builder) CancelAndPlace(ref AccountRef, c CancelRef, p OrderParams) (Intent, error) {
	cancel, err := b.cancel("cancel_order", ref, c)
	if err != nil {
		return Intent{}, err
	}
	place, err := b.placeOrder(ref, c.Market, c.OpenOrders, p)
	if err != nil {
		return Intent{}, err
	}
	return Intent{Op: "cancel_and_place_order", Asset: c.Market.Key.Asset, Groups: []Group{{cancel, place}}}, nil
}

// Liquidate takes over size lots of the liquidatee's position on m.
func (b *Builder) Liquidate(ref AccountRef, liquidatee solana.PublicKey, m market.Market, size uint64) (Intent, error) {
	if size == 0 {
		return Intent{}, fmt.Errorf("%w: liquidation size is zero", core.ErrInvalidArgument)
	}
	pricing, err := b.deriver.Pricing()
	if err != nil {
		return Intent{}, err
	}
	ix, err := b.instruction("liquidate_v2",
		liquidateArgs{Size: size, Asset: uint8(m.Key.Asset), Index: uint16(m.Key.Index)},
		signer(ref.Signer),
		writable(ref.Address),
		writable(liquidatee),
		readonly(m.Address),
		readonly(pricing),
	)
	if err != nil {
		return Intent{}, err
	}
	return Intent{Op: "liquidate", Asset: m.Key.Asset, Groups: []Group{{ix}}}, nil
}
