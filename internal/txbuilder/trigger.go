package txbuilder

import (
	"fmt"

	"deriv_client/internal/assets"
	"deriv_client/internal/core"
	"deriv_client/internal/market"
	"deriv_client/internal/model"

	"github.com/gagliardetto/solana-go"
)

type placeTriggerArgs struct {
	Bit              uint8
	OrderPrice       uint64
	HasTriggerPrice  bool
	TriggerPrice     uint64
	TriggerDirection uint8
	HasTriggerTs     bool
	TriggerTs        int64
	Size             uint64
	Side             uint8
	OrderType        uint8
	ReduceOnly       bool
	Asset            uint8
}

type cancelTriggerArgs struct {
	Bit uint8
}

// TriggerParams describe a conditional order.
type TriggerParams struct {
	Bit        uint8
	OrderPrice uint64
	Size       uint64
	Side       model.Side
	Type       model.OrderType
	ReduceOnly bool
	Condition  model.TriggerCondition
}

// PlaceTriggerOrder builds a trigger order on a perp market. Only cross
// accounts carry trigger bits.
func (b *Builder) PlaceTriggerOrder(ref AccountRef, m market.Market, oo OpenOrdersState, p TriggerParams) (Intent, error) {
	if ref.Kind != model.KindCrossMarginAccount {
		return Intent{}, fmt.Errorf("%w: trigger orders need a cross margin account", core.ErrInvalidArgument)
	}
	if p.Size == 0 {
		return Intent{}, fmt.Errorf("%w: order size is zero", core.ErrInvalidArgument)
	}
	if err := model.ValidateTrigger(p.Condition); err != nil {
		return Intent{}, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
	}
	args := placeTriggerArgs{
		Bit:        p.Bit,
		OrderPrice: p.OrderPrice,
		Size:       p.Size,
		Side:       uint8(p.Side),
		OrderType:  uint8(p.Type),
		ReduceOnly: p.ReduceOnly,
		Asset:      uint8(m.Key.Asset),
	}
	switch c := p.Condition.(type) {
	case model.PriceTrigger:
		args.HasTriggerPrice = true
		args.TriggerPrice = c.Price
		args.TriggerDirection = uint8(c.Direction)
	case model.TimestampTrigger:
		args.HasTriggerTs = true
		args.TriggerTs = c.Timestamp
	}

	trigger, err := b.deriver.TriggerOrder(ref.Address, p.Bit)
	if err != nil {
		return Intent{}, err
	}
	intent := Intent{Op: "place_trigger_order", Asset: m.Key.Asset}
	var group Group
	if !oo.Initialized {
		init, err := b.initOpenOrders(ref, m, oo.Address)
		if err != nil {
			return Intent{}, err
		}
		group = append(group, init)
		intent.NewOpenOrders = map[model.MarketKey]solana.PublicKey{m.Key: oo.Address}
	}
	ix, err := b.instruction("place_trigger_order", args,
		writable(trigger),
		writable(ref.Address),
		readonly(oo.Address),
		readonly(m.Address),
		payer(ref.Signer),
		readonly(solana.SystemProgramID),
	)
	if err != nil {
		return Intent{}, err
	}
	intent.Groups = []Group{append(group, ix)}
	return intent, nil
}

// CancelTriggerOrder closes the trigger order held at bit.
func (b *Builder) CancelTriggerOrder(ref AccountRef, bit uint8) (Intent, error) {
	trigger, err := b.deriver.TriggerOrder(ref.Address, bit)
	if err != nil {
		return Intent{}, err
	}
	ix, err := b.instruction("cancel_trigger_order", cancelTriggerArgs{Bit: bit},
		writable(trigger),
		writable(ref.Address),
		payer(ref.Signer),
	)
	if err != nil {
		return Intent{}, err
	}
	return Intent{Op: "cancel_trigger_order", Asset: assets.UNDEFINED, Groups: []Group{{ix}}}, nil
}
