package codec

import (
	"fmt"

	"deriv_client/internal/assets"
	"deriv_client/internal/model"

	"github.com/gagliardetto/solana-go"
)

type triggerOrderLayout struct {
	Owner            solana.PublicKey
	MarginAccount    solana.PublicKey
	OpenOrders       solana.PublicKey
	OrderPrice       uint64
	HasTriggerPrice  bool
	TriggerPrice     uint64
	TriggerDirection uint8
	HasTriggerTs     bool
	TriggerTs        int64
	Size             uint64
	CreationTs       int64
	Side             uint8
	OrderType        uint8
	ReduceOnly       bool
	Asset            uint8
	Bit              uint8
}

// DecodeTriggerOrder decodes a trigger order account. Exactly one of the price
// and timestamp conditions must be present.
func DecodeTriggerOrder(address solana.PublicKey, data []byte) (model.TriggerOrder, error) {
	var l triggerOrderLayout
	if err := decodeBody(data, TriggerOrderDiscriminator, "TriggerOrder", &l); err != nil {
		return model.TriggerOrder{}, err
	}

	var cond model.TriggerCondition
	switch {
	case l.HasTriggerPrice && l.HasTriggerTs:
		return model.TriggerOrder{}, fmt.Errorf("trigger order %s: both price and timestamp set: %w", address, model.ErrInvalidTrigger)
	case l.HasTriggerPrice:
		cond = model.PriceTrigger{Price: l.TriggerPrice, Direction: model.TriggerDirection(l.TriggerDirection)}
	case l.HasTriggerTs:
		cond = model.TimestampTrigger{Timestamp: l.TriggerTs}
	default:
		return model.TriggerOrder{}, fmt.Errorf("trigger order %s: no condition set: %w", address, model.ErrInvalidTrigger)
	}
	if err := model.ValidateTrigger(cond); err != nil {
		return model.TriggerOrder{}, fmt.Errorf("trigger order %s: %w", address, err)
	}

	return model.TriggerOrder{
		Bit:           l.Bit,
		Address:       address,
		MarginAccount: l.MarginAccount,
		OpenOrders:    l.OpenOrders,
		Asset:         assets.FromIndex(int(l.Asset)),
		OrderPrice:    l.OrderPrice,
		Trigger:       cond,
		Size:          l.Size,
		Side:          model.Side(l.Side),
		OrderType:     model.OrderType(l.OrderType),
		ReduceOnly:    l.ReduceOnly,
		CreationTs:    l.CreationTs,
	}, nil
}

// EncodeTriggerOrder encodes a trigger order with owner as the signing authority.
func EncodeTriggerOrder(owner solana.PublicKey, t model.TriggerOrder) ([]byte, error) {
	l := triggerOrderLayout{
		Owner:         owner,
		MarginAccount: t.MarginAccount,
		OpenOrders:    t.OpenOrders,
		OrderPrice:    t.OrderPrice,
		Size:          t.Size,
		CreationTs:    t.CreationTs,
		Side:          uint8(t.Side),
		OrderType:     uint8(t.OrderType),
		ReduceOnly:    t.ReduceOnly,
		Asset:         uint8(t.Asset),
		Bit:           t.Bit,
	}
	switch c := t.Trigger.(type) {
	case model.PriceTrigger:
		l.HasTriggerPrice = true
		l.TriggerPrice = c.Price
		l.TriggerDirection = uint8(c.Direction)
	case model.TimestampTrigger:
		l.HasTriggerTs = true
		l.TriggerTs = c.Timestamp
	default:
		return nil, model.ErrInvalidTrigger
	}
	return encodeBody(TriggerOrderDiscriminator, &l)
}
