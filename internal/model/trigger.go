package model

import (
	"errors"

	"deriv_client/internal/assets"

	"github.com/gagliardetto/solana-go"
)

// TriggerDirection is the side of the trigger price that fires the order.
type TriggerDirection uint8

const (
	TriggerLessThanOrEqual TriggerDirection = iota + 1
	TriggerGreaterThanOrEqual
)

// TriggerCondition is either a PriceTrigger or a TimestampTrigger.
type TriggerCondition interface {
	isTriggerCondition()
}

// PriceTrigger fires when the mark price crosses Price in Direction.
type PriceTrigger struct {
	Price     uint64
	Direction TriggerDirection
}

// TimestampTrigger fires once the clock reaches Timestamp.
type TimestampTrigger struct {
	Timestamp int64
}

func (PriceTrigger) isTriggerCondition()     {}
func (TimestampTrigger) isTriggerCondition() {}

// ErrInvalidTrigger is returned for conditions that are neither variant or carry invalid fields.
var ErrInvalidTrigger = errors.New("invalid trigger condition")

// ValidateTrigger checks a condition before it is encoded.
func ValidateTrigger(c TriggerCondition) error {
	switch t := c.(type) {
	case PriceTrigger:
		if t.Price == 0 {
			return ErrInvalidTrigger
		}
		if t.Direction != TriggerLessThanOrEqual && t.Direction != TriggerGreaterThanOrEqual {
			return ErrInvalidTrigger
		}
		return nil
	case TimestampTrigger:
		if t.Timestamp <= 0 {
			return ErrInvalidTrigger
		}
		return nil
	default:
		return ErrInvalidTrigger
	}
}

// TriggerOrder is a conditional order held in its own account, addressed by
// the owning account and Bit.
type TriggerOrder struct {
	Bit           uint8
	Address       solana.PublicKey
	MarginAccount solana.PublicKey
	OpenOrders    solana.PublicKey
	Asset         assets.Asset
	OrderPrice    uint64
	Trigger       TriggerCondition
	Size          uint64
	Side          Side
	OrderType     OrderType
	ReduceOnly    bool
	CreationTs    int64
}
