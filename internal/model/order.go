package model

import (
	"fmt"

	"deriv_client/internal/assets"

	"github.com/gagliardetto/solana-go"
)

// Side of an order.
type Side uint8

const (
	SideBid Side = iota
	SideAsk
)

func (s Side) String() string {
	if s == SideAsk {
		return "ask"
	}
	return "bid"
}

// OrderType mirrors the program's order types.
type OrderType uint8

const (
	OrderTypeLimit OrderType = iota
	OrderTypePostOnly
	OrderTypeFillOrKill
	OrderTypeImmediateOrCancel
	OrderTypePostOnlySlide
)

// OrderID is the 128-bit order id assigned by the book.
type OrderID struct {
	Lo uint64
	Hi uint64
}

func (id OrderID) String() string {
	if id.Hi == 0 {
		return fmt.Sprintf("%d", id.Lo)
	}
	return fmt.Sprintf("%x%016x", id.Hi, id.Lo)
}

// BookOrder is a resting order as it appears in an order book.
type BookOrder struct {
	OrderID       OrderID
	ClientOrderID uint64
	Owner         solana.PublicKey // open-orders address
	Side          Side
	Price         uint64
	Size          uint64
	SeqNum        uint64
	TIFOffset     uint64
}

// OrderBook is one market's book with its epoch state.
type OrderBook struct {
	Market        solana.PublicKey
	Bids          []BookOrder
	Asks          []BookOrder
	EpochStartSeq uint64
	EpochStartTs  int64
}

// Order is an open order attributed to an account.
type Order struct {
	Key           MarketKey
	Market        solana.PublicKey
	OpenOrders    solana.PublicKey
	OrderID       OrderID
	ClientOrderID uint64
	Side          Side
	Price         uint64
	Size          uint64
	SeqNum        uint64
	TIFOffset     uint64
}

// Asset returns the order's underlying.
func (o Order) Asset() assets.Asset {
	return o.Key.Asset
}

// IsExpired reports whether the order's time in force has lapsed relative to
// the market's current epoch start sequence number. A zero offset never expires.
func IsExpired(seqNum, tifOffset, buffer, epochStartSeq uint64) bool {
	if tifOffset == 0 || epochStartSeq <= seqNum {
		return false
	}
	gap := epochStartSeq - seqNum
	return gap > tifOffset && gap-tifOffset > buffer
}
