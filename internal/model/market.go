// Package model holds the decoded account data model shared by the risk,
// order and state components.
package model

import (
	"fmt"

	"deriv_client/internal/assets"
)

// Market geometry of the legacy per-asset account.
const (
	ExpirySeries      = 2
	StrikesPerExpiry  = 11
	ProductsPerExpiry = 2*StrikesPerExpiry + 1
	TotalMarkets      = ExpirySeries * ProductsPerExpiry

	// PerpIndex addresses the dedicated perpetual ledger slot.
	PerpIndex = 137
)

// MarketKind is the instrument type of a market slot.
type MarketKind uint8

const (
	KindUninitialized MarketKind = iota
	KindCall
	KindPut
	KindFuture
	KindPerp
)

func (k MarketKind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindPut:
		return "put"
	case KindFuture:
		return "future"
	case KindPerp:
		return "perp"
	default:
		return "uninitialized"
	}
}

// IsOption reports whether k is a call or put.
func (k MarketKind) IsOption() bool {
	return k == KindCall || k == KindPut
}

// KindForIndex derives the instrument kind from a market index.
func KindForIndex(index int) MarketKind {
	if index == PerpIndex {
		return KindPerp
	}
	if index < 0 || index >= TotalMarkets {
		return KindUninitialized
	}
	switch p := index % ProductsPerExpiry; {
	case p < StrikesPerExpiry:
		return KindCall
	case p < 2*StrikesPerExpiry:
		return KindPut
	default:
		return KindFuture
	}
}

// ExpiryIndex returns the expiry series a dated market index belongs to, or -1 for perps.
func ExpiryIndex(index int) int {
	if index == PerpIndex || index < 0 || index >= TotalMarkets {
		return -1
	}
	return index / ProductsPerExpiry
}

// StrikeIndex returns the strike slot of an option market index, or -1.
func StrikeIndex(index int) int {
	if !KindForIndex(index).IsOption() {
		return -1
	}
	return (index % ProductsPerExpiry) % StrikesPerExpiry
}

// MarketKey addresses one market slot of one asset.
type MarketKey struct {
	Asset assets.Asset
	Index int
}

// PerpKey returns the perp market key for asset.
func PerpKey(asset assets.Asset) MarketKey {
	return MarketKey{Asset: asset, Index: PerpIndex}
}

// Kind returns the instrument type of the slot.
func (k MarketKey) Kind() MarketKind {
	return KindForIndex(k.Index)
}

func (k MarketKey) String() string {
	return fmt.Sprintf("%s-%d", k.Asset, k.Index)
}
