// Package assets defines the underlyings traded on the exchange and their
// stable index mapping into fixed-size on-chain arrays.
package assets

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Asset identifies an underlying.
type Asset uint8

const (
	SOL Asset = iota
	BTC
	ETH
	APT
	ARB
	BNB
	PYTH
	TIA
	JTO
	BONK
	SEI
	JUP
	DYM
	STRK
	WIF

	// UNDEFINED marks "no asset" and decode failures.
	UNDEFINED Asset = 255
)

// MaxSlots is the size of per-asset arrays in on-chain layouts.
const MaxSlots = 25

var names = map[Asset]string{
	SOL:  "SOL",
	BTC:  "BTC",
	ETH:  "ETH",
	APT:  "APT",
	ARB:  "ARB",
	BNB:  "BNB",
	PYTH: "PYTH",
	TIA:  "TIA",
	JTO:  "JTO",
	BONK: "BONK",
	SEI:  "SEI",
	JUP:  "JUP",
	DYM:  "DYM",
	STRK: "STRK",
	WIF:  "WIF",
}

// priceMultipliers holds assets whose on-chain prices are quoted per block of
// native units rather than per unit.
var priceMultipliers = map[Asset]int64{
	BONK: 1_000_000,
}

// All returns every defined asset in index order.
func All() []Asset {
	out := make([]Asset, 0, len(names))
	for i := 0; i < MaxSlots; i++ {
		if _, ok := names[Asset(i)]; ok {
			out = append(out, Asset(i))
		}
	}
	return out
}

func (a Asset) String() string {
	if n, ok := names[a]; ok {
		return n
	}
	return "UNDEFINED"
}

// Valid reports whether a is a defined asset.
func (a Asset) Valid() bool {
	_, ok := names[a]
	return ok
}

// Multiplier returns the price/size multiplier for a. Most assets use 1.
func (a Asset) Multiplier() decimal.Decimal {
	if m, ok := priceMultipliers[a]; ok {
		return decimal.NewFromInt(m)
	}
	return decimal.NewFromInt(1)
}

// ToIndex maps an asset to its array offset.
func ToIndex(a Asset) (int, error) {
	if !a.Valid() {
		return 0, fmt.Errorf("asset %d has no index", uint8(a))
	}
	return int(a), nil
}

// FromIndex maps an array offset back to an asset. Unknown offsets return UNDEFINED.
func FromIndex(i int) Asset {
	if i < 0 || i >= MaxSlots {
		return UNDEFINED
	}
	a := Asset(i)
	if !a.Valid() {
		return UNDEFINED
	}
	return a
}

// Parse maps a case-insensitive name to an asset.
func Parse(s string) (Asset, error) {
	up := strings.ToUpper(strings.TrimSpace(s))
	for a, n := range names {
		if n == up {
			return a, nil
		}
	}
	return UNDEFINED, fmt.Errorf("unknown asset %q", s)
}
