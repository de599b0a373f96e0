package model

import (
	"fmt"
	"math/bits"

	"deriv_client/internal/assets"

	"github.com/gagliardetto/solana-go"
)

// AccountKind discriminates the margin account variants.
type AccountKind uint8

const (
	KindMarginAccount AccountKind = iota + 1
	KindCrossMarginAccount
)

func (k AccountKind) String() string {
	switch k {
	case KindMarginAccount:
		return "margin"
	case KindCrossMarginAccount:
		return "cross_margin"
	default:
		return "unknown"
	}
}

// Account is the sum type over decoded margin account variants.
// Implementations: *MarginAccount, *CrossMarginAccount.
type Account interface {
	Kind() AccountKind
	Owner() solana.PublicKey
	DelegatePubkey() solana.PublicKey
	NativeBalance() uint64
	// Ledgers returns every ledger slot in canonical order.
	Ledgers() []LedgerEntry
	// Assets returns the assets the account can hold exposure in.
	Assets() []assets.Asset

	isAccount()
}

// MarginAccount is the legacy single-asset account.
type MarginAccount struct {
	Authority         solana.PublicKey
	Delegate          solana.PublicKey
	Asset             assets.Asset
	Balance           uint64
	ProductLedgers    [TotalMarkets]ProductLedger
	PerpProductLedger ProductLedger
	// OpenOrdersNonce has one entry per dated market and a final entry for the perp.
	OpenOrdersNonce [TotalMarkets + 1]uint8
}

func (*MarginAccount) isAccount() {}

func (m *MarginAccount) Kind() AccountKind                { return KindMarginAccount }
func (m *MarginAccount) Owner() solana.PublicKey          { return m.Authority }
func (m *MarginAccount) DelegatePubkey() solana.PublicKey { return m.Delegate }
func (m *MarginAccount) NativeBalance() uint64            { return m.Balance }
func (m *MarginAccount) Assets() []assets.Asset           { return []assets.Asset{m.Asset} }

func (m *MarginAccount) Ledgers() []LedgerEntry {
	out := make([]LedgerEntry, 0, TotalMarkets+1)
	for i := 0; i < TotalMarkets; i++ {
		out = append(out, LedgerEntry{
			Key:             MarketKey{Asset: m.Asset, Index: i},
			Ledger:          m.ProductLedgers[i],
			OpenOrdersNonce: m.OpenOrdersNonce[i],
		})
	}
	out = append(out, LedgerEntry{
		Key:             PerpKey(m.Asset),
		Ledger:          m.PerpProductLedger,
		OpenOrdersNonce: m.OpenOrdersNonce[TotalMarkets],
	})
	return out
}

// Ledger returns the ledger at a market index.
func (m *MarginAccount) Ledger(index int) (ProductLedger, error) {
	if index == PerpIndex {
		return m.PerpProductLedger, nil
	}
	if index < 0 || index >= TotalMarkets {
		return ProductLedger{}, fmt.Errorf("market index %d out of range", index)
	}
	return m.ProductLedgers[index], nil
}

// CrossMarginAccount shares one collateral pool across every asset. It holds
// one perp ledger per asset slot.
type CrossMarginAccount struct {
	Authority        solana.PublicKey
	Delegate         solana.PublicKey
	Balance          uint64
	ProductLedgers   [assets.MaxSlots]ProductLedger
	OpenOrdersNonce  [assets.MaxSlots]uint8
	TriggerOrderBits TriggerBits
}

func (*CrossMarginAccount) isAccount() {}

func (c *CrossMarginAccount) Kind() AccountKind                { return KindCrossMarginAccount }
func (c *CrossMarginAccount) Owner() solana.PublicKey          { return c.Authority }
func (c *CrossMarginAccount) DelegatePubkey() solana.PublicKey { return c.Delegate }
func (c *CrossMarginAccount) NativeBalance() uint64            { return c.Balance }
func (c *CrossMarginAccount) Assets() []assets.Asset           { return assets.All() }

func (c *CrossMarginAccount) Ledgers() []LedgerEntry {
	all := assets.All()
	out := make([]LedgerEntry, 0, len(all))
	for _, a := range all {
		out = append(out, LedgerEntry{
			Key:             PerpKey(a),
			Ledger:          c.ProductLedgers[a],
			OpenOrdersNonce: c.OpenOrdersNonce[a],
		})
	}
	return out
}

// Ledger returns the perp ledger for asset.
func (c *CrossMarginAccount) Ledger(asset assets.Asset) (ProductLedger, error) {
	idx, err := assets.ToIndex(asset)
	if err != nil {
		return ProductLedger{}, err
	}
	return c.ProductLedgers[idx], nil
}

// IsEmpty reports whether an account holds no balance, no relevant ledgers and
// no trigger orders, the precondition for closing it.
func IsEmpty(acc Account) bool {
	if acc.NativeBalance() != 0 {
		return false
	}
	if len(RelevantLedgers(acc.Ledgers())) > 0 {
		return false
	}
	if cross, ok := acc.(*CrossMarginAccount); ok && !cross.TriggerOrderBits.IsZero() {
		return false
	}
	return true
}

// TriggerSlots is the number of trigger-order bits per account.
const TriggerSlots = 128

// TriggerBits is the 128-bit trigger-order occupancy mask, stored as two
// little-endian words (bits 0..63 in Lo, 64..127 in Hi).
type TriggerBits struct {
	Lo uint64
	Hi uint64
}

// IsSet reports whether bit is occupied.
func (b TriggerBits) IsSet(bit int) bool {
	switch {
	case bit < 0 || bit >= TriggerSlots:
		return false
	case bit < 64:
		return b.Lo&(1<<uint(bit)) != 0
	default:
		return b.Hi&(1<<uint(bit-64)) != 0
	}
}

// With returns b with bit set.
func (b TriggerBits) With(bit int) TriggerBits {
	switch {
	case bit < 0 || bit >= TriggerSlots:
	case bit < 64:
		b.Lo |= 1 << uint(bit)
	default:
		b.Hi |= 1 << uint(bit-64)
	}
	return b
}

// Without returns b with bit cleared.
func (b TriggerBits) Without(bit int) TriggerBits {
	switch {
	case bit < 0 || bit >= TriggerSlots:
	case bit < 64:
		b.Lo &^= 1 << uint(bit)
	default:
		b.Hi &^= 1 << uint(bit-64)
	}
	return b
}

// IsZero reports whether no bit is set.
func (b TriggerBits) IsZero() bool {
	return b.Lo == 0 && b.Hi == 0
}

// Count returns the number of occupied bits.
func (b TriggerBits) Count() int {
	return bits.OnesCount64(b.Lo) + bits.OnesCount64(b.Hi)
}

// Occupied returns the set bit indices in ascending order.
func (b TriggerBits) Occupied() []uint8 {
	out := make([]uint8, 0, b.Count())
	for i := 0; i < TriggerSlots; i++ {
		if b.IsSet(i) {
			out = append(out, uint8(i))
		}
	}
	return out
}
