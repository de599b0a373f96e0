package model

// LedgerPosition is the position part of a product ledger. Size is signed,
// lot precision. CostOfTrades is platform precision.
type LedgerPosition struct {
	Size         int64
	CostOfTrades uint64
}

// OrderState tracks resting order exposure. OpeningOrders is indexed by side
// (0 = bid, 1 = ask).
type OrderState struct {
	ClosingOrders uint64
	OpeningOrders [2]uint64
}

// ProductLedger is the per-market record of a position and its order exposure.
type ProductLedger struct {
	Position   LedgerPosition
	OrderState OrderState
}

// IsRelevant is the single relevance filter. Every per-market iteration
// (margin sums, order fetches, liquidation scans) must go through it.
func (pl ProductLedger) IsRelevant() bool {
	return pl.Position.Size != 0 ||
		pl.OrderState.OpeningOrders[0] != 0 ||
		pl.OrderState.OpeningOrders[1] != 0 ||
		pl.OrderState.ClosingOrders != 0
}

// IsLong reports whether the position is long.
func (pl ProductLedger) IsLong() bool {
	return pl.Position.Size > 0
}

// AbsSize returns |size| in native lots.
func (pl ProductLedger) AbsSize() uint64 {
	if pl.Position.Size < 0 {
		return uint64(-pl.Position.Size)
	}
	return uint64(pl.Position.Size)
}

// LedgerEntry binds a product ledger to its market slot and open-orders nonce.
type LedgerEntry struct {
	Key             MarketKey
	Ledger          ProductLedger
	OpenOrdersNonce uint8
}

// RelevantLedgers filters entries through IsRelevant, keeping canonical order.
func RelevantLedgers(entries []LedgerEntry) []LedgerEntry {
	out := make([]LedgerEntry, 0, len(entries))
	for _, e := range entries {
		if e.Ledger.IsRelevant() {
			out = append(out, e)
		}
	}
	return out
}

// RelevantKeys returns the market keys of the relevant ledgers of acc.
func RelevantKeys(acc Account) []MarketKey {
	rel := RelevantLedgers(acc.Ledgers())
	keys := make([]MarketKey, len(rel))
	for i, e := range rel {
		keys[i] = e.Key
	}
	return keys
}
