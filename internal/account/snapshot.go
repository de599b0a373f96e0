package account

import (
	"time"

	"deriv_client/internal/assets"
	"deriv_client/internal/model"

	"github.com/gagliardetto/solana-go"
)

// Position is a non-zero position derived from a ledger.
type Position struct {
	Key          model.MarketKey
	Size         int64
	CostOfTrades uint64
}

// Snapshot is an immutable view of the mirror. Every update builds a new
// Snapshot; callers must not modify the slices or maps they read from it.
type Snapshot struct {
	Address solana.PublicKey
	// Account is nil until the account exists on chain.
	Account model.Account
	// Slot of the decoded account bytes.
	Slot      uint64
	Positions []Position

	Orders        []model.Order
	TriggerOrders map[assets.Asset][]model.TriggerOrder
	// OrdersSlot is the account slot the order lists were derived against.
	// It may trail Slot between a push and the refresh it schedules.
	OrdersSlot uint64

	// OpenOrders holds open-orders addresses registered by builders before
	// they are visible on chain.
	OpenOrders  map[model.MarketKey]solana.PublicKey
	RefreshedAt time.Time
}

func derivePositions(acc model.Account) []Position {
	if acc == nil {
		return nil
	}
	var out []Position
	for _, e := range model.RelevantLedgers(acc.Ledgers()) {
		if e.Ledger.Position.Size == 0 {
			continue
		}
		out = append(out, Position{
			Key:          e.Key,
			Size:         e.Ledger.Position.Size,
			CostOfTrades: e.Ledger.Position.CostOfTrades,
		})
	}
	return out
}

// withAccount returns a copy carrying acc, keeping the order lists.
func (s *Snapshot) withAccount(acc model.Account, slot uint64) *Snapshot {
	cp := *s
	cp.Account = acc
	cp.Slot = slot
	cp.Positions = derivePositions(acc)
	return &cp
}

// withOpenOrders returns a copy with one more registered open-orders address.
func (s *Snapshot) withOpenOrders(key model.MarketKey, addr solana.PublicKey) *Snapshot {
	cp := *s
	cp.OpenOrders = make(map[model.MarketKey]solana.PublicKey, len(s.OpenOrders)+1)
	for k, v := range s.OpenOrders {
		cp.OpenOrders[k] = v
	}
	cp.OpenOrders[key] = addr
	return &cp
}

// Exists reports whether the account has been created on chain.
func (s *Snapshot) Exists() bool {
	return s.Account != nil
}

// PositionsFor returns the positions of one asset.
func (s *Snapshot) PositionsFor(asset assets.Asset) []Position {
	var out []Position
	for _, p := range s.Positions {
		if p.Key.Asset == asset {
			out = append(out, p)
		}
	}
	return out
}

// OrdersFor returns the open orders of one asset.
func (s *Snapshot) OrdersFor(asset assets.Asset) []model.Order {
	var out []model.Order
	for _, o := range s.Orders {
		if o.Key.Asset == asset {
			out = append(out, o)
		}
	}
	return out
}

// TriggerOrdersFor returns the trigger orders of one asset ordered by bit.
func (s *Snapshot) TriggerOrdersFor(asset assets.Asset) []model.TriggerOrder {
	return s.TriggerOrders[asset]
}
