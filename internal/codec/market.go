package codec

import (
	"deriv_client/internal/assets"
	"deriv_client/internal/model"

	"github.com/gagliardetto/solana-go"
)

// MarginParamsLayout holds one asset's margin and fee parameters at margin precision.
type MarginParamsLayout struct {
	FutureMarginInitial                  uint64
	FutureMarginMaintenance              uint64
	PerpMarginInitial                    uint64
	PerpMarginMaintenance                uint64
	OptionMarkPercentageLongInitial      uint64
	OptionSpotPercentageLongInitial      uint64
	OptionSpotPercentageShortInitial     uint64
	OptionBasePercentageShortInitial     uint64
	OptionMarkPercentageLongMaintenance  uint64
	OptionSpotPercentageLongMaintenance  uint64
	OptionSpotPercentageShortMaintenance uint64
	OptionBasePercentageShortMaintenance uint64
	TakerFee                             uint64
	MakerFee                             uint64
}

// Pricing is the exchange-wide pricing account: perp marks, spot prices and
// per-asset parameters.
type Pricing struct {
	MarkPrices   [assets.MaxSlots]uint64
	SpotPrices   [assets.MaxSlots]uint64
	Params       [assets.MaxSlots]MarginParamsLayout
	PerpMarkets  [assets.MaxSlots]solana.PublicKey
	TIFBuffer    uint64
	DepositLimit uint64
}

// Group holds one asset's dated markets.
type Group struct {
	Asset      uint8
	Expiries   [model.ExpirySeries]int64
	Strikes    [model.ExpirySeries][model.StrikesPerExpiry]uint64
	MarkPrices [model.TotalMarkets]uint64
	Markets    [model.TotalMarkets]solana.PublicKey
}

type bookOrderLayout struct {
	OrderIDLo     uint64
	OrderIDHi     uint64
	ClientOrderID uint64
	Owner         solana.PublicKey
	Price         uint64
	Size          uint64
	SeqNum        uint64
	TIFOffset     uint64
}

type orderBookLayout struct {
	Market        solana.PublicKey
	EpochStartSeq uint64
	EpochStartTs  int64
	Bids          []bookOrderLayout
	Asks          []bookOrderLayout
}

func DecodePricing(data []byte) (*Pricing, error) {
	var p Pricing
	if err := decodeBody(data, PricingDiscriminator, "Pricing", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func EncodePricing(p *Pricing) ([]byte, error) {
	return encodeBody(PricingDiscriminator, p)
}

func DecodeGroup(data []byte) (*Group, error) {
	var g Group
	if err := decodeBody(data, GroupDiscriminator, "ZetaGroup", &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func EncodeGroup(g *Group) ([]byte, error) {
	return encodeBody(GroupDiscriminator, g)
}

// DecodeOrderBook decodes a market's resting orders and epoch state.
func DecodeOrderBook(data []byte) (*model.OrderBook, error) {
	var l orderBookLayout
	if err := decodeBody(data, OrderBookDiscriminator, "OrderBook", &l); err != nil {
		return nil, err
	}
	return &model.OrderBook{
		Market:        l.Market,
		Bids:          fromBookLayout(l.Bids, model.SideBid),
		Asks:          fromBookLayout(l.Asks, model.SideAsk),
		EpochStartSeq: l.EpochStartSeq,
		EpochStartTs:  l.EpochStartTs,
	}, nil
}

func EncodeOrderBook(b *model.OrderBook) ([]byte, error) {
	return encodeBody(OrderBookDiscriminator, &orderBookLayout{
		Market:        b.Market,
		EpochStartSeq: b.EpochStartSeq,
		EpochStartTs:  b.EpochStartTs,
		Bids:          toBookLayout(b.Bids),
		Asks:          toBookLayout(b.Asks),
	})
}

func fromBookLayout(in []bookOrderLayout, side model.Side) []model.BookOrder {
	out := make([]model.BookOrder, len(in))
	for i, o := range in {
		out[i] = model.BookOrder{
			OrderID:       model.OrderID{Lo: o.OrderIDLo, Hi: o.OrderIDHi},
			ClientOrderID: o.ClientOrderID,
			Owner:         o.Owner,
			Side:          side,
			Price:         o.Price,
			Size:          o.Size,
			SeqNum:        o.SeqNum,
			TIFOffset:     o.TIFOffset,
		}
	}
	return out
}

func toBookLayout(in []model.BookOrder) []bookOrderLayout {
	out := make([]bookOrderLayout, len(in))
	for i, o := range in {
		out[i] = bookOrderLayout{
			OrderIDLo:     o.OrderID.Lo,
			OrderIDHi:     o.OrderID.Hi,
			ClientOrderID: o.ClientOrderID,
			Owner:         o.Owner,
			Price:         o.Price,
			Size:          o.Size,
			SeqNum:        o.SeqNum,
			TIFOffset:     o.TIFOffset,
		}
	}
	return out
}
