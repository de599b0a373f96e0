package codec

import (
	"fmt"

	"deriv_client/internal/assets"
	"deriv_client/internal/model"

	"github.com/gagliardetto/solana-go"
)

type marginAccountLayout struct {
	Authority         solana.PublicKey
	Delegate          solana.PublicKey
	Asset             uint8
	Balance           uint64
	ProductLedgers    [model.TotalMarkets]model.ProductLedger
	PerpProductLedger model.ProductLedger
	OpenOrdersNonce   [model.TotalMarkets + 1]uint8
}

type crossMarginAccountLayout struct {
	Authority        solana.PublicKey
	Delegate         solana.PublicKey
	Balance          uint64
	ProductLedgers   [assets.MaxSlots]model.ProductLedger
	OpenOrdersNonce  [assets.MaxSlots]uint8
	TriggerOrderBits model.TriggerBits
}

// DecodeAccount decodes a margin account of either variant, selected by the
// discriminator.
func DecodeAccount(data []byte) (model.Account, error) {
	d, err := ReadDiscriminator(data)
	if err != nil {
		return nil, err
	}
	switch d {
	case MarginAccountDiscriminator:
		return DecodeMarginAccount(data)
	case CrossMarginAccountDiscriminator:
		return DecodeCrossMarginAccount(data)
	default:
		return nil, fmt.Errorf("%w: %x", ErrUnknownDiscriminator, d[:])
	}
}

// DecodeMarginAccount decodes the legacy variant.
func DecodeMarginAccount(data []byte) (*model.MarginAccount, error) {
	var l marginAccountLayout
	if err := decodeBody(data, MarginAccountDiscriminator, "MarginAccount", &l); err != nil {
		return nil, err
	}
	asset := assets.FromIndex(int(l.Asset))
	if asset == assets.UNDEFINED {
		return nil, fmt.Errorf("margin account has unknown asset %d", l.Asset)
	}
	return &model.MarginAccount{
		Authority:         l.Authority,
		Delegate:          l.Delegate,
		Asset:             asset,
		Balance:           l.Balance,
		ProductLedgers:    l.ProductLedgers,
		PerpProductLedger: l.PerpProductLedger,
		OpenOrdersNonce:   l.OpenOrdersNonce,
	}, nil
}

// DecodeCrossMarginAccount decodes the cross-margin variant.
func DecodeCrossMarginAccount(data []byte) (*model.CrossMarginAccount, error) {
	var l crossMarginAccountLayout
	if err := decodeBody(data, CrossMarginAccountDiscriminator, "CrossMarginAccount", &l); err != nil {
		return nil, err
	}
	return &model.CrossMarginAccount{
		Authority:        l.Authority,
		Delegate:         l.Delegate,
		Balance:          l.Balance,
		ProductLedgers:   l.ProductLedgers,
		OpenOrdersNonce:  l.OpenOrdersNonce,
		TriggerOrderBits: l.TriggerOrderBits,
	}, nil
}

// EncodeAccount encodes either variant with its discriminator.
func EncodeAccount(acc model.Account) ([]byte, error) {
	switch a := acc.(type) {
	case *model.MarginAccount:
		return encodeBody(MarginAccountDiscriminator, &marginAccountLayout{
			Authority:         a.Authority,
			Delegate:          a.Delegate,
			Asset:             uint8(a.Asset),
			Balance:           a.Balance,
			ProductLedgers:    a.ProductLedgers,
			PerpProductLedger: a.PerpProductLedger,
			OpenOrdersNonce:   a.OpenOrdersNonce,
		})
	case *model.CrossMarginAccount:
		return encodeBody(CrossMarginAccountDiscriminator, &crossMarginAccountLayout{
			Authority:        a.Authority,
			Delegate:         a.Delegate,
			Balance:          a.Balance,
			ProductLedgers:   a.ProductLedgers,
			OpenOrdersNonce:  a.OpenOrdersNonce,
			TriggerOrderBits: a.TriggerOrderBits,
		})
	default:
		return nil, fmt.Errorf("unsupported account type %T", acc)
	}
}
