// Package address derives the program addresses used by the client.
package address

import (
	"fmt"

	"deriv_client/internal/assets"

	"github.com/gagliardetto/solana-go"
)

// Seed prefixes.
const (
	seedMarginAccount      = "margin"
	seedCrossMarginAccount = "cross-margin"
	seedOpenOrders         = "open-orders"
	seedTriggerOrder       = "trigger-order"
	seedPricing            = "pricing"
	seedGroup              = "zeta-group"
	seedVault              = "vault"
	seedReferrer           = "referrer"
)

// Deriver derives addresses for one program deployment.
type Deriver struct {
	ProgramID    solana.PublicKey
	DexProgramID solana.PublicKey
}

func (d Deriver) find(seeds ...[]byte) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(seeds, d.ProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive address: %w", err)
	}
	return addr, nil
}

// MarginAccount derives the legacy per-asset account of authority.
func (d Deriver) MarginAccount(authority solana.PublicKey, asset assets.Asset) (solana.PublicKey, error) {
	return d.find([]byte(seedMarginAccount), []byte{uint8(asset)}, authority.Bytes())
}

// CrossMarginAccount derives the cross-margin subaccount of authority.
func (d Deriver) CrossMarginAccount(authority solana.PublicKey, subaccount uint8) (solana.PublicKey, error) {
	return d.find([]byte(seedCrossMarginAccount), authority.Bytes(), []byte{subaccount})
}

// OpenOrders derives the open-orders account of account on market.
func (d Deriver) OpenOrders(market, account solana.PublicKey) (solana.PublicKey, error) {
	return d.find([]byte(seedOpenOrders), d.DexProgramID.Bytes(), market.Bytes(), account.Bytes())
}

// TriggerOrder derives the trigger order account for a bit of account.
func (d Deriver) TriggerOrder(account solana.PublicKey, bit uint8) (solana.PublicKey, error) {
	return d.find([]byte(seedTriggerOrder), account.Bytes(), []byte{bit})
}

// Pricing derives the exchange-wide pricing account.
func (d Deriver) Pricing() (solana.PublicKey, error) {
	return d.find([]byte(seedPricing))
}

// Group derives the dated market group of asset.
func (d Deriver) Group(asset assets.Asset) (solana.PublicKey, error) {
	return d.find([]byte(seedGroup), []byte{uint8(asset)})
}

// Vault derives the collateral vault.
func (d Deriver) Vault() (solana.PublicKey, error) {
	return d.find([]byte(seedVault))
}

// Referrer derives the referrer record of authority.
func (d Deriver) Referrer(authority solana.PublicKey) (solana.PublicKey, error) {
	return d.find([]byte(seedReferrer), authority.Bytes())
}
