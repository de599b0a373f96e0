package txbuilder

import (
	"fmt"

	"deriv_client/internal/assets"
	"deriv_client/internal/core"
	"deriv_client/internal/model"

	"github.com/gagliardetto/solana-go"
)

type initCrossMarginArgs struct {
	Subaccount uint8
}

type initMarginArgs struct {
	Asset uint8
}

type amountArgs struct {
	Amount uint64
}

type closeArgs struct {
	Subaccount uint8
}

type editDelegateArgs struct {
	NewDelegate solana.PublicKey
}

func (b *Builder) initAccount(ref AccountRef, asset assets.Asset) (solana.Instruction, error) {
	metas := []*solana.AccountMeta{
		writable(ref.Address),
		signer(ref.Authority),
		payer(ref.Signer),
		readonly(solana.SystemProgramID),
	}
	if ref.Kind == model.KindCrossMarginAccount {
		return b.instruction("initialize_cross_margin_account", initCrossMarginArgs{Subaccount: ref.Subaccount}, metas...)
	}
	return b.instruction("initialize_margin_account", initMarginArgs{Asset: uint8(asset)}, metas...)
}

func (b *Builder) collateralMetas(ref AccountRef) ([]*solana.AccountMeta, error) {
	vault, err := b.deriver.Vault()
	if err != nil {
		return nil, err
	}
	pricing, err := b.deriver.Pricing()
	if err != nil {
		return nil, err
	}
	ata, _, err := solana.FindAssociatedTokenAddress(ref.Authority, b.mint)
	if err != nil {
		return nil, fmt.Errorf("derive token account: %w", err)
	}
	return []*solana.AccountMeta{
		writable(ref.Address),
		writable(vault),
		writable(ata),
		signer(ref.Signer),
		readonly(solana.TokenProgramID),
		readonly(pricing),
	}, nil
}

// Deposit builds a deposit, initialising the account in the same group when
// it does not exist yet. asset only matters for legacy accounts.
func (b *Builder) Deposit(ref AccountRef, asset assets.Asset, amount uint64, exists bool) (Intent, error) {
	if amount == 0 {
		return Intent{}, fmt.Errorf("%w: deposit amount is zero", core.ErrInvalidArgument)
	}
	var group Group
	if !exists {
		init, err := b.initAccount(ref, asset)
		if err != nil {
			return Intent{}, err
		}
		group = append(group, init)
	}
	metas, err := b.collateralMetas(ref)
	if err != nil {
		return Intent{}, err
	}
	ix, err := b.instruction("deposit_v2", amountArgs{Amount: amount}, metas...)
	if err != nil {
		return Intent{}, err
	}
	group = append(group, ix)
	return Intent{Op: "deposit", Asset: asset, Groups: []Group{group}}, nil
}

// Withdraw builds a collateral withdrawal.
func (b *Builder) Withdraw(ref AccountRef, amount uint64) (Intent, error) {
	if amount == 0 {
		return Intent{}, fmt.Errorf("%w: withdraw amount is zero", core.ErrInvalidArgument)
	}
	metas, err := b.collateralMetas(ref)
	if err != nil {
		return Intent{}, err
	}
	ix, err := b.instruction("withdraw_v2", amountArgs{Amount: amount}, metas...)
	if err != nil {
		return Intent{}, err
	}
	return Intent{Op: "withdraw", Asset: assets.UNDEFINED, Groups: []Group{{ix}}}, nil
}

// CloseAccount builds an account close. Emptiness is checked by the caller.
func (b *Builder) CloseAccount(ref AccountRef) (Intent, error) {
	name := "close_margin_account"
	if ref.Kind == model.KindCrossMarginAccount {
		name = "close_cross_margin_account"
	}
	ix, err := b.instruction(name, closeArgs{Subaccount: ref.Subaccount},
		writable(ref.Address),
		payer(ref.Authority),
	)
	if err != nil {
		return Intent{}, err
	}
	return Intent{Op: "close_account", Asset: assets.UNDEFINED, Groups: []Group{{ix}}}, nil
}

// EditDelegate sets the account delegate. A zero key removes it.
func (b *Builder) EditDelegate(ref AccountRef, delegate solana.PublicKey) (Intent, error) {
	ix, err := b.instruction("edit_delegated_pubkey", editDelegateArgs{NewDelegate: delegate},
		writable(ref.Address),
		signer(ref.Authority),
	)
	if err != nil {
		return Intent{}, err
	}
	return Intent{Op: "edit_delegate", Asset: assets.UNDEFINED, Groups: []Group{{ix}}}, nil
}

// SetReferrer links the authority to a referrer.
func (b *Builder) SetReferrer(ref AccountRef, referrer solana.PublicKey) (Intent, error) {
	record, err := b.deriver.Referrer(ref.Authority)
	if err != nil {
		return Intent{}, err
	}
	ix, err := b.instruction("choose_referrer", nil,
		writable(record),
		readonly(referrer),
		payer(ref.Authority),
		readonly(solana.SystemProgramID),
	)
	if err != nil {
		return Intent{}, err
	}
	return Intent{Op: "set_referrer", Asset: assets.UNDEFINED, Groups: []Group{{ix}}}, nil
}
