// Package txbuilder translates client intents into program instructions and
// packs them into transaction-sized batches.
//
// Instruction data is an 8-byte discriminator, sha256("global:<name>")[:8],
// followed by borsh-encoded arguments.
package txbuilder

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"deriv_client/internal/address"
	"deriv_client/internal/assets"
	"deriv_client/internal/core"
	"deriv_client/internal/model"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// InstructionDiscriminator computes the tag of a program instruction.
func InstructionDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + name))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

// Group is an ordered run of instructions that must land in one transaction.
type Group []solana.Instruction

// Intent is the output of a builder.
type Intent struct {
	Op     string
	Asset  assets.Asset
	Groups []Group
	// NewOpenOrders are open-orders accounts this intent initialises. The
	// caller registers them with the account store.
	NewOpenOrders map[model.MarketKey]solana.PublicKey
}

// Instructions flattens the intent in order.
func (i Intent) Instructions() []solana.Instruction {
	var out []solana.Instruction
	for _, g := range i.Groups {
		out = append(out, g...)
	}
	return out
}

// AccountRef identifies the account an intent acts on and who signs for it.
type AccountRef struct {
	Address   solana.PublicKey
	Authority solana.PublicKey
	// Signer is the authority or its delegate.
	Signer     solana.PublicKey
	Kind       model.AccountKind
	Subaccount uint8
}

// Builder builds instructions for one program deployment.
type Builder struct {
	deriver address.Deriver
	mint    solana.PublicKey
}

// NewBuilder creates a builder. mint is the collateral token mint.
func NewBuilder(deriver address.Deriver, mint solana.PublicKey) *Builder {
	return &Builder{deriver: deriver, mint: mint}
}

func (b *Builder) instruction(name string, args interface{}, metas ...*solana.AccountMeta) (solana.Instruction, error) {
	disc := InstructionDiscriminator(name)
	buf := new(bytes.Buffer)
	buf.Write(disc[:])
	if args != nil {
		if err := bin.NewBorshEncoder(buf).Encode(args); err != nil {
			return nil, fmt.Errorf("encode %s args: %w", name, err)
		}
	}
	return solana.NewInstruction(b.deriver.ProgramID, solana.AccountMetaSlice(metas), buf.Bytes()), nil
}

func writable(k solana.PublicKey) *solana.AccountMeta { return solana.NewAccountMeta(k, true, false) }
func readonly(k solana.PublicKey) *solana.AccountMeta { return solana.NewAccountMeta(k, false, false) }
func signer(k solana.PublicKey) *solana.AccountMeta   { return solana.NewAccountMeta(k, false, true) }
func payer(k solana.PublicKey) *solana.AccountMeta    { return solana.NewAccountMeta(k, true, true) }

// Pack splits groups into batches of at most capacity instructions. Groups
// are never split and keep their order. A group larger than capacity is an error.
func Pack(groups []Group, capacity int) ([][]solana.Instruction, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity %d", core.ErrInvalidArgument, capacity)
	}
	var (
		out     [][]solana.Instruction
		current []solana.Instruction
	)
	for i, g := range groups {
		if len(g) == 0 {
			continue
		}
		if len(g) > capacity {
			return nil, fmt.Errorf("%w: group %d has %d instructions, capacity %d", core.ErrBatchTooLarge, i, len(g), capacity)
		}
		if len(current)+len(g) > capacity {
			out = append(out, current)
			current = nil
		}
		current = append(current, g...)
	}
	if len(current) > 0 {
		out = append(out, current)
	}
	return out, nil
}
