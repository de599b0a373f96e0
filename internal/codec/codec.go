// Package codec decodes and encodes the program's binary account layouts.
//
// Every account starts with an 8-byte discriminator, sha256("account:<Name>")[:8],
// followed by the borsh-encoded body. Margin accounts are decoded into the
// model.Account sum type by switching on the discriminator.
package codec

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
)

const discriminatorLen = 8

var (
	// ErrUnknownDiscriminator is returned for bytes whose header matches no known layout.
	ErrUnknownDiscriminator = errors.New("unknown account discriminator")
	// ErrShortData is returned when the buffer cannot hold a discriminator.
	ErrShortData = errors.New("account data too short")
)

// Discriminator is the 8-byte account type tag.
type Discriminator [discriminatorLen]byte

// AccountDiscriminator computes the tag for an account type name.
func AccountDiscriminator(name string) Discriminator {
	sum := sha256.Sum256([]byte("account:" + name))
	var d Discriminator
	copy(d[:], sum[:discriminatorLen])
	return d
}

var (
	MarginAccountDiscriminator      = AccountDiscriminator("MarginAccount")
	CrossMarginAccountDiscriminator = AccountDiscriminator("CrossMarginAccount")
	TriggerOrderDiscriminator       = AccountDiscriminator("TriggerOrder")
	PricingDiscriminator            = AccountDiscriminator("Pricing")
	GroupDiscriminator              = AccountDiscriminator("ZetaGroup")
	OrderBookDiscriminator          = AccountDiscriminator("OrderBook")
)

// ReadDiscriminator returns the header of data.
func ReadDiscriminator(data []byte) (Discriminator, error) {
	var d Discriminator
	if len(data) < discriminatorLen {
		return d, fmt.Errorf("%w: %d bytes", ErrShortData, len(data))
	}
	copy(d[:], data[:discriminatorLen])
	return d, nil
}

func decodeBody(data []byte, want Discriminator, name string, v interface{}) error {
	got, err := ReadDiscriminator(data)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: expected %s", ErrUnknownDiscriminator, name)
	}
	if err := bin.NewBorshDecoder(data[discriminatorLen:]).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return nil
}

func encodeBody(d Discriminator, v interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(d[:])
	if err := bin.NewBorshEncoder(buf).Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode: %w", err)
	}
	return buf.Bytes(), nil
}
