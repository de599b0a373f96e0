package core

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// Commitment is the confirmation level requested from the cluster.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// AccountInfo is a raw account read.
type AccountInfo struct {
	Address solana.PublicKey
	Owner   solana.PublicKey
	Data    []byte
	Slot    uint64
}

// AccountUpdate is one push notification.
type AccountUpdate struct {
	Address solana.PublicKey
	Data    []byte
	Slot    uint64
}

// Clock is the cluster clock.
type Clock struct {
	UnixTimestamp int64
	Slot          uint64
}

// SubmitOptions controls transaction submission.
type SubmitOptions struct {
	SkipPreflight bool
	Commitment    Commitment
	MaxRetries    uint
}

// AccountSnapshot is a persisted last-known-good account.
type AccountSnapshot struct {
	Address   solana.PublicKey
	Slot      uint64
	Data      []byte
	UpdatedAt time.Time
}
