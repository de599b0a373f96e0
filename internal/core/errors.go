package core

import (
	"errors"
	"fmt"

	"deriv_client/internal/assets"

	"github.com/gagliardetto/solana-go"
)

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountNotEmpty      = errors.New("account is not empty")
	ErrDelegatedForbidden   = errors.New("operation not permitted for delegated accounts")
	ErrInvalidClientOrderID = errors.New("client order id must be non-zero")
	ErrNoTriggerOrderSpace  = errors.New("no free trigger order slot")
	ErrNotWhitelisted       = errors.New("user is not whitelisted for this action")
	ErrMissingMarkPrice     = errors.New("missing mark price")
	ErrMissingMarket        = errors.New("market not loaded")
	ErrStoreClosed          = errors.New("account store closed")
	ErrBatchTooLarge        = errors.New("batch exceeds ledger store limit")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrTransactionFailed    = errors.New("transaction failed")
	ErrConfirmationTimeout  = errors.New("transaction not confirmed in time")
)

// OperationError carries the context of a failed mutator call.
type OperationError struct {
	Op    string
	Asset assets.Asset
	Err   error
}

func (e *OperationError) Error() string {
	if e.Asset == assets.UNDEFINED {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Op, e.Asset, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// TransactionError reports a transaction that landed with an error status.
type TransactionError struct {
	Signature solana.Signature
	Reason    interface{}
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction %s failed: %v", e.Signature, e.Reason)
}

func (e *TransactionError) Unwrap() error {
	return ErrTransactionFailed
}

// IsPrecondition reports whether err was raised locally before any submission.
func IsPrecondition(err error) bool {
	for _, target := range []error{
		ErrAccountNotEmpty, ErrDelegatedForbidden, ErrInvalidClientOrderID,
		ErrNoTriggerOrderSpace, ErrNotWhitelisted, ErrInvalidArgument,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
