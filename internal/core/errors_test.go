package core

import (
	"errors"
	"fmt"
	"testing"

	"deriv_client/internal/assets"

	"github.com/stretchr/testify/assert"
)

func TestOperationError(t *testing.T) {
	err := &OperationError{Op: "withdraw", Asset: assets.SOL, Err: fmt.Errorf("check: %w", ErrDelegatedForbidden)}

	assert.ErrorIs(t, err, ErrDelegatedForbidden)
	assert.Contains(t, err.Error(), "withdraw [SOL]")

	var opErr *OperationError
	assert.True(t, errors.As(fmt.Errorf("wrapped: %w", err), &opErr))
	assert.Equal(t, "withdraw", opErr.Op)

	noAsset := &OperationError{Op: "deposit", Asset: assets.UNDEFINED, Err: ErrNotWhitelisted}
	assert.Equal(t, "deposit: user is not whitelisted for this action", noAsset.Error())
}

func TestIsPrecondition(t *testing.T) {
	assert.True(t, IsPrecondition(&OperationError{Op: "close", Err: ErrAccountNotEmpty}))
	assert.True(t, IsPrecondition(ErrInvalidClientOrderID))
	assert.False(t, IsPrecondition(ErrAccountNotFound))
	assert.False(t, IsPrecondition(errors.New("rpc timeout")))
}
