package chain

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"deriv_client/internal/core"

	"github.com/gagliardetto/solana-go"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T, f *fakeRPC, keys ...solana.PrivateKey) *Ledger {
	t.Helper()
	opts := DefaultOptions()
	opts.RPCURL = f.server.URL
	opts.RateLimit = 0
	opts.BatchSize = 3
	opts.ConfirmTimeout = 2 * time.Second
	opts.ConfirmPollInterval = 5 * time.Millisecond
	l, err := NewLedger(opts, keys, &mockLogger{})
	require.NoError(t, err)
	return l
}

func TestNewLedger_RequiresURL(t *testing.T) {
	_, err := NewLedger(Options{}, nil, &mockLogger{})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestFetchAccount(t *testing.T) {
	f := newFakeRPC(t)
	owner := solana.NewWallet().PublicKey()
	f.on("getAccountInfo", func([]json.RawMessage) (interface{}, int) {
		return withContext(42, accountValue(owner.String(), []byte{1, 2, 3})), 0
	})
	l := newTestLedger(t, f)

	info, err := l.FetchAccount(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, info.Data)
	assert.Equal(t, uint64(42), info.Slot)
	assert.Equal(t, owner, info.Owner)
}

func TestFetchAccount_NotFoundIsNotRetried(t *testing.T) {
	f := newFakeRPC(t)
	f.on("getAccountInfo", func([]json.RawMessage) (interface{}, int) {
		return withContext(7, nil), 0
	})
	l := newTestLedger(t, f)

	_, err := l.FetchAccount(context.Background(), solana.NewWallet().PublicKey())
	assert.ErrorIs(t, err, core.ErrAccountNotFound)
	assert.Equal(t, 1, f.count("getAccountInfo"))
}

func TestFetchAccount_RetriesTransientErrors(t *testing.T) {
	f := newFakeRPC(t)
	var attempts int32
	f.on("getAccountInfo", func([]json.RawMessage) (interface{}, int) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return nil, http.StatusBadGateway
		}
		return withContext(9, accountValue(solana.SystemProgramID.String(), []byte{9})), 0
	})
	l := newTestLedger(t, f)

	info, err := l.FetchAccount(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, info.Data)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestFetchMultipleAccounts(t *testing.T) {
	f := newFakeRPC(t)
	owner := solana.SystemProgramID.String()
	f.on("getMultipleAccounts", func([]json.RawMessage) (interface{}, int) {
		return withContext(11, []interface{}{
			accountValue(owner, []byte{1}),
			nil,
			accountValue(owner, []byte{3}),
		}), 0
	})
	l := newTestLedger(t, f)

	addrs := []solana.PublicKey{
		solana.NewWallet().PublicKey(),
		solana.NewWallet().PublicKey(),
		solana.NewWallet().PublicKey(),
	}
	infos, err := l.FetchMultipleAccounts(context.Background(), addrs)
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, addrs[0], infos[0].Address)
	assert.Nil(t, infos[1])
	assert.Equal(t, []byte{3}, infos[2].Data)
	assert.Equal(t, uint64(11), infos[2].Slot)
}

func TestFetchMultipleAccounts_RejectsOversizedBatch(t *testing.T) {
	f := newFakeRPC(t)
	l := newTestLedger(t, f)

	addrs := make([]solana.PublicKey, 4)
	_, err := l.FetchMultipleAccounts(context.Background(), addrs)
	assert.ErrorIs(t, err, core.ErrBatchTooLarge)
	assert.Zero(t, f.count("getMultipleAccounts"))
}

func TestGetClock(t *testing.T) {
	f := newFakeRPC(t)
	f.on("getSlot", func([]json.RawMessage) (interface{}, int) { return 1234, 0 })
	f.on("getBlockTime", func(params []json.RawMessage) (interface{}, int) {
		if len(params) == 0 || string(params[0]) != "1234" {
			return nil, http.StatusBadRequest
		}
		return 1_700_000_123, 0
	})
	l := newTestLedger(t, f)

	clock, err := l.GetClock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.Clock{UnixTimestamp: 1_700_000_123, Slot: 1234}, clock)
}

func testInstruction(signer solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(
		solana.NewWallet().PublicKey(),
		solana.AccountMetaSlice{solana.NewAccountMeta(signer, true, true)},
		[]byte{1},
	)
}

func TestSubmitTransaction(t *testing.T) {
	f := newFakeRPC(t)
	want := solana.Signature{1, 2, 3}
	f.on("getLatestBlockhash", func([]json.RawMessage) (interface{}, int) {
		return withContext(5, map[string]interface{}{
			"blockhash":            solana.Hash{7}.String(),
			"lastValidBlockHeight": 100,
		}), 0
	})
	var sendParams []json.RawMessage
	f.on("sendTransaction", func(params []json.RawMessage) (interface{}, int) {
		sendParams = params
		return want.String(), 0
	})
	f.on("getSignatureStatuses", signatureStatus("confirmed", nil))

	key := solana.NewWallet().PrivateKey
	l := newTestLedger(t, f, key)

	sig, err := l.SubmitTransaction(context.Background(), []solana.Instruction{testInstruction(key.PublicKey())},
		key.PublicKey(), core.SubmitOptions{SkipPreflight: true, MaxRetries: 2})
	require.NoError(t, err)
	assert.Equal(t, want, sig)
	assert.Equal(t, 1, f.count("sendTransaction"))
	require.Len(t, sendParams, 2)
	assert.True(t, strings.Contains(string(sendParams[1]), `"skipPreflight":true`))
	assert.True(t, strings.Contains(string(sendParams[1]), `"maxRetries":2`))
}

func signatureStatus(status string, txErr interface{}) rpcHandler {
	return func([]json.RawMessage) (interface{}, int) {
		return withContext(6, []interface{}{map[string]interface{}{
			"slot":               6,
			"confirmations":      nil,
			"err":                txErr,
			"confirmationStatus": status,
		}}), 0
	}
}

func sendingLedger(t *testing.T, f *fakeRPC) (*Ledger, solana.PrivateKey) {
	t.Helper()
	f.on("getLatestBlockhash", func([]json.RawMessage) (interface{}, int) {
		return withContext(5, map[string]interface{}{
			"blockhash":            solana.Hash{7}.String(),
			"lastValidBlockHeight": 100,
		}), 0
	})
	f.on("sendTransaction", func([]json.RawMessage) (interface{}, int) {
		return solana.Signature{9}.String(), 0
	})
	key := solana.NewWallet().PrivateKey
	return newTestLedger(t, f, key), key
}

func TestSubmitTransaction_LandedWithError(t *testing.T) {
	f := newFakeRPC(t)
	l, key := sendingLedger(t, f)
	f.on("getSignatureStatuses", signatureStatus("confirmed", map[string]interface{}{
		"InstructionError": []interface{}{0, map[string]interface{}{"Custom": 6000}},
	}))

	sig, err := l.SubmitTransaction(context.Background(), []solana.Instruction{testInstruction(key.PublicKey())},
		key.PublicKey(), core.SubmitOptions{})
	require.ErrorIs(t, err, core.ErrTransactionFailed)
	var txErr *core.TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, solana.Signature{9}, sig)
	assert.Equal(t, sig, txErr.Signature)
	assert.Contains(t, err.Error(), "InstructionError")
	assert.Equal(t, 1, f.count("sendTransaction"))
	assert.GreaterOrEqual(t, f.count("getSignatureStatuses"), 1)
}

func TestSubmitTransaction_WaitsForCommitment(t *testing.T) {
	f := newFakeRPC(t)
	l, key := sendingLedger(t, f)
	var polls atomic.Int32
	processed := signatureStatus("processed", nil)
	finalized := signatureStatus("finalized", nil)
	f.on("getSignatureStatuses", func(params []json.RawMessage) (interface{}, int) {
		switch polls.Add(1) {
		case 1:
			return withContext(6, []interface{}{nil}), 0
		case 2:
			return processed(params)
		default:
			return finalized(params)
		}
	})

	_, err := l.SubmitTransaction(context.Background(), []solana.Instruction{testInstruction(key.PublicKey())},
		key.PublicKey(), core.SubmitOptions{Commitment: core.CommitmentConfirmed})
	require.NoError(t, err)
	assert.Equal(t, int32(3), polls.Load())
}

func TestSubmitTransaction_ConfirmationTimeout(t *testing.T) {
	f := newFakeRPC(t)
	l, key := sendingLedger(t, f)
	l.confirm = 50 * time.Millisecond
	f.on("getSignatureStatuses", signatureStatus("processed", nil))

	sig, err := l.SubmitTransaction(context.Background(), []solana.Instruction{testInstruction(key.PublicKey())},
		key.PublicKey(), core.SubmitOptions{Commitment: core.CommitmentFinalized})
	assert.ErrorIs(t, err, core.ErrConfirmationTimeout)
	assert.NotErrorIs(t, err, core.ErrTransactionFailed)
	assert.Equal(t, solana.Signature{9}, sig)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.SubmitTransaction(ctx, []solana.Instruction{testInstruction(key.PublicKey())},
		key.PublicKey(), core.SubmitOptions{})
	assert.Error(t, err)
}

func TestSubmitTransaction_SendIsNotRetried(t *testing.T) {
	f := newFakeRPC(t)
	f.on("getLatestBlockhash", func([]json.RawMessage) (interface{}, int) {
		return withContext(5, map[string]interface{}{
			"blockhash":            solana.Hash{7}.String(),
			"lastValidBlockHeight": 100,
		}), 0
	})
	f.on("sendTransaction", func([]json.RawMessage) (interface{}, int) {
		return nil, http.StatusBadGateway
	})

	key := solana.NewWallet().PrivateKey
	l := newTestLedger(t, f, key)

	_, err := l.SubmitTransaction(context.Background(), []solana.Instruction{testInstruction(key.PublicKey())},
		key.PublicKey(), core.SubmitOptions{})
	assert.Error(t, err)
	assert.Equal(t, 1, f.count("sendTransaction"))
}

func TestSubmitTransaction_UnknownSigner(t *testing.T) {
	f := newFakeRPC(t)
	f.on("getLatestBlockhash", func([]json.RawMessage) (interface{}, int) {
		return withContext(5, map[string]interface{}{
			"blockhash":            solana.Hash{7}.String(),
			"lastValidBlockHeight": 100,
		}), 0
	})
	key := solana.NewWallet().PrivateKey
	l := newTestLedger(t, f, key)

	_, err := l.SubmitTransaction(context.Background(), nil, solana.NewWallet().PublicKey(), core.SubmitOptions{})
	assert.ErrorIs(t, err, ErrUnknownSigner)

	other := solana.NewWallet().PublicKey()
	_, err = l.SubmitTransaction(context.Background(), []solana.Instruction{testInstruction(other)},
		key.PublicKey(), core.SubmitOptions{})
	assert.ErrorIs(t, err, ErrUnknownSigner)
	assert.Zero(t, f.count("sendTransaction"))
}

func TestSubscribeWithoutWebsocket(t *testing.T) {
	f := newFakeRPC(t)
	l := newTestLedger(t, f)
	_, err := l.SubscribeAccountChange(context.Background(), solana.NewWallet().PublicKey(), core.CommitmentConfirmed)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}
