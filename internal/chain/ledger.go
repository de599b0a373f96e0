// Package chain implements the ledger store on a Solana JSON-RPC endpoint and
// its websocket PubSub API.
package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deriv_client/internal/core"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/time/rate"
)

// ErrUnknownSigner is returned when a transaction needs a key the keyring does not hold.
var ErrUnknownSigner = errors.New("signer not in keyring")

// Options configures a Ledger.
type Options struct {
	RPCURL     string
	WSURL      string
	Commitment core.Commitment
	// RateLimit is requests per second; zero disables limiting.
	RateLimit  float64
	Burst      int
	MaxRetries int
	BatchSize  int
	// ConfirmTimeout bounds the wait for a sent transaction to reach the
	// submit commitment.
	ConfirmTimeout      time.Duration
	ConfirmPollInterval time.Duration
}

// DefaultOptions returns options for a public endpoint.
func DefaultOptions() Options {
	return Options{
		Commitment:          core.CommitmentConfirmed,
		RateLimit:           10,
		Burst:               20,
		MaxRetries:          3,
		BatchSize:           100,
		ConfirmTimeout:      60 * time.Second,
		ConfirmPollInterval: 500 * time.Millisecond,
	}
}

// Ledger is a core.ILedgerStore backed by JSON-RPC reads, PubSub account
// subscriptions and a local keyring for signing.
type Ledger struct {
	rpc        *rpc.Client
	pubsub     *PubSub
	commitment rpc.CommitmentType
	batchSize  int
	confirm    time.Duration
	pollEvery  time.Duration
	limiter    *rate.Limiter
	reads      failsafe.Executor[any]
	keyring    map[solana.PublicKey]solana.PrivateKey
	logger     core.ILogger
}

// NewLedger creates a ledger. The PubSub connection starts on Start.
func NewLedger(opts Options, keys []solana.PrivateKey, logger core.ILogger) (*Ledger, error) {
	if opts.RPCURL == "" {
		return nil, fmt.Errorf("%w: rpc url is required", core.ErrInvalidArgument)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	if opts.Commitment == "" {
		opts.Commitment = core.CommitmentConfirmed
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = DefaultOptions().ConfirmTimeout
	}
	if opts.ConfirmPollInterval <= 0 {
		opts.ConfirmPollInterval = DefaultOptions().ConfirmPollInterval
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	keyring := make(map[solana.PublicKey]solana.PrivateKey, len(keys))
	for _, k := range keys {
		keyring[k.PublicKey()] = k
	}

	l := &Ledger{
		rpc:        rpc.New(opts.RPCURL),
		commitment: rpc.CommitmentType(opts.Commitment),
		batchSize:  opts.BatchSize,
		confirm:    opts.ConfirmTimeout,
		pollEvery:  opts.ConfirmPollInterval,
		limiter:    rate.NewLimiter(limit, burst),
		reads:      newReadPipeline(opts.MaxRetries),
		keyring:    keyring,
		logger:     logger.WithField("component", "chain_ledger"),
	}
	if opts.WSURL != "" {
		l.pubsub = NewPubSub(opts.WSURL, logger)
	}
	return l, nil
}

func retryable(_ any, err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, core.ErrAccountNotFound) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func newReadPipeline(maxRetries int) failsafe.Executor[any] {
	retry := retrypolicy.NewBuilder[any]().
		HandleIf(retryable).
		WithBackoff(100*time.Millisecond, 2*time.Second).
		WithMaxRetries(maxRetries).
		Build()

	breaker := circuitbreaker.NewBuilder[any]().
		HandleIf(retryable).
		WithFailureThresholdRatio(5, 10).
		WithDelay(10 * time.Second).
		Build()

	return failsafe.With[any](retry, breaker)
}

func read[T any](ctx context.Context, l *Ledger, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	res, err := l.reads.WithContext(ctx).Get(func() (any, error) {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	out, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected rpc result %T", res)
	}
	return out, nil
}

// Start connects the PubSub websocket, if configured.
func (l *Ledger) Start(ctx context.Context) {
	if l.pubsub != nil {
		l.pubsub.Start(ctx)
	}
}

// Close stops the PubSub connection.
func (l *Ledger) Close() {
	if l.pubsub != nil {
		l.pubsub.Stop()
	}
}

func (l *Ledger) MaxBatchSize() int {
	return l.batchSize
}

func (l *Ledger) FetchAccount(ctx context.Context, address solana.PublicKey) (*core.AccountInfo, error) {
	return read(ctx, l, func(ctx context.Context) (*core.AccountInfo, error) {
		res, err := l.rpc.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
			Commitment: l.commitment,
			Encoding:   solana.EncodingBase64,
		})
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", address, core.ErrAccountNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("get account %s: %w", address, err)
		}
		if res == nil || res.Value == nil {
			return nil, fmt.Errorf("%s: %w", address, core.ErrAccountNotFound)
		}
		return toAccountInfo(address, res.Value, res.Context.Slot), nil
	})
}

func (l *Ledger) FetchMultipleAccounts(ctx context.Context, addresses []solana.PublicKey) ([]*core.AccountInfo, error) {
	if len(addresses) > l.batchSize {
		return nil, fmt.Errorf("%w: %d addresses, limit %d", core.ErrBatchTooLarge, len(addresses), l.batchSize)
	}
	if len(addresses) == 0 {
		return nil, nil
	}
	return read(ctx, l, func(ctx context.Context) ([]*core.AccountInfo, error) {
		res, err := l.rpc.GetMultipleAccountsWithOpts(ctx, addresses, &rpc.GetMultipleAccountsOpts{
			Commitment: l.commitment,
			Encoding:   solana.EncodingBase64,
		})
		if err != nil {
			return nil, fmt.Errorf("get multiple accounts: %w", err)
		}
		if len(res.Value) != len(addresses) {
			return nil, fmt.Errorf("get multiple accounts: %d results for %d addresses", len(res.Value), len(addresses))
		}
		out := make([]*core.AccountInfo, len(addresses))
		for i, v := range res.Value {
			if v == nil {
				continue
			}
			out[i] = toAccountInfo(addresses[i], v, res.Context.Slot)
		}
		return out, nil
	})
}

func toAccountInfo(address solana.PublicKey, acc *rpc.Account, slot uint64) *core.AccountInfo {
	info := &core.AccountInfo{Address: address, Owner: acc.Owner, Slot: slot}
	if acc.Data != nil {
		info.Data = acc.Data.GetBinary()
	}
	return info
}

func (l *Ledger) GetClock(ctx context.Context) (core.Clock, error) {
	return read(ctx, l, func(ctx context.Context) (core.Clock, error) {
		slot, err := l.rpc.GetSlot(ctx, l.commitment)
		if err != nil {
			return core.Clock{}, fmt.Errorf("get slot: %w", err)
		}
		blockTime, err := l.rpc.GetBlockTime(ctx, slot)
		if err != nil {
			return core.Clock{}, fmt.Errorf("get block time %d: %w", slot, err)
		}
		if blockTime == nil {
			return core.Clock{}, fmt.Errorf("no block time for slot %d", slot)
		}
		return core.Clock{UnixTimestamp: int64(*blockTime), Slot: slot}, nil
	})
}

// SubmitTransaction signs ops with the keyring, sends them once and waits
// until the signature reaches the submit commitment. The blockhash read is
// retried; the send is not. A transaction that lands with an error returns
// its signature and a *core.TransactionError.
func (l *Ledger) SubmitTransaction(ctx context.Context, ops []solana.Instruction, payer solana.PublicKey, opts core.SubmitOptions) (solana.Signature, error) {
	if _, ok := l.keyring[payer]; !ok {
		return solana.Signature{}, fmt.Errorf("%w: payer %s", ErrUnknownSigner, payer)
	}

	blockhash, err := read(ctx, l, func(ctx context.Context) (solana.Hash, error) {
		recent, err := l.rpc.GetLatestBlockhash(ctx, l.commitment)
		if err != nil {
			return solana.Hash{}, fmt.Errorf("get latest blockhash: %w", err)
		}
		return recent.Value.Blockhash, nil
	})
	if err != nil {
		return solana.Signature{}, err
	}

	tx, err := solana.NewTransaction(ops, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}

	var missing solana.PublicKey
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if k, ok := l.keyring[key]; ok {
			return &k
		}
		missing = key
		return nil
	})
	if err != nil {
		if !missing.IsZero() {
			return solana.Signature{}, fmt.Errorf("%w: %s", ErrUnknownSigner, missing)
		}
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	commitment := l.commitment
	if opts.Commitment != "" {
		commitment = rpc.CommitmentType(opts.Commitment)
	}
	txOpts := rpc.TransactionOpts{
		SkipPreflight:       opts.SkipPreflight,
		PreflightCommitment: commitment,
	}
	if opts.MaxRetries > 0 {
		retries := opts.MaxRetries
		txOpts.MaxRetries = &retries
	}

	if err := l.limiter.Wait(ctx); err != nil {
		return solana.Signature{}, err
	}
	sig, err := l.rpc.SendTransactionWithOpts(ctx, tx, txOpts)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	l.logger.Debug("transaction sent", "signature", sig, "instructions", len(ops))

	if err := l.awaitConfirmation(ctx, sig, commitment); err != nil {
		return sig, err
	}
	return sig, nil
}

var commitmentRank = map[string]int{
	string(rpc.CommitmentProcessed): 1,
	string(rpc.CommitmentConfirmed): 2,
	string(rpc.CommitmentFinalized): 3,
}

// awaitConfirmation polls the signature status. Status read errors are
// retried on the next tick until the confirmation timeout.
func (l *Ledger) awaitConfirmation(ctx context.Context, sig solana.Signature, commitment rpc.CommitmentType) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.confirm)
	defer cancel()

	want := commitmentRank[string(commitment)]
	ticker := time.NewTicker(l.pollEvery)
	defer ticker.Stop()

	for {
		if err := l.limiter.Wait(waitCtx); err == nil {
			res, err := l.rpc.GetSignatureStatuses(waitCtx, false, sig)
			switch {
			case err != nil:
				l.logger.Debug("signature status unavailable", "signature", sig, "error", err)
			case len(res.Value) > 0 && res.Value[0] != nil:
				st := res.Value[0]
				if st.Err != nil {
					return &core.TransactionError{Signature: sig, Reason: st.Err}
				}
				if commitmentRank[string(st.ConfirmationStatus)] >= want {
					return nil
				}
			}
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %s after %s", core.ErrConfirmationTimeout, sig, l.confirm)
		case <-ticker.C:
		}
	}
}

func (l *Ledger) SubscribeAccountChange(ctx context.Context, address solana.PublicKey, commitment core.Commitment) (core.ISubscription, error) {
	if l.pubsub == nil {
		return nil, fmt.Errorf("%w: no websocket url configured", core.ErrInvalidArgument)
	}
	if commitment == "" {
		commitment = core.Commitment(l.commitment)
	}
	return l.pubsub.Subscribe(ctx, address, commitment)
}
