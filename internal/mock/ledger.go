package mock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"deriv_client/internal/core"

	"github.com/gagliardetto/solana-go"
)

// MockLedger implements core.ILedgerStore in memory for testing
type MockLedger struct {
	mu        sync.RWMutex
	accounts  map[solana.PublicKey]*core.AccountInfo
	subs      map[solana.PublicKey][]*MockSubscription
	clock     core.Clock
	submitted [][]solana.Instruction
	sigSeq    uint64
	maxBatch  int

	fetchErr  error
	submitErr error
	fetchHook func(ctx context.Context, addr solana.PublicKey) error
	onSubmit  func(ops []solana.Instruction)

	fetches       map[solana.PublicKey]int
	multiFetches  atomic.Int64
	unsubscribes  atomic.Int64
	subscriptions atomic.Int64
}

func NewMockLedger() *MockLedger {
	return &MockLedger{
		accounts: make(map[solana.PublicKey]*core.AccountInfo),
		subs:     make(map[solana.PublicKey][]*MockSubscription),
		fetches:  make(map[solana.PublicKey]int),
		maxBatch: 100,
		clock:    core.Clock{UnixTimestamp: 1_700_000_000, Slot: 1},
	}
}

// SetAccount stores raw bytes at addr as of slot.
func (m *MockLedger) SetAccount(addr solana.PublicKey, data []byte, slot uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[addr] = &core.AccountInfo{Address: addr, Data: append([]byte(nil), data...), Slot: slot}
}

func (m *MockLedger) DeleteAccount(addr solana.PublicKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, addr)
}

// Push stores the bytes and delivers a notification to every subscriber of addr.
func (m *MockLedger) Push(addr solana.PublicKey, data []byte, slot uint64) {
	m.SetAccount(addr, data, slot)

	m.mu.RLock()
	subs := append([]*MockSubscription(nil), m.subs[addr]...)
	m.mu.RUnlock()

	for _, s := range subs {
		s.deliver(core.AccountUpdate{Address: addr, Data: append([]byte(nil), data...), Slot: slot})
	}
}

func (m *MockLedger) SetClock(c core.Clock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = c
}

func (m *MockLedger) SetFetchError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErr = err
}

func (m *MockLedger) SetSubmitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitErr = err
}

// SetFetchHook installs a function run at the start of every fetch. Tests use
// it to block or fail individual fetches.
func (m *MockLedger) SetFetchHook(fn func(ctx context.Context, addr solana.PublicKey) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchHook = fn
}

// SetOnSubmit installs a function run for every successful submission.
func (m *MockLedger) SetOnSubmit(fn func(ops []solana.Instruction)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSubmit = fn
}

func (m *MockLedger) SetMaxBatchSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxBatch = n
}

func (m *MockLedger) FetchAccount(ctx context.Context, address solana.PublicKey) (*core.AccountInfo, error) {
	if err := m.beforeFetch(ctx, address); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches[address]++
	info, ok := m.accounts[address]
	if !ok {
		return nil, core.ErrAccountNotFound
	}
	cp := *info
	cp.Data = append([]byte(nil), info.Data...)
	return &cp, nil
}

func (m *MockLedger) FetchMultipleAccounts(ctx context.Context, addresses []solana.PublicKey) ([]*core.AccountInfo, error) {
	m.mu.RLock()
	maxBatch := m.maxBatch
	m.mu.RUnlock()
	if len(addresses) > maxBatch {
		return nil, fmt.Errorf("%w: %d > %d", core.ErrBatchTooLarge, len(addresses), maxBatch)
	}
	m.multiFetches.Add(1)

	out := make([]*core.AccountInfo, len(addresses))
	for i, addr := range addresses {
		info, err := m.FetchAccount(ctx, addr)
		if err == core.ErrAccountNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[i] = info
	}
	return out, nil
}

func (m *MockLedger) SubscribeAccountChange(ctx context.Context, address solana.PublicKey, commitment core.Commitment) (core.ISubscription, error) {
	sub := &MockSubscription{
		ledger: m,
		addr:   address,
		ch:     make(chan core.AccountUpdate, 256),
	}
	m.mu.Lock()
	m.subs[address] = append(m.subs[address], sub)
	m.mu.Unlock()
	m.subscriptions.Add(1)
	return sub, nil
}

func (m *MockLedger) SubmitTransaction(ctx context.Context, ops []solana.Instruction, payer solana.PublicKey, opts core.SubmitOptions) (solana.Signature, error) {
	m.mu.Lock()
	if m.submitErr != nil {
		err := m.submitErr
		m.mu.Unlock()
		return solana.Signature{}, err
	}
	m.submitted = append(m.submitted, append([]solana.Instruction(nil), ops...))
	m.sigSeq++
	var sig solana.Signature
	sig[0] = byte(m.sigSeq)
	sig[1] = byte(m.sigSeq >> 8)
	hook := m.onSubmit
	m.mu.Unlock()

	if hook != nil {
		hook(ops)
	}
	return sig, nil
}

func (m *MockLedger) GetClock(ctx context.Context) (core.Clock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clock, nil
}

func (m *MockLedger) MaxBatchSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxBatch
}

// Submitted returns every submitted batch in order.
func (m *MockLedger) Submitted() [][]solana.Instruction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([][]solana.Instruction(nil), m.submitted...)
}

// FetchCount returns how many times addr was fetched.
func (m *MockLedger) FetchCount(addr solana.PublicKey) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fetches[addr]
}

func (m *MockLedger) MultiFetchCount() int64   { return m.multiFetches.Load() }
func (m *MockLedger) UnsubscribeCount() int64  { return m.unsubscribes.Load() }
func (m *MockLedger) SubscriptionCount() int64 { return m.subscriptions.Load() }

func (m *MockLedger) beforeFetch(ctx context.Context, addr solana.PublicKey) error {
	m.mu.RLock()
	hook := m.fetchHook
	err := m.fetchErr
	m.mu.RUnlock()

	if hook != nil {
		if herr := hook(ctx, addr); herr != nil {
			return herr
		}
	}
	return err
}

func (m *MockLedger) removeSub(s *MockSubscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.subs[s.addr]
	for i, other := range list {
		if other == s {
			m.subs[s.addr] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// MockSubscription is a buffered in-memory account stream.
type MockSubscription struct {
	ledger *MockLedger
	addr   solana.PublicKey
	ch     chan core.AccountUpdate
	mu     sync.Mutex
	closed bool
}

func (s *MockSubscription) Updates() <-chan core.AccountUpdate {
	return s.ch
}

func (s *MockSubscription) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.ledger.removeSub(s)
	s.ledger.unsubscribes.Add(1)
	close(s.ch)
	return nil
}

func (s *MockSubscription) deliver(u core.AccountUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.ch <- u
}
