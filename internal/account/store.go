// Package account keeps a local mirror of one on-chain margin account.
//
// A Store is a single-goroutine actor. Push notifications, poll ticks,
// explicit refresh requests and refresh completions are consumed one at a
// time by the store loop, so the refresh state machine needs no locking.
// Readers see immutable snapshots published through an atomic pointer.
package account

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"deriv_client/internal/assets"
	"deriv_client/internal/codec"
	"deriv_client/internal/core"
	"deriv_client/internal/model"
	"deriv_client/internal/orders"
	"deriv_client/pkg/telemetry"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

const (
	DefaultPollInterval    = time.Second
	DefaultRefreshInterval = 20 * time.Second
	DefaultStuckTimeout    = 10 * time.Second

	sinkTimeout = 5 * time.Second
)

// Phase of the refresh state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRefreshing
)

func (p Phase) String() string {
	if p == PhaseRefreshing {
		return "refreshing"
	}
	return "idle"
}

// EventType identifies a store callback event.
type EventType int

const (
	EventAccountPush EventType = iota
	EventRefreshed
	EventRefreshFailed
)

// Event is delivered to the store callback.
type Event struct {
	Type    EventType
	Address solana.PublicKey
	Slot    uint64
	Err     error
}

// Callback receives store events on the store goroutine. It must not block
// and must not wait on the store (Refresh, Status) from inside the call.
type Callback func(Event)

// OrderSource rebuilds order lists during a refresh.
type OrderSource interface {
	Targets(account solana.PublicKey, acc model.Account, registered map[model.MarketKey]solana.PublicKey) ([]orders.Target, error)
	FetchOrders(ctx context.Context, targets []orders.Target) ([]model.Order, error)
	FetchTriggerOrders(ctx context.Context, account solana.PublicKey, bits model.TriggerBits) (map[assets.Asset][]model.TriggerOrder, error)
}

// Config configures one store.
type Config struct {
	Address    solana.PublicKey
	Commitment core.Commitment
	// Throttle defers the refresh a push would trigger to the next poll tick.
	Throttle        bool
	PollInterval    time.Duration
	RefreshInterval time.Duration
	StuckTimeout    time.Duration
}

// Status is a consistent view of the state machine.
type Status struct {
	Phase       Phase
	Pending     bool
	PendingSlot uint64
	Generation  uint64
	LastRefresh time.Time
	Refreshes   uint64
	Failures    uint64
	Closed      bool
}

type tickMsg struct{}

type refreshReq struct {
	force bool
	done  chan error
}

type refreshDone struct {
	gen    uint64
	result *refreshResult
	err    error
}

type registerMsg struct {
	key  model.MarketKey
	addr solana.PublicKey
	done chan struct{}
}

type statusReq struct {
	reply chan Status
}

type refreshResult struct {
	account  model.Account
	slot     uint64
	data     []byte
	orders   []model.Order
	triggers map[assets.Asset][]model.TriggerOrder
}

type inflight struct {
	gen      uint64
	captured uint64
	id       string
	started  time.Time
	waiters  []chan error
}

// Store mirrors one account.
type Store struct {
	cfg      Config
	ledger   core.ILedgerStore
	source   OrderSource
	sink     core.ISnapshotSink
	logger   core.ILogger
	callback Callback
	metrics  *telemetry.MetricsHolder
	label    string
	now      func() time.Time

	snap  atomic.Pointer[Snapshot]
	inbox chan interface{}

	// loop-owned
	phase       Phase
	pending     bool
	pendingSlot uint64
	gen         uint64
	current     *inflight
	nextWaiters []chan error
	lastRefresh time.Time
	refreshes   uint64
	failures    uint64

	sub       core.ISubscription
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewStore creates a store. sink and callback may be nil.
func NewStore(cfg Config, ledger core.ILedgerStore, source OrderSource, sink core.ISnapshotSink, logger core.ILogger, callback Callback) *Store {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.StuckTimeout <= 0 {
		cfg.StuckTimeout = DefaultStuckTimeout
	}
	if cfg.Commitment == "" {
		cfg.Commitment = core.CommitmentConfirmed
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		cfg:      cfg,
		ledger:   ledger,
		source:   source,
		sink:     sink,
		logger:   logger.WithField("component", "account_store").WithField("account", cfg.Address.String()),
		callback: callback,
		metrics:  telemetry.GetGlobalMetrics(),
		label:    cfg.Address.String(),
		now:      time.Now,
		inbox:    make(chan interface{}, 64),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.snap.Store(&Snapshot{Address: cfg.Address, TriggerOrders: map[assets.Asset][]model.TriggerOrder{}})
	return s
}

// Start subscribes to account changes, starts the store loop and performs the
// initial refresh. The subscription is opened first so no change between the
// first fetch and the subscription is missed.
func (s *Store) Start(ctx context.Context) error {
	sub, err := s.ledger.SubscribeAccountChange(ctx, s.cfg.Address, s.cfg.Commitment)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.cfg.Address, err)
	}
	s.sub = sub

	s.wg.Add(1)
	go s.run(sub.Updates())

	if err := s.Refresh(ctx, false); err != nil {
		_ = s.Close()
		return fmt.Errorf("initial refresh: %w", err)
	}
	s.logger.Info("Account store started",
		"throttle", s.cfg.Throttle,
		"poll_interval", s.cfg.PollInterval.String(),
		"exists", s.Snapshot().Exists())
	return nil
}

// Snapshot returns the latest published snapshot.
func (s *Store) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Address returns the mirrored account address.
func (s *Store) Address() solana.PublicKey {
	return s.cfg.Address
}

// Refresh performs a full refresh and waits for it. A request made while a
// refresh is in flight waits for a follow-up refresh, since the in-flight one
// may predate the caller's change. force abandons the in-flight refresh.
func (s *Store) Refresh(ctx context.Context, force bool) error {
	done := make(chan error, 1)
	if err := s.send(ctx, refreshReq{force: force, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-s.ctx.Done():
		return core.ErrStoreClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterOpenOrders records an open-orders address that is not yet visible on chain.
func (s *Store) RegisterOpenOrders(ctx context.Context, key model.MarketKey, addr solana.PublicKey) error {
	done := make(chan struct{})
	if err := s.send(ctx, registerMsg{key: key, addr: addr, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-s.ctx.Done():
		return core.ErrStoreClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the state machine status, ordered after every earlier request.
func (s *Store) Status() Status {
	reply := make(chan Status, 1)
	if err := s.send(context.Background(), statusReq{reply: reply}); err != nil {
		return Status{Closed: true}
	}
	select {
	case st := <-reply:
		return st
	case <-s.ctx.Done():
		return Status{Closed: true}
	}
}

// Close stops the loop and unsubscribes. It is safe to call more than once.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		if s.sub != nil {
			err = s.sub.Unsubscribe()
		}
		s.metrics.RemoveAccount(s.label)
		s.logger.Info("Account store closed")
	})
	return err
}

func (s *Store) send(ctx context.Context, msg interface{}) error {
	select {
	case <-s.ctx.Done():
		return core.ErrStoreClosed
	default:
	}
	select {
	case s.inbox <- msg:
		return nil
	case <-s.ctx.Done():
		return core.ErrStoreClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) run(updates <-chan core.AccountUpdate) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.handleTick()
		case u, ok := <-updates:
			if !ok {
				s.logger.Warn("Account subscription closed, relying on polling")
				updates = nil
				continue
			}
			s.handlePush(u)
		case msg := <-s.inbox:
			s.handle(msg)
		}
	}
}

func (s *Store) handle(msg interface{}) {
	switch m := msg.(type) {
	case tickMsg:
		s.handleTick()
	case refreshReq:
		s.handleRefreshReq(m)
	case refreshDone:
		s.handleRefreshDone(m)
	case registerMsg:
		s.snap.Store(s.snap.Load().withOpenOrders(m.key, m.addr))
		close(m.done)
	case statusReq:
		m.reply <- Status{
			Phase:       s.phase,
			Pending:     s.pending,
			PendingSlot: s.pendingSlot,
			Generation:  s.gen,
			LastRefresh: s.lastRefresh,
			Refreshes:   s.refreshes,
			Failures:    s.failures,
		}
	default:
		s.logger.Error("Unknown store message", "type", fmt.Sprintf("%T", msg))
	}
}

func (s *Store) markPending(slot uint64) {
	s.pending = true
	if slot > s.pendingSlot {
		s.pendingSlot = slot
	}
}

func (s *Store) handlePush(u core.AccountUpdate) {
	s.metrics.IncPush(s.ctx, s.label)

	cur := s.snap.Load()
	if u.Slot < cur.Slot {
		s.logger.Debug("Ignoring stale push", "slot", u.Slot, "current_slot", cur.Slot)
		return
	}

	acc, err := codec.DecodeAccount(u.Data)
	if err != nil {
		s.logger.Warn("Failed to decode pushed account", "slot", u.Slot, "error", err)
		s.markPending(u.Slot)
		return
	}

	s.snap.Store(cur.withAccount(acc, u.Slot))
	s.emit(Event{Type: EventAccountPush, Slot: u.Slot})

	s.markPending(u.Slot)
	if s.phase == PhaseIdle && !s.cfg.Throttle {
		s.startRefresh("push", nil)
	}
}

func (s *Store) handleTick() {
	var carried []chan error
	if s.phase == PhaseRefreshing {
		if !s.stuck() {
			return
		}
		carried = s.abandon()
	}

	due := s.lastRefresh.IsZero() || s.now().Sub(s.lastRefresh) >= s.cfg.RefreshInterval
	if !s.pending && !due && len(carried) == 0 {
		return
	}
	s.startRefresh("tick", carried)
}

func (s *Store) handleRefreshReq(r refreshReq) {
	if s.phase == PhaseRefreshing {
		if !r.force && !s.stuck() {
			s.nextWaiters = append(s.nextWaiters, r.done)
			return
		}
		waiters := append(s.abandon(), r.done)
		s.startRefresh("forced", waiters)
		return
	}
	s.startRefresh("explicit", []chan error{r.done})
}

func (s *Store) stuck() bool {
	return s.current != nil && s.now().Sub(s.current.started) > s.cfg.StuckTimeout
}

// abandon resets a refresh without waiting for it. Its completion will carry
// a stale generation and be ignored. The waiters are handed back so the next
// refresh answers them.
func (s *Store) abandon() []chan error {
	inf := s.current
	s.current = nil
	s.phase = PhaseIdle
	if inf == nil {
		return nil
	}
	s.logger.Warn("Abandoning in-flight refresh",
		"refresh_id", inf.id,
		"generation", inf.gen,
		"age", s.now().Sub(inf.started).String())
	return inf.waiters
}

func (s *Store) startRefresh(reason string, waiters []chan error) {
	s.gen++
	inf := &inflight{
		gen:      s.gen,
		captured: s.pendingSlot,
		id:       uuid.NewString(),
		started:  s.now(),
		waiters:  waiters,
	}
	s.current = inf
	s.phase = PhaseRefreshing

	registered := s.snap.Load().OpenOrders
	s.logger.Debug("Refresh started",
		"refresh_id", inf.id,
		"reason", reason,
		"generation", inf.gen,
		"pending_slot", inf.captured)

	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.StuckTimeout)
		defer cancel()
		res, err := s.fetch(ctx, registered)
		select {
		case s.inbox <- refreshDone{gen: inf.gen, result: res, err: err}:
		case <-s.ctx.Done():
		}
	}()
}

func (s *Store) fetch(ctx context.Context, registered map[model.MarketKey]solana.PublicKey) (*refreshResult, error) {
	info, err := s.ledger.FetchAccount(ctx, s.cfg.Address)
	if errors.Is(err, core.ErrAccountNotFound) {
		return &refreshResult{triggers: map[assets.Asset][]model.TriggerOrder{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch account: %w", err)
	}

	acc, err := codec.DecodeAccount(info.Data)
	if err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}

	targets, err := s.source.Targets(s.cfg.Address, acc, registered)
	if err != nil {
		return nil, err
	}
	ords, err := s.source.FetchOrders(ctx, targets)
	if err != nil {
		return nil, err
	}

	triggers := map[assets.Asset][]model.TriggerOrder{}
	if cross, ok := acc.(*model.CrossMarginAccount); ok {
		triggers, err = s.source.FetchTriggerOrders(ctx, s.cfg.Address, cross.TriggerOrderBits)
		if err != nil {
			return nil, err
		}
	}

	return &refreshResult{
		account:  acc,
		slot:     info.Slot,
		data:     info.Data,
		orders:   ords,
		triggers: triggers,
	}, nil
}

func (s *Store) handleRefreshDone(m refreshDone) {
	inf := s.current
	if inf == nil || m.gen != inf.gen {
		s.logger.Debug("Ignoring late refresh completion", "generation", m.gen, "current_generation", s.gen)
		return
	}
	s.current = nil
	s.phase = PhaseIdle

	if m.err != nil {
		s.failures++
		s.metrics.IncRefreshFailure(s.ctx, s.label)
		s.logger.Warn("Account refresh failed", "refresh_id", inf.id, "generation", inf.gen, "error", m.err)
		s.emit(Event{Type: EventRefreshFailed, Err: m.err})
		notify(inf.waiters, m.err)
	} else {
		s.apply(inf, m.result)
		notify(inf.waiters, nil)
	}

	if len(s.nextWaiters) > 0 {
		waiters := s.nextWaiters
		s.nextWaiters = nil
		s.startRefresh("coalesced", waiters)
	}
}

func (s *Store) apply(inf *inflight, res *refreshResult) {
	now := s.now()
	cur := s.snap.Load()
	newerPush := s.pendingSlot > inf.captured

	next := *cur
	switch {
	case res.account == nil:
		// not found; a push that landed mid-refresh is newer than this read
		if !(newerPush && cur.Account != nil) {
			next.Account = nil
			next.Positions = nil
		}
	case res.slot >= cur.Slot:
		next.Account = res.account
		next.Slot = res.slot
		next.Positions = derivePositions(res.account)
	}
	next.Orders = res.orders
	next.TriggerOrders = res.triggers
	next.OrdersSlot = res.slot
	next.RefreshedAt = now
	s.snap.Store(&next)

	s.lastRefresh = now
	s.refreshes++
	if !newerPush {
		s.pending = false
	}

	s.metrics.IncRefresh(s.ctx, s.label, float64(now.Sub(inf.started).Milliseconds()))
	s.metrics.SetOpenOrders(s.label, int64(len(res.orders)))
	s.logger.Debug("Refresh completed",
		"refresh_id", inf.id,
		"generation", inf.gen,
		"slot", next.Slot,
		"orders", len(res.orders),
		"pending", s.pending)

	if s.sink != nil && res.data != nil {
		ctx, cancel := context.WithTimeout(s.ctx, sinkTimeout)
		err := s.sink.SaveSnapshot(ctx, core.AccountSnapshot{
			Address:   s.cfg.Address,
			Slot:      res.slot,
			Data:      res.data,
			UpdatedAt: now,
		})
		cancel()
		if err != nil {
			s.logger.Warn("Failed to persist account snapshot", "error", err)
		}
	}

	s.emit(Event{Type: EventRefreshed, Slot: next.Slot})
}

func (s *Store) emit(e Event) {
	if s.callback == nil {
		return
	}
	e.Address = s.cfg.Address
	s.callback(e)
}

func notify(waiters []chan error, err error) {
	for _, w := range waiters {
		w <- err
	}
}
