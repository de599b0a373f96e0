package chain

import (
	"context"
	"sync"

	"deriv_client/internal/core"
	"deriv_client/pkg/websocket"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/goccy/go-json"
)

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcEnvelope struct {
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type accountNotification struct {
	Subscription uint64 `json:"subscription"`
	Result       struct {
		Context struct {
			Slot uint64 `json:"slot"`
		} `json:"context"`
		Value *rpc.Account `json:"value"`
	} `json:"result"`
}

// PubSub multiplexes account subscriptions over one websocket. Subscriptions
// are replayed after every reconnect.
type PubSub struct {
	client *websocket.Client
	logger core.ILogger

	mu       sync.Mutex
	nextID   uint64
	subs     map[uint64]*subscription // by local id
	pending  map[uint64]*subscription // by request id
	byServer map[uint64]*subscription // by server subscription id
}

// NewPubSub creates a PubSub for url. Nothing connects until Start.
func NewPubSub(url string, logger core.ILogger) *PubSub {
	p := &PubSub{
		logger:   logger.WithField("component", "chain_pubsub"),
		subs:     make(map[uint64]*subscription),
		pending:  make(map[uint64]*subscription),
		byServer: make(map[uint64]*subscription),
	}
	p.client = websocket.NewClient(url, p.handle, logger)
	p.client.SetOnConnected(p.resubscribe)
	return p
}

func (p *PubSub) Start(ctx context.Context) {
	p.client.Start(ctx)
}

func (p *PubSub) Stop() {
	p.client.Stop()
}

// Subscribe registers a subscription. If the socket is down the request is
// sent on the next connect.
func (p *PubSub) Subscribe(_ context.Context, address solana.PublicKey, commitment core.Commitment) (core.ISubscription, error) {
	p.mu.Lock()
	p.nextID++
	sub := &subscription{
		ps:         p,
		localID:    p.nextID,
		address:    address,
		commitment: commitment,
		updates:    make(chan core.AccountUpdate, 1),
	}
	p.subs[sub.localID] = sub
	req := p.subscribeRequestLocked(sub)
	p.mu.Unlock()

	if err := p.client.Send(req); err != nil {
		p.logger.Debug("subscribe deferred until connected", "address", address, "error", err)
	}
	return sub, nil
}

func (p *PubSub) subscribeRequestLocked(sub *subscription) rpcRequest {
	p.nextID++
	p.pending[p.nextID] = sub
	return rpcRequest{
		JSONRPC: "2.0",
		ID:      p.nextID,
		Method:  "accountSubscribe",
		Params: []interface{}{
			sub.address.String(),
			map[string]string{"encoding": "base64", "commitment": string(sub.commitment)},
		},
	}
}

func (p *PubSub) resubscribe() {
	p.mu.Lock()
	p.pending = make(map[uint64]*subscription)
	p.byServer = make(map[uint64]*subscription)
	reqs := make([]rpcRequest, 0, len(p.subs))
	for _, sub := range p.subs {
		sub.serverID = 0
		reqs = append(reqs, p.subscribeRequestLocked(sub))
	}
	p.mu.Unlock()

	for _, req := range reqs {
		if err := p.client.Send(req); err != nil {
			p.logger.Warn("resubscribe failed", "error", err)
			return
		}
	}
	if len(reqs) > 0 {
		p.logger.Info("resubscribed accounts", "count", len(reqs))
	}
}

func (p *PubSub) handle(message []byte) {
	var env rpcEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		p.logger.Warn("undecodable pubsub message", "error", err)
		return
	}

	if env.ID != nil {
		p.handleResponse(*env.ID, env)
		return
	}
	if env.Method != "accountNotification" {
		return
	}

	var n accountNotification
	if err := json.Unmarshal(env.Params, &n); err != nil {
		p.logger.Warn("undecodable account notification", "error", err)
		return
	}
	p.mu.Lock()
	sub := p.byServer[n.Subscription]
	p.mu.Unlock()
	if sub == nil {
		return
	}

	update := core.AccountUpdate{Address: sub.address, Slot: n.Result.Context.Slot}
	if n.Result.Value != nil && n.Result.Value.Data != nil {
		update.Data = n.Result.Value.Data.GetBinary()
	}
	sub.deliver(update)
}

func (p *PubSub) handleResponse(id uint64, env rpcEnvelope) {
	p.mu.Lock()
	sub, ok := p.pending[id]
	delete(p.pending, id)
	p.mu.Unlock()
	if !ok {
		return
	}
	if env.Error != nil {
		p.logger.Error("account subscribe rejected", "address", sub.address, "code", env.Error.Code, "error", env.Error.Message)
		return
	}

	var serverID uint64
	if err := json.Unmarshal(env.Result, &serverID); err != nil {
		p.logger.Error("bad subscribe result", "address", sub.address, "error", err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, live := p.subs[sub.localID]; !live {
		// Unsubscribed while the request was in flight.
		go p.sendUnsubscribe(serverID)
		return
	}
	sub.serverID = serverID
	p.byServer[serverID] = sub
}

func (p *PubSub) remove(sub *subscription) {
	p.mu.Lock()
	delete(p.subs, sub.localID)
	serverID := sub.serverID
	if serverID != 0 {
		delete(p.byServer, serverID)
	}
	p.mu.Unlock()

	if serverID != 0 {
		p.sendUnsubscribe(serverID)
	}
}

func (p *PubSub) sendUnsubscribe(serverID uint64) {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.mu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: "accountUnsubscribe", Params: []interface{}{serverID}}
	if err := p.client.Send(req); err != nil {
		p.logger.Debug("unsubscribe not sent", "subscription", serverID, "error", err)
	}
}

type subscription struct {
	ps         *PubSub
	localID    uint64
	address    solana.PublicKey
	commitment core.Commitment
	serverID   uint64

	mu      sync.Mutex
	closed  bool
	updates chan core.AccountUpdate
}

func (s *subscription) Updates() <-chan core.AccountUpdate {
	return s.updates
}

// deliver keeps only the newest pending update.
func (s *subscription) deliver(u core.AccountUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.updates <- u:
		return
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	s.updates <- u
}

func (s *subscription) Unsubscribe() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.updates)
	s.mu.Unlock()

	s.ps.remove(s)
	return nil
}
