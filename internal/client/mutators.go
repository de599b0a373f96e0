package client

import (
	"context"
	"errors"
	"fmt"

	"deriv_client/internal/account"
	"deriv_client/internal/assets"
	"deriv_client/internal/core"
	"deriv_client/internal/market"
	"deriv_client/internal/model"
	"deriv_client/internal/orders"
	"deriv_client/internal/txbuilder"
	"deriv_client/pkg/fixedpoint"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OrderRequest is an order in human units.
type OrderRequest struct {
	Key           model.MarketKey
	Price         decimal.Decimal
	Size          decimal.Decimal
	Side          model.Side
	Type          model.OrderType
	ReduceOnly    bool
	ClientOrderID uint64
	TIFOffset     uint16
}

// TriggerRequest is a conditional order. Condition prices are native.
type TriggerRequest struct {
	Key        model.MarketKey
	OrderPrice decimal.Decimal
	Size       decimal.Decimal
	Side       model.Side
	Type       model.OrderType
	ReduceOnly bool
	Condition  model.TriggerCondition
}

func opError(op string, asset assets.Asset, err error) error {
	return &core.OperationError{Op: op, Asset: asset, Err: err}
}

// Deposit adds collateral, creating the account first when it does not exist.
func (c *Client) Deposit(ctx context.Context, amount decimal.Decimal) (solana.Signature, error) {
	const op = "deposit"
	asset := c.intentAsset()
	native, err := toNativeAmount(amount)
	if err != nil {
		return solana.Signature{}, opError(op, asset, err)
	}
	snap, err := c.snapshot()
	if err != nil {
		return solana.Signature{}, opError(op, asset, err)
	}
	if !snap.Exists() && c.Delegated() {
		return solana.Signature{}, opError(op, asset, fmt.Errorf("%w: account must be created by its authority", core.ErrDelegatedForbidden))
	}
	var balance uint64
	if snap.Exists() {
		balance = snap.Account.NativeBalance()
	}
	if limit := c.mctx.DepositLimit(); limit > 0 && !c.opts.Whitelisted && balance+native > limit {
		return solana.Signature{}, opError(op, asset, fmt.Errorf("%w: deposit exceeds limit %d", core.ErrNotWhitelisted, limit))
	}

	intent, err := c.builder.Deposit(c.ref, asset, native, snap.Exists())
	if err != nil {
		return solana.Signature{}, opError(op, asset, err)
	}
	return c.submitOne(ctx, intent)
}

// Withdraw removes collateral.
func (c *Client) Withdraw(ctx context.Context, amount decimal.Decimal) (solana.Signature, error) {
	const op = "withdraw"
	native, err := toNativeAmount(amount)
	if err != nil {
		return solana.Signature{}, opError(op, assets.UNDEFINED, err)
	}
	if _, err := c.existing(); err != nil {
		return solana.Signature{}, opError(op, assets.UNDEFINED, err)
	}
	intent, err := c.builder.Withdraw(c.ref, native)
	if err != nil {
		return solana.Signature{}, opError(op, assets.UNDEFINED, err)
	}
	return c.submitOne(ctx, intent)
}

// PlaceOrder places a limit order, initialising the open-orders account when
// the market has none yet.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (solana.Signature, error) {
	const op = "place_order"
	m, params, err := c.prepareOrder(req)
	if err != nil {
		return solana.Signature{}, opError(op, req.Key.Asset, err)
	}
	oo, err := c.openOrders(m)
	if err != nil {
		return solana.Signature{}, opError(op, req.Key.Asset, err)
	}
	intent, err := c.builder.PlaceOrder(c.ref, m, oo, params)
	if err != nil {
		return solana.Signature{}, opError(op, req.Key.Asset, err)
	}
	return c.submitOne(ctx, intent)
}

// CancelOrder cancels a resting order as reported by Orders.
func (c *Client) CancelOrder(ctx context.Context, order model.Order) (solana.Signature, error) {
	const op = "cancel_order"
	cancel, err := c.cancelRef(order)
	if err != nil {
		return solana.Signature{}, opError(op, order.Key.Asset, err)
	}
	intent, err := c.builder.CancelOrder(c.ref, cancel)
	if err != nil {
		return solana.Signature{}, opError(op, order.Key.Asset, err)
	}
	return c.submitOne(ctx, intent)
}

// CancelOrderByClientOrderID cancels the order carrying a non-zero client id on key.
func (c *Client) CancelOrderByClientOrderID(ctx context.Context, key model.MarketKey, clientOrderID uint64) (solana.Signature, error) {
	const op = "cancel_order_by_client_order_id"
	if clientOrderID == 0 {
		return solana.Signature{}, opError(op, key.Asset, core.ErrInvalidClientOrderID)
	}
	m, err := c.market(key)
	if err != nil {
		return solana.Signature{}, opError(op, key.Asset, err)
	}
	oo, err := c.openOrders(m)
	if err != nil {
		return solana.Signature{}, opError(op, key.Asset, err)
	}
	if !oo.Initialized {
		return solana.Signature{}, opError(op, key.Asset, fmt.Errorf("%w: no open orders on %s", core.ErrInvalidArgument, key))
	}
	intent, err := c.builder.CancelOrderByClientOrderID(c.ref, m, oo.Address, clientOrderID)
	if err != nil {
		return solana.Signature{}, opError(op, key.Asset, err)
	}
	return c.submitOne(ctx, intent)
}

// CancelAndPlaceOrder replaces order with req in one transaction.
func (c *Client) CancelAndPlaceOrder(ctx context.Context, order model.Order, req OrderRequest) (solana.Signature, error) {
	const op = "cancel_and_place_order"
	if req.Key != order.Key {
		return solana.Signature{}, opError(op, order.Key.Asset, fmt.Errorf("%w: replacement is on %s, order on %s", core.ErrInvalidArgument, req.Key, order.Key))
	}
	cancel, err := c.cancelRef(order)
	if err != nil {
		return solana.Signature{}, opError(op, order.Key.Asset, err)
	}
	_, params, err := c.prepareOrder(req)
	if err != nil {
		return solana.Signature{}, opError(op, order.Key.Asset, err)
	}
	intent, err := c.builder.CancelAndPlace(c.ref, cancel, params)
	if err != nil {
		return solana.Signature{}, opError(op, order.Key.Asset, err)
	}
	return c.submitOne(ctx, intent)
}

// CancelAllOrders cancels every open order of asset, or of all assets when
// asset is UNDEFINED. A failed batch fails the call; earlier batches stay landed.
func (c *Client) CancelAllOrders(ctx context.Context, asset assets.Asset) ([]solana.Signature, error) {
	return c.cancelAll(ctx, "cancel_all_orders", asset, false)
}

// CancelAllOrdersNoError is CancelAllOrders with cancels that tolerate orders
// already gone from the book.
func (c *Client) CancelAllOrdersNoError(ctx context.Context, asset assets.Asset) ([]solana.Signature, error) {
	return c.cancelAll(ctx, "cancel_all_orders_no_error", asset, true)
}

func (c *Client) cancelAll(ctx context.Context, op string, asset assets.Asset, noError bool) ([]solana.Signature, error) {
	snap, err := c.existing()
	if err != nil {
		return nil, opError(op, asset, err)
	}
	list := snap.Orders
	if asset != assets.UNDEFINED {
		list = snap.OrdersFor(asset)
	}
	if len(list) == 0 {
		return nil, nil
	}
	cancels := make([]txbuilder.CancelRef, 0, len(list))
	for _, o := range list {
		ref, err := c.cancelRef(o)
		if err != nil {
			return nil, opError(op, asset, err)
		}
		cancels = append(cancels, ref)
	}
	intent, err := c.builder.CancelAll(c.ref, cancels, noError)
	if err != nil {
		return nil, opError(op, asset, err)
	}
	intent.Op = op
	intent.Asset = asset
	return c.submit(ctx, intent)
}

// Liquidate takes over size of target's position on key.
func (c *Client) Liquidate(ctx context.Context, target solana.PublicKey, key model.MarketKey, size decimal.Decimal) (solana.Signature, error) {
	const op = "liquidate"
	if target.IsZero() || target == c.ref.Address {
		return solana.Signature{}, opError(op, key.Asset, fmt.Errorf("%w: invalid liquidation target", core.ErrInvalidArgument))
	}
	native, err := toNativeSize(size, key.Asset)
	if err != nil {
		return solana.Signature{}, opError(op, key.Asset, err)
	}
	if _, err := c.existing(); err != nil {
		return solana.Signature{}, opError(op, key.Asset, err)
	}
	m, err := c.market(key)
	if err != nil {
		return solana.Signature{}, opError(op, key.Asset, err)
	}
	intent, err := c.builder.Liquidate(c.ref, target, m, native)
	if err != nil {
		return solana.Signature{}, opError(op, key.Asset, err)
	}
	return c.submitOne(ctx, intent)
}

// PlaceTriggerOrder places a conditional order at the first free trigger bit
// and returns that bit.
func (c *Client) PlaceTriggerOrder(ctx context.Context, req TriggerRequest) (uint8, solana.Signature, error) {
	const op = "place_trigger_order"
	asset := req.Key.Asset

	c.triggerMu.Lock()
	defer c.triggerMu.Unlock()

	cross, err := c.crossAccount()
	if err != nil {
		return 0, solana.Signature{}, opError(op, asset, err)
	}
	if err := model.ValidateTrigger(req.Condition); err != nil {
		return 0, solana.Signature{}, opError(op, asset, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err))
	}
	m, err := c.market(req.Key)
	if err != nil {
		return 0, solana.Signature{}, opError(op, asset, err)
	}
	price, err := toNativePrice(req.OrderPrice, asset)
	if err != nil {
		return 0, solana.Signature{}, opError(op, asset, err)
	}
	size, err := toNativeSize(req.Size, asset)
	if err != nil {
		return 0, solana.Signature{}, opError(op, asset, err)
	}
	occupied := c.occupiedBits(cross.TriggerOrderBits)
	bit, err := orders.FindAvailableTriggerOrderBit(occupied, 0)
	if err != nil {
		return 0, solana.Signature{}, opError(op, asset, err)
	}
	oo, err := c.openOrders(m)
	if err != nil {
		return 0, solana.Signature{}, opError(op, asset, err)
	}

	intent, err := c.builder.PlaceTriggerOrder(c.ref, m, oo, txbuilder.TriggerParams{
		Bit:        bit,
		OrderPrice: price,
		Size:       size,
		Side:       req.Side,
		Type:       req.Type,
		ReduceOnly: req.ReduceOnly,
		Condition:  req.Condition,
	})
	if err != nil {
		return 0, solana.Signature{}, opError(op, asset, err)
	}
	sig, err := c.submitOne(ctx, intent)
	if err != nil {
		return 0, sig, err
	}
	c.claimed = c.claimed.With(int(bit))
	return bit, sig, nil
}

// CancelTriggerOrder cancels the trigger order held at bit.
func (c *Client) CancelTriggerOrder(ctx context.Context, bit uint8) (solana.Signature, error) {
	const op = "cancel_trigger_order"

	c.triggerMu.Lock()
	defer c.triggerMu.Unlock()

	cross, err := c.crossAccount()
	if err != nil {
		return solana.Signature{}, opError(op, assets.UNDEFINED, err)
	}
	if !c.occupiedBits(cross.TriggerOrderBits).IsSet(int(bit)) {
		return solana.Signature{}, opError(op, assets.UNDEFINED, fmt.Errorf("%w: no trigger order at bit %d", core.ErrInvalidArgument, bit))
	}
	intent, err := c.builder.CancelTriggerOrder(c.ref, bit)
	if err != nil {
		return solana.Signature{}, opError(op, assets.UNDEFINED, err)
	}
	sig, err := c.submitOne(ctx, intent)
	if err != nil {
		return sig, err
	}
	c.claimed = c.claimed.Without(int(bit))
	return sig, nil
}

// CloseAccount closes an empty account and returns its rent to the authority.
func (c *Client) CloseAccount(ctx context.Context) (solana.Signature, error) {
	const op = "close_account"
	if c.Delegated() {
		return solana.Signature{}, opError(op, assets.UNDEFINED, core.ErrDelegatedForbidden)
	}
	snap, err := c.existing()
	if err != nil {
		return solana.Signature{}, opError(op, assets.UNDEFINED, err)
	}
	if !model.IsEmpty(snap.Account) {
		return solana.Signature{}, opError(op, assets.UNDEFINED, core.ErrAccountNotEmpty)
	}
	intent, err := c.builder.CloseAccount(c.ref)
	if err != nil {
		return solana.Signature{}, opError(op, assets.UNDEFINED, err)
	}
	return c.submitOne(ctx, intent)
}

// EditDelegate sets or, with a zero key, clears the account delegate.
func (c *Client) EditDelegate(ctx context.Context, delegate solana.PublicKey) (solana.Signature, error) {
	const op = "edit_delegate"
	if c.Delegated() {
		return solana.Signature{}, opError(op, assets.UNDEFINED, core.ErrDelegatedForbidden)
	}
	if _, err := c.existing(); err != nil {
		return solana.Signature{}, opError(op, assets.UNDEFINED, err)
	}
	intent, err := c.builder.EditDelegate(c.ref, delegate)
	if err != nil {
		return solana.Signature{}, opError(op, assets.UNDEFINED, err)
	}
	return c.submitOne(ctx, intent)
}

// SetReferrer links the authority to referrer.
func (c *Client) SetReferrer(ctx context.Context, referrer solana.PublicKey) (solana.Signature, error) {
	const op = "set_referrer"
	if c.Delegated() {
		return solana.Signature{}, opError(op, assets.UNDEFINED, core.ErrDelegatedForbidden)
	}
	if referrer.IsZero() || referrer == c.ref.Authority {
		return solana.Signature{}, opError(op, assets.UNDEFINED, fmt.Errorf("%w: invalid referrer", core.ErrInvalidArgument))
	}
	intent, err := c.builder.SetReferrer(c.ref, referrer)
	if err != nil {
		return solana.Signature{}, opError(op, assets.UNDEFINED, err)
	}
	return c.submitOne(ctx, intent)
}

func (c *Client) submitOne(ctx context.Context, intent txbuilder.Intent) (solana.Signature, error) {
	sigs, err := c.submit(ctx, intent)
	if err != nil {
		return solana.Signature{}, err
	}
	if len(sigs) == 0 {
		return solana.Signature{}, opError(intent.Op, intent.Asset, fmt.Errorf("%w: nothing to submit", core.ErrInvalidArgument))
	}
	return sigs[len(sigs)-1], nil
}

// submit packs the intent and sends its batches in order. Submission stops at
// the first failed batch; nothing is resubmitted.
func (c *Client) submit(ctx context.Context, intent txbuilder.Intent) ([]solana.Signature, error) {
	if c.closed.Load() {
		return nil, opError(intent.Op, intent.Asset, core.ErrStoreClosed)
	}
	id := uuid.NewString()
	ctx, span := c.tracer.Start(ctx, intent.Op,
		trace.WithAttributes(
			attribute.String("submission.id", id),
			attribute.String("account", c.label),
			attribute.String("asset", intent.Asset.String()),
		),
	)
	defer span.End()

	batches, err := txbuilder.Pack(intent.Groups, c.opts.InstructionsPerTx)
	if err != nil {
		span.RecordError(err)
		return nil, opError(intent.Op, intent.Asset, err)
	}

	sigs := make([]solana.Signature, 0, len(batches))
	for i, batch := range batches {
		sig, err := c.ledger.SubmitTransaction(ctx, batch, c.ref.Signer, c.opts.Submit)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.logger.Error("Submission failed",
				"id", id, "op", intent.Op, "batch", i+1, "batches", len(batches), "signature", sig.String(), "error", err)
			return sigs, opError(intent.Op, intent.Asset, fmt.Errorf("batch %d/%d: %w", i+1, len(batches), err))
		}
		c.metrics.IncSubmission(ctx, c.label, intent.Op)
		sigs = append(sigs, sig)
	}
	c.logger.Info("Submitted", "id", id, "op", intent.Op, "asset", intent.Asset.String(), "transactions", len(sigs))

	for key, addr := range intent.NewOpenOrders {
		if err := c.store.RegisterOpenOrders(ctx, key, addr); err != nil {
			c.logger.Warn("Open orders registration failed", "market", key.String(), "error", err)
		}
	}
	if c.opts.RefreshAfterSubmit {
		if err := c.store.Refresh(ctx, false); err != nil && !errors.Is(err, core.ErrStoreClosed) {
			c.logger.Warn("Refresh after submission failed", "id", id, "error", err)
		}
	}
	return sigs, nil
}

func (c *Client) intentAsset() assets.Asset {
	if c.ref.Kind == model.KindMarginAccount {
		return c.opts.Asset
	}
	return assets.UNDEFINED
}

func (c *Client) snapshot() (*account.Snapshot, error) {
	if c.closed.Load() {
		return nil, core.ErrStoreClosed
	}
	return c.store.Snapshot(), nil
}

func (c *Client) existing() (*account.Snapshot, error) {
	snap, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	if !snap.Exists() {
		return nil, core.ErrAccountNotFound
	}
	return snap, nil
}

func (c *Client) crossAccount() (*model.CrossMarginAccount, error) {
	snap, err := c.existing()
	if err != nil {
		return nil, err
	}
	cross, ok := snap.Account.(*model.CrossMarginAccount)
	if !ok {
		return nil, fmt.Errorf("%w: trigger orders need a cross margin account", core.ErrInvalidArgument)
	}
	return cross, nil
}

// occupiedBits merges on-chain bits with bits this client placed that are
// not yet visible. Claims already visible on chain are dropped.
func (c *Client) occupiedBits(onChain model.TriggerBits) model.TriggerBits {
	for _, bit := range c.claimed.Occupied() {
		if onChain.IsSet(int(bit)) {
			c.claimed = c.claimed.Without(int(bit))
		}
	}
	return model.TriggerBits{Lo: onChain.Lo | c.claimed.Lo, Hi: onChain.Hi | c.claimed.Hi}
}

// market resolves a key this account can trade.
func (c *Client) market(key model.MarketKey) (market.Market, error) {
	if c.ref.Kind == model.KindCrossMarginAccount && key.Index != model.PerpIndex {
		return market.Market{}, fmt.Errorf("%w: cross margin accounts trade perps only", core.ErrInvalidArgument)
	}
	if c.ref.Kind == model.KindMarginAccount && key.Asset != c.opts.Asset {
		return market.Market{}, fmt.Errorf("%w: account trades %s, not %s", core.ErrInvalidArgument, c.opts.Asset, key.Asset)
	}
	m, ok := c.mctx.Market(key)
	if !ok {
		return market.Market{}, fmt.Errorf("%w: %s", core.ErrMissingMarket, key)
	}
	return m, nil
}

// openOrders resolves the account's open-orders account on m. A registered
// address or a non-zero ledger nonce means it exists.
func (c *Client) openOrders(m market.Market) (txbuilder.OpenOrdersState, error) {
	snap, err := c.existing()
	if err != nil {
		return txbuilder.OpenOrdersState{}, err
	}
	if addr, ok := snap.OpenOrders[m.Key]; ok {
		return txbuilder.OpenOrdersState{Address: addr, Initialized: true}, nil
	}
	addr, err := c.mctx.Deriver().OpenOrders(m.Address, c.ref.Address)
	if err != nil {
		return txbuilder.OpenOrdersState{}, fmt.Errorf("derive open orders for %s: %w", m.Key, err)
	}
	for _, e := range snap.Account.Ledgers() {
		if e.Key == m.Key {
			return txbuilder.OpenOrdersState{Address: addr, Initialized: e.OpenOrdersNonce != 0}, nil
		}
	}
	return txbuilder.OpenOrdersState{Address: addr}, nil
}

func (c *Client) prepareOrder(req OrderRequest) (market.Market, txbuilder.OrderParams, error) {
	m, err := c.market(req.Key)
	if err != nil {
		return market.Market{}, txbuilder.OrderParams{}, err
	}
	if market.IsExpired(c.mctx.Snapshot(), req.Key) {
		return market.Market{}, txbuilder.OrderParams{}, fmt.Errorf("%w: market %s has expired", core.ErrInvalidArgument, req.Key)
	}
	price, err := toNativePrice(req.Price, req.Key.Asset)
	if err != nil {
		return market.Market{}, txbuilder.OrderParams{}, err
	}
	size, err := toNativeSize(req.Size, req.Key.Asset)
	if err != nil {
		return market.Market{}, txbuilder.OrderParams{}, err
	}
	return m, txbuilder.OrderParams{
		Price:         price,
		Size:          size,
		Side:          req.Side,
		Type:          req.Type,
		ReduceOnly:    req.ReduceOnly,
		ClientOrderID: req.ClientOrderID,
		TIFOffset:     req.TIFOffset,
	}, nil
}

func (c *Client) cancelRef(o model.Order) (txbuilder.CancelRef, error) {
	m, err := c.market(o.Key)
	if err != nil {
		return txbuilder.CancelRef{}, err
	}
	if o.OpenOrders.IsZero() {
		return txbuilder.CancelRef{}, fmt.Errorf("%w: order %s has no open orders account", core.ErrInvalidArgument, o.OrderID)
	}
	return txbuilder.CancelRef{Market: m, OpenOrders: o.OpenOrders, Side: o.Side, OrderID: o.OrderID}, nil
}

func toNativeAmount(amount decimal.Decimal) (uint64, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("%w: amount must be positive", core.ErrInvalidArgument)
	}
	native, err := fixedpoint.ToNativeUnsigned(amount, fixedpoint.PlatformPrecision)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
	}
	if native == 0 {
		return 0, fmt.Errorf("%w: amount %s below platform precision", core.ErrInvalidArgument, amount)
	}
	return native, nil
}

func toNativePrice(price decimal.Decimal, asset assets.Asset) (uint64, error) {
	if !price.IsPositive() {
		return 0, fmt.Errorf("%w: price must be positive", core.ErrInvalidArgument)
	}
	native, err := fixedpoint.ToNativePrice(price, asset.Multiplier())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
	}
	if native == 0 {
		return 0, fmt.Errorf("%w: price %s below tick", core.ErrInvalidArgument, price)
	}
	return native, nil
}

func toNativeSize(size decimal.Decimal, asset assets.Asset) (uint64, error) {
	if !size.IsPositive() {
		return 0, fmt.Errorf("%w: size must be positive", core.ErrInvalidArgument)
	}
	native, err := fixedpoint.ToNativeSize(size, asset.Multiplier())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
	}
	if native <= 0 {
		return 0, fmt.Errorf("%w: size %s below lot size", core.ErrInvalidArgument, size)
	}
	return uint64(native), nil
}
