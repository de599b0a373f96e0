package orders

import (
	"context"
	"fmt"
	"sort"

	"deriv_client/internal/assets"
	"deriv_client/internal/codec"
	"deriv_client/internal/core"
	"deriv_client/internal/model"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"
)

// FetchTriggerOrders reads every occupied trigger slot of account and buckets
// the decoded orders by asset, each bucket sorted by bit.
func (r *Reconciler) FetchTriggerOrders(ctx context.Context, account solana.PublicKey, bits model.TriggerBits) (map[assets.Asset][]model.TriggerOrder, error) {
	occupied := bits.Occupied()
	if len(occupied) == 0 {
		return map[assets.Asset][]model.TriggerOrder{}, nil
	}

	deriver := r.mctx.Deriver()
	addrs := make([]solana.PublicKey, len(occupied))
	for i, bit := range occupied {
		addr, err := deriver.TriggerOrder(account, bit)
		if err != nil {
			return nil, fmt.Errorf("derive trigger order %d: %w", bit, err)
		}
		addrs[i] = addr
	}

	infos := make([]*core.AccountInfo, len(addrs))
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(addrs); start += r.triggerBatch {
		start := start
		end := start + r.triggerBatch
		if end > len(addrs) {
			end = len(addrs)
		}
		g.Go(func() error {
			chunk, err := r.ledger.FetchMultipleAccounts(gctx, addrs[start:end])
			if err != nil {
				return fmt.Errorf("fetch trigger orders [%d:%d]: %w", start, end, err)
			}
			copy(infos[start:end], chunk)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []model.TriggerOrder
	for i, info := range infos {
		if info == nil {
			// bit set before the record is visible at our commitment
			r.logger.Debug("Trigger order account missing", "bit", occupied[i], "address", addrs[i].String())
			continue
		}
		t, err := codec.DecodeTriggerOrder(addrs[i], info.Data)
		if err != nil {
			return nil, err
		}
		t.Bit = occupied[i]
		all = append(all, t)
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Asset != all[j].Asset {
			return all[i].Asset < all[j].Asset
		}
		return all[i].Bit < all[j].Bit
	})

	out := make(map[assets.Asset][]model.TriggerOrder)
	for _, t := range all {
		out[t.Asset] = append(out[t.Asset], t)
	}
	return out, nil
}

// FindAvailableTriggerOrderBit returns the first free bit at or after start.
func FindAvailableTriggerOrderBit(bits model.TriggerBits, start int) (uint8, error) {
	if start < 0 {
		start = 0
	}
	for i := start; i < model.TriggerSlots; i++ {
		if !bits.IsSet(i) {
			return uint8(i), nil
		}
	}
	return 0, core.ErrNoTriggerOrderSpace
}
