package alert

import (
	"context"
	"sync"

	"deriv_client/internal/risk"
)

type marginStatus int

const (
	statusHealthy marginStatus = iota
	statusRestricted
	statusLiquidatable
)

func statusOf(s risk.MarginAccountState) marginStatus {
	switch {
	case s.Liquidatable():
		return statusLiquidatable
	case !s.CanOpenRisk():
		return statusRestricted
	default:
		return statusHealthy
	}
}

// MarginWatcher alerts when an account's margin status changes. The first
// observation of a healthy account is silent.
type MarginWatcher struct {
	manager *Manager
	mu      sync.Mutex
	last    map[string]marginStatus
}

func NewMarginWatcher(manager *Manager) *MarginWatcher {
	return &MarginWatcher{manager: manager, last: make(map[string]marginStatus)}
}

// Observe records the state of account and returns true when an alert was raised.
func (w *MarginWatcher) Observe(ctx context.Context, account string, s risk.MarginAccountState) bool {
	next := statusOf(s)

	w.mu.Lock()
	prev, seen := w.last[account]
	w.last[account] = next
	w.mu.Unlock()

	if (seen && prev == next) || (!seen && next == statusHealthy) {
		return false
	}

	fields := map[string]string{
		"account":               account,
		"balance":               s.Balance.String(),
		"available_initial":     s.AvailableBalanceInitial.String(),
		"available_maintenance": s.AvailableBalanceMaintenance.String(),
	}
	switch next {
	case statusLiquidatable:
		w.manager.Alert(ctx, Critical, "Account liquidatable", "Maintenance margin is breached", fields)
	case statusRestricted:
		w.manager.Alert(ctx, Warning, "Initial margin breached", "Account can only reduce risk", fields)
	default:
		w.manager.Alert(ctx, Info, "Margin recovered", "Initial margin is satisfied again", fields)
	}
	return true
}
