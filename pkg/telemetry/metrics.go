package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricRefreshesTotal        = "deriv_client_refreshes_total"
	MetricRefreshFailuresTotal  = "deriv_client_refresh_failures_total"
	MetricPushesTotal           = "deriv_client_push_notifications_total"
	MetricRefreshLatency        = "deriv_client_refresh_latency_ms"
	MetricSubmissionsTotal      = "deriv_client_submitted_transactions_total"
	MetricAvailableInitial      = "deriv_client_available_balance_initial"
	MetricAvailableMaintenance  = "deriv_client_available_balance_maintenance"
	MetricOpenOrders            = "deriv_client_open_orders"
	MetricLiquidationCandidates = "deriv_client_liquidation_candidates"
)

// MetricsHolder holds initialized instruments. Counter helpers are no-ops
// until InitMetrics has run.
type MetricsHolder struct {
	RefreshesTotal       metric.Int64Counter
	RefreshFailuresTotal metric.Int64Counter
	PushesTotal          metric.Int64Counter
	RefreshLatency       metric.Float64Histogram
	SubmissionsTotal     metric.Int64Counter

	AvailableInitial      metric.Float64ObservableGauge
	AvailableMaintenance  metric.Float64ObservableGauge
	OpenOrders            metric.Int64ObservableGauge
	LiquidationCandidates metric.Int64ObservableGauge

	// State for observable gauges
	mu                  sync.RWMutex
	availInitialMap     map[string]float64
	availMaintenanceMap map[string]float64
	openOrdersMap       map[string]int64
	candidatesMap       map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			availInitialMap:     make(map[string]float64),
			availMaintenanceMap: make(map[string]float64),
			openOrdersMap:       make(map[string]int64),
			candidatesMap:       make(map[string]int64),
		}
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.RefreshesTotal, err = meter.Int64Counter(MetricRefreshesTotal, metric.WithDescription("Completed account refreshes"))
	if err != nil {
		return err
	}

	m.RefreshFailuresTotal, err = meter.Int64Counter(MetricRefreshFailuresTotal, metric.WithDescription("Failed account refreshes"))
	if err != nil {
		return err
	}

	m.PushesTotal, err = meter.Int64Counter(MetricPushesTotal, metric.WithDescription("Account change notifications received"))
	if err != nil {
		return err
	}

	m.RefreshLatency, err = meter.Float64Histogram(MetricRefreshLatency, metric.WithDescription("Duration of a full account refresh"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.SubmissionsTotal, err = meter.Int64Counter(MetricSubmissionsTotal, metric.WithDescription("Transactions submitted to the ledger"))
	if err != nil {
		return err
	}

	m.AvailableInitial, err = meter.Float64ObservableGauge(MetricAvailableInitial, metric.WithDescription("Available balance against initial margin"),
		metric.WithFloat64Callback(m.observeFloats(func() map[string]float64 { return m.availInitialMap })))
	if err != nil {
		return err
	}

	m.AvailableMaintenance, err = meter.Float64ObservableGauge(MetricAvailableMaintenance, metric.WithDescription("Available balance against maintenance margin"),
		metric.WithFloat64Callback(m.observeFloats(func() map[string]float64 { return m.availMaintenanceMap })))
	if err != nil {
		return err
	}

	m.OpenOrders, err = meter.Int64ObservableGauge(MetricOpenOrders, metric.WithDescription("Number of live open orders"),
		metric.WithInt64Callback(m.observeInts(func() map[string]int64 { return m.openOrdersMap })))
	if err != nil {
		return err
	}

	m.LiquidationCandidates, err = meter.Int64ObservableGauge(MetricLiquidationCandidates, metric.WithDescription("Liquidatable positions found by the last scan"),
		metric.WithInt64Callback(m.observeInts(func() map[string]int64 { return m.candidatesMap })))
	if err != nil {
		return err
	}

	return nil
}

func (m *MetricsHolder) observeFloats(src func() map[string]float64) metric.Float64Callback {
	return func(ctx context.Context, obs metric.Float64Observer) error {
		m.mu.RLock()
		defer m.mu.RUnlock()
		for acc, val := range src() {
			obs.Observe(val, metric.WithAttributes(attribute.String("account", acc)))
		}
		return nil
	}
}

func (m *MetricsHolder) observeInts(src func() map[string]int64) metric.Int64Callback {
	return func(ctx context.Context, obs metric.Int64Observer) error {
		m.mu.RLock()
		defer m.mu.RUnlock()
		for acc, val := range src() {
			obs.Observe(val, metric.WithAttributes(attribute.String("account", acc)))
		}
		return nil
	}
}

func accountAttr(account string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("account", account))
}

// Counter helpers

func (m *MetricsHolder) IncRefresh(ctx context.Context, account string, latencyMs float64) {
	if m.RefreshesTotal != nil {
		m.RefreshesTotal.Add(ctx, 1, accountAttr(account))
	}
	if m.RefreshLatency != nil {
		m.RefreshLatency.Record(ctx, latencyMs, accountAttr(account))
	}
}

func (m *MetricsHolder) IncRefreshFailure(ctx context.Context, account string) {
	if m.RefreshFailuresTotal != nil {
		m.RefreshFailuresTotal.Add(ctx, 1, accountAttr(account))
	}
}

func (m *MetricsHolder) IncPush(ctx context.Context, account string) {
	if m.PushesTotal != nil {
		m.PushesTotal.Add(ctx, 1, accountAttr(account))
	}
}

func (m *MetricsHolder) IncSubmission(ctx context.Context, account, op string) {
	if m.SubmissionsTotal != nil {
		m.SubmissionsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("account", account),
			attribute.String("op", op),
		))
	}
}

// Helpers to update observable state

func (m *MetricsHolder) SetAvailableBalance(account string, initial, maintenance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.availInitialMap[account] = initial
	m.availMaintenanceMap[account] = maintenance
}

func (m *MetricsHolder) SetOpenOrders(account string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openOrdersMap[account] = count
}

func (m *MetricsHolder) SetLiquidationCandidates(account string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidatesMap[account] = count
}

// RemoveAccount drops every gauge series of a closed account.
func (m *MetricsHolder) RemoveAccount(account string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.availInitialMap, account)
	delete(m.availMaintenanceMap, account)
	delete(m.openOrdersMap, account)
	delete(m.candidatesMap, account)
}

func (m *MetricsHolder) GetOpenOrders() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64)
	for k, v := range m.openOrdersMap {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetAvailableInitial() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64)
	for k, v := range m.availInitialMap {
		res[k] = v
	}
	return res
}
