// Package monitoring exposes the run's Prometheus metrics and a plain
// HTTP exposition endpoint. Grounded on the Metrics/MetricsCollector split
// in pkg/metrics/metrics.go, re-themed from HTTP/gRPC/DB/Redis counters to
// the backtest/paper engine's own tick, trade, and exposure metrics.
package monitoring

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics is the engine's Prometheus metric set.
type Metrics struct {
	TicksTotal            prometheus.Counter
	TickDuration           prometheus.Histogram
	TradesTotal            prometheus.Counter
	PositionsActive        prometheus.Gauge
	PendingOrdersActive    prometheus.Gauge
	StopLossTriggersTotal  prometheus.Counter
	Nav                    prometheus.Gauge
	ExposureMultiplier     prometheus.Gauge
	CashBalance            prometheus.Gauge
}

// New constructs a Metrics set namespaced under "ashare_backtest".
func New(subsystem string) *Metrics {
	return &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ashare_backtest",
			Subsystem: subsystem,
			Name:      "ticks_total",
			Help:      "Total simulation ticks processed",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ashare_backtest",
			Subsystem: subsystem,
			Name:      "tick_duration_seconds",
			Help:      "Wall-clock duration of a single tick",
			Buckets:   prometheus.DefBuckets,
		}),
		TradesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ashare_backtest",
			Subsystem: subsystem,
			Name:      "trades_total",
			Help:      "Total buy and sell fills executed",
		}),
		PositionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ashare_backtest",
			Subsystem: subsystem,
			Name:      "positions_active",
			Help:      "Number of currently open lots",
		}),
		PendingOrdersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ashare_backtest",
			Subsystem: subsystem,
			Name:      "pending_orders_active",
			Help:      "Number of deferred orders awaiting a tradable day",
		}),
		StopLossTriggersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ashare_backtest",
			Subsystem: subsystem,
			Name:      "stop_loss_triggers_total",
			Help:      "Total stop-loss triggers fired (drawdown, trailing, or consecutive limit-down)",
		}),
		Nav: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ashare_backtest",
			Subsystem: subsystem,
			Name:      "nav",
			Help:      "Current net asset value, normalized to 1.0 at initial capital",
		}),
		ExposureMultiplier: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ashare_backtest",
			Subsystem: subsystem,
			Name:      "exposure_multiplier",
			Help:      "Current equity-curve exposure scaling factor, in [0, 1]",
		}),
		CashBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ashare_backtest",
			Subsystem: subsystem,
			Name:      "cash_balance",
			Help:      "Current uninvested cash balance",
		}),
	}
}

// Register registers every collector with the default registerer.
func (m *Metrics) Register(log *zap.Logger) error {
	collectors := []prometheus.Collector{
		m.TicksTotal, m.TickDuration, m.TradesTotal, m.PositionsActive,
		m.PendingOrdersActive, m.StopLossTriggersTotal, m.Nav,
		m.ExposureMultiplier, m.CashBalance,
	}
	for _, c := range collectors {
		if err := prometheus.DefaultRegisterer.Register(c); err != nil {
			if log != nil {
				log.Error("failed to register metric", zap.Error(err))
			}
			return err
		}
	}
	if log != nil {
		log.Info("metrics registered")
	}
	return nil
}

// ServeHTTP starts the /metrics exposition endpoint in the background.
func ServeHTTP(addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && log != nil {
			log.Error("metrics http server stopped", zap.Error(err))
		}
	}()
	if log != nil {
		log.Info("metrics endpoint listening", zap.String("addr", addr))
	}
}

// Collector records tick-level observations into a Metrics set. Mirrors
// the DefaultMetricsCollector shape: a thin set of Record*/Update*
// methods so the engine's call sites stay free of direct Prometheus
// types.
type Collector struct {
	m *Metrics
}

// NewCollector constructs a Collector over m.
func NewCollector(m *Metrics) *Collector {
	return &Collector{m: m}
}

// RecordTick observes a completed tick's duration.
func (c *Collector) RecordTick(duration float64) {
	c.m.TicksTotal.Inc()
	c.m.TickDuration.Observe(duration)
}

// RecordTrade increments the trade counter.
func (c *Collector) RecordTrade() {
	c.m.TradesTotal.Inc()
}

// RecordStopLossTrigger increments the stop-loss trigger counter.
func (c *Collector) RecordStopLossTrigger() {
	c.m.StopLossTriggersTotal.Inc()
}

// UpdatePositionsActive sets the open-lot gauge.
func (c *Collector) UpdatePositionsActive(n int) {
	c.m.PositionsActive.Set(float64(n))
}

// UpdatePendingOrdersActive sets the pending-order gauge.
func (c *Collector) UpdatePendingOrdersActive(n int) {
	c.m.PendingOrdersActive.Set(float64(n))
}

// UpdateNav sets the NAV gauge.
func (c *Collector) UpdateNav(nav float64) {
	c.m.Nav.Set(nav)
}

// UpdateExposureMultiplier sets the equity-curve exposure gauge.
func (c *Collector) UpdateExposureMultiplier(exposure float64) {
	c.m.ExposureMultiplier.Set(exposure)
}

// UpdateCashBalance sets the cash gauge.
func (c *Collector) UpdateCashBalance(cash float64) {
	c.m.CashBalance.Set(cash)
}

// HealthHandler returns a trivial liveness endpoint for the status server.
func HealthHandler(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	}
}
