// Package obs exposes engine counters and gauges over Prometheus.
package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects trading activity for one engine instance.
type Metrics struct {
	registry *prometheus.Registry

	OrdersTotal     *prometheus.CounterVec
	PositionsClosed *prometheus.CounterVec
	FundingSettled  prometheus.Counter
	Liquidations    prometheus.Counter

	Balance       prometheus.Gauge
	Equity        prometheus.Gauge
	LockedMargin  prometheus.Gauge
	OpenPositions prometheus.Gauge
	PendingOrders prometheus.Gauge
}

// NewMetrics allocates and registers the metric set under the given
// profile label.
func NewMetrics(profile string) *Metrics {
	labels := prometheus.Labels{"profile": profile}
	registry := prometheus.NewRegistry()
	factory := prometheus.WrapRegistererWith(labels, registry)

	m := &Metrics{
		registry: registry,
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paper",
			Name:      "orders_total",
			Help:      "Orders by terminal status.",
		}, []string{"status"}),
		PositionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paper",
			Name:      "positions_closed_total",
			Help:      "Positions closed by reason.",
		}, []string{"reason"}),
		FundingSettled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paper",
			Name:      "funding_settlements_total",
			Help:      "Funding payments settled.",
		}),
		Liquidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paper",
			Name:      "liquidations_total",
			Help:      "Positions force-closed by the liquidation monitor.",
		}),
		Balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "paper",
			Name:      "wallet_balance",
			Help:      "Wallet balance in quote currency.",
		}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "paper",
			Name:      "wallet_equity",
			Help:      "Balance plus unrealized pnl.",
		}),
		LockedMargin: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "paper",
			Name:      "wallet_locked_margin",
			Help:      "Margin locked by open positions and resting orders.",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "paper",
			Name:      "open_positions",
			Help:      "Number of open positions.",
		}),
		PendingOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "paper",
			Name:      "pending_orders",
			Help:      "Number of resting limit orders.",
		}),
	}

	factory.MustRegister(
		m.OrdersTotal,
		m.PositionsClosed,
		m.FundingSettled,
		m.Liquidations,
		m.Balance,
		m.Equity,
		m.LockedMargin,
		m.OpenPositions,
		m.PendingOrders,
	)
	registry.MustRegister(collectors.NewGoCollector())

	return m
}

// Handler serves the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
