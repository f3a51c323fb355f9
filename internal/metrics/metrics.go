// Package metrics exposes the agent's Prometheus collectors:
//
//	agent_cycles_total{result}              cycles by ok|error|close_all
//	agent_cycle_duration_seconds            cycle wall time
//	agent_orders_total{status,reason}       execution outcomes
//	agent_order_attempts                    attempts per submitted intent
//	agent_intents_dropped_total{gate}       intents removed by a gate
//	agent_rotations_total                   positions closed to make room
//	agent_wallet_balance_usd                wallet balance
//	agent_available_balance_usd             available balance
//	agent_open_pnl_usd                      unrealized PnL
//	agent_drawdown_ratio                    drawdown from the high-water mark
//	agent_open_positions{side}              open positions per side
//	agent_sentiment_ratio                   share of bullish fast trends
//	agent_blacklisted_symbols               size of the blacklist
//	agent_halted                            1 while the circuit breaker is latched
//	agent_margin_invariant_violations_total committed + budget exceeded start
//
// Collectors are registered in init() and served at /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"futures-agent/internal/trading"
)

var (
	cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_cycles_total",
			Help: "Completed cycles by result",
		},
		[]string{"result"},
	)

	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agent_cycle_duration_seconds",
			Help:    "Cycle wall time",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		},
	)

	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_orders_total",
			Help: "Execution outcomes by status and reason",
		},
		[]string{"status", "reason"},
	)

	orderAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agent_order_attempts",
			Help:    "Submission attempts per intent",
			Buckets: []float64{1, 2, 3, 4, 5, 10},
		},
	)

	intentsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_intents_dropped_total",
			Help: "Intents removed before execution, by gate",
		},
		[]string{"gate"},
	)

	rotations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_rotations_total",
			Help: "Positions closed to fund a stronger signal",
		},
	)

	walletBalance = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agent_wallet_balance_usd",
		Help: "Wallet balance",
	})

	availableBalance = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agent_available_balance_usd",
		Help: "Available balance",
	})

	openPnL = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agent_open_pnl_usd",
		Help: "Unrealized PnL across open positions",
	})

	drawdown = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agent_drawdown_ratio",
		Help: "Drawdown from the high-water mark",
	})

	openPositions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agent_open_positions",
			Help: "Open positions per side",
		},
		[]string{"side"},
	)

	sentiment = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agent_sentiment_ratio",
		Help: "Share of analyzed symbols in a bullish fast trend",
	})

	blacklisted = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agent_blacklisted_symbols",
		Help: "Symbols excluded for the rest of the run",
	})

	halted = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agent_halted",
		Help: "1 while the drawdown circuit breaker is latched",
	})

	invariantViolations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "agent_margin_invariant_violations_total",
		Help: "Executions after which committed margin plus budget exceeded the starting balance",
	})
)

func init() {
	prometheus.MustRegister(
		cycles, cycleDuration, ordersTotal, orderAttempts, intentsDropped, rotations,
		walletBalance, availableBalance, openPnL, drawdown, openPositions,
		sentiment, blacklisted, halted, invariantViolations,
	)
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCycle records a finished cycle
func ObserveCycle(result string, took time.Duration) {
	cycles.WithLabelValues(result).Inc()
	cycleDuration.Observe(took.Seconds())
}

// ObserveOrder records one execution outcome
func ObserveOrder(status string, reason trading.ReasonCode, attempts int) {
	ordersTotal.WithLabelValues(status, string(reason)).Inc()
	if attempts > 0 {
		orderAttempts.Observe(float64(attempts))
	}
}

// IntentDropped counts an intent removed by gate
func IntentDropped(gate string) {
	intentsDropped.WithLabelValues(gate).Inc()
}

// Rotation counts a rotation close
func Rotation() {
	rotations.Inc()
}

// InvariantViolation counts a margin invariant breach
func InvariantViolation() {
	invariantViolations.Inc()
}

// Portfolio is the gauge set refreshed at the end of a cycle
type Portfolio struct {
	Wallet      float64
	Available   float64
	OpenPnL     float64
	Drawdown    float64
	Longs       int
	Shorts      int
	Sentiment   float64
	Blacklisted int
	Halted      bool
}

// SetPortfolio refreshes every gauge
func SetPortfolio(p Portfolio) {
	walletBalance.Set(p.Wallet)
	availableBalance.Set(p.Available)
	openPnL.Set(p.OpenPnL)
	drawdown.Set(p.Drawdown)
	openPositions.WithLabelValues("long").Set(float64(p.Longs))
	openPositions.WithLabelValues("short").Set(float64(p.Shorts))
	sentiment.Set(p.Sentiment)
	blacklisted.Set(float64(p.Blacklisted))
	if p.Halted {
		halted.Set(1)
	} else {
		halted.Set(0)
	}
}
