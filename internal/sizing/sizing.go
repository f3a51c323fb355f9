package sizing

import (
	"math"

	"futures-agent/config"
)

// Bound names the constraint that produced the final quantity
type Bound string

const (
	BoundNone        Bound = ""
	BoundRisk        Bound = "risk"
	BoundLeverage    Bound = "leverage"
	BoundMargin      Bound = "margin"
	BoundNotional    Bound = "notional_cap"
	BoundMinNotional Bound = "min_notional"
	BoundTooSmall    Bound = "below_min_notional"
)

// Config holds sizing parameters
type Config struct {
	LeverageCap          float64
	StopATRMultiple      float64
	MarginSafetyFactor   float64
	MaxNotionalShare     float64 // 0 disables the per-trade notional cap
	MinNotional          float64
	MinNotionalTolerance float64
}

// FromConfig builds sizing parameters from the agent configuration
func FromConfig(risk config.RiskConfig, strategy config.StrategyConfig) Config {
	return Config{
		LeverageCap:          risk.LeverageCap,
		StopATRMultiple:      strategy.StopATRMultiple,
		MarginSafetyFactor:   risk.MarginSafetyFactor,
		MaxNotionalShare:     risk.MaxNotionalShare,
		MinNotional:          risk.MinNotional,
		MinNotionalTolerance: risk.MinNotionalTolerance,
	}
}

// Request is one sizing question
type Request struct {
	Balance     float64
	Available   float64
	Price       float64
	ATR         float64
	RiskPct     float64
	MinNotional float64 // exchange minimum, combined with the configured floor
}

// Result reports the quantity and every bound that was considered
type Result struct {
	Quantity     float64
	Notional     float64
	RiskAmount   float64
	StopDistance float64
	Binding      Bound

	RiskQty     float64
	LeverageQty float64
	MarginQty   float64
	NotionalQty float64
}

// Engine converts a risk budget into an order quantity
type Engine struct {
	cfg Config
}

// New creates a sizing engine
func New(cfg Config) *Engine {
	if cfg.StopATRMultiple <= 0 {
		cfg.StopATRMultiple = 1.5
	}
	if cfg.MarginSafetyFactor <= 0 {
		cfg.MarginSafetyFactor = 0.95
	}
	return &Engine{cfg: cfg}
}

// Size returns the largest quantity satisfying every bound, or zero
func (e *Engine) Size(req Request) Result {
	var res Result
	if req.Price <= 0 || req.Balance <= 0 || req.RiskPct <= 0 {
		return res
	}

	stopDist := req.ATR * e.cfg.StopATRMultiple
	if stopDist <= 0 {
		stopDist = req.Price * 0.01
	}
	res.StopDistance = stopDist
	res.RiskAmount = req.Balance * req.RiskPct

	res.RiskQty = res.RiskAmount / stopDist
	res.LeverageQty = req.Balance * e.cfg.LeverageCap / req.Price
	res.MarginQty = math.Max(req.Available, 0) * e.cfg.MarginSafetyFactor * e.cfg.LeverageCap / req.Price
	res.NotionalQty = math.Inf(1)
	if e.cfg.MaxNotionalShare > 0 {
		res.NotionalQty = e.cfg.MaxNotionalShare * req.Balance * e.cfg.LeverageCap / req.Price
	}

	qty, bound := res.RiskQty, BoundRisk
	for _, c := range []struct {
		q float64
		b Bound
	}{
		{res.LeverageQty, BoundLeverage},
		{res.MarginQty, BoundMargin},
		{res.NotionalQty, BoundNotional},
	} {
		if c.q < qty {
			qty, bound = c.q, c.b
		}
	}

	minNotional := math.Max(req.MinNotional, e.cfg.MinNotional)
	if qty*req.Price < minNotional {
		minQty := minNotional / req.Price
		tolerable := e.cfg.MinNotionalTolerance > 0 &&
			minQty*stopDist <= e.cfg.MinNotionalTolerance*res.RiskAmount &&
			minQty <= res.LeverageQty && minQty <= res.MarginQty
		if !tolerable {
			res.Binding = BoundTooSmall
			return res
		}
		qty, bound = minQty, BoundMinNotional
	}

	res.Quantity = qty
	res.Notional = qty * req.Price
	res.Binding = bound
	return res
}
