// Package risk holds the portfolio-level cleanup rules and the drawdown
// circuit breaker gate.
package risk

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"futures-agent/config"
	"futures-agent/internal/circuit"
	"futures-agent/internal/logging"
	"futures-agent/internal/position"
	"futures-agent/internal/trading"
)

// Governor produces forced exits and evaluates the circuit breaker
type Governor struct {
	cfg     config.RiskConfig
	breaker *circuit.Breaker
	logger  zerolog.Logger
}

// NewGovernor creates a governor around breaker
func NewGovernor(cfg config.RiskConfig, breaker *circuit.Breaker, logger zerolog.Logger) *Governor {
	return &Governor{
		cfg:     cfg,
		breaker: breaker,
		logger:  logging.Component(logger, "RiskGovernor"),
	}
}

// ShadowedRules names the exit rules that thresholds make unreachable
// because an earlier or higher-priority rule always closes the position
// first. The staleness cleanup shadows the zombie cleanup when it fires no
// later at a stricter ROI, and shadows the signal stagnation exit the same
// way since cleanup intents outrank signal intents.
func ShadowedRules(risk config.RiskConfig, strategy config.StrategyConfig) []string {
	var shadowed []string
	// A losing position has ROI below zero, which is below any positive StaleROI
	if risk.ZombieHours >= risk.StaleHours && risk.StaleROI > 0 {
		shadowed = append(shadowed, "zombie")
	}
	if float64(strategy.StagnationMinutes) >= risk.StaleHours*60 && risk.StaleROI > 0 {
		shadowed = append(shadowed, "stagnation")
	}
	return shadowed
}

// Breaker exposes the latched breaker for operator resets
func (g *Governor) Breaker() *circuit.Breaker {
	return g.breaker
}

// Cleanup returns a full reduce-only close at MaxPriority for every position
// that violates a portfolio rule. Rules are checked in order; the first match
// wins for each position.
func (g *Governor) Cleanup(positions []position.State, sentiment float64, now time.Time) []trading.ActionIntent {
	var intents []trading.ActionIntent
	for i := range positions {
		pos := &positions[i]
		if pos.Size == 0 {
			continue
		}
		reason, detail := g.check(pos, sentiment, now)
		if reason == trading.ReasonNone {
			continue
		}
		price := pos.MarkPrice
		if price <= 0 {
			price = pos.EntryPrice
		}
		intents = append(intents, trading.ActionIntent{
			Symbol:     pos.Symbol,
			Side:       pos.Direction().ExitSide(),
			Quantity:   pos.Quantity(),
			RefPrice:   price,
			Reason:     reason,
			Detail:     detail,
			Score:      trading.MaxPriority,
			ReduceOnly: true,
		})
		g.logger.Info().
			Str("symbol", pos.Symbol).
			Str("reason", string(reason)).
			Str("detail", detail).
			Msg("Governor cleanup")
	}
	return intents
}

func (g *Governor) check(pos *position.State, sentiment float64, now time.Time) (trading.ReasonCode, string) {
	price := pos.MarkPrice
	if price <= 0 {
		price = pos.EntryPrice
	}
	roi := pos.ROI(price)
	held := pos.HeldFor(now)
	dir := pos.Direction()

	mismatch := (dir == trading.Long && sentiment < g.cfg.SentimentBear) ||
		(dir == trading.Short && sentiment > g.cfg.SentimentBull)
	if mismatch && roi < g.cfg.MismatchROI {
		return trading.ReasonSentimentMismatch, fmt.Sprintf("%s against sentiment %.2f, roi %.2f%%", dir, sentiment, roi*100)
	}

	if held < time.Duration(g.cfg.ToxicWindowMinutes)*time.Minute && roi < g.cfg.ToxicROI {
		return trading.ReasonToxic, fmt.Sprintf("roi %.2f%% after %s", roi*100, held.Round(time.Second))
	}

	if held > hours(g.cfg.StaleHours) && roi < g.cfg.StaleROI {
		return trading.ReasonStale, fmt.Sprintf("roi %.2f%% after %s", roi*100, held.Round(time.Minute))
	}

	if held > hours(g.cfg.ZombieHours) && pos.PnLPerUnit(price) < 0 {
		return trading.ReasonZombie, fmt.Sprintf("losing after %s", held.Round(time.Minute))
	}

	return trading.ReasonNone, ""
}

// CircuitBreaker evaluates drawdown against the limit. triggered is true only
// on the cycle the breaker trips.
func (g *Governor) CircuitBreaker(account trading.AccountSnapshot) (triggered bool, drawdown float64) {
	triggered, drawdown = g.breaker.Check(account)
	if triggered {
		g.logger.Error().
			Float64("drawdown", drawdown).
			Float64("limit", g.cfg.MaxDrawdown).
			Float64("high_water_mark", account.HighWaterMark).
			Float64("wallet", account.WalletBalance).
			Msg("Circuit breaker tripped, halting entries")
	}
	return triggered, drawdown
}

// Halted reports the latched breaker state
func (g *Governor) Halted() bool {
	return g.breaker.Halted()
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}
