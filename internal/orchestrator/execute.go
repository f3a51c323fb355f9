package orchestrator

import (
	"context"
	"math"

	"github.com/rs/zerolog"

	"futures-agent/internal/execution"
	"futures-agent/internal/metrics"
	"futures-agent/internal/position"
	"futures-agent/internal/trading"
)

// Gate names used in reports and metrics
const (
	GateHalted        = "halted"
	GateCooldown      = "cooldown"
	GateMaxPositions  = "max_positions"
	GateSideImbalance = "side_imbalance"
	GateBudget        = "budget"
)

// execute runs the ranked intents one at a time against a fresh budget
func (a *Agent) execute(ctx context.Context, intents []trading.ActionIntent, account trading.AccountSnapshot, halted bool, report *CycleReport, log zerolog.Logger) {
	budget := execution.NewBudget(account.AvailableBalance)
	closedThisCycle := make(map[string]bool)

	for _, intent := range intents {
		if ctx.Err() != nil {
			return
		}
		if closedThisCycle[intent.Symbol] {
			report.drop("duplicate")
			continue
		}

		if intent.IncreasesRisk() {
			if gate := a.gate(intent, halted); gate != "" {
				report.drop(gate)
				log.Debug().Str("symbol", intent.Symbol).Str("gate", gate).Msg("Intent gated")
				continue
			}
			funded, ok := a.fund(ctx, intent, budget, closedThisCycle, report, log)
			if !ok {
				report.drop(GateBudget)
				continue
			}
			intent = funded
		}

		a.deps.Bus.PublishSignal(intent)
		out := a.run(ctx, intent, budget, report, log)
		if intent.ReduceOnly && out.Filled() {
			closedThisCycle[intent.Symbol] = true
		}
	}
}

// run executes one intent and checks the margin invariant afterwards
func (a *Agent) run(ctx context.Context, intent trading.ActionIntent, budget *execution.Budget, report *CycleReport, log zerolog.Logger) execution.Outcome {
	out := a.deps.Executor.Execute(ctx, intent, budget, a.state.Positions, a.state.Blacklist)
	report.Outcomes = append(report.Outcomes, out)
	metrics.ObserveOrder(out.Status, intent.Reason, out.Attempts)

	if intent.ReduceOnly && out.Filled() {
		a.state.Cooldowns.Record(intent.Symbol, a.now())
	}

	// Each overrun is reported once, by the execution that caused it
	if !budget.InvariantHolds() && budget.Overrun() > report.overrunSeen {
		report.overrunSeen = budget.Overrun()
		report.Violations++
		metrics.InvariantViolation()
		log.Error().
			Str("symbol", intent.Symbol).
			Float64("committed", budget.Committed()).
			Float64("remaining", budget.Remaining()).
			Float64("start", budget.Start()).
			Float64("overrun", budget.Overrun()).
			Msg("Margin invariant violated")
	}
	return out
}

// gate returns the name of the first gate that blocks a risk-increasing
// intent, or "" when it may proceed
func (a *Agent) gate(intent trading.ActionIntent, halted bool) string {
	if halted {
		return GateHalted
	}
	now := a.now()
	if a.state.Cooldowns.Active(intent.Symbol, now) {
		return GateCooldown
	}
	// Augmentations add to an existing position and skip the count gates
	if intent.IsAugmentation() {
		return ""
	}

	store := a.state.Positions
	count := store.Len()
	if count >= a.cfg.Risk.MaxPositions {
		return GateMaxPositions
	}

	longs, shorts := store.SideCounts()
	if count >= a.cfg.Risk.ImbalanceMinPositions {
		same := longs
		if intent.Side == trading.SideSell {
			same = shorts
		}
		share := float64(same+1) / float64(count+1)
		if share > a.cfg.Risk.MaxSideImbalance {
			return GateSideImbalance
		}
	}
	return ""
}

// fund makes room for intent in the budget. When the margin does not fit it
// tries to rotate out the weakest position, then shrinks the order to what
// the budget allows. ok is false when the intent must be skipped.
func (a *Agent) fund(ctx context.Context, intent trading.ActionIntent, budget *execution.Budget, closed map[string]bool, report *CycleReport, log zerolog.Logger) (trading.ActionIntent, bool) {
	lev := float64(a.cfg.Exchange.Leverage)
	if lev <= 0 {
		lev = 1
	}
	margin := intent.Notional() / lev
	if budget.Fits(margin) {
		return intent, true
	}

	if victim, ok := a.rotationVictim(intent, closed); ok {
		log.Info().
			Str("symbol", intent.Symbol).
			Float64("score", intent.Score).
			Str("victim", victim.Symbol).
			Float64("victim_pnl", victim.UnrealizedPnL).
			Msg("Rotating out weakest position")
		out := a.run(ctx, rotationClose(victim), budget, report, log)
		if out.Filled() {
			closed[victim.Symbol] = true
			report.Rotations++
			metrics.Rotation()
		}
		if budget.Fits(margin) {
			return intent, true
		}
	}

	remaining := budget.Remaining()
	if remaining <= a.cfg.Execution.MinResizeMargin || intent.RefPrice <= 0 {
		return intent, false
	}
	qty := remaining * a.cfg.Risk.MarginSafetyFactor * lev / intent.RefPrice
	if qty*intent.RefPrice < a.cfg.Risk.MinNotional {
		return intent, false
	}
	log.Debug().
		Str("symbol", intent.Symbol).
		Float64("from", intent.Quantity).
		Float64("to", qty).
		Msg("Resized to fit margin budget")
	intent.Quantity = qty
	return intent, true
}

// rotationVictim picks the open position with the lowest unrealized PnL when
// the incoming signal is strong enough to displace it
func (a *Agent) rotationVictim(intent trading.ActionIntent, closed map[string]bool) (position.State, bool) {
	if intent.IsAugmentation() {
		return position.State{}, false
	}
	var victim position.State
	found := false
	for _, pos := range a.state.Positions.All() {
		if pos.Symbol == intent.Symbol || closed[pos.Symbol] {
			continue
		}
		if !found || pos.UnrealizedPnL < victim.UnrealizedPnL {
			victim = pos
			found = true
		}
	}
	if !found {
		return victim, false
	}

	oc := a.cfg.Orchestrator
	pnl := victim.UnrealizedPnL
	switch {
	case intent.Score >= oc.RotationHighScore && pnl < oc.RotationHighPnL:
		return victim, true
	case intent.Score >= oc.RotationStrongScore && pnl < oc.RotationStrongPnL:
		return victim, true
	}
	return victim, false
}

func rotationClose(victim position.State) trading.ActionIntent {
	price := victim.MarkPrice
	if price <= 0 {
		price = victim.EntryPrice
	}
	return trading.ActionIntent{
		Symbol:     victim.Symbol,
		Side:       victim.Direction().ExitSide(),
		Quantity:   math.Abs(victim.Size),
		RefPrice:   price,
		Reason:     trading.ReasonRotation,
		Score:      trading.MaxPriority,
		ReduceOnly: true,
	}
}
