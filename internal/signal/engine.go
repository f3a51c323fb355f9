// Package signal turns an indicator snapshot and the current position into at
// most one action intent per symbol per cycle.
package signal

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"futures-agent/config"
	"futures-agent/internal/indicators"
	"futures-agent/internal/logging"
	"futures-agent/internal/position"
	"futures-agent/internal/sizing"
	"futures-agent/internal/trading"
)

// ExitScore ranks signal exits ahead of every entry so margin is freed first
const ExitScore = 100.0

// Score bases per rule
const (
	scoreBreakout     = 9.5
	scorePullback     = 10.0
	scoreContinuation = 8.5
	scoreReversal     = 8.0
	scoreDCA          = 8.5
	scorePyramid      = 8.0
)

// Input is everything a worker hands to Evaluate. Position and Account are
// copies; Evaluate never touches shared state.
type Input struct {
	Symbol      string
	Snapshot    indicators.Snapshot
	Position    *position.State // nil when flat
	Account     trading.AccountSnapshot
	Sentiment   float64
	Halted      bool
	MinNotional float64
	Now         time.Time
}

// Evaluation is the outcome for one symbol
type Evaluation struct {
	Symbol string
	Intent *trading.ActionIntent
	Signal string
	Score  float64

	// Lifecycle updates, applied serially by the orchestrator
	HasLifecycle bool
	Peak         float64
	Trough       float64
	TrailingStop float64

	Rejections []string
}

func (ev *Evaluation) reject(format string, args ...interface{}) {
	ev.Rejections = append(ev.Rejections, fmt.Sprintf(format, args...))
}

// Engine evaluates entry, exit and augmentation rules
type Engine struct {
	cfg   config.StrategyConfig
	risk  config.RiskConfig
	sizer *sizing.Engine

	trailBase   float64
	trailClimax float64
	trailTiers  []TrailTier
	ratchets    []RatchetFloor

	logger zerolog.Logger
}

// New creates a signal engine
func New(strategy config.StrategyConfig, risk config.RiskConfig, sizer *sizing.Engine, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:         strategy,
		risk:        risk,
		sizer:       sizer,
		trailBase:   strategy.TrailBaseMult,
		trailClimax: strategy.TrailClimaxMult,
		trailTiers:  DefaultTrailTiers,
		ratchets:    DefaultRatchetFloors,
		logger:      logging.Component(logger, "SignalEngine"),
	}
}

// Evaluate runs the rule ladder for one symbol. Exits are evaluated even
// while halted; entries and augmentations are not.
func (e *Engine) Evaluate(in Input) Evaluation {
	ev := Evaluation{Symbol: in.Symbol, Signal: "WAIT"}

	if in.Position != nil && in.Position.Size != 0 {
		e.evaluateOpen(in, &ev)
	} else {
		e.evaluateEntry(in, &ev)
	}

	if e.cfg.DecisionLogEnabled {
		e.logDecision(in, ev)
	}
	return ev
}

func (e *Engine) evaluateEntry(in Input, ev *Evaluation) {
	snap := in.Snapshot
	if !snap.Valid {
		ev.Signal = "WAIT_HISTORY"
		ev.reject("insufficient history: %d bars", snap.Bars)
		return
	}
	if snap.PrevADX < e.cfg.ADXTrendThreshold {
		ev.Signal = "NO_TREND"
		ev.reject("adx %.1f below %.1f", snap.PrevADX, e.cfg.ADXTrendThreshold)
		return
	}
	if in.Halted {
		ev.Signal = "HALTED"
		ev.reject("entries suspended")
		return
	}
	if snap.ProjectedVolume <= snap.VolumeSMA*e.cfg.VolumeFilterMult {
		ev.Signal = "LOW_VOLUME"
		ev.reject("projected volume %.2f <= %.2f", snap.ProjectedVolume, snap.VolumeSMA*e.cfg.VolumeFilterMult)
		return
	}

	dir, reason, score := e.matchEntry(in)
	if dir == trading.Flat {
		ev.reject("no entry rule matched")
		return
	}

	score += snap.ADX / 10
	if snap.Price > 0 {
		score += snap.ATR / snap.Price * 100
	}
	score += e.fundingBias(dir, snap.FundingRate)
	if snap.EMA200 > 0 {
		if (dir == trading.Long && snap.Price < snap.EMA200) || (dir == trading.Short && snap.Price > snap.EMA200) {
			score -= 1
		}
	}

	ev.Signal = dir.String() + "_" + string(reason)
	ev.Score = score
	if score < e.cfg.MinEntryScore {
		ev.reject("score %.2f below %.2f", score, e.cfg.MinEntryScore)
		return
	}

	riskPct := e.risk.RiskPerTrade
	if score >= e.risk.HighConvictionScore {
		riskPct = e.risk.HighConvictionRiskPct
	}
	size := e.sizer.Size(sizing.Request{
		Balance:     in.Account.WalletBalance,
		Available:   in.Account.AvailableBalance,
		Price:       snap.Price,
		ATR:         snap.ATR,
		RiskPct:     riskPct,
		MinNotional: in.MinNotional,
	})
	if size.Quantity <= 0 {
		ev.reject("size zero (%s)", size.Binding)
		return
	}

	ev.Intent = &trading.ActionIntent{
		Symbol:   in.Symbol,
		Side:     dir.EntrySide(),
		Quantity: size.Quantity,
		RefPrice: snap.Price,
		Reason:   reason,
		Detail:   fmt.Sprintf("risk=%.3f bound=%s", riskPct, size.Binding),
		Score:    score,
	}
}

// matchEntry returns the first matching entry rule
func (e *Engine) matchEntry(in Input) (trading.Direction, trading.ReasonCode, float64) {
	snap := in.Snapshot
	slope := snap.ADXSlope()

	breakoutVol := snap.ProjectedVolume > snap.VolumeSMA*e.cfg.BreakoutVolumeMult
	if breakoutVol && snap.Price > snap.DonchianHigh && snap.SlowTrend == 1 {
		return trading.Long, trading.ReasonBreakout, scoreBreakout
	}
	if breakoutVol && snap.Price < snap.DonchianLow && snap.SlowTrend == -1 {
		return trading.Short, trading.ReasonBreakout, scoreBreakout
	}

	rsiLong := e.cfg.PullbackRSILong
	rsiShort := e.cfg.PullbackRSIShort
	if in.Sentiment > 0.6 {
		rsiLong += e.cfg.SentimentRSIShift
	} else if in.Sentiment < 0.4 {
		rsiShort -= e.cfg.SentimentRSIShift
	}
	aligned := snap.FastTrend != 0 && snap.FastTrend == snap.SlowTrend
	if aligned && slope > -0.5 {
		if snap.FastTrend == 1 && snap.RSI < rsiLong {
			return trading.Long, trading.ReasonPullback, scorePullback
		}
		if snap.FastTrend == -1 && snap.RSI > rsiShort {
			return trading.Short, trading.ReasonPullback, scorePullback
		}
	}

	if aligned && snap.ADX > e.cfg.ContinuationADX && slope > 0 &&
		snap.SmoothedRSI > 40 && snap.SmoothedRSI < 60 {
		if in.Sentiment < 0.2 && snap.FastTrend == -1 {
			return trading.Short, trading.ReasonContinuation, scoreContinuation
		}
		if in.Sentiment > 0.8 && snap.FastTrend == 1 {
			return trading.Long, trading.ReasonContinuation, scoreContinuation
		}
	}

	flipped := snap.FastTrendConfirmed != 0 &&
		snap.FastTrendPrior == -snap.FastTrendConfirmed &&
		snap.SlowTrendConfirmed == -snap.FastTrendConfirmed
	// RSI must have left the extreme the flip came from without reaching the opposite one
	if flipped && slope > 0 && snap.VPAConfirmed && snap.RSI > 30 && snap.RSI < 70 {
		return trading.Direction(snap.FastTrendConfirmed), trading.ReasonReversal, scoreReversal
	}

	return trading.Flat, trading.ReasonNone, 0
}

// fundingBias favours the side that collects funding
func (e *Engine) fundingBias(dir trading.Direction, rate float64) float64 {
	switch {
	case rate > e.cfg.FundingThreshold:
		if dir == trading.Long {
			return -e.cfg.FundingBias
		}
		return e.cfg.FundingBias
	case rate < -e.cfg.FundingThreshold:
		if dir == trading.Long {
			return e.cfg.FundingBias
		}
		return -e.cfg.FundingBias
	}
	return 0
}

func (e *Engine) evaluateOpen(in Input, ev *Evaluation) {
	pos := in.Position
	snap := in.Snapshot
	dir := pos.Direction()
	price := snap.Price
	if price <= 0 {
		price = pos.MarkPrice
		snap.Price = price
	}

	stop := e.chandelier(pos, snap)
	ev.HasLifecycle = true
	ev.Peak, ev.Trough, ev.TrailingStop = stop.Peak, stop.Trough, stop.Stop

	ev.Signal = "HOLD_" + dir.String()
	if price <= 0 {
		ev.reject("no price")
		return
	}

	if reason, detail := e.matchExit(in, snap, stop); reason != trading.ReasonNone {
		qty := pos.Quantity()
		partial := reason == trading.ReasonPartialTP
		if partial {
			qty = pos.Quantity() * e.cfg.PartialTPFraction
		}
		ev.Signal = string(reason)
		ev.Score = ExitScore
		ev.Intent = &trading.ActionIntent{
			Symbol:            in.Symbol,
			Side:              dir.ExitSide(),
			Quantity:          qty,
			RefPrice:          price,
			Reason:            reason,
			Detail:            detail,
			Score:             ExitScore,
			ReduceOnly:        true,
			PartialTakeProfit: partial,
		}
		return
	}

	if in.Halted {
		ev.reject("augmentation suspended")
		return
	}
	e.matchAugment(in, snap, ev)
}

// matchExit walks the exit ladder in priority order
func (e *Engine) matchExit(in Input, snap indicators.Snapshot, stop StopUpdate) (trading.ReasonCode, string) {
	pos := in.Position
	dir := pos.Direction()
	price := snap.Price
	atr := snap.ATR
	pnl := pos.PnLPerUnit(price)
	roi := pos.ROI(price)
	long := dir == trading.Long

	if snap.VolumeSMA > 0 && snap.Volume > snap.VolumeSMA*e.cfg.ClimaxVolumeMult {
		if (long && snap.RSI > 80) || (!long && snap.RSI < 20) {
			return trading.ReasonClimax, fmt.Sprintf("volume %.0f rsi %.1f", snap.Volume, snap.RSI)
		}
	}

	if atr > 0 {
		tpMult := e.cfg.TPATRMult
		if snap.ADX > 40 {
			tpMult += e.cfg.TPStrongTrendBonus
		}
		extreme := (long && snap.RSI > 75) || (!long && snap.RSI < 25)
		if pnl > atr*tpMult && (extreme || snap.ADXSlope() < 0) {
			return trading.ReasonHardTP, fmt.Sprintf("pnl/unit %.4f > %.1f ATR", pnl, tpMult)
		}
	}

	against := -int(dir)
	if snap.FastTrendConfirmed == against && snap.SlowTrendConfirmed == against && snap.ADX >= e.cfg.ReversalMinADX {
		return trading.ReasonTrendReversal, fmt.Sprintf("adx %.1f", snap.ADX)
	}

	if atr > 0 && pos.PartialTPCount == 0 && pnl > atr*e.cfg.PartialTPATRMult {
		if (long && snap.RSI > 70) || (!long && snap.RSI < 30) {
			return trading.ReasonPartialTP, fmt.Sprintf("pnl/unit %.4f", pnl)
		}
	}

	if stop.Triggered {
		return trading.ReasonTrailingStop, fmt.Sprintf("stop %.6f roi %.2f%%", stop.Stop, roi*100)
	}

	if (snap.ADX < e.cfg.ChopADX || snap.Choppiness > e.cfg.ChopIndexMax) && roi > e.cfg.ChopScalpROI {
		return trading.ReasonChopScalp, fmt.Sprintf("roi %.2f%%", roi*100)
	}

	held := pos.HeldFor(in.Now)
	if held > time.Duration(e.cfg.TimeStopMinutes)*time.Minute && atr > 0 {
		peakGain := math.Max(pos.PeakGain(), lifecycleGain(pos, stop))
		if peakGain <= atr*e.cfg.TimeStopMinATRGain {
			return trading.ReasonTimeStop, fmt.Sprintf("held %s peak gain %.4f", held.Round(time.Minute), peakGain)
		}
	}

	if held > time.Duration(e.cfg.StagnationMinutes)*time.Minute && roi < 0 {
		return trading.ReasonStagnation, fmt.Sprintf("held %s roi %.2f%%", held.Round(time.Minute), roi*100)
	}

	return trading.ReasonNone, ""
}

func lifecycleGain(pos *position.State, stop StopUpdate) float64 {
	if pos.Size > 0 {
		return stop.Peak - pos.EntryPrice
	}
	if stop.Trough > 0 {
		return pos.EntryPrice - stop.Trough
	}
	return 0
}

// matchAugment checks DCA before pyramiding; at most one fires
func (e *Engine) matchAugment(in Input, snap indicators.Snapshot, ev *Evaluation) {
	pos := in.Position
	dir := pos.Direction()
	roi := pos.ROI(snap.Price)
	long := dir == trading.Long
	fastAligned := snap.FastTrend == int(dir)

	var kind trading.AugmentKind
	var reason trading.ReasonCode
	var fraction, score float64

	switch {
	case roi > e.cfg.DCAMinROI && roi < e.cfg.DCAMaxROI:
		rsiOK := (long && snap.RSI < 65) || (!long && snap.RSI > 35)
		if !fastAligned || !rsiOK {
			ev.reject("dca: trend or rsi not supportive")
			return
		}
		if pos.DCACount >= e.cfg.MaxDCA {
			ev.reject("dca: cap %d reached", e.cfg.MaxDCA)
			return
		}
		kind, reason, fraction, score = trading.AugmentDCA, trading.ReasonDCA, e.cfg.DCAFraction, scoreDCA

	case roi > e.cfg.PyramidMinROI && snap.ADX > e.cfg.PyramidMinADX && fastAligned && snap.SlowTrend == int(dir):
		if snap.EMA200 <= 0 || math.Abs(snap.Price-snap.EMA200)/snap.EMA200 > e.cfg.PyramidMaxEMADist {
			ev.reject("pyramid: overextended from ema200")
			return
		}
		if pos.PyramidCount >= e.cfg.MaxPyramid {
			ev.reject("pyramid: cap %d reached", e.cfg.MaxPyramid)
			return
		}
		kind, reason, fraction, score = trading.AugmentPyramid, trading.ReasonPyramid, e.cfg.PyramidFraction, scorePyramid

	default:
		return
	}

	ev.Signal = string(reason)
	ev.Score = score
	ev.Intent = &trading.ActionIntent{
		Symbol:   in.Symbol,
		Side:     dir.EntrySide(),
		Quantity: pos.Quantity() * fraction,
		RefPrice: snap.Price,
		Reason:   reason,
		Detail:   fmt.Sprintf("roi %.2f%%", roi*100),
		Score:    score,
		Augment:  kind,
	}
}

func (e *Engine) logDecision(in Input, ev Evaluation) {
	event := e.logger.Debug().
		Str("symbol", in.Symbol).
		Str("signal", ev.Signal).
		Float64("score", ev.Score).
		Float64("price", in.Snapshot.Price).
		Float64("rsi", in.Snapshot.RSI).
		Float64("adx", in.Snapshot.ADX).
		Int("trend", in.Snapshot.FastTrend).
		Float64("sentiment", in.Sentiment)
	if ev.Intent != nil {
		event = event.Str("intent", ev.Intent.String())
	}
	if len(ev.Rejections) > 0 {
		event = event.Strs("rejections", ev.Rejections)
	}
	event.Msg("Strategy decision")
}
