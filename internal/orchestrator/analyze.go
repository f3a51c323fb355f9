package orchestrator

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"futures-agent/internal/indicators"
	"futures-agent/internal/position"
	"futures-agent/internal/signal"
	"futures-agent/internal/state"
	"futures-agent/internal/trading"
)

// workerResult is what one analysis worker hands back
type workerResult struct {
	ok       bool
	snapshot indicators.Snapshot
	eval     signal.Evaluation
}

// analyze evaluates every traded symbol on a bounded worker pool. Workers see
// copies of positions and the account and never touch shared state; a worker
// that fails, panics or overruns its deadline is excluded from the cycle.
func (a *Agent) analyze(ctx context.Context, account trading.AccountSnapshot, sentiment float64, halted bool, report *CycleReport) []signal.Evaluation {
	symbols := a.tradedSymbols()
	positions := a.state.Positions.Snapshot()
	results := make([]workerResult, len(symbols))

	workers := a.cfg.Orchestrator.Workers
	if workers <= 0 {
		workers = 1
	}
	timeout := time.Duration(a.cfg.Orchestrator.WorkerTimeoutSeconds) * time.Second

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, sym := range symbols {
		var pos *position.State
		if p, ok := positions[sym]; ok {
			pos = &p
		}
		g.Go(func() error {
			wctx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()

			res, err := a.analyzeSymbol(wctx, sym, pos, account, sentiment, halted)
			if err != nil {
				a.logger.Warn().Err(err).Str("symbol", sym).Msg("Analysis worker excluded")
				return nil
			}
			results[i] = res
			return nil
		})
	}
	// Workers never return errors, so Wait only synchronises
	_ = g.Wait()

	evals := make([]signal.Evaluation, 0, len(symbols))
	scan := make(map[string]state.SymbolScan, len(symbols))
	var analyzed, bullish int
	for i, res := range results {
		if !res.ok {
			report.Excluded = append(report.Excluded, symbols[i])
			continue
		}
		evals = append(evals, res.eval)
		snap := res.snapshot
		row := state.SymbolScan{
			Price:      snap.Price,
			Trend:      snap.FastTrend,
			SlowTrend:  snap.SlowTrend,
			RSI:        roundTo(snap.RSI, 2),
			ADX:        roundTo(snap.ADX, 2),
			Signal:     res.eval.Signal,
			Score:      roundTo(res.eval.Score, 2),
			Rejections: res.eval.Rejections,
		}
		if p, ok := positions[symbols[i]]; ok {
			row.Position = p.Size
			row.PnL = p.UnrealizedPnL
		}
		scan[symbols[i]] = row

		if snap.Valid {
			analyzed++
			if snap.FastTrend == 1 {
				bullish++
			}
		}
	}
	report.Analyzed = len(evals)

	// Sentiment carries into the next cycle; keep the old value when nothing
	// produced a usable trend
	next := sentiment
	if analyzed > 0 {
		next = float64(bullish) / float64(analyzed)
	}
	a.state.setScan(next, scan)
	return evals
}

// analyzeSymbol is one worker's job. Panics are recovered into errors.
func (a *Agent) analyzeSymbol(ctx context.Context, symbol string, pos *position.State, account trading.AccountSnapshot, sentiment float64, halted bool) (res workerResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()

	klines, err := a.deps.Gateway.FetchCandles(ctx, symbol, a.cfg.Exchange.Timeframe, a.cfg.Exchange.CandleLimit)
	if err != nil {
		return res, fmt.Errorf("fetch candles: %w", err)
	}
	now := a.now()
	snap := indicators.Compute(symbol, klines, a.params, now)

	// Funding and filters are best effort
	if rate, ferr := a.deps.Gateway.FundingRate(ctx, symbol); ferr == nil {
		snap.FundingRate = rate
	}
	minNotional := a.cfg.Risk.MinNotional
	if f, ferr := a.deps.Gateway.SymbolFilters(ctx, symbol); ferr == nil {
		minNotional = math.Max(minNotional, f.MinNotional)
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}

	if pos != nil && snap.Price > 0 {
		pos.MarkPrice = snap.Price
	}

	res.eval = a.deps.Signals.Evaluate(signal.Input{
		Symbol:      symbol,
		Snapshot:    snap,
		Position:    pos,
		Account:     account,
		Sentiment:   sentiment,
		Halted:      halted,
		MinNotional: minNotional,
		Now:         now,
	})
	res.snapshot = snap
	res.ok = true
	return res, nil
}
