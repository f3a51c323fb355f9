// Package orchestrator drives the trading cycle: command poll, exchange
// sync, risk checks, concurrent analysis, gating and serialized execution.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"futures-agent/config"
	"futures-agent/internal/binance"
	"futures-agent/internal/command"
	"futures-agent/internal/events"
	"futures-agent/internal/execution"
	"futures-agent/internal/indicators"
	"futures-agent/internal/logging"
	"futures-agent/internal/metrics"
	"futures-agent/internal/position"
	"futures-agent/internal/risk"
	"futures-agent/internal/signal"
	"futures-agent/internal/state"
	"futures-agent/internal/trading"
)

// ErrCycleFailed wraps failures that abort a cycle before execution
var ErrCycleFailed = errors.New("cycle failed")

// CycleRecorder appends the per-cycle history row
type CycleRecorder interface {
	RecordCycle(ctx context.Context, rec trading.CycleRecord) error
}

// Deps are the collaborators of the agent. Gateway, Signals, Governor and
// Executor are required; the rest may be nil.
type Deps struct {
	Gateway    binance.Gateway
	Signals    *signal.Engine
	Governor   *risk.Governor
	Executor   *execution.Layer
	Commands   command.Channel
	Snapshots  *state.SnapshotStore
	Recorder   CycleRecorder
	Lifecycles position.LifecycleRepository
	RunState   RunStateRepository
	Bus        *events.EventBus
	Logger     zerolog.Logger
}

// CycleReport summarises one cycle
type CycleReport struct {
	Cycle      int64
	Started    time.Time
	Duration   time.Duration
	CloseAll   bool
	Halted     bool
	Tripped    bool
	Analyzed   int
	Excluded   []string // Symbols whose worker failed or timed out
	Intents    int
	Dropped    map[string]int // Gate -> count
	Rotations  int
	Outcomes   []execution.Outcome
	Violations int
	Sentiment  float64
	Stranded   []string // Blacklisted symbols that still hold a position

	overrunSeen float64
}

func (r *CycleReport) drop(gate string) {
	if r.Dropped == nil {
		r.Dropped = make(map[string]int)
	}
	r.Dropped[gate]++
	metrics.IntentDropped(gate)
}

// Agent owns the run state and executes cycles
type Agent struct {
	cfg    *config.Config
	deps   Deps
	state  *RunState
	params indicators.Params
	logger zerolog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates an agent. Blacklist and cooldowns are backed by deps.RunState
// when set.
func New(cfg *config.Config, deps Deps) *Agent {
	logger := logging.Component(deps.Logger, "Orchestrator")

	params := indicators.DefaultParams()
	params.DonchianWindow = cfg.Strategy.DonchianWindow
	if d, err := time.ParseDuration(cfg.Exchange.Timeframe); err == nil && d > 0 {
		params.BarDuration = d
	}

	store := position.NewStore(cfg.Execution.DustTolerance, cfg.Execution.FeeRate)
	blacklist := NewBlacklist(deps.RunState, logger)
	cooldowns := NewCooldowns(time.Duration(cfg.Risk.CooldownMinutes)*time.Minute, deps.RunState, logger)

	return &Agent{
		cfg:    cfg,
		deps:   deps,
		state:  NewRunState(store, blacklist, cooldowns),
		params: params,
		logger: logger,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// State exposes the run state for status readers
func (a *Agent) State() *RunState {
	return a.state
}

// Start restores persisted state, resumes the session and configures
// leverage. It fails only when the exchange cannot be reached.
func (a *Agent) Start(ctx context.Context) error {
	if shadowed := risk.ShadowedRules(a.cfg.Risk, a.cfg.Strategy); len(shadowed) > 0 {
		a.logger.Info().Strs("rules", shadowed).Msg("Exit rules shadowed by the staleness cleanup")
	}
	if n, err := a.state.Blacklist.Load(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to load blacklist")
	} else if n > 0 {
		a.logger.Info().Int("symbols", n).Msg("Blacklist restored")
	}
	if _, err := a.state.Cooldowns.Load(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to load cooldowns")
	}
	if a.deps.Lifecycles != nil {
		if n, err := a.state.Positions.Restore(ctx, a.deps.Lifecycles); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to restore position lifecycles")
		} else if n > 0 {
			a.logger.Info().Int("positions", n).Msg("Position lifecycles restored")
		}
	}
	if a.deps.Snapshots != nil {
		if snap, err := a.deps.Snapshots.Latest(); err == nil && snap.Halted {
			a.deps.Governor.Breaker().Restore(snap.HaltReason, snap.Timestamp)
			a.logger.Warn().Str("reason", snap.HaltReason).Msg("Circuit breaker still latched from previous run")
		}
	}

	callCtx, cancel := a.callCtx(ctx)
	acc, err := a.deps.Gateway.FetchAccount(callCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch account: %w", err)
	}

	initial := acc.WalletBalance
	if path := a.cfg.Persistence.SessionFile; path != "" {
		sess, resumed, err := state.ResumeSession(path, acc.WalletBalance, a.now())
		if err != nil {
			a.logger.Warn().Err(err).Msg("Session file unavailable, starting fresh")
		} else {
			initial = sess.InitialBalance
			if resumed {
				a.logger.Info().Float64("initial_balance", initial).Time("since", sess.StartTime).Msg("Session resumed")
			} else {
				a.logger.Info().Float64("initial_balance", initial).Msg("New session started")
			}
		}
	}
	a.state.startSession(initial)

	for _, sym := range a.cfg.Exchange.Symbols {
		callCtx, cancel := a.callCtx(ctx)
		if err := a.deps.Gateway.SetLeverage(callCtx, sym, a.cfg.Exchange.Leverage); err != nil {
			a.logger.Debug().Err(err).Str("symbol", sym).Msg("Set leverage failed")
			if binance.CategoryOf(err).Terminal() {
				a.state.Blacklist.Add(sym, "invalid_symbol")
			}
		}
		cancel()
	}

	a.deps.Bus.Publish(events.Event{
		Type: events.EventAgentStarted,
		Data: map[string]interface{}{
			"symbols":         len(a.cfg.Exchange.Symbols),
			"initial_balance": initial,
			"paper":           a.cfg.Exchange.PaperTrading,
		},
	})
	return nil
}

// Run executes cycles until ctx is done. A failed cycle waits the error
// backoff and the loop continues.
func (a *Agent) Run(ctx context.Context) error {
	poll := time.Duration(a.cfg.Orchestrator.PollIntervalSeconds) * time.Second
	backoff := time.Duration(a.cfg.Orchestrator.ErrorBackoffSeconds) * time.Second

	defer a.deps.Bus.Publish(events.Event{Type: events.EventAgentStopped})

	for {
		wait := poll
		report, err := a.RunCycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.logger.Error().Err(err).Int64("cycle", report.Cycle).Msg("Cycle failed")
			a.deps.Bus.PublishError("orchestrator", "cycle failed", err)
			wait = backoff
		}
		if a.cfg.Orchestrator.Once {
			return err
		}
		if err := a.sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

// RunCycle executes one full cycle. Panics are converted to errors.
func (a *Agent) RunCycle(ctx context.Context) (report CycleReport, err error) {
	started := a.now()
	report.Started = started
	report.Cycle = a.state.nextCycle(started)
	log := logging.Cycle(a.logger, report.Cycle)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrCycleFailed, r)
		}
		report.Duration = a.now().Sub(started)
		result := "ok"
		switch {
		case err != nil:
			result = "error"
		case report.CloseAll:
			result = "close_all"
		}
		metrics.ObserveCycle(result, report.Duration)
	}()

	// 1. Operator commands
	if handled := a.pollCommands(ctx, &report); handled {
		return report, nil
	}

	// 2. Exchange sync
	callCtx, cancel := a.callCtx(ctx)
	acc, err := a.deps.Gateway.FetchAccount(callCtx)
	cancel()
	if err != nil {
		return report, fmt.Errorf("%w: fetch account: %v", ErrCycleFailed, err)
	}
	now := a.now()
	sync := a.state.Positions.Reconcile(acc.Positions, now)
	if len(sync.Adopted)+len(sync.Dropped)+len(sync.Flipped) > 0 {
		log.Info().
			Strs("adopted", sync.Adopted).
			Strs("dropped", sync.Dropped).
			Strs("flipped", sync.Flipped).
			Msg("Positions reconciled with exchange")
	}

	if stranded := a.strandedPositions(); len(stranded) > 0 {
		report.Stranded = stranded
		log.Error().Strs("symbols", stranded).Msg("Blacklisted symbols still hold positions, close them manually")
	}

	// 3. Account and circuit breaker
	account := a.state.observeAccount(acc.WalletBalance, acc.AvailableBalance, now)
	tripped, drawdown := a.deps.Governor.CircuitBreaker(account)
	if tripped {
		report.Tripped = true
		report.Halted = true
		stats := a.deps.Governor.Breaker().GetStats()
		a.deps.Bus.PublishCircuitBreaker("trip", stats.TripReason, drawdown)
		a.CloseAll(ctx, trading.ReasonCircuitBreaker, "circuit_breaker")
		a.finish(ctx, &report, log)
		return report, nil
	}
	halted := a.deps.Governor.Halted()
	report.Halted = halted

	// 4. Cleanup rules and concurrent analysis
	sentiment := a.state.Sentiment()
	cleanup := a.deps.Governor.Cleanup(a.state.Positions.All(), sentiment, now)
	evals := a.analyze(ctx, account, sentiment, halted, &report)

	// 5. Lifecycle updates
	for _, ev := range evals {
		if ev.HasLifecycle {
			a.state.Positions.UpdateLifecycle(ev.Symbol, ev.Peak, ev.Trough, ev.TrailingStop)
		}
	}

	// 6. Merge and rank
	intents := a.rank(cleanup, evals, &report)
	report.Intents = len(intents)

	// 7-9. Gate, fund and execute serially
	a.execute(ctx, intents, account, halted, &report, log)

	// 10. Persist
	a.finish(ctx, &report, log)
	return report, nil
}

// pollCommands handles a pending close-all. It returns true when the cycle
// should end.
func (a *Agent) pollCommands(ctx context.Context, report *CycleReport) bool {
	if a.deps.Commands == nil {
		return false
	}
	cmd, ok, err := a.deps.Commands.Pending(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Command poll failed")
	}
	if !ok {
		return false
	}

	a.logger.Warn().Str("command", string(cmd.Command)).Str("issuer", cmd.Issuer).Msg("Operator command received")
	report.CloseAll = true
	a.CloseAll(ctx, trading.ReasonCloseAll, "command:"+cmd.Issuer)
	if err := a.deps.Commands.Ack(ctx, cmd); err != nil {
		a.logger.Error().Err(err).Msg("Failed to acknowledge command")
	}

	settle := time.Duration(a.cfg.Orchestrator.CloseAllSettleSeconds) * time.Second
	if settle > 0 {
		_ = a.sleep(ctx, settle)
	}
	return true
}

// CloseAll submits a reduce-only close for every position the exchange
// reports and returns how many closed and failed
func (a *Agent) CloseAll(ctx context.Context, reason trading.ReasonCode, trigger string) (closed, failed int) {
	callCtx, cancel := a.callCtx(ctx)
	positions, err := a.deps.Gateway.FetchPositions(callCtx)
	cancel()
	if err != nil {
		a.logger.Error().Err(err).Msg("Close-all could not fetch positions, using local book")
	} else {
		a.state.Positions.Reconcile(positions, a.now())
	}

	// Margin released by the sweep is not reused this cycle
	budget := execution.NewBudget(0)
	for _, pos := range a.state.Positions.All() {
		// The blacklist is one-way, so a stranded position is left to the operator
		if a.state.Blacklist.Contains(pos.Symbol) {
			failed++
			msg := fmt.Sprintf("%s is blacklisted and still holds %.8g, close it manually", pos.Symbol, pos.Size)
			a.logger.Error().Str("symbol", pos.Symbol).Float64("size", pos.Size).Str("trigger", trigger).Msg("Close-all cannot liquidate a blacklisted symbol")
			a.deps.Bus.PublishError("close_all", msg, execution.ErrBlacklisted)
			continue
		}
		intent := trading.ActionIntent{
			Symbol:     pos.Symbol,
			Side:       pos.Direction().ExitSide(),
			Quantity:   pos.Quantity(),
			RefPrice:   pos.MarkPrice,
			Reason:     reason,
			Detail:     trigger,
			Score:      trading.MaxPriority,
			ReduceOnly: true,
		}
		if intent.RefPrice <= 0 {
			intent.RefPrice = pos.EntryPrice
		}
		out := a.deps.Executor.Execute(ctx, intent, budget, a.state.Positions, a.state.Blacklist)
		metrics.ObserveOrder(out.Status, intent.Reason, out.Attempts)
		if out.Filled() {
			closed++
			a.state.Cooldowns.Record(pos.Symbol, a.now())
		} else {
			failed++
		}
	}

	a.logger.Warn().Str("trigger", trigger).Int("closed", closed).Int("failed", failed).Msg("Close-all sweep finished")
	a.deps.Bus.PublishCloseAll(trigger, closed, failed)
	return closed, failed
}

// strandedPositions returns the blacklisted symbols that still hold a
// position, sorted
func (a *Agent) strandedPositions() []string {
	var stranded []string
	for _, pos := range a.state.Positions.All() {
		if a.state.Blacklist.Contains(pos.Symbol) {
			stranded = append(stranded, pos.Symbol)
		}
	}
	sort.Strings(stranded)
	return stranded
}

// rank merges cleanup and signal intents, sorts them by descending score and
// keeps the first intent per symbol
func (a *Agent) rank(cleanup []trading.ActionIntent, evals []signal.Evaluation, report *CycleReport) []trading.ActionIntent {
	merged := make([]trading.ActionIntent, 0, len(cleanup)+len(evals))
	merged = append(merged, cleanup...)
	for _, ev := range evals {
		if ev.Intent != nil {
			merged = append(merged, *ev.Intent)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})

	targeted := make(map[string]bool, len(merged))
	out := merged[:0]
	for _, in := range merged {
		switch {
		case a.state.Blacklist.Contains(in.Symbol):
			report.drop("blacklisted")
		case targeted[in.Symbol]:
			report.drop("duplicate")
		default:
			targeted[in.Symbol] = true
			out = append(out, in)
		}
	}
	return out
}

func (a *Agent) finish(ctx context.Context, report *CycleReport, log zerolog.Logger) {
	now := a.now()
	account := a.state.Account()
	store := a.state.Positions
	halted := a.deps.Governor.Halted()
	report.Halted = halted
	report.Sentiment = a.state.Sentiment()

	if a.deps.Lifecycles != nil {
		if err := store.Persist(ctx, a.deps.Lifecycles); err != nil {
			log.Warn().Err(err).Msg("Failed to persist position lifecycles")
		}
	}

	positions := store.Snapshot()
	if a.deps.Snapshots != nil {
		snap := state.Snapshot{
			Timestamp:        now.UTC(),
			Cycle:            report.Cycle,
			Balance:          account.WalletBalance,
			AvailableBalance: account.AvailableBalance,
			InitialBalance:   account.InitialBalance,
			HighWaterMark:    account.HighWaterMark,
			Drawdown:         account.Drawdown,
			Positions:        positions,
			MarketScan:       a.state.MarketScan(),
			Sentiment:        report.Sentiment,
			Blacklist:        a.state.Blacklist.Snapshot(),
			RealizedPnL:      account.RealizedPnL,
			Halted:           halted,
			PaperTrading:     a.cfg.Exchange.PaperTrading,
		}
		if halted {
			snap.HaltReason = a.deps.Governor.Breaker().GetStats().TripReason
		}
		if err := a.deps.Snapshots.Save(snap); err != nil {
			log.Error().Err(err).Msg("Failed to write state snapshot")
		}
	}

	rec := trading.CycleRecord{
		Cycle:            report.Cycle,
		Timestamp:        now,
		Balance:          account.WalletBalance,
		AvailableBalance: account.AvailableBalance,
		OpenPnL:          store.OpenPnL(),
		PositionCount:    len(positions),
		Sentiment:        report.Sentiment,
		RealizedPnL:      account.RealizedPnL,
		Drawdown:         account.Drawdown,
		Halted:           halted,
	}
	if a.deps.Recorder != nil {
		if err := a.deps.Recorder.RecordCycle(ctx, rec); err != nil {
			log.Warn().Err(err).Msg("Failed to append cycle history")
		}
	}
	a.deps.Bus.PublishCycle(rec)

	longs, shorts := store.SideCounts()
	metrics.SetPortfolio(metrics.Portfolio{
		Wallet:      account.WalletBalance,
		Available:   account.AvailableBalance,
		OpenPnL:     rec.OpenPnL,
		Drawdown:    account.Drawdown,
		Longs:       longs,
		Shorts:      shorts,
		Sentiment:   report.Sentiment,
		Blacklisted: a.state.Blacklist.Len(),
		Halted:      halted,
	})

	log.Info().
		Float64("balance", account.WalletBalance).
		Float64("available", account.AvailableBalance).
		Float64("open_pnl", rec.OpenPnL).
		Int("positions", rec.PositionCount).
		Float64("sentiment", report.Sentiment).
		Int("intents", report.Intents).
		Int("executed", len(report.Outcomes)).
		Bool("halted", halted).
		Msg("Cycle complete")
}

func (a *Agent) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := time.Duration(a.cfg.Exchange.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// tradedSymbols is the configured basket plus any symbol with an open
// position, minus the blacklist
func (a *Agent) tradedSymbols() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(sym string) {
		sym = strings.ToUpper(sym)
		if seen[sym] || a.state.Blacklist.Contains(sym) {
			return
		}
		seen[sym] = true
		out = append(out, sym)
	}
	for _, sym := range a.cfg.Exchange.Symbols {
		add(sym)
	}
	for _, pos := range a.state.Positions.All() {
		add(pos.Symbol)
	}
	return out
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
