package orchestrator

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"futures-agent/config"
	"futures-agent/internal/binance"
	"futures-agent/internal/circuit"
	"futures-agent/internal/command"
	"futures-agent/internal/database"
	"futures-agent/internal/execution"
	"futures-agent/internal/logging"
	"futures-agent/internal/risk"
	"futures-agent/internal/signal"
	"futures-agent/internal/sizing"
	"futures-agent/internal/state"
	"futures-agent/internal/trading"
)

func floatEquals(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

// rangingMarket serves trendless zigzag candles around a base price
type rangingMarket struct {
	base   map[string]float64
	broken map[string]bool
}

func (m *rangingMarket) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]binance.Kline, error) {
	if m.broken[symbol] {
		return nil, binance.NewError("fetch_candles", symbol, binance.CodeTimeout, "Timeout waiting for response")
	}
	base, ok := m.base[symbol]
	if !ok {
		base = 10
	}
	start := time.Now().Add(-time.Duration(limit) * 5 * time.Minute)
	klines := make([]binance.Kline, limit)
	prev := base
	for i := range klines {
		c := base * 1.002
		if i%2 == 1 {
			c = base * 0.998
		}
		open := start.Add(time.Duration(i) * 5 * time.Minute)
		klines[i] = binance.Kline{
			OpenTime:  open.UnixMilli(),
			Open:      prev,
			High:      math.Max(prev, c) * 1.001,
			Low:       math.Min(prev, c) * 0.999,
			Close:     c,
			Volume:    1000,
			CloseTime: open.Add(5*time.Minute).UnixMilli() - 1,
		}
		prev = c
	}
	// Settle the last close on the base so fills happen at round prices
	klines[limit-1].Close = base
	return klines, nil
}

func (m *rangingMarket) FundingRate(ctx context.Context, symbol string) (float64, error) {
	return 0, nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Exchange.PaperTrading = true
	cfg.Exchange.Symbols = []string{"BTCUSDT", "ETHUSDT"}
	cfg.Exchange.CandleLimit = 120
	cfg.Orchestrator.CloseAllSettleSeconds = 0
	cfg.Persistence.SessionFile = ""
	return cfg
}

type testRig struct {
	agent    *Agent
	paper    *binance.PaperGateway
	market   *rangingMarket
	commands *command.RedisChannel
	repo     *database.RedisRunStateRepository
}

func newRig(t *testing.T, cfg *config.Config, balance float64) *testRig {
	t.Helper()
	market := &rangingMarket{
		base:   map[string]float64{"BTCUSDT": 100, "ETHUSDT": 50, "SOLUSDT": 20},
		broken: map[string]bool{},
	}
	logger := logging.Nop()
	paper := binance.NewPaperGateway(market, binance.PaperConfig{Balance: balance, FeeRate: cfg.Execution.FeeRate, Leverage: cfg.Exchange.Leverage}, logger)
	for sym, price := range market.base {
		paper.SetPrice(sym, price)
	}

	executor := execution.NewLayer(paper, execution.Config{MaxAttempts: 3, SafetyMultiple: 3, Leverage: cfg.Exchange.Leverage}, nil, nil, logger)
	executor.SetPolicy(execution.Policy{MaxAttempts: 3, Backoff: func(binance.ErrorCategory, int) time.Duration { return 0 }})

	breaker := circuit.NewBreaker(circuit.Config{Enabled: true, MaxDrawdown: cfg.Risk.MaxDrawdown})
	commands := command.NewRedisChannel(nil, "test")
	repo := database.NewRedisRunStateRepository(nil, "test", logger)

	agent := New(cfg, Deps{
		Gateway:  paper,
		Signals:  signal.New(cfg.Strategy, cfg.Risk, sizing.New(sizing.FromConfig(cfg.Risk, cfg.Strategy)), logger),
		Governor: risk.NewGovernor(cfg.Risk, breaker, logger),
		Executor: executor,
		Commands: commands,
		RunState: repo,
		Logger:   logger,
	})
	agent.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }

	if err := agent.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return &testRig{agent: agent, paper: paper, market: market, commands: commands, repo: repo}
}

func (r *testRig) open(t *testing.T, symbol, side string, qty float64) {
	t.Helper()
	if _, err := r.paper.PlaceMarketOrder(context.Background(), binance.OrderRequest{Symbol: symbol, Side: side, Quantity: qty}); err != nil {
		t.Fatalf("Paper open failed: %v", err)
	}
}

func (r *testRig) exchangePositions(t *testing.T) []binance.Position {
	t.Helper()
	positions, err := r.paper.FetchPositions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return positions
}

// ==================== Cycle ====================

func TestRunCycleAdoptsPositionsAndPersists(t *testing.T) {
	cfg := testConfig()
	dir := t.TempDir()
	rig := newRig(t, cfg, 1000)
	rig.agent.deps.Snapshots = state.NewSnapshotStore(filepath.Join(dir, "dashboard_state.json"))
	rig.agent.deps.Recorder = state.NewRecorder(filepath.Join(dir, "history.csv"), filepath.Join(dir, "trades.csv"), nil)

	rig.open(t, "SOLUSDT", "BUY", 5)

	report, err := rig.agent.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if report.Cycle != 1 {
		t.Errorf("Expected cycle 1, got %d", report.Cycle)
	}
	// Two configured symbols plus the adopted SOLUSDT position
	if report.Analyzed != 3 {
		t.Errorf("Expected 3 symbols analyzed, got %d", report.Analyzed)
	}
	if !rig.agent.State().Positions.Has("SOLUSDT") {
		t.Error("Expected exchange position adopted")
	}

	snap, err := state.NewSnapshotStore(filepath.Join(dir, "dashboard_state.json")).Latest()
	if err != nil {
		t.Fatalf("Expected snapshot on disk: %v", err)
	}
	if snap.Cycle != 1 || len(snap.Positions) != 1 || len(snap.MarketScan) != 3 {
		t.Errorf("Unexpected snapshot: cycle=%d positions=%d scan=%d", snap.Cycle, len(snap.Positions), len(snap.MarketScan))
	}
	if snap.InitialBalance != 1000 {
		t.Errorf("Expected initial balance 1000, got %f", snap.InitialBalance)
	}
}

func TestRunCycleExcludesFailedWorker(t *testing.T) {
	cfg := testConfig()
	rig := newRig(t, cfg, 1000)
	rig.market.broken["ETHUSDT"] = true

	report, err := rig.agent.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if len(report.Excluded) != 1 || report.Excluded[0] != "ETHUSDT" {
		t.Errorf("Expected ETHUSDT excluded, got %v", report.Excluded)
	}
	if report.Analyzed != 1 {
		t.Errorf("Expected 1 symbol analyzed, got %d", report.Analyzed)
	}
}

func TestCloseAllCommand(t *testing.T) {
	cfg := testConfig()
	rig := newRig(t, cfg, 1000)
	rig.open(t, "BTCUSDT", "BUY", 1)
	rig.open(t, "ETHUSDT", "SELL", 2)

	if err := rig.commands.Submit(context.Background(), command.NewCloseAll("test")); err != nil {
		t.Fatal(err)
	}

	report, err := rig.agent.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if !report.CloseAll {
		t.Error("Expected close-all cycle")
	}
	if n := len(rig.exchangePositions(t)); n != 0 {
		t.Errorf("Expected flat exchange, got %d positions", n)
	}
	if rig.agent.State().Positions.Len() != 0 {
		t.Error("Expected local book empty")
	}
	if _, ok, _ := rig.commands.Pending(context.Background()); ok {
		t.Error("Expected command acknowledged")
	}
	if !rig.agent.State().Cooldowns.Active("BTCUSDT", time.Now()) {
		t.Error("Expected cooldown after close-all")
	}
}

func TestBlacklistedPositionIsReportedStranded(t *testing.T) {
	cfg := testConfig()
	rig := newRig(t, cfg, 1000)
	rig.open(t, "BTCUSDT", "BUY", 1)
	rig.open(t, "ETHUSDT", "SELL", 2)
	rig.agent.State().Blacklist.Add("BTCUSDT", "retry_budget_exhausted")

	report, err := rig.agent.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if len(report.Stranded) != 1 || report.Stranded[0] != "BTCUSDT" {
		t.Errorf("Expected BTCUSDT stranded, got %v", report.Stranded)
	}

	_, failed := rig.agent.CloseAll(context.Background(), trading.ReasonCloseAll, "test")
	if failed != 1 {
		t.Errorf("Expected 1 failed close, got %d", failed)
	}
	if _, ok := rig.agent.State().Positions.Get("BTCUSDT"); !ok {
		t.Error("Expected blacklisted position left for the operator")
	}
	if _, ok := rig.agent.State().Positions.Get("ETHUSDT"); ok {
		t.Error("Expected ETHUSDT closed")
	}
}

func TestCircuitBreakerTripLiquidatesAndLatches(t *testing.T) {
	cfg := testConfig()
	rig := newRig(t, cfg, 740)
	// Session started at 1000: drawdown 0.26 against a 0.25 limit
	rig.agent.State().startSession(1000)
	rig.open(t, "BTCUSDT", "BUY", 1)

	report, err := rig.agent.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if !report.Tripped || !report.Halted {
		t.Fatalf("Expected trip, got tripped=%v halted=%v", report.Tripped, report.Halted)
	}
	if n := len(rig.exchangePositions(t)); n != 0 {
		t.Errorf("Expected liquidation, got %d positions", n)
	}

	// Still latched next cycle; entries are refused
	report, err = rig.agent.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !report.Halted || report.Tripped {
		t.Errorf("Expected latched halt without a new trip, got halted=%v tripped=%v", report.Halted, report.Tripped)
	}
	if gate := rig.agent.gate(trading.ActionIntent{Symbol: "SOLUSDT", Side: trading.SideBuy}, rig.agent.deps.Governor.Halted()); gate != GateHalted {
		t.Errorf("Expected halted gate, got %q", gate)
	}
}

// ==================== Margin ====================

func entry(symbol string, qty, price, score float64) trading.ActionIntent {
	return trading.ActionIntent{Symbol: symbol, Side: trading.SideBuy, Quantity: qty, RefPrice: price, Reason: trading.ReasonPullback, Score: score}
}

func TestMarginInvariantHoldsAcrossResize(t *testing.T) {
	cfg := testConfig()
	rig := newRig(t, cfg, 1000)
	account := trading.AccountSnapshot{WalletBalance: 1000, AvailableBalance: 1000}

	intents := []trading.ActionIntent{
		entry("BTCUSDT", 20, 100, 7), // 400 margin
		entry("ETHUSDT", 40, 50, 7),  // 400 margin
		entry("SOLUSDT", 100, 20, 7), // 400 margin, only ~200 left
	}
	var report CycleReport
	rig.agent.execute(context.Background(), intents, account, false, &report, logging.Nop())

	if report.Violations != 0 {
		t.Errorf("Expected no invariant violations, got %d", report.Violations)
	}
	if len(report.Outcomes) != 3 {
		t.Fatalf("Expected 3 executions, got %d", len(report.Outcomes))
	}
	var committed float64
	for _, out := range report.Outcomes {
		if out.Status != trading.TradeFilled {
			t.Errorf("Expected %s filled, got %s (%v)", out.Intent.Symbol, out.Status, out.Err)
		}
		committed += out.Margin
	}
	if committed > 1000 {
		t.Errorf("Expected committed margin <= 1000, got %f", committed)
	}
	sol := report.Outcomes[2]
	if !floatEquals(sol.Quantity, 47.5, 1e-9) {
		t.Errorf("Expected SOLUSDT resized to 47.5, got %f", sol.Quantity)
	}
}

func TestBudgetSkipsWhenRemainderTooSmall(t *testing.T) {
	cfg := testConfig()
	rig := newRig(t, cfg, 1000)
	account := trading.AccountSnapshot{WalletBalance: 1000, AvailableBalance: 405}

	intents := []trading.ActionIntent{
		entry("BTCUSDT", 20, 100, 7),
		entry("ETHUSDT", 40, 50, 7),
	}
	var report CycleReport
	rig.agent.execute(context.Background(), intents, account, false, &report, logging.Nop())

	if report.Dropped[GateBudget] != 1 {
		t.Errorf("Expected one budget drop, got %v", report.Dropped)
	}
	if len(report.Outcomes) != 1 {
		t.Errorf("Expected one execution, got %d", len(report.Outcomes))
	}
}

func TestRotationClosesWeakestPosition(t *testing.T) {
	cfg := testConfig()
	rig := newRig(t, cfg, 1000)
	rig.open(t, "ETHUSDT", "BUY", 40)
	rig.paper.SetPrice("ETHUSDT", 45)

	positions := rig.exchangePositions(t)
	rig.agent.State().Positions.Reconcile(positions, time.Now())
	acc, _ := rig.paper.FetchAccount(context.Background())
	account := trading.AccountSnapshot{WalletBalance: acc.WalletBalance, AvailableBalance: acc.AvailableBalance}

	var report CycleReport
	rig.agent.execute(context.Background(), []trading.ActionIntent{entry("BTCUSDT", 20, 100, 9.5)}, account, false, &report, logging.Nop())

	if report.Rotations != 1 {
		t.Fatalf("Expected one rotation, got %d", report.Rotations)
	}
	if len(report.Outcomes) != 2 {
		t.Fatalf("Expected rotation close plus entry, got %d outcomes", len(report.Outcomes))
	}
	if report.Outcomes[0].Intent.Reason != trading.ReasonRotation {
		t.Errorf("Expected rotation first, got %s", report.Outcomes[0].Intent.Reason)
	}
	if report.Outcomes[1].Status != trading.TradeFilled || !floatEquals(report.Outcomes[1].Quantity, 20, 1e-9) {
		t.Errorf("Expected full BTCUSDT entry, got %s %f", report.Outcomes[1].Status, report.Outcomes[1].Quantity)
	}
	if !rig.agent.State().Cooldowns.Active("ETHUSDT", time.Now()) {
		t.Error("Expected cooldown on rotated symbol")
	}
}

func TestNoRotationForWeakSignal(t *testing.T) {
	cfg := testConfig()
	rig := newRig(t, cfg, 1000)
	rig.open(t, "ETHUSDT", "BUY", 40)
	rig.agent.State().Positions.Reconcile(rig.exchangePositions(t), time.Now())

	victim, ok := rig.agent.rotationVictim(entry("BTCUSDT", 20, 100, 7.5), nil)
	if ok {
		t.Errorf("Expected no rotation for score 7.5, got victim %s", victim.Symbol)
	}
}

// ==================== Gates ====================

func TestGates(t *testing.T) {
	cfg := testConfig()
	cfg.Risk.MaxPositions = 5
	cfg.Risk.ImbalanceMinPositions = 4
	cfg.Risk.MaxSideImbalance = 0.7
	rig := newRig(t, cfg, 100000)

	for _, sym := range []string{"AAAUSDT", "BBBUSDT", "CCCUSDT", "DDDUSDT"} {
		rig.paper.SetPrice(sym, 10)
		rig.open(t, sym, "BUY", 1)
	}
	rig.agent.State().Positions.Reconcile(rig.exchangePositions(t), time.Now())
	rig.agent.State().Cooldowns.Record("COOLUSDT", time.Now())

	tests := []struct {
		name   string
		intent trading.ActionIntent
		halted bool
		want   string
	}{
		{"halted blocks entries", entry("NEWUSDT", 1, 10, 9), true, GateHalted},
		{"cooldown", entry("COOLUSDT", 1, 10, 9), false, GateCooldown},
		{"fifth long breaks the 0.7 balance", entry("NEWUSDT", 1, 10, 9), false, GateSideImbalance},
		{"short restores balance", trading.ActionIntent{Symbol: "NEWUSDT", Side: trading.SideSell, Quantity: 1, RefPrice: 10, Score: 9}, false, ""},
		{"augmentation skips count gates", trading.ActionIntent{Symbol: "AAAUSDT", Side: trading.SideBuy, Quantity: 1, RefPrice: 10, Augment: trading.AugmentPyramid}, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rig.agent.gate(tt.intent, tt.halted); got != tt.want {
				t.Errorf("Expected gate %q, got %q", tt.want, got)
			}
		})
	}

	rig.paper.SetPrice("EEEUSDT", 10)
	rig.open(t, "EEEUSDT", "SELL", 1)
	rig.agent.State().Positions.Reconcile(rig.exchangePositions(t), time.Now())
	if got := rig.agent.gate(trading.ActionIntent{Symbol: "NEWUSDT", Side: trading.SideSell}, false); got != GateMaxPositions {
		t.Errorf("Expected max positions gate, got %q", got)
	}
}

// ==================== Ranking and blacklist ====================

func TestRankOrdersByScoreAndDedupes(t *testing.T) {
	cfg := testConfig()
	rig := newRig(t, cfg, 1000)
	rig.agent.State().Blacklist.Add("BADUSDT", "invalid_symbol")

	cleanup := []trading.ActionIntent{{Symbol: "ETHUSDT", Side: trading.SideSell, Score: trading.MaxPriority, ReduceOnly: true, Reason: trading.ReasonToxic}}
	evals := []signal.Evaluation{
		{Symbol: "BTCUSDT", Intent: &trading.ActionIntent{Symbol: "BTCUSDT", Score: 9}},
		{Symbol: "ETHUSDT", Intent: &trading.ActionIntent{Symbol: "ETHUSDT", Score: signal.ExitScore, ReduceOnly: true}},
		{Symbol: "SOLUSDT", Intent: &trading.ActionIntent{Symbol: "SOLUSDT", Score: 12}},
		{Symbol: "BADUSDT", Intent: &trading.ActionIntent{Symbol: "BADUSDT", Score: 50}},
		{Symbol: "XRPUSDT"},
	}

	var report CycleReport
	ranked := rig.agent.rank(cleanup, evals, &report)

	want := []string{"ETHUSDT", "SOLUSDT", "BTCUSDT"}
	if len(ranked) != len(want) {
		t.Fatalf("Expected %d intents, got %d", len(want), len(ranked))
	}
	for i, sym := range want {
		if ranked[i].Symbol != sym {
			t.Errorf("Position %d: expected %s, got %s", i, sym, ranked[i].Symbol)
		}
	}
	if ranked[0].Reason != trading.ReasonToxic {
		t.Errorf("Expected the cleanup intent to win for ETHUSDT, got %s", ranked[0].Reason)
	}
	if report.Dropped["blacklisted"] != 1 || report.Dropped["duplicate"] != 1 {
		t.Errorf("Unexpected drops %v", report.Dropped)
	}
}

func TestBlacklistIsOneWay(t *testing.T) {
	repo := database.NewRedisRunStateRepository(nil, "test", logging.Nop())
	bl := NewBlacklist(repo, logging.Nop())

	bl.Add("LUNAUSDT", "invalid_symbol")
	bl.Add("LUNAUSDT", "retry_budget_exhausted")
	if got := bl.Snapshot()["LUNAUSDT"]; got != "invalid_symbol" {
		t.Errorf("Expected first reason kept, got %q", got)
	}

	// A restarted agent sees the entry
	restored := NewBlacklist(repo, logging.Nop())
	if _, err := restored.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !restored.Contains("LUNAUSDT") {
		t.Error("Expected blacklist to survive restart")
	}
}

func TestBlacklistedSymbolsAreNotScanned(t *testing.T) {
	cfg := testConfig()
	rig := newRig(t, cfg, 1000)
	rig.agent.State().Blacklist.Add("ETHUSDT", "invalid_symbol")

	for i := 0; i < 2; i++ {
		report, err := rig.agent.RunCycle(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if report.Analyzed != 1 {
			t.Errorf("Cycle %d: expected only BTCUSDT analyzed, got %d", i+1, report.Analyzed)
		}
	}
	if !rig.agent.State().Blacklist.Contains("ETHUSDT") {
		t.Error("Expected ETHUSDT to stay blacklisted")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	rig := newRig(t, cfg, 1000)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- rig.agent.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Expected clean stop, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestCooldownWindow(t *testing.T) {
	c := NewCooldowns(15*time.Minute, nil, logging.Nop())
	now := time.Now()
	c.Record("BTCUSDT", now)
	if !c.Active("BTCUSDT", now.Add(14*time.Minute)) {
		t.Error("Expected cooldown active after 14 minutes")
	}
	if c.Active("BTCUSDT", now.Add(16*time.Minute)) {
		t.Error("Expected cooldown expired after 16 minutes")
	}
}
