package execution

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"futures-agent/internal/binance"
	"futures-agent/internal/logging"
	"futures-agent/internal/orders"
	"futures-agent/internal/position"
	"futures-agent/internal/trading"
)

func floatEquals(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

// scriptedGateway replays a queue of order errors and records submissions
type scriptedGateway struct {
	mu        sync.Mutex
	filters   binance.SymbolFilters
	filterErr error
	orderErrs []error
	positions []binance.Position
	requests  []binance.OrderRequest
	cancels   int
	reloads   int
	fillPrice float64 // Average price reported on fills; zero leaves it unset
}

func (g *scriptedGateway) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]binance.Kline, error) {
	return nil, nil
}

func (g *scriptedGateway) FundingRate(ctx context.Context, symbol string) (float64, error) {
	return 0, nil
}

func (g *scriptedGateway) FetchAccount(ctx context.Context) (*binance.Account, error) {
	return &binance.Account{}, nil
}

func (g *scriptedGateway) FetchPositions(ctx context.Context) ([]binance.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.positions, nil
}

func (g *scriptedGateway) PlaceMarketOrder(ctx context.Context, req binance.OrderRequest) (*binance.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if len(g.orderErrs) > 0 {
		err := g.orderErrs[0]
		g.orderErrs = g.orderErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &binance.OrderResult{ClientOrderID: req.ClientOrderID, Status: "FILLED", ExecutedQty: req.Quantity, AvgPrice: g.fillPrice}, nil
}

func (g *scriptedGateway) CancelAllOrders(ctx context.Context, symbol string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels++
	return nil
}

func (g *scriptedGateway) SymbolFilters(ctx context.Context, symbol string) (binance.SymbolFilters, error) {
	if g.filterErr != nil {
		return binance.SymbolFilters{}, g.filterErr
	}
	f := g.filters
	f.Symbol = symbol
	return f, nil
}

func (g *scriptedGateway) ReloadFilters(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reloads++
	return nil
}

func (g *scriptedGateway) RoundToTradableQuantity(ctx context.Context, symbol string, quantity float64) (float64, error) {
	return g.filters.Round(quantity), nil
}

func (g *scriptedGateway) MinimumOrderSize(ctx context.Context, symbol string, price float64) (float64, error) {
	return g.filters.MinimumQuantity(price), nil
}

func (g *scriptedGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}

type memoryBlacklist struct {
	symbols map[string]string
}

func newMemoryBlacklist() *memoryBlacklist {
	return &memoryBlacklist{symbols: make(map[string]string)}
}

func (b *memoryBlacklist) Add(symbol, reason string) { b.symbols[symbol] = reason }

func (b *memoryBlacklist) Contains(symbol string) bool {
	_, ok := b.symbols[symbol]
	return ok
}

type memoryJournal struct {
	records []trading.TradeRecord
}

func (j *memoryJournal) RecordTrade(ctx context.Context, rec trading.TradeRecord) error {
	j.records = append(j.records, rec)
	return nil
}

func defaultFilters() binance.SymbolFilters {
	return binance.SymbolFilters{Status: binance.SymbolStatusTrading, MinQty: 0.001, MaxQty: 1000, StepSize: 0.001, MinNotional: 5}
}

func newTestLayer(gw binance.Gateway, journal Journal) *Layer {
	l := NewLayer(gw, Config{MaxAttempts: 5, SafetyMultiple: 3, Leverage: 5}, nil, journal, logging.Nop())
	l.SetPolicy(Policy{
		MaxAttempts: 5,
		Backoff:     func(binance.ErrorCategory, int) time.Duration { return 0 },
	})
	return l
}

func entryIntent(qty float64) trading.ActionIntent {
	return trading.ActionIntent{
		Symbol:   "BTCUSDT",
		Side:     trading.SideBuy,
		Quantity: qty,
		RefPrice: 100,
		Reason:   trading.ReasonBreakout,
		Score:    9.5,
	}
}

func marginError() error {
	return binance.NewError("place_order", "BTCUSDT", binance.CodeMarginInsufficient, "Margin is insufficient.")
}

// ==================== Entries ====================

func TestExecuteEntryCommitsMargin(t *testing.T) {
	gw := &scriptedGateway{filters: defaultFilters()}
	journal := &memoryJournal{}
	layer := newTestLayer(gw, journal)
	store := position.NewStore(0.001, 0.0004)
	budget := NewBudget(1000)

	out := layer.Execute(context.Background(), entryIntent(2.0004), budget, store, newMemoryBlacklist())

	if out.Status != trading.TradeFilled {
		t.Fatalf("Expected FILLED, got %s (%v)", out.Status, out.Err)
	}
	if !floatEquals(out.Quantity, 2.0, 1e-9) {
		t.Errorf("Expected quantity rounded to 2.0, got %f", out.Quantity)
	}
	if !floatEquals(budget.Committed(), 40, 1e-9) {
		t.Errorf("Expected 40 committed, got %f", budget.Committed())
	}
	if !budget.InvariantHolds() {
		t.Error("Expected budget invariant to hold")
	}
	if !store.Has("BTCUSDT") {
		t.Error("Expected position in store")
	}
	if len(journal.records) != 1 || journal.records[0].Status != trading.TradeFilled {
		t.Errorf("Expected one FILLED journal record, got %+v", journal.records)
	}
	if orders.ParseClientOrderID(out.ClientOrderID) == nil {
		t.Errorf("Expected agent client order ID, got %s", out.ClientOrderID)
	}
}

func TestExecuteHalvesOnInsufficientMargin(t *testing.T) {
	gw := &scriptedGateway{filters: defaultFilters(), orderErrs: []error{marginError(), marginError()}}
	layer := newTestLayer(gw, nil)
	store := position.NewStore(0.001, 0.0004)

	out := layer.Execute(context.Background(), entryIntent(4), NewBudget(1000), store, newMemoryBlacklist())

	if out.Status != trading.TradeFilled {
		t.Fatalf("Expected FILLED, got %s (%v)", out.Status, out.Err)
	}
	if out.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", out.Attempts)
	}
	want := []float64{4, 2, 1}
	for i, req := range gw.requests {
		if !floatEquals(req.Quantity, want[i], 1e-9) {
			t.Errorf("Attempt %d: expected quantity %f, got %f", i+1, want[i], req.Quantity)
		}
	}
	first := orders.ParseClientOrderID(gw.requests[0].ClientOrderID)
	last := orders.ParseClientOrderID(gw.requests[2].ClientOrderID)
	if first == nil || last == nil || first.ChainID() != last.ChainID() || last.Revision != first.Revision+2 {
		t.Errorf("Expected resized IDs on one chain, got %s then %s", gw.requests[0].ClientOrderID, gw.requests[2].ClientOrderID)
	}
}

func TestExecuteAbortsWhenHalvingBelowMinimum(t *testing.T) {
	gw := &scriptedGateway{filters: defaultFilters(), orderErrs: []error{marginError()}}
	layer := newTestLayer(gw, nil)
	bl := newMemoryBlacklist()

	out := layer.Execute(context.Background(), entryIntent(0.06), NewBudget(1000), position.NewStore(0.001, 0), bl)

	if out.Status != trading.TradeAborted {
		t.Errorf("Expected ABORTED, got %s", out.Status)
	}
	if len(gw.requests) != 1 {
		t.Errorf("Expected 1 submission, got %d", len(gw.requests))
	}
	if bl.Contains("BTCUSDT") {
		t.Error("Expected no blacklist on a sizing abort")
	}
}

func TestExecuteAbortsOverSafetyMultiple(t *testing.T) {
	f := defaultFilters()
	f.MinNotional = 100 // 1.0 at price 100
	gw := &scriptedGateway{filters: f}
	layer := newTestLayer(gw, nil)

	out := layer.Execute(context.Background(), entryIntent(0.2), NewBudget(1000), position.NewStore(0.001, 0), newMemoryBlacklist())

	if out.Status != trading.TradeAborted || !errors.Is(out.Err, ErrBelowMinimum) {
		t.Errorf("Expected ABORTED with ErrBelowMinimum, got %s (%v)", out.Status, out.Err)
	}
	if len(gw.requests) != 0 {
		t.Errorf("Expected no submission, got %d", len(gw.requests))
	}
}

func TestExecuteRaisesToMinimumWithinSafetyMultiple(t *testing.T) {
	gw := &scriptedGateway{filters: defaultFilters()}
	layer := newTestLayer(gw, nil)

	out := layer.Execute(context.Background(), entryIntent(0.03), NewBudget(1000), position.NewStore(0.001, 0), newMemoryBlacklist())

	if out.Status != trading.TradeFilled {
		t.Fatalf("Expected FILLED, got %s", out.Status)
	}
	if !floatEquals(gw.requests[0].Quantity, 0.05, 1e-9) {
		t.Errorf("Expected quantity raised to 0.05, got %f", gw.requests[0].Quantity)
	}
}

func TestExecuteRespectsBudget(t *testing.T) {
	gw := &scriptedGateway{filters: defaultFilters()}
	layer := newTestLayer(gw, nil)

	out := layer.Execute(context.Background(), entryIntent(10), NewBudget(100), position.NewStore(0.001, 0), newMemoryBlacklist())

	if !errors.Is(out.Err, ErrBudgetExhausted) {
		t.Errorf("Expected ErrBudgetExhausted, got %v", out.Err)
	}
	if len(gw.requests) != 0 {
		t.Errorf("Expected no submission, got %d", len(gw.requests))
	}
}

// ==================== Exits ====================

func openLong(store *position.Store, qty float64) {
	store.ApplyFill("BTCUSDT", position.Fill{Side: trading.SideBuy, Quantity: qty, Price: 100, Leverage: 5})
}

func closeIntent(qty float64) trading.ActionIntent {
	return trading.ActionIntent{
		Symbol:     "BTCUSDT",
		Side:       trading.SideSell,
		Quantity:   qty,
		RefPrice:   110,
		Reason:     trading.ReasonTrailingStop,
		Score:      100,
		ReduceOnly: true,
	}
}

func TestExecuteCloseReleasesMargin(t *testing.T) {
	gw := &scriptedGateway{filters: defaultFilters()}
	layer := newTestLayer(gw, nil)
	store := position.NewStore(0.001, 0)
	openLong(store, 1)
	budget := NewBudget(500)

	out := layer.Execute(context.Background(), closeIntent(1), budget, store, newMemoryBlacklist())

	if out.Status != trading.TradeFilled {
		t.Fatalf("Expected FILLED, got %s", out.Status)
	}
	if !out.Fill.Closed {
		t.Error("Expected position closed")
	}
	if !floatEquals(out.Fill.RealizedPnL, 10, 1e-9) {
		t.Errorf("Expected realized PnL 10, got %f", out.Fill.RealizedPnL)
	}
	if !floatEquals(budget.Remaining(), 520, 1e-9) {
		t.Errorf("Expected 520 remaining after releasing 20 margin, got %f", budget.Remaining())
	}
	if !gw.requests[0].ReduceOnly {
		t.Error("Expected reduce-only submission")
	}
}

func TestReduceOnlyConflictOnFlatPositionIsAlreadyClosed(t *testing.T) {
	conflict := binance.NewError("place_order", "BTCUSDT", binance.CodeReduceOnlyRejected, "ReduceOnly Order is rejected.")
	gw := &scriptedGateway{filters: defaultFilters(), orderErrs: []error{conflict}}
	layer := newTestLayer(gw, nil)
	store := position.NewStore(0.001, 0)
	openLong(store, 1)
	bl := newMemoryBlacklist()

	first := layer.Execute(context.Background(), closeIntent(1), NewBudget(0), store, bl)
	if first.Status != trading.TradeAlreadyClosed {
		t.Fatalf("Expected ALREADY_CLOSED, got %s (%v)", first.Status, first.Err)
	}
	if store.Has("BTCUSDT") {
		t.Error("Expected local position removed")
	}
	if gw.cancels != 1 {
		t.Errorf("Expected open orders cancelled once, got %d", gw.cancels)
	}
	if bl.Contains("BTCUSDT") {
		t.Error("Expected no blacklist for an already closed position")
	}

	// Repeating the close is harmless
	gw.orderErrs = []error{conflict}
	second := layer.Execute(context.Background(), closeIntent(1), NewBudget(0), store, bl)
	if !second.Filled() {
		t.Errorf("Expected repeated close to succeed, got %s", second.Status)
	}
}

func TestReduceOnlyConflictShrinksToExchangeSize(t *testing.T) {
	conflict := binance.NewError("place_order", "BTCUSDT", binance.CodeReduceOnlyRejected, "ReduceOnly Order is rejected.")
	gw := &scriptedGateway{
		filters:   defaultFilters(),
		orderErrs: []error{conflict},
		positions: []binance.Position{{Symbol: "BTCUSDT", PositionAmt: 0.4}},
	}
	layer := newTestLayer(gw, nil)
	store := position.NewStore(0.001, 0)
	openLong(store, 1)

	out := layer.Execute(context.Background(), closeIntent(1), NewBudget(0), store, newMemoryBlacklist())

	if out.Status != trading.TradeFilled {
		t.Fatalf("Expected FILLED, got %s", out.Status)
	}
	if !floatEquals(gw.requests[1].Quantity, 0.4, 1e-9) {
		t.Errorf("Expected second attempt sized to 0.4, got %f", gw.requests[1].Quantity)
	}
}

func TestPartialTakeProfitUpgradedBelowMinimum(t *testing.T) {
	f := defaultFilters()
	f.MinQty = 0.5
	gw := &scriptedGateway{filters: f}
	layer := newTestLayer(gw, nil)
	store := position.NewStore(0.001, 0)
	openLong(store, 0.8)

	intent := closeIntent(0.4)
	intent.PartialTakeProfit = true
	intent.Reason = trading.ReasonPartialTP
	out := layer.Execute(context.Background(), intent, NewBudget(0), store, newMemoryBlacklist())

	if !floatEquals(gw.requests[0].Quantity, 0.8, 1e-9) {
		t.Errorf("Expected upgrade to full close of 0.8, got %f", gw.requests[0].Quantity)
	}
	if !out.Fill.Closed {
		t.Error("Expected position closed by upgraded partial")
	}
}

// ==================== Failures ====================

func TestInvalidSymbolBlacklistsImmediately(t *testing.T) {
	invalid := binance.NewError("place_order", "BTCUSDT", binance.CodeInvalidSymbol, "Invalid symbol.")
	gw := &scriptedGateway{filters: defaultFilters(), orderErrs: []error{invalid}}
	layer := newTestLayer(gw, nil)
	bl := newMemoryBlacklist()

	out := layer.Execute(context.Background(), entryIntent(1), NewBudget(1000), position.NewStore(0.001, 0), bl)

	if out.Status != trading.TradeFailed {
		t.Errorf("Expected FAILED, got %s", out.Status)
	}
	if len(gw.requests) != 1 {
		t.Errorf("Expected a single attempt, got %d", len(gw.requests))
	}
	if bl.symbols["BTCUSDT"] != "invalid_symbol" {
		t.Errorf("Expected invalid_symbol blacklist, got %q", bl.symbols["BTCUSDT"])
	}

	again := layer.Execute(context.Background(), entryIntent(1), NewBudget(1000), position.NewStore(0.001, 0), bl)
	if again.Status != trading.TradeSkipped {
		t.Errorf("Expected SKIPPED for blacklisted symbol, got %s", again.Status)
	}
}

func TestRetryBudgetExhaustionBlacklists(t *testing.T) {
	transient := binance.NewError("place_order", "BTCUSDT", binance.CodeTimeout, "Timeout waiting for response")
	gw := &scriptedGateway{filters: defaultFilters(), orderErrs: []error{transient, transient, transient, transient, transient}}
	layer := newTestLayer(gw, nil)
	bl := newMemoryBlacklist()
	budget := NewBudget(1000)

	out := layer.Execute(context.Background(), entryIntent(1), budget, position.NewStore(0.001, 0), bl)

	if out.Status != trading.TradeFailed {
		t.Errorf("Expected FAILED, got %s", out.Status)
	}
	if out.Attempts != 5 {
		t.Errorf("Expected 5 attempts, got %d", out.Attempts)
	}
	if !bl.Contains("BTCUSDT") {
		t.Error("Expected symbol blacklisted after exhausting retries")
	}
	if budget.Committed() != 0 {
		t.Errorf("Expected nothing committed, got %f", budget.Committed())
	}
}

func TestPrecisionReloadsFilters(t *testing.T) {
	precision := binance.NewError("place_order", "BTCUSDT", binance.CodePrecisionOverMax, "Precision is over the maximum defined for this asset.")
	gw := &scriptedGateway{filters: defaultFilters(), orderErrs: []error{precision}}
	layer := newTestLayer(gw, nil)

	out := layer.Execute(context.Background(), entryIntent(1), NewBudget(1000), position.NewStore(0.001, 0), newMemoryBlacklist())

	if out.Status != trading.TradeFilled {
		t.Errorf("Expected FILLED, got %s", out.Status)
	}
	if gw.reloads != 1 {
		t.Errorf("Expected filters reloaded once, got %d", gw.reloads)
	}
}

func TestDuplicateOrderBooksWhatExecuted(t *testing.T) {
	dup := binance.NewError("place_order", "BTCUSDT", binance.CodeDuplicateClientID, "Duplicate clientOrderId")
	gw := &scriptedGateway{
		filters:   defaultFilters(),
		orderErrs: []error{dup},
		positions: []binance.Position{{Symbol: "BTCUSDT", PositionAmt: 1, EntryPrice: 100, MarkPrice: 100}},
	}
	layer := newTestLayer(gw, nil)
	store := position.NewStore(0.001, 0)
	budget := NewBudget(1000)

	out := layer.Execute(context.Background(), entryIntent(1), budget, store, newMemoryBlacklist())

	if out.Status != trading.TradeFilled {
		t.Errorf("Expected FILLED, got %s", out.Status)
	}
	if len(gw.requests) != 1 {
		t.Errorf("Expected no resubmission, got %d requests", len(gw.requests))
	}
	pos, ok := store.Get("BTCUSDT")
	if !ok || !floatEquals(pos.Size, 1, 1e-9) {
		t.Errorf("Expected size 1 booked, got %+v", pos)
	}
	if !floatEquals(budget.Committed(), 20, 1e-9) {
		t.Errorf("Expected 20 committed, got %f", budget.Committed())
	}
}

func TestDuplicateOrderWithFlatExchangeResubmits(t *testing.T) {
	dup := binance.NewError("place_order", "BTCUSDT", binance.CodeDuplicateClientID, "Duplicate clientOrderId")
	gw := &scriptedGateway{filters: defaultFilters(), orderErrs: []error{dup}}
	layer := newTestLayer(gw, nil)
	store := position.NewStore(0.001, 0)
	budget := NewBudget(1000)

	out := layer.Execute(context.Background(), entryIntent(1), budget, store, newMemoryBlacklist())

	if len(gw.requests) != 2 {
		t.Fatalf("Expected a resubmission, got %d requests", len(gw.requests))
	}
	if gw.requests[0].ClientOrderID == gw.requests[1].ClientOrderID {
		t.Error("Expected a fresh client order ID for the resubmission")
	}
	if out.Status != trading.TradeFilled {
		t.Errorf("Expected FILLED by the resubmission, got %s", out.Status)
	}
	// One fill, not the phantom plus the real one
	pos, _ := store.Get("BTCUSDT")
	if !floatEquals(pos.Size, 1, 1e-9) {
		t.Errorf("Expected size 1, got %f", pos.Size)
	}
	if !floatEquals(budget.Committed(), 20, 1e-9) {
		t.Errorf("Expected 20 committed, got %f", budget.Committed())
	}
}

func TestDuplicateCloseBooksOnlyTheReduction(t *testing.T) {
	dup := binance.NewError("place_order", "BTCUSDT", binance.CodeDuplicateClientID, "Duplicate clientOrderId")
	gw := &scriptedGateway{
		filters:   defaultFilters(),
		orderErrs: []error{dup, dup, dup, dup, dup},
		// Nothing executed: the exchange still shows the full long
		positions: []binance.Position{{Symbol: "BTCUSDT", PositionAmt: 2, EntryPrice: 100, MarkPrice: 100}},
	}
	layer := newTestLayer(gw, nil)
	store := position.NewStore(0.001, 0)
	store.Reconcile(gw.positions, time.Now())

	intent := trading.ActionIntent{Symbol: "BTCUSDT", Side: trading.SideSell, Quantity: 2, RefPrice: 100, Reason: trading.ReasonTrailingStop, ReduceOnly: true}
	out := layer.Execute(context.Background(), intent, NewBudget(0), store, newMemoryBlacklist())

	if out.Status == trading.TradeFilled {
		t.Error("Expected no fill when the exchange position never changed")
	}
	pos, ok := store.Get("BTCUSDT")
	if !ok || !floatEquals(pos.Size, 2, 1e-9) {
		t.Errorf("Expected the long of 2 to remain booked, got %+v", pos)
	}
}

func TestSlippedFillChargesBudget(t *testing.T) {
	// 4.9 @ 100 at 5x needs 98 of the 100 budget; the fill lands at 110
	gw := &scriptedGateway{filters: defaultFilters(), fillPrice: 110}
	layer := newTestLayer(gw, nil)
	budget := NewBudget(100)

	out := layer.Execute(context.Background(), entryIntent(4.9), budget, position.NewStore(0.001, 0), newMemoryBlacklist())

	if out.Status != trading.TradeFilled {
		t.Fatalf("Expected FILLED, got %s", out.Status)
	}
	if !floatEquals(out.Margin, 107.8, 1e-6) {
		t.Errorf("Expected fill margin 107.8, got %f", out.Margin)
	}
	if !floatEquals(budget.Committed(), 107.8, 1e-6) {
		t.Errorf("Expected committed 107.8, got %f", budget.Committed())
	}
	if budget.Remaining() != 0 {
		t.Errorf("Expected nothing left, got %f", budget.Remaining())
	}
	if budget.InvariantHolds() {
		t.Error("Expected the overrun to break the invariant")
	}
	if budget.Fits(1) {
		t.Error("Expected later intents to find no margin")
	}
}

func TestUntradableSymbolBlacklisted(t *testing.T) {
	f := defaultFilters()
	f.Status = "SETTLING"
	gw := &scriptedGateway{filters: f}
	layer := newTestLayer(gw, nil)
	bl := newMemoryBlacklist()

	out := layer.Execute(context.Background(), entryIntent(1), NewBudget(1000), position.NewStore(0.001, 0), bl)

	if out.Status != trading.TradeAborted {
		t.Errorf("Expected ABORTED, got %s", out.Status)
	}
	if !bl.Contains("BTCUSDT") {
		t.Error("Expected SETTLING symbol blacklisted")
	}
}
