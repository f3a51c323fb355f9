// Package execution turns intents into exchange orders. It owns rounding to
// exchange filters, category-driven retries, idempotent client order IDs and
// the margin accounting of every fill.
package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"futures-agent/internal/binance"
	"futures-agent/internal/events"
	"futures-agent/internal/logging"
	"futures-agent/internal/orders"
	"futures-agent/internal/position"
	"futures-agent/internal/trading"
)

var (
	// ErrBlacklisted is returned for intents on excluded symbols
	ErrBlacklisted = errors.New("symbol is blacklisted")
	// ErrBelowMinimum is returned when an order cannot reach the exchange minimum
	ErrBelowMinimum = errors.New("order below exchange minimum")
)

// Blacklist is the one-way exclusion set shared with the orchestrator
type Blacklist interface {
	Add(symbol, reason string)
	Contains(symbol string) bool
}

// Journal records execution outcomes
type Journal interface {
	RecordTrade(ctx context.Context, rec trading.TradeRecord) error
}

// Config holds execution settings
type Config struct {
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	SafetyMultiple float64
	Leverage       int
}

// Outcome is the result of executing one intent
type Outcome struct {
	Intent        trading.ActionIntent
	Status        string
	ClientOrderID string
	Quantity      float64 // Executed quantity
	Price         float64 // Average fill price
	Attempts      int
	Margin        float64 // Committed (entries) or released (exits)
	Fill          position.FillResult
	Err           error
}

// Filled reports whether the exchange position changed or was already gone
func (o Outcome) Filled() bool {
	return o.Status == trading.TradeFilled || o.Status == trading.TradeAlreadyClosed
}

// Layer executes intents against a gateway
type Layer struct {
	gw      binance.Gateway
	cfg     Config
	policy  Policy
	bus     *events.EventBus
	journal Journal
	logger  zerolog.Logger
	now     func() time.Time
}

// NewLayer creates an execution layer. bus and journal may be nil.
func NewLayer(gw binance.Gateway, cfg Config, bus *events.EventBus, journal Journal, logger zerolog.Logger) *Layer {
	if cfg.SafetyMultiple < 1 {
		cfg.SafetyMultiple = 3
	}
	if cfg.Leverage <= 0 {
		cfg.Leverage = 1
	}
	return &Layer{
		gw:  gw,
		cfg: cfg,
		policy: Policy{
			MaxAttempts:     cfg.MaxAttempts,
			InitialInterval: cfg.BaseBackoff,
			MaxInterval:     cfg.MaxBackoff,
		},
		bus:     bus,
		journal: journal,
		logger:  logging.Component(logger, "Execution"),
		now:     time.Now,
	}
}

// SetPolicy replaces the retry policy
func (l *Layer) SetPolicy(p Policy) {
	l.policy = p
}

// attemptState is the mutable order being worked on across retries
type attemptState struct {
	filters       binance.SymbolFilters
	qty           float64
	id            orders.ClientOrderID
	result        *binance.OrderResult
	alreadyClosed bool
	partial       bool
	aborted       error
	before        float64 // Signed local size before the first submission
}

// Execute submits intent. It never returns an error; failures are reported
// in the Outcome and journaled.
func (l *Layer) Execute(ctx context.Context, intent trading.ActionIntent, budget *Budget, store *position.Store, bl Blacklist) Outcome {
	out := l.execute(ctx, intent, budget, store, bl)
	l.record(ctx, out)
	return out
}

func (l *Layer) execute(ctx context.Context, intent trading.ActionIntent, budget *Budget, store *position.Store, bl Blacklist) Outcome {
	out := Outcome{Intent: intent}
	symbol := intent.Symbol
	log := logging.Symbol(l.logger, symbol)

	if bl.Contains(symbol) {
		out.Status, out.Err = trading.TradeSkipped, ErrBlacklisted
		return out
	}

	filters, err := l.gw.SymbolFilters(ctx, symbol)
	if err != nil {
		if binance.CategoryOf(err).Terminal() {
			l.blacklist(bl, symbol, "invalid_symbol")
		}
		out.Status, out.Err = trading.TradeFailed, err
		return out
	}
	if !filters.Tradable() {
		l.blacklist(bl, symbol, "status_"+filters.Status)
		out.Status, out.Err = trading.TradeAborted, fmt.Errorf("symbol %s not trading (%s)", symbol, filters.Status)
		return out
	}

	price := intent.RefPrice
	local, hasLocal := store.Get(symbol)
	if price <= 0 && hasLocal {
		price = local.MarkPrice
	}
	if price <= 0 {
		out.Status, out.Err = trading.TradeAborted, fmt.Errorf("no reference price for %s", symbol)
		return out
	}

	st := &attemptState{
		filters: filters,
		qty:     intent.Quantity,
		id:      orders.NewClientOrderID(orders.TypeFor(intent)),
		partial: intent.PartialTakeProfit,
	}
	if hasLocal {
		st.before = local.Size
	}

	if err := l.prepare(st, intent, price, local, hasLocal); err != nil {
		log.Warn().Err(err).Float64("quantity", intent.Quantity).Msg("Order aborted before submission")
		out.Status, out.Err = trading.TradeAborted, err
		return out
	}

	lev := l.cfg.Leverage
	if !intent.ReduceOnly {
		margin := st.qty * price / float64(lev)
		if !budget.Fits(margin) {
			out.Status = trading.TradeAborted
			out.Err = fmt.Errorf("%w: %.4f needed", ErrBudgetExhausted, margin)
			return out
		}
	}

	err = Retry(ctx, l.policy, func(attempt int) error {
		out.Attempts = attempt
		return l.attempt(ctx, st, intent, price, attempt, bl)
	})
	out.ClientOrderID = st.id.String()

	switch {
	case st.alreadyClosed:
		if hasLocal {
			out.Margin = local.Margin()
			budget.Release(out.Margin)
		}
		store.Remove(symbol)
		out.Status = trading.TradeAlreadyClosed
		log.Info().Str("reason", string(intent.Reason)).Msg("Position already closed on exchange")
		return out

	case st.aborted != nil:
		out.Status, out.Err = trading.TradeAborted, st.aborted
		return out

	case err != nil:
		out.Status, out.Err = trading.TradeFailed, err
		category := binance.CategoryOf(err)
		if ctx.Err() == nil && !category.Terminal() {
			l.blacklist(bl, symbol, "retry_budget_exhausted:"+category.String())
		}
		log.Error().Err(err).Int("attempts", out.Attempts).Msg("Order failed")
		return out
	}

	execQty := st.qty
	fillPrice := price
	if st.result != nil {
		if st.result.ExecutedQty > 0 {
			execQty = st.result.ExecutedQty
		}
		if st.result.AvgPrice > 0 {
			fillPrice = st.result.AvgPrice
		}
	}

	out.Quantity, out.Price = execQty, fillPrice
	out.Status = trading.TradeFilled
	out.Fill = store.ApplyFill(symbol, position.Fill{
		Side:       intent.Side,
		Quantity:   execQty,
		Price:      fillPrice,
		ReduceOnly: intent.ReduceOnly,
		PartialTP:  st.partial,
		Augment:    intent.Augment,
		Leverage:   lev,
		DustQty:    filters.StepSize,
		Time:       l.now(),
	})

	if intent.ReduceOnly {
		if hasLocal && local.Quantity() > 0 {
			out.Margin = local.Margin() * math.Min(execQty/local.Quantity(), 1)
		} else {
			out.Margin = execQty * fillPrice / float64(lev)
		}
		budget.Release(out.Margin)
	} else {
		// The exchange has taken the margin whether or not it fits
		out.Margin = execQty * fillPrice / float64(lev)
		if over := budget.ForceCommit(out.Margin); over > 0 {
			log.Error().
				Float64("margin", out.Margin).
				Float64("overrun", over).
				Float64("ref_price", price).
				Float64("fill_price", fillPrice).
				Msg("Fill exceeded the cycle budget")
		}
	}

	log.Info().
		Str("side", string(intent.Side)).
		Float64("quantity", execQty).
		Float64("price", fillPrice).
		Str("reason", string(intent.Reason)).
		Float64("realized_pnl", out.Fill.RealizedPnL).
		Int("attempts", out.Attempts).
		Msg("Order filled")
	return out
}

// prepare applies the pre-submission rules: partial TP upgrade, safety
// multiple check, then rounding to the step
func (l *Layer) prepare(st *attemptState, intent trading.ActionIntent, price float64, local position.State, hasLocal bool) error {
	if intent.ReduceOnly && hasLocal && st.qty > local.Quantity() {
		st.qty = local.Quantity()
	}

	minQty := st.filters.MinimumQuantity(price)
	if intent.ReduceOnly {
		// Exchanges waive the notional minimum for reduce-only orders
		minQty = binance.RoundUpToStep(st.filters.MinQty, st.filters.StepSize)
	}

	if st.qty < minQty {
		switch {
		case st.partial && hasLocal:
			st.qty = local.Quantity()
			st.partial = false
		case intent.ReduceOnly:
			// Closing what is left
		case minQty > intent.Quantity*l.cfg.SafetyMultiple:
			return fmt.Errorf("%w: minimum %.8f exceeds %.1fx of %.8f", ErrBelowMinimum, minQty, l.cfg.SafetyMultiple, intent.Quantity)
		default:
			st.qty = minQty
		}
	}

	st.qty = st.filters.Round(st.qty)
	if st.qty <= 0 {
		return fmt.Errorf("%w: quantity rounds to zero", ErrBelowMinimum)
	}
	return nil
}

// attempt submits once and reacts to the failure category so the next
// attempt has a chance to succeed
func (l *Layer) attempt(ctx context.Context, st *attemptState, intent trading.ActionIntent, price float64, attempt int, bl Blacklist) error {
	symbol := intent.Symbol
	olog := logging.Order(l.logger, symbol, string(intent.Side), st.id.String(), st.qty, intent.ReduceOnly)

	res, err := l.gw.PlaceMarketOrder(ctx, binance.OrderRequest{
		Symbol:        symbol,
		Side:          string(intent.Side),
		Quantity:      st.qty,
		ReduceOnly:    intent.ReduceOnly,
		ClientOrderID: st.id.String(),
	})
	if err == nil {
		st.result = res
		return nil
	}

	category := binance.CategoryOf(err)
	olog.Warn().Err(err).Int("attempt", attempt).Str("category", category.String()).Msg("Order rejected")

	switch category {
	case binance.CategoryInsufficientMargin:
		if intent.ReduceOnly {
			return err
		}
		next := st.filters.Round(st.qty / 2)
		if next <= 0 || next < st.filters.MinQty || next*price < st.filters.MinNotional {
			st.aborted = fmt.Errorf("%w: halving below minimum after %v", ErrBelowMinimum, err)
			return Permanent(st.aborted)
		}
		l.resize(st, next)
		return err

	case binance.CategoryReduceOnlyConflict:
		if cerr := l.gw.CancelAllOrders(ctx, symbol); cerr != nil {
			olog.Warn().Err(cerr).Msg("Cancel open orders failed")
		}
		actual, ferr := l.exchangeSize(ctx, symbol)
		if ferr != nil {
			return err
		}
		// Flat, or on the side this order would add to: nothing to reduce
		if actual == 0 || actual*intent.Side.Sign() > 0 {
			st.alreadyClosed = true
			return nil
		}
		if math.Abs(actual) < st.qty {
			next := st.filters.Round(math.Abs(actual))
			if next <= 0 {
				st.alreadyClosed = true
				return nil
			}
			l.resize(st, next)
		}
		return err

	case binance.CategoryPrecision:
		if rerr := l.gw.ReloadFilters(ctx); rerr == nil {
			if f, ferr := l.gw.SymbolFilters(ctx, symbol); ferr == nil {
				st.filters = f
			}
		}
		next := st.filters.Round(st.qty)
		if attempt >= l.policy.MaxAttempts-1 {
			next = math.Floor(st.qty)
		}
		if next <= 0 {
			st.aborted = fmt.Errorf("%w: %v", ErrBelowMinimum, err)
			return Permanent(st.aborted)
		}
		if next != st.qty {
			l.resize(st, next)
		}
		return err

	case binance.CategoryInvalidSymbol:
		l.blacklist(bl, symbol, "invalid_symbol")
		return Permanent(err)

	case binance.CategoryMaxQuantity:
		next := st.filters.Round(st.qty / 2)
		if next <= 0 {
			return Permanent(err)
		}
		l.resize(st, next)
		return err

	case binance.CategoryDuplicateOrder:
		// An earlier attempt under this ID reached the exchange; book only
		// what the exchange position shows it executed
		actual, ferr := l.exchangeSize(ctx, symbol)
		if ferr != nil {
			return err
		}
		filled := (actual - st.before) * intent.Side.Sign()
		if filled >= st.qty-st.filters.StepSize/2 {
			filled = st.qty
		} else {
			filled = st.filters.Round(filled)
		}
		if filled <= 0 {
			olog.Warn().Float64("exchange_size", actual).Msg("Duplicate client order ID but nothing executed, resubmitting")
			st.id = st.id.Resized()
			return err
		}
		olog.Info().Float64("executed", filled).Msg("Duplicate client order ID, booking what the exchange executed")
		st.result = &binance.OrderResult{ClientOrderID: st.id.String(), Status: "FILLED", ExecutedQty: filled, AvgPrice: price}
		return nil
	}
	return err
}

func (l *Layer) resize(st *attemptState, qty float64) {
	st.qty = qty
	st.id = st.id.Resized()
}

// exchangeSize returns the signed exchange position for symbol
func (l *Layer) exchangeSize(ctx context.Context, symbol string) (float64, error) {
	positions, err := l.gw.FetchPositions(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range positions {
		if p.Symbol == symbol {
			return p.PositionAmt, nil
		}
	}
	return 0, nil
}

func (l *Layer) blacklist(bl Blacklist, symbol, reason string) {
	if bl.Contains(symbol) {
		return
	}
	bl.Add(symbol, reason)
	l.logger.Warn().Str("symbol", symbol).Str("reason", reason).Msg("Symbol blacklisted")
	l.bus.PublishBlacklisted(symbol, reason)
}

func (l *Layer) record(ctx context.Context, out Outcome) {
	rec := trading.TradeRecord{
		Timestamp:     l.now(),
		Symbol:        out.Intent.Symbol,
		Side:          out.Intent.Side,
		Quantity:      out.Quantity,
		Price:         out.Price,
		Reason:        out.Intent.Reason,
		Status:        out.Status,
		ClientOrderID: out.ClientOrderID,
		ReduceOnly:    out.Intent.ReduceOnly,
		RealizedPnL:   out.Fill.RealizedPnL,
		Attempts:      out.Attempts,
	}
	if rec.Quantity == 0 {
		rec.Quantity = out.Intent.Quantity
		rec.Price = out.Intent.RefPrice
	}
	if l.journal != nil {
		if err := l.journal.RecordTrade(ctx, rec); err != nil {
			l.logger.Warn().Err(err).Str("symbol", rec.Symbol).Msg("Failed to journal trade")
		}
	}
	l.bus.PublishTrade(rec)
	if out.Fill.Closed || out.Status == trading.TradeAlreadyClosed {
		l.bus.PublishPositionClosed(rec.Symbol, rec.Reason, rec.RealizedPnL)
	}
}
