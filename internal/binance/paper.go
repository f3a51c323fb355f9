package binance

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"
)

// PaperConfig configures the simulated account
type PaperConfig struct {
	Balance  float64
	FeeRate  float64
	Leverage int
}

type paperPosition struct {
	amt      float64
	entry    float64
	leverage int
}

// PaperGateway fills market orders locally against live prices. Market data
// and exchange filters come from the wrapped MarketData when it provides them.
type PaperGateway struct {
	market MarketData
	logger zerolog.Logger

	mu        sync.Mutex
	wallet    float64
	feeRate   float64
	leverage  int
	positions map[string]*paperPosition
	prices    map[string]float64
	filters   map[string]SymbolFilters
	leverages map[string]int
	clientIDs map[string]*OrderResult
	orderSeq  int64
}

type filterSource interface {
	SymbolFilters(ctx context.Context, symbol string) (SymbolFilters, error)
	ReloadFilters(ctx context.Context) error
}

// DefaultPaperFilters is used for symbols the market source has no rules for
var DefaultPaperFilters = SymbolFilters{
	Status:      SymbolStatusTrading,
	MinQty:      0.001,
	MaxQty:      1_000_000,
	StepSize:    0.001,
	MinNotional: 5,
}

// NewPaperGateway creates a simulated gateway over market
func NewPaperGateway(market MarketData, cfg PaperConfig, logger zerolog.Logger) *PaperGateway {
	if cfg.Leverage <= 0 {
		cfg.Leverage = 1
	}
	return &PaperGateway{
		market:    market,
		logger:    logger.With().Str("component", "PaperGateway").Logger(),
		wallet:    cfg.Balance,
		feeRate:   cfg.FeeRate,
		leverage:  cfg.Leverage,
		positions: make(map[string]*paperPosition),
		prices:    make(map[string]float64),
		filters:   make(map[string]SymbolFilters),
		leverages: make(map[string]int),
		clientIDs: make(map[string]*OrderResult),
	}
}

// SetFilters overrides the trading rules of one symbol
func (p *PaperGateway) SetFilters(f SymbolFilters) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filters[f.Symbol] = f
}

// SetPrice pins the fill price of symbol until the next candle fetch
func (p *PaperGateway) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

func (p *PaperGateway) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	klines, err := p.market.FetchCandles(ctx, symbol, interval, limit)
	if err != nil {
		return nil, err
	}
	if n := len(klines); n > 0 {
		p.mu.Lock()
		p.prices[symbol] = klines[n-1].Close
		p.mu.Unlock()
	}
	return klines, nil
}

func (p *PaperGateway) FundingRate(ctx context.Context, symbol string) (float64, error) {
	return p.market.FundingRate(ctx, symbol)
}

func (p *PaperGateway) FetchAccount(ctx context.Context) (*Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	acc := &Account{WalletBalance: p.wallet}
	var usedMargin float64
	for sym, pos := range p.positions {
		mark := p.markLocked(sym, pos)
		upnl := (mark - pos.entry) * pos.amt
		acc.UnrealizedProfit += upnl
		usedMargin += math.Abs(pos.amt) * pos.entry / float64(pos.leverage)
		acc.Positions = append(acc.Positions, Position{
			Symbol:           sym,
			PositionAmt:      pos.amt,
			EntryPrice:       pos.entry,
			MarkPrice:        mark,
			UnrealizedProfit: upnl,
			Leverage:         pos.leverage,
		})
	}
	acc.AvailableBalance = math.Max(0, p.wallet+acc.UnrealizedProfit-usedMargin)
	return acc, nil
}

func (p *PaperGateway) FetchPositions(ctx context.Context) ([]Position, error) {
	acc, err := p.FetchAccount(ctx)
	if err != nil {
		return nil, err
	}
	return acc.Positions, nil
}

// PlaceMarketOrder fills immediately at the last known price with taker fees
func (p *PaperGateway) PlaceMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	f, err := p.SymbolFilters(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	if !f.Tradable() {
		return nil, NewError("place_order", req.Symbol, CodeInvalidSymbolStatus, "Invalid symbol status")
	}
	price, err := p.price(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if req.ClientOrderID != "" {
		if _, dup := p.clientIDs[req.ClientOrderID]; dup {
			return nil, NewError("place_order", req.Symbol, CodeDuplicateClientID, "ClientOrderId is duplicated")
		}
	}
	qty := req.Quantity
	if qty <= 0 {
		return nil, NewError("place_order", req.Symbol, CodeQuantityLessThanZero, "Quantity less than or equal to zero")
	}
	if f.StepSize > 0 && RoundDownToStep(qty, f.StepSize) != qty {
		return nil, NewError("place_order", req.Symbol, CodePrecisionOverMax, "Precision is over the maximum defined for this asset")
	}
	if f.MaxQty > 0 && qty > f.MaxQty {
		return nil, NewError("place_order", req.Symbol, CodeQuantityOverMax, "Quantity greater than max quantity")
	}

	sign := 1.0
	if req.Side == "SELL" {
		sign = -1
	}
	pos := p.positions[req.Symbol]

	if req.ReduceOnly {
		if pos == nil || pos.amt*sign >= 0 {
			return nil, NewError("place_order", req.Symbol, CodeReduceOnlyRejected, "ReduceOnly Order is rejected")
		}
		qty = math.Min(qty, math.Abs(pos.amt))
	} else if pos == nil || pos.amt*sign > 0 {
		if f.MinNotional > 0 && qty*price < f.MinNotional {
			return nil, NewError("place_order", req.Symbol, CodeNotionalTooSmall, "Order's notional must be no smaller than minimum")
		}
		lev := p.leverageLocked(req.Symbol)
		required := qty*price/float64(lev) + qty*price*p.feeRate
		if required > p.availableLocked() {
			return nil, NewError("place_order", req.Symbol, CodeMarginInsufficient, "Margin is insufficient.")
		}
	}

	p.applyFillLocked(req.Symbol, sign*qty, price)

	p.orderSeq++
	res := &OrderResult{
		OrderID:       p.orderSeq,
		ClientOrderID: req.ClientOrderID,
		Status:        "FILLED",
		ExecutedQty:   qty,
		AvgPrice:      price,
	}
	if req.ClientOrderID != "" {
		p.clientIDs[req.ClientOrderID] = res
	}
	p.logger.Debug().
		Str("symbol", req.Symbol).
		Str("side", req.Side).
		Float64("qty", qty).
		Float64("price", price).
		Bool("reduce_only", req.ReduceOnly).
		Msg("Paper fill")
	return res, nil
}

func (p *PaperGateway) CancelAllOrders(ctx context.Context, symbol string) error {
	return nil
}

func (p *PaperGateway) SymbolFilters(ctx context.Context, symbol string) (SymbolFilters, error) {
	p.mu.Lock()
	f, ok := p.filters[symbol]
	p.mu.Unlock()
	if ok {
		return f, nil
	}
	if src, ok := p.market.(filterSource); ok {
		return src.SymbolFilters(ctx, symbol)
	}
	f = DefaultPaperFilters
	f.Symbol = symbol
	return f, nil
}

func (p *PaperGateway) ReloadFilters(ctx context.Context) error {
	if src, ok := p.market.(filterSource); ok {
		return src.ReloadFilters(ctx)
	}
	return nil
}

func (p *PaperGateway) RoundToTradableQuantity(ctx context.Context, symbol string, quantity float64) (float64, error) {
	f, err := p.SymbolFilters(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return f.Round(quantity), nil
}

func (p *PaperGateway) MinimumOrderSize(ctx context.Context, symbol string, price float64) (float64, error) {
	f, err := p.SymbolFilters(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return f.MinimumQuantity(price), nil
}

func (p *PaperGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage <= 0 {
		return NewError("set_leverage", symbol, CodeFilterFailure, fmt.Sprintf("invalid leverage %d", leverage))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leverages[symbol] = leverage
	return nil
}

// applyFillLocked books a signed fill and its fee into the wallet
func (p *PaperGateway) applyFillLocked(symbol string, signedQty, price float64) {
	p.wallet -= math.Abs(signedQty) * price * p.feeRate

	pos := p.positions[symbol]
	if pos == nil {
		p.positions[symbol] = &paperPosition{amt: signedQty, entry: price, leverage: p.leverageLocked(symbol)}
		return
	}

	if pos.amt*signedQty > 0 {
		total := pos.amt + signedQty
		pos.entry = (pos.entry*math.Abs(pos.amt) + price*math.Abs(signedQty)) / math.Abs(total)
		pos.amt = total
		return
	}

	closed := math.Min(math.Abs(signedQty), math.Abs(pos.amt))
	direction := 1.0
	if pos.amt < 0 {
		direction = -1
	}
	p.wallet += (price - pos.entry) * closed * direction
	pos.amt += signedQty
	switch {
	case math.Abs(pos.amt) < 1e-12:
		delete(p.positions, symbol)
	case pos.amt*direction < 0:
		// Flipped through zero: the remainder opens at the fill price
		pos.entry = price
	}
}

func (p *PaperGateway) availableLocked() float64 {
	var upnl, used float64
	for sym, pos := range p.positions {
		upnl += (p.markLocked(sym, pos) - pos.entry) * pos.amt
		used += math.Abs(pos.amt) * pos.entry / float64(pos.leverage)
	}
	return p.wallet + upnl - used
}

func (p *PaperGateway) markLocked(symbol string, pos *paperPosition) float64 {
	if price, ok := p.prices[symbol]; ok && price > 0 {
		return price
	}
	return pos.entry
}

func (p *PaperGateway) leverageLocked(symbol string) int {
	if lev, ok := p.leverages[symbol]; ok {
		return lev
	}
	return p.leverage
}

func (p *PaperGateway) price(ctx context.Context, symbol string) (float64, error) {
	p.mu.Lock()
	price, ok := p.prices[symbol]
	p.mu.Unlock()
	if ok && price > 0 {
		return price, nil
	}
	klines, err := p.FetchCandles(ctx, symbol, "1m", 1)
	if err != nil {
		return 0, err
	}
	if len(klines) == 0 {
		return 0, NewError("place_order", symbol, 0, "no price available")
	}
	return klines[len(klines)-1].Close, nil
}
