package binance

import (
	"context"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"
)

// FuturesGateway implements Gateway on Binance USD-M futures
type FuturesGateway struct {
	client   *futures.Client
	throttle *Throttle
	filters  *filterBook
	logger   zerolog.Logger
}

// FuturesGatewayConfig holds connection settings
type FuturesGatewayConfig struct {
	APIKey            string
	SecretKey         string
	TestNet           bool
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	Burst             int
}

// NewFuturesGateway creates a gateway. The testnet switch is package-global
// in go-binance and must be set before the client is built.
func NewFuturesGateway(cfg FuturesGatewayConfig, logger zerolog.Logger) *FuturesGateway {
	futures.UseTestnet = cfg.TestNet
	g := &FuturesGateway{
		client:   futures.NewClient(cfg.APIKey, cfg.SecretKey),
		throttle: NewThrottle(cfg.RequestsPerSecond, cfg.Burst, cfg.RequestTimeout),
		logger:   logger.With().Str("component", "FuturesGateway").Logger(),
	}
	g.filters = newFilterBook(g.loadFilters)
	return g
}

// FetchCandles returns the most recent candles, oldest first
func (g *FuturesGateway) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	var raw []*futures.Kline
	err := g.throttle.call(ctx, func(ctx context.Context) error {
		var err error
		raw, err = g.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
		return err
	})
	if err != nil {
		return nil, Wrap("fetch_candles", symbol, err)
	}

	klines := make([]Kline, 0, len(raw))
	for _, k := range raw {
		klines = append(klines, Kline{
			OpenTime:  k.OpenTime,
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
			CloseTime: k.CloseTime,
		})
	}
	return klines, nil
}

// FundingRate returns the last funding rate for symbol
func (g *FuturesGateway) FundingRate(ctx context.Context, symbol string) (float64, error) {
	var idx []*futures.PremiumIndex
	err := g.throttle.call(ctx, func(ctx context.Context) error {
		var err error
		idx, err = g.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return 0, Wrap("funding_rate", symbol, err)
	}
	for _, p := range idx {
		if p.Symbol == symbol {
			return parseFloat(p.LastFundingRate), nil
		}
	}
	return 0, nil
}

// FetchAccount returns balances and non-zero positions
func (g *FuturesGateway) FetchAccount(ctx context.Context) (*Account, error) {
	var acc *futures.Account
	err := g.throttle.call(ctx, func(ctx context.Context) error {
		var err error
		acc, err = g.client.NewGetAccountService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, Wrap("fetch_account", "", err)
	}

	out := &Account{
		WalletBalance:    parseFloat(acc.TotalWalletBalance),
		AvailableBalance: parseFloat(acc.AvailableBalance),
		UnrealizedProfit: parseFloat(acc.TotalUnrealizedProfit),
	}
	for _, p := range acc.Positions {
		amt := parseFloat(p.PositionAmt)
		if amt == 0 {
			continue
		}
		lev, _ := strconv.Atoi(p.Leverage)
		out.Positions = append(out.Positions, Position{
			Symbol:           p.Symbol,
			PositionAmt:      amt,
			EntryPrice:       parseFloat(p.EntryPrice),
			UnrealizedProfit: parseFloat(p.UnrealizedProfit),
			Leverage:         lev,
		})
	}
	return out, nil
}

// FetchPositions returns the exchange's open positions with mark prices
func (g *FuturesGateway) FetchPositions(ctx context.Context) ([]Position, error) {
	var risks []*futures.PositionRisk
	err := g.throttle.call(ctx, func(ctx context.Context) error {
		var err error
		risks, err = g.client.NewGetPositionRiskService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, Wrap("fetch_positions", "", err)
	}

	var out []Position
	for _, p := range risks {
		amt := parseFloat(p.PositionAmt)
		if amt == 0 {
			continue
		}
		lev, _ := strconv.Atoi(p.Leverage)
		out = append(out, Position{
			Symbol:           p.Symbol,
			PositionAmt:      amt,
			EntryPrice:       parseFloat(p.EntryPrice),
			MarkPrice:        parseFloat(p.MarkPrice),
			UnrealizedProfit: parseFloat(p.UnRealizedProfit),
			Leverage:         lev,
		})
	}
	return out, nil
}

// PlaceMarketOrder submits a MARKET order. The quantity must already be
// rounded; it is formatted with the symbol's step precision.
func (g *FuturesGateway) PlaceMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	f, err := g.filters.get(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}

	svc := g.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderTypeMarket).
		Quantity(FormatQuantity(req.Quantity, f.StepSize)).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}

	var res *futures.CreateOrderResponse
	err = g.throttle.call(ctx, func(ctx context.Context) error {
		var err error
		res, err = svc.Do(ctx)
		return err
	})
	if err != nil {
		return nil, Wrap("place_order", req.Symbol, err)
	}

	return &OrderResult{
		OrderID:       res.OrderID,
		ClientOrderID: res.ClientOrderID,
		Status:        string(res.Status),
		ExecutedQty:   parseFloat(res.ExecutedQuantity),
		AvgPrice:      parseFloat(res.AvgPrice),
	}, nil
}

// CancelAllOrders cancels every open order on symbol
func (g *FuturesGateway) CancelAllOrders(ctx context.Context, symbol string) error {
	err := g.throttle.call(ctx, func(ctx context.Context) error {
		return g.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx)
	})
	return Wrap("cancel_all", symbol, err)
}

// SymbolFilters returns cached trading rules, loading them on first use
func (g *FuturesGateway) SymbolFilters(ctx context.Context, symbol string) (SymbolFilters, error) {
	return g.filters.get(ctx, symbol)
}

// ReloadFilters refreshes the trading rules from exchange info
func (g *FuturesGateway) ReloadFilters(ctx context.Context) error {
	return g.filters.reload(ctx)
}

// RoundToTradableQuantity truncates quantity to the symbol's step and max
func (g *FuturesGateway) RoundToTradableQuantity(ctx context.Context, symbol string, quantity float64) (float64, error) {
	f, err := g.filters.get(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return f.Round(quantity), nil
}

// MinimumOrderSize returns the smallest valid quantity at price
func (g *FuturesGateway) MinimumOrderSize(ctx context.Context, symbol string, price float64) (float64, error) {
	f, err := g.filters.get(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return f.MinimumQuantity(price), nil
}

// SetLeverage sets the initial leverage for symbol
func (g *FuturesGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	err := g.throttle.call(ctx, func(ctx context.Context) error {
		_, err := g.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
		return err
	})
	return Wrap("set_leverage", symbol, err)
}

// EnsureOneWayMode switches the account to one-way position mode.
// -4059 means the account is already in that mode.
func (g *FuturesGateway) EnsureOneWayMode(ctx context.Context) error {
	err := g.throttle.call(ctx, func(ctx context.Context) error {
		return g.client.NewChangePositionModeService().DualSide(false).Do(ctx)
	})
	if err == nil {
		return nil
	}
	wrapped := Wrap("position_mode", "", err)
	if gwErr, ok := wrapped.(*GatewayError); ok && gwErr.Code == -4059 {
		return nil
	}
	return wrapped
}

func (g *FuturesGateway) loadFilters(ctx context.Context) (map[string]SymbolFilters, error) {
	var info *futures.ExchangeInfo
	err := g.throttle.call(ctx, func(ctx context.Context) error {
		var err error
		info, err = g.client.NewExchangeInfoService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, Wrap("exchange_info", "", err)
	}

	out := make(map[string]SymbolFilters, len(info.Symbols))
	for i := range info.Symbols {
		s := &info.Symbols[i]
		f := SymbolFilters{Symbol: s.Symbol, Status: s.Status}
		if lot := s.LotSizeFilter(); lot != nil {
			f.MinQty = parseFloat(lot.MinQuantity)
			f.MaxQty = parseFloat(lot.MaxQuantity)
			f.StepSize = parseFloat(lot.StepSize)
		}
		// Market orders are bounded by MARKET_LOT_SIZE when it is tighter
		if mlot := s.MarketLotSizeFilter(); mlot != nil {
			if maxQty := parseFloat(mlot.MaxQuantity); maxQty > 0 && (f.MaxQty == 0 || maxQty < f.MaxQty) {
				f.MaxQty = maxQty
			}
		}
		if mn := s.MinNotionalFilter(); mn != nil {
			f.MinNotional = parseFloat(mn.Notional)
		}
		out[s.Symbol] = f
	}
	g.logger.Debug().Int("symbols", len(out)).Msg("Exchange filters loaded")
	return out, nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
