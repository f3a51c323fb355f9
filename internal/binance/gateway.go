package binance

import "context"

// MarketData is the read-only market surface used by analysis workers
type MarketData interface {
	FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
	FundingRate(ctx context.Context, symbol string) (float64, error)
}

// Gateway is the exchange contract consumed by the agent. Implementations
// perform network calls and return typed *GatewayError values; they never
// swallow the exchange's code or message.
type Gateway interface {
	MarketData

	FetchAccount(ctx context.Context) (*Account, error)
	FetchPositions(ctx context.Context) ([]Position, error)
	PlaceMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	CancelAllOrders(ctx context.Context, symbol string) error

	SymbolFilters(ctx context.Context, symbol string) (SymbolFilters, error)
	ReloadFilters(ctx context.Context) error
	RoundToTradableQuantity(ctx context.Context, symbol string, quantity float64) (float64, error)
	MinimumOrderSize(ctx context.Context, symbol string, price float64) (float64, error)

	SetLeverage(ctx context.Context, symbol string, leverage int) error
}
