package exchange

import (
	"context"
	"errors"

	"binance-regime-grid-go/internal/models"
)

// ErrOrderNotFound 表示交易所不存在该订单
var ErrOrderNotFound = errors.New("order not found")

// MarketData provides tickers and candles.
type MarketData interface {
	Get24hStats(ctx context.Context, symbol string) (*models.Stats24h, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
}

// RulesProvider provides the venue trading filters of a symbol.
type RulesProvider interface {
	GetSymbolRules(ctx context.Context, symbol string) (*models.SymbolRules, error)
}

// Account provides balances.
type Account interface {
	GetBalances(ctx context.Context) ([]models.Balance, error)
}

// OrderClient places, cancels and queries orders.
// GetOrder returns ErrOrderNotFound when the venue has no such order.
type OrderClient interface {
	GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error)
	GetOrder(ctx context.Context, symbol string, orderID int64) (*models.Order, error)
	PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
}

// Exchange 定义了所有交易所实现必须提供的通用方法。
// 这使得交易机器人可以在真实交易和回测之间轻松切换。
type Exchange interface {
	MarketData
	RulesProvider
	Account
	OrderClient
}

// Advisor produces display-only rationale for a plan horizon. It never gates
// any control decision.
type Advisor interface {
	GetRationale(ctx context.Context, horizon models.Horizon, market models.MarketSnapshot, risk models.RiskSettings) (*models.Advisory, error)
}
