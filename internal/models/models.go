package models

import (
	"fmt"
	"time"
)

// Side 定义了交易方向的类型
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderType is the venue order type.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// OrderStatus mirrors the venue order lifecycle.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusExpired         OrderStatus = "EXPIRED"
	StatusRejected        OrderStatus = "REJECTED"
)

// IsOpen reports whether the order can still trade.
func (s OrderStatus) IsOpen() bool {
	return s == StatusNew || s == StatusPartiallyFilled
}

// Candle is one closed OHLCV bar. Sequences are ordered oldest first.
type Candle struct {
	OpenTime  time.Time `json:"open_time"`
	CloseTime time.Time `json:"close_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Stats24h is the rolling 24h ticker for a symbol.
type Stats24h struct {
	Symbol         string  `json:"symbol"`
	Price          float64 `json:"price"`
	High           float64 `json:"high"`
	Low            float64 `json:"low"`
	Volume         float64 `json:"volume"`
	QuoteVolume    float64 `json:"quote_volume"`
	PriceChangePct float64 `json:"price_change_pct"`
}

// SymbolRules holds the venue trading filters for a single symbol.
type SymbolRules struct {
	Symbol      string  `json:"symbol"`
	TickSize    float64 `json:"tick_size"`    // PRICE_FILTER
	StepSize    float64 `json:"step_size"`    // LOT_SIZE
	MinQty      float64 `json:"min_qty"`      // LOT_SIZE
	MinNotional float64 `json:"min_notional"` // MIN_NOTIONAL / NOTIONAL
}

// Balance is the free and locked amount of one asset.
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}

// Total returns free plus locked.
func (b Balance) Total() float64 {
	return b.Free + b.Locked
}

// FindBalance returns the balance for asset, or a zero balance when absent.
func FindBalance(balances []Balance, asset string) Balance {
	for _, b := range balances {
		if b.Asset == asset {
			return b
		}
	}
	return Balance{Asset: asset}
}

// Order 定义了订单信息
type Order struct {
	Symbol        string      `json:"symbol"`
	OrderID       int64       `json:"order_id"`
	ClientOrderID string      `json:"client_order_id"`
	Side          Side        `json:"side"`
	Type          OrderType   `json:"type"`
	Price         float64     `json:"price"`
	Quantity      float64     `json:"quantity"`
	ExecutedQty   float64     `json:"executed_qty"`
	CumQuote      float64     `json:"cum_quote"`
	Status        OrderStatus `json:"status"`
	Time          time.Time   `json:"time"`
	UpdateTime    time.Time   `json:"update_time"`
}

// AvgFillPrice returns the average execution price, falling back to the limit price.
func (o *Order) AvgFillPrice() float64 {
	if o.ExecutedQty > 0 && o.CumQuote > 0 {
		return o.CumQuote / o.ExecutedQty
	}
	return o.Price
}

// OrderRequest is the input for placing a new order.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType
	Quantity      float64
	Price         float64 // ignored for MARKET orders
	ClientOrderID string
	Rules         SymbolRules // precision used on the wire; zero value sends values as is
}

// RiskSettings are the sizing inputs of the strategy engine.
type RiskSettings struct {
	MaxPositionNotional  float64 `json:"max_position_notional"`   // home currency
	RiskPerTradeFraction float64 `json:"risk_per_trade_fraction"` // 0..1
	MakerFeeRate         float64 `json:"maker_fee_rate"`
	TakerFeeRate         float64 `json:"taker_fee_rate"`
}

// MarketSnapshot is the market view a plan is built from.
type MarketSnapshot struct {
	Symbol          string    `json:"symbol"`
	Price           float64   `json:"price"`
	Stats           Stats24h  `json:"stats"`
	QuoteToHomeRate float64   `json:"quote_to_home_rate"`
	AsOf            time.Time `json:"as_of"`
}

// Error 定义了交易所返回的错误信息结构
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Error 方法使得 Error 实现了 error 接口
func (e *Error) Error() string {
	return fmt.Sprintf("API Error: code=%d, msg=%s", e.Code, e.Msg)
}
