package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"binance-regime-grid-go/internal/models"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// 币安返回的订单不存在错误码
const codeOrderDoesNotExist = -2013

// LiveExchange 实现了 Exchange 接口，通过 go-binance 与币安现货交易所交互。
// 所有请求共用一个令牌桶限速器。
type LiveExchange struct {
	client  *binance.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewLiveExchange 创建一个新的 LiveExchange 实例，并与服务器同步时间。
// baseURL 为空时使用 go-binance 的默认地址。
func NewLiveExchange(ctx context.Context, apiKey, secretKey, baseURL string, testnet bool, ratePerSec float64, logger *zap.Logger) (*LiveExchange, error) {
	binance.UseTestnet = testnet
	client := binance.NewClient(apiKey, secretKey)
	if baseURL != "" && !testnet {
		client.BaseURL = baseURL
	}
	if ratePerSec <= 0 {
		ratePerSec = 10
	}
	e := &LiveExchange{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), int(ratePerSec)+1),
		logger:  logger,
	}

	offset, err := client.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("与币安服务器同步时间失败: %w", convertErr(err))
	}
	logger.Info("与币安服务器时间同步完成", zap.Int64("timeOffset (ms)", offset))
	return e, nil
}

func (e *LiveExchange) wait(ctx context.Context) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("请求限速等待失败: %w", err)
	}
	return nil
}

// --- MarketData ---

// GetKlines 获取最近 limit 根K线，按时间从旧到新排列。
func (e *LiveExchange) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	klines, err := e.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取 %s %s K线失败: %w", symbol, interval, convertErr(err))
	}

	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, models.Candle{
			OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
			CloseTime: time.UnixMilli(k.CloseTime).UTC(),
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
		})
	}
	return candles, nil
}

// Get24hStats 获取24小时滚动行情。
func (e *LiveExchange) Get24hStats(ctx context.Context, symbol string) (*models.Stats24h, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	stats, err := e.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取 %s 24小时行情失败: %w", symbol, convertErr(err))
	}
	for _, s := range stats {
		if s.Symbol != symbol {
			continue
		}
		return &models.Stats24h{
			Symbol:         s.Symbol,
			Price:          parseFloat(s.LastPrice),
			High:           parseFloat(s.HighPrice),
			Low:            parseFloat(s.LowPrice),
			Volume:         parseFloat(s.Volume),
			QuoteVolume:    parseFloat(s.QuoteVolume),
			PriceChangePct: parseFloat(s.PriceChangePercent),
		}, nil
	}
	return nil, fmt.Errorf("未找到交易对 %s 的24小时行情", symbol)
}

// --- RulesProvider ---

// GetSymbolRules 获取交易对的价格精度、数量精度和最小名义价值。
func (e *LiveExchange) GetSymbolRules(ctx context.Context, symbol string) (*models.SymbolRules, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	info, err := e.client.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取 %s 交易规则失败: %w", symbol, convertErr(err))
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		rules := &models.SymbolRules{Symbol: symbol}
		for _, f := range s.Filters {
			switch filterString(f, "filterType") {
			case "PRICE_FILTER":
				rules.TickSize = parseFloat(filterString(f, "tickSize"))
			case "LOT_SIZE":
				rules.StepSize = parseFloat(filterString(f, "stepSize"))
				rules.MinQty = parseFloat(filterString(f, "minQty"))
			case "MIN_NOTIONAL", "NOTIONAL":
				rules.MinNotional = parseFloat(filterString(f, "minNotional"))
			}
		}
		return rules, nil
	}
	return nil, fmt.Errorf("未找到交易对 %s 的信息", symbol)
}

// --- Account ---

// GetBalances 获取现货账户中所有资产的余额。
func (e *LiveExchange) GetBalances(ctx context.Context) ([]models.Balance, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	acc, err := e.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取账户信息失败: %w", convertErr(err))
	}
	balances := make([]models.Balance, 0, len(acc.Balances))
	for _, b := range acc.Balances {
		free, locked := parseFloat(b.Free), parseFloat(b.Locked)
		if free == 0 && locked == 0 {
			continue
		}
		balances = append(balances, models.Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return balances, nil
}

// --- OrderClient ---

// GetOpenOrders 获取所有挂单
func (e *LiveExchange) GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	orders, err := e.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取 %s 挂单失败: %w", symbol, convertErr(err))
	}
	out := make([]models.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrder(o))
	}
	return out, nil
}

// GetOrder 查询订单状态，订单不存在时返回 ErrOrderNotFound。
func (e *LiveExchange) GetOrder(ctx context.Context, symbol string, orderID int64) (*models.Order, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	o, err := e.client.NewGetOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
	if err != nil {
		err = convertErr(err)
		var apiErr *models.Error
		if errors.As(err, &apiErr) && apiErr.Code == codeOrderDoesNotExist {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("查询订单 %d 失败: %w", orderID, err)
	}
	order := toOrder(o)
	return &order, nil
}

// PlaceOrder 下单。LIMIT 单使用 GTC。
func (e *LiveExchange) PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	svc := e.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(binance.SideType(req.Side)).
		Type(binance.OrderType(req.Type)).
		Quantity(req.Rules.FormatQty(req.Quantity))
	if req.Type == models.OrderTypeLimit {
		svc = svc.TimeInForce(binance.TimeInForceTypeGTC).Price(req.Rules.FormatPrice(req.Price))
	}
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		err = convertErr(err)
		e.logger.Error("下单请求失败，交易所返回错误",
			zap.Error(err),
			zap.String("symbol", req.Symbol),
			zap.String("side", string(req.Side)),
			zap.Float64("price", req.Price),
			zap.Float64("quantity", req.Quantity))
		return nil, err
	}

	ts := time.UnixMilli(resp.TransactTime).UTC()
	return &models.Order{
		Symbol:        resp.Symbol,
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Side:          models.Side(resp.Side),
		Type:          models.OrderType(resp.Type),
		Price:         parseFloat(resp.Price),
		Quantity:      parseFloat(resp.OrigQuantity),
		ExecutedQty:   parseFloat(resp.ExecutedQuantity),
		CumQuote:      parseFloat(resp.CummulativeQuoteQuantity),
		Status:        models.OrderStatus(resp.Status),
		Time:          ts,
		UpdateTime:    ts,
	}, nil
}

// CancelOrder 取消订单。
func (e *LiveExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	if err := e.wait(ctx); err != nil {
		return err
	}
	if _, err := e.client.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx); err != nil {
		return fmt.Errorf("取消订单 %d 失败: %w", orderID, convertErr(err))
	}
	return nil
}

// convertErr 把 go-binance 的 APIError 转换成 models.Error，其它错误原样返回。
func convertErr(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return &models.Error{Code: int(apiErr.Code), Msg: apiErr.Message}
	}
	return err
}

func toOrder(o *binance.Order) models.Order {
	return models.Order{
		Symbol:        o.Symbol,
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Side:          models.Side(o.Side),
		Type:          models.OrderType(o.Type),
		Price:         parseFloat(o.Price),
		Quantity:      parseFloat(o.OrigQuantity),
		ExecutedQty:   parseFloat(o.ExecutedQuantity),
		CumQuote:      parseFloat(o.CummulativeQuoteQuantity),
		Status:        models.OrderStatus(o.Status),
		Time:          time.UnixMilli(o.Time).UTC(),
		UpdateTime:    time.UnixMilli(o.UpdateTime).UTC(),
	}
}

func filterString(f map[string]interface{}, key string) string {
	s, _ := f[key].(string)
	return s
}

// parseFloat 解析交易所返回的数值字符串，解析失败时返回 0
func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
