package exchange

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"binance-regime-grid-go/internal/models"
)

// 与币安现货一致的拒单错误码
const (
	codeInsufficientBalance = -2010
	codeUnknownOrder        = -2011
	codeFilterFailure       = -1013
)

// BacktestFill 是回测中的一笔成交记录。
type BacktestFill struct {
	Time     time.Time
	OrderID  int64
	Side     models.Side
	Type     models.OrderType
	Price    float64
	Quantity float64
	Fee      float64
}

// EquityPoint 是权益曲线上的一个点
type EquityPoint struct {
	Time   time.Time
	Equity float64
}

// BacktestExchange 实现了 Exchange 接口，在内存中模拟单个现货交易对的撮合，用于回测。
// K线按顺序通过 Advance 喂入，其余行情接口都基于已喂入的历史K线计算。
type BacktestExchange struct {
	Symbol     string
	BaseAsset  string
	QuoteAsset string
	Rules      models.SymbolRules

	MakerFeeRate float64
	TakerFeeRate float64
	SlippageRate float64 // 仅作用于市价单

	quoteFree, quoteLocked float64
	baseFree, baseLocked   float64

	CurrentPrice float64
	CurrentTime  time.Time

	history     []models.Candle
	orders      map[int64]*models.Order
	nextOrderID int64

	InitialEquity float64
	TotalFees     float64
	TradeLog      []BacktestFill
	EquityCurve   []EquityPoint

	mu sync.Mutex
}

// BacktestOptions 是 BacktestExchange 的初始化参数
type BacktestOptions struct {
	Symbol       string
	BaseAsset    string
	QuoteAsset   string
	Rules        models.SymbolRules
	InitialQuote float64
	InitialBase  float64
	MakerFeeRate float64
	TakerFeeRate float64
	SlippageRate float64
}

// NewBacktestExchange 创建一个新的 BacktestExchange 实例。
func NewBacktestExchange(opts BacktestOptions) *BacktestExchange {
	rules := opts.Rules
	rules.Symbol = opts.Symbol
	return &BacktestExchange{
		Symbol:       opts.Symbol,
		BaseAsset:    opts.BaseAsset,
		QuoteAsset:   opts.QuoteAsset,
		Rules:        rules,
		MakerFeeRate: opts.MakerFeeRate,
		TakerFeeRate: opts.TakerFeeRate,
		SlippageRate: opts.SlippageRate,
		quoteFree:    opts.InitialQuote,
		baseFree:     opts.InitialBase,
		orders:       make(map[int64]*models.Order),
		nextOrderID:  1,
		TradeLog:     make([]BacktestFill, 0),
		EquityCurve:  make([]EquityPoint, 0, 10000),
	}
}

// Advance 是回测的核心：喂入一根已收盘的K线，按 O->L->H->C 的路径撮合挂单，
// 然后记录权益。
func (e *BacktestExchange) Advance(c models.Candle) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.InitialEquity == 0 && len(e.history) == 0 {
		e.InitialEquity = e.quoteFree + e.quoteLocked + (e.baseFree+e.baseLocked)*c.Open
	}
	e.CurrentTime = c.CloseTime
	if e.CurrentTime.IsZero() {
		e.CurrentTime = c.OpenTime
	}

	for _, p := range []float64{c.Open, c.Low, c.High, c.Close} {
		e.CurrentPrice = p
		e.matchAt(p)
	}
	e.CurrentPrice = c.Close
	e.history = append(e.history, c)
	e.EquityCurve = append(e.EquityCurve, EquityPoint{Time: e.CurrentTime, Equity: e.equity()})
}

// matchAt 检查所有挂单在指定价格点是否成交。必须在持有锁的情况下调用。
func (e *BacktestExchange) matchAt(price float64) {
	ids := make([]int64, 0, len(e.orders))
	for id, o := range e.orders {
		if o.Status.IsOpen() && o.Type == models.OrderTypeLimit {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		o := e.orders[id]
		if (o.Side == models.Buy && price <= o.Price) || (o.Side == models.Sell && price >= o.Price) {
			e.fillLimit(o)
		}
	}
}

// fillLimit 以挂单价成交一个限价单，按 maker 费率收取手续费。
func (e *BacktestExchange) fillLimit(o *models.Order) {
	qty := o.Quantity - o.ExecutedQty
	notional := qty * o.Price
	fee := notional * e.MakerFeeRate

	if o.Side == models.Buy {
		e.quoteLocked -= notional
		e.quoteFree -= fee
		e.baseFree += qty
	} else {
		e.baseLocked -= qty
		e.quoteFree += notional - fee
	}
	e.complete(o, qty, o.Price, fee)
}

func (e *BacktestExchange) complete(o *models.Order, qty, price, fee float64) {
	o.Status = models.StatusFilled
	o.ExecutedQty += qty
	o.CumQuote += qty * price
	o.UpdateTime = e.CurrentTime
	e.TotalFees += fee
	e.TradeLog = append(e.TradeLog, BacktestFill{
		Time: e.CurrentTime, OrderID: o.OrderID, Side: o.Side, Type: o.Type,
		Price: price, Quantity: qty, Fee: fee,
	})
}

// equity 以当前价格计算账户总权益（计价资产）。必须在持有锁的情况下调用。
func (e *BacktestExchange) equity() float64 {
	return e.quoteFree + e.quoteLocked + (e.baseFree+e.baseLocked)*e.CurrentPrice
}

// Now 返回回测的当前时间，作为调度器的时钟。
func (e *BacktestExchange) Now() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.CurrentTime
}

// Equity 返回当前权益
func (e *BacktestExchange) Equity() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.equity()
}

// --- MarketData ---

// GetKlines 把已喂入的K线聚合成 interval 周期后返回最近 limit 根。
// 尚未收盘的最后一个周期也会返回。
func (e *BacktestExchange) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	d, err := IntervalDuration(interval)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.history) == 0 {
		return nil, fmt.Errorf("回测尚无K线数据")
	}

	base := e.history
	if len(base) > 1 {
		if step := base[1].OpenTime.Sub(base[0].OpenTime); step > 0 && d > step {
			need := (limit + 1) * int(d/step)
			if need < len(base) {
				base = base[len(base)-need:]
			}
		}
	}
	out := Aggregate(base, d)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Get24hStats 基于最近24小时的K线计算滚动行情。
func (e *BacktestExchange) Get24hStats(ctx context.Context, symbol string) (*models.Stats24h, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.history) == 0 {
		return nil, fmt.Errorf("回测尚无K线数据")
	}

	cutoff := e.CurrentTime.Add(-24 * time.Hour)
	stats := &models.Stats24h{Symbol: e.Symbol, Price: e.CurrentPrice}
	var open float64
	for i := len(e.history) - 1; i >= 0; i-- {
		c := e.history[i]
		if c.OpenTime.Before(cutoff) {
			break
		}
		open = c.Open
		if c.High > stats.High {
			stats.High = c.High
		}
		if stats.Low == 0 || c.Low < stats.Low {
			stats.Low = c.Low
		}
		stats.Volume += c.Volume
		stats.QuoteVolume += c.Volume * c.Close
	}
	if open > 0 {
		stats.PriceChangePct = (e.CurrentPrice - open) / open * 100
	}
	return stats, nil
}

// --- RulesProvider ---

// GetSymbolRules 返回回测配置的交易规则，避免网络调用
func (e *BacktestExchange) GetSymbolRules(ctx context.Context, symbol string) (*models.SymbolRules, error) {
	r := e.Rules
	return &r, nil
}

// --- Account ---

func (e *BacktestExchange) GetBalances(ctx context.Context) ([]models.Balance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return []models.Balance{
		{Asset: e.QuoteAsset, Free: e.quoteFree, Locked: e.quoteLocked},
		{Asset: e.BaseAsset, Free: e.baseFree, Locked: e.baseLocked},
	}, nil
}

// --- OrderClient ---

func (e *BacktestExchange) GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	open := make([]models.Order, 0)
	for _, o := range e.orders {
		if o.Symbol == symbol && o.Status.IsOpen() {
			open = append(open, *o)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].OrderID < open[j].OrderID })
	return open, nil
}

func (e *BacktestExchange) GetOrder(ctx context.Context, symbol string, orderID int64) (*models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	c := *o
	return &c, nil
}

// PlaceOrder 在回测中下单。限价单冻结资金等待撮合，市价单按当前价加滑点立即成交。
func (e *BacktestExchange) PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if req.Symbol != e.Symbol {
		return nil, &models.Error{Code: -1121, Msg: "Invalid symbol."}
	}
	if req.Quantity <= 0 || req.Quantity < e.Rules.MinQty {
		return nil, &models.Error{Code: codeFilterFailure, Msg: "Filter failure: LOT_SIZE"}
	}

	o := &models.Order{
		Symbol:        e.Symbol,
		OrderID:       e.nextOrderID,
		ClientOrderID: req.ClientOrderID,
		Side:          req.Side,
		Type:          req.Type,
		Price:         req.Price,
		Quantity:      req.Quantity,
		Status:        models.StatusNew,
		Time:          e.CurrentTime,
		UpdateTime:    e.CurrentTime,
	}

	switch req.Type {
	case models.OrderTypeLimit:
		if req.Price <= 0 || req.Price*req.Quantity < e.Rules.MinNotional {
			return nil, &models.Error{Code: codeFilterFailure, Msg: "Filter failure: NOTIONAL"}
		}
		if req.Side == models.Buy {
			cost := req.Price * req.Quantity
			if cost > e.quoteFree {
				return nil, insufficientBalance()
			}
			e.quoteFree -= cost
			e.quoteLocked += cost
		} else {
			if req.Quantity > e.baseFree {
				return nil, insufficientBalance()
			}
			e.baseFree -= req.Quantity
			e.baseLocked += req.Quantity
		}

	case models.OrderTypeMarket:
		if e.CurrentPrice <= 0 {
			return nil, &models.Error{Code: codeFilterFailure, Msg: "No market price."}
		}
		if err := e.fillMarket(o); err != nil {
			return nil, err
		}

	default:
		return nil, &models.Error{Code: -1116, Msg: "Invalid orderType."}
	}

	e.orders[o.OrderID] = o
	e.nextOrderID++
	c := *o
	return &c, nil
}

// fillMarket 按当前价加滑点成交市价单，按 taker 费率收取手续费。
func (e *BacktestExchange) fillMarket(o *models.Order) error {
	price := e.CurrentPrice * (1 + e.SlippageRate)
	if o.Side == models.Sell {
		price = e.CurrentPrice * (1 - e.SlippageRate)
	}
	notional := o.Quantity * price
	fee := notional * e.TakerFeeRate

	if o.Side == models.Buy {
		if notional+fee > e.quoteFree {
			return insufficientBalance()
		}
		e.quoteFree -= notional + fee
		e.baseFree += o.Quantity
	} else {
		if o.Quantity > e.baseFree {
			return insufficientBalance()
		}
		e.baseFree -= o.Quantity
		e.quoteFree += notional - fee
	}
	e.complete(o, o.Quantity, price, fee)
	return nil
}

// CancelOrder 取消挂单并释放冻结的资金。
func (e *BacktestExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[orderID]
	if !ok || !o.Status.IsOpen() {
		return &models.Error{Code: codeUnknownOrder, Msg: "Unknown order sent."}
	}
	remaining := o.Quantity - o.ExecutedQty
	if o.Side == models.Buy {
		cost := remaining * o.Price
		e.quoteLocked -= cost
		e.quoteFree += cost
	} else {
		e.baseLocked -= remaining
		e.baseFree += remaining
	}
	o.Status = models.StatusCanceled
	o.UpdateTime = e.CurrentTime
	return nil
}

func insufficientBalance() error {
	return &models.Error{Code: codeInsufficientBalance, Msg: "Account has insufficient balance for requested action."}
}

var intervals = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
}

// IntervalDuration 把币安的K线周期字符串转换成时长
func IntervalDuration(interval string) (time.Duration, error) {
	d, ok := intervals[interval]
	if !ok {
		return 0, fmt.Errorf("不支持的K线周期: %s", interval)
	}
	return d, nil
}

// Aggregate 把按时间排序的K线合并为 d 周期的K线，周期按 UTC 对齐。
func Aggregate(candles []models.Candle, d time.Duration) []models.Candle {
	var out []models.Candle
	for _, c := range candles {
		start := c.OpenTime.UTC().Truncate(d)
		if n := len(out); n > 0 && out[n-1].OpenTime.Equal(start) {
			last := &out[n-1]
			if c.High > last.High {
				last.High = c.High
			}
			if c.Low < last.Low {
				last.Low = c.Low
			}
			last.Close = c.Close
			last.Volume += c.Volume
			last.CloseTime = c.CloseTime
			continue
		}
		out = append(out, models.Candle{
			OpenTime: start, CloseTime: c.CloseTime,
			Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume,
		})
	}
	return out
}
