package grid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"binance-regime-grid-go/internal/exchange"
	"binance-regime-grid-go/internal/models"

	"go.uber.org/zap"
)

// venue codes meaning the order is already gone
const (
	codeUnknownOrder = -2011
	codeNoSuchOrder  = -2013
)

// codeFilterFailure is the venue rejection for price/lot/notional filters.
const codeFilterFailure = -1013

// ActionError is a failed order action with the venue reason, if any.
type ActionError struct {
	Action Action
	Code   int
	Msg    string
	Err    error
}

func (e ActionError) Error() string {
	return fmt.Sprintf("%s %s level %d: %v", e.Action.Kind, e.Action.Side, e.Action.Level, e.Err)
}

// Result is the outcome of one reconciliation tick.
type Result struct {
	State    *models.GridState
	Actions  []Action
	Executed []Action
	Errors   []ActionError
	Report   Report
}

// Recorder receives per-action outcomes; the metrics package implements it.
type Recorder interface {
	OrderPlaced(symbol string, side models.Side)
	OrderCancelled(symbol string, side models.Side)
	OrderFailed(symbol string, kind string)
}

// RulesInvalidator drops cached symbol rules; CachedRules implements it.
type RulesInvalidator interface {
	Invalidate(symbol string)
}

type nopRecorder struct{}

func (nopRecorder) OrderPlaced(string, models.Side)    {}
func (nopRecorder) OrderCancelled(string, models.Side) {}
func (nopRecorder) OrderFailed(string, string)         {}

// Reconciler executes grid ticks against an order client. One Reconciler may
// serve many grids, but ticks for the same grid must not overlap.
type Reconciler struct {
	orders      exchange.OrderClient
	timeout     time.Duration
	recorder    Recorder
	invalidator RulesInvalidator
	logger      *zap.Logger
}

// NewReconciler creates a Reconciler. recorder may be nil.
func NewReconciler(orders exchange.OrderClient, timeout time.Duration, recorder Recorder, logger *zap.Logger) *Reconciler {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Reconciler{orders: orders, timeout: timeout, recorder: recorder, logger: logger}
}

// SetRulesInvalidator makes filter rejections drop the cached rules of the symbol.
func (r *Reconciler) SetRulesInvalidator(inv RulesInvalidator) {
	r.invalidator = inv
}

// ResolveMissing looks up tracked orders that are absent from the open set.
func (r *Reconciler) ResolveMissing(ctx context.Context, g *models.GridState, obs *Observation) {
	if !obs.OpenKnown {
		return
	}
	open := make(map[int64]bool, len(obs.OpenOrders))
	for _, o := range obs.OpenOrders {
		open[o.OrderID] = true
	}
	if obs.Resolved == nil {
		obs.Resolved = make(map[int64]*models.Order)
	}
	if obs.Missing == nil {
		obs.Missing = make(map[int64]bool)
	}
	for _, o := range g.OpenOrders() {
		if open[o.OrderID] {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, r.timeout)
		got, err := r.orders.GetOrder(cctx, g.Symbol, o.OrderID)
		cancel()
		switch {
		case errors.Is(err, exchange.ErrOrderNotFound) || isGone(err):
			obs.Missing[o.OrderID] = true
		case err != nil:
			r.logger.Sugar().Warnf("[%s] 查询订单 %d 失败: %v", g.Symbol, o.OrderID, err)
		default:
			obs.Resolved[o.OrderID] = got
		}
	}
}

// Tick resolves missing orders, plans the next state and executes the plan.
// Action failures are collected and never stop the remaining actions.
func (r *Reconciler) Tick(ctx context.Context, prev *models.GridState, obs Observation, p Params) Result {
	r.ResolveMissing(ctx, prev, &obs)
	next, actions, rep := Reconcile(prev, obs, p)
	res := Result{State: next, Actions: actions, Report: rep}

	log := r.logger.Sugar().With("symbol", next.Symbol)
	switch rep.Transition {
	case TransitionPaused:
		log.Warnf("暂停买单: reason=%s price=%.8g", next.PauseReason, obs.Price)
	case TransitionReason:
		log.Warnf("暂停原因变更为 %s", next.PauseReason)
	case TransitionResumed:
		log.Infof("恢复买单: price=%.8g", obs.Price)
	}
	if rep.Stopped {
		log.Errorf("价格 %.8g 跌破终止线, 网格停止, 处理方式=%s", obs.Price, next.Liquidation)
	}

	// cancels first so released balance is visible to the venue before placing
	for _, a := range actions {
		if a.Kind == ActionCancel {
			r.execute(ctx, next, a, obs.Rules, p.MakerFeeRate, &res)
		}
	}
	for _, a := range actions {
		if a.Kind != ActionCancel {
			r.execute(ctx, next, a, obs.Rules, p.MakerFeeRate, &res)
		}
	}
	return res
}

func (r *Reconciler) execute(ctx context.Context, g *models.GridState, a Action, rules models.SymbolRules, feeRate float64, res *Result) {
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	switch a.Kind {
	case ActionCancel:
		err := r.orders.CancelOrder(cctx, g.Symbol, a.OrderID)
		if err != nil && (isGone(err) || errors.Is(err, exchange.ErrOrderNotFound)) {
			// filled or cancelled since the open-order snapshot
			if !r.settle(cctx, g, a, feeRate, res) {
				return
			}
		} else if err != nil {
			r.fail(g, a, err, res)
			return
		}
		clearTracked(g, a)
		r.recorder.OrderCancelled(g.Symbol, a.Side)

	case ActionPlace:
		order, err := r.orders.PlaceOrder(cctx, models.OrderRequest{
			Symbol:        g.Symbol,
			Side:          a.Side,
			Type:          models.OrderTypeLimit,
			Quantity:      a.Quantity,
			Price:         a.Price,
			ClientOrderID: a.ClientOrderID,
			Rules:         rules,
		})
		if err != nil {
			r.fail(g, a, err, res)
			return
		}
		if a.Level >= 0 && a.Level < len(g.Levels) {
			g.Levels[a.Level].SetOrder(a.Side, &models.GridOrder{
				OrderID:       order.OrderID,
				ClientOrderID: order.ClientOrderID,
				Side:          a.Side,
				Price:         a.Price,
				Quantity:      a.Quantity,
				PlacedAt:      order.Time,
			})
		}
		r.recorder.OrderPlaced(g.Symbol, a.Side)

	case ActionMarketSell:
		if _, err := r.orders.PlaceOrder(cctx, models.OrderRequest{
			Symbol:   g.Symbol,
			Side:     models.Sell,
			Type:     models.OrderTypeMarket,
			Quantity: a.Quantity,
			Rules:    rules,
		}); err != nil {
			r.fail(g, a, err, res)
			return
		}
		r.recorder.OrderPlaced(g.Symbol, models.Sell)
	}
	res.Executed = append(res.Executed, a)
}

func (r *Reconciler) fail(g *models.GridState, a Action, err error, res *Result) {
	ae := ActionError{Action: a, Err: err}
	var apiErr *models.Error
	if errors.As(err, &apiErr) {
		ae.Code, ae.Msg = apiErr.Code, apiErr.Msg
	}
	res.Errors = append(res.Errors, ae)
	r.recorder.OrderFailed(g.Symbol, string(a.Kind))
	r.logger.Sugar().Errorf("[%s] %s", g.Symbol, ae.Error())
	if ae.Code == codeFilterFailure && r.invalidator != nil {
		r.logger.Sugar().Warnf("[%s] 下单触发过滤器限制, 刷新交易规则缓存", g.Symbol)
		r.invalidator.Invalidate(g.Symbol)
	}
}

// settle looks up an order the venue refused to cancel and books whatever it
// executed. It returns false when the lookup failed and the order stays
// tracked for the next tick.
func (r *Reconciler) settle(ctx context.Context, g *models.GridState, a Action, feeRate float64, res *Result) bool {
	got, err := r.orders.GetOrder(ctx, g.Symbol, a.OrderID)
	switch {
	case errors.Is(err, exchange.ErrOrderNotFound) || isGone(err):
		return true
	case err != nil:
		r.logger.Sugar().Warnf("[%s] 撤单时订单 %d 已不存在, 查询失败, 下一轮再处理: %v", g.Symbol, a.OrderID, err)
		return false
	case got.Status.IsOpen():
		// still working although the cancel was refused; next tick retries
		return false
	}
	if got.ExecutedQty > 0 {
		fee := bookFill(&g.Performance, a.Side, got.ExecutedQty, got.AvgFillPrice(), feeRate)
		res.Report.FeesPaid += fee
		res.Report.Fills = append(res.Report.Fills, *got)
		r.logger.Sugar().Infof("[%s] 撤单前订单 %d 已成交 %.8g", g.Symbol, a.OrderID, got.ExecutedQty)
	}
	return true
}

func clearTracked(g *models.GridState, a Action) {
	if a.Level < 0 || a.Level >= len(g.Levels) {
		return
	}
	lvl := &g.Levels[a.Level]
	if o := lvl.Order(a.Side); o != nil && o.OrderID == a.OrderID {
		lvl.SetOrder(a.Side, nil)
	}
}

func isGone(err error) bool {
	var apiErr *models.Error
	return errors.As(err, &apiErr) && (apiErr.Code == codeUnknownOrder || apiErr.Code == codeNoSuchOrder)
}
