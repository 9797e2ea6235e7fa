package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"binance-regime-grid-go/internal/exchange"
	"binance-regime-grid-go/internal/governor"
	"binance-regime-grid-go/internal/grid"
	"binance-regime-grid-go/internal/indicators"
	"binance-regime-grid-go/internal/models"
	"binance-regime-grid-go/internal/statemanager"
	"binance-regime-grid-go/internal/strategy"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// 同时处理的交易对数量上限
const maxConcurrentSymbols = 4

// PriceSource supplies streamed last-trade prices.
type PriceSource interface {
	Latest(symbol string, maxAge time.Duration) (float64, bool)
}

// Observer receives per-tick outcomes; the metrics package implements it.
type Observer interface {
	ObserveGovernor(d models.GovernorDecision, m governor.Metrics, equity float64)
	ObserveGrid(symbol string, res grid.Result)
	ObservePlans(plans []models.StrategyPlan)
	ObserveTick(d time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveGovernor(models.GovernorDecision, governor.Metrics, float64) {}
func (nopObserver) ObserveGrid(string, grid.Result)                                    {}
func (nopObserver) ObservePlans([]models.StrategyPlan)                                 {}
func (nopObserver) ObserveTick(time.Duration)                                          {}

// marketView is what one tick knows about a symbol.
type marketView struct {
	stats    *models.Stats24h
	snapshot indicators.Snapshot
	price    float64
	stale    bool // price carried over from an earlier tick
}

// Scheduler drives the control loop: governor first, then grid
// reconciliation and strategy planning, both gated by the governor decision.
type Scheduler struct {
	cfg        *models.Config
	ex         exchange.Exchange
	rules      exchange.RulesProvider
	engine     *strategy.Engine
	reconciler *grid.Reconciler
	state      *statemanager.StateManager
	prices     PriceSource
	observer   Observer
	timeout    time.Duration
	now        func() time.Time
	logger     *zap.Logger

	feesMu      sync.Mutex
	pendingFees float64 // home currency, booked by grid fills, consumed by the governor

	// last good values, used while market data or rules are unavailable
	cacheMu   sync.Mutex
	lastPrice map[string]float64
	lastRules map[string]models.SymbolRules

	lastPlan time.Time
}

// Options are the optional collaborators of a Scheduler.
type Options struct {
	Rules    exchange.RulesProvider // defaults to the exchange itself
	Prices   PriceSource
	Observer Observer
	Recorder grid.Recorder
	Advisor  exchange.Advisor
	Clock    func() time.Time
}

// NewScheduler wires a scheduler over ex and the state manager.
func NewScheduler(cfg *models.Config, ex exchange.Exchange, state *statemanager.StateManager, opts Options, logger *zap.Logger) *Scheduler {
	if opts.Rules == nil {
		opts.Rules = ex
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	timeout := time.Duration(cfg.RequestTimeoutMs) * time.Millisecond

	engine := strategy.NewEngine(ex, opts.Rules, opts.Advisor, cfg.Strategy, cfg.Risk, timeout, logger)
	engine.SetClock(opts.Clock)
	state.SetClock(opts.Clock)

	reconciler := grid.NewReconciler(ex, timeout, opts.Recorder, logger)
	if inv, ok := opts.Rules.(grid.RulesInvalidator); ok {
		reconciler.SetRulesInvalidator(inv)
	}

	return &Scheduler{
		cfg:        cfg,
		ex:         ex,
		rules:      opts.Rules,
		engine:     engine,
		reconciler: reconciler,
		state:      state,
		prices:     opts.Prices,
		observer:   opts.Observer,
		timeout:    timeout,
		now:        opts.Clock,
		logger:     logger,
		lastPrice:  make(map[string]float64),
		lastRules:  make(map[string]models.SymbolRules),
	}
}

// Run ticks every TickIntervalSec until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(s.cfg.TickIntervalSec) * time.Second)
	defer ticker.Stop()

	s.logger.Sugar().Infof("调度器已启动, tick间隔 %ds, 计划间隔 %ds", s.cfg.TickIntervalSec, s.cfg.PlanIntervalSec)
	for {
		if err := s.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Sugar().Errorf("tick 失败: %v", err)
		}
		select {
		case <-ctx.Done():
			s.logger.Sugar().Info("调度器已停止。")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one full control cycle. Per-symbol failures are logged and never
// abort the other symbols; only cancellation of ctx is returned.
func (s *Scheduler) Tick(ctx context.Context) error {
	started := time.Now()
	now := s.now()

	views := s.observeMarkets(ctx, now)
	balances := s.fetchBalances(ctx)

	decision := s.stepGovernor(now, views, balances)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSymbols)
	for _, gc := range s.cfg.Grids {
		gc := gc
		g.Go(func() error {
			s.stepGrid(gctx, now, gc, views, balances, decision.EntriesPaused)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if s.lastPlan.IsZero() || now.Sub(s.lastPlan) >= time.Duration(s.cfg.PlanIntervalSec)*time.Second {
		if err := s.plan(ctx, views, decision.EntriesPaused); err != nil {
			return err
		}
		s.lastPlan = now
	}

	s.observer.ObserveTick(time.Since(started))
	return ctx.Err()
}

// observeMarkets fetches 24h stats and the guard snapshot of every grid symbol concurrently.
func (s *Scheduler) observeMarkets(ctx context.Context, now time.Time) map[string]*marketView {
	var mu sync.Mutex
	views := make(map[string]*marketView, len(s.cfg.Grids))

	var g errgroup.Group
	g.SetLimit(maxConcurrentSymbols)
	for _, gc := range s.cfg.Grids {
		gc := gc
		g.Go(func() error {
			v := &marketView{}
			sctx, cancel := context.WithTimeout(ctx, s.timeout)
			stats, err := s.ex.Get24hStats(sctx, gc.Symbol)
			cancel()
			if err != nil {
				s.logger.Sugar().Warnf("[%s] 获取24小时行情失败: %v", gc.Symbol, err)
			} else {
				v.stats = stats
				v.price = stats.Price
			}
			if s.prices != nil {
				if p, ok := s.prices.Latest(gc.Symbol, time.Duration(s.cfg.PriceStaleSec)*time.Second); ok {
					v.price = p
				}
			}
			v.snapshot = strategy.FetchSnapshot(ctx, s.ex, gc.Symbol, gc.KlineInterval, gc.KlineLimit, s.timeout, now, s.logger)
			if v.price == 0 && v.snapshot.Close != nil {
				v.price = *v.snapshot.Close
			}
			if v.price > 0 {
				s.rememberPrice(gc.Symbol, v.price)
			} else if p, ok := s.knownPrice(gc.Symbol); ok {
				v.price, v.stale = p, true
				s.logger.Sugar().Warnf("[%s] 行情不可用, 沿用上次价格 %.8g", gc.Symbol, p)
			}

			mu.Lock()
			views[gc.Symbol] = v
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return views
}

func (s *Scheduler) fetchBalances(ctx context.Context) []models.Balance {
	bctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	balances, err := s.ex.GetBalances(bctx)
	if err != nil {
		s.logger.Sugar().Warnf("获取账户余额失败: %v", err)
		return nil
	}
	return balances
}

// stepGovernor evaluates the risk state machine and persists the result.
func (s *Scheduler) stepGovernor(now time.Time, views map[string]*marketView, balances []models.Balance) models.GovernorDecision {
	unlock := s.state.Lock(statemanager.GovernorKey)
	defer unlock()

	equity := 0.0
	if balances != nil {
		equity = s.equity(balances, views)
		if equity == 0 {
			s.logger.Sugar().Warn("无法估值持仓, 本轮权益按未知处理")
		}
	}

	var adx *float64
	if v := views[s.trendSymbol()]; v != nil {
		adx = v.snapshot.ADX14
	}

	prev := s.state.Governor()
	next, m := governor.Evaluate(prev, governor.Inputs{
		Now:    now,
		Equity: equity,
		Fees:   s.takeFees(),
		ADX:    adx,
	}, s.cfg.Governor)
	s.state.SetGovernor(next)
	s.observer.ObserveGovernor(next.Decision, m, equity)

	if next.Decision.State != prev.Decision.State {
		log := s.logger.Sugar().With("equity", equity, "drawdown_pct", m.Drawdown(), "fee_burn_pct", m.FeeBurnPct)
		if next.Decision.State.Rank() > prev.Decision.State.Rank() {
			log.Warnf("风控状态升级: %s -> %s, 触发: %v", prev.Decision.State, next.Decision.State, next.Decision.Triggers)
		} else {
			log.Infof("风控状态降级: %s -> %s", prev.Decision.State, next.Decision.State)
		}
	}
	return next.Decision
}

func (s *Scheduler) trendSymbol() string {
	if s.cfg.Governor.TrendSymbol != "" {
		return s.cfg.Governor.TrendSymbol
	}
	if len(s.cfg.Grids) > 0 {
		return s.cfg.Grids[0].Symbol
	}
	return ""
}

// equity values every balance in the home asset. It returns 0 (unknown) when
// a held asset of a configured grid has no price at all; other assets
// without a price are left out.
func (s *Scheduler) equity(balances []models.Balance, views map[string]*marketView) float64 {
	total := 0.0
	for _, b := range balances {
		if b.Asset == s.cfg.HomeAsset {
			total += b.Total()
			continue
		}
		symbol := b.Asset + s.cfg.HomeAsset
		if v := views[symbol]; v != nil && v.price > 0 {
			total += b.Total() * v.price
			continue
		}
		if b.Total() > 0 && s.hasGrid(symbol) {
			return 0
		}
	}
	return total
}

func (s *Scheduler) hasGrid(symbol string) bool {
	for _, gc := range s.cfg.Grids {
		if gc.Symbol == symbol {
			return true
		}
	}
	return false
}

func (s *Scheduler) rememberPrice(symbol string, price float64) {
	s.cacheMu.Lock()
	s.lastPrice[symbol] = price
	s.cacheMu.Unlock()
}

func (s *Scheduler) knownPrice(symbol string) (float64, bool) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	p, ok := s.lastPrice[symbol]
	return p, ok
}

func (s *Scheduler) rememberRules(symbol string, rules models.SymbolRules) {
	s.cacheMu.Lock()
	s.lastRules[symbol] = rules
	s.cacheMu.Unlock()
}

func (s *Scheduler) knownRules(symbol string) models.SymbolRules {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.lastRules[symbol]
}

// quoteToHome returns the rate converting quote into the home asset, 0 when unknown.
func (s *Scheduler) quoteToHome(quote string, views map[string]*marketView) float64 {
	if quote == s.cfg.HomeAsset {
		return 1
	}
	if v := views[quote+s.cfg.HomeAsset]; v != nil && v.price > 0 {
		return v.price
	}
	return 0
}

func (s *Scheduler) addFees(v float64) {
	if v <= 0 {
		return
	}
	s.feesMu.Lock()
	s.pendingFees += v
	s.feesMu.Unlock()
}

func (s *Scheduler) takeFees() float64 {
	s.feesMu.Lock()
	defer s.feesMu.Unlock()
	v := s.pendingFees
	s.pendingFees = 0
	return v
}

// stepGrid reconciles one grid. Ticks for the same symbol never overlap.
func (s *Scheduler) stepGrid(ctx context.Context, now time.Time, gc models.GridConfig, views map[string]*marketView, balances []models.Balance, entriesPaused bool) {
	unlock := s.state.Lock(gc.Symbol)
	defer unlock()
	log := s.logger.Sugar().With("symbol", gc.Symbol)

	view := views[gc.Symbol]
	if view == nil || view.price <= 0 {
		log.Warn("没有可用价格, 跳过本轮网格处理")
		return
	}

	g := s.state.Grid(gc.Symbol)

	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	rules, err := s.rules.GetSymbolRules(rctx, gc.Symbol)
	cancel()
	rulesStale := err != nil
	if rulesStale {
		if g == nil {
			log.Warnf("获取交易规则失败, 跳过本轮网格处理: %v", err)
			return
		}
		// guards and cancels still run, placements wait for fresh rules
		log.Warnf("获取交易规则失败, 本轮不下新单: %v", err)
		last := s.knownRules(gc.Symbol)
		rules = &last
	} else {
		s.rememberRules(gc.Symbol, *rules)
	}

	if !rulesStale && !grid.MatchesConfig(g, gc, *rules) {
		if g != nil {
			log.Warnf("网格配置已变更, 重新创建网格 (旧网格 %s)", g.ID)
		}
		g, err = grid.NewGridState(uuid.NewString(), gc, *rules, now)
		if err != nil {
			log.Errorf("创建网格失败: %v", err)
			return
		}
		s.state.SetGrid(gc.Symbol, g)
		log.Infof("网格已创建: id=%s 区间 [%.8g, %.8g] 共 %d 档", g.ID, g.LowerPrice, g.UpperPrice, len(g.Levels))
	}

	obs := grid.Observation{
		Now:           now,
		Price:         view.price,
		Snapshot:      view.snapshot,
		Stats:         view.stats,
		Rules:         *rules,
		EntriesPaused: entriesPaused,
		RulesStale:    rulesStale,
		PriceStale:    view.stale,
	}
	octx, cancel := context.WithTimeout(ctx, s.timeout)
	open, err := s.ex.GetOpenOrders(octx, gc.Symbol)
	cancel()
	if err != nil {
		log.Warnf("获取挂单失败, 本轮只执行撤单: %v", err)
	} else {
		obs.OpenOrders, obs.OpenKnown = open, true
	}
	if balances == nil {
		// unknown capacity: no new placements this tick
		obs.OpenKnown = false
	} else {
		obs.QuoteFree = models.FindBalance(balances, gc.QuoteAsset).Free
		obs.BaseFree = models.FindBalance(balances, gc.BaseAsset).Free
	}

	res := s.reconciler.Tick(ctx, g, obs, grid.Params{
		Guards:       s.cfg.Guards,
		Grid:         gc,
		MakerFeeRate: s.cfg.Risk.MakerFeeRate,
	})
	s.state.SetGrid(gc.Symbol, res.State)
	s.observer.ObserveGrid(gc.Symbol, res)

	if rate := s.quoteToHome(gc.QuoteAsset, views); rate > 0 {
		s.addFees(res.Report.FeesPaid * rate)
	} else if res.Report.FeesPaid > 0 {
		log.Warnf("无法换算 %s 手续费到 %s, 本轮手续费未计入风控", gc.QuoteAsset, s.cfg.HomeAsset)
	}
	if len(res.Report.Fills) > 0 || len(res.Executed) > 0 || len(res.Errors) > 0 {
		log.Infof("网格处理完成: 成交 %d, 执行 %d, 失败 %d, 已实现盈亏 %.4f",
			len(res.Report.Fills), len(res.Executed), len(res.Errors), res.State.Performance.RealizedPnL)
	}
}

// plan refreshes the advisory plans of every planned symbol.
func (s *Scheduler) plan(ctx context.Context, views map[string]*marketView, entriesPaused bool) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSymbols)
	for _, symbol := range s.planSymbols() {
		symbol := symbol
		g.Go(func() error {
			unlock := s.state.Lock("plan:" + symbol)
			defer unlock()

			market, ok := s.marketSnapshot(gctx, symbol, views)
			if !ok {
				return gctx.Err()
			}
			plans := s.engine.Plan(gctx, market, entriesPaused)
			s.state.SetPlans(symbol, plans)
			s.observer.ObservePlans(plans)
			return gctx.Err()
		})
	}
	return g.Wait()
}

func (s *Scheduler) planSymbols() []string {
	if len(s.cfg.Strategy.Symbols) > 0 {
		return s.cfg.Strategy.Symbols
	}
	symbols := make([]string, 0, len(s.cfg.Grids))
	for _, gc := range s.cfg.Grids {
		symbols = append(symbols, gc.Symbol)
	}
	return symbols
}

func (s *Scheduler) marketSnapshot(ctx context.Context, symbol string, views map[string]*marketView) (models.MarketSnapshot, bool) {
	now := s.now()
	var stats *models.Stats24h
	price := 0.0
	if v := views[symbol]; v != nil {
		stats, price = v.stats, v.price
	}
	if stats == nil {
		sctx, cancel := context.WithTimeout(ctx, s.timeout)
		st, err := s.ex.Get24hStats(sctx, symbol)
		cancel()
		if err != nil {
			s.logger.Sugar().Warnf("[%s] 获取24小时行情失败, 跳过计划: %v", symbol, err)
			return models.MarketSnapshot{}, false
		}
		stats = st
		if price == 0 {
			price = st.Price
		}
	}

	rate := 1.0
	if quote := s.quoteAsset(symbol); quote != "" {
		if r := s.quoteToHome(quote, views); r > 0 {
			rate = r
		}
	}
	return models.MarketSnapshot{
		Symbol:          symbol,
		Price:           price,
		Stats:           *stats,
		QuoteToHomeRate: rate,
		AsOf:            now,
	}, true
}

// quoteAsset finds the quote asset of symbol from the grid configs, falling
// back to the home asset suffix.
func (s *Scheduler) quoteAsset(symbol string) string {
	for _, gc := range s.cfg.Grids {
		if gc.Symbol == symbol {
			return gc.QuoteAsset
		}
	}
	if strings.HasSuffix(symbol, s.cfg.HomeAsset) {
		return s.cfg.HomeAsset
	}
	return ""
}
