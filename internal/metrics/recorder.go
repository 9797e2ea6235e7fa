package metrics

import (
	"time"

	"binance-regime-grid-go/internal/governor"
	"binance-regime-grid-go/internal/grid"
	"binance-regime-grid-go/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder exports governor, grid and order activity to Prometheus. It
// implements both bot.Observer and grid.Recorder.
type Recorder struct {
	riskState    prometheus.Gauge
	equity       prometheus.Gauge
	drawdown     prometheus.Gauge
	feeBurn      prometheus.Gauge
	gridPaused   *prometheus.GaugeVec
	gridStopped  *prometheus.GaugeVec
	realizedPnL  *prometheus.GaugeVec
	fills        *prometheus.CounterVec
	orders       *prometheus.CounterVec
	orderErrors  *prometheus.CounterVec
	plans        *prometheus.CounterVec
	tickDuration prometheus.Histogram
}

// NewRecorder registers the collectors on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		riskState: f.NewGauge(prometheus.GaugeOpts{
			Name: "gridbot_risk_state",
			Help: "Governor risk state: 0 NORMAL, 1 CAUTION, 2 HALT",
		}),
		equity: f.NewGauge(prometheus.GaugeOpts{
			Name: "gridbot_equity",
			Help: "Account equity in the home asset",
		}),
		drawdown: f.NewGauge(prometheus.GaugeOpts{
			Name: "gridbot_drawdown_pct",
			Help: "Worse of the daily and rolling drawdown, percent",
		}),
		feeBurn: f.NewGauge(prometheus.GaugeOpts{
			Name: "gridbot_fee_burn_pct",
			Help: "Fees paid today relative to the daily equity baseline, percent",
		}),
		gridPaused: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gridbot_grid_buy_paused",
			Help: "1 when the grid has paused BUY placement",
		}, []string{"symbol", "reason"}),
		gridStopped: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gridbot_grid_stopped",
			Help: "1 when the grid hit its breakout stop",
		}, []string{"symbol"}),
		realizedPnL: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gridbot_grid_realized_pnl",
			Help: "Realized PnL of the grid in its quote asset",
		}, []string{"symbol"}),
		fills: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gridbot_fills_total",
			Help: "Grid fills booked",
		}, []string{"symbol", "side"}),
		orders: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gridbot_orders_total",
			Help: "Orders placed and cancelled",
		}, []string{"symbol", "side", "action"}),
		orderErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gridbot_order_errors_total",
			Help: "Failed order actions",
		}, []string{"symbol", "kind"}),
		plans: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gridbot_plans_total",
			Help: "Strategy plans built",
		}, []string{"symbol", "horizon", "regime"}),
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gridbot_tick_duration_seconds",
			Help:    "Duration of a scheduler tick",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// ObserveGovernor records the governor outcome of a tick.
func (r *Recorder) ObserveGovernor(d models.GovernorDecision, m governor.Metrics, equity float64) {
	r.riskState.Set(float64(d.State.Rank()))
	if equity > 0 {
		r.equity.Set(equity)
	}
	r.drawdown.Set(m.Drawdown())
	r.feeBurn.Set(m.FeeBurnPct)
}

// ObserveGrid records the grid outcome of a tick.
func (r *Recorder) ObserveGrid(symbol string, res grid.Result) {
	g := res.State
	if g == nil {
		return
	}
	for _, reason := range []models.PauseReason{models.PauseTrend, models.PauseLiquidity} {
		v := 0.0
		if g.BuyPaused && g.PauseReason == reason {
			v = 1
		}
		r.gridPaused.WithLabelValues(symbol, string(reason)).Set(v)
	}
	stopped := 0.0
	if g.Status == models.GridStopped {
		stopped = 1
	}
	r.gridStopped.WithLabelValues(symbol).Set(stopped)
	r.realizedPnL.WithLabelValues(symbol).Set(g.Performance.RealizedPnL)
	for _, f := range res.Report.Fills {
		r.fills.WithLabelValues(symbol, string(f.Side)).Inc()
	}
}

// ObservePlans counts built plans.
func (r *Recorder) ObservePlans(plans []models.StrategyPlan) {
	for _, p := range plans {
		r.plans.WithLabelValues(p.Symbol, string(p.Horizon), string(p.Regime)).Inc()
	}
}

// ObserveTick records the tick duration.
func (r *Recorder) ObserveTick(d time.Duration) {
	r.tickDuration.Observe(d.Seconds())
}

func (r *Recorder) OrderPlaced(symbol string, side models.Side) {
	r.orders.WithLabelValues(symbol, string(side), "place").Inc()
}

func (r *Recorder) OrderCancelled(symbol string, side models.Side) {
	r.orders.WithLabelValues(symbol, string(side), "cancel").Inc()
}

func (r *Recorder) OrderFailed(symbol, kind string) {
	r.orderErrors.WithLabelValues(symbol, kind).Inc()
}
