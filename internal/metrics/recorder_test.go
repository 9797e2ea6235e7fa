package metrics

import (
	"testing"
	"time"

	"binance-regime-grid-go/internal/governor"
	"binance-regime-grid-go/internal/grid"
	"binance-regime-grid-go/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder_Governor(t *testing.T) {
	r := NewRecorder(prometheus.NewRegistry())

	r.ObserveGovernor(models.GovernorDecision{State: models.RiskHalt}, governor.Metrics{
		DailyDrawdownPct:   2,
		RollingDrawdownPct: 7,
		FeeBurnPct:         0.3,
	}, 950)
	assert.Equal(t, 2.0, testutil.ToFloat64(r.riskState))
	assert.Equal(t, 950.0, testutil.ToFloat64(r.equity))
	assert.Equal(t, 7.0, testutil.ToFloat64(r.drawdown))
	assert.Equal(t, 0.3, testutil.ToFloat64(r.feeBurn))

	// unknown equity keeps the last value
	r.ObserveGovernor(models.GovernorDecision{State: models.RiskNormal}, governor.Metrics{}, 0)
	assert.Equal(t, 0.0, testutil.ToFloat64(r.riskState))
	assert.Equal(t, 950.0, testutil.ToFloat64(r.equity))
}

func TestRecorder_GridAndOrders(t *testing.T) {
	r := NewRecorder(prometheus.NewRegistry())

	g := &models.GridState{
		Symbol:      "BTCUSDT",
		Status:      models.GridRunning,
		BuyPaused:   true,
		PauseReason: models.PauseLiquidity,
		Performance: models.GridPerformance{RealizedPnL: 1.5},
	}
	r.ObserveGrid("BTCUSDT", grid.Result{
		State: g,
		Report: grid.Report{Fills: []models.Order{
			{Side: models.Buy}, {Side: models.Sell}, {Side: models.Buy},
		}},
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(r.gridPaused.WithLabelValues("BTCUSDT", "liquidity")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.gridPaused.WithLabelValues("BTCUSDT", "trend")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.gridStopped.WithLabelValues("BTCUSDT")))
	assert.Equal(t, 1.5, testutil.ToFloat64(r.realizedPnL.WithLabelValues("BTCUSDT")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.fills.WithLabelValues("BTCUSDT", "BUY")))

	// nil state is ignored
	r.ObserveGrid("BTCUSDT", grid.Result{})

	r.OrderPlaced("BTCUSDT", models.Buy)
	r.OrderPlaced("BTCUSDT", models.Buy)
	r.OrderCancelled("BTCUSDT", models.Buy)
	r.OrderFailed("BTCUSDT", "place")
	assert.Equal(t, 2.0, testutil.ToFloat64(r.orders.WithLabelValues("BTCUSDT", "BUY", "place")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.orders.WithLabelValues("BTCUSDT", "BUY", "cancel")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.orderErrors.WithLabelValues("BTCUSDT", "place")))
}

func TestRecorder_PlansAndTicks(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.ObservePlans([]models.StrategyPlan{
		{Symbol: "ETHUSDT", Horizon: models.HorizonShort, Regime: models.RegimeRange},
		{Symbol: "ETHUSDT", Horizon: models.HorizonLong, Regime: models.RegimeRange},
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(r.plans.WithLabelValues("ETHUSDT", string(models.HorizonShort), string(models.RegimeRange))))

	r.ObserveTick(250 * time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(r.tickDuration))
}
