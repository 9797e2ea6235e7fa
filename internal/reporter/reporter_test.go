package reporter

import (
	"context"
	"testing"
	"time"

	"binance-regime-grid-go/internal/exchange"
	"binance-regime-grid-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCalculateMaxDrawdown(t *testing.T) {
	tests := []struct {
		name  string
		curve []float64
		want  float64
	}{
		{"empty", nil, 0},
		{"single", []float64{100}, 0},
		{"rising", []float64{100, 110, 120}, 0},
		{"dip", []float64{100, 120, 90, 130, 117}, 0.25},
		{"zero peak", []float64{0, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, calculateMaxDrawdown(tt.curve), 1e-12)
		})
	}
}

func TestCalculate(t *testing.T) {
	be := exchange.NewBacktestExchange(exchange.BacktestOptions{
		Symbol:       "BTCUSDT",
		BaseAsset:    "BTC",
		QuoteAsset:   "USDT",
		Rules:        models.SymbolRules{TickSize: 0.01, StepSize: 0.001, MinQty: 0.001, MinNotional: 5},
		InitialQuote: 1000,
		MakerFeeRate: 0.001,
	})
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	be.Advance(models.Candle{OpenTime: t0, CloseTime: t0.Add(time.Minute), Open: 100, High: 100, Low: 100, Close: 100})

	_, err := be.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol: "BTCUSDT", Side: models.Buy, Type: models.OrderTypeLimit, Price: 95, Quantity: 1,
	})
	require.NoError(t, err)
	t1 := t0.Add(time.Minute)
	be.Advance(models.Candle{OpenTime: t1, CloseTime: t1.Add(time.Minute), Open: 100, High: 100, Low: 90, Close: 90})

	m := Calculate(be)
	assert.Equal(t, "BTCUSDT", m.Symbol)
	assert.Equal(t, 1000.0, m.InitialEquity)
	assert.Equal(t, 1, m.TotalFills)
	assert.Equal(t, 1, m.BuyFills)
	assert.InDelta(t, 0.095, m.TotalFees, 1e-9)
	assert.InDelta(t, 1, m.TotalAssetQty, 1e-9)
	assert.InDelta(t, 90, m.EndingAssetValue, 1e-9)
	assert.InDelta(t, 1000-95-0.095+90, m.FinalEquity, 1e-9)
	assert.InDelta(t, m.FinalEquity-1000, m.TotalProfit, 1e-9)
	assert.Greater(t, m.MaxDrawdown, 0.0)
	assert.Equal(t, t0.Add(time.Minute), m.StartTime)

	out := GenerateReport(be, "data/test.csv", models.NewBotState("bt", t0), zap.NewNop())
	assert.Equal(t, m.TotalFills, out.TotalFills)
}

func TestRenderTables(t *testing.T) {
	out := RenderPlans([]models.StrategyPlan{{
		Symbol: "ETHUSDT", Horizon: models.HorizonShort, Interval: "15m", Regime: models.RegimeTrend, Bias: models.Buy,
		Entry:  models.EntryPlan{Price: 3000, Quantity: 0.05},
		Exit:   models.ExitPlan{StopLoss: 2950, TakeProfits: []float64{3100}},
		Reason: models.ReasonNone, RiskReward: 2,
	}})
	assert.Contains(t, out, "ETHUSDT")
	assert.Contains(t, out, "3100")
	assert.Contains(t, out, "TREND")

	grids := RenderGrids(map[string]*models.GridState{
		"BTCUSDT": {Symbol: "BTCUSDT", LowerPrice: 90, UpperPrice: 110, Status: models.GridRunning,
			BuyPaused: true, PauseReason: models.PauseTrend, Levels: make([]models.GridLevel, 5)},
		"ETHUSDT": nil,
	})
	assert.Contains(t, grids, "90 - 110")
	assert.Contains(t, grids, "trend")

	gov := RenderGovernor(models.GovernorState{Decision: models.GovernorDecision{
		State: models.RiskCaution, EntriesPaused: true, Triggers: []string{"drawdown_caution"},
	}})
	assert.Contains(t, gov, "CAUTION")
	assert.Contains(t, gov, "drawdown_caution")
}
