package strategy

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"binance-regime-grid-go/internal/indicators"
	"binance-regime-grid-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var planTime = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func f(v float64) *float64 { return &v }

type snapValues struct {
	adx, ema20, ema50, rsi, atr, lower, mid, upper float64
}

func snap(v snapValues) indicators.Snapshot {
	return indicators.Snapshot{
		Symbol:    "BTCUSDT",
		Interval:  "1h",
		AsOf:      planTime,
		Close:     f(v.ema20),
		Volume:    f(100),
		AvgVolume: f(100),
		EMA20:     f(v.ema20),
		EMA50:     f(v.ema50),
		RSI14:     f(v.rsi),
		ATR14:     f(v.atr),
		ADX14:     f(v.adx),
		BBLower:   f(v.lower),
		BBMiddle:  f(v.mid),
		BBUpper:   f(v.upper),
		BBStdDev:  f((v.upper - v.mid) / 2),
	}
}

var testRules = models.SymbolRules{Symbol: "BTCUSDT", TickSize: 0.01, StepSize: 0.001, MinQty: 0.001, MinNotional: 10}

var testRisk = models.RiskSettings{
	MaxPositionNotional:  1000,
	RiskPerTradeFraction: 0.01,
	MakerFeeRate:         0.001,
	TakerFeeRate:         0.001,
}

func planInput(s indicators.Snapshot, price float64) PlanInput {
	return PlanInput{
		Symbol:      "BTCUSDT",
		Horizon:     models.HorizonShort,
		Interval:    "15m",
		HoldMinutes: 240,
		Snapshot:    s,
		Market:      models.MarketSnapshot{Symbol: "BTCUSDT", Price: price, QuoteToHomeRate: 1},
		Risk:        testRisk,
		Rules:       testRules,
		Now:         planTime,
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		snap   indicators.Snapshot
		regime models.Regime
		bias   models.Side
	}{
		{"bullish trend", snap(snapValues{adx: 30, ema20: 101, ema50: 100, rsi: 50, atr: 1, lower: 95, mid: 100, upper: 105}), models.RegimeTrend, models.Buy},
		{"bearish trend", snap(snapValues{adx: 30, ema20: 99, ema50: 100, rsi: 50, atr: 1, lower: 95, mid: 100, upper: 105}), models.RegimeTrend, models.Sell},
		{"strong adx but flat emas", snap(snapValues{adx: 30, ema20: 100, ema50: 100, rsi: 50, atr: 1, lower: 95, mid: 100, upper: 105}), models.RegimeNeutral, models.Buy},
		{"range", snap(snapValues{adx: 15, ema20: 100, ema50: 101, rsi: 50, atr: 1, lower: 95, mid: 100, upper: 105}), models.RegimeRange, models.Buy},
		{"between thresholds", snap(snapValues{adx: 19, ema20: 101, ema50: 100, rsi: 50, atr: 1, lower: 95, mid: 100, upper: 105}), models.RegimeNeutral, models.Buy},
		{"missing indicators", indicators.Neutral("BTCUSDT", "1h", planTime), models.RegimeNeutral, models.Buy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			regime, bias := Classify(tt.snap)
			assert.Equal(t, tt.regime, regime)
			assert.Equal(t, tt.bias, bias)
		})
	}
}

func TestBuildPlan_TrendValid(t *testing.T) {
	s := snap(snapValues{adx: 30, ema20: 100.2, ema50: 98, rsi: 55, atr: 2, lower: 95, mid: 100, upper: 105})
	plan := BuildPlan(planInput(s, 100))

	assert.Equal(t, models.RegimeTrend, plan.Regime)
	assert.True(t, plan.EntryOK)
	assert.Equal(t, models.ReasonNone, plan.Reason)
	assert.Equal(t, models.Buy, plan.Entry.Side)
	assert.Equal(t, 100.0, plan.Entry.Price)
	assert.Equal(t, 97.0, plan.Exit.StopLoss)
	assert.Equal(t, []float64{105}, plan.Exit.TakeProfits)
	assert.Equal(t, 240, plan.Exit.HoldMinutes)
	assert.InDelta(t, 3.333, plan.Entry.Quantity, 1e-9)
	assert.InDelta(t, 5.0/3.0, plan.RiskReward, 1e-9)
	assert.InDelta(t, 3.333*100*0.001+3.333*105*0.001, plan.FeeEstimate, 1e-9)
	assert.InDelta(t, 0.85, plan.Entry.Confidence, 1e-9)
	assert.Contains(t, plan.Signals, breakevenNote)
	assert.Less(t, plan.Exit.StopLoss, plan.Entry.Price)
	assert.Greater(t, plan.Exit.TakeProfits[0], plan.Entry.Price)
}

func TestBuildPlan_Range(t *testing.T) {
	t.Run("tight atr targets middle band", func(t *testing.T) {
		s := snap(snapValues{adx: 15, ema20: 98, ema50: 99, rsi: 30, atr: 1, lower: 95, mid: 100, upper: 105})
		plan := BuildPlan(planInput(s, 96))
		require.True(t, plan.EntryOK)
		assert.Equal(t, 94.8, plan.Exit.StopLoss)
		assert.Equal(t, []float64{100}, plan.Exit.TakeProfits)
		assert.Greater(t, plan.Entry.Quantity, 0.0)
	})

	t.Run("wide atr targets upper band", func(t *testing.T) {
		s := snap(snapValues{adx: 15, ema20: 98, ema50: 99, rsi: 30, atr: 2, lower: 95, mid: 100, upper: 105})
		plan := BuildPlan(planInput(s, 96))
		require.True(t, plan.EntryOK)
		assert.Equal(t, 93.6, plan.Exit.StopLoss)
		assert.Equal(t, []float64{105}, plan.Exit.TakeProfits)
	})

	t.Run("price above entry zone", func(t *testing.T) {
		s := snap(snapValues{adx: 15, ema20: 98, ema50: 99, rsi: 30, atr: 1, lower: 95, mid: 100, upper: 105})
		plan := BuildPlan(planInput(s, 97))
		assert.False(t, plan.EntryOK)
		assert.Equal(t, models.ReasonNoEntry, plan.Reason)
		assert.Zero(t, plan.Entry.Quantity)
		assert.Contains(t, plan.Signals, "reason=no_entry")
	})
}

func TestBuildPlan_BearishTrend(t *testing.T) {
	s := snap(snapValues{adx: 30, ema20: 98, ema50: 100, rsi: 40, atr: 2, lower: 95, mid: 100, upper: 105})
	plan := BuildPlan(planInput(s, 100))

	assert.Equal(t, models.Sell, plan.Entry.Side)
	assert.False(t, plan.EntryOK)
	assert.Zero(t, plan.Entry.Quantity)
	assert.Equal(t, models.ReasonNoEntry, plan.Reason)
	assert.Equal(t, 102.4, plan.Exit.StopLoss)
	assert.Equal(t, []float64{97.6}, plan.Exit.TakeProfits)
	assert.Contains(t, plan.Thesis, "avoid longs")
	assert.GreaterOrEqual(t, plan.Entry.Confidence, 0.15)
	assert.LessOrEqual(t, plan.Entry.Confidence, 0.5)
}

func TestBuildPlan_NoStop(t *testing.T) {
	s := snap(snapValues{adx: 30, ema20: 100, ema50: 98, rsi: 55, atr: 0, lower: 95, mid: 100, upper: 105})
	plan := BuildPlan(planInput(s, 100))

	assert.False(t, plan.EntryOK)
	assert.Zero(t, plan.Entry.Quantity)
	assert.Equal(t, models.ReasonNoStop, plan.Reason)
	assert.Contains(t, plan.Signals, "reason=no_stop")
}

func TestBuildPlan_EntriesPaused(t *testing.T) {
	s := snap(snapValues{adx: 30, ema20: 100.2, ema50: 98, rsi: 55, atr: 2, lower: 95, mid: 100, upper: 105})
	in := planInput(s, 100)
	in.EntriesPaused = true
	plan := BuildPlan(in)

	assert.True(t, plan.EntryOK)
	assert.Zero(t, plan.Entry.Quantity)
	assert.Equal(t, models.ReasonEntriesPaused, plan.Reason)
	assert.Zero(t, plan.FeeEstimate)
}

func TestBuildPlan_NeutralSnapshot(t *testing.T) {
	plan := BuildPlan(planInput(indicators.Neutral("BTCUSDT", "15m", planTime), 100))

	assert.Equal(t, models.RegimeNeutral, plan.Regime)
	assert.False(t, plan.EntryOK)
	assert.Zero(t, plan.Entry.Quantity)
	assert.Equal(t, models.ReasonNoEntry, plan.Reason)
	assert.Empty(t, plan.Exit.TakeProfits)
	assert.Equal(t, 0.15, plan.Entry.Confidence)
}

func TestSize(t *testing.T) {
	base := SizingInput{Entry: 100, Stop: 97, QuoteToHomeRate: 1, Risk: testRisk, Rules: testRules}

	tests := []struct {
		name   string
		mutate func(in *SizingInput)
		qty    float64
		reason models.ReasonCode
	}{
		{"risk based", func(in *SizingInput) {}, 3.333, models.ReasonNone},
		{"slippage haircut", func(in *SizingInput) { in.SlippageBps = 50 }, 3.316, models.ReasonNone},
		{"capped by max notional", func(in *SizingInput) { in.Risk.RiskPerTradeFraction = 1 }, 10, models.ReasonNone},
		{"cap uses home rate", func(in *SizingInput) { in.Risk.RiskPerTradeFraction = 1; in.QuoteToHomeRate = 2 }, 5, models.ReasonNone},
		{"below min qty", func(in *SizingInput) { in.Rules.MinQty = 5 }, 0, models.ReasonBelowMinQty},
		{"below min notional", func(in *SizingInput) { in.Rules.MinNotional = 500 }, 0, models.ReasonBelowMinNotional},
		{"zero stop distance", func(in *SizingInput) { in.Stop = in.Entry }, 0, models.ReasonInvalidSize},
		{"zero home rate", func(in *SizingInput) { in.QuoteToHomeRate = 0 }, 0, models.ReasonInvalidSize},
		{"nan entry", func(in *SizingInput) { in.Entry = math.NaN() }, 0, models.ReasonInvalidSize},
		{"step floors to zero", func(in *SizingInput) { in.Rules.StepSize = 10 }, 0, models.ReasonInvalidSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.mutate(&in)
			qty, reason := Size(in)
			assert.Equal(t, tt.reason, reason)
			assert.InDelta(t, tt.qty, qty, 1e-9)
		})
	}
}

func TestSize_Properties(t *testing.T) {
	rules := models.SymbolRules{TickSize: 0.01, StepSize: 0.01, MinQty: 0.01, MinNotional: 5}
	for _, stop := range []float64{50, 80, 95, 99, 99.9} {
		for _, frac := range []float64{0.001, 0.01, 0.1, 1} {
			risk := testRisk
			risk.RiskPerTradeFraction = frac
			qty, reason := Size(SizingInput{Entry: 100, Stop: stop, QuoteToHomeRate: 1, Risk: risk, Rules: rules})
			if reason != models.ReasonNone {
				assert.Zero(t, qty)
				continue
			}
			steps := qty / rules.StepSize
			assert.InDelta(t, math.Round(steps), steps, 1e-6, "qty %v is not a step multiple", qty)
			assert.LessOrEqual(t, qty, risk.MaxPositionNotional/100+1e-9)
			assert.GreaterOrEqual(t, qty*100, rules.MinNotional)
		}
	}
}

func TestApplyTuning(t *testing.T) {
	cfg := models.RiskConfig{
		RiskPerTradeFraction:    0.01,
		SlippageBps:             5,
		MinRiskPerTradeFraction: 0.002,
		MaxRiskPerTradeFraction: 0.02,
		MaxSlippageBps:          50,
	}

	out, changed := ApplyTuning(cfg, nil)
	assert.False(t, changed)
	assert.Equal(t, cfg, out)

	out, changed = ApplyTuning(cfg, &models.TuningDelta{RiskPerTradeFraction: f(1), SlippageBps: f(-100)})
	assert.True(t, changed)
	assert.Equal(t, 0.02, out.RiskPerTradeFraction)
	assert.Equal(t, 0.0, out.SlippageBps)

	out, changed = ApplyTuning(cfg, &models.TuningDelta{RiskPerTradeFraction: f(math.NaN())})
	assert.False(t, changed)
	assert.Equal(t, 0.01, out.RiskPerTradeFraction)
}

type fakeMarket struct {
	candles map[string][]models.Candle
	err     error
}

func (m *fakeMarket) Get24hStats(ctx context.Context, symbol string) (*models.Stats24h, error) {
	return &models.Stats24h{Symbol: symbol}, nil
}

func (m *fakeMarket) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.candles[interval], nil
}

type fakeRules struct{ err error }

func (r fakeRules) GetSymbolRules(ctx context.Context, symbol string) (*models.SymbolRules, error) {
	if r.err != nil {
		return nil, r.err
	}
	rules := testRules
	return &rules, nil
}

func strategyConfig() models.StrategyConfig {
	return models.StrategyConfig{
		ShortInterval: "15m", MediumInterval: "1h", LongInterval: "4h",
		ShortHoldMinutes: 240, MedHoldMinutes: 1440, LongHoldMinutes: 4320,
		KlineLimit: 200,
	}
}

func TestEngine_DegradesOnMarketDataFailure(t *testing.T) {
	risk := models.RiskConfig{RiskPerTradeFraction: 0.01, MaxPositionNotional: 1000}
	e := NewEngine(&fakeMarket{err: errors.New("timeout")}, fakeRules{}, HeuristicAdvisor{}, strategyConfig(), risk, time.Second, zap.NewNop())
	e.SetClock(func() time.Time { return planTime })

	plans := e.Plan(context.Background(), models.MarketSnapshot{Symbol: "BTCUSDT", Price: 100}, false)
	require.Len(t, plans, 3)

	wantIntervals := []string{"15m", "1h", "4h"}
	wantHolds := []int{240, 1440, 4320}
	for i, p := range plans {
		assert.Equal(t, models.Horizons[i], p.Horizon)
		assert.Equal(t, wantIntervals[i], p.Interval)
		assert.Equal(t, wantHolds[i], p.Exit.HoldMinutes)
		assert.Equal(t, models.RegimeNeutral, p.Regime)
		assert.Zero(t, p.Entry.Quantity)
		assert.Equal(t, planTime, p.CreatedAt)
		require.NotNil(t, p.Advisory)
	}
}

func TestEngine_RulesFailureIsAnnotated(t *testing.T) {
	e := NewEngine(&fakeMarket{}, fakeRules{err: errors.New("down")}, nil, strategyConfig(), models.RiskConfig{}, time.Second, zap.NewNop())
	plans := e.Plan(context.Background(), models.MarketSnapshot{Symbol: "BTCUSDT", Price: 100}, false)
	require.Len(t, plans, 3)
	for _, p := range plans {
		assert.Contains(t, p.Signals, "rules_unavailable")
		assert.Nil(t, p.Advisory)
	}
}

func TestEngine_AppliesTuningWithinBounds(t *testing.T) {
	risk := models.RiskConfig{
		RiskPerTradeFraction:    0.01,
		MaxPositionNotional:     1000,
		MinRiskPerTradeFraction: 0.008,
		MaxRiskPerTradeFraction: 0.02,
	}
	cfg := strategyConfig()
	cfg.ApplyTuning = true
	e := NewEngine(&fakeMarket{}, fakeRules{}, HeuristicAdvisor{VolatileChangePct: 5}, cfg, risk, time.Second, zap.NewNop())

	market := models.MarketSnapshot{Symbol: "BTCUSDT", Price: 100, Stats: models.Stats24h{PriceChangePct: -12}}
	e.Plan(context.Background(), market, false)

	assert.Equal(t, 0.008, e.Risk().RiskPerTradeFraction, "repeated cuts stop at the lower bound")
}
