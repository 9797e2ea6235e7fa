package bot

import (
	"context"
	"fmt"
	"time"

	"binance-regime-grid-go/internal/exchange"
	"binance-regime-grid-go/internal/models"
	"binance-regime-grid-go/internal/statemanager"

	"go.uber.org/zap"
)

// BacktestSummary 汇总一次回测运行
type BacktestSummary struct {
	Start        time.Time
	End          time.Time
	Candles      int
	Ticks        int
	RiskChanges  int
	FinalRisk    models.RiskState
	PausedTicks  int // grid ticks that ended with buys paused
	ActiveGrids  int
	StoppedGrids int
}

// RunBacktest replays candles (1m, oldest first) through bt and runs a
// scheduler tick every TickIntervalSec of simulated time.
func RunBacktest(ctx context.Context, cfg *models.Config, bt *exchange.BacktestExchange, candles []models.Candle,
	state *statemanager.StateManager, opts Options, logger *zap.Logger) (*BacktestSummary, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("回测数据为空")
	}
	opts.Clock = bt.Now
	s := NewScheduler(cfg, bt, state, opts, logger)

	summary := &BacktestSummary{Start: candles[0].OpenTime, End: candles[len(candles)-1].CloseTime}
	interval := time.Duration(cfg.TickIntervalSec) * time.Second
	var nextTick time.Time
	prevRisk := state.Governor().Decision.State

	logger.Sugar().Infof("开始回测, 共 %d 根K线", len(candles))
	for i, c := range candles {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		bt.Advance(c)
		summary.Candles++

		now := bt.Now()
		if !nextTick.IsZero() && now.Before(nextTick) {
			continue
		}
		nextTick = now.Add(interval)

		if err := s.Tick(ctx); err != nil {
			return summary, err
		}
		summary.Ticks++

		risk := state.Governor().Decision.State
		if risk != prevRisk {
			summary.RiskChanges++
			prevRisk = risk
		}
		for _, gc := range cfg.Grids {
			if g := state.Grid(gc.Symbol); g != nil && g.BuyPaused {
				summary.PausedTicks++
			}
		}
		if (i+1)%10000 == 0 {
			logger.Sugar().Infof("回测进度: %d/%d, 权益 %.2f", i+1, len(candles), bt.Equity())
		}
	}

	summary.FinalRisk = prevRisk
	for _, gc := range cfg.Grids {
		g := state.Grid(gc.Symbol)
		switch {
		case g == nil:
		case g.Status == models.GridStopped:
			summary.StoppedGrids++
		default:
			summary.ActiveGrids++
		}
	}
	return summary, nil
}
