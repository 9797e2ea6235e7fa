package reporter

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"binance-regime-grid-go/internal/exchange"
	"binance-regime-grid-go/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"
)

// Metrics 存储计算出的所有回测性能指标
type Metrics struct {
	Symbol           string
	InitialEquity    float64
	FinalEquity      float64
	TotalProfit      float64
	ProfitPercentage float64
	TotalFills       int
	BuyFills         int
	SellFills        int
	TotalFees        float64
	MaxDrawdown      float64 // percent
	EndingCash       float64
	EndingAssetValue float64
	TotalAssetQty    float64
	StartTime        time.Time
	EndTime          time.Time
}

// Calculate 根据回测交易所的状态计算性能指标
func Calculate(be *exchange.BacktestExchange) *Metrics {
	m := &Metrics{
		Symbol:        be.Symbol,
		InitialEquity: be.InitialEquity,
		FinalEquity:   be.Equity(),
		TotalFills:    len(be.TradeLog),
		TotalFees:     be.TotalFees,
	}
	for _, f := range be.TradeLog {
		if f.Side == models.Buy {
			m.BuyFills++
		} else {
			m.SellFills++
		}
	}
	if balances, err := be.GetBalances(context.Background()); err == nil {
		m.EndingCash = models.FindBalance(balances, be.QuoteAsset).Total()
		m.TotalAssetQty = models.FindBalance(balances, be.BaseAsset).Total()
	}
	m.EndingAssetValue = m.TotalAssetQty * be.CurrentPrice

	m.TotalProfit = m.FinalEquity - m.InitialEquity
	if m.InitialEquity != 0 {
		m.ProfitPercentage = m.TotalProfit / m.InitialEquity * 100
	}

	curve := make([]float64, len(be.EquityCurve))
	for i, p := range be.EquityCurve {
		curve[i] = p.Equity
	}
	m.MaxDrawdown = calculateMaxDrawdown(curve) * 100
	if n := len(be.EquityCurve); n > 0 {
		m.StartTime = be.EquityCurve[0].Time
		m.EndTime = be.EquityCurve[n-1].Time
	}
	return m
}

func calculateMaxDrawdown(equityCurve []float64) float64 {
	if len(equityCurve) < 2 {
		return 0.0
	}
	peak := equityCurve[0]
	maxDrawdown := 0.0

	for _, equity := range equityCurve {
		if equity > peak {
			peak = equity
		}
		if peak <= 0 {
			continue
		}
		drawdown := (peak - equity) / peak
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown
}

func newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetTitle(title)
	t.SetStyle(table.StyleLight)
	return t
}

// RenderBacktest 渲染回测结果报告
func RenderBacktest(m *Metrics, dataPath, quote string) string {
	t := newTable("回测结果报告")
	t.AppendRows([]table.Row{
		{"数据文件", dataPath},
		{"交易对", m.Symbol},
		{"回测周期", fmt.Sprintf("%s 到 %s", m.StartTime.Format("2006-01-02 15:04"), m.EndTime.Format("2006-01-02 15:04"))},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"初始权益", fmt.Sprintf("%.2f %s", m.InitialEquity, quote)},
		{"最终权益", fmt.Sprintf("%.2f %s", m.FinalEquity, quote)},
		{"总利润", fmt.Sprintf("%.2f %s", m.TotalProfit, quote)},
		{"收益率", fmt.Sprintf("%.2f%%", m.ProfitPercentage)},
		{"最大回撤", fmt.Sprintf("%.2f%%", m.MaxDrawdown)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"成交次数", fmt.Sprintf("%d (买 %d / 卖 %d)", m.TotalFills, m.BuyFills, m.SellFills)},
		{"总手续费", fmt.Sprintf("%.4f %s", m.TotalFees, quote)},
		{"期末现金", fmt.Sprintf("%.2f %s", m.EndingCash, quote)},
		{"期末持仓市值", fmt.Sprintf("%.2f %s (共 %.6f)", m.EndingAssetValue, quote, m.TotalAssetQty)},
	})
	return t.Render()
}

// RenderPlans 渲染多周期策略计划
func RenderPlans(plans []models.StrategyPlan) string {
	t := newTable("策略计划")
	t.AppendHeader(table.Row{"交易对", "周期", "K线", "市场状态", "方向", "入场", "止损", "止盈", "数量", "盈亏比", "原因"})
	for _, p := range plans {
		reason := string(p.Reason)
		if reason == "" {
			reason = "-"
		}
		t.AppendRow(table.Row{
			p.Symbol, p.Horizon, p.Interval, p.Regime, p.Bias,
			formatPrice(p.Entry.Price), formatPrice(p.Exit.StopLoss), formatPrices(p.Exit.TakeProfits),
			fmt.Sprintf("%.8g", p.Entry.Quantity), fmt.Sprintf("%.2f", p.RiskReward), reason,
		})
	}
	return t.Render()
}

// RenderGrids 渲染所有网格的状态
func RenderGrids(grids map[string]*models.GridState) string {
	symbols := make([]string, 0, len(grids))
	for s := range grids {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	t := newTable("网格状态")
	t.AppendHeader(table.Row{"交易对", "区间", "档位", "挂单", "状态", "暂停买入", "已实现盈亏", "手续费", "持仓"})
	for _, s := range symbols {
		g := grids[s]
		if g == nil {
			continue
		}
		paused := "否"
		if g.BuyPaused {
			paused = string(g.PauseReason)
		}
		status := string(g.Status)
		if g.StopReason != "" {
			status += " (" + g.StopReason + ")"
		}
		t.AppendRow(table.Row{
			s, fmt.Sprintf("%.8g - %.8g", g.LowerPrice, g.UpperPrice), len(g.Levels), len(g.OpenOrders()),
			status, paused, fmt.Sprintf("%.4f", g.Performance.RealizedPnL),
			fmt.Sprintf("%.4f", g.Performance.Fees), fmt.Sprintf("%.8g", g.Performance.InventoryQty),
		})
	}
	return t.Render()
}

// RenderGovernor 渲染风控状态
func RenderGovernor(g models.GovernorState) string {
	t := newTable("风控状态")
	triggers := "-"
	if len(g.Decision.Triggers) > 0 {
		triggers = strings.Join(g.Decision.Triggers, ", ")
	}
	t.AppendRows([]table.Row{
		{"状态", g.Decision.State},
		{"暂停开仓", g.Decision.EntriesPaused},
		{"进入时间", g.Decision.Since.Format(time.RFC3339)},
		{"触发条件", triggers},
		{"趋势", g.Trending},
		{"日初权益", fmt.Sprintf("%.2f", g.Baselines.DailyEquity)},
		{"滚动峰值", fmt.Sprintf("%.2f", g.Baselines.RollingPeak)},
		{"今日手续费", fmt.Sprintf("%.4f", g.Baselines.FeesToday)},
	})
	return t.Render()
}

// GenerateReport 计算并打印回测报告和最终状态
func GenerateReport(be *exchange.BacktestExchange, dataPath string, state *models.BotState, logger *zap.Logger) *Metrics {
	m := Calculate(be)
	out := []string{RenderBacktest(m, dataPath, be.QuoteAsset)}
	if state != nil {
		out = append(out, RenderGovernor(state.Governor), RenderGrids(state.Grids))
	}
	logger.Sugar().Info("\n" + strings.Join(out, "\n"))
	return m
}

func formatPrice(v float64) string {
	if v == 0 {
		return "-"
	}
	return fmt.Sprintf("%.8g", v)
}

func formatPrices(vs []float64) string {
	if len(vs) == 0 {
		return "-"
	}
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = formatPrice(v)
	}
	return strings.Join(parts, " / ")
}
