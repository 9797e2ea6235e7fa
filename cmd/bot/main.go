package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"binance-regime-grid-go/internal/bot"
	"binance-regime-grid-go/internal/config"
	"binance-regime-grid-go/internal/downloader"
	"binance-regime-grid-go/internal/exchange"
	"binance-regime-grid-go/internal/feed"
	"binance-regime-grid-go/internal/logger"
	"binance-regime-grid-go/internal/metrics"
	"binance-regime-grid-go/internal/models"
	"binance-regime-grid-go/internal/persistence"
	"binance-regime-grid-go/internal/reporter"
	"binance-regime-grid-go/internal/statemanager"
	"binance-regime-grid-go/internal/strategy"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	// --- 命令行参数定义 ---
	configPath := flag.String("config", "config.json", "path to the config file")
	mode := flag.String("mode", "live", "running mode: live, backtest, plan, status or download")
	dataPath := flag.String("data", "", "path to historical data file for backtesting")
	symbol := flag.String("symbol", "", "symbol to download or backtest (e.g., BNBUSDT)")
	interval := flag.String("interval", "1m", "kline interval for download")
	startDate := flag.String("start", "", "start date for download/backtesting (YYYY-MM-DD)")
	endDate := flag.String("end", "", "end date for download/backtesting (YYYY-MM-DD)")
	flag.Parse()

	// 在加载.env或配置时就需要记录日志, 先用默认配置初始化
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}

	// 使用文件中的配置重新初始化日志
	log := logger.InitLogger(cfg.Log)
	defer log.Sync() // 确保在main函数退出时刷新所有缓冲的日志

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "live":
		err = runLiveMode(ctx, cfg, log)
	case "backtest":
		var path string
		path, err = handleBacktestData(ctx, *symbol, *startDate, *endDate, *dataPath, log)
		if err == nil {
			err = runBacktestMode(ctx, cfg, path, log)
		}
	case "plan":
		err = runPlanMode(ctx, cfg, log)
	case "status":
		err = runStatusMode(cfg, log)
	case "download":
		_, err = download(ctx, *symbol, *interval, *startDate, *endDate, log)
	default:
		err = fmt.Errorf("未知的运行模式: %s。请选择 live/backtest/plan/status/download", *mode)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.S().Fatal(err)
	}
}

// download 下载K线数据到 data 目录, 返回文件路径
func download(ctx context.Context, symbol, interval, startDate, endDate string, log *zap.Logger) (string, error) {
	if symbol == "" || startDate == "" || endDate == "" {
		return "", errors.New("下载需要 --symbol/--start/--end 参数")
	}
	startTime, err1 := time.Parse("2006-01-02", startDate)
	endTime, err2 := time.Parse("2006-01-02", endDate)
	if err1 != nil || err2 != nil {
		return "", fmt.Errorf("日期格式错误，请使用 YYYY-MM-DD 格式。start: %v, end: %v", err1, err2)
	}
	fileName := downloader.FileName("data", strings.ToUpper(symbol), interval, startTime, endTime)
	d := downloader.NewKlineDownloader("", log)
	if err := d.DownloadKlines(ctx, strings.ToUpper(symbol), interval, fileName, startTime, endTime); err != nil {
		return "", fmt.Errorf("下载数据失败: %w", err)
	}
	return fileName, nil
}

// handleBacktestData 返回回测数据文件路径, 需要时先下载
func handleBacktestData(ctx context.Context, symbol, startDate, endDate, dataPath string, log *zap.Logger) (string, error) {
	if symbol != "" && startDate != "" && endDate != "" {
		return download(ctx, symbol, "1m", startDate, endDate, log)
	}
	if dataPath == "" {
		return "", errors.New("回测模式需要通过 --data 或 --symbol/start/end 参数指定数据源")
	}
	return dataPath, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Sugar().Errorf("metrics 服务异常退出: %v", err)
		}
	}()
	log.Sugar().Infof("metrics 服务已启动: %s/metrics", addr)
	return srv
}

// runLiveMode 运行实时交易机器人, 直到收到退出信号
func runLiveMode(ctx context.Context, cfg *models.Config, log *zap.Logger) error {
	log.Sugar().Info("--- 启动实时交易模式 ---")

	apiKey := os.Getenv("BINANCE_API_KEY")
	secretKey := os.Getenv("BINANCE_SECRET_KEY")
	if apiKey == "" || secretKey == "" {
		return errors.New("错误：BINANCE_API_KEY 和 BINANCE_SECRET_KEY 环境变量必须被设置。")
	}
	wsBaseURL := cfg.LiveWSURL
	if cfg.IsTestnet {
		wsBaseURL = cfg.TestnetWSURL
		log.Sugar().Info("正在使用币安测试网...")
	} else {
		log.Sugar().Info("正在使用币安生产网...")
	}

	live, err := exchange.NewLiveExchange(ctx, apiKey, secretKey, cfg.LiveAPIURL, cfg.IsTestnet, cfg.RateLimitPerSec, log)
	if err != nil {
		return fmt.Errorf("初始化交易所失败: %w", err)
	}
	rules, err := exchange.NewCachedRules(live, time.Duration(cfg.RulesCacheTTLSec)*time.Second)
	if err != nil {
		return err
	}
	defer rules.Close()

	repo, err := persistence.NewBadgerRepository(cfg.DBPath)
	if err != nil {
		return err
	}
	defer repo.Close()
	sm := statemanager.Load(repo, uuid.NewString(), log)
	sm.Start()
	defer sm.Stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewRecorder(reg)
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, reg, log)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	opts := bot.Options{
		Rules:    rules,
		Observer: rec,
		Recorder: rec,
		Advisor:  strategy.HeuristicAdvisor{VolatileChangePct: cfg.AdvisorChangePct},
	}
	if cfg.StreamPrices {
		symbols := make([]string, 0, len(cfg.Grids))
		for _, g := range cfg.Grids {
			symbols = append(symbols, g.Symbol)
		}
		stream := feed.NewPriceStream(wsBaseURL, symbols, log)
		go stream.Run(ctx)
		opts.Prices = stream
	}

	scheduler := bot.NewScheduler(cfg, live, sm, opts, log)
	if err := scheduler.Run(ctx); err != nil {
		return err
	}
	log.Sugar().Info("机器人已成功停止，状态已保存。")
	return nil
}

// runBacktestMode 用历史K线回放整个控制循环
func runBacktestMode(ctx context.Context, cfg *models.Config, dataPath string, log *zap.Logger) error {
	log.Sugar().Info("--- 启动回测模式 ---")
	symbol := downloader.SymbolFromPath(dataPath)

	var gridCfg *models.GridConfig
	for i := range cfg.Grids {
		if cfg.Grids[i].Symbol == symbol {
			gridCfg = &cfg.Grids[i]
		}
	}
	if gridCfg == nil {
		return fmt.Errorf("配置中没有交易对 %s 的网格 (数据文件 %s)", symbol, dataPath)
	}
	// 回测交易所只模拟一个交易对
	cfg.Grids = []models.GridConfig{*gridCfg}
	cfg.Strategy.Symbols = []string{symbol}
	cfg.HomeAsset = gridCfg.QuoteAsset
	cfg.Governor.TrendSymbol = symbol

	candles, err := downloader.ReadCandlesCSV(dataPath, log)
	if err != nil {
		return err
	}

	bt := exchange.NewBacktestExchange(exchange.BacktestOptions{
		Symbol:     symbol,
		BaseAsset:  gridCfg.BaseAsset,
		QuoteAsset: gridCfg.QuoteAsset,
		Rules: models.SymbolRules{
			TickSize:    cfg.Backtest.TickSize,
			StepSize:    cfg.Backtest.StepSize,
			MinQty:      cfg.Backtest.MinQty,
			MinNotional: cfg.Backtest.MinNotional,
		},
		InitialQuote: cfg.InitialBalance,
		InitialBase:  cfg.InitialBase,
		MakerFeeRate: cfg.Risk.MakerFeeRate,
		TakerFeeRate: cfg.Risk.TakerFeeRate,
		SlippageRate: cfg.Backtest.SlippageRate,
	})

	repo, err := persistence.NewInMemoryRepository()
	if err != nil {
		return err
	}
	defer repo.Close()
	sm := statemanager.NewStateManager(models.NewBotState("backtest-"+uuid.NewString(), candles[0].OpenTime), repo, log)
	sm.Start()

	summary, err := bot.RunBacktest(ctx, cfg, bt, candles, sm, bot.Options{
		Advisor: strategy.HeuristicAdvisor{VolatileChangePct: cfg.AdvisorChangePct},
	}, log)
	sm.Stop()
	if err != nil {
		return fmt.Errorf("回测中断: %w", err)
	}
	log.Sugar().Infof("回测结束: %d 根K线, %d 次调度, 风控切换 %d 次, 最终风控 %s, 暂停买入 %d 次调度",
		summary.Candles, summary.Ticks, summary.RiskChanges, summary.FinalRisk, summary.PausedTicks)

	reporter.GenerateReport(bt, dataPath, sm.GetStateSnapshot(), log)
	if plans, err := repo.RecentPlans(symbol, len(models.Horizons)); err == nil && len(plans) > 0 {
		log.Sugar().Info("\n" + reporter.RenderPlans(plans))
	}
	return nil
}

// runPlanMode 只生成一次多周期计划并打印, 不下单
func runPlanMode(ctx context.Context, cfg *models.Config, log *zap.Logger) error {
	live, err := exchange.NewLiveExchange(ctx, os.Getenv("BINANCE_API_KEY"), os.Getenv("BINANCE_SECRET_KEY"),
		cfg.LiveAPIURL, cfg.IsTestnet, cfg.RateLimitPerSec, log)
	if err != nil {
		return fmt.Errorf("初始化交易所失败: %w", err)
	}
	timeout := time.Duration(cfg.RequestTimeoutMs) * time.Millisecond
	engine := strategy.NewEngine(live, live, strategy.HeuristicAdvisor{VolatileChangePct: cfg.AdvisorChangePct},
		cfg.Strategy, cfg.Risk, timeout, log)

	symbols := cfg.Strategy.Symbols
	if len(symbols) == 0 {
		for _, g := range cfg.Grids {
			symbols = append(symbols, g.Symbol)
		}
	}

	var all []models.StrategyPlan
	for _, symbol := range symbols {
		sctx, cancel := context.WithTimeout(ctx, timeout)
		stats, err := live.Get24hStats(sctx, symbol)
		cancel()
		if err != nil {
			log.Sugar().Warnf("[%s] 获取24小时行情失败, 跳过: %v", symbol, err)
			continue
		}
		if !strings.HasSuffix(symbol, cfg.HomeAsset) {
			log.Sugar().Warnf("[%s] 计价资产不是 %s, 按 1:1 换算", symbol, cfg.HomeAsset)
		}
		all = append(all, engine.Plan(ctx, models.MarketSnapshot{
			Symbol:          symbol,
			Price:           stats.Price,
			Stats:           *stats,
			QuoteToHomeRate: 1,
			AsOf:            time.Now(),
		}, false)...)
	}
	fmt.Println(reporter.RenderPlans(all))
	return nil
}

// runStatusMode 打印持久化的风控、网格和最近的计划
func runStatusMode(cfg *models.Config, log *zap.Logger) error {
	repo, err := persistence.NewBadgerRepository(cfg.DBPath)
	if err != nil {
		return err
	}
	defer repo.Close()

	state, err := repo.LoadState()
	if err != nil {
		return err
	}
	if state == nil {
		fmt.Println("没有已保存的状态。")
		return nil
	}
	fmt.Printf("bot=%s 更新于 %s\n", state.BotID, state.LastUpdateTime.Format(time.RFC3339))
	fmt.Println(reporter.RenderGovernor(state.Governor))
	fmt.Println(reporter.RenderGrids(state.Grids))

	var plans []models.StrategyPlan
	for symbol := range state.Plans {
		recent, err := repo.RecentPlans(symbol, len(models.Horizons))
		if err != nil {
			log.Sugar().Warnf("[%s] 读取计划历史失败: %v", symbol, err)
			continue
		}
		plans = append(plans, recent...)
	}
	if len(plans) > 0 {
		fmt.Println(reporter.RenderPlans(plans))
	}
	return nil
}
