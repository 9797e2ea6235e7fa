package downloader

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"binance-regime-grid-go/internal/models"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"
)

var header = []string{"open_time", "open", "high", "low", "close", "volume", "close_time", "quote_asset_volume", "number_of_trades", "taker_buy_base_asset_volume", "taker_buy_quote_asset_volume"}

// KlineDownloader 用于从币安下载K线数据
type KlineDownloader struct {
	client *binance.Client
	pause  time.Duration
	logger *zap.Logger
}

// NewKlineDownloader 创建一个新的下载器实例. baseURL 为空时使用币安默认地址.
func NewKlineDownloader(baseURL string, logger *zap.Logger) *KlineDownloader {
	client := binance.NewClient("", "") // 公共接口不需要API Key
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	return &KlineDownloader{
		client: client,
		pause:  200 * time.Millisecond,
		logger: logger,
	}
}

// DownloadKlines 下载指定交易对、周期和时间范围内的K线数据，并保存到CSV文件
// 如果文件已存在，则会跳过下载，直接使用缓存。中途失败不会留下不完整的缓存文件。
func (d *KlineDownloader) DownloadKlines(ctx context.Context, symbol, interval, filePath string, startTime, endTime time.Time) error {
	log := d.logger.Sugar().With("symbol", symbol, "interval", interval)
	if _, err := os.Stat(filePath); err == nil {
		log.Infof("从缓存加载数据: %s", filePath)
		return nil
	}

	log.Infof("开始下载K线数据 %s 到 %s", startTime.Format("2006-01-02"), endTime.Format("2006-01-02"))
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("无法创建目录 %s: %w", dir, err)
	}

	tmp := filePath + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("无法创建文件 %s: %w", tmp, err)
	}
	n, err := d.download(ctx, file, symbol, interval, startTime, endTime)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, filePath); err != nil {
		return fmt.Errorf("保存文件 %s 失败: %w", filePath, err)
	}
	log.Infof("成功下载 %d 根K线到 %s", n, filePath)
	return nil
}

func (d *KlineDownloader) download(ctx context.Context, w io.Writer, symbol, interval string, startTime, endTime time.Time) (int, error) {
	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return 0, fmt.Errorf("写入CSV表头失败: %w", err)
	}

	count := 0
	endMs := endTime.UnixMilli()
	for t := startTime; t.Before(endTime); {
		klines, err := d.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(t.UnixMilli()).
			EndTime(endMs - 1).
			Limit(1000). // 币安单次请求最多1000条
			Do(ctx)
		if err != nil {
			return count, fmt.Errorf("下载K线数据失败: %w", err)
		}
		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			if k.OpenTime >= endMs {
				break
			}
			record := []string{
				strconv.FormatInt(k.OpenTime, 10),
				k.Open,
				k.High,
				k.Low,
				k.Close,
				k.Volume,
				strconv.FormatInt(k.CloseTime, 10),
				k.QuoteAssetVolume,
				strconv.FormatInt(k.TradeNum, 10),
				k.TakerBuyBaseAssetVolume,
				k.TakerBuyQuoteAssetVolume,
			}
			if err := writer.Write(record); err != nil {
				return count, fmt.Errorf("写入CSV记录失败: %w", err)
			}
			count++
		}

		// 更新下一次请求的开始时间
		t = time.UnixMilli(klines[len(klines)-1].CloseTime + 1)
		d.logger.Sugar().Debugf("已下载数据至 %s", t.Format("2006-01-02 15:04:05"))

		select {
		case <-ctx.Done():
			return count, ctx.Err()
		case <-time.After(d.pause): // 避免过于频繁的请求
		}
	}
	writer.Flush()
	return count, writer.Error()
}

// ReadCandlesCSV 读取下载器写出的CSV文件. 无法解析的行会被跳过.
func ReadCandlesCSV(path string, logger *zap.Logger) ([]models.Candle, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("无法打开历史数据文件: %w", err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("无法读取所有CSV记录: %w", err)
	}
	if len(records) > 0 && records[0][0] == header[0] {
		records = records[1:]
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("历史数据文件为空或只有表头: %s", path)
	}

	candles := make([]models.Candle, 0, len(records))
	for _, record := range records {
		c, err := parseRecord(record)
		if err != nil {
			logger.Sugar().Warnf("无法解析K线数据，跳过此条记录: %v (%v)", record, err)
			continue
		}
		candles = append(candles, c)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("历史数据文件没有有效K线: %s", path)
	}
	return candles, nil
}

func parseRecord(record []string) (models.Candle, error) {
	if len(record) < 7 {
		return models.Candle{}, fmt.Errorf("列数不足: %d", len(record))
	}
	openMs, err := strconv.ParseInt(record[0], 10, 64)
	if err != nil {
		return models.Candle{}, err
	}
	closeMs, err := strconv.ParseInt(record[6], 10, 64)
	if err != nil {
		return models.Candle{}, err
	}
	var v [5]float64
	for i := range v {
		if v[i], err = strconv.ParseFloat(record[i+1], 64); err != nil {
			return models.Candle{}, err
		}
	}
	return models.Candle{
		OpenTime:  time.UnixMilli(openMs).UTC(),
		CloseTime: time.UnixMilli(closeMs).UTC(),
		Open:      v[0],
		High:      v[1],
		Low:       v[2],
		Close:     v[3],
		Volume:    v[4],
	}, nil
}

// SymbolFromPath 从数据文件路径中提取交易对名称
// 例如: "data/BNBUSDT-1m-2025-03-15-2025-06-15.csv" -> "BNBUSDT"
func SymbolFromPath(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), ".csv")
	return strings.Split(name, "-")[0]
}

// FileName 返回缓存文件的默认路径
func FileName(dir, symbol, interval string, start, end time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s-%s-%s.csv", symbol, interval, start.Format("2006-01-02"), end.Format("2006-01-02")))
}
