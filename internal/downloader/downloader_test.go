package downloader

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func klinesServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1m", r.URL.Query().Get("interval"))
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) > 1 {
			fmt.Fprint(w, "[]")
			return
		}
		fmt.Fprint(w, "[")
		for i := 0; i < 3; i++ {
			open := t0.Add(time.Duration(i) * time.Minute).UnixMilli()
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `[%d,"100.0","101.0","99.0","100.5","2.5",%d,"250.0",10,"1.0","100.0","0"]`,
				open, open+59999)
		}
		fmt.Fprint(w, "]")
	}))
}

func TestDownloadAndReadCandles(t *testing.T) {
	var calls atomic.Int32
	srv := klinesServer(t, &calls)
	defer srv.Close()

	d := NewKlineDownloader(srv.URL, zap.NewNop())
	d.pause = 0
	path := FileName(t.TempDir(), "BTCUSDT", "1m", t0, t0.Add(time.Hour))
	assert.Equal(t, "BTCUSDT-1m-2024-06-01-2024-06-01.csv", filepath.Base(path))

	require.NoError(t, d.DownloadKlines(context.Background(), "BTCUSDT", "1m", path, t0, t0.Add(time.Hour)))
	assert.Equal(t, int32(2), calls.Load())
	_, err := os.Stat(path + ".part")
	assert.True(t, os.IsNotExist(err))

	candles, err := ReadCandlesCSV(path, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, candles, 3)
	assert.Equal(t, t0, candles[0].OpenTime)
	assert.Equal(t, t0.Add(time.Minute-time.Millisecond), candles[0].CloseTime)
	assert.Equal(t, 100.0, candles[0].Open)
	assert.Equal(t, 101.0, candles[0].High)
	assert.Equal(t, 99.0, candles[0].Low)
	assert.Equal(t, 100.5, candles[0].Close)
	assert.Equal(t, 2.5, candles[0].Volume)

	// cached file is not downloaded again
	require.NoError(t, d.DownloadKlines(context.Background(), "BTCUSDT", "1m", path, t0, t0.Add(time.Hour)))
	assert.Equal(t, int32(2), calls.Load())
}

func TestDownloadFailureLeavesNoCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
	}))
	defer srv.Close()

	d := NewKlineDownloader(srv.URL, zap.NewNop())
	path := filepath.Join(t.TempDir(), "x.csv")
	err := d.DownloadKlines(context.Background(), "BTCUSDT", "1m", path, t0, t0.Add(time.Hour))
	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(path + ".part")
	assert.True(t, os.IsNotExist(statErr))
}

func TestReadCandlesCSV_SkipsBadRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ETHUSDT-1m.csv")
	content := "open_time,open,high,low,close,volume,close_time\n" +
		"1717200000000,10,11,9,10.5,1,1717200059999\n" +
		"oops,10,11,9,10.5,1,1717200119999\n" +
		"1717200120000,10.5,12,10,11,2,1717200179999\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	candles, err := ReadCandlesCSV(path, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 11.0, candles[1].Close)

	require.NoError(t, os.WriteFile(path, []byte(header[0]+"\n"), 0644))
	_, err = ReadCandlesCSV(path, zap.NewNop())
	assert.Error(t, err)

	_, err = ReadCandlesCSV(filepath.Join(t.TempDir(), "missing.csv"), zap.NewNop())
	assert.Error(t, err)
}

func TestSymbolFromPath(t *testing.T) {
	assert.Equal(t, "BNBUSDT", SymbolFromPath("data/BNBUSDT-1m-2025-03-15-2025-06-15.csv"))
	assert.Equal(t, "ETHUSDT", SymbolFromPath("ETHUSDT.csv"))
}
