package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseAggTrade(t *testing.T) {
	tests := []struct {
		name    string
		msg     string
		symbol  string
		price   float64
		wantErr bool
	}{
		{"combined", `{"stream":"btcusdt@aggTrade","data":{"e":"aggTrade","s":"BTCUSDT","p":"64000.10","q":"0.1"}}`, "BTCUSDT", 64000.10, false},
		{"raw", `{"e":"aggTrade","s":"ethusdt","p":"3100.5"}`, "ETHUSDT", 3100.5, false},
		{"not a trade", `{"result":null,"id":1}`, "", 0, true},
		{"bad price", `{"s":"BTCUSDT","p":"abc"}`, "", 0, true},
		{"zero price", `{"s":"BTCUSDT","p":"0"}`, "", 0, true},
		{"garbage", `not json`, "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			symbol, price, err := parseAggTrade([]byte(tt.msg))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.symbol, symbol)
			assert.Equal(t, tt.price, price)
		})
	}
}

func TestPriceStream_URL(t *testing.T) {
	s := NewPriceStream("wss://stream.binance.com:9443/", []string{"BTCUSDT", "ETHUSDT"}, zap.NewNop())
	assert.Equal(t, "wss://stream.binance.com:9443/stream?streams=btcusdt@aggTrade/ethusdt@aggTrade", s.URL())
}

func TestPriceStream_Latest(t *testing.T) {
	s := NewPriceStream("ws://unused", nil, zap.NewNop())
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	s.prices["BTCUSDT"] = tick{price: 100, at: now.Add(-5 * time.Second)}

	p, ok := s.Latest("btcusdt", 10*time.Second)
	assert.True(t, ok)
	assert.Equal(t, 100.0, p)

	_, ok = s.Latest("BTCUSDT", time.Second)
	assert.False(t, ok, "stale price")
	_, ok = s.Latest("ETHUSDT", time.Minute)
	assert.False(t, ok)
}

func TestPriceStream_RunReceivesAndReconnects(t *testing.T) {
	upgrader := websocket.Upgrader{}
	connections := make(chan struct{}, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stream", r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connections <- struct{}{}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"stream":"btcusdt@aggTrade","data":{"s":"BTCUSDT","p":"101.5"}}`))
		// drop the connection so the client has to reconnect
		time.Sleep(20 * time.Millisecond)
		conn.Close()
	}))
	defer srv.Close()

	s := NewPriceStream("ws"+strings.TrimPrefix(srv.URL, "http"), []string{"BTCUSDT"}, zap.NewNop())
	s.retry = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		p, ok := s.Latest("BTCUSDT", time.Minute)
		return ok && p == 101.5
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(connections) >= 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
