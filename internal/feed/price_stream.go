package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // Must be less than pongWait
	reconnectDelay = 5 * time.Second
)

type tick struct {
	price float64
	at    time.Time
}

// PriceStream keeps the last aggTrade price of a set of symbols from the
// combined websocket stream, reconnecting until its context ends.
type PriceStream struct {
	baseURL string
	symbols []string
	dialer  *websocket.Dialer
	logger  *zap.Logger
	now     func() time.Time
	retry   time.Duration

	mu     sync.RWMutex
	prices map[string]tick
}

// NewPriceStream creates a stream over baseURL, e.g. wss://stream.binance.com:9443.
func NewPriceStream(baseURL string, symbols []string, logger *zap.Logger) *PriceStream {
	return &PriceStream{
		baseURL: strings.TrimRight(baseURL, "/"),
		symbols: symbols,
		dialer:  websocket.DefaultDialer,
		logger:  logger,
		now:     time.Now,
		retry:   reconnectDelay,
		prices:  make(map[string]tick),
	}
}

// URL returns the combined stream URL.
func (s *PriceStream) URL() string {
	streams := make([]string, len(s.symbols))
	for i, sym := range s.symbols {
		streams[i] = strings.ToLower(sym) + "@aggTrade"
	}
	return fmt.Sprintf("%s/stream?streams=%s", s.baseURL, strings.Join(streams, "/"))
}

// Latest returns the last streamed price of symbol if it is not older than maxAge.
func (s *PriceStream) Latest(symbol string, maxAge time.Duration) (float64, bool) {
	s.mu.RLock()
	t, ok := s.prices[strings.ToUpper(symbol)]
	s.mu.RUnlock()
	if !ok || s.now().Sub(t.at) > maxAge {
		return 0, false
	}
	return t.price, true
}

// Run 维持WebSocket连接并在断开后重连，直到 ctx 结束
func (s *PriceStream) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			s.logger.Sugar().Info("WebSocket循环已停止。")
			return
		}
		conn, _, err := s.dialer.DialContext(ctx, s.URL(), nil)
		if err != nil {
			s.logger.Sugar().Warnf("WebSocket连接失败: %v。%s后重试...", err, s.retry)
		} else {
			s.logger.Sugar().Info("WebSocket连接成功。")
			if err := s.handle(ctx, conn); err != nil && ctx.Err() == nil {
				s.logger.Sugar().Warnf("WebSocket处理时发生错误: %v", err)
			}
			conn.Close()
			if ctx.Err() == nil {
				s.logger.Sugar().Info("WebSocket连接已断开，准备重连...")
			}
		}

		select {
		case <-ctx.Done():
			s.logger.Sugar().Info("WebSocket循环已停止。")
			return
		case <-time.After(s.retry):
		}
	}
}

// handle reads one connection until it breaks, with a ping/pong heartbeat.
func (s *PriceStream) handle(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					s.logger.Sugar().Warnf("发送Ping失败: %v", err)
					return
				}
			case <-ctx.Done():
				// 优雅关闭, 同时让阻塞中的 ReadMessage 返回
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("读取消息失败: %w", err)
		}
		symbol, price, err := parseAggTrade(message)
		if err != nil {
			s.logger.Sugar().Debugf("解析价格信息失败: %v", err)
			continue
		}
		s.mu.Lock()
		s.prices[symbol] = tick{price: price, at: s.now()}
		s.mu.Unlock()
	}
}

type aggTrade struct {
	Symbol string      `json:"s"`
	Price  json.Number `json:"p"`
}

// parseAggTrade accepts both the combined-stream envelope and a raw event.
func parseAggTrade(message []byte) (string, float64, error) {
	var envelope struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(message, &envelope); err != nil {
		return "", 0, err
	}
	if len(envelope.Data) > 0 {
		message = envelope.Data
	}

	var t aggTrade
	if err := json.Unmarshal(message, &t); err != nil {
		return "", 0, err
	}
	if t.Symbol == "" || t.Price == "" {
		return "", 0, fmt.Errorf("不是 aggTrade 消息: %s", message)
	}
	price, err := t.Price.Float64()
	if err != nil {
		return "", 0, fmt.Errorf("转换价格失败: %w", err)
	}
	if price <= 0 {
		return "", 0, fmt.Errorf("无效价格 %v", price)
	}
	return strings.ToUpper(t.Symbol), price, nil
}
