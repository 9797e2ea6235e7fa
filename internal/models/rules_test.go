package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var testTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestSymbolRulesRounding(t *testing.T) {
	r := SymbolRules{TickSize: 0.01, StepSize: 0.001}

	assert.Equal(t, 123.45, r.FloorPrice(123.459))
	assert.Equal(t, 123.46, r.RoundPrice(123.459))
	assert.Equal(t, 0.123, r.FloorQty(0.12399))
	assert.Equal(t, 0.3, r.FloorQty(0.3), "exact multiples survive float representation")
	assert.Equal(t, "123.45", r.FormatPrice(123.45))
	assert.Equal(t, "0.100", r.FormatQty(0.1))

	zero := SymbolRules{}
	assert.Equal(t, 1.23456, zero.FloorPrice(1.23456))
	assert.Equal(t, 1.23456, zero.FloorQty(1.23456))
}

func TestBotStateClone(t *testing.T) {
	s := NewBotState("bot", testTime)
	s.Grids["BTCUSDT"] = &GridState{
		Symbol: "BTCUSDT",
		Levels: []GridLevel{{Index: 0, Price: 100, Buy: &GridOrder{OrderID: 1, Side: Buy}}},
	}
	s.Plans["BTCUSDT"] = []StrategyPlan{{Symbol: "BTCUSDT", Signals: []string{"a"}}}

	c := s.Clone()
	c.Grids["BTCUSDT"].Levels[0].Buy.OrderID = 2
	c.Plans["BTCUSDT"][0].Signals[0] = "b"

	assert.Equal(t, int64(1), s.Grids["BTCUSDT"].Levels[0].Buy.OrderID)
	assert.Equal(t, "a", s.Plans["BTCUSDT"][0].Signals[0])
	assert.Equal(t, RiskNormal, c.Governor.Decision.State)
	assert.Equal(t, testTime, c.Governor.Decision.Since)
}
