// Package grid maintains a ladder of limit orders between two prices and
// pauses the buy side when the market trends down or dries up.
package grid

import (
	"errors"
	"fmt"
	"time"

	"binance-regime-grid-go/internal/models"
)

// ErrInvalidGrid is returned for a grid definition that cannot produce a ladder.
var ErrInvalidGrid = errors.New("invalid grid definition")

// BuildLevels spreads count tick-aligned prices evenly over [lower, upper].
// Prices must stay strictly increasing after rounding.
func BuildLevels(lower, upper float64, count int, rules models.SymbolRules) ([]models.GridLevel, error) {
	if lower <= 0 || upper <= lower || count < 2 {
		return nil, fmt.Errorf("%w: lower=%v upper=%v count=%d", ErrInvalidGrid, lower, upper, count)
	}
	spacing := (upper - lower) / float64(count-1)
	levels := make([]models.GridLevel, count)
	for i := range levels {
		price := lower + float64(i)*spacing
		if i == count-1 {
			price = upper
		}
		price = rules.RoundPrice(price)
		if i > 0 && price <= levels[i-1].Price {
			return nil, fmt.Errorf("%w: spacing %.8g is below tick size %.8g", ErrInvalidGrid, spacing, rules.TickSize)
		}
		levels[i] = models.GridLevel{Index: i, Price: price}
	}
	return levels, nil
}

// NewGridState creates a running, unpaused grid for cfg.
func NewGridState(id string, cfg models.GridConfig, rules models.SymbolRules, now time.Time) (*models.GridState, error) {
	levels, err := BuildLevels(cfg.LowerPrice, cfg.UpperPrice, cfg.GridCount, rules)
	if err != nil {
		return nil, err
	}
	return &models.GridState{
		ID:          id,
		Symbol:      cfg.Symbol,
		LowerPrice:  levels[0].Price,
		UpperPrice:  levels[len(levels)-1].Price,
		Levels:      levels,
		Status:      models.GridRunning,
		PauseReason: models.PauseNone,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// MatchesConfig reports whether a persisted grid still describes cfg.
func MatchesConfig(g *models.GridState, cfg models.GridConfig, rules models.SymbolRules) bool {
	if g == nil || g.Symbol != cfg.Symbol || len(g.Levels) != cfg.GridCount {
		return false
	}
	return g.LowerPrice == rules.RoundPrice(cfg.LowerPrice) && g.UpperPrice == rules.RoundPrice(cfg.UpperPrice)
}
