package strategy

import (
	"context"
	"fmt"
	"math"

	"binance-regime-grid-go/internal/models"
)

// HeuristicAdvisor writes a short rationale from the 24h ticker. It stands in
// for a remote text service and, like one, is display-only.
type HeuristicAdvisor struct {
	// VolatileChangePct flags a caution when |24h change| exceeds it.
	VolatileChangePct float64
}

// GetRationale implements exchange.Advisor.
func (a HeuristicAdvisor) GetRationale(ctx context.Context, horizon models.Horizon, market models.MarketSnapshot, risk models.RiskSettings) (*models.Advisory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := a.VolatileChangePct
	if limit <= 0 {
		limit = 5
	}

	adv := &models.Advisory{
		Text:       fmt.Sprintf("%s %s horizon: last %.8g, 24h change %.2f%%", market.Symbol, horizon, market.Price, market.Stats.PriceChangePct),
		Confidence: 0.5,
	}
	if math.Abs(market.Stats.PriceChangePct) > limit {
		adv.Cautions = append(adv.Cautions, fmt.Sprintf("24h move of %.2f%% exceeds %.2f%%", market.Stats.PriceChangePct, limit))
		adv.Confidence = 0.3
		cut := -risk.RiskPerTradeFraction / 4
		adv.Suggested = &models.TuningDelta{RiskPerTradeFraction: &cut}
	}
	if market.Stats.High > 0 && market.Stats.Low > 0 && market.Price > 0 {
		if spread := (market.Stats.High - market.Stats.Low) / market.Price * 100; spread > 2*limit {
			adv.Cautions = append(adv.Cautions, fmt.Sprintf("24h range is %.2f%% of price", spread))
		}
	}
	return adv, nil
}
