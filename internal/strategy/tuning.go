package strategy

import (
	"math"

	"binance-regime-grid-go/internal/models"
)

// ApplyTuning clamps suggested deltas into the configured bounds and returns
// the adjusted config together with whether anything changed. Non-finite
// suggestions are ignored.
func ApplyTuning(cfg models.RiskConfig, delta *models.TuningDelta) (models.RiskConfig, bool) {
	if delta == nil {
		return cfg, false
	}
	out := cfg
	if d := delta.RiskPerTradeFraction; d != nil && finite(*d) {
		out.RiskPerTradeFraction = clamp(cfg.RiskPerTradeFraction+*d, cfg.MinRiskPerTradeFraction, cfg.MaxRiskPerTradeFraction)
	}
	if d := delta.SlippageBps; d != nil && finite(*d) {
		out.SlippageBps = clamp(cfg.SlippageBps+*d, 0, math.Max(cfg.MaxSlippageBps, 0))
	}
	return out, out != cfg
}
