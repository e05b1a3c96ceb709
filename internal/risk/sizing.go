package risk

import (
	"math"

	"github.com/shopspring/decimal"

	"dex-trading-bot/internal/rolling"
)

// CalculatePositionSize returns a volatility-adjusted size: balance*riskFraction
// divided by the sample stddev of the symbol's prices over the sizing window,
// capped at maxExposure. With fewer than two samples, or a flat price, the
// stddev divisor is skipped. A non-positive maxExposure means no cap.
func (e *Engine) CalculatePositionSize(symbol string, riskFraction, maxExposure float64) float64 {
	e.mu.Lock()
	balance := e.currentBalance
	samples := e.prices.Prices(symbol, e.now().Add(-e.cfg.SizingWindow))
	e.mu.Unlock()

	if riskFraction <= 0 || balance <= 0 || math.IsNaN(riskFraction) {
		return 0
	}

	size := balance * riskFraction
	if sigma := rolling.SampleStdDev(samples); len(samples) >= 2 && sigma > 0 {
		size /= sigma
	}
	if maxExposure > 0 && size > maxExposure {
		size = maxExposure
	}
	return size
}

// CalculateLiquidityAdjustedSize caps a USD notional by pool liquidity and the
// global exposure ceiling. A result below the minimum tradable value is
// raised to the minimum when both caps allow it, otherwise it is 0.
func (e *Engine) CalculateLiquidityAdjustedSize(requestedUSD, liquidityUSD float64) float64 {
	if requestedUSD <= 0 || liquidityUSD <= 0 || math.IsNaN(requestedUSD) || math.IsNaN(liquidityUSD) {
		return 0
	}

	requested := decimal.NewFromFloat(requestedUSD)
	liquidityCap := decimal.NewFromFloat(liquidityUSD).Mul(decimal.NewFromFloat(e.cfg.MaxLiquidityPercent))
	exposureCap := decimal.NewFromFloat(e.cfg.MaxPositionValueUSD)
	minimum := decimal.NewFromFloat(e.cfg.MinPositionValueUSD)

	size := decimal.Min(requested, liquidityCap, exposureCap)
	if size.LessThan(minimum) {
		if minimum.LessThanOrEqual(liquidityCap) && minimum.LessThanOrEqual(exposureCap) {
			size = minimum
		} else {
			size = decimal.Zero
		}
	}
	if size.IsNegative() {
		size = decimal.Zero
	}
	return size.RoundFloor(2).InexactFloat64()
}
