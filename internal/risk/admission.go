package risk

import (
	"fmt"
	"math"
	"time"

	"dex-trading-bot/internal/circuit"
	"dex-trading-bot/internal/events"
	"dex-trading-bot/internal/logging"
	"dex-trading-bot/internal/rolling"
)

// CanOpenPosition runs admission control for a new position. Checks run in a
// fixed order and stop at the first failure; the drawdown, daily loss, rate,
// volatility and success rate checks latch their breaker when they fail.
func (e *Engine) CanOpenPosition(size float64, symbol string, currentPrice float64) bool {
	ok, _ := e.Admit(size, symbol, currentPrice)
	return ok
}

// Admit is CanOpenPosition with the rejection reason
func (e *Engine) Admit(size float64, symbol string, currentPrice float64) (bool, string) {
	e.mu.Lock()
	reason, pending := e.admitLocked(size, symbol, currentPrice)
	e.mu.Unlock()

	if reason != "" {
		logging.RiskContext(e.logger, symbol, size, currentPrice).Debug().
			Str("reason", reason).
			Msg("Position rejected")
		pending = append(pending, events.Event{
			Type: events.EventAdmissionRejected,
			Data: map[string]interface{}{"symbol": symbol, "size": size, "reason": reason},
		})
	}
	e.publish(pending)
	return reason == "", reason
}

// admitLocked returns the first failing check, or "" when admitted
func (e *Engine) admitLocked(size float64, symbol string, price float64) (string, []events.Event) {
	var pending []events.Event
	now := e.now()

	if size <= 0 || math.IsNaN(size) {
		return fmt.Sprintf("invalid size %.4f", size), pending
	}

	// A rate breaker latched by this check releases itself once every
	// window has drained. A manual trigger stays until reset.
	if e.rateAutoLatched && e.rateViolationLocked(now) == "" {
		e.rateAutoLatched = false
		if e.breakers.Reset(circuit.ReasonTradeRateExceeded) {
			e.logger.Info().Msg("Trade rate back under limits, breaker released")
			pending = append(pending, e.resetEvent(circuit.ReasonTradeRateExceeded))
		}
	}

	if !e.systemEnabled {
		return "system disabled", pending
	}
	if e.emergencyStop {
		return "emergency stop active", pending
	}
	if active := e.breakers.Active(); len(active) > 0 {
		return fmt.Sprintf("circuit breaker active: %s", active[0]), pending
	}
	if size > e.cfg.MaxPositionSize {
		return fmt.Sprintf("size %.4f exceeds max position size %.4f", size, e.cfg.MaxPositionSize), pending
	}
	if e.activePositions >= e.cfg.MaxPositions {
		return fmt.Sprintf("max positions reached (%d/%d)", e.activePositions, e.cfg.MaxPositions), pending
	}

	if dd := e.drawdownLocked(); e.cfg.MaxDrawdown > 0 && dd >= e.cfg.MaxDrawdown {
		msg := fmt.Sprintf("drawdown %.2f%% reached limit %.2f%%", dd, e.cfg.MaxDrawdown)
		return msg, e.tripLocked(pending, circuit.ReasonHighDrawdown, msg)
	}
	if dl := e.dailyLossLocked(); e.cfg.MaxDailyLoss > 0 && dl >= e.cfg.MaxDailyLoss {
		msg := fmt.Sprintf("daily loss %.2f%% reached limit %.2f%%", dl, e.cfg.MaxDailyLoss)
		return msg, e.tripLocked(pending, circuit.ReasonHighDailyLoss, msg)
	}
	if msg := e.rateViolationLocked(now); msg != "" {
		e.rateAutoLatched = true
		return msg, e.tripLocked(pending, circuit.ReasonTradeRateExceeded, msg)
	}
	if reason, msg := e.volatilityViolationLocked(symbol, price, now); msg != "" {
		return msg, e.tripLocked(pending, reason, msg)
	}
	if rate, samples := e.successRateLocked(now); samples >= e.cfg.MinSuccessSamples && rate < e.cfg.MinSuccessRate {
		msg := fmt.Sprintf("success rate %.1f%% below %.1f%% over %d executions", rate, e.cfg.MinSuccessRate, samples)
		return msg, e.tripLocked(pending, circuit.ReasonLowSuccessRate, msg)
	}
	return "", pending
}

// rateViolationLocked checks the 1m/1h/1d trade ceilings
func (e *Engine) rateViolationLocked(now time.Time) string {
	limits := []struct {
		window time.Duration
		max    int
		label  string
	}{
		{time.Minute, e.cfg.MaxTradesPerMinute, "minute"},
		{time.Hour, e.cfg.MaxTradesPerHour, "hour"},
		{24 * time.Hour, e.cfg.MaxTradesPerDay, "day"},
	}
	for _, l := range limits {
		if l.max <= 0 {
			continue
		}
		if n := e.tradeTimestamps.CountSince(now.Add(-l.window)); n >= l.max {
			return fmt.Sprintf("%d trades in the last %s (max %d)", n, l.label, l.max)
		}
	}
	return ""
}

// volatilityViolationLocked uses the population stddev of the volatility window
func (e *Engine) volatilityViolationLocked(symbol string, price float64, now time.Time) (circuit.Reason, string) {
	samples := e.prices.Prices(symbol, now.Add(-e.cfg.VolWindow))
	if len(samples) < 2 {
		return "", ""
	}
	mean := rolling.Mean(samples)
	if mean <= 0 {
		return "", ""
	}

	volatility := rolling.PopulationStdDev(samples) / mean * 100
	if e.cfg.MaxVolatility > 0 && volatility > e.cfg.MaxVolatility {
		return circuit.ReasonHighVolatility,
			fmt.Sprintf("%s volatility %.2f%% exceeds %.2f%%", symbol, volatility, e.cfg.MaxVolatility)
	}
	if price > 0 && e.cfg.MaxPriceDeviation > 0 {
		deviation := math.Abs(price-mean) / mean * 100
		if deviation > e.cfg.MaxPriceDeviation {
			return circuit.ReasonPriceDeviation,
				fmt.Sprintf("%s price deviates %.2f%% from mean (max %.2f%%)", symbol, deviation, e.cfg.MaxPriceDeviation)
		}
	}
	return "", ""
}
