package risk

import (
	"time"

	"dex-trading-bot/internal/circuit"
)

// RiskMetrics is a read-only view of the engine
type RiskMetrics struct {
	CurrentBalance      float64                 `json:"current_balance"`
	InitialBalance      float64                 `json:"initial_balance"`
	DailyStartBalance   float64                 `json:"daily_start_balance"`
	HighWaterMark       float64                 `json:"high_water_mark"`
	Drawdown            float64                 `json:"drawdown"`
	DailyLoss           float64                 `json:"daily_loss"`
	DailyPnL            float64                 `json:"daily_pnl"`
	WinRate             float64                 `json:"win_rate"`
	TotalTrades         int                     `json:"total_trades"`
	ActivePositions     int                     `json:"active_positions"`
	AvailablePositions  int                     `json:"available_positions"`
	CircuitBreakers     map[circuit.Reason]bool `json:"circuit_breakers"`
	EmergencyStopActive bool                    `json:"emergency_stop_active"`
	SystemEnabled       bool                    `json:"system_enabled"`
	TradesLastMinute    int                     `json:"trades_last_minute"`
	TradesLastHour      int                     `json:"trades_last_hour"`
	TradesLastDay       int                     `json:"trades_last_day"`
	SuccessRate         float64                 `json:"success_rate"`
	ExecutionSamples    int                     `json:"execution_samples"`
	ConsecutiveLosses   int                     `json:"consecutive_losses"`
	Timestamp           time.Time               `json:"timestamp"`
}

// GetMetrics returns the current risk picture
func (e *Engine) GetMetrics() RiskMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	wins := 0
	for _, t := range e.trades {
		if t.PnL > 0 {
			wins++
		}
	}
	winRate := 0.0
	if len(e.trades) > 0 {
		winRate = float64(wins) / float64(len(e.trades)) * 100
	}
	available := e.cfg.MaxPositions - e.activePositions
	if available < 0 {
		available = 0
	}
	successRate, samples := e.successRateLocked(now)

	return RiskMetrics{
		CurrentBalance:      e.currentBalance,
		InitialBalance:      e.initialBalance,
		DailyStartBalance:   e.dailyStartBalance,
		HighWaterMark:       e.highWaterMark,
		Drawdown:            e.drawdownLocked(),
		DailyLoss:           e.dailyLossLocked(),
		DailyPnL:            e.currentBalance - e.dailyStartBalance,
		WinRate:             winRate,
		TotalTrades:         len(e.trades),
		ActivePositions:     e.activePositions,
		AvailablePositions:  available,
		CircuitBreakers:     e.breakers.States(),
		EmergencyStopActive: e.emergencyStop,
		SystemEnabled:       e.systemEnabled,
		TradesLastMinute:    e.tradeTimestamps.CountSince(now.Add(-time.Minute)),
		TradesLastHour:      e.tradeTimestamps.CountSince(now.Add(-time.Hour)),
		TradesLastDay:       e.tradeTimestamps.CountSince(now.Add(-24 * time.Hour)),
		SuccessRate:         successRate,
		ExecutionSamples:    samples,
		ConsecutiveLosses:   e.consecutiveLosses,
		Timestamp:           now,
	}
}
