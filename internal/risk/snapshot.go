package risk

import (
	"time"

	"dex-trading-bot/internal/circuit"
)

// Snapshot is the durable part of the engine state
type Snapshot struct {
	InitialBalance      float64                      `json:"initial_balance"`
	CurrentBalance      float64                      `json:"current_balance"`
	DailyStartBalance   float64                      `json:"daily_start_balance"`
	HighWaterMark       float64                      `json:"high_water_mark"`
	ActivePositions     int                          `json:"active_positions"`
	CircuitBreakers     map[circuit.Reason]bool      `json:"circuit_breakers"`
	BreakerTriggeredAt  map[circuit.Reason]time.Time `json:"breaker_triggered_at"`
	EmergencyStopActive bool                         `json:"emergency_stop_active"`
	SystemEnabled       bool                         `json:"system_enabled"`
	RateAutoLatched     bool                         `json:"rate_auto_latched"`
	TradeTimestamps     []time.Time                  `json:"trade_timestamps,omitempty"`
	SavedAt             time.Time                    `json:"saved_at"`
}

// Snapshot captures the state needed to resume the session
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	return Snapshot{
		InitialBalance:      e.initialBalance,
		CurrentBalance:      e.currentBalance,
		DailyStartBalance:   e.dailyStartBalance,
		HighWaterMark:       e.highWaterMark,
		ActivePositions:     e.activePositions,
		CircuitBreakers:     e.breakers.States(),
		BreakerTriggeredAt:  e.breakers.TriggeredTimes(),
		EmergencyStopActive: e.emergencyStop,
		SystemEnabled:       e.systemEnabled,
		RateAutoLatched:     e.rateAutoLatched,
		TradeTimestamps:     e.tradeTimestamps.Since(now.Add(-24 * time.Hour)),
		SavedAt:             now,
	}
}

// restore runs during construction, before the engine is shared
func (e *Engine) restore(s Snapshot) {
	e.initialBalance = s.InitialBalance
	e.currentBalance = s.CurrentBalance
	e.dailyStartBalance = s.DailyStartBalance
	e.highWaterMark = s.HighWaterMark
	if e.highWaterMark < e.currentBalance {
		e.highWaterMark = e.currentBalance
	}
	if s.ActivePositions > 0 {
		e.activePositions = s.ActivePositions
	}
	e.emergencyStop = s.EmergencyStopActive
	e.systemEnabled = s.SystemEnabled

	latched := make(map[circuit.Reason]bool, len(s.CircuitBreakers))
	for r, on := range s.CircuitBreakers {
		latched[r] = on
	}
	triggered := make(map[circuit.Reason]time.Time, len(s.BreakerTriggeredAt))
	for r, t := range s.BreakerTriggeredAt {
		triggered[r] = t
	}
	// Flags and their latches must agree after restore.
	if e.emergencyStop && !latched[circuit.ReasonEmergencyStop] {
		latched[circuit.ReasonEmergencyStop] = true
		triggered[circuit.ReasonEmergencyStop] = s.SavedAt
	}
	if latched[circuit.ReasonEmergencyStop] {
		e.emergencyStop = true
	}
	if !e.systemEnabled && !latched[circuit.ReasonManualStop] {
		latched[circuit.ReasonManualStop] = true
		triggered[circuit.ReasonManualStop] = s.SavedAt
	}
	if latched[circuit.ReasonManualStop] {
		e.systemEnabled = false
	}
	e.breakers.Restore(latched, triggered)

	// The rate latch keeps releasing itself only if the windows it drains from come back too.
	for _, t := range s.TradeTimestamps {
		e.tradeTimestamps.Add(t)
	}
	e.rateAutoLatched = s.RateAutoLatched && latched[circuit.ReasonTradeRateExceeded]

	e.logger.Info().
		Time("saved_at", s.SavedAt).
		Int("breakers", len(e.breakers.Active())).
		Msg("Risk state restored from snapshot")
}
