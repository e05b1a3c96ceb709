package risk

import (
	"dex-trading-bot/internal/circuit"
	"dex-trading-bot/internal/events"
)

// TriggerCircuitBreaker latches reason. Triggering an active breaker is a no-op.
func (e *Engine) TriggerCircuitBreaker(reason circuit.Reason, message string) {
	e.mu.Lock()
	var pending []events.Event
	switch reason {
	case circuit.ReasonEmergencyStop:
		pending = e.emergencyStopLocked(pending, message)
	case circuit.ReasonManualStop:
		pending = e.disableLocked(pending, message)
	default:
		pending = e.tripLocked(pending, reason, message)
	}
	e.mu.Unlock()
	e.publish(pending)
}

// ResetCircuitBreaker clears reason. The emergency and manual stops are
// routed through their dedicated resets so flag and latch stay in step.
func (e *Engine) ResetCircuitBreaker(reason circuit.Reason) {
	switch reason {
	case circuit.ReasonEmergencyStop:
		e.ResetEmergencyStop()
		return
	case circuit.ReasonManualStop:
		e.EnableSystem()
		return
	}

	e.mu.Lock()
	if reason == circuit.ReasonTradeRateExceeded {
		e.rateAutoLatched = false
	}
	var pending []events.Event
	if e.breakers.Reset(reason) {
		pending = append(pending, e.resetEvent(reason))
	}
	e.mu.Unlock()

	if len(pending) > 0 {
		e.logger.Info().Str("reason", string(reason)).Msg("Circuit breaker reset")
	}
	e.publish(pending)
}

// ResetAllCircuitBreakers clears every breaker except the emergency and manual stops
func (e *Engine) ResetAllCircuitBreakers() {
	e.mu.Lock()
	cleared := e.breakers.ResetExcept(circuit.ReasonEmergencyStop, circuit.ReasonManualStop)
	e.rateAutoLatched = false
	pending := make([]events.Event, 0, len(cleared))
	for _, r := range cleared {
		pending = append(pending, e.resetEvent(r))
	}
	e.mu.Unlock()

	e.logger.Info().Int("cleared", len(cleared)).Msg("Circuit breakers reset")
	e.publish(pending)
}

// TriggerEmergencyStop halts all new positions until ResetEmergencyStop
func (e *Engine) TriggerEmergencyStop(reason string) {
	e.mu.Lock()
	pending := e.emergencyStopLocked(nil, reason)
	e.mu.Unlock()
	e.publish(pending)
}

// ResetEmergencyStop clears the emergency flag and its breaker
func (e *Engine) ResetEmergencyStop() {
	e.mu.Lock()
	wasActive := e.emergencyStop
	e.emergencyStop = false
	var pending []events.Event
	if e.breakers.Reset(circuit.ReasonEmergencyStop) {
		pending = append(pending, e.resetEvent(circuit.ReasonEmergencyStop))
	}
	if wasActive {
		pending = append(pending, events.Event{Type: events.EventEmergencyStopReset, Timestamp: e.now()})
	}
	e.mu.Unlock()

	if wasActive {
		e.logger.Warn().Msg("Emergency stop reset")
	}
	e.publish(pending)
}

// DisableSystem is the manual kill switch
func (e *Engine) DisableSystem() {
	e.mu.Lock()
	pending := e.disableLocked(nil, "system disabled manually")
	e.mu.Unlock()
	e.publish(pending)
}

// EnableSystem lifts the manual kill switch
func (e *Engine) EnableSystem() {
	e.mu.Lock()
	wasDisabled := !e.systemEnabled
	e.systemEnabled = true
	var pending []events.Event
	if e.breakers.Reset(circuit.ReasonManualStop) {
		pending = append(pending, e.resetEvent(circuit.ReasonManualStop))
	}
	if wasDisabled {
		pending = append(pending, events.Event{Type: events.EventSystemEnabled, Timestamp: e.now()})
	}
	e.mu.Unlock()

	if wasDisabled {
		e.logger.Info().Msg("Trading system enabled")
	}
	e.publish(pending)
}

// IsCircuitBreakerActive reports whether reason is latched
func (e *Engine) IsCircuitBreakerActive(reason circuit.Reason) bool {
	return e.breakers.IsActive(reason)
}

// ActiveBreakers returns the latched reasons
func (e *Engine) ActiveBreakers() []circuit.Reason {
	return e.breakers.Active()
}

// IsEmergencyStopActive reports the emergency flag
func (e *Engine) IsEmergencyStopActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emergencyStop
}

// IsSystemEnabled reports the kill switch state
func (e *Engine) IsSystemEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.systemEnabled
}

// tripLocked latches reason and appends a trigger event when newly set
func (e *Engine) tripLocked(pending []events.Event, reason circuit.Reason, message string) []events.Event {
	trip, ok := e.breakers.Trip(reason, message, e.now())
	if !ok {
		return pending
	}
	e.logger.Warn().
		Str("reason", string(reason)).
		Str("message", message).
		Msg("Circuit breaker triggered")
	return append(pending, events.Event{
		Type:      events.EventCircuitBreakerTriggered,
		Timestamp: trip.Timestamp,
		Data: map[string]interface{}{
			"reason":    string(trip.Reason),
			"message":   trip.Message,
			"timestamp": trip.Timestamp,
		},
	})
}

func (e *Engine) emergencyStopLocked(pending []events.Event, reason string) []events.Event {
	wasActive := e.emergencyStop
	e.emergencyStop = true
	pending = e.tripLocked(pending, circuit.ReasonEmergencyStop, reason)
	if wasActive {
		return pending
	}
	e.logger.Error().Str("reason", reason).Msg("EMERGENCY STOP triggered")
	return append(pending, events.Event{
		Type:      events.EventEmergencyStop,
		Timestamp: e.now(),
		Data:      map[string]interface{}{"reason": reason, "message": reason},
	})
}

func (e *Engine) disableLocked(pending []events.Event, reason string) []events.Event {
	wasEnabled := e.systemEnabled
	e.systemEnabled = false
	pending = e.tripLocked(pending, circuit.ReasonManualStop, reason)
	if !wasEnabled {
		return pending
	}
	e.logger.Warn().Str("reason", reason).Msg("Trading system disabled")
	return append(pending, events.Event{
		Type:      events.EventSystemDisabled,
		Timestamp: e.now(),
		Data:      map[string]interface{}{"reason": reason, "message": reason},
	})
}

func (e *Engine) resetEvent(reason circuit.Reason) events.Event {
	return events.Event{
		Type:      events.EventCircuitBreakerReset,
		Timestamp: e.now(),
		Data:      map[string]interface{}{"reason": string(reason)},
	}
}
