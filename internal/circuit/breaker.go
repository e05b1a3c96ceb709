package circuit

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Reason names why trading was halted. The set is closed.
type Reason string

const (
	ReasonHighVolatility    Reason = "HIGH_VOLATILITY"
	ReasonPriceDeviation    Reason = "PRICE_DEVIATION"
	ReasonTradeRateExceeded Reason = "TRADE_RATE_EXCEEDED"
	ReasonHighDrawdown      Reason = "HIGH_DRAWDOWN"
	ReasonHighDailyLoss     Reason = "HIGH_DAILY_LOSS"
	ReasonLowSuccessRate    Reason = "LOW_SUCCESS_RATE"
	ReasonEmergencyStop     Reason = "EMERGENCY_STOP"
	ReasonManualStop        Reason = "MANUAL_STOP"
	ReasonContractRisk      Reason = "CONTRACT_RISK"
)

// AllReasons lists every breaker in a stable order
var AllReasons = []Reason{
	ReasonHighVolatility,
	ReasonPriceDeviation,
	ReasonTradeRateExceeded,
	ReasonHighDrawdown,
	ReasonHighDailyLoss,
	ReasonLowSuccessRate,
	ReasonEmergencyStop,
	ReasonManualStop,
	ReasonContractRisk,
}

// ParseReason validates a reason name
func ParseReason(s string) (Reason, error) {
	for _, r := range AllReasons {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown circuit breaker reason %q", s)
}

// Trip describes a latch transition
type Trip struct {
	Reason    Reason    `json:"reason"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Board holds one sticky latch per reason. A latch stays set until reset.
type Board struct {
	mu          sync.RWMutex
	latched     map[Reason]bool
	triggeredAt map[Reason]time.Time
	messages    map[Reason]string
}

// NewBoard creates a board with every latch clear
func NewBoard() *Board {
	return &Board{
		latched:     make(map[Reason]bool),
		triggeredAt: make(map[Reason]time.Time),
		messages:    make(map[Reason]string),
	}
}

// Trip latches reason. It returns false, leaving the original timestamp
// and message untouched, when the latch was already set.
func (b *Board) Trip(reason Reason, message string, at time.Time) (Trip, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.latched[reason] {
		return Trip{Reason: reason, Message: b.messages[reason], Timestamp: b.triggeredAt[reason]}, false
	}
	b.latched[reason] = true
	b.triggeredAt[reason] = at
	b.messages[reason] = message
	return Trip{Reason: reason, Message: message, Timestamp: at}, true
}

// Reset clears reason and reports whether it was set
func (b *Board) Reset(reason Reason) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.latched[reason] {
		return false
	}
	delete(b.latched, reason)
	delete(b.triggeredAt, reason)
	delete(b.messages, reason)
	return true
}

// ResetExcept clears every latch not listed in keep and returns the cleared reasons
func (b *Board) ResetExcept(keep ...Reason) []Reason {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := make(map[Reason]bool, len(keep))
	for _, r := range keep {
		kept[r] = true
	}

	var cleared []Reason
	for _, r := range AllReasons {
		if b.latched[r] && !kept[r] {
			delete(b.latched, r)
			delete(b.triggeredAt, r)
			delete(b.messages, r)
			cleared = append(cleared, r)
		}
	}
	return cleared
}

// IsActive reports whether reason is latched
func (b *Board) IsActive(reason Reason) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latched[reason]
}

// AnyActive reports whether at least one latch is set
func (b *Board) AnyActive() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.latched) > 0
}

// Active returns the latched reasons in stable order
func (b *Board) Active() []Reason {
	b.mu.RLock()
	defer b.mu.RUnlock()

	active := make([]Reason, 0, len(b.latched))
	for r := range b.latched {
		active = append(active, r)
	}
	sort.Slice(active, func(i, j int) bool { return active[i] < active[j] })
	return active
}

// TriggeredAt returns when reason was latched
func (b *Board) TriggeredAt(reason Reason) (time.Time, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.triggeredAt[reason]
	return t, ok
}

// States returns every reason with its latch value
func (b *Board) States() map[Reason]bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	states := make(map[Reason]bool, len(AllReasons))
	for _, r := range AllReasons {
		states[r] = b.latched[r]
	}
	return states
}

// Restore replaces the board contents, used when seeding from a snapshot
func (b *Board) Restore(latched map[Reason]bool, triggeredAt map[Reason]time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.latched = make(map[Reason]bool)
	b.triggeredAt = make(map[Reason]time.Time)
	b.messages = make(map[Reason]string)
	for r, on := range latched {
		if !on {
			continue
		}
		b.latched[r] = true
		b.triggeredAt[r] = triggeredAt[r]
		b.messages[r] = "restored"
	}
}

// TriggeredTimes returns a copy of the trigger timestamps
func (b *Board) TriggeredTimes() map[Reason]time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[Reason]time.Time, len(b.triggeredAt))
	for r, t := range b.triggeredAt {
		out[r] = t
	}
	return out
}
