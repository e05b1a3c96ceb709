package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dex-trading-bot/internal/circuit"
	"dex-trading-bot/internal/events"
	"dex-trading-bot/internal/rolling"
)

// TradeRecord is one closed trade
type TradeRecord struct {
	PnL       float64   `json:"pnl"`
	Timestamp time.Time `json:"timestamp"`
}

// Engine gates position opening behind drawdown, daily loss, volatility,
// rate and performance circuit breakers. All state mutations are serialized
// by mu; events are collected under the lock and published after release.
type Engine struct {
	mu       sync.Mutex
	cfg      Config
	now      func() time.Time
	logger   zerolog.Logger
	bus      *events.EventBus
	breakers *circuit.Board

	initialBalance    float64
	currentBalance    float64
	dailyStartBalance float64
	highWaterMark     float64
	activePositions   int

	trades          []TradeRecord
	tradeTimestamps rolling.TimestampLog
	executions      []*Execution
	executionIndex  map[string]*Execution
	prices          *rolling.PriceHistory

	emergencyStop     bool
	systemEnabled     bool
	consecutiveLosses int
	drawdownAlerted   bool
	// set when the rate check itself latched TRADE_RATE_EXCEEDED
	rateAutoLatched bool

	snapshot *Snapshot
}

// Option configures an Engine
type Option func(*Engine)

// WithClock replaces time.Now, used by tests to drive rolling windows
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithEventBus attaches the bus that receives breaker and alert events
func WithEventBus(bus *events.EventBus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithSnapshot seeds balances, positions and latches from a persisted snapshot
func WithSnapshot(s *Snapshot) Option {
	return func(e *Engine) { e.snapshot = s }
}

// NewEngine creates a risk engine for one trading session
func NewEngine(cfg Config, initialBalance float64, logger zerolog.Logger, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid risk config: %w", err)
	}
	if initialBalance < 0 || math.IsNaN(initialBalance) {
		return nil, fmt.Errorf("invalid initial balance %.4f", initialBalance)
	}

	e := &Engine{
		cfg:               cfg,
		now:               time.Now,
		logger:            logger.With().Str("component", "risk").Logger(),
		breakers:          circuit.NewBoard(),
		initialBalance:    initialBalance,
		currentBalance:    initialBalance,
		dailyStartBalance: initialBalance,
		highWaterMark:     initialBalance,
		executionIndex:    make(map[string]*Execution),
		prices:            rolling.NewPriceHistory(cfg.priceRetention()),
		systemEnabled:     true,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.snapshot != nil {
		e.restore(*e.snapshot)
		e.snapshot = nil
	}

	e.logger.Info().
		Float64("balance", e.currentBalance).
		Float64("high_water_mark", e.highWaterMark).
		Int("max_positions", cfg.MaxPositions).
		Float64("max_drawdown", cfg.MaxDrawdown).
		Msg("Risk engine initialized")
	return e, nil
}

// Config returns the active configuration
func (e *Engine) Config() Config {
	return e.cfg
}

// UpdateBalance sets the current balance and evaluates the loss breakers.
// Breakers are evaluated before the high-water mark is raised.
func (e *Engine) UpdateBalance(newBalance float64) {
	if math.IsNaN(newBalance) || math.IsInf(newBalance, 0) {
		e.logger.Warn().Float64("balance", newBalance).Msg("Ignoring non-finite balance")
		return
	}
	e.mu.Lock()
	pending := e.applyBalanceLocked(newBalance)
	e.mu.Unlock()
	e.publish(pending)
}

// RecordTrade logs a closed trade and applies its pnl to the balance
func (e *Engine) RecordTrade(pnl float64) {
	if math.IsNaN(pnl) || math.IsInf(pnl, 0) {
		e.logger.Warn().Float64("pnl", pnl).Msg("Ignoring non-finite trade pnl")
		return
	}
	e.mu.Lock()
	now := e.now()
	e.trades = append(e.trades, TradeRecord{PnL: pnl, Timestamp: now})
	e.tradeTimestamps.Add(now)

	var pending []events.Event
	if pnl < 0 {
		e.consecutiveLosses++
		if e.cfg.ConsecutiveLossAlert > 0 && e.consecutiveLosses == e.cfg.ConsecutiveLossAlert {
			pending = append(pending, events.Event{
				Type:      events.EventConsecutiveLosses,
				Timestamp: now,
				Data: map[string]interface{}{
					"count":   e.consecutiveLosses,
					"message": fmt.Sprintf("%d consecutive losing trades", e.consecutiveLosses),
				},
			})
		}
	} else {
		e.consecutiveLosses = 0
	}
	pending = append(pending, e.applyBalanceLocked(e.currentBalance+pnl)...)
	e.mu.Unlock()

	e.logger.Info().Float64("pnl", pnl).Msg("Trade recorded")
	e.publish(pending)
}

// UpdatePrice appends a price sample for symbol
func (e *Engine) UpdatePrice(symbol string, price float64) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		e.logger.Debug().Str("symbol", symbol).Float64("price", price).Msg("Ignoring invalid price")
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices.Update(symbol, price, e.now())
}

// OpenPosition counts a newly opened position
func (e *Engine) OpenPosition() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activePositions++
}

// ClosePosition releases a position slot, never going below zero
func (e *Engine) ClosePosition() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activePositions > 0 {
		e.activePositions--
	}
}

// applyBalanceLocked must be called with mu held
func (e *Engine) applyBalanceLocked(newBalance float64) []events.Event {
	var pending []events.Event
	e.currentBalance = newBalance

	drawdown := e.drawdownLocked()
	dailyLoss := e.dailyLossLocked()

	if e.cfg.MaxDrawdown > 0 && drawdown >= e.cfg.MaxDrawdown {
		pending = e.tripLocked(pending, circuit.ReasonHighDrawdown,
			fmt.Sprintf("drawdown %.2f%% reached limit %.2f%%", drawdown, e.cfg.MaxDrawdown))
	}
	if e.cfg.MaxDailyLoss > 0 && dailyLoss >= e.cfg.MaxDailyLoss {
		pending = e.tripLocked(pending, circuit.ReasonHighDailyLoss,
			fmt.Sprintf("daily loss %.2f%% reached limit %.2f%%", dailyLoss, e.cfg.MaxDailyLoss))
	}
	if e.cfg.EmergencyStopThreshold > 0 && dailyLoss >= e.cfg.EmergencyStopThreshold {
		pending = e.emergencyStopLocked(pending,
			fmt.Sprintf("daily loss %.2f%% reached emergency threshold %.2f%%", dailyLoss, e.cfg.EmergencyStopThreshold))
	}

	if e.cfg.DrawdownAlert > 0 {
		switch {
		case drawdown >= e.cfg.DrawdownAlert && !e.drawdownAlerted:
			e.drawdownAlerted = true
			pending = append(pending, events.Event{
				Type:      events.EventDrawdownAlert,
				Timestamp: e.now(),
				Data: map[string]interface{}{
					"drawdown": drawdown,
					"message":  fmt.Sprintf("drawdown %.2f%% crossed alert level %.2f%%", drawdown, e.cfg.DrawdownAlert),
				},
			})
		case drawdown < e.cfg.DrawdownAlert:
			e.drawdownAlerted = false
		}
	}

	if newBalance > e.highWaterMark {
		e.highWaterMark = newBalance
	}

	pending = append(pending, events.Event{
		Type:      events.EventBalanceUpdate,
		Timestamp: e.now(),
		Data: map[string]interface{}{
			"balance":         newBalance,
			"high_water_mark": e.highWaterMark,
			"drawdown":        drawdown,
			"daily_loss":      dailyLoss,
		},
	})
	return pending
}

// drawdownLocked is the percentage decline from the high-water mark
func (e *Engine) drawdownLocked() float64 {
	if e.highWaterMark <= 0 || e.currentBalance >= e.highWaterMark {
		return 0
	}
	return (e.highWaterMark - e.currentBalance) * 100 / e.highWaterMark
}

// dailyLossLocked is the percentage decline from the day's opening balance
func (e *Engine) dailyLossLocked() float64 {
	if e.dailyStartBalance <= 0 || e.currentBalance >= e.dailyStartBalance {
		return 0
	}
	return (e.dailyStartBalance - e.currentBalance) * 100 / e.dailyStartBalance
}

func (e *Engine) publish(pending []events.Event) {
	for _, ev := range pending {
		e.bus.Publish(ev)
	}
}
