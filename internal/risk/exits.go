package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ExitConfig holds take-profit, stop-loss and trailing stop settings, in percent
type ExitConfig struct {
	TakeProfitPercent      float64 `json:"take_profit_percent" mapstructure:"take_profit_percent"`
	StopLossPercent        float64 `json:"stop_loss_percent" mapstructure:"stop_loss_percent"`
	TrailingEnabled        bool    `json:"trailing_enabled" mapstructure:"trailing_enabled"`
	TrailingPercent        float64 `json:"trailing_percent" mapstructure:"trailing_percent"`
	TrailingActivationPerc float64 `json:"trailing_activation_percent" mapstructure:"trailing_activation_percent"`
}

// ExitReason says why a position should be closed
type ExitReason string

const (
	ExitTakeProfit   ExitReason = "take_profit"
	ExitStopLoss     ExitReason = "stop_loss"
	ExitTrailingStop ExitReason = "trailing_stop"
)

// Exit is a triggered exit for an open position
type Exit struct {
	Key        string
	Symbol     string
	Reason     ExitReason
	EntryPrice float64
	Price      float64
	PnLPercent float64
}

// TrackedPosition is a long position watched for exit conditions
type TrackedPosition struct {
	Key           string
	Symbol        string
	EntryPrice    float64
	Quantity      float64
	StopLoss      float64
	TakeProfit    float64
	HighWaterMark float64
	Trailing      bool
	LastUpdate    time.Time
}

// ExitMonitor watches open positions and reports when one must be exited.
// A position triggers at most once; it is forgotten after triggering.
type ExitMonitor struct {
	mu        sync.Mutex
	cfg       ExitConfig
	positions map[string]*TrackedPosition
	logger    zerolog.Logger
}

// NewExitMonitor creates a monitor with the given thresholds
func NewExitMonitor(cfg ExitConfig, logger zerolog.Logger) *ExitMonitor {
	return &ExitMonitor{
		cfg:       cfg,
		positions: make(map[string]*TrackedPosition),
		logger:    logger.With().Str("component", "exit-monitor").Logger(),
	}
}

// Track starts watching a filled position under key
func (m *ExitMonitor) Track(key, symbol string, entryPrice, quantity float64) {
	m.TrackWithLevels(key, symbol, entryPrice, quantity, 0, 0)
}

// TrackWithLevels is Track with explicit stop-loss and take-profit prices.
// A zero level falls back to the configured percentage.
func (m *ExitMonitor) TrackWithLevels(key, symbol string, entryPrice, quantity, stopLoss, takeProfit float64) {
	if entryPrice <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	pos := &TrackedPosition{
		Key:           key,
		Symbol:        symbol,
		EntryPrice:    entryPrice,
		Quantity:      quantity,
		HighWaterMark: entryPrice,
		LastUpdate:    time.Now(),
	}
	if m.cfg.StopLossPercent > 0 {
		pos.StopLoss = entryPrice * (1 - m.cfg.StopLossPercent/100)
	}
	if m.cfg.TakeProfitPercent > 0 {
		pos.TakeProfit = entryPrice * (1 + m.cfg.TakeProfitPercent/100)
	}
	if stopLoss > 0 && stopLoss < entryPrice {
		pos.StopLoss = stopLoss
	}
	if takeProfit > entryPrice {
		pos.TakeProfit = takeProfit
	}
	m.positions[key] = pos

	m.logger.Debug().
		Str("key", key).
		Str("symbol", symbol).
		Float64("entry", entryPrice).
		Float64("stop_loss", pos.StopLoss).
		Float64("take_profit", pos.TakeProfit).
		Msg("Tracking position")
}

// Untrack stops watching key
func (m *ExitMonitor) Untrack(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, key)
}

// Get returns a copy of the tracked position
func (m *ExitMonitor) Get(key string) (TrackedPosition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[key]
	if !ok {
		return TrackedPosition{}, false
	}
	return *pos, true
}

// Len returns the number of tracked positions
func (m *ExitMonitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.positions)
}

// OnPrice applies a price to every position in symbol and returns the triggered exits
func (m *ExitMonitor) OnPrice(symbol string, price float64) []Exit {
	if price <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var exits []Exit
	for key, pos := range m.positions {
		if pos.Symbol != symbol {
			continue
		}
		if reason, hit := m.evaluate(pos, price); hit {
			exits = append(exits, Exit{
				Key:        key,
				Symbol:     symbol,
				Reason:     reason,
				EntryPrice: pos.EntryPrice,
				Price:      price,
				PnLPercent: (price - pos.EntryPrice) / pos.EntryPrice * 100,
			})
			delete(m.positions, key)
		}
	}
	return exits
}

func (m *ExitMonitor) evaluate(pos *TrackedPosition, price float64) (ExitReason, bool) {
	pos.LastUpdate = time.Now()

	if pos.StopLoss > 0 && price <= pos.StopLoss {
		if pos.Trailing {
			return ExitTrailingStop, true
		}
		return ExitStopLoss, true
	}
	if pos.TakeProfit > 0 && price >= pos.TakeProfit {
		return ExitTakeProfit, true
	}

	if price > pos.HighWaterMark {
		pos.HighWaterMark = price
	}
	if !m.cfg.TrailingEnabled || m.cfg.TrailingPercent <= 0 {
		return "", false
	}

	profit := (price - pos.EntryPrice) / pos.EntryPrice * 100
	if !pos.Trailing && profit >= m.cfg.TrailingActivationPerc {
		pos.Trailing = true
		m.logger.Debug().Str("key", pos.Key).Float64("profit", profit).Msg("Trailing stop activated")
	}
	if pos.Trailing {
		// Only ratchet upward.
		if stop := pos.HighWaterMark * (1 - m.cfg.TrailingPercent/100); stop > pos.StopLoss {
			pos.StopLoss = stop
		}
	}
	return "", false
}
