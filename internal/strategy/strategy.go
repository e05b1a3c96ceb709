package strategy

import (
	"context"
	"sync"
	"time"
)

// MarketEvent is a price/volume observation for one symbol, optionally
// tagged with a detected pattern.
type MarketEvent struct {
	Symbol    string             `json:"symbol"`
	Price     float64            `json:"price"`
	Volume    float64            `json:"volume"`
	Liquidity float64            `json:"liquidity"`
	Pattern   string             `json:"pattern,omitempty"`
	Data      map[string]float64 `json:"data,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// Side of a trade intent
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Intent is a strategy's request to open a position
type Intent struct {
	Strategy     string    `json:"strategy"`
	Symbol       string    `json:"symbol"`
	Side         Side      `json:"side"`
	EntryPrice   float64   `json:"entry_price"`
	StopLoss     float64   `json:"stop_loss"`
	TakeProfit   float64   `json:"take_profit"`
	RiskFraction float64   `json:"risk_fraction"`
	Liquidity    float64   `json:"liquidity"`
	Reason       string    `json:"reason"`
	Timestamp    time.Time `json:"timestamp"`
}

// Strategy consumes market events and may emit a trade intent.
// Handle may be called concurrently for different symbols.
type Strategy interface {
	// Name returns the unique strategy name
	Name() string

	// Enabled reports whether the strategy starts enabled
	Enabled() bool

	// Cooldown is how long a symbol rests after this strategy handled it.
	// Zero means the coordinator default.
	Cooldown() time.Duration

	// Handle evaluates an event. A nil intent means no action.
	Handle(ctx context.Context, event MarketEvent) (*Intent, error)
}

// Settings are shared by the built-in strategies
type Settings struct {
	Name         string        `json:"name" mapstructure:"name"`
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	Cooldown     time.Duration `json:"cooldown" mapstructure:"cooldown"`
	Lookback     int           `json:"lookback" mapstructure:"lookback"`
	StopLoss     float64       `json:"stop_loss" mapstructure:"stop_loss"`     // fraction below entry
	TakeProfit   float64       `json:"take_profit" mapstructure:"take_profit"` // fraction above entry
	RiskFraction float64       `json:"risk_fraction" mapstructure:"risk_fraction"`
}

type base struct {
	settings Settings
}

func (b base) Name() string            { return b.settings.Name }
func (b base) Enabled() bool           { return b.settings.Enabled }
func (b base) Cooldown() time.Duration { return b.settings.Cooldown }

func (b base) buyIntent(ev MarketEvent, reason string) *Intent {
	return &Intent{
		Strategy:     b.settings.Name,
		Symbol:       ev.Symbol,
		Side:         SideBuy,
		EntryPrice:   ev.Price,
		StopLoss:     ev.Price * (1 - b.settings.StopLoss),
		TakeProfit:   ev.Price * (1 + b.settings.TakeProfit),
		RiskFraction: b.settings.RiskFraction,
		Liquidity:    ev.Liquidity,
		Reason:       reason,
		Timestamp:    ev.Timestamp,
	}
}

// series keeps the last n prices and volumes per symbol
type series struct {
	mu      sync.Mutex
	n       int
	prices  map[string][]float64
	volumes map[string][]float64
}

func newSeries(n int) *series {
	if n < 2 {
		n = 2
	}
	return &series{
		n:       n,
		prices:  make(map[string][]float64),
		volumes: make(map[string][]float64),
	}
}

// push records ev and returns copies of the history before ev
func (s *series) push(ev MarketEvent) (prices, volumes []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prices = append([]float64(nil), s.prices[ev.Symbol]...)
	volumes = append([]float64(nil), s.volumes[ev.Symbol]...)

	s.prices[ev.Symbol] = appendBounded(s.prices[ev.Symbol], ev.Price, s.n)
	s.volumes[ev.Symbol] = appendBounded(s.volumes[ev.Symbol], ev.Volume, s.n)
	return prices, volumes
}

func appendBounded(values []float64, v float64, n int) []float64 {
	values = append(values, v)
	if len(values) > n {
		values = values[len(values)-n:]
	}
	return values
}
