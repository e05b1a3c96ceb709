package strategy

import (
	"context"
	"fmt"
)

// SupportConfig configures the support bounce strategy
type SupportConfig struct {
	Settings      `mapstructure:",squash"`
	TouchDistance float64 `json:"touch_distance" mapstructure:"touch_distance"` // fraction above the low that counts as touching
}

// Support buys when price comes back near the lowest price of the lookback window
type Support struct {
	base
	cfg    SupportConfig
	series *series
}

// NewSupport creates a support strategy
func NewSupport(cfg SupportConfig) *Support {
	if cfg.Name == "" {
		cfg.Name = "support"
	}
	return &Support{
		base:   base{settings: cfg.Settings},
		cfg:    cfg,
		series: newSeries(cfg.Lookback),
	}
}

// Handle evaluates one event
func (s *Support) Handle(ctx context.Context, ev MarketEvent) (*Intent, error) {
	if ev.Price <= 0 {
		return nil, fmt.Errorf("invalid price %.8f for %s", ev.Price, ev.Symbol)
	}
	prices, _ := s.series.push(ev)
	if len(prices) < s.series.n {
		return nil, nil
	}

	low := Lowest(prices)
	touchThreshold := low * (1 + s.cfg.TouchDistance)
	if ev.Price < low || ev.Price > touchThreshold {
		return nil, nil
	}
	return s.buyIntent(ev, fmt.Sprintf("Price %.8f touched %d-sample low %.8f", ev.Price, len(prices), low)), nil
}
