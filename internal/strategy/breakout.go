package strategy

import (
	"context"
	"fmt"
)

// BreakoutConfig configures the breakout strategy
type BreakoutConfig struct {
	Settings         `mapstructure:",squash"`
	VolumeMultiplier float64 `json:"volume_multiplier" mapstructure:"volume_multiplier"` // volume vs lookback average, 0 disables
}

// Breakout buys when price breaks above the highest price of the lookback window
type Breakout struct {
	base
	cfg    BreakoutConfig
	series *series
}

// NewBreakout creates a breakout strategy
func NewBreakout(cfg BreakoutConfig) *Breakout {
	if cfg.Name == "" {
		cfg.Name = "breakout"
	}
	return &Breakout{
		base:   base{settings: cfg.Settings},
		cfg:    cfg,
		series: newSeries(cfg.Lookback),
	}
}

// Handle evaluates one event
func (s *Breakout) Handle(ctx context.Context, ev MarketEvent) (*Intent, error) {
	if ev.Price <= 0 {
		return nil, fmt.Errorf("invalid price %.8f for %s", ev.Price, ev.Symbol)
	}
	prices, volumes := s.series.push(ev)
	if len(prices) < s.series.n {
		return nil, nil
	}

	if s.cfg.VolumeMultiplier > 0 {
		avgVolume := CalculateSMA(volumes, len(volumes))
		if ev.Volume < avgVolume*s.cfg.VolumeMultiplier {
			return nil, nil
		}
	}

	high := Highest(prices)
	if ev.Price <= high {
		return nil, nil
	}
	return s.buyIntent(ev, fmt.Sprintf("Price %.8f broke above %d-sample high %.8f", ev.Price, len(prices), high)), nil
}
