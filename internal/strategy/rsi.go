package strategy

import (
	"context"
	"fmt"
)

// RSIConfig configures the RSI reversal strategy
type RSIConfig struct {
	Settings      `mapstructure:",squash"`
	Period        int     `json:"period" mapstructure:"period"`
	OversoldLevel float64 `json:"oversold_level" mapstructure:"oversold_level"`
}

// RSIReversal buys oversold symbols
type RSIReversal struct {
	base
	cfg    RSIConfig
	series *series
}

// NewRSIReversal creates an RSI strategy. The lookback is widened to fit the period.
func NewRSIReversal(cfg RSIConfig) *RSIReversal {
	if cfg.Name == "" {
		cfg.Name = "rsi"
	}
	if cfg.Period <= 0 {
		cfg.Period = 14
	}
	if cfg.OversoldLevel <= 0 {
		cfg.OversoldLevel = 30
	}
	if cfg.Lookback < cfg.Period {
		cfg.Lookback = cfg.Period
	}
	return &RSIReversal{
		base:   base{settings: cfg.Settings},
		cfg:    cfg,
		series: newSeries(cfg.Lookback),
	}
}

// Handle evaluates one event
func (s *RSIReversal) Handle(ctx context.Context, ev MarketEvent) (*Intent, error) {
	if ev.Price <= 0 {
		return nil, fmt.Errorf("invalid price %.8f for %s", ev.Price, ev.Symbol)
	}
	prices, _ := s.series.push(ev)
	prices = append(prices, ev.Price)
	if len(prices) < s.cfg.Period+1 {
		return nil, nil
	}

	rsi := CalculateRSI(prices, s.cfg.Period)
	if rsi >= s.cfg.OversoldLevel {
		return nil, nil
	}
	return s.buyIntent(ev, fmt.Sprintf("RSI oversold: %.2f", rsi)), nil
}
