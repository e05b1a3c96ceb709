package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feed(t *testing.T, s Strategy, symbol string, prices ...float64) *Intent {
	t.Helper()
	var last *Intent
	for _, p := range prices {
		intent, err := s.Handle(context.Background(), MarketEvent{Symbol: symbol, Price: p, Volume: 10})
		require.NoError(t, err)
		last = intent
	}
	return last
}

func TestBreakout(t *testing.T) {
	s := NewBreakout(BreakoutConfig{
		Settings: Settings{Lookback: 3, StopLoss: 0.1, TakeProfit: 0.2, RiskFraction: 0.01, Enabled: true},
	})
	assert.Equal(t, "breakout", s.Name())
	assert.True(t, s.Enabled())

	// Warming up
	assert.Nil(t, feed(t, s, "AAA", 10, 11, 12))
	assert.Nil(t, feed(t, s, "AAA", 11.5))

	intent := feed(t, s, "AAA", 13)
	require.NotNil(t, intent)
	assert.Equal(t, SideBuy, intent.Side)
	assert.Equal(t, "breakout", intent.Strategy)
	assert.InDelta(t, 11.7, intent.StopLoss, 1e-9)
	assert.InDelta(t, 15.6, intent.TakeProfit, 1e-9)

	// Histories are per symbol
	assert.Nil(t, feed(t, s, "BBB", 13))

	_, err := s.Handle(context.Background(), MarketEvent{Symbol: "AAA", Price: 0})
	assert.Error(t, err)
}

func TestBreakoutVolumeFilter(t *testing.T) {
	s := NewBreakout(BreakoutConfig{Settings: Settings{Lookback: 2}, VolumeMultiplier: 2})
	ctx := context.Background()

	for _, p := range []float64{10, 10} {
		_, err := s.Handle(ctx, MarketEvent{Symbol: "AAA", Price: p, Volume: 100})
		require.NoError(t, err)
	}
	intent, err := s.Handle(ctx, MarketEvent{Symbol: "AAA", Price: 12, Volume: 150})
	require.NoError(t, err)
	assert.Nil(t, intent)

	intent, err = s.Handle(ctx, MarketEvent{Symbol: "AAA", Price: 13, Volume: 400})
	require.NoError(t, err)
	assert.NotNil(t, intent)
}

func TestSupport(t *testing.T) {
	s := NewSupport(SupportConfig{Settings: Settings{Lookback: 4}, TouchDistance: 0.01})

	assert.Nil(t, feed(t, s, "AAA", 100, 105, 110, 103))
	intent := feed(t, s, "AAA", 100.5)
	require.NotNil(t, intent)
	assert.Contains(t, intent.Reason, "low")

	assert.Nil(t, feed(t, s, "AAA", 90))
}

func TestRSIReversal(t *testing.T) {
	s := NewRSIReversal(RSIConfig{Period: 3, OversoldLevel: 30})
	assert.Equal(t, "rsi", s.Name())

	assert.Nil(t, feed(t, s, "AAA", 10, 11, 12))
	intent := feed(t, s, "AAA", 9)
	assert.Nil(t, intent, "one down move after two up moves is not oversold")

	intent = feed(t, s, "AAA", 8, 7)
	require.NotNil(t, intent)
	assert.Contains(t, intent.Reason, "RSI oversold")
}

func TestIndicators(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, 4.0, CalculateSMA(values, 3))
	assert.Equal(t, 0.0, CalculateSMA(values, 6))
	assert.InDelta(t, 4.0, CalculateEMA(values, 3), 1e-9)
	assert.Equal(t, 100.0, CalculateRSI(values, 3))
	assert.Equal(t, 50.0, CalculateRSI(values[:2], 3))
	assert.Equal(t, 0.0, CalculateRSI([]float64{5, 4, 3, 2}, 3))
	assert.Equal(t, 5.0, Highest(values))
	assert.Equal(t, 1.0, Lowest(values))
	assert.Equal(t, 0.0, Highest(nil))
}
