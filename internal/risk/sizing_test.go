package risk

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestCalculatePositionSize(t *testing.T) {
	e, clock, _ := newTestEngine(t, DefaultConfig(), 1000)

	// No history: min(E, balance*r)
	assert.Equal(t, 10.0, e.CalculatePositionSize("AAA", 0.01, 100))
	assert.Equal(t, 5.0, e.CalculatePositionSize("AAA", 0.01, 5))
	assert.Equal(t, 0.0, e.CalculatePositionSize("AAA", 0, 100))

	e.UpdatePrice("AAA", 10)
	clock.Advance(time.Second)
	e.UpdatePrice("AAA", 12)
	assert.InDelta(t, 10/math.Sqrt2, e.CalculatePositionSize("AAA", 0.01, 100), 1e-9)
	assert.Equal(t, 2.0, e.CalculatePositionSize("AAA", 0.01, 2))

	// Flat prices fall back to the undivided size
	e.UpdatePrice("BBB", 7)
	e.UpdatePrice("BBB", 7)
	assert.Equal(t, 10.0, e.CalculatePositionSize("BBB", 0.01, 100))
}

func TestCalculatePositionSizeUsesSizingWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SizingWindow = time.Minute
	e, clock, _ := newTestEngine(t, cfg, 1000)

	e.UpdatePrice("AAA", 10)
	clock.Advance(2 * time.Minute)
	e.UpdatePrice("AAA", 50)
	assert.Equal(t, 10.0, e.CalculatePositionSize("AAA", 0.01, 100))
}

func TestCalculateLiquidityAdjustedSize(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig(), 1000)

	tests := []struct {
		name      string
		requested float64
		liquidity float64
		want      float64
	}{
		{"exposure cap", 100, 10000, 50},
		{"requested", 20, 10000, 20},
		{"liquidity cap", 40, 500, 25},
		{"raised to minimum", 5, 10000, 10},
		{"liquidity below minimum", 100, 100, 0},
		{"negative request", -5, 10000, 0},
		{"no liquidity", 20, 0, 0},
		{"rounds down to cents", 12.349, 10000, 12.34},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.CalculateLiquidityAdjustedSize(tt.requested, tt.liquidity))
		})
	}
}

func TestExitMonitor(t *testing.T) {
	cfg := ExitConfig{TakeProfitPercent: 20, StopLossPercent: 10}

	t.Run("take profit", func(t *testing.T) {
		m := NewExitMonitor(cfg, zerolog.Nop())
		m.Track("sig-1", "AAA", 100, 1)
		assert.Empty(t, m.OnPrice("AAA", 110))
		assert.Empty(t, m.OnPrice("BBB", 500))

		exits := m.OnPrice("AAA", 121)
		if assert.Len(t, exits, 1) {
			assert.Equal(t, ExitTakeProfit, exits[0].Reason)
			assert.Equal(t, "sig-1", exits[0].Key)
			assert.InDelta(t, 21.0, exits[0].PnLPercent, 1e-9)
		}
		assert.Equal(t, 0, m.Len())
		assert.Empty(t, m.OnPrice("AAA", 150))
	})

	t.Run("stop loss", func(t *testing.T) {
		m := NewExitMonitor(cfg, zerolog.Nop())
		m.Track("sig-2", "AAA", 100, 1)
		exits := m.OnPrice("AAA", 89)
		if assert.Len(t, exits, 1) {
			assert.Equal(t, ExitStopLoss, exits[0].Reason)
		}
	})

	t.Run("trailing stop ratchets up", func(t *testing.T) {
		trailing := ExitConfig{StopLossPercent: 10, TrailingEnabled: true, TrailingPercent: 5, TrailingActivationPerc: 10}
		m := NewExitMonitor(trailing, zerolog.Nop())
		m.Track("sig-3", "AAA", 100, 1)

		assert.Empty(t, m.OnPrice("AAA", 120))
		pos, ok := m.Get("sig-3")
		assert.True(t, ok)
		assert.True(t, pos.Trailing)
		assert.InDelta(t, 114.0, pos.StopLoss, 1e-9)

		assert.Empty(t, m.OnPrice("AAA", 116))
		pos, _ = m.Get("sig-3")
		assert.InDelta(t, 114.0, pos.StopLoss, 1e-9)

		exits := m.OnPrice("AAA", 113)
		if assert.Len(t, exits, 1) {
			assert.Equal(t, ExitTrailingStop, exits[0].Reason)
		}
	})

	t.Run("explicit levels override percentages", func(t *testing.T) {
		m := NewExitMonitor(cfg, zerolog.Nop())
		m.TrackWithLevels("sig-5", "AAA", 100, 1, 95, 105)
		pos, ok := m.Get("sig-5")
		assert.True(t, ok)
		assert.Equal(t, 95.0, pos.StopLoss)
		assert.Equal(t, 105.0, pos.TakeProfit)

		exits := m.OnPrice("AAA", 106)
		if assert.Len(t, exits, 1) {
			assert.Equal(t, ExitTakeProfit, exits[0].Reason)
		}

		// Levels on the wrong side of entry are ignored
		m.TrackWithLevels("sig-6", "AAA", 100, 1, 120, 80)
		pos, _ = m.Get("sig-6")
		assert.InDelta(t, 90.0, pos.StopLoss, 1e-9)
		assert.InDelta(t, 120.0, pos.TakeProfit, 1e-9)
	})

	t.Run("untrack", func(t *testing.T) {
		m := NewExitMonitor(cfg, zerolog.Nop())
		m.Track("sig-4", "AAA", 100, 1)
		m.Untrack("sig-4")
		assert.Empty(t, m.OnPrice("AAA", 50))
	})
}
