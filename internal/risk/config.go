package risk

import (
	"fmt"
	"time"
)

// Config holds risk management configuration. Percentages are expressed
// in percent (15 means 15%), except MaxLiquidityPercent which is a fraction.
type Config struct {
	MaxDrawdown            float64       `json:"max_drawdown" mapstructure:"max_drawdown"`
	MaxDailyLoss           float64       `json:"max_daily_loss" mapstructure:"max_daily_loss"`
	MaxPositions           int           `json:"max_positions" mapstructure:"max_positions"`
	MaxPositionSize        float64       `json:"max_position_size" mapstructure:"max_position_size"`
	SlippageBps            int           `json:"slippage_bps" mapstructure:"slippage_bps"`
	MaxVolatility          float64       `json:"max_volatility" mapstructure:"max_volatility"`
	MaxPriceDeviation      float64       `json:"max_price_deviation" mapstructure:"max_price_deviation"`
	VolWindow              time.Duration `json:"vol_window" mapstructure:"vol_window"`
	SizingWindow           time.Duration `json:"sizing_window" mapstructure:"sizing_window"`
	MaxTradesPerMinute     int           `json:"max_trades_per_minute" mapstructure:"max_trades_per_minute"`
	MaxTradesPerHour       int           `json:"max_trades_per_hour" mapstructure:"max_trades_per_hour"`
	MaxTradesPerDay        int           `json:"max_trades_per_day" mapstructure:"max_trades_per_day"`
	MaxExecutionTime       time.Duration `json:"max_execution_time" mapstructure:"max_execution_time"`
	MinSuccessRate         float64       `json:"min_success_rate" mapstructure:"min_success_rate"`
	MinSuccessSamples      int           `json:"min_success_samples" mapstructure:"min_success_samples"`
	EmergencyStopThreshold float64       `json:"emergency_stop_threshold" mapstructure:"emergency_stop_threshold"`
	MaxPositionValueUSD    float64       `json:"max_position_value_usd" mapstructure:"max_position_value_usd"`
	MaxLiquidityPercent    float64       `json:"max_liquidity_percent" mapstructure:"max_liquidity_percent"`
	MinPositionValueUSD    float64       `json:"min_position_value_usd" mapstructure:"min_position_value_usd"`
	ConsecutiveLossAlert   int           `json:"consecutive_loss_alert" mapstructure:"consecutive_loss_alert"`
	DrawdownAlert          float64       `json:"drawdown_alert" mapstructure:"drawdown_alert"`
}

// DefaultConfig returns safe defaults
func DefaultConfig() Config {
	return Config{
		MaxDrawdown:            20,
		MaxDailyLoss:           10,
		MaxPositions:           5,
		MaxPositionSize:        100,
		SlippageBps:            100,
		MaxVolatility:          25,
		MaxPriceDeviation:      15,
		VolWindow:              5 * time.Minute,
		SizingWindow:           30 * time.Minute,
		MaxTradesPerMinute:     5,
		MaxTradesPerHour:       30,
		MaxTradesPerDay:        100,
		MaxExecutionTime:       15 * time.Second,
		MinSuccessRate:         70,
		MinSuccessSamples:      5,
		EmergencyStopThreshold: 15,
		MaxPositionValueUSD:    50,
		MaxLiquidityPercent:    0.05,
		MinPositionValueUSD:    10,
		ConsecutiveLossAlert:   3,
		DrawdownAlert:          10,
	}
}

// Validate rejects configurations that cannot gate anything sensibly
func (c Config) Validate() error {
	if c.MaxPositions <= 0 {
		return fmt.Errorf("max_positions must be positive, got %d", c.MaxPositions)
	}
	if c.MaxPositionSize <= 0 {
		return fmt.Errorf("max_position_size must be positive, got %.4f", c.MaxPositionSize)
	}
	if c.MaxDrawdown < 0 || c.MaxDailyLoss < 0 || c.EmergencyStopThreshold < 0 {
		return fmt.Errorf("loss thresholds must not be negative")
	}
	if c.VolWindow <= 0 || c.SizingWindow <= 0 {
		return fmt.Errorf("vol_window and sizing_window must be positive")
	}
	if c.MinSuccessRate < 0 || c.MinSuccessRate > 100 {
		return fmt.Errorf("min_success_rate must be within [0, 100], got %.2f", c.MinSuccessRate)
	}
	if c.MaxLiquidityPercent < 0 || c.MaxLiquidityPercent > 1 {
		return fmt.Errorf("max_liquidity_percent is a fraction within [0, 1], got %.4f", c.MaxLiquidityPercent)
	}
	if c.MinPositionValueUSD < 0 || c.MaxPositionValueUSD < c.MinPositionValueUSD {
		return fmt.Errorf("position value bounds invalid: min %.2f max %.2f", c.MinPositionValueUSD, c.MaxPositionValueUSD)
	}
	return nil
}

// priceRetention is how long price samples are kept: long enough for both
// the volatility check and position sizing.
func (c Config) priceRetention() time.Duration {
	if c.SizingWindow > c.VolWindow {
		return c.SizingWindow
	}
	return c.VolWindow
}
