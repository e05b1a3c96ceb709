package strategy

// CalculateSMA calculates the simple moving average of the last period values
func CalculateSMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}

	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// CalculateEMA calculates the exponential moving average, seeded with the SMA
// of the first period values
func CalculateEMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}

	multiplier := 2.0 / float64(period+1)
	ema := CalculateSMA(values[:period], period)
	for _, v := range values[period:] {
		ema = v*multiplier + ema*(1-multiplier)
	}
	return ema
}

// CalculateRSI calculates the Relative Strength Index over the last period changes
func CalculateRSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return 50.0 // Neutral RSI
	}

	gains, losses := 0.0, 0.0
	for i := len(values) - period; i < len(values); i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}

	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100.0
	}
	rs := (gains / float64(period)) / avgLoss
	return 100 - (100 / (1 + rs))
}

// Highest returns the maximum value, 0 for an empty slice
func Highest(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	high := values[0]
	for _, v := range values[1:] {
		if v > high {
			high = v
		}
	}
	return high
}

// Lowest returns the minimum value, 0 for an empty slice
func Lowest(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	low := values[0]
	for _, v := range values[1:] {
		if v < low {
			low = v
		}
	}
	return low
}
