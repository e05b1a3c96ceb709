package logging

import (
	"context"

	"github.com/rs/zerolog"
)

type contextKey string

const loggerKey contextKey = "logger"

// FromContext retrieves the logger from context
func FromContext(ctx context.Context) *zerolog.Logger {
	if l, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		return &l
	}
	l := Default()
	return &l
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// RiskContext creates a logger context for admission checks
func RiskContext(l zerolog.Logger, symbol string, size, price float64) *zerolog.Logger {
	child := l.With().
		Str("symbol", symbol).
		Float64("size", size).
		Float64("price", price).
		Logger()
	return &child
}

// OrderContext creates a logger context for order operations
func OrderContext(l zerolog.Logger, signature string) *zerolog.Logger {
	child := l.With().Str("signature", signature).Logger()
	return &child
}

// StrategyContext creates a logger context for strategy dispatch
func StrategyContext(l zerolog.Logger, strategy, symbol string) *zerolog.Logger {
	child := l.With().
		Str("strategy", strategy).
		Str("symbol", symbol).
		Logger()
	return &child
}
