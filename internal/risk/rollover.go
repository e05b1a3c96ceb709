package risk

import (
	"context"
	"time"

	"dex-trading-bot/internal/events"
)

// Rollover rebases the daily start balance and prunes entries older than 24h
func (e *Engine) Rollover() {
	e.mu.Lock()
	now := e.now()
	cutoff := now.Add(-24 * time.Hour)

	e.dailyStartBalance = e.currentBalance

	kept := e.trades[:0]
	for _, t := range e.trades {
		if !t.Timestamp.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	e.trades = kept
	e.tradeTimestamps.Prune(cutoff)

	execs := e.executions[:0]
	for _, exec := range e.executions {
		if exec.StartTime.Before(cutoff) {
			delete(e.executionIndex, exec.ID)
			continue
		}
		execs = append(execs, exec)
	}
	e.executions = execs
	e.prices.Prune(now)

	balance := e.currentBalance
	e.mu.Unlock()

	e.logger.Info().Float64("daily_start_balance", balance).Msg("Daily risk rollover")
	e.bus.Publish(events.Event{
		Type:      events.EventDailyRollover,
		Timestamp: now,
		Data:      map[string]interface{}{"daily_start_balance": balance},
	})
}

// StartDailyRollover runs Rollover at every local midnight until ctx is done.
// Each run schedules the next one so the timer stays aligned to calendar days.
func (e *Engine) StartDailyRollover(ctx context.Context) {
	go func() {
		for {
			now := e.now()
			timer := time.NewTimer(NextMidnight(now).Sub(now))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				e.Rollover()
			}
		}
	}()
}

// NextMidnight returns the start of the day after t, in t's location
func NextMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}
