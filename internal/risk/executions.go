package risk

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownExecution is returned when completing an execution that was never started
var ErrUnknownExecution = errors.New("unknown execution")

// Execution tracks one order attempt from start to completion
type Execution struct {
	ID           string     `json:"id"`
	Symbol       string     `json:"symbol"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	Success      bool       `json:"success"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// StartExecution opens an execution record and returns its id
func (e *Engine) StartExecution(symbol string) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	exec := &Execution{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		StartTime: e.now(),
	}
	e.executions = append(e.executions, exec)
	e.executionIndex[exec.ID] = exec
	return exec.ID
}

// CompleteExecution closes an execution record. Completing twice keeps the first outcome.
func (e *Engine) CompleteExecution(id string, success bool, errMsg string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	exec, ok := e.executionIndex[id]
	if !ok {
		return fmt.Errorf("complete execution %s: %w", id, ErrUnknownExecution)
	}
	if exec.EndTime != nil {
		return nil
	}
	end := e.now()
	exec.EndTime = &end
	exec.Success = success
	exec.ErrorMessage = errMsg

	if success && end.Sub(exec.StartTime) > e.cfg.MaxExecutionTime {
		e.logger.Warn().
			Str("execution_id", id).
			Str("symbol", exec.Symbol).
			Dur("duration", end.Sub(exec.StartTime)).
			Msg("Execution exceeded max execution time")
	}
	return nil
}

// successRateLocked returns the success percentage over the last 24h and
// the number of executions it was computed from. Slow completions and
// pending executions older than MaxExecutionTime count as failures.
func (e *Engine) successRateLocked(now time.Time) (float64, int) {
	cutoff := now.Add(-24 * time.Hour)
	var samples, successes int
	for _, exec := range e.executions {
		if exec.StartTime.Before(cutoff) {
			continue
		}
		if exec.EndTime == nil {
			if now.Sub(exec.StartTime) > e.cfg.MaxExecutionTime {
				samples++
			}
			continue
		}
		samples++
		if exec.Success && exec.EndTime.Sub(exec.StartTime) <= e.cfg.MaxExecutionTime {
			successes++
		}
	}
	if samples == 0 {
		return 100, 0
	}
	return float64(successes) / float64(samples) * 100, samples
}
