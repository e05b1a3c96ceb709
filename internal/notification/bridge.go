package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dex-trading-bot/internal/circuit"
	"dex-trading-bot/internal/events"
)

// Bridge turns bus events into alerts. Delivery happens on a worker
// goroutine so slow providers never block publishers; when the queue is
// full the alert is dropped and logged.
type Bridge struct {
	manager *Manager
	logger  zerolog.Logger
	queue   chan *Notification
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewBridge creates a bridge with a queue of size buffer
func NewBridge(manager *Manager, buffer int, logger zerolog.Logger) *Bridge {
	if buffer <= 0 {
		buffer = 256
	}
	return &Bridge{
		manager: manager,
		logger:  logger.With().Str("component", "alert-bridge").Logger(),
		queue:   make(chan *Notification, buffer),
		timeout: 15 * time.Second,
	}
}

// Attach subscribes the bridge to every event on bus
func (b *Bridge) Attach(bus *events.EventBus) {
	bus.SubscribeAll(b.handle)
}

// Start runs the delivery worker until ctx ends, then drains the queue
func (b *Bridge) Start(ctx context.Context) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				b.drain()
				return
			case n := <-b.queue:
				b.deliver(n)
			}
		}
	}()
}

// Wait blocks until the worker has exited
func (b *Bridge) Wait() {
	b.wg.Wait()
}

func (b *Bridge) drain() {
	for {
		select {
		case n := <-b.queue:
			b.deliver(n)
		default:
			return
		}
	}
}

func (b *Bridge) deliver(n *Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	_ = b.manager.Send(ctx, n)
}

func (b *Bridge) handle(e events.Event) {
	n := Translate(e)
	if n == nil {
		return
	}
	select {
	case b.queue <- n:
	default:
		b.logger.Warn().Str("event", string(e.Type)).Msg("Alert queue full, dropping notification")
	}
}

// Translate maps an event to a notification, or nil when the event is not
// alert-worthy
func Translate(e events.Event) *Notification {
	n := &Notification{
		Type:      NotifyRisk,
		Symbol:    e.String("symbol"),
		Timestamp: e.Timestamp,
		Extra:     e.Data,
	}
	switch e.Type {
	case events.EventCircuitBreakerTriggered:
		reason := circuit.Reason(e.String("reason"))
		// These have their own events
		if reason == circuit.ReasonEmergencyStop || reason == circuit.ReasonManualStop {
			return nil
		}
		n.Severity = SeverityCritical
		n.Title = fmt.Sprintf("Circuit breaker %s", reason)
		n.Message = e.String("message")

	case events.EventCircuitBreakerReset:
		n.Severity = SeverityInfo
		n.Title = fmt.Sprintf("Circuit breaker %s reset", e.String("reason"))
		n.Message = "Trading may resume once no other breaker is active"

	case events.EventEmergencyStop:
		n.Severity = SeverityCritical
		n.Title = "Emergency stop"
		n.Message = e.String("reason")

	case events.EventEmergencyStopReset:
		n.Severity = SeverityInfo
		n.Title = "Emergency stop cleared"

	case events.EventSystemDisabled:
		n.Severity = SeverityWarning
		n.Title = "Trading disabled"
		n.Message = e.String("reason")

	case events.EventSystemEnabled:
		n.Severity = SeverityInfo
		n.Title = "Trading enabled"

	case events.EventDrawdownAlert, events.EventConsecutiveLosses:
		n.Severity = SeverityWarning
		n.Title = "Risk alert"
		n.Message = e.String("message")

	case events.EventDailyRollover:
		n.Type = NotifyInfo
		n.Severity = SeverityInfo
		n.Title = "Daily rollover"
		n.Message = fmt.Sprintf("Day starts at balance %.2f", e.Float("daily_start_balance"))

	case events.EventSignalGenerated:
		n.Type = NotifySignal
		n.Severity = SeverityInfo
		n.Title = fmt.Sprintf("Signal: %s", n.Symbol)
		n.Message = fmt.Sprintf("%s %s @ %.6f (%s)\n%s",
			e.String("side"), n.Symbol, e.Float("price"), e.String("strategy"), e.String("reason"))
		n.Price = e.Float("price")

	case events.EventOrderFilled:
		n.Type = NotifyTradeOpen
		n.Severity = SeverityInfo
		n.Title = fmt.Sprintf("Position opened: %s", n.Symbol)
		n.Message = fmt.Sprintf("Spent %.2f at %.6f\nSignature: %s", e.Float("amount_in"), e.Float("price"), e.String("signature"))
		n.Price = e.Float("price")

	case events.EventOrderFailed:
		n.Type = NotifyError
		n.Severity = SeverityWarning
		n.Title = fmt.Sprintf("Order failed: %s", n.Symbol)
		n.Message = e.String("error")

	case events.EventExitFilled:
		n.Type = NotifyTradeClose
		n.Severity = SeverityInfo
		n.Title = fmt.Sprintf("Position closed: %s", n.Symbol)
		n.Message = fmt.Sprintf("Exit %s\nSignature: %s", e.String("exit_type"), e.String("exit_signature"))
		n.PnL = e.Float("pnl")

	case events.EventExitFailed:
		n.Type = NotifyError
		n.Severity = SeverityWarning
		n.Title = fmt.Sprintf("Exit failed: %s", n.Symbol)
		n.Message = fmt.Sprintf("%s: %s. Position still open.", e.String("exit_type"), e.String("error"))

	case events.EventStrategyFailed:
		n.Type = NotifyError
		n.Severity = SeverityWarning
		n.Title = fmt.Sprintf("Strategy %s failed", e.String("source"))
		n.Message = fmt.Sprintf("%s: %s", e.String("message"), e.String("error"))

	case events.EventBotStarted:
		n.Type = NotifyInfo
		n.Severity = SeverityInfo
		n.Title = "Bot started"

	case events.EventBotStopped:
		n.Type = NotifyInfo
		n.Severity = SeverityInfo
		n.Title = "Bot stopped"

	default:
		// Admission rejections, balance updates, weight changes and toggles
		return nil
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	return n
}
