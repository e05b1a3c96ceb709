package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dex-trading-bot/internal/circuit"
	"dex-trading-bot/internal/events"
	"dex-trading-bot/internal/risk"
	"dex-trading-bot/internal/strategy"
)

const namespace = "dexbot"

var (
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events published on the bus",
		},
		[]string{"type"},
	)

	admissionRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "admission_rejections_total",
			Help:      "Position requests rejected by the risk engine",
		},
		[]string{"reason"},
	)

	breakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "circuit_breaker_trips_total",
			Help:      "Circuit breaker trips by reason",
		},
		[]string{"reason"},
	)

	ordersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "transitions_total",
			Help:      "Order lifecycle events by outcome",
		},
		[]string{"outcome"},
	)

	signalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      "signals_total",
			Help:      "Trade intents emitted per strategy",
		},
		[]string{"strategy"},
	)

	strategyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      "failures_total",
			Help:      "Strategy handler errors and panics",
		},
		[]string{"strategy"},
	)

	strategyWeight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      "weight",
			Help:      "Current performance weight per strategy",
		},
		[]string{"strategy"},
	)

	balance = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "risk", Name: "balance",
		Help: "Current account balance",
	})
	drawdown = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "risk", Name: "drawdown_percent",
		Help: "Drawdown from the high-water mark",
	})
	dailyLoss = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "risk", Name: "daily_loss_percent",
		Help: "Loss since the start of the trading day",
	})
	activePositions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "risk", Name: "active_positions",
		Help: "Open positions",
	})
	successRate = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "risk", Name: "execution_success_rate",
		Help: "Execution success rate over the recent window",
	})
	breakerActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "circuit_breaker_active",
			Help:      "1 when the breaker is latched",
		},
		[]string{"reason"},
	)
	systemEnabled = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "risk", Name: "system_enabled",
		Help: "1 when trading is enabled and no emergency stop is active",
	})
)

// Attach counts bus events
func Attach(bus *events.EventBus) {
	bus.SubscribeAll(Record)
}

// Record updates counters for one event
func Record(e events.Event) {
	eventsTotal.WithLabelValues(string(e.Type)).Inc()

	switch e.Type {
	case events.EventAdmissionRejected:
		admissionRejections.WithLabelValues(e.String("reason")).Inc()
	case events.EventCircuitBreakerTriggered:
		breakerTrips.WithLabelValues(e.String("reason")).Inc()
	case events.EventSignalGenerated:
		signalsTotal.WithLabelValues(e.String("strategy")).Inc()
	case events.EventStrategyFailed:
		strategyFailures.WithLabelValues(e.String("source")).Inc()
	case events.EventOrderPlaced:
		ordersTotal.WithLabelValues("placed").Inc()
	case events.EventOrderFilled:
		ordersTotal.WithLabelValues("confirmed").Inc()
	case events.EventOrderFailed:
		ordersTotal.WithLabelValues("failed").Inc()
	case events.EventOrderCancelled:
		ordersTotal.WithLabelValues("cancelled").Inc()
	case events.EventExitFilled:
		ordersTotal.WithLabelValues("exited").Inc()
	case events.EventExitFailed:
		ordersTotal.WithLabelValues("exit_failed").Inc()
	}
}

// ObserveRisk copies a risk snapshot into gauges
func ObserveRisk(m risk.RiskMetrics) {
	balance.Set(m.CurrentBalance)
	drawdown.Set(m.Drawdown)
	dailyLoss.Set(m.DailyLoss)
	activePositions.Set(float64(m.ActivePositions))
	successRate.Set(m.SuccessRate)
	for _, reason := range circuit.AllReasons {
		breakerActive.WithLabelValues(string(reason)).Set(boolGauge(m.CircuitBreakers[reason]))
	}
	systemEnabled.Set(boolGauge(m.SystemEnabled && !m.EmergencyStopActive))
}

// ObserveStrategies publishes strategy weights
func ObserveStrategies(statuses []strategy.Status) {
	for _, s := range statuses {
		strategyWeight.WithLabelValues(s.Name).Set(s.Weight)
	}
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
