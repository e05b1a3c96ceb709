package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-trading-bot/internal/circuit"
	"dex-trading-bot/internal/events"
	"dex-trading-bot/internal/risk"
	"dex-trading-bot/internal/strategy"
)

func TestRecordCountsEvents(t *testing.T) {
	bus := events.NewEventBus(zerolog.Nop())
	Attach(bus)

	before := testutil.ToFloat64(admissionRejections.WithLabelValues("max positions"))
	bus.Publish(events.Event{Type: events.EventAdmissionRejected, Data: map[string]interface{}{"reason": "max positions"}})
	assert.Equal(t, before+1, testutil.ToFloat64(admissionRejections.WithLabelValues("max positions")))

	trips := testutil.ToFloat64(breakerTrips.WithLabelValues("HIGH_DRAWDOWN"))
	bus.Publish(events.Event{Type: events.EventCircuitBreakerTriggered, Data: map[string]interface{}{"reason": "HIGH_DRAWDOWN"}})
	assert.Equal(t, trips+1, testutil.ToFloat64(breakerTrips.WithLabelValues("HIGH_DRAWDOWN")))

	failed := testutil.ToFloat64(ordersTotal.WithLabelValues("failed"))
	bus.Publish(events.Event{Type: events.EventOrderFailed})
	assert.Equal(t, failed+1, testutil.ToFloat64(ordersTotal.WithLabelValues("failed")))
}

func TestObserveRisk(t *testing.T) {
	ObserveRisk(risk.RiskMetrics{
		CurrentBalance:  950,
		Drawdown:        5,
		ActivePositions: 2,
		SystemEnabled:   true,
		CircuitBreakers: map[circuit.Reason]bool{circuit.ReasonHighDrawdown: true},
	})

	assert.Equal(t, 950.0, testutil.ToFloat64(balance))
	assert.Equal(t, 5.0, testutil.ToFloat64(drawdown))
	assert.Equal(t, 2.0, testutil.ToFloat64(activePositions))
	assert.Equal(t, 1.0, testutil.ToFloat64(systemEnabled))
	assert.Equal(t, 1.0, testutil.ToFloat64(breakerActive.WithLabelValues("HIGH_DRAWDOWN")))
	assert.Equal(t, 0.0, testutil.ToFloat64(breakerActive.WithLabelValues("HIGH_VOLATILITY")))

	ObserveRisk(risk.RiskMetrics{SystemEnabled: true, EmergencyStopActive: true})
	assert.Equal(t, 0.0, testutil.ToFloat64(systemEnabled))

	ObserveStrategies([]strategy.Status{{Name: "breakout", Weight: 2.5}})
	assert.Equal(t, 2.5, testutil.ToFloat64(strategyWeight.WithLabelValues("breakout")))
}

func TestHandlerServesMetrics(t *testing.T) {
	ObserveRisk(risk.RiskMetrics{CurrentBalance: 1})
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dexbot_risk_balance")
}
