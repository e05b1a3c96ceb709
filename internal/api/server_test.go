package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-trading-bot/internal/auth"
	"dex-trading-bot/internal/circuit"
	"dex-trading-bot/internal/order"
	"dex-trading-bot/internal/risk"
	"dex-trading-bot/internal/strategy"
)

type fakeOrders struct {
	orders  map[string]order.Order
	exitErr error
	exits   []order.ExitType
}

func (f *fakeOrders) Orders() []order.Order {
	out := make([]order.Order, 0, len(f.orders))
	for _, o := range f.orders {
		out = append(out, o)
	}
	return out
}

func (f *fakeOrders) GetOrder(sig string) (order.Order, error) {
	o, ok := f.orders[sig]
	if !ok {
		return order.Order{}, fmt.Errorf("get %s: %w", sig, order.ErrUnknownOrder)
	}
	return o, nil
}

func (f *fakeOrders) CancelOrder(sig string) error {
	o, ok := f.orders[sig]
	if !ok {
		return order.ErrUnknownOrder
	}
	if o.Status == order.StatusPending {
		o.Status = order.StatusCancelled
		f.orders[sig] = o
	}
	return nil
}

func (f *fakeOrders) ExitOrder(ctx context.Context, sig string, exitType order.ExitType) error {
	if f.exitErr != nil {
		return f.exitErr
	}
	o, ok := f.orders[sig]
	if !ok {
		return order.ErrUnknownOrder
	}
	if o.Status != order.StatusConfirmed {
		return fmt.Errorf("exit: %w", order.ErrInvalidTransition)
	}
	f.exits = append(f.exits, exitType)
	o.Status = order.StatusExited
	o.ExitType = exitType
	f.orders[sig] = o
	return nil
}

type fakeHealth struct{ err error }

func (h fakeHealth) HealthCheck(ctx context.Context) error { return h.err }

type fixture struct {
	server *Server
	risk   *risk.Engine
	coord  *strategy.Coordinator
	orders *fakeOrders
}

func newFixture(t *testing.T, jwt *auth.JWTManager) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine, err := risk.NewEngine(risk.DefaultConfig(), 1000, zerolog.Nop())
	require.NoError(t, err)

	breakout := strategy.NewBreakout(strategy.BreakoutConfig{
		Settings: strategy.Settings{Name: "breakout", Enabled: true, Lookback: 5},
	})
	coord, err := strategy.NewCoordinator(strategy.DefaultCoordinatorConfig(), []strategy.Strategy{breakout}, zerolog.Nop())
	require.NoError(t, err)

	now := time.Now()
	orders := &fakeOrders{orders: map[string]order.Order{
		"sig-pending":   {Signature: "sig-pending", Symbol: "SOL", Status: order.StatusPending, CreatedAt: now},
		"sig-confirmed": {Signature: "sig-confirmed", Symbol: "BONK", Status: order.StatusConfirmed, CreatedAt: now.Add(-time.Minute)},
	}}

	srv, err := NewServer(ServerConfig{ExitTimeout: time.Second}, Deps{
		Risk:       engine,
		Strategies: coord,
		Orders:     orders,
		Health:     fakeHealth{},
		JWT:        jwt,
	}, zerolog.Nop())
	require.NoError(t, err)
	return &fixture{server: srv, risk: engine, coord: coord, orders: orders}
}

type envelope struct {
	Success bool            `json:"success"`
	Error   bool            `json:"error"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, token string) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(rec.Body.Bytes(), &env)
	}
	return rec.Code, env
}

func TestNewServerRequiresControllers(t *testing.T) {
	_, err := NewServer(ServerConfig{}, Deps{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	code, _ := f.do(t, http.MethodGet, "/api/health", nil, "")
	assert.Equal(t, http.StatusOK, code)

	f.server.deps.Health = fakeHealth{err: errors.New("db down")}
	code, _ = f.do(t, http.MethodGet, "/api/health", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestRiskEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	code, env := f.do(t, http.MethodPost, "/api/risk/emergency-stop", map[string]string{"reason": "manual test"}, "")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	assert.True(t, f.risk.IsEmergencyStopActive())
	assert.True(t, f.risk.IsCircuitBreakerActive(circuit.ReasonEmergencyStop))

	code, _ = f.do(t, http.MethodDelete, "/api/risk/emergency-stop", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.False(t, f.risk.IsEmergencyStopActive())

	f.risk.TriggerCircuitBreaker(circuit.ReasonHighVolatility, "test")
	code, _ = f.do(t, http.MethodPost, "/api/risk/breakers/HIGH_VOLATILITY/reset", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.False(t, f.risk.IsCircuitBreakerActive(circuit.ReasonHighVolatility))

	code, env = f.do(t, http.MethodPost, "/api/risk/breakers/NOT_A_REASON/reset", nil, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.True(t, env.Error)

	f.risk.TriggerCircuitBreaker(circuit.ReasonPriceDeviation, "test")
	code, _ = f.do(t, http.MethodPost, "/api/risk/breakers/reset", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, f.risk.ActiveBreakers())

	code, _ = f.do(t, http.MethodPost, "/api/system/disable", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.False(t, f.risk.IsSystemEnabled())

	code, _ = f.do(t, http.MethodPost, "/api/system/enable", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, f.risk.IsSystemEnabled())

	code, env = f.do(t, http.MethodGet, "/api/risk/metrics", nil, "")
	require.Equal(t, http.StatusOK, code)
	var m risk.RiskMetrics
	require.NoError(t, json.Unmarshal(env.Data, &m))
	assert.Equal(t, 1000.0, m.CurrentBalance)
	assert.True(t, m.SystemEnabled)
}

func TestStrategyEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	code, _ := f.do(t, http.MethodPost, "/api/strategies/breakout/toggle", map[string]bool{"enabled": false}, "")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, f.coord.GetEnabledStrategies())

	code, _ = f.do(t, http.MethodPost, "/api/strategies/breakout/toggle", map[string]string{}, "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/api/strategies/missing/toggle", map[string]bool{"enabled": true}, "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, http.MethodPut, "/api/strategies/breakout/weight", map[string]float64{"weight": 2.5}, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2.5, f.coord.GetStrategyWeight("breakout"))

	code, _ = f.do(t, http.MethodPut, "/api/strategies/breakout/weight", map[string]float64{"weight": -1}, "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, env := f.do(t, http.MethodGet, "/api/strategies", nil, "")
	require.Equal(t, http.StatusOK, code)
	var statuses []strategy.Status
	require.NoError(t, json.Unmarshal(env.Data, &statuses))
	require.Len(t, statuses, 1)
	assert.Equal(t, "breakout", statuses[0].Name)
	assert.False(t, statuses[0].Enabled)
}

func TestOrderEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	code, env := f.do(t, http.MethodGet, "/api/orders", nil, "")
	require.Equal(t, http.StatusOK, code)
	var list []order.Order
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 2)
	assert.Equal(t, "sig-pending", list[0].Signature, "newest first")

	code, env = f.do(t, http.MethodGet, "/api/orders?status=confirmed", nil, "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)

	code, _ = f.do(t, http.MethodGet, "/api/orders/unknown", nil, "")
	assert.Equal(t, http.StatusNotFound, code)

	code, env = f.do(t, http.MethodPost, "/api/orders/sig-pending/cancel", nil, "")
	require.Equal(t, http.StatusOK, code)
	var o order.Order
	require.NoError(t, json.Unmarshal(env.Data, &o))
	assert.Equal(t, order.StatusCancelled, o.Status)

	code, _ = f.do(t, http.MethodPost, "/api/orders/sig-pending/exit", nil, "")
	assert.Equal(t, http.StatusConflict, code)

	code, env = f.do(t, http.MethodPost, "/api/orders/sig-confirmed/exit", map[string]string{"exit_type": "take_profit"}, "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &o))
	assert.Equal(t, order.StatusExited, o.Status)
	assert.Equal(t, []order.ExitType{order.ExitTakeProfit}, f.orders.exits)

	f.orders.orders["sig-confirmed"] = order.Order{Signature: "sig-confirmed", Status: order.StatusConfirmed}
	f.orders.exitErr = errors.New("venue unavailable")
	code, _ = f.do(t, http.MethodPost, "/api/orders/sig-confirmed/exit", nil, "")
	assert.Equal(t, http.StatusBadGateway, code)
}

func TestAuthProtectsRoutes(t *testing.T) {
	jwt, err := auth.NewJWTManager("0123456789abcdef0123", time.Hour)
	require.NoError(t, err)
	f := newFixture(t, jwt)

	viewer, err := jwt.GenerateToken("vera", auth.RoleViewer)
	require.NoError(t, err)
	admin, err := jwt.GenerateToken("ada", auth.RoleAdmin)
	require.NoError(t, err)

	code, _ := f.do(t, http.MethodGet, "/api/health", nil, "")
	assert.Equal(t, http.StatusOK, code, "health stays public")

	code, _ = f.do(t, http.MethodGet, "/api/risk/metrics", nil, "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = f.do(t, http.MethodGet, "/api/risk/metrics", nil, viewer)
	assert.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, http.MethodPost, "/api/system/disable", nil, viewer)
	assert.Equal(t, http.StatusForbidden, code)
	assert.True(t, f.risk.IsSystemEnabled())

	code, _ = f.do(t, http.MethodPost, "/api/system/disable", nil, admin)
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, f.risk.IsSystemEnabled())
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
