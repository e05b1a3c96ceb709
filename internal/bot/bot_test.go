package bot

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-trading-bot/internal/events"
	"dex-trading-bot/internal/order"
	"dex-trading-bot/internal/risk"
	"dex-trading-bot/internal/strategy"
	"dex-trading-bot/internal/venue"
)

// scripted emits its armed intent once per arm
type scripted struct {
	name string
	mu   sync.Mutex
	next *strategy.Intent
}

func (s *scripted) Name() string            { return s.name }
func (s *scripted) Enabled() bool           { return true }
func (s *scripted) Cooldown() time.Duration { return 0 }

func (s *scripted) arm(stopLoss, takeProfit float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = &strategy.Intent{StopLoss: stopLoss, TakeProfit: takeProfit, RiskFraction: 0.05, Reason: "test"}
}

func (s *scripted) Handle(ctx context.Context, ev strategy.MarketEvent) (*strategy.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next == nil {
		return nil, nil
	}
	in := *s.next
	s.next = nil
	in.Strategy = s.name
	in.Symbol = ev.Symbol
	in.Side = strategy.SideBuy
	in.EntryPrice = ev.Price
	in.Timestamp = ev.Timestamp
	return &in, nil
}

type memStore struct {
	mu        sync.Mutex
	orders    map[string]order.Order
	snapshots int
}

func (m *memStore) SaveRiskSnapshot(ctx context.Context, s risk.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots++
	return nil
}

func (m *memStore) UpsertOrder(ctx context.Context, o order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.Signature] = o
	return nil
}

func (m *memStore) status(sig string) order.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[sig].Status
}

type harness struct {
	bot    *TradingBot
	risk   *risk.Engine
	coord  *strategy.Coordinator
	orders *order.Manager
	paper  *venue.Paper
	exits  *risk.ExitMonitor
	store  *memStore
	bus    *events.EventBus
	alpha  *scripted
	beta   *scripted
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zerolog.Nop()
	bus := events.NewEventBus(log)

	engine, err := risk.NewEngine(risk.DefaultConfig(), 1000, log, risk.WithEventBus(bus))
	require.NoError(t, err)

	alpha := &scripted{name: "alpha"}
	beta := &scripted{name: "beta"}
	coord, err := strategy.NewCoordinator(strategy.DefaultCoordinatorConfig(), []strategy.Strategy{alpha, beta}, log, strategy.WithEventBus(bus))
	require.NoError(t, err)

	signer, err := venue.NewSigner(bytes.Repeat([]byte{9}, 32))
	require.NoError(t, err)

	var b *TradingBot
	builder, err := venue.NewBuilder(signer, 100, func(symbol string) (float64, bool) { return b.LatestPrice(symbol) })
	require.NoError(t, err)

	paper := venue.NewPaper(venue.PaperConfig{ConfirmAfter: 1}, log)
	orders, err := order.NewManager(order.Config{
		PollInterval:       5 * time.Millisecond,
		MaxPendingDuration: 2 * time.Second,
		QueryTimeout:       time.Second,
		SubmitAttempts:     1,
	}, paper, paper, log, order.WithExitBuilder(builder), order.WithEventBus(bus))
	require.NoError(t, err)

	exits := risk.NewExitMonitor(risk.ExitConfig{StopLossPercent: 10, TakeProfitPercent: 50}, log)
	store := &memStore{orders: make(map[string]order.Order)}

	b, err = NewTradingBot(Config{MaxExposureUSD: 50, DefaultRiskFraction: 0.01, ExitTimeout: 2 * time.Second}, Deps{
		Risk:        engine,
		Coordinator: coord,
		Orders:      orders,
		Builder:     builder,
		Exits:       exits,
		Bus:         bus,
		Store:       store,
	}, log)
	require.NoError(t, err)

	h := &harness{bot: b, risk: engine, coord: coord, orders: orders, paper: paper, exits: exits, store: store, bus: bus, alpha: alpha, beta: beta}
	t.Cleanup(func() {
		h.bot.Stop()
		orders.Close()
	})
	return h
}

func tick(symbol string, price float64) strategy.MarketEvent {
	return strategy.MarketEvent{Symbol: symbol, Price: price, Volume: 1, Liquidity: 10000, Timestamp: time.Now()}
}

func (h *harness) waitStatus(t *testing.T, sig string, want order.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		o, err := h.orders.GetOrder(sig)
		return err == nil && o.Status == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEntryFillAndTakeProfitExit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.alpha.arm(0, 2.2)
	sig, err := h.bot.HandleMarketEvent(ctx, tick("SOL", 2))
	require.NoError(t, err)
	require.NotEmpty(t, sig)
	assert.Equal(t, 1, h.risk.GetMetrics().ActivePositions)

	h.waitStatus(t, sig, order.StatusConfirmed)
	require.Eventually(t, func() bool { return h.exits.Len() == 1 }, time.Second, 5*time.Millisecond)
	tracked, ok := h.exits.Get(sig)
	require.True(t, ok)
	assert.Equal(t, 2.2, tracked.TakeProfit)
	assert.InDelta(t, 25.0, tracked.Quantity, 1e-9)

	_, err = h.bot.HandleMarketEvent(ctx, tick("SOL", 2.5))
	require.NoError(t, err)
	h.waitStatus(t, sig, order.StatusExited)

	require.Eventually(t, func() bool { return h.bot.OpenPositions() == 0 }, time.Second, 5*time.Millisecond)
	m := h.risk.GetMetrics()
	assert.Equal(t, 0, m.ActivePositions)
	assert.InDelta(t, 1012.5, m.CurrentBalance, 1e-6)

	o, err := h.orders.GetOrder(sig)
	require.NoError(t, err)
	assert.Equal(t, order.ExitTakeProfit, o.ExitType)
	assert.Equal(t, 2.5, o.ExitPrice)

	statuses := h.coord.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, 1, statuses[0].Trades)
	assert.Equal(t, 100.0, statuses[0].WinRate)

	require.Eventually(t, func() bool { return h.store.status(sig) == order.StatusExited }, time.Second, 5*time.Millisecond)
}

func TestFailedEntryReleasesPosition(t *testing.T) {
	h := newHarness(t)
	h.paper.FailSymbol("RUG", "pool drained")

	h.alpha.arm(0, 0)
	sig, err := h.bot.HandleMarketEvent(context.Background(), tick("RUG", 1))
	require.NoError(t, err)
	require.NotEmpty(t, sig)

	h.waitStatus(t, sig, order.StatusFailed)
	require.Eventually(t, func() bool { return h.bot.OpenPositions() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, h.risk.GetMetrics().ActivePositions)
	assert.Equal(t, 0, h.exits.Len())
}

func TestRejectedIntentPlacesNothing(t *testing.T) {
	h := newHarness(t)
	h.risk.DisableSystem()

	var rejected int
	var mu sync.Mutex
	h.bus.Subscribe(events.EventAdmissionRejected, func(events.Event) {
		mu.Lock()
		rejected++
		mu.Unlock()
	})

	h.alpha.arm(0, 0)
	sig, err := h.bot.HandleMarketEvent(context.Background(), tick("SOL", 2))
	require.NoError(t, err)
	assert.Empty(t, sig)
	assert.Empty(t, h.orders.Orders())
	assert.Equal(t, 0, h.risk.GetMetrics().ActivePositions)
	mu.Lock()
	assert.Equal(t, 1, rejected)
	mu.Unlock()
}

func TestTinyLiquidityDropsIntent(t *testing.T) {
	h := newHarness(t)
	h.alpha.arm(0, 0)
	ev := tick("THIN", 2)
	ev.Liquidity = 50
	sig, err := h.bot.HandleMarketEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Empty(t, sig)
	assert.Empty(t, h.orders.Orders())
}

func TestPickIntentFollowsWeights(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.coord.SetStrategyWeight("beta", 5))

	intents := []strategy.Intent{{Strategy: "alpha", Symbol: "X"}, {Strategy: "beta", Symbol: "X"}}
	in, ok := h.bot.pickIntent(intents)
	require.True(t, ok)
	assert.Equal(t, "beta", in.Strategy)

	_, ok = h.bot.pickIntent(nil)
	assert.False(t, ok)
}

func TestInvalidMarketEvent(t *testing.T) {
	h := newHarness(t)
	_, err := h.bot.HandleMarketEvent(context.Background(), strategy.MarketEvent{Symbol: "SOL"})
	assert.Error(t, err)
}

func TestStartStopPersistsAndExitsOnShutdown(t *testing.T) {
	h := newHarness(t)
	h.bot.cfg.ExitOnShutdown = true

	var started, stopped int
	var mu sync.Mutex
	h.bus.Subscribe(events.EventBotStarted, func(events.Event) { mu.Lock(); started++; mu.Unlock() })
	h.bus.Subscribe(events.EventBotStopped, func(events.Event) { mu.Lock(); stopped++; mu.Unlock() })

	h.bot.Start(context.Background())
	h.bot.Start(context.Background())

	h.alpha.arm(0, 0)
	sig, err := h.bot.HandleMarketEvent(context.Background(), tick("SOL", 2))
	require.NoError(t, err)
	h.waitStatus(t, sig, order.StatusConfirmed)
	require.Eventually(t, func() bool { return h.exits.Len() == 1 }, time.Second, 5*time.Millisecond)

	h.bot.Stop()

	o, err := h.orders.GetOrder(sig)
	require.NoError(t, err)
	assert.Equal(t, order.StatusExited, o.Status)
	assert.Equal(t, order.ExitShutdown, o.ExitType)
	assert.Equal(t, 0, h.bot.OpenPositions())

	h.store.mu.Lock()
	assert.GreaterOrEqual(t, h.store.snapshots, 1)
	h.store.mu.Unlock()

	mu.Lock()
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, stopped)
	mu.Unlock()
}

func TestNewTradingBotValidation(t *testing.T) {
	_, err := NewTradingBot(DefaultConfig(), Deps{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestMarketEventsAfterStopAreRejected(t *testing.T) {
	h := newHarness(t)
	h.bot.Start(context.Background())

	h.alpha.arm(0, 2.2)
	sig, err := h.bot.HandleMarketEvent(context.Background(), tick("SOL", 2))
	require.NoError(t, err)
	h.waitStatus(t, sig, order.StatusConfirmed)
	require.Eventually(t, func() bool { return h.exits.Len() == 1 }, time.Second, 5*time.Millisecond)

	h.bot.Stop()
	h.store.mu.Lock()
	snapshots := h.store.snapshots
	h.store.mu.Unlock()

	// a late tick past take-profit must neither exit nor enter
	h.alpha.arm(0, 0)
	_, err = h.bot.HandleMarketEvent(context.Background(), tick("SOL", 3))
	assert.ErrorIs(t, err, ErrStopped)

	o, err := h.orders.GetOrder(sig)
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, o.Status)
	assert.Len(t, h.orders.Orders(), 1)
	assert.Equal(t, 1, h.exits.Len())

	h.store.mu.Lock()
	assert.Equal(t, snapshots, h.store.snapshots)
	h.store.mu.Unlock()
}

func TestStopWaitsForInFlightMarketEvents(t *testing.T) {
	h := newHarness(t)
	h.bot.Start(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.bot.HandleMarketEvent(context.Background(), tick("SOL", 2+float64(i)/100))
			if err != nil {
				assert.ErrorIs(t, err, ErrStopped)
			}
		}(i)
	}
	h.bot.Stop()
	wg.Wait()

	_, err := h.bot.HandleMarketEvent(context.Background(), tick("SOL", 2))
	assert.ErrorIs(t, err, ErrStopped)
}
