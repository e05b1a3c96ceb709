package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dex-trading-bot/internal/events"
	"dex-trading-bot/internal/logging"
	"dex-trading-bot/internal/metrics"
	"dex-trading-bot/internal/order"
	"dex-trading-bot/internal/risk"
	"dex-trading-bot/internal/strategy"
	"dex-trading-bot/internal/venue"
)

// ErrStopped is returned for market events that arrive after Stop
var ErrStopped = errors.New("trading bot stopped")

// Config holds the trading loop settings
type Config struct {
	// MaxExposureUSD caps the volatility-adjusted size before liquidity caps apply
	MaxExposureUSD      float64       `json:"max_exposure_usd" mapstructure:"max_exposure_usd"`
	DefaultRiskFraction float64       `json:"default_risk_fraction" mapstructure:"default_risk_fraction"`
	SnapshotInterval    time.Duration `json:"snapshot_interval" mapstructure:"snapshot_interval"`
	MetricsInterval     time.Duration `json:"metrics_interval" mapstructure:"metrics_interval"`
	ExitTimeout         time.Duration `json:"exit_timeout" mapstructure:"exit_timeout"`
	ExitOnShutdown      bool          `json:"exit_on_shutdown" mapstructure:"exit_on_shutdown"`
}

// DefaultConfig returns the loop defaults
func DefaultConfig() Config {
	return Config{
		MaxExposureUSD:      50,
		DefaultRiskFraction: 0.01,
		SnapshotInterval:    30 * time.Second,
		MetricsInterval:     10 * time.Second,
		ExitTimeout:         3 * time.Minute,
	}
}

// EntryBuilder turns an intent into a signed entry transaction
type EntryBuilder interface {
	BuildEntry(intent strategy.Intent, sizeUSD float64) (*order.Transaction, error)
}

// Store persists risk state and the order table. Implementations must be safe
// for concurrent use.
type Store interface {
	SaveRiskSnapshot(ctx context.Context, snapshot risk.Snapshot) error
	UpsertOrder(ctx context.Context, o order.Order) error
}

// Deps are the components the bot drives. Store may be nil.
type Deps struct {
	Risk        *risk.Engine
	Coordinator *strategy.Coordinator
	Orders      *order.Manager
	Builder     EntryBuilder
	Exits       *risk.ExitMonitor
	Bus         *events.EventBus
	Store       Store
}

// position is an entry the bot placed, keyed by entry transaction id
type position struct {
	txID        string
	signature   string
	executionID string
	strategy    string
	symbol      string
	sizeUSD     float64
	quantity    decimal.Decimal
	entryPrice  float64
	stopLoss    float64
	takeProfit  float64
	filled      bool
}

// TradingBot runs the control loop: market events are sized, admitted and
// turned into orders, and order events settle the risk books.
type TradingBot struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger

	mu        sync.Mutex
	positions map[string]*position
	prices    map[string]float64
	running   bool
	stopped   bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewTradingBot wires the bot onto the event bus
func NewTradingBot(cfg Config, deps Deps, logger zerolog.Logger) (*TradingBot, error) {
	if deps.Risk == nil || deps.Coordinator == nil || deps.Orders == nil || deps.Builder == nil || deps.Bus == nil {
		return nil, errors.New("bot requires risk engine, coordinator, order manager, builder and event bus")
	}
	if deps.Exits == nil {
		deps.Exits = risk.NewExitMonitor(risk.ExitConfig{}, logger)
	}
	if cfg.ExitTimeout <= 0 {
		cfg.ExitTimeout = DefaultConfig().ExitTimeout
	}

	b := &TradingBot{
		cfg:       cfg,
		deps:      deps,
		logger:    logger.With().Str("component", "bot").Logger(),
		positions: make(map[string]*position),
		prices:    make(map[string]float64),
	}

	for _, t := range []events.EventType{
		events.EventOrderPlaced,
		events.EventOrderFilled,
		events.EventOrderFailed,
		events.EventOrderCancelled,
		events.EventExitFilled,
		events.EventExitFailed,
	} {
		deps.Bus.Subscribe(t, b.onOrderEvent)
	}
	return b, nil
}

// LatestPrice returns the last observed price for symbol
func (b *TradingBot) LatestPrice(symbol string) (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.prices[symbol]
	return p, ok
}

// OnBalance feeds a venue balance update to the risk engine
func (b *TradingBot) OnBalance(balance float64) {
	b.deps.Risk.UpdateBalance(balance)
}

// HandleMarketEvent runs one market event through exits, strategies, sizing,
// admission and order placement. It returns the entry signature when an
// order was placed, and ErrStopped once Stop has been called.
func (b *TradingBot) HandleMarketEvent(ctx context.Context, ev strategy.MarketEvent) (string, error) {
	if ev.Symbol == "" || ev.Price <= 0 {
		return "", fmt.Errorf("invalid market event for %q at %.8f", ev.Symbol, ev.Price)
	}

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return "", ErrStopped
	}
	b.wg.Add(1)
	b.prices[ev.Symbol] = ev.Price
	b.mu.Unlock()
	defer b.wg.Done()
	b.deps.Risk.UpdatePrice(ev.Symbol, ev.Price)

	for _, exit := range b.deps.Exits.OnPrice(ev.Symbol, ev.Price) {
		b.triggerExit(exit)
	}

	intents := b.deps.Coordinator.HandleEvent(ctx, ev)
	intent, ok := b.pickIntent(intents)
	if !ok {
		return "", nil
	}
	if intent.Liquidity <= 0 {
		intent.Liquidity = ev.Liquidity
	}
	if intent.EntryPrice <= 0 {
		intent.EntryPrice = ev.Price
	}
	return b.enter(ctx, intent)
}

// pickIntent chooses the intent of the highest weighted strategy
func (b *TradingBot) pickIntent(intents []strategy.Intent) (strategy.Intent, bool) {
	if len(intents) == 0 {
		return strategy.Intent{}, false
	}
	if len(intents) == 1 {
		return intents[0], true
	}
	byStrategy := make(map[string]strategy.Intent, len(intents))
	for _, in := range intents {
		if _, seen := byStrategy[in.Strategy]; !seen {
			byStrategy[in.Strategy] = in
		}
	}
	for _, name := range b.deps.Coordinator.GetWeightedStrategyOrder() {
		if in, ok := byStrategy[name]; ok {
			return in, true
		}
	}
	return intents[0], true
}

func (b *TradingBot) enter(ctx context.Context, intent strategy.Intent) (string, error) {
	log := logging.StrategyContext(b.logger, intent.Strategy, intent.Symbol)

	riskFraction := intent.RiskFraction
	if riskFraction <= 0 {
		riskFraction = b.cfg.DefaultRiskFraction
	}
	requested := b.deps.Risk.CalculatePositionSize(intent.Symbol, riskFraction, b.cfg.MaxExposureUSD)
	sizeUSD := b.deps.Risk.CalculateLiquidityAdjustedSize(requested, intent.Liquidity)
	if sizeUSD <= 0 {
		log.Debug().
			Float64("requested", requested).
			Float64("liquidity", intent.Liquidity).
			Msg("Intent dropped, no tradable size")
		return "", nil
	}

	if !b.deps.Risk.CanOpenPosition(sizeUSD, intent.Symbol, intent.EntryPrice) {
		return "", nil
	}

	executionID := b.deps.Risk.StartExecution(intent.Symbol)
	tx, err := b.deps.Builder.BuildEntry(intent, sizeUSD)
	if err != nil {
		b.completeExecution(executionID, false, err.Error())
		return "", fmt.Errorf("build entry: %w", err)
	}

	pos := &position{
		txID:        tx.ID,
		executionID: executionID,
		strategy:    intent.Strategy,
		symbol:      intent.Symbol,
		sizeUSD:     sizeUSD,
		entryPrice:  intent.EntryPrice,
		stopLoss:    intent.StopLoss,
		takeProfit:  intent.TakeProfit,
	}
	if q, qerr := venue.EntryQuantity(tx); qerr == nil {
		pos.quantity = q
	}

	// Registered and counted before placement: the fill or failure may be
	// published from the polling goroutine before PlaceOrder returns.
	b.mu.Lock()
	b.positions[tx.ID] = pos
	b.mu.Unlock()
	b.deps.Risk.OpenPosition()

	signature, err := b.deps.Orders.PlaceOrder(ctx, tx)
	if err != nil {
		b.mu.Lock()
		delete(b.positions, tx.ID)
		b.mu.Unlock()
		b.deps.Risk.ClosePosition()
		b.completeExecution(executionID, false, err.Error())
		return "", fmt.Errorf("place order: %w", err)
	}

	b.mu.Lock()
	pos.signature = signature
	b.mu.Unlock()

	log.Info().
		Str("signature", signature).
		Float64("size_usd", sizeUSD).
		Float64("price", intent.EntryPrice).
		Msg("Entry placed")
	return signature, nil
}

func (b *TradingBot) completeExecution(id string, success bool, errMsg string) {
	if err := b.deps.Risk.CompleteExecution(id, success, errMsg); err != nil {
		b.logger.Warn().Err(err).Str("execution_id", id).Msg("Failed to complete execution")
	}
}

func (b *TradingBot) triggerExit(exit risk.Exit) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()
	go func() {
		defer b.wg.Done()
		b.exitPosition(exit.Key, order.ExitType(exit.Reason))
	}()
}

// exitPosition exits signature and puts the position back under watch when
// the exit did not go through.
func (b *TradingBot) exitPosition(signature string, exitType order.ExitType) {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.ExitTimeout)
	defer cancel()

	err := b.deps.Orders.ExitOrder(ctx, signature, exitType)
	if err == nil {
		return
	}
	log := logging.OrderContext(b.logger, signature)
	switch {
	case errors.Is(err, order.ErrExitInProgress),
		errors.Is(err, order.ErrUnknownOrder),
		errors.Is(err, order.ErrInvalidTransition):
		log.Debug().Err(err).Msg("Exit skipped")
		return
	}
	log.Warn().Err(err).Str("exit_type", string(exitType)).Msg("Exit failed, watching position again")

	if pos, ok := b.positionBySignature(signature); ok {
		b.deps.Exits.TrackWithLevels(signature, pos.symbol, pos.entryPrice, pos.quantity.InexactFloat64(), pos.stopLoss, pos.takeProfit)
	}
}

func (b *TradingBot) positionBySignature(signature string) (position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, pos := range b.positions {
		if pos.signature == signature {
			return *pos, true
		}
	}
	return position{}, false
}

func (b *TradingBot) onOrderEvent(e events.Event) {
	signature := e.String("signature")
	b.persistOrder(signature)

	if e.Type == events.EventOrderPlaced {
		return
	}

	txID := e.String("tx_id")
	b.mu.Lock()
	pos, ok := b.positions[txID]
	if ok && pos.signature == "" {
		pos.signature = signature
	}
	var snapshot position
	if ok {
		snapshot = *pos
	}
	b.mu.Unlock()
	if !ok {
		logging.OrderContext(b.logger, signature).Debug().Str("event", string(e.Type)).Msg("Order event for untracked position")
		return
	}

	switch e.Type {
	case events.EventOrderFilled:
		b.mu.Lock()
		pos.filled = true
		b.mu.Unlock()
		b.completeExecution(snapshot.executionID, true, "")
		b.deps.Exits.TrackWithLevels(signature, snapshot.symbol, snapshot.entryPrice, snapshot.quantity.InexactFloat64(), snapshot.stopLoss, snapshot.takeProfit)

	case events.EventOrderFailed, events.EventOrderCancelled:
		reason := e.String("error")
		if reason == "" {
			reason = "order " + e.String("status")
		}
		b.completeExecution(snapshot.executionID, false, reason)
		b.release(txID)

	case events.EventExitFilled:
		b.deps.Exits.Untrack(signature)
		pnl := b.realizedPnL(snapshot, e.Float("exit_price"))
		b.deps.Risk.RecordTrade(pnl)
		b.release(txID)
		if err := b.deps.Coordinator.RecordTrade(snapshot.strategy, pnl, pnl > 0); err != nil {
			b.logger.Warn().Err(err).Str("strategy", snapshot.strategy).Msg("Failed to attribute trade")
		}
		logging.OrderContext(b.logger, signature).Info().
			Str("symbol", snapshot.symbol).
			Str("exit_type", e.String("exit_type")).
			Float64("pnl", pnl).
			Msg("Position closed")

	case events.EventExitFailed:
		logging.OrderContext(b.logger, signature).Warn().Str("error", e.String("error")).Msg("Exit attempt failed")
	}
}

// realizedPnL is the quote value of the exit minus the notional spent on entry
func (b *TradingBot) realizedPnL(pos position, exitPrice float64) float64 {
	if exitPrice <= 0 {
		if p, ok := b.LatestPrice(pos.symbol); ok {
			exitPrice = p
		} else {
			exitPrice = pos.entryPrice
		}
	}
	cost := decimal.NewFromFloat(pos.sizeUSD)
	quantity := pos.quantity
	if quantity.IsZero() && pos.entryPrice > 0 {
		quantity = cost.Div(decimal.NewFromFloat(pos.entryPrice))
	}
	return quantity.Mul(decimal.NewFromFloat(exitPrice)).Sub(cost).Round(8).InexactFloat64()
}

func (b *TradingBot) release(txID string) {
	b.mu.Lock()
	_, ok := b.positions[txID]
	delete(b.positions, txID)
	b.mu.Unlock()
	if ok {
		b.deps.Risk.ClosePosition()
	}
}

func (b *TradingBot) persistOrder(signature string) {
	if b.deps.Store == nil || signature == "" {
		return
	}
	o, err := b.deps.Orders.GetOrder(signature)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.deps.Store.UpsertOrder(ctx, o); err != nil {
		logging.OrderContext(b.logger, signature).Warn().Err(err).Msg("Failed to persist order")
	}
}

// OpenPositions returns the number of entries placed and not yet released
func (b *TradingBot) OpenPositions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.positions)
}

// Start launches rollover, weight recompute and the persistence/metrics loop
func (b *TradingBot) Start(ctx context.Context) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	ctx, b.cancel = context.WithCancel(ctx)
	b.mu.Unlock()

	b.deps.Risk.StartDailyRollover(ctx)
	b.deps.Coordinator.Start(ctx)

	b.wg.Add(1)
	go b.housekeeping(ctx)

	b.logger.Info().
		Strs("strategies", b.deps.Coordinator.GetEnabledStrategies()).
		Float64("max_exposure_usd", b.cfg.MaxExposureUSD).
		Msg("Trading bot started")
	b.deps.Bus.Publish(events.Event{Type: events.EventBotStarted})
}

func (b *TradingBot) housekeeping(ctx context.Context) {
	defer b.wg.Done()

	snapshotEvery := b.cfg.SnapshotInterval
	if snapshotEvery <= 0 {
		snapshotEvery = DefaultConfig().SnapshotInterval
	}
	metricsEvery := b.cfg.MetricsInterval
	if metricsEvery <= 0 {
		metricsEvery = DefaultConfig().MetricsInterval
	}
	snapshots := time.NewTicker(snapshotEvery)
	defer snapshots.Stop()
	observe := time.NewTicker(metricsEvery)
	defer observe.Stop()

	b.observe()
	for {
		select {
		case <-ctx.Done():
			return
		case <-snapshots.C:
			b.saveSnapshot(ctx)
		case <-observe.C:
			b.observe()
		}
	}
}

func (b *TradingBot) observe() {
	metrics.ObserveRisk(b.deps.Risk.GetMetrics())
	metrics.ObserveStrategies(b.deps.Coordinator.Statuses())
}

func (b *TradingBot) saveSnapshot(ctx context.Context) {
	if b.deps.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := b.deps.Store.SaveRiskSnapshot(ctx, b.deps.Risk.Snapshot()); err != nil {
		b.logger.Warn().Err(err).Msg("Failed to save risk snapshot")
	}
}

// Stop halts background work, optionally exits open positions, and saves a
// final snapshot
func (b *TradingBot) Stop() {
	b.mu.Lock()
	b.stopped = true
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	cancel := b.cancel
	var open []string
	for _, pos := range b.positions {
		if pos.filled && pos.signature != "" {
			open = append(open, pos.signature)
		}
	}
	b.mu.Unlock()

	cancel()
	if b.cfg.ExitOnShutdown {
		for _, signature := range open {
			b.deps.Exits.Untrack(signature)
			b.wg.Add(1)
			go func(sig string) {
				defer b.wg.Done()
				b.exitPosition(sig, order.ExitShutdown)
			}(signature)
		}
	}
	b.wg.Wait()

	b.saveSnapshot(context.Background())
	b.observe()
	b.deps.Bus.Publish(events.Event{Type: events.EventBotStopped})
	b.logger.Info().Int("open_positions", b.OpenPositions()).Msg("Trading bot stopped")
}
