package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"dex-trading-bot/internal/events"
	"dex-trading-bot/internal/logging"
	"dex-trading-bot/internal/rolling"
)

var (
	// ErrUnknownStrategy is returned for names that were never registered
	ErrUnknownStrategy = errors.New("unknown strategy")
	// ErrInvalidWeight is returned for weights that are not positive and finite
	ErrInvalidWeight = errors.New("strategy weight must be positive")
)

// CoordinatorConfig configures dispatch and weighting
type CoordinatorConfig struct {
	DefaultCooldown time.Duration `json:"default_cooldown" mapstructure:"default_cooldown"`
	WeightInterval  time.Duration `json:"weight_interval" mapstructure:"weight_interval"`
	HistoryLength   int           `json:"history_length" mapstructure:"history_length"`
	WeightFloor     float64       `json:"weight_floor" mapstructure:"weight_floor"`
	MaxWeight       float64       `json:"max_weight" mapstructure:"max_weight"`
}

// DefaultCoordinatorConfig returns the default dispatch settings
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		DefaultCooldown: 300 * time.Second,
		WeightInterval:  60 * time.Second,
		HistoryLength:   20,
		WeightFloor:     0.1,
		MaxWeight:       10,
	}
}

// TradeResult is one closed trade attributed to a strategy
type TradeResult struct {
	PnL       float64   `json:"pnl"`
	Win       bool      `json:"win"`
	Timestamp time.Time `json:"timestamp"`
}

// Status describes a registered strategy
type Status struct {
	Name     string        `json:"name"`
	Enabled  bool          `json:"enabled"`
	Weight   float64       `json:"weight"`
	Cooldown time.Duration `json:"cooldown"`
	Trades   int           `json:"trades"`
	WinRate  float64       `json:"win_rate"`
}

// Coordinator fans market events out to strategies, rests each symbol for a
// cooldown after dispatch and ranks strategies by recent performance.
type Coordinator struct {
	cfg    CoordinatorConfig
	logger zerolog.Logger
	bus    *events.EventBus
	now    func() time.Time

	strategies []Strategy // registration order
	index      map[string]int

	mu        sync.Mutex
	cooldowns map[string]time.Time
	inFlight  map[string]bool
	enabled   map[string]bool
	weights   map[string]float64
	history   map[string][]TradeResult
}

// CoordinatorOption configures a Coordinator
type CoordinatorOption func(*Coordinator)

// WithClock replaces time.Now
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

// WithEventBus attaches the bus that receives signal and weight events
func WithEventBus(bus *events.EventBus) CoordinatorOption {
	return func(c *Coordinator) { c.bus = bus }
}

// NewCoordinator registers strategies. Names must be unique.
func NewCoordinator(cfg CoordinatorConfig, strategies []Strategy, logger zerolog.Logger, opts ...CoordinatorOption) (*Coordinator, error) {
	if cfg.DefaultCooldown < 0 {
		return nil, fmt.Errorf("default cooldown must not be negative")
	}
	if cfg.HistoryLength <= 0 {
		cfg.HistoryLength = DefaultCoordinatorConfig().HistoryLength
	}
	if cfg.WeightFloor <= 0 {
		cfg.WeightFloor = DefaultCoordinatorConfig().WeightFloor
	}
	if cfg.MaxWeight < cfg.WeightFloor {
		cfg.MaxWeight = DefaultCoordinatorConfig().MaxWeight
	}

	c := &Coordinator{
		cfg:       cfg,
		logger:    logger.With().Str("component", "coordinator").Logger(),
		now:       time.Now,
		index:     make(map[string]int, len(strategies)),
		cooldowns: make(map[string]time.Time),
		inFlight:  make(map[string]bool),
		enabled:   make(map[string]bool, len(strategies)),
		weights:   make(map[string]float64, len(strategies)),
		history:   make(map[string][]TradeResult, len(strategies)),
	}
	for _, opt := range opts {
		opt(c)
	}

	for _, s := range strategies {
		name := s.Name()
		if name == "" {
			return nil, fmt.Errorf("strategy with empty name")
		}
		if _, dup := c.index[name]; dup {
			return nil, fmt.Errorf("duplicate strategy %q", name)
		}
		c.index[name] = len(c.strategies)
		c.strategies = append(c.strategies, s)
		if s.Enabled() {
			c.enabled[name] = true
		}
	}

	c.logger.Info().
		Int("strategies", len(c.strategies)).
		Int("enabled", len(c.enabled)).
		Dur("default_cooldown", cfg.DefaultCooldown).
		Msg("Strategy coordinator initialized")
	return c, nil
}

// HandleEvent dispatches ev to every enabled strategy concurrently and returns
// the intents they produced, in registration order. Events for a symbol that
// is cooling down, or still being dispatched, are dropped for all strategies.
// Strategy failures are logged and published, never returned.
func (c *Coordinator) HandleEvent(ctx context.Context, ev MarketEvent) []Intent {
	c.mu.Lock()
	if until, ok := c.cooldowns[ev.Symbol]; ok && c.now().Before(until) {
		c.mu.Unlock()
		c.logger.Debug().Str("symbol", ev.Symbol).Time("until", until).Msg("Symbol cooling down, event dropped")
		return nil
	}
	if c.inFlight[ev.Symbol] {
		c.mu.Unlock()
		c.logger.Debug().Str("symbol", ev.Symbol).Msg("Dispatch in flight, event dropped")
		return nil
	}
	active := make([]Strategy, 0, len(c.strategies))
	for _, s := range c.strategies {
		if c.enabled[s.Name()] {
			active = append(active, s)
		}
	}
	if len(active) == 0 {
		c.mu.Unlock()
		return nil
	}
	c.inFlight[ev.Symbol] = true
	c.mu.Unlock()

	intents := make([]*Intent, len(active))
	failures := make([]error, len(active))

	var wg conc.WaitGroup
	for i, s := range active {
		wg.Go(func() {
			intents[i], failures[i] = c.invoke(ctx, s, ev)
		})
	}
	wg.Wait()

	cooldown := time.Duration(0)
	for _, s := range active {
		if s.Cooldown() > cooldown {
			cooldown = s.Cooldown()
		}
	}
	if cooldown == 0 {
		cooldown = c.cfg.DefaultCooldown
	}

	c.mu.Lock()
	c.cooldowns[ev.Symbol] = c.now().Add(cooldown)
	delete(c.inFlight, ev.Symbol)
	c.mu.Unlock()

	var out []Intent
	for i, s := range active {
		if err := failures[i]; err != nil {
			logging.StrategyContext(c.logger, s.Name(), ev.Symbol).Error().Err(err).Msg("Strategy failed")
			c.bus.PublishError(events.EventStrategyFailed, s.Name(), "handler failed for "+ev.Symbol, err)
			continue
		}
		intent := intents[i]
		if intent == nil {
			continue
		}
		if intent.Strategy == "" {
			intent.Strategy = s.Name()
		}
		if intent.Symbol == "" {
			intent.Symbol = ev.Symbol
		}
		out = append(out, *intent)
		c.bus.Publish(events.Event{
			Type: events.EventSignalGenerated,
			Data: map[string]interface{}{
				"strategy": intent.Strategy,
				"symbol":   intent.Symbol,
				"side":     string(intent.Side),
				"price":    intent.EntryPrice,
				"reason":   intent.Reason,
			},
		})
	}
	return out
}

// invoke runs one handler, turning a panic into an error
func (c *Coordinator) invoke(ctx context.Context, s Strategy, ev MarketEvent) (intent *Intent, err error) {
	defer func() {
		if r := recover(); r != nil {
			intent = nil
			err = fmt.Errorf("strategy %s panicked: %v", s.Name(), r)
		}
	}()
	return s.Handle(ctx, ev)
}

// Cooldown returns when symbol becomes eligible again, if it is cooling down
func (c *Coordinator) Cooldown(symbol string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.cooldowns[symbol]
	if !ok || !c.now().Before(until) {
		return time.Time{}, false
	}
	return until, true
}

// EnableStrategy toggles a strategy. In-flight dispatches are unaffected.
func (c *Coordinator) EnableStrategy(name string, enabled bool) error {
	if _, ok := c.index[name]; !ok {
		return fmt.Errorf("enable %q: %w", name, ErrUnknownStrategy)
	}
	c.mu.Lock()
	changed := c.enabled[name] != enabled
	if enabled {
		c.enabled[name] = true
	} else {
		delete(c.enabled, name)
	}
	c.mu.Unlock()

	if changed {
		c.logger.Info().Str("strategy", name).Bool("enabled", enabled).Msg("Strategy toggled")
		c.bus.Publish(events.Event{
			Type: events.EventStrategyToggled,
			Data: map[string]interface{}{"strategy": name, "enabled": enabled},
		})
	}
	return nil
}

// GetEnabledStrategies returns enabled strategy names in registration order
func (c *Coordinator) GetEnabledStrategies() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabledLocked()
}

func (c *Coordinator) enabledLocked() []string {
	names := make([]string, 0, len(c.enabled))
	for _, s := range c.strategies {
		if c.enabled[s.Name()] {
			names = append(names, s.Name())
		}
	}
	return names
}

// SetStrategyWeight overrides a weight until the next recompute
func (c *Coordinator) SetStrategyWeight(name string, weight float64) error {
	if _, ok := c.index[name]; !ok {
		return fmt.Errorf("set weight %q: %w", name, ErrUnknownStrategy)
	}
	if weight <= 0 || math.IsNaN(weight) || math.IsInf(weight, 0) {
		return fmt.Errorf("set weight %q to %v: %w", name, weight, ErrInvalidWeight)
	}
	c.mu.Lock()
	c.weights[name] = weight
	c.mu.Unlock()
	return nil
}

// GetStrategyWeight returns the current weight, 1.0 when unset
func (c *Coordinator) GetStrategyWeight(name string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.weightLocked(name)
}

func (c *Coordinator) weightLocked(name string) float64 {
	if w, ok := c.weights[name]; ok {
		return w
	}
	return 1.0
}

// RecordTrade appends a trade to the strategy's bounded history
func (c *Coordinator) RecordTrade(name string, pnl float64, win bool) error {
	if _, ok := c.index[name]; !ok {
		return fmt.Errorf("record trade for %q: %w", name, ErrUnknownStrategy)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	h := append(c.history[name], TradeResult{PnL: pnl, Win: win, Timestamp: c.now()})
	if len(h) > c.cfg.HistoryLength {
		h = h[len(h)-c.cfg.HistoryLength:]
	}
	c.history[name] = h
	return nil
}

// UpdateStrategyWeights recomputes every weight as mean/stddev of the
// strategy's recent pnl, floored so that no strategy starves.
func (c *Coordinator) UpdateStrategyWeights() {
	c.mu.Lock()
	updated := make(map[string]interface{}, len(c.strategies))
	for _, s := range c.strategies {
		name := s.Name()
		w := c.computeWeight(c.history[name])
		c.weights[name] = w
		updated[name] = w
	}
	c.mu.Unlock()

	c.logger.Debug().Interface("weights", updated).Msg("Strategy weights updated")
	c.bus.Publish(events.Event{Type: events.EventWeightsUpdated, Data: updated})
}

func (c *Coordinator) computeWeight(trades []TradeResult) float64 {
	if len(trades) < 2 {
		return c.cfg.WeightFloor
	}
	pnls := make([]float64, len(trades))
	for i, t := range trades {
		pnls[i] = t.PnL
	}
	mean := rolling.Mean(pnls)
	stddev := rolling.PopulationStdDev(pnls)
	if stddev == 0 {
		if mean > 0 {
			return c.cfg.MaxWeight
		}
		return c.cfg.WeightFloor
	}
	return math.Min(math.Max(mean/stddev, c.cfg.WeightFloor), c.cfg.MaxWeight)
}

// GetWeightedStrategyOrder returns enabled strategies by descending weight,
// ties in registration order
func (c *Coordinator) GetWeightedStrategyOrder() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := c.enabledLocked()
	sort.SliceStable(names, func(i, j int) bool {
		return c.weightLocked(names[i]) > c.weightLocked(names[j])
	})
	return names
}

// Statuses describes every registered strategy in registration order
func (c *Coordinator) Statuses() []Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Status, 0, len(c.strategies))
	for _, s := range c.strategies {
		name := s.Name()
		h := c.history[name]
		wins := 0
		for _, t := range h {
			if t.Win {
				wins++
			}
		}
		winRate := 0.0
		if len(h) > 0 {
			winRate = float64(wins) / float64(len(h)) * 100
		}
		out = append(out, Status{
			Name:     name,
			Enabled:  c.enabled[name],
			Weight:   c.weightLocked(name),
			Cooldown: s.Cooldown(),
			Trades:   len(h),
			WinRate:  winRate,
		})
	}
	return out
}

// Start recomputes weights and prunes expired cooldowns every WeightInterval
// until ctx is done.
func (c *Coordinator) Start(ctx context.Context) {
	if c.cfg.WeightInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(c.cfg.WeightInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.UpdateStrategyWeights()
				c.pruneCooldowns()
			}
		}
	}()
}

func (c *Coordinator) pruneCooldowns() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for symbol, until := range c.cooldowns {
		if !now.Before(until) {
			delete(c.cooldowns, symbol)
		}
	}
}
