package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dex-trading-bot/internal/events"
	"dex-trading-bot/internal/logging"
)

// Config controls polling and submission
type Config struct {
	PollInterval       time.Duration `json:"poll_interval" mapstructure:"poll_interval"`
	MaxPendingDuration time.Duration `json:"max_pending_duration" mapstructure:"max_pending_duration"`
	QueryTimeout       time.Duration `json:"query_timeout" mapstructure:"query_timeout"`
	SubmitAttempts     int           `json:"submit_attempts" mapstructure:"submit_attempts"`
}

// DefaultConfig returns production polling defaults
func DefaultConfig() Config {
	return Config{
		PollInterval:       2 * time.Second,
		MaxPendingDuration: 2 * time.Minute,
		QueryTimeout:       10 * time.Second,
		SubmitAttempts:     3,
	}
}

// Manager owns the order table. Each placed order gets its own polling
// goroutine that ends once the order leaves pending.
type Manager struct {
	cfg       Config
	submitter Submitter
	source    ConfirmationSource
	exits     ExitBuilder
	tracker   Tracker
	bus       *events.EventBus
	logger    zerolog.Logger

	mu     sync.RWMutex
	orders map[string]*Order
	seq    []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Manager
type Option func(*Manager)

// WithExitBuilder enables ExitOrder
func WithExitBuilder(b ExitBuilder) Option {
	return func(m *Manager) { m.exits = b }
}

// WithTracker mirrors pending orders to external storage
func WithTracker(t Tracker) Option {
	return func(m *Manager) { m.tracker = t }
}

// WithEventBus attaches the bus that receives lifecycle events
func WithEventBus(bus *events.EventBus) Option {
	return func(m *Manager) { m.bus = bus }
}

// NewManager creates an order manager
func NewManager(cfg Config, submitter Submitter, source ConfirmationSource, logger zerolog.Logger, opts ...Option) (*Manager, error) {
	if submitter == nil || source == nil {
		return nil, errors.New("order manager needs a submitter and a confirmation source")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", cfg.PollInterval)
	}
	if cfg.SubmitAttempts <= 0 {
		cfg.SubmitAttempts = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:       cfg,
		submitter: submitter,
		source:    source,
		logger:    logger.With().Str("component", "orders").Logger(),
		orders:    make(map[string]*Order),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PlaceOrder submits tx, records a pending order and starts polling for it.
// It returns as soon as the submitter has accepted the transaction.
func (m *Manager) PlaceOrder(ctx context.Context, tx *Transaction) (string, error) {
	if tx == nil {
		return "", errors.New("place order: nil transaction")
	}
	if err := m.ctx.Err(); err != nil {
		return "", fmt.Errorf("place order: manager closed: %w", err)
	}

	signature, err := m.submit(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("place order %s: %w", tx.Symbol, err)
	}

	o := &Order{
		Signature: signature,
		Symbol:    tx.Symbol,
		Status:    StatusPending,
		Tx:        tx,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	if _, exists := m.orders[signature]; exists {
		m.mu.Unlock()
		return "", fmt.Errorf("place order %s: %w", signature, ErrDuplicateOrder)
	}
	m.orders[signature] = o
	m.seq = append(m.seq, signature)
	snapshot := *o
	m.mu.Unlock()

	log := logging.OrderContext(m.logger, signature)
	if m.tracker != nil {
		if err := m.tracker.Track(ctx, snapshot); err != nil {
			log.Warn().Err(err).Msg("Failed to mirror pending order")
		}
	}

	log.Info().
		Str("symbol", tx.Symbol).
		Str("side", tx.Side).
		Float64("amount_in", tx.AmountIn).
		Msg("Order placed")
	m.publish(events.EventOrderPlaced, snapshot, nil)

	m.wg.Add(1)
	go m.pollOrder(signature)
	return signature, nil
}

// submit retries transient submission failures with the poll cadence
func (m *Manager) submit(ctx context.Context, tx *Transaction) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= m.cfg.SubmitAttempts; attempt++ {
		signature, err := m.submitter.Submit(ctx, tx)
		if err == nil {
			return signature, nil
		}
		lastErr = err
		m.logger.Warn().
			Err(err).
			Str("symbol", tx.Symbol).
			Int("attempt", attempt).
			Msg("Transaction submission failed")

		if attempt == m.cfg.SubmitAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-m.ctx.Done():
			return "", m.ctx.Err()
		case <-time.After(m.cfg.PollInterval):
		}
	}
	return "", fmt.Errorf("submit failed after %d attempts: %w", m.cfg.SubmitAttempts, lastErr)
}

// pollOrder drives a pending order to a terminal state
func (m *Manager) pollOrder(signature string) {
	defer m.wg.Done()
	log := logging.OrderContext(m.logger, signature)

	stillPending := func() bool {
		m.mu.RLock()
		defer m.mu.RUnlock()
		o, ok := m.orders[signature]
		return ok && o.Status == StatusPending
	}

	conf, err := m.awaitConfirmation(m.ctx, signature, stillPending)
	switch {
	case errors.Is(err, errNoLongerWanted):
		return
	case errors.Is(err, context.Canceled):
		log.Debug().Msg("Polling stopped by shutdown")
		return
	case err != nil:
		m.fail(signature, err.Error())
	case conf.Status == ConfirmationConfirmed:
		now := time.Now()
		o, ok := m.transition(signature, StatusPending, StatusConfirmed, func(o *Order) { o.FilledAt = &now })
		if ok {
			log.Info().Str("symbol", o.Symbol).Msg("Order confirmed")
			m.untrack(signature)
			m.publish(events.EventOrderFilled, o, nil)
		}
	default:
		m.fail(signature, conf.Error)
	}
}

var errNoLongerWanted = errors.New("order left pending locally")

// awaitConfirmation polls signature every PollInterval until the source
// reports a final status, wanted returns false, MaxPendingDuration elapses,
// ctx ends or the manager is closed. Query errors are retried.
func (m *Manager) awaitConfirmation(ctx context.Context, signature string, wanted func() bool) (Confirmation, error) {
	log := logging.OrderContext(m.logger, signature)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if m.cfg.MaxPendingDuration > 0 {
		timer := time.NewTimer(m.cfg.MaxPendingDuration)
		defer timer.Stop()
		deadline = timer.C
	}

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return Confirmation{}, ctx.Err()
		case <-m.ctx.Done():
			return Confirmation{}, m.ctx.Err()
		case <-deadline:
			return Confirmation{}, ErrPendingTimeout
		case <-ticker.C:
		}

		if wanted != nil && !wanted() {
			return Confirmation{}, errNoLongerWanted
		}

		conf, err := m.query(ctx, signature)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("Status query failed, retrying")
			continue
		}
		switch conf.Status {
		case ConfirmationConfirmed:
			return conf, nil
		case ConfirmationErrored:
			if conf.Error == "" {
				conf.Error = "transaction failed on chain"
			}
			return conf, nil
		}
	}
}

func (m *Manager) query(ctx context.Context, signature string) (Confirmation, error) {
	if m.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.QueryTimeout)
		defer cancel()
	}
	return m.source.GetStatus(ctx, signature)
}

func (m *Manager) fail(signature, reason string) {
	o, ok := m.transition(signature, StatusPending, StatusFailed, func(o *Order) { o.Error = reason })
	if !ok {
		return
	}
	logging.OrderContext(m.logger, signature).Warn().
		Str("symbol", o.Symbol).
		Str("error", reason).
		Msg("Order failed")
	m.untrack(signature)
	m.publish(events.EventOrderFailed, o, map[string]interface{}{"error": reason})
}

// CancelOrder cancels a pending order locally. It is a no-op once the
// order has left pending.
func (m *Manager) CancelOrder(signature string) error {
	m.mu.RLock()
	_, ok := m.orders[signature]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("cancel %s: %w", signature, ErrUnknownOrder)
	}

	o, changed := m.transition(signature, StatusPending, StatusCancelled, nil)
	if !changed {
		return nil
	}
	logging.OrderContext(m.logger, signature).Info().Str("symbol", o.Symbol).Msg("Order cancelled")
	m.untrack(signature)
	m.publish(events.EventOrderCancelled, o, nil)
	return nil
}

// ExitOrder closes a confirmed position by submitting the exit transaction and
// waiting for its confirmation. On failure the order stays confirmed and the
// exit may be retried.
func (m *Manager) ExitOrder(ctx context.Context, signature string, exitType ExitType) error {
	if m.exits == nil {
		return ErrNoExitBuilder
	}

	m.mu.Lock()
	o, ok := m.orders[signature]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("exit %s: %w", signature, ErrUnknownOrder)
	}
	if o.Status != StatusConfirmed {
		status := o.Status
		m.mu.Unlock()
		return fmt.Errorf("exit %s from %s: %w", signature, status, ErrInvalidTransition)
	}
	if o.exiting {
		m.mu.Unlock()
		return fmt.Errorf("exit %s: %w", signature, ErrExitInProgress)
	}
	o.exiting = true
	o.ExitAttempts++
	snapshot := *o
	m.mu.Unlock()

	log := logging.OrderContext(m.logger, signature)
	log.Info().Str("symbol", snapshot.Symbol).Str("exit_type", string(exitType)).Msg("Exiting position")

	exitTx, exitSig, err := m.runExit(ctx, snapshot, exitType)
	if err != nil {
		m.mu.Lock()
		o.exiting = false
		o.ExitError = err.Error()
		failed := *o
		m.mu.Unlock()

		log.Warn().Err(err).Msg("Exit failed, position still open")
		m.publish(events.EventExitFailed, failed, map[string]interface{}{
			"error":     err.Error(),
			"exit_type": string(exitType),
		})
		return fmt.Errorf("exit %s: %w", signature, err)
	}

	now := time.Now()
	exited, ok := m.transition(signature, StatusConfirmed, StatusExited, func(o *Order) {
		o.exiting = false
		o.ExitType = exitType
		o.ExitSignature = exitSig
		o.ExitPrice = exitTx.Price
		o.ExitedAt = &now
		o.ExitError = ""
	})
	if !ok {
		return fmt.Errorf("exit %s: %w", signature, ErrInvalidTransition)
	}
	log.Info().Str("exit_signature", exitSig).Msg("Position exited")
	m.publish(events.EventExitFilled, exited, map[string]interface{}{
		"exit_type":      string(exitType),
		"exit_signature": exitSig,
		"exit_price":     exitTx.Price,
	})
	return nil
}

func (m *Manager) runExit(ctx context.Context, o Order, exitType ExitType) (*Transaction, string, error) {
	tx, err := m.exits.BuildExit(ctx, o, exitType)
	if err != nil {
		return nil, "", fmt.Errorf("build exit: %w", err)
	}
	exitSig, err := m.submit(ctx, tx)
	if err != nil {
		return tx, "", err
	}
	conf, err := m.awaitConfirmation(ctx, exitSig, nil)
	if err != nil {
		return tx, exitSig, err
	}
	if conf.Status == ConfirmationErrored {
		return tx, exitSig, errors.New(conf.Error)
	}
	return tx, exitSig, nil
}

// transition moves signature from -> to when it is currently in from
func (m *Manager) transition(signature string, from, to Status, mutate func(*Order)) (Order, bool) {
	if !CanTransition(from, to) {
		return Order{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[signature]
	if !ok || o.Status != from {
		return Order{}, false
	}
	o.Status = to
	if mutate != nil {
		mutate(o)
	}
	return *o, true
}

// GetOrder returns a copy of the order
func (m *Manager) GetOrder(signature string) (Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[signature]
	if !ok {
		return Order{}, fmt.Errorf("get %s: %w", signature, ErrUnknownOrder)
	}
	return *o, nil
}

// Orders returns copies of every order in placement order
func (m *Manager) Orders() []Order {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Order, 0, len(m.seq))
	for _, sig := range m.seq {
		out = append(out, *m.orders[sig])
	}
	return out
}

// Close stops every polling goroutine and waits for them
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) untrack(signature string) {
	if m.tracker == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.tracker.Remove(ctx, signature); err != nil {
		logging.OrderContext(m.logger, signature).Warn().Err(err).Msg("Failed to remove order mirror")
	}
}

func (m *Manager) publish(t events.EventType, o Order, extra map[string]interface{}) {
	data := map[string]interface{}{
		"signature": o.Signature,
		"symbol":    o.Symbol,
		"status":    string(o.Status),
	}
	if o.Tx != nil {
		data["tx_id"] = o.Tx.ID
		data["amount_in"] = o.Tx.AmountIn
		data["price"] = o.Tx.Price
		for k, v := range o.Tx.Metadata {
			data[k] = v
		}
	}
	for k, v := range extra {
		data[k] = v
	}
	m.bus.Publish(events.Event{Type: t, Data: data})
}
