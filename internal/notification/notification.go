package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Severity ranks alerts
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// ParseSeverity maps a config string to a Severity, defaulting to info
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityWarning, SeverityCritical:
		return Severity(s)
	}
	return SeverityInfo
}

// NotificationType represents the type of notification
type NotificationType string

const (
	NotifySignal     NotificationType = "signal"
	NotifyTradeOpen  NotificationType = "trade_open"
	NotifyTradeClose NotificationType = "trade_close"
	NotifyRisk       NotificationType = "risk"
	NotifyError      NotificationType = "error"
	NotifyInfo       NotificationType = "info"
)

// Notification represents a notification message
type Notification struct {
	Type       NotificationType       `json:"type"`
	Severity   Severity               `json:"severity"`
	Title      string                 `json:"title"`
	Message    string                 `json:"message"`
	Symbol     string                 `json:"symbol,omitempty"`
	Price      float64                `json:"price,omitempty"`
	PnL        float64                `json:"pnl,omitempty"`
	PnLPercent float64                `json:"pnl_percent,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Extra      map[string]interface{} `json:"extra,omitempty"`
}

// Notifier interface for different notification providers
type Notifier interface {
	Send(ctx context.Context, notification *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager manages multiple notification providers
type Manager struct {
	mu          sync.RWMutex
	notifiers   []Notifier
	minSeverity Severity
	logger      zerolog.Logger
}

// NewManager creates a new notification manager. Notifications below
// minSeverity are dropped.
func NewManager(minSeverity Severity, logger zerolog.Logger) *Manager {
	return &Manager{
		minSeverity: minSeverity,
		logger:      logger.With().Str("component", "notifications").Logger(),
	}
}

// AddNotifier adds a notification provider
func (m *Manager) AddNotifier(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifiers = append(m.notifiers, n)
}

// Notifiers returns the names of enabled providers
func (m *Manager) Notifiers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for _, n := range m.notifiers {
		if n.IsEnabled() {
			names = append(names, n.Name())
		}
	}
	return names
}

// Send sends a notification to all enabled providers. Every provider is
// tried; their errors are joined.
func (m *Manager) Send(ctx context.Context, notification *Notification) error {
	if notification.Severity == "" {
		notification.Severity = SeverityInfo
	}
	if notification.Severity.rank() < m.minSeverity.rank() {
		return nil
	}
	if notification.Timestamp.IsZero() {
		notification.Timestamp = time.Now()
	}

	m.mu.RLock()
	notifiers := append([]Notifier(nil), m.notifiers...)
	m.mu.RUnlock()

	var errs []error
	for _, n := range notifiers {
		if !n.IsEnabled() {
			continue
		}
		if err := n.Send(ctx, notification); err != nil {
			m.logger.Warn().Err(err).Str("notifier", n.Name()).Str("title", notification.Title).Msg("Notification failed")
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// SendSignal sends a trading signal notification
func (m *Manager) SendSignal(ctx context.Context, strategy, symbol, side, reason string, price float64) error {
	return m.Send(ctx, &Notification{
		Type:     NotifySignal,
		Severity: SeverityInfo,
		Title:    fmt.Sprintf("Signal: %s", symbol),
		Message:  fmt.Sprintf("%s %s @ %.6f\nStrategy: %s\nReason: %s", side, symbol, price, strategy, reason),
		Symbol:   symbol,
		Price:    price,
		Extra: map[string]interface{}{
			"strategy": strategy,
			"side":     side,
			"reason":   reason,
		},
	})
}

// SendTradeClose sends a position closed notification
func (m *Manager) SendTradeClose(ctx context.Context, symbol string, entryPrice, exitPrice, pnl, pnlPercent float64, reason string) error {
	return m.Send(ctx, &Notification{
		Type:       NotifyTradeClose,
		Severity:   SeverityInfo,
		Title:      fmt.Sprintf("Position Closed: %s", symbol),
		Message:    fmt.Sprintf("Entry: %.6f -> Exit: %.6f\nP&L: %.4f (%.2f%%)\nReason: %s", entryPrice, exitPrice, pnl, pnlPercent, reason),
		Symbol:     symbol,
		Price:      exitPrice,
		PnL:        pnl,
		PnLPercent: pnlPercent,
	})
}

// SendError sends an error notification
func (m *Manager) SendError(ctx context.Context, title, message string) error {
	return m.Send(ctx, &Notification{
		Type:     NotifyError,
		Severity: SeverityWarning,
		Title:    title,
		Message:  message,
	})
}
