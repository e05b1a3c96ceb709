package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-trading-bot/internal/events"
)

type captureNotifier struct {
	mu      sync.Mutex
	name    string
	enabled bool
	err     error
	got     []*Notification
}

func (c *captureNotifier) Name() string    { return c.name }
func (c *captureNotifier) IsEnabled() bool { return c.enabled }

func (c *captureNotifier) Send(_ context.Context, n *Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, n)
	return c.err
}

func (c *captureNotifier) Titles() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var titles []string
	for _, n := range c.got {
		titles = append(titles, n.Title)
	}
	return titles
}

func TestManagerFansOutAndFilters(t *testing.T) {
	ok := &captureNotifier{name: "ok", enabled: true}
	broken := &captureNotifier{name: "broken", enabled: true, err: errors.New("503")}
	off := &captureNotifier{name: "off"}

	m := NewManager(SeverityWarning, zerolog.Nop())
	m.AddNotifier(ok)
	m.AddNotifier(broken)
	m.AddNotifier(off)
	assert.Equal(t, []string{"ok", "broken"}, m.Notifiers())

	ctx := context.Background()
	assert.NoError(t, m.Send(ctx, &Notification{Title: "quiet", Severity: SeverityInfo}))
	assert.Empty(t, ok.Titles())

	err := m.Send(ctx, &Notification{Title: "loud", Severity: SeverityCritical})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, []string{"loud"}, ok.Titles())
	assert.Equal(t, []string{"loud"}, broken.Titles())
	assert.Empty(t, off.Titles())
	assert.False(t, ok.got[0].Timestamp.IsZero())
}

func TestParseSeverity(t *testing.T) {
	assert.Equal(t, SeverityCritical, ParseSeverity("critical"))
	assert.Equal(t, SeverityWarning, ParseSeverity("warning"))
	assert.Equal(t, SeverityInfo, ParseSeverity("loud"))
}

func TestTelegramNotifier(t *testing.T) {
	var body map[string]interface{}
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewTelegramNotifier(TelegramConfig{BotToken: "tok", ChatID: "42", Enabled: true, APIBase: srv.URL})
	require.True(t, n.IsEnabled())
	require.NoError(t, n.Send(context.Background(), &Notification{Title: "Emergency stop", Severity: SeverityCritical, Message: "daily loss"}))

	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "42", body["chat_id"])
	assert.Contains(t, body["text"], "[critical] Emergency stop")

	assert.False(t, NewTelegramNotifier(TelegramConfig{Enabled: true}).IsEnabled())
}

func TestDiscordNotifier(t *testing.T) {
	status := http.StatusNoContent
	var payload struct {
		Embeds []map[string]interface{} `json:"embeds"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(status)
	}))
	defer srv.Close()

	n := NewDiscordNotifier(DiscordConfig{WebhookURL: srv.URL, Enabled: true})
	ctx := context.Background()
	require.NoError(t, n.Send(ctx, &Notification{Title: "t", Symbol: "AAA", Price: 2, Severity: SeverityCritical, Timestamp: time.Now()}))
	require.Len(t, payload.Embeds, 1)
	assert.Equal(t, float64(0xFF0000), payload.Embeds[0]["color"])
	assert.Len(t, payload.Embeds[0]["fields"], 2)

	status = http.StatusBadGateway
	assert.Error(t, n.Send(ctx, &Notification{Title: "t"}))
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaNotifier(t *testing.T) {
	assert.False(t, NewKafkaNotifier(KafkaConfig{Enabled: true, Topic: "alerts"}).IsEnabled())

	w := &fakeWriter{}
	k := &KafkaNotifier{writer: w, topic: "alerts", enabled: true}
	require.NoError(t, k.Send(context.Background(), &Notification{
		Type: NotifyRisk, Severity: SeverityCritical, Title: "Circuit breaker HIGH_DRAWDOWN", Symbol: "AAA",
	}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("AAA"), w.msgs[0].Key)
	assert.Equal(t, "severity", w.msgs[0].Headers[0].Key)
	assert.Equal(t, []byte("critical"), w.msgs[0].Headers[0].Value)

	var decoded Notification
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, "Circuit breaker HIGH_DRAWDOWN", decoded.Title)
	assert.NoError(t, k.Close())
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name     string
		event    events.Event
		severity Severity
		skipped  bool
	}{
		{"breaker trip", events.Event{Type: events.EventCircuitBreakerTriggered, Data: map[string]interface{}{"reason": "HIGH_DRAWDOWN"}}, SeverityCritical, false},
		{"emergency breaker has its own event", events.Event{Type: events.EventCircuitBreakerTriggered, Data: map[string]interface{}{"reason": "EMERGENCY_STOP"}}, "", true},
		{"manual breaker has its own event", events.Event{Type: events.EventCircuitBreakerTriggered, Data: map[string]interface{}{"reason": "MANUAL_STOP"}}, "", true},
		{"emergency stop", events.Event{Type: events.EventEmergencyStop}, SeverityCritical, false},
		{"drawdown alert", events.Event{Type: events.EventDrawdownAlert}, SeverityWarning, false},
		{"consecutive losses", events.Event{Type: events.EventConsecutiveLosses}, SeverityWarning, false},
		{"fill", events.Event{Type: events.EventOrderFilled}, SeverityInfo, false},
		{"exit", events.Event{Type: events.EventExitFilled}, SeverityInfo, false},
		{"admission rejection", events.Event{Type: events.EventAdmissionRejected}, "", true},
		{"balance update", events.Event{Type: events.EventBalanceUpdate}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := Translate(tt.event)
			if tt.skipped {
				assert.Nil(t, n)
				return
			}
			require.NotNil(t, n)
			assert.Equal(t, tt.severity, n.Severity)
			assert.NotEmpty(t, n.Title)
			assert.False(t, n.Timestamp.IsZero())
		})
	}
}

func TestBridgeDeliversAsynchronously(t *testing.T) {
	capture := &captureNotifier{name: "capture", enabled: true}
	m := NewManager(SeverityInfo, zerolog.Nop())
	m.AddNotifier(capture)

	bus := events.NewEventBus(zerolog.Nop())
	bridge := NewBridge(m, 8, zerolog.Nop())
	bridge.Attach(bus)

	ctx, cancel := context.WithCancel(context.Background())
	bridge.Start(ctx)

	bus.Publish(events.Event{Type: events.EventEmergencyStop, Data: map[string]interface{}{"reason": "daily loss"}})
	bus.Publish(events.Event{Type: events.EventAdmissionRejected})

	require.Eventually(t, func() bool { return len(capture.Titles()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Emergency stop"}, capture.Titles())

	cancel()
	bridge.Wait()
}

func TestBridgeDropsWhenQueueFull(t *testing.T) {
	m := NewManager(SeverityInfo, zerolog.Nop())
	bridge := NewBridge(m, 1, zerolog.Nop())

	// No worker running: the second alert cannot be queued
	bridge.handle(events.Event{Type: events.EventEmergencyStop})
	bridge.handle(events.Event{Type: events.EventEmergencyStop})
	assert.Len(t, bridge.queue, 1)
}
