package marketfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-trading-bot/internal/strategy"
)

type collector struct {
	mu       sync.Mutex
	events   []strategy.MarketEvent
	balances []float64
}

func (c *collector) handlers() Handlers {
	return Handlers{
		OnMarketEvent: func(ev strategy.MarketEvent) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.events = append(c.events, ev)
		},
		OnBalance: func(b float64) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.balances = append(c.balances, b)
		},
	}
}

func (c *collector) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events), len(c.balances)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClientStreamsAndReconnects(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var connections int32
	var subscribed atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := atomic.AddInt32(&connections, 1)

		var req subscribeRequest
		if err := conn.ReadJSON(&req); err == nil {
			subscribed.Store(req.Symbols)
		}

		conn.WriteJSON(message{Type: "tick", Symbol: "AAA", Price: 1.5, Volume: 10, Timestamp: 1700000000000})
		conn.WriteJSON(message{Type: "tick", Symbol: "", Price: 2})
		conn.WriteJSON(message{Type: "balance", Balance: 990})
		conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		if n == 1 {
			// Drop the first connection to force a reconnect
			return
		}
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	col := &collector{}
	c, err := NewClient(Config{URL: wsURL(srv), Symbols: []string{"AAA"}, ReconnectDelay: 10 * time.Millisecond}, col.handlers(), zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		events, balances := col.counts()
		return events == 2 && balances == 2
	}, 2*time.Second, 5*time.Millisecond)

	assert.GreaterOrEqual(t, atomic.LoadInt32(&connections), int32(2))
	assert.Equal(t, []string{"AAA"}, subscribed.Load())

	col.mu.Lock()
	first := col.events[0]
	col.mu.Unlock()
	assert.Equal(t, "AAA", first.Symbol)
	assert.Equal(t, 1.5, first.Price)
	assert.Equal(t, time.UnixMilli(1700000000000), first.Timestamp)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, c.Stats().Connected)
	assert.Equal(t, int64(2), c.Stats().Received)
}

func TestClientRetriesFailedDial(t *testing.T) {
	c, err := NewClient(Config{URL: "ws://127.0.0.1:1/feed", ReconnectDelay: 5 * time.Millisecond}, Handlers{}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.Error(t, c.Run(ctx))
	assert.Greater(t, c.Stats().Reconnects, 0)
}

func TestNewClientRequiresURL(t *testing.T) {
	_, err := NewClient(Config{}, Handlers{}, zerolog.Nop())
	assert.Error(t, err)
}
