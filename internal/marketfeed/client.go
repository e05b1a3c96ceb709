package marketfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"dex-trading-bot/internal/strategy"
)

// Config holds feed connection settings
type Config struct {
	URL            string        `json:"url" mapstructure:"url"`
	Symbols        []string      `json:"symbols" mapstructure:"symbols"`
	ReconnectDelay time.Duration `json:"reconnect_delay" mapstructure:"reconnect_delay"`
	PingInterval   time.Duration `json:"ping_interval" mapstructure:"ping_interval"`
}

// Handlers receive decoded feed messages. Either may be nil.
type Handlers struct {
	OnMarketEvent func(strategy.MarketEvent)
	OnBalance     func(balance float64)
}

// message is the feed's wire format
type message struct {
	Type      string             `json:"type"`
	Symbol    string             `json:"symbol,omitempty"`
	Price     float64            `json:"price,omitempty"`
	Volume    float64            `json:"volume,omitempty"`
	Liquidity float64            `json:"liquidity,omitempty"`
	Pattern   string             `json:"pattern,omitempty"`
	Data      map[string]float64 `json:"data,omitempty"`
	Balance   float64            `json:"balance,omitempty"`
	Timestamp int64              `json:"ts,omitempty"` // unix millis
}

type subscribeRequest struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

// Client streams market events over a websocket and reconnects on failure
type Client struct {
	cfg      Config
	handlers Handlers
	dialer   *websocket.Dialer
	logger   zerolog.Logger

	mu         sync.RWMutex
	connected  bool
	reconnects int
	received   int64
	lastEvent  time.Time
}

// NewClient creates a feed client
func NewClient(cfg Config, handlers Handlers, logger zerolog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("market feed url is required")
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &Client{
		cfg:      cfg,
		handlers: handlers,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:   logger.With().Str("component", "market-feed").Logger(),
	}, nil
}

// Run connects and reads until ctx ends, reconnecting after every failure
func (c *Client) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.logger.Info().Str("url", c.cfg.URL).Msg("Connecting to market feed")
		conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
		if err != nil {
			c.mu.Lock()
			c.reconnects++
			c.mu.Unlock()
			c.logger.Warn().Err(err).Dur("retry_in", c.cfg.ReconnectDelay).Msg("Market feed connection failed")
			if !sleep(ctx, c.cfg.ReconnectDelay) {
				return ctx.Err()
			}
			continue
		}

		c.setConnected(true)
		err = c.serve(ctx, conn)
		c.setConnected(false)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn().Err(err).Dur("retry_in", c.cfg.ReconnectDelay).Msg("Market feed connection lost")
		c.mu.Lock()
		c.reconnects++
		c.mu.Unlock()
		if !sleep(ctx, c.cfg.ReconnectDelay) {
			return ctx.Err()
		}
	}
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	if len(c.cfg.Symbols) > 0 {
		if err := conn.WriteJSON(subscribeRequest{Op: "subscribe", Symbols: c.cfg.Symbols}); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	readTimeout := 2 * c.cfg.PingInterval
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	var writeMu sync.Mutex
	go func() {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				writeMu.Lock()
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				writeMu.Unlock()
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	c.logger.Info().Strs("symbols", c.cfg.Symbols).Msg("Market feed connected")
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errors.New("connection closed by server")
			}
			return fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		c.handleMessage(raw)
	}
}

func (c *Client) handleMessage(raw []byte) {
	var msg message
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to decode feed message")
		return
	}

	switch msg.Type {
	case "tick", "":
		if msg.Symbol == "" || msg.Price <= 0 {
			c.logger.Debug().Str("symbol", msg.Symbol).Float64("price", msg.Price).Msg("Ignoring malformed tick")
			return
		}
		ts := time.Now()
		if msg.Timestamp > 0 {
			ts = time.UnixMilli(msg.Timestamp)
		}
		c.mu.Lock()
		c.received++
		c.lastEvent = ts
		c.mu.Unlock()

		if c.handlers.OnMarketEvent != nil {
			c.handlers.OnMarketEvent(strategy.MarketEvent{
				Symbol:    msg.Symbol,
				Price:     msg.Price,
				Volume:    msg.Volume,
				Liquidity: msg.Liquidity,
				Pattern:   msg.Pattern,
				Data:      msg.Data,
				Timestamp: ts,
			})
		}
	case "balance":
		if c.handlers.OnBalance != nil {
			c.handlers.OnBalance(msg.Balance)
		}
	case "heartbeat":
	default:
		c.logger.Debug().Str("type", msg.Type).Msg("Unknown feed message type")
	}
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = v
	if v {
		c.reconnects = 0
	}
}

// Stats reports connection health
type Stats struct {
	Connected  bool      `json:"connected"`
	Reconnects int       `json:"reconnects"`
	Received   int64     `json:"received"`
	LastEvent  time.Time `json:"last_event"`
}

// Stats returns the current connection statistics
func (c *Client) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Connected:  c.connected,
		Reconnects: c.reconnects,
		Received:   c.received,
		LastEvent:  c.lastEvent,
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
