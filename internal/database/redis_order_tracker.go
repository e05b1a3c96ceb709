package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"dex-trading-bot/internal/order"
)

// Redis key layout for pending order mirrors
const (
	// PendingOrderKeyPrefix is followed by the order signature
	PendingOrderKeyPrefix = "dexbot:pending_order"

	// PendingOrderListKey is the set of all pending order keys
	PendingOrderListKey = "dexbot:pending_orders:list"

	// DefaultPendingTTL bounds how long a mirror outlives its order
	DefaultPendingTTL = 3 * time.Minute
)

// RedisConfig holds redis connection settings
type RedisConfig struct {
	Addr     string `json:"addr" mapstructure:"addr"`
	Password string `json:"password" mapstructure:"password"`
	DB       int    `json:"db" mapstructure:"db"`
}

// NewRedisClient connects and pings redis
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("unable to ping redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// PendingOrderInfo is the mirrored view of a pending order
type PendingOrderInfo struct {
	Signature string    `json:"signature"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	AmountIn  float64   `json:"amount_in"`
	Price     float64   `json:"price"`
	Strategy  string    `json:"strategy"`
	PlacedAt  time.Time `json:"placed_at"`
	TimeoutAt time.Time `json:"timeout_at"`
}

// RedisOrderTracker mirrors pending orders in redis so a restarted process
// can see what was in flight
type RedisOrderTracker struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisOrderTracker creates a tracker; ttl <= 0 uses DefaultPendingTTL
func NewRedisOrderTracker(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *RedisOrderTracker {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &RedisOrderTracker{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "order-tracker").Logger(),
	}
}

func pendingOrderKey(signature string) string {
	return fmt.Sprintf("%s:%s", PendingOrderKeyPrefix, signature)
}

func pendingInfoFrom(o order.Order, ttl time.Duration) PendingOrderInfo {
	info := PendingOrderInfo{
		Signature: o.Signature,
		Symbol:    o.Symbol,
		PlacedAt:  o.CreatedAt,
		TimeoutAt: o.CreatedAt.Add(ttl),
	}
	if o.Tx != nil {
		info.Side = o.Tx.Side
		info.AmountIn = o.Tx.AmountIn
		info.Price = o.Tx.Price
		info.Strategy = o.Tx.Metadata["strategy"]
	}
	return info
}

// Track stores a pending order with a TTL
func (t *RedisOrderTracker) Track(ctx context.Context, o order.Order) error {
	if t.client == nil {
		return errors.New("redis client not available")
	}

	info := pendingInfoFrom(o, t.ttl)
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal order info: %w", err)
	}

	key := pendingOrderKey(o.Signature)
	// Keep the mirror a minute past the timeout so the stale sweep can see it
	if err := t.client.Set(ctx, key, data, t.ttl+time.Minute).Err(); err != nil {
		return fmt.Errorf("failed to store order in redis: %w", err)
	}
	if err := t.client.SAdd(ctx, PendingOrderListKey, key).Err(); err != nil {
		t.logger.Warn().Err(err).Str("signature", o.Signature).Msg("Failed to add order to pending list")
	}

	t.logger.Debug().
		Str("signature", o.Signature).
		Str("symbol", o.Symbol).
		Time("timeout_at", info.TimeoutAt).
		Msg("Tracking pending order")
	return nil
}

// Remove drops the mirror of signature
func (t *RedisOrderTracker) Remove(ctx context.Context, signature string) error {
	if t.client == nil {
		return nil
	}
	key := pendingOrderKey(signature)
	if err := t.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to remove order %s: %w", signature, err)
	}
	if err := t.client.SRem(ctx, PendingOrderListKey, key).Err(); err != nil {
		t.logger.Warn().Err(err).Str("signature", signature).Msg("Failed to remove order from pending list")
	}
	return nil
}

// Pending returns every mirrored order, pruning expired keys from the list
func (t *RedisOrderTracker) Pending(ctx context.Context) ([]PendingOrderInfo, error) {
	if t.client == nil {
		return nil, errors.New("redis client not available")
	}

	keys, err := t.client.SMembers(ctx, PendingOrderListKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get pending order keys: %w", err)
	}

	var orders []PendingOrderInfo
	for _, key := range keys {
		data, err := t.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			t.client.SRem(ctx, PendingOrderListKey, key)
			continue
		} else if err != nil {
			t.logger.Warn().Err(err).Str("key", key).Msg("Failed to read pending order")
			continue
		}

		var info PendingOrderInfo
		if err := json.Unmarshal([]byte(data), &info); err != nil {
			t.logger.Warn().Err(err).Str("key", key).Msg("Failed to decode pending order")
			continue
		}
		orders = append(orders, info)
	}
	return orders, nil
}

// SweepStale removes mirrors whose timeout has passed and returns them.
// These are orders a previous process never resolved.
func (t *RedisOrderTracker) SweepStale(ctx context.Context, now time.Time) ([]PendingOrderInfo, error) {
	orders, err := t.Pending(ctx)
	if err != nil {
		return nil, err
	}

	var stale []PendingOrderInfo
	for _, info := range orders {
		if !now.After(info.TimeoutAt) {
			continue
		}
		t.logger.Warn().
			Str("signature", info.Signature).
			Str("symbol", info.Symbol).
			Dur("age", now.Sub(info.PlacedAt).Round(time.Second)).
			Msg("Pending order was never resolved")
		if err := t.Remove(ctx, info.Signature); err != nil {
			t.logger.Warn().Err(err).Str("signature", info.Signature).Msg("Failed to remove stale order")
		}
		stale = append(stale, info)
	}
	return stale, nil
}
