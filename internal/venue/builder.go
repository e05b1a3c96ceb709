package venue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"dex-trading-bot/internal/order"
	"dex-trading-bot/internal/strategy"
)

// Metadata keys carried on transactions and copied into order events
const (
	MetaStrategy       = "strategy"
	MetaSizeUSD        = "size_usd"
	MetaQuantity       = "quantity"
	MetaStopLoss       = "stop_loss"
	MetaTakeProfit     = "take_profit"
	MetaExitType       = "exit_type"
	MetaEntrySignature = "entry_signature"
	MetaExitPrice      = "exit_price"
)

// PriceFunc returns the latest known price for symbol
type PriceFunc func(symbol string) (float64, bool)

// Builder turns intents into signed swap transactions
type Builder struct {
	signer      *Signer
	slippageBps int64
	prices      PriceFunc
	now         func() time.Time
}

// NewBuilder creates a builder. prices may be nil, in which case exits are
// priced at the entry price.
func NewBuilder(signer *Signer, slippageBps int, prices PriceFunc) (*Builder, error) {
	if signer == nil {
		return nil, errors.New("builder needs a signer")
	}
	if slippageBps < 0 || slippageBps >= 10000 {
		return nil, fmt.Errorf("slippage must be in [0, 10000) bps, got %d", slippageBps)
	}
	return &Builder{
		signer:      signer,
		slippageBps: int64(slippageBps),
		prices:      prices,
		now:         time.Now,
	}, nil
}

// BuildEntry builds a buy spending sizeUSD of the quote asset
func (b *Builder) BuildEntry(intent strategy.Intent, sizeUSD float64) (*order.Transaction, error) {
	if intent.EntryPrice <= 0 {
		return nil, fmt.Errorf("build entry %s: entry price must be positive", intent.Symbol)
	}
	if sizeUSD <= 0 {
		return nil, fmt.Errorf("build entry %s: size must be positive", intent.Symbol)
	}

	price := decimal.NewFromFloat(intent.EntryPrice)
	amountIn := decimal.NewFromFloat(sizeUSD)
	quantity := amountIn.Div(price)

	side := string(intent.Side)
	if side == "" {
		side = string(strategy.SideBuy)
	}
	tx := &order.Transaction{
		ID:           uuid.NewString(),
		Symbol:       intent.Symbol,
		Side:         side,
		AmountIn:     amountIn.InexactFloat64(),
		MinAmountOut: b.withSlippage(quantity).InexactFloat64(),
		Price:        intent.EntryPrice,
		CreatedAt:    b.now(),
		Metadata: map[string]string{
			MetaStrategy:   intent.Strategy,
			MetaSizeUSD:    amountIn.StringFixed(2),
			MetaQuantity:   quantity.String(),
			MetaStopLoss:   formatFloat(intent.StopLoss),
			MetaTakeProfit: formatFloat(intent.TakeProfit),
		},
	}
	if err := b.signer.Sign(tx); err != nil {
		return nil, fmt.Errorf("sign entry %s: %w", intent.Symbol, err)
	}
	return tx, nil
}

// BuildExit builds the sell that unwinds a confirmed entry
func (b *Builder) BuildExit(_ context.Context, o order.Order, exitType order.ExitType) (*order.Transaction, error) {
	if o.Tx == nil {
		return nil, fmt.Errorf("build exit %s: order has no entry transaction", o.Signature)
	}
	quantity, err := EntryQuantity(o.Tx)
	if err != nil {
		return nil, fmt.Errorf("build exit %s: %w", o.Signature, err)
	}

	price := o.Tx.Price
	if b.prices != nil {
		if p, ok := b.prices(o.Symbol); ok && p > 0 {
			price = p
		}
	}
	proceeds := quantity.Mul(decimal.NewFromFloat(price))

	metadata := make(map[string]string, len(o.Tx.Metadata)+3)
	for k, v := range o.Tx.Metadata {
		metadata[k] = v
	}
	metadata[MetaExitType] = string(exitType)
	metadata[MetaEntrySignature] = o.Signature
	metadata[MetaExitPrice] = formatFloat(price)

	tx := &order.Transaction{
		ID:           uuid.NewString(),
		Symbol:       o.Symbol,
		Side:         string(strategy.SideSell),
		AmountIn:     quantity.InexactFloat64(),
		MinAmountOut: b.withSlippage(proceeds).InexactFloat64(),
		Price:        price,
		CreatedAt:    b.now(),
		Metadata:     metadata,
	}
	if err := b.signer.Sign(tx); err != nil {
		return nil, fmt.Errorf("sign exit %s: %w", o.Signature, err)
	}
	return tx, nil
}

// EntryQuantity is the base amount bought by an entry transaction
func EntryQuantity(tx *order.Transaction) (decimal.Decimal, error) {
	if q, ok := tx.Metadata[MetaQuantity]; ok {
		return decimal.NewFromString(q)
	}
	if tx.Price <= 0 {
		return decimal.Zero, errors.New("entry has no quantity and no price")
	}
	return decimal.NewFromFloat(tx.AmountIn).Div(decimal.NewFromFloat(tx.Price)), nil
}

func (b *Builder) withSlippage(amount decimal.Decimal) decimal.Decimal {
	keep := decimal.NewFromInt(10000 - b.slippageBps).Div(decimal.NewFromInt(10000))
	return amount.Mul(keep)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
