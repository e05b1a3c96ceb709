package venue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dex-trading-bot/internal/order"
)

var ErrUnknownSignature = errors.New("signature not found")

// PaperConfig controls simulated confirmation
type PaperConfig struct {
	// ConfirmAfter is the number of status queries answered pending before
	// a transaction settles
	ConfirmAfter int `json:"confirm_after" mapstructure:"confirm_after"`
}

type paperTx struct {
	tx      *order.Transaction
	queries int
	failure string
}

// Paper is an in-memory venue for dry runs. It verifies signatures on
// submission and settles transactions after a fixed number of polls.
type Paper struct {
	mu       sync.Mutex
	cfg      PaperConfig
	txs      map[string]*paperTx
	failures map[string]string
	logger   zerolog.Logger
}

// NewPaper creates a paper venue
func NewPaper(cfg PaperConfig, logger zerolog.Logger) *Paper {
	if cfg.ConfirmAfter < 0 {
		cfg.ConfirmAfter = 0
	}
	return &Paper{
		cfg:      cfg,
		txs:      make(map[string]*paperTx),
		failures: make(map[string]string),
		logger:   logger.With().Str("component", "paper-venue").Logger(),
	}
}

// FailSymbol makes every later transaction for symbol settle as errored.
// An empty reason clears it.
func (p *Paper) FailSymbol(symbol, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if reason == "" {
		delete(p.failures, symbol)
		return
	}
	p.failures[symbol] = reason
}

// Submit accepts a signed transaction and returns its signature
func (p *Paper) Submit(ctx context.Context, tx *order.Transaction) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if tx == nil {
		return "", errors.New("nil transaction")
	}
	if err := Verify(tx); err != nil {
		return "", fmt.Errorf("submit %s: %w", tx.Symbol, err)
	}

	signature := uuid.NewString()
	p.mu.Lock()
	p.txs[signature] = &paperTx{tx: tx, failure: p.failures[tx.Symbol]}
	p.mu.Unlock()

	p.logger.Debug().
		Str("signature", signature).
		Str("symbol", tx.Symbol).
		Str("side", tx.Side).
		Float64("amount_in", tx.AmountIn).
		Msg("Paper transaction accepted")
	return signature, nil
}

// GetStatus reports the simulated status of signature
func (p *Paper) GetStatus(ctx context.Context, signature string) (order.Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return order.Confirmation{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	ptx, ok := p.txs[signature]
	if !ok {
		return order.Confirmation{}, fmt.Errorf("%s: %w", signature, ErrUnknownSignature)
	}
	ptx.queries++
	if ptx.queries <= p.cfg.ConfirmAfter {
		return order.Confirmation{Status: order.ConfirmationPending}, nil
	}
	if ptx.failure != "" {
		return order.Confirmation{Status: order.ConfirmationErrored, Error: ptx.failure}, nil
	}
	return order.Confirmation{Status: order.ConfirmationConfirmed}, nil
}

// Transaction returns the transaction submitted under signature
func (p *Paper) Transaction(signature string) (*order.Transaction, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ptx, ok := p.txs[signature]
	if !ok {
		return nil, false
	}
	return ptx.tx, true
}

// Len returns the number of submitted transactions
func (p *Paper) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.txs)
}
