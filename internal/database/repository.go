package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"dex-trading-bot/internal/order"
	"dex-trading-bot/internal/risk"
)

var ErrNoSnapshot = errors.New("no saved risk state")

// Repository persists risk state and order history for one session
type Repository struct {
	db        *DB
	sessionID string
}

// NewRepository creates a repository scoped to sessionID
func NewRepository(db *DB, sessionID string) *Repository {
	return &Repository{db: db, sessionID: sessionID}
}

// SessionID returns the session the repository writes under
func (r *Repository) SessionID() string {
	return r.sessionID
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// SaveRiskSnapshot upserts the session's risk state
func (r *Repository) SaveRiskSnapshot(ctx context.Context, snapshot risk.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal risk snapshot: %w", err)
	}

	query := `
		INSERT INTO risk_state (session_id, snapshot, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id)
		DO UPDATE SET
			snapshot = EXCLUDED.snapshot,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.Pool.Exec(ctx, query, r.sessionID, data, time.Now()); err != nil {
		return fmt.Errorf("failed to save risk snapshot: %w", err)
	}
	return nil
}

// LoadRiskSnapshot returns the session's last saved risk state, or
// ErrNoSnapshot when none exists
func (r *Repository) LoadRiskSnapshot(ctx context.Context) (*risk.Snapshot, error) {
	var data []byte
	err := r.db.Pool.QueryRow(ctx,
		`SELECT snapshot FROM risk_state WHERE session_id = $1`, r.sessionID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load risk snapshot: %w", err)
	}

	var snapshot risk.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode risk snapshot: %w", err)
	}
	return &snapshot, nil
}

// UpsertOrder records the current state of an order
func (r *Repository) UpsertOrder(ctx context.Context, o order.Order) error {
	row := orderRowFrom(o)
	query := `
		INSERT INTO orders (
			signature, session_id, symbol, side, status, amount_in, price,
			strategy_name, error, exit_type, exit_signature, created_at,
			filled_at, exited_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
		ON CONFLICT (signature)
		DO UPDATE SET
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			exit_type = EXCLUDED.exit_type,
			exit_signature = EXCLUDED.exit_signature,
			filled_at = EXCLUDED.filled_at,
			exited_at = EXCLUDED.exited_at,
			updated_at = NOW()
	`
	_, err := r.db.Pool.Exec(ctx, query,
		row.Signature,
		r.sessionID,
		row.Symbol,
		row.Side,
		row.Status,
		row.AmountIn,
		row.Price,
		row.Strategy,
		row.Error,
		row.ExitType,
		row.ExitSignature,
		row.CreatedAt,
		row.FilledAt,
		row.ExitedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert order %s: %w", o.Signature, err)
	}
	return nil
}

// CountOrdersByStatus returns how many of the session's orders are in each status
func (r *Repository) CountOrdersByStatus(ctx context.Context) (map[order.Status]int, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT status, COUNT(*) FROM orders WHERE session_id = $1 GROUP BY status`, r.sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}
	defer rows.Close()

	counts := make(map[order.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan order count: %w", err)
		}
		counts[order.Status(status)] = n
	}
	return counts, rows.Err()
}

// orderRow is the flattened column set of the orders table
type orderRow struct {
	Signature     string
	Symbol        string
	Side          *string
	Status        string
	AmountIn      *float64
	Price         *float64
	Strategy      *string
	Error         *string
	ExitType      *string
	ExitSignature *string
	CreatedAt     time.Time
	FilledAt      *time.Time
	ExitedAt      *time.Time
}

func orderRowFrom(o order.Order) orderRow {
	row := orderRow{
		Signature:     o.Signature,
		Symbol:        o.Symbol,
		Status:        string(o.Status),
		Error:         nullable(o.Error),
		ExitType:      nullable(string(o.ExitType)),
		ExitSignature: nullable(o.ExitSignature),
		CreatedAt:     o.CreatedAt,
		FilledAt:      o.FilledAt,
		ExitedAt:      o.ExitedAt,
	}
	if o.Tx != nil {
		row.Side = nullable(o.Tx.Side)
		row.AmountIn = &o.Tx.AmountIn
		row.Price = &o.Tx.Price
		row.Strategy = nullable(o.Tx.Metadata["strategy"])
	}
	return row
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
