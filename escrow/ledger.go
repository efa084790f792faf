// Package escrow is the boundary to the external escrow ledger. The
// arbitration core only reads transaction state from it; financial effects
// of a resolution travel back through the outbox, never through this
// package.
package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrTransactionNotFound signals the transaction ref is unknown to the
	// ledger.
	ErrTransactionNotFound = errors.New("escrow: transaction not found")
	// ErrNotDisputable signals the transaction is not in a contested state,
	// so no dispute may be opened against it.
	ErrNotDisputable = errors.New("escrow: transaction not disputable")
)

// TransactionState mirrors the ledger's settlement state for a transaction.
type TransactionState string

const (
	StateActive    TransactionState = "active"
	StateContested TransactionState = "contested"
	StateSettled   TransactionState = "settled"
	StateCancelled TransactionState = "cancelled"
)

// Ledger abstracts the escrow ledger reads the arbitration engine depends
// on.
type Ledger interface {
	// Disputable returns nil when a dispute may be opened against the
	// transaction, ErrTransactionNotFound or ErrNotDisputable otherwise.
	Disputable(ctx context.Context, transactionRef string) error
}

// PGLedger reads transaction state from the ledger's PostgreSQL table.
type PGLedger struct {
	pool *pgxpool.Pool
}

func NewPGLedger(pool *pgxpool.Pool) *PGLedger {
	return &PGLedger{pool: pool}
}

// Disputable checks the transaction is currently contested.
func (l *PGLedger) Disputable(ctx context.Context, transactionRef string) error {
	const query = `SELECT state::text FROM escrow_transactions WHERE transaction_ref = $1`

	var state TransactionState
	if err := l.pool.QueryRow(ctx, query, transactionRef).Scan(&state); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTransactionNotFound
		}
		return fmt.Errorf("escrow: read transaction state: %w", err)
	}
	if state != StateContested {
		return fmt.Errorf("%w: state %s", ErrNotDisputable, state)
	}
	return nil
}
