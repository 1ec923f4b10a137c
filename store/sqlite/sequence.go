package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/invoice-engine/billing"
)

// PeekInvoiceNumber returns the next sequence value for (account, year)
// without consuming it. seed is the highest value already printed on an
// invoice, so counters created after a migration continue from it.
func (s *Store) PeekInvoiceNumber(ctx context.Context, accountID billing.AccountID, year int, seed int64) (int64, error) {
	var last int64
	err := s.q.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(last_value), 0) FROM invoice_number_sequences WHERE account_id = ? AND year = ?",
		int64(accountID), year).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("failed to read invoice sequence: %w", err)
	}
	return max(last, seed) + 1, nil
}

// ReserveInvoiceNumbers consumes n values and returns the first. Reserved
// values are never handed out again, even if the run that took them fails.
// Call it outside WithTx so the reservation commits on its own.
func (s *Store) ReserveInvoiceNumbers(ctx context.Context, accountID billing.AccountID, year, n int, seed int64) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("reserve invoice numbers: n must be positive, got %d", n)
	}

	var last int64
	err := s.withSequenceTx(ctx, func(q querier) error {
		now := formatTS(time.Now())
		if _, err := q.ExecContext(ctx, `
			INSERT INTO invoice_number_sequences (account_id, year, last_value, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(account_id, year) DO NOTHING`,
			int64(accountID), year, seed, now); err != nil {
			return err
		}
		return q.QueryRowContext(ctx, `
			UPDATE invoice_number_sequences
			SET last_value = MAX(last_value, ?) + ?, updated_at = ?
			WHERE account_id = ? AND year = ?
			RETURNING last_value`,
			seed, n, now, int64(accountID), year).Scan(&last)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to reserve invoice numbers: %w", err)
	}
	return last - int64(n) + 1, nil
}

func (s *Store) withSequenceTx(ctx context.Context, fn func(q querier) error) error {
	if s.inTx {
		return fn(s.q)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
