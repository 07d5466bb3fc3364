package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger persists vault entries, bank totals and the exposure scalar
// in PostgreSQL. Every Apply call runs in one transaction so the three pieces
// of state and the counters move in lock-step. Amounts travel as NUMERIC(78,0)
// text to avoid float coercion.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// ApplyDeposit credits the vault, the bank total and the exposure figure.
func (l *PostgresLedger) ApplyDeposit(ctx context.Context, account, asset string, amount, converted *big.Int) error {
	if err := validAmounts(amount, converted); err != nil {
		return err
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, `INSERT INTO vault_entries (account, asset, balance)
        VALUES ($1, $2, $3::numeric)
        ON CONFLICT (account, asset) DO UPDATE SET balance = vault_entries.balance + EXCLUDED.balance`,
		account, asset, amount.String()); err != nil {
		return fmt.Errorf("credit vault: %w", err)
	}

	if _, err := tx.Exec(ctx, `INSERT INTO bank_totals (asset, total)
        VALUES ($1, $2::numeric)
        ON CONFLICT (asset) DO UPDATE SET total = bank_totals.total + EXCLUDED.total`,
		asset, amount.String()); err != nil {
		return fmt.Errorf("credit bank total: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE bank_state
        SET exposure_usd = exposure_usd + $1::numeric, deposit_count = deposit_count + 1
        WHERE id = 1`, converted.String()); err != nil {
		return fmt.Errorf("credit exposure: %w", err)
	}

	return tx.Commit(ctx)
}

// ApplyWithdraw debits the vault, the bank total and the exposure figure,
// failing with ErrAccountingUnderflow when any of the three would go negative.
func (l *PostgresLedger) ApplyWithdraw(ctx context.Context, account, asset string, amount, converted *big.Int) error {
	if err := validAmounts(amount, converted); err != nil {
		return err
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	res, err := tx.Exec(ctx, `UPDATE vault_entries
        SET balance = balance - $3::numeric
        WHERE account = $1 AND asset = $2 AND balance >= $3::numeric`,
		account, asset, amount.String())
	if err != nil {
		return fmt.Errorf("debit vault: %w", err)
	}
	if res.RowsAffected() != 1 {
		return ErrAccountingUnderflow
	}

	res, err = tx.Exec(ctx, `UPDATE bank_totals
        SET total = total - $2::numeric
        WHERE asset = $1 AND total >= $2::numeric`, asset, amount.String())
	if err != nil {
		return fmt.Errorf("debit bank total: %w", err)
	}
	if res.RowsAffected() != 1 {
		return ErrAccountingUnderflow
	}

	res, err = tx.Exec(ctx, `UPDATE bank_state
        SET exposure_usd = exposure_usd - $1::numeric, withdraw_count = withdraw_count + 1
        WHERE id = 1 AND exposure_usd >= $1::numeric`, converted.String())
	if err != nil {
		return fmt.Errorf("debit exposure: %w", err)
	}
	if res.RowsAffected() != 1 {
		return ErrAccountingUnderflow
	}

	return tx.Commit(ctx)
}

// RevertWithdraw restores a previously committed withdrawal after settlement
// failed.
func (l *PostgresLedger) RevertWithdraw(ctx context.Context, account, asset string, amount, converted *big.Int) error {
	if err := validAmounts(amount, converted); err != nil {
		return err
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, `UPDATE vault_entries
        SET balance = balance + $3::numeric
        WHERE account = $1 AND asset = $2`, account, asset, amount.String()); err != nil {
		return fmt.Errorf("restore vault: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE bank_totals
        SET total = total + $2::numeric WHERE asset = $1`, asset, amount.String()); err != nil {
		return fmt.Errorf("restore bank total: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE bank_state
        SET exposure_usd = exposure_usd + $1::numeric,
            withdraw_count = GREATEST(withdraw_count - 1, 0)
        WHERE id = 1`, converted.String()); err != nil {
		return fmt.Errorf("restore exposure: %w", err)
	}

	return tx.Commit(ctx)
}

// Balance returns the vault balance, zero when no entry exists.
func (l *PostgresLedger) Balance(ctx context.Context, account, asset string) (*big.Int, error) {
	const query = `SELECT balance::text FROM vault_entries WHERE account = $1 AND asset = $2`
	var raw string
	if err := l.db.QueryRow(ctx, query, account, asset).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return big.NewInt(0), nil
		}
		return nil, err
	}
	return parseNumeric(raw)
}

// BankTotal returns the aggregate units held for an asset.
func (l *PostgresLedger) BankTotal(ctx context.Context, asset string) (*big.Int, error) {
	const query = `SELECT total::text FROM bank_totals WHERE asset = $1`
	var raw string
	if err := l.db.QueryRow(ctx, query, asset).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return big.NewInt(0), nil
		}
		return nil, err
	}
	return parseNumeric(raw)
}

// Exposure returns the tracked bank-wide USD exposure.
func (l *PostgresLedger) Exposure(ctx context.Context) (*big.Int, error) {
	var raw string
	if err := l.db.QueryRow(ctx, `SELECT exposure_usd::text FROM bank_state WHERE id = 1`).Scan(&raw); err != nil {
		return nil, err
	}
	return parseNumeric(raw)
}

// Counters returns the monotonic operation totals.
func (l *PostgresLedger) Counters(ctx context.Context) (Counters, error) {
	var c Counters
	if err := l.db.QueryRow(ctx, `SELECT deposit_count, withdraw_count FROM bank_state WHERE id = 1`).
		Scan(&c.Deposits, &c.Withdrawals); err != nil {
		return Counters{}, err
	}
	return c, nil
}

func parseNumeric(raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("ledger: invalid numeric %q", raw)
	}
	return value, nil
}
