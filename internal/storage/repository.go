package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"ricorrenti/internal/core"
	"ricorrenti/internal/ledger"
	"ricorrenti/internal/log"

	_ "modernc.org/sqlite"
)

// SQLiteRepository implements ledger.PaymentStore, ledger.TransactionLedger
// and ledger.Transactor.
type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) GetPayment(ctx context.Context, id string) (core.PlannedPayment, error) {
	row, err := r.queries.GetPayment(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.PlannedPayment{}, fmt.Errorf("payment %s: %w", id, ledger.ErrNotFound)
	}
	if err != nil {
		return core.PlannedPayment{}, fmt.Errorf("get payment: %w", err)
	}
	return paymentFromRow(row)
}

func (r *SQLiteRepository) ListPayments(ctx context.Context) ([]core.PlannedPayment, error) {
	rows, err := r.queries.ListPayments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	out := make([]core.PlannedPayment, 0, len(rows))
	for _, row := range rows {
		p, err := paymentFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *SQLiteRepository) SavePayment(ctx context.Context, p core.PlannedPayment) error {
	if p.ID == "" {
		return fmt.Errorf("save payment: empty id")
	}
	var recurrence sql.NullString
	if p.Recurrence != nil {
		data, err := json.Marshal(p.Recurrence)
		if err != nil {
			return fmt.Errorf("marshal recurrence: %w", err)
		}
		recurrence = sql.NullString{String: string(data), Valid: true}
	}

	err := r.queries.UpsertPayment(ctx, UpsertPaymentParams{
		ID:          p.ID,
		Title:       p.Title,
		AmountCents: p.Amount.Cents,
		Currency:    p.Currency,
		AccountID:   p.AccountID,
		Category:    p.Category,
		Kind:        string(p.Kind),
		Recurrence:  recurrence,
		Version:     p.Version,
	})
	if err != nil {
		return fmt.Errorf("upsert payment: %w", err)
	}

	slog.DebugContext(ctx, "Payment saved to SQLite",
		log.FieldComponent, log.ComponentStorage,
		log.FieldPaymentID, p.ID,
		"version", p.Version)
	return nil
}

func (r *SQLiteRepository) DeletePayment(ctx context.Context, id string) error {
	n, err := r.queries.DeletePayment(ctx, id)
	if err != nil {
		return fmt.Errorf("delete payment: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("payment %s: %w", id, ledger.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) CreateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	params := CreateTransactionParams{
		ID:          tx.ID,
		Title:       tx.Title,
		AmountCents: tx.Amount.Cents,
		Currency:    tx.Currency,
		AccountID:   tx.AccountID,
		Category:    tx.Category,
		Kind:        string(tx.Kind),
		Date:        tx.Date.Key(),
	}
	if tx.Source != nil {
		params.SourcePaymentID = sql.NullString{String: tx.Source.PaymentID, Valid: true}
		params.SourceOccurrenceDate = sql.NullString{String: tx.Source.OccurrenceDate.Key(), Valid: true}
	}

	row, err := r.queries.CreateTransaction(ctx, params)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction saved to SQLite",
		log.FieldComponent, log.ComponentStorage,
		log.FieldTransactionID, row.ID,
		log.FieldAmountCents, row.AmountCents,
		"date", row.Date)
	return transactionFromRow(row)
}

func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, id string) error {
	n, err := r.queries.DeleteTransaction(ctx, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("transaction %s: %w", id, ledger.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) ListTransactions(ctx context.Context) ([]core.Transaction, error) {
	rows, err := r.queries.ListTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return transactionsFromRows(rows)
}

func (r *SQLiteRepository) ListByPayment(ctx context.Context, paymentID string) ([]core.Transaction, error) {
	rows, err := r.queries.ListTransactionsByPayment(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("list transactions by payment: %w", err)
	}
	return transactionsFromRows(rows)
}

// WithTx runs fn against a repository bound to one database transaction.
func (r *SQLiteRepository) WithTx(ctx context.Context, fn func(*SQLiteRepository) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&SQLiteRepository{db: r.db, queries: r.queries.WithTx(tx)}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// InTx implements ledger.Transactor on top of WithTx.
func (r *SQLiteRepository) InTx(ctx context.Context, fn func(ledger.PaymentStore, ledger.TransactionLedger) error) error {
	return r.WithTx(ctx, func(tx *SQLiteRepository) error {
		return fn(tx, tx)
	})
}

func paymentFromRow(row PlannedPayment) (core.PlannedPayment, error) {
	p := core.PlannedPayment{
		ID:        row.ID,
		Title:     row.Title,
		Amount:    core.Money{Cents: row.AmountCents},
		Currency:  row.Currency,
		AccountID: row.AccountID,
		Category:  row.Category,
		Kind:      core.Kind(row.Kind),
		Version:   row.Version,
	}
	if row.Recurrence.Valid {
		var rule core.RecurrenceRule
		if err := json.Unmarshal([]byte(row.Recurrence.String), &rule); err != nil {
			return core.PlannedPayment{}, fmt.Errorf("decode recurrence of payment %s: %w", row.ID, err)
		}
		p.Recurrence = &rule
	}
	return p, nil
}

func transactionFromRow(row Transaction) (core.Transaction, error) {
	date, err := core.ParseDate(row.Date)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", row.ID, err)
	}
	tx := core.Transaction{
		ID:        row.ID,
		Title:     row.Title,
		Amount:    core.Money{Cents: row.AmountCents},
		Currency:  row.Currency,
		AccountID: row.AccountID,
		Category:  row.Category,
		Kind:      core.Kind(row.Kind),
		Date:      date,
	}
	if row.SourcePaymentID.Valid {
		occ, err := core.ParseDate(row.SourceOccurrenceDate.String)
		if err != nil {
			return core.Transaction{}, fmt.Errorf("transaction %s provenance: %w", row.ID, err)
		}
		tx.Source = &core.Provenance{PaymentID: row.SourcePaymentID.String, OccurrenceDate: occ}
	}
	return tx, nil
}

func transactionsFromRows(rows []Transaction) ([]core.Transaction, error) {
	out := make([]core.Transaction, 0, len(rows))
	for _, row := range rows {
		tx, err := transactionFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}
