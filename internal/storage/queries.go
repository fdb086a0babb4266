package storage

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type PlannedPayment struct {
	ID          string
	Title       string
	AmountCents int64
	Currency    string
	AccountID   string
	Category    string
	Kind        string
	Recurrence  sql.NullString
	Version     int64
}

type Transaction struct {
	ID                   string
	Title                string
	AmountCents          int64
	Currency             string
	AccountID            string
	Category             string
	Kind                 string
	Date                 string
	SourcePaymentID      sql.NullString
	SourceOccurrenceDate sql.NullString
}

const paymentColumns = `id, title, amount_cents, currency, account_id, category, kind, recurrence, version`

const transactionColumns = `id, title, amount_cents, currency, account_id, category, kind, date, source_payment_id, source_occurrence_date`

func scanPayment(row interface{ Scan(...any) error }) (PlannedPayment, error) {
	var i PlannedPayment
	err := row.Scan(
		&i.ID,
		&i.Title,
		&i.AmountCents,
		&i.Currency,
		&i.AccountID,
		&i.Category,
		&i.Kind,
		&i.Recurrence,
		&i.Version,
	)
	return i, err
}

func scanTransaction(row interface{ Scan(...any) error }) (Transaction, error) {
	var i Transaction
	err := row.Scan(
		&i.ID,
		&i.Title,
		&i.AmountCents,
		&i.Currency,
		&i.AccountID,
		&i.Category,
		&i.Kind,
		&i.Date,
		&i.SourcePaymentID,
		&i.SourceOccurrenceDate,
	)
	return i, err
}

const getPayment = `SELECT ` + paymentColumns + ` FROM planned_payments WHERE id = ?`

func (q *Queries) GetPayment(ctx context.Context, id string) (PlannedPayment, error) {
	return scanPayment(q.db.QueryRowContext(ctx, getPayment, id))
}

const listPayments = `SELECT ` + paymentColumns + ` FROM planned_payments ORDER BY rowid`

func (q *Queries) ListPayments(ctx context.Context) ([]PlannedPayment, error) {
	rows, err := q.db.QueryContext(ctx, listPayments)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PlannedPayment
	for rows.Next() {
		i, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const upsertPayment = `
INSERT INTO planned_payments (id, title, amount_cents, currency, account_id, category, kind, recurrence, version)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    title = excluded.title,
    amount_cents = excluded.amount_cents,
    currency = excluded.currency,
    account_id = excluded.account_id,
    category = excluded.category,
    kind = excluded.kind,
    recurrence = excluded.recurrence,
    version = excluded.version,
    updated_at = CURRENT_TIMESTAMP`

type UpsertPaymentParams struct {
	ID          string
	Title       string
	AmountCents int64
	Currency    string
	AccountID   string
	Category    string
	Kind        string
	Recurrence  sql.NullString
	Version     int64
}

func (q *Queries) UpsertPayment(ctx context.Context, arg UpsertPaymentParams) error {
	_, err := q.db.ExecContext(ctx, upsertPayment,
		arg.ID,
		arg.Title,
		arg.AmountCents,
		arg.Currency,
		arg.AccountID,
		arg.Category,
		arg.Kind,
		arg.Recurrence,
		arg.Version,
	)
	return err
}

const deletePayment = `DELETE FROM planned_payments WHERE id = ?`

func (q *Queries) DeletePayment(ctx context.Context, id string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deletePayment, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const createTransaction = `
INSERT INTO transactions (id, title, amount_cents, currency, account_id, category, kind, date, source_payment_id, source_occurrence_date)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + transactionColumns

type CreateTransactionParams struct {
	ID                   string
	Title                string
	AmountCents          int64
	Currency             string
	AccountID            string
	Category             string
	Kind                 string
	Date                 string
	SourcePaymentID      sql.NullString
	SourceOccurrenceDate sql.NullString
}

func (q *Queries) CreateTransaction(ctx context.Context, arg CreateTransactionParams) (Transaction, error) {
	row := q.db.QueryRowContext(ctx, createTransaction,
		arg.ID,
		arg.Title,
		arg.AmountCents,
		arg.Currency,
		arg.AccountID,
		arg.Category,
		arg.Kind,
		arg.Date,
		arg.SourcePaymentID,
		arg.SourceOccurrenceDate,
	)
	return scanTransaction(row)
}

const deleteTransaction = `DELETE FROM transactions WHERE id = ?`

func (q *Queries) DeleteTransaction(ctx context.Context, id string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteTransaction, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listTransactions = `SELECT ` + transactionColumns + ` FROM transactions ORDER BY date, rowid`

func (q *Queries) ListTransactions(ctx context.Context) ([]Transaction, error) {
	return q.queryTransactions(ctx, listTransactions)
}

const listTransactionsByPayment = `SELECT ` + transactionColumns + ` FROM transactions
WHERE source_payment_id = ?
ORDER BY source_occurrence_date, rowid`

func (q *Queries) ListTransactionsByPayment(ctx context.Context, paymentID string) ([]Transaction, error) {
	return q.queryTransactions(ctx, listTransactionsByPayment, paymentID)
}

func (q *Queries) queryTransactions(ctx context.Context, query string, args ...interface{}) ([]Transaction, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Transaction
	for rows.Next() {
		i, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
