package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lanepos/lanepos/internal/types"
)

// TransactionFilter narrows ListTransactions results.
type TransactionFilter struct {
	PaymentMethod string
	Synced        *bool
	StartDate     time.Time
	EndDate       time.Time
	Search        string // matches transaction code or client transaction id
	Page          int
	Limit         int
}

// TransactionPage is one page of transaction history.
type TransactionPage struct {
	Transactions []types.Transaction
	Total        int
	Page         int
	Limit        int
}

const transactionColumns = `local_id, client_transaction_id, server_id, transaction_code,
	total_amount, discount_amount, tax_amount, final_amount, payment_method,
	paid_amount, customer_name, notes, synced, synced_at, created_at`

// InsertTransaction persists a transaction together with its items and stock
// deltas in one database transaction. The record is stored with synced=false;
// only the sync engine flips it.
func (s *SQLiteStore) InsertTransaction(ctx context.Context, t *types.Transaction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (
			client_transaction_id, server_id, transaction_code,
			total_amount, discount_amount, tax_amount, final_amount,
			payment_method, paid_amount, customer_name, notes,
			synced, synced_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?)
	`,
		t.ClientTransactionID, nullable(t.ServerID), nullable(t.TransactionCode),
		t.TotalAmount, t.DiscountAmount, t.TaxAmount, t.FinalAmount,
		t.PaymentMethod, t.PaidAmount, nullable(t.CustomerName), nullable(t.Notes),
		formatTime(t.CreatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateTransaction
		}
		return fmt.Errorf("insert transaction: %w", err)
	}

	t.LocalID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}

	for _, item := range t.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO transaction_items (client_transaction_id, product_id, product_name, quantity, unit_price)
			VALUES (?, ?, ?, ?, ?)
		`, t.ClientTransactionID, item.ProductID, nullable(item.ProductName), item.Quantity, item.UnitPrice); err != nil {
			return fmt.Errorf("insert transaction item: %w", err)
		}
	}

	for _, delta := range t.StockDeltas {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stock_deltas (client_transaction_id, product_id, quantity)
			VALUES (?, ?, ?)
		`, t.ClientTransactionID, delta.ProductID, delta.Quantity); err != nil {
			return fmt.Errorf("insert stock delta: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// scanTransaction scans a transaction row without its items or deltas.
func scanTransaction(scanner interface{ Scan(...any) error }) (*types.Transaction, error) {
	var t types.Transaction
	var serverID, code, customer, notes, syncedAt sql.NullString
	var paidAmount sql.NullFloat64
	var synced int
	var createdAt string

	err := scanner.Scan(
		&t.LocalID, &t.ClientTransactionID, &serverID, &code,
		&t.TotalAmount, &t.DiscountAmount, &t.TaxAmount, &t.FinalAmount, &t.PaymentMethod,
		&paidAmount, &customer, &notes, &synced, &syncedAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	t.ServerID = serverID.String
	t.TransactionCode = code.String
	t.PaidAmount = paidAmount.Float64
	t.CustomerName = customer.String
	t.Notes = notes.String
	t.Synced = synced != 0
	if syncedAt.Valid {
		ts := parseTime(syncedAt.String)
		t.SyncedAt = &ts
	}
	t.CreatedAt = parseTime(createdAt)
	return &t, nil
}

// loadTransactionDetails fills in items and stock deltas for a transaction.
func (s *SQLiteStore) loadTransactionDetails(ctx context.Context, t *types.Transaction) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, product_name, quantity, unit_price
		FROM transaction_items WHERE client_transaction_id = ? ORDER BY id
	`, t.ClientTransactionID)
	if err != nil {
		return fmt.Errorf("query transaction items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item types.TransactionItem
		var name sql.NullString
		if err := rows.Scan(&item.ProductID, &name, &item.Quantity, &item.UnitPrice); err != nil {
			return fmt.Errorf("scan transaction item: %w", err)
		}
		item.ProductName = name.String
		t.Items = append(t.Items, item)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate transaction items: %w", err)
	}

	deltaRows, err := s.db.QueryContext(ctx, `
		SELECT product_id, quantity
		FROM stock_deltas WHERE client_transaction_id = ? ORDER BY id
	`, t.ClientTransactionID)
	if err != nil {
		return fmt.Errorf("query stock deltas: %w", err)
	}
	defer deltaRows.Close()

	for deltaRows.Next() {
		var delta types.StockDelta
		if err := deltaRows.Scan(&delta.ProductID, &delta.Quantity); err != nil {
			return fmt.Errorf("scan stock delta: %w", err)
		}
		t.StockDeltas = append(t.StockDeltas, delta)
	}
	if err := deltaRows.Err(); err != nil {
		return fmt.Errorf("iterate stock deltas: %w", err)
	}
	return nil
}

// GetTransactionByClientID retrieves a transaction, with items and deltas,
// by its client transaction id.
func (s *SQLiteStore) GetTransactionByClientID(ctx context.Context, clientTransactionID string) (*types.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE client_transaction_id = ?",
		clientTransactionID)

	t, err := scanTransaction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	if err := s.loadTransactionDetails(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// PendingTransactions returns all transactions with synced=false, oldest
// first, with items and stock deltas loaded. This is the sync engine's
// batch input.
func (s *SQLiteStore) PendingTransactions(ctx context.Context) ([]types.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE synced = 0 ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("query pending transactions: %w", err)
	}
	defer rows.Close()

	var pending []types.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		pending = append(pending, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}

	for i := range pending {
		if err := s.loadTransactionDetails(ctx, &pending[i]); err != nil {
			return nil, err
		}
	}
	return pending, nil
}

// PendingCount returns the number of unsynced transactions.
func (s *SQLiteStore) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions WHERE synced = 0").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending transactions: %w", err)
	}
	return count, nil
}

// MarkTransactionSynced flips a transaction to synced=true and records the
// canonical fields the server assigned. Stock is deliberately untouched:
// the local deduction already happened at creation time and the server has
// accounted for it on its side.
func (s *SQLiteStore) MarkTransactionSynced(ctx context.Context, clientTransactionID, serverID, transactionCode string, syncedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET synced = 1, server_id = ?, transaction_code = ?, synced_at = ?
		WHERE client_transaction_id = ?
	`, nullable(serverID), nullable(transactionCode), formatTime(syncedAt), clientTransactionID)
	if err != nil {
		return fmt.Errorf("mark transaction synced: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTransaction removes a transaction and, via cascade, its items and
// stock deltas. Used after a compensating rollback of a rejected transaction.
func (s *SQLiteStore) DeleteTransaction(ctx context.Context, clientTransactionID string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM transactions WHERE client_transaction_id = ?", clientTransactionID)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSyncedTransactions removes transactions already confirmed by the
// server. Housekeeping; the server holds the canonical record.
func (s *SQLiteStore) DeleteSyncedTransactions(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM transactions WHERE synced = 1")
	if err != nil {
		return 0, fmt.Errorf("delete synced transactions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return n, nil
}

// ListTransactions returns transaction history matching the filter, newest
// first, paginated. Items and deltas are loaded for each returned row.
func (s *SQLiteStore) ListTransactions(ctx context.Context, filter TransactionFilter) (*TransactionPage, error) {
	var conds []string
	var args []any

	if filter.PaymentMethod != "" {
		conds = append(conds, "payment_method = ?")
		args = append(args, filter.PaymentMethod)
	}
	if filter.Synced != nil {
		conds = append(conds, "synced = ?")
		args = append(args, boolToInt(*filter.Synced))
	}
	if !filter.StartDate.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, formatTime(filter.StartDate))
	}
	if !filter.EndDate.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, formatTime(filter.EndDate))
	}
	if filter.Search != "" {
		conds = append(conds, "(transaction_code LIKE ? COLLATE NOCASE OR client_transaction_id LIKE ? COLLATE NOCASE)")
		pattern := "%" + filter.Search + "%"
		args = append(args, pattern, pattern)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count transactions: %w", err)
	}

	query := "SELECT " + transactionColumns + " FROM transactions" + where + " ORDER BY created_at DESC"
	page := filter.Page
	if page < 1 {
		page = 1
	}
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, (page-1)*filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []types.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		transactions = append(transactions, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}

	for i := range transactions {
		if err := s.loadTransactionDetails(ctx, &transactions[i]); err != nil {
			return nil, err
		}
	}

	return &TransactionPage{Transactions: transactions, Total: total, Page: page, Limit: filter.Limit}, nil
}
