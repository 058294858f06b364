package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lanepos/lanepos/internal/types"
)

// ProductFilter narrows ListProducts results. Zero values mean "no filter".
type ProductFilter struct {
	Search     string // matches name or SKU, case-insensitive
	CategoryID string
	ActiveOnly bool
	Page       int // 1-based; 0 means first page
	Limit      int // 0 means no pagination
}

// ProductPage is one page of catalog results.
type ProductPage struct {
	Products []types.Product
	Total    int
	Page     int
	Limit    int
}

// scanProduct scans a product row.
func scanProduct(scanner interface{ Scan(...any) error }) (*types.Product, error) {
	var p types.Product
	var categoryID sql.NullString
	var isActive int
	var updatedAt string

	err := scanner.Scan(&p.ID, &p.SKU, &p.Name, &p.Price, &p.Stock, &categoryID, &isActive, &updatedAt)
	if err != nil {
		return nil, err
	}

	p.CategoryID = categoryID.String
	p.IsActive = isActive != 0
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

const productColumns = "id, sku, name, price, stock, category_id, is_active, updated_at"

// GetProduct retrieves a product by id.
func (s *SQLiteStore) GetProduct(ctx context.Context, id string) (*types.Product, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+productColumns+" FROM products WHERE id = ?", id)

	p, err := scanProduct(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan product: %w", err)
	}
	return p, nil
}

// ListProducts returns catalog products matching the filter, paginated.
func (s *SQLiteStore) ListProducts(ctx context.Context, filter ProductFilter) (*ProductPage, error) {
	var conds []string
	var args []any

	if filter.Search != "" {
		conds = append(conds, "(name LIKE ? COLLATE NOCASE OR sku LIKE ? COLLATE NOCASE)")
		pattern := "%" + filter.Search + "%"
		args = append(args, pattern, pattern)
	}
	if filter.CategoryID != "" {
		conds = append(conds, "category_id = ?")
		args = append(args, filter.CategoryID)
	}
	if filter.ActiveOnly {
		conds = append(conds, "is_active = 1")
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM products"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	query := "SELECT " + productColumns + " FROM products" + where + " ORDER BY name"
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
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var products []types.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}

	return &ProductPage{Products: products, Total: total, Page: page, Limit: filter.Limit}, nil
}

// UpsertProduct inserts or updates a single product row. On update the
// stock column is left alone: stock moves only through the ledger, and an
// edit payload carries whatever stock value the UI last fetched, which may
// predate deductions made since.
func (s *SQLiteStore) UpsertProduct(ctx context.Context, p *types.Product) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, sku, name, price, stock, category_id, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sku = excluded.sku,
			name = excluded.name,
			price = excluded.price,
			category_id = excluded.category_id,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`, p.ID, p.SKU, p.Name, p.Price, p.Stock, nullable(p.CategoryID), boolToInt(p.IsActive), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

// DeleteProduct removes a product row.
func (s *SQLiteStore) DeleteProduct(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM products WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
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

// SetProductStock writes a product's stock level. Callers are expected to
// serialize through the ledger; this is the raw persistence primitive.
func (s *SQLiteStore) SetProductStock(ctx context.Context, id string, stock int) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE products SET stock = ?, updated_at = ? WHERE id = ?",
		stock, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set product stock: %w", err)
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

// ReplaceProducts clears the product mirror and bulk-inserts the given
// snapshot, then stamps products_last_sync. Full replace by design: the
// mirror is never merged field-by-field with server data.
func (s *SQLiteStore) ReplaceProducts(ctx context.Context, products []types.Product) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM products"); err != nil {
		return fmt.Errorf("clear products: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO products (id, sku, name, price, stock, category_id, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	now := formatTime(time.Now())
	for _, p := range products {
		if _, err := stmt.ExecContext(ctx,
			p.ID, p.SKU, p.Name, p.Price, p.Stock, nullable(p.CategoryID), boolToInt(p.IsActive), now); err != nil {
			return fmt.Errorf("insert product %s: %w", p.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		types.MetaProductsLastSync, now); err != nil {
		return fmt.Errorf("stamp products_last_sync: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListCategories returns all cached categories.
func (s *SQLiteStore) ListCategories(ctx context.Context) ([]types.Category, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM categories ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var categories []types.Category
	for rows.Next() {
		var c types.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return categories, nil
}

// UpsertCategory inserts or updates a single category row.
func (s *SQLiteStore) UpsertCategory(ctx context.Context, c *types.Category) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, c.ID, c.Name)
	if err != nil {
		return fmt.Errorf("upsert category: %w", err)
	}
	return nil
}

// DeleteCategory removes a category row.
func (s *SQLiteStore) DeleteCategory(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM categories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
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

// ReplaceCategories clears the category mirror and bulk-inserts the given
// snapshot, then stamps categories_last_sync.
func (s *SQLiteStore) ReplaceCategories(ctx context.Context, categories []types.Category) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM categories"); err != nil {
		return fmt.Errorf("clear categories: %w", err)
	}

	for _, c := range categories {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO categories (id, name) VALUES (?, ?)", c.ID, c.Name); err != nil {
			return fmt.Errorf("insert category %s: %w", c.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		types.MetaCategoriesLastSync, formatTime(time.Now())); err != nil {
		return fmt.Errorf("stamp categories_last_sync: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
