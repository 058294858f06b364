// Package types defines the core domain types shared across the lanepos
// terminal: catalog entities, locally recorded transactions, and the
// offline sync bookkeeping attached to them.
package types

import "time"

// Product is a catalog entity owned by the back office. The local row is a
// read cache except for Stock, which the ledger mutates locally ahead of
// server confirmation. Stock never goes below zero.
type Product struct {
	ID         string    `json:"id"`
	SKU        string    `json:"sku"`
	Name       string    `json:"name"`
	Price      float64   `json:"price"`
	Stock      int       `json:"stock"`
	CategoryID string    `json:"category_id,omitempty"`
	IsActive   bool      `json:"is_active"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Category is a catalog entity owned by the back office.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TransactionItem is a single cart line within a recorded transaction.
type TransactionItem struct {
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"price"`
}

// StockDelta records the exact quantity subtracted from a product's stock
// when a transaction was recorded, enabling exact reversal if the server
// later rejects the transaction.
type StockDelta struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Transaction is a locally recorded sale.
//
// Lifecycle: created with Synced=false by the recorder; marked Synced=true
// (terminal) when the server accepts it, or deleted after a compensating
// stock rollback when the server rejects it. A rejected transaction is never
// retried; the cashier must re-enter it.
type Transaction struct {
	LocalID             int64             `json:"-"`
	ClientTransactionID string            `json:"client_transaction_id"`
	ServerID            string            `json:"id,omitempty"`
	TransactionCode     string            `json:"transaction_code,omitempty"`
	Items               []TransactionItem `json:"items"`
	TotalAmount         float64           `json:"total_amount"`
	DiscountAmount      float64           `json:"discount_amount"`
	TaxAmount           float64           `json:"tax_amount"`
	FinalAmount         float64           `json:"final_amount"`
	PaymentMethod       string            `json:"payment_method"`
	PaidAmount          float64           `json:"paid_amount,omitempty"`
	CustomerName        string            `json:"customer_name,omitempty"`
	Notes               string            `json:"notes,omitempty"`
	Synced              bool              `json:"-"`
	SyncedAt            *time.Time        `json:"-"`
	StockDeltas         []StockDelta      `json:"-"`
	CreatedAt           time.Time         `json:"created_at"`
}

// CartLine is one entry of the cart handed to the recorder.
type CartLine struct {
	ProductID string
	Quantity  int
}

// PaymentInfo carries the payment details entered at the register.
type PaymentInfo struct {
	PaymentMethod  string
	PaidAmount     float64
	DiscountAmount float64
	TaxAmount      float64
	CustomerName   string
	Notes          string
}

// Queue operation and entity constants for offline catalog edits.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"

	EntityProduct  = "product"
	EntityCategory = "category"
)

// QueueEntry is a non-transactional catalog mutation made while offline,
// queued for per-item replay against the back office.
type QueueEntry struct {
	ID         string    `json:"id"`
	Operation  string    `json:"operation"`
	Entity     string    `json:"entity"`
	Payload    []byte    `json:"payload"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Metadata keys used by the store.
const (
	MetaLastSync           = "last_sync"
	MetaProductsLastSync   = "products_last_sync"
	MetaCategoriesLastSync = "categories_last_sync"
)
