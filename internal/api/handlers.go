// Package api is the terminal's local control surface. The register UI and
// operational tooling talk to it; the back office never does.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lanepos/lanepos/internal/ledger"
	"github.com/lanepos/lanepos/internal/store"
	"github.com/lanepos/lanepos/internal/syncengine"
	"github.com/lanepos/lanepos/internal/types"
)

// Store is the slice of the durable store the handlers need.
type Store interface {
	ListProducts(ctx context.Context, filter store.ProductFilter) (*store.ProductPage, error)
	ListCategories(ctx context.Context) ([]types.Category, error)
	ListTransactions(ctx context.Context, filter store.TransactionFilter) (*store.TransactionPage, error)
	GetTransactionByClientID(ctx context.Context, clientTransactionID string) (*types.Transaction, error)
	PendingCount(ctx context.Context) (int, error)
	QueueSize(ctx context.Context) (int, error)
	DeleteSyncedTransactions(ctx context.Context) (int64, error)
}

// Recorder records sales.
type Recorder interface {
	Record(ctx context.Context, cart []types.CartLine, payment types.PaymentInfo) (*types.Transaction, bool, error)
}

// Catalog applies offline catalog edits.
type Catalog interface {
	SaveProduct(ctx context.Context, p *types.Product, operation string) error
	RemoveProduct(ctx context.Context, id string) error
	SaveCategory(ctx context.Context, c *types.Category, operation string) error
	RemoveCategory(ctx context.Context, id string) error
}

// SyncControl exposes the sync engine to the control surface.
type SyncControl interface {
	Status(ctx context.Context) syncengine.Status
	TriggerSync() bool
}

// Connectivity reports and re-checks reachability.
type Connectivity interface {
	Online() bool
	Probe(ctx context.Context) bool
}

// Handler implements the control API handlers.
type Handler struct {
	store    Store
	recorder Recorder
	catalog  Catalog
	sync     SyncControl
	conn     Connectivity
	version  string
}

// NewHandler creates a Handler.
func NewHandler(s Store, rec Recorder, cat Catalog, sync SyncControl, conn Connectivity, version string) *Handler {
	return &Handler{store: s, recorder: rec, catalog: cat, sync: sync, conn: conn, version: version}
}

// Health returns the daemon's health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"version": h.version,
		"online":  h.conn.Online(),
	})
}

// StatusResponse is the body of GET /v1/status.
type StatusResponse struct {
	syncengine.Status
	Online       bool `json:"online"`
	PendingCount int  `json:"pending_count"`
	QueueSize    int  `json:"queue_size"`
}

// GetStatus handles GET /v1/status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := h.store.PendingCount(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	queued, err := h.store.QueueSize(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Status:       h.sync.Status(r.Context()),
		Online:       h.conn.Online(),
		PendingCount: pending,
		QueueSize:    queued,
	})
}

// TriggerSync handles POST /v1/sync. It re-probes connectivity first so an
// operator-initiated sync works the moment the network is back, without
// waiting for the next scheduled probe.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if !h.conn.Probe(r.Context()) {
		WriteProblem(w, r, http.StatusServiceUnavailable, "back office unreachable")
		return
	}
	if !h.sync.TriggerSync() {
		WriteProblem(w, r, http.StatusConflict, "sync already in progress")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sync triggered"})
}

// RecordTransactionRequest is the body of POST /v1/transactions.
type RecordTransactionRequest struct {
	Items []struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	} `json:"items"`
	PaymentMethod  string  `json:"payment_method"`
	PaidAmount     float64 `json:"paid_amount"`
	DiscountAmount float64 `json:"discount_amount"`
	TaxAmount      float64 `json:"tax_amount"`
	CustomerName   string  `json:"customer_name"`
	Notes          string  `json:"notes"`
}

// RecordTransactionResponse reports the recorded sale and whether it is
// waiting for sync.
type RecordTransactionResponse struct {
	Transaction *types.Transaction `json:"transaction"`
	Pending     bool               `json:"pending"`
}

// RecordTransaction handles POST /v1/transactions.
func (h *Handler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	var req RecordTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if len(req.Items) == 0 {
		WriteProblem(w, r, http.StatusBadRequest, "items must not be empty")
		return
	}
	if req.PaymentMethod == "" {
		WriteProblem(w, r, http.StatusBadRequest, "payment_method is required")
		return
	}

	cart := make([]types.CartLine, 0, len(req.Items))
	for _, item := range req.Items {
		cart = append(cart, types.CartLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	payment := types.PaymentInfo{
		PaymentMethod:  req.PaymentMethod,
		PaidAmount:     req.PaidAmount,
		DiscountAmount: req.DiscountAmount,
		TaxAmount:      req.TaxAmount,
		CustomerName:   req.CustomerName,
		Notes:          req.Notes,
	}

	txn, pending, err := h.recorder.Record(r.Context(), cart, payment)
	if err != nil {
		var stockErr *ledger.InsufficientStockError
		switch {
		case errors.As(err, &stockErr):
			WriteProblem(w, r, http.StatusUnprocessableEntity, stockErr.Error())
		case errors.Is(err, store.ErrNotFound):
			WriteProblem(w, r, http.StatusNotFound, err.Error())
		default:
			WriteProblem(w, r, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, RecordTransactionResponse{Transaction: txn, Pending: pending})
}

// ListTransactions handles GET /v1/transactions.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.TransactionFilter{
		PaymentMethod: q.Get("payment_method"),
		Search:        q.Get("search"),
		Page:          queryInt(q.Get("page")),
		Limit:         queryInt(q.Get("limit")),
	}
	if v := q.Get("synced"); v != "" {
		synced, err := strconv.ParseBool(v)
		if err != nil {
			WriteProblem(w, r, http.StatusBadRequest, "synced must be a boolean")
			return
		}
		filter.Synced = &synced
	}
	for _, p := range []struct {
		name   string
		target *time.Time
	}{
		{"start_date", &filter.StartDate},
		{"end_date", &filter.EndDate},
	} {
		if v := q.Get(p.name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				WriteProblem(w, r, http.StatusBadRequest, p.name+" must be RFC 3339")
				return
			}
			*p.target = t
		}
	}

	page, err := h.store.ListTransactions(r.Context(), filter)
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": page.Transactions,
		"total":        page.Total,
		"page":         page.Page,
		"limit":        page.Limit,
	})
}

// GetTransaction handles GET /v1/transactions/{clientTransactionID}.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "clientTransactionID")
	txn, err := h.store.GetTransactionByClientID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteProblem(w, r, http.StatusNotFound, "transaction not found")
			return
		}
		WriteProblem(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

// PruneSynced handles DELETE /v1/transactions/synced.
func (h *Handler) PruneSynced(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.store.DeleteSyncedTransactions(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// ListProducts handles GET /v1/products.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ProductFilter{
		Search:     q.Get("search"),
		CategoryID: q.Get("category_id"),
		ActiveOnly: q.Get("active") == "true",
		Page:       queryInt(q.Get("page")),
		Limit:      queryInt(q.Get("limit")),
	}

	page, err := h.store.ListProducts(r.Context(), filter)
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"products": page.Products,
		"total":    page.Total,
		"page":     page.Page,
		"limit":    page.Limit,
	})
}

// ListCategories handles GET /v1/categories.
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.store.ListCategories(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

// CreateProduct handles POST /v1/products.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	h.saveProduct(w, r, types.OpCreate, "")
}

// UpdateProduct handles PUT /v1/products/{id}.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	h.saveProduct(w, r, types.OpUpdate, chi.URLParam(r, "id"))
}

func (h *Handler) saveProduct(w http.ResponseWriter, r *http.Request, operation, id string) {
	var p types.Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if id != "" {
		p.ID = id
	}
	if p.ID == "" || p.Name == "" {
		WriteProblem(w, r, http.StatusBadRequest, "id and name are required")
		return
	}

	if err := h.catalog.SaveProduct(r.Context(), &p, operation); err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if operation == types.OpCreate {
		status = http.StatusCreated
	}
	writeJSON(w, status, p)
}

// DeleteProduct handles DELETE /v1/products/{id}.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.catalog.RemoveProduct(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteProblem(w, r, http.StatusNotFound, "product not found")
			return
		}
		WriteProblem(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateCategory handles POST /v1/categories.
func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	h.saveCategory(w, r, types.OpCreate, "")
}

// UpdateCategory handles PUT /v1/categories/{id}.
func (h *Handler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	h.saveCategory(w, r, types.OpUpdate, chi.URLParam(r, "id"))
}

func (h *Handler) saveCategory(w http.ResponseWriter, r *http.Request, operation, id string) {
	var c types.Category
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if id != "" {
		c.ID = id
	}
	if c.ID == "" || c.Name == "" {
		WriteProblem(w, r, http.StatusBadRequest, "id and name are required")
		return
	}

	if err := h.catalog.SaveCategory(r.Context(), &c, operation); err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if operation == types.OpCreate {
		status = http.StatusCreated
	}
	writeJSON(w, status, c)
}

// DeleteCategory handles DELETE /v1/categories/{id}.
func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.catalog.RemoveCategory(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteProblem(w, r, http.StatusNotFound, "category not found")
			return
		}
		WriteProblem(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func queryInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
