package remote

import "github.com/lanepos/lanepos/internal/types"

// envelope is the back office's standard response wrapper. Every endpoint
// answers {success, data, message?}; data's shape varies per endpoint.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Warning is a non-fatal notice attached to a transaction response, e.g.
// stock running low on the server side.
type Warning struct {
	ProductID string `json:"product_id,omitempty"`
	Message   string `json:"message"`
}

// CreatedTransaction is the server's canonical record of an accepted
// transaction.
type CreatedTransaction struct {
	ID                  string    `json:"id"`
	TransactionCode     string    `json:"transaction_code"`
	ClientTransactionID string    `json:"client_transaction_id,omitempty"`
	FinalAmount         float64   `json:"final_amount,omitempty"`
	Warnings            []Warning `json:"warnings,omitempty"`
}

// BulkSyncRequest submits the full pending batch in one call.
type BulkSyncRequest struct {
	Transactions []types.Transaction `json:"transactions"`
}

// BulkSyncError is a per-transaction rejection verdict. It is data, not an
// exception: the engine turns it into a compensating rollback.
type BulkSyncError struct {
	ClientTransactionID string `json:"client_transaction_id"`
	Message             string `json:"message"`
}

// BulkSyncResult carries the per-transaction verdicts of one bulk-sync call.
// Transactions lists accepted records; Errors lists rejected ones. A
// submitted id absent from both is still pending on the server and must be
// resubmitted next cycle.
type BulkSyncResult struct {
	SuccessCount int                  `json:"success_count"`
	FailedCount  int                  `json:"failed_count"`
	Transactions []CreatedTransaction `json:"transactions"`
	Errors       []BulkSyncError      `json:"errors"`
	Warnings     []Warning            `json:"warnings,omitempty"`
}
