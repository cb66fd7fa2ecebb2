package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConfirmationStatus is the ledger-side state of an anchored hash.
type ConfirmationStatus string

const (
	ConfirmationPending   ConfirmationStatus = "pending"
	ConfirmationConfirmed ConfirmationStatus = "confirmed"
	ConfirmationFailed    ConfirmationStatus = "failed"
)

// IsTerminal returns true once no further polling is needed.
func (s ConfirmationStatus) IsTerminal() bool {
	return s == ConfirmationConfirmed || s == ConfirmationFailed
}

// AnchorReceipt tracks a certificate hash submitted to the external ledger.
type AnchorReceipt struct {
	ContentHash   string             `json:"content_hash"`
	TxRef         string             `json:"tx_ref"`
	JobID         uuid.UUID          `json:"job_id"`
	SubmittedAt   time.Time          `json:"submitted_at"`
	Status        ConfirmationStatus `json:"status"`
	Confirmations int                `json:"confirmations"`
	Polls         int                `json:"polls"`
	LastCheckedAt *time.Time         `json:"last_checked_at,omitempty"`
}

// LedgerRecord is what the ledger reports for a transaction reference.
type LedgerRecord struct {
	TxRef         string `json:"tx_ref"`
	ContentHash   string `json:"content_hash"`
	Confirmations int    `json:"confirmations"`
	Reverted      bool   `json:"reverted"`
}
