package domain

import (
	"time"

	"github.com/google/uuid"
)

// VerificationOutcome is the verification verdict recorded in a certificate.
type VerificationOutcome string

const (
	VerificationPassed VerificationOutcome = "passed"
	VerificationFailed VerificationOutcome = "failed"
)

// Certificate is the immutable record of a completed sanitization.
type Certificate struct {
	ID           uuid.UUID           `json:"id"`
	JobID        uuid.UUID           `json:"job_id"`
	Device       DeviceSnapshot      `json:"device"`
	MethodID     string              `json:"method_id"`
	PassCount    int                 `json:"pass_count"`
	Verification VerificationOutcome `json:"verification"`
	SampleCount  int                 `json:"sample_count"`
	StartedAt    time.Time           `json:"started_at"`
	FinishedAt   time.Time           `json:"finished_at"`
	Supersedes   *uuid.UUID          `json:"supersedes,omitempty"`

	ContentHash string `json:"content_hash"`
	Signature   string `json:"signature,omitempty"`
	SignerKeyID string `json:"signer_key_id,omitempty"`

	// AnchorReference is the ledger transaction reference once anchored.
	AnchorReference *string `json:"anchor_reference,omitempty"`
}

// Clone returns a deep copy of the certificate.
func (c *Certificate) Clone() *Certificate {
	out := *c
	if c.Supersedes != nil {
		id := *c.Supersedes
		out.Supersedes = &id
	}
	if c.AnchorReference != nil {
		ref := *c.AnchorReference
		out.AnchorReference = &ref
	}
	return &out
}
