package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/TheShiveshNetwork/sayonara/internal/anchor"
	"github.com/TheShiveshNetwork/sayonara/internal/domain"
)

var _ anchor.Ledger = (*Ledger)(nil)

// Ledger is an in-memory ledger. Submitted hashes get sequential tx refs and
// start with zero confirmations; tests advance them with Confirm.
type Ledger struct {
	mu      sync.Mutex
	records map[string]*domain.LedgerRecord
	seq     int

	SubmitFn func(ctx context.Context, contentHash string) (string, error)
	LookupFn func(ctx context.Context, txRef string) (*domain.LedgerRecord, error)

	Submitted []string
	Lookups   []string
}

func NewLedger() *Ledger {
	return &Ledger{records: make(map[string]*domain.LedgerRecord)}
}

func (l *Ledger) Submit(ctx context.Context, contentHash string) (string, error) {
	l.mu.Lock()
	l.Submitted = append(l.Submitted, contentHash)
	l.mu.Unlock()
	if l.SubmitFn != nil {
		return l.SubmitFn(ctx, contentHash)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	txRef := fmt.Sprintf("0x%064x", l.seq)
	l.records[txRef] = &domain.LedgerRecord{TxRef: txRef, ContentHash: contentHash}
	return txRef, nil
}

func (l *Ledger) Lookup(ctx context.Context, txRef string) (*domain.LedgerRecord, error) {
	l.mu.Lock()
	l.Lookups = append(l.Lookups, txRef)
	l.mu.Unlock()
	if l.LookupFn != nil {
		return l.LookupFn(ctx, txRef)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[txRef]
	if !ok {
		return nil, domain.ErrReceiptNotFound
	}
	cp := *rec
	return &cp, nil
}

// Confirm sets the confirmation count of txRef.
func (l *Ledger) Confirm(txRef string, confirmations int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.records[txRef]; ok {
		rec.Confirmations = confirmations
	}
}

// Revert marks txRef as reverted.
func (l *Ledger) Revert(txRef string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.records[txRef]; ok {
		rec.Reverted = true
	}
}
