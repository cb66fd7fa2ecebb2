package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
	"github.com/TheShiveshNetwork/sayonara/internal/repository"
)

var (
	_ repository.JobJournal       = (*Store)(nil)
	_ repository.CertificateStore = (*Store)(nil)
	_ repository.ReceiptStore     = (*Receipts)(nil)
)

type recordKind string

const (
	kindJob         recordKind = "job"
	kindCertificate recordKind = "certificate"
	kindAnchorRef   recordKind = "anchor_ref"
	kindReceipt     recordKind = "receipt"
)

// record is one line of the journal.
type record struct {
	Kind       recordKind            `json:"kind"`
	RecordedAt time.Time             `json:"recorded_at"`
	Job        *domain.Job           `json:"job,omitempty"`
	Cert       *domain.Certificate   `json:"certificate,omitempty"`
	Receipt    *domain.AnchorReceipt `json:"receipt,omitempty"`
	CertID     *uuid.UUID            `json:"cert_id,omitempty"`
	TxRef      string                `json:"tx_ref,omitempty"`
}

// Store is a JSON-lines journal on local disk. Every append is fsynced before it
// returns; state is rebuilt by replaying the file on open.
type Store struct {
	mu   sync.RWMutex
	f    *os.File
	path string

	jobs     map[uuid.UUID]*domain.Job
	certs    map[uuid.UUID]*domain.Certificate
	byJob    map[uuid.UUID][]uuid.UUID
	receipts map[string]*domain.AnchorReceipt
	txRefs   map[string]string
}

// Open opens or creates the journal at path and replays it.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("journal: create dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	s := &Store{
		f:        f,
		path:     path,
		jobs:     make(map[uuid.UUID]*domain.Job),
		certs:    make(map[uuid.UUID]*domain.Certificate),
		byJob:    make(map[uuid.UUID][]uuid.UUID),
		receipts: make(map[string]*domain.AnchorReceipt),
		txRefs:   make(map[string]string),
	}
	if err := s.replay(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) replay() error {
	if _, err := s.f.Seek(0, 0); err != nil {
		return fmt.Errorf("journal: seek: %w", err)
	}
	sc := bufio.NewScanner(s.f)
	sc.Buffer(make([]byte, 64*1024), 16<<20)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			// A torn final line from a crash mid-append is dropped.
			if sc.Scan() {
				return fmt.Errorf("journal: line %d: %w", line, err)
			}
			break
		}
		s.apply(&rec)
	}
	return sc.Err()
}

func (s *Store) apply(rec *record) {
	switch rec.Kind {
	case kindJob:
		if rec.Job != nil {
			s.jobs[rec.Job.ID] = rec.Job
		}
	case kindCertificate:
		if rec.Cert != nil {
			if _, ok := s.certs[rec.Cert.ID]; !ok {
				s.byJob[rec.Cert.JobID] = append(s.byJob[rec.Cert.JobID], rec.Cert.ID)
			}
			s.certs[rec.Cert.ID] = rec.Cert
		}
	case kindAnchorRef:
		if rec.CertID != nil {
			if c, ok := s.certs[*rec.CertID]; ok {
				ref := rec.TxRef
				c.AnchorReference = &ref
			}
		}
	case kindReceipt:
		if rec.Receipt != nil {
			s.receipts[rec.Receipt.ContentHash] = rec.Receipt
			if rec.Receipt.TxRef != "" {
				s.txRefs[rec.Receipt.TxRef] = rec.Receipt.ContentHash
			}
		}
	}
}

// write appends and fsyncs one record. Callers hold s.mu.
func (s *Store) write(rec *record) error {
	rec.RecordedAt = time.Now().UTC()
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("journal: marshal: %w", err)
	}
	b = append(b, '\n')
	if _, err := s.f.Write(b); err != nil {
		return fmt.Errorf("journal: write: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("journal: sync: %w", err)
	}
	return nil
}

func (s *Store) Append(_ context.Context, job *domain.Job) error {
	snap := job.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := &record{Kind: kindJob, Job: snap}
	if err := s.write(rec); err != nil {
		return err
	}
	s.apply(rec)
	return nil
}

func (s *Store) Latest(_ context.Context) ([]*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].StartedAt.Before(out[k].StartedAt) })
	return out, nil
}

func (s *Store) Save(_ context.Context, cert *domain.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.certs[cert.ID]; ok {
		return nil
	}
	rec := &record{Kind: kindCertificate, Cert: cert.Clone()}
	if err := s.write(rec); err != nil {
		return err
	}
	s.apply(rec)
	return nil
}

func (s *Store) GetByJob(_ context.Context, jobID uuid.UUID) (*domain.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byJob[jobID]
	if len(ids) == 0 {
		return nil, repository.ErrNotFound
	}
	return s.certs[ids[len(ids)-1]].Clone(), nil
}

func (s *Store) SetAnchorReference(_ context.Context, certID uuid.UUID, txRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.certs[certID]; !ok {
		return repository.ErrNotFound
	}
	id := certID
	rec := &record{Kind: kindAnchorRef, CertID: &id, TxRef: txRef}
	if err := s.write(rec); err != nil {
		return err
	}
	s.apply(rec)
	return nil
}

// Receipts is the anchor receipt view of the journal.
type Receipts struct {
	s *Store
}

// Receipts returns a ReceiptStore backed by the same journal file.
func (s *Store) Receipts() *Receipts {
	return &Receipts{s: s}
}

func (r *Receipts) Save(_ context.Context, receipt *domain.AnchorReceipt) error {
	cp := *receipt
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec := &record{Kind: kindReceipt, Receipt: &cp}
	if err := r.s.write(rec); err != nil {
		return err
	}
	r.s.apply(rec)
	return nil
}

func (r *Receipts) GetByTxRef(_ context.Context, txRef string) (*domain.AnchorReceipt, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	hash, ok := r.s.txRefs[txRef]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.s.receipt(hash)
}

func (r *Receipts) GetByHash(_ context.Context, contentHash string) (*domain.AnchorReceipt, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.receipt(contentHash)
}

func (r *Receipts) ListPending(_ context.Context, limit int) ([]*domain.AnchorReceipt, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*domain.AnchorReceipt
	for _, rc := range r.s.receipts {
		if rc.Status == domain.ConfirmationPending {
			cp := *rc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].SubmittedAt.Before(out[k].SubmittedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// receipt returns a copy. Callers hold s.mu.
func (s *Store) receipt(hash string) (*domain.AnchorReceipt, error) {
	r, ok := s.receipts[hash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// Close closes the journal file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
