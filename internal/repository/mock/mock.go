package mock

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
	"github.com/TheShiveshNetwork/sayonara/internal/repository"
)

// ---- JobJournal mock ----

var _ repository.JobJournal = (*JobJournal)(nil)

// JobJournal is an in-memory test double for repository.JobJournal.
type JobJournal struct {
	mu sync.Mutex

	AppendFn func(ctx context.Context, job *domain.Job) error
	LatestFn func(ctx context.Context) ([]*domain.Job, error)

	// Appended records every snapshot in order.
	Appended []*domain.Job
}

func NewJobJournal() *JobJournal { return &JobJournal{} }

func (m *JobJournal) Append(ctx context.Context, job *domain.Job) error {
	if m.AppendFn != nil {
		if err := m.AppendFn(ctx, job); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Appended = append(m.Appended, job.Clone())
	return nil
}

func (m *JobJournal) Latest(ctx context.Context) ([]*domain.Job, error) {
	if m.LatestFn != nil {
		return m.LatestFn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := make(map[uuid.UUID]int)
	var out []*domain.Job
	for _, j := range m.Appended {
		if i, ok := idx[j.ID]; ok {
			out[i] = j.Clone()
			continue
		}
		idx[j.ID] = len(out)
		out = append(out, j.Clone())
	}
	return out, nil
}

// States returns the journaled states of one job in append order.
func (m *JobJournal) States(id uuid.UUID) []domain.JobState {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.JobState
	for _, j := range m.Appended {
		if j.ID == id {
			out = append(out, j.State)
		}
	}
	return out
}

// ---- CertificateStore mock ----

var _ repository.CertificateStore = (*CertificateStore)(nil)

// CertificateStore is an in-memory test double for repository.CertificateStore.
type CertificateStore struct {
	mu    sync.Mutex
	certs []*domain.Certificate

	SaveFn func(ctx context.Context, cert *domain.Certificate) error

	SaveCalls   int
	AnchorCalls []AnchorCall
}

type AnchorCall struct {
	CertID uuid.UUID
	TxRef  string
}

func NewCertificateStore() *CertificateStore { return &CertificateStore{} }

func (m *CertificateStore) Save(ctx context.Context, cert *domain.Certificate) error {
	m.mu.Lock()
	m.SaveCalls++
	m.mu.Unlock()
	if m.SaveFn != nil {
		if err := m.SaveFn(ctx, cert); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.certs {
		if c.ID == cert.ID {
			return nil
		}
	}
	m.certs = append(m.certs, cert.Clone())
	return nil
}

func (m *CertificateStore) GetByJob(ctx context.Context, jobID uuid.UUID) (*domain.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.certs) - 1; i >= 0; i-- {
		if m.certs[i].JobID == jobID {
			return m.certs[i].Clone(), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *CertificateStore) SetAnchorReference(ctx context.Context, certID uuid.UUID, txRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AnchorCalls = append(m.AnchorCalls, AnchorCall{CertID: certID, TxRef: txRef})
	for _, c := range m.certs {
		if c.ID == certID {
			ref := txRef
			c.AnchorReference = &ref
			return nil
		}
	}
	return repository.ErrNotFound
}

// ---- ReceiptStore mock ----

var _ repository.ReceiptStore = (*ReceiptStore)(nil)

// ReceiptStore is an in-memory test double for repository.ReceiptStore.
type ReceiptStore struct {
	mu     sync.Mutex
	byHash map[string]*domain.AnchorReceipt

	SaveFn func(ctx context.Context, r *domain.AnchorReceipt) error

	Saved []*domain.AnchorReceipt
}

func NewReceiptStore() *ReceiptStore {
	return &ReceiptStore{byHash: make(map[string]*domain.AnchorReceipt)}
}

func (m *ReceiptStore) Save(ctx context.Context, r *domain.AnchorReceipt) error {
	if m.SaveFn != nil {
		if err := m.SaveFn(ctx, r); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.byHash[r.ContentHash] = &cp
	m.Saved = append(m.Saved, &cp)
	return nil
}

func (m *ReceiptStore) GetByTxRef(ctx context.Context, txRef string) (*domain.AnchorReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.byHash {
		if r.TxRef == txRef {
			cp := *r
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *ReceiptStore) GetByHash(ctx context.Context, contentHash string) (*domain.AnchorReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byHash[contentHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *ReceiptStore) ListPending(ctx context.Context, limit int) ([]*domain.AnchorReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.AnchorReceipt
	for _, r := range m.byHash {
		if r.Status == domain.ConfirmationPending {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- DeviceLocker mock ----

var _ repository.DeviceLocker = (*DeviceLocker)(nil)

// DeviceLocker is an in-memory test double for repository.DeviceLocker.
type DeviceLocker struct {
	mu   sync.Mutex
	held map[string]uuid.UUID

	AcquireFn func(ctx context.Context, deviceID string, jobID uuid.UUID) (bool, error)

	AcquireCalls []string
	ReleaseCalls []string
}

func NewDeviceLocker() *DeviceLocker {
	return &DeviceLocker{held: make(map[string]uuid.UUID)}
}

func (m *DeviceLocker) Acquire(ctx context.Context, deviceID string, jobID uuid.UUID) (bool, error) {
	m.mu.Lock()
	m.AcquireCalls = append(m.AcquireCalls, deviceID)
	m.mu.Unlock()
	if m.AcquireFn != nil {
		return m.AcquireFn(ctx, deviceID, jobID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[deviceID]; ok {
		return false, nil
	}
	m.held[deviceID] = jobID
	return true, nil
}

func (m *DeviceLocker) Release(ctx context.Context, deviceID string, jobID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReleaseCalls = append(m.ReleaseCalls, deviceID)
	if m.held[deviceID] == jobID {
		delete(m.held, deviceID)
	}
	return nil
}

// Held reports whether any job holds the device.
func (m *DeviceLocker) Held(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[deviceID]
	return ok
}
