package coordinator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TheShiveshNetwork/sayonara/internal/blockdev"
	"github.com/TheShiveshNetwork/sayonara/internal/domain"
	"github.com/TheShiveshNetwork/sayonara/internal/engine"
	"github.com/TheShiveshNetwork/sayonara/internal/metrics"
	"github.com/TheShiveshNetwork/sayonara/internal/publisher"
	"github.com/TheShiveshNetwork/sayonara/internal/repository"
	"github.com/TheShiveshNetwork/sayonara/internal/verify"
)

// DeviceSource is the device inventory.
type DeviceSource interface {
	ListDevices(ctx context.Context) ([]domain.Device, error)
	Get(ctx context.Context, id string) (*domain.Device, error)
	RefreshHealth(ctx context.Context, id string) (*domain.Device, error)
}

// MethodSource is the method registry.
type MethodSource interface {
	ListMethods(d *domain.Device) []domain.Method
	Applicable(id string, d *domain.Device) (*domain.Method, error)
}

type Overwriter interface {
	Execute(ctx context.Context, req engine.ExecuteRequest, dev blockdev.Device, onProgress engine.ProgressFunc) (*engine.PassResult, error)
}

type Verifier interface {
	Verify(ctx context.Context, req verify.Request, dev blockdev.Device) (*domain.VerificationResult, error)
}

type Certifier interface {
	Generate(job *domain.Job) (*domain.Certificate, error)
	Supersede(old *domain.Certificate, job *domain.Job) (*domain.Certificate, error)
}

// Deps are the collaborators of a Coordinator. Locker and Publisher are optional.
type Deps struct {
	Inventory    DeviceSource
	Methods      MethodSource
	Opener       blockdev.Opener
	Overwriter   Overwriter
	Verifier     Verifier
	Certificates Certifier
	Journal      repository.JobJournal
	CertStore    repository.CertificateStore
	Locker       repository.DeviceLocker
	Publisher    publisher.Publisher
}

// Config holds the coordinator policy.
type Config struct {
	// MaxRewipes is how many times a job is re-run after a failed verification.
	MaxRewipes int
	// EventBuffer bounds queued job events; events beyond it are dropped.
	EventBuffer int
}

const (
	seedBytes       = 32
	journalAttempts = 3
	publishTimeout  = 10 * time.Second
)

// Coordinator owns the job state machine and the device arena: at most one
// non-terminal job per device.
type Coordinator struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	jobs    map[uuid.UUID]*jobEntry
	devices map[string]uuid.UUID
	flags   map[string]deviceFlags

	running sync.WaitGroup
	events  chan *domain.JobEvent
	pubDone chan struct{}
	closed  bool
}

type jobEntry struct {
	job    *domain.Job
	cancel context.CancelFunc
	done   chan struct{}
	subs   []chan domain.JobStatus
}

type deviceFlags struct {
	requiresReconfirmation bool
	unverified             bool
}

// New creates a coordinator and starts its event publisher.
func New(deps Deps, cfg Config, logger *zap.Logger) *Coordinator {
	if cfg.MaxRewipes < 0 {
		cfg.MaxRewipes = 0
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	if deps.Publisher == nil {
		deps.Publisher = publisher.NewNoopPublisher(logger)
	}
	c := &Coordinator{
		deps:    deps,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		jobs:    make(map[uuid.UUID]*jobEntry),
		devices: make(map[string]uuid.UUID),
		flags:   make(map[string]deviceFlags),
		events:  make(chan *domain.JobEvent, cfg.EventBuffer),
		pubDone: make(chan struct{}),
	}
	go c.publishLoop()
	return c
}

// StartJob validates the request, claims the device and starts the wipe in the background.
func (c *Coordinator) StartJob(ctx context.Context, req domain.StartJobRequest) (*domain.Job, error) {
	dev, err := c.deps.Inventory.Get(ctx, req.DeviceID)
	if err != nil {
		return nil, err
	}
	if dev.IsSystemVolume && !req.AllowSystemVolume {
		return nil, fmt.Errorf("%s: %w", dev.ID, domain.ErrSystemVolumeConfirmationRequired)
	}
	if dev.CapacityBytes <= 0 {
		return nil, fmt.Errorf("%s: %w", dev.ID, domain.ErrInvalidDevice)
	}
	if hidden := dev.Capabilities.HiddenAreaBytes; hidden > 0 {
		return nil, fmt.Errorf("%s: %d bytes past the reported capacity: %w", dev.ID, hidden, domain.ErrHiddenArea)
	}
	method, err := c.deps.Methods.Applicable(req.MethodID, dev)
	if err != nil {
		return nil, err
	}

	jobID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate UUIDv7: %w", err)
	}
	seed := make([]byte, seedBytes)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("generate seed: %w", err)
	}

	if err := c.claim(ctx, dev.ID, jobID); err != nil {
		return nil, err
	}

	now := c.now().UTC()
	job := &domain.Job{
		ID:       jobID,
		DeviceID: dev.ID,
		MethodID: method.ID,
		Device:   dev.Snapshot(),
		State:    domain.StatePending,
		Progress: domain.Progress{
			PassCount:  method.PassCount(),
			TotalBytes: dev.CapacityBytes,
		},
		StartedAt: now,
		UpdatedAt: now,
		Seed:      hex.EncodeToString(seed),
	}

	if err := c.deps.Journal.Append(ctx, job); err != nil {
		c.abandon(ctx, dev.ID, jobID, true)
		return nil, fmt.Errorf("journal job: %w", err)
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	entry := &jobEntry{job: job, cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	c.jobs[jobID] = entry
	snapshot := job.Clone()
	c.mu.Unlock()

	metrics.ActiveJobs.Inc()
	c.emit(snapshot)

	c.logger.Info("Job accepted",
		zap.String("job_id", jobID.String()),
		zap.String("device_id", dev.ID),
		zap.String("method_id", method.ID),
		zap.Int("passes", method.PassCount()),
	)

	go c.run(jobCtx, entry, dev, method, seed)

	return snapshot, nil
}

// claim reserves the device in the arena and, when configured, in the distributed lock.
func (c *Coordinator) claim(ctx context.Context, deviceID string, jobID uuid.UUID) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("coordinator is shutting down")
	}
	if holder, busy := c.devices[deviceID]; busy {
		c.mu.Unlock()
		return fmt.Errorf("%s held by job %s: %w", deviceID, holder, domain.ErrDeviceBusy)
	}
	c.devices[deviceID] = jobID
	// Counted here so Shutdown cannot close the event queue under a starting job.
	c.running.Add(1)
	c.mu.Unlock()

	if c.deps.Locker == nil {
		return nil
	}
	ok, err := c.deps.Locker.Acquire(ctx, deviceID, jobID)
	if err != nil {
		c.abandon(ctx, deviceID, jobID, false)
		return fmt.Errorf("acquire device lock: %w", err)
	}
	if !ok {
		c.abandon(ctx, deviceID, jobID, false)
		return fmt.Errorf("%s locked by another process: %w", deviceID, domain.ErrDeviceBusy)
	}
	return nil
}

// abandon undoes a claim for a job that never started.
func (c *Coordinator) abandon(ctx context.Context, deviceID string, jobID uuid.UUID, locked bool) {
	c.mu.Lock()
	if c.devices[deviceID] == jobID {
		delete(c.devices, deviceID)
	}
	c.mu.Unlock()
	if locked && c.deps.Locker != nil {
		if err := c.deps.Locker.Release(ctx, deviceID, jobID); err != nil {
			c.logger.Warn("Failed to release device lock", zap.String("device_id", deviceID), zap.Error(err))
		}
	}
	c.running.Done()
}

// GetJob returns a snapshot of the job.
func (c *Coordinator) GetJob(id uuid.UUID) (*domain.Job, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return e.job.Clone(), nil
}

// GetJobStatus is the polling surface for progress bars.
func (c *Coordinator) GetJobStatus(id uuid.UUID) (domain.JobStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.jobs[id]
	if !ok {
		return domain.JobStatus{}, domain.ErrJobNotFound
	}
	return e.job.Status(), nil
}

// CancelJob requests cooperative cancellation. It returns once the request is
// recorded; the job reaches cancelled after its in-flight block write.
func (c *Coordinator) CancelJob(id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if !e.job.State.IsCancellable() {
		return fmt.Errorf("job %s is %s: %w", id, e.job.State, domain.ErrJobNotCancellable)
	}
	e.cancel()
	c.logger.Info("Cancellation requested",
		zap.String("job_id", id.String()),
		zap.String("state", string(e.job.State)),
	)
	return nil
}

// Wait blocks until the job is terminal or ctx is done.
func (c *Coordinator) Wait(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	c.mu.RLock()
	e, ok := c.jobs[id]
	c.mu.RUnlock()
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	select {
	case <-e.done:
		return c.GetJob(id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetCertificate returns the newest certificate of a terminal job.
func (c *Coordinator) GetCertificate(ctx context.Context, id uuid.UUID) (*domain.Certificate, error) {
	c.mu.RLock()
	e, ok := c.jobs[id]
	var job *domain.Job
	if ok {
		job = e.job.Clone()
	}
	c.mu.RUnlock()

	if !ok {
		// Purged from memory; the certificate store is still authoritative.
		cert, err := c.deps.CertStore.GetByJob(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrJobNotFound
		}
		return cert, err
	}
	if !job.State.IsTerminal() {
		return nil, fmt.Errorf("job %s is %s: %w", id, job.State, domain.ErrCertificateNotReady)
	}
	if !job.Certifiable() || job.Certificate == nil {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrJobNotCertifiable)
	}

	cert, err := c.deps.CertStore.GetByJob(ctx, id)
	if err != nil {
		c.logger.Warn("Certificate store lookup failed, serving in-memory copy",
			zap.String("job_id", id.String()),
			zap.Error(err),
		)
		return job.Certificate, nil
	}
	return cert, nil
}

// ReissueCertificate issues a correction that supersedes the job's current
// certificate, e.g. after the signing key was rotated. The old certificate stays
// in the store and keeps any anchor it has.
func (c *Coordinator) ReissueCertificate(ctx context.Context, id uuid.UUID) (*domain.Certificate, error) {
	old, err := c.GetCertificate(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	e, ok := c.jobs[id]
	var job *domain.Job
	if ok {
		job = e.job.Clone()
	}
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("job %s is no longer held in memory: %w", id, domain.ErrJobNotFound)
	}

	cert, err := c.deps.Certificates.Supersede(old, job)
	if err != nil {
		return nil, err
	}
	if err := c.deps.CertStore.Save(ctx, cert); err != nil {
		return nil, fmt.Errorf("store certificate: %w", err)
	}

	c.mu.Lock()
	e.job.Certificate = cert.Clone()
	snapshot := e.job.Clone()
	c.mu.Unlock()

	if err := c.deps.Journal.Append(ctx, snapshot); err != nil {
		c.logger.Warn("Failed to journal reissued certificate", zap.String("job_id", id.String()), zap.Error(err))
	}

	c.logger.Info("Certificate reissued",
		zap.String("job_id", id.String()),
		zap.String("cert_id", cert.ID.String()),
		zap.String("supersedes", old.ID.String()),
	)
	return cert, nil
}

// PurgeJobs drops terminal jobs that finished more than olderThan ago from memory.
// The journal keeps them.
func (c *Coordinator) PurgeJobs(olderThan time.Duration) int {
	cutoff := c.now().Add(-olderThan)

	c.mu.Lock()
	defer c.mu.Unlock()
	purged := 0
	for id, e := range c.jobs {
		j := e.job
		if j.State.IsTerminal() && j.FinishedAt != nil && j.FinishedAt.Before(cutoff) {
			delete(c.jobs, id)
			purged++
		}
	}
	if purged > 0 {
		c.logger.Info("Purged terminal jobs", zap.Int("count", purged), zap.Duration("older_than", olderThan))
	}
	return purged
}

// ListDevices returns the inventory annotated with job bindings and reconfirmation flags.
func (c *Coordinator) ListDevices(ctx context.Context) ([]domain.Device, error) {
	devices, err := c.deps.Inventory.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := range devices {
		c.decorate(&devices[i])
	}
	return devices, nil
}

// RefreshHealth re-reads a device's health.
func (c *Coordinator) RefreshHealth(ctx context.Context, deviceID string) (*domain.Device, error) {
	d, err := c.deps.Inventory.RefreshHealth(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	c.decorate(d)
	c.mu.RUnlock()
	return d, nil
}

// ListMethods returns the methods applicable to a device.
func (c *Coordinator) ListMethods(ctx context.Context, deviceID string) ([]domain.Method, error) {
	d, err := c.deps.Inventory.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return c.deps.Methods.ListMethods(d), nil
}

// decorate fills the arena-derived fields. Callers hold c.mu.
func (c *Coordinator) decorate(d *domain.Device) {
	if id, ok := c.devices[d.ID]; ok {
		jobID := id
		d.InUseByJob = &jobID
	}
	f := c.flags[d.ID]
	d.RequiresReconfirmation = f.requiresReconfirmation
	d.Unverified = f.unverified
}

// Shutdown cancels every active job, waits for them to be journaled and flushes events.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for _, e := range c.jobs {
		if !e.job.State.IsTerminal() {
			e.cancel()
		}
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.running.Wait()
		close(c.events)
		<-c.pubDone
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// emit queues an event for the publisher without blocking.
func (c *Coordinator) emit(job *domain.Job) {
	ev := &domain.JobEvent{
		JobID:          job.ID,
		DeviceID:       job.DeviceID,
		MethodID:       job.MethodID,
		State:          job.State,
		PartiallyWiped: job.PartiallyWiped,
		Failure:        job.Failure,
		OccurredAt:     job.UpdatedAt,
	}
	if job.Certificate != nil {
		ev.ContentHash = job.Certificate.ContentHash
	}
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("Event queue full, dropping job event",
			zap.String("job_id", job.ID.String()),
			zap.String("state", string(job.State)),
		)
	}
}

func (c *Coordinator) publishLoop() {
	defer close(c.pubDone)
	for ev := range c.events {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := c.deps.Publisher.Publish(ctx, ev); err != nil {
			c.logger.Warn("Failed to publish job event",
				zap.String("job_id", ev.JobID.String()),
				zap.String("state", string(ev.State)),
				zap.Error(err),
			)
		}
		cancel()
	}
}
