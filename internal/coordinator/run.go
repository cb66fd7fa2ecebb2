package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
	"github.com/TheShiveshNetwork/sayonara/internal/engine"
	"github.com/TheShiveshNetwork/sayonara/internal/metrics"
	"github.com/TheShiveshNetwork/sayonara/internal/verify"
)

// run drives one job from pending to a terminal state.
func (c *Coordinator) run(ctx context.Context, e *jobEntry, dev *domain.Device, method *domain.Method, seed []byte) {
	defer c.running.Done()
	defer e.cancel()

	log := c.logger.With(
		zap.String("job_id", e.job.ID.String()),
		zap.String("device_id", dev.ID),
		zap.String("method_id", method.ID),
	)

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			c.finish(e, domain.StateCancelled, nil, log)
			return
		}

		c.transition(e, log, func(j *domain.Job) {
			j.State = domain.StateRunning
			j.Attempts = attempt + 1
			j.Progress.PassIndex = 0
			j.Progress.BytesWritten = 0
			j.Verification = nil
		})

		res, err := c.overwrite(ctx, e, dev, method, seed)
		if res != nil {
			c.mu.Lock()
			e.job.PassesExecuted += res.PassesCompleted
			if res.BytesWritten > 0 {
				e.job.PartiallyWiped = true
			}
			c.mu.Unlock()
		}
		if err != nil {
			log.Error("Overwrite failed", zap.Int("attempt", attempt+1), zap.Error(err))
			c.finish(e, domain.StateFailed, overwriteFailure(err), log)
			return
		}
		if res.Cancelled {
			c.mu.Lock()
			e.job.Progress.PassIndex = res.PassIndex
			e.job.Progress.BytesWritten = res.Offset
			c.mu.Unlock()
			c.finish(e, domain.StateCancelled, nil, log)
			return
		}

		c.transition(e, log, func(j *domain.Job) {
			j.State = domain.StateVerifying
		})

		// Verification is not cancellable; it only reads.
		result, err := c.verify(context.WithoutCancel(ctx), e, dev, method, seed)
		if err != nil {
			log.Error("Verification could not run", zap.Error(err))
			c.finish(e, domain.StateFailed, &domain.Failure{Kind: domain.FailureDevice, Cause: err.Error()}, log)
			return
		}

		c.mu.Lock()
		e.job.Verification = result
		c.mu.Unlock()

		if result.Passed {
			c.finish(e, domain.StateSucceeded, nil, log)
			return
		}

		metrics.VerificationFailures.Inc()
		// A cancel that landed after the last block cannot reach back past verifying;
		// it only suppresses the rewipe.
		rewipe := attempt < c.cfg.MaxRewipes
		if rewipe && ctx.Err() != nil {
			log.Info("Cancellation requested during the final block, not rewiping")
			rewipe = false
		}
		if rewipe {
			log.Warn("Verification failed, rewiping",
				zap.Int("attempt", attempt+1),
				zap.Int("mismatches", len(result.Mismatches)),
			)
			continue
		}

		c.finish(e, domain.StateFailed, verificationFailure(result, method), log)
		return
	}
}

func (c *Coordinator) overwrite(ctx context.Context, e *jobEntry, dev *domain.Device, method *domain.Method, seed []byte) (*engine.PassResult, error) {
	handle, err := c.deps.Opener.Open(dev, true)
	if err != nil {
		return nil, fmt.Errorf("open for writing: %w", err)
	}
	defer func() {
		if err := handle.Close(); err != nil {
			c.logger.Warn("Failed to close device", zap.String("device_id", dev.ID), zap.Error(err))
		}
	}()

	req := engine.ExecuteRequest{JobID: e.job.ID, Device: dev, Method: method, Seed: seed}
	return c.deps.Overwriter.Execute(ctx, req, handle, func(pass int, written, total int64) {
		c.progress(e, pass, written, total)
	})
}

func (c *Coordinator) verify(ctx context.Context, e *jobEntry, dev *domain.Device, method *domain.Method, seed []byte) (*domain.VerificationResult, error) {
	// A fresh read-only handle, so nothing cached by the writer is read back.
	handle, err := c.deps.Opener.Open(dev, false)
	if err != nil {
		return nil, fmt.Errorf("open for read-back: %w", err)
	}
	defer handle.Close()

	return c.deps.Verifier.Verify(ctx, verify.Request{JobID: e.job.ID, Device: dev, Method: method, Seed: seed}, handle)
}

func verificationFailure(result *domain.VerificationResult, method *domain.Method) *domain.Failure {
	f := &domain.Failure{Kind: domain.FailureVerification, PassIndex: method.PassCount() - 1}
	if len(result.Mismatches) == 0 {
		f.Cause = fmt.Sprintf("sampled bytes have %.2f bits/byte of entropy (chi-square %.1f)", result.Entropy, result.ChiSquare)
		return f
	}
	first := result.Mismatches[0]
	f.Offset = first.FirstByteAt
	f.Cause = fmt.Sprintf("%d of %d samples mismatched; expected 0x%02x, found 0x%02x at %d",
		len(result.Mismatches), len(result.SampledOffsets), first.Expected, first.Found, first.FirstByteAt)
	return f
}

func overwriteFailure(err error) *domain.Failure {
	var wf *domain.WriteFailure
	switch {
	case errors.As(err, &wf):
		return &domain.Failure{Kind: domain.FailureWrite, PassIndex: wf.PassIndex, Offset: wf.Offset, Cause: wf.Cause.Error()}
	case engine.IsFirmwareFailure(err):
		return &domain.Failure{Kind: domain.FailureFirmware, Cause: err.Error()}
	default:
		return &domain.Failure{Kind: domain.FailureDevice, Cause: err.Error()}
	}
}

// progress records in-pass progress and fans it out to subscribers.
func (c *Coordinator) progress(e *jobEntry, pass int, written, total int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.job.Progress.PassIndex = pass
	e.job.Progress.BytesWritten = written
	e.job.Progress.TotalBytes = total
	e.job.UpdatedAt = c.now().UTC()
	c.notify(e)
}

// transition applies a non-terminal state change, journals it and emits an event.
// A journal failure here is logged; the terminal record is the one that must land.
func (c *Coordinator) transition(e *jobEntry, log *zap.Logger, apply func(j *domain.Job)) {
	c.mu.Lock()
	apply(e.job)
	e.job.UpdatedAt = c.now().UTC()
	snapshot := e.job.Clone()
	c.notify(e)
	c.mu.Unlock()

	if err := c.deps.Journal.Append(context.Background(), snapshot); err != nil {
		log.Warn("Failed to journal transition", zap.String("state", string(snapshot.State)), zap.Error(err))
	}
	c.emit(snapshot)
}

// finish moves the job to a terminal state, certifies it when the outcome allows,
// journals it and only then releases the device.
func (c *Coordinator) finish(e *jobEntry, state domain.JobState, failure *domain.Failure, log *zap.Logger) {
	c.mu.Lock()
	now := c.now().UTC()
	j := e.job
	j.State = state
	j.FinishedAt = &now
	j.UpdatedAt = now
	j.Failure = failure
	switch state {
	case domain.StateSucceeded:
		j.Outcome = domain.OutcomeSuccess
	case domain.StateCancelled:
		j.Outcome = domain.OutcomeCancelled
	default:
		j.Outcome = domain.OutcomeFailed
	}
	snapshot := j.Clone()
	c.mu.Unlock()

	ctx := context.Background()
	if snapshot.Certifiable() {
		cert, err := c.deps.Certificates.Generate(snapshot)
		if err != nil {
			log.Error("Failed to generate certificate", zap.Error(err))
		} else {
			if err := c.deps.CertStore.Save(ctx, cert); err != nil {
				log.Error("Failed to store certificate", zap.String("cert_id", cert.ID.String()), zap.Error(err))
			}
			snapshot.Certificate = cert
			c.mu.Lock()
			j.Certificate = cert.Clone()
			c.mu.Unlock()
		}
	}

	var err error
	for i := 0; i < journalAttempts; i++ {
		if err = c.deps.Journal.Append(ctx, snapshot); err == nil || i == journalAttempts-1 {
			break
		}
		time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
	}

	if err == nil && c.deps.Locker != nil {
		if relErr := c.deps.Locker.Release(ctx, j.DeviceID, j.ID); relErr != nil {
			log.Warn("Failed to release device lock", zap.Error(relErr))
		}
	}

	c.mu.Lock()
	if err != nil {
		// The device stays reserved until a terminal record exists.
		log.Error("Failed to journal terminal state, device stays locked",
			zap.String("state", string(state)),
			zap.Error(err),
		)
	} else {
		if c.devices[j.DeviceID] == j.ID {
			delete(c.devices, j.DeviceID)
		}
		c.flags[j.DeviceID] = deviceFlags{
			requiresReconfirmation: state != domain.StateSucceeded,
			unverified:             j.Verification == nil || !j.Verification.Passed,
		}
	}
	c.notify(e)
	for _, ch := range e.subs {
		close(ch)
	}
	e.subs = nil
	close(e.done)
	c.mu.Unlock()

	metrics.JobsTotal.WithLabelValues(snapshot.MethodID, string(snapshot.Outcome)).Inc()
	metrics.ActiveJobs.Dec()
	c.emit(snapshot)

	fields := []zap.Field{
		zap.String("state", string(state)),
		zap.Int("attempts", snapshot.Attempts),
		zap.Int("passes_executed", snapshot.PassesExecuted),
		zap.Bool("partially_wiped", snapshot.PartiallyWiped),
	}
	if failure != nil {
		fields = append(fields, zap.String("failure", string(failure.Kind)))
	}
	log.Info("Job finished", fields...)
}
