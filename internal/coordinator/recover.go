package coordinator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
)

// Recover rebuilds the job table from the journal at startup. Jobs that were
// not terminal when the process stopped are closed as interrupted; their
// devices are flagged for reconfirmation since their content is unknown.
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	jobs, err := c.deps.Journal.Latest(ctx)
	if err != nil {
		return 0, fmt.Errorf("read journal: %w", err)
	}

	interrupted := 0
	// Device flags follow the most recently started job, whatever order the journal returns.
	newest := make(map[string]time.Time)
	for _, j := range jobs {
		if !j.State.IsTerminal() {
			c.closeInterrupted(j)
			if err := c.deps.Journal.Append(ctx, j); err != nil {
				return interrupted, fmt.Errorf("journal recovered job %s: %w", j.ID, err)
			}
			if c.deps.Locker != nil {
				if err := c.deps.Locker.Release(ctx, j.DeviceID, j.ID); err != nil {
					c.logger.Warn("Failed to release device lock of recovered job",
						zap.String("job_id", j.ID.String()),
						zap.Error(err),
					)
				}
			}
			interrupted++
		}

		done := make(chan struct{})
		close(done)
		c.mu.Lock()
		if _, exists := c.jobs[j.ID]; !exists {
			c.jobs[j.ID] = &jobEntry{job: j, cancel: func() {}, done: done}
		}
		if seen, ok := newest[j.DeviceID]; !ok || !j.StartedAt.Before(seen) {
			newest[j.DeviceID] = j.StartedAt
			c.flags[j.DeviceID] = deviceFlags{
				requiresReconfirmation: j.State != domain.StateSucceeded,
				unverified:             j.Verification == nil || !j.Verification.Passed,
			}
		}
		c.mu.Unlock()
	}

	c.logger.Info("Recovered jobs from journal",
		zap.Int("jobs", len(jobs)),
		zap.Int("interrupted", interrupted),
	)
	return interrupted, nil
}

// closeInterrupted moves a job left non-terminal by a crash to a terminal state.
// A job that never wrote a byte is cancelled; anything else failed mid-wipe.
func (c *Coordinator) closeInterrupted(j *domain.Job) {
	now := c.now().UTC()
	prior := j.State
	j.FinishedAt = &now
	j.UpdatedAt = now
	j.Verification = nil

	if prior == domain.StatePending && !j.PartiallyWiped {
		j.State = domain.StateCancelled
		j.Outcome = domain.OutcomeCancelled
		return
	}
	j.State = domain.StateFailed
	j.Outcome = domain.OutcomeFailed
	j.PartiallyWiped = true
	j.Failure = &domain.Failure{
		Kind:      domain.FailureInterrupted,
		PassIndex: j.Progress.PassIndex,
		Offset:    j.Progress.BytesWritten,
		Cause:     fmt.Sprintf("process stopped while job was %s", prior),
	}

	c.logger.Warn("Closing interrupted job",
		zap.String("job_id", j.ID.String()),
		zap.String("device_id", j.DeviceID),
		zap.String("prior_state", string(prior)),
	)
}
