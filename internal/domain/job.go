package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobState represents the lifecycle state of a wipe job.
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateVerifying JobState = "verifying"
	StateSucceeded JobState = "succeeded"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// IsTerminal returns true if the state represents a final state.
func (s JobState) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}

// IsCancellable returns true while the job has not reached verification.
func (s JobState) IsCancellable() bool {
	return s == StatePending || s == StateRunning
}

// Outcome summarises how a terminal job ended.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// FailureKind classifies a terminal failure.
type FailureKind string

const (
	FailureWrite        FailureKind = "write_failure"
	FailureVerification FailureKind = "verification_failed"
	FailureFirmware     FailureKind = "firmware_failure"
	FailureDevice       FailureKind = "device_error"
	FailureInterrupted  FailureKind = "interrupted"
)

// Failure carries the structured detail of a terminal failure.
type Failure struct {
	Kind      FailureKind `json:"kind"`
	PassIndex int         `json:"pass_index"`
	Offset    int64       `json:"offset"`
	Cause     string      `json:"cause"`
}

// Progress is the per-pass progress of a running job.
type Progress struct {
	PassIndex    int   `json:"pass_index"`
	PassCount    int   `json:"pass_count"`
	BytesWritten int64 `json:"bytes_written"`
	TotalBytes   int64 `json:"total_bytes"`
}

// Mismatch is a sampled region whose content did not match the expected pattern.
type Mismatch struct {
	Offset      int64 `json:"offset"`
	FirstByteAt int64 `json:"first_byte_at"`
	Expected    byte  `json:"expected"`
	Found       byte  `json:"found"`
}

// VerificationResult is the outcome of a post-wipe read-back.
type VerificationResult struct {
	Passed                  bool       `json:"passed"`
	SampledOffsets          []int64    `json:"sampled_offsets"`
	SampleSize              int        `json:"sample_size"`
	RecoveredPlaintextFound bool       `json:"recovered_plaintext_found"`
	Mismatches              []Mismatch `json:"mismatches,omitempty"`

	// Entropy (bits per byte) and ChiSquare over the sampled bytes; set only when the
	// terminal pass is random.
	Entropy    float64   `json:"entropy,omitempty"`
	ChiSquare  float64   `json:"chi_square,omitempty"`
	LowEntropy bool      `json:"low_entropy,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

// Job is a wipe job throughout its lifecycle.
type Job struct {
	ID       uuid.UUID      `json:"id"`
	DeviceID string         `json:"device_id"`
	MethodID string         `json:"method_id"`
	Device   DeviceSnapshot `json:"device"`
	State    JobState       `json:"state"`
	Progress Progress       `json:"progress"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`

	Outcome        Outcome             `json:"outcome,omitempty"`
	PartiallyWiped bool                `json:"partially_wiped"`
	Attempts       int                 `json:"attempts"`
	PassesExecuted int                 `json:"passes_executed"`
	Verification   *VerificationResult `json:"verification,omitempty"`
	Failure        *Failure            `json:"failure,omitempty"`
	Certificate    *Certificate        `json:"certificate,omitempty"`

	// Seed derives the random-pattern keystream; hex encoded.
	Seed string `json:"seed"`
}

// Clone returns a deep copy safe to hand out of the coordinator.
func (j *Job) Clone() *Job {
	c := *j
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	if j.Verification != nil {
		v := *j.Verification
		v.SampledOffsets = append([]int64(nil), j.Verification.SampledOffsets...)
		v.Mismatches = append([]Mismatch(nil), j.Verification.Mismatches...)
		c.Verification = &v
	}
	if j.Failure != nil {
		f := *j.Failure
		c.Failure = &f
	}
	if j.Certificate != nil {
		c.Certificate = j.Certificate.Clone()
	}
	return &c
}

// Certifiable reports whether a certificate may be generated for the job.
// Write failures and cancellations never produced a verified data state.
func (j *Job) Certifiable() bool {
	switch j.State {
	case StateSucceeded:
		return j.Verification != nil && j.Verification.Passed
	case StateFailed:
		return j.Verification != nil && j.Failure != nil && j.Failure.Kind == FailureVerification
	}
	return false
}

// JobStatus is the polling view of a job used by progress bars.
type JobStatus struct {
	JobID          uuid.UUID `json:"job_id"`
	State          JobState  `json:"state"`
	PassIndex      int       `json:"pass_index"`
	PassCount      int       `json:"pass_count"`
	BytesWritten   int64     `json:"bytes_written"`
	TotalBytes     int64     `json:"total_bytes"`
	PartiallyWiped bool      `json:"partially_wiped"`
	Failure        *Failure  `json:"failure,omitempty"`
}

// Status projects the job into its polling view.
func (j *Job) Status() JobStatus {
	return JobStatus{
		JobID:          j.ID,
		State:          j.State,
		PassIndex:      j.Progress.PassIndex,
		PassCount:      j.Progress.PassCount,
		BytesWritten:   j.Progress.BytesWritten,
		TotalBytes:     j.Progress.TotalBytes,
		PartiallyWiped: j.PartiallyWiped,
		Failure:        j.Failure,
	}
}

// StartJobRequest is an incoming wipe request.
type StartJobRequest struct {
	DeviceID          string `json:"device_id" binding:"required"`
	MethodID          string `json:"method_id" binding:"required"`
	AllowSystemVolume bool   `json:"allow_system_volume"`
}

// StartJobResponse is returned after a job is accepted.
type StartJobResponse struct {
	JobID uuid.UUID `json:"job_id"`
	State JobState  `json:"state"`
}

// JobEvent is published on every job state transition.
type JobEvent struct {
	JobID          uuid.UUID `json:"job_id"`
	DeviceID       string    `json:"device_id"`
	MethodID       string    `json:"method_id"`
	State          JobState  `json:"state"`
	PartiallyWiped bool      `json:"partially_wiped"`
	Failure        *Failure  `json:"failure,omitempty"`
	ContentHash    string    `json:"content_hash,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// EventMessage wraps a JobEvent received from the broker with its acknowledgement callbacks.
type EventMessage struct {
	Event *JobEvent
	Ack   func() error
	Nack  func(requeue bool) error
}
