package verify

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TheShiveshNetwork/sayonara/internal/blockdev"
	"github.com/TheShiveshNetwork/sayonara/internal/domain"
	"github.com/TheShiveshNetwork/sayonara/internal/engine"
)

const sectorSize = 512

// Config controls sampling density.
type Config struct {
	SampleSize int
	MinSamples int
	MaxSamples int
	// Stride is the capacity covered by one interior sample before MaxSamples applies.
	Stride int64
}

// Request identifies what should be on the device.
type Request struct {
	JobID  uuid.UUID
	Device *domain.Device
	Method *domain.Method
	Seed   []byte
}

// Verifier reads back sampled regions and compares them with the terminal pass pattern.
type Verifier struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// New creates a verifier.
func New(cfg Config, logger *zap.Logger) *Verifier {
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 4096
	}
	if cfg.Stride <= 0 {
		cfg.Stride = 1 << 30
	}
	if cfg.MaxSamples < cfg.MinSamples {
		cfg.MaxSamples = cfg.MinSamples
	}
	return &Verifier{cfg: cfg, logger: logger, now: time.Now}
}

// Verify reads every sample from dev, which must be a handle opened after the overwrite
// finished. It never writes. A mismatch is reported in the result, not as an error; errors
// mean the read-back itself could not be done.
func (v *Verifier) Verify(ctx context.Context, req Request, dev blockdev.Device) (*domain.VerificationResult, error) {
	capacity := req.Device.CapacityBytes
	if capacity <= 0 {
		return nil, fmt.Errorf("%s: %w", req.Device.ID, domain.ErrInvalidDevice)
	}
	patterns, err := engine.BuildPatterns(req.Method, req.Seed)
	if err != nil {
		return nil, err
	}
	terminal := patterns[len(patterns)-1]

	if dropper, ok := dev.(blockdev.CacheDropper); ok {
		if err := dropper.DropCache(); err != nil {
			v.logger.Warn("Could not drop page cache before read-back",
				zap.String("device_id", req.Device.ID),
				zap.Error(err),
			)
		}
	}

	size := v.cfg.SampleSize
	if int64(size) > capacity {
		size = int(capacity)
	}
	offsets := SampleOffsets(capacity, int64(size), v.cfg, req.Seed)

	result := &domain.VerificationResult{
		Passed:         true,
		SampledOffsets: offsets,
		SampleSize:     size,
	}
	got := make([]byte, size)
	want := make([]byte, size)
	randomTerminal := req.Method.Passes[len(req.Method.Passes)-1].Kind == domain.PatternRandom
	var hist histogram
	for _, off := range offsets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := dev.ReadAt(got, off)
		if err != nil && !(errors.Is(err, io.EOF) && n == size) {
			return nil, fmt.Errorf("read sample at %d: %w", off, err)
		}
		if randomTerminal {
			hist.add(got)
		}
		terminal.Fill(want, off)
		if i := firstDiff(got, want); i >= 0 {
			result.Passed = false
			result.RecoveredPlaintextFound = true
			result.Mismatches = append(result.Mismatches, domain.Mismatch{
				Offset:      off,
				FirstByteAt: off + int64(i),
				Expected:    want[i],
				Found:       got[i],
			})
		}
	}
	if randomTerminal {
		result.Entropy = hist.entropy()
		result.ChiSquare = hist.chiSquare()
		if hist.lowEntropy() {
			result.LowEntropy = true
			result.Passed = false
		}
	}
	result.CheckedAt = v.now().UTC()

	v.logger.Info("Verification finished",
		zap.String("job_id", req.JobID.String()),
		zap.String("device_id", req.Device.ID),
		zap.Bool("passed", result.Passed),
		zap.Int("samples", len(offsets)),
		zap.Int("mismatches", len(result.Mismatches)),
		zap.Float64("entropy", result.Entropy),
	)
	return result, nil
}

// SampleOffsets returns the start, the end and N interior sample offsets, sorted and
// de-duplicated. Interior points are evenly spaced, then jittered within their slot by a
// seed-derived amount so the layout is reproducible for a job but not predictable across jobs.
func SampleOffsets(capacity, size int64, cfg Config, seed []byte) []int64 {
	if capacity <= 0 || size <= 0 {
		return nil
	}
	if size > capacity {
		size = capacity
	}
	last := capacity - size

	stride := cfg.Stride
	if stride <= 0 {
		stride = 1 << 30
	}
	n := int(capacity / stride)
	if n < cfg.MinSamples {
		n = cfg.MinSamples
	}
	if n > cfg.MaxSamples {
		n = cfg.MaxSamples
	}

	offsets := []int64{0, last}
	if n > 0 && last > 0 {
		slot := last / int64(n+1)
		for i := 1; i <= n; i++ {
			base := slot * int64(i)
			// Keeping the jitter a sector short of the slot keeps aligned offsets distinct.
			var jitter int64
			if span := slot - sectorSize; span > 0 {
				jitter = int64(seedUint64(seed, i) % uint64(span))
			}
			off := (base + jitter) / sectorSize * sectorSize
			if off > last {
				off = last
			}
			offsets = append(offsets, off)
		}
	}

	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	out := make([]int64, 0, len(offsets))
	for _, off := range offsets {
		if len(out) == 0 || off != out[len(out)-1] {
			out = append(out, off)
		}
	}
	return out
}

func seedUint64(seed []byte, i int) uint64 {
	h := sha256.New()
	h.Write([]byte("sayonara/sample/v1"))
	h.Write(seed)
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], uint64(i))
	h.Write(idx[:])
	return binary.BigEndian.Uint64(h.Sum(nil))
}

func firstDiff(a, b []byte) int {
	for i := range a {
		if a[i] != b[i] {
			return i
		}
	}
	return -1
}
