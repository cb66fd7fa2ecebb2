package engine

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/TheShiveshNetwork/sayonara/internal/blockdev"
	"github.com/TheShiveshNetwork/sayonara/internal/domain"
	"github.com/TheShiveshNetwork/sayonara/internal/metrics"
)

// Config tunes the overwrite loop.
type Config struct {
	BlockSize        int
	ProgressInterval time.Duration
	// MaxBytesPerSec caps write bandwidth. Zero means unlimited.
	MaxBytesPerSec float64
}

// ProgressFunc receives progress within the current pass.
type ProgressFunc func(passIndex int, bytesWritten, totalBytes int64)

// ExecuteRequest binds one overwrite run to a device and method.
type ExecuteRequest struct {
	JobID  uuid.UUID
	Device *domain.Device
	Method *domain.Method
	Seed   []byte
}

// PassResult describes what the overwrite actually did.
type PassResult struct {
	PassesCompleted int
	BlocksPerPass   []int64
	LastBlockSize   int
	BytesWritten    int64

	// Set when the context was cancelled between blocks; PassIndex and Offset
	// locate the first byte that was not written.
	Cancelled bool
	PassIndex int
	Offset    int64
}

// Overwriter streams method passes onto a device.
type Overwriter struct {
	cfg       Config
	sanitizer Sanitizer
	buffers   *bufferPool
	logger    *zap.Logger
}

// NewOverwriter creates an overwriter. sanitizer may be nil when no method uses a firmware step.
func NewOverwriter(cfg Config, sanitizer Sanitizer, logger *zap.Logger) *Overwriter {
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = 1 << 20
	}
	return &Overwriter{
		cfg:       cfg,
		sanitizer: sanitizer,
		buffers:   newBufferPool(cfg.BlockSize),
		logger:    logger,
	}
}

// BlockSize returns the configured write block size.
func (o *Overwriter) BlockSize() int {
	return o.cfg.BlockSize
}

// Execute runs the firmware step (if any) and every pass of the method, in order,
// from offset 0 to the device capacity.
func (o *Overwriter) Execute(ctx context.Context, req ExecuteRequest, dev blockdev.Device, onProgress ProgressFunc) (*PassResult, error) {
	capacity := req.Device.CapacityBytes
	if capacity <= 0 {
		return nil, fmt.Errorf("%s: %w", req.Device.ID, domain.ErrInvalidDevice)
	}
	patterns, err := BuildPatterns(req.Method, req.Seed)
	if err != nil {
		return nil, err
	}
	if onProgress == nil {
		onProgress = func(int, int64, int64) {}
	}

	log := o.logger.With(
		zap.String("job_id", req.JobID.String()),
		zap.String("device_id", req.Device.ID),
		zap.String("method_id", req.Method.ID),
	)

	if req.Method.Firmware != domain.FirmwareNone {
		if o.sanitizer == nil {
			return nil, fmt.Errorf("%w: no sanitizer configured for %s", ErrFirmwareSanitize, req.Method.Firmware)
		}
		// A sanitize already sent to the controller cannot be aborted safely.
		if err := o.sanitizer.Sanitize(context.WithoutCancel(ctx), req.Device, req.Method.Firmware); err != nil {
			if !errors.Is(err, ErrFirmwareSanitize) {
				err = fmt.Errorf("%w: %v", ErrFirmwareSanitize, err)
			}
			return nil, err
		}
		log.Info("Firmware sanitize complete", zap.String("op", string(req.Method.Firmware)))
	}

	var bandwidth *rate.Limiter
	if o.cfg.MaxBytesPerSec > 0 {
		bandwidth = rate.NewLimiter(rate.Limit(o.cfg.MaxBytesPerSec), o.cfg.BlockSize)
	}

	result := &PassResult{}
	bufPtr := o.buffers.get()
	defer o.buffers.put(bufPtr)
	buf := *bufPtr

	for pass, pattern := range patterns {
		start := time.Now()
		log.Info("Starting pass",
			zap.Int("pass", pass),
			zap.String("pattern", string(req.Method.Passes[pass].Kind)),
		)

		progress := rate.NewLimiter(rate.Every(o.cfg.ProgressInterval), 1)
		var blocks int64
		var off int64
		for off < capacity {
			if ctx.Err() != nil {
				_ = dev.Sync()
				result.Cancelled = true
				result.PassIndex = pass
				result.Offset = off
				log.Info("Overwrite cancelled", zap.Int("pass", pass), zap.Int64("offset", off))
				return result, nil
			}

			n := o.cfg.BlockSize
			if rem := capacity - off; rem < int64(n) {
				n = int(rem)
			}
			block := buf[:n]
			pattern.Fill(block, off)

			if bandwidth != nil {
				if err := bandwidth.WaitN(ctx, n); err != nil {
					if ctx.Err() != nil {
						continue
					}
					return result, fmt.Errorf("bandwidth limiter: %w", err)
				}
			}

			written, err := dev.WriteAt(block, off)
			if err == nil && written < n {
				err = io.ErrShortWrite
			}
			if written > 0 {
				result.BytesWritten += int64(written)
				metrics.BytesWrittenTotal.Add(float64(written))
			}
			if err != nil {
				log.Error("Block write failed",
					zap.Int("pass", pass),
					zap.Int64("offset", off+int64(written)),
					zap.Error(err),
				)
				return result, &domain.WriteFailure{PassIndex: pass, Offset: off + int64(written), Cause: err}
			}

			off += int64(n)
			blocks++
			result.LastBlockSize = n
			if off == capacity || progress.Allow() {
				onProgress(pass, off, capacity)
			}
		}

		if err := dev.Sync(); err != nil {
			return result, &domain.WriteFailure{PassIndex: pass, Offset: capacity, Cause: fmt.Errorf("sync: %w", err)}
		}
		result.BlocksPerPass = append(result.BlocksPerPass, blocks)
		result.PassesCompleted++
		metrics.PassDuration.WithLabelValues(req.Method.ID).Observe(time.Since(start).Seconds())

		log.Info("Pass complete",
			zap.Int("pass", pass),
			zap.Int64("blocks", blocks),
			zap.Duration("elapsed", time.Since(start)),
		)
	}

	return result, nil
}

// IsFirmwareFailure reports whether err came from the firmware sanitize step.
func IsFirmwareFailure(err error) bool {
	return errors.Is(err, ErrFirmwareSanitize)
}

// DecodeSeed parses a hex job seed.
func DecodeSeed(s string) ([]byte, error) {
	seed, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	return seed, nil
}
