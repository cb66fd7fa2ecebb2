package verify_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TheShiveshNetwork/sayonara/internal/blockdev/mock"
	"github.com/TheShiveshNetwork/sayonara/internal/domain"
	"github.com/TheShiveshNetwork/sayonara/internal/engine"
	"github.com/TheShiveshNetwork/sayonara/internal/verify"
)

var seed = []byte("verification-seed-0123456789abc")

var testConfig = verify.Config{SampleSize: 4096, MinSamples: 8, MaxSamples: 64, Stride: 1 << 20}

func wipe(t *testing.T, capacity int64, method *domain.Method) (*mock.Device, verify.Request) {
	t.Helper()
	dev := mock.NewDevice(capacity)
	req := engine.ExecuteRequest{
		JobID:  uuid.New(),
		Device: &domain.Device{ID: "sdv", CapacityBytes: capacity, Class: domain.ClassHDD},
		Method: method,
		Seed:   seed,
	}
	o := engine.NewOverwriter(engine.Config{BlockSize: 64 * 1024}, nil, zap.NewNop())
	if _, err := o.Execute(context.Background(), req, dev, nil); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	return dev, verify.Request{JobID: req.JobID, Device: req.Device, Method: method, Seed: seed}
}

func dod() *domain.Method {
	return &domain.Method{ID: "dod-5220", Passes: []domain.PassSpec{
		{Kind: domain.PatternZero},
		{Kind: domain.PatternComplement, Index: 1},
		{Kind: domain.PatternRandom, Index: 2},
	}}
}

// Test: a correctly wiped device always passes.
func TestVerify_PassesAfterWipe(t *testing.T) {
	dev, req := wipe(t, 8<<20+1234, dod())

	res, err := verify.New(testConfig, zap.NewNop()).Verify(context.Background(), req, dev)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.Passed || res.RecoveredPlaintextFound {
		t.Fatalf("expected pass, got %+v", res.Mismatches)
	}
	if len(res.SampledOffsets) < testConfig.MinSamples+2 {
		t.Errorf("expected at least %d samples, got %d", testConfig.MinSamples+2, len(res.SampledOffsets))
	}
	if dev.CacheDrops != 1 {
		t.Errorf("expected the cache to be dropped once, got %d", dev.CacheDrops)
	}
	if len(dev.WriteLog()) != 3*129 {
		t.Errorf("verification must not write; write log has %d entries", len(dev.WriteLog()))
	}
}

// Test: one flipped byte inside a sample fails verification and is located exactly.
func TestVerify_DetectsSingleByte(t *testing.T) {
	capacity := int64(4 << 20)
	dev, req := wipe(t, capacity, dod())
	dev.Corrupt(capacity - 1)

	res, err := verify.New(testConfig, zap.NewNop()).Verify(context.Background(), req, dev)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Passed {
		t.Fatal("expected verification to fail")
	}
	if !res.RecoveredPlaintextFound {
		t.Error("expected RecoveredPlaintextFound")
	}
	if len(res.Mismatches) != 1 || res.Mismatches[0].FirstByteAt != capacity-1 {
		t.Errorf("unexpected mismatches %+v", res.Mismatches)
	}
}

// Test: data left behind by a skipped region is found.
func TestVerify_DetectsLeftoverData(t *testing.T) {
	capacity := int64(1 << 20)
	method := &domain.Method{ID: "quick", Passes: []domain.PassSpec{{Kind: domain.PatternZero}}}
	dev, req := wipe(t, capacity, method)
	dev.Poke(0, []byte("%PDF-1.7 confidential"))

	res, err := verify.New(testConfig, zap.NewNop()).Verify(context.Background(), req, dev)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Passed {
		t.Fatal("expected verification to fail on leftover plaintext")
	}
	if res.Mismatches[0].Offset != 0 || res.Mismatches[0].Found != '%' {
		t.Errorf("unexpected mismatch %+v", res.Mismatches[0])
	}
}

// Test: a device smaller than one sample is read whole.
func TestVerify_TinyDevice(t *testing.T) {
	method := &domain.Method{ID: "random", Passes: []domain.PassSpec{{Kind: domain.PatternRandom}}}
	dev, req := wipe(t, 1000, method)

	res, err := verify.New(testConfig, zap.NewNop()).Verify(context.Background(), req, dev)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.Passed || res.SampleSize != 1000 || len(res.SampledOffsets) != 1 {
		t.Errorf("unexpected result: passed=%v size=%d offsets=%v", res.Passed, res.SampleSize, res.SampledOffsets)
	}
}

func TestSampleOffsets(t *testing.T) {
	capacity := int64(64 << 20)
	size := int64(4096)
	offsets := verify.SampleOffsets(capacity, size, testConfig, seed)

	if offsets[0] != 0 || offsets[len(offsets)-1] != capacity-size {
		t.Errorf("expected start and end samples, got %d..%d", offsets[0], offsets[len(offsets)-1])
	}
	// 64 MiB / 1 MiB stride = 64 interior samples, the configured maximum.
	if len(offsets) != 66 {
		t.Errorf("expected 66 samples, got %d", len(offsets))
	}
	for i := 1; i < len(offsets); i++ {
		if offsets[i] <= offsets[i-1] {
			t.Fatalf("offsets not strictly increasing at %d", i)
		}
	}
	for _, off := range offsets[1 : len(offsets)-1] {
		if off%512 != 0 {
			t.Errorf("interior offset %d not sector aligned", off)
		}
	}

	again := verify.SampleOffsets(capacity, size, testConfig, seed)
	for i := range offsets {
		if offsets[i] != again[i] {
			t.Fatal("sample layout must be deterministic for a seed")
		}
	}
	other := verify.SampleOffsets(capacity, size, testConfig, []byte("other"))
	same := true
	for i := range offsets {
		if offsets[i] != other[i] {
			same = false
		}
	}
	if same {
		t.Error("different seeds should jitter differently")
	}
}

// Test: a random terminal pass reports its entropy; a structured remnant is flagged as low entropy.
func TestVerify_RandomTerminalEntropy(t *testing.T) {
	dev, req := wipe(t, 4<<20, dod())
	res, err := verify.New(testConfig, zap.NewNop()).Verify(context.Background(), req, dev)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Entropy < 7.5 || res.LowEntropy {
		t.Errorf("expected high entropy after a random pass, got %f (low=%v)", res.Entropy, res.LowEntropy)
	}

	// The device still holds the zero pass while the method claims a random finish.
	zeroDev, _ := wipe(t, 4<<20, &domain.Method{ID: "quick", Passes: []domain.PassSpec{{Kind: domain.PatternZero}}})
	res, err = verify.New(testConfig, zap.NewNop()).Verify(context.Background(), req, zeroDev)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Passed || !res.LowEntropy {
		t.Errorf("expected a low-entropy failure, got passed=%v low=%v entropy=%f", res.Passed, res.LowEntropy, res.Entropy)
	}
}

// Test: non-random terminal passes are not judged statistically.
func TestVerify_ZeroTerminalSkipsEntropy(t *testing.T) {
	dev, req := wipe(t, 1<<20, &domain.Method{ID: "quick", Passes: []domain.PassSpec{{Kind: domain.PatternZero}}})
	res, err := verify.New(testConfig, zap.NewNop()).Verify(context.Background(), req, dev)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.Passed || res.LowEntropy || res.Entropy != 0 {
		t.Errorf("expected a plain pass, got passed=%v low=%v entropy=%f", res.Passed, res.LowEntropy, res.Entropy)
	}
}
