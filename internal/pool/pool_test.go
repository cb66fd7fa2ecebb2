package pool_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
	"github.com/TheShiveshNetwork/sayonara/internal/pool"
)

type stubHandler struct {
	fn    func(ctx context.Context, ev *domain.JobEvent) (bool, error)
	calls atomic.Int32
}

func (h *stubHandler) HandleEvent(ctx context.Context, ev *domain.JobEvent) (bool, error) {
	h.calls.Add(1)
	if h.fn != nil {
		return h.fn(ctx, ev)
	}
	return false, nil
}

func newTestPool(t *testing.T, size int, h pool.EventHandler) (chan *domain.EventMessage, *pool.WorkerPool, context.CancelFunc) {
	t.Helper()

	ch := make(chan *domain.EventMessage, 16)
	ctx, cancel := context.WithCancel(context.Background())
	wp := pool.NewWorkerPool(size, ch, h, zap.NewNop())
	wp.Start(ctx)

	return ch, wp, cancel
}

func sendEvent(ch chan<- *domain.EventMessage, state domain.JobState, acked, nacked *atomic.Int32) {
	ch <- &domain.EventMessage{
		Event: &domain.JobEvent{
			JobID:       uuid.New(),
			DeviceID:    "sdb",
			State:       state,
			ContentHash: "abc",
			OccurredAt:  time.Now(),
		},
		Ack: func() error {
			acked.Add(1)
			return nil
		},
		Nack: func(requeue bool) error {
			nacked.Add(1)
			return nil
		},
	}
}

// waitFor polls cond until it holds or a second passes.
func waitFor(cond func() bool) {
	deadline := time.Now().Add(time.Second)
	for !cond() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

// Test: pool processes events and ACKs them.
func TestPool_ProcessAndAck(t *testing.T) {
	h := &stubHandler{}
	ch, wp, cancel := newTestPool(t, 2, h)

	var acked, nacked atomic.Int32
	for i := 0; i < 5; i++ {
		sendEvent(ch, domain.StateSucceeded, &acked, &nacked)
	}

	waitFor(func() bool { return acked.Load() == 5 })
	cancel()
	wp.Stop()

	if acked.Load() != 5 {
		t.Errorf("expected 5 ACKs, got %d", acked.Load())
	}
	if nacked.Load() != 0 {
		t.Errorf("expected 0 NACKs, got %d", nacked.Load())
	}
}

// Test: pool NACKs events whose handler fails.
func TestPool_NacksOnFailure(t *testing.T) {
	h := &stubHandler{fn: func(context.Context, *domain.JobEvent) (bool, error) {
		return false, domain.ErrAnchorSubmissionFailed
	}}
	ch, wp, cancel := newTestPool(t, 1, h)

	var acked, nacked atomic.Int32
	sendEvent(ch, domain.StateSucceeded, &acked, &nacked)

	waitFor(func() bool { return nacked.Load() == 1 })
	cancel()
	wp.Stop()

	if nacked.Load() != 1 {
		t.Errorf("expected 1 NACK, got %d", nacked.Load())
	}
	if acked.Load() != 0 {
		t.Errorf("expected 0 ACKs, got %d", acked.Load())
	}
}

// Test: skipped events are still ACKed so they leave the queue.
func TestPool_SkippedIsAcked(t *testing.T) {
	h := &stubHandler{fn: func(context.Context, *domain.JobEvent) (bool, error) {
		return true, nil
	}}
	ch, wp, cancel := newTestPool(t, 1, h)

	var acked, nacked atomic.Int32
	sendEvent(ch, domain.StateCancelled, &acked, &nacked)

	waitFor(func() bool { return acked.Load() == 1 })
	cancel()
	wp.Stop()

	if acked.Load() != 1 || nacked.Load() != 0 {
		t.Errorf("expected 1 ACK and 0 NACKs, got %d and %d", acked.Load(), nacked.Load())
	}
}

// Test: a panicking handler NACKs and the worker keeps serving.
func TestPool_RecoversPanic(t *testing.T) {
	var n atomic.Int32
	h := &stubHandler{fn: func(context.Context, *domain.JobEvent) (bool, error) {
		if n.Add(1) == 1 {
			panic("boom")
		}
		return false, nil
	}}
	ch, wp, cancel := newTestPool(t, 1, h)

	var acked, nacked atomic.Int32
	sendEvent(ch, domain.StateSucceeded, &acked, &nacked)
	sendEvent(ch, domain.StateSucceeded, &acked, &nacked)

	waitFor(func() bool { return acked.Load()+nacked.Load() == 2 })
	cancel()
	wp.Stop()

	if nacked.Load() != 1 || acked.Load() != 1 {
		t.Errorf("expected 1 NACK and 1 ACK, got %d and %d", nacked.Load(), acked.Load())
	}
}

// Test: pool shuts down gracefully when the channel closes.
func TestPool_ChannelClosed(t *testing.T) {
	h := &stubHandler{}
	ch, wp, cancel := newTestPool(t, 4, h)
	defer cancel()

	var acked, nacked atomic.Int32
	sendEvent(ch, domain.StateSucceeded, &acked, &nacked)
	close(ch)

	done := make(chan struct{})
	go func() {
		wp.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool did not stop after the channel closed")
	}
	if acked.Load() != 1 {
		t.Errorf("expected the buffered event to be processed, got %d ACKs", acked.Load())
	}
}
