package pool

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
	"github.com/TheShiveshNetwork/sayonara/internal/metrics"
)

// EventHandler processes one job event. skipped reports events that needed no work.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev *domain.JobEvent) (skipped bool, err error)
}

// WorkerPool manages a fixed-size pool of goroutines that process job events.
type WorkerPool struct {
	size    int
	events  <-chan *domain.EventMessage
	handler EventHandler
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewWorkerPool creates a new fixed-size worker pool.
func NewWorkerPool(size int, events <-chan *domain.EventMessage, handler EventHandler, logger *zap.Logger) *WorkerPool {
	return &WorkerPool{
		size:    size,
		events:  events,
		handler: handler,
		logger:  logger,
	}
}

// Start launches all worker goroutines. Call Stop to wait for them to finish.
func (p *WorkerPool) Start(ctx context.Context) {
	p.logger.Info("Starting worker pool", zap.Int("pool_size", p.size))

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop waits for all workers to finish their current event and exit.
func (p *WorkerPool) Stop() {
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	p.logger.Debug("Worker started", zap.Int("worker_id", id))

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("Worker shutting down", zap.Int("worker_id", id))
			return
		case msg, ok := <-p.events:
			if !ok {
				p.logger.Debug("Event channel closed", zap.Int("worker_id", id))
				return
			}
			p.process(ctx, id, msg)
		}
	}
}

// process handles one message. A panic in the handler nacks the message and keeps the worker alive.
func (p *WorkerPool) process(ctx context.Context, id int, msg *domain.EventMessage) {
	ev := msg.Event

	metrics.AnchorWorkersActive.Inc()
	defer metrics.AnchorWorkersActive.Dec()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Worker panic recovered",
				zap.Int("worker_id", id),
				zap.String("job_id", ev.JobID.String()),
				zap.Any("panic", r),
			)
			if nackErr := msg.Nack(false); nackErr != nil {
				p.logger.Error("Failed to NACK message", zap.Error(nackErr))
			}
		}
	}()

	p.logger.Info("Worker processing event",
		zap.Int("worker_id", id),
		zap.String("job_id", ev.JobID.String()),
		zap.String("state", string(ev.State)),
	)

	skipped, err := p.handler.HandleEvent(ctx, ev)
	if err != nil {
		p.logger.Error("Event handling failed",
			zap.Int("worker_id", id),
			zap.String("job_id", ev.JobID.String()),
			zap.Error(err),
		)
		// Nack without requeue: failed events go to the DLQ and can be re-driven
		// once the ledger is reachable again.
		if nackErr := msg.Nack(false); nackErr != nil {
			p.logger.Error("Failed to NACK message",
				zap.String("job_id", ev.JobID.String()),
				zap.Error(nackErr),
			)
		}
		return
	}

	if skipped {
		p.logger.Debug("Event skipped",
			zap.Int("worker_id", id),
			zap.String("job_id", ev.JobID.String()),
		)
	}

	if ackErr := msg.Ack(); ackErr != nil {
		p.logger.Error("Failed to ACK message",
			zap.String("job_id", ev.JobID.String()),
			zap.Error(ackErr),
		)
	}
}
