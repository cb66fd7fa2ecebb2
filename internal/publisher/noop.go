package publisher

import (
	"context"

	"go.uber.org/zap"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
)

type noopPublisher struct {
	logger *zap.Logger
}

// NewNoopPublisher returns a Publisher that only logs. Used when no broker is configured.
func NewNoopPublisher(logger *zap.Logger) Publisher {
	return &noopPublisher{logger: logger}
}

func (p *noopPublisher) Publish(_ context.Context, ev *domain.JobEvent) error {
	p.logger.Debug("Job event",
		zap.String("job_id", ev.JobID.String()),
		zap.String("state", string(ev.State)),
	)
	return nil
}

func (p *noopPublisher) Close() error { return nil }
