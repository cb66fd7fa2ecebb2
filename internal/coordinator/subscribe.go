package coordinator

import (
	"github.com/google/uuid"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
)

const subscriberBuffer = 16

// Subscribe streams status updates of a job. The channel is closed after the
// terminal status is delivered; cancel stops the stream early.
func (c *Coordinator) Subscribe(id uuid.UUID) (<-chan domain.JobStatus, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.jobs[id]
	if !ok {
		return nil, nil, domain.ErrJobNotFound
	}

	ch := make(chan domain.JobStatus, subscriberBuffer)
	ch <- e.job.Status()
	if e.job.State.IsTerminal() {
		close(ch)
		return ch, func() {}, nil
	}
	e.subs = append(e.subs, ch)

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range e.subs {
			if s == ch {
				e.subs = append(e.subs[:i], e.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel, nil
}

// notify offers the current status to every subscriber. A slow subscriber
// misses intermediate updates, never the final one. Callers hold c.mu.
func (c *Coordinator) notify(e *jobEntry) {
	status := e.job.Status()
	for _, ch := range e.subs {
		select {
		case ch <- status:
		default:
			if status.State.IsTerminal() {
				// Make room for the terminal status.
				select {
				case <-ch:
				default:
				}
				ch <- status
			}
		}
	}
}
