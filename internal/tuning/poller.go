package tuning

import (
	"context"
	"time"
)

// Poller periodically refreshes batches whose fine-tuning job is still in
// flight, so status transitions land even when nobody is reading them.
type Poller struct {
	queue *Queue
	poll  time.Duration
}

// NewPoller creates a Poller over the queue.
// If pollInterval is <= 0, it defaults to 30s.
func NewPoller(queue *Queue, pollInterval time.Duration) *Poller {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &Poller{queue: queue, poll: pollInterval}
}

// Run refreshes pending batches until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if err := p.RunOnce(ctx); err != nil {
			p.queue.logger.Error("batch refresh sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.poll):
		}
	}
}

// RunOnce refreshes every batch with an unfinished provider job.
func (p *Poller) RunOnce(ctx context.Context) error {
	q := p.queue

	q.mu.Lock()
	var pending []string
	for _, e := range q.index {
		if e.Status == StatusPreparing || Terminal(e.Status) {
			continue
		}
		pending = append(pending, e.UUID)
	}
	q.mu.Unlock()

	for _, id := range pending {
		q.mu.Lock()
		b, err := q.readBatchLocked(id)
		if err != nil {
			q.mu.Unlock()
			return err
		}
		if err := q.refreshLocked(ctx, &b); err != nil {
			q.logger.Warn("batch status refresh failed", "uuid", id, "error", err)
		}
		q.mu.Unlock()
	}
	return nil
}
