package worker

import (
	"context"
	"log"
	"time"

	"github.com/dailyclearing/digest-back/internal/domain"
	"github.com/dailyclearing/digest-back/internal/queue"
	"github.com/dailyclearing/digest-back/internal/runner"
)

// Processor drains the job queue and hands each message to a runner.
// Job state transitions are owned by the runner's controller, so the
// processor only acks, logs, and keeps the consume loop alive.
type Processor struct {
	consumer queue.Consumer
	runner   runner.Runner
	logger   *log.Logger
}

func NewProcessor(consumer queue.Consumer, r runner.Runner, logger *log.Logger) *Processor {
	return &Processor{
		consumer: consumer,
		runner:   r,
		logger:   logger,
	}
}

// Start blocks consuming messages until ctx is cancelled.
func (p *Processor) Start(ctx context.Context) error {
	p.logf("worker started")

	for {
		select {
		case <-ctx.Done():
			p.logf("worker stopped: %v", ctx.Err())
			return ctx.Err()
		default:
		}

		if err := p.consumer.Consume(ctx, p.processMessage); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logf("consume error: %v, retrying in 2s", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
	}
}

func (p *Processor) processMessage(ctx context.Context, msg domain.QueueMessage) error {
	started := time.Now()
	p.logf("job %s owner %s attempt %d: starting", msg.JobID, msg.OwnerID, msg.Attempt)

	if err := p.runner.Run(ctx, msg); err != nil {
		p.logf("job %s failed after %s: %v", msg.JobID, time.Since(started).Round(time.Millisecond), err)
		return err
	}

	p.logf("job %s finished in %s", msg.JobID, time.Since(started).Round(time.Millisecond))
	return nil
}

func (p *Processor) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}
