package queue

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/dailyclearing/digest-back/internal/domain"
)

// LocalQueue is an in-process channel queue used when Redis is not
// configured. Digest jobs dispatched through it never leave the process,
// so it only suits the local runner path.
type LocalQueue struct {
	jobs        chan domain.QueueMessage
	maxAttempts int
	logger      *log.Logger

	dlqMu sync.Mutex
	dlq   []domain.QueueMessage
}

func NewLocalQueue(bufferSize, maxAttempts int, logger *log.Logger) *LocalQueue {
	if bufferSize <= 0 {
		bufferSize = 512
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &LocalQueue{
		jobs:        make(chan domain.QueueMessage, bufferSize),
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

func (q *LocalQueue) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.jobs <- message:
		return nil
	}
}

func (q *LocalQueue) EnqueueBatch(ctx context.Context, messages []domain.QueueMessage) error {
	for _, message := range messages {
		if err := q.Enqueue(ctx, message); err != nil {
			return err
		}
	}
	return nil
}

func (q *LocalQueue) Consume(ctx context.Context, handler func(context.Context, domain.QueueMessage) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case message := <-q.jobs:
			if err := handler(ctx, message); err != nil {
				q.retryOrPark(ctx, message, err)
			}
		}
	}
}

// retryOrPark requeues a failed digest job with linear backoff, parking it
// in the in-memory DLQ once attempts are exhausted.
func (q *LocalQueue) retryOrPark(ctx context.Context, message domain.QueueMessage, cause error) {
	message.Attempt++
	if message.Attempt >= q.maxAttempts {
		q.dlqMu.Lock()
		q.dlq = append(q.dlq, message)
		q.dlqMu.Unlock()
		if q.logger != nil {
			q.logger.Printf("local queue moved message to DLQ job_id=%s err=%v", message.JobID, cause)
		}
		return
	}

	delay := time.Duration(message.Attempt) * 500 * time.Millisecond
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			select {
			case <-ctx.Done():
			case q.jobs <- message:
			}
		}
	}()
}

func (q *LocalQueue) DLQSize() int {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	return len(q.dlq)
}
