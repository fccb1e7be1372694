package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dailyclearing/digest-back/internal/domain"
)

var (
	ErrQueueBackpressure = errors.New("queue backpressure: enqueue buffer is full")
	ErrBatchingClosed    = errors.New("batching producer is closed")
)

type BatchingConfig struct {
	MaxBatchSize       int
	FlushInterval      time.Duration
	FlushTimeout       time.Duration
	QueueCapacity      int
	MaxInFlightBatches int
}

type batchWriter interface {
	EnqueueBatch(ctx context.Context, messages []domain.QueueMessage) error
}

// submission is one caller-blocking enqueue waiting for its batch to land.
type submission struct {
	ctx     context.Context
	message domain.QueueMessage
	result  chan error
}

// BatchingProducer coalesces close-in-time digest job enqueues into batched
// writes against the underlying producer, with bounded buffering so a slow
// broker surfaces as backpressure instead of unbounded memory growth.
type BatchingProducer struct {
	base   Producer
	writer batchWriter

	in         chan submission
	inFlight   chan struct{}
	stop       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
	config     BatchingConfig
	parentDone <-chan struct{}
}

func NewBatchingProducer(parent context.Context, base Producer, cfg BatchingConfig) *BatchingProducer {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 32
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 25 * time.Millisecond
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 3 * time.Second
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 2048
	}
	if cfg.MaxInFlightBatches <= 0 {
		cfg.MaxInFlightBatches = 4
	}

	b := &BatchingProducer{
		base:       base,
		in:         make(chan submission, cfg.QueueCapacity),
		inFlight:   make(chan struct{}, cfg.MaxInFlightBatches),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		config:     cfg,
		parentDone: parent.Done(),
	}
	if writer, ok := base.(batchWriter); ok {
		b.writer = writer
	}

	go b.collect()
	return b
}

func (b *BatchingProducer) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	if ctx == nil {
		ctx = context.Background()
	}

	sub := submission{ctx: ctx, message: message, result: make(chan error, 1)}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrBatchingClosed
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrBatchingClosed
	case b.in <- sub:
	default:
		return ErrQueueBackpressure
	}

	select {
	case err := <-sub.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *BatchingProducer) Close() {
	b.closeOnce.Do(func() {
		close(b.stop)
		<-b.done
	})
}

// collect accumulates submissions until the batch fills or the flush
// interval elapses, whichever comes first.
func (b *BatchingProducer) collect() {
	defer close(b.done)

	pending := make([]submission, 0, b.config.MaxBatchSize)
	timer := time.NewTimer(b.config.FlushInterval)
	drainTimer(timer)
	timerRunning := false

	flush := func(final bool) {
		if len(pending) == 0 {
			return
		}
		batch := append([]submission(nil), pending...)
		pending = pending[:0]
		b.dispatch(batch, final)
	}

	for {
		var timerCh <-chan time.Time
		if timerRunning {
			timerCh = timer.C
		}

		select {
		case <-b.parentDone:
			drainTimer(timer)
			flush(true)
			return
		case <-b.stop:
			drainTimer(timer)
			flush(true)
			return
		case <-timerCh:
			timerRunning = false
			flush(false)
		case sub := <-b.in:
			if sub.ctx.Err() != nil {
				sub.result <- sub.ctx.Err()
				continue
			}
			pending = append(pending, sub)
			if len(pending) == 1 {
				drainTimer(timer)
				timer.Reset(b.config.FlushInterval)
				timerRunning = true
			}
			if len(pending) >= b.config.MaxBatchSize {
				drainTimer(timer)
				timerRunning = false
				flush(false)
			}
		}
	}
}

func (b *BatchingProducer) dispatch(batch []submission, final bool) {
	live := make([]submission, 0, len(batch))
	for _, sub := range batch {
		if err := sub.ctx.Err(); err != nil {
			sub.result <- err
			continue
		}
		live = append(live, sub)
	}
	if len(live) == 0 {
		return
	}

	// Grouping a batch by owner keeps one owner's retries adjacent in the
	// stream; ties break on request time so ordering stays deterministic.
	sort.SliceStable(live, func(i, j int) bool {
		left, right := live[i].message, live[j].message
		if left.OwnerID == right.OwnerID {
			return left.RequestedAt.Before(right.RequestedAt)
		}
		return left.OwnerID < right.OwnerID
	})

	messages := make([]domain.QueueMessage, 0, len(live))
	for _, sub := range live {
		messages = append(messages, sub.message)
	}

	flushCtx := context.Background()
	if !final {
		var cancel context.CancelFunc
		flushCtx, cancel = context.WithTimeout(context.Background(), b.config.FlushTimeout)
		defer cancel()
	}

	select {
	case b.inFlight <- struct{}{}:
	case <-flushCtx.Done():
		for _, sub := range live {
			sub.result <- flushCtx.Err()
		}
		return
	}
	defer func() { <-b.inFlight }()

	var writeErr error
	if b.writer != nil {
		writeErr = b.writer.EnqueueBatch(flushCtx, messages)
	} else {
		for _, message := range messages {
			if err := b.base.Enqueue(flushCtx, message); err != nil {
				writeErr = err
				break
			}
		}
	}

	for _, sub := range live {
		sub.result <- writeErr
	}
}

func drainTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}
