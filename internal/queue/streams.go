package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dailyclearing/digest-back/internal/domain"
)

type StreamsConfig struct {
	Addr        string
	Password    string
	DB          int
	Stream      string
	DLQStream   string
	Group       string
	Consumer    string
	MaxAttempts int
}

// StreamsQueue carries digest jobs over a Redis Stream with a consumer
// group, so the API process and worker processes can run separately.
// Poison messages move to a dead-letter stream after MaxAttempts.
type StreamsQueue struct {
	client      *redis.Client
	stream      string
	dlqStream   string
	group       string
	consumer    string
	maxAttempts int
}

func NewStreamsQueue(ctx context.Context, cfg StreamsConfig) (*StreamsQueue, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = "digest_jobs"
	}
	if cfg.DLQStream == "" {
		cfg.DLQStream = "digest_jobs_dlq"
	}
	if cfg.Group == "" {
		cfg.Group = "digest_workers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "api-1"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	queue := &StreamsQueue{
		client:      client,
		stream:      cfg.Stream,
		dlqStream:   cfg.DLQStream,
		group:       cfg.Group,
		consumer:    cfg.Consumer,
		maxAttempts: cfg.MaxAttempts,
	}
	if err := queue.ensureGroup(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return queue, nil
}

func (q *StreamsQueue) Close() error {
	return q.client.Close()
}

func (q *StreamsQueue) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: encodeStreamMessage(message),
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue to stream: %w", err)
	}
	return nil
}

func (q *StreamsQueue) EnqueueBatch(ctx context.Context, messages []domain.QueueMessage) error {
	if len(messages) == 0 {
		return nil
	}

	pipeline := q.client.Pipeline()
	for _, message := range messages {
		pipeline.XAdd(ctx, &redis.XAddArgs{
			Stream: q.stream,
			Values: encodeStreamMessage(message),
		})
	}
	if _, err := pipeline.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue batch to stream: %w", err)
	}
	return nil
}

func (q *StreamsQueue) Consume(ctx context.Context, handler func(context.Context, domain.QueueMessage) error) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("xreadgroup: %w", err)
		}

		for _, stream := range streams {
			for _, item := range stream.Messages {
				q.handleItem(ctx, item, handler)
			}
		}
	}
}

func (q *StreamsQueue) handleItem(
	ctx context.Context,
	item redis.XMessage,
	handler func(context.Context, domain.QueueMessage) error,
) {
	message, err := decodeStreamMessage(item)
	if err != nil {
		_ = q.deadLetter(ctx, domain.QueueMessage{}, item, err.Error())
		_ = q.settle(ctx, item.ID)
		return
	}

	if handleErr := handler(ctx, message); handleErr != nil {
		message.Attempt++
		if message.Attempt >= q.maxAttempts {
			_ = q.deadLetter(ctx, message, item, handleErr.Error())
		} else if requeueErr := q.Enqueue(ctx, message); requeueErr != nil {
			_ = q.deadLetter(ctx, message, item, fmt.Sprintf("requeue failed: %v", requeueErr))
		}
	}
	_ = q.settle(ctx, item.ID)
}

func (q *StreamsQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
	if err == nil || strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("ensure stream group: %w", err)
}

// settle acks and deletes one processed entry so the stream does not grow
// without bound.
func (q *StreamsQueue) settle(ctx context.Context, streamID string) error {
	if err := q.client.XAck(ctx, q.stream, q.group, streamID).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	if err := q.client.XDel(ctx, q.stream, streamID).Err(); err != nil {
		return fmt.Errorf("xdel: %w", err)
	}
	return nil
}

func (q *StreamsQueue) deadLetter(
	ctx context.Context,
	message domain.QueueMessage,
	item redis.XMessage,
	reason string,
) error {
	values := map[string]any{
		"stream_id":   item.ID,
		"job_id":      message.JobID,
		"owner_id":    message.OwnerID,
		"preferences": string(message.Preferences),
		"attempt":     message.Attempt,
		"error":       reason,
		"moved_at":    time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.dlqStream, Values: values}).Err(); err != nil {
		return fmt.Errorf("send to dlq: %w", err)
	}
	return nil
}

func encodeStreamMessage(message domain.QueueMessage) map[string]any {
	return map[string]any{
		"job_id":       message.JobID,
		"owner_id":     message.OwnerID,
		"preferences":  string(message.Preferences),
		"attempt":      message.Attempt,
		"requested_at": message.RequestedAt.Format(time.RFC3339Nano),
	}
}

func decodeStreamMessage(item redis.XMessage) (domain.QueueMessage, error) {
	field := func(key string) (string, error) {
		value, ok := item.Values[key]
		if !ok {
			return "", fmt.Errorf("missing field %s", key)
		}
		switch typed := value.(type) {
		case string:
			return typed, nil
		case []byte:
			return string(typed), nil
		default:
			return fmt.Sprintf("%v", typed), nil
		}
	}

	var message domain.QueueMessage
	var err error
	if message.JobID, err = field("job_id"); err != nil {
		return domain.QueueMessage{}, err
	}
	if message.OwnerID, err = field("owner_id"); err != nil {
		return domain.QueueMessage{}, err
	}

	preferences, err := field("preferences")
	if err != nil {
		return domain.QueueMessage{}, err
	}
	message.Preferences = []byte(preferences)

	attemptField, err := field("attempt")
	if err != nil {
		return domain.QueueMessage{}, err
	}
	if message.Attempt, err = strconv.Atoi(attemptField); err != nil {
		return domain.QueueMessage{}, fmt.Errorf("invalid attempt: %w", err)
	}

	requestedAtField, err := field("requested_at")
	if err != nil {
		return domain.QueueMessage{}, err
	}
	if message.RequestedAt, err = time.Parse(time.RFC3339Nano, requestedAtField); err != nil {
		return domain.QueueMessage{}, fmt.Errorf("invalid requested_at: %w", err)
	}

	return message, nil
}
