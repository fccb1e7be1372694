package queue

import (
	"context"

	"github.com/dailyclearing/digest-back/internal/domain"
)

// Producer sends digest run requests to a queue backend.
type Producer interface {
	Enqueue(ctx context.Context, message domain.QueueMessage) error
}

// Consumer receives run requests and executes handlers.
type Consumer interface {
	Consume(ctx context.Context, handler func(context.Context, domain.QueueMessage) error) error
}
