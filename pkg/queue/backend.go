package queue

import "context"

// Backend stores queued messages and drives their state machine.
//
// Ack and Nack report false with a nil error when the id is not in flight.
// Infrastructure failures are logged by the backend and surface as false or
// zero values; errors are reserved for invalid input.
type Backend interface {
	// Enqueue adds msg to its queue, reporting false when it was refused
	Enqueue(ctx context.Context, msg *Message) (bool, error)

	// Dequeue takes the next due message of the highest priority, or nil when none is due
	Dequeue(ctx context.Context, queue string) (*Message, error)

	// Ack marks an in-flight message completed
	Ack(ctx context.Context, id string) (bool, error)

	// Nack records a failed attempt; the message is retried later or dead-lettered
	Nack(ctx context.Context, id, reason string) (bool, error)

	// Stats returns the counters of queue
	Stats(ctx context.Context, queue string) (Stats, error)

	// Size returns the number of messages waiting in queue, due or not
	Size(ctx context.Context, queue string) (int, error)

	// Purge drops every waiting message of queue and returns how many were dropped
	Purge(ctx context.Context, queue string) (int, error)

	// DeadLetters lists the dead-lettered messages of queue, oldest first
	DeadLetters(ctx context.Context, queue string) ([]*Message, error)

	// RequeueDeadLetter moves a dead-lettered message back to the live queue with attempts reset
	RequeueDeadLetter(ctx context.Context, queue, id string) (bool, error)

	// CreateQueue prepares an empty queue; enqueueing creates queues implicitly
	CreateQueue(ctx context.Context, queue string) error

	// DeleteQueue drops every message and counter of queue
	DeleteQueue(ctx context.Context, queue string) error
}
