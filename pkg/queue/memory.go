package queue

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxSize is the per-queue capacity of a MemoryQueue
const DefaultMaxSize = 10000

// MemoryConfig configures a MemoryQueue
type MemoryConfig struct {
	// MaxSize caps the waiting messages per queue
	// Default: 10000
	MaxSize int

	// Clock supplies the time used for scheduling and processing times
	// Default: SystemClock()
	Clock Clock

	// Retry is consulted after a failed attempt that still has attempts left
	// Default: retry while attempts remain
	Retry RetryPolicy

	Logger *zap.Logger
}

// NewDefaultMemoryConfig returns the default MemoryQueue configuration
func NewDefaultMemoryConfig() *MemoryConfig {
	return &MemoryConfig{
		MaxSize: DefaultMaxSize,
		Clock:   SystemClock(),
	}
}

// WithMaxSize sets the per-queue capacity
func (c *MemoryConfig) WithMaxSize(n int) *MemoryConfig {
	c.MaxSize = n
	return c
}

// WithClock sets the clock
func (c *MemoryConfig) WithClock(clock Clock) *MemoryConfig {
	c.Clock = clock
	return c
}

// WithRetryPolicy sets the retry policy
func (c *MemoryConfig) WithRetryPolicy(policy RetryPolicy) *MemoryConfig {
	c.Retry = policy
	return c
}

// WithLogger sets the logger
func (c *MemoryConfig) WithLogger(logger *zap.Logger) *MemoryConfig {
	c.Logger = logger
	return c
}

type memoryQueue struct {
	waiting []*Message
	dead    []*Message
	stats   Stats
}

// MemoryQueue is an in-process Backend. A single mutex guards every queue.
// Waiting messages are kept in priority order, FIFO within a priority.
type MemoryQueue struct {
	maxSize int
	clock   Clock
	retry   RetryPolicy
	logger  *zap.Logger

	mu         sync.Mutex
	queues     map[string]*memoryQueue
	processing map[string]*Message
}

// NewMemoryQueue creates a MemoryQueue. A nil config uses NewDefaultMemoryConfig.
func NewMemoryQueue(config *MemoryConfig) *MemoryQueue {
	if config == nil {
		config = NewDefaultMemoryConfig()
	}

	maxSize := config.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	clock := config.Clock
	if clock == nil {
		clock = SystemClock()
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &MemoryQueue{
		maxSize:    maxSize,
		clock:      clock,
		retry:      config.Retry,
		logger:     logger.With(zap.String("component", "memory_queue")),
		queues:     make(map[string]*memoryQueue),
		processing: make(map[string]*Message),
	}
}

// queue returns the state of name, creating it when missing. Callers hold mu.
func (q *MemoryQueue) queue(name string) *memoryQueue {
	mq, ok := q.queues[name]
	if !ok {
		mq = &memoryQueue{}
		q.queues[name] = mq
		q.logger.Info("queue created", zap.String("queue", name))
	}
	return mq
}

// CreateQueue prepares an empty queue
func (q *MemoryQueue) CreateQueue(ctx context.Context, name string) error {
	if name == "" {
		return ErrEmptyQueueName
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	q.queue(name)
	return nil
}

// DeleteQueue drops the messages, in-flight entries and counters of name
func (q *MemoryQueue) DeleteQueue(ctx context.Context, name string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.queues[name]; !ok {
		return nil
	}
	delete(q.queues, name)
	for id, msg := range q.processing {
		if msg.QueueName == name {
			delete(q.processing, id)
		}
	}

	q.logger.Info("queue deleted", zap.String("queue", name))
	return nil
}

// Enqueue inserts msg before the first waiting message of strictly lower
// priority, or at the end. It reports false when the queue is full.
func (q *MemoryQueue) Enqueue(ctx context.Context, msg *Message) (bool, error) {
	if msg.QueueName == "" {
		return false, ErrEmptyQueueName
	}
	if !msg.Priority.Valid() {
		return false, ErrInvalidPriority
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	mq := q.queue(msg.QueueName)
	if len(mq.waiting) >= q.maxSize {
		q.logger.Warn("queue is full", zap.String("queue", msg.QueueName), zap.Int("max_size", q.maxSize))
		return false, nil
	}

	stored := msg.clone()
	i := slices.IndexFunc(mq.waiting, func(m *Message) bool { return m.Priority < stored.Priority })
	if i < 0 {
		mq.waiting = append(mq.waiting, stored)
	} else {
		mq.waiting = slices.Insert(mq.waiting, i, stored)
	}

	mq.stats.Total++
	mq.stats.Pending++
	return true, nil
}

// Dequeue takes the first waiting message that is due
func (q *MemoryQueue) Dequeue(ctx context.Context, name string) (*Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	mq, ok := q.queues[name]
	if !ok {
		return nil, nil
	}

	now := q.clock.Now()
	i := slices.IndexFunc(mq.waiting, func(m *Message) bool { return m.Due(now) })
	if i < 0 {
		return nil, nil
	}

	msg := mq.waiting[i]
	mq.waiting = slices.Delete(mq.waiting, i, i+1)

	msg.markProcessing(now)
	q.processing[msg.ID] = msg

	mq.stats.Pending--
	mq.stats.Processing++
	return msg.clone(), nil
}

// Ack marks an in-flight message completed and folds its processing time into the average
func (q *MemoryQueue) Ack(ctx context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	msg, ok := q.processing[id]
	if !ok {
		return false, nil
	}
	delete(q.processing, id)

	now := q.clock.Now()
	msg.Status = StatusCompleted
	msg.CompletedAt = &now

	mq := q.queue(msg.QueueName)
	mq.stats.Processing--
	var elapsed time.Duration
	if msg.ProcessingStartedAt != nil {
		elapsed = now.Sub(*msg.ProcessingStartedAt)
	}
	mq.stats.recordCompletion(elapsed)
	return true, nil
}

// Nack records a failed attempt. With attempts left and the retry policy
// agreeing, the message goes back to the front of its queue scheduled after
// RetryDelay; otherwise it moves to the dead-letter list.
func (q *MemoryQueue) Nack(ctx context.Context, id, reason string) (bool, error) {
	q.mu.Lock()
	msg, ok := q.processing[id]
	if !ok {
		q.mu.Unlock()
		return false, nil
	}
	probe := msg.probe(reason)
	q.mu.Unlock()

	// The policy may run handler code, so it is consulted without the lock
	allow := probe.CanRetry() && (q.retry == nil || q.retry.AllowRetry(ctx, probe))

	q.mu.Lock()
	defer q.mu.Unlock()

	msg, ok = q.processing[id]
	if !ok {
		return false, nil
	}
	delete(q.processing, id)

	mq := q.queue(msg.QueueName)
	if msg.fail(q.clock.Now(), reason, allow) {
		mq.waiting = slices.Insert(mq.waiting, 0, msg)
		mq.stats.Pending++
	} else {
		mq.dead = append(mq.dead, msg)
		mq.stats.DeadLetter++
		q.logger.Warn("message dead-lettered",
			zap.String("queue", msg.QueueName),
			zap.String("id", msg.ID),
			zap.Int("attempts", msg.Attempts),
			zap.String("error", reason))
	}

	mq.stats.Processing--
	mq.stats.Failed++
	return true, nil
}

// Stats returns the counters of name; an unknown queue has zero stats
func (q *MemoryQueue) Stats(ctx context.Context, name string) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if mq, ok := q.queues[name]; ok {
		return mq.stats, nil
	}
	return Stats{}, nil
}

// Size returns the number of waiting messages, due or not
func (q *MemoryQueue) Size(ctx context.Context, name string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if mq, ok := q.queues[name]; ok {
		return len(mq.waiting), nil
	}
	return 0, nil
}

// Purge drops every waiting message of name
func (q *MemoryQueue) Purge(ctx context.Context, name string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	mq, ok := q.queues[name]
	if !ok {
		return 0, nil
	}

	n := len(mq.waiting)
	mq.waiting = nil
	mq.stats.Pending = 0
	return n, nil
}

// DeadLetters returns copies of the dead-lettered messages of name
func (q *MemoryQueue) DeadLetters(ctx context.Context, name string) ([]*Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	mq, ok := q.queues[name]
	if !ok {
		return nil, nil
	}

	out := make([]*Message, 0, len(mq.dead))
	for _, msg := range mq.dead {
		out = append(out, msg.clone())
	}
	return out, nil
}

// RequeueDeadLetter resets a dead-lettered message and appends it to the live queue
func (q *MemoryQueue) RequeueDeadLetter(ctx context.Context, name, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	mq, ok := q.queues[name]
	if !ok {
		return false, nil
	}

	i := slices.IndexFunc(mq.dead, func(m *Message) bool { return m.ID == id })
	if i < 0 {
		return false, nil
	}

	msg := mq.dead[i]
	mq.dead = slices.Delete(mq.dead, i, i+1)
	msg.revive()
	mq.waiting = append(mq.waiting, msg)

	mq.stats.DeadLetter--
	mq.stats.Pending++
	return true, nil
}

var _ Backend = (*MemoryQueue)(nil)
