package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultKeyPrefix namespaces every queue key in Redis
const DefaultKeyPrefix = "optrixtrades:queue:"

// Stats hash fields
const (
	fieldTotal          = "total_messages"
	fieldPending        = "pending_messages"
	fieldProcessing     = "processing_messages"
	fieldCompleted      = "completed_messages"
	fieldFailed         = "failed_messages"
	fieldDeadLetter     = "dead_letter_messages"
	fieldProcessingTime = "processing_time_total"
)

// requeueScript moves one dead letter back to a priority list. The push and
// the counter updates only happen when this call removed the entry, so
// concurrent requeues of one id revive it once.
//
// KEYS: dead letter list, priority list, stats hash
// ARGV: stored dead letter, revived message, dead letter field, pending field
var requeueScript = redis.NewScript(`
if redis.call("LREM", KEYS[1], 1, ARGV[1]) == 0 then
	return 0
end
redis.call("LPUSH", KEYS[2], ARGV[2])
redis.call("HINCRBY", KEYS[3], ARGV[3], -1)
redis.call("HINCRBY", KEYS[3], ARGV[4], 1)
return 1
`)

var statsFields = []string{fieldTotal, fieldPending, fieldProcessing, fieldCompleted, fieldFailed, fieldDeadLetter}

// RedisConfig configures a RedisQueue
type RedisConfig struct {
	// Client is the Redis client; nil leaves the queue permanently unavailable
	Client redis.Cmdable

	// KeyPrefix is prepended to every key
	// Default: "optrixtrades:queue:"
	KeyPrefix string

	// PopTimeout of one second or more makes Dequeue block on BRPOP per tier.
	// Shorter values use a non-blocking RPOP.
	PopTimeout time.Duration

	// Clock supplies the time used for scheduling and processing times
	// Default: SystemClock()
	Clock Clock

	// Retry is consulted after a failed attempt that still has attempts left
	Retry RetryPolicy

	Logger *zap.Logger
}

// NewDefaultRedisConfig returns the default RedisQueue configuration for client
func NewDefaultRedisConfig(client redis.Cmdable) *RedisConfig {
	return &RedisConfig{
		Client:    client,
		KeyPrefix: DefaultKeyPrefix,
		Clock:     SystemClock(),
	}
}

// RedisQueue is a Backend keeping one Redis list per priority.
// Producers LPUSH and consumers RPOP, so each list is FIFO.
type RedisQueue struct {
	client     redis.Cmdable
	prefix     string
	popTimeout time.Duration
	clock      Clock
	retry      RetryPolicy
	logger     *zap.Logger
}

// NewRedisQueue creates a RedisQueue. A nil config uses NewDefaultRedisConfig(nil).
func NewRedisQueue(config *RedisConfig) *RedisQueue {
	if config == nil {
		config = NewDefaultRedisConfig(nil)
	}

	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	clock := config.Clock
	if clock == nil {
		clock = SystemClock()
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RedisQueue{
		client:     config.Client,
		prefix:     prefix,
		popTimeout: config.PopTimeout,
		clock:      clock,
		retry:      config.Retry,
		logger:     logger.With(zap.String("component", "redis_queue")),
	}
}

func (q *RedisQueue) key(queue, suffix string) string {
	return q.prefix + queue + ":" + suffix
}

func (q *RedisQueue) priorityKey(queue string, p Priority) string {
	return q.key(queue, "priority_"+strconv.Itoa(int(p)))
}

func (q *RedisQueue) indexKey() string {
	return q.prefix + "index"
}

// available reports whether a client is configured, logging when it is not
func (q *RedisQueue) available(op string) bool {
	if q.client == nil {
		q.logger.Warn("redis queue unavailable", zap.String("op", op))
		return false
	}
	return true
}

// failed logs a Redis failure of op; it returns true when err is non-nil
func (q *RedisQueue) failed(op string, err error, fields ...zap.Field) bool {
	if err == nil {
		return false
	}
	q.logger.Warn("redis queue operation failed", append(fields, zap.String("op", op), zap.Error(err))...)
	return true
}

// CreateQueue initialises the stats hash of queue without touching existing counters
func (q *RedisQueue) CreateQueue(ctx context.Context, queue string) error {
	if queue == "" {
		return ErrEmptyQueueName
	}
	if !q.available("create_queue") {
		return nil
	}

	statsKey := q.key(queue, "stats")
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, f := range append(statsFields, fieldProcessingTime) {
			pipe.HSetNX(ctx, statsKey, f, 0)
		}
		return nil
	})
	if !q.failed("create_queue", err, zap.String("queue", queue)) {
		q.logger.Info("queue created", zap.String("queue", queue))
	}
	return nil
}

// DeleteQueue removes every key of queue
func (q *RedisQueue) DeleteQueue(ctx context.Context, queue string) error {
	if !q.available("delete_queue") {
		return nil
	}

	keys := []string{q.key(queue, "processing"), q.key(queue, "dead_letter"), q.key(queue, "stats")}
	for _, p := range priorities {
		keys = append(keys, q.priorityKey(queue, p))
	}

	ids, err := q.client.HKeys(ctx, q.key(queue, "processing")).Result()
	if q.failed("delete_queue", err, zap.String("queue", queue)) {
		return nil
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(ids) > 0 {
			pipe.HDel(ctx, q.indexKey(), ids...)
		}
		pipe.Del(ctx, keys...)
		return nil
	})
	if !q.failed("delete_queue", err, zap.String("queue", queue)) {
		q.logger.Info("queue deleted", zap.String("queue", queue))
	}
	return nil
}

// Enqueue pushes msg onto the list of its priority
func (q *RedisQueue) Enqueue(ctx context.Context, msg *Message) (bool, error) {
	if msg.QueueName == "" {
		return false, ErrEmptyQueueName
	}
	if !msg.Priority.Valid() {
		return false, ErrInvalidPriority
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("queue: encode message %s: %w", msg.ID, err)
	}

	if !q.available("enqueue") {
		return false, nil
	}

	statsKey := q.key(msg.QueueName, "stats")
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, q.priorityKey(msg.QueueName, msg.Priority), data)
		pipe.HIncrBy(ctx, statsKey, fieldTotal, 1)
		pipe.HIncrBy(ctx, statsKey, fieldPending, 1)
		return nil
	})
	if q.failed("enqueue", err, zap.String("queue", msg.QueueName), zap.String("id", msg.ID)) {
		return false, nil
	}
	return true, nil
}

// Dequeue polls the priority lists from critical to low. A popped message
// that is not yet due goes back to the producer end of its list, and the
// rest of that tier is still scanned, so a waiting retry never blocks the
// messages queued behind it.
func (q *RedisQueue) Dequeue(ctx context.Context, queue string) (*Message, error) {
	if !q.available("dequeue") {
		return nil, nil
	}

	for _, p := range priorities {
		msg, ok := q.popDue(ctx, queue, q.priorityKey(queue, p))
		if !ok {
			return nil, nil
		}
		if msg == nil {
			continue
		}

		now := q.clock.Now()
		msg.markProcessing(now)
		encoded, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("queue: encode message %s: %w", msg.ID, err)
		}

		statsKey := q.key(queue, "stats")
		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, q.key(queue, "processing"), msg.ID, encoded)
			pipe.HSet(ctx, q.indexKey(), msg.ID, queue)
			pipe.HIncrBy(ctx, statsKey, fieldPending, -1)
			pipe.HIncrBy(ctx, statsKey, fieldProcessing, 1)
			return nil
		})
		if q.failed("dequeue", err, zap.String("queue", queue), zap.String("id", msg.ID)) {
			return nil, nil
		}
		return msg, nil
	}

	return nil, nil
}

// popDue pops from the consumer end of listKey until it finds a due message.
// Messages that are not due are rotated to the producer end, and the scan
// ends after one pass over the list as it stood at the first rotation.
// ok is false when Redis failed.
func (q *RedisQueue) popDue(ctx context.Context, queue, listKey string) (msg *Message, ok bool) {
	data, err := q.pop(ctx, listKey)
	budget := int64(-1)

	for {
		if errors.Is(err, redis.Nil) {
			return nil, true
		}
		if q.failed("dequeue", err, zap.String("queue", queue)) {
			return nil, false
		}

		var m Message
		switch err := json.Unmarshal([]byte(data), &m); {
		case err != nil:
			// An undecodable entry would be popped on every poll, so it is dropped
			q.logger.Error("dropping undecodable message", zap.String("queue", queue), zap.Error(err))
		case m.Due(q.clock.Now()):
			return &m, true
		default:
			if err := q.client.LPush(ctx, listKey, data).Err(); err != nil {
				q.logger.Error("failed to return scheduled message", zap.String("id", m.ID), zap.Error(err))
				return nil, false
			}
			if budget < 0 {
				n, err := q.client.LLen(ctx, listKey).Result()
				if q.failed("dequeue", err, zap.String("queue", queue)) {
					return nil, false
				}
				budget = n - 1
			}
		}

		if budget == 0 {
			return nil, true
		}
		if budget > 0 {
			budget--
		}
		data, err = q.client.RPop(ctx, listKey).Result()
	}
}

func (q *RedisQueue) pop(ctx context.Context, key string) (string, error) {
	if q.popTimeout >= time.Second {
		res, err := q.client.BRPop(ctx, q.popTimeout, key).Result()
		if err != nil {
			return "", err
		}
		return res[1], nil
	}
	return q.client.RPop(ctx, key).Result()
}

// inflight loads an in-flight message through the index
func (q *RedisQueue) inflight(ctx context.Context, op, id string) (*Message, string, bool) {
	queue, err := q.client.HGet(ctx, q.indexKey(), id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, "", false
	}
	if q.failed(op, err, zap.String("id", id)) {
		return nil, "", false
	}

	data, err := q.client.HGet(ctx, q.key(queue, "processing"), id).Result()
	if errors.Is(err, redis.Nil) {
		// Stale index entry left by a deleted queue
		q.client.HDel(ctx, q.indexKey(), id)
		return nil, "", false
	}
	if q.failed(op, err, zap.String("id", id)) {
		return nil, "", false
	}

	var msg Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		q.logger.Error("undecodable in-flight message", zap.String("id", id), zap.Error(err))
		return nil, "", false
	}
	return &msg, queue, true
}

// Ack marks an in-flight message completed
func (q *RedisQueue) Ack(ctx context.Context, id string) (bool, error) {
	if !q.available("ack") {
		return false, nil
	}

	msg, queue, ok := q.inflight(ctx, "ack", id)
	if !ok {
		return false, nil
	}

	var elapsed time.Duration
	if msg.ProcessingStartedAt != nil {
		elapsed = q.clock.Now().Sub(*msg.ProcessingStartedAt)
	}

	statsKey := q.key(queue, "stats")
	var removed *redis.IntCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.HDel(ctx, q.key(queue, "processing"), id)
		pipe.HDel(ctx, q.indexKey(), id)
		pipe.HIncrBy(ctx, statsKey, fieldProcessing, -1)
		pipe.HIncrBy(ctx, statsKey, fieldCompleted, 1)
		pipe.HIncrByFloat(ctx, statsKey, fieldProcessingTime, elapsed.Seconds())
		return nil
	})
	if q.failed("ack", err, zap.String("id", id)) {
		return false, nil
	}
	return removed.Val() > 0, nil
}

// Nack records a failed attempt. Retries go back to the consumer end of
// their priority list so they are evaluated first once due.
func (q *RedisQueue) Nack(ctx context.Context, id, reason string) (bool, error) {
	if !q.available("nack") {
		return false, nil
	}

	msg, queue, ok := q.inflight(ctx, "nack", id)
	if !ok {
		return false, nil
	}

	probe := msg.probe(reason)
	allow := probe.CanRetry() && (q.retry == nil || q.retry.AllowRetry(ctx, probe))
	retry := msg.fail(q.clock.Now(), reason, allow)

	data, err := json.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("queue: encode message %s: %w", msg.ID, err)
	}

	statsKey := q.key(queue, "stats")
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, q.key(queue, "processing"), id)
		pipe.HDel(ctx, q.indexKey(), id)
		if retry {
			pipe.RPush(ctx, q.priorityKey(queue, msg.Priority), data)
			pipe.HIncrBy(ctx, statsKey, fieldPending, 1)
		} else {
			pipe.RPush(ctx, q.key(queue, "dead_letter"), data)
			pipe.HIncrBy(ctx, statsKey, fieldDeadLetter, 1)
		}
		pipe.HIncrBy(ctx, statsKey, fieldProcessing, -1)
		pipe.HIncrBy(ctx, statsKey, fieldFailed, 1)
		return nil
	})
	if q.failed("nack", err, zap.String("id", id)) {
		return false, nil
	}

	if !retry {
		q.logger.Warn("message dead-lettered",
			zap.String("queue", queue),
			zap.String("id", id),
			zap.Int("attempts", msg.Attempts),
			zap.String("error", reason))
	}
	return true, nil
}

// Stats reads the stats hash of queue
func (q *RedisQueue) Stats(ctx context.Context, queue string) (Stats, error) {
	if !q.available("stats") {
		return Stats{}, nil
	}

	fields, err := q.client.HGetAll(ctx, q.key(queue, "stats")).Result()
	if q.failed("stats", err, zap.String("queue", queue)) {
		return Stats{}, nil
	}

	n := func(f string) int64 {
		v, _ := strconv.ParseInt(fields[f], 10, 64)
		return v
	}

	s := Stats{
		Total:      n(fieldTotal),
		Pending:    n(fieldPending),
		Processing: n(fieldProcessing),
		Completed:  n(fieldCompleted),
		Failed:     n(fieldFailed),
		DeadLetter: n(fieldDeadLetter),
	}
	if total, err := strconv.ParseFloat(fields[fieldProcessingTime], 64); err == nil && s.Completed > 0 {
		s.AverageProcessingTime = time.Duration(total / float64(s.Completed) * float64(time.Second))
	}
	return s, nil
}

// Size sums the lengths of the priority lists of queue
func (q *RedisQueue) Size(ctx context.Context, queue string) (int, error) {
	if !q.available("size") {
		return 0, nil
	}

	cmds := make([]*redis.IntCmd, 0, len(priorities))
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range priorities {
			cmds = append(cmds, pipe.LLen(ctx, q.priorityKey(queue, p)))
		}
		return nil
	})
	if q.failed("size", err, zap.String("queue", queue)) {
		return 0, nil
	}

	total := 0
	for _, c := range cmds {
		total += int(c.Val())
	}
	return total, nil
}

// Purge deletes the priority lists of queue and zeroes its pending counter
func (q *RedisQueue) Purge(ctx context.Context, queue string) (int, error) {
	if !q.available("purge") {
		return 0, nil
	}

	cmds := make([]*redis.IntCmd, 0, len(priorities))
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range priorities {
			cmds = append(cmds, pipe.LLen(ctx, q.priorityKey(queue, p)))
		}
		for _, p := range priorities {
			pipe.Del(ctx, q.priorityKey(queue, p))
		}
		pipe.HSet(ctx, q.key(queue, "stats"), fieldPending, 0)
		return nil
	})
	if q.failed("purge", err, zap.String("queue", queue)) {
		return 0, nil
	}

	total := 0
	for _, c := range cmds {
		total += int(c.Val())
	}
	return total, nil
}

// DeadLetters returns the dead-lettered messages of queue, oldest first
func (q *RedisQueue) DeadLetters(ctx context.Context, queue string) ([]*Message, error) {
	if !q.available("dead_letters") {
		return nil, nil
	}

	raw, err := q.client.LRange(ctx, q.key(queue, "dead_letter"), 0, -1).Result()
	if q.failed("dead_letters", err, zap.String("queue", queue)) {
		return nil, nil
	}

	out := make([]*Message, 0, len(raw))
	for _, data := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			q.logger.Warn("skipping undecodable dead letter", zap.String("queue", queue), zap.Error(err))
			continue
		}
		out = append(out, &msg)
	}
	return out, nil
}

// RequeueDeadLetter moves a dead-lettered message back to the producer end of its priority list
func (q *RedisQueue) RequeueDeadLetter(ctx context.Context, queue, id string) (bool, error) {
	if !q.available("requeue_dead_letter") {
		return false, nil
	}

	deadKey := q.key(queue, "dead_letter")
	raw, err := q.client.LRange(ctx, deadKey, 0, -1).Result()
	if q.failed("requeue_dead_letter", err, zap.String("queue", queue)) {
		return false, nil
	}

	for _, data := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil || msg.ID != id {
			continue
		}

		msg.revive()
		encoded, err := json.Marshal(&msg)
		if err != nil {
			return false, fmt.Errorf("queue: encode message %s: %w", msg.ID, err)
		}

		keys := []string{deadKey, q.priorityKey(queue, msg.Priority), q.key(queue, "stats")}
		moved, err := requeueScript.Run(ctx, q.client, keys, data, encoded, fieldDeadLetter, fieldPending).Int()
		if q.failed("requeue_dead_letter", err, zap.String("queue", queue), zap.String("id", id)) {
			return false, nil
		}
		return moved == 1, nil
	}

	return false, nil
}

var _ Backend = (*RedisQueue)(nil)
