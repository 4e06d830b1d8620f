// Package queue provides a priority message queue with retries, a
// dead-letter list and per-queue worker pools.
//
// Messages are polled from critical to low priority and are FIFO within a
// priority. A failed attempt is retried after RetryDelay until MaxAttempts
// is reached, after which the message moves to the dead-letter list of its
// queue. Two backends implement the storage: MemoryQueue for a single
// process and RedisQueue for queues shared through Redis.
//
// Basic usage:
//
//	mq, _ := queue.New(queue.NewMemoryConfig())
//	_ = mq.Initialize(ctx)
//	defer mq.Shutdown(ctx)
//
//	_ = mq.RegisterHandler(ctx, "follow_ups", queue.HandlerFunc(func(ctx context.Context, msg *queue.Message) error {
//		return send(ctx, msg.Payload)
//	}), 2)
//
//	id, err := mq.SendMessage(ctx, "follow_ups", payload,
//		queue.WithPriority(queue.PriorityHigh),
//		queue.WithDelay(time.Hour))
package queue
