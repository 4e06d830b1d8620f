package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/vnykmshr/funnelcore/pkg/metrics"
)

// Nack reasons set by the worker itself
const (
	reasonNoHandler = "no handler registered"
)

var errProcessingTimeout = errors.New("processing timeout")

// Idle polling bounds
const (
	idleInitialInterval = 100 * time.Millisecond
	idleMaxInterval     = time.Second
)

// pool is the set of workers consuming one queue
type pool struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// stop cancels the workers and waits for their loops to return.
// Handlers that ignore cancellation are abandoned, not awaited.
func (p *pool) stop() {
	p.cancel()
	p.wg.Wait()
}

// worker consumes messages of one queue from a backend
type worker struct {
	id       int
	queue    string
	backend  Backend
	handlers *handlers
	exporter metrics.Exporter
	labels   metrics.Labels
	logger   *zap.Logger
}

// startPool launches n workers for queue under parent
func startPool(parent context.Context, n int, newWorker func(id int) *worker) *pool {
	ctx, cancel := context.WithCancel(parent)
	p := &pool{cancel: cancel}

	for i := range n {
		w := newWorker(i)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.run(ctx)
		}()
	}
	return p
}

func newIdleBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = idleInitialInterval
	b.MaxInterval = idleMaxInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// run polls the queue until ctx is cancelled, backing off while it is empty
func (w *worker) run(ctx context.Context) {
	w.logger.Debug("worker started")
	defer w.logger.Debug("worker stopped")

	idle := newIdleBackOff()
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for ctx.Err() == nil {
		msg, err := w.backend.Dequeue(ctx, w.queue)
		if err != nil {
			w.logger.Warn("dequeue failed", zap.Error(err))
		}

		if msg == nil {
			timer.Reset(idle.NextBackOff())
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			continue
		}

		idle.Reset()
		w.process(ctx, msg)
	}
}

// process runs the handler for msg and settles it with Ack or Nack.
// When ctx is cancelled mid-flight the message is left processing.
func (w *worker) process(ctx context.Context, msg *Message) {
	start := time.Now()
	settle := context.WithoutCancel(ctx)
	log := w.logger.With(zap.String("id", msg.ID), zap.Int("attempt", msg.Attempts+1))

	handler := w.handlers.get(w.queue)
	if handler == nil {
		log.Error("no handler registered for queue")
		w.nack(settle, msg, reasonNoHandler)
		w.record(metrics.ResultError, time.Since(start))
		return
	}

	timeout := msg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- invoke(hctx, handler, msg)
	}()

	var err error
	select {
	case err = <-done:
	case <-hctx.Done():
		err = hctx.Err()
	}

	if ctx.Err() != nil {
		log.Info("workers stopping, message left in flight")
		return
	}
	if errors.Is(err, context.DeadlineExceeded) && errors.Is(hctx.Err(), context.DeadlineExceeded) {
		err = errProcessingTimeout
	}

	if err == nil {
		if ok, aerr := w.backend.Ack(settle, msg.ID); aerr != nil || !ok {
			log.Warn("ack failed", zap.Bool("owned", ok), zap.Error(aerr))
		}
		w.record(metrics.ResultOK, time.Since(start))
		return
	}

	if !errors.Is(err, ErrHandlerRejected) {
		handler.OnError(settle, msg, err)
	}
	log.Warn("message processing failed", zap.Error(err))
	w.nack(settle, msg, err.Error())
	w.record(metrics.ResultError, time.Since(start))
}

func (w *worker) nack(ctx context.Context, msg *Message, reason string) {
	if ok, err := w.backend.Nack(ctx, msg.ID, reason); err != nil || !ok {
		w.logger.Warn("nack failed", zap.String("id", msg.ID), zap.Bool("owned", ok), zap.Error(err))
	}
}

func (w *worker) record(res metrics.Result, d time.Duration) {
	_ = w.exporter.RecordOperation(metrics.OperationProcess, res, d, w.labels) //nolint:errcheck // metrics never fail processing
}

// invoke calls Handle, turning a panic into an error
func invoke(ctx context.Context, handler Handler, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.Handle(ctx, msg)
}
