package worker

import (
	"context"
	"fmt"
	"sync"

	"storefront-agent/internal/apperr"
	"storefront-agent/internal/util"

	"go.uber.org/zap"
)

// Task is a unit of work executed by a SerialQueue
type Task func(ctx context.Context) error

type job struct {
	ctx  context.Context
	task Task
	done chan error
}

// SerialQueue runs submitted tasks one at a time, in submission order, on a
// single goroutine. Each task observes every effect of the tasks before it.
type SerialQueue struct {
	name   string
	jobs   chan job
	quit   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	logger *zap.Logger
}

// NewSerialQueue creates and starts a queue
func NewSerialQueue(name string) *SerialQueue {
	q := &SerialQueue{
		name:   name,
		jobs:   make(chan job, 64),
		quit:   make(chan struct{}),
		logger: util.GetLogger().With(zap.String("queue", name)),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Submit enqueues task and waits for its result. If ctx ends before the task
// starts, the task is skipped; once started it runs to completion on a context
// detached from the caller's cancellation, keeping its values.
func (q *SerialQueue) Submit(ctx context.Context, task Task) error {
	j := job{ctx: ctx, task: task, done: make(chan error, 1)}

	select {
	case <-q.quit:
		return apperr.ErrQueueClosed
	default:
	}

	select {
	case q.jobs <- j:
		util.QueueDepth.WithLabelValues(q.name).Inc()
	case <-q.quit:
		return apperr.ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-q.quit:
		return apperr.ErrQueueClosed
	}
}

// Close stops the queue after the running task finishes; queued tasks fail with ErrQueueClosed
func (q *SerialQueue) Close() {
	q.once.Do(func() {
		close(q.quit)
	})
	q.wg.Wait()
}

func (q *SerialQueue) run() {
	defer q.wg.Done()

	for {
		select {
		case <-q.quit:
			q.drain()
			return
		case j := <-q.jobs:
			util.QueueDepth.WithLabelValues(q.name).Dec()
			if err := j.ctx.Err(); err != nil {
				j.done <- err
				continue
			}
			j.done <- q.execute(j)
		}
	}
}

func (q *SerialQueue) execute(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Task panicked", zap.Any("panic", r))
			err = fmt.Errorf("queue %s: task panicked: %v", q.name, r)
		}
	}()
	return j.task(context.WithoutCancel(j.ctx))
}

func (q *SerialQueue) drain() {
	for {
		select {
		case j := <-q.jobs:
			util.QueueDepth.WithLabelValues(q.name).Dec()
			j.done <- apperr.ErrQueueClosed
		default:
			return
		}
	}
}
