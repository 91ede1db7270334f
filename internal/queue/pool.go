package queue

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Handler processes one work item. Errors are local to the item: the pool
// logs them and moves on so one bad event cannot poison the pipeline.
type Handler[T any] func(ctx context.Context, item T) error

// Pool runs a fixed number of workers draining a queue. Workers stop when
// the pool context is cancelled or the queue is closed and drained.
type Pool[T any] struct {
	name    string
	queue   *Queue[T]
	workers int
	handler Handler[T]
	log     zerolog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool creates a worker pool over the given queue.
func NewPool[T any](name string, q *Queue[T], workers int, handler Handler[T], log zerolog.Logger) *Pool[T] {
	if workers < 1 {
		workers = 1
	}
	return &Pool[T]{
		name:    name,
		queue:   q,
		workers: workers,
		handler: handler,
		log:     log.With().Str("component", "pool").Str("pool", name).Logger(),
	}
}

// Start launches the workers. Calling Start twice is a no-op.
func (p *Pool[T]) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)

	p.log.Info().Int("workers", p.workers).Msg("Starting worker pool")
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

func (p *Pool[T]) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-p.queue.Items():
			if !ok {
				return
			}
			if err := p.handler(ctx, item); err != nil {
				p.log.Error().Err(err).Int("worker", id).Msg("Work item failed")
			}
		}
	}
}

// Stop closes the queue and waits for the workers to finish the remaining
// items. Workers exit as soon as the queue is drained; the caller's context
// is only the backstop that aborts a stuck drain.
func (p *Pool[T]) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	started := p.started
	p.mu.Unlock()

	if !started {
		return nil
	}

	p.queue.Close()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		<-done
		return ctx.Err()
	}
}

// Abort cancels the workers immediately without draining.
func (p *Pool[T]) Abort() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}
