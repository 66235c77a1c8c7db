// Package workerpool is a bounded SPMC ring with one feeder and N
// expanders, modeled as a buffered Go channel: the feeder blocks when the
// ring is full (throttling disk reads), workers block when it is empty,
// and shutdown is close(ring) plus a WaitGroup barrier. The handler is
// rebound per phase: state expansion during search, parent matching
// during the exit trace.
package workerpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/INLOpen/diskbfs/core"
)

// Job is one record dequeued by a worker, tagged with that record's own
// frame (its frame group and subframe).
type Job struct {
	Record []byte
	Frame  core.Frame
}

// Handler processes one job. Handlers returning an error cause the whole
// phase to fail once the feeder notices (checked on each submit call).
type Handler func(ctx context.Context, job Job) error

// Pool is reused across BFS phases; only the bound Handler changes.
type Pool struct {
	numWorkers int
	capacity   int
	logger     *slog.Logger
}

// New creates a pool of numWorkers goroutines backed by a ring of the given
// capacity (spec default 2^20).
func New(numWorkers, capacity int, logger *slog.Logger) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{numWorkers: numWorkers, capacity: capacity, logger: logger}
}

// Run starts the pool bound to handler, calls feed with a submit function
// the caller uses to push records, then closes the ring and waits for every
// worker to drain (the shutdown barrier) before returning. If any worker
// handler returns an error, submit starts failing fast and Run returns the
// first error observed.
func (p *Pool) Run(ctx context.Context, handler Handler, feed func(submit func(Job) error) error) error {
	ring := make(chan Job, p.capacity)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}
	failed := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return firstErr != nil
	}

	wg.Add(p.numWorkers)
	for i := 0; i < p.numWorkers; i++ {
		go func(id int) {
			defer wg.Done()
			for job := range ring {
				if failed() {
					continue // drain without processing so the feeder can finish closing
				}
				if err := handler(ctx, job); err != nil {
					fail(fmt.Errorf("workerpool: worker %d: %w", id, err))
				}
			}
		}(i)
	}

	submit := func(j Job) error {
		if failed() {
			return firstErr
		}
		select {
		case ring <- j:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	feedErr := feed(submit)
	close(ring)
	wg.Wait()

	if feedErr != nil {
		return fmt.Errorf("workerpool: feed: %w", feedErr)
	}
	return firstErr
}
