package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
)

var ErrPoolClosed = errors.New("worker pool is shut down")

// Pool runs background functions with bounded concurrency. Go never blocks
// the caller; a function waits for a free slot inside its own goroutine.
type Pool struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	base   context.Context
	cancel context.CancelFunc
	log    zerolog.Logger
}

func NewPool(size int, logger zerolog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:    make(chan struct{}, size),
		base:   ctx,
		cancel: cancel,
		log:    logger.With().Str("component", "worker_pool").Logger(),
	}
}

// Go schedules fn. The context passed to fn is canceled only when Shutdown
// gives up waiting.
func (p *Pool) Go(fn func(ctx context.Context)) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		// After a forced shutdown fn still runs, with an already canceled
		// context, so it can record its own failure.
		select {
		case p.sem <- struct{}{}:
			defer func() { <-p.sem }()
		case <-p.base.Done():
		}
		defer func() {
			if r := recover(); r != nil {
				p.log.Error().Str("panic", fmt.Sprint(r)).Bytes("stack", debug.Stack()).Msg("background function panicked")
			}
		}()
		fn(p.base)
	}()
	return nil
}

// Shutdown stops accepting work and waits for running functions. When ctx
// expires first, their context is canceled and Shutdown still waits for them
// to return.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
