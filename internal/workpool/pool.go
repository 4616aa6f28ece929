// Copyright 2025 The go-luxtensor Authors
// This file is part of the go-luxtensor library.

// Package workpool provides the bounded blocking pool the consensus core
// offloads slow work to: persistence writes and signature verification
// batches. A weighted semaphore caps concurrency; submissions beyond the cap
// are rejected rather than queued so backpressure is visible to callers, and
// every job runs under a deadline.
package workpool

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"
)

var (
	ErrSaturated = errors.New("workpool: pool saturated")
	ErrTimeout   = errors.New("workpool: job deadline exceeded")
	ErrClosed    = errors.New("workpool: pool closed")
)

// DefaultDeadline bounds a single offloaded job.
const DefaultDeadline = 5 * time.Second

// Pool is a bounded blocking executor. Results are only applied by the caller
// after a successful join; on timeout the in-flight job runs to completion
// but its result is discarded, so no state effect can leak.
type Pool struct {
	sem      *semaphore.Weighted
	deadline time.Duration
	closed   chan struct{}
}

// New creates a pool allowing at most maxConcurrent in-flight jobs.
func New(maxConcurrent int64, deadline time.Duration) *Pool {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	return &Pool{
		sem:      semaphore.NewWeighted(maxConcurrent),
		deadline: deadline,
		closed:   make(chan struct{}),
	}
}

// Submit runs fn on a fresh goroutine and blocks the caller until the job
// finishes or the deadline fires. A saturated pool rejects immediately with
// ErrSaturated; the caller may retry.
func (p *Pool) Submit(ctx context.Context, fn func() error) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}
	if !p.sem.TryAcquire(1) {
		return ErrSaturated
	}

	ctx, cancel := context.WithTimeout(ctx, p.deadline)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer p.sem.Release(1)
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ctx.Err()
	}
}

// Close rejects all future submissions. In-flight jobs are left to finish.
func (p *Pool) Close() {
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
}
