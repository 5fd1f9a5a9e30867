package schema

import (
	"context"
	"sync"
)

// Promise is a single-settlement future. It is resolved or rejected exactly
// once; later settlements are no-ops. Safe for concurrent use.
type Promise struct {
	once sync.Once
	done chan struct{}
	val  any
	err  error
}

// NewPromise creates an unsettled promise.
func NewPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Resolved creates a promise already resolved with val.
func Resolved(val any) *Promise {
	p := NewPromise()
	p.Resolve(val)
	return p
}

// Rejected creates a promise already rejected with err.
func Rejected(err error) *Promise {
	p := NewPromise()
	p.Reject(err)
	return p
}

// Resolve settles the promise with a value. No-op if already settled.
func (p *Promise) Resolve(val any) {
	p.once.Do(func() {
		p.val = val
		close(p.done)
	})
}

// Reject settles the promise with an error. No-op if already settled.
func (p *Promise) Reject(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Await blocks until the promise settles or the context is cancelled.
func (p *Promise) Await(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		return p.val, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Settled reports whether the promise has been resolved or rejected.
func (p *Promise) Settled() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
