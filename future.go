package repospawn

import (
	"context"
	"errors"
	"sync"
)

const (
	// laneBacklog is the number of submitted jobs that may wait behind the
	// running one before Submit blocks.
	laneBacklog = 64
)

// ErrLaneClosed is returned by futures submitted to a closed Lane.
var ErrLaneClosed = errors.New("lane is closed")

// Future is the result of an asynchronous operation.
//
// The operation always runs to completion. Await only bounds how long the
// caller waits; a caller that gives up simply never sees the result.
type Future[T any] struct {
	done  chan struct{}
	once  sync.Once // guards done channel close
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// resolve stores the result and releases waiters. Only the first call wins.
func (f *Future[T]) resolve(value T, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

// Go runs fn in its own goroutine and returns its Future.
//
// fn receives a context that is never cancelled, carrying ctx's values, so
// work already started is not torn down when the caller stops waiting.
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	detached := context.WithoutCancel(ctx)
	go func() {
		v, err := fn(detached)
		f.resolve(v, err)
	}()
	return f
}

// Await blocks until the operation completes or ctx is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done returns a channel closed when the operation completes.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Lane runs submitted jobs one at a time, in submission order, on a single
// worker goroutine. It serializes access to clients that are not safe for
// concurrent use. Create one per process with NewLane and share it.
type Lane struct {
	jobs   chan func()
	closed chan struct{}
	idle   chan struct{}
	mu     sync.RWMutex // guards sends on jobs against Close
	once   sync.Once
}

// NewLane starts the worker and returns the Lane.
func NewLane() *Lane {
	l := &Lane{
		jobs:   make(chan func(), laneBacklog),
		closed: make(chan struct{}),
		idle:   make(chan struct{}),
	}
	go l.work()
	return l
}

func (l *Lane) work() {
	defer close(l.idle)
	for job := range l.jobs {
		job()
	}
}

// Close stops accepting jobs, lets queued jobs finish, and returns once the
// worker has exited. Close is idempotent.
func (l *Lane) Close() {
	l.once.Do(func() {
		close(l.closed)
		l.mu.Lock()
		close(l.jobs)
		l.mu.Unlock()
	})
	<-l.idle
}

// Submit queues fn on l and returns its Future without waiting for fn to run.
// If the backlog is full Submit blocks until there is room or ctx is done,
// in which case the returned Future already holds ctx's error.
//
// Like Go, fn receives a context detached from ctx's cancellation.
func Submit[T any](ctx context.Context, l *Lane, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	detached := context.WithoutCancel(ctx)
	job := func() {
		v, err := fn(detached)
		f.resolve(v, err)
	}

	var zero T
	l.mu.RLock()
	defer l.mu.RUnlock()
	select {
	case <-l.closed:
		f.resolve(zero, ErrLaneClosed)
		return f
	default:
	}

	select {
	case l.jobs <- job:
	case <-l.closed:
		f.resolve(zero, ErrLaneClosed)
	case <-ctx.Done():
		f.resolve(zero, ctx.Err())
	}
	return f
}
