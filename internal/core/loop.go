package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrLoopStopped is returned when posting to a loop that has stopped.
var ErrLoopStopped = errors.New("event loop stopped")

// Task is a unit of work executed on the loop. The context it receives marks
// the loop goroutine, so Call from inside a task runs inline.
type Task func(ctx context.Context)

type loopKey struct{}

// Loop executes tasks one at a time on a single goroutine. All subscription
// state and everything reachable from update callbacks belongs to it.
type Loop struct {
	mu      sync.Mutex
	queue   []Task
	stopped bool

	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
}

// NewLoop returns a loop that is not yet running.
func NewLoop() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Post enqueues a task without waiting for it.
func (l *Loop) Post(task Task) error {
	if task == nil {
		return errors.New("nil task")
	}
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return ErrLoopStopped
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Call runs fn on the loop and waits for its result. When ctx already belongs
// to this loop, fn runs inline.
func (l *Loop) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if l.owns(ctx) {
		return fn(ctx)
	}
	res := make(chan error, 1)
	if err := l.Post(func(lctx context.Context) { res <- fn(lctx) }); err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case err := <-res:
			return err
		default:
			return ErrLoopStopped
		}
	}
}

func (l *Loop) owns(ctx context.Context) bool {
	owner, _ := ctx.Value(loopKey{}).(*Loop)
	return owner == l
}

// Run processes tasks until ctx ends or Stop is called. Pending tasks are
// discarded on exit. Run may only be called once.
func (l *Loop) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return errors.New("event loop already running")
	}
	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()
		close(l.done)
	}()
	lctx := context.WithValue(ctx, loopKey{}, l)
	for {
		for {
			task, ok := l.pop()
			if !ok {
				break
			}
			select {
			case <-l.stop:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			task(lctx)
		}
		select {
		case <-l.stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

func (l *Loop) pop() (Task, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task, true
}

// Stop asks the loop to exit after the current task. Safe to call more than
// once and before Run.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.stopped = true
		l.mu.Unlock()
		close(l.stop)
	})
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }
