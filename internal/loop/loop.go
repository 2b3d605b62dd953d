// Package loop provides the cooperative scheduler every view mutation runs on.
//
// A turn is one posted task followed by the callbacks registered with Once
// while that task ran. Tasks never overlap, and tasks posted from other
// goroutines (bus handlers, service callbacks, timers) run in arrival order.
package loop

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Loop serialises tasks onto a single goroutine
type Loop struct {
	mu    sync.Mutex
	queue []func()
	once  map[string]func()
	order []string
	wake  chan struct{}
}

// New creates an idle loop
func New() *Loop {
	return &Loop{
		once: make(map[string]func()),
		wake: make(chan struct{}, 1),
	}
}

// Post enqueues fn to run as its own turn
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.signal()
}

// Once schedules fn for the end of the current turn. Further calls with the
// same key before the flush are dropped, so a burst of same-turn changes
// yields exactly one call.
func (l *Loop) Once(key string, fn func()) {
	l.mu.Lock()
	if _, ok := l.once[key]; ok {
		l.mu.Unlock()
		return
	}
	l.once[key] = fn
	l.order = append(l.order, key)
	l.mu.Unlock()
	l.signal()
}

// Later posts fn after d. A non-positive delay posts immediately.
func (l *Loop) Later(d time.Duration, fn func()) *time.Timer {
	if d <= 0 {
		l.Post(fn)
		return nil
	}
	return time.AfterFunc(d, func() { l.Post(fn) })
}

// Call runs fn as its own turn and waits until the turn, end-of-turn
// callbacks included, has finished. It must not be called from a task.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		fn()
		l.Once(fmt.Sprintf("call:%p", done), func() { close(done) })
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending reports whether tasks or end-of-turn callbacks are waiting
func (l *Loop) Pending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue) > 0 || len(l.order) > 0
}

// Drain runs turns until nothing is pending and returns how many ran.
// It must not be called while Run is active.
func (l *Loop) Drain() int {
	turns := 0
	for l.step() {
		turns++
	}
	return turns
}

// Run processes turns until ctx is cancelled
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.Drain()
		select {
		case <-l.wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// step runs a single turn. A turn with no task still flushes Once callbacks.
func (l *Loop) step() bool {
	l.mu.Lock()
	var task func()
	if len(l.queue) > 0 {
		task = l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
	} else if len(l.order) == 0 {
		l.mu.Unlock()
		return false
	}
	l.mu.Unlock()

	if task != nil {
		task()
	}
	l.flush()
	return true
}

func (l *Loop) flush() {
	l.mu.Lock()
	if len(l.order) == 0 {
		l.mu.Unlock()
		return
	}
	pending, order := l.once, l.order
	l.once = make(map[string]func())
	l.order = nil
	l.mu.Unlock()

	for _, key := range order {
		pending[key]()
	}
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
