package overlay

import (
	"context"
	"errors"
	"log/slog"
)

var ErrLoopClosed = errors.New("event loop closed")

// Dispatcher posts work onto the foreground context
type Dispatcher interface {
	Dispatch(fn func())
}

// Loop is the foreground context. Every list mutation, diff and handle change
// runs on its goroutine, one task at a time.
type Loop struct {
	queue  *Queue[func()]
	logger *slog.Logger
}

func NewLoop(logger *slog.Logger) *Loop {
	return &Loop{
		queue:  NewQueue[func()](),
		logger: logger.With("component", "loop"),
	}
}

func (l *Loop) Dispatch(fn func()) {
	if !l.queue.Push(fn) {
		l.logger.Debug("loop closed, dropping task")
	}
}

// Run executes posted tasks until ctx is done
func (l *Loop) Run(ctx context.Context) {
	defer func() {
		if dropped := l.queue.Close(); len(dropped) > 0 {
			l.logger.Info("loop stopped with pending tasks", "dropped", len(dropped))
		}
	}()

	for {
		fn, ok := l.queue.Pop(ctx)
		if !ok {
			return
		}
		fn()
	}
}

// Do runs fn on the loop and waits for it to finish
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.queue.Push(func() {
		defer close(done)
		fn()
	}) {
		return ErrLoopClosed
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
