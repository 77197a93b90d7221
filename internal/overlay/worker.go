package overlay

import (
	"context"
	"log/slog"
)

type job func(ctx context.Context)

// worker runs jobs one at a time in submission order. Stopping it cancels its
// context and drops whatever has not started yet.
type worker struct {
	generation uint64
	queue      *Queue[job]
	ctx        context.Context
	cancel     context.CancelFunc
	logger     *slog.Logger
}

func startWorker(parent context.Context, generation uint64, logger *slog.Logger) *worker {
	ctx, cancel := context.WithCancel(parent)
	w := &worker{
		generation: generation,
		queue:      NewQueue[job](),
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger.With("generation", generation),
	}
	go w.run()
	return w
}

func (w *worker) run() {
	w.logger.Debug("routing worker started")
	for {
		j, ok := w.queue.Pop(w.ctx)
		if !ok {
			w.logger.Debug("routing worker stopped")
			return
		}
		j(w.ctx)
	}
}

func (w *worker) submit(j job) bool {
	return w.queue.Push(j)
}

func (w *worker) stop() int {
	w.cancel()
	return len(w.queue.Close())
}
