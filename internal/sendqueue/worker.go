package sendqueue

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/joshuafuller/ipadapter/internal/metrics"
)

// Sender transmits one message. *Dispatcher implements it.
type Sender interface {
	Dispatch(msg Message)
}

// Worker is the single consumer of a Queue.
type Worker struct {
	queue   *Queue
	sender  Sender
	metrics metrics.Reporter
	log     logrus.FieldLogger
}

// NewWorker returns a worker draining queue into sender.
func NewWorker(queue *Queue, sender Sender, reporter metrics.Reporter, log logrus.FieldLogger) *Worker {
	if reporter == nil {
		reporter = metrics.Noop{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Worker{queue: queue, sender: sender, metrics: reporter, log: log.WithField("component", "sendqueue")}
}

// Run dispatches messages until ctx is cancelled or the queue is closed and
// drained. A message being dispatched when ctx is cancelled is finished
// first; nothing is dispatched after that. Messages still queued at
// cancellation are discarded without reaching the sender or the error
// handler. Run always returns nil.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Debug("send worker started")
	defer w.log.Debug("send worker stopped")
	for {
		msg, err := w.queue.Dequeue(ctx)
		if err != nil {
			w.discard(ctx)
			return nil
		}
		if ctx.Err() != nil {
			w.discard(ctx)
			return nil
		}
		w.sender.Dispatch(msg)
		w.metrics.QueueDepth(w.queue.Len())
	}
}

func (w *Worker) discard(ctx context.Context) {
	if ctx.Err() == nil {
		return
	}
	if n := w.queue.Discard(); n > 0 {
		w.log.WithField("messages", n).Debug("discarded queued messages on stop")
	}
	w.metrics.QueueDepth(0)
}
