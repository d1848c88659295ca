package restore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mmdatafocus/restore_backend/utils"
	"github.com/sirupsen/logrus"
)

const (
	minRestartDelay = time.Second
	maxRestartDelay = 30 * time.Second
)

// Runner executes the upstream work for one username.
type Runner interface {
	Run(ctx context.Context, username string) (Outcome, error)
}

// Emitter accepts lifecycle events without blocking.
type Emitter interface {
	Emit(ev Event)
}

// Worker drains the queue one request at a time.
type Worker struct {
	Store     *RequestStore
	Queue     *FIFOQueue
	Estimator *Estimator
	Runner    Runner
	Events    Emitter
	Logger    *logrus.Logger

	now    func() time.Time
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWorker(store *RequestStore, queue *FIFOQueue, est *Estimator, runner Runner, events Emitter, logger *logrus.Logger) *Worker {
	return &Worker{
		Store:     store,
		Queue:     queue,
		Estimator: est,
		Runner:    runner,
		Events:    events,
		Logger:    logger,
		now:       time.Now,
	}
}

// Start launches the supervised loop. It returns immediately; a second call
// while running is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.supervise(ctx, w.done)
}

// Stop cancels the loop and waits for the item in flight to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (w *Worker) supervise(ctx context.Context, done chan struct{}) {
	defer close(done)
	delay := minRestartDelay
	for {
		err := w.loop(ctx)
		if ctx.Err() != nil {
			return
		}
		w.Logger.WithFields(logrus.Fields{
			"field": "worker",
			"delay": delay.String(),
		}).Error(fmt.Sprintf("worker loop exited unexpectedly; restarting: %v", err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxRestartDelay {
			delay = maxRestartDelay
		}
	}
}

// loop returns only when ctx is done or something outside the per-item guard
// panicked.
func (w *Worker) loop(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	for {
		id, err := w.Queue.Pop(ctx)
		if err != nil {
			return err
		}
		w.processOne(context.WithoutCancel(ctx), id)
	}
}

func (w *Worker) processOne(ctx context.Context, id string) {
	defer w.Queue.Done(id)
	defer func() {
		if r := recover(); r != nil {
			w.Logger.WithFields(logrus.Fields{
				"field":     "worker",
				"client_id": id,
			}).Errorf("panic while processing request: %v", r)
			w.fail(id, fmt.Sprintf("internal error: %v", r))
		}
	}()

	ctx = utils.SetClientIdInContext(ctx, id)
	req, err := w.Store.MarkProcessing(id, w.now())
	if err != nil {
		w.Logger.WithFields(logrus.Fields{
			"field":     "worker",
			"client_id": id,
		}).Error("cannot start request: " + err.Error())
		return
	}
	w.Events.Emit(Event{
		Kind:       EventProcessing,
		ClientId:   req.ID,
		Username:   req.Username,
		IP:         req.IP,
		OccurredAt: *req.StartedAt,
	})

	out, err := w.Runner.Run(ctx, req.Username)
	if err != nil {
		w.Logger.WithFields(logrus.Fields{
			"field":     "worker",
			"client_id": id,
			"username":  req.Username,
		}).Warn("restore failed: " + err.Error())
		w.fail(id, err.Error())
		return
	}

	done, err := w.Store.MarkCompleted(id, out.Result, w.now())
	if err != nil {
		w.Logger.WithFields(logrus.Fields{
			"field":     "worker",
			"client_id": id,
		}).Error("cannot complete request: " + err.Error())
		return
	}
	w.Estimator.Record(done.CompletedAt.Sub(*done.StartedAt))
	w.Events.Emit(Event{
		Kind:       EventSuccess,
		ClientId:   done.ID,
		Username:   done.Username,
		IP:         done.IP,
		Uid:        out.Result.Uid,
		ProductId:  out.Result.ProductIdentifier,
		Note:       "Unlocked " + out.Result.ProductIdentifier,
		Payload:    out.Entitlements.Raw,
		OccurredAt: *done.CompletedAt,
	})
}

// fail moves id to Error unless it already reached a terminal state.
func (w *Worker) fail(id, msg string) {
	failed, err := w.Store.MarkFailed(id, msg, w.now())
	if err != nil {
		w.Logger.WithFields(logrus.Fields{
			"field":     "worker",
			"client_id": id,
		}).Error("cannot record failure: " + err.Error())
		return
	}
	w.Events.Emit(Event{
		Kind:       EventError,
		ClientId:   failed.ID,
		Username:   failed.Username,
		IP:         failed.IP,
		Note:       msg,
		OccurredAt: *failed.CompletedAt,
	})
}
