package service

import (
	"context"
	"fmt"
	"sync"

	"leadflow/internal/constants"
	"leadflow/internal/metrics"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Runner executes the dispatch pipeline for one submission
type Runner interface {
	Run(ctx context.Context, submissionID string) *DispatchSummary
}

// CompletionHandler receives every finished run, including panicked ones
type CompletionHandler func(summary *DispatchSummary)

// Dispatcher runs submissions in the background on a bounded pool. A full
// queue rejects the submission; it stays unprocessed for the replay scheduler.
type Dispatcher struct {
	runner     Runner
	queue      chan string
	sem        *semaphore.Weighted
	logger     *logrus.Logger
	onComplete CompletionHandler

	mu       sync.Mutex
	inFlight map[string]struct{}
	closed   bool
	started  bool

	runs     sync.WaitGroup
	loopDone chan struct{}
	baseCtx  context.Context
	cancel   context.CancelFunc
}

// NewDispatcher creates a dispatcher with the given worker count and queue size
func NewDispatcher(runner Runner, workers, queueSize int, logger *logrus.Logger) *Dispatcher {
	if workers <= 0 {
		workers = constants.DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = constants.DefaultQueueSize
	}
	d := &Dispatcher{
		runner:   runner,
		queue:    make(chan string, queueSize),
		sem:      semaphore.NewWeighted(int64(workers)),
		logger:   logger,
		inFlight: make(map[string]struct{}),
		loopDone: make(chan struct{}),
	}
	d.onComplete = d.logCompletion
	return d
}

// OnComplete replaces the completion handler. Call it before Start.
func (d *Dispatcher) OnComplete(handler CompletionHandler) {
	if handler != nil {
		d.onComplete = handler
	}
}

// Start begins consuming the queue. Runs inherit ctx values but not its
// cancellation; Shutdown controls how long they may continue.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.baseCtx, d.cancel = context.WithCancel(context.WithoutCancel(ctx))
	d.mu.Unlock()

	go d.loop()
	d.logger.WithField(LogFieldComponent, "dispatcher").Info("Starting dispatcher")
}

// Enqueue schedules submissionID without blocking. It returns false when the
// dispatcher is closed or its queue is full. A submission already queued or
// running is accepted once.
func (d *Dispatcher) Enqueue(submissionID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}
	if _, ok := d.inFlight[submissionID]; ok {
		return true
	}
	select {
	case d.queue <- submissionID:
		d.inFlight[submissionID] = struct{}{}
		metrics.QueueDepth.Inc()
		return true
	default:
		d.logger.WithField(LogFieldSubmissionID, submissionID).Warn("Dispatch queue full, leaving submission for replay")
		return false
	}
}

// InFlight reports how many submissions are queued or running
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inFlight)
}

func (d *Dispatcher) loop() {
	defer close(d.loopDone)
	for id := range d.queue {
		metrics.QueueDepth.Dec()
		if err := d.sem.Acquire(d.baseCtx, 1); err != nil {
			d.logger.WithField(LogFieldSubmissionID, id).Warn("Dispatcher stopping, leaving submission for replay")
			d.release(id)
			continue
		}
		d.runs.Add(1)
		go func(id string) {
			defer d.runs.Done()
			defer d.sem.Release(1)
			d.execute(id)
		}(id)
	}
}

func (d *Dispatcher) execute(id string) {
	var summary *DispatchSummary
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithFields(logrus.Fields{
				LogFieldSubmissionID: id,
				"panic":              r,
			}).Error("Dispatch run panicked")
			summary = &DispatchSummary{
				SubmissionID: id,
				Stage:        StageFailed,
				Err:          fmt.Errorf("dispatch panicked: %v", r),
			}
		}
		d.release(id)
		if summary != nil {
			d.complete(summary)
		}
	}()
	summary = d.runner.Run(d.baseCtx, id)
}

func (d *Dispatcher) complete(summary *DispatchSummary) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithField("panic", r).Error("Completion handler panicked")
		}
	}()
	d.onComplete(summary)
}

func (d *Dispatcher) release(id string) {
	d.mu.Lock()
	delete(d.inFlight, id)
	d.mu.Unlock()
}

// Shutdown stops accepting work and waits for queued and running dispatches.
// When ctx ends first, running dispatches are cancelled and ctx.Err is returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		<-d.loopDone
		d.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		d.logger.WithField(LogFieldComponent, "dispatcher").Info("Dispatcher drained")
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) logCompletion(summary *DispatchSummary) {
	entry := d.logger.WithFields(logrus.Fields{
		LogFieldSubmissionID: summary.SubmissionID,
		LogFieldTenantID:     summary.TenantID,
		LogFieldStage:        summary.Stage,
		LogFieldOutcome:      summary.Outcome(),
		LogFieldDuration:     summary.Duration.Milliseconds(),
	})
	if summary.Err != nil {
		entry.WithError(summary.Err).Debug("Dispatch run finished with error")
		return
	}
	entry.Debug("Dispatch run finished")
}
