// Package background contains services that run independently of the
// HTTP request-response cycle. The mail dispatcher delivers account emails
// off the request path so a slow or failing mail provider never delays or
// fails a signup or account deletion.
package background

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/user/taskmanager-go/config"
	"github.com/user/taskmanager-go/notify"
)

// deliveryResult reports the outcome of one send attempt.
type deliveryResult struct {
	WorkerID int
	Message  notify.Message
	Duration time.Duration
	Err      error
}

// Dispatcher is a fixed pool of workers draining a bounded queue of messages.
//
// Messages flow Enqueue -> queue -> worker -> results -> reporter. Stop closes
// the queue, waits for the workers to finish what is already queued, then
// closes results so the reporter exits.
type Dispatcher struct {
	notifier notify.Notifier
	log      *zap.Logger
	timeout  time.Duration

	queue   chan notify.Message
	results chan deliveryResult

	// mu guards closed. Enqueue holds the read lock across its send so Stop
	// can never close the queue underneath it.
	mu     sync.RWMutex
	closed bool

	workersWg  sync.WaitGroup
	reporterWg sync.WaitGroup
	stopOnce   sync.Once
}

// StartMailDispatcher starts cfg.Workers delivery workers and returns the
// running Dispatcher. Call Stop during shutdown.
func StartMailDispatcher(n notify.Notifier, log *zap.Logger, cfg config.MailConfig) *Dispatcher {
	workers := max(cfg.Workers, 1)
	d := &Dispatcher{
		notifier: n,
		log:      log,
		timeout:  cfg.SendTimeout,
		queue:    make(chan notify.Message, max(cfg.QueueSize, 1)),
		results:  make(chan deliveryResult, workers),
	}

	for i := 0; i < workers; i++ {
		d.workersWg.Add(1)
		go d.worker(i)
	}

	d.reporterWg.Add(1)
	go d.report()

	// results is closed only after every worker has returned.
	go func() {
		d.workersWg.Wait()
		close(d.results)
	}()

	log.Info("mail dispatcher started", zap.Int("workers", workers), zap.Int("queue_size", cap(d.queue)))
	return d
}

// Enqueue hands msg to the workers without blocking. It reports false and
// drops the message when the queue is full or the dispatcher has stopped.
func (d *Dispatcher) Enqueue(msg notify.Message) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.log.Warn("mail dispatcher stopped, dropping message",
			zap.String("to", msg.To.Email), zap.String("subject", msg.Subject))
		return false
	}

	select {
	case d.queue <- msg:
		return true
	default:
		d.log.Warn("mail queue full, dropping message",
			zap.String("to", msg.To.Email), zap.String("subject", msg.Subject))
		return false
	}
}

// Stop stops accepting messages and waits until every queued message has
// been attempted, or until ctx is done. It is safe to call more than once.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		d.reporterWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.log.Info("mail dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.log.Warn("mail dispatcher stop timed out with messages still in flight")
		return ctx.Err()
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.workersWg.Done()

	for msg := range d.queue {
		start := time.Now()
		err := d.send(msg)
		d.results <- deliveryResult{WorkerID: id, Message: msg, Duration: time.Since(start), Err: err}
	}
}

func (d *Dispatcher) send(msg notify.Message) error {
	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	return d.notifier.Send(ctx, msg)
}

func (d *Dispatcher) report() {
	defer d.reporterWg.Done()

	for r := range d.results {
		fields := []zap.Field{
			zap.Int("worker", r.WorkerID),
			zap.String("to", r.Message.To.Email),
			zap.String("subject", r.Message.Subject),
			zap.Duration("duration", r.Duration),
		}
		if r.Err != nil {
			d.log.Error("email delivery failed", append(fields, zap.Error(r.Err))...)
			continue
		}
		d.log.Debug("email delivered", fields...)
	}
}
