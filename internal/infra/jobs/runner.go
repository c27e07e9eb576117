package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	ErrQueueFull = errors.New("job queue full")
	ErrStopped   = errors.New("job runner stopped")
)

// Task is one unit of background work. Run is retried with backoff until it
// succeeds, returns a Permanent error, or MaxAttempts is reached; GiveUp is
// then called with the last error. Tasks sharing a LockKey never run
// concurrently, across processes when the Locker is distributed.
type Task struct {
	Kind        string
	ID          string
	LockKey     string
	MaxAttempts int
	Run         func(ctx context.Context, attempt int) error
	GiveUp      func(ctx context.Context, err error)
}

type Config struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	LockTTL     time.Duration
	TaskTimeout time.Duration
	Backoff     Backoff
	// Permanent classifies errors that retrying cannot fix, in addition to
	// those wrapped with Permanent.
	Permanent func(error) bool
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 2 * time.Minute
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 90 * time.Second
	}
	if c.Backoff.Base <= 0 {
		c.Backoff = DefaultBackoff()
	}
	return c
}

type queuedTask struct {
	task    Task
	attempt int
}

// Runner executes tasks on a fixed pool of workers fed by a bounded queue.
type Runner struct {
	cfg    Config
	locker Locker
	log    logrus.FieldLogger
	queue  chan queuedTask

	mu      sync.Mutex
	started bool
	stopped bool

	// dequeueCtx stops workers from taking new tasks; runCtx bounds tasks
	// already running and is only cancelled when shutdown times out.
	dequeueCtx    context.Context
	stopDequeue   context.CancelFunc
	runCtx        context.Context
	cancelRunning context.CancelFunc

	group   *errgroup.Group
	pending sync.WaitGroup
}

func NewRunner(cfg Config, locker Locker, log logrus.FieldLogger) *Runner {
	cfg = cfg.withDefaults()
	if locker == nil {
		locker = NewMemoryLocker()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Runner{
		cfg:    cfg,
		locker: locker,
		log:    log.WithField("component", "jobs"),
		queue:  make(chan queuedTask, cfg.QueueSize),
	}
}

func (r *Runner) Config() Config {
	return r.cfg
}

func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.dequeueCtx, r.stopDequeue = context.WithCancel(ctx)
	r.runCtx, r.cancelRunning = context.WithCancel(context.WithoutCancel(ctx))

	r.group = &errgroup.Group{}
	for i := 0; i < r.cfg.Workers; i++ {
		r.group.Go(func() error {
			r.work()
			return nil
		})
	}
	r.log.WithField("workers", r.cfg.Workers).Info("job runner started")
}

// Submit enqueues a task without blocking.
func (r *Runner) Submit(task Task) error {
	if task.Run == nil {
		return errors.New("task run func is required")
	}
	if task.MaxAttempts <= 0 {
		task.MaxAttempts = r.cfg.MaxAttempts
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrStopped
	}
	select {
	case r.queue <- queuedTask{task: task, attempt: 1}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops taking new work and waits for running tasks. Tasks still
// running when ctx expires are cancelled.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped || !r.started {
		r.stopped = true
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.mu.Unlock()

	r.stopDequeue()
	done := make(chan struct{})
	go func() {
		_ = r.group.Wait()
		r.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.cancelRunning()
		return nil
	case <-ctx.Done():
		r.cancelRunning()
		<-done
		return ctx.Err()
	}
}

func (r *Runner) work() {
	for {
		select {
		case <-r.dequeueCtx.Done():
			return
		case qt := <-r.queue:
			r.execute(qt)
		}
	}
}

func (r *Runner) execute(qt queuedTask) {
	task := qt.task
	log := r.log.WithFields(logrus.Fields{
		"kind":    task.Kind,
		"task_id": task.ID,
		"attempt": qt.attempt,
	})

	if task.LockKey != "" {
		lock, err := r.locker.Obtain(r.runCtx, task.LockKey, r.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, ErrLockNotObtained) {
				log.Debug("task lock busy; requeueing")
			} else {
				log.WithError(err).Warn("task lock unavailable; requeueing")
			}
			r.retryLater(qt, r.cfg.Backoff.Base)
			return
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lock.Release(releaseCtx); err != nil {
				log.WithError(err).Warn("failed to release task lock")
			}
		}()
	}

	ctx, cancel := context.WithTimeout(r.runCtx, r.cfg.TaskTimeout)
	err := runSafely(ctx, task, qt.attempt)
	cancel()
	if err == nil {
		log.Debug("task finished")
		return
	}
	if r.runCtx.Err() != nil {
		log.WithError(err).Warn("task interrupted by shutdown")
		return
	}

	if r.permanent(err) || qt.attempt >= task.MaxAttempts {
		log.WithError(err).Error("task failed; giving up")
		if task.GiveUp != nil {
			giveUpCtx, cancel := context.WithTimeout(r.runCtx, 10*time.Second)
			task.GiveUp(giveUpCtx, Unwrap(err))
			cancel()
		}
		return
	}
	delay := r.cfg.Backoff.Delay(qt.attempt)
	log.WithError(err).WithField("retry_in", delay.String()).Warn("task failed; retrying")
	r.retryLater(queuedTask{task: task, attempt: qt.attempt + 1}, delay)
}

func (r *Runner) permanent(err error) bool {
	if IsPermanent(err) {
		return true
	}
	return r.cfg.Permanent != nil && r.cfg.Permanent(err)
}

func (r *Runner) retryLater(qt queuedTask, delay time.Duration) {
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-r.dequeueCtx.Done():
			return
		case <-timer.C:
		}
		select {
		case r.queue <- qt:
		case <-r.dequeueCtx.Done():
		}
	}()
}

func runSafely(ctx context.Context, task Task, attempt int) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task panicked: %v", rec)
		}
	}()
	return task.Run(ctx, attempt)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Unwrap strips the Permanent marker.
func Unwrap(err error) error {
	var p *permanentError
	if errors.As(err, &p) {
		return p.err
	}
	return err
}
