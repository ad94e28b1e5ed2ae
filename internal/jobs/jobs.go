// Package jobs runs workflow generations in the background and reports
// their status for polling.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrJobNotFound means the id is unknown or its record has expired.
	ErrJobNotFound = errors.New("job not found")
	// ErrQueueClosed is returned by Enqueue after Close.
	ErrQueueClosed = errors.New("job queue closed")
)

// State is a job's lifecycle state.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Done reports whether the job has finished either way.
func (s State) Done() bool {
	return s == StateCompleted || s == StateFailed
}

// Handle identifies an enqueued job. ExternalID and AccessToken are set
// by queues backed by a third-party service and let a client poll it
// directly.
type Handle struct {
	ID          string `json:"id"`
	ExternalID  string `json:"externalId,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
}

// Status is a point-in-time view of a job.
type Status[R any] struct {
	ID         string    `json:"id"`
	State      State     `json:"state"`
	Result     R         `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}

// Queue accepts payloads and runs them in the background. Jobs are not
// tied to the enqueuing context; they keep running when the caller goes
// away.
type Queue[P, R any] interface {
	Enqueue(ctx context.Context, payload P) (Handle, error)
	Status(ctx context.Context, id string) (Status[R], error)
}

// Handler does the work for one job.
type Handler[P, R any] func(ctx context.Context, payload P) (R, error)

// LocalQueue runs jobs in-process with a bounded number of concurrent
// workers. Finished jobs are forgotten after the retention period.
type LocalQueue[P, R any] struct {
	handler   Handler[P, R]
	sem       *semaphore.Weighted
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	mu     sync.Mutex
	jobs   map[string]*Status[R]
	closed bool
}

var _ Queue[struct{}, struct{}] = (*LocalQueue[struct{}, struct{}])(nil)

// Option configures a LocalQueue.
type Option func(*options)

type options struct {
	workers   int64
	retention time.Duration
	logger    *slog.Logger
}

// WithWorkers caps concurrently running jobs. Default 4.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = int64(n)
		}
	}
}

// WithRetention sets how long finished jobs stay visible. Default 1h.
func WithRetention(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retention = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewLocalQueue starts an in-process queue that runs handler for each
// enqueued payload. Call Close to stop the workers.
func NewLocalQueue[P, R any](handler Handler[P, R], opts ...Option) *LocalQueue[P, R] {
	o := options{workers: 4, retention: time.Hour, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalQueue[P, R]{
		handler:   handler,
		sem:       semaphore.NewWeighted(o.workers),
		retention: o.retention,
		logger:    o.logger,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		jobs:      make(map[string]*Status[R]),
	}
}

// Enqueue implements Queue.
func (q *LocalQueue[P, R]) Enqueue(ctx context.Context, payload P) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return Handle{}, ErrQueueClosed
	}
	q.expireLocked()

	id := uuid.NewString()
	q.jobs[id] = &Status[R]{ID: id, State: StateQueued, CreatedAt: q.now().UTC()}
	q.group.Go(func() error {
		q.run(id, payload)
		return nil
	})
	q.logger.Debug("job enqueued", "job_id", id)
	return Handle{ID: id}, nil
}

func (q *LocalQueue[P, R]) run(id string, payload P) {
	if err := q.sem.Acquire(q.ctx, 1); err != nil {
		q.finish(id, *new(R), fmt.Errorf("queue closed before job started: %w", err))
		return
	}
	defer q.sem.Release(1)

	q.setState(id, StateRunning)
	result, err := q.invoke(payload)
	q.finish(id, result, err)
}

// invoke runs the handler, turning a panic into a failed job.
func (q *LocalQueue[P, R]) invoke(payload P) (result R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return q.handler(q.ctx, payload)
}

func (q *LocalQueue[P, R]) setState(id string, state State) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job, ok := q.jobs[id]; ok {
		job.State = state
	}
}

func (q *LocalQueue[P, R]) finish(id string, result R, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return
	}
	job.FinishedAt = q.now().UTC()
	if err != nil {
		job.State = StateFailed
		job.Error = err.Error()
		q.logger.Warn("job failed", "job_id", id, "error", err)
		return
	}
	job.State = StateCompleted
	job.Result = result
}

// Status implements Queue.
func (q *LocalQueue[P, R]) Status(ctx context.Context, id string) (Status[R], error) {
	if err := ctx.Err(); err != nil {
		return Status[R]{}, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.expireLocked()
	job, ok := q.jobs[id]
	if !ok {
		return Status[R]{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return *job, nil
}

func (q *LocalQueue[P, R]) expireLocked() {
	cutoff := q.now().Add(-q.retention)
	for id, job := range q.jobs {
		if job.State.Done() && job.FinishedAt.Before(cutoff) {
			delete(q.jobs, id)
		}
	}
}

// Close stops accepting jobs, cancels running ones and waits for them.
func (q *LocalQueue[P, R]) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cancel()
	return q.group.Wait()
}
