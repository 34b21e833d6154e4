package opt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrDuplicateJob   = errors.New("solve already running for this id")
	ErrQueueFull      = errors.New("solver queue full")
	ErrManagerClosed  = errors.New("solver manager closed")
	ErrJobNotFound    = errors.New("no solve running for this id")
	errSolverPanicked = errors.New("solver panicked")
)

// DuplicatePolicy decides what a second submission for a running id does.
type DuplicatePolicy int

const (
	// DuplicateJoin hands the caller the in-flight job.
	DuplicateJoin DuplicatePolicy = iota
	// DuplicateReject fails the submission with ErrDuplicateJob.
	DuplicateReject
)

func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch s {
	case "", "join":
		return DuplicateJoin, nil
	case "reject":
		return DuplicateReject, nil
	}
	return DuplicateJoin, fmt.Errorf("unknown duplicate policy %q", s)
}

type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobSolving JobStatus = "solving"
	JobDone    JobStatus = "done"
)

// SolveFunc runs one solve. It reports every new best through progress and
// must return promptly once ctx is done, with its best result so far.
type SolveFunc[S any] func(ctx context.Context, progress func(S, Score)) (S, Score, error)

// Job is the handle of one solve run. All callers joined on an id share it.
type Job[S any] struct {
	id     string
	runID  string
	fn     SolveFunc[S]
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	status      JobStatus
	best        S
	bestScore   Score
	hasBest     bool
	result      S
	score       Score
	err         error
	submittedAt time.Time
	startedAt   time.Time
	finishedAt  time.Time
}

func (j *Job[S]) ID() string    { return j.id }
func (j *Job[S]) RunID() string { return j.runID }

func (j *Job[S]) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Done is closed once the job has a final result.
func (j *Job[S]) Done() <-chan struct{} { return j.done }

// Cancel asks the solve to stop; Wait still yields its best result.
func (j *Job[S]) Cancel() { j.cancel() }

// Best returns the best solution reported so far.
func (j *Job[S]) Best() (S, Score, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.best, j.bestScore, j.hasBest
}

// Wait blocks until the job finishes or ctx is done. A done ctx abandons the
// wait only; the job keeps running for other callers.
func (j *Job[S]) Wait(ctx context.Context) (S, Score, error) {
	select {
	case <-j.done:
		j.mu.Lock()
		defer j.mu.Unlock()
		return j.result, j.score, j.err
	case <-ctx.Done():
		var zero S
		return zero, Score{}, ctx.Err()
	}
}

func (j *Job[S]) report(s S, sc Score) {
	j.mu.Lock()
	j.best, j.bestScore, j.hasBest = s, sc, true
	j.mu.Unlock()
}

// JobInfo is a point-in-time view of a job.
type JobInfo struct {
	ID          string    `json:"id"`
	RunID       string    `json:"runId"`
	Status      JobStatus `json:"status"`
	BestScore   *Score    `json:"bestScore,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
}

func (j *Job[S]) Info() JobInfo {
	j.mu.Lock()
	defer j.mu.Unlock()
	info := JobInfo{ID: j.id, RunID: j.runID, Status: j.status, SubmittedAt: j.submittedAt, StartedAt: j.startedAt}
	if j.hasBest {
		sc := j.bestScore
		info.BestScore = &sc
	}
	return info
}

type ManagerOptions struct {
	Name      string
	Workers   int
	QueueSize int
	Duplicate DuplicatePolicy
	Logger    *zap.Logger
}

// Manager owns the registry of in-flight solves, at most one per id, and the
// worker pool that runs them.
type Manager[S any] struct {
	name   string
	policy DuplicatePolicy
	log    *zap.Logger
	queue  chan *Job[S]
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	jobs   map[string]*Job[S]
	closed bool
}

func NewManager[S any](opts ManagerOptions) *Manager[S] {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager[S]{
		name:   opts.Name,
		policy: opts.Duplicate,
		log:    opts.Logger.With(zap.String("manager", opts.Name)),
		queue:  make(chan *Job[S], opts.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*Job[S]),
	}
	m.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go m.worker()
	}
	return m
}

// Submit registers a solve for id and queues it. If id is already running the
// duplicate policy applies.
func (m *Manager[S]) Submit(id string, fn SolveFunc[S]) (*Job[S], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	if j, ok := m.jobs[id]; ok {
		if m.policy == DuplicateJoin {
			m.log.Debug("joined running solve", zap.String("id", id), zap.String("run", j.runID))
			return j, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrDuplicateJob, id)
	}
	runID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.WithValue(m.ctx, runIDKey{}, runID))
	j := &Job[S]{
		id:          id,
		runID:       runID,
		fn:          fn,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		status:      JobQueued,
		submittedAt: time.Now(),
	}
	select {
	case m.queue <- j:
	default:
		cancel()
		return nil, ErrQueueFull
	}
	m.jobs[id] = j
	return j, nil
}

type runIDKey struct{}

// RunIDFromContext returns the run id of the job a SolveFunc is running for.
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Solve submits and waits.
func (m *Manager[S]) Solve(ctx context.Context, id string, fn SolveFunc[S]) (S, Score, error) {
	j, err := m.Submit(id, fn)
	if err != nil {
		var zero S
		return zero, Score{}, err
	}
	return j.Wait(ctx)
}

// Job returns the in-flight job for id.
func (m *Manager[S]) Job(id string) (*Job[S], bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	return j, ok
}

// Jobs lists the in-flight jobs.
func (m *Manager[S]) Jobs() []JobInfo {
	m.mu.Lock()
	jobs := make([]*Job[S], 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	m.mu.Unlock()
	out := make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Info())
	}
	return out
}

// BestSolution polls the best solution reported by the running job for id.
func (m *Manager[S]) BestSolution(id string) (S, Score, error) {
	var zero S
	j, ok := m.Job(id)
	if !ok {
		return zero, Score{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	s, sc, ok := j.Best()
	if !ok {
		return zero, Score{}, nil
	}
	return s, sc, nil
}

// Cancel stops the running job for id.
func (m *Manager[S]) Cancel(id string) error {
	j, ok := m.Job(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	j.Cancel()
	return nil
}

// Close cancels every job, stops accepting work and waits for the workers.
func (m *Manager[S]) Close(ctx context.Context) error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	m.mu.Unlock()
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager[S]) worker() {
	defer m.wg.Done()
	for j := range m.queue {
		m.run(j)
	}
}

func (m *Manager[S]) run(j *Job[S]) {
	j.mu.Lock()
	j.status = JobSolving
	j.startedAt = time.Now()
	j.mu.Unlock()

	res, sc, err := m.call(j)

	j.mu.Lock()
	j.result, j.score, j.err = res, sc, err
	j.status = JobDone
	j.finishedAt = time.Now()
	elapsed := j.finishedAt.Sub(j.startedAt)
	j.mu.Unlock()
	j.cancel()

	m.mu.Lock()
	if m.jobs[j.id] == j {
		delete(m.jobs, j.id)
	}
	m.mu.Unlock()
	close(j.done)

	if err != nil {
		m.log.Warn("solve failed", zap.String("id", j.id), zap.String("run", j.runID), zap.Error(err))
		return
	}
	m.log.Debug("solve finished", zap.String("id", j.id), zap.String("run", j.runID),
		zap.Stringer("score", sc), zap.Duration("elapsed", elapsed))
}

func (m *Manager[S]) call(j *Job[S]) (res S, sc Score, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", errSolverPanicked, j.id, r)
		}
	}()
	return j.fn(j.ctx, j.report)
}
