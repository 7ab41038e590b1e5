package api

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/khanhnv2901/tlsinspect/internal/engine"
	"github.com/khanhnv2901/tlsinspect/internal/shared/constants"
	apperrors "github.com/khanhnv2901/tlsinspect/internal/shared/errors"
	"go.uber.org/zap"
)

// JobStatus is the lifecycle state of an asynchronous inspection.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobError   JobStatus = "error"
)

// Job is a batch of inspections run in the background. Jobs live in memory
// only.
type Job struct {
	ID         string          `json:"id"`
	Status     JobStatus       `json:"status"`
	Targets    []engine.Target `json:"targets"`
	Completed  int             `json:"completed"`
	Failed     int             `json:"failed"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Results    []engine.Result `json:"results,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// JobRequest starts a job. Targets use the same forms as the CLI.
type JobRequest struct {
	Targets   []string `json:"targets"`
	TimeoutMS int      `json:"timeout_ms,omitempty"`
}

// JobManager runs jobs on an engine.Runner and fans updates out to
// subscribers.
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	subscribers map[chan Job]struct{}
	maxJobs     int // completed jobs beyond this are evicted, oldest first
	maxTargets  int
	maxTimeout  time.Duration

	inspector engine.Inspector
	runner    engine.Runner
	logger    *zap.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewJobManager returns a manager that inspects with inspector under the
// limits of runner.
func NewJobManager(inspector engine.Inspector, runner engine.Runner, logger *zap.Logger) *JobManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &JobManager{
		jobs:        make(map[string]*Job),
		subscribers: make(map[chan Job]struct{}),
		maxJobs:     1000,
		maxTargets:  100,
		maxTimeout:  constants.DefaultMaxRequestTimeout,
		inspector:   inspector,
		runner:      runner,
		logger:      logger,
		stop:        make(chan struct{}),
	}
	go m.cleanupLoop(5 * time.Minute)
	return m
}

// StartJob validates req, records a pending job and runs it in the
// background. The request context only bounds validation; the job outlives
// the HTTP request.
func (m *JobManager) StartJob(_ context.Context, req JobRequest) (*Job, error) {
	if len(req.Targets) == 0 {
		return nil, fmt.Errorf("%w: at least one target is required", apperrors.ErrInvalidTarget)
	}
	if len(req.Targets) > m.maxTargets {
		return nil, fmt.Errorf("%w: at most %d targets per job", apperrors.ErrInvalidTarget, m.maxTargets)
	}
	targets, err := engine.ParseTargets(req.Targets)
	if err != nil {
		return nil, err
	}

	if req.TimeoutMS < 0 {
		return nil, apperrors.ErrInvalidTimeout
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.stop:
		return nil, apperrors.ErrJobManagerClosed
	default:
	}

	runner := m.runner
	if req.TimeoutMS > 0 {
		runner.Timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}
	if runner.Timeout > m.maxTimeout {
		runner.Timeout = m.maxTimeout
	}
	if err := runner.Validate(); err != nil {
		return nil, err
	}

	job := &Job{
		ID:        uuid.NewString(),
		Status:    JobPending,
		Targets:   targets,
		CreatedAt: time.Now().UTC(),
	}
	m.jobs[job.ID] = job
	snapshot := *job
	m.broadcast(snapshot)

	// Added under m.mu so Close cannot start waiting before the job is counted.
	m.wg.Add(1)
	go m.run(job.ID, runner, targets)
	return &snapshot, nil
}

func (m *JobManager) run(id string, runner engine.Runner, targets []engine.Target) {
	defer m.wg.Done()
	logger := m.logger.With(zap.String("job_id", id), zap.Int("targets", len(targets)))

	m.update(id, func(j *Job) {
		now := time.Now().UTC()
		j.Status = JobRunning
		j.StartedAt = &now
	})
	logger.Info("job started")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-m.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	results := runner.Run(ctx, m.inspector, targets, func(res engine.Result) {
		m.update(id, func(j *Job) {
			j.Completed++
			if res.Err != nil {
				j.Failed++
			}
		})
	})

	m.update(id, func(j *Job) {
		now := time.Now().UTC()
		j.FinishedAt = &now
		j.Results = results
		j.Status = JobDone
		if j.Failed == len(targets) {
			j.Status = JobError
			j.Error = "every target failed"
		}
	})
	logger.Info("job finished")
}

func (m *JobManager) update(id string, fn func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return
	}
	fn(job)
	m.broadcast(*job)
}

// GetJob returns a copy of the job.
func (m *JobManager) GetJob(_ context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, apperrors.ErrJobNotFound
	}
	out := *job
	return &out, nil
}

// ListJobs returns up to limit jobs, newest first, without their results.
func (m *JobManager) ListJobs(_ context.Context, limit int) ([]Job, error) {
	m.mu.RLock()
	jobs := make([]Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		summary := *job
		summary.Results = nil
		jobs = append(jobs, summary)
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].ID > jobs[j].ID
	})
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// Subscribe returns a channel of job updates and a function that closes it.
// Updates are dropped for subscribers that fall behind.
func (m *JobManager) Subscribe() (chan Job, func()) {
	ch := make(chan Job, 32)
	m.mu.Lock()
	m.subscribers[ch] = struct{}{}
	m.mu.Unlock()
	return ch, func() {
		m.mu.Lock()
		if _, ok := m.subscribers[ch]; ok {
			delete(m.subscribers, ch)
			close(ch)
		}
		m.mu.Unlock()
	}
}

// broadcast must be called with m.mu held.
func (m *JobManager) broadcast(job Job) {
	for ch := range m.subscribers {
		select {
		case ch <- job:
		default:
			m.logger.Debug("dropped job update for slow subscriber", zap.String("job_id", job.ID))
		}
	}
}

// Close cancels running jobs, rejects new ones and waits for running jobs to
// stop.
func (m *JobManager) Close() {
	m.mu.Lock()
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// Ready reports whether the manager accepts new jobs.
func (m *JobManager) Ready(context.Context) error {
	select {
	case <-m.stop:
		return apperrors.ErrJobManagerClosed
	default:
		return nil
	}
}

// SetMaxJobs configures the maximum number of jobs to retain in memory
func (m *JobManager) SetMaxJobs(max int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if max > 0 {
		m.maxJobs = max
	}
}

// SetMaxTimeout caps the per-target timeout a job request may ask for.
func (m *JobManager) SetMaxTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d > 0 {
		m.maxTimeout = d
	}
}

func (m *JobManager) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.evict()
		}
	}
}

// evict drops the oldest finished jobs until at most maxJobs remain.
func (m *JobManager) evict() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.jobs) <= m.maxJobs {
		return
	}

	var finished []*Job
	for _, job := range m.jobs {
		if job.FinishedAt != nil {
			finished = append(finished, job)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].FinishedAt.Before(*finished[j].FinishedAt)
	})

	toRemove := len(m.jobs) - m.maxJobs
	if toRemove > len(finished) {
		toRemove = len(finished)
	}
	for _, job := range finished[:toRemove] {
		delete(m.jobs, job.ID)
	}
}
