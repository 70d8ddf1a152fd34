package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/entitlesync/engine/internal/domain/shared"
	"github.com/entitlesync/engine/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// JobName identifies a background sync job
type JobName string

const (
	JobMappingRefresh       JobName = "mapping_refresh"
	JobPendingTransactions  JobName = "pending_transactions"
	JobSubscriberAttributes JobName = "subscriber_attributes"
	JobCustomerInfoRefresh  JobName = "customer_info_refresh"
)

// JobStatus represents the status of the most recent run of a job
type JobStatus string

const (
	JobStatusIdle    JobStatus = "IDLE"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailed  JobStatus = "FAILED"
)

// JobFunc performs one pass of a job
type JobFunc func(ctx context.Context) error

// Job is a named task re-run every Interval. A zero Interval registers
// the job for manual runs only.
type Job struct {
	Name     JobName
	Interval time.Duration
	Run      JobFunc
}

// JobState is a snapshot of a job's run history
type JobState struct {
	Name           JobName    `json:"name"`
	Status         JobStatus  `json:"status"`
	Interval       string     `json:"interval,omitempty"`
	Runs           int        `json:"runs"`
	Failures       int        `json:"failures"`
	Skipped        int        `json:"skipped"`
	LastError      string     `json:"last_error,omitempty"`
	LastStartedAt  *time.Time `json:"last_started_at,omitempty"`
	LastFinishedAt *time.Time `json:"last_finished_at,omitempty"`
}

// Config holds scheduler configuration
type Config struct {
	Enabled      bool
	JobTimeout   time.Duration
	InitialDelay time.Duration
}

// DefaultConfig returns default scheduler configuration
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		JobTimeout: 2 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	if c.JobTimeout <= 0 {
		c.JobTimeout = DefaultConfig().JobTimeout
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	return c
}

type jobEntry struct {
	job     Job
	state   JobState
	running bool
}

// Scheduler runs the background sync jobs on their own intervals. Runs of
// the same job never overlap; a tick that lands while the previous run is
// still in flight is counted as skipped.
type Scheduler struct {
	config Config
	logger *zap.Logger
	clock  shared.Clock

	jobs  map[JobName]*jobEntry
	order []JobName

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock overrides the clock used for run timestamps
func WithClock(clock shared.Clock) Option {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewScheduler creates a scheduler for the given jobs
func NewScheduler(cfg Config, logger *zap.Logger, jobs []Job, opts ...Option) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		config: cfg.withDefaults(),
		logger: logger.Named("sync_scheduler"),
		clock:  shared.SystemClock{},
		jobs:   make(map[JobName]*jobEntry, len(jobs)),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, job := range jobs {
		if job.Name == "" || job.Run == nil {
			return nil, fmt.Errorf("%w: job needs a name and a run function", ErrInvalidConfig)
		}
		if job.Interval < 0 {
			return nil, fmt.Errorf("%w: negative interval for %s", ErrInvalidConfig, job.Name)
		}
		if _, exists := s.jobs[job.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateJob, job.Name)
		}
		state := JobState{Name: job.Name, Status: JobStatusIdle}
		if job.Interval > 0 {
			state.Interval = job.Interval.String()
		}
		s.jobs[job.Name] = &jobEntry{job: job, state: state}
		s.order = append(s.order, job.Name)
	}
	return s, nil
}

// Start launches one loop per periodic job
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("Sync scheduler is disabled")
		return nil
	}

	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	periodic := 0
	for _, name := range s.order {
		entry := s.jobs[name]
		if entry.job.Interval <= 0 {
			continue
		}
		periodic++
		s.wg.Add(1)
		go s.loop(ctx, entry.job)
	}

	s.logger.Info("Sync scheduler started",
		zap.Int("periodic_jobs", periodic),
		zap.Duration("job_timeout", s.config.JobTimeout),
	)
	return nil
}

// Stop cancels the job loops and waits for in-flight runs
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Sync scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Sync scheduler stop timed out")
		return ctx.Err()
	}
}

// IsRunning reports whether the periodic loops are active
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// RunNow runs the named job immediately on the caller's goroutine
func (s *Scheduler) RunNow(ctx context.Context, name JobName) error {
	s.mu.Lock()
	entry, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.execute(ctx, entry.job)
}

// RunAll runs every registered job once, in registration order. Jobs
// already in flight are reported with ErrJobAlreadyRunning.
func (s *Scheduler) RunAll(ctx context.Context) map[JobName]error {
	results := make(map[JobName]error, len(s.order))
	for _, name := range s.order {
		if ctx.Err() != nil {
			results[name] = ctx.Err()
			continue
		}
		results[name] = s.execute(ctx, s.jobs[name].job)
	}
	return results
}

// States returns a snapshot of every job, sorted by name
func (s *Scheduler) States() []JobState {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := make([]JobState, 0, len(s.jobs))
	for _, entry := range s.jobs {
		states = append(states, entry.state)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })
	return states
}

// State returns the snapshot for one job
func (s *Scheduler) State(name JobName) (JobState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.jobs[name]
	if !ok {
		return JobState{}, false
	}
	return entry.state, true
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()

	if s.config.InitialDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.config.InitialDelay):
		}
	}

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		if err := s.execute(ctx, job); err != nil && !errors.Is(err, ErrJobAlreadyRunning) && ctx.Err() == nil {
			s.logger.Warn("Sync job failed",
				zap.String("job", string(job.Name)),
				zap.Error(err),
			)
		}

		select {
		case <-ctx.Done():
			s.logger.Debug("Sync job loop stopping", zap.String("job", string(job.Name)))
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, job Job) error {
	if !s.claim(job.Name) {
		s.logger.Debug("Skipping overlapping sync job run", zap.String("job", string(job.Name)))
		return ErrJobAlreadyRunning
	}

	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	jobCtx, span := telemetry.StartServiceSpan(jobCtx, "sync_scheduler", string(job.Name),
		telemetry.WithAttribute("job.interval", job.Interval),
	)
	defer span.End()

	start := time.Now()
	var err error
	telemetry.WithProfilingLabels(jobCtx, map[string]string{"job": string(job.Name)}, func(ctx context.Context) {
		err = job.Run(ctx)
	})
	elapsed := time.Since(start)

	s.release(job.Name, err)

	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	telemetry.SetOK(span)
	s.logger.Debug("Sync job completed",
		zap.String("job", string(job.Name)),
		zap.Duration("elapsed", elapsed),
	)
	return nil
}

func (s *Scheduler) claim(name JobName) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.jobs[name]
	if entry.running {
		entry.state.Skipped++
		return false
	}
	now := s.clock.Now()
	entry.running = true
	entry.state.Status = JobStatusRunning
	entry.state.LastStartedAt = &now
	return true
}

func (s *Scheduler) release(name JobName, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.jobs[name]
	now := s.clock.Now()
	entry.running = false
	entry.state.Runs++
	entry.state.LastFinishedAt = &now
	if err != nil {
		entry.state.Failures++
		entry.state.Status = JobStatusFailed
		entry.state.LastError = err.Error()
		return
	}
	entry.state.Status = JobStatusSuccess
	entry.state.LastError = ""
}
