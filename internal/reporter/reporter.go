// Package reporter runs cyberguard's periodic housekeeping on a cron
// schedule: it snapshots the dashboard summary into the log and the
// inventory gauges, and prunes expired login sessions.
package reporter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cyberguard/cyberguard/internal/dashboard"
)

// Job names registered by Register.
const (
	JobSummary      = "summary"
	JobSessionPrune = "session_prune"
)

// SummarySource computes the dashboard summary.
type SummarySource interface {
	Summary(ctx context.Context) (dashboard.Summary, error)
}

// SessionPruner drops expired sessions and reports how many remain.
type SessionPruner interface {
	Prune(ctx context.Context) int
	Active() int
}

// Gauges receives the values each report publishes.
type Gauges interface {
	SetSummary(dashboard.Summary)
	SetActiveSessions(int)
}

// Reporter manages scheduled jobs.
type Reporter struct {
	cron   *cron.Cron
	logger *slog.Logger
	jobs   map[string]*Job
	mu     sync.RWMutex

	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Job is a scheduled job and its run state.
type Job struct {
	Name     string
	Schedule string
	CronID   cron.EntryID
	LastRun  time.Time
	NextRun  time.Time
	Runs     int
	Running  bool
	LastErr  error
	run      func(ctx context.Context) error
	schedule cron.Schedule
}

// New creates a reporter with no jobs.
func New(logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reporter{
		cron:   cron.New(),
		logger: logger,
		jobs:   make(map[string]*Job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register adds the summary and session prune jobs on schedule. gauges may
// be nil when metrics are disabled.
func (r *Reporter) Register(schedule string, summaries SummarySource, sessions SessionPruner, gauges Gauges) error {
	if err := r.AddJob(JobSummary, schedule, func(ctx context.Context) error {
		s, err := summaries.Summary(ctx)
		if err != nil {
			return fmt.Errorf("compute summary: %w", err)
		}
		r.logger.Info("Dashboard summary",
			"devices", s.DeviceCount,
			"open_ports", s.OpenPortsCount,
			"critical_cves", s.CriticalCVECount,
			"security_items", s.SecurityItemsCount)
		if gauges != nil {
			gauges.SetSummary(s)
		}
		return nil
	}); err != nil {
		return err
	}

	return r.AddJob(JobSessionPrune, schedule, func(ctx context.Context) error {
		pruned := sessions.Prune(ctx)
		active := sessions.Active()
		if pruned > 0 {
			r.logger.Info("Pruned expired sessions", "pruned", pruned, "active", active)
		}
		if gauges != nil {
			gauges.SetActiveSessions(active)
		}
		return nil
	})
}

// AddJob schedules fn under name using a standard cron spec.
func (r *Reporter) AddJob(name, spec string, fn func(ctx context.Context) error) error {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", spec, name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	job := &Job{
		Name:     name,
		Schedule: spec,
		NextRun:  schedule.Next(time.Now()),
		run:      fn,
		schedule: schedule,
	}
	job.CronID = r.cron.Schedule(schedule, cron.FuncJob(func() { r.RunJob(name) }))
	r.jobs[name] = job

	r.logger.Debug("Added job", "job", name, "schedule", spec)
	return nil
}

// RunJob executes a job immediately. A job that is still running is
// skipped. It returns false if the job was not run.
func (r *Reporter) RunJob(name string) bool {
	job, ok := r.prepareJobExecution(name)
	if !ok {
		return false
	}

	err := job.run(r.ctx)
	if err != nil {
		r.logger.Error("Job failed", "job", name, "error", err)
	}

	r.cleanupJobExecution(name, err)
	return true
}

func (r *Reporter) prepareJobExecution(name string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, exists := r.jobs[name]
	if !exists {
		return nil, false
	}
	if job.Running {
		r.logger.Warn("Job is already running, skipping", "job", name)
		return nil, false
	}

	job.Running = true
	job.LastRun = time.Now()
	return job, true
}

func (r *Reporter) cleanupJobExecution(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if job, exists := r.jobs[name]; exists {
		job.Running = false
		job.Runs++
		job.LastErr = err
		job.NextRun = job.schedule.Next(time.Now())
	}
}

// Jobs returns a snapshot of all jobs.
func (r *Reporter) Jobs() []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, *j)
	}
	return out
}

// Start begins the cron scheduler.
func (r *Reporter) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("reporter is already running")
	}

	r.cron.Start()
	r.running = true

	r.logger.Info("Reporter started", "jobs", len(r.jobs))
	return nil
}

// Stop stops the scheduler and waits for running jobs to finish.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.cancel()
	<-r.cron.Stop().Done()

	r.logger.Info("Reporter stopped")
}

// Run starts the reporter and blocks until ctx is done.
func (r *Reporter) Run(ctx context.Context) error {
	if err := r.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	r.Stop()
	return nil
}
