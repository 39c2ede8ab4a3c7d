// Package scheduler runs periodic maintenance jobs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc is one run of a job. It must return when ctx is done.
type JobFunc func(ctx context.Context) error

// Job describes a registered job.
type Job struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next,omitzero"`
	Runs     int       `json:"runs"`
	LastErr  string    `json:"last_error,omitempty"`
}

type runningJob struct {
	job Job
	id  cron.EntryID
	fn  JobFunc
}

// Scheduler manages periodic background jobs. Schedules accept the
// standard five-field cron syntax and descriptors such as "@every 10m".
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	jobs    map[string]*runningJob
	logger  *slog.Logger
	timeout time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// New returns a stopped scheduler. timeout bounds each job run; zero
// means no bound.
func New(logger *slog.Logger, timeout time.Duration) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		jobs:    make(map[string]*runningJob),
		logger:  logger,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add registers fn under name. Names are unique.
func (s *Scheduler) Add(name, schedule string, fn JobFunc) error {
	if name == "" {
		return errors.New("scheduler: job name is required")
	}
	if fn == nil {
		return fmt.Errorf("scheduler: job %q has no function", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("scheduler: job %q already exists", name)
	}
	rj := &runningJob{job: Job{Name: name, Schedule: schedule}, fn: fn}
	id, err := s.cron.AddFunc(schedule, func() { s.run(rj) })
	if err != nil {
		return fmt.Errorf("scheduler: job %q: invalid schedule %q: %w", name, schedule, err)
	}
	rj.id = id
	s.jobs[name] = rj
	return nil
}

// RunNow runs the named job synchronously, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	rj, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: job %q not found", name)
	}
	return s.run(rj)
}

func (s *Scheduler) run(rj *runningJob) error {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	err := rj.fn(ctx)

	s.mu.Lock()
	rj.job.Runs++
	rj.job.LastErr = ""
	if err != nil {
		rj.job.LastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("scheduled job failed",
			slog.String("job", rj.job.Name),
			slog.String("error", err.Error()),
		)
		return err
	}
	s.logger.Debug("scheduled job finished",
		slog.String("job", rj.job.Name),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		s.cron.Start()
		s.started = true
	}
}

// Stop cancels running jobs and waits for them to drain or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Jobs lists registered jobs sorted by name.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, rj := range s.jobs {
		j := rj.job
		if e := s.cron.Entry(rj.id); e.Valid() {
			j.Next = e.Next
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}
