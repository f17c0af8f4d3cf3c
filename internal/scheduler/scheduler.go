package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/greenledger/internal/clock"
	"github.com/smallbiznis/greenledger/internal/config"
	importdomain "github.com/smallbiznis/greenledger/internal/importer/domain"
	notificationdomain "github.com/smallbiznis/greenledger/internal/notification/domain"
	obsmetrics "github.com/smallbiznis/greenledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var (
	ErrInvalidConfig = fmt.Errorf("%w: scheduler", config.ErrInvalidConfig)
	ErrUnknownJob    = errors.New("unknown_scheduler_job")
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Clock         clock.Clock
	Config        Config `optional:"true"`
	Notifications notificationdomain.Service
	Imports       importdomain.Service `optional:"true"`
}

type Scheduler struct {
	db            *gorm.DB
	log           *zap.Logger
	cfg           Config
	clock         clock.Clock
	notifications notificationdomain.Service
	imports       importdomain.Service

	jobs []Job
	mu   sync.Mutex
	next map[string]time.Time
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Notifications == nil {
		return nil, ErrInvalidConfig
	}
	s := &Scheduler{
		db:            p.DB,
		log:           p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:           p.Config.withDefaults(),
		clock:         p.Clock,
		notifications: p.Notifications,
		imports:       p.Imports,
		next:          map[string]time.Time{},
	}
	jobs := s.defaultJobs()
	// Slots that fell due within one tick before start still run.
	from := s.clock.Now().Add(-s.cfg.Tick)
	for i := range jobs {
		sched, err := parser.Parse(jobs[i].Spec)
		if err != nil {
			return nil, fmt.Errorf("%w: job %s: %v", ErrInvalidConfig, jobs[i].Name, err)
		}
		jobs[i].schedule = sched
		if s.isJobEnabled(jobs[i].Name) {
			s.next[jobs[i].Name] = s.nextSlot(jobs[i], from)
		}
	}
	s.jobs = jobs
	return s, nil
}

// nextSlot is the first slot of job strictly after t, in the scheduler's
// location.
func (s *Scheduler) nextSlot(job Job, t time.Time) time.Time {
	return job.schedule.Next(t.In(s.cfg.Location))
}

// Jobs returns the names of all known jobs.
func (s *Scheduler) Jobs() []string {
	out := make([]string, len(s.jobs))
	for i, j := range s.jobs {
		out[i] = j.Name
	}
	return out
}

func (s *Scheduler) runJob(parent context.Context, job Job, run *jobRun) (int, error) {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, job.Timeout)
	defer cancel()

	ctx = withJobRun(ctx, run)
	s.logJobStart(ctx, run)
	log := s.logger(ctx).With(
		zap.String("job", job.Name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(job.Name)

	n, err := job.Run(ctx)
	run.processedCount = n
	schedMetrics.AddProcessed(job.Name, job.Resource, n)
	schedMetrics.ObserveJobDuration(job.Name, s.clock.Now().Sub(start))
	if err != nil {
		run.errorCount++
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return n, nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded)
	if isTimeout {
		schedMetrics.IncJobTimeout(job.Name)
	}
	schedMetrics.IncJobError(job.Name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", job.Timeout),
			zap.Error(err),
		)
		return n, nil
	}
	return n, fmt.Errorf("%s: %w", job.Name, err)
}

type dueJob struct {
	job  Job
	slot time.Time
}

// RunOnce runs every job whose next slot is at or before now. Each slot is
// claimed first, so an instance that loses the claim skips it. Job errors
// are joined and returned after all due jobs finish.
func (s *Scheduler) RunOnce(parent context.Context) error {
	now := s.clock.Now()
	var due []dueJob
	s.mu.Lock()
	for _, job := range s.jobs {
		slot, ok := s.next[job.Name]
		if !ok || now.Before(slot) {
			continue
		}
		due = append(due, dueJob{job: job, slot: slot})
		s.next[job.Name] = s.nextSlot(job, now)
	}
	s.mu.Unlock()

	var (
		mu   sync.Mutex
		errs error
	)
	group, ctx := errgroup.WithContext(parent)
	group.SetLimit(s.cfg.Workers)
	for _, d := range due {
		group.Go(func() error {
			if err := s.runSlot(ctx, d.job, d.slot); err != nil {
				mu.Lock()
				errs = errors.Join(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()
	return errs
}

func (s *Scheduler) runSlot(ctx context.Context, job Job, slot time.Time) error {
	schedMetrics := obsmetrics.Scheduler()
	run := newJobRun(job.Name, slot)
	record, owner, err := s.claimSlot(ctx, job.Name, slot, run.runID)
	if err != nil {
		return fmt.Errorf("%s: claim slot: %w", job.Name, err)
	}
	if !owner {
		schedMetrics.IncSlotSkipped(job.Name, "claimed")
		s.log.Debug("scheduler.slot.skipped", zap.String("job", job.Name), zap.Time("slot", slot))
		return nil
	}

	n, runErr := s.runJob(ctx, job, run)
	if err := s.finishSlot(context.WithoutCancel(ctx), record, n, runErr); err != nil {
		runErr = errors.Join(runErr, err)
	}
	return runErr
}

// RunJobs runs the named jobs immediately, one after another, without
// claiming a slot.
func (s *Scheduler) RunJobs(ctx context.Context, names ...string) error {
	byName := map[string]Job{}
	for _, j := range s.jobs {
		byName[j.Name] = j
	}
	var selected []Job
	seen := map[string]bool{}
	for _, name := range names {
		name = strings.TrimSpace(strings.ToLower(name))
		j, ok := byName[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownJob, name)
		}
		if !seen[name] {
			seen[name] = true
			selected = append(selected, j)
		}
	}

	var errs error
	for _, j := range selected {
		if _, err := s.runJob(ctx, j, newJobRun(j.Name, time.Time{})); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()
	schedMetrics := obsmetrics.Scheduler()

	for {
		started := s.clock.Now()
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		schedMetrics.ObserveRunLoopLag(s.clock.Now().Sub(started) - s.cfg.Tick)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// An empty list enables every job.
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
