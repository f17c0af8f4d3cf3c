package scheduler

import (
	"context"
	"time"

	obscontext "github.com/smallbiznis/greenledger/internal/observability/context"
	obslogger "github.com/smallbiznis/greenledger/internal/observability/logger"
	"github.com/smallbiznis/greenledger/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

// jobRun is one execution of a job, either for a claimed slot or an ad hoc
// RunJobs call (zero slot).
type jobRun struct {
	job            string
	runID          string
	slot           time.Time
	startedAt      time.Time
	processedCount int
	errorCount     int
}

func newJobRun(job string, slot time.Time) *jobRun {
	return &jobRun{
		job:   job,
		runID: correlation.NewID(),
		slot:  slot,
	}
}

// withJobRun marks ctx as scheduler work so notifications and import rows
// written by the job carry its run id in logs and spans.
func withJobRun(ctx context.Context, run *jobRun) context.Context {
	ctx = correlation.ContextWithCorrelationID(ctx, run.runID)
	ctx = obscontext.WithRequestID(ctx, run.runID)
	return obscontext.WithActor(ctx, "scheduler", run.job)
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (r *jobRun) fields() []zap.Field {
	fields := []zap.Field{
		zap.String("job", r.job),
		zap.String("run_id", r.runID),
	}
	if !r.slot.IsZero() {
		fields = append(fields, zap.Time("slot", r.slot))
	}
	return fields
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	run.startedAt = s.clock.Now()
	s.logger(ctx).Info("scheduler.job.start", run.fields()...)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	fields := append(run.fields(),
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int("processed_count", run.processedCount),
		zap.Int("error_count", run.errorCount),
	)
	log := s.logger(ctx)
	if run.errorCount > 0 {
		log.Warn("scheduler.job.finish", fields...)
		return
	}
	log.Info("scheduler.job.finish", fields...)
}
