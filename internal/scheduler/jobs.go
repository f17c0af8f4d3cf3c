package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	JobMilestones            = "milestones"
	JobWeeklySummary         = "weekly_summary"
	JobMonthlyReport         = "monthly_report"
	JobDataQuality           = "data_quality"
	JobNotificationRetention = "notification_retention"
	JobNotificationDispatch  = "notification_dispatch"
	JobImportSweep           = "import_sweep"
	JobRunPrune              = "run_prune"
)

// runRetention bounds how long claim records are kept.
const runRetention = 30 * 24 * time.Hour

// Job is a periodic task. Run reports how many items it processed.
type Job struct {
	Name     string
	Spec     string
	Timeout  time.Duration
	Resource string
	Run      func(ctx context.Context) (int, error)

	schedule cron.Schedule
}

func (s *Scheduler) defaultJobs() []Job {
	jobs := []Job{
		{Name: JobMilestones, Spec: "0 * * * *", Timeout: 5 * time.Minute, Resource: "notifications", Run: s.notifications.Milestones},
		{Name: JobWeeklySummary, Spec: "0 9 * * 1", Timeout: 10 * time.Minute, Resource: "notifications", Run: s.notifications.WeeklySummaries},
		{Name: JobMonthlyReport, Spec: "0 9 1 * *", Timeout: 10 * time.Minute, Resource: "notifications", Run: s.notifications.MonthlyReports},
		{Name: JobDataQuality, Spec: "0 8 * * *", Timeout: 10 * time.Minute, Resource: "notifications", Run: s.notifications.DataQuality},
		{Name: JobNotificationRetention, Spec: "0 2 * * *", Timeout: 5 * time.Minute, Resource: "notification_logs", Run: s.notifications.Retention},
		{Name: JobNotificationDispatch, Spec: "* * * * *", Timeout: 50 * time.Second, Resource: "notifications", Run: s.notifications.Dispatch},
		{Name: JobRunPrune, Spec: "15 2 * * *", Timeout: time.Minute, Resource: "scheduled_job_runs", Run: func(ctx context.Context) (int, error) {
			n, err := s.PruneRuns(ctx, s.clock.Now().Add(-runRetention))
			return int(n), err
		}},
	}
	if s.imports != nil {
		jobs = append(jobs, Job{Name: JobImportSweep, Spec: "30 2 * * *", Timeout: 5 * time.Minute, Resource: "import_artifacts", Run: s.imports.Sweep})
	}
	return jobs
}

// NotificationJobs are the jobs run_notifications selects from.
var NotificationJobs = map[string][]string{
	"milestones": {JobMilestones, JobNotificationDispatch},
	"weekly":     {JobWeeklySummary, JobNotificationDispatch},
	"monthly":    {JobMonthlyReport, JobNotificationDispatch},
	"quality":    {JobDataQuality, JobNotificationDispatch},
	"retention":  {JobNotificationRetention},
	"all": {
		JobMilestones, JobWeeklySummary, JobMonthlyReport, JobDataQuality,
		JobNotificationRetention, JobNotificationDispatch,
	},
}
