package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"
)

// JobRun records one claimed (job, slot). The unique pair lets exactly one
// instance run a due slot.
type JobRun struct {
	ID         uuid.UUID  `gorm:"type:char(36);primaryKey"`
	Job        string     `gorm:"type:varchar(64);not null;uniqueIndex:ux_scheduled_job_slot,priority:1"`
	Slot       time.Time  `gorm:"not null;uniqueIndex:ux_scheduled_job_slot,priority:2"`
	RunID      string     `gorm:"type:varchar(26);not null"`
	StartedAt  time.Time  `gorm:"not null"`
	FinishedAt *time.Time `gorm:"column:finished_at"`
	Processed  int        `gorm:"not null;default:0"`
	Error      string     `gorm:"type:text;not null"`
}

func (JobRun) TableName() string { return "scheduled_job_runs" }

func (s *Scheduler) claimSlot(ctx context.Context, job string, slot time.Time, runID string) (*JobRun, bool, error) {
	run := &JobRun{
		ID:        uuid.Must(uuid.NewV7()),
		Job:       job,
		Slot:      slot.UTC(),
		RunID:     runID,
		StartedAt: s.clock.Now(),
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job"}, {Name: "slot"}},
			DoNothing: true,
		}).
		Create(run)
	if res.Error != nil {
		return nil, false, res.Error
	}
	return run, res.RowsAffected == 1, nil
}

func (s *Scheduler) finishSlot(ctx context.Context, run *JobRun, processed int, runErr error) error {
	now := s.clock.Now()
	updates := map[string]any{
		"finished_at": now,
		"processed":   processed,
		"error":       "",
	}
	if runErr != nil {
		updates["error"] = runErr.Error()
	}
	return s.db.WithContext(ctx).
		Model(&JobRun{}).
		Where("id = ?", run.ID).
		Updates(updates).Error
}

// PruneRuns drops claim records older than before.
func (s *Scheduler) PruneRuns(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("slot < ?", before.UTC()).Delete(&JobRun{})
	return res.RowsAffected, res.Error
}
