package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/greenledger/internal/clock"
	notificationdomain "github.com/smallbiznis/greenledger/internal/notification/domain"
	"github.com/smallbiznis/greenledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubNotifications struct {
	notificationdomain.Service

	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
}

func newStubNotifications() *stubNotifications {
	return &stubNotifications{calls: map[string]int{}, fail: map[string]error{}}
}

func (s *stubNotifications) record(name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[name]++
	if err := s.fail[name]; err != nil {
		return 0, err
	}
	return 1, nil
}

func (s *stubNotifications) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func (s *stubNotifications) Milestones(context.Context) (int, error) { return s.record(JobMilestones) }
func (s *stubNotifications) WeeklySummaries(context.Context) (int, error) {
	return s.record(JobWeeklySummary)
}
func (s *stubNotifications) MonthlyReports(context.Context) (int, error) {
	return s.record(JobMonthlyReport)
}
func (s *stubNotifications) DataQuality(context.Context) (int, error) {
	return s.record(JobDataQuality)
}
func (s *stubNotifications) Retention(context.Context) (int, error) {
	return s.record(JobNotificationRetention)
}
func (s *stubNotifications) Dispatch(context.Context) (int, error) {
	return s.record(JobNotificationDispatch)
}

// Monday, 13 May 2024.
var monday = time.Date(2024, 5, 13, 9, 0, 10, 0, time.UTC)

func newScheduler(t *testing.T, conn *gorm.DB, fc clock.Clock, notes *stubNotifications, cfg Config) *Scheduler {
	t.Helper()
	s, err := New(Params{
		DB:            conn,
		Log:           zap.NewNop(),
		Clock:         fc,
		Config:        cfg,
		Notifications: notes,
	})
	require.NoError(t, err)
	return s
}

func TestRunOnceRunsDueJobs(t *testing.T) {
	conn := db.NewTest(t, &JobRun{})
	fc := clock.NewFakeClock(monday)
	notes := newStubNotifications()
	s := newScheduler(t, conn, fc, notes, DefaultConfig())

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 1, notes.count(JobMilestones))
	assert.Equal(t, 1, notes.count(JobWeeklySummary))
	assert.Equal(t, 1, notes.count(JobNotificationDispatch))
	assert.Zero(t, notes.count(JobMonthlyReport))
	assert.Zero(t, notes.count(JobDataQuality))

	var runs []JobRun
	require.NoError(t, conn.Order("job").Find(&runs).Error)
	require.Len(t, runs, 3)
	for _, r := range runs {
		assert.NotNil(t, r.FinishedAt)
		assert.Equal(t, 1, r.Processed)
		assert.Len(t, r.RunID, 26)
		assert.Empty(t, r.Error)
	}

	// Same minute: nothing is due again.
	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 1, notes.count(JobMilestones))
}

func TestClaimedSlotRunsOnce(t *testing.T) {
	conn := db.NewTest(t, &JobRun{})
	fc := clock.NewFakeClock(monday)
	first := newStubNotifications()
	second := newStubNotifications()
	a := newScheduler(t, conn, fc, first, DefaultConfig())
	b := newScheduler(t, conn, fc, second, DefaultConfig())

	require.NoError(t, a.RunOnce(context.Background()))
	require.NoError(t, b.RunOnce(context.Background()))

	assert.Equal(t, 1, first.count(JobWeeklySummary))
	assert.Zero(t, second.count(JobWeeklySummary))
	assert.Zero(t, second.count(JobMilestones))

	var total int64
	require.NoError(t, conn.Model(&JobRun{}).Count(&total).Error)
	assert.EqualValues(t, 3, total)
}

func TestNextSlotRunsAfterClockAdvances(t *testing.T) {
	conn := db.NewTest(t, &JobRun{})
	fc := clock.NewFakeClock(monday)
	notes := newStubNotifications()
	s := newScheduler(t, conn, fc, notes, DefaultConfig())

	require.NoError(t, s.RunOnce(context.Background()))
	fc.Advance(time.Hour)
	require.NoError(t, s.RunOnce(context.Background()))

	assert.Equal(t, 2, notes.count(JobMilestones))
	assert.Equal(t, 1, notes.count(JobWeeklySummary))
	assert.Equal(t, 2, notes.count(JobNotificationDispatch))
}

func TestEnabledJobsFilter(t *testing.T) {
	conn := db.NewTest(t, &JobRun{})
	fc := clock.NewFakeClock(monday)
	notes := newStubNotifications()
	cfg := DefaultConfig()
	cfg.EnabledJobs = []string{"Milestones"}
	s := newScheduler(t, conn, fc, notes, cfg)

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 1, notes.count(JobMilestones))
	assert.Zero(t, notes.count(JobWeeklySummary))
	assert.Zero(t, notes.count(JobNotificationDispatch))
}

func TestSchedulerHonoursLocation(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)

	conn := db.NewTest(t, &JobRun{})
	// 02:00:10 UTC is 09:00:10 in Jakarta.
	fc := clock.NewFakeClock(time.Date(2024, 5, 13, 2, 0, 10, 0, time.UTC))
	notes := newStubNotifications()
	cfg := DefaultConfig()
	cfg.Location = loc
	s := newScheduler(t, conn, fc, notes, cfg)

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 1, notes.count(JobWeeklySummary))
	assert.Zero(t, notes.count(JobNotificationRetention))
}

func TestFailingJobIsRecorded(t *testing.T) {
	conn := db.NewTest(t, &JobRun{})
	fc := clock.NewFakeClock(monday)
	notes := newStubNotifications()
	notes.fail[JobWeeklySummary] = errors.New("boom")
	s := newScheduler(t, conn, fc, notes, DefaultConfig())

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	// Other due jobs still ran.
	assert.Equal(t, 1, notes.count(JobMilestones))

	var run JobRun
	require.NoError(t, conn.Where("job = ?", JobWeeklySummary).First(&run).Error)
	assert.Contains(t, run.Error, "boom")
	assert.NotNil(t, run.FinishedAt)
}

func TestRunJobsRunsImmediately(t *testing.T) {
	conn := db.NewTest(t, &JobRun{})
	fc := clock.NewFakeClock(monday)
	notes := newStubNotifications()
	s := newScheduler(t, conn, fc, notes, DefaultConfig())

	require.NoError(t, s.RunJobs(context.Background(), NotificationJobs["monthly"]...))
	require.NoError(t, s.RunJobs(context.Background(), NotificationJobs["monthly"]...))
	assert.Equal(t, 2, notes.count(JobMonthlyReport))
	assert.Equal(t, 2, notes.count(JobNotificationDispatch))

	var total int64
	require.NoError(t, conn.Model(&JobRun{}).Count(&total).Error)
	assert.Zero(t, total)

	err := s.RunJobs(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestPruneRuns(t *testing.T) {
	conn := db.NewTest(t, &JobRun{})
	fc := clock.NewFakeClock(monday)
	s := newScheduler(t, conn, fc, newStubNotifications(), DefaultConfig())

	_, ok, err := s.claimSlot(context.Background(), JobMilestones, monday.Add(-40*24*time.Hour), "old")
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = s.claimSlot(context.Background(), JobMilestones, monday, "new")
	require.NoError(t, err)
	require.True(t, ok)

	n, err := s.PruneRuns(context.Background(), monday.Add(-runRetention))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
