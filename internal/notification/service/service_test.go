package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/greenledger/internal/authorization"
	carbondomain "github.com/smallbiznis/greenledger/internal/carbon/domain"
	"github.com/smallbiznis/greenledger/internal/clock"
	"github.com/smallbiznis/greenledger/internal/config"
	identitydomain "github.com/smallbiznis/greenledger/internal/identity/domain"
	"github.com/smallbiznis/greenledger/internal/notification/domain"
	"github.com/smallbiznis/greenledger/internal/notification/repository"
	"github.com/smallbiznis/greenledger/internal/tenant"
	"github.com/smallbiznis/greenledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingEmitter struct {
	mu   sync.Mutex
	sent []domain.Message
	err  error
}

func (e *recordingEmitter) Emit(_ context.Context, msg domain.Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.sent = append(e.sent, msg)
	return nil
}

type fixture struct {
	svc     domain.Service
	db      *gorm.DB
	clock   *clock.FakeClock
	emitter *recordingEmitter
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	conn := db.NewTest(t, &domain.Log{}, &domain.Milestone{}, &carbondomain.Footprint{}, &identitydomain.Company{})
	fc := clock.NewFakeClock(now)
	em := &recordingEmitter{}
	f := &fixture{db: conn, clock: fc, emitter: em}
	f.svc = f.service()
	return f
}

func (f *fixture) service() domain.Service {
	return New(Params{
		DB:      f.db,
		Log:     zap.NewNop(),
		Clock:   f.clock,
		Config:  config.Config{Scheduler: config.SchedulerConfig{Workers: 2}},
		Repo:    repository.Provide(),
		Emitter: f.emitter,
	})
}

func (f *fixture) company(t *testing.T) uuid.UUID {
	t.Helper()
	id := uuid.New()
	name := "Company " + id.String()[:8]
	require.NoError(t, f.db.Create(&identitydomain.Company{
		ID:        id,
		Name:      name,
		Slug:      id.String(),
		Tier:      "free",
		CreatedAt: f.clock.Now(),
		UpdatedAt: f.clock.Now(),
	}).Error)
	return id
}

func (f *fixture) footprint(t *testing.T, companyID uuid.UUID, period string, createdAt time.Time, s1, s2, s3 string) carbondomain.Footprint {
	t.Helper()
	label, start, end, err := carbondomain.ParsePeriod(period)
	require.NoError(t, err)
	fp := carbondomain.Footprint{
		ID:              uuid.New(),
		CompanyID:       companyID,
		ReportingPeriod: label,
		PeriodStart:     start,
		PeriodEnd:       end,
		Scope1Emissions: decimal.RequireFromString(s1),
		Scope2Emissions: decimal.RequireFromString(s2),
		Scope3Emissions: decimal.RequireFromString(s3),
		Status:          carbondomain.StatusVerified,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
	fp.Recompute()
	require.NoError(t, f.db.Create(&fp).Error)
	return fp
}

func (f *fixture) logs(t *testing.T, companyID uuid.UUID) []domain.Log {
	t.Helper()
	var out []domain.Log
	require.NoError(t, f.db.Where("company_id = ?", companyID).Order("created_at asc, id asc").Find(&out).Error)
	return out
}

var may2024 = time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC)

func TestMilestoneEmitsOnce(t *testing.T) {
	f := newFixture(t, may2024)
	company := f.company(t)
	f.footprint(t, company, "2024-Q1", may2024.Add(-time.Hour), "50", "30", "25")

	n, err := f.svc.Milestones(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	logs := f.logs(t, company)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.KindMilestone, logs[0].Kind)
	assert.Equal(t, "first_100_tons", logs[0].Payload["milestone"])
	assert.Equal(t, "105.00", logs[0].Payload["total_emissions"])

	n, err = f.svc.Milestones(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, f.logs(t, company), 1)

	sent, err := f.svc.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Len(t, f.emitter.sent, 1)
	assert.Equal(t, "Emissions milestone reached", f.emitter.sent[0].Title)
	assert.Contains(t, f.emitter.sent[0].Summary, "100")

	sent, err = f.svc.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestMilestonesRaceAcrossWorkers(t *testing.T) {
	f := newFixture(t, may2024)
	company := f.company(t)
	f.footprint(t, company, "2024-Q1", may2024.Add(-time.Hour), "400", "300", "500")

	var wg sync.WaitGroup
	totals := make([]int, 4)
	for i := range totals {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := f.service().Milestones(context.Background())
			assert.NoError(t, err)
			totals[i] = n
		}()
	}
	wg.Wait()

	sum := 0
	for _, n := range totals {
		sum += n
	}
	assert.Equal(t, 3, sum)

	var milestones []domain.Milestone
	require.NoError(t, f.db.Where("company_id = ?", company).Order("total_emissions asc").Find(&milestones).Error)
	keys := make([]string, len(milestones))
	for i, m := range milestones {
		keys[i] = m.Threshold
	}
	assert.ElementsMatch(t, []string{"first_100_tons", "first_500_tons", "first_1000_tons"}, keys)
	assert.Len(t, f.logs(t, company), 3)
}

func TestMilestoneUsesLatestPeriod(t *testing.T) {
	f := newFixture(t, may2024)
	company := f.company(t)
	f.footprint(t, company, "2023-Q4", may2024.Add(-time.Hour), "600", "0", "0")
	f.footprint(t, company, "2024-Q1", may2024.Add(-2*time.Hour), "20", "0", "0")

	n, err := f.svc.Milestones(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWeeklySummaryCoversCurrentISOWeek(t *testing.T) {
	monday := time.Date(2024, 5, 13, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, monday)
	active := f.company(t)
	quiet := f.company(t)
	f.footprint(t, active, "2024-Q1", monday.Add(-2*time.Hour), "10", "5", "1")
	f.footprint(t, active, "2023-Q4", monday.Add(-26*time.Hour), "99", "99", "99")
	f.footprint(t, quiet, "2024-Q1", monday.Add(-48*time.Hour), "1", "1", "1")

	n, err := f.svc.WeeklySummaries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	logs := f.logs(t, active)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.KindWeeklySummary, logs[0].Kind)
	assert.Equal(t, "2024-W20", logs[0].Payload["week"])
	assert.Equal(t, "16.00", logs[0].Payload["total_emissions"])
	assert.Empty(t, f.logs(t, quiet))
}

func TestMonthlyReportAggregatesByScope(t *testing.T) {
	first := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, first)
	company := f.company(t)
	f.footprint(t, company, "2024-Q1", first.Add(-time.Hour), "1", "2", "3")
	f.footprint(t, company, "2024-04", first.Add(-30*time.Minute), "1", "2", "3")
	f.footprint(t, company, "2024-03", first.Add(-48*time.Hour), "100", "100", "100")

	n, err := f.svc.MonthlyReports(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Set(time.Date(2024, 5, 31, 23, 0, 0, 0, time.UTC))
	n, err = f.svc.MonthlyReports(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	logs := f.logs(t, company)
	require.Len(t, logs, 1)
	assert.Equal(t, "2024-05", logs[0].Payload["month"])
	assert.Equal(t, "102.00", logs[0].Payload["scope1_emissions"])
	assert.Equal(t, "312.00", logs[0].Payload["total_emissions"])
}

func TestDataQualityFlagsStaleData(t *testing.T) {
	f := newFixture(t, may2024)
	company := f.company(t)
	f.footprint(t, company, "2023-Q4", may2024.AddDate(0, 0, -40), "10", "10", "10")

	n, err := f.svc.DataQuality(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	logs := f.logs(t, company)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.KindDataStale, logs[0].Kind)
	assert.EqualValues(t, 40, logs[0].Payload["days_since"])
}

func TestDataQualityFlagsAnomalies(t *testing.T) {
	f := newFixture(t, may2024)
	company := f.company(t)
	for i := 0; i < 9; i++ {
		f.footprint(t, company, fmt.Sprintf("2023-%02d", i+1), may2024.AddDate(0, 0, -(i+1)*5), "10", "20", "30")
	}
	spike := f.footprint(t, company, "2023-10", may2024.AddDate(0, 0, -1), "200", "20", "30")

	n, err := f.svc.DataQuality(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	logs := f.logs(t, company)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.KindDataAnomaly, logs[0].Kind)
	assert.EqualValues(t, 1, logs[0].Payload["count"])
	anomalies, ok := logs[0].Payload["anomalies"].([]any)
	require.True(t, ok)
	require.Len(t, anomalies, 1)
	assert.Equal(t, "29.00", anomalies[0].(map[string]any)["mean"])

	found := findAnomalies([]carbondomain.Footprint{spike, spike})
	assert.Empty(t, found)
}

func TestFindAnomaliesNeedsEnoughRecords(t *testing.T) {
	fp := func(s1 int64) carbondomain.Footprint {
		return carbondomain.Footprint{ID: uuid.New(), Scope1Emissions: decimal.NewFromInt(s1)}
	}
	assert.Empty(t, findAnomalies([]carbondomain.Footprint{fp(1), fp(100)}))

	found := findAnomalies([]carbondomain.Footprint{fp(1), fp(1), fp(1), fp(1), fp(1), fp(100)})
	require.Len(t, found, 1)
	assert.Equal(t, "scope1", found[0].Scope)
	assert.Equal(t, "17.50", found[0].Mean)
}

func TestFindAnomaliesUsesWindowMean(t *testing.T) {
	fp := func(s1 int64) carbondomain.Footprint {
		return carbondomain.Footprint{ID: uuid.New(), Scope1Emissions: decimal.NewFromInt(s1)}
	}
	// The mean includes the candidate, so three records never clear the bar.
	assert.Empty(t, findAnomalies([]carbondomain.Footprint{fp(1), fp(1), fp(6)}))
	assert.Empty(t, findAnomalies([]carbondomain.Footprint{fp(1), fp(1), fp(1000)}))

	// 1,1,1,1,1,1,30: mean 36/7, bar 25.71
	series := []carbondomain.Footprint{fp(1), fp(1), fp(1), fp(1), fp(1), fp(1), fp(30)}
	found := findAnomalies(series)
	require.Len(t, found, 1)
	assert.Equal(t, "30.00", found[0].Value)
	assert.Equal(t, "5.14", found[0].Mean)

	// 1,1,1,1,1,1,15: mean 3, bar exactly 15
	series[6] = fp(15)
	assert.Empty(t, findAnomalies(series))
}

func TestRetentionDropsOldLogs(t *testing.T) {
	f := newFixture(t, may2024)
	company := f.company(t)
	for _, age := range []time.Duration{181 * 24 * time.Hour, 10 * 24 * time.Hour} {
		require.NoError(t, f.db.Create(&domain.Log{
			ID:        uuid.New(),
			CompanyID: company,
			Kind:      domain.KindWeeklySummary,
			CreatedAt: may2024.Add(-age),
		}).Error)
	}

	n, err := f.svc.Retention(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, f.logs(t, company), 1)
}

func TestDispatchRecordsDeliveryFailure(t *testing.T) {
	f := newFixture(t, may2024)
	company := f.company(t)
	require.NoError(t, f.svc.Notify(context.Background(), f.db, company, string(domain.KindRegulatoryUpdate), map[string]any{
		"title":          "ESRS E1 amendment",
		"effective_date": "2025-01-01",
	}))
	f.emitter.err = errors.New("connection refused")

	sent, err := f.svc.Dispatch(context.Background())
	assert.Error(t, err)
	assert.Zero(t, sent)

	logs := f.logs(t, company)
	require.Len(t, logs, 1)
	assert.NotNil(t, logs[0].DispatchedAt)
	assert.Equal(t, "connection refused", logs[0].DeliveryError)

	f.emitter.err = nil
	sent, err = f.svc.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestNotifyAndList(t *testing.T) {
	f := newFixture(t, may2024)
	company := f.company(t)
	other := f.company(t)

	err := f.svc.Notify(context.Background(), f.db, company, "birthday", nil)
	assert.ErrorIs(t, err, domain.ErrUnknownKind)

	require.NoError(t, f.svc.Notify(context.Background(), f.db, company, string(domain.KindRegulatoryUpdate), map[string]any{"title": "A"}))
	require.NoError(t, f.svc.Notify(context.Background(), f.db, other, string(domain.KindRegulatoryUpdate), map[string]any{"title": "B"}))

	ctx := tenant.WithPrincipal(context.Background(), tenant.Principal{UserID: uuid.New(), CompanyID: company, Role: authorization.RoleViewer})
	res, err := f.svc.List(ctx, domain.ListRequest{})
	require.NoError(t, err)
	require.Len(t, res.Notifications, 1)
	assert.Equal(t, "A", res.Notifications[0].Payload["title"])

	_, err = f.svc.List(context.Background(), domain.ListRequest{})
	assert.ErrorIs(t, err, tenant.ErrNoPrincipal)
}

func TestISOWeekStart(t *testing.T) {
	sunday := time.Date(2024, 5, 19, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 5, 13, 0, 0, 0, 0, time.UTC), isoWeekStart(sunday))
	monday := time.Date(2024, 5, 13, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, monday, isoWeekStart(monday))
}
