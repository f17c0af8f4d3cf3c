package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/greenledger/internal/analytics/domain"
	"github.com/smallbiznis/greenledger/internal/authorization"
	carbondomain "github.com/smallbiznis/greenledger/internal/carbon/domain"
	"github.com/smallbiznis/greenledger/internal/clock"
	compliancedomain "github.com/smallbiznis/greenledger/internal/compliance/domain"
	ewastedomain "github.com/smallbiznis/greenledger/internal/ewaste/domain"
	"github.com/smallbiznis/greenledger/internal/tenant"
	"github.com/smallbiznis/greenledger/pkg/apperr"
	"github.com/smallbiznis/greenledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubCarbon struct {
	carbondomain.Service
	latest *carbondomain.Footprint
}

func (c *stubCarbon) Latest(context.Context) (*carbondomain.Footprint, error) { return c.latest, nil }

func (c *stubCarbon) CompanyAggregate(context.Context, string) (carbondomain.Aggregate, error) {
	return carbondomain.Aggregate{
		Periods: 2,
		Scope1:  decimal.NewFromInt(30),
		Scope2:  decimal.NewFromInt(40),
		Scope3:  decimal.NewFromInt(50),
		Total:   decimal.NewFromInt(120),
	}, nil
}

func (c *stubCarbon) NetBalance(context.Context, *carbondomain.Window) (carbondomain.NetBalance, error) {
	return carbondomain.NetBalance{
		Emissions:  decimal.NewFromInt(120),
		Offsets:    decimal.NewFromInt(30),
		Net:        decimal.NewFromInt(90),
		Neutrality: decimal.NewFromInt(25),
	}, nil
}

type stubEwaste struct {
	ewastedomain.Service
}

func (stubEwaste) Summary(context.Context) (ewastedomain.Summary, error) {
	return ewastedomain.Summary{
		Entries:          1,
		Quantity:         10,
		WeightKg:         decimal.NewFromInt(25),
		CO2Saved:         decimal.RequireFromString("7.5"),
		CreditsGenerated: decimal.RequireFromString("6"),
		ByDevice: []ewastedomain.DeviceSummary{{
			DeviceType:       ewastedomain.DeviceLaptop,
			Entries:          1,
			Quantity:         10,
			WeightKg:         decimal.NewFromInt(25),
			CO2Saved:         decimal.RequireFromString("7.5"),
			CreditsGenerated: decimal.RequireFromString("6"),
		}},
	}, nil
}

type stubCompliance struct {
	compliancedomain.Service
}

func (stubCompliance) Progress(context.Context) (compliancedomain.Progress, error) {
	return compliancedomain.Progress{MandatoryCompletion: decimal.RequireFromString("37.5")}, nil
}

type fixture struct {
	svc       domain.Service
	db        *gorm.DB
	companyID uuid.UUID
	ctx       context.Context
}

func newFixture(t *testing.T, role authorization.Role) *fixture {
	t.Helper()
	conn := db.NewTest(t, &carbondomain.Footprint{})
	authz, err := authorization.New()
	require.NoError(t, err)
	companyID := uuid.Must(uuid.NewV7())
	latest := &carbondomain.Footprint{ID: uuid.Must(uuid.NewV7()), CompanyID: companyID, ReportingPeriod: "2024-Q2"}

	svc := New(Params{
		DB:         conn,
		Log:        zap.NewNop(),
		Clock:      clock.NewFakeClock(time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)),
		Authz:      authz,
		Carbon:     &stubCarbon{latest: latest},
		Ewaste:     stubEwaste{},
		Compliance: stubCompliance{},
	})
	ctx := tenant.WithPrincipal(context.Background(), tenant.Principal{
		UserID:    uuid.Must(uuid.NewV7()),
		CompanyID: companyID,
		Role:      role,
	})
	return &fixture{svc: svc, db: conn, companyID: companyID, ctx: ctx}
}

func (f *fixture) footprint(t *testing.T, companyID uuid.UUID, period string, status carbondomain.Status, s1, s2, s3 int64) {
	t.Helper()
	label, start, end, err := carbondomain.ParsePeriod(period)
	require.NoError(t, err)
	fp := carbondomain.Footprint{
		ID:              uuid.Must(uuid.NewV7()),
		CompanyID:       companyID,
		ReportingPeriod: label,
		PeriodStart:     start,
		PeriodEnd:       end,
		Scope1Emissions: decimal.NewFromInt(s1),
		Scope2Emissions: decimal.NewFromInt(s2),
		Scope3Emissions: decimal.NewFromInt(s3),
		Status:          status,
		CreatedAt:       start,
		UpdatedAt:       start,
	}
	fp.Recompute()
	require.NoError(t, f.db.Create(&fp).Error)
}

func TestDashboardCombinesModules(t *testing.T) {
	f := newFixture(t, authorization.RoleViewer)
	out, err := f.svc.Dashboard(f.ctx)
	require.NoError(t, err)

	require.NotNil(t, out.LatestFootprint)
	assert.Equal(t, "2024-Q2", out.LatestFootprint.ReportingPeriod)
	assert.Equal(t, 2, out.Emissions.Periods)
	assert.True(t, decimal.NewFromInt(120).Equal(out.Emissions.Total))
	assert.True(t, decimal.NewFromInt(25).Equal(out.Neutrality.Percent))
	assert.True(t, decimal.RequireFromString("7.5").Equal(out.Ewaste.CO2Saved))
	assert.True(t, decimal.RequireFromString("37.5").Equal(out.ComplianceCompletion))
	assert.Equal(t, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), out.GeneratedAt)
}

func TestTrendsAreChronological(t *testing.T) {
	f := newFixture(t, authorization.RoleViewer)
	f.footprint(t, f.companyID, "2024-Q2", carbondomain.StatusDraft, 10, 10, 30)
	f.footprint(t, f.companyID, "2023-Q4", carbondomain.StatusVerified, 20, 20, 60)
	f.footprint(t, f.companyID, "2024-Q1", carbondomain.StatusVerified, 10, 10, 20)
	f.footprint(t, uuid.Must(uuid.NewV7()), "2024-Q1", carbondomain.StatusVerified, 999, 0, 0)

	out, err := f.svc.Trends(f.ctx, domain.TrendRequest{})
	require.NoError(t, err)
	require.Len(t, out.Points, 3)
	assert.Equal(t, "2023-Q4", out.Points[0].ReportingPeriod)
	assert.Equal(t, "2024-Q1", out.Points[1].ReportingPeriod)
	assert.Equal(t, "2024-Q2", out.Points[2].ReportingPeriod)
	assert.Nil(t, out.Points[0].Change)
	require.NotNil(t, out.Points[1].Change)
	assert.Equal(t, "-60", out.Points[1].Change.String())
	assert.Equal(t, "25", out.Points[2].Change.String())

	verified, err := f.svc.Trends(f.ctx, domain.TrendRequest{Status: carbondomain.StatusVerified})
	require.NoError(t, err)
	assert.Len(t, verified.Points, 2)

	latestOnly, err := f.svc.Trends(f.ctx, domain.TrendRequest{Limit: 1})
	require.NoError(t, err)
	require.Len(t, latestOnly.Points, 1)
	assert.Equal(t, "2024-Q2", latestOnly.Points[0].ReportingPeriod)

	_, err = f.svc.Trends(f.ctx, domain.TrendRequest{Status: "bogus"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestImpactListsDevices(t *testing.T) {
	f := newFixture(t, authorization.RoleViewer)
	out, err := f.svc.Impact(f.ctx)
	require.NoError(t, err)
	require.Len(t, out.ByDevice, 1)
	assert.Equal(t, ewastedomain.DeviceLaptop, out.ByDevice[0].DeviceType)
	assert.True(t, decimal.RequireFromString("6").Equal(out.Ewaste.CreditsGenerated))
}

func TestAnalyticsRequiresPrincipal(t *testing.T) {
	f := newFixture(t, authorization.RoleViewer)
	_, err := f.svc.Dashboard(context.Background())
	assert.ErrorIs(t, err, tenant.ErrNoPrincipal)
}

func TestReportRendersPDF(t *testing.T) {
	f := newFixture(t, authorization.RoleViewer)
	f.footprint(t, f.companyID, "2024-Q1", carbondomain.StatusVerified, 10, 10, 20)
	f.footprint(t, f.companyID, "2024-Q2", carbondomain.StatusDraft, 10, 10, 30)

	doc, err := f.svc.Report(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", doc.ContentType)
	assert.Equal(t, "esg-report-20240701.pdf", doc.Filename)
	require.Greater(t, len(doc.Content), 4)
	assert.Equal(t, "%PDF", string(doc.Content[:4]))

	_, err = f.svc.Report(context.Background())
	assert.ErrorIs(t, err, tenant.ErrNoPrincipal)
}
