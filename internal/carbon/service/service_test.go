package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/greenledger/internal/authorization"
	"github.com/smallbiznis/greenledger/internal/carbon/domain"
	"github.com/smallbiznis/greenledger/internal/carbon/repository"
	"github.com/smallbiznis/greenledger/internal/clock"
	"github.com/smallbiznis/greenledger/internal/config"
	"github.com/smallbiznis/greenledger/internal/tenant"
	"github.com/smallbiznis/greenledger/pkg/apperr"
	"github.com/smallbiznis/greenledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubOffsets struct {
	amount   decimal.Decimal
	from, to time.Time
}

func (s *stubOffsets) CompletedOffsets(_ context.Context, _ *gorm.DB, _ uuid.UUID, from, to time.Time) (decimal.Decimal, error) {
	s.from, s.to = from, to
	return s.amount, nil
}

type offsetLedgerMock struct {
	mock.Mock
}

func (m *offsetLedgerMock) CompletedOffsets(ctx context.Context, _ *gorm.DB, companyID uuid.UUID, from, to time.Time) (decimal.Decimal, error) {
	args := m.Called(ctx, companyID, from, to)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

type fixture struct {
	svc     domain.Service
	db      *gorm.DB
	clock   *clock.FakeClock
	offsets *stubOffsets
	company uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	conn := db.NewTest(t, &domain.Footprint{})
	authz, err := authorization.New()
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))
	offsets := &stubOffsets{amount: decimal.Zero}

	svc := New(Params{
		DB:      conn,
		Log:     zap.NewNop(),
		Clock:   fc,
		Repo:    repository.Provide(),
		Authz:   authz,
		Factors: config.NewStaticFactors(config.DefaultFactors()),
		Offsets: offsets,
	})
	return &fixture{svc: svc, db: conn, clock: fc, offsets: offsets, company: uuid.New()}
}

func (f *fixture) as(role authorization.Role) context.Context {
	return tenant.WithPrincipal(context.Background(), tenant.Principal{
		UserID:    uuid.New(),
		CompanyID: f.company,
		Role:      role,
	})
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (f *fixture) create(t *testing.T, period, s1, s2, s3 string) domain.Footprint {
	t.Helper()
	fp, err := f.svc.Create(f.as(authorization.RoleSustainabilityManager), domain.CreateFootprintRequest{
		ReportingPeriod: period,
		Scope1:          dec(s1),
		Scope2:          dec(s2),
		Scope3:          dec(s3),
	})
	require.NoError(t, err)
	return fp
}

func TestSubmitAndVerifyFootprint(t *testing.T) {
	f := newFixture(t)

	fp := f.create(t, "2024-Q1", "20.00", "35.00", "100.00")
	assert.True(t, fp.TotalEmissions.Equal(dec("155")))
	assert.Equal(t, domain.StatusDraft, fp.Status)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), fp.PeriodStart)
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), fp.PeriodEnd)

	fp, err := f.svc.Submit(f.as(authorization.RoleSustainabilityManager), fp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, fp.Status)
	require.NotNil(t, fp.SubmittedAt)

	_, err = f.svc.Verify(f.as(authorization.RoleSustainabilityManager), fp.ID)
	assert.ErrorIs(t, err, authorization.ErrForbidden)

	fp, err = f.svc.Verify(f.as(authorization.RoleAdministrator), fp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusVerified, fp.Status)

	stored, err := f.svc.Get(f.as(authorization.RoleViewer), fp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusVerified, stored.Status)
	assert.True(t, stored.TotalEmissions.Equal(dec("155")))
}

func TestCreateRejectsDuplicatePeriodAndNegativeScopes(t *testing.T) {
	f := newFixture(t)
	f.create(t, "2024-q1", "1", "1", "1")

	_, err := f.svc.Create(f.as(authorization.RoleAdministrator), domain.CreateFootprintRequest{
		ReportingPeriod: "2024-Q1",
	})
	assert.ErrorIs(t, err, domain.ErrPeriodExists)

	_, err = f.svc.Create(f.as(authorization.RoleAdministrator), domain.CreateFootprintRequest{
		ReportingPeriod: "2024-Q2",
		Scope1:          dec("1"),
		Scope2:          dec("-1"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNegativeEmission)
	e, ok := apperr.As(err)
	require.True(t, ok)
	require.Len(t, e.Fields, 1)
	assert.Equal(t, "scope2_emissions", e.Fields[0].Field)

	_, err = f.svc.Create(f.as(authorization.RoleAdministrator), domain.CreateFootprintRequest{ReportingPeriod: "Q1-2024"})
	assert.ErrorIs(t, err, domain.ErrInvalidPeriod)

	_, err = f.svc.Create(f.as(authorization.RoleViewer), domain.CreateFootprintRequest{ReportingPeriod: "2024-Q3"})
	assert.ErrorIs(t, err, authorization.ErrForbidden)
}

func TestUpdateRecomputesTotal(t *testing.T) {
	f := newFixture(t)
	fp := f.create(t, "2024-Q1", "1", "2", "3")

	scope3 := dec("10.5")
	fp, err := f.svc.Update(f.as(authorization.RoleSustainabilityManager), fp.ID, domain.UpdateFootprintRequest{Scope3: &scope3})
	require.NoError(t, err)
	assert.True(t, fp.TotalEmissions.Equal(dec("13.5")))
	assert.True(t, fp.TotalEmissions.Equal(fp.Scope1Emissions.Add(fp.Scope2Emissions).Add(fp.Scope3Emissions)))
}

func TestVerifiedFootprintIsImmutableExceptOverride(t *testing.T) {
	f := newFixture(t)
	fp := f.create(t, "2024-Q1", "1", "2", "3")
	_, err := f.svc.Submit(f.as(authorization.RoleSustainabilityManager), fp.ID)
	require.NoError(t, err)
	_, err = f.svc.Verify(f.as(authorization.RoleAdministrator), fp.ID)
	require.NoError(t, err)

	scope1 := dec("50")
	_, err = f.svc.Update(f.as(authorization.RoleSustainabilityManager), fp.ID, domain.UpdateFootprintRequest{Scope1: &scope1})
	assert.ErrorIs(t, err, domain.ErrImmutable)
	assert.Equal(t, apperr.KindImmutable, apperr.KindOf(err))

	err = f.svc.Delete(f.as(authorization.RoleSustainabilityManager), fp.ID)
	assert.ErrorIs(t, err, domain.ErrImmutable)

	_, err = f.svc.Submit(f.as(authorization.RoleSustainabilityManager), fp.ID)
	assert.ErrorIs(t, err, domain.ErrImmutable)

	updated, err := f.svc.Update(f.as(authorization.RoleAdministrator), fp.ID, domain.UpdateFootprintRequest{Scope1: &scope1})
	require.NoError(t, err)
	require.NotNil(t, updated.OverrideAt)
	assert.True(t, updated.TotalEmissions.Equal(dec("55")))
	assert.Equal(t, domain.StatusVerified, updated.Status)
}

func TestReopenRequiresAdministratorAndLogsReason(t *testing.T) {
	f := newFixture(t)
	fp := f.create(t, "2024-Q1", "1", "2", "3")

	_, err := f.svc.Reopen(f.as(authorization.RoleAdministrator), fp.ID, "typo")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.svc.Submit(f.as(authorization.RoleSustainabilityManager), fp.ID)
	require.NoError(t, err)

	_, err = f.svc.Reopen(f.as(authorization.RoleSustainabilityManager), fp.ID, "typo")
	assert.ErrorIs(t, err, authorization.ErrForbidden)

	_, err = f.svc.Reopen(f.as(authorization.RoleAdministrator), fp.ID, "  ")
	assert.ErrorIs(t, err, domain.ErrReasonRequired)

	reopened, err := f.svc.Reopen(f.as(authorization.RoleAdministrator), fp.ID, "scope 2 invoice missing")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, reopened.Status)
	assert.Contains(t, reopened.Notes, "scope 2 invoice missing")
	assert.Nil(t, reopened.SubmittedAt)
}

func TestDeleteOnlyDrafts(t *testing.T) {
	f := newFixture(t)
	draft := f.create(t, "2024-Q1", "1", "2", "3")
	submitted := f.create(t, "2024-Q2", "1", "2", "3")
	_, err := f.svc.Submit(f.as(authorization.RoleSustainabilityManager), submitted.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(f.as(authorization.RoleSustainabilityManager), draft.ID))
	_, err = f.svc.Get(f.as(authorization.RoleViewer), draft.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = f.svc.Delete(f.as(authorization.RoleSustainabilityManager), submitted.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestTenantIsolation(t *testing.T) {
	f := newFixture(t)
	fp := f.create(t, "2024-Q1", "1", "2", "3")

	other := tenant.WithPrincipal(context.Background(), tenant.Principal{
		UserID: uuid.New(), CompanyID: uuid.New(), Role: authorization.RoleAdministrator,
	})
	_, err := f.svc.Get(other, fp.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	noCompany := tenant.WithPrincipal(context.Background(), tenant.Principal{UserID: uuid.New(), Role: authorization.RoleAdministrator})
	_, err = f.svc.Get(noCompany, fp.ID)
	assert.ErrorIs(t, err, tenant.ErrNoCompany)
}

func TestListPaginates(t *testing.T) {
	f := newFixture(t)
	for _, period := range []string{"2023-Q1", "2023-Q2", "2023-Q3"} {
		f.create(t, period, "1", "1", "1")
		f.clock.Advance(time.Minute)
	}

	first, err := f.svc.List(f.as(authorization.RoleViewer), domain.ListFootprintRequest{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first.Footprints, 2)
	assert.True(t, first.PageInfo.HasMore)
	assert.Equal(t, "2023-Q3", first.Footprints[0].ReportingPeriod)

	second, err := f.svc.List(f.as(authorization.RoleViewer), domain.ListFootprintRequest{PageSize: 2, PageToken: first.PageInfo.NextPageToken})
	require.NoError(t, err)
	require.Len(t, second.Footprints, 1)
	assert.False(t, second.PageInfo.HasMore)
	assert.Equal(t, "2023-Q1", second.Footprints[0].ReportingPeriod)

	_, err = f.svc.List(f.as(authorization.RoleViewer), domain.ListFootprintRequest{PageToken: "%%%"})
	assert.True(t, errors.Is(err, apperr.Kindf(apperr.KindValidation)))
}

func TestCompanyAggregateFiltersByPeriodPrefix(t *testing.T) {
	f := newFixture(t)
	f.create(t, "2023-Q4", "100", "0", "0")
	f.create(t, "2024-Q1", "1", "2", "3")
	f.create(t, "2024-Q2", "4", "5", "6")

	agg, err := f.svc.CompanyAggregate(f.as(authorization.RoleViewer), "2024")
	require.NoError(t, err)
	assert.Equal(t, 2, agg.Periods)
	assert.True(t, agg.Scope1.Equal(dec("5")))
	assert.True(t, agg.Scope2.Equal(dec("7")))
	assert.True(t, agg.Scope3.Equal(dec("9")))
	assert.True(t, agg.Total.Equal(dec("21")))
	assert.Equal(t, 2, agg.ByStatus[domain.StatusDraft])
}

func TestNetBalanceUsesVerifiedFootprintsAndDefaultWindow(t *testing.T) {
	f := newFixture(t)
	admin := f.as(authorization.RoleAdministrator)
	for _, period := range []string{"2023-Q1", "2023-Q3", "2024-Q1"} {
		fp := f.create(t, period, "50", "0", "0")
		_, err := f.svc.Submit(admin, fp.ID)
		require.NoError(t, err)
		_, err = f.svc.Verify(admin, fp.ID)
		require.NoError(t, err)
	}
	f.create(t, "2023-Q4", "999", "0", "0")
	f.offsets.amount = dec("10")

	bal, err := f.svc.NetBalance(f.as(authorization.RoleViewer), nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC), bal.Window.From)
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), bal.Window.To)
	assert.True(t, bal.Emissions.Equal(dec("100")), bal.Emissions.String())
	assert.True(t, bal.Net.Equal(dec("90")))
	assert.True(t, bal.Neutrality.Equal(dec("10")))
	assert.Equal(t, bal.Window.From, f.offsets.from)

	_, err = f.svc.NetBalance(f.as(authorization.RoleViewer), &domain.Window{From: bal.Window.To, To: bal.Window.From})
	assert.ErrorIs(t, err, domain.ErrInvalidWindow)
}

func TestNetBalanceExplicitWindowScopesOffsetsToCompany(t *testing.T) {
	f := newFixture(t)
	ledger := &offsetLedgerMock{}
	svc := New(Params{
		DB:      f.db,
		Log:     zap.NewNop(),
		Clock:   f.clock,
		Repo:    repository.Provide(),
		Authz:   mustAuthz(t),
		Factors: config.NewStaticFactors(config.DefaultFactors()),
		Offsets: ledger,
	})

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	ledger.On("CompletedOffsets", mock.Anything, f.company, from, to).Return(dec("12.5"), nil).Once()

	bal, err := svc.NetBalance(f.as(authorization.RoleViewer), &domain.Window{From: from, To: to})
	require.NoError(t, err)
	assert.True(t, bal.Emissions.IsZero())
	assert.True(t, bal.Offsets.Equal(dec("12.5")))
	assert.True(t, bal.Neutrality.Equal(dec("100")))
	ledger.AssertExpectations(t)

	ledger.On("CompletedOffsets", mock.Anything, f.company, from, to).Return(decimal.Zero, apperr.Transient(errors.New("40001"))).Once()
	_, err = svc.NetBalance(f.as(authorization.RoleViewer), &domain.Window{From: from, To: to})
	assert.Equal(t, apperr.KindTransientStorage, apperr.KindOf(err))
}

func mustAuthz(t *testing.T) *authorization.Authorizer {
	t.Helper()
	authz, err := authorization.New()
	require.NoError(t, err)
	return authz
}

func TestNeutrality(t *testing.T) {
	assert.True(t, Neutrality(decimal.Zero, decimal.Zero).Equal(dec("100")))
	assert.True(t, Neutrality(dec("200"), dec("50")).Equal(dec("25")))
	assert.True(t, Neutrality(dec("10"), dec("50")).Equal(dec("100")))
}

func TestAllZeroFootprintIsNeutral(t *testing.T) {
	f := newFixture(t)
	admin := f.as(authorization.RoleAdministrator)
	fp := f.create(t, "2024-Q1", "0", "0", "0")
	assert.True(t, fp.TotalEmissions.IsZero())
	_, err := f.svc.Submit(admin, fp.ID)
	require.NoError(t, err)
	_, err = f.svc.Verify(admin, fp.ID)
	require.NoError(t, err)

	bal, err := f.svc.NetBalance(admin, nil)
	require.NoError(t, err)
	assert.True(t, bal.Neutrality.Equal(dec("100")))
}

func TestCalculateDefaults(t *testing.T) {
	f := newFixture(t)

	out, err := f.svc.CalculateDefaults(f.as(authorization.RoleViewer), domain.DefaultsRequest{Industry: "Technology", Employees: 10})
	require.NoError(t, err)
	assert.Equal(t, "technology", out.Industry)
	assert.True(t, out.Scope1.Equal(dec("12")), out.Scope1.String())
	assert.True(t, out.Scope2.Equal(dec("16")))
	assert.True(t, out.Scope3.Equal(dec("52")))
	assert.True(t, out.Total.Equal(dec("80")))

	out, err = f.svc.CalculateDefaults(f.as(authorization.RoleViewer), domain.DefaultsRequest{Industry: "space mining", Employees: 1})
	require.NoError(t, err)
	assert.Equal(t, "other", out.Industry)

	_, err = f.svc.CalculateDefaults(f.as(authorization.RoleViewer), domain.DefaultsRequest{Industry: "finance"})
	assert.ErrorIs(t, err, domain.ErrInvalidEmployees)
}

func TestRecordValidationKeepsStatus(t *testing.T) {
	f := newFixture(t)
	fp := f.create(t, "2024-Q1", "1", "2", "3")

	require.NoError(t, f.svc.RecordValidation(f.as(authorization.RoleDecisionMaker), fp.ID, dec("87.456")))
	stored, err := f.svc.Get(f.as(authorization.RoleViewer), fp.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.AIValidationScore)
	assert.True(t, stored.AIValidationScore.Equal(dec("87.46")))
	assert.Equal(t, domain.StatusDraft, stored.Status)

	assert.ErrorIs(t, f.svc.RecordValidation(f.as(authorization.RoleDecisionMaker), fp.ID, dec("101")), domain.ErrInvalidScore)
}

func TestApplyImportUpsertsByPeriod(t *testing.T) {
	f := newFixture(t)
	existing := f.create(t, "2024-Q1", "1", "1", "1")

	var applied int
	err := f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		applied, err = f.svc.ApplyImport(context.Background(), tx, f.company, []domain.ImportRow{
			{ReportingPeriod: "2024-Q1", Scope1: dec("5"), Scope2: dec("5"), Scope3: dec("5")},
			{ReportingPeriod: "2024-Q2", Scope1: dec("2"), Scope2: dec("2"), Scope3: dec("2")},
		})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, applied)

	stored, err := f.svc.Get(f.as(authorization.RoleViewer), existing.ID)
	require.NoError(t, err)
	assert.True(t, stored.TotalEmissions.Equal(dec("15")))

	var count int64
	require.NoError(t, f.db.Model(&domain.Footprint{}).Where("company_id = ?", f.company).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestApplyImportRefusesVerifiedPeriods(t *testing.T) {
	f := newFixture(t)
	admin := f.as(authorization.RoleAdministrator)
	fp := f.create(t, "2024-Q1", "1", "1", "1")
	_, err := f.svc.Submit(admin, fp.ID)
	require.NoError(t, err)
	_, err = f.svc.Verify(admin, fp.ID)
	require.NoError(t, err)

	err = f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.ApplyImport(context.Background(), tx, f.company, []domain.ImportRow{
			{ReportingPeriod: "2024-Q2", Scope1: dec("2")},
			{ReportingPeriod: "2024-Q1", Scope1: dec("9")},
		})
		return err
	})
	assert.ErrorIs(t, err, domain.ErrImmutable)

	var count int64
	require.NoError(t, f.db.Model(&domain.Footprint{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestParsePeriod(t *testing.T) {
	cases := map[string]string{"2024-q2": "2024-Q2", "2024-03": "2024-03", "2024": "2024"}
	for in, want := range cases {
		label, start, end, err := domain.ParsePeriod(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, label)
		assert.True(t, start.Before(end))
	}
	for _, bad := range []string{"", "24-Q1", "2024-Q5", "2024-13", "2024/01"} {
		_, _, _, err := domain.ParsePeriod(bad)
		assert.ErrorIs(t, err, domain.ErrInvalidPeriod, bad)
	}
}
