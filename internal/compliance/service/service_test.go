package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/greenledger/internal/authorization"
	"github.com/smallbiznis/greenledger/internal/clock"
	"github.com/smallbiznis/greenledger/internal/compliance/catalog"
	"github.com/smallbiznis/greenledger/internal/compliance/domain"
	"github.com/smallbiznis/greenledger/internal/compliance/repository"
	"github.com/smallbiznis/greenledger/internal/tenant"
	"github.com/smallbiznis/greenledger/pkg/apperr"
	"github.com/smallbiznis/greenledger/pkg/db"
	"github.com/smallbiznis/greenledger/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type staticAdmins []domain.Administrator

func (a staticAdmins) Administrators(context.Context) ([]domain.Administrator, error) {
	return a, nil
}

type sent struct {
	company uuid.UUID
	kind    string
	payload map[string]any
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sent
}

func (n *recordingNotifier) Notify(_ context.Context, _ *gorm.DB, companyID uuid.UUID, kind string, payload map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{company: companyID, kind: kind, payload: payload})
	return nil
}

type fixture struct {
	svc      domain.Service
	db       *gorm.DB
	clock    *clock.FakeClock
	notifier *recordingNotifier
	company  uuid.UUID
	user     uuid.UUID
}

func newFixture(t *testing.T, admins ...domain.Administrator) *fixture {
	t.Helper()
	conn := db.NewTest(t, &domain.Datapoint{}, &domain.Assessment{}, &domain.RegulatoryUpdate{}, &domain.RegulatoryRead{})
	authz, err := authorization.New()
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	n := &recordingNotifier{}
	svc := New(Params{
		DB:       conn,
		Log:      zap.NewNop(),
		Clock:    fc,
		Repo:     repository.Provide(),
		Authz:    authz,
		Admins:   staticAdmins(admins),
		Notifier: n,
	})
	return &fixture{svc: svc, db: conn, clock: fc, notifier: n, company: uuid.New(), user: uuid.New()}
}

func (f *fixture) as(role authorization.Role) context.Context {
	return tenant.WithPrincipal(context.Background(), tenant.Principal{UserID: f.user, CompanyID: f.company, Role: role})
}

func seedSmall(t *testing.T, f *fixture) {
	t.Helper()
	_, err := f.svc.SeedCatalog(context.Background(), []domain.DatapointInput{
		{Code: "E1-6_01", Name: "Gross Scope 1 GHG emissions", Standard: "ESRS E1", Mandatory: true, Definition: "Direct emissions in tCO2e."},
		{Code: "E1-6_02", Name: "Gross Scope 2 GHG emissions", Standard: "ESRS E1", Mandatory: true, Definition: "Indirect energy emissions."},
		{Code: "S1-6_01", Name: "Characteristics of employees", Standard: "ESRS S1", Mandatory: true, Definition: "Head count by gender."},
		{Code: "E3-4_01", Name: "Total water consumption", Standard: "ESRS E3", Definition: "Cubic metres consumed."},
	})
	require.NoError(t, err)
}

func TestSeedCatalogIsIdempotentAndRevises(t *testing.T) {
	f := newFixture(t)
	items, err := catalog.Datapoints()
	require.NoError(t, err)

	res, err := f.svc.SeedCatalog(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, len(items), res.Created)
	assert.Zero(t, res.Revised)

	res, err = f.svc.SeedCatalog(context.Background(), items)
	require.NoError(t, err)
	assert.Zero(t, res.Created)
	assert.Zero(t, res.Revised)

	f.clock.Advance(time.Hour)
	items[0].Definition = "Revised definition."
	res, err = f.svc.SeedCatalog(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Revised)

	dp, err := f.svc.GetDatapoint(f.as(authorization.RoleViewer), items[0].Code)
	require.NoError(t, err)
	assert.Equal(t, "Revised definition.", dp.Definition)
	require.NotNil(t, dp.RevisedAt)
	assert.True(t, dp.RevisedAt.Equal(f.clock.Now()))
}

func TestEnsureCatalogSeedsOnlyWhenEmpty(t *testing.T) {
	f := newFixture(t)
	seedSmall(t, f)

	require.NoError(t, f.svc.EnsureCatalog(context.Background()))
	all, err := f.svc.Search(f.as(authorization.RoleViewer), domain.SearchRequest{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	empty := newFixture(t)
	require.NoError(t, empty.svc.EnsureCatalog(context.Background()))
	all, err = empty.svc.Search(empty.as(authorization.RoleViewer), domain.SearchRequest{})
	require.NoError(t, err)
	assert.Greater(t, len(all), 4)
}

func TestSearchIsCaseInsensitiveAcrossFields(t *testing.T) {
	f := newFixture(t)
	seedSmall(t, f)
	ctx := f.as(authorization.RoleViewer)

	byName, err := f.svc.Search(ctx, domain.SearchRequest{Query: "SCOPE"})
	require.NoError(t, err)
	assert.Len(t, byName, 2)

	byCode, err := f.svc.Search(ctx, domain.SearchRequest{Query: "s1-6"})
	require.NoError(t, err)
	require.Len(t, byCode, 1)
	assert.Equal(t, "S1-6_01", byCode[0].Code)

	byDefinition, err := f.svc.Search(ctx, domain.SearchRequest{Query: "cubic"})
	require.NoError(t, err)
	require.Len(t, byDefinition, 1)
	assert.Equal(t, "E3-4_01", byDefinition[0].Code)

	filtered, err := f.svc.Search(ctx, domain.SearchRequest{Standard: "esrs e1", MandatoryOnly: true})
	require.NoError(t, err)
	assert.Len(t, filtered, 2)
}

func TestAssessUpsertsPerDatapoint(t *testing.T) {
	f := newFixture(t)
	seedSmall(t, f)
	ctx := f.as(authorization.RoleSustainabilityManager)

	first, err := f.svc.Assess(ctx, domain.AssessRequest{DatapointCode: "e1-6_01", Status: domain.StatusInProgress})
	require.NoError(t, err)
	assert.Equal(t, "E1-6_01", first.DatapointCode)

	value := decimal.RequireFromString("20.5")
	second, err := f.svc.Assess(ctx, domain.AssessRequest{
		DatapointCode: "E1-6_01",
		Status:        domain.StatusCompleted,
		ValueNumeric:  &value,
		EvidenceRef:   "s3://evidence/q1.pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, domain.StatusCompleted, second.Status)
	require.NotNil(t, second.ValueNumeric)
	assert.True(t, second.ValueNumeric.Equal(value))
	assert.Equal(t, f.user, second.AssessorID)

	list, err := f.svc.ListAssessments(f.as(authorization.RoleViewer))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Mandatory)
}

func TestAssessRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	seedSmall(t, f)
	ctx := f.as(authorization.RoleSustainabilityManager)

	_, err := f.svc.Assess(ctx, domain.AssessRequest{DatapointCode: "E1-6_01", Status: "done"})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	text := "yes"
	num := decimal.NewFromInt(1)
	_, err = f.svc.Assess(ctx, domain.AssessRequest{DatapointCode: "E1-6_01", Status: domain.StatusCompleted, ValueText: &text, ValueNumeric: &num})
	assert.ErrorIs(t, err, domain.ErrInvalidValue)

	_, err = f.svc.Assess(ctx, domain.AssessRequest{DatapointCode: "X-1", Status: domain.StatusCompleted})
	assert.ErrorIs(t, err, domain.ErrDatapointNotFound)

	_, err = f.svc.Assess(f.as(authorization.RoleViewer), domain.AssessRequest{DatapointCode: "E1-6_01", Status: domain.StatusCompleted})
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindForbidden, appErr.Kind)
}

func TestProgressCountsUnassessedAsNotStarted(t *testing.T) {
	f := newFixture(t)
	seedSmall(t, f)
	ctx := f.as(authorization.RoleSustainabilityManager)

	_, err := f.svc.Assess(ctx, domain.AssessRequest{DatapointCode: "E1-6_01", Status: domain.StatusCompleted})
	require.NoError(t, err)
	_, err = f.svc.Assess(ctx, domain.AssessRequest{DatapointCode: "E1-6_02", Status: domain.StatusInProgress})
	require.NoError(t, err)
	_, err = f.svc.Assess(ctx, domain.AssessRequest{DatapointCode: "E3-4_01", Status: domain.StatusCompleted})
	require.NoError(t, err)

	p, err := f.svc.Progress(f.as(authorization.RoleViewer))
	require.NoError(t, err)
	assert.Equal(t, 4, p.Total)
	assert.Equal(t, 2, p.ByStatus[domain.StatusCompleted])
	assert.Equal(t, 1, p.ByStatus[domain.StatusInProgress])
	assert.Equal(t, 1, p.ByStatus[domain.StatusNotStarted])
	assert.Equal(t, 0, p.ByStatus[domain.StatusNotApplicable])
	assert.Equal(t, 3, p.MandatoryTotal)
	assert.Equal(t, 1, p.MandatoryCompleted)
	assert.True(t, p.MandatoryCompletion.Equal(decimal.RequireFromString("33.33")), p.MandatoryCompletion.String())

	other, err := f.svc.CompanyProgress(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 4, other.ByStatus[domain.StatusNotStarted])
	assert.True(t, other.MandatoryCompletion.IsZero())
}

func TestSummarizeWithoutMandatoryDatapoints(t *testing.T) {
	p := Summarize([]domain.Datapoint{{ID: uuid.New()}}, nil)
	assert.Equal(t, 1, p.ByStatus[domain.StatusNotStarted])
	assert.True(t, p.MandatoryCompletion.IsZero())
}

func TestPublishFansOutToAdministratorsPerCompany(t *testing.T) {
	companyA, companyB := uuid.New(), uuid.New()
	f := newFixture(t,
		domain.Administrator{UserID: uuid.New(), CompanyID: companyA, Email: "a1@example.com"},
		domain.Administrator{UserID: uuid.New(), CompanyID: companyA, Email: "a2@example.com"},
		domain.Administrator{UserID: uuid.New(), CompanyID: companyB, Email: "b1@example.com"},
	)

	u, err := f.svc.Publish(f.as(authorization.RoleAdministrator), domain.PublishRequest{
		Title:         "ESRS E1 amendment",
		Body:          "Scope 3 categories clarified.",
		EffectiveDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Severity:      domain.SeverityWarning,
	})
	require.NoError(t, err)
	assert.Equal(t, f.user, u.PublishedBy)

	require.Len(t, f.notifier.sent, 2)
	byCompany := map[uuid.UUID]sent{}
	for _, s := range f.notifier.sent {
		assert.Equal(t, KindRegulatoryUpdate, s.kind)
		byCompany[s.company] = s
	}
	assert.ElementsMatch(t, []string{"a1@example.com", "a2@example.com"}, byCompany[companyA].payload["recipients"])
	assert.ElementsMatch(t, []string{"b1@example.com"}, byCompany[companyB].payload["recipients"])
	assert.Equal(t, u.ID.String(), byCompany[companyB].payload["update_id"])
}

func TestPublishRequiresAdministratorAndValidInput(t *testing.T) {
	f := newFixture(t)
	req := domain.PublishRequest{Title: "Update", EffectiveDate: f.clock.Now()}

	_, err := f.svc.Publish(f.as(authorization.RoleSustainabilityManager), req)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindForbidden, appErr.Kind)

	admin := f.as(authorization.RoleAdministrator)
	_, err = f.svc.Publish(admin, domain.PublishRequest{EffectiveDate: f.clock.Now()})
	assert.ErrorIs(t, err, domain.ErrInvalidTitle)
	_, err = f.svc.Publish(admin, domain.PublishRequest{Title: "x", EffectiveDate: f.clock.Now(), Severity: "urgent"})
	assert.ErrorIs(t, err, domain.ErrInvalidSeverity)
	_, err = f.svc.Publish(admin, domain.PublishRequest{Title: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidEffectiveDate)

	u, err := f.svc.Publish(admin, req)
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityInfo, u.Severity)
}

func TestReadStateIsPerUser(t *testing.T) {
	f := newFixture(t)
	admin := f.as(authorization.RoleAdministrator)
	first, err := f.svc.Publish(admin, domain.PublishRequest{Title: "First", EffectiveDate: f.clock.Now()})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.svc.Publish(admin, domain.PublishRequest{Title: "Second", EffectiveDate: f.clock.Now()})
	require.NoError(t, err)

	reader := f.as(authorization.RoleViewer)
	require.NoError(t, f.svc.MarkRead(reader, first.ID))
	require.NoError(t, f.svc.MarkRead(reader, first.ID))

	list, err := f.svc.ListUpdates(reader, pagination.Pagination{PageSize: 10})
	require.NoError(t, err)
	require.Len(t, list.Updates, 2)
	assert.Equal(t, "Second", list.Updates[0].Title)
	assert.False(t, list.Updates[0].Read)
	assert.True(t, list.Updates[1].Read)

	other := tenant.WithPrincipal(context.Background(), tenant.Principal{UserID: uuid.New(), CompanyID: f.company, Role: authorization.RoleViewer})
	list, err = f.svc.ListUpdates(other, pagination.Pagination{PageSize: 10})
	require.NoError(t, err)
	for _, u := range list.Updates {
		assert.False(t, u.Read)
	}

	assert.ErrorIs(t, f.svc.MarkRead(reader, uuid.New()), domain.ErrUpdateNotFound)
}

func TestDeleteByCompanyRemovesAssessments(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Exec("CREATE TABLE users (id text primary key, company_id text)").Error)
	require.NoError(t, f.db.Exec("INSERT INTO users (id, company_id) VALUES (?, ?)", f.user, f.company).Error)
	seedSmall(t, f)

	_, err := f.svc.Assess(f.as(authorization.RoleAdministrator), domain.AssessRequest{DatapointCode: "E1-6_01", Status: domain.StatusCompleted})
	require.NoError(t, err)
	u, err := f.svc.Publish(f.as(authorization.RoleAdministrator), domain.PublishRequest{Title: "x", EffectiveDate: f.clock.Now()})
	require.NoError(t, err)
	require.NoError(t, f.svc.MarkRead(f.as(authorization.RoleAdministrator), u.ID))

	require.NoError(t, repository.Provide().DeleteByCompany(context.Background(), f.db, f.company))

	var assessments, reads int64
	require.NoError(t, f.db.Model(&domain.Assessment{}).Count(&assessments).Error)
	require.NoError(t, f.db.Model(&domain.RegulatoryRead{}).Count(&reads).Error)
	assert.Zero(t, assessments)
	assert.Zero(t, reads)
}
