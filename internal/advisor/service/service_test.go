package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/greenledger/internal/advisor/domain"
	"github.com/smallbiznis/greenledger/internal/advisor/repository"
	"github.com/smallbiznis/greenledger/internal/authorization"
	carbondomain "github.com/smallbiznis/greenledger/internal/carbon/domain"
	"github.com/smallbiznis/greenledger/internal/clock"
	"github.com/smallbiznis/greenledger/internal/config"
	identitydomain "github.com/smallbiznis/greenledger/internal/identity/domain"
	"github.com/smallbiznis/greenledger/internal/tenant"
	"github.com/smallbiznis/greenledger/pkg/apperr"
	"github.com/smallbiznis/greenledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type completerFunc func(ctx context.Context, system, prompt string) (string, error)

func (f completerFunc) Complete(ctx context.Context, system, prompt string) (string, error) {
	return f(ctx, system, prompt)
}

type stubCarbon struct {
	carbondomain.Service

	footprint carbondomain.Footprint
	recorded  []decimal.Decimal
}

func (c *stubCarbon) Get(_ context.Context, id uuid.UUID) (carbondomain.Footprint, error) {
	if id != c.footprint.ID {
		return carbondomain.Footprint{}, carbondomain.ErrNotFound
	}
	return c.footprint, nil
}

func (c *stubCarbon) Latest(context.Context) (*carbondomain.Footprint, error) {
	fp := c.footprint
	return &fp, nil
}

func (c *stubCarbon) RecordValidation(_ context.Context, _ uuid.UUID, score decimal.Decimal) error {
	c.recorded = append(c.recorded, score)
	return nil
}

type stubIdentity struct {
	identitydomain.Service

	company identitydomain.Company
}

func (i *stubIdentity) GetCompany(context.Context, uuid.UUID) (identitydomain.Company, error) {
	return i.company, nil
}

type fixture struct {
	svc    domain.Service
	db     *gorm.DB
	carbon *stubCarbon
	ctx    context.Context
}

func newFixture(t *testing.T, completer domain.Completer) *fixture {
	t.Helper()
	conn := db.NewTest(t, &domain.Event{})
	authz, err := authorization.New()
	require.NoError(t, err)

	companyID := uuid.Must(uuid.NewV7())
	employees := 10
	fp := carbondomain.Footprint{
		ID:              uuid.Must(uuid.NewV7()),
		CompanyID:       companyID,
		ReportingPeriod: "2024-Q1",
		Scope1Emissions: decimal.NewFromInt(20),
		Scope2Emissions: decimal.NewFromInt(30),
		Scope3Emissions: decimal.NewFromInt(10),
		Status:          carbondomain.StatusDraft,
	}
	fp.Recompute()
	carbon := &stubCarbon{footprint: fp}
	identity := &stubIdentity{company: identitydomain.Company{
		ID:            companyID,
		Name:          "Acme",
		Industry:      "technology",
		EmployeeCount: &employees,
	}}

	svc := New(Params{
		DB:        conn,
		Log:       zap.NewNop(),
		Clock:     clock.NewFakeClock(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)),
		Config:    config.Config{Advisor: config.AdvisorConfig{Timeout: 50 * time.Millisecond}},
		Repo:      repository.Provide(),
		Authz:     authz,
		Completer: completer,
		Carbon:    carbon,
		Identity:  identity,
		Factors:   config.NewStaticFactors(config.DefaultFactors()),
	})
	ctx := tenant.WithPrincipal(context.Background(), tenant.Principal{
		UserID:    uuid.Must(uuid.NewV7()),
		CompanyID: companyID,
		Role:      authorization.RoleDecisionMaker,
	})
	return &fixture{svc: svc, db: conn, carbon: carbon, ctx: ctx}
}

func (f *fixture) events(t *testing.T) []domain.Event {
	t.Helper()
	var out []domain.Event
	require.NoError(t, f.db.Order("created_at").Find(&out).Error)
	return out
}

func TestValidateEmissionsUsesAdvisorAnswer(t *testing.T) {
	f := newFixture(t, completerFunc(func(_ context.Context, _, prompt string) (string, error) {
		assert.Contains(t, prompt, `"reporting_period":"2024-Q1"`)
		return "```json\n{\"score\": 82.5, \"anomalies\": [\"scope 3 low\", \" \"], \"recommendations\": [\"survey suppliers\"], \"confidence\": 0.8}\n```", nil
	}))

	out, err := f.svc.ValidateEmissions(f.ctx, f.carbon.footprint.ID)
	require.NoError(t, err)
	assert.Equal(t, 82.5, out.Score)
	assert.Equal(t, []string{"scope 3 low"}, out.Anomalies)
	assert.Equal(t, 0.8, out.Confidence)
	assert.Equal(t, sourceAdvisor, out.Source)
	assert.Empty(t, out.Warning)

	require.Len(t, f.carbon.recorded, 1)
	assert.True(t, decimal.NewFromFloat(82.5).Equal(f.carbon.recorded[0]))

	events := f.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, domain.OutcomeOK, events[0].Outcome)
}

func TestFallbackReasons(t *testing.T) {
	cases := []struct {
		name      string
		completer domain.Completer
		reason    string
	}{
		{name: "unconfigured", completer: nil, reason: domain.ReasonUnconfigured},
		{
			name: "server error",
			completer: completerFunc(func(context.Context, string, string) (string, error) {
				return "", &domain.StatusError{Code: 503}
			}),
			reason: domain.ReasonUpstream,
		},
		{
			name: "timeout",
			completer: completerFunc(func(ctx context.Context, _, _ string) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			}),
			reason: domain.ReasonTimeout,
		},
		{
			name: "not json",
			completer: completerFunc(func(context.Context, string, string) (string, error) {
				return "I think your emissions look fine.", nil
			}),
			reason: domain.ReasonMalformed,
		},
		{
			name: "wrong shape",
			completer: completerFunc(func(context.Context, string, string) (string, error) {
				return `{"score": 140}`, nil
			}),
			reason: domain.ReasonMalformed,
		},
		{
			name: "transport",
			completer: completerFunc(func(context.Context, string, string) (string, error) {
				return "", errors.New("connection reset")
			}),
			reason: domain.ReasonTransport,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.completer)
			out, err := f.svc.ValidateEmissions(f.ctx, f.carbon.footprint.ID)
			require.NoError(t, err)
			assert.Zero(t, out.Confidence)
			assert.Equal(t, sourceMock, out.Source)
			assert.Equal(t, domain.WarningUnavailable, out.Warning)
			assert.Empty(t, f.carbon.recorded)

			events := f.events(t)
			require.Len(t, events, 1)
			assert.Equal(t, domain.OutcomeFallback, events[0].Outcome)
			assert.Equal(t, tc.reason, events[0].Reason)
		})
	}
}

func TestMockValidationIsDeterministic(t *testing.T) {
	f := newFixture(t, nil)
	first, err := f.svc.ValidateEmissions(f.ctx, f.carbon.footprint.ID)
	require.NoError(t, err)
	second, err := f.svc.ValidateEmissions(f.ctx, f.carbon.footprint.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Scope 3 (10) is below scopes 1 and 2 combined (50).
	assert.Equal(t, 85.0, first.Score)
	require.Len(t, first.Anomalies, 1)
	assert.Contains(t, first.Anomalies[0], "under-reported")
	assert.NotEmpty(t, first.Recommendations)
}

func TestMockBenchmarkAgainstIndustryBaseline(t *testing.T) {
	f := newFixture(t, nil)
	out, err := f.svc.Benchmark(f.ctx)
	require.NoError(t, err)

	// Baseline: 10 employees x 10 tCO2e x 0.80 = 80; actual 60 is 25% below.
	assert.Equal(t, -25.0, out.DeltaVsAvg)
	assert.Equal(t, 62.5, out.Percentile)
	assert.Len(t, out.Opportunities, 2)
	assert.Equal(t, domain.WarningUnavailable, out.Warning)
}

func TestBenchmarkParsesAdvisorAnswer(t *testing.T) {
	f := newFixture(t, completerFunc(func(_ context.Context, _, prompt string) (string, error) {
		assert.Contains(t, prompt, `"industry":"technology"`)
		assert.Contains(t, prompt, `"industry_baseline":"80"`)
		return `{"percentile": 70, "delta_vs_avg": -12.5, "opportunities": ["renewable tariff"]}`, nil
	}))
	out, err := f.svc.Benchmark(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 70.0, out.Percentile)
	assert.Equal(t, -12.5, out.DeltaVsAvg)
	assert.Equal(t, defaultConfidence, out.Confidence)
}

func TestMockActionPlanLeadsWithLargestScope(t *testing.T) {
	f := newFixture(t, nil)
	out, err := f.svc.ActionPlan(f.ctx)
	require.NoError(t, err)
	require.Len(t, out.QuickWins, 3)
	assert.Equal(t, adviceByScope["scope2"].quick[0], out.QuickWins[0])
	assert.Equal(t, adviceByScope["scope3"].long[0], out.LongTerm[2])
}

func TestActionPlanRejectsEmptyAnswer(t *testing.T) {
	f := newFixture(t, completerFunc(func(context.Context, string, string) (string, error) {
		return `{"quick_wins": [], "medium_term": [], "long_term": []}`, nil
	}))
	out, err := f.svc.ActionPlan(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, sourceMock, out.Source)
}

func TestSuggestFactors(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.SuggestFactors(f.ctx, domain.SuggestFactorsRequest{Description: "  "})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	out, err := f.svc.SuggestFactors(f.ctx, domain.SuggestFactorsRequest{Description: "steel parts manufacturing plant"})
	require.NoError(t, err)
	assert.Equal(t, "manufacturing", out.BestMatch)
	assert.True(t, decimal.RequireFromString("2.50").Equal(out.Factor))
	assert.Zero(t, out.Confidence)

	out, err = f.svc.SuggestFactors(f.ctx, domain.SuggestFactorsRequest{Description: "office", Industry: "Finance"})
	require.NoError(t, err)
	assert.Equal(t, "finance", out.BestMatch)

	out, err = f.svc.SuggestFactors(f.ctx, domain.SuggestFactorsRequest{Description: "something unusual"})
	require.NoError(t, err)
	assert.Equal(t, "other", out.BestMatch)
}

func TestSuggestFactorsParsesAdvisorAnswer(t *testing.T) {
	f := newFixture(t, completerFunc(func(context.Context, string, string) (string, error) {
		return `{"best_match": "retail", "factor": 1.2, "confidence": 0.9}`, nil
	}))
	out, err := f.svc.SuggestFactors(f.ctx, domain.SuggestFactorsRequest{Description: "corner shop"})
	require.NoError(t, err)
	assert.Equal(t, "retail", out.BestMatch)
	assert.True(t, decimal.RequireFromString("1.2").Equal(out.Factor))
	assert.Equal(t, 0.9, out.Confidence)
}

func TestAdvisorRequiresCapability(t *testing.T) {
	f := newFixture(t, nil)
	p, err := tenant.RequireCompany(f.ctx)
	require.NoError(t, err)
	p.Role = authorization.RoleViewer
	ctx := tenant.WithPrincipal(context.Background(), p)

	_, err = f.svc.Benchmark(ctx)
	assert.ErrorIs(t, err, authorization.ErrForbidden)
	assert.Empty(t, f.events(t))
}

func TestParseRejectsOutOfRangeConfidence(t *testing.T) {
	_, err := parseBenchmark(`{"percentile": 10, "delta_vs_avg": 0, "confidence": 3}`)
	assert.ErrorIs(t, err, errMalformed)

	_, err = parseSuggestion(`{"best_match": "retail", "factor": -1}`)
	assert.ErrorIs(t, err, errMalformed)

	_, err = parseValidation(`{"score": "high"}`)
	assert.ErrorIs(t, err, errMalformed)
}
