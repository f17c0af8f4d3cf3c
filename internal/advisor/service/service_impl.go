package service

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/greenledger/internal/advisor/domain"
	"github.com/smallbiznis/greenledger/internal/authorization"
	carbondomain "github.com/smallbiznis/greenledger/internal/carbon/domain"
	"github.com/smallbiznis/greenledger/internal/clock"
	"github.com/smallbiznis/greenledger/internal/config"
	identitydomain "github.com/smallbiznis/greenledger/internal/identity/domain"
	obsmetrics "github.com/smallbiznis/greenledger/internal/observability/metrics"
	"github.com/smallbiznis/greenledger/internal/ratelimit"
	"github.com/smallbiznis/greenledger/internal/tenant"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultTimeout = 30 * time.Second

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Config    config.Config
	Repo      domain.Repository
	Authz     *authorization.Authorizer
	Completer domain.Completer
	Carbon    carbondomain.Service
	Identity  identitydomain.Service
	Factors   *config.FactorsHolder
	Limiter   *ratelimit.AdvisorLimiter `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	timeout   time.Duration
	repo      domain.Repository
	authz     *authorization.Authorizer
	completer domain.Completer
	carbon    carbondomain.Service
	identity  identitydomain.Service
	factors   *config.FactorsHolder
	limiter   *ratelimit.AdvisorLimiter
	metrics   *obsmetrics.DomainMetrics
}

func New(p Params) domain.Service {
	timeout := p.Config.Advisor.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("advisor.service"),
		clock:     p.Clock,
		timeout:   timeout,
		repo:      p.Repo,
		authz:     p.Authz,
		completer: p.Completer,
		carbon:    p.Carbon,
		identity:  p.Identity,
		factors:   p.Factors,
		limiter:   p.Limiter,
		metrics:   obsmetrics.Domain(),
	}
}

func (s *Service) principal(ctx context.Context) (tenant.Principal, error) {
	p, err := tenant.RequireCompany(ctx)
	if err != nil {
		return tenant.Principal{}, err
	}
	if err := s.authz.Require(p.Role, authorization.FeatureAIUse); err != nil {
		return tenant.Principal{}, err
	}
	return p, nil
}

func (s *Service) ValidateEmissions(ctx context.Context, footprintID uuid.UUID) (domain.EmissionsValidation, error) {
	p, err := s.principal(ctx)
	if err != nil {
		return domain.EmissionsValidation{}, err
	}
	fp, err := s.carbon.Get(ctx, footprintID)
	if err != nil {
		return domain.EmissionsValidation{}, err
	}

	out := ask(ctx, s, p.CompanyID, domain.OperationValidateEmissions, factsOf(&fp), parseValidation, func() domain.EmissionsValidation {
		return mockValidation(fp)
	})
	if out.Source == sourceAdvisor {
		if err := s.carbon.RecordValidation(ctx, fp.ID, decimal.NewFromFloat(out.Score)); err != nil {
			return domain.EmissionsValidation{}, err
		}
	}
	return out, nil
}

// companyContext loads the company and its latest footprint.
func (s *Service) companyContext(ctx context.Context, companyID uuid.UUID) (identitydomain.Company, *carbondomain.Footprint, error) {
	company, err := s.identity.GetCompany(ctx, companyID)
	if err != nil {
		return identitydomain.Company{}, nil, err
	}
	latest, err := s.carbon.Latest(ctx)
	if err != nil {
		return identitydomain.Company{}, nil, err
	}
	return company, latest, nil
}

func (s *Service) Benchmark(ctx context.Context) (domain.Benchmark, error) {
	p, err := s.principal(ctx)
	if err != nil {
		return domain.Benchmark{}, err
	}
	company, latest, err := s.companyContext(ctx, p.CompanyID)
	if err != nil {
		return domain.Benchmark{}, err
	}
	factors := s.factors.Get()
	var baseline *decimal.Decimal
	if expected, ok := expectedEmissions(company, factors); ok {
		baseline = &expected
	}
	facts := companyFactsOf(company, latest, baseline)

	return ask(ctx, s, p.CompanyID, domain.OperationBenchmark, facts, parseBenchmark, func() domain.Benchmark {
		return mockBenchmark(company, latest, factors)
	}), nil
}

func (s *Service) ActionPlan(ctx context.Context) (domain.ActionPlan, error) {
	p, err := s.principal(ctx)
	if err != nil {
		return domain.ActionPlan{}, err
	}
	company, latest, err := s.companyContext(ctx, p.CompanyID)
	if err != nil {
		return domain.ActionPlan{}, err
	}
	facts := companyFactsOf(company, latest, nil)

	return ask(ctx, s, p.CompanyID, domain.OperationActionPlan, facts, parseActionPlan, func() domain.ActionPlan {
		return mockActionPlan(latest)
	}), nil
}

func (s *Service) SuggestFactors(ctx context.Context, req domain.SuggestFactorsRequest) (domain.FactorSuggestion, error) {
	p, err := s.principal(ctx)
	if err != nil {
		return domain.FactorSuggestion{}, err
	}
	req.Description = strings.TrimSpace(req.Description)
	req.Industry = strings.TrimSpace(req.Industry)
	if req.Description == "" {
		return domain.FactorSuggestion{}, domain.ErrDescriptionRequired
	}
	factors := s.factors.Get()
	facts := map[string]any{
		"description": req.Description,
		"industry":    req.Industry,
		"factors":     factors.Industry,
	}

	return ask(ctx, s, p.CompanyID, domain.OperationSuggestFactors, facts, parseSuggestion, func() domain.FactorSuggestion {
		return mockSuggestion(req, factors)
	}), nil
}

// ask calls the remote advisor and falls back to mock on any failure. The
// call and its outcome are recorded either way.
func ask[T any](ctx context.Context, s *Service, companyID uuid.UUID, op domain.Operation, facts any, parse func(string) (T, error), mock func() T) T {
	started := time.Now()
	out, reason, cause := call(ctx, s, companyID, op, facts, parse)
	latency := time.Since(started)

	outcome := domain.OutcomeOK
	if reason != "" {
		outcome = domain.OutcomeFallback
		out = mock()
		s.log.Warn("advisor fallback",
			zap.String("operation", string(op)),
			zap.String("company_id", companyID.String()),
			zap.String("reason", reason),
			zap.Error(cause),
		)
	}
	s.metrics.RecordAdvisorCall(string(op), outcome, reason)
	s.recordEvent(ctx, companyID, op, outcome, reason, latency)
	return out
}

// call returns a non-empty reason when the answer cannot be used.
func call[T any](ctx context.Context, s *Service, companyID uuid.UUID, op domain.Operation, facts any, parse func(string) (T, error)) (T, string, error) {
	var zero T
	if s.completer == nil {
		return zero, domain.ReasonUnconfigured, domain.ErrUnconfigured
	}
	if s.limiter.Enabled() {
		res, err := s.limiter.Allow(ctx, companyID)
		if err != nil {
			s.log.Warn("advisor rate limiter unavailable", zap.Error(err))
		} else if !res.Allowed {
			s.metrics.RecordRateLimited("advisor", "company")
			return zero, domain.ReasonRateLimited, nil
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	text, err := s.completer.Complete(callCtx, systemPrompt, promptFor(op, facts))
	if err != nil {
		return zero, reasonFor(err), err
	}
	out, err := parse(text)
	if err != nil {
		return zero, domain.ReasonMalformed, err
	}
	return out, "", nil
}

func reasonFor(err error) string {
	var status *domain.StatusError
	var netErr net.Error
	switch {
	case errors.Is(err, domain.ErrUnconfigured):
		return domain.ReasonUnconfigured
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ReasonTimeout
	case errors.As(err, &status):
		return domain.ReasonUpstream
	case errors.As(err, &netErr) && netErr.Timeout():
		return domain.ReasonTimeout
	}
	return domain.ReasonTransport
}

func (s *Service) recordEvent(ctx context.Context, companyID uuid.UUID, op domain.Operation, outcome, reason string, latency time.Duration) {
	event := &domain.Event{
		ID:        uuid.Must(uuid.NewV7()),
		CompanyID: companyID,
		Operation: op,
		Outcome:   outcome,
		Reason:    reason,
		LatencyMS: latency.Milliseconds(),
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.InsertEvent(context.WithoutCancel(ctx), s.db, event); err != nil {
		s.log.Warn("advisor event not recorded", zap.Error(err))
	}
}
