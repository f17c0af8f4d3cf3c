package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/greenledger/internal/authorization"
	"github.com/smallbiznis/greenledger/internal/carbon/domain"
	"github.com/smallbiznis/greenledger/internal/clock"
	"github.com/smallbiznis/greenledger/internal/config"
	"github.com/smallbiznis/greenledger/internal/observability/metrics"
	"github.com/smallbiznis/greenledger/internal/tenant"
	"github.com/smallbiznis/greenledger/pkg/apperr"
	"github.com/smallbiznis/greenledger/pkg/db"
	"github.com/smallbiznis/greenledger/pkg/db/pagination"
	"github.com/smallbiznis/greenledger/pkg/decimalx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var hundred = decimal.NewFromInt(100)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Repo    domain.Repository
	Authz   *authorization.Authorizer
	Factors *config.FactorsHolder
	Offsets domain.OffsetLedger `optional:"true"`
	Meters  *metrics.Business   `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	repo    domain.Repository
	authz   *authorization.Authorizer
	factors *config.FactorsHolder
	offsets domain.OffsetLedger
	meters  *metrics.Business
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("carbon.service"),
		clock:   p.Clock,
		repo:    p.Repo,
		authz:   p.Authz,
		factors: p.Factors,
		offsets: p.Offsets,
		meters:  p.Meters,
	}
}

func (s *Service) principal(ctx context.Context, feature authorization.Feature) (tenant.Principal, error) {
	p, err := tenant.RequireCompany(ctx)
	if err != nil {
		return tenant.Principal{}, err
	}
	if err := s.authz.Require(p.Role, feature); err != nil {
		return tenant.Principal{}, err
	}
	return p, nil
}

func (s *Service) Create(ctx context.Context, req domain.CreateFootprintRequest) (domain.Footprint, error) {
	p, err := s.principal(ctx, authorization.FeatureCarbonWrite)
	if err != nil {
		return domain.Footprint{}, err
	}
	label, start, end, err := domain.ParsePeriod(req.ReportingPeriod)
	if err != nil {
		return domain.Footprint{}, err
	}
	if err := validateScopes(req.Scope1, req.Scope2, req.Scope3); err != nil {
		return domain.Footprint{}, err
	}

	now := s.clock.Now()
	fp := domain.Footprint{
		ID:              uuid.Must(uuid.NewV7()),
		CompanyID:       p.CompanyID,
		ReportingPeriod: label,
		PeriodStart:     start,
		PeriodEnd:       end,
		Scope1Emissions: decimalx.Emission(req.Scope1),
		Scope2Emissions: decimalx.Emission(req.Scope2),
		Scope3Emissions: decimalx.Emission(req.Scope3),
		Status:          domain.StatusDraft,
		Notes:           strings.TrimSpace(req.Notes),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	fp.Recompute()

	if err := s.repo.Insert(ctx, s.db, &fp); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Footprint{}, domain.ErrPeriodExists
		}
		return domain.Footprint{}, err
	}
	return fp, nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, req domain.UpdateFootprintRequest) (domain.Footprint, error) {
	p, err := s.principal(ctx, authorization.FeatureCarbonWrite)
	if err != nil {
		return domain.Footprint{}, err
	}

	return s.mutate(ctx, p, id, func(fp *domain.Footprint, now time.Time) error {
		if fp.Status == domain.StatusVerified {
			if !s.authz.CanAccess(p.Role, authorization.FeatureCarbonOverride) {
				return domain.ErrImmutable
			}
			fp.OverrideAt = &now
		}
		scope1, scope2, scope3 := fp.Scope1Emissions, fp.Scope2Emissions, fp.Scope3Emissions
		if req.Scope1 != nil {
			scope1 = *req.Scope1
		}
		if req.Scope2 != nil {
			scope2 = *req.Scope2
		}
		if req.Scope3 != nil {
			scope3 = *req.Scope3
		}
		if err := validateScopes(scope1, scope2, scope3); err != nil {
			return err
		}
		fp.Scope1Emissions = decimalx.Emission(scope1)
		fp.Scope2Emissions = decimalx.Emission(scope2)
		fp.Scope3Emissions = decimalx.Emission(scope3)
		if req.Notes != nil {
			fp.Notes = strings.TrimSpace(*req.Notes)
		}
		return nil
	})
}

func (s *Service) Submit(ctx context.Context, id uuid.UUID) (domain.Footprint, error) {
	p, err := s.principal(ctx, authorization.FeatureCarbonWrite)
	if err != nil {
		return domain.Footprint{}, err
	}
	fp, err := s.mutate(ctx, p, id, func(fp *domain.Footprint, now time.Time) error {
		if err := transition(fp.Status, domain.StatusSubmitted); err != nil {
			return err
		}
		fp.Status = domain.StatusSubmitted
		fp.SubmittedAt = &now
		return nil
	})
	return s.recordTransition(ctx, fp, err)
}

func (s *Service) Verify(ctx context.Context, id uuid.UUID) (domain.Footprint, error) {
	p, err := s.principal(ctx, authorization.FeatureCarbonVerify)
	if err != nil {
		return domain.Footprint{}, err
	}
	fp, err := s.mutate(ctx, p, id, func(fp *domain.Footprint, now time.Time) error {
		if err := transition(fp.Status, domain.StatusVerified); err != nil {
			return err
		}
		fp.Status = domain.StatusVerified
		fp.VerifiedAt = &now
		return nil
	})
	return s.recordTransition(ctx, fp, err)
}

// Reopen returns a submitted or verified footprint to draft.
func (s *Service) Reopen(ctx context.Context, id uuid.UUID, reason string) (domain.Footprint, error) {
	p, err := s.principal(ctx, authorization.FeatureCarbonOverride)
	if err != nil {
		return domain.Footprint{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.Footprint{}, domain.ErrReasonRequired
	}
	fp, err := s.mutate(ctx, p, id, func(fp *domain.Footprint, now time.Time) error {
		if fp.Status == domain.StatusDraft {
			return domain.ErrInvalidTransition
		}
		if fp.Status == domain.StatusVerified {
			fp.OverrideAt = &now
		}
		entry := fmt.Sprintf("[reopened %s from %s] %s", now.Format(time.RFC3339), fp.Status, reason)
		if fp.Notes == "" {
			fp.Notes = entry
		} else {
			fp.Notes = fp.Notes + "\n" + entry
		}
		fp.Status = domain.StatusDraft
		fp.SubmittedAt = nil
		fp.VerifiedAt = nil
		return nil
	})
	return s.recordTransition(ctx, fp, err)
}

func (s *Service) recordTransition(ctx context.Context, fp domain.Footprint, err error) (domain.Footprint, error) {
	if err != nil {
		return domain.Footprint{}, err
	}
	s.meters.RecordFootprintTransition(ctx, string(fp.Status), fp.TotalEmissions)
	return fp, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	p, err := s.principal(ctx, authorization.FeatureCarbonWrite)
	if err != nil {
		return err
	}
	return db.WithRetry(ctx, s.db, func(tx *gorm.DB) error {
		fp, err := s.repo.FindByIDForUpdate(ctx, tx, p.CompanyID, id)
		if err != nil {
			return err
		}
		if fp == nil {
			return domain.ErrNotFound
		}
		switch fp.Status {
		case domain.StatusVerified:
			return domain.ErrImmutable
		case domain.StatusSubmitted:
			return domain.ErrInvalidTransition
		}
		return s.repo.Delete(ctx, tx, p.CompanyID, id)
	})
}

// mutate loads the footprint under lock, applies fn and persists the
// recomputed record.
func (s *Service) mutate(ctx context.Context, p tenant.Principal, id uuid.UUID, fn func(*domain.Footprint, time.Time) error) (domain.Footprint, error) {
	var out domain.Footprint
	err := db.WithRetry(ctx, s.db, func(tx *gorm.DB) error {
		fp, err := s.repo.FindByIDForUpdate(ctx, tx, p.CompanyID, id)
		if err != nil {
			return err
		}
		if fp == nil {
			return domain.ErrNotFound
		}
		now := s.clock.Now()
		if err := fn(fp, now); err != nil {
			return err
		}
		fp.Recompute()
		fp.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, fp); err != nil {
			return err
		}
		out = *fp
		return nil
	})
	if err != nil {
		return domain.Footprint{}, err
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Footprint, error) {
	p, err := s.principal(ctx, authorization.FeatureCarbonRead)
	if err != nil {
		return domain.Footprint{}, err
	}
	fp, err := s.repo.FindByID(ctx, s.db, p.CompanyID, id)
	if err != nil {
		return domain.Footprint{}, err
	}
	if fp == nil {
		return domain.Footprint{}, domain.ErrNotFound
	}
	return *fp, nil
}

func (s *Service) List(ctx context.Context, req domain.ListFootprintRequest) (domain.ListFootprintResponse, error) {
	p, err := s.principal(ctx, authorization.FeatureCarbonRead)
	if err != nil {
		return domain.ListFootprintResponse{}, err
	}
	if req.Status != "" && !req.Status.Valid() {
		return domain.ListFootprintResponse{}, domain.ErrInvalidStatus
	}

	page := pagination.Pagination{PageToken: req.PageToken, PageSize: int(req.PageSize)}
	items, err := s.repo.List(ctx, s.db, p.CompanyID, domain.ListFilter{
		Status: req.Status,
		Period: strings.ToUpper(strings.TrimSpace(req.Period)),
	}, page)
	if err != nil {
		return domain.ListFootprintResponse{}, err
	}

	items, info := pagination.Page(items, page.Size(), func(fp *domain.Footprint) (string, time.Time) {
		return fp.ID.String(), fp.CreatedAt
	})
	out := make([]domain.Footprint, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return domain.ListFootprintResponse{PageInfo: info, Footprints: out}, nil
}

func (s *Service) Latest(ctx context.Context) (*domain.Footprint, error) {
	p, err := s.principal(ctx, authorization.FeatureCarbonRead)
	if err != nil {
		return nil, err
	}
	return s.repo.Latest(ctx, s.db, p.CompanyID)
}

func (s *Service) CompanyAggregate(ctx context.Context, periodFilter string) (domain.Aggregate, error) {
	p, err := s.principal(ctx, authorization.FeatureCarbonRead)
	if err != nil {
		return domain.Aggregate{}, err
	}
	filter := strings.ToUpper(strings.TrimSpace(periodFilter))
	items, err := s.repo.ListByPeriodPrefix(ctx, s.db, p.CompanyID, filter)
	if err != nil {
		return domain.Aggregate{}, err
	}

	agg := domain.Aggregate{
		PeriodFilter: filter,
		Scope1:       decimal.Zero,
		Scope2:       decimal.Zero,
		Scope3:       decimal.Zero,
		Total:        decimal.Zero,
		ByStatus:     map[domain.Status]int{},
		ByPeriod:     map[string]decimal.Decimal{},
	}
	for _, fp := range items {
		agg.Periods++
		agg.Scope1 = agg.Scope1.Add(fp.Scope1Emissions)
		agg.Scope2 = agg.Scope2.Add(fp.Scope2Emissions)
		agg.Scope3 = agg.Scope3.Add(fp.Scope3Emissions)
		agg.Total = agg.Total.Add(fp.TotalEmissions)
		agg.ByStatus[fp.Status]++
		agg.ByPeriod[fp.ReportingPeriod] = fp.TotalEmissions
	}
	return agg, nil
}

// NetBalance nets verified emissions against completed offsets. Without an
// explicit window it covers the twelve months ending with the latest
// footprint's period.
func (s *Service) NetBalance(ctx context.Context, window *domain.Window) (domain.NetBalance, error) {
	p, err := s.principal(ctx, authorization.FeatureCarbonRead)
	if err != nil {
		return domain.NetBalance{}, err
	}

	var w domain.Window
	if window != nil {
		if !window.From.Before(window.To) {
			return domain.NetBalance{}, domain.ErrInvalidWindow
		}
		w = domain.Window{From: window.From.UTC(), To: window.To.UTC()}
	} else {
		latest, err := s.repo.Latest(ctx, s.db, p.CompanyID)
		if err != nil {
			return domain.NetBalance{}, err
		}
		anchor := monthStart(s.clock.Now()).AddDate(0, 1, 0)
		if latest != nil {
			anchor = latest.PeriodEnd.UTC()
		}
		w = domain.Window{From: anchor.AddDate(-1, 0, 0), To: anchor}
	}

	footprints, err := s.repo.ListInWindow(ctx, s.db, p.CompanyID, domain.StatusVerified, w.From, w.To)
	if err != nil {
		return domain.NetBalance{}, err
	}
	emissions := decimal.Zero
	for _, fp := range footprints {
		emissions = emissions.Add(fp.TotalEmissions)
	}

	offsets := decimal.Zero
	if s.offsets != nil {
		offsets, err = s.offsets.CompletedOffsets(ctx, s.db, p.CompanyID, w.From, w.To)
		if err != nil {
			return domain.NetBalance{}, err
		}
	}

	return domain.NetBalance{
		Window:     w,
		Emissions:  emissions,
		Offsets:    offsets,
		Net:        emissions.Sub(offsets),
		Neutrality: Neutrality(emissions, offsets),
	}, nil
}

// Neutrality is min(100, 100*offsets/emissions). Zero emissions are fully
// neutral.
func Neutrality(emissions, offsets decimal.Decimal) decimal.Decimal {
	if !emissions.IsPositive() {
		return hundred
	}
	pct := offsets.Mul(hundred).DivRound(emissions, decimalx.MoneyScale)
	if pct.GreaterThan(hundred) {
		return hundred
	}
	if pct.IsNegative() {
		return decimal.Zero
	}
	return pct
}

func (s *Service) CalculateDefaults(ctx context.Context, req domain.DefaultsRequest) (domain.Defaults, error) {
	if _, err := s.principal(ctx, authorization.FeatureCarbonRead); err != nil {
		return domain.Defaults{}, err
	}
	if req.Employees <= 0 {
		return domain.Defaults{}, domain.ErrInvalidEmployees
	}
	return EstimateDefaults(s.factors.Get(), req.Industry, req.Employees), nil
}

// EstimateDefaults scales the per-employee baseline by the industry factor.
// Unknown industries use the "other" factor, or 1 when that is absent.
func EstimateDefaults(f config.Factors, industry string, employees int) domain.Defaults {
	key := strings.ToLower(strings.TrimSpace(industry))
	factor, ok := f.Industry[key]
	if !ok {
		key = "other"
		factor, ok = f.Industry[key]
		if !ok {
			factor = decimal.NewFromInt(1)
		}
	}
	n := decimal.NewFromInt(int64(employees))
	scale := func(base decimal.Decimal) decimal.Decimal {
		return decimalx.Emission(base.Mul(n).Mul(factor))
	}
	out := domain.Defaults{
		Industry: key,
		Factor:   factor,
		Scope1:   scale(f.PerEmployee.Scope1),
		Scope2:   scale(f.PerEmployee.Scope2),
		Scope3:   scale(f.PerEmployee.Scope3),
	}
	out.Total = out.Scope1.Add(out.Scope2).Add(out.Scope3)
	return out
}

// RecordValidation stores an advisor score without changing status or
// totals. Verified footprints accept it too.
func (s *Service) RecordValidation(ctx context.Context, id uuid.UUID, score decimal.Decimal) error {
	p, err := tenant.RequireCompany(ctx)
	if err != nil {
		return err
	}
	if score.IsNegative() || score.GreaterThan(hundred) {
		return domain.ErrInvalidScore
	}
	return db.WithRetry(ctx, s.db, func(tx *gorm.DB) error {
		fp, err := s.repo.FindByIDForUpdate(ctx, tx, p.CompanyID, id)
		if err != nil {
			return err
		}
		if fp == nil {
			return domain.ErrNotFound
		}
		now := s.clock.Now()
		rounded := score.Round(decimalx.MoneyScale)
		fp.AIValidationScore = &rounded
		fp.AIValidatedAt = &now
		return s.repo.Update(ctx, tx, fp)
	})
}

// ApplyImport upserts rows by reporting period inside tx. Verified periods
// are never overwritten; the first such row fails the batch.
func (s *Service) ApplyImport(ctx context.Context, tx *gorm.DB, companyID uuid.UUID, rows []domain.ImportRow) (int, error) {
	now := s.clock.Now()
	applied := 0
	for i, row := range rows {
		label, start, end, err := domain.ParsePeriod(row.ReportingPeriod)
		if err != nil {
			return applied, fmt.Errorf("row %d: %w", i, err)
		}
		if err := validateScopes(row.Scope1, row.Scope2, row.Scope3); err != nil {
			return applied, fmt.Errorf("row %d: %w", i, err)
		}

		existing, err := s.repo.FindByPeriod(ctx, tx, companyID, label)
		if err != nil {
			return applied, err
		}
		if existing == nil {
			fp := domain.Footprint{
				ID:              uuid.Must(uuid.NewV7()),
				CompanyID:       companyID,
				ReportingPeriod: label,
				PeriodStart:     start,
				PeriodEnd:       end,
				Scope1Emissions: decimalx.Emission(row.Scope1),
				Scope2Emissions: decimalx.Emission(row.Scope2),
				Scope3Emissions: decimalx.Emission(row.Scope3),
				Status:          domain.StatusDraft,
				Notes:           strings.TrimSpace(row.Notes),
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			fp.Recompute()
			if err := s.repo.Insert(ctx, tx, &fp); err != nil {
				return applied, err
			}
			applied++
			continue
		}

		if existing.Status == domain.StatusVerified {
			return applied, fmt.Errorf("row %d (%s): %w", i, label, domain.ErrImmutable)
		}
		existing.Scope1Emissions = decimalx.Emission(row.Scope1)
		existing.Scope2Emissions = decimalx.Emission(row.Scope2)
		existing.Scope3Emissions = decimalx.Emission(row.Scope3)
		if notes := strings.TrimSpace(row.Notes); notes != "" {
			existing.Notes = notes
		}
		existing.Recompute()
		existing.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, existing); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

func validateScopes(scopes ...decimal.Decimal) error {
	var fields []apperr.FieldError
	for i, v := range scopes {
		if v.IsNegative() {
			fields = append(fields, apperr.FieldError{
				Field:   fmt.Sprintf("scope%d_emissions", i+1),
				Code:    "negative_emission",
				Message: "emissions must not be negative",
			})
		}
	}
	if len(fields) == 0 {
		return nil
	}
	err := apperr.Validation(fields...)
	err.Code = "negative_emission"
	return err
}

// transition enforces draft -> submitted -> verified.
func transition(from, to domain.Status) error {
	switch {
	case from == domain.StatusDraft && to == domain.StatusSubmitted:
		return nil
	case from == domain.StatusSubmitted && to == domain.StatusVerified:
		return nil
	case from == domain.StatusVerified:
		return domain.ErrImmutable
	}
	return domain.ErrInvalidTransition
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
