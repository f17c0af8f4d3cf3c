package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/greenledger/internal/authorization"
	"github.com/smallbiznis/greenledger/internal/clock"
	"github.com/smallbiznis/greenledger/internal/compliance/catalog"
	"github.com/smallbiznis/greenledger/internal/compliance/domain"
	"github.com/smallbiznis/greenledger/internal/tenant"
	"github.com/smallbiznis/greenledger/pkg/db"
	"github.com/smallbiznis/greenledger/pkg/db/pagination"
	"github.com/smallbiznis/greenledger/pkg/decimalx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// KindRegulatoryUpdate is the notification kind emitted on publish.
const KindRegulatoryUpdate = "regulatory_update"

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Repo     domain.Repository
	Authz    *authorization.Authorizer
	Admins   domain.AdminDirectory `optional:"true"`
	Notifier domain.Notifier       `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	repo     domain.Repository
	authz    *authorization.Authorizer
	admins   domain.AdminDirectory
	notifier domain.Notifier
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("compliance.service"),
		clock:    p.Clock,
		repo:     p.Repo,
		authz:    p.Authz,
		admins:   p.Admins,
		notifier: p.Notifier,
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

// SeedCatalog upserts datapoints by code. Existing rows whose content changed
// get a new revision timestamp.
func (s *Service) SeedCatalog(ctx context.Context, items []domain.DatapointInput) (domain.SeedResult, error) {
	var res domain.SeedResult
	err := db.WithRetry(ctx, s.db, func(tx *gorm.DB) error {
		res = domain.SeedResult{}
		now := s.clock.Now()
		for _, in := range items {
			code := strings.ToUpper(strings.TrimSpace(in.Code))
			if code == "" || strings.TrimSpace(in.Name) == "" {
				return fmt.Errorf("datapoint %q: code and name are required", in.Code)
			}
			existing, err := s.repo.FindDatapointByCode(ctx, tx, code)
			if err != nil {
				return err
			}
			if existing == nil {
				dp := domain.Datapoint{
					ID:         uuid.Must(uuid.NewV7()),
					Code:       code,
					Name:       in.Name,
					Standard:   in.Standard,
					Category:   in.Category,
					Mandatory:  in.Mandatory,
					Definition: in.Definition,
					CreatedAt:  now,
					UpdatedAt:  now,
				}
				if err := s.repo.InsertDatapoint(ctx, tx, &dp); err != nil {
					return err
				}
				res.Created++
				continue
			}
			if !revised(*existing, in) {
				continue
			}
			existing.Name = in.Name
			existing.Standard = in.Standard
			existing.Category = in.Category
			existing.Mandatory = in.Mandatory
			existing.Definition = in.Definition
			existing.RevisedAt = &now
			existing.UpdatedAt = now
			if err := s.repo.UpdateDatapoint(ctx, tx, existing); err != nil {
				return err
			}
			res.Revised++
		}
		return nil
	})
	if err != nil {
		return domain.SeedResult{}, err
	}
	s.log.Info("esrs catalog seeded",
		zap.Int("items", len(items)),
		zap.Int("created", res.Created),
		zap.Int("revised", res.Revised),
	)
	return res, nil
}

func revised(dp domain.Datapoint, in domain.DatapointInput) bool {
	return dp.Name != in.Name ||
		dp.Standard != in.Standard ||
		dp.Category != in.Category ||
		dp.Mandatory != in.Mandatory ||
		dp.Definition != in.Definition
}

func (s *Service) EnsureCatalog(ctx context.Context) error {
	n, err := s.repo.CountDatapoints(ctx, s.db)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	items, err := catalog.Datapoints()
	if err != nil {
		return err
	}
	_, err = s.SeedCatalog(ctx, items)
	return err
}

func (s *Service) Search(ctx context.Context, req domain.SearchRequest) ([]domain.Datapoint, error) {
	if _, err := s.principal(ctx, authorization.FeatureComplianceRead); err != nil {
		return nil, err
	}
	return s.repo.SearchDatapoints(ctx, s.db, req)
}

func (s *Service) GetDatapoint(ctx context.Context, code string) (domain.Datapoint, error) {
	if _, err := s.principal(ctx, authorization.FeatureComplianceRead); err != nil {
		return domain.Datapoint{}, err
	}
	dp, err := s.repo.FindDatapointByCode(ctx, s.db, normalizeCode(code))
	if err != nil {
		return domain.Datapoint{}, err
	}
	if dp == nil {
		return domain.Datapoint{}, domain.ErrDatapointNotFound
	}
	return *dp, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Assess records the company's answer for a datapoint, replacing any
// previous one.
func (s *Service) Assess(ctx context.Context, req domain.AssessRequest) (domain.AssessmentView, error) {
	p, err := s.principal(ctx, authorization.FeatureComplianceWrite)
	if err != nil {
		return domain.AssessmentView{}, err
	}
	if !req.Status.Valid() {
		return domain.AssessmentView{}, domain.ErrInvalidStatus
	}
	if req.ValueText != nil && req.ValueNumeric != nil {
		return domain.AssessmentView{}, domain.ErrInvalidValue
	}

	var out domain.AssessmentView
	err = db.WithRetry(ctx, s.db, func(tx *gorm.DB) error {
		dp, err := s.repo.FindDatapointByCode(ctx, tx, normalizeCode(req.DatapointCode))
		if err != nil {
			return err
		}
		if dp == nil {
			return domain.ErrDatapointNotFound
		}

		now := s.clock.Now()
		a := domain.Assessment{
			ID:          uuid.Must(uuid.NewV7()),
			CompanyID:   p.CompanyID,
			DatapointID: dp.ID,
			Status:      req.Status,
			EvidenceRef: strings.TrimSpace(req.EvidenceRef),
			AssessorID:  p.UserID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if req.ValueText != nil {
			v := strings.TrimSpace(*req.ValueText)
			a.ValueText = &v
		}
		if req.ValueNumeric != nil {
			v := decimalx.Emission(*req.ValueNumeric)
			a.ValueNumeric = &v
		}
		if err := s.repo.UpsertAssessment(ctx, tx, &a); err != nil {
			return err
		}
		stored, err := s.repo.FindAssessment(ctx, tx, p.CompanyID, dp.ID)
		if err != nil {
			return err
		}
		if stored == nil {
			return fmt.Errorf("assessment for %s vanished after upsert", dp.Code)
		}
		out = domain.AssessmentView{Assessment: *stored, DatapointCode: dp.Code, Mandatory: dp.Mandatory}
		return nil
	})
	if err != nil {
		return domain.AssessmentView{}, err
	}
	return out, nil
}

func (s *Service) ListAssessments(ctx context.Context) ([]domain.AssessmentView, error) {
	p, err := s.principal(ctx, authorization.FeatureComplianceRead)
	if err != nil {
		return nil, err
	}
	return s.repo.ListAssessments(ctx, s.db, p.CompanyID)
}

func (s *Service) Progress(ctx context.Context) (domain.Progress, error) {
	p, err := s.principal(ctx, authorization.FeatureComplianceRead)
	if err != nil {
		return domain.Progress{}, err
	}
	return s.CompanyProgress(ctx, p.CompanyID)
}

// CompanyProgress counts every catalog datapoint by the company's assessment
// status. Datapoints without an assessment count as not started.
func (s *Service) CompanyProgress(ctx context.Context, companyID uuid.UUID) (domain.Progress, error) {
	datapoints, err := s.repo.SearchDatapoints(ctx, s.db, domain.SearchRequest{})
	if err != nil {
		return domain.Progress{}, err
	}
	assessments, err := s.repo.ListAssessments(ctx, s.db, companyID)
	if err != nil {
		return domain.Progress{}, err
	}
	return Summarize(datapoints, assessments), nil
}

// Summarize computes progress from a catalog and a company's assessments.
func Summarize(datapoints []domain.Datapoint, assessments []domain.AssessmentView) domain.Progress {
	status := make(map[uuid.UUID]domain.AssessmentStatus, len(assessments))
	for _, a := range assessments {
		status[a.DatapointID] = a.Status
	}

	out := domain.Progress{
		Total:    len(datapoints),
		ByStatus: make(map[domain.AssessmentStatus]int, len(domain.AssessmentStatuses)),
	}
	for _, st := range domain.AssessmentStatuses {
		out.ByStatus[st] = 0
	}
	for _, dp := range datapoints {
		st, ok := status[dp.ID]
		if !ok {
			st = domain.StatusNotStarted
		}
		out.ByStatus[st]++
		if dp.Mandatory {
			out.MandatoryTotal++
			if st == domain.StatusCompleted {
				out.MandatoryCompleted++
			}
		}
	}
	out.MandatoryCompletion = decimal.Zero
	if out.MandatoryTotal > 0 {
		out.MandatoryCompletion = decimal.NewFromInt(int64(out.MandatoryCompleted)).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(int64(out.MandatoryTotal))).
			Round(decimalx.MoneyScale)
	}
	return out
}

// Publish stores a regulatory update and notifies every administrator,
// grouped per company, in the same transaction.
func (s *Service) Publish(ctx context.Context, req domain.PublishRequest) (domain.RegulatoryUpdate, error) {
	p, err := s.principal(ctx, authorization.FeatureRegulatoryPublish)
	if err != nil {
		return domain.RegulatoryUpdate{}, err
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return domain.RegulatoryUpdate{}, domain.ErrInvalidTitle
	}
	severity := req.Severity
	if severity == "" {
		severity = domain.SeverityInfo
	}
	if !severity.Valid() {
		return domain.RegulatoryUpdate{}, domain.ErrInvalidSeverity
	}
	if req.EffectiveDate.IsZero() {
		return domain.RegulatoryUpdate{}, domain.ErrInvalidEffectiveDate
	}

	var recipients map[uuid.UUID][]string
	if s.admins != nil {
		admins, err := s.admins.Administrators(ctx)
		if err != nil {
			return domain.RegulatoryUpdate{}, err
		}
		recipients = groupByCompany(admins)
	}

	u := domain.RegulatoryUpdate{
		ID:            uuid.Must(uuid.NewV7()),
		Title:         title,
		Body:          strings.TrimSpace(req.Body),
		EffectiveDate: req.EffectiveDate.UTC(),
		Severity:      severity,
		PublishedBy:   p.UserID,
		CreatedAt:     s.clock.Now(),
	}
	err = db.WithRetry(ctx, s.db, func(tx *gorm.DB) error {
		if err := s.repo.InsertUpdate(ctx, tx, &u); err != nil {
			return err
		}
		if s.notifier == nil {
			return nil
		}
		for _, companyID := range sortedCompanies(recipients) {
			payload := map[string]any{
				"update_id":      u.ID.String(),
				"title":          u.Title,
				"severity":       string(u.Severity),
				"effective_date": u.EffectiveDate.Format(time.DateOnly),
				"recipients":     recipients[companyID],
			}
			if err := s.notifier.Notify(ctx, tx, companyID, KindRegulatoryUpdate, payload); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.RegulatoryUpdate{}, err
	}
	s.log.Info("regulatory update published",
		zap.String("update_id", u.ID.String()),
		zap.String("severity", string(u.Severity)),
		zap.Int("companies", len(recipients)),
	)
	return u, nil
}

func groupByCompany(admins []domain.Administrator) map[uuid.UUID][]string {
	out := make(map[uuid.UUID][]string)
	for _, a := range admins {
		if a.CompanyID == uuid.Nil {
			continue
		}
		out[a.CompanyID] = append(out[a.CompanyID], a.Email)
	}
	return out
}

func sortedCompanies(m map[uuid.UUID][]string) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func (s *Service) ListUpdates(ctx context.Context, page pagination.Pagination) (domain.ListUpdatesResponse, error) {
	p, err := s.principal(ctx, authorization.FeatureComplianceRead)
	if err != nil {
		return domain.ListUpdatesResponse{}, err
	}
	rows, err := s.repo.ListUpdates(ctx, s.db, page)
	if err != nil {
		return domain.ListUpdatesResponse{}, err
	}
	rows, info := pagination.Page(rows, page.Size(), func(u *domain.RegulatoryUpdate) (string, time.Time) {
		return u.ID.String(), u.CreatedAt
	})

	ids := make([]uuid.UUID, len(rows))
	for i, u := range rows {
		ids[i] = u.ID
	}
	read, err := s.repo.ReadSet(ctx, s.db, p.UserID, ids)
	if err != nil {
		return domain.ListUpdatesResponse{}, err
	}

	out := domain.ListUpdatesResponse{PageInfo: info, Updates: make([]domain.UpdateView, len(rows))}
	for i, u := range rows {
		out.Updates[i] = domain.UpdateView{RegulatoryUpdate: *u, Read: read[u.ID]}
	}
	return out, nil
}

// MarkRead is idempotent per user.
func (s *Service) MarkRead(ctx context.Context, updateID uuid.UUID) error {
	p, err := s.principal(ctx, authorization.FeatureComplianceRead)
	if err != nil {
		return err
	}
	u, err := s.repo.FindUpdate(ctx, s.db, updateID)
	if err != nil {
		return err
	}
	if u == nil {
		return domain.ErrUpdateNotFound
	}
	return s.repo.MarkRead(ctx, s.db, updateID, p.UserID, s.clock.Now())
}
