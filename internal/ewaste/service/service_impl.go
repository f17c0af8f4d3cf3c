package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/greenledger/internal/authorization"
	"github.com/smallbiznis/greenledger/internal/clock"
	"github.com/smallbiznis/greenledger/internal/config"
	"github.com/smallbiznis/greenledger/internal/ewaste/domain"
	"github.com/smallbiznis/greenledger/internal/observability/metrics"
	"github.com/smallbiznis/greenledger/internal/tenant"
	"github.com/smallbiznis/greenledger/pkg/db"
	"github.com/smallbiznis/greenledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Repo    domain.Repository
	Authz   *authorization.Authorizer
	Factors *config.FactorsHolder
	Meters  *metrics.Business `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	repo    domain.Repository
	authz   *authorization.Authorizer
	factors *config.FactorsHolder
	meters  *metrics.Business
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("ewaste.service"),
		clock:   p.Clock,
		repo:    p.Repo,
		authz:   p.Authz,
		factors: p.Factors,
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

func (s *Service) CalculateImpact(device domain.DeviceType, quantity int, weightKg decimal.Decimal) (domain.Impact, error) {
	return domain.CalculateImpact(s.factors.Get().Ewaste, device, quantity, weightKg)
}

// derive recomputes the entry's derived fields from the current table.
func (s *Service) derive(entry *domain.Entry) error {
	impact, err := s.CalculateImpact(entry.DeviceType, entry.Quantity, entry.WeightKg)
	if err != nil {
		return err
	}
	entry.DeviceType = impact.DeviceType
	entry.CO2Saved = impact.CO2Saved
	entry.CreditsGenerated = impact.CreditsGenerated
	return nil
}

func (s *Service) Create(ctx context.Context, req domain.CreateEntryRequest) (domain.Entry, error) {
	p, err := s.principal(ctx, authorization.FeatureEwasteWrite)
	if err != nil {
		return domain.Entry{}, err
	}
	if req.DonationDate.IsZero() {
		return domain.Entry{}, domain.ErrInvalidDate
	}

	now := s.clock.Now()
	entry := domain.Entry{
		ID:           uuid.Must(uuid.NewV7()),
		CompanyID:    p.CompanyID,
		DeviceType:   req.DeviceType,
		Quantity:     req.Quantity,
		WeightKg:     req.WeightKg.Round(domain.WeightScale),
		Status:       domain.StatusPending,
		DonationDate: truncateDay(req.DonationDate),
		Recipient:    strings.TrimSpace(req.Recipient),
		Notes:        strings.TrimSpace(req.Notes),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.derive(&entry); err != nil {
		return domain.Entry{}, err
	}
	if err := s.repo.Insert(ctx, s.db, &entry); err != nil {
		return domain.Entry{}, err
	}
	s.meters.RecordEwasteCredits(ctx, string(entry.DeviceType), entry.CreditsGenerated)
	return entry, nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, req domain.UpdateEntryRequest) (domain.Entry, error) {
	p, err := s.principal(ctx, authorization.FeatureEwasteWrite)
	if err != nil {
		return domain.Entry{}, err
	}
	return s.mutate(ctx, p, id, func(entry *domain.Entry) error {
		if entry.Status == domain.StatusCompleted && !s.authz.CanAccess(p.Role, authorization.FeatureEwasteDemote) {
			return domain.ErrCompleted
		}
		if req.DeviceType != nil {
			entry.DeviceType = *req.DeviceType
		}
		if req.Quantity != nil {
			entry.Quantity = *req.Quantity
		}
		if req.WeightKg != nil {
			entry.WeightKg = req.WeightKg.Round(domain.WeightScale)
		}
		if req.DonationDate != nil {
			if req.DonationDate.IsZero() {
				return domain.ErrInvalidDate
			}
			entry.DonationDate = truncateDay(*req.DonationDate)
		}
		if req.Recipient != nil {
			entry.Recipient = strings.TrimSpace(*req.Recipient)
		}
		if req.Notes != nil {
			entry.Notes = strings.TrimSpace(*req.Notes)
		}
		return nil
	})
}

// SetStatus moves pending -> processed -> completed. Moving backwards needs
// the demote capability.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, status domain.Status) (domain.Entry, error) {
	p, err := s.principal(ctx, authorization.FeatureEwasteWrite)
	if err != nil {
		return domain.Entry{}, err
	}
	if !status.Valid() {
		return domain.Entry{}, domain.ErrInvalidStatus
	}
	return s.mutate(ctx, p, id, func(entry *domain.Entry) error {
		if status.Rank() < entry.Status.Rank() && !s.authz.CanAccess(p.Role, authorization.FeatureEwasteDemote) {
			return domain.ErrDemotion
		}
		entry.Status = status
		return nil
	})
}

func (s *Service) mutate(ctx context.Context, p tenant.Principal, id uuid.UUID, fn func(*domain.Entry) error) (domain.Entry, error) {
	var out domain.Entry
	err := db.WithRetry(ctx, s.db, func(tx *gorm.DB) error {
		entry, err := s.repo.FindByID(ctx, tx, p.CompanyID, id)
		if err != nil {
			return err
		}
		if entry == nil {
			return domain.ErrNotFound
		}
		if err := fn(entry); err != nil {
			return err
		}
		if err := s.derive(entry); err != nil {
			return err
		}
		entry.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, entry); err != nil {
			return err
		}
		out = *entry
		return nil
	})
	if err != nil {
		return domain.Entry{}, err
	}
	return out, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	p, err := s.principal(ctx, authorization.FeatureEwasteWrite)
	if err != nil {
		return err
	}
	return db.WithRetry(ctx, s.db, func(tx *gorm.DB) error {
		entry, err := s.repo.FindByID(ctx, tx, p.CompanyID, id)
		if err != nil {
			return err
		}
		if entry == nil {
			return domain.ErrNotFound
		}
		if entry.Status == domain.StatusCompleted && !s.authz.CanAccess(p.Role, authorization.FeatureEwasteDemote) {
			return domain.ErrCompleted
		}
		return s.repo.Delete(ctx, tx, p.CompanyID, id)
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Entry, error) {
	p, err := s.principal(ctx, authorization.FeatureEwasteRead)
	if err != nil {
		return domain.Entry{}, err
	}
	entry, err := s.repo.FindByID(ctx, s.db, p.CompanyID, id)
	if err != nil {
		return domain.Entry{}, err
	}
	if entry == nil {
		return domain.Entry{}, domain.ErrNotFound
	}
	return *entry, nil
}

func (s *Service) List(ctx context.Context, req domain.ListEntryRequest) (domain.ListEntryResponse, error) {
	p, err := s.principal(ctx, authorization.FeatureEwasteRead)
	if err != nil {
		return domain.ListEntryResponse{}, err
	}
	if req.DeviceType != "" && !req.DeviceType.Valid() {
		return domain.ListEntryResponse{}, domain.ErrInvalidDeviceType
	}
	if req.Status != "" && !req.Status.Valid() {
		return domain.ListEntryResponse{}, domain.ErrInvalidStatus
	}

	page := pagination.Pagination{PageToken: req.PageToken, PageSize: int(req.PageSize)}
	items, err := s.repo.List(ctx, s.db, p.CompanyID, domain.ListFilter{DeviceType: req.DeviceType, Status: req.Status}, page)
	if err != nil {
		return domain.ListEntryResponse{}, err
	}
	items, info := pagination.Page(items, page.Size(), func(e *domain.Entry) (string, time.Time) {
		return e.ID.String(), e.CreatedAt
	})
	out := make([]domain.Entry, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return domain.ListEntryResponse{PageInfo: info, Entries: out}, nil
}

// Summary totals the company's entries per device type, in DeviceTypes order.
func (s *Service) Summary(ctx context.Context) (domain.Summary, error) {
	p, err := s.principal(ctx, authorization.FeatureEwasteRead)
	if err != nil {
		return domain.Summary{}, err
	}
	items, err := s.repo.ListAll(ctx, s.db, p.CompanyID)
	if err != nil {
		return domain.Summary{}, err
	}
	return Summarize(items), nil
}

func Summarize(items []domain.Entry) domain.Summary {
	out := domain.Summary{
		WeightKg:         decimal.Zero,
		CO2Saved:         decimal.Zero,
		CreditsGenerated: decimal.Zero,
		ByDevice:         []domain.DeviceSummary{},
	}
	byDevice := map[domain.DeviceType]*domain.DeviceSummary{}
	for _, e := range items {
		out.Entries++
		out.Quantity += e.Quantity
		out.WeightKg = out.WeightKg.Add(e.WeightKg)
		out.CO2Saved = out.CO2Saved.Add(e.CO2Saved)
		out.CreditsGenerated = out.CreditsGenerated.Add(e.CreditsGenerated)

		d, ok := byDevice[e.DeviceType]
		if !ok {
			d = &domain.DeviceSummary{
				DeviceType:       e.DeviceType,
				WeightKg:         decimal.Zero,
				CO2Saved:         decimal.Zero,
				CreditsGenerated: decimal.Zero,
			}
			byDevice[e.DeviceType] = d
		}
		d.Entries++
		d.Quantity += e.Quantity
		d.WeightKg = d.WeightKg.Add(e.WeightKg)
		d.CO2Saved = d.CO2Saved.Add(e.CO2Saved)
		d.CreditsGenerated = d.CreditsGenerated.Add(e.CreditsGenerated)
	}
	for _, t := range domain.DeviceTypes {
		if d, ok := byDevice[t]; ok {
			out.ByDevice = append(out.ByDevice, *d)
		}
	}
	return out
}

// ApplyImport inserts rows inside tx, upserting on SourceRef when present.
// Imported rows never demote an existing entry.
func (s *Service) ApplyImport(ctx context.Context, tx *gorm.DB, companyID uuid.UUID, rows []domain.ImportRow) (int, error) {
	now := s.clock.Now()
	applied := 0
	for i, row := range rows {
		status := row.Status
		if status == "" {
			status = domain.StatusPending
		}
		if !status.Valid() {
			return applied, fmt.Errorf("row %d: %w", i, domain.ErrInvalidStatus)
		}
		if row.DonationDate.IsZero() {
			return applied, fmt.Errorf("row %d: %w", i, domain.ErrInvalidDate)
		}

		var existing *domain.Entry
		ref := strings.TrimSpace(row.SourceRef)
		if ref != "" {
			found, err := s.repo.FindBySourceRef(ctx, tx, companyID, ref)
			if err != nil {
				return applied, err
			}
			existing = found
		}

		if existing == nil {
			entry := domain.Entry{
				ID:           uuid.Must(uuid.NewV7()),
				CompanyID:    companyID,
				DeviceType:   row.DeviceType,
				Quantity:     row.Quantity,
				WeightKg:     row.WeightKg.Round(domain.WeightScale),
				Status:       status,
				DonationDate: truncateDay(row.DonationDate),
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if ref != "" {
				entry.SourceRef = &ref
			}
			if err := s.derive(&entry); err != nil {
				return applied, fmt.Errorf("row %d: %w", i, err)
			}
			if err := s.repo.Insert(ctx, tx, &entry); err != nil {
				return applied, err
			}
			applied++
			continue
		}

		if status.Rank() < existing.Status.Rank() {
			return applied, fmt.Errorf("row %d: %w", i, domain.ErrDemotion)
		}
		existing.DeviceType = row.DeviceType
		existing.Quantity = row.Quantity
		existing.WeightKg = row.WeightKg.Round(domain.WeightScale)
		existing.Status = status
		existing.DonationDate = truncateDay(row.DonationDate)
		existing.UpdatedAt = now
		if err := s.derive(existing); err != nil {
			return applied, fmt.Errorf("row %d: %w", i, err)
		}
		if err := s.repo.Update(ctx, tx, existing); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
