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
	"github.com/smallbiznis/greenledger/internal/observability/metrics"
	"github.com/smallbiznis/greenledger/internal/offset/domain"
	"github.com/smallbiznis/greenledger/internal/tenant"
	"github.com/smallbiznis/greenledger/pkg/db"
	"github.com/smallbiznis/greenledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Repo   domain.Repository
	Authz  *authorization.Authorizer
	Meters *metrics.Business `optional:"true"`
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  clock.Clock
	repo   domain.Repository
	authz  *authorization.Authorizer
	meters *metrics.Business
}

func New(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("offset.service"),
		clock:  p.Clock,
		repo:   p.Repo,
		authz:  p.Authz,
		meters: p.Meters,
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

func (s *Service) ListOffsets(ctx context.Context, filter domain.OffsetFilter) ([]domain.Offset, error) {
	if _, err := s.principal(ctx, authorization.FeatureOffsetsRead); err != nil {
		return nil, err
	}
	return s.repo.ListOffsets(ctx, s.db, filter)
}

func (s *Service) GetOffset(ctx context.Context, id uuid.UUID) (domain.Offset, error) {
	if _, err := s.principal(ctx, authorization.FeatureOffsetsRead); err != nil {
		return domain.Offset{}, err
	}
	o, err := s.repo.FindOffset(ctx, s.db, id)
	if err != nil {
		return domain.Offset{}, err
	}
	if o == nil {
		return domain.Offset{}, domain.ErrOffsetNotFound
	}
	return *o, nil
}

func (s *Service) CreateOffset(ctx context.Context, in domain.OffsetInput) (domain.Offset, error) {
	if _, err := s.principal(ctx, authorization.FeatureOffsetsManage); err != nil {
		return domain.Offset{}, err
	}
	o, err := s.newOffset(in)
	if err != nil {
		return domain.Offset{}, err
	}
	if err := s.repo.InsertOffset(ctx, s.db, &o); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Offset{}, domain.ErrNameTaken
		}
		return domain.Offset{}, err
	}
	return o, nil
}

func (s *Service) newOffset(in domain.OffsetInput) (domain.Offset, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Offset{}, domain.ErrInvalidName
	}
	if in.PricePerTonne.IsNegative() {
		return domain.Offset{}, domain.ErrInvalidPrice
	}
	ratio := decimal.NewFromInt(1)
	if in.CO2OffsetPerUnit != nil {
		ratio = *in.CO2OffsetPerUnit
	}
	if !ratio.IsPositive() {
		return domain.Offset{}, domain.ErrInvalidRatio
	}
	if in.AvailableQuantity < 0 {
		return domain.Offset{}, domain.ErrInvalidStock
	}
	now := s.clock.Now()
	return domain.Offset{
		ID:                   uuid.Must(uuid.NewV7()),
		Name:                 name,
		OffsetType:           strings.TrimSpace(in.OffsetType),
		Description:          strings.TrimSpace(in.Description),
		Category:             strings.ToLower(strings.TrimSpace(in.Category)),
		VerificationStandard: strings.TrimSpace(in.VerificationStandard),
		PricePerTonne:        in.PricePerTonne.Round(2),
		CO2OffsetPerUnit:     ratio.Round(4),
		AvailableQuantity:    in.AvailableQuantity,
		CreatedAt:            now,
		UpdatedAt:            now,
	}, nil
}

// Restock adds delta units. A negative delta withdraws stock and fails with
// OutOfStock rather than going below zero.
func (s *Service) Restock(ctx context.Context, id uuid.UUID, delta int64) (domain.Offset, error) {
	if _, err := s.principal(ctx, authorization.FeatureOffsetsManage); err != nil {
		return domain.Offset{}, err
	}
	var out domain.Offset
	err := db.WithRetry(ctx, s.db, func(tx *gorm.DB) error {
		o, err := s.repo.FindOffsetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if o == nil {
			return domain.ErrOffsetNotFound
		}
		now := s.clock.Now()
		if delta < 0 {
			ok, err := s.repo.TakeStock(ctx, tx, id, -delta, now)
			if err != nil {
				return err
			}
			if !ok {
				return domain.ErrOutOfStock
			}
		} else if delta > 0 {
			if err := s.repo.ReturnStock(ctx, tx, id, delta, now); err != nil {
				return err
			}
		}
		o.AvailableQuantity += delta
		o.UpdatedAt = now
		out = *o
		return nil
	})
	if err != nil {
		return domain.Offset{}, err
	}
	return out, nil
}

// SeedCatalog inserts missing catalog items and refreshes the descriptive
// fields of existing ones. Stock of existing items is left alone.
func (s *Service) SeedCatalog(ctx context.Context, items []domain.OffsetInput) (int, error) {
	created := 0
	err := db.WithRetry(ctx, s.db, func(tx *gorm.DB) error {
		created = 0
		for _, in := range items {
			o, err := s.newOffset(in)
			if err != nil {
				return fmt.Errorf("offset %q: %w", in.Name, err)
			}
			existing, err := s.repo.FindOffsetByName(ctx, tx, o.Name)
			if err != nil {
				return err
			}
			if existing == nil {
				if err := s.repo.InsertOffset(ctx, tx, &o); err != nil {
					return err
				}
				created++
				continue
			}
			o.ID = existing.ID
			if err := s.repo.UpdateOffsetDetails(ctx, tx, &o); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.log.Info("offset catalog seeded", zap.Int("items", len(items)), zap.Int("created", created))
	return created, nil
}

// Reserve deducts stock and records a pending purchase in one step.
func (s *Service) Reserve(ctx context.Context, offsetID uuid.UUID, quantity int64) (domain.Purchase, error) {
	p, err := s.principal(ctx, authorization.FeatureOffsetsPurchase)
	if err != nil {
		return domain.Purchase{}, err
	}
	if quantity < 1 {
		return domain.Purchase{}, domain.ErrInvalidQuantity
	}

	var out domain.Purchase
	err = db.WithRetry(ctx, s.db, func(tx *gorm.DB) error {
		o, err := s.repo.FindOffsetForUpdate(ctx, tx, offsetID)
		if err != nil {
			return err
		}
		if o == nil {
			return domain.ErrOffsetNotFound
		}
		now := s.clock.Now()
		ok, err := s.repo.TakeStock(ctx, tx, offsetID, quantity, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrOutOfStock
		}

		purchase := domain.Purchase{
			ID:          uuid.Must(uuid.NewV7()),
			CompanyID:   p.CompanyID,
			OffsetID:    offsetID,
			Quantity:    quantity,
			Status:      domain.PurchasePending,
			PurchasedAt: now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		purchase.Derive(*o)
		if err := s.repo.InsertPurchase(ctx, tx, &purchase); err != nil {
			return err
		}
		out = purchase
		return nil
	})
	if err != nil {
		return domain.Purchase{}, err
	}

	s.log.Info("offset reserved",
		zap.String("purchase_id", out.ID.String()),
		zap.String("offset_id", offsetID.String()),
		zap.Int64("quantity", quantity),
	)
	return out, nil
}

// Complete confirms a pending purchase. Stock was taken at reserve time.
func (s *Service) Complete(ctx context.Context, purchaseID uuid.UUID) (domain.Purchase, error) {
	p, err := s.principal(ctx, authorization.FeatureOffsetsPurchase)
	if err != nil {
		return domain.Purchase{}, err
	}
	var offsetType string
	purchase, err := s.transition(ctx, p, purchaseID, func(tx *gorm.DB, purchase *domain.Purchase, o domain.Offset, now time.Time) error {
		if purchase.Status != domain.PurchasePending {
			return domain.ErrNotPending
		}
		purchase.Status = domain.PurchaseCompleted
		purchase.CompletedAt = &now
		offsetType = o.OffsetType
		return nil
	})
	if err != nil {
		return domain.Purchase{}, err
	}
	s.meters.RecordOffsetsRetired(ctx, offsetType, purchase.CO2OffsetAmount)
	return purchase, nil
}

// Cancel returns the purchased units to stock. Cancelling a completed
// purchase also records a credit reversal.
func (s *Service) Cancel(ctx context.Context, purchaseID uuid.UUID, reason string) (domain.Purchase, error) {
	p, err := s.principal(ctx, authorization.FeatureOffsetsPurchase)
	if err != nil {
		return domain.Purchase{}, err
	}
	return s.transition(ctx, p, purchaseID, func(tx *gorm.DB, purchase *domain.Purchase, o domain.Offset, now time.Time) error {
		switch purchase.Status {
		case domain.PurchaseCancelled:
			return domain.ErrAlreadyCanceled
		case domain.PurchaseCompleted:
			rev := domain.CreditReversal{
				ID:              uuid.Must(uuid.NewV7()),
				CompanyID:       purchase.CompanyID,
				PurchaseID:      purchase.ID,
				OffsetID:        purchase.OffsetID,
				Quantity:        purchase.Quantity,
				CO2OffsetAmount: purchase.CO2OffsetAmount,
				Reason:          strings.TrimSpace(reason),
				CreatedAt:       now,
			}
			if err := s.repo.InsertReversal(ctx, tx, &rev); err != nil {
				return err
			}
		}
		if err := s.repo.ReturnStock(ctx, tx, purchase.OffsetID, purchase.Quantity, now); err != nil {
			return err
		}
		purchase.Status = domain.PurchaseCancelled
		purchase.CancelledAt = &now
		return nil
	})
}

// transition locks the offset row then the purchase so concurrent calls on
// one offset are serialized, applies fn and re-derives totals.
func (s *Service) transition(ctx context.Context, p tenant.Principal, purchaseID uuid.UUID, fn func(*gorm.DB, *domain.Purchase, domain.Offset, time.Time) error) (domain.Purchase, error) {
	var out domain.Purchase
	err := db.WithRetry(ctx, s.db, func(tx *gorm.DB) error {
		current, err := s.repo.FindPurchase(ctx, tx, p.CompanyID, purchaseID)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrNotFound
		}
		o, err := s.repo.FindOffsetForUpdate(ctx, tx, current.OffsetID)
		if err != nil {
			return err
		}
		if o == nil {
			return domain.ErrOffsetNotFound
		}
		purchase, err := s.repo.FindPurchaseForUpdate(ctx, tx, p.CompanyID, purchaseID)
		if err != nil {
			return err
		}
		if purchase == nil {
			return domain.ErrNotFound
		}

		now := s.clock.Now()
		if err := fn(tx, purchase, *o, now); err != nil {
			return err
		}
		if purchase.Status != domain.PurchaseCancelled {
			purchase.Derive(*o)
		}
		purchase.UpdatedAt = now
		if err := s.repo.UpdatePurchase(ctx, tx, purchase); err != nil {
			return err
		}
		out = *purchase
		return nil
	})
	if err != nil {
		return domain.Purchase{}, err
	}
	s.log.Info("offset purchase updated", zap.String("purchase_id", out.ID.String()), zap.String("status", string(out.Status)))
	return out, nil
}

func (s *Service) GetPurchase(ctx context.Context, id uuid.UUID) (domain.Purchase, error) {
	p, err := s.principal(ctx, authorization.FeatureOffsetsRead)
	if err != nil {
		return domain.Purchase{}, err
	}
	purchase, err := s.repo.FindPurchase(ctx, s.db, p.CompanyID, id)
	if err != nil {
		return domain.Purchase{}, err
	}
	if purchase == nil {
		return domain.Purchase{}, domain.ErrNotFound
	}
	return *purchase, nil
}

func (s *Service) ListPurchases(ctx context.Context, req domain.ListPurchaseRequest) (domain.ListPurchaseResponse, error) {
	p, err := s.principal(ctx, authorization.FeatureOffsetsRead)
	if err != nil {
		return domain.ListPurchaseResponse{}, err
	}
	if req.Status != "" && !req.Status.Valid() {
		return domain.ListPurchaseResponse{}, domain.ErrInvalidStatus
	}
	page := pagination.Pagination{PageToken: req.PageToken, PageSize: int(req.PageSize)}
	items, err := s.repo.ListPurchases(ctx, s.db, p.CompanyID, req.Status, page)
	if err != nil {
		return domain.ListPurchaseResponse{}, err
	}
	items, info := pagination.Page(items, page.Size(), func(p *domain.Purchase) (string, time.Time) {
		return p.ID.String(), p.CreatedAt
	})
	out := make([]domain.Purchase, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return domain.ListPurchaseResponse{PageInfo: info, Purchases: out}, nil
}

func (s *Service) ListReversals(ctx context.Context) ([]domain.CreditReversal, error) {
	p, err := s.principal(ctx, authorization.FeatureOffsetsRead)
	if err != nil {
		return nil, err
	}
	return s.repo.ListReversals(ctx, s.db, p.CompanyID)
}

// CompletedOffsets sums tCO2e of purchases completed in [from, to).
func (s *Service) CompletedOffsets(ctx context.Context, conn *gorm.DB, companyID uuid.UUID, from, to time.Time) (decimal.Decimal, error) {
	if conn == nil {
		conn = s.db
	}
	items, err := s.repo.ListCompletedInWindow(ctx, conn, companyID, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.CO2OffsetAmount)
	}
	return total, nil
}

// ApplyImport records externally completed purchases inside tx. Stock is
// taken the same way a reservation takes it.
func (s *Service) ApplyImport(ctx context.Context, tx *gorm.DB, companyID uuid.UUID, rows []domain.ImportRow) (int, error) {
	applied := 0
	for i, row := range rows {
		if row.Quantity < 1 {
			return applied, fmt.Errorf("row %d: %w", i, domain.ErrInvalidQuantity)
		}
		ref := strings.TrimSpace(row.ExternalRef)
		if ref != "" {
			existing, err := s.repo.FindPurchaseByRef(ctx, tx, companyID, ref)
			if err != nil {
				return applied, err
			}
			if existing != nil {
				applied++
				continue
			}
		}

		o, err := s.repo.FindOffsetByName(ctx, tx, strings.TrimSpace(row.OffsetName))
		if err != nil {
			return applied, err
		}
		if o == nil {
			return applied, fmt.Errorf("row %d (%s): %w", i, row.OffsetName, domain.ErrOffsetNotFound)
		}
		now := s.clock.Now()
		ok, err := s.repo.TakeStock(ctx, tx, o.ID, row.Quantity, now)
		if err != nil {
			return applied, err
		}
		if !ok {
			return applied, fmt.Errorf("row %d (%s): %w", i, o.Name, domain.ErrOutOfStock)
		}

		at := row.Date.UTC()
		if row.Date.IsZero() {
			at = now
		}
		purchase := domain.Purchase{
			ID:          uuid.Must(uuid.NewV7()),
			CompanyID:   companyID,
			OffsetID:    o.ID,
			Quantity:    row.Quantity,
			Status:      domain.PurchaseCompleted,
			PurchasedAt: at,
			CompletedAt: &at,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if ref != "" {
			purchase.ExternalRef = &ref
		}
		purchase.Derive(*o)
		if err := s.repo.InsertPurchase(ctx, tx, &purchase); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

// DeleteCompanyData returns pending reservations to stock and removes the
// company's purchases. Completed units are folded into the offset's retired
// tally first, so available + live purchases + retired still adds up.
func (s *Service) DeleteCompanyData(ctx context.Context, tx *gorm.DB, companyID uuid.UUID) error {
	pending, err := s.repo.ListPendingByCompany(ctx, tx, companyID)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	for _, p := range pending {
		if err := s.repo.ReturnStock(ctx, tx, p.OffsetID, p.Quantity, now); err != nil {
			return err
		}
	}

	completed, err := s.repo.ListCompletedByCompany(ctx, tx, companyID)
	if err != nil {
		return err
	}
	retired := make(map[uuid.UUID]int64)
	for _, p := range completed {
		retired[p.OffsetID] += p.Quantity
	}
	for offsetID, quantity := range retired {
		if err := s.repo.RetireStock(ctx, tx, offsetID, quantity, now); err != nil {
			return err
		}
	}
	if len(completed) > 0 {
		s.log.Info("retired completed offset units of deleted company",
			zap.String("company_id", companyID.String()),
			zap.Int("purchases", len(completed)),
		)
	}
	return s.repo.DeletePurchasesByCompany(ctx, tx, companyID)
}
