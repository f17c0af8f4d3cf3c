package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/greenledger/internal/offset/domain"
	"github.com/smallbiznis/greenledger/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func forUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (r *repo) InsertOffset(ctx context.Context, db *gorm.DB, o *domain.Offset) error {
	return db.WithContext(ctx).Create(o).Error
}

func (r *repo) FindOffset(ctx context.Context, db *gorm.DB, id uuid.UUID) (*domain.Offset, error) {
	return findOffset(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindOffsetForUpdate(ctx context.Context, db *gorm.DB, id uuid.UUID) (*domain.Offset, error) {
	return findOffset(forUpdate(db.WithContext(ctx)).Where("id = ?", id))
}

func (r *repo) FindOffsetByName(ctx context.Context, db *gorm.DB, name string) (*domain.Offset, error) {
	return findOffset(db.WithContext(ctx).Where("LOWER(name) = LOWER(?)", name))
}

func findOffset(stmt *gorm.DB) (*domain.Offset, error) {
	var o domain.Offset
	if err := stmt.Limit(1).Find(&o).Error; err != nil {
		return nil, err
	}
	if o.ID == uuid.Nil {
		return nil, nil
	}
	return &o, nil
}

func (r *repo) UpdateOffsetDetails(ctx context.Context, db *gorm.DB, o *domain.Offset) error {
	return db.WithContext(ctx).
		Model(&domain.Offset{}).
		Where("id = ?", o.ID).
		Updates(map[string]any{
			"offset_type":           o.OffsetType,
			"description":           o.Description,
			"category":              o.Category,
			"verification_standard": o.VerificationStandard,
			"price_per_tonne":       o.PricePerTonne,
			"co2_offset_per_unit":   o.CO2OffsetPerUnit,
			"updated_at":            o.UpdatedAt,
		}).Error
}

func (r *repo) ListOffsets(ctx context.Context, db *gorm.DB, filter domain.OffsetFilter) ([]domain.Offset, error) {
	stmt := db.WithContext(ctx).Model(&domain.Offset{})
	if q := strings.ToLower(strings.TrimSpace(filter.Query)); q != "" {
		like := "%" + q + "%"
		stmt = stmt.Where("LOWER(name) LIKE ? OR LOWER(description) LIKE ? OR LOWER(offset_type) LIKE ?", like, like, like)
	}
	if filter.Category != "" {
		stmt = stmt.Where("LOWER(category) = LOWER(?)", filter.Category)
	}
	if filter.VerificationStandard != "" {
		stmt = stmt.Where("LOWER(verification_standard) = LOWER(?)", filter.VerificationStandard)
	}
	if filter.MinPrice != nil {
		stmt = stmt.Where("price_per_tonne >= ?", *filter.MinPrice)
	}
	if filter.MaxPrice != nil {
		stmt = stmt.Where("price_per_tonne <= ?", *filter.MaxPrice)
	}
	if filter.InStock {
		stmt = stmt.Where("available_quantity > 0")
	}

	var items []domain.Offset
	if err := stmt.Order("name asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) TakeStock(ctx context.Context, db *gorm.DB, id uuid.UUID, quantity int64, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE carbon_offsets
		 SET available_quantity = available_quantity - ?, updated_at = ?
		 WHERE id = ? AND available_quantity >= ?`,
		quantity, at, id, quantity,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) ReturnStock(ctx context.Context, db *gorm.DB, id uuid.UUID, quantity int64, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE carbon_offsets SET available_quantity = available_quantity + ?, updated_at = ? WHERE id = ?`,
		quantity, at, id,
	).Error
}

func (r *repo) RetireStock(ctx context.Context, db *gorm.DB, id uuid.UUID, quantity int64, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE carbon_offsets SET retired_quantity = retired_quantity + ?, updated_at = ? WHERE id = ?`,
		quantity, at, id,
	).Error
}

func (r *repo) InsertPurchase(ctx context.Context, db *gorm.DB, p *domain.Purchase) error {
	return db.WithContext(ctx).Create(p).Error
}

func (r *repo) UpdatePurchase(ctx context.Context, db *gorm.DB, p *domain.Purchase) error {
	return db.WithContext(ctx).
		Model(&domain.Purchase{}).
		Where("company_id = ? AND id = ?", p.CompanyID, p.ID).
		Updates(map[string]any{
			"total_price":       p.TotalPrice,
			"co2_offset_amount": p.CO2OffsetAmount,
			"status":            p.Status,
			"completed_at":      p.CompletedAt,
			"cancelled_at":      p.CancelledAt,
			"updated_at":        p.UpdatedAt,
		}).Error
}

func (r *repo) FindPurchase(ctx context.Context, db *gorm.DB, companyID, id uuid.UUID) (*domain.Purchase, error) {
	return findPurchase(db.WithContext(ctx).Where("company_id = ? AND id = ?", companyID, id))
}

func (r *repo) FindPurchaseForUpdate(ctx context.Context, db *gorm.DB, companyID, id uuid.UUID) (*domain.Purchase, error) {
	return findPurchase(forUpdate(db.WithContext(ctx)).Where("company_id = ? AND id = ?", companyID, id))
}

func (r *repo) FindPurchaseByRef(ctx context.Context, db *gorm.DB, companyID uuid.UUID, ref string) (*domain.Purchase, error) {
	return findPurchase(db.WithContext(ctx).Where("company_id = ? AND external_ref = ?", companyID, ref))
}

func findPurchase(stmt *gorm.DB) (*domain.Purchase, error) {
	var p domain.Purchase
	if err := stmt.Limit(1).Find(&p).Error; err != nil {
		return nil, err
	}
	if p.ID == uuid.Nil {
		return nil, nil
	}
	return &p, nil
}

func (r *repo) ListPurchases(ctx context.Context, db *gorm.DB, companyID uuid.UUID, status domain.PurchaseStatus, page pagination.Pagination) ([]*domain.Purchase, error) {
	stmt := db.WithContext(ctx).Model(&domain.Purchase{}).Where("company_id = ?", companyID)
	if status != "" {
		stmt = stmt.Where("status = ?", status)
	}
	stmt, err := pagination.Apply(stmt, page)
	if err != nil {
		return nil, err
	}
	var items []*domain.Purchase
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListPendingByCompany(ctx context.Context, db *gorm.DB, companyID uuid.UUID) ([]domain.Purchase, error) {
	var items []domain.Purchase
	err := db.WithContext(ctx).
		Where("company_id = ? AND status = ?", companyID, domain.PurchasePending).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListCompletedByCompany(ctx context.Context, db *gorm.DB, companyID uuid.UUID) ([]domain.Purchase, error) {
	var items []domain.Purchase
	err := db.WithContext(ctx).
		Where("company_id = ? AND status = ?", companyID, domain.PurchaseCompleted).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListCompletedInWindow(ctx context.Context, db *gorm.DB, companyID uuid.UUID, from, to time.Time) ([]domain.Purchase, error) {
	var items []domain.Purchase
	err := db.WithContext(ctx).
		Where("company_id = ? AND status = ? AND completed_at >= ? AND completed_at < ?",
			companyID, domain.PurchaseCompleted, from, to).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) InsertReversal(ctx context.Context, db *gorm.DB, rev *domain.CreditReversal) error {
	return db.WithContext(ctx).Create(rev).Error
}

func (r *repo) ListReversals(ctx context.Context, db *gorm.DB, companyID uuid.UUID) ([]domain.CreditReversal, error) {
	var items []domain.CreditReversal
	err := db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("created_at desc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) DeletePurchasesByCompany(ctx context.Context, db *gorm.DB, companyID uuid.UUID) error {
	if err := db.WithContext(ctx).Exec(`DELETE FROM offset_credit_reversals WHERE company_id = ?`, companyID).Error; err != nil {
		return err
	}
	return db.WithContext(ctx).Exec(`DELETE FROM offset_purchases WHERE company_id = ?`, companyID).Error
}
