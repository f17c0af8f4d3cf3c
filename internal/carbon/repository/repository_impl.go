package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/greenledger/internal/carbon/domain"
	"github.com/smallbiznis/greenledger/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, fp *domain.Footprint) error {
	return db.WithContext(ctx).Create(fp).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, fp *domain.Footprint) error {
	return db.WithContext(ctx).
		Model(&domain.Footprint{}).
		Where("company_id = ? AND id = ?", fp.CompanyID, fp.ID).
		Updates(map[string]any{
			"scope1_emissions":    fp.Scope1Emissions,
			"scope2_emissions":    fp.Scope2Emissions,
			"scope3_emissions":    fp.Scope3Emissions,
			"total_emissions":     fp.TotalEmissions,
			"status":              fp.Status,
			"notes":               fp.Notes,
			"ai_validation_score": fp.AIValidationScore,
			"ai_validated_at":     fp.AIValidatedAt,
			"submitted_at":        fp.SubmittedAt,
			"verified_at":         fp.VerifiedAt,
			"override_at":         fp.OverrideAt,
			"updated_at":          fp.UpdatedAt,
		}).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, companyID, id uuid.UUID) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM carbon_footprints WHERE company_id = ? AND id = ?`, companyID, id,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, companyID, id uuid.UUID) (*domain.Footprint, error) {
	return r.findOne(db.WithContext(ctx).Where("company_id = ? AND id = ?", companyID, id))
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, companyID, id uuid.UUID) (*domain.Footprint, error) {
	stmt := db.WithContext(ctx).Where("company_id = ? AND id = ?", companyID, id)
	if db.Dialector.Name() != "sqlite" {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.findOne(stmt)
}

func (r *repo) FindByPeriod(ctx context.Context, db *gorm.DB, companyID uuid.UUID, period string) (*domain.Footprint, error) {
	return r.findOne(db.WithContext(ctx).Where("company_id = ? AND reporting_period = ?", companyID, period))
}

func (r *repo) findOne(stmt *gorm.DB) (*domain.Footprint, error) {
	var fp domain.Footprint
	if err := stmt.Limit(1).Find(&fp).Error; err != nil {
		return nil, err
	}
	if fp.ID == uuid.Nil {
		return nil, nil
	}
	return &fp, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, companyID uuid.UUID, filter domain.ListFilter, page pagination.Pagination) ([]*domain.Footprint, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.Footprint{}).
		Where("company_id = ?", companyID)
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.Period != "" {
		stmt = stmt.Where("reporting_period LIKE ?", filter.Period+"%")
	}
	stmt, err := pagination.Apply(stmt, page)
	if err != nil {
		return nil, err
	}

	var items []*domain.Footprint
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListByPeriodPrefix(ctx context.Context, db *gorm.DB, companyID uuid.UUID, prefix string) ([]domain.Footprint, error) {
	stmt := db.WithContext(ctx).Where("company_id = ?", companyID)
	if prefix != "" {
		stmt = stmt.Where("reporting_period LIKE ?", prefix+"%")
	}
	var items []domain.Footprint
	if err := stmt.Order("period_start asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Latest(ctx context.Context, db *gorm.DB, companyID uuid.UUID) (*domain.Footprint, error) {
	return r.findOne(db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("period_start desc, created_at desc"))
}

func (r *repo) ListInWindow(ctx context.Context, db *gorm.DB, companyID uuid.UUID, status domain.Status, from, to time.Time) ([]domain.Footprint, error) {
	stmt := db.WithContext(ctx).
		Where("company_id = ? AND period_start >= ? AND period_start < ?", companyID, from, to)
	if status != "" {
		stmt = stmt.Where("status = ?", status)
	}
	var items []domain.Footprint
	if err := stmt.Order("period_start asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListCreatedBetween(ctx context.Context, db *gorm.DB, from, to time.Time) ([]domain.Footprint, error) {
	var items []domain.Footprint
	err := db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from, to).
		Order("company_id asc, period_start asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListCreatedSince(ctx context.Context, db *gorm.DB, companyID uuid.UUID, since time.Time) ([]domain.Footprint, error) {
	var items []domain.Footprint
	err := db.WithContext(ctx).
		Where("company_id = ? AND created_at >= ?", companyID, since).
		Order("period_start asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) DeleteByCompany(ctx context.Context, db *gorm.DB, companyID uuid.UUID) error {
	return db.WithContext(ctx).Exec(`DELETE FROM carbon_footprints WHERE company_id = ?`, companyID).Error
}
