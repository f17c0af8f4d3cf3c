package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/smallbiznis/greenledger/internal/ewaste/domain"
	"github.com/smallbiznis/greenledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.Entry) error {
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, entry *domain.Entry) error {
	return db.WithContext(ctx).
		Model(&domain.Entry{}).
		Where("company_id = ? AND id = ?", entry.CompanyID, entry.ID).
		Updates(map[string]any{
			"device_type":       entry.DeviceType,
			"quantity":          entry.Quantity,
			"weight_kg":         entry.WeightKg,
			"co2_saved":         entry.CO2Saved,
			"credits_generated": entry.CreditsGenerated,
			"status":            entry.Status,
			"donation_date":     entry.DonationDate,
			"recipient":         entry.Recipient,
			"notes":             entry.Notes,
			"updated_at":        entry.UpdatedAt,
		}).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, companyID, id uuid.UUID) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM ewaste_entries WHERE company_id = ? AND id = ?`, companyID, id,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, companyID, id uuid.UUID) (*domain.Entry, error) {
	return findOne(db.WithContext(ctx).Where("company_id = ? AND id = ?", companyID, id))
}

func (r *repo) FindBySourceRef(ctx context.Context, db *gorm.DB, companyID uuid.UUID, ref string) (*domain.Entry, error) {
	return findOne(db.WithContext(ctx).Where("company_id = ? AND source_ref = ?", companyID, ref))
}

func findOne(stmt *gorm.DB) (*domain.Entry, error) {
	var entry domain.Entry
	if err := stmt.Limit(1).Find(&entry).Error; err != nil {
		return nil, err
	}
	if entry.ID == uuid.Nil {
		return nil, nil
	}
	return &entry, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, companyID uuid.UUID, filter domain.ListFilter, page pagination.Pagination) ([]*domain.Entry, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.Entry{}).
		Where("company_id = ?", companyID)
	if filter.DeviceType != "" {
		stmt = stmt.Where("device_type = ?", filter.DeviceType)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	stmt, err := pagination.Apply(stmt, page)
	if err != nil {
		return nil, err
	}
	var items []*domain.Entry
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListAll(ctx context.Context, db *gorm.DB, companyID uuid.UUID) ([]domain.Entry, error) {
	var items []domain.Entry
	err := db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("donation_date asc, id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) DeleteByCompany(ctx context.Context, db *gorm.DB, companyID uuid.UUID) error {
	return db.WithContext(ctx).Exec(`DELETE FROM ewaste_entries WHERE company_id = ?`, companyID).Error
}
