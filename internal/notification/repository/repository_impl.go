package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	carbondomain "github.com/smallbiznis/greenledger/internal/carbon/domain"
	"github.com/smallbiznis/greenledger/internal/notification/domain"
	"github.com/smallbiznis/greenledger/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertLog(ctx context.Context, db *gorm.DB, log *domain.Log) error {
	return db.WithContext(ctx).Create(log).Error
}

func (r *repo) ListLogs(ctx context.Context, db *gorm.DB, companyID uuid.UUID, req domain.ListRequest) ([]domain.Log, error) {
	stmt := db.WithContext(ctx).Model(&domain.Log{}).Where("company_id = ?", companyID)
	if req.Kind != "" {
		stmt = stmt.Where("kind = ?", req.Kind)
	}
	stmt, err := pagination.Apply(stmt, req.Pagination)
	if err != nil {
		return nil, err
	}
	var out []domain.Log
	if err := stmt.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repo) ListUndispatched(ctx context.Context, db *gorm.DB, limit int) ([]domain.Log, error) {
	var out []domain.Log
	err := db.WithContext(ctx).
		Where("dispatched_at IS NULL").
		Order("created_at asc, id asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *repo) MarkDispatched(ctx context.Context, db *gorm.DB, id uuid.UUID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Log{}).
		Where("id = ? AND dispatched_at IS NULL", id).
		Update("dispatched_at", at)
	return res.RowsAffected == 1, res.Error
}

func (r *repo) RecordDeliveryError(ctx context.Context, db *gorm.DB, id uuid.UUID, message string) error {
	return db.WithContext(ctx).
		Model(&domain.Log{}).
		Where("id = ?", id).
		Update("delivery_error", message).Error
}

func (r *repo) DeleteLogsBefore(ctx context.Context, db *gorm.DB, before time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("created_at < ?", before).Delete(&domain.Log{})
	return res.RowsAffected, res.Error
}

func (r *repo) InsertMilestone(ctx context.Context, db *gorm.DB, m *domain.Milestone) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "company_id"}, {Name: "threshold"}},
			DoNothing: true,
		}).
		Create(m)
	return res.RowsAffected == 1, res.Error
}

func (r *repo) ListCompanyIDs(ctx context.Context, db *gorm.DB, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	stmt := db.WithContext(ctx).Table("companies").Order("id asc").Limit(limit)
	if after != uuid.Nil {
		stmt = stmt.Where("id > ?", after)
	}
	var ids []uuid.UUID
	err := stmt.Pluck("id", &ids).Error
	return ids, err
}

func (r *repo) LatestFootprint(ctx context.Context, db *gorm.DB, companyID uuid.UUID) (*carbondomain.Footprint, error) {
	return firstFootprint(db.WithContext(ctx).Where("company_id = ?", companyID).Order("period_start desc, created_at desc"))
}

func (r *repo) NewestFootprint(ctx context.Context, db *gorm.DB, companyID uuid.UUID) (*carbondomain.Footprint, error) {
	return firstFootprint(db.WithContext(ctx).Where("company_id = ?", companyID).Order("created_at desc"))
}

func firstFootprint(stmt *gorm.DB) (*carbondomain.Footprint, error) {
	var fp carbondomain.Footprint
	if err := stmt.Limit(1).Find(&fp).Error; err != nil {
		return nil, err
	}
	if fp.ID == uuid.Nil {
		return nil, nil
	}
	return &fp, nil
}

func (r *repo) FootprintsCreated(ctx context.Context, db *gorm.DB, companyID uuid.UUID, from, to time.Time) ([]carbondomain.Footprint, error) {
	var out []carbondomain.Footprint
	err := db.WithContext(ctx).
		Where("company_id = ? AND created_at >= ? AND created_at < ?", companyID, from, to).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

func (r *repo) DeleteByCompany(ctx context.Context, db *gorm.DB, companyID uuid.UUID) error {
	tx := db.WithContext(ctx)
	if err := tx.Where("company_id = ?", companyID).Delete(&domain.Milestone{}).Error; err != nil {
		return err
	}
	return tx.Where("company_id = ?", companyID).Delete(&domain.Log{}).Error
}
