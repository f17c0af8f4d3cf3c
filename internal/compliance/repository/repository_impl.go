package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/greenledger/internal/compliance/domain"
	"github.com/smallbiznis/greenledger/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertDatapoint(ctx context.Context, db *gorm.DB, dp *domain.Datapoint) error {
	return db.WithContext(ctx).Create(dp).Error
}

func (r *repo) UpdateDatapoint(ctx context.Context, db *gorm.DB, dp *domain.Datapoint) error {
	return db.WithContext(ctx).
		Model(&domain.Datapoint{}).
		Where("id = ?", dp.ID).
		Updates(map[string]any{
			"name":       dp.Name,
			"standard":   dp.Standard,
			"category":   dp.Category,
			"mandatory":  dp.Mandatory,
			"definition": dp.Definition,
			"revised_at": dp.RevisedAt,
			"updated_at": dp.UpdatedAt,
		}).Error
}

func (r *repo) FindDatapointByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Datapoint, error) {
	var dp domain.Datapoint
	err := db.WithContext(ctx).Where("code = ?", code).Limit(1).Find(&dp).Error
	if err != nil {
		return nil, err
	}
	if dp.ID == uuid.Nil {
		return nil, nil
	}
	return &dp, nil
}

func (r *repo) CountDatapoints(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Datapoint{}).Count(&n).Error
	return n, err
}

func (r *repo) SearchDatapoints(ctx context.Context, db *gorm.DB, req domain.SearchRequest) ([]domain.Datapoint, error) {
	stmt := db.WithContext(ctx).Model(&domain.Datapoint{})
	if q := strings.ToLower(strings.TrimSpace(req.Query)); q != "" {
		like := "%" + q + "%"
		stmt = stmt.Where("LOWER(code) LIKE ? OR LOWER(name) LIKE ? OR LOWER(definition) LIKE ?", like, like, like)
	}
	if req.Standard != "" {
		stmt = stmt.Where("LOWER(standard) = LOWER(?)", req.Standard)
	}
	if req.MandatoryOnly {
		stmt = stmt.Where("mandatory = ?", true)
	}

	var out []domain.Datapoint
	if err := stmt.Order("code asc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repo) UpsertAssessment(ctx context.Context, db *gorm.DB, a *domain.Assessment) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "company_id"}, {Name: "datapoint_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "value_text", "value_numeric", "evidence_ref", "assessor_id", "updated_at",
			}),
		}).
		Create(a).Error
}

func (r *repo) FindAssessment(ctx context.Context, db *gorm.DB, companyID, datapointID uuid.UUID) (*domain.Assessment, error) {
	var a domain.Assessment
	err := db.WithContext(ctx).
		Where("company_id = ? AND datapoint_id = ?", companyID, datapointID).
		Limit(1).
		Find(&a).Error
	if err != nil {
		return nil, err
	}
	if a.ID == uuid.Nil {
		return nil, nil
	}
	return &a, nil
}

func (r *repo) ListAssessments(ctx context.Context, db *gorm.DB, companyID uuid.UUID) ([]domain.AssessmentView, error) {
	var out []domain.AssessmentView
	err := db.WithContext(ctx).
		Table("compliance_assessments").
		Select("compliance_assessments.*, esrs_datapoints.code AS datapoint_code, esrs_datapoints.mandatory AS mandatory").
		Joins("JOIN esrs_datapoints ON esrs_datapoints.id = compliance_assessments.datapoint_id").
		Where("compliance_assessments.company_id = ?", companyID).
		Order("esrs_datapoints.code asc").
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repo) InsertUpdate(ctx context.Context, db *gorm.DB, u *domain.RegulatoryUpdate) error {
	return db.WithContext(ctx).Create(u).Error
}

func (r *repo) FindUpdate(ctx context.Context, db *gorm.DB, id uuid.UUID) (*domain.RegulatoryUpdate, error) {
	var u domain.RegulatoryUpdate
	if err := db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&u).Error; err != nil {
		return nil, err
	}
	if u.ID == uuid.Nil {
		return nil, nil
	}
	return &u, nil
}

func (r *repo) ListUpdates(ctx context.Context, db *gorm.DB, page pagination.Pagination) ([]*domain.RegulatoryUpdate, error) {
	stmt, err := pagination.Apply(db.WithContext(ctx).Model(&domain.RegulatoryUpdate{}), page)
	if err != nil {
		return nil, err
	}
	var out []*domain.RegulatoryUpdate
	if err := stmt.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repo) ReadSet(ctx context.Context, db *gorm.DB, userID uuid.UUID, updateIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := make(map[uuid.UUID]bool, len(updateIDs))
	if len(updateIDs) == 0 {
		return out, nil
	}
	var reads []domain.RegulatoryRead
	err := db.WithContext(ctx).
		Where("user_id = ? AND update_id IN ?", userID, updateIDs).
		Find(&reads).Error
	if err != nil {
		return nil, err
	}
	for _, r := range reads {
		out[r.UpdateID] = true
	}
	return out, nil
}

func (r *repo) MarkRead(ctx context.Context, db *gorm.DB, updateID, userID uuid.UUID, at time.Time) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.RegulatoryRead{UpdateID: updateID, UserID: userID, ReadAt: at}).Error
}

func (r *repo) DeleteByCompany(ctx context.Context, db *gorm.DB, companyID uuid.UUID) error {
	tx := db.WithContext(ctx)
	if err := tx.Where("company_id = ?", companyID).Delete(&domain.Assessment{}).Error; err != nil {
		return err
	}
	return tx.
		Where("user_id IN (?)", tx.Table("users").Select("id").Where("company_id = ?", companyID)).
		Delete(&domain.RegulatoryRead{}).Error
}
