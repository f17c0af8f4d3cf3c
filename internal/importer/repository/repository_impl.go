package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/greenledger/internal/importer/domain"
	"github.com/smallbiznis/greenledger/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertJob(ctx context.Context, db *gorm.DB, job *domain.Job) error {
	return db.WithContext(ctx).Create(job).Error
}

func (r *repo) SaveJob(ctx context.Context, db *gorm.DB, job *domain.Job) error {
	return db.WithContext(ctx).Save(job).Error
}

func (r *repo) FindJob(ctx context.Context, db *gorm.DB, companyID, id uuid.UUID) (*domain.Job, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var job domain.Job
	err := db.WithContext(ctx).
		Where("id = ? AND company_id = ?", id, companyID).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *repo) FindJobByID(ctx context.Context, db *gorm.DB, id uuid.UUID) (*domain.Job, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var job domain.Job
	if err := db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&job).Error; err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *repo) ListJobs(ctx context.Context, db *gorm.DB, companyID uuid.UUID, req domain.ListJobsRequest) ([]domain.Job, error) {
	stmt := db.WithContext(ctx).Model(&domain.Job{}).Where("company_id = ?", companyID)
	if req.Status != "" {
		stmt = stmt.Where("status = ?", req.Status)
	}
	if req.DataType != "" {
		stmt = stmt.Where("data_type = ?", req.DataType)
	}
	stmt, err := pagination.Apply(stmt, req.Pagination)
	if err != nil {
		return nil, err
	}
	var out []domain.Job
	if err := stmt.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repo) ListUnfinished(ctx context.Context, db *gorm.DB, limit int) ([]domain.Job, error) {
	var out []domain.Job
	err := db.WithContext(ctx).
		Where("status NOT IN ?", []domain.Status{domain.StatusCompleted, domain.StatusFailed}).
		Order("created_at asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *repo) PutArtifact(ctx context.Context, db *gorm.DB, a *domain.Artifact) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}, {Name: "kind"}},
			DoUpdates: clause.AssignmentColumns([]string{"checksum", "size", "content", "expires_at", "created_at"}),
		}).
		Create(a).Error
}

func (r *repo) FindArtifact(ctx context.Context, db *gorm.DB, jobID uuid.UUID, kind domain.ArtifactKind) (*domain.Artifact, error) {
	var a domain.Artifact
	err := db.WithContext(ctx).
		Where("job_id = ? AND kind = ?", jobID, kind).
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

func (r *repo) DeleteExpiredArtifacts(ctx context.Context, db *gorm.DB, before time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", before).
		Delete(&domain.Artifact{})
	return res.RowsAffected, res.Error
}

func (r *repo) DeleteByCompany(ctx context.Context, db *gorm.DB, companyID uuid.UUID) error {
	tx := db.WithContext(ctx)
	jobs := tx.Model(&domain.Job{}).Select("id").Where("company_id = ?", companyID)
	if err := tx.Where("job_id IN (?)", jobs).Delete(&domain.Artifact{}).Error; err != nil {
		return err
	}
	return tx.Where("company_id = ?", companyID).Delete(&domain.Job{}).Error
}
