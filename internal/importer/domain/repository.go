package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Repository interface {
	InsertJob(ctx context.Context, db *gorm.DB, job *Job) error
	SaveJob(ctx context.Context, db *gorm.DB, job *Job) error
	FindJob(ctx context.Context, db *gorm.DB, companyID, id uuid.UUID) (*Job, error)
	FindJobByID(ctx context.Context, db *gorm.DB, id uuid.UUID) (*Job, error)
	ListJobs(ctx context.Context, db *gorm.DB, companyID uuid.UUID, req ListJobsRequest) ([]Job, error)
	// ListUnfinished returns jobs that stopped mid-pipeline.
	ListUnfinished(ctx context.Context, db *gorm.DB, limit int) ([]Job, error)

	PutArtifact(ctx context.Context, db *gorm.DB, a *Artifact) error
	FindArtifact(ctx context.Context, db *gorm.DB, jobID uuid.UUID, kind ArtifactKind) (*Artifact, error)
	DeleteExpiredArtifacts(ctx context.Context, db *gorm.DB, before time.Time) (int64, error)

	DeleteByCompany(ctx context.Context, db *gorm.DB, companyID uuid.UUID) error
}
