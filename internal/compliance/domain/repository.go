package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/greenledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	InsertDatapoint(ctx context.Context, db *gorm.DB, dp *Datapoint) error
	UpdateDatapoint(ctx context.Context, db *gorm.DB, dp *Datapoint) error
	FindDatapointByCode(ctx context.Context, db *gorm.DB, code string) (*Datapoint, error)
	CountDatapoints(ctx context.Context, db *gorm.DB) (int64, error)
	SearchDatapoints(ctx context.Context, db *gorm.DB, req SearchRequest) ([]Datapoint, error)

	UpsertAssessment(ctx context.Context, db *gorm.DB, a *Assessment) error
	FindAssessment(ctx context.Context, db *gorm.DB, companyID, datapointID uuid.UUID) (*Assessment, error)
	ListAssessments(ctx context.Context, db *gorm.DB, companyID uuid.UUID) ([]AssessmentView, error)

	InsertUpdate(ctx context.Context, db *gorm.DB, u *RegulatoryUpdate) error
	FindUpdate(ctx context.Context, db *gorm.DB, id uuid.UUID) (*RegulatoryUpdate, error)
	ListUpdates(ctx context.Context, db *gorm.DB, page pagination.Pagination) ([]*RegulatoryUpdate, error)
	ReadSet(ctx context.Context, db *gorm.DB, userID uuid.UUID, updateIDs []uuid.UUID) (map[uuid.UUID]bool, error)
	MarkRead(ctx context.Context, db *gorm.DB, updateID, userID uuid.UUID, at time.Time) error

	// DeleteByCompany removes the company's assessments and the read marks
	// of its users. It must run before the users are deleted.
	DeleteByCompany(ctx context.Context, db *gorm.DB, companyID uuid.UUID) error
}
