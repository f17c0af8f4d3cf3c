package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	carbondomain "github.com/smallbiznis/greenledger/internal/carbon/domain"
	"gorm.io/gorm"
)

type Repository interface {
	InsertLog(ctx context.Context, db *gorm.DB, log *Log) error
	ListLogs(ctx context.Context, db *gorm.DB, companyID uuid.UUID, req ListRequest) ([]Log, error)
	ListUndispatched(ctx context.Context, db *gorm.DB, limit int) ([]Log, error)
	// MarkDispatched stamps the log unless another worker already did.
	MarkDispatched(ctx context.Context, db *gorm.DB, id uuid.UUID, at time.Time) (bool, error)
	RecordDeliveryError(ctx context.Context, db *gorm.DB, id uuid.UUID, message string) error
	DeleteLogsBefore(ctx context.Context, db *gorm.DB, before time.Time) (int64, error)

	// InsertMilestone returns false when the milestone already exists.
	InsertMilestone(ctx context.Context, db *gorm.DB, m *Milestone) (bool, error)

	ListCompanyIDs(ctx context.Context, db *gorm.DB, after uuid.UUID, limit int) ([]uuid.UUID, error)
	LatestFootprint(ctx context.Context, db *gorm.DB, companyID uuid.UUID) (*carbondomain.Footprint, error)
	// NewestFootprint is the most recently recorded footprint.
	NewestFootprint(ctx context.Context, db *gorm.DB, companyID uuid.UUID) (*carbondomain.Footprint, error)
	FootprintsCreated(ctx context.Context, db *gorm.DB, companyID uuid.UUID, from, to time.Time) ([]carbondomain.Footprint, error)

	DeleteByCompany(ctx context.Context, db *gorm.DB, companyID uuid.UUID) error
}
