package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/greenledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	InsertOffset(ctx context.Context, db *gorm.DB, o *Offset) error
	FindOffset(ctx context.Context, db *gorm.DB, id uuid.UUID) (*Offset, error)
	FindOffsetForUpdate(ctx context.Context, db *gorm.DB, id uuid.UUID) (*Offset, error)
	FindOffsetByName(ctx context.Context, db *gorm.DB, name string) (*Offset, error)
	UpdateOffsetDetails(ctx context.Context, db *gorm.DB, o *Offset) error
	ListOffsets(ctx context.Context, db *gorm.DB, filter OffsetFilter) ([]Offset, error)
	// TakeStock deducts quantity only when enough is available and reports
	// whether it did.
	TakeStock(ctx context.Context, db *gorm.DB, id uuid.UUID, quantity int64, at time.Time) (bool, error)
	ReturnStock(ctx context.Context, db *gorm.DB, id uuid.UUID, quantity int64, at time.Time) error
	RetireStock(ctx context.Context, db *gorm.DB, id uuid.UUID, quantity int64, at time.Time) error

	InsertPurchase(ctx context.Context, db *gorm.DB, p *Purchase) error
	UpdatePurchase(ctx context.Context, db *gorm.DB, p *Purchase) error
	FindPurchase(ctx context.Context, db *gorm.DB, companyID, id uuid.UUID) (*Purchase, error)
	FindPurchaseForUpdate(ctx context.Context, db *gorm.DB, companyID, id uuid.UUID) (*Purchase, error)
	FindPurchaseByRef(ctx context.Context, db *gorm.DB, companyID uuid.UUID, ref string) (*Purchase, error)
	ListPurchases(ctx context.Context, db *gorm.DB, companyID uuid.UUID, status PurchaseStatus, page pagination.Pagination) ([]*Purchase, error)
	ListPendingByCompany(ctx context.Context, db *gorm.DB, companyID uuid.UUID) ([]Purchase, error)
	ListCompletedByCompany(ctx context.Context, db *gorm.DB, companyID uuid.UUID) ([]Purchase, error)
	ListCompletedInWindow(ctx context.Context, db *gorm.DB, companyID uuid.UUID, from, to time.Time) ([]Purchase, error)

	InsertReversal(ctx context.Context, db *gorm.DB, r *CreditReversal) error
	ListReversals(ctx context.Context, db *gorm.DB, companyID uuid.UUID) ([]CreditReversal, error)

	DeletePurchasesByCompany(ctx context.Context, db *gorm.DB, companyID uuid.UUID) error
}
