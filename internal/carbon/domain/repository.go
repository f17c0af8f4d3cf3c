package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/greenledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListFilter struct {
	Status Status
	Period string
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, fp *Footprint) error
	Update(ctx context.Context, db *gorm.DB, fp *Footprint) error
	Delete(ctx context.Context, db *gorm.DB, companyID, id uuid.UUID) error
	FindByID(ctx context.Context, db *gorm.DB, companyID, id uuid.UUID) (*Footprint, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, companyID, id uuid.UUID) (*Footprint, error)
	FindByPeriod(ctx context.Context, db *gorm.DB, companyID uuid.UUID, period string) (*Footprint, error)
	List(ctx context.Context, db *gorm.DB, companyID uuid.UUID, filter ListFilter, page pagination.Pagination) ([]*Footprint, error)
	ListByPeriodPrefix(ctx context.Context, db *gorm.DB, companyID uuid.UUID, prefix string) ([]Footprint, error)
	Latest(ctx context.Context, db *gorm.DB, companyID uuid.UUID) (*Footprint, error)
	ListInWindow(ctx context.Context, db *gorm.DB, companyID uuid.UUID, status Status, from, to time.Time) ([]Footprint, error)
	ListCreatedBetween(ctx context.Context, db *gorm.DB, from, to time.Time) ([]Footprint, error)
	ListCreatedSince(ctx context.Context, db *gorm.DB, companyID uuid.UUID, since time.Time) ([]Footprint, error)
	DeleteByCompany(ctx context.Context, db *gorm.DB, companyID uuid.UUID) error
}
