package domain

import (
	"context"

	"github.com/google/uuid"
	"github.com/smallbiznis/greenledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListFilter struct {
	DeviceType DeviceType
	Status     Status
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *Entry) error
	Update(ctx context.Context, db *gorm.DB, entry *Entry) error
	Delete(ctx context.Context, db *gorm.DB, companyID, id uuid.UUID) error
	FindByID(ctx context.Context, db *gorm.DB, companyID, id uuid.UUID) (*Entry, error)
	FindBySourceRef(ctx context.Context, db *gorm.DB, companyID uuid.UUID, ref string) (*Entry, error)
	List(ctx context.Context, db *gorm.DB, companyID uuid.UUID, filter ListFilter, page pagination.Pagination) ([]*Entry, error)
	ListAll(ctx context.Context, db *gorm.DB, companyID uuid.UUID) ([]Entry, error)
	DeleteByCompany(ctx context.Context, db *gorm.DB, companyID uuid.UUID) error
}
