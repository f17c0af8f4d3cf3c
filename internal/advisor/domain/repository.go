package domain

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *Event) error
	DeleteByCompany(ctx context.Context, db *gorm.DB, companyID uuid.UUID) error
}
