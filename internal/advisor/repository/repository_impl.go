package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/smallbiznis/greenledger/internal/advisor/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.Event) error {
	return db.WithContext(ctx).Create(event).Error
}

func (r *repo) DeleteByCompany(ctx context.Context, db *gorm.DB, companyID uuid.UUID) error {
	return db.WithContext(ctx).Where("company_id = ?", companyID).Delete(&domain.Event{}).Error
}
