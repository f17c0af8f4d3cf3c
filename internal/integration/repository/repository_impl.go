package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/greenledger/internal/integration/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertProvider(ctx context.Context, db *gorm.DB, p *domain.Provider) error {
	return db.WithContext(ctx).Create(p).Error
}

func (r *repo) UpdateProvider(ctx context.Context, db *gorm.DB, p *domain.Provider) error {
	return db.WithContext(ctx).Save(p).Error
}

func (r *repo) FindProviderByName(ctx context.Context, db *gorm.DB, name string) (*domain.Provider, error) {
	var p domain.Provider
	err := db.WithContext(ctx).
		Where("name = ?", strings.ToLower(strings.TrimSpace(name))).
		Limit(1).
		Find(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == uuid.Nil {
		return nil, nil
	}
	return &p, nil
}

func (r *repo) ListProviders(ctx context.Context, db *gorm.DB) ([]domain.Provider, error) {
	var out []domain.Provider
	if err := db.WithContext(ctx).Order("category asc, name asc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repo) InsertConnection(ctx context.Context, db *gorm.DB, c *domain.Connection) error {
	return db.WithContext(ctx).Create(c).Error
}

func (r *repo) SaveConnection(ctx context.Context, db *gorm.DB, c *domain.Connection) error {
	return db.WithContext(ctx).Save(c).Error
}

func (r *repo) FindConnection(ctx context.Context, db *gorm.DB, id uuid.UUID) (*domain.Connection, error) {
	return findConnection(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindConnectionByProvider(ctx context.Context, db *gorm.DB, companyID, providerID uuid.UUID) (*domain.Connection, error) {
	return findConnection(db.WithContext(ctx).Where("company_id = ? AND provider_id = ?", companyID, providerID))
}

func findConnection(stmt *gorm.DB) (*domain.Connection, error) {
	var c domain.Connection
	if err := stmt.Limit(1).Find(&c).Error; err != nil {
		return nil, err
	}
	if c.ID == uuid.Nil {
		return nil, nil
	}
	return &c, nil
}

func (r *repo) ListConnections(ctx context.Context, db *gorm.DB, companyID uuid.UUID) ([]domain.Connection, error) {
	var out []domain.Connection
	err := db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("provider_name asc").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repo) ListSealedWithout(ctx context.Context, db *gorm.DB, kid string) ([]domain.Connection, error) {
	var out []domain.Connection
	err := db.WithContext(ctx).
		Where("key_id <> ? AND key_id <> ''", kid).
		Order("id asc").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repo) ClaimRefresh(ctx context.Context, db *gorm.DB, id uuid.UUID, now, staleBefore time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Connection{}).
		Where("id = ? AND (refreshing_at IS NULL OR refreshing_at < ?)", id, staleBefore).
		Update("refreshing_at", now)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) ReleaseRefresh(ctx context.Context, db *gorm.DB, id uuid.UUID) error {
	return db.WithContext(ctx).
		Model(&domain.Connection{}).
		Where("id = ?", id).
		Update("refreshing_at", nil).Error
}

func (r *repo) DeleteByCompany(ctx context.Context, db *gorm.DB, companyID uuid.UUID) error {
	return db.WithContext(ctx).Where("company_id = ?", companyID).Delete(&domain.Connection{}).Error
}
