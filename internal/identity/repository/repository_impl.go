package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/greenledger/internal/authorization"
	"github.com/smallbiznis/greenledger/internal/identity/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertUser(ctx context.Context, db *gorm.DB, user *domain.User) error {
	return db.WithContext(ctx).Create(user).Error
}

func (r *repo) FindUserByID(ctx context.Context, db *gorm.DB, id uuid.UUID) (*domain.User, error) {
	var user domain.User
	err := db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&user).Error
	if err != nil {
		return nil, err
	}
	if user.ID == uuid.Nil {
		return nil, nil
	}
	return &user, nil
}

func (r *repo) FindUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error) {
	var user domain.User
	err := db.WithContext(ctx).Where("email = ?", email).Limit(1).Find(&user).Error
	if err != nil {
		return nil, err
	}
	if user.ID == uuid.Nil {
		return nil, nil
	}
	return &user, nil
}

func (r *repo) UpdateUser(ctx context.Context, db *gorm.DB, user *domain.User) error {
	return db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]any{
			"first_name":            user.FirstName,
			"last_name":             user.LastName,
			"company_id":            user.CompanyID,
			"role":                  user.Role,
			"onboarding_complete":   user.OnboardingComplete,
			"dashboard_preferences": user.DashboardPreferences,
			"updated_at":            user.UpdatedAt,
		}).Error
}

func (r *repo) TouchLogin(ctx context.Context, db *gorm.DB, id uuid.UUID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE users SET last_login_at = ? WHERE id = ?`, at, id,
	).Error
}

func (r *repo) ListAdministrators(ctx context.Context, db *gorm.DB) ([]domain.User, error) {
	var users []domain.User
	err := db.WithContext(ctx).
		Where("role = ? AND company_id IS NOT NULL", authorization.RoleAdministrator).
		Order("created_at asc").
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (r *repo) InsertCompany(ctx context.Context, db *gorm.DB, company *domain.Company) error {
	return db.WithContext(ctx).Create(company).Error
}

func (r *repo) FindCompanyByID(ctx context.Context, db *gorm.DB, id uuid.UUID) (*domain.Company, error) {
	var company domain.Company
	err := db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&company).Error
	if err != nil {
		return nil, err
	}
	if company.ID == uuid.Nil {
		return nil, nil
	}
	return &company, nil
}

func (r *repo) FindCompanyByName(ctx context.Context, db *gorm.DB, name string) (*domain.Company, error) {
	var company domain.Company
	err := db.WithContext(ctx).Where("LOWER(name) = LOWER(?)", name).Limit(1).Find(&company).Error
	if err != nil {
		return nil, err
	}
	if company.ID == uuid.Nil {
		return nil, nil
	}
	return &company, nil
}

func (r *repo) ListCompanies(ctx context.Context, db *gorm.DB) ([]domain.Company, error) {
	var companies []domain.Company
	if err := db.WithContext(ctx).Order("created_at asc").Find(&companies).Error; err != nil {
		return nil, err
	}
	return companies, nil
}

func (r *repo) DeleteCompany(ctx context.Context, db *gorm.DB, id uuid.UUID) error {
	if err := db.WithContext(ctx).Exec(`DELETE FROM users WHERE company_id = ?`, id).Error; err != nil {
		return err
	}
	return db.WithContext(ctx).Exec(`DELETE FROM companies WHERE id = ?`, id).Error
}
