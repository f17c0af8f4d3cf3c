package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Repository interface {
	InsertUser(ctx context.Context, db *gorm.DB, user *User) error
	FindUserByID(ctx context.Context, db *gorm.DB, id uuid.UUID) (*User, error)
	FindUserByEmail(ctx context.Context, db *gorm.DB, email string) (*User, error)
	UpdateUser(ctx context.Context, db *gorm.DB, user *User) error
	TouchLogin(ctx context.Context, db *gorm.DB, id uuid.UUID, at time.Time) error
	ListAdministrators(ctx context.Context, db *gorm.DB) ([]User, error)

	InsertCompany(ctx context.Context, db *gorm.DB, company *Company) error
	FindCompanyByID(ctx context.Context, db *gorm.DB, id uuid.UUID) (*Company, error)
	FindCompanyByName(ctx context.Context, db *gorm.DB, name string) (*Company, error)
	ListCompanies(ctx context.Context, db *gorm.DB) ([]Company, error)
	DeleteCompany(ctx context.Context, db *gorm.DB, id uuid.UUID) error
}
