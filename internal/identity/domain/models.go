package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/greenledger/internal/authorization"
	"gorm.io/datatypes"
)

type Company struct {
	ID            uuid.UUID `gorm:"type:char(36);primaryKey" json:"id"`
	Name          string    `gorm:"size:255;not null;uniqueIndex" json:"name"`
	Slug          string    `gorm:"size:255;not null;uniqueIndex" json:"slug"`
	Industry      string    `gorm:"size:64;not null;default:''" json:"industry,omitempty"`
	EmployeeCount *int      `json:"employee_count,omitempty"`
	Tier          string    `gorm:"size:32;not null;default:'free'" json:"tier"`
	CreatedAt     time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time `gorm:"not null" json:"updated_at"`
}

func (Company) TableName() string { return "companies" }

type User struct {
	ID                   uuid.UUID          `gorm:"type:char(36);primaryKey" json:"id"`
	Email                string             `gorm:"size:255;not null;uniqueIndex" json:"email"`
	PasswordHash         string             `gorm:"not null" json:"-"`
	FirstName            string             `gorm:"size:128;not null;default:''" json:"first_name"`
	LastName             string             `gorm:"size:128;not null;default:''" json:"last_name"`
	CompanyID            *uuid.UUID         `gorm:"type:char(36);index" json:"company_id,omitempty"`
	Role                 authorization.Role `gorm:"not null" json:"role"`
	EmailVerified        bool               `gorm:"not null;default:false" json:"email_verified"`
	OnboardingComplete   bool               `gorm:"not null;default:false" json:"onboarding_complete"`
	DashboardPreferences datatypes.JSONMap  `json:"dashboard_preferences"`
	CreatedAt            time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt            time.Time          `gorm:"not null" json:"updated_at"`
	LastLoginAt          *time.Time         `json:"last_login_at,omitempty"`
}

func (User) TableName() string { return "users" }
