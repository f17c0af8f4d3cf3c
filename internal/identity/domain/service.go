package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/greenledger/internal/authorization"
	"github.com/smallbiznis/greenledger/internal/tenant"
	"github.com/smallbiznis/greenledger/pkg/apperr"
)

type RegisterRequest struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

type LoginRequest struct {
	Email    string
	Password string
}

type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

type OnboardingRequest struct {
	CompanyName  string
	Industry     string
	Employees    *int
	Goals        []string
	Requirements []string
	Challenges   []string
}

type Capabilities struct {
	Role     authorization.Role      `json:"role"`
	Features []authorization.Feature `json:"features"`
	Tier     string                  `json:"tier,omitempty"`
	// TierFeatures is advisory; it never gates a role check.
	TierFeatures []string `json:"tier_features,omitempty"`
}

// TierLookup resolves the feature list of a subscription tier.
type TierLookup interface {
	TierFeatures(ctx context.Context, code string) ([]string, error)
}

type Service interface {
	Register(context.Context, RegisterRequest) (User, error)
	Login(context.Context, LoginRequest) (Session, error)
	CompleteOnboarding(context.Context, OnboardingRequest) (User, error)
	Me(context.Context) (User, error)
	UpdatePreferences(context.Context, map[string]any) (User, error)
	Capabilities(context.Context) (Capabilities, error)
	SetRole(ctx context.Context, userID uuid.UUID, role authorization.Role) (User, error)
	GetCompany(ctx context.Context, companyID uuid.UUID) (Company, error)
	DeleteCompany(ctx context.Context, companyID uuid.UUID) error
	Principal(ctx context.Context, userID uuid.UUID) (tenant.Principal, error)
	ListCompanies(ctx context.Context) ([]Company, error)
	ListAdministrators(ctx context.Context) ([]User, error)
}

var (
	ErrInvalidEmail       = apperr.New(apperr.KindValidation, "invalid_email")
	ErrInvalidPassword    = apperr.New(apperr.KindValidation, "invalid_password")
	ErrInvalidCompanyName = apperr.New(apperr.KindValidation, "invalid_company_name")
	ErrInvalidEmployees   = apperr.New(apperr.KindValidation, "invalid_employee_count")
	ErrInvalidRole        = apperr.New(apperr.KindValidation, "invalid_role")
	ErrDuplicateEmail     = apperr.New(apperr.KindDuplicateEmail, "duplicate_email")
	ErrCompanyNameTaken   = apperr.New(apperr.KindInvalidState, "company_name_taken")
	ErrAlreadyOnboarded   = apperr.New(apperr.KindInvalidState, "already_onboarded")
	ErrInvalidCredentials = apperr.New(apperr.KindUnauthorized, "invalid_credentials")
	ErrUserNotFound       = apperr.New(apperr.KindNotFound, "user_not_found")
	ErrCompanyNotFound    = apperr.New(apperr.KindNotFound, "company_not_found")
)
