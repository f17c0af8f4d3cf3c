package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/greenledger/internal/auth/password"
	"github.com/smallbiznis/greenledger/internal/auth/token"
	"github.com/smallbiznis/greenledger/internal/authorization"
	"github.com/smallbiznis/greenledger/internal/clock"
	"github.com/smallbiznis/greenledger/internal/identity/domain"
	"github.com/smallbiznis/greenledger/internal/tenant"
	"github.com/smallbiznis/greenledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const minPasswordLength = 8

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Repo     domain.Repository
	Authz    *authorization.Authorizer
	Tokens   *token.Manager
	Tiers    domain.TierLookup `optional:"true"`
	Cleaners []tenant.Cleaner  `group:"company_cleaners"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	repo     domain.Repository
	authz    *authorization.Authorizer
	tokens   *token.Manager
	tiers    domain.TierLookup
	cleaners []tenant.Cleaner
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("identity.service"),
		clock:    p.Clock,
		repo:     p.Repo,
		authz:    p.Authz,
		tokens:   p.Tokens,
		tiers:    p.Tiers,
		cleaners: p.Cleaners,
	}
}

func (s *Service) Register(ctx context.Context, req domain.RegisterRequest) (domain.User, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return domain.User{}, err
	}
	if utf8.RuneCountInString(req.Password) < minPasswordLength {
		return domain.User{}, domain.ErrInvalidPassword
	}

	existing, err := s.repo.FindUserByEmail(ctx, s.db, email)
	if err != nil {
		return domain.User{}, err
	}
	if existing != nil {
		return domain.User{}, domain.ErrDuplicateEmail
	}

	hash, err := password.Hash(req.Password)
	if err != nil {
		return domain.User{}, err
	}

	now := s.clock.Now()
	user := domain.User{
		ID:                   uuid.Must(uuid.NewV7()),
		Email:                email,
		PasswordHash:         hash,
		FirstName:            strings.TrimSpace(req.FirstName),
		LastName:             strings.TrimSpace(req.LastName),
		Role:                 authorization.RoleViewer,
		DashboardPreferences: datatypes.JSONMap{},
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.repo.InsertUser(ctx, s.db, &user); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.User{}, domain.ErrDuplicateEmail
		}
		return domain.User{}, err
	}

	s.log.Info("user registered", zap.String("user_id", user.ID.String()))
	return user, nil
}

func (s *Service) Login(ctx context.Context, req domain.LoginRequest) (domain.Session, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return domain.Session{}, domain.ErrInvalidCredentials
	}

	user, err := s.repo.FindUserByEmail(ctx, s.db, email)
	if err != nil {
		return domain.Session{}, err
	}
	if user == nil || !password.Verify(req.Password, user.PasswordHash) {
		return domain.Session{}, domain.ErrInvalidCredentials
	}

	now := s.clock.Now()
	if err := s.repo.TouchLogin(ctx, s.db, user.ID, now); err != nil {
		return domain.Session{}, err
	}
	user.LastLoginAt = &now

	signed, expires, err := s.tokens.Issue(user.ID)
	if err != nil {
		return domain.Session{}, err
	}
	return domain.Session{Token: signed, ExpiresAt: expires, User: *user}, nil
}

func (s *Service) CompleteOnboarding(ctx context.Context, req domain.OnboardingRequest) (domain.User, error) {
	principal, err := tenant.Require(ctx)
	if err != nil {
		return domain.User{}, err
	}

	name := strings.TrimSpace(req.CompanyName)
	if name == "" {
		return domain.User{}, domain.ErrInvalidCompanyName
	}
	if req.Employees != nil && *req.Employees < 0 {
		return domain.User{}, domain.ErrInvalidEmployees
	}

	var out domain.User
	err = db.WithRetry(ctx, s.db, func(tx *gorm.DB) error {
		user, err := s.repo.FindUserByID(ctx, tx, principal.UserID)
		if err != nil {
			return err
		}
		if user == nil {
			return domain.ErrUserNotFound
		}
		if user.OnboardingComplete {
			return domain.ErrAlreadyOnboarded
		}

		now := s.clock.Now()
		company, err := s.repo.FindCompanyByName(ctx, tx, name)
		if err != nil {
			return err
		}
		// Onboarding never joins an existing company; a taken name is refused.
		if company != nil && (user.CompanyID == nil || *user.CompanyID != company.ID) {
			return domain.ErrCompanyNameTaken
		}
		if company == nil {
			company = &domain.Company{
				ID:            uuid.Must(uuid.NewV7()),
				Name:          name,
				Slug:          companySlug(name),
				Industry:      strings.ToLower(strings.TrimSpace(req.Industry)),
				EmployeeCount: req.Employees,
				Tier:          "free",
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := s.repo.InsertCompany(ctx, tx, company); err != nil {
				if db.IsDuplicateKeyErr(err) {
					return domain.ErrCompanyNameTaken
				}
				return err
			}
			// The founding user owns the tenant.
			user.Role = authorization.RoleAdministrator
		}

		prefs := datatypes.JSONMap{}
		for k, v := range user.DashboardPreferences {
			prefs[k] = v
		}
		prefs["onboarding"] = map[string]any{
			"goals":        nonNil(req.Goals),
			"requirements": nonNil(req.Requirements),
			"challenges":   nonNil(req.Challenges),
		}

		user.CompanyID = &company.ID
		user.OnboardingComplete = true
		user.DashboardPreferences = prefs
		user.UpdatedAt = now
		if err := s.repo.UpdateUser(ctx, tx, user); err != nil {
			return err
		}
		out = *user
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}

	s.log.Info("onboarding completed",
		zap.String("user_id", out.ID.String()),
		zap.String("company_id", out.CompanyID.String()),
	)
	return out, nil
}

func (s *Service) Me(ctx context.Context) (domain.User, error) {
	principal, err := tenant.Require(ctx)
	if err != nil {
		return domain.User{}, err
	}
	user, err := s.repo.FindUserByID(ctx, s.db, principal.UserID)
	if err != nil {
		return domain.User{}, err
	}
	if user == nil {
		return domain.User{}, domain.ErrUserNotFound
	}
	return *user, nil
}

func (s *Service) UpdatePreferences(ctx context.Context, prefs map[string]any) (domain.User, error) {
	principal, err := tenant.Require(ctx)
	if err != nil {
		return domain.User{}, err
	}

	var out domain.User
	err = db.WithRetry(ctx, s.db, func(tx *gorm.DB) error {
		user, err := s.repo.FindUserByID(ctx, tx, principal.UserID)
		if err != nil {
			return err
		}
		if user == nil {
			return domain.ErrUserNotFound
		}
		merged := datatypes.JSONMap{}
		for k, v := range user.DashboardPreferences {
			merged[k] = v
		}
		for k, v := range prefs {
			if k == "onboarding" {
				continue
			}
			if v == nil {
				delete(merged, k)
				continue
			}
			merged[k] = v
		}
		user.DashboardPreferences = merged
		user.UpdatedAt = s.clock.Now()
		if err := s.repo.UpdateUser(ctx, tx, user); err != nil {
			return err
		}
		out = *user
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}
	return out, nil
}

func (s *Service) Capabilities(ctx context.Context) (domain.Capabilities, error) {
	principal, err := tenant.Require(ctx)
	if err != nil {
		return domain.Capabilities{}, err
	}
	caps := domain.Capabilities{
		Role:     principal.Role,
		Features: s.authz.Capabilities(principal.Role),
	}
	if !principal.HasCompany() {
		return caps, nil
	}

	company, err := s.repo.FindCompanyByID(ctx, s.db, principal.CompanyID)
	if err != nil {
		return domain.Capabilities{}, err
	}
	if company == nil {
		return caps, nil
	}
	caps.Tier = company.Tier
	if s.tiers != nil {
		features, err := s.tiers.TierFeatures(ctx, company.Tier)
		if err != nil {
			s.log.Warn("tier lookup failed", zap.String("tier", company.Tier), zap.Error(err))
		} else {
			caps.TierFeatures = features
		}
	}
	return caps, nil
}

func (s *Service) SetRole(ctx context.Context, userID uuid.UUID, role authorization.Role) (domain.User, error) {
	principal, err := tenant.RequireCompany(ctx)
	if err != nil {
		return domain.User{}, err
	}
	if err := s.authz.Require(principal.Role, authorization.FeatureCompanyManage); err != nil {
		return domain.User{}, err
	}
	if !role.Valid() {
		return domain.User{}, domain.ErrInvalidRole
	}

	var out domain.User
	err = db.WithRetry(ctx, s.db, func(tx *gorm.DB) error {
		user, err := s.repo.FindUserByID(ctx, tx, userID)
		if err != nil {
			return err
		}
		if user == nil || user.CompanyID == nil || *user.CompanyID != principal.CompanyID {
			return domain.ErrUserNotFound
		}
		user.Role = role
		user.UpdatedAt = s.clock.Now()
		if err := s.repo.UpdateUser(ctx, tx, user); err != nil {
			return err
		}
		out = *user
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}
	return out, nil
}

func (s *Service) GetCompany(ctx context.Context, companyID uuid.UUID) (domain.Company, error) {
	principal, err := tenant.RequireCompany(ctx)
	if err != nil {
		return domain.Company{}, err
	}
	if principal.CompanyID != companyID {
		return domain.Company{}, domain.ErrCompanyNotFound
	}
	company, err := s.repo.FindCompanyByID(ctx, s.db, companyID)
	if err != nil {
		return domain.Company{}, err
	}
	if company == nil {
		return domain.Company{}, domain.ErrCompanyNotFound
	}
	return *company, nil
}

// DeleteCompany removes the company and every record it owns in one
// transaction.
func (s *Service) DeleteCompany(ctx context.Context, companyID uuid.UUID) error {
	principal, err := tenant.RequireCompany(ctx)
	if err != nil {
		return err
	}
	if err := s.authz.Require(principal.Role, authorization.FeatureCompanyManage); err != nil {
		return err
	}
	if principal.CompanyID != companyID {
		return domain.ErrCompanyNotFound
	}
	return s.deleteCompany(ctx, companyID)
}

func (s *Service) deleteCompany(ctx context.Context, companyID uuid.UUID) error {
	err := db.WithRetry(ctx, s.db, func(tx *gorm.DB) error {
		company, err := s.repo.FindCompanyByID(ctx, tx, companyID)
		if err != nil {
			return err
		}
		if company == nil {
			return domain.ErrCompanyNotFound
		}
		var errs []error
		for _, cleaner := range s.cleaners {
			if err := cleaner.DeleteCompanyData(ctx, tx, companyID); err != nil {
				errs = append(errs, err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			return err
		}
		return s.repo.DeleteCompany(ctx, tx, companyID)
	})
	if err != nil {
		return err
	}
	s.log.Info("company deleted", zap.String("company_id", companyID.String()), zap.Int("cleaners", len(s.cleaners)))
	return nil
}

func (s *Service) Principal(ctx context.Context, userID uuid.UUID) (tenant.Principal, error) {
	user, err := s.repo.FindUserByID(ctx, s.db, userID)
	if err != nil {
		return tenant.Principal{}, err
	}
	if user == nil {
		return tenant.Principal{}, tenant.ErrNoPrincipal
	}
	p := tenant.Principal{UserID: user.ID, Role: user.Role}
	if user.CompanyID != nil {
		p.CompanyID = *user.CompanyID
	}
	return p, nil
}

func (s *Service) ListCompanies(ctx context.Context) ([]domain.Company, error) {
	return s.repo.ListCompanies(ctx, s.db)
}

func (s *Service) ListAdministrators(ctx context.Context) ([]domain.User, error) {
	return s.repo.ListAdministrators(ctx, s.db)
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", domain.ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", domain.ErrInvalidEmail
	}
	return email, nil
}

func companySlug(name string) string {
	out := slug.Make(name)
	if out == "" {
		out = "company"
	}
	// Names that differ only in punctuation slug identically.
	return out + "-" + uuid.NewString()[:8]
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
