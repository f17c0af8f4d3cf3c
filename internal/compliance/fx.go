package compliance

import (
	"context"

	"github.com/smallbiznis/greenledger/internal/authorization"
	"github.com/smallbiznis/greenledger/internal/compliance/domain"
	"github.com/smallbiznis/greenledger/internal/compliance/repository"
	"github.com/smallbiznis/greenledger/internal/compliance/service"
	identitydomain "github.com/smallbiznis/greenledger/internal/identity/domain"
	"github.com/smallbiznis/greenledger/internal/tenant"
	"go.uber.org/fx"
)

var Module = fx.Module("compliance.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(newAdminDirectory),
	fx.Provide(
		fx.Annotate(newCleaner, fx.ResultTags(tenant.CleanerGroup)),
	),
	fx.Invoke(ensureCatalog),
)

func newCleaner(repo domain.Repository) tenant.Cleaner {
	return tenant.CleanerFunc(repo.DeleteByCompany)
}

type adminDirectory struct {
	users identitydomain.Service
}

func newAdminDirectory(users identitydomain.Service) domain.AdminDirectory {
	return &adminDirectory{users: users}
}

func (d *adminDirectory) Administrators(ctx context.Context) ([]domain.Administrator, error) {
	users, err := d.users.ListAdministrators(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Administrator, 0, len(users))
	for _, u := range users {
		if u.CompanyID == nil || u.Role != authorization.RoleAdministrator {
			continue
		}
		out = append(out, domain.Administrator{UserID: u.ID, CompanyID: *u.CompanyID, Email: u.Email})
	}
	return out, nil
}

func ensureCatalog(lc fx.Lifecycle, svc domain.Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return svc.EnsureCatalog(ctx)
		},
	})
}
