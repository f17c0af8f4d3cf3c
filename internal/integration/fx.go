package integration

import (
	"github.com/smallbiznis/greenledger/internal/config"
	"github.com/smallbiznis/greenledger/internal/integration/domain"
	"github.com/smallbiznis/greenledger/internal/integration/oauth"
	"github.com/smallbiznis/greenledger/internal/integration/providers"
	"github.com/smallbiznis/greenledger/internal/integration/repository"
	"github.com/smallbiznis/greenledger/internal/integration/service"
	"github.com/smallbiznis/greenledger/internal/integration/vault"
	"github.com/smallbiznis/greenledger/internal/tenant"
	"go.uber.org/fx"
)

var Module = fx.Module("integration.service",
	fx.Provide(repository.Provide),
	fx.Provide(vault.New),
	fx.Provide(newClient),
	fx.Provide(newStateSigner),
	fx.Provide(providers.NewEnvCredentials),
	fx.Provide(service.New),
	fx.Provide(
		fx.Annotate(newCleaner, fx.ResultTags(tenant.CleanerGroup)),
	),
)

func newClient(cfg config.Config) *oauth.Client {
	return oauth.NewClient(cfg.Integration.Timeout)
}

func newStateSigner(cfg config.Config) *oauth.StateSigner {
	secret := cfg.Vault.StateSecret
	if secret == "" {
		secret = cfg.AuthJWTSecret
	}
	return oauth.NewStateSigner([]byte(secret), 0)
}

func newCleaner(repo domain.Repository) tenant.Cleaner {
	return tenant.CleanerFunc(repo.DeleteByCompany)
}
