package advisor

import (
	"github.com/smallbiznis/greenledger/internal/advisor/domain"
	"github.com/smallbiznis/greenledger/internal/advisor/mistral"
	"github.com/smallbiznis/greenledger/internal/advisor/repository"
	"github.com/smallbiznis/greenledger/internal/advisor/service"
	"github.com/smallbiznis/greenledger/internal/tenant"
	"go.uber.org/fx"
)

var Module = fx.Module("advisor.service",
	fx.Provide(repository.Provide),
	fx.Provide(mistral.New),
	fx.Provide(func(c *mistral.Client) domain.Completer { return c }),
	fx.Provide(service.New),
	fx.Provide(
		fx.Annotate(newCleaner, fx.ResultTags(tenant.CleanerGroup)),
	),
)

func newCleaner(repo domain.Repository) tenant.Cleaner {
	return tenant.CleanerFunc(repo.DeleteByCompany)
}
