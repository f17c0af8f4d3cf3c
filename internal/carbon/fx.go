package carbon

import (
	"github.com/smallbiznis/greenledger/internal/carbon/domain"
	"github.com/smallbiznis/greenledger/internal/carbon/repository"
	"github.com/smallbiznis/greenledger/internal/carbon/service"
	"github.com/smallbiznis/greenledger/internal/tenant"
	"go.uber.org/fx"
)

var Module = fx.Module("carbon.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(
		fx.Annotate(newCleaner, fx.ResultTags(tenant.CleanerGroup)),
	),
)

func newCleaner(repo domain.Repository) tenant.Cleaner {
	return tenant.CleanerFunc(repo.DeleteByCompany)
}
