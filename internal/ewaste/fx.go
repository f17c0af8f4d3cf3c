package ewaste

import (
	"github.com/smallbiznis/greenledger/internal/ewaste/domain"
	"github.com/smallbiznis/greenledger/internal/ewaste/repository"
	"github.com/smallbiznis/greenledger/internal/ewaste/service"
	"github.com/smallbiznis/greenledger/internal/tenant"
	"go.uber.org/fx"
)

var Module = fx.Module("ewaste.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(
		fx.Annotate(newCleaner, fx.ResultTags(tenant.CleanerGroup)),
	),
)

func newCleaner(repo domain.Repository) tenant.Cleaner {
	return tenant.CleanerFunc(repo.DeleteByCompany)
}
