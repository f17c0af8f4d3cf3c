package importer

import (
	"github.com/smallbiznis/greenledger/internal/importer/domain"
	"github.com/smallbiznis/greenledger/internal/importer/repository"
	"github.com/smallbiznis/greenledger/internal/importer/service"
	integrationdomain "github.com/smallbiznis/greenledger/internal/integration/domain"
	"github.com/smallbiznis/greenledger/internal/tenant"
	"go.uber.org/fx"
)

var Module = fx.Module("importer.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(func(s *service.Service) domain.Service { return s }),
	fx.Provide(func(s *service.Service) integrationdomain.RecordSink { return s }),
	fx.Provide(
		fx.Annotate(newCleaner, fx.ResultTags(tenant.CleanerGroup)),
	),
)

// Workers runs queued jobs in the background for the lifetime of the app.
var Workers = fx.Invoke(registerWorkers)

func registerWorkers(lc fx.Lifecycle, svc *service.Service) {
	lc.Append(fx.Hook{
		OnStart: svc.Start,
		OnStop:  svc.Stop,
	})
}

func newCleaner(repo domain.Repository) tenant.Cleaner {
	return tenant.CleanerFunc(repo.DeleteByCompany)
}
