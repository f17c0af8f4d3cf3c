package offset

import (
	carbondomain "github.com/smallbiznis/greenledger/internal/carbon/domain"
	"github.com/smallbiznis/greenledger/internal/offset/domain"
	"github.com/smallbiznis/greenledger/internal/offset/repository"
	"github.com/smallbiznis/greenledger/internal/offset/service"
	"github.com/smallbiznis/greenledger/internal/tenant"
	"go.uber.org/fx"
)

var Module = fx.Module("offset.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(
		func(svc domain.Service) carbondomain.OffsetLedger { return svc },
		fx.Annotate(newCleaner, fx.ResultTags(tenant.CleanerGroup)),
	),
)

func newCleaner(svc domain.Service) tenant.Cleaner {
	return svc
}
