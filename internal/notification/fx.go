package notification

import (
	compliancedomain "github.com/smallbiznis/greenledger/internal/compliance/domain"
	"github.com/smallbiznis/greenledger/internal/notification/domain"
	"github.com/smallbiznis/greenledger/internal/notification/emitter"
	"github.com/smallbiznis/greenledger/internal/notification/repository"
	"github.com/smallbiznis/greenledger/internal/notification/service"
	"github.com/smallbiznis/greenledger/internal/tenant"
	"go.uber.org/fx"
)

var Module = fx.Module("notification.service",
	fx.Provide(repository.Provide),
	fx.Provide(emitter.New),
	fx.Provide(service.New),
	fx.Provide(func(s domain.Service) compliancedomain.Notifier { return s }),
	fx.Provide(
		fx.Annotate(newCleaner, fx.ResultTags(tenant.CleanerGroup)),
	),
)

func newCleaner(repo domain.Repository) tenant.Cleaner {
	return tenant.CleanerFunc(repo.DeleteByCompany)
}
