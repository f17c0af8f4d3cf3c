// Package seed loads the catalogs packaged with the binary.
package seed

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/smallbiznis/greenledger/internal/clock"
	compliancecatalog "github.com/smallbiznis/greenledger/internal/compliance/catalog"
	compliancedomain "github.com/smallbiznis/greenledger/internal/compliance/domain"
	integrationdomain "github.com/smallbiznis/greenledger/internal/integration/domain"
	"github.com/smallbiznis/greenledger/internal/integration/providers"
	offsetcatalog "github.com/smallbiznis/greenledger/internal/offset/catalog"
	offsetdomain "github.com/smallbiznis/greenledger/internal/offset/domain"
	"github.com/smallbiznis/greenledger/internal/tier"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	CommandOffsets      = "seed_offsets"
	CommandESRS         = "seed_esrs_catalog"
	CommandProviders    = "seed_integration_providers"
	CommandSubscription = "seed_subscription_tiers"
)

var ErrUnknownCommand = errors.New("unknown seed command")

type Params struct {
	fx.In

	Log          *zap.Logger
	Clock        clock.Clock
	Offsets      offsetdomain.Service
	Compliance   compliancedomain.Service
	Integrations integrationdomain.Service
	Tiers        *tier.Store
}

type Seeder struct {
	log          *zap.Logger
	clock        clock.Clock
	offsets      offsetdomain.Service
	compliance   compliancedomain.Service
	integrations integrationdomain.Service
	tiers        *tier.Store
}

func New(p Params) *Seeder {
	return &Seeder{
		log:          p.Log.Named("seed"),
		clock:        p.Clock,
		offsets:      p.Offsets,
		compliance:   p.Compliance,
		integrations: p.Integrations,
		tiers:        p.Tiers,
	}
}

// Commands lists the seed commands in a stable order.
func (s *Seeder) Commands() []string {
	names := make([]string, 0, len(s.handlers()))
	for name := range s.handlers() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Seeder) handlers() map[string]func(context.Context) (int, error) {
	return map[string]func(context.Context) (int, error){
		CommandOffsets:      s.Offsets,
		CommandESRS:         s.ESRSCatalog,
		CommandProviders:    s.IntegrationProviders,
		CommandSubscription: s.SubscriptionTiers,
	}
}

// Run executes one seed command and reports how many rows it created or
// refreshed.
func (s *Seeder) Run(ctx context.Context, command string) (int, error) {
	fn, ok := s.handlers()[command]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
	n, err := fn(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", command, err)
	}
	s.log.Info("seed finished", zap.String("command", command), zap.Int("rows", n))
	return n, nil
}

func (s *Seeder) Offsets(ctx context.Context) (int, error) {
	items, err := offsetcatalog.Offsets()
	if err != nil {
		return 0, err
	}
	return s.offsets.SeedCatalog(ctx, items)
}

func (s *Seeder) ESRSCatalog(ctx context.Context) (int, error) {
	items, err := compliancecatalog.Datapoints()
	if err != nil {
		return 0, err
	}
	res, err := s.compliance.SeedCatalog(ctx, items)
	if err != nil {
		return 0, err
	}
	return res.Created + res.Revised, nil
}

func (s *Seeder) IntegrationProviders(ctx context.Context) (int, error) {
	items, err := providers.Providers()
	if err != nil {
		return 0, err
	}
	return s.integrations.SeedProviders(ctx, items)
}

func (s *Seeder) SubscriptionTiers(ctx context.Context) (int, error) {
	tiers, err := tier.Packaged()
	if err != nil {
		return 0, err
	}
	return s.tiers.Seed(ctx, tiers, s.clock.Now())
}

var Module = fx.Module("seed",
	fx.Provide(New),
)
