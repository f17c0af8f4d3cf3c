package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/smallbiznis/greenledger/internal/advisor"
	"github.com/smallbiznis/greenledger/internal/analytics"
	"github.com/smallbiznis/greenledger/internal/auth"
	"github.com/smallbiznis/greenledger/internal/authorization"
	"github.com/smallbiznis/greenledger/internal/carbon"
	"github.com/smallbiznis/greenledger/internal/clock"
	"github.com/smallbiznis/greenledger/internal/compliance"
	"github.com/smallbiznis/greenledger/internal/config"
	"github.com/smallbiznis/greenledger/internal/ewaste"
	"github.com/smallbiznis/greenledger/internal/identity"
	"github.com/smallbiznis/greenledger/internal/importer"
	"github.com/smallbiznis/greenledger/internal/integration"
	"github.com/smallbiznis/greenledger/internal/notification"
	"github.com/smallbiznis/greenledger/internal/observability"
	"github.com/smallbiznis/greenledger/internal/offset"
	"github.com/smallbiznis/greenledger/internal/ratelimit"
	"github.com/smallbiznis/greenledger/internal/server"
	"github.com/smallbiznis/greenledger/internal/tier"
	"github.com/smallbiznis/greenledger/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		db.Module,
		clock.Module,
		ratelimit.Module,

		authorization.Module,
		auth.Module,
		tier.Module,

		identity.Module,
		carbon.Module,
		ewaste.Module,
		offset.Module,
		compliance.Module,
		integration.Module,
		importer.Module,
		notification.Module,
		analytics.Module,
		advisor.Module,

		// Uploads are parsed in-process; the scheduler runs elsewhere.
		importer.Workers,

		server.Module,
	)
	if err := app.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "api: %v\n", err)
		if errors.Is(err, config.ErrInvalidConfig) {
			os.Exit(2)
		}
		os.Exit(1)
	}
	app.Run()
}
