package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/smallbiznis/greenledger/internal/authorization"
	"github.com/smallbiznis/greenledger/internal/carbon"
	"github.com/smallbiznis/greenledger/internal/clock"
	"github.com/smallbiznis/greenledger/internal/config"
	"github.com/smallbiznis/greenledger/internal/ewaste"
	"github.com/smallbiznis/greenledger/internal/importer"
	"github.com/smallbiznis/greenledger/internal/notification"
	"github.com/smallbiznis/greenledger/internal/observability"
	"github.com/smallbiznis/greenledger/internal/offset"
	"github.com/smallbiznis/greenledger/internal/ratelimit"
	"github.com/smallbiznis/greenledger/internal/scheduler"
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

		// Domain services required by scheduler jobs
		authorization.Module,
		carbon.Module,
		ewaste.Module,
		offset.Module,
		importer.Module,
		notification.Module,

		// No server module!
		scheduler.Module,
		scheduler.Runner,
	)
	if err := app.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "scheduler: %v\n", err)
		if errors.Is(err, config.ErrInvalidConfig) {
			os.Exit(2)
		}
		os.Exit(1)
	}
	app.Run()
}
