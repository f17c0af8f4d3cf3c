package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/greenledger/internal/auth"
	"github.com/smallbiznis/greenledger/internal/auth/token"
	"github.com/smallbiznis/greenledger/internal/authorization"
	"github.com/smallbiznis/greenledger/internal/carbon"
	"github.com/smallbiznis/greenledger/internal/clock"
	"github.com/smallbiznis/greenledger/internal/compliance"
	"github.com/smallbiznis/greenledger/internal/config"
	"github.com/smallbiznis/greenledger/internal/ewaste"
	"github.com/smallbiznis/greenledger/internal/identity"
	identitydomain "github.com/smallbiznis/greenledger/internal/identity/domain"
	"github.com/smallbiznis/greenledger/internal/importer"
	"github.com/smallbiznis/greenledger/internal/integration"
	integrationdomain "github.com/smallbiznis/greenledger/internal/integration/domain"
	"github.com/smallbiznis/greenledger/internal/migration"
	"github.com/smallbiznis/greenledger/internal/notification"
	"github.com/smallbiznis/greenledger/internal/observability"
	"github.com/smallbiznis/greenledger/internal/offset"
	"github.com/smallbiznis/greenledger/internal/ratelimit"
	"github.com/smallbiznis/greenledger/internal/scheduler"
	"github.com/smallbiznis/greenledger/internal/seed"
	"github.com/smallbiznis/greenledger/internal/tier"
	"github.com/smallbiznis/greenledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const commandTimeout = 10 * time.Minute

// errUsage marks a bad invocation; it exits like a configuration error.
var errUsage = errors.New("usage")

type options struct {
	notifyType string
	user       string
	stdout     io.Writer
}

type command struct {
	summary string
	run     func(options) error
}

var commands = map[string]command{
	seed.CommandOffsets:      {summary: "load the packaged offset catalog", run: seedCommand(seed.CommandOffsets)},
	seed.CommandESRS:         {summary: "load the ESRS datapoint catalog", run: seedCommand(seed.CommandESRS)},
	seed.CommandProviders:    {summary: "load the integration provider catalog", run: seedCommand(seed.CommandProviders)},
	seed.CommandSubscription: {summary: "load the subscription tiers", run: seedCommand(seed.CommandSubscription)},
	"run_notifications":      {summary: "run notification jobs now (--type)", run: runNotifications},
	"migrate":                {summary: "apply database migrations", run: runMigrate},
	"rotate_keys":            {summary: "re-seal stored credentials under the active vault key", run: rotateKeys},
	"issue_token":            {summary: "print a bearer token for a user (--user)", run: issueToken},
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// infra is the graph every command needs.
func infra() fx.Option {
	return fx.Options(
		fx.NopLogger,
		config.Module,
		observability.Module,
		db.Module,
		clock.Module,
	)
}

// domains wires the services without the HTTP server, the import workers
// or the scheduler loop.
func domains() fx.Option {
	return fx.Options(
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
		seed.Module,
		scheduler.Module,
	)
}

// withApp builds and starts an app, runs fn, then stops the app.
func withApp(opts []fx.Option, fn func(ctx context.Context) error) error {
	app := fx.New(opts...)
	if err := app.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return err
	}
	runErr := fn(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

func seedCommand(name string) func(options) error {
	return func(opts options) error {
		var seeder *seed.Seeder
		return withApp([]fx.Option{infra(), domains(), fx.Populate(&seeder)}, func(ctx context.Context) error {
			n, err := seeder.Run(ctx, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(opts.stdout, "%s: %d rows\n", name, n)
			return nil
		})
	}
}

func runNotifications(opts options) error {
	jobs, ok := scheduler.NotificationJobs[strings.ToLower(strings.TrimSpace(opts.notifyType))]
	if !ok {
		return fmt.Errorf("%w: unknown notification type %q", errUsage, opts.notifyType)
	}

	var sched *scheduler.Scheduler
	return withApp([]fx.Option{infra(), domains(), fx.Populate(&sched)}, func(ctx context.Context) error {
		if err := sched.RunJobs(ctx, jobs...); err != nil {
			return err
		}
		fmt.Fprintf(opts.stdout, "ran %s\n", strings.Join(jobs, ", "))
		return nil
	})
}

func runMigrate(opts options) error {
	var (
		conn *gorm.DB
		cfg  config.Config
		log  *zap.Logger
	)
	return withApp([]fx.Option{infra(), fx.Populate(&conn, &cfg, &log)}, func(ctx context.Context) error {
		if err := migration.Migrate(conn, cfg.DBType); err != nil {
			return err
		}
		log.Info("migrations applied", zap.String("db_type", cfg.DBType))
		fmt.Fprintln(opts.stdout, "migrations applied")
		return nil
	})
}

func rotateKeys(opts options) error {
	var svc integrationdomain.Service
	return withApp([]fx.Option{infra(), domains(), fx.Populate(&svc)}, func(ctx context.Context) error {
		n, err := svc.Rotate(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(opts.stdout, "rotated %d connections\n", n)
		return nil
	})
}

func issueToken(opts options) error {
	ref := strings.TrimSpace(opts.user)
	if ref == "" {
		return fmt.Errorf("%w: --user is required", errUsage)
	}

	var (
		conn   *gorm.DB
		repo   identitydomain.Repository
		tokens *token.Manager
	)
	populate := fx.Populate(&conn, &repo, &tokens)
	return withApp([]fx.Option{infra(), auth.Module, identity.Module, populate}, func(ctx context.Context) error {
		user, err := lookupUser(ctx, conn, repo, ref)
		if err != nil {
			return err
		}
		raw, expiresAt, err := tokens.Issue(user.ID)
		if err != nil {
			return err
		}
		fmt.Fprintln(opts.stdout, raw)
		fmt.Fprintf(opts.stdout, "expires_at: %s\n", expiresAt.UTC().Format(time.RFC3339))
		return nil
	})
}

func lookupUser(ctx context.Context, conn *gorm.DB, repo identitydomain.Repository, ref string) (*identitydomain.User, error) {
	var (
		user *identitydomain.User
		err  error
	)
	if id, parseErr := uuid.Parse(ref); parseErr == nil {
		user, err = repo.FindUserByID(ctx, conn, id)
	} else {
		user, err = repo.FindUserByEmail(ctx, conn, strings.ToLower(ref))
	}
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, identitydomain.ErrUserNotFound
	}
	return user, nil
}
