package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/greenledger/internal/clock"
	"github.com/smallbiznis/greenledger/internal/config"
	"github.com/smallbiznis/greenledger/internal/notification/domain"
	"github.com/smallbiznis/greenledger/internal/observability/metrics"
	"github.com/smallbiznis/greenledger/internal/tenant"
	"github.com/smallbiznis/greenledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	companyPage   = 200
	dispatchBatch = 100
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Config  config.Config
	Repo    domain.Repository
	Emitter domain.Emitter
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	repo    domain.Repository
	emitter domain.Emitter
	workers int
	metrics *metrics.DomainMetrics
}

func New(p Params) domain.Service {
	workers := p.Config.Scheduler.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("notification.service"),
		clock:   p.Clock,
		repo:    p.Repo,
		emitter: p.Emitter,
		workers: workers,
		metrics: metrics.Domain(),
	}
}

func (s *Service) Notify(ctx context.Context, tx *gorm.DB, companyID uuid.UUID, kind string, payload map[string]any) error {
	k := domain.Kind(kind)
	if _, ok := formatters[k]; !ok {
		return domain.ErrUnknownKind
	}
	return s.record(ctx, tx, companyID, k, payload)
}

func (s *Service) record(ctx context.Context, tx *gorm.DB, companyID uuid.UUID, kind domain.Kind, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	return s.repo.InsertLog(ctx, tx, &domain.Log{
		ID:        uuid.Must(uuid.NewV7()),
		CompanyID: companyID,
		Kind:      kind,
		Payload:   datatypes.JSONMap(payload),
		CreatedAt: s.clock.Now(),
	})
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	p, err := tenant.RequireCompany(ctx)
	if err != nil {
		return domain.ListResponse{}, err
	}
	rows, err := s.repo.ListLogs(ctx, s.db, p.CompanyID, req)
	if err != nil {
		return domain.ListResponse{}, err
	}
	items := make([]*domain.Log, len(rows))
	for i := range rows {
		items[i] = &rows[i]
	}
	items, info := pagination.Page(items, req.Size(), func(l *domain.Log) (string, time.Time) {
		return l.ID.String(), l.CreatedAt
	})
	out := make([]domain.Log, len(items))
	for i, l := range items {
		out[i] = *l
	}
	return domain.ListResponse{PageInfo: info, Notifications: out}, nil
}

// Dispatch delivers recorded notifications that have not been attempted.
// Each log is stamped before delivery, so a message is emitted at most once
// even with several dispatchers.
func (s *Service) Dispatch(ctx context.Context) (int, error) {
	sent := 0
	var errs error
	for {
		logs, err := s.repo.ListUndispatched(ctx, s.db, dispatchBatch)
		if err != nil {
			return sent, errors.Join(errs, err)
		}
		if len(logs) == 0 {
			return sent, errs
		}
		for _, l := range logs {
			claimed, err := s.repo.MarkDispatched(ctx, s.db, l.ID, s.clock.Now())
			if err != nil {
				return sent, errors.Join(errs, err)
			}
			if !claimed {
				continue
			}
			if err := s.deliver(ctx, l); err != nil {
				errs = errors.Join(errs, err)
				if rerr := s.repo.RecordDeliveryError(context.WithoutCancel(ctx), s.db, l.ID, err.Error()); rerr != nil {
					errs = errors.Join(errs, rerr)
				}
				continue
			}
			sent++
		}
		if len(logs) < dispatchBatch {
			return sent, errs
		}
	}
}

func (s *Service) deliver(ctx context.Context, l domain.Log) error {
	msg := domain.Message{
		ID:        l.ID,
		CompanyID: l.CompanyID,
		Kind:      l.Kind,
		Payload:   map[string]any(l.Payload),
		CreatedAt: l.CreatedAt,
	}
	if err := format(&msg); err != nil {
		return err
	}
	if err := s.emitter.Emit(ctx, msg); err != nil {
		s.log.Warn("notification delivery failed",
			zap.String("notification_id", l.ID.String()),
			zap.String("company_id", l.CompanyID.String()),
			zap.String("kind", string(l.Kind)),
			zap.Error(err),
		)
		return err
	}
	s.metrics.RecordNotification(string(l.Kind))
	return nil
}

func (s *Service) Retention(ctx context.Context) (int, error) {
	n, err := s.repo.DeleteLogsBefore(ctx, s.db, s.clock.Now().Add(-domain.LogRetention))
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// eachCompany runs fn for every company with at most s.workers in flight.
// Failures are collected so one company does not stop the others.
func (s *Service) eachCompany(ctx context.Context, fn func(ctx context.Context, companyID uuid.UUID) (int, error)) (int, error) {
	var (
		mu    sync.Mutex
		total int
		errs  error
	)
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(s.workers)

	after := uuid.Nil
	for {
		ids, err := s.repo.ListCompanyIDs(ctx, s.db, after, companyPage)
		if err != nil {
			errs = errors.Join(errs, err)
			break
		}
		for _, id := range ids {
			group.Go(func() error {
				n, err := fn(gctx, id)
				mu.Lock()
				defer mu.Unlock()
				total += n
				if err != nil {
					errs = errors.Join(errs, err)
					s.log.Warn("notification job failed for company", zap.String("company_id", id.String()), zap.Error(err))
				}
				return nil
			})
		}
		if len(ids) < companyPage {
			break
		}
		after = ids[len(ids)-1]
	}
	_ = group.Wait()
	return total, errs
}
