package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/smallbiznis/greenledger/internal/importer/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	queueSize   = 256
	resumeBatch = 100
)

// Start launches the background workers and resumes jobs left unfinished
// by a previous process.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return nil
	}
	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	queue := make(chan uuid.UUID, queueSize)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	group, groupCtx := errgroup.WithContext(runCtx)
	for i := 0; i < workers; i++ {
		group.Go(func() error {
			s.work(groupCtx, queue)
			return nil
		})
	}
	s.queue = queue
	s.stop = cancel
	s.group = group
	s.mu.Unlock()

	pending, err := s.repo.ListUnfinished(ctx, s.db, resumeBatch)
	if err != nil {
		s.log.Warn("list unfinished import jobs", zap.Error(err))
		return nil
	}
	for _, job := range pending {
		s.enqueue(job.ID)
	}
	if len(pending) > 0 {
		s.log.Info("resuming import jobs", zap.Int("count", len(pending)))
	}
	return nil
}

// Stop cancels in-flight jobs and waits for the workers to drain. A
// cancelled job stays in its running status and is resumed on next start.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	stop, group := s.stop, s.group
	s.queue, s.stop, s.group = nil, nil, nil
	s.mu.Unlock()
	if stop == nil {
		return nil
	}
	stop()

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) work(ctx context.Context, queue <-chan uuid.UUID) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-queue:
			if _, err := s.Run(ctx, id); err != nil {
				if errors.Is(err, domain.ErrJobBusy) || errors.Is(err, context.Canceled) {
					continue
				}
				s.log.Warn("import job failed", zap.String("job_id", id.String()), zap.Error(err))
			}
		}
	}
}
