package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/greenledger/internal/authorization"
	carbondomain "github.com/smallbiznis/greenledger/internal/carbon/domain"
	"github.com/smallbiznis/greenledger/internal/clock"
	"github.com/smallbiznis/greenledger/internal/config"
	ewastedomain "github.com/smallbiznis/greenledger/internal/ewaste/domain"
	"github.com/smallbiznis/greenledger/internal/importer/artifact"
	"github.com/smallbiznis/greenledger/internal/importer/domain"
	"github.com/smallbiznis/greenledger/internal/importer/tabular"
	integrationdomain "github.com/smallbiznis/greenledger/internal/integration/domain"
	"github.com/smallbiznis/greenledger/internal/observability/metrics"
	offsetdomain "github.com/smallbiznis/greenledger/internal/offset/domain"
	"github.com/smallbiznis/greenledger/internal/ratelimit"
	"github.com/smallbiznis/greenledger/internal/tenant"
	"github.com/smallbiznis/greenledger/pkg/db"
	"github.com/smallbiznis/greenledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Config  config.Config
	Repo    domain.Repository
	Authz   *authorization.Authorizer
	Carbon  carbondomain.Service
	Ewaste  ewastedomain.Service
	Offsets offsetdomain.Service
	Locker  *ratelimit.Locker `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	cfg     config.ImportConfig
	repo    domain.Repository
	authz   *authorization.Authorizer
	carbon  carbondomain.Service
	ewaste  ewastedomain.Service
	offsets offsetdomain.Service
	locker  *ratelimit.Locker
	metrics *metrics.DomainMetrics

	mu    sync.Mutex
	queue chan uuid.UUID
	stop  context.CancelFunc
	group *errgroup.Group
}

func New(p Params) *Service {
	cfg := p.Config.Import
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 60 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.SampleRows <= 0 {
		cfg.SampleRows = 20
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("importer.service"),
		clock:   p.Clock,
		cfg:     cfg,
		repo:    p.Repo,
		authz:   p.Authz,
		carbon:  p.Carbon,
		ewaste:  p.Ewaste,
		offsets: p.Offsets,
		locker:  p.Locker,
		metrics: metrics.Domain(),
	}
}

func (s *Service) principal(ctx context.Context) (tenant.Principal, error) {
	p, err := tenant.RequireCompany(ctx)
	if err != nil {
		return tenant.Principal{}, err
	}
	if err := s.authz.Require(p.Role, authorization.FeatureImportsRun); err != nil {
		return tenant.Principal{}, err
	}
	return p, nil
}

type newJob struct {
	companyID uuid.UUID
	userID    uuid.UUID
	source    domain.Source
	dataType  domain.DataType
	fileName  string
	content   []byte
	mapping   map[string]string
	dryRun    bool
}

func (s *Service) Create(ctx context.Context, req domain.CreateJobRequest) (domain.Job, error) {
	p, err := s.principal(ctx)
	if err != nil {
		return domain.Job{}, err
	}
	return s.create(ctx, newJob{
		companyID: p.CompanyID,
		userID:    p.UserID,
		source:    domain.SourceFile,
		dataType:  domain.DataType(strings.ToLower(strings.TrimSpace(string(req.DataType)))),
		fileName:  strings.TrimSpace(req.FileName),
		content:   req.Content,
		mapping:   req.Mapping,
		dryRun:    req.DryRun,
	})
}

// IngestRecords turns provider records into a job sourced from an
// integration.
func (s *Service) IngestRecords(ctx context.Context, req integrationdomain.IngestRequest) (uuid.UUID, error) {
	content, err := tabular.EncodeCSV(req.Headers, req.Rows)
	if err != nil {
		return uuid.Nil, err
	}
	job, err := s.create(ctx, newJob{
		companyID: req.CompanyID,
		userID:    req.UserID,
		source:    domain.SourceIntegration,
		dataType:  domain.DataType(req.DataType),
		fileName:  req.Name + ".csv",
		content:   content,
	})
	if err != nil {
		return uuid.Nil, err
	}
	return job.ID, nil
}

func (s *Service) create(ctx context.Context, in newJob) (domain.Job, error) {
	if !in.dataType.Valid() {
		return domain.Job{}, domain.ErrInvalidDataType
	}
	if len(in.content) == 0 {
		return domain.Job{}, domain.ErrEmptyFile
	}
	if tabular.Sniff(in.fileName, in.content) == "" {
		return domain.Job{}, domain.ErrUnsupportedFile
	}
	if in.mapping != nil {
		if err := validateMapping(in.dataType, nil, in.mapping); err != nil {
			return domain.Job{}, err
		}
	}
	if in.fileName == "" {
		in.fileName = "upload"
	}

	now := s.clock.Now()
	job := domain.Job{
		ID:                uuid.Must(uuid.NewV7()),
		CompanyID:         in.companyID,
		UserID:            in.userID,
		Source:            in.source,
		DataType:          in.dataType,
		Status:            domain.StatusPending,
		FileName:          in.fileName,
		Headers:           datatypes.JSONSlice[string]{},
		DetectedTypes:     datatypes.NewJSONType(map[string]string{}),
		Mapping:           datatypes.NewJSONType(map[string]string{}),
		MappingOverridden: in.mapping != nil,
		DryRun:            in.dryRun,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if in.mapping != nil {
		job.Mapping = datatypes.NewJSONType(in.mapping)
	}
	expires := now.Add(s.cfg.Retention)
	blob := artifact.Seal(in.content)
	original := domain.Artifact{
		ID:        uuid.Must(uuid.NewV7()),
		JobID:     job.ID,
		Kind:      domain.ArtifactOriginal,
		Checksum:  blob.Checksum,
		Size:      blob.Size,
		Content:   blob.Content,
		ExpiresAt: &expires,
		CreatedAt: now,
	}

	err := db.WithRetry(ctx, s.db, func(tx *gorm.DB) error {
		if err := s.repo.InsertJob(ctx, tx, &job); err != nil {
			return err
		}
		return s.repo.PutArtifact(ctx, tx, &original)
	})
	if err != nil {
		return domain.Job{}, err
	}
	s.log.Info("import job created",
		zap.String("job_id", job.ID.String()),
		zap.String("company_id", job.CompanyID.String()),
		zap.String("data_type", string(job.DataType)),
		zap.String("source", string(job.Source)),
		zap.Int("bytes", blob.Size),
	)
	s.enqueue(job.ID)
	return job, nil
}

func (s *Service) ownedJob(ctx context.Context, p tenant.Principal, id uuid.UUID) (*domain.Job, error) {
	job, err := s.repo.FindJob(ctx, s.db, p.CompanyID, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, domain.ErrJobNotFound
	}
	return job, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Job, error) {
	p, err := s.principal(ctx)
	if err != nil {
		return domain.Job{}, err
	}
	job, err := s.ownedJob(ctx, p, id)
	if err != nil {
		return domain.Job{}, err
	}
	return *job, nil
}

func (s *Service) List(ctx context.Context, req domain.ListJobsRequest) (domain.ListJobsResponse, error) {
	p, err := s.principal(ctx)
	if err != nil {
		return domain.ListJobsResponse{}, err
	}
	if req.DataType != "" && !req.DataType.Valid() {
		return domain.ListJobsResponse{}, domain.ErrInvalidDataType
	}
	rows, err := s.repo.ListJobs(ctx, s.db, p.CompanyID, req)
	if err != nil {
		return domain.ListJobsResponse{}, err
	}
	items := make([]*domain.Job, len(rows))
	for i := range rows {
		items[i] = &rows[i]
	}
	items, info := pagination.Page(items, req.Size(), func(j *domain.Job) (string, time.Time) {
		return j.ID.String(), j.CreatedAt
	})
	jobs := make([]domain.Job, len(items))
	for i, j := range items {
		jobs[i] = *j
	}
	return domain.ListJobsResponse{PageInfo: info, Jobs: jobs}, nil
}

func (s *Service) SetMapping(ctx context.Context, id uuid.UUID, mapping map[string]string) (domain.Job, error) {
	p, err := s.principal(ctx)
	if err != nil {
		return domain.Job{}, err
	}
	job, err := s.ownedJob(ctx, p, id)
	if err != nil {
		return domain.Job{}, err
	}
	if err := validateMapping(job.DataType, job.Headers, mapping); err != nil {
		return domain.Job{}, err
	}
	if err := s.rewind(job, domain.StageValidate); err != nil {
		return domain.Job{}, err
	}
	job.Mapping = datatypes.NewJSONType(mapping)
	job.MappingOverridden = true
	if err := s.repo.SaveJob(ctx, s.db, job); err != nil {
		return domain.Job{}, err
	}
	s.enqueue(job.ID)
	return *job, nil
}

func (s *Service) Rerun(ctx context.Context, id uuid.UUID, stage domain.Stage) (domain.Job, error) {
	p, err := s.principal(ctx)
	if err != nil {
		return domain.Job{}, err
	}
	if stage.Index() < 0 {
		return domain.Job{}, domain.ErrInvalidStage
	}
	job, err := s.ownedJob(ctx, p, id)
	if err != nil {
		return domain.Job{}, err
	}
	if err := s.rewind(job, stage); err != nil {
		return domain.Job{}, err
	}
	if stage == domain.StageApply {
		job.DryRun = false
	}
	if err := s.repo.SaveJob(ctx, s.db, job); err != nil {
		return domain.Job{}, err
	}
	s.enqueue(job.ID)
	return *job, nil
}

// rewind marks job to resume at stage. Stages before it must have finished,
// and a job that is running cannot be rewound until its lease goes stale.
func (s *Service) rewind(job *domain.Job, stage domain.Stage) error {
	if s.running(job) {
		return domain.ErrJobBusy
	}
	idx := stage.Index()
	if idx > job.Stage.Index()+1 {
		return domain.ErrStageUnavailable
	}
	if idx == 0 {
		job.Stage = ""
	} else if job.Stage.Index() >= idx {
		job.Stage = domain.Stages[idx-1]
	}
	job.Status = domain.StatusPending
	job.LastError = ""
	job.CompletedAt = nil
	job.UpdatedAt = s.clock.Now()
	return nil
}

func (s *Service) running(job *domain.Job) bool {
	switch job.Status {
	case domain.StatusParsing, domain.StatusMapping, domain.StatusValidating, domain.StatusApplying:
		return s.clock.Now().Sub(job.UpdatedAt) < 2*s.cfg.StageTimeout
	}
	return false
}

func (s *Service) Report(ctx context.Context, id uuid.UUID) ([]byte, error) {
	p, err := s.principal(ctx)
	if err != nil {
		return nil, err
	}
	job, err := s.ownedJob(ctx, p, id)
	if err != nil {
		return nil, err
	}
	a, err := s.repo.FindArtifact(ctx, s.db, job.ID, domain.ArtifactReport)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, domain.ErrReportNotReady
	}
	return artifact.Open(artifact.Blob{Content: a.Content, Checksum: a.Checksum, Size: a.Size})
}

func (s *Service) Suggest(ctx context.Context, req domain.SuggestRequest) (domain.Suggestion, error) {
	if _, err := s.principal(ctx); err != nil {
		return domain.Suggestion{}, err
	}
	dataType := domain.DataType(strings.ToLower(strings.TrimSpace(string(req.DataType))))
	if !dataType.Valid() {
		return domain.Suggestion{}, domain.ErrInvalidDataType
	}
	return domain.Suggestion{
		DataType: dataType,
		Mapping:  domain.SuggestMapping(dataType, req.Headers),
		Targets:  domain.Targets(dataType),
	}, nil
}

func (s *Service) Sweep(ctx context.Context) (int, error) {
	n, err := s.repo.DeleteExpiredArtifacts(ctx, s.db, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("expired import originals removed", zap.Int64("count", n))
	}
	return int(n), nil
}

// enqueue hands id to the background workers when they are running. Jobs
// left behind are picked up on the next start.
func (s *Service) enqueue(id uuid.UUID) {
	s.mu.Lock()
	queue := s.queue
	s.mu.Unlock()
	if queue == nil {
		return
	}
	select {
	case queue <- id:
	default:
		s.log.Warn("import queue full, job deferred to next start", zap.String("job_id", id.String()))
	}
}

func openArtifact(a *domain.Artifact) ([]byte, error) {
	if a == nil {
		return nil, errors.New("artifact missing")
	}
	return artifact.Open(artifact.Blob{Content: a.Content, Checksum: a.Checksum, Size: a.Size})
}
