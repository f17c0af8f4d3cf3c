package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	carbondomain "github.com/smallbiznis/greenledger/internal/carbon/domain"
	ewastedomain "github.com/smallbiznis/greenledger/internal/ewaste/domain"
	"github.com/smallbiznis/greenledger/internal/importer/artifact"
	"github.com/smallbiznis/greenledger/internal/importer/domain"
	"github.com/smallbiznis/greenledger/internal/importer/tabular"
	offsetdomain "github.com/smallbiznis/greenledger/internal/offset/domain"
	"github.com/smallbiznis/greenledger/internal/ratelimit"
	"github.com/smallbiznis/greenledger/pkg/db"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func lockKey(id uuid.UUID) string { return "import:job:" + id.String() }

// Run executes the stages after the job's last completed stage. A stage that
// fails leaves the job failed with the error recorded; earlier stage outputs
// are kept so the job can be resumed with Rerun.
func (s *Service) Run(ctx context.Context, id uuid.UUID) (domain.Job, error) {
	job, err := s.repo.FindJobByID(ctx, s.db, id)
	if err != nil {
		return domain.Job{}, err
	}
	if job == nil {
		return domain.Job{}, domain.ErrJobNotFound
	}
	if job.Status == domain.StatusCompleted || job.Status == domain.StatusFailed {
		return *job, nil
	}

	ttl := s.cfg.StageTimeout * time.Duration(len(domain.Stages)+1)
	lease, err := s.locker.Acquire(ctx, lockKey(id), ttl)
	if errors.Is(err, ratelimit.ErrLockHeld) {
		return *job, domain.ErrJobBusy
	}
	if err != nil {
		return *job, err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("import lock release failed", zap.String("job_id", id.String()), zap.Error(err))
		}
	}()

	log := s.log.With(zap.String("job_id", id.String()), zap.String("data_type", string(job.DataType)))
	for _, stage := range domain.Stages[job.Stage.Index()+1:] {
		if stage == domain.StageApply && job.DryRun {
			break
		}
		job.Status = stage.Status()
		job.UpdatedAt = s.clock.Now()
		if err := s.repo.SaveJob(ctx, s.db, job); err != nil {
			return *job, err
		}

		started := time.Now()
		stageCtx, cancel := context.WithTimeout(ctx, s.cfg.StageTimeout)
		err := s.runStage(stageCtx, job, stage)
		cancel()
		if err != nil && ctx.Err() != nil {
			log.Info("import stage interrupted", zap.String("stage", string(stage)))
			return *job, ctx.Err()
		}
		if err != nil {
			log.Warn("import stage failed", zap.String("stage", string(stage)), zap.Error(err))
			return *job, s.fail(ctx, job, err)
		}
		job.Stage = stage
		job.UpdatedAt = s.clock.Now()
		if err := s.repo.SaveJob(ctx, s.db, job); err != nil {
			return *job, err
		}
		log.Debug("import stage finished", zap.String("stage", string(stage)), zap.Duration("took", time.Since(started)))
	}

	now := s.clock.Now()
	job.Status = domain.StatusCompleted
	job.CompletedAt = &now
	job.UpdatedAt = now
	if err := s.repo.SaveJob(ctx, s.db, job); err != nil {
		return *job, err
	}
	log.Info("import job completed",
		zap.Int("rows_total", job.RowsTotal),
		zap.Int("rows_valid", job.RowsValid),
		zap.Int("rows_invalid", job.RowsInvalid),
		zap.Int("rows_imported", job.RowsImported),
		zap.Bool("dry_run", job.DryRun),
	)
	return *job, nil
}

func (s *Service) fail(ctx context.Context, job *domain.Job, cause error) error {
	job.Status = domain.StatusFailed
	job.LastError = cause.Error()
	job.UpdatedAt = s.clock.Now()
	if err := s.repo.SaveJob(context.WithoutCancel(ctx), s.db, job); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (s *Service) runStage(ctx context.Context, job *domain.Job, stage domain.Stage) error {
	switch stage {
	case domain.StageParse:
		return s.parse(ctx, job)
	case domain.StageDetect:
		return s.detect(ctx, job)
	case domain.StageMap:
		return s.mapColumns(job)
	case domain.StageValidate:
		return s.validate(ctx, job)
	case domain.StageApply:
		return s.apply(ctx, job)
	}
	return domain.ErrInvalidStage
}

func (s *Service) parse(ctx context.Context, job *domain.Job) error {
	orig, err := s.repo.FindArtifact(ctx, s.db, job.ID, domain.ArtifactOriginal)
	if err != nil {
		return err
	}
	if orig == nil {
		return domain.ErrOriginalExpired
	}
	raw, err := openArtifact(orig)
	if err != nil {
		return err
	}
	table, err := tabular.Parse(job.FileName, raw)
	switch {
	case errors.Is(err, tabular.ErrEmpty):
		return domain.ErrEmptyFile
	case errors.Is(err, tabular.ErrUnsupported):
		return domain.ErrUnsupportedFile
	case err != nil:
		return err
	}

	rows := make([]parsedRow, 0, table.TotalRows())
	for i, cells := range table.Rows {
		rows = append(rows, parsedRow{Line: table.Lines[i], Cells: cells})
	}
	for _, m := range table.Malformed {
		rows = append(rows, parsedRow{Line: m.Line, Malformed: m.Reason})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Line < rows[j].Line })

	job.Format = string(table.Format)
	job.Encoding = table.Encoding
	job.Headers = datatypes.JSONSlice[string](table.Headers)
	job.RowsTotal = table.TotalRows()
	job.RowsMalformed = len(table.Malformed)
	payload, err := encodeNDJSON(rows)
	if err != nil {
		return err
	}
	return s.putArtifact(ctx, job.ID, domain.ArtifactRows, payload)
}

func (s *Service) detect(ctx context.Context, job *domain.Job) error {
	rows, err := s.loadRows(ctx, job.ID)
	if err != nil {
		return err
	}
	sample := make([][]string, 0, s.cfg.SampleRows)
	for _, r := range rows {
		if len(sample) == s.cfg.SampleRows {
			break
		}
		if r.Malformed == "" {
			sample = append(sample, r.Cells)
		}
	}
	detected := map[string]string{}
	for header, kind := range tabular.DetectTypes(job.Headers, sample) {
		detected[header] = string(kind)
	}
	job.DetectedTypes = datatypes.NewJSONType(detected)
	return nil
}

func (s *Service) mapColumns(job *domain.Job) error {
	if !job.MappingOverridden {
		job.Mapping = datatypes.NewJSONType(domain.SuggestMapping(job.DataType, job.Headers))
		return nil
	}
	return validateMapping(job.DataType, job.Headers, job.Mapping.Data())
}

func (s *Service) validator(ctx context.Context, job *domain.Job) (validator, []parsedRow, error) {
	a, err := s.repo.FindArtifact(ctx, s.db, job.ID, domain.ArtifactRows)
	if err != nil {
		return validator{}, nil, err
	}
	if a == nil {
		return validator{}, nil, domain.ErrStageUnavailable
	}
	rows, err := decodeRows(a)
	if err != nil {
		return validator{}, nil, err
	}
	ref := a.Checksum
	if len(ref) > 16 {
		ref = ref[:16]
	}
	return validator{
		dataType: job.DataType,
		headers:  job.Headers,
		mapping:  job.Mapping.Data(),
		horizon:  s.clock.Now().Add(s.cfg.FutureHorizon),
		refBase:  "import:" + ref,
	}, rows, nil
}

func (s *Service) validate(ctx context.Context, job *domain.Job) error {
	v, rows, err := s.validator(ctx, job)
	if err != nil {
		return err
	}
	report := make([]domain.RowOutcome, 0, len(rows))
	valid := 0
	for _, row := range rows {
		outcome, _ := v.check(row)
		if outcome.Valid {
			valid++
		}
		report = append(report, outcome)
	}
	job.RowsValid = valid
	job.RowsInvalid = len(rows) - valid
	s.metrics.AddImportRows(string(job.DataType), "valid", job.RowsValid)
	s.metrics.AddImportRows(string(job.DataType), "invalid", job.RowsInvalid)
	payload, err := encodeNDJSON(report)
	if err != nil {
		return err
	}
	return s.putArtifact(ctx, job.ID, domain.ArtifactReport, payload)
}

// apply writes valid rows in batches, one transaction each. A failed batch
// stops the job; batches already committed stay and are upserted again on a
// rerun.
func (s *Service) apply(ctx context.Context, job *domain.Job) error {
	v, rows, err := s.validator(ctx, job)
	if err != nil {
		return err
	}
	var records []record
	for _, row := range rows {
		if outcome, rec := v.check(row); outcome.Valid {
			records = append(records, rec)
		}
	}

	job.RowsImported = 0
	job.BatchesApplied = 0
	job.BatchesFailed = 0
	for start := 0; start < len(records); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(records))
		batch := records[start:end]

		var applied int
		err := db.WithRetry(ctx, s.db, func(tx *gorm.DB) error {
			n, err := s.applyBatch(ctx, tx, job, batch)
			applied = n
			return err
		})
		if err != nil {
			job.BatchesFailed++
			s.metrics.AddImportRows(string(job.DataType), "failed", len(batch))
			return fmt.Errorf("batch starting at row %d: %w", batch[0].line, err)
		}
		job.RowsImported += applied
		job.BatchesApplied++
		job.UpdatedAt = s.clock.Now()
		if err := s.repo.SaveJob(ctx, s.db, job); err != nil {
			return err
		}
	}
	s.metrics.AddImportRows(string(job.DataType), "imported", job.RowsImported)
	return nil
}

func (s *Service) applyBatch(ctx context.Context, tx *gorm.DB, job *domain.Job, batch []record) (int, error) {
	switch job.DataType {
	case domain.DataCarbon:
		rows := make([]carbondomain.ImportRow, len(batch))
		for i, r := range batch {
			rows[i] = r.carbon
		}
		return s.carbon.ApplyImport(ctx, tx, job.CompanyID, rows)
	case domain.DataEwaste:
		rows := make([]ewastedomain.ImportRow, len(batch))
		for i, r := range batch {
			rows[i] = r.ewaste
		}
		return s.ewaste.ApplyImport(ctx, tx, job.CompanyID, rows)
	case domain.DataOffsets:
		rows := make([]offsetdomain.ImportRow, len(batch))
		for i, r := range batch {
			rows[i] = r.offsets
		}
		return s.offsets.ApplyImport(ctx, tx, job.CompanyID, rows)
	}
	return 0, domain.ErrInvalidDataType
}

func (s *Service) loadRows(ctx context.Context, jobID uuid.UUID) ([]parsedRow, error) {
	a, err := s.repo.FindArtifact(ctx, s.db, jobID, domain.ArtifactRows)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, domain.ErrStageUnavailable
	}
	return decodeRows(a)
}

func decodeRows(a *domain.Artifact) ([]parsedRow, error) {
	raw, err := openArtifact(a)
	if err != nil {
		return nil, err
	}
	var rows []parsedRow
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		var r parsedRow
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return nil, fmt.Errorf("decode rows artifact: %w", err)
		}
		rows = append(rows, r)
	}
	return rows, sc.Err()
}

func (s *Service) putArtifact(ctx context.Context, jobID uuid.UUID, kind domain.ArtifactKind, payload []byte) error {
	blob := artifact.Seal(payload)
	return s.repo.PutArtifact(ctx, s.db, &domain.Artifact{
		ID:        uuid.Must(uuid.NewV7()),
		JobID:     jobID,
		Kind:      kind,
		Checksum:  blob.Checksum,
		Size:      blob.Size,
		Content:   blob.Content,
		CreatedAt: s.clock.Now(),
	})
}

func encodeNDJSON[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
