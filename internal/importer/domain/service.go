package domain

import (
	"context"

	"github.com/google/uuid"
	"github.com/smallbiznis/greenledger/pkg/apperr"
	"github.com/smallbiznis/greenledger/pkg/db/pagination"
)

type CreateJobRequest struct {
	DataType DataType
	FileName string
	Content  []byte
	// Mapping, when set, replaces the suggested mapping.
	Mapping map[string]string
	// DryRun stops the pipeline after validation.
	DryRun bool
}

type ListJobsRequest struct {
	pagination.Pagination
	Status   Status   `form:"status"`
	DataType DataType `form:"data_type"`
}

type ListJobsResponse struct {
	PageInfo pagination.PageInfo `json:"page_info"`
	Jobs     []Job               `json:"jobs"`
}

type SuggestRequest struct {
	DataType DataType
	Headers  []string
}

type Suggestion struct {
	DataType DataType          `json:"data_type"`
	Mapping  map[string]string `json:"mapping"`
	Targets  []Field           `json:"targets"`
}

type Service interface {
	Create(context.Context, CreateJobRequest) (Job, error)
	Get(ctx context.Context, id uuid.UUID) (Job, error)
	List(context.Context, ListJobsRequest) (ListJobsResponse, error)
	// SetMapping overrides the mapping and reruns validation onward.
	SetMapping(ctx context.Context, id uuid.UUID, mapping map[string]string) (Job, error)
	// Rerun schedules stage and every later stage again.
	Rerun(ctx context.Context, id uuid.UUID, stage Stage) (Job, error)
	// Report returns the NDJSON validation report.
	Report(ctx context.Context, id uuid.UUID) ([]byte, error)
	Suggest(context.Context, SuggestRequest) (Suggestion, error)

	// Run executes the remaining stages of a job on the caller's goroutine.
	Run(ctx context.Context, id uuid.UUID) (Job, error)
	// Sweep drops stored originals past the retention window.
	Sweep(ctx context.Context) (int, error)
}

var (
	ErrJobNotFound      = apperr.New(apperr.KindNotFound, "import_job_not_found")
	ErrReportNotReady   = apperr.New(apperr.KindNotFound, "import_report_not_ready")
	ErrInvalidDataType  = apperr.Field("data_type", "invalid_data_type", "data type must be carbon, ewaste or offsets")
	ErrInvalidStage     = apperr.Field("stage", "invalid_stage", "stage must be parse, detect, map, validate or apply")
	ErrInvalidMapping   = apperr.Field("mapping", "invalid_mapping", "mapping targets must be known and used once")
	ErrEmptyFile        = apperr.Field("file", "empty_file", "file has no header row")
	ErrUnsupportedFile  = apperr.Field("file", "unsupported_file", "file must be csv, tsv or xlsx")
	ErrOriginalExpired  = apperr.New(apperr.KindInvalidState, "import_original_expired")
	ErrJobBusy          = apperr.New(apperr.KindInvalidState, "import_job_busy")
	ErrStageUnavailable = apperr.New(apperr.KindInvalidState, "import_stage_unavailable")
)
