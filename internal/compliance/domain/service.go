package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/greenledger/pkg/apperr"
	"github.com/smallbiznis/greenledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type DatapointInput struct {
	Code       string
	Name       string
	Standard   string
	Category   string
	Mandatory  bool
	Definition string
}

type SearchRequest struct {
	Query         string
	Standard      string
	MandatoryOnly bool
}

type AssessRequest struct {
	DatapointCode string           `json:"datapoint_code"`
	Status        AssessmentStatus `json:"status"`
	ValueText     *string          `json:"value_text"`
	ValueNumeric  *decimal.Decimal `json:"value_numeric"`
	EvidenceRef   string           `json:"evidence_ref"`
}

// AssessmentView joins an assessment with its datapoint code.
type AssessmentView struct {
	Assessment
	DatapointCode string `json:"datapoint_code"`
	Mandatory     bool   `json:"mandatory"`
}

type Progress struct {
	Total               int                      `json:"total"`
	ByStatus            map[AssessmentStatus]int `json:"by_status"`
	MandatoryTotal      int                      `json:"mandatory_total"`
	MandatoryCompleted  int                      `json:"mandatory_completed"`
	MandatoryCompletion decimal.Decimal          `json:"mandatory_completion_percent"`
}

type PublishRequest struct {
	Title         string    `json:"title"`
	Body          string    `json:"body"`
	EffectiveDate time.Time `json:"effective_date"`
	Severity      Severity  `json:"severity"`
}

// UpdateView is a regulatory update as seen by one user.
type UpdateView struct {
	RegulatoryUpdate
	Read bool `json:"read"`
}

type ListUpdatesResponse struct {
	PageInfo pagination.PageInfo `json:"page_info"`
	Updates  []UpdateView        `json:"updates"`
}

// SeedResult reports what a catalog seed changed.
type SeedResult struct {
	Created int `json:"created"`
	Revised int `json:"revised"`
}

// Administrator is a fan-out target for regulatory updates.
type Administrator struct {
	UserID    uuid.UUID
	CompanyID uuid.UUID
	Email     string
}

type AdminDirectory interface {
	Administrators(ctx context.Context) ([]Administrator, error)
}

// Notifier records and emits a notification within tx.
type Notifier interface {
	Notify(ctx context.Context, tx *gorm.DB, companyID uuid.UUID, kind string, payload map[string]any) error
}

type Service interface {
	SeedCatalog(ctx context.Context, items []DatapointInput) (SeedResult, error)
	// EnsureCatalog seeds the packaged catalog when the table is empty.
	EnsureCatalog(ctx context.Context) error
	Search(ctx context.Context, req SearchRequest) ([]Datapoint, error)
	GetDatapoint(ctx context.Context, code string) (Datapoint, error)

	Assess(ctx context.Context, req AssessRequest) (AssessmentView, error)
	ListAssessments(ctx context.Context) ([]AssessmentView, error)
	Progress(ctx context.Context) (Progress, error)
	CompanyProgress(ctx context.Context, companyID uuid.UUID) (Progress, error)

	Publish(ctx context.Context, req PublishRequest) (RegulatoryUpdate, error)
	ListUpdates(ctx context.Context, page pagination.Pagination) (ListUpdatesResponse, error)
	MarkRead(ctx context.Context, updateID uuid.UUID) error
}

var (
	ErrInvalidStatus        = apperr.Field("status", "invalid_status", "status is not a known assessment status")
	ErrInvalidValue         = apperr.Field("value", "invalid_value", "provide either value_text or value_numeric")
	ErrInvalidTitle         = apperr.Field("title", "invalid_title", "title is required")
	ErrInvalidSeverity      = apperr.Field("severity", "invalid_severity", "severity must be info, warning or critical")
	ErrInvalidEffectiveDate = apperr.Field("effective_date", "invalid_effective_date", "effective_date is required")
	ErrDatapointNotFound    = apperr.New(apperr.KindNotFound, "datapoint_not_found")
	ErrUpdateNotFound       = apperr.New(apperr.KindNotFound, "regulatory_update_not_found")
)
