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

type CreateFootprintRequest struct {
	ReportingPeriod string
	Scope1          decimal.Decimal
	Scope2          decimal.Decimal
	Scope3          decimal.Decimal
	Notes           string
}

// UpdateFootprintRequest carries the fields to change; nil leaves a field as-is.
type UpdateFootprintRequest struct {
	Scope1 *decimal.Decimal
	Scope2 *decimal.Decimal
	Scope3 *decimal.Decimal
	Notes  *string
}

type ListFootprintRequest struct {
	Status    Status
	Period    string
	PageToken string
	PageSize  int32
}

type ListFootprintResponse struct {
	PageInfo   pagination.PageInfo `json:"page_info"`
	Footprints []Footprint         `json:"footprints"`
}

// Aggregate sums footprints whose reporting period starts with the filter.
type Aggregate struct {
	PeriodFilter string                     `json:"period_filter"`
	Periods      int                        `json:"periods"`
	Scope1       decimal.Decimal            `json:"scope1"`
	Scope2       decimal.Decimal            `json:"scope2"`
	Scope3       decimal.Decimal            `json:"scope3"`
	Total        decimal.Decimal            `json:"total"`
	ByStatus     map[Status]int             `json:"by_status"`
	ByPeriod     map[string]decimal.Decimal `json:"by_period"`
}

type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type NetBalance struct {
	Window     Window          `json:"window"`
	Emissions  decimal.Decimal `json:"emissions"`
	Offsets    decimal.Decimal `json:"offsets"`
	Net        decimal.Decimal `json:"net"`
	Neutrality decimal.Decimal `json:"neutrality_percent"`
}

type DefaultsRequest struct {
	Industry  string
	Employees int
}

type Defaults struct {
	Industry string          `json:"industry"`
	Factor   decimal.Decimal `json:"factor"`
	Scope1   decimal.Decimal `json:"scope1"`
	Scope2   decimal.Decimal `json:"scope2"`
	Scope3   decimal.Decimal `json:"scope3"`
	Total    decimal.Decimal `json:"total"`
}

// ImportRow is one footprint written by the bulk importer.
type ImportRow struct {
	ReportingPeriod string
	Scope1          decimal.Decimal
	Scope2          decimal.Decimal
	Scope3          decimal.Decimal
	Notes           string
}

// OffsetLedger reports the tCO2e of completed offset purchases.
type OffsetLedger interface {
	CompletedOffsets(ctx context.Context, db *gorm.DB, companyID uuid.UUID, from, to time.Time) (decimal.Decimal, error)
}

type Service interface {
	Create(context.Context, CreateFootprintRequest) (Footprint, error)
	Update(ctx context.Context, id uuid.UUID, req UpdateFootprintRequest) (Footprint, error)
	Submit(ctx context.Context, id uuid.UUID) (Footprint, error)
	Verify(ctx context.Context, id uuid.UUID) (Footprint, error)
	Reopen(ctx context.Context, id uuid.UUID, reason string) (Footprint, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (Footprint, error)
	List(context.Context, ListFootprintRequest) (ListFootprintResponse, error)
	Latest(ctx context.Context) (*Footprint, error)
	CompanyAggregate(ctx context.Context, periodFilter string) (Aggregate, error)
	NetBalance(ctx context.Context, window *Window) (NetBalance, error)
	CalculateDefaults(ctx context.Context, req DefaultsRequest) (Defaults, error)
	RecordValidation(ctx context.Context, id uuid.UUID, score decimal.Decimal) error
	ApplyImport(ctx context.Context, tx *gorm.DB, companyID uuid.UUID, rows []ImportRow) (int, error)
}

var (
	ErrInvalidPeriod     = apperr.Field("reporting_period", "invalid_period", "reporting period must look like 2024-Q1, 2024-03 or 2024")
	ErrNegativeEmission  = apperr.New(apperr.KindValidation, "negative_emission")
	ErrInvalidStatus     = apperr.New(apperr.KindValidation, "invalid_status")
	ErrInvalidEmployees  = apperr.New(apperr.KindValidation, "invalid_employee_count")
	ErrInvalidScore      = apperr.New(apperr.KindValidation, "invalid_score")
	ErrInvalidWindow     = apperr.New(apperr.KindValidation, "invalid_window")
	ErrReasonRequired    = apperr.New(apperr.KindValidation, "reason_required")
	ErrPeriodExists      = apperr.New(apperr.KindInvalidState, "period_exists")
	ErrInvalidTransition = apperr.New(apperr.KindInvalidState, "invalid_transition")
	ErrImmutable         = apperr.New(apperr.KindImmutable, "footprint_verified")
	ErrNotFound          = apperr.New(apperr.KindNotFound, "footprint_not_found")
)
