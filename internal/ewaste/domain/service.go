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

type CreateEntryRequest struct {
	DeviceType   DeviceType
	Quantity     int
	WeightKg     decimal.Decimal
	DonationDate time.Time
	Recipient    string
	Notes        string
}

type UpdateEntryRequest struct {
	DeviceType   *DeviceType
	Quantity     *int
	WeightKg     *decimal.Decimal
	DonationDate *time.Time
	Recipient    *string
	Notes        *string
}

type ListEntryRequest struct {
	DeviceType DeviceType
	Status     Status
	PageToken  string
	PageSize   int32
}

type ListEntryResponse struct {
	PageInfo pagination.PageInfo `json:"page_info"`
	Entries  []Entry             `json:"entries"`
}

type DeviceSummary struct {
	DeviceType       DeviceType      `json:"device_type"`
	Entries          int             `json:"entries"`
	Quantity         int             `json:"quantity"`
	WeightKg         decimal.Decimal `json:"weight_kg"`
	CO2Saved         decimal.Decimal `json:"co2_saved"`
	CreditsGenerated decimal.Decimal `json:"credits_generated"`
}

type Summary struct {
	Entries          int             `json:"entries"`
	Quantity         int             `json:"quantity"`
	WeightKg         decimal.Decimal `json:"weight_kg"`
	CO2Saved         decimal.Decimal `json:"co2_saved"`
	CreditsGenerated decimal.Decimal `json:"credits_generated"`
	ByDevice         []DeviceSummary `json:"by_device"`
}

// ImportRow is one entry written by the bulk importer. SourceRef, when set,
// is the natural key used for upserts.
type ImportRow struct {
	SourceRef    string
	DeviceType   DeviceType
	Quantity     int
	WeightKg     decimal.Decimal
	DonationDate time.Time
	Status       Status
}

type Service interface {
	CalculateImpact(device DeviceType, quantity int, weightKg decimal.Decimal) (Impact, error)
	Create(context.Context, CreateEntryRequest) (Entry, error)
	Update(ctx context.Context, id uuid.UUID, req UpdateEntryRequest) (Entry, error)
	SetStatus(ctx context.Context, id uuid.UUID, status Status) (Entry, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (Entry, error)
	List(context.Context, ListEntryRequest) (ListEntryResponse, error)
	Summary(ctx context.Context) (Summary, error)
	ApplyImport(ctx context.Context, tx *gorm.DB, companyID uuid.UUID, rows []ImportRow) (int, error)
}

var (
	ErrInvalidDeviceType = apperr.Field("device_type", "invalid_device_type", "device type is not recognised")
	ErrInvalidQuantity   = apperr.Field("quantity", "invalid_quantity", "quantity must be at least 1")
	ErrInvalidWeight     = apperr.Field("weight_kg", "invalid_weight", "weight must not be negative")
	ErrInvalidDate       = apperr.Field("donation_date", "invalid_donation_date", "donation date is required")
	ErrInvalidStatus     = apperr.Field("status", "invalid_status", "status is not recognised")
	ErrDemotion          = apperr.New(apperr.KindForbidden, "status_demotion")
	ErrCompleted         = apperr.New(apperr.KindImmutable, "entry_completed")
	ErrNotFound          = apperr.New(apperr.KindNotFound, "ewaste_entry_not_found")
)
