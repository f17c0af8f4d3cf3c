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

type OffsetFilter struct {
	Query                string
	Category             string
	VerificationStandard string
	MinPrice             *decimal.Decimal
	MaxPrice             *decimal.Decimal
	InStock              bool
}

type OffsetInput struct {
	Name                 string
	OffsetType           string
	Description          string
	Category             string
	VerificationStandard string
	PricePerTonne        decimal.Decimal
	CO2OffsetPerUnit     *decimal.Decimal
	AvailableQuantity    int64
}

type ListPurchaseRequest struct {
	Status    PurchaseStatus
	PageToken string
	PageSize  int32
}

type ListPurchaseResponse struct {
	PageInfo  pagination.PageInfo `json:"page_info"`
	Purchases []Purchase          `json:"purchases"`
}

type Service interface {
	ListOffsets(context.Context, OffsetFilter) ([]Offset, error)
	GetOffset(ctx context.Context, id uuid.UUID) (Offset, error)
	CreateOffset(context.Context, OffsetInput) (Offset, error)
	Restock(ctx context.Context, id uuid.UUID, delta int64) (Offset, error)
	SeedCatalog(ctx context.Context, items []OffsetInput) (int, error)

	Reserve(ctx context.Context, offsetID uuid.UUID, quantity int64) (Purchase, error)
	Complete(ctx context.Context, purchaseID uuid.UUID) (Purchase, error)
	Cancel(ctx context.Context, purchaseID uuid.UUID, reason string) (Purchase, error)
	GetPurchase(ctx context.Context, id uuid.UUID) (Purchase, error)
	ListPurchases(context.Context, ListPurchaseRequest) (ListPurchaseResponse, error)
	ListReversals(ctx context.Context) ([]CreditReversal, error)

	CompletedOffsets(ctx context.Context, db *gorm.DB, companyID uuid.UUID, from, to time.Time) (decimal.Decimal, error)
	ApplyImport(ctx context.Context, tx *gorm.DB, companyID uuid.UUID, rows []ImportRow) (int, error)
	DeleteCompanyData(ctx context.Context, tx *gorm.DB, companyID uuid.UUID) error
}

// ImportRow records a completed purchase made outside the marketplace
// checkout against a catalog item identified by name. ExternalRef keeps
// re-imports idempotent.
type ImportRow struct {
	ExternalRef string
	OffsetName  string
	Quantity    int64
	Date        time.Time
}

var (
	ErrInvalidQuantity = apperr.Field("quantity", "invalid_quantity", "quantity must be at least 1")
	ErrInvalidName     = apperr.Field("name", "invalid_name", "name is required")
	ErrInvalidPrice    = apperr.Field("price_per_tonne", "invalid_price", "price must not be negative")
	ErrInvalidRatio    = apperr.Field("co2_offset_per_unit", "invalid_offset_per_unit", "offset per unit must be positive")
	ErrInvalidStock    = apperr.Field("available_quantity", "invalid_stock", "available quantity must not be negative")
	ErrInvalidStatus   = apperr.Field("status", "invalid_status", "status is not recognised")
	ErrOutOfStock      = apperr.New(apperr.KindOutOfStock, "out_of_stock")
	ErrNameTaken       = apperr.New(apperr.KindInvalidState, "offset_name_taken")
	ErrNotPending      = apperr.New(apperr.KindInvalidState, "purchase_not_pending")
	ErrAlreadyCanceled = apperr.New(apperr.KindInvalidState, "purchase_cancelled")
	ErrOffsetNotFound  = apperr.New(apperr.KindNotFound, "offset_not_found")
	ErrNotFound        = apperr.New(apperr.KindNotFound, "purchase_not_found")
)
