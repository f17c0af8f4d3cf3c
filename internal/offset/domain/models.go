package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Offset is a marketplace item. One unit offsets CO2OffsetPerUnit tCO2e.
type Offset struct {
	ID                   uuid.UUID       `gorm:"type:char(36);primaryKey" json:"id"`
	Name                 string          `gorm:"size:255;not null;uniqueIndex" json:"name"`
	OffsetType           string          `gorm:"size:64;not null;default:''" json:"offset_type"`
	Description          string          `gorm:"type:text;not null" json:"description"`
	Category             string          `gorm:"type:varchar(64);not null;default:'';index" json:"category"`
	VerificationStandard string          `gorm:"type:varchar(64);not null;default:''" json:"verification_standard"`
	PricePerTonne        decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"price_per_tonne"`
	CO2OffsetPerUnit     decimal.Decimal `gorm:"column:co2_offset_per_unit;type:numeric(18,4);not null;default:1" json:"co2_offset_per_unit"`
	AvailableQuantity    int64           `gorm:"not null;default:0;check:available_quantity >= 0" json:"available_quantity"`
	// RetiredQuantity counts completed units whose purchases left with a
	// deleted company. They never return to stock.
	RetiredQuantity int64     `gorm:"not null;default:0" json:"retired_quantity"`
	CreatedAt       time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time `gorm:"not null" json:"updated_at"`
}

func (Offset) TableName() string { return "carbon_offsets" }

type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchaseCompleted PurchaseStatus = "completed"
	PurchaseCancelled PurchaseStatus = "cancelled"
)

func (s PurchaseStatus) Valid() bool {
	switch s {
	case PurchasePending, PurchaseCompleted, PurchaseCancelled:
		return true
	}
	return false
}

type Purchase struct {
	ID              uuid.UUID       `gorm:"type:char(36);primaryKey" json:"id"`
	CompanyID       uuid.UUID       `gorm:"type:char(36);not null;index;uniqueIndex:ux_purchase_company_ref,priority:1" json:"company_id"`
	OffsetID        uuid.UUID       `gorm:"type:char(36);not null;index" json:"offset_id"`
	ExternalRef     *string         `gorm:"type:varchar(128);uniqueIndex:ux_purchase_company_ref,priority:2" json:"external_ref,omitempty"`
	Quantity        int64           `gorm:"not null" json:"quantity"`
	TotalPrice      decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"total_price"`
	CO2OffsetAmount decimal.Decimal `gorm:"column:co2_offset_amount;type:numeric(18,4);not null" json:"co2_offset_amount"`
	Status          PurchaseStatus  `gorm:"type:varchar(16);not null;index" json:"status"`
	PurchasedAt     time.Time       `gorm:"not null" json:"purchased_at"`
	CompletedAt     *time.Time      `gorm:"index" json:"completed_at,omitempty"`
	CancelledAt     *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"not null" json:"updated_at"`
}

func (Purchase) TableName() string { return "offset_purchases" }

// Derive recomputes totals from the offset's current pricing.
func (p *Purchase) Derive(o Offset) {
	q := decimal.NewFromInt(p.Quantity)
	p.TotalPrice = q.Mul(o.PricePerTonne).Round(2)
	p.CO2OffsetAmount = q.Mul(o.CO2OffsetPerUnit).Round(4)
}

// CreditReversal records the retirement undone by cancelling a completed
// purchase.
type CreditReversal struct {
	ID              uuid.UUID       `gorm:"type:char(36);primaryKey" json:"id"`
	CompanyID       uuid.UUID       `gorm:"type:char(36);not null;index" json:"company_id"`
	PurchaseID      uuid.UUID       `gorm:"type:char(36);not null;uniqueIndex" json:"purchase_id"`
	OffsetID        uuid.UUID       `gorm:"type:char(36);not null" json:"offset_id"`
	Quantity        int64           `gorm:"not null" json:"quantity"`
	CO2OffsetAmount decimal.Decimal `gorm:"column:co2_offset_amount;type:numeric(18,4);not null" json:"co2_offset_amount"`
	Reason          string          `gorm:"type:text;not null" json:"reason"`
	CreatedAt       time.Time       `gorm:"not null" json:"created_at"`
}

func (CreditReversal) TableName() string { return "offset_credit_reversals" }
