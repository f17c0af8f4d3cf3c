package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DeviceType string

const (
	DeviceLaptop     DeviceType = "laptop"
	DeviceDesktop    DeviceType = "desktop"
	DeviceMonitor    DeviceType = "monitor"
	DeviceTablet     DeviceType = "tablet"
	DeviceSmartphone DeviceType = "smartphone"
	DevicePrinter    DeviceType = "printer"
	DeviceServer     DeviceType = "server"
	DeviceOther      DeviceType = "other"
)

var DeviceTypes = []DeviceType{
	DeviceLaptop, DeviceDesktop, DeviceMonitor, DeviceTablet,
	DeviceSmartphone, DevicePrinter, DeviceServer, DeviceOther,
}

func (d DeviceType) Valid() bool {
	for _, t := range DeviceTypes {
		if t == d {
			return true
		}
	}
	return false
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusCompleted Status = "completed"
)

// Rank orders statuses; transitions to a lower rank are demotions.
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusProcessed:
		return 2
	case StatusCompleted:
		return 3
	}
	return 0
}

func (s Status) Valid() bool { return s.Rank() > 0 }

// CreditRate is the share of avoided CO2 issued as credits.
var CreditRate = decimal.RequireFromString("0.8")

// WeightScale is the stored scale of weights. Factors carry at most four
// places, so co2_saved needs eight and credits nine; the derived columns
// are numeric(24,10).
const WeightScale int32 = 4

type Entry struct {
	ID               uuid.UUID       `gorm:"type:char(36);primaryKey" json:"id"`
	CompanyID        uuid.UUID       `gorm:"type:char(36);not null;index;uniqueIndex:ux_ewaste_company_source,priority:1" json:"company_id"`
	DeviceType       DeviceType      `gorm:"type:varchar(32);not null" json:"device_type"`
	Quantity         int             `gorm:"not null" json:"quantity"`
	WeightKg         decimal.Decimal `gorm:"type:numeric(18,4);not null;default:0" json:"weight_kg"`
	CO2Saved         decimal.Decimal `gorm:"column:co2_saved;type:numeric(24,10);not null;default:0" json:"co2_saved"`
	CreditsGenerated decimal.Decimal `gorm:"type:numeric(24,10);not null;default:0" json:"credits_generated"`
	Status           Status          `gorm:"type:varchar(16);not null;default:'pending'" json:"status"`
	DonationDate     time.Time       `gorm:"not null;index" json:"donation_date"`
	Recipient        string          `gorm:"size:255;not null;default:''" json:"recipient,omitempty"`
	Notes            string          `gorm:"type:text;not null" json:"notes,omitempty"`
	SourceRef        *string         `gorm:"type:varchar(128);uniqueIndex:ux_ewaste_company_source,priority:2" json:"source_ref,omitempty"`
	CreatedAt        time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"not null" json:"updated_at"`
}

func (Entry) TableName() string { return "ewaste_entries" }

// Impact is the derived outcome of diverting a batch of devices.
type Impact struct {
	DeviceType       DeviceType      `json:"device_type"`
	Quantity         int             `json:"quantity"`
	WeightKg         decimal.Decimal `json:"weight_kg"`
	Factor           decimal.Decimal `json:"factor"`
	CO2Saved         decimal.Decimal `json:"co2_saved"`
	CreditsGenerated decimal.Decimal `json:"credits_generated"`
}
