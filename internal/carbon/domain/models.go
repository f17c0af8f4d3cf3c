package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusVerified  Status = "verified"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusVerified:
		return true
	}
	return false
}

// Footprint is one company's emissions for a reporting period, in tCO2e.
type Footprint struct {
	ID                uuid.UUID        `gorm:"type:char(36);primaryKey" json:"id"`
	CompanyID         uuid.UUID        `gorm:"type:char(36);not null;uniqueIndex:ux_footprint_company_period,priority:1" json:"company_id"`
	ReportingPeriod   string           `gorm:"type:varchar(16);not null;uniqueIndex:ux_footprint_company_period,priority:2" json:"reporting_period"`
	PeriodStart       time.Time        `gorm:"not null;index" json:"period_start"`
	PeriodEnd         time.Time        `gorm:"not null" json:"period_end"`
	Scope1Emissions   decimal.Decimal  `gorm:"type:numeric(18,4);not null;default:0" json:"scope1_emissions"`
	Scope2Emissions   decimal.Decimal  `gorm:"type:numeric(18,4);not null;default:0" json:"scope2_emissions"`
	Scope3Emissions   decimal.Decimal  `gorm:"type:numeric(18,4);not null;default:0" json:"scope3_emissions"`
	TotalEmissions    decimal.Decimal  `gorm:"type:numeric(18,4);not null;default:0" json:"total_emissions"`
	Status            Status           `gorm:"type:varchar(16);not null;default:'draft'" json:"status"`
	Notes             string           `gorm:"type:text;not null" json:"notes"`
	AIValidationScore *decimal.Decimal `gorm:"type:numeric(5,2)" json:"ai_validation_score,omitempty"`
	AIValidatedAt     *time.Time       `json:"ai_validated_at,omitempty"`
	SubmittedAt       *time.Time       `json:"submitted_at,omitempty"`
	VerifiedAt        *time.Time       `json:"verified_at,omitempty"`
	OverrideAt        *time.Time       `json:"override_at,omitempty"`
	CreatedAt         time.Time        `gorm:"not null;index" json:"created_at"`
	UpdatedAt         time.Time        `gorm:"not null" json:"updated_at"`
}

func (Footprint) TableName() string { return "carbon_footprints" }

// Recompute derives the total from the scopes.
func (f *Footprint) Recompute() {
	f.TotalEmissions = f.Scope1Emissions.Add(f.Scope2Emissions).Add(f.Scope3Emissions)
}
