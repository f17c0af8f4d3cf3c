package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Kind string

const (
	KindMilestone        Kind = "milestone"
	KindWeeklySummary    Kind = "weekly_summary"
	KindMonthlyReport    Kind = "monthly_report"
	KindDataStale        Kind = "data_quality_stale"
	KindDataAnomaly      Kind = "data_quality_anomaly"
	KindRegulatoryUpdate Kind = "regulatory_update"
)

// Log is an append-only record of an emitted notification. DispatchedAt is
// set once delivery was attempted.
type Log struct {
	ID            uuid.UUID         `gorm:"type:char(36);primaryKey" json:"id"`
	CompanyID     uuid.UUID         `gorm:"type:char(36);not null;index:ix_notification_company_created,priority:1" json:"company_id"`
	Kind          Kind              `gorm:"type:varchar(32);not null" json:"kind"`
	Payload       datatypes.JSONMap `gorm:"type:json" json:"payload"`
	DispatchedAt  *time.Time        `gorm:"index" json:"dispatched_at,omitempty"`
	DeliveryError string            `gorm:"type:text;not null" json:"delivery_error,omitempty"`
	CreatedAt     time.Time         `gorm:"not null;index;index:ix_notification_company_created,priority:2" json:"created_at"`
}

func (Log) TableName() string { return "notification_logs" }

// Milestone marks a threshold a company has crossed. At most one row exists
// per (company, threshold).
type Milestone struct {
	ID             uuid.UUID       `gorm:"type:char(36);primaryKey" json:"id"`
	CompanyID      uuid.UUID       `gorm:"type:char(36);not null;uniqueIndex:ux_milestone_company_threshold,priority:1" json:"company_id"`
	Threshold      string          `gorm:"type:varchar(32);not null;uniqueIndex:ux_milestone_company_threshold,priority:2" json:"threshold"`
	TotalEmissions decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"total_emissions"`
	FootprintID    uuid.UUID       `gorm:"type:char(36);not null" json:"footprint_id"`
	CreatedAt      time.Time       `gorm:"not null" json:"created_at"`
}

func (Milestone) TableName() string { return "notification_milestones" }

type Threshold struct {
	Key    string
	Tonnes decimal.Decimal
}

// Thresholds are checked in ascending order.
var Thresholds = []Threshold{
	{Key: "first_100_tons", Tonnes: decimal.NewFromInt(100)},
	{Key: "first_500_tons", Tonnes: decimal.NewFromInt(500)},
	{Key: "first_1000_tons", Tonnes: decimal.NewFromInt(1000)},
	{Key: "first_5000_tons", Tonnes: decimal.NewFromInt(5000)},
	{Key: "first_10000_tons", Tonnes: decimal.NewFromInt(10000)},
}

const (
	LogRetention    = 180 * 24 * time.Hour
	StaleAfter      = 30 * 24 * time.Hour
	AnomalyWindow   = 90 * 24 * time.Hour
	AnomalyFactor   = 5
	AnomalyMinCount = 3
)
