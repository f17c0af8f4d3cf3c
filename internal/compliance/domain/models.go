package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AssessmentStatus string

const (
	StatusNotStarted    AssessmentStatus = "not_started"
	StatusInProgress    AssessmentStatus = "in_progress"
	StatusCompleted     AssessmentStatus = "completed"
	StatusNotApplicable AssessmentStatus = "not_applicable"
)

// AssessmentStatuses lists statuses in reporting order.
var AssessmentStatuses = []AssessmentStatus{StatusNotStarted, StatusInProgress, StatusCompleted, StatusNotApplicable}

func (s AssessmentStatus) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusCompleted, StatusNotApplicable:
		return true
	}
	return false
}

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// Datapoint is a single ESRS disclosure item.
type Datapoint struct {
	ID         uuid.UUID  `gorm:"type:char(36);primaryKey" json:"id"`
	Code       string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"code"`
	Name       string     `gorm:"type:text;not null" json:"name"`
	Standard   string     `gorm:"type:varchar(64);not null;index" json:"standard"`
	Category   string     `gorm:"type:text" json:"category"`
	Mandatory  bool       `gorm:"not null;default:false" json:"mandatory"`
	Definition string     `gorm:"type:text" json:"definition"`
	RevisedAt  *time.Time `json:"revised_at,omitempty"`
	CreatedAt  time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"not null" json:"updated_at"`
}

func (Datapoint) TableName() string { return "esrs_datapoints" }

// Assessment is a company's answer for one datapoint.
type Assessment struct {
	ID           uuid.UUID        `gorm:"type:char(36);primaryKey" json:"id"`
	CompanyID    uuid.UUID        `gorm:"type:char(36);not null;uniqueIndex:ux_assessment_company_datapoint" json:"company_id"`
	DatapointID  uuid.UUID        `gorm:"type:char(36);not null;uniqueIndex:ux_assessment_company_datapoint" json:"datapoint_id"`
	Status       AssessmentStatus `gorm:"type:text;not null" json:"status"`
	ValueText    *string          `gorm:"type:text" json:"value_text,omitempty"`
	ValueNumeric *decimal.Decimal `gorm:"type:numeric(18,4)" json:"value_numeric,omitempty"`
	EvidenceRef  string           `gorm:"type:text" json:"evidence_ref,omitempty"`
	AssessorID   uuid.UUID        `gorm:"type:char(36)" json:"assessor_id"`
	CreatedAt    time.Time        `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time        `gorm:"not null" json:"updated_at"`
}

func (Assessment) TableName() string { return "compliance_assessments" }

type RegulatoryUpdate struct {
	ID            uuid.UUID `gorm:"type:char(36);primaryKey" json:"id"`
	Title         string    `gorm:"type:text;not null" json:"title"`
	Body          string    `gorm:"type:text" json:"body"`
	EffectiveDate time.Time `gorm:"not null" json:"effective_date"`
	Severity      Severity  `gorm:"type:text;not null" json:"severity"`
	PublishedBy   uuid.UUID `gorm:"type:char(36)" json:"published_by"`
	CreatedAt     time.Time `gorm:"not null;index" json:"created_at"`
}

func (RegulatoryUpdate) TableName() string { return "regulatory_updates" }

// RegulatoryRead records that a user has read an update.
type RegulatoryRead struct {
	UpdateID uuid.UUID `gorm:"type:char(36);primaryKey"`
	UserID   uuid.UUID `gorm:"type:char(36);primaryKey;index"`
	ReadAt   time.Time `gorm:"not null"`
}

func (RegulatoryRead) TableName() string { return "regulatory_update_reads" }
