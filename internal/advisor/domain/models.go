package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Operation string

const (
	OperationValidateEmissions Operation = "validate_emissions"
	OperationBenchmark         Operation = "benchmark"
	OperationActionPlan        Operation = "action_plan"
	OperationSuggestFactors    Operation = "suggest_factors"
)

const (
	OutcomeOK       = "ok"
	OutcomeFallback = "fallback"
)

// Fallback reasons.
const (
	ReasonUnconfigured = "unconfigured"
	ReasonTimeout      = "timeout"
	ReasonUpstream     = "upstream_error"
	ReasonTransport    = "transport_error"
	ReasonMalformed    = "malformed_response"
	ReasonRateLimited  = "rate_limited"
)

// WarningUnavailable marks a response built without the remote advisor.
const WarningUnavailable = "advisor_unavailable"

// Event records one advisor call.
type Event struct {
	ID        uuid.UUID `gorm:"type:char(36);primaryKey"`
	CompanyID uuid.UUID `gorm:"type:char(36);not null;index:idx_advisor_events_company_created,priority:1"`
	Operation Operation `gorm:"type:varchar(32);not null"`
	Outcome   string    `gorm:"type:varchar(16);not null"`
	Reason    string    `gorm:"type:varchar(32);not null;default:''"`
	LatencyMS int64     `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"not null;index:idx_advisor_events_company_created,priority:2"`
}

func (Event) TableName() string { return "advisor_events" }

// Meta is carried by every advisor response.
type Meta struct {
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
	Warning    string  `json:"warning,omitempty"`
}

type EmissionsValidation struct {
	Score           float64  `json:"score"`
	Anomalies       []string `json:"anomalies"`
	Recommendations []string `json:"recommendations"`
	Meta
}

type Benchmark struct {
	Percentile    float64  `json:"percentile"`
	DeltaVsAvg    float64  `json:"delta_vs_avg"`
	Opportunities []string `json:"opportunities"`
	Meta
}

type ActionPlan struct {
	QuickWins  []string `json:"quick_wins"`
	MediumTerm []string `json:"medium_term"`
	LongTerm   []string `json:"long_term"`
	Meta
}

type FactorSuggestion struct {
	BestMatch string          `json:"best_match"`
	Factor    decimal.Decimal `json:"factor"`
	Meta
}
