package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	carbondomain "github.com/smallbiznis/greenledger/internal/carbon/domain"
	ewastedomain "github.com/smallbiznis/greenledger/internal/ewaste/domain"
	"github.com/smallbiznis/greenledger/pkg/apperr"
)

type Emissions struct {
	Periods int             `json:"periods"`
	Scope1  decimal.Decimal `json:"scope1"`
	Scope2  decimal.Decimal `json:"scope2"`
	Scope3  decimal.Decimal `json:"scope3"`
	Total   decimal.Decimal `json:"total"`
}

type Neutrality struct {
	From      time.Time       `json:"from"`
	To        time.Time       `json:"to"`
	Emissions decimal.Decimal `json:"emissions"`
	Offsets   decimal.Decimal `json:"offsets"`
	Net       decimal.Decimal `json:"net"`
	Percent   decimal.Decimal `json:"neutrality_percent"`
}

type EwasteImpact struct {
	Entries          int             `json:"entries"`
	WeightKg         decimal.Decimal `json:"weight_kg"`
	CO2Saved         decimal.Decimal `json:"co2_saved"`
	CreditsGenerated decimal.Decimal `json:"credits_generated"`
}

type Dashboard struct {
	LatestFootprint      *carbondomain.Footprint `json:"latest_footprint"`
	Emissions            Emissions               `json:"emissions"`
	Neutrality           Neutrality              `json:"neutrality"`
	Ewaste               EwasteImpact            `json:"ewaste"`
	ComplianceCompletion decimal.Decimal         `json:"compliance_completion_percent"`
	GeneratedAt          time.Time               `json:"generated_at"`
}

type TrendRequest struct {
	Status carbondomain.Status `form:"status"`
	Limit  int                 `form:"limit"`
}

// TrendPoint is one reporting period. Change is the percent difference of
// the total from the previous point; nil on the first point or after a
// zero total.
type TrendPoint struct {
	ReportingPeriod string           `json:"reporting_period"`
	PeriodStart     time.Time        `json:"period_start"`
	Status          string           `json:"status"`
	Scope1          decimal.Decimal  `json:"scope1"`
	Scope2          decimal.Decimal  `json:"scope2"`
	Scope3          decimal.Decimal  `json:"scope3"`
	Total           decimal.Decimal  `json:"total"`
	Change          *decimal.Decimal `json:"change_percent"`
}

type Trends struct {
	Points []TrendPoint `json:"points"`
}

type Impact struct {
	Ewaste   EwasteImpact                 `json:"ewaste"`
	ByDevice []ewastedomain.DeviceSummary `json:"by_device"`
}

// Document is a rendered report ready to stream.
type Document struct {
	Filename    string
	ContentType string
	Content     []byte
}

type Service interface {
	Dashboard(ctx context.Context) (Dashboard, error)
	Trends(ctx context.Context, req TrendRequest) (Trends, error)
	Impact(ctx context.Context) (Impact, error)
	Report(ctx context.Context) (Document, error)
}

var ErrInvalidStatus = apperr.Field("status", "invalid_status", "status is not a known footprint status")
