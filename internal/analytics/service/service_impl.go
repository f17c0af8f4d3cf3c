package service

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/greenledger/internal/analytics/domain"
	"github.com/smallbiznis/greenledger/internal/analytics/report"
	"github.com/smallbiznis/greenledger/internal/authorization"
	carbondomain "github.com/smallbiznis/greenledger/internal/carbon/domain"
	"github.com/smallbiznis/greenledger/internal/clock"
	compliancedomain "github.com/smallbiznis/greenledger/internal/compliance/domain"
	ewastedomain "github.com/smallbiznis/greenledger/internal/ewaste/domain"
	identitydomain "github.com/smallbiznis/greenledger/internal/identity/domain"
	"github.com/smallbiznis/greenledger/internal/tenant"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultTrendLimit = 24
	maxTrendLimit     = 120
)

var hundred = decimal.NewFromInt(100)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Authz      *authorization.Authorizer
	Carbon     carbondomain.Service
	Ewaste     ewastedomain.Service
	Compliance compliancedomain.Service
	Identity   identitydomain.Service `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	authz      *authorization.Authorizer
	carbon     carbondomain.Service
	ewaste     ewastedomain.Service
	compliance compliancedomain.Service
	identity   identitydomain.Service
	renderer   *report.PDF
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("analytics.service"),
		clock:      p.Clock,
		authz:      p.Authz,
		carbon:     p.Carbon,
		ewaste:     p.Ewaste,
		compliance: p.Compliance,
		identity:   p.Identity,
		renderer:   report.New(),
	}
}

func (s *Service) principal(ctx context.Context) (tenant.Principal, error) {
	p, err := tenant.RequireCompany(ctx)
	if err != nil {
		return tenant.Principal{}, err
	}
	if err := s.authz.Require(p.Role, authorization.FeatureAnalyticsRead); err != nil {
		return tenant.Principal{}, err
	}
	return p, nil
}

func (s *Service) Dashboard(ctx context.Context) (domain.Dashboard, error) {
	if _, err := s.principal(ctx); err != nil {
		return domain.Dashboard{}, err
	}

	latest, err := s.carbon.Latest(ctx)
	if err != nil {
		return domain.Dashboard{}, err
	}
	agg, err := s.carbon.CompanyAggregate(ctx, "")
	if err != nil {
		return domain.Dashboard{}, err
	}
	balance, err := s.carbon.NetBalance(ctx, nil)
	if err != nil {
		return domain.Dashboard{}, err
	}
	summary, err := s.ewaste.Summary(ctx)
	if err != nil {
		return domain.Dashboard{}, err
	}
	progress, err := s.compliance.Progress(ctx)
	if err != nil {
		return domain.Dashboard{}, err
	}

	return domain.Dashboard{
		LatestFootprint: latest,
		Emissions: domain.Emissions{
			Periods: agg.Periods,
			Scope1:  agg.Scope1,
			Scope2:  agg.Scope2,
			Scope3:  agg.Scope3,
			Total:   agg.Total,
		},
		Neutrality: domain.Neutrality{
			From:      balance.Window.From,
			To:        balance.Window.To,
			Emissions: balance.Emissions,
			Offsets:   balance.Offsets,
			Net:       balance.Net,
			Percent:   balance.Neutrality,
		},
		Ewaste:               ewasteImpact(summary),
		ComplianceCompletion: progress.MandatoryCompletion,
		GeneratedAt:          s.clock.Now(),
	}, nil
}

type trendRow struct {
	ReportingPeriod string
	PeriodStart     time.Time
	Status          string
	Scope1          decimal.Decimal
	Scope2          decimal.Decimal
	Scope3          decimal.Decimal
	Total           decimal.Decimal
}

// Trends returns the most recent periods in chronological order.
func (s *Service) Trends(ctx context.Context, req domain.TrendRequest) (domain.Trends, error) {
	p, err := s.principal(ctx)
	if err != nil {
		return domain.Trends{}, err
	}
	if req.Status != "" && !req.Status.Valid() {
		return domain.Trends{}, domain.ErrInvalidStatus
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultTrendLimit
	}
	if limit > maxTrendLimit {
		limit = maxTrendLimit
	}

	query := `
		SELECT
			reporting_period,
			period_start,
			status,
			scope1_emissions AS scope1,
			scope2_emissions AS scope2,
			scope3_emissions AS scope3,
			total_emissions AS total
		FROM carbon_footprints
		WHERE company_id = ?`
	args := []any{p.CompanyID}
	if req.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(req.Status))
	}
	query += ` ORDER BY period_start DESC LIMIT ?`
	args = append(args, limit)

	var rows []trendRow
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return domain.Trends{}, err
	}
	slices.Reverse(rows)

	points := make([]domain.TrendPoint, 0, len(rows))
	for i, row := range rows {
		point := domain.TrendPoint{
			ReportingPeriod: row.ReportingPeriod,
			PeriodStart:     row.PeriodStart.UTC(),
			Status:          row.Status,
			Scope1:          row.Scope1,
			Scope2:          row.Scope2,
			Scope3:          row.Scope3,
			Total:           row.Total,
		}
		if i > 0 {
			point.Change = percentChange(rows[i-1].Total, row.Total)
		}
		points = append(points, point)
	}
	return domain.Trends{Points: points}, nil
}

func (s *Service) Impact(ctx context.Context) (domain.Impact, error) {
	if _, err := s.principal(ctx); err != nil {
		return domain.Impact{}, err
	}
	summary, err := s.ewaste.Summary(ctx)
	if err != nil {
		return domain.Impact{}, err
	}
	byDevice := summary.ByDevice
	if byDevice == nil {
		byDevice = []ewastedomain.DeviceSummary{}
	}
	return domain.Impact{
		Ewaste:   ewasteImpact(summary),
		ByDevice: byDevice,
	}, nil
}

// Report renders the dashboard, the trend table and the device breakdown
// as a PDF.
func (s *Service) Report(ctx context.Context) (domain.Document, error) {
	p, err := s.principal(ctx)
	if err != nil {
		return domain.Document{}, err
	}
	dashboard, err := s.Dashboard(ctx)
	if err != nil {
		return domain.Document{}, err
	}
	trends, err := s.Trends(ctx, domain.TrendRequest{})
	if err != nil {
		return domain.Document{}, err
	}
	impact, err := s.Impact(ctx)
	if err != nil {
		return domain.Document{}, err
	}

	data := report.Data{
		Dashboard: dashboard,
		Trends:    trends.Points,
		Devices:   impact.ByDevice,
	}
	if s.identity != nil {
		company, err := s.identity.GetCompany(ctx, p.CompanyID)
		if err != nil {
			return domain.Document{}, err
		}
		data.CompanyName = company.Name
		data.Industry = company.Industry
	}

	content, err := s.renderer.Render(ctx, data)
	if err != nil {
		return domain.Document{}, err
	}
	s.log.Info("esg report rendered",
		zap.String("company_id", p.CompanyID.String()),
		zap.Int("periods", len(trends.Points)),
		zap.Int("bytes", len(content)),
	)
	return domain.Document{
		Filename:    "esg-report-" + dashboard.GeneratedAt.Format("20060102") + ".pdf",
		ContentType: "application/pdf",
		Content:     content,
	}, nil
}

func ewasteImpact(summary ewastedomain.Summary) domain.EwasteImpact {
	return domain.EwasteImpact{
		Entries:          summary.Entries,
		WeightKg:         summary.WeightKg,
		CO2Saved:         summary.CO2Saved,
		CreditsGenerated: summary.CreditsGenerated,
	}
}

func percentChange(prev, cur decimal.Decimal) *decimal.Decimal {
	if prev.IsZero() {
		return nil
	}
	change := cur.Sub(prev).Div(prev).Mul(hundred).Round(2)
	return &change
}
