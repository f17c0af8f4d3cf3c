package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	carbondomain "github.com/smallbiznis/greenledger/internal/carbon/domain"
	"github.com/smallbiznis/greenledger/internal/notification/domain"
	"github.com/smallbiznis/greenledger/pkg/db"
	"gorm.io/gorm"
)

func (s *Service) Milestones(ctx context.Context) (int, error) {
	return s.eachCompany(ctx, s.companyMilestones)
}

// companyMilestones records every threshold the latest footprint has
// crossed. The unique (company, threshold) row makes a crossing emit once
// no matter how many workers race on it.
func (s *Service) companyMilestones(ctx context.Context, companyID uuid.UUID) (int, error) {
	fp, err := s.repo.LatestFootprint(ctx, s.db, companyID)
	if err != nil || fp == nil {
		return 0, err
	}
	emitted := 0
	for _, th := range domain.Thresholds {
		if fp.TotalEmissions.LessThan(th.Tonnes) {
			break
		}
		var inserted bool
		err := db.WithRetry(ctx, s.db, func(tx *gorm.DB) error {
			var err error
			inserted, err = s.repo.InsertMilestone(ctx, tx, &domain.Milestone{
				ID:             uuid.Must(uuid.NewV7()),
				CompanyID:      companyID,
				Threshold:      th.Key,
				TotalEmissions: fp.TotalEmissions,
				FootprintID:    fp.ID,
				CreatedAt:      s.clock.Now(),
			})
			if err != nil || !inserted {
				return err
			}
			return s.record(ctx, tx, companyID, domain.KindMilestone, map[string]any{
				"milestone":        th.Key,
				"threshold_tonnes": th.Tonnes.String(),
				"total_emissions":  fp.TotalEmissions.StringFixed(2),
				"reporting_period": fp.ReportingPeriod,
				"footprint_id":     fp.ID.String(),
			})
		})
		if err != nil {
			return emitted, err
		}
		if inserted {
			emitted++
		}
	}
	return emitted, nil
}

type scopeTotals struct {
	count                  int
	scope1, scope2, scope3 decimal.Decimal
}

func sumFootprints(fps []carbondomain.Footprint) scopeTotals {
	t := scopeTotals{count: len(fps)}
	for _, fp := range fps {
		t.scope1 = t.scope1.Add(fp.Scope1Emissions)
		t.scope2 = t.scope2.Add(fp.Scope2Emissions)
		t.scope3 = t.scope3.Add(fp.Scope3Emissions)
	}
	return t
}

func (t scopeTotals) total() decimal.Decimal {
	return t.scope1.Add(t.scope2).Add(t.scope3)
}

// isoWeekStart returns Monday 00:00 UTC of the ISO week containing t.
func isoWeekStart(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func (s *Service) WeeklySummaries(ctx context.Context) (int, error) {
	start := isoWeekStart(s.clock.Now())
	end := start.AddDate(0, 0, 7)
	year, week := start.ISOWeek()
	label := fmt.Sprintf("%d-W%02d", year, week)

	return s.eachCompany(ctx, func(ctx context.Context, companyID uuid.UUID) (int, error) {
		fps, err := s.repo.FootprintsCreated(ctx, s.db, companyID, start, end)
		if err != nil || len(fps) == 0 {
			return 0, err
		}
		t := sumFootprints(fps)
		return 1, s.record(ctx, s.db, companyID, domain.KindWeeklySummary, map[string]any{
			"week":             label,
			"week_start":       start.Format(time.DateOnly),
			"footprints":       t.count,
			"scope1_emissions": t.scope1.StringFixed(2),
			"scope2_emissions": t.scope2.StringFixed(2),
			"scope3_emissions": t.scope3.StringFixed(2),
			"total_emissions":  t.total().StringFixed(2),
		})
	})
}

func (s *Service) MonthlyReports(ctx context.Context) (int, error) {
	now := s.clock.Now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	return s.eachCompany(ctx, func(ctx context.Context, companyID uuid.UUID) (int, error) {
		fps, err := s.repo.FootprintsCreated(ctx, s.db, companyID, start, end)
		if err != nil || len(fps) == 0 {
			return 0, err
		}
		t := sumFootprints(fps)
		return 1, s.record(ctx, s.db, companyID, domain.KindMonthlyReport, map[string]any{
			"month":            start.Format("2006-01"),
			"footprints":       t.count,
			"scope1_emissions": t.scope1.StringFixed(2),
			"scope2_emissions": t.scope2.StringFixed(2),
			"scope3_emissions": t.scope3.StringFixed(2),
			"total_emissions":  t.total().StringFixed(2),
		})
	})
}

func (s *Service) DataQuality(ctx context.Context) (int, error) {
	return s.eachCompany(ctx, s.companyDataQuality)
}

type anomaly struct {
	FootprintID     string `json:"footprint_id"`
	ReportingPeriod string `json:"reporting_period"`
	Scope           string `json:"scope"`
	Value           string `json:"value"`
	Mean            string `json:"mean"`
}

func (s *Service) companyDataQuality(ctx context.Context, companyID uuid.UUID) (int, error) {
	now := s.clock.Now()
	emitted := 0

	latest, err := s.repo.NewestFootprint(ctx, s.db, companyID)
	if err != nil {
		return 0, err
	}
	if latest != nil && now.Sub(latest.CreatedAt) > domain.StaleAfter {
		days := int(math.Floor(now.Sub(latest.CreatedAt).Hours() / 24))
		if err := s.record(ctx, s.db, companyID, domain.KindDataStale, map[string]any{
			"newest_footprint_id": latest.ID.String(),
			"newest_created_at":   latest.CreatedAt.UTC().Format(time.RFC3339),
			"days_since":          days,
		}); err != nil {
			return emitted, err
		}
		emitted++
	}

	window, err := s.repo.FootprintsCreated(ctx, s.db, companyID, now.Add(-domain.AnomalyWindow), now.Add(time.Nanosecond))
	if err != nil {
		return emitted, err
	}
	found := findAnomalies(window)
	if len(found) == 0 {
		return emitted, nil
	}
	if err := s.record(ctx, s.db, companyID, domain.KindDataAnomaly, map[string]any{
		"window_days": int(domain.AnomalyWindow.Hours() / 24),
		"count":       len(found),
		"anomalies":   found,
	}); err != nil {
		return emitted, err
	}
	return emitted + 1, nil
}

// findAnomalies flags scope values above AnomalyFactor times the mean of the
// same scope over the whole window, the flagged record included. Fewer than
// AnomalyMinCount records are never flagged.
func findAnomalies(fps []carbondomain.Footprint) []anomaly {
	if len(fps) < domain.AnomalyMinCount {
		return nil
	}
	scopes := []struct {
		name  string
		value func(carbondomain.Footprint) decimal.Decimal
	}{
		{"scope1", func(f carbondomain.Footprint) decimal.Decimal { return f.Scope1Emissions }},
		{"scope2", func(f carbondomain.Footprint) decimal.Decimal { return f.Scope2Emissions }},
		{"scope3", func(f carbondomain.Footprint) decimal.Decimal { return f.Scope3Emissions }},
	}
	factor := decimal.NewFromInt(domain.AnomalyFactor)
	count := decimal.NewFromInt(int64(len(fps)))

	var out []anomaly
	for _, sc := range scopes {
		sum := decimal.Zero
		for _, fp := range fps {
			sum = sum.Add(sc.value(fp))
		}
		mean := sum.Div(count)
		for _, fp := range fps {
			v := sc.value(fp)
			if mean.IsPositive() && v.GreaterThan(mean.Mul(factor)) {
				out = append(out, anomaly{
					FootprintID:     fp.ID.String(),
					ReportingPeriod: fp.ReportingPeriod,
					Scope:           sc.name,
					Value:           v.StringFixed(2),
					Mean:            mean.StringFixed(2),
				})
			}
		}
	}
	return out
}
