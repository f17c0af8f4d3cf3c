package service

import (
	"fmt"

	"github.com/smallbiznis/greenledger/internal/notification/domain"
)

type formatter func(payload map[string]any) (title, summary string)

func str(payload map[string]any, key string) string {
	if v, ok := payload[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

var formatters = map[domain.Kind]formatter{
	domain.KindMilestone: func(p map[string]any) (string, string) {
		return "Emissions milestone reached",
			fmt.Sprintf("Reported emissions passed %s tCO2e (period %s, total %s).", str(p, "threshold_tonnes"), str(p, "reporting_period"), str(p, "total_emissions"))
	},
	domain.KindWeeklySummary: func(p map[string]any) (string, string) {
		return "Weekly emissions summary",
			fmt.Sprintf("%s footprint(s) recorded in %s, totalling %s tCO2e.", str(p, "footprints"), str(p, "week"), str(p, "total_emissions"))
	},
	domain.KindMonthlyReport: func(p map[string]any) (string, string) {
		return "Monthly emissions report",
			fmt.Sprintf("%s: scope 1 %s, scope 2 %s, scope 3 %s tCO2e.", str(p, "month"), str(p, "scope1_emissions"), str(p, "scope2_emissions"), str(p, "scope3_emissions"))
	},
	domain.KindDataStale: func(p map[string]any) (string, string) {
		return "Emissions data is out of date",
			fmt.Sprintf("No footprint recorded for %s days.", str(p, "days_since"))
	},
	domain.KindDataAnomaly: func(p map[string]any) (string, string) {
		return "Unusual emissions values",
			fmt.Sprintf("%s value(s) exceed five times the recent average.", str(p, "count"))
	},
	domain.KindRegulatoryUpdate: func(p map[string]any) (string, string) {
		return "Regulatory update: " + str(p, "title"),
			fmt.Sprintf("Effective %s.", str(p, "effective_date"))
	},
}

func format(msg *domain.Message) error {
	f, ok := formatters[msg.Kind]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownKind, msg.Kind)
	}
	msg.Title, msg.Summary = f(msg.Payload)
	return nil
}
