package service

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/greenledger/internal/advisor/domain"
	carbondomain "github.com/smallbiznis/greenledger/internal/carbon/domain"
	identitydomain "github.com/smallbiznis/greenledger/internal/identity/domain"
)

const systemPrompt = `You are a carbon accounting analyst for small and medium companies.
Answer with a single JSON object and nothing else. Emission figures are in tCO2e.
Include a "confidence" field between 0 and 1.`

type footprintFacts struct {
	ReportingPeriod string          `json:"reporting_period"`
	Status          string          `json:"status"`
	Scope1          decimal.Decimal `json:"scope1"`
	Scope2          decimal.Decimal `json:"scope2"`
	Scope3          decimal.Decimal `json:"scope3"`
	Total           decimal.Decimal `json:"total"`
}

type companyFacts struct {
	Industry  string           `json:"industry"`
	Employees *int             `json:"employees,omitempty"`
	Baseline  *decimal.Decimal `json:"industry_baseline,omitempty"`
	Latest    *footprintFacts  `json:"latest_footprint,omitempty"`
}

func factsOf(fp *carbondomain.Footprint) *footprintFacts {
	if fp == nil {
		return nil
	}
	return &footprintFacts{
		ReportingPeriod: fp.ReportingPeriod,
		Status:          string(fp.Status),
		Scope1:          fp.Scope1Emissions,
		Scope2:          fp.Scope2Emissions,
		Scope3:          fp.Scope3Emissions,
		Total:           fp.TotalEmissions,
	}
}

func companyFactsOf(company identitydomain.Company, latest *carbondomain.Footprint, baseline *decimal.Decimal) companyFacts {
	return companyFacts{
		Industry:  company.Industry,
		Employees: company.EmployeeCount,
		Baseline:  baseline,
		Latest:    factsOf(latest),
	}
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func promptFor(op domain.Operation, facts any) string {
	switch op {
	case domain.OperationValidateEmissions:
		return fmt.Sprintf(`Review this carbon footprint for plausibility.
Return {"score": 0-100, "anomalies": [string], "recommendations": [string], "confidence": number}.

Footprint: %s`, mustJSON(facts))
	case domain.OperationBenchmark:
		return fmt.Sprintf(`Compare this company with peers of the same industry and size.
Return {"percentile": 0-100 where higher is better, "delta_vs_avg": percent difference from the peer average, "opportunities": [string], "confidence": number}.

Company: %s`, mustJSON(facts))
	case domain.OperationActionPlan:
		return fmt.Sprintf(`Draft a reduction plan for this company.
Return {"quick_wins": [string], "medium_term": [string], "long_term": [string], "confidence": number}.

Company: %s`, mustJSON(facts))
	case domain.OperationSuggestFactors:
		return fmt.Sprintf(`Pick the industry emission factor that best matches this activity.
Return {"best_match": string, "factor": number, "confidence": number}.

Activity: %s`, mustJSON(facts))
	}
	return mustJSON(facts)
}
