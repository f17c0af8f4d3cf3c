package service

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/greenledger/internal/advisor/domain"
	carbondomain "github.com/smallbiznis/greenledger/internal/carbon/domain"
	"github.com/smallbiznis/greenledger/internal/config"
	identitydomain "github.com/smallbiznis/greenledger/internal/identity/domain"
)

const (
	sourceAdvisor = "advisor"
	sourceMock    = "mock"
)

func fallbackMeta() domain.Meta {
	return domain.Meta{Confidence: 0, Source: sourceMock, Warning: domain.WarningUnavailable}
}

type scopeAdvice struct {
	quick  []string
	medium []string
	long   []string
}

var adviceByScope = map[string]scopeAdvice{
	"scope1": {
		quick:  []string{"Tune boiler and HVAC schedules to occupancy"},
		medium: []string{"Move the vehicle fleet to hybrid or electric models"},
		long:   []string{"Replace on-site fossil heating with heat pumps"},
	},
	"scope2": {
		quick:  []string{"Switch idle equipment and lighting off outside working hours"},
		medium: []string{"Sign a renewable electricity tariff"},
		long:   []string{"Install on-site solar generation"},
	},
	"scope3": {
		quick:  []string{"Replace short-haul business flights with rail or video calls"},
		medium: []string{"Ask the top suppliers for their own emission data"},
		long:   []string{"Set supplier reduction targets in procurement contracts"},
	},
}

type scopeValue struct {
	name  string
	value decimal.Decimal
}

// scopesByWeight orders the scopes from largest to smallest.
func scopesByWeight(fp *carbondomain.Footprint) []scopeValue {
	if fp == nil {
		return []scopeValue{{name: "scope3"}, {name: "scope2"}, {name: "scope1"}}
	}
	scopes := []scopeValue{
		{name: "scope1", value: fp.Scope1Emissions},
		{name: "scope2", value: fp.Scope2Emissions},
		{name: "scope3", value: fp.Scope3Emissions},
	}
	sort.SliceStable(scopes, func(i, j int) bool {
		return scopes[i].value.GreaterThan(scopes[j].value)
	})
	return scopes
}

func mockValidation(fp carbondomain.Footprint) domain.EmissionsValidation {
	score := decimal.NewFromInt(100)
	anomalies := []string{}
	penalty := func(points int64, msg string) {
		score = score.Sub(decimal.NewFromInt(points))
		anomalies = append(anomalies, msg)
	}
	if fp.TotalEmissions.IsZero() {
		penalty(50, "no emissions reported for the period")
	} else {
		for _, sc := range []scopeValue{
			{name: "scope 1", value: fp.Scope1Emissions},
			{name: "scope 2", value: fp.Scope2Emissions},
			{name: "scope 3", value: fp.Scope3Emissions},
		} {
			if sc.value.IsZero() {
				penalty(10, sc.name+" is zero")
			}
		}
		if fp.Scope3Emissions.LessThan(fp.Scope1Emissions.Add(fp.Scope2Emissions)) {
			penalty(15, "scope 3 is smaller than scopes 1 and 2 combined and may be under-reported")
		}
	}
	if score.IsNegative() {
		score = decimal.Zero
	}

	ordered := scopesByWeight(&fp)
	recs := []string{}
	for _, sc := range ordered[:2] {
		recs = append(recs, adviceByScope[sc.name].quick...)
	}
	return domain.EmissionsValidation{
		Score:           score.InexactFloat64(),
		Anomalies:       anomalies,
		Recommendations: recs,
		Meta:            fallbackMeta(),
	}
}

// expectedEmissions is the industry baseline for the company's headcount.
// ok is false when the company has no headcount.
func expectedEmissions(company identitydomain.Company, factors config.Factors) (decimal.Decimal, bool) {
	if company.EmployeeCount == nil || *company.EmployeeCount <= 0 {
		return decimal.Zero, false
	}
	factor, ok := factors.Industry[strings.ToLower(company.Industry)]
	if !ok {
		factor = decimal.NewFromInt(1)
	}
	base := factors.PerEmployee
	perEmployee := base.Scope1.Add(base.Scope2).Add(base.Scope3)
	return perEmployee.Mul(factor).Mul(decimal.NewFromInt(int64(*company.EmployeeCount))), true
}

// mockBenchmark places the company against its industry baseline. A company
// emitting 20% below the baseline lands at the 60th percentile.
func mockBenchmark(company identitydomain.Company, latest *carbondomain.Footprint, factors config.Factors) domain.Benchmark {
	out := domain.Benchmark{Percentile: 50, Meta: fallbackMeta()}
	expected, ok := expectedEmissions(company, factors)
	if ok && latest != nil && expected.IsPositive() {
		delta := latest.TotalEmissions.Sub(expected).Div(expected).Mul(decimal.NewFromInt(100)).Round(2)
		percentile := decimal.NewFromInt(50).Sub(delta.Div(decimal.NewFromInt(2)))
		percentile = decimal.Max(decimal.NewFromInt(1), decimal.Min(decimal.NewFromInt(99), percentile)).Round(2)
		out.DeltaVsAvg = delta.InexactFloat64()
		out.Percentile = percentile.InexactFloat64()
	}
	for _, sc := range scopesByWeight(latest)[:2] {
		out.Opportunities = append(out.Opportunities, adviceByScope[sc.name].medium...)
	}
	return out
}

func mockActionPlan(latest *carbondomain.Footprint) domain.ActionPlan {
	plan := domain.ActionPlan{
		QuickWins:  []string{},
		MediumTerm: []string{},
		LongTerm:   []string{},
		Meta:       fallbackMeta(),
	}
	for _, sc := range scopesByWeight(latest) {
		advice := adviceByScope[sc.name]
		plan.QuickWins = append(plan.QuickWins, advice.quick...)
		plan.MediumTerm = append(plan.MediumTerm, advice.medium...)
		plan.LongTerm = append(plan.LongTerm, advice.long...)
	}
	return plan
}

// mockSuggestion picks the industry factor whose name appears in the
// industry or the description, falling back to "other".
func mockSuggestion(req domain.SuggestFactorsRequest, factors config.Factors) domain.FactorSuggestion {
	out := domain.FactorSuggestion{BestMatch: "other", Factor: decimal.NewFromInt(1), Meta: fallbackMeta()}
	if f, ok := factors.Industry["other"]; ok {
		out.Factor = f
	}

	industry := strings.ToLower(strings.TrimSpace(req.Industry))
	if f, ok := factors.Industry[industry]; ok {
		out.BestMatch, out.Factor = industry, f
		return out
	}
	keys := make([]string, 0, len(factors.Industry))
	for k := range factors.Industry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	text := strings.ToLower(req.Description + " " + req.Industry)
	for _, k := range keys {
		if k != "other" && strings.Contains(text, k) {
			out.BestMatch, out.Factor = k, factors.Industry[k]
			return out
		}
	}
	return out
}
