package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/greenledger/internal/advisor/domain"
)

var errMalformed = errors.New("advisor: malformed response")

// defaultConfidence applies when the model omits one.
const defaultConfidence = 0.5

// extractJSON returns the outermost JSON object in text. Models sometimes
// wrap the object in prose or a fenced block.
func extractJSON(text string) ([]byte, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, errMalformed
	}
	return []byte(text[start : end+1]), nil
}

func decodeStrict(text string, out any) error {
	raw, err := extractJSON(text)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(out); err != nil {
		return errors.Join(errMalformed, err)
	}
	return nil
}

func confidence(v *float64) (float64, error) {
	if v == nil {
		return defaultConfidence, nil
	}
	if *v < 0 || *v > 1 {
		return 0, errMalformed
	}
	return *v, nil
}

func inRange(v *float64, lo, hi float64) bool {
	return v != nil && *v >= lo && *v <= hi
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func advisorMeta(c float64) domain.Meta {
	return domain.Meta{Confidence: c, Source: sourceAdvisor}
}

func parseValidation(text string) (domain.EmissionsValidation, error) {
	var raw struct {
		Score           *float64 `json:"score"`
		Anomalies       []string `json:"anomalies"`
		Recommendations []string `json:"recommendations"`
		Confidence      *float64 `json:"confidence"`
	}
	if err := decodeStrict(text, &raw); err != nil {
		return domain.EmissionsValidation{}, err
	}
	if !inRange(raw.Score, 0, 100) {
		return domain.EmissionsValidation{}, errMalformed
	}
	c, err := confidence(raw.Confidence)
	if err != nil {
		return domain.EmissionsValidation{}, err
	}
	return domain.EmissionsValidation{
		Score:           *raw.Score,
		Anomalies:       cleanList(raw.Anomalies),
		Recommendations: cleanList(raw.Recommendations),
		Meta:            advisorMeta(c),
	}, nil
}

func parseBenchmark(text string) (domain.Benchmark, error) {
	var raw struct {
		Percentile    *float64 `json:"percentile"`
		DeltaVsAvg    *float64 `json:"delta_vs_avg"`
		Opportunities []string `json:"opportunities"`
		Confidence    *float64 `json:"confidence"`
	}
	if err := decodeStrict(text, &raw); err != nil {
		return domain.Benchmark{}, err
	}
	if !inRange(raw.Percentile, 0, 100) || raw.DeltaVsAvg == nil {
		return domain.Benchmark{}, errMalformed
	}
	c, err := confidence(raw.Confidence)
	if err != nil {
		return domain.Benchmark{}, err
	}
	return domain.Benchmark{
		Percentile:    *raw.Percentile,
		DeltaVsAvg:    *raw.DeltaVsAvg,
		Opportunities: cleanList(raw.Opportunities),
		Meta:          advisorMeta(c),
	}, nil
}

func parseActionPlan(text string) (domain.ActionPlan, error) {
	var raw struct {
		QuickWins  []string `json:"quick_wins"`
		MediumTerm []string `json:"medium_term"`
		LongTerm   []string `json:"long_term"`
		Confidence *float64 `json:"confidence"`
	}
	if err := decodeStrict(text, &raw); err != nil {
		return domain.ActionPlan{}, err
	}
	plan := domain.ActionPlan{
		QuickWins:  cleanList(raw.QuickWins),
		MediumTerm: cleanList(raw.MediumTerm),
		LongTerm:   cleanList(raw.LongTerm),
	}
	if len(plan.QuickWins)+len(plan.MediumTerm)+len(plan.LongTerm) == 0 {
		return domain.ActionPlan{}, errMalformed
	}
	c, err := confidence(raw.Confidence)
	if err != nil {
		return domain.ActionPlan{}, err
	}
	plan.Meta = advisorMeta(c)
	return plan, nil
}

func parseSuggestion(text string) (domain.FactorSuggestion, error) {
	var raw struct {
		BestMatch  string           `json:"best_match"`
		Factor     *decimal.Decimal `json:"factor"`
		Confidence *float64         `json:"confidence"`
	}
	if err := decodeStrict(text, &raw); err != nil {
		return domain.FactorSuggestion{}, err
	}
	match := strings.TrimSpace(raw.BestMatch)
	if match == "" || raw.Factor == nil || raw.Factor.IsNegative() {
		return domain.FactorSuggestion{}, errMalformed
	}
	c, err := confidence(raw.Confidence)
	if err != nil {
		return domain.FactorSuggestion{}, err
	}
	return domain.FactorSuggestion{
		BestMatch: match,
		Factor:    *raw.Factor,
		Meta:      advisorMeta(c),
	}, nil
}
