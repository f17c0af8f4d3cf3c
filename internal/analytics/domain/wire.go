package domain

import (
	"encoding/json"

	"github.com/smallbiznis/greenledger/pkg/decimalx"
)

func (e Emissions) MarshalJSON() ([]byte, error) {
	type plain Emissions
	return json.Marshal(struct {
		plain
		Scope1 string `json:"scope1"`
		Scope2 string `json:"scope2"`
		Scope3 string `json:"scope3"`
		Total  string `json:"total"`
	}{
		plain:  plain(e),
		Scope1: decimalx.Wire(e.Scope1, decimalx.WireScale),
		Scope2: decimalx.Wire(e.Scope2, decimalx.WireScale),
		Scope3: decimalx.Wire(e.Scope3, decimalx.WireScale),
		Total:  decimalx.Wire(e.Total, decimalx.WireScale),
	})
}

func (n Neutrality) MarshalJSON() ([]byte, error) {
	type plain Neutrality
	return json.Marshal(struct {
		plain
		Emissions string `json:"emissions"`
		Offsets   string `json:"offsets"`
		Net       string `json:"net"`
		Percent   string `json:"neutrality_percent"`
	}{
		plain:     plain(n),
		Emissions: decimalx.Wire(n.Emissions, decimalx.WireScale),
		Offsets:   decimalx.Wire(n.Offsets, decimalx.WireScale),
		Net:       decimalx.Wire(n.Net, decimalx.WireScale),
		Percent:   decimalx.Wire(n.Percent, decimalx.WireScale),
	})
}

func (e EwasteImpact) MarshalJSON() ([]byte, error) {
	type plain EwasteImpact
	return json.Marshal(struct {
		plain
		WeightKg         string `json:"weight_kg"`
		CO2Saved         string `json:"co2_saved"`
		CreditsGenerated string `json:"credits_generated"`
	}{
		plain:            plain(e),
		WeightKg:         decimalx.Wire(e.WeightKg, decimalx.WireScale),
		CO2Saved:         decimalx.Wire(e.CO2Saved, decimalx.WireScale),
		CreditsGenerated: decimalx.Wire(e.CreditsGenerated, decimalx.WireScale),
	})
}

func (d Dashboard) MarshalJSON() ([]byte, error) {
	type plain Dashboard
	return json.Marshal(struct {
		plain
		ComplianceCompletion string `json:"compliance_completion_percent"`
	}{
		plain:                plain(d),
		ComplianceCompletion: decimalx.Wire(d.ComplianceCompletion, decimalx.WireScale),
	})
}

func (p TrendPoint) MarshalJSON() ([]byte, error) {
	type plain TrendPoint
	return json.Marshal(struct {
		plain
		Scope1 string  `json:"scope1"`
		Scope2 string  `json:"scope2"`
		Scope3 string  `json:"scope3"`
		Total  string  `json:"total"`
		Change *string `json:"change_percent"`
	}{
		plain:  plain(p),
		Scope1: decimalx.Wire(p.Scope1, decimalx.WireScale),
		Scope2: decimalx.Wire(p.Scope2, decimalx.WireScale),
		Scope3: decimalx.Wire(p.Scope3, decimalx.WireScale),
		Total:  decimalx.Wire(p.Total, decimalx.WireScale),
		Change: decimalx.WirePtr(p.Change, decimalx.WireScale),
	})
}
