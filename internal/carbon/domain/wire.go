package domain

import (
	"encoding/json"

	"github.com/smallbiznis/greenledger/pkg/decimalx"
)

// MarshalJSON renders the scopes at a fixed scale and reports the total
// under both "total" and "total_emissions".
func (f Footprint) MarshalJSON() ([]byte, error) {
	type plain Footprint
	return json.Marshal(struct {
		plain
		Scope1            string  `json:"scope1_emissions"`
		Scope2            string  `json:"scope2_emissions"`
		Scope3            string  `json:"scope3_emissions"`
		Total             string  `json:"total"`
		TotalEmissions    string  `json:"total_emissions"`
		AIValidationScore *string `json:"ai_validation_score,omitempty"`
	}{
		plain:             plain(f),
		Scope1:            decimalx.Wire(f.Scope1Emissions, decimalx.WireScale),
		Scope2:            decimalx.Wire(f.Scope2Emissions, decimalx.WireScale),
		Scope3:            decimalx.Wire(f.Scope3Emissions, decimalx.WireScale),
		Total:             decimalx.Wire(f.TotalEmissions, decimalx.WireScale),
		TotalEmissions:    decimalx.Wire(f.TotalEmissions, decimalx.WireScale),
		AIValidationScore: decimalx.WirePtr(f.AIValidationScore, decimalx.WireScale),
	})
}

func (a Aggregate) MarshalJSON() ([]byte, error) {
	type plain Aggregate
	return json.Marshal(struct {
		plain
		Scope1   string            `json:"scope1"`
		Scope2   string            `json:"scope2"`
		Scope3   string            `json:"scope3"`
		Total    string            `json:"total"`
		ByPeriod map[string]string `json:"by_period"`
	}{
		plain:    plain(a),
		Scope1:   decimalx.Wire(a.Scope1, decimalx.WireScale),
		Scope2:   decimalx.Wire(a.Scope2, decimalx.WireScale),
		Scope3:   decimalx.Wire(a.Scope3, decimalx.WireScale),
		Total:    decimalx.Wire(a.Total, decimalx.WireScale),
		ByPeriod: decimalx.WireMap(a.ByPeriod, decimalx.WireScale),
	})
}

func (n NetBalance) MarshalJSON() ([]byte, error) {
	type plain NetBalance
	return json.Marshal(struct {
		plain
		Emissions  string `json:"emissions"`
		Offsets    string `json:"offsets"`
		Net        string `json:"net"`
		Neutrality string `json:"neutrality_percent"`
	}{
		plain:      plain(n),
		Emissions:  decimalx.Wire(n.Emissions, decimalx.WireScale),
		Offsets:    decimalx.Wire(n.Offsets, decimalx.WireScale),
		Net:        decimalx.Wire(n.Net, decimalx.WireScale),
		Neutrality: decimalx.Wire(n.Neutrality, decimalx.WireScale),
	})
}

func (d Defaults) MarshalJSON() ([]byte, error) {
	type plain Defaults
	return json.Marshal(struct {
		plain
		Factor string `json:"factor"`
		Scope1 string `json:"scope1"`
		Scope2 string `json:"scope2"`
		Scope3 string `json:"scope3"`
		Total  string `json:"total"`
	}{
		plain:  plain(d),
		Factor: decimalx.Wire(d.Factor, decimalx.WireScale),
		Scope1: decimalx.Wire(d.Scope1, decimalx.WireScale),
		Scope2: decimalx.Wire(d.Scope2, decimalx.WireScale),
		Scope3: decimalx.Wire(d.Scope3, decimalx.WireScale),
		Total:  decimalx.Wire(d.Total, decimalx.WireScale),
	})
}
