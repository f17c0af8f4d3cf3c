package domain

import (
	"encoding/json"

	"github.com/smallbiznis/greenledger/pkg/decimalx"
)

// Impact figures keep every stored digit; the scale only pads them.

func (e Entry) MarshalJSON() ([]byte, error) {
	type plain Entry
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

func (i Impact) MarshalJSON() ([]byte, error) {
	type plain Impact
	return json.Marshal(struct {
		plain
		WeightKg         string `json:"weight_kg"`
		Factor           string `json:"factor"`
		CO2Saved         string `json:"co2_saved"`
		CreditsGenerated string `json:"credits_generated"`
	}{
		plain:            plain(i),
		WeightKg:         decimalx.Wire(i.WeightKg, decimalx.WireScale),
		Factor:           decimalx.Wire(i.Factor, decimalx.WireScale),
		CO2Saved:         decimalx.Wire(i.CO2Saved, decimalx.WireScale),
		CreditsGenerated: decimalx.Wire(i.CreditsGenerated, decimalx.WireScale),
	})
}

func (d DeviceSummary) MarshalJSON() ([]byte, error) {
	type plain DeviceSummary
	return json.Marshal(struct {
		plain
		WeightKg         string `json:"weight_kg"`
		CO2Saved         string `json:"co2_saved"`
		CreditsGenerated string `json:"credits_generated"`
	}{
		plain:            plain(d),
		WeightKg:         decimalx.Wire(d.WeightKg, decimalx.WireScale),
		CO2Saved:         decimalx.Wire(d.CO2Saved, decimalx.WireScale),
		CreditsGenerated: decimalx.Wire(d.CreditsGenerated, decimalx.WireScale),
	})
}

func (s Summary) MarshalJSON() ([]byte, error) {
	type plain Summary
	return json.Marshal(struct {
		plain
		WeightKg         string `json:"weight_kg"`
		CO2Saved         string `json:"co2_saved"`
		CreditsGenerated string `json:"credits_generated"`
	}{
		plain:            plain(s),
		WeightKg:         decimalx.Wire(s.WeightKg, decimalx.WireScale),
		CO2Saved:         decimalx.Wire(s.CO2Saved, decimalx.WireScale),
		CreditsGenerated: decimalx.Wire(s.CreditsGenerated, decimalx.WireScale),
	})
}
