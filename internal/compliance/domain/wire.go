package domain

import (
	"encoding/json"

	"github.com/smallbiznis/greenledger/pkg/decimalx"
)

func (a Assessment) MarshalJSON() ([]byte, error) {
	type plain Assessment
	return json.Marshal(struct {
		plain
		ValueNumeric *string `json:"value_numeric,omitempty"`
	}{
		plain:        plain(a),
		ValueNumeric: decimalx.WirePtr(a.ValueNumeric, decimalx.WireScale),
	})
}

func (p Progress) MarshalJSON() ([]byte, error) {
	type plain Progress
	return json.Marshal(struct {
		plain
		MandatoryCompletion string `json:"mandatory_completion_percent"`
	}{
		plain:               plain(p),
		MandatoryCompletion: decimalx.Wire(p.MandatoryCompletion, decimalx.WireScale),
	})
}
