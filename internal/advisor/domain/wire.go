package domain

import (
	"encoding/json"

	"github.com/smallbiznis/greenledger/pkg/decimalx"
)

func (s FactorSuggestion) MarshalJSON() ([]byte, error) {
	type plain FactorSuggestion
	return json.Marshal(struct {
		plain
		Factor string `json:"factor"`
	}{
		plain:  plain(s),
		Factor: decimalx.Wire(s.Factor, decimalx.WireScale),
	})
}
