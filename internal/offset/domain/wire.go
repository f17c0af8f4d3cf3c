package domain

import (
	"encoding/json"

	"github.com/smallbiznis/greenledger/pkg/decimalx"
)

// Prices render at the money scale and credit tonnage at one decimal place
// at least, so ten units of 1.0 tCO2e read "10.0".

func (o Offset) MarshalJSON() ([]byte, error) {
	type plain Offset
	return json.Marshal(struct {
		plain
		PricePerTonne    string `json:"price_per_tonne"`
		CO2OffsetPerUnit string `json:"co2_offset_per_unit"`
	}{
		plain:            plain(o),
		PricePerTonne:    decimalx.Wire(o.PricePerTonne, decimalx.MoneyScale),
		CO2OffsetPerUnit: decimalx.Wire(o.CO2OffsetPerUnit, decimalx.CreditScale),
	})
}

func (p Purchase) MarshalJSON() ([]byte, error) {
	type plain Purchase
	return json.Marshal(struct {
		plain
		TotalPrice      string `json:"total_price"`
		CO2OffsetAmount string `json:"co2_offset_amount"`
	}{
		plain:           plain(p),
		TotalPrice:      decimalx.Wire(p.TotalPrice, decimalx.MoneyScale),
		CO2OffsetAmount: decimalx.Wire(p.CO2OffsetAmount, decimalx.CreditScale),
	})
}

func (r CreditReversal) MarshalJSON() ([]byte, error) {
	type plain CreditReversal
	return json.Marshal(struct {
		plain
		CO2OffsetAmount string `json:"co2_offset_amount"`
	}{
		plain:           plain(r),
		CO2OffsetAmount: decimalx.Wire(r.CO2OffsetAmount, decimalx.CreditScale),
	})
}
