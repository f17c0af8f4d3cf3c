package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// CalculateImpact derives avoided CO2 and credits from the total weight of
// the batch. The weight is taken at its stored scale and the products are
// exact, so co2_saved = weight_kg x factor and credits = 0.8 x co2_saved
// hold digit for digit. It has no side effects.
func CalculateImpact(factors map[string]decimal.Decimal, device DeviceType, quantity int, weightKg decimal.Decimal) (Impact, error) {
	device = DeviceType(strings.ToLower(strings.TrimSpace(string(device))))
	if !device.Valid() {
		return Impact{}, ErrInvalidDeviceType
	}
	if quantity < 1 {
		return Impact{}, ErrInvalidQuantity
	}
	if weightKg.IsNegative() {
		return Impact{}, ErrInvalidWeight
	}

	factor, ok := factors[string(device)]
	if !ok {
		factor = factors[string(DeviceOther)]
	}
	weightKg = weightKg.Round(WeightScale)
	co2 := weightKg.Mul(factor)
	return Impact{
		DeviceType:       device,
		Quantity:         quantity,
		WeightKg:         weightKg,
		Factor:           factor,
		CO2Saved:         co2,
		CreditsGenerated: co2.Mul(CreditRate),
	}, nil
}
