package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/greenledger/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateImpactLaptop(t *testing.T) {
	factors := config.DefaultFactors().Ewaste

	impact, err := CalculateImpact(factors, DeviceLaptop, 10, decimal.RequireFromString("25.0"))
	require.NoError(t, err)
	assert.True(t, impact.CO2Saved.Equal(decimal.RequireFromString("7.5")), impact.CO2Saved.String())
	assert.True(t, impact.CreditsGenerated.Equal(decimal.RequireFromString("6.0")), impact.CreditsGenerated.String())
}

func TestCalculateImpactIsPure(t *testing.T) {
	factors := config.DefaultFactors().Ewaste
	w := decimal.RequireFromString("3.3")

	a, err := CalculateImpact(factors, DeviceSmartphone, 4, w)
	require.NoError(t, err)
	b, err := CalculateImpact(factors, DeviceSmartphone, 4, w)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCalculateImpactFactorTable(t *testing.T) {
	factors := config.DefaultFactors().Ewaste
	weight := decimal.NewFromInt(100)
	want := map[DeviceType]string{
		DeviceLaptop:     "30",
		DeviceDesktop:    "25",
		DeviceMonitor:    "20",
		DeviceTablet:     "40",
		DeviceSmartphone: "50",
		DevicePrinter:    "15",
		DeviceServer:     "20",
		DeviceOther:      "20",
	}
	for device, co2 := range want {
		impact, err := CalculateImpact(factors, device, 1, weight)
		require.NoError(t, err, device)
		assert.True(t, impact.CO2Saved.Equal(decimal.RequireFromString(co2)), device)
		assert.True(t, impact.CreditsGenerated.Equal(impact.CO2Saved.Mul(CreditRate)), device)
	}
}

func TestCalculateImpactZeroWeight(t *testing.T) {
	impact, err := CalculateImpact(config.DefaultFactors().Ewaste, DeviceMonitor, 2, decimal.Zero)
	require.NoError(t, err)
	assert.True(t, impact.CO2Saved.IsZero())
	assert.True(t, impact.CreditsGenerated.IsZero())
}

func TestCalculateImpactValidation(t *testing.T) {
	factors := config.DefaultFactors().Ewaste

	_, err := CalculateImpact(factors, "toaster", 1, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrInvalidDeviceType)
	_, err = CalculateImpact(factors, DeviceLaptop, 0, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = CalculateImpact(factors, DeviceLaptop, 1, decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, ErrInvalidWeight)
}

func TestCalculateImpactUsesOverriddenTable(t *testing.T) {
	factors := map[string]decimal.Decimal{
		"laptop": decimal.RequireFromString("1.0"),
		"other":  decimal.RequireFromString("0.1"),
	}
	impact, err := CalculateImpact(factors, DeviceLaptop, 1, decimal.NewFromInt(2))
	require.NoError(t, err)
	assert.True(t, impact.CO2Saved.Equal(decimal.NewFromInt(2)))

	impact, err = CalculateImpact(factors, DeviceServer, 1, decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.True(t, impact.CO2Saved.Equal(decimal.NewFromInt(1)))
}

func TestCalculateImpactKeepsExactProducts(t *testing.T) {
	factors := config.DefaultFactors().Ewaste

	impact, err := CalculateImpact(factors, DeviceLaptop, 1, decimal.RequireFromString("1.2345"))
	require.NoError(t, err)
	assert.True(t, impact.CO2Saved.Equal(impact.WeightKg.Mul(impact.Factor)))
	assert.True(t, impact.CO2Saved.Equal(decimal.RequireFromString("0.37035")), impact.CO2Saved.String())
	assert.True(t, impact.CreditsGenerated.Equal(impact.CO2Saved.Mul(CreditRate)))
	assert.True(t, impact.CreditsGenerated.Equal(decimal.RequireFromString("0.29628")), impact.CreditsGenerated.String())

	body, err := json.Marshal(impact)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"co2_saved":"0.37035"`)
	assert.Contains(t, string(body), `"credits_generated":"0.29628"`)

	impact, err = CalculateImpact(factors, DeviceLaptop, 1, decimal.RequireFromString("1.23456"))
	require.NoError(t, err)
	assert.Equal(t, "1.2346", impact.WeightKg.String())
	assert.True(t, impact.CO2Saved.Equal(impact.WeightKg.Mul(impact.Factor)))
}
