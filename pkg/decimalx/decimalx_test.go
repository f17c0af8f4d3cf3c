package decimalx

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	cases := []struct {
		in       string
		minScale int32
		want     string
	}{
		{"155", 2, "155.00"},
		{"155.5", 2, "155.50"},
		{"10", 1, "10.0"},
		{"7.5", 2, "7.50"},
		{"0.12345", 2, "0.1235"},
		{"220.00", 2, "220.00"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, Format(decimal.RequireFromString(tc.in), tc.minScale))
		})
	}
}

func TestInputAcceptsStringsAndNumbers(t *testing.T) {
	var body struct {
		A Input `json:"a"`
		B Input `json:"b"`
		C Input `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"20.00","b":35.5}`), &body))
	assert.True(t, body.A.Equal(decimal.RequireFromString("20")))
	assert.True(t, body.B.Equal(decimal.RequireFromString("35.5")))
	assert.False(t, body.C.Set)
	assert.Nil(t, body.C.Ptr())

	assert.Error(t, json.Unmarshal([]byte(`{"a":"abc"}`), &body))
}

func TestWireKeepsStoredDigits(t *testing.T) {
	cases := []struct {
		in       string
		minScale int32
		want     string
	}{
		{"155", WireScale, "155.00"},
		{"155.0000", WireScale, "155.00"},
		{"0.37035", WireScale, "0.37035"},
		{"220", MoneyScale, "220.00"},
		{"10", CreditScale, "10.0"},
		{"-2.5", WireScale, "-2.50"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, Wire(decimal.RequireFromString(tc.in), tc.minScale))
		})
	}

	assert.Nil(t, WirePtr(nil, WireScale))
	half := decimal.RequireFromString("1.5")
	assert.Equal(t, "1.50", *WirePtr(&half, WireScale))
	assert.Equal(t, map[string]string{"2024-Q1": "40.00"}, WireMap(map[string]decimal.Decimal{"2024-Q1": decimal.NewFromInt(40)}, WireScale))
}
