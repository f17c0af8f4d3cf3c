// Package decimalx holds the decimal conventions shared by the ledgers.
package decimalx

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// EmissionScale is the stored scale of tCO2e values.
	EmissionScale int32 = 4
	// MoneyScale is the stored scale of monetary values.
	MoneyScale int32 = 2
	// WireScale is the fewest fractional digits a response carries.
	WireScale int32 = 2
	// CreditScale is the fewest fractional digits of offset credit tonnage.
	CreditScale int32 = 1
)

// Format renders d with at least minScale fractional digits, keeping any
// further significant digits up to the stored scale.
func Format(d decimal.Decimal, minScale int32) string {
	return pad(d.Round(EmissionScale).String(), minScale)
}

func pad(s string, minScale int32) string {
	dot := strings.IndexByte(s, '.')
	frac := int32(0)
	if dot >= 0 {
		frac = int32(len(s) - dot - 1)
	}
	if frac >= minScale {
		return s
	}
	if dot < 0 {
		s += "."
	}
	return s + strings.Repeat("0", int(minScale-frac))
}

// Emission rounds d to the emission scale.
func Emission(d decimal.Decimal) decimal.Decimal {
	return d.Round(EmissionScale)
}

// Money rounds d to the money scale.
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// Sum adds values.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Input is a decimal accepted from JSON as either a string or a number.
type Input struct {
	decimal.Decimal
	Set bool
}

func (in *Input) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		*in = Input{}
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("invalid decimal %q", raw)
	}
	in.Decimal = d
	in.Set = true
	return nil
}

// Ptr returns the value when set.
func (in Input) Ptr() *decimal.Decimal {
	if !in.Set {
		return nil
	}
	d := in.Decimal
	return &d
}
