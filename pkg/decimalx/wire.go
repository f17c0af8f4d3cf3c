package decimalx

import "github.com/shopspring/decimal"

// Wire renders d for an API response. Every stored digit is kept and the
// fraction is padded to minScale, so 155 becomes "155.00" at scale 2.
func Wire(d decimal.Decimal, minScale int32) string {
	return pad(d.String(), minScale)
}

func WirePtr(d *decimal.Decimal, minScale int32) *string {
	if d == nil {
		return nil
	}
	s := Wire(*d, minScale)
	return &s
}

func WireMap[K comparable](m map[K]decimal.Decimal, minScale int32) map[K]string {
	if m == nil {
		return nil
	}
	out := make(map[K]string, len(m))
	for k, v := range m {
		out[k] = Wire(v, minScale)
	}
	return out
}
