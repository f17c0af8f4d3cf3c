package domain

import (
	"sort"
	"strings"
	"unicode"
)

// FieldKind is the semantic type a target field coerces to.
type FieldKind string

const (
	KindPeriod      FieldKind = "period"
	KindNonNegative FieldKind = "non_negative_decimal"
	KindPositiveInt FieldKind = "positive_integer"
	KindDate        FieldKind = "date"
	KindDeviceType  FieldKind = "device_type"
	KindEntryStatus FieldKind = "entry_status"
	KindText        FieldKind = "text"
)

type Field struct {
	Name     string    `json:"name"`
	Kind     FieldKind `json:"kind"`
	Required bool      `json:"required"`
	Aliases  []string  `json:"-"`
}

var targets = map[DataType][]Field{
	DataCarbon: {
		{Name: "reporting_period", Kind: KindPeriod, Required: true, Aliases: []string{"period", "reporting period", "quarter", "fiscal period"}},
		{Name: "scope1_emissions", Kind: KindNonNegative, Required: true, Aliases: []string{"scope1", "scope 1", "direct emissions"}},
		{Name: "scope2_emissions", Kind: KindNonNegative, Required: true, Aliases: []string{"scope2", "scope 2", "energy emissions"}},
		{Name: "scope3_emissions", Kind: KindNonNegative, Required: true, Aliases: []string{"scope3", "scope 3", "value chain emissions"}},
		{Name: "notes", Kind: KindText, Aliases: []string{"note", "comment", "comments", "remarks"}},
	},
	DataEwaste: {
		{Name: "device_type", Kind: KindDeviceType, Required: true, Aliases: []string{"device", "type", "category", "item"}},
		{Name: "quantity", Kind: KindPositiveInt, Required: true, Aliases: []string{"qty", "count", "units", "number"}},
		{Name: "weight_kg", Kind: KindNonNegative, Required: true, Aliases: []string{"weight", "kg", "mass"}},
		{Name: "donation_date", Kind: KindDate, Required: true, Aliases: []string{"date", "donated", "collected", "collection date"}},
		{Name: "status", Kind: KindEntryStatus, Aliases: []string{"state"}},
		{Name: "source_ref", Kind: KindText, Aliases: []string{"reference", "ref", "id", "serial", "record id"}},
	},
	DataOffsets: {
		{Name: "offset_name", Kind: KindText, Required: true, Aliases: []string{"offset", "project", "name", "credit"}},
		{Name: "quantity", Kind: KindPositiveInt, Required: true, Aliases: []string{"qty", "tonnes", "units", "credits"}},
		{Name: "purchase_date", Kind: KindDate, Aliases: []string{"date", "purchased", "purchased at"}},
		{Name: "external_ref", Kind: KindText, Aliases: []string{"reference", "ref", "order", "order id", "id"}},
	},
}

// Targets returns the fields rows of d map onto.
func Targets(d DataType) []Field {
	return targets[d]
}

// TargetField looks up a field by name.
func TargetField(d DataType, name string) (Field, bool) {
	for _, f := range targets[d] {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

const minMatchScore = 0.5

// SuggestMapping maps each header to its best target field. Every target is
// used at most once; headers without a good match map to "".
func SuggestMapping(d DataType, headers []string) map[string]string {
	type candidate struct {
		header int
		target int
		score  float64
	}
	fields := targets[d]
	var cands []candidate
	for hi, h := range headers {
		for ti, f := range fields {
			if s := matchScore(h, f); s >= minMatchScore {
				cands = append(cands, candidate{header: hi, target: ti, score: s})
			}
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		if cands[i].header != cands[j].header {
			return cands[i].header < cands[j].header
		}
		return cands[i].target < cands[j].target
	})

	out := make(map[string]string, len(headers))
	for _, h := range headers {
		out[h] = ""
	}
	usedHeader := map[int]bool{}
	usedTarget := map[int]bool{}
	for _, c := range cands {
		if usedHeader[c.header] || usedTarget[c.target] {
			continue
		}
		usedHeader[c.header] = true
		usedTarget[c.target] = true
		out[headers[c.header]] = fields[c.target].Name
	}
	return out
}

func matchScore(header string, f Field) float64 {
	hTokens := tokens(header)
	if len(hTokens) == 0 {
		return 0
	}
	hc := strings.Join(hTokens, "")
	best := 0.0
	for _, cand := range append([]string{f.Name}, f.Aliases...) {
		cTokens := tokens(cand)
		cc := strings.Join(cTokens, "")
		var s float64
		switch {
		case hc == cc:
			s = 1
		case len(hc) >= 3 && strings.Contains(cc, hc), len(cc) >= 3 && strings.Contains(hc, cc):
			short, long := len(hc), len(cc)
			if short > long {
				short, long = long, short
			}
			s = 0.6 + 0.3*float64(short)/float64(long)
		default:
			s = 0.8 * jaccard(hTokens, cTokens)
		}
		if s > best {
			best = s
		}
	}
	return best
}

// tokens lowercases s and splits it on punctuation, spaces and letter/digit
// boundaries.
func tokens(s string) []string {
	var out []string
	var cur []rune
	var prev rune
	flush := func() {
		if len(cur) > 0 {
			out = append(out, string(cur))
			cur = cur[:0]
		}
	}
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if len(cur) > 0 && unicode.IsDigit(r) != unicode.IsDigit(prev) {
				flush()
			}
			cur = append(cur, r)
		default:
			flush()
		}
		prev = r
	}
	flush()
	return out
}

func jaccard(a, b []string) float64 {
	set := map[string]int{}
	for _, t := range a {
		set[t] |= 1
	}
	for _, t := range b {
		set[t] |= 2
	}
	if len(set) == 0 {
		return 0
	}
	both := 0
	for _, v := range set {
		if v == 3 {
			both++
		}
	}
	return float64(both) / float64(len(set))
}
