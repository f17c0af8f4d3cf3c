package tabular

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type ColumnType string

const (
	TypeInteger ColumnType = "integer"
	TypeDecimal ColumnType = "decimal"
	TypeDate    ColumnType = "date"
	TypeString  ColumnType = "string"
	TypeBoolean ColumnType = "boolean"
)

// DateLayouts are the date forms accepted in uploads, tried in order.
var DateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006/01/02",
	"02/01/2006",
	"02.01.2006",
	"2 Jan 2006",
	"Jan 2, 2006",
}

// ParseDate reads s with the first matching layout, in UTC.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range DateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ParseBool accepts true/false and yes/no in any case.
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y":
		return true, true
	case "false", "no", "n":
		return false, true
	}
	return false, false
}

// Classify returns the narrowest type s fits.
func Classify(s string) ColumnType {
	s = strings.TrimSpace(s)
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return TypeInteger
	}
	if _, err := decimal.NewFromString(s); err == nil {
		return TypeDecimal
	}
	if _, ok := ParseBool(s); ok {
		return TypeBoolean
	}
	if _, ok := ParseDate(s); ok {
		return TypeDate
	}
	return TypeString
}

// DetectTypes votes per column over the non-empty cells of rows. Decimal wins
// a tie with integer; any other tie, and an empty column, is string.
func DetectTypes(headers []string, rows [][]string) map[string]ColumnType {
	out := make(map[string]ColumnType, len(headers))
	for col, h := range headers {
		votes := map[ColumnType]int{}
		for _, row := range rows {
			if col >= len(row) || strings.TrimSpace(row[col]) == "" {
				continue
			}
			votes[Classify(row[col])]++
		}
		out[h] = winner(votes)
	}
	return out
}

func winner(votes map[ColumnType]int) ColumnType {
	best := 0
	var leaders []ColumnType
	for _, t := range []ColumnType{TypeInteger, TypeDecimal, TypeDate, TypeBoolean, TypeString} {
		switch n := votes[t]; {
		case n == 0:
		case n > best:
			best = n
			leaders = []ColumnType{t}
		case n == best:
			leaders = append(leaders, t)
		}
	}
	switch {
	case len(leaders) == 1:
		return leaders[0]
	case len(leaders) == 2 && leaders[0] == TypeInteger && leaders[1] == TypeDecimal:
		return TypeDecimal
	default:
		return TypeString
	}
}
