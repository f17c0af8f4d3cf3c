package service

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	carbondomain "github.com/smallbiznis/greenledger/internal/carbon/domain"
	ewastedomain "github.com/smallbiznis/greenledger/internal/ewaste/domain"
	"github.com/smallbiznis/greenledger/internal/importer/domain"
	"github.com/smallbiznis/greenledger/internal/importer/tabular"
	offsetdomain "github.com/smallbiznis/greenledger/internal/offset/domain"
)

// parsedRow is one line of the rows artifact.
type parsedRow struct {
	Line      int      `json:"line"`
	Cells     []string `json:"cells,omitempty"`
	Malformed string   `json:"malformed,omitempty"`
}

// record is a validated row ready for one of the ledgers.
type record struct {
	line    int
	carbon  carbondomain.ImportRow
	ewaste  ewastedomain.ImportRow
	offsets offsetdomain.ImportRow
}

type validator struct {
	dataType domain.DataType
	headers  []string
	mapping  map[string]string
	horizon  time.Time
	refBase  string
}

func issue(field, code, message string) domain.FieldIssue {
	return domain.FieldIssue{Field: field, Code: code, Message: message}
}

// check validates one row. The returned record is only meaningful when the
// outcome is valid.
func (v validator) check(row parsedRow) (domain.RowOutcome, record) {
	out := domain.RowOutcome{Row: row.Line}
	if row.Malformed != "" {
		out.Errors = []domain.FieldIssue{issue("", "malformed_row", row.Malformed)}
		return out, record{}
	}

	values := map[string]string{}
	for i, h := range v.headers {
		target := v.mapping[h]
		if target == "" || i >= len(row.Cells) {
			continue
		}
		if cell := strings.TrimSpace(row.Cells[i]); cell != "" {
			values[target] = cell
		}
	}

	typed := map[string]any{}
	for _, f := range domain.Targets(v.dataType) {
		raw, ok := values[f.Name]
		if !ok {
			if f.Required {
				out.Errors = append(out.Errors, issue(f.Name, "required", f.Name+" is required"))
			}
			continue
		}
		val, problem := v.coerce(f, raw)
		if problem != nil {
			out.Errors = append(out.Errors, *problem)
			continue
		}
		typed[f.Name] = val
	}
	if len(out.Errors) > 0 {
		return out, record{}
	}
	out.Valid = true
	return out, v.build(row.Line, typed)
}

func (v validator) coerce(f domain.Field, raw string) (any, *domain.FieldIssue) {
	fail := func(code, message string) (any, *domain.FieldIssue) {
		fi := issue(f.Name, code, message)
		return nil, &fi
	}
	switch f.Kind {
	case domain.KindPeriod:
		label, start, _, err := carbondomain.ParsePeriod(raw)
		if err != nil {
			return fail("invalid_period", "reporting period must look like 2024-Q1, 2024-03 or 2024")
		}
		if start.After(v.horizon) {
			return fail("future_period", "reporting period starts in the future")
		}
		return label, nil
	case domain.KindNonNegative:
		d, err := decimal.NewFromString(strings.ReplaceAll(raw, " ", ""))
		if err != nil {
			return fail("invalid_decimal", "value must be a decimal number")
		}
		if d.IsNegative() {
			return fail("negative_value", "value must not be negative")
		}
		return d, nil
	case domain.KindPositiveInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			d, derr := decimal.NewFromString(raw)
			if derr != nil || !d.Equal(d.Truncate(0)) {
				return fail("invalid_integer", "value must be a whole number")
			}
			n = d.IntPart()
		}
		if n < 1 {
			return fail("invalid_quantity", "quantity must be at least 1")
		}
		return n, nil
	case domain.KindDate:
		t, ok := tabular.ParseDate(raw)
		if !ok {
			return fail("invalid_date", "date must look like 2024-03-31")
		}
		if t.After(v.horizon) {
			return fail("future_date", "date is in the future")
		}
		return t, nil
	case domain.KindDeviceType:
		d := ewastedomain.DeviceType(strings.ToLower(raw))
		if !d.Valid() {
			return fail("invalid_device_type", "device type is not recognised")
		}
		return d, nil
	case domain.KindEntryStatus:
		s := ewastedomain.Status(strings.ToLower(raw))
		if !s.Valid() {
			return fail("invalid_status", "status is not recognised")
		}
		return s, nil
	default:
		return raw, nil
	}
}

// ref is the natural key for rows that do not carry one, so re-applying a
// job upserts instead of duplicating.
func (v validator) ref(line int) string {
	return v.refBase + ":" + strconv.Itoa(line)
}

func (v validator) build(line int, typed map[string]any) record {
	str := func(k string) string { s, _ := typed[k].(string); return s }
	dec := func(k string) decimal.Decimal { d, _ := typed[k].(decimal.Decimal); return d }
	num := func(k string) int64 { n, _ := typed[k].(int64); return n }
	date := func(k string) time.Time { t, _ := typed[k].(time.Time); return t }

	rec := record{line: line}
	switch v.dataType {
	case domain.DataCarbon:
		rec.carbon = carbondomain.ImportRow{
			ReportingPeriod: str("reporting_period"),
			Scope1:          dec("scope1_emissions"),
			Scope2:          dec("scope2_emissions"),
			Scope3:          dec("scope3_emissions"),
			Notes:           str("notes"),
		}
	case domain.DataEwaste:
		ref := str("source_ref")
		if ref == "" {
			ref = v.ref(line)
		}
		status, _ := typed["status"].(ewastedomain.Status)
		device, _ := typed["device_type"].(ewastedomain.DeviceType)
		rec.ewaste = ewastedomain.ImportRow{
			SourceRef:    ref,
			DeviceType:   device,
			Quantity:     int(num("quantity")),
			WeightKg:     dec("weight_kg"),
			DonationDate: date("donation_date"),
			Status:       status,
		}
	case domain.DataOffsets:
		ref := str("external_ref")
		if ref == "" {
			ref = v.ref(line)
		}
		rec.offsets = offsetdomain.ImportRow{
			ExternalRef: ref,
			OffsetName:  str("offset_name"),
			Quantity:    num("quantity"),
			Date:        date("purchase_date"),
		}
	}
	return rec
}

// validateMapping checks that every target exists for dataType and is used
// at most once. Headers, when known, must appear in the file.
func validateMapping(dataType domain.DataType, headers []string, mapping map[string]string) error {
	known := map[string]bool{}
	for _, h := range headers {
		known[h] = true
	}
	used := map[string]bool{}
	for header, target := range mapping {
		if len(headers) > 0 && !known[header] {
			return domain.ErrInvalidMapping
		}
		if target == "" {
			continue
		}
		if _, ok := domain.TargetField(dataType, target); !ok || used[target] {
			return domain.ErrInvalidMapping
		}
		used[target] = true
	}
	return nil
}
