// Package catalog holds the offset marketplace items shipped with the binary.
package catalog

import (
	_ "embed"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/greenledger/internal/offset/domain"
	"gopkg.in/yaml.v3"
)

//go:embed offsets.yaml
var offsetsYAML []byte

type item struct {
	Name                 string `yaml:"name"`
	OffsetType           string `yaml:"offset_type"`
	Category             string `yaml:"category"`
	VerificationStandard string `yaml:"verification_standard"`
	Description          string `yaml:"description"`
	PricePerTonne        string `yaml:"price_per_tonne"`
	CO2OffsetPerUnit     string `yaml:"co2_offset_per_unit"`
	AvailableQuantity    int64  `yaml:"available_quantity"`
}

// Offsets parses the packaged catalog.
func Offsets() ([]domain.OffsetInput, error) {
	return Parse(offsetsYAML)
}

func Parse(raw []byte) ([]domain.OffsetInput, error) {
	var doc struct {
		Offsets []item `yaml:"offsets"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse offset catalog: %w", err)
	}

	out := make([]domain.OffsetInput, 0, len(doc.Offsets))
	for _, it := range doc.Offsets {
		price, err := decimal.NewFromString(it.PricePerTonne)
		if err != nil {
			return nil, fmt.Errorf("offset %q price_per_tonne: %w", it.Name, err)
		}
		in := domain.OffsetInput{
			Name:                 it.Name,
			OffsetType:           it.OffsetType,
			Description:          it.Description,
			Category:             it.Category,
			VerificationStandard: it.VerificationStandard,
			PricePerTonne:        price,
			AvailableQuantity:    it.AvailableQuantity,
		}
		if it.CO2OffsetPerUnit != "" {
			ratio, err := decimal.NewFromString(it.CO2OffsetPerUnit)
			if err != nil {
				return nil, fmt.Errorf("offset %q co2_offset_per_unit: %w", it.Name, err)
			}
			in.CO2OffsetPerUnit = &ratio
		}
		out = append(out, in)
	}
	return out, nil
}
