// Package catalog holds the ESRS datapoint catalog shipped with the binary.
package catalog

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/smallbiznis/greenledger/internal/compliance/domain"
	"gopkg.in/yaml.v3"
)

//go:embed esrs.yaml
var esrsYAML []byte

type item struct {
	Code       string `yaml:"code"`
	Name       string `yaml:"name"`
	Standard   string `yaml:"standard"`
	Category   string `yaml:"category"`
	Mandatory  bool   `yaml:"mandatory"`
	Definition string `yaml:"definition"`
}

// Datapoints parses the packaged catalog.
func Datapoints() ([]domain.DatapointInput, error) {
	return Parse(esrsYAML)
}

func Parse(raw []byte) ([]domain.DatapointInput, error) {
	var doc struct {
		Datapoints []item `yaml:"datapoints"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse esrs catalog: %w", err)
	}

	seen := make(map[string]struct{}, len(doc.Datapoints))
	out := make([]domain.DatapointInput, 0, len(doc.Datapoints))
	for i, it := range doc.Datapoints {
		code := strings.ToUpper(strings.TrimSpace(it.Code))
		if code == "" {
			return nil, fmt.Errorf("esrs catalog entry %d has no code", i)
		}
		if _, dup := seen[code]; dup {
			return nil, fmt.Errorf("esrs catalog code %s is duplicated", code)
		}
		seen[code] = struct{}{}
		out = append(out, domain.DatapointInput{
			Code:       code,
			Name:       strings.TrimSpace(it.Name),
			Standard:   strings.TrimSpace(it.Standard),
			Category:   it.Category,
			Mandatory:  it.Mandatory,
			Definition: strings.TrimSpace(it.Definition),
		})
	}
	return out, nil
}
