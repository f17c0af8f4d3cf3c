package config

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed factors.yaml
var baselineFactors []byte

// Factors is the impact factor table used by the e-waste ledger and the
// carbon defaults calculator.
// FactorScale is the most decimal places a factor may carry.
const FactorScale int32 = 4

type Factors struct {
	Ewaste      map[string]decimal.Decimal
	Industry    map[string]decimal.Decimal
	PerEmployee ScopeBaseline
}

type ScopeBaseline struct {
	Scope1 decimal.Decimal
	Scope2 decimal.Decimal
	Scope3 decimal.Decimal
}

type rawFactors struct {
	Ewaste      map[string]string `yaml:"ewaste" mapstructure:"ewaste"`
	Industry    map[string]string `yaml:"industry" mapstructure:"industry"`
	PerEmployee struct {
		Scope1 string `yaml:"scope1" mapstructure:"scope1"`
		Scope2 string `yaml:"scope2" mapstructure:"scope2"`
		Scope3 string `yaml:"scope3" mapstructure:"scope3"`
	} `yaml:"per_employee" mapstructure:"per_employee"`
}

// DefaultFactors returns the table shipped with the binary.
func DefaultFactors() Factors {
	var doc struct {
		Factors rawFactors `yaml:"factors"`
	}
	if err := yaml.Unmarshal(baselineFactors, &doc); err != nil {
		panic(fmt.Sprintf("config: embedded factors: %v", err))
	}
	f, err := doc.Factors.parse()
	if err != nil {
		panic(fmt.Sprintf("config: embedded factors: %v", err))
	}
	return f
}

// FactorsHolder serves the current factor table. When FACTORS_FILE is set the
// file overrides the baseline and is reloaded on change.
type FactorsHolder struct {
	current atomic.Value // holds Factors
}

// NewStaticFactors returns a holder that never reloads.
func NewStaticFactors(f Factors) *FactorsHolder {
	h := &FactorsHolder{}
	h.current.Store(f)
	return h
}

func NewFactorsHolder(cfg Config, log *zap.Logger) (*FactorsHolder, error) {
	holder := NewStaticFactors(DefaultFactors())
	if cfg.FactorsFile == "" {
		return holder, nil
	}
	log = log.Named("config.factors")

	v := viper.New()
	v.SetConfigFile(cfg.FactorsFile)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidConfig, cfg.FactorsFile, err)
	}
	loaded, err := loadFactors(v, holder.Get())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	holder.current.Store(loaded)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := loadFactors(v, DefaultFactors())
		if err != nil {
			log.Warn("factor table reload ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("factor table reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *FactorsHolder) Get() Factors {
	return h.current.Load().(Factors)
}

// loadFactors overlays the file on base; keys absent from the file keep
// their baseline values.
func loadFactors(v *viper.Viper, base Factors) (Factors, error) {
	var raw rawFactors
	if err := v.UnmarshalKey("factors", &raw); err != nil {
		return Factors{}, err
	}
	parsed, err := raw.parseOver(base)
	if err != nil {
		return Factors{}, err
	}
	return parsed, nil
}

func (r rawFactors) parse() (Factors, error) {
	return r.parseOver(Factors{})
}

func (r rawFactors) parseOver(base Factors) (Factors, error) {
	out := Factors{
		Ewaste:      copyTable(base.Ewaste),
		Industry:    copyTable(base.Industry),
		PerEmployee: base.PerEmployee,
	}
	for key, value := range r.Ewaste {
		d, err := parseFactor("ewaste."+key, value)
		if err != nil {
			return Factors{}, err
		}
		out.Ewaste[strings.ToLower(strings.TrimSpace(key))] = d
	}
	for key, value := range r.Industry {
		d, err := parseFactor("industry."+key, value)
		if err != nil {
			return Factors{}, err
		}
		out.Industry[strings.ToLower(strings.TrimSpace(key))] = d
	}
	for name, value := range map[string]string{
		"scope1": r.PerEmployee.Scope1,
		"scope2": r.PerEmployee.Scope2,
		"scope3": r.PerEmployee.Scope3,
	} {
		if strings.TrimSpace(value) == "" {
			continue
		}
		d, err := parseFactor("per_employee."+name, value)
		if err != nil {
			return Factors{}, err
		}
		switch name {
		case "scope1":
			out.PerEmployee.Scope1 = d
		case "scope2":
			out.PerEmployee.Scope2 = d
		case "scope3":
			out.PerEmployee.Scope3 = d
		}
	}
	if len(out.Ewaste) == 0 {
		return Factors{}, errors.New("factors.ewaste cannot be empty")
	}
	if _, ok := out.Ewaste["other"]; !ok {
		return Factors{}, errors.New("factors.ewaste.other is required")
	}
	return out, nil
}

func parseFactor(key, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, fmt.Errorf("factors.%s: %w", key, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("factors.%s must not be negative", key)
	}
	if !d.Equal(d.Round(FactorScale)) {
		return decimal.Zero, fmt.Errorf("factors.%s has more than %d decimal places", key, FactorScale)
	}
	return d, nil
}

func copyTable(in map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
