package config

import "go.uber.org/fx"

var Module = fx.Module("config",
	fx.Provide(Provide),
	fx.Provide(NewFactorsHolder),
)

// Provide loads and validates configuration for fx.
func Provide() (Config, error) {
	cfg := Load()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
