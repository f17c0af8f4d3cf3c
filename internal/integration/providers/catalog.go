// Package providers holds the integration provider registry shipped with the
// binary and the environment-backed OAuth client credentials.
package providers

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/smallbiznis/greenledger/internal/config"
	"github.com/smallbiznis/greenledger/internal/integration/domain"
	"gopkg.in/yaml.v3"
)

//go:embed providers.yaml
var providersYAML []byte

const envPrefix = "INTEGRATION_"

type item struct {
	Name             string   `yaml:"name"`
	DisplayName      string   `yaml:"display_name"`
	Category         string   `yaml:"category"`
	AuthMethod       string   `yaml:"auth_method"`
	AuthURL          string   `yaml:"auth_url"`
	TokenURL         string   `yaml:"token_url"`
	APIBaseURL       string   `yaml:"api_base_url"`
	RecordsPath      string   `yaml:"records_path"`
	DataType         string   `yaml:"data_type"`
	Scopes           []string `yaml:"scopes"`
	SupportsWebhooks bool     `yaml:"supports_webhooks"`
	SupportsRealtime bool     `yaml:"supports_realtime"`
	Beta             bool     `yaml:"beta"`
	Active           bool     `yaml:"active"`
}

// Providers parses the packaged registry.
func Providers() ([]domain.ProviderInput, error) {
	return Parse(providersYAML)
}

func Parse(raw []byte) ([]domain.ProviderInput, error) {
	var doc struct {
		Providers []item `yaml:"providers"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse provider registry: %w", err)
	}

	out := make([]domain.ProviderInput, 0, len(doc.Providers))
	for _, it := range doc.Providers {
		in := domain.ProviderInput{
			Name:             normalizeName(it.Name),
			DisplayName:      strings.TrimSpace(it.DisplayName),
			Category:         domain.Category(strings.ToLower(it.Category)),
			AuthMethod:       domain.AuthMethod(strings.ToLower(it.AuthMethod)),
			AuthURL:          strings.TrimSpace(it.AuthURL),
			TokenURL:         strings.TrimSpace(it.TokenURL),
			APIBaseURL:       strings.TrimRight(strings.TrimSpace(it.APIBaseURL), "/"),
			RecordsPath:      strings.TrimSpace(it.RecordsPath),
			DataType:         strings.ToLower(strings.TrimSpace(it.DataType)),
			Scopes:           it.Scopes,
			SupportsWebhooks: it.SupportsWebhooks,
			SupportsRealtime: it.SupportsRealtime,
			Beta:             it.Beta,
			Active:           it.Active,
		}
		if in.Name == "" {
			return nil, errors.New("provider registry entry without name")
		}
		if !in.Category.Valid() {
			return nil, fmt.Errorf("provider %s: unknown category %q", in.Name, it.Category)
		}
		if !in.AuthMethod.Valid() {
			return nil, fmt.Errorf("provider %s: unknown auth method %q", in.Name, it.AuthMethod)
		}
		if in.AuthMethod == domain.AuthOAuth2 && (in.AuthURL == "" || in.TokenURL == "") {
			return nil, fmt.Errorf("provider %s: oauth2 needs auth_url and token_url", in.Name)
		}
		out = append(out, in)
	}
	return out, nil
}

func normalizeName(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	return strings.NewReplacer("-", "_", " ", "_").Replace(value)
}

// EnvCredentials reads OAuth client settings from the process environment.
type EnvCredentials struct {
	redirectBase string
	lookup       func(string) string
}

func NewEnvCredentials(cfg config.Config) domain.CredentialSource {
	return &EnvCredentials{redirectBase: cfg.Integration.RedirectBase, lookup: os.Getenv}
}

func (e *EnvCredentials) ClientCredentials(provider string) (domain.ClientCredentials, bool) {
	name := normalizeName(provider)
	prefix := envPrefix + strings.ToUpper(name) + "_"
	creds := domain.ClientCredentials{
		ClientID:     strings.TrimSpace(e.lookup(prefix + "CLIENT_ID")),
		ClientSecret: strings.TrimSpace(e.lookup(prefix + "CLIENT_SECRET")),
		RedirectURL:  strings.TrimSpace(e.lookup(prefix + "REDIRECT_URL")),
	}
	if creds.RedirectURL == "" {
		creds.RedirectURL = e.redirectBase + "/api/v1/integrations/oauth/callback?provider=" + name
	}
	return creds, creds.ClientID != ""
}
