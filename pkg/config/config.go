// Package config loads the authkit configuration from an optional yaml
// file with environment variable overrides.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Listen string `yaml:"listen" env:"AUTHKIT_LISTEN"`
	// StorePath, when set, persists per-session auth state to files
	// below this directory instead of process memory.
	StorePath string       `yaml:"store_path" env:"AUTHKIT_STORE_PATH"`
	Kratos    KratosConfig `yaml:"kratos"`
	OAuth2    OAuth2Config `yaml:"oauth2"`
}

type KratosConfig struct {
	PublicURL string `yaml:"public_url" env:"KRATOS_PUBLIC_URL" validate:"required,url"`
}

type OAuth2Config struct {
	IssuerURL    string   `yaml:"issuer_url" env:"HYDRA_PUBLIC_URL" validate:"required,url"`
	ClientID     string   `yaml:"client_id" env:"OAUTH2_CLIENT_ID" validate:"required"`
	ClientSecret string   `yaml:"client_secret" env:"OAUTH2_CLIENT_SECRET"`
	RedirectURI  string   `yaml:"redirect_uri" env:"OAUTH2_REDIRECT_URI" validate:"required,url"`
	Scopes       []string `yaml:"scopes" env:"OAUTH2_SCOPES" envSeparator:" "`
	// ChallengeMethod is S256 unless explicitly degraded to plain.
	ChallengeMethod string `yaml:"challenge_method" env:"OAUTH2_CHALLENGE_METHOD" validate:"omitempty,oneof=S256 plain"`
	JwksURL         string `yaml:"jwks_url" env:"OAUTH2_JWKS_URL"`
}

func defaults() *Config {
	return &Config{
		Listen: "127.0.0.1:3000",
		Kratos: KratosConfig{
			PublicURL: "http://localhost:4433",
		},
		OAuth2: OAuth2Config{
			IssuerURL:       "http://localhost:4444",
			RedirectURI:     "http://localhost:3000/callback",
			Scopes:          []string{"openid", "offline"},
			ChallengeMethod: "S256",
		},
	}
}

// Load builds the configuration: defaults, then the yaml file at path
// if non-empty, then environment overrides, then validation.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		yamlData, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(yamlData, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
