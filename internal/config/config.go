// Package config loads the function configuration from defaults, an optional
// YAML file and the environment. Command-line flags are applied by main.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AptLogic/CloudLAPS/internal/errl"
	"github.com/AptLogic/CloudLAPS/internal/graph"
	"github.com/AptLogic/CloudLAPS/internal/identity"
	"github.com/AptLogic/CloudLAPS/internal/rotation"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "CLOUDLAPS_"

const (
	DefaultPort         = "8080"
	DefaultFunctionName = "RotateSecurityIdentifier"
	DefaultTimeout      = 30 * time.Second
)

// Secret is a string that never prints its value.
type Secret string

func (s Secret) String() string   { return "[REDACTED]" }
func (s Secret) GoString() string { return "[REDACTED]" }

func (s Secret) LogValue() slog.Value {
	if s == "" {
		return slog.StringValue("")
	}
	return slog.StringValue("[REDACTED]")
}

// Config is the configuration of the function host
type Config struct {
	Port         string `yaml:"port"`
	FunctionName string `yaml:"function_name"`
	// FunctionKeyHash is the bcrypt hash of the key callers must present.
	FunctionKeyHash string          `yaml:"function_key_hash"`
	Debug           bool            `yaml:"debug"`
	Rotation        RotationConfig  `yaml:"rotation"`
	Identity        IdentityConfig  `yaml:"identity"`
	Directory       DirectoryConfig `yaml:"directory"`
}

type RotationConfig struct {
	Platform            string `yaml:"platform"`
	IdentifierAttribute string `yaml:"identifier_attribute"`
	ExpirationAttribute string `yaml:"expiration_attribute"`
}

type IdentityConfig struct {
	Mode         string `yaml:"mode"`
	Resource     string `yaml:"resource"`
	ClientID     string `yaml:"client_id"`
	Endpoint     string `yaml:"endpoint"`
	Secret       Secret `yaml:"secret"`
	TenantID     string `yaml:"tenant_id"`
	ClientSecret Secret `yaml:"client_secret"`
	TokenURL     string `yaml:"token_url"`
}

type DirectoryConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIVersion string        `yaml:"api_version"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Port:         DefaultPort,
		FunctionName: DefaultFunctionName,
		Rotation: RotationConfig{
			Platform:            rotation.DefaultPlatform,
			IdentifierAttribute: rotation.DefaultIdentifierAttribute,
			ExpirationAttribute: rotation.DefaultExpirationAttribute,
		},
		Identity: IdentityConfig{
			Mode:     identity.ModeManagedIdentity,
			Resource: identity.DefaultResource,
		},
		Directory: DirectoryConfig{
			BaseURL:    graph.DefaultBaseURL,
			APIVersion: graph.DefaultAPIVersion,
			Timeout:    DefaultTimeout,
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path, if path is
// not empty, and then with the process environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto c. Unknown keys are rejected.
func (c *Config) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errl.Errorf("failed to read configuration file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return errl.Errorf("invalid configuration file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays environment variables onto c, using lookup to read them.
// The Functions host variables FUNCTIONS_CUSTOMHANDLER_PORT, IDENTITY_ENDPOINT
// and IDENTITY_HEADER are honoured, and the prefixed variables win over them.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, names ...string) {
		for _, name := range names {
			if v, ok := lookup(name); ok && v != "" {
				*dst = v
			}
		}
	}
	setSecret := func(dst *Secret, names ...string) {
		s := string(*dst)
		set(&s, names...)
		*dst = Secret(s)
	}

	set(&c.Port, "FUNCTIONS_CUSTOMHANDLER_PORT", EnvPrefix+"PORT")
	set(&c.FunctionName, EnvPrefix+"FUNCTION_NAME")
	set(&c.FunctionKeyHash, EnvPrefix+"FUNCTION_KEY_HASH")
	if v, ok := lookup(EnvPrefix + "DEBUG"); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			c.Debug = b
		} else {
			slog.Warn("Ignoring invalid boolean", "variable", EnvPrefix+"DEBUG", "value", v)
		}
	}

	set(&c.Rotation.Platform, EnvPrefix+"PLATFORM")
	set(&c.Rotation.IdentifierAttribute, EnvPrefix+"IDENTIFIER_ATTRIBUTE")
	set(&c.Rotation.ExpirationAttribute, EnvPrefix+"EXPIRATION_ATTRIBUTE")

	set(&c.Identity.Mode, EnvPrefix+"IDENTITY_MODE")
	set(&c.Identity.Resource, EnvPrefix+"IDENTITY_RESOURCE")
	set(&c.Identity.ClientID, EnvPrefix+"IDENTITY_CLIENT_ID")
	set(&c.Identity.Endpoint, "IDENTITY_ENDPOINT", EnvPrefix+"IDENTITY_ENDPOINT")
	setSecret(&c.Identity.Secret, "IDENTITY_HEADER", EnvPrefix+"IDENTITY_SECRET")
	set(&c.Identity.TenantID, EnvPrefix+"TENANT_ID")
	setSecret(&c.Identity.ClientSecret, EnvPrefix+"CLIENT_SECRET")
	set(&c.Identity.TokenURL, EnvPrefix+"TOKEN_URL")

	set(&c.Directory.BaseURL, EnvPrefix+"GRAPH_URL")
	set(&c.Directory.APIVersion, EnvPrefix+"GRAPH_API_VERSION")
	if v, ok := lookup(EnvPrefix + "GRAPH_TIMEOUT"); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Directory.Timeout = d
		} else {
			slog.Warn("Ignoring invalid duration", "variable", EnvPrefix+"GRAPH_TIMEOUT", "value", v)
		}
	}
}

// Validate checks that c is complete for its identity mode.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errl.Errorf("port is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return errl.Errorf("invalid port %q", c.Port)
	}
	if c.FunctionName == "" || strings.ContainsAny(c.FunctionName, "/ ") {
		return errl.Errorf("invalid function name %q", c.FunctionName)
	}
	if c.Rotation.Platform == "" {
		return errl.Errorf("rotation.platform is required")
	}
	if c.Rotation.IdentifierAttribute == "" || c.Rotation.ExpirationAttribute == "" {
		return errl.Errorf("rotation attribute names are required")
	}
	if c.Rotation.IdentifierAttribute == c.Rotation.ExpirationAttribute {
		return errl.Errorf("identifier and expiration attributes must differ")
	}
	if c.Directory.Timeout <= 0 {
		return errl.Errorf("directory.timeout must be positive")
	}

	switch c.Identity.Mode {
	case identity.ModeManagedIdentity:
	case identity.ModeIdentityEndpoint:
		if c.Identity.Endpoint == "" || c.Identity.Secret == "" {
			return errl.Errorf("identity mode %s needs endpoint and secret", c.Identity.Mode)
		}
	case identity.ModeClientCredentials:
		if c.Identity.ClientID == "" || c.Identity.ClientSecret == "" {
			return errl.Errorf("identity mode %s needs client_id and client_secret", c.Identity.Mode)
		}
		if c.Identity.TenantID == "" && c.Identity.TokenURL == "" {
			return errl.Errorf("identity mode %s needs tenant_id or token_url", c.Identity.Mode)
		}
	default:
		return errl.Errorf("unknown identity mode %q", c.Identity.Mode)
	}
	return nil
}

// IdentityOptions converts the identity section for identity.NewTokenSource.
func (c *Config) IdentityOptions() identity.Options {
	return identity.Options{
		Mode:         c.Identity.Mode,
		Resource:     c.Identity.Resource,
		ClientID:     c.Identity.ClientID,
		Endpoint:     c.Identity.Endpoint,
		Secret:       string(c.Identity.Secret),
		TenantID:     c.Identity.TenantID,
		ClientSecret: string(c.Identity.ClientSecret),
		TokenURL:     c.Identity.TokenURL,
	}
}
