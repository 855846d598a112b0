package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	crmauth "github.com/goliatone/go-crmauth"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix marks environment variables read as configuration. Nested keys
// use a double underscore, CRM_AUTH__BASE_URL sets auth.base_url.
const EnvPrefix = "CRM_"

const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// Config is the binary configuration
type Config struct {
	Auth   crmauth.Options `koanf:"auth"`
	Server Server          `koanf:"server"`
	Store  Store           `koanf:"store"`
	Debug  bool            `koanf:"debug"`
}

type Server struct {
	Addr            string `koanf:"addr"`
	MetricsPath     string `koanf:"metrics_path"`
	LoadPermissions bool   `koanf:"load_permissions"`
}

type Store struct {
	Driver string `koanf:"driver"`
	Dir    string `koanf:"dir"`
	DSN    string `koanf:"dsn"`
	Slot   string `koanf:"slot"`
}

// Defaults returns the configuration used when no source overrides it
func Defaults() Config {
	dir := ".crm"
	if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, ".crm")
	}

	return Config{
		Auth: crmauth.DefaultOptions(),
		Server: Server{
			Addr:            ":8572",
			MetricsPath:     "/metrics",
			LoadPermissions: true,
		},
		Store: Store{
			Driver: StoreFile,
			Dir:    dir,
			Slot:   "default",
		},
	}
}

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"base-url":            "auth.base_url",
	"request-timeout":     "auth.request_timeout",
	"revalidate-interval": "auth.revalidate_interval",
	"addr":                "server.addr",
	"store":               "store.driver",
	"store-dir":           "store.dir",
	"store-dsn":           "store.dsn",
	"debug":               "debug",
}

// Load merges defaults, the optional YAML file at path, CRM_ environment
// variables and changed flags, in that order.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if flags != nil {
		provider := posflag.ProviderWithValue(flags, ".", k, func(key, value string) (string, interface{}) {
			mapped, ok := flagKeys[key]
			if !ok {
				return "", nil
			}
			return mapped, value
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate checks the values the binary cannot run without
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.BaseURL) == "" {
		return fmt.Errorf("auth.base_url is required")
	}

	switch c.Store.Driver {
	case StoreFile, StoreSQLite:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	return nil
}

// SQLiteDSN returns the configured DSN or a database file inside Dir.
func (s Store) SQLiteDSN() string {
	if s.DSN != "" {
		return s.DSN
	}
	return "file:" + filepath.Join(s.Dir, "credentials.db")
}

// envKey maps CRM_AUTH__BASE_URL onto auth.base_url. An empty result
// makes koanf skip the variable.
func envKey(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}
