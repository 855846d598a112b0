package config

import "context"

type contextKey string

const configKey contextKey = "crm-config"

// InjectConfig adds cfg to the command context
func InjectConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves the config from ctx.
func FromContext(ctx context.Context) (*Config, bool) {
	cfg, ok := ctx.Value(configKey).(*Config)
	return cfg, ok && cfg != nil
}

// MustFromContext retrieves the config from ctx or panics. Only commands
// running under the root command should call it.
func MustFromContext(ctx context.Context) *Config {
	cfg, ok := FromContext(ctx)
	if !ok {
		panic("crm: config not found in context")
	}
	return cfg
}
