// Package config loads ClaimGuard configuration from defaults, an optional
// YAML file and CLAIMGUARD_ environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/opensource-finance/claimguard/internal/decision"
	"github.com/opensource-finance/claimguard/internal/domain"
)

// EnvPrefix is the prefix of environment overrides. A double underscore
// separates nesting levels: CLAIMGUARD_CACHE__REDIS_ADDR sets cache.redis_addr.
const EnvPrefix = "CLAIMGUARD_"

// Load builds the configuration. An empty path skips the file layer; a
// path that does not exist is an error.
func Load(path string) (*domain.Config, error) {
	k := koanf.New(".")

	defaults := domain.DefaultConfig()
	// Rule lists do not flatten into koanf keys; they are restored below.
	defaults.Rules.Defaults = nil

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s: %w", path, err)
			}
			return nil, err
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg domain.Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if len(cfg.Rules.Defaults) == 0 {
		cfg.Rules.Defaults = domain.DefaultRules()
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate checks the configuration for values the components cannot run with.
func Validate(cfg *domain.Config) error {
	var errs []error

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", cfg.Server.Port))
	}

	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("repository.driver %q is not supported", cfg.Repository.Driver))
	}

	switch cfg.Cache.Type {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("cache.type %q is not supported", cfg.Cache.Type))
	}
	if cfg.Cache.Type == "redis" && cfg.Cache.RedisAddr == "" {
		errs = append(errs, errors.New("cache.redis_addr is required for the redis cache"))
	}

	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		errs = append(errs, fmt.Errorf("event_bus.type %q is not supported", cfg.EventBus.Type))
	}
	if cfg.EventBus.Type == "nats" && cfg.EventBus.NATSUrl == "" {
		errs = append(errs, errors.New("event_bus.nats_url is required for the nats bus"))
	}

	if cfg.Artifacts.ModelURI == "" || cfg.Artifacts.EncodersURI == "" {
		errs = append(errs, errors.New("artifacts.model_uri and artifacts.encoders_uri are required"))
	}

	if _, err := decision.NewPolicyFromConfig(cfg.Decision); err != nil {
		errs = append(errs, fmt.Errorf("decision: %w", err))
	}

	if cfg.RateLimit.RequestsPerWindow < 0 {
		errs = append(errs, errors.New("rate_limit.requests_per_window must not be negative"))
	}
	if cfg.RateLimit.RequestsPerWindow > 0 && cfg.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate_limit.window must be positive when rate limiting is enabled"))
	}

	if cfg.Worker.Enabled && len(cfg.Worker.TenantIDs) == 0 {
		errs = append(errs, errors.New("worker.tenant_ids is required when the worker is enabled"))
	}

	if _, err := ParseLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// ParseLevel maps a configured level name to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("logging.level %q is not supported", level)
}

// NewLogger builds the process logger from the logging settings.
func NewLogger(cfg domain.LoggingConfig) *slog.Logger {
	level, _ := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
