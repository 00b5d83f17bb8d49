package domain

import "time"

// Config holds the complete ClaimGuard configuration.
type Config struct {
	// Server settings
	Server ServerConfig `koanf:"server"`

	// Component configurations
	Repository RepositoryConfig `koanf:"repository"`
	Cache      CacheConfig      `koanf:"cache"`
	EventBus   EventBusConfig   `koanf:"event_bus"`

	// Scoring pipeline
	Artifacts ArtifactConfig `koanf:"artifacts"`
	Decision  DecisionConfig `koanf:"decision"`
	Rules     RulesConfig    `koanf:"rules"`

	// Boundary behaviour
	RateLimit   RateLimitConfig   `koanf:"rate_limit"`
	Idempotency IdempotencyConfig `koanf:"idempotency"`
	Worker      WorkerConfig      `koanf:"worker"`

	// Observability
	Logging LoggingConfig `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `koanf:"host"`
	Port         int    `koanf:"port"`
	ReadTimeout  int    `koanf:"read_timeout"`  // seconds
	WriteTimeout int    `koanf:"write_timeout"` // seconds
}

// ArtifactConfig locates the fitted model and encoders.
// URIs may be local paths, file:// or s3://bucket/key.
type ArtifactConfig struct {
	ModelURI    string `koanf:"model_uri"`
	EncodersURI string `koanf:"encoders_uri"`
	S3Region    string `koanf:"s3_region"`
}

// DecisionConfig holds the clamp bounds and verdict threshold.
type DecisionConfig struct {
	Threshold      float64 `koanf:"threshold"`
	MinProbability float64 `koanf:"min_probability"`
	MaxProbability float64 `koanf:"max_probability"`
}

// RulesConfig holds rule engine settings and the default rule set
// seeded into an empty rule store.
type RulesConfig struct {
	MaxWorkers int           `koanf:"max_workers"`
	Defaults   []*RuleConfig `koanf:"defaults"`
}

// RateLimitConfig bounds scoring requests per tenant.
type RateLimitConfig struct {
	RequestsPerWindow int           `koanf:"requests_per_window"` // 0 disables
	Window            time.Duration `koanf:"window"`
}

// IdempotencyConfig controls replay of responses keyed by Idempotency-Key.
type IdempotencyConfig struct {
	TTL time.Duration `koanf:"ttl"` // 0 disables
}

// WorkerConfig controls the asynchronous scoring worker.
type WorkerConfig struct {
	Enabled   bool     `koanf:"enabled"`
	TenantIDs []string `koanf:"tenant_ids"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

// Decision defaults.
const (
	DefaultFraudThreshold = 0.35
	DefaultMinProbability = 0.0
	DefaultMaxProbability = 1.0
)

// DefaultDecisionConfig returns the standard clamp bounds and threshold.
func DefaultDecisionConfig() DecisionConfig {
	return DecisionConfig{
		Threshold:      DefaultFraudThreshold,
		MinProbability: DefaultMinProbability,
		MaxProbability: DefaultMaxProbability,
	}
}

// DefaultRules returns the standard adjustment rule set.
//
// Label matches fold case with CEL lowerAscii(), so only A-Z are folded;
// a label with non-ASCII capitals must be stored in the case callers send.
func DefaultRules() []*RuleConfig {
	return []*RuleConfig{
		{
			ID:          RuleHighClaimAmount,
			Name:        "High claim amount",
			Description: "Claim amount above 300,000",
			Version:     "1",
			Expression:  "claim_amount > 300000.0",
			Delta:       0.10,
			Enabled:     true,
		},
		{
			ID:          RuleFrequentPriorClaims,
			Name:        "Frequent prior claims",
			Description: "More than 5 previous claims",
			Version:     "1",
			Expression:  "previous_claims > 5",
			Delta:       0.15,
			Enabled:     true,
		},
		{
			ID:          RuleSuspiciousDiagnosis,
			Name:        "Suspicious diagnosis",
			Description: "Diagnosis commonly seen in inflated claims (ASCII case-insensitive)",
			Version:     "1",
			Expression:  "diagnosis.lowerAscii() in ['cancer', 'heart disease']",
			Delta:       0.20,
			Enabled:     true,
		},
		{
			ID:          RulePrivateHospital,
			Name:        "Private hospital",
			Description: "Treatment at a private hospital (ASCII case-insensitive)",
			Version:     "1",
			Expression:  "hospital_type.lowerAscii() == 'private'",
			Delta:       0.10,
			Enabled:     true,
		},
	}
}

// DefaultConfig returns a default single-node configuration
// (SQLite, in-memory cache, channel bus).
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./claimguard.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Artifacts: ArtifactConfig{
			ModelURI:    "./artifacts/naive_bayes.json",
			EncodersURI: "./artifacts/label_encoders.json",
		},
		Decision: DefaultDecisionConfig(),
		Rules: RulesConfig{
			MaxWorkers: 4,
			Defaults:   DefaultRules(),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: 0,
			Window:            time.Minute,
		},
		Idempotency: IdempotencyConfig{
			TTL: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
