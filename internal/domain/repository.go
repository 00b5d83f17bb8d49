// Package domain defines the core interfaces and types for ClaimGuard.
package domain

import (
	"context"
	"time"
)

// HistoryStore is the read side of customer history used by the scoring pipeline.
type HistoryStore interface {
	// LatestProfile returns the most recent profile for (tenant, customer, name).
	// Returns ErrProfileNotFound if no record exists.
	LatestProfile(ctx context.Context, tenantID, customerID, name string) (*CustomerProfile, error)
}

// AuditSink is the append-only store of scoring decisions.
type AuditSink interface {
	Append(ctx context.Context, result *ScoringResult) error
}

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	HistoryStore
	AuditSink

	// Customer history
	AppendCustomerRecord(ctx context.Context, tenantID string, rec *CustomerRecord) error

	// Audit review
	GetScoringResult(ctx context.Context, tenantID string, scoreID string) (*ScoringResult, error)
	ListScoringResults(ctx context.Context, tenantID string, customerID string, limit int) ([]*ScoringResult, error)
	ListScoringResultsSince(ctx context.Context, tenantID string, since time.Time) ([]*ScoringResult, error)

	// Rule configuration operations
	SaveRuleConfig(ctx context.Context, tenantID string, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context, tenantID string) ([]*RuleConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `koanf:"driver"`

	// SQLite specific
	SQLitePath string `koanf:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `koanf:"postgres_host"`
	PostgresPort     int    `koanf:"postgres_port"`
	PostgresUser     string `koanf:"postgres_user"`
	PostgresPassword string `koanf:"postgres_password"`
	PostgresDB       string `koanf:"postgres_db"`
	PostgresSSLMode  string `koanf:"postgres_ssl_mode"`

	// Connection pool settings
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}
