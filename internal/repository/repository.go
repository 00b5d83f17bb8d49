// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/opensource-finance/claimguard/internal/domain"
)

var _ domain.Repository = (*SQLRepository)(nil)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string

	seqMu   sync.Mutex
	lastSeq int64
	now     func() time.Time
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := NewFromDB(db, cfg.Driver)

	// Run migrations
	if err := repo.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

// NewFromDB wraps an already opened database. Migrations are not run.
func NewFromDB(db *sql.DB, driver string) *SQLRepository {
	return &SQLRepository{
		db:     db,
		driver: driver,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Migrate creates all tables and indexes if they do not exist.
func (r *SQLRepository) Migrate(ctx context.Context) error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.ExecContext(ctx, schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRuleConfig stores a rule configuration with tenant isolation.
// Saving the same (id, version) again updates it in place.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, tenantID string, rule *domain.RuleConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", domain.ErrInvalidInput)
	}

	version := rule.Version
	if version == "" {
		version = "1"
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := r.now()

	query := `
		INSERT INTO rule_configs (
			id, tenant_id, name, description, version, expression, delta, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			delta = excluded.delta,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		version, rule.Expression, rule.Delta, enabled,
		now, now,
	)
	return err
}

// GetRuleConfig retrieves the most recently saved version of a rule with tenant isolation.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, delta, enabled
		FROM rule_configs
		WHERE tenant_id = ? AND id = ?
		ORDER BY updated_at DESC, version DESC
		LIMIT 1
	`

	cfg, err := scanRuleConfig(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ListRuleConfigs returns the most recently saved version of every rule for a tenant,
// ordered by rule ID. Disabled rules are included so callers can see them.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context, tenantID string) ([]*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, delta, enabled
		FROM rule_configs
		WHERE tenant_id = ?
		ORDER BY id, updated_at DESC, version DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	configs := []*domain.RuleConfig{}
	for rows.Next() {
		cfg, err := scanRuleConfig(rows)
		if err != nil {
			return nil, err
		}
		// First row per id is the latest
		if n := len(configs); n > 0 && configs[n-1].ID == cfg.ID {
			continue
		}
		configs = append(configs, cfg)
	}

	return configs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRuleConfig(row rowScanner) (*domain.RuleConfig, error) {
	var cfg domain.RuleConfig
	var description sql.NullString
	var enabled int

	if err := row.Scan(
		&cfg.ID, &cfg.TenantID, &cfg.Name, &description,
		&cfg.Version, &cfg.Expression, &cfg.Delta, &enabled,
	); err != nil {
		return nil, err
	}

	cfg.Description = description.String
	cfg.Enabled = enabled == 1
	return &cfg, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// nextSeq returns a strictly increasing insertion sequence for this process.
func (r *SQLRepository) nextSeq() int64 {
	r.seqMu.Lock()
	defer r.seqMu.Unlock()

	seq := time.Now().UnixNano()
	if seq <= r.lastSeq {
		seq = r.lastSeq + 1
	}
	r.lastSeq = seq
	return seq
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
