package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/claimguard/internal/domain"
)

const scoringResultColumns = `
	id, tenant_id, customer_id, name, claim_amount, age, diagnosis, hospital_type,
	previous_claims, verdict, probability, base_probability, rules_fired,
	model_version, model_degraded, fallback_fields, timestamp
`

// Append stores a scoring result. The table is append-only.
// A zero Timestamp is set to the append time.
func (r *SQLRepository) Append(ctx context.Context, result *domain.ScoringResult) error {
	if result == nil || result.ID == "" {
		return fmt.Errorf("%w: scoring result id is required", domain.ErrInvalidInput)
	}
	if result.TenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	if result.Timestamp.IsZero() {
		result.Timestamp = r.now()
	}

	rulesFired, err := json.Marshal(nonNilHits(result.RulesFired))
	if err != nil {
		return fmt.Errorf("failed to encode fired rules: %w", err)
	}
	fallbacks, err := json.Marshal(result.FallbackFields)
	if err != nil {
		return fmt.Errorf("failed to encode fallback fields: %w", err)
	}

	degraded := 0
	if result.ModelDegraded {
		degraded = 1
	}

	query := `
		INSERT INTO scoring_results (` + scoringResultColumns + `, insert_seq
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		result.ID, result.TenantID,
		result.Claim.CustomerID, result.Claim.Name, result.Claim.ClaimAmount,
		result.Profile.Age, result.Claim.Diagnosis, result.Claim.HospitalType,
		result.Profile.PreviousClaims,
		string(result.Verdict), result.Probability, result.BaseProbability,
		string(rulesFired), result.ModelVersion, degraded, string(fallbacks),
		result.Timestamp.UTC(), r.nextSeq(),
	)
	return err
}

// GetScoringResult retrieves a scoring result by ID with tenant isolation.
func (r *SQLRepository) GetScoringResult(ctx context.Context, tenantID string, scoreID string) (*domain.ScoringResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `SELECT ` + scoringResultColumns + ` FROM scoring_results WHERE tenant_id = ? AND id = ?`

	result, err := scanScoringResult(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, scoreID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListScoringResults returns a customer's most recent scoring results, newest first.
func (r *SQLRepository) ListScoringResults(ctx context.Context, tenantID string, customerID string, limit int) ([]*domain.ScoringResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + scoringResultColumns + `
		FROM scoring_results
		WHERE tenant_id = ? AND customer_id = ?
		ORDER BY timestamp DESC, insert_seq DESC
		LIMIT ?
	`

	return r.queryScoringResults(ctx, query, tenantID, customerID, limit)
}

// ListScoringResultsSince returns all scoring results at or after since, oldest first.
func (r *SQLRepository) ListScoringResultsSince(ctx context.Context, tenantID string, since time.Time) ([]*domain.ScoringResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `SELECT ` + scoringResultColumns + `
		FROM scoring_results
		WHERE tenant_id = ? AND timestamp >= ?
		ORDER BY timestamp, insert_seq
	`

	return r.queryScoringResults(ctx, query, tenantID, since.UTC())
}

func (r *SQLRepository) queryScoringResults(ctx context.Context, query string, args ...any) ([]*domain.ScoringResult, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []*domain.ScoringResult{}
	for rows.Next() {
		result, err := scanScoringResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}

	return results, rows.Err()
}

func scanScoringResult(row rowScanner) (*domain.ScoringResult, error) {
	var res domain.ScoringResult
	var verdict, rulesFired string
	var fallbacks sql.NullString
	var degraded int

	if err := row.Scan(
		&res.ID, &res.TenantID,
		&res.Claim.CustomerID, &res.Claim.Name, &res.Claim.ClaimAmount,
		&res.Profile.Age, &res.Claim.Diagnosis, &res.Claim.HospitalType,
		&res.Profile.PreviousClaims,
		&verdict, &res.Probability, &res.BaseProbability,
		&rulesFired, &res.ModelVersion, &degraded, &fallbacks,
		&res.Timestamp,
	); err != nil {
		return nil, err
	}

	res.Verdict = domain.Verdict(verdict)
	res.ModelDegraded = degraded == 1
	res.AuditPersisted = true

	if err := json.Unmarshal([]byte(rulesFired), &res.RulesFired); err != nil {
		return nil, fmt.Errorf("failed to parse fired rules for %s: %w", res.ID, err)
	}
	if fallbacks.Valid && fallbacks.String != "" && fallbacks.String != "null" {
		if err := json.Unmarshal([]byte(fallbacks.String), &res.FallbackFields); err != nil {
			return nil, fmt.Errorf("failed to parse fallback fields for %s: %w", res.ID, err)
		}
	}

	return &res, nil
}

func nonNilHits(hits []domain.RuleHit) []domain.RuleHit {
	if hits == nil {
		return []domain.RuleHit{}
	}
	return hits
}
