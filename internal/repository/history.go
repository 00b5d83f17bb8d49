package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/opensource-finance/claimguard/internal/domain"
)

// AppendCustomerRecord stores one customer history row with tenant isolation.
// Records are never updated; a newer record supersedes older ones at lookup time.
func (r *SQLRepository) AppendCustomerRecord(ctx context.Context, tenantID string, rec *domain.CustomerRecord) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}
	if rec == nil || rec.CustomerID == "" || rec.Name == "" {
		return fmt.Errorf("%w: customer id and name are required", domain.ErrInvalidInput)
	}
	if rec.Age < 0 || rec.PreviousClaims < 0 || rec.ClaimAmount < 0 {
		return fmt.Errorf("%w: numeric fields must not be negative", domain.ErrInvalidInput)
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = r.now()
	}
	rec.TenantID = tenantID

	query := `
		INSERT INTO customer_history (
			id, tenant_id, customer_id, name, recorded_at, age,
			diagnosis, hospital_type, previous_claims, claim_amount, insert_seq
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, tenantID, rec.CustomerID, rec.Name, rec.RecordedAt.UTC(), rec.Age,
		rec.Diagnosis, rec.HospitalType, rec.PreviousClaims, rec.ClaimAmount, r.nextSeq(),
	)
	return err
}

// LatestProfile returns the profile from the most recent record for
// (tenant, customer, name). The latest recorded_at wins; ties go to the
// record inserted last.
func (r *SQLRepository) LatestProfile(ctx context.Context, tenantID, customerID, name string) (*domain.CustomerProfile, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT age, previous_claims
		FROM customer_history
		WHERE tenant_id = ? AND customer_id = ? AND name = ?
		ORDER BY recorded_at DESC, insert_seq DESC
		LIMIT 1
	`

	var p domain.CustomerProfile
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, customerID, name).Scan(&p.Age, &p.PreviousClaims)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}

	return &p, nil
}
