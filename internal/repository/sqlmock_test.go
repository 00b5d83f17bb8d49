package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/claimguard/internal/domain"
)

func newMockRepo(t *testing.T) (*SQLRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewFromDB(db, "postgres")
	repo.now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }
	return repo, mock
}

func TestAppendPostgres(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scoring_results")).
		WithArgs(
			"score-1", "tenant-1", "C1", "Alice", 350000.0, 50, "Cancer", "Private", 7,
			"Fraud", 0.6, 0.05, `[]`, "nb-1", 0, `null`,
			time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Append(context.Background(), &domain.ScoringResult{
		ID:       "score-1",
		TenantID: "tenant-1",
		Claim: domain.ClaimInput{
			CustomerID: "C1", Name: "Alice", Diagnosis: "Cancer", HospitalType: "Private", ClaimAmount: 350000,
		},
		Profile:         domain.CustomerProfile{Age: 50, PreviousClaims: 7},
		Verdict:         domain.VerdictFraud,
		Probability:     0.6,
		BaseProbability: 0.05,
		ModelVersion:    "nb-1",
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendFailure(t *testing.T) {
	repo, mock := newMockRepo(t)

	outage := errors.New("connection reset by peer")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scoring_results")).WillReturnError(outage)

	err := repo.Append(context.Background(), &domain.ScoringResult{ID: "score-1", TenantID: "tenant-1"})
	assert.ErrorIs(t, err, outage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestProfilePostgres(t *testing.T) {
	repo, mock := newMockRepo(t)
	query := regexp.QuoteMeta("FROM customer_history WHERE tenant_id = $1 AND customer_id = $2 AND name = $3 ORDER BY recorded_at DESC, insert_seq DESC LIMIT 1")

	t.Run("Found", func(t *testing.T) {
		mock.ExpectQuery(query).
			WithArgs("tenant-1", "C1", "Alice").
			WillReturnRows(sqlmock.NewRows([]string{"age", "previous_claims"}).AddRow(50, 7))

		p, err := repo.LatestProfile(context.Background(), "tenant-1", "C1", "Alice")
		require.NoError(t, err)
		assert.Equal(t, &domain.CustomerProfile{Age: 50, PreviousClaims: 7}, p)
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery(query).
			WithArgs("tenant-1", "C2", "Bob").
			WillReturnRows(sqlmock.NewRows([]string{"age", "previous_claims"}))

		_, err := repo.LatestProfile(context.Background(), "tenant-1", "C2", "Bob")
		assert.ErrorIs(t, err, domain.ErrProfileNotFound)
	})

	t.Run("StoreError", func(t *testing.T) {
		mock.ExpectQuery(query).
			WithArgs("tenant-1", "C3", "Carol").
			WillReturnError(errors.New("timeout"))

		_, err := repo.LatestProfile(context.Background(), "tenant-1", "C3", "Carol")
		assert.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrProfileNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
