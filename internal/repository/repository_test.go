package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/claimguard/internal/domain"
)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "claimguard-test.db"),
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("MigrateIsIdempotent", func(t *testing.T) {
		if err := repo.Migrate(ctx); err != nil {
			t.Errorf("second migration failed: %v", err)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := repo.AppendCustomerRecord(ctx, "", &domain.CustomerRecord{CustomerID: "c", Name: "n"}); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := repo.LatestProfile(ctx, "", "c", "n"); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := repo.GetScoringResult(ctx, "", "x"); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if err := repo.Append(ctx, &domain.ScoringResult{ID: "x"}); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestLatestProfile(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	jan := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	records := []*domain.CustomerRecord{
		{CustomerID: "C1", Name: "Alice", RecordedAt: mar, Age: 51, PreviousClaims: 7, Diagnosis: "Cancer", HospitalType: "Private", ClaimAmount: 1000},
		{CustomerID: "C1", Name: "Alice", RecordedAt: jan, Age: 50, PreviousClaims: 6, Diagnosis: "Flu", HospitalType: "Public", ClaimAmount: 200},
		{CustomerID: "C1", Name: "Alicia", RecordedAt: mar, Age: 20, PreviousClaims: 0, Diagnosis: "Flu", HospitalType: "Public", ClaimAmount: 10},
	}
	for _, rec := range records {
		if err := repo.AppendCustomerRecord(ctx, tenantID, rec); err != nil {
			t.Fatalf("AppendCustomerRecord failed: %v", err)
		}
	}

	t.Run("MostRecentWins", func(t *testing.T) {
		// Inserted out of order; recorded_at decides
		p, err := repo.LatestProfile(ctx, tenantID, "C1", "Alice")
		if err != nil {
			t.Fatalf("LatestProfile failed: %v", err)
		}
		if p.Age != 51 || p.PreviousClaims != 7 {
			t.Errorf("expected age 51 / 7 claims, got %+v", p)
		}
	})

	t.Run("NameIsPartOfKey", func(t *testing.T) {
		p, err := repo.LatestProfile(ctx, tenantID, "C1", "Alicia")
		if err != nil {
			t.Fatalf("LatestProfile failed: %v", err)
		}
		if p.Age != 20 {
			t.Errorf("expected age 20, got %d", p.Age)
		}
	})

	t.Run("TieGoesToLastInserted", func(t *testing.T) {
		for _, claims := range []int{3, 4} {
			rec := &domain.CustomerRecord{CustomerID: "C2", Name: "Bob", RecordedAt: jan, Age: 40, PreviousClaims: claims}
			if err := repo.AppendCustomerRecord(ctx, tenantID, rec); err != nil {
				t.Fatalf("AppendCustomerRecord failed: %v", err)
			}
		}
		p, err := repo.LatestProfile(ctx, tenantID, "C2", "Bob")
		if err != nil {
			t.Fatalf("LatestProfile failed: %v", err)
		}
		if p.PreviousClaims != 4 {
			t.Errorf("expected last inserted record (4 claims), got %d", p.PreviousClaims)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.LatestProfile(ctx, tenantID, "C404", "Nobody")
		if !errors.Is(err, domain.ErrProfileNotFound) {
			t.Errorf("expected ErrProfileNotFound, got %v", err)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, err := repo.LatestProfile(ctx, "tenant-002", "C1", "Alice")
		if !errors.Is(err, domain.ErrProfileNotFound) {
			t.Errorf("expected ErrProfileNotFound for different tenant, got %v", err)
		}
	})

	t.Run("RejectsNegative", func(t *testing.T) {
		err := repo.AppendCustomerRecord(ctx, tenantID, &domain.CustomerRecord{CustomerID: "C3", Name: "Eve", Age: -1})
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestAuditSink(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	result := &domain.ScoringResult{
		ID:       "score-001",
		TenantID: tenantID,
		Claim: domain.ClaimInput{
			CustomerID: "C1", Name: "Alice", Diagnosis: "Cancer", HospitalType: "Private", ClaimAmount: 350000,
		},
		Profile:         domain.CustomerProfile{Age: 50, PreviousClaims: 7},
		Verdict:         domain.VerdictFraud,
		Probability:     0.6,
		BaseProbability: 0.05,
		RulesFired: []domain.RuleHit{
			{RuleID: domain.RuleHighClaimAmount, Name: "High claim amount", Delta: 0.1},
		},
		ModelVersion:   "nb-1",
		ModelDegraded:  true,
		FallbackFields: []string{"Diagnosis"},
		Timestamp:      base,
	}

	t.Run("AppendAndGet", func(t *testing.T) {
		if err := repo.Append(ctx, result); err != nil {
			t.Fatalf("Append failed: %v", err)
		}

		got, err := repo.GetScoringResult(ctx, tenantID, "score-001")
		if err != nil {
			t.Fatalf("GetScoringResult failed: %v", err)
		}
		if got.Verdict != domain.VerdictFraud {
			t.Errorf("expected Fraud, got %s", got.Verdict)
		}
		if got.Probability != 0.6 || got.BaseProbability != 0.05 {
			t.Errorf("unexpected probabilities %+v", got)
		}
		if got.Claim != result.Claim || got.Profile != result.Profile {
			t.Errorf("snapshot mismatch: %+v", got)
		}
		if len(got.RulesFired) != 1 || got.RulesFired[0].RuleID != domain.RuleHighClaimAmount {
			t.Errorf("unexpected fired rules %+v", got.RulesFired)
		}
		if !got.ModelDegraded || len(got.FallbackFields) != 1 {
			t.Errorf("degraded flags not persisted: %+v", got)
		}
		if !got.Timestamp.Equal(base) {
			t.Errorf("expected timestamp %v, got %v", base, got.Timestamp)
		}
		if !got.AuditPersisted {
			t.Error("stored result must report AuditPersisted")
		}
	})

	t.Run("AppendOnly", func(t *testing.T) {
		if err := repo.Append(ctx, result); err == nil {
			t.Error("expected duplicate id to be rejected")
		}
	})

	t.Run("ZeroTimestampDefaults", func(t *testing.T) {
		r := &domain.ScoringResult{
			ID: "score-002", TenantID: tenantID,
			Claim:   domain.ClaimInput{CustomerID: "C1", Name: "Alice"},
			Verdict: domain.VerdictLegitimate, ModelVersion: "nb-1",
		}
		if err := repo.Append(ctx, r); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if r.Timestamp.IsZero() {
			t.Error("expected timestamp to be set")
		}
		got, err := repo.GetScoringResult(ctx, tenantID, "score-002")
		if err != nil {
			t.Fatalf("GetScoringResult failed: %v", err)
		}
		if got.RulesFired == nil || len(got.RulesFired) != 0 {
			t.Errorf("expected empty fired-rule ledger, got %#v", got.RulesFired)
		}
	})

	t.Run("ListByCustomer", func(t *testing.T) {
		results, err := repo.ListScoringResults(ctx, tenantID, "C1", 10)
		if err != nil {
			t.Fatalf("ListScoringResults failed: %v", err)
		}
		if len(results) != 2 {
			t.Fatalf("expected 2 results, got %d", len(results))
		}
		// Newest first
		if results[0].ID != "score-002" {
			t.Errorf("expected score-002 first, got %s", results[0].ID)
		}

		limited, _ := repo.ListScoringResults(ctx, tenantID, "C1", 1)
		if len(limited) != 1 {
			t.Errorf("expected limit to apply, got %d", len(limited))
		}
	})

	t.Run("ListSince", func(t *testing.T) {
		results, err := repo.ListScoringResultsSince(ctx, tenantID, base.Add(time.Second))
		if err != nil {
			t.Fatalf("ListScoringResultsSince failed: %v", err)
		}
		if len(results) != 1 || results[0].ID != "score-002" {
			t.Errorf("expected only score-002, got %d results", len(results))
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, err := repo.GetScoringResult(ctx, "tenant-002", "score-001")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound for different tenant, got %v", err)
		}
		results, _ := repo.ListScoringResults(ctx, "tenant-002", "C1", 10)
		if results == nil || len(results) != 0 {
			t.Errorf("expected an empty list for different tenant, got %v", results)
		}
	})
}

func TestRuleConfigs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	for _, rule := range domain.DefaultRules() {
		if err := repo.SaveRuleConfig(ctx, tenantID, rule); err != nil {
			t.Fatalf("SaveRuleConfig failed: %v", err)
		}
	}

	t.Run("List", func(t *testing.T) {
		rules, err := repo.ListRuleConfigs(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListRuleConfigs failed: %v", err)
		}
		if len(rules) != 4 {
			t.Fatalf("expected 4 rules, got %d", len(rules))
		}
		if rules[0].ID != domain.RuleFrequentPriorClaims {
			t.Errorf("expected rules ordered by id, got %s first", rules[0].ID)
		}
	})

	t.Run("UpdateSameVersion", func(t *testing.T) {
		updated := *domain.DefaultRules()[0]
		updated.Delta = 0.25
		updated.Enabled = false
		if err := repo.SaveRuleConfig(ctx, tenantID, &updated); err != nil {
			t.Fatalf("SaveRuleConfig failed: %v", err)
		}

		got, err := repo.GetRuleConfig(ctx, tenantID, updated.ID)
		if err != nil {
			t.Fatalf("GetRuleConfig failed: %v", err)
		}
		if got.Delta != 0.25 || got.Enabled {
			t.Errorf("expected update to apply, got %+v", got)
		}

		rules, _ := repo.ListRuleConfigs(ctx, tenantID)
		if len(rules) != 4 {
			t.Errorf("expected 4 rules after update, got %d", len(rules))
		}
	})

	t.Run("NewVersionSupersedes", func(t *testing.T) {
		v2 := *domain.DefaultRules()[1]
		v2.Version = "2"
		v2.Expression = "previous_claims > 3"
		time.Sleep(2 * time.Millisecond)
		if err := repo.SaveRuleConfig(ctx, tenantID, &v2); err != nil {
			t.Fatalf("SaveRuleConfig failed: %v", err)
		}

		rules, _ := repo.ListRuleConfigs(ctx, tenantID)
		if len(rules) != 4 {
			t.Fatalf("expected one entry per rule id, got %d", len(rules))
		}
		for _, r := range rules {
			if r.ID == v2.ID && r.Version != "2" {
				t.Errorf("expected version 2 to supersede, got %s", r.Version)
			}
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetRuleConfig(ctx, tenantID, "nonexistent")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		rules, err := repo.ListRuleConfigs(ctx, "tenant-002")
		if err != nil {
			t.Fatalf("ListRuleConfigs failed: %v", err)
		}
		if len(rules) != 0 {
			t.Errorf("expected no rules for different tenant, got %d", len(rules))
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestNextSeqIsStrictlyIncreasing(t *testing.T) {
	repo := NewFromDB(nil, "sqlite")
	prev := repo.nextSeq()
	for i := 0; i < 1000; i++ {
		next := repo.nextSeq()
		if next <= prev {
			t.Fatalf("sequence went backwards: %d after %d", next, prev)
		}
		prev = next
	}
}
