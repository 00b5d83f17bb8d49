package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/claimguard/internal/decision"
	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/encoder"
	"github.com/opensource-finance/claimguard/internal/rules"
)

const tenant = "tenant-001"

type mockHistory struct {
	mock.Mock
}

func (m *mockHistory) LatestProfile(ctx context.Context, tenantID, customerID, name string) (*domain.CustomerProfile, error) {
	args := m.Called(ctx, tenantID, customerID, name)
	if p := args.Get(0); p != nil {
		return p.(*domain.CustomerProfile), args.Error(1)
	}
	return nil, args.Error(1)
}

type memoryAudit struct {
	mu      sync.Mutex
	results []*domain.ScoringResult
	err     error
}

func (a *memoryAudit) Append(_ context.Context, r *domain.ScoringResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.results = append(a.results, r)
	return nil
}

func (a *memoryAudit) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.results)
}

type fixedModel struct {
	p    float64
	err  error
	seen []domain.EncodedFeatures
	mu   sync.Mutex
}

func (m *fixedModel) PredictFraudProbability(f domain.EncodedFeatures) (float64, error) {
	m.mu.Lock()
	m.seen = append(m.seen, f)
	m.mu.Unlock()
	return m.p, m.err
}

func (m *fixedModel) Version() string { return "fixed-1" }

type recordingObserver struct {
	mu        sync.Mutex
	degraded  int
	fallbacks []string
	auditFail int
	scored    int
}

func (o *recordingObserver) ModelDegraded(string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.degraded++
}

func (o *recordingObserver) CategoryFallback(_, feature, _ string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fallbacks = append(o.fallbacks, feature)
}

func (o *recordingObserver) AuditFailed(string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.auditFail++
}

func (o *recordingObserver) Scored(*domain.ScoringResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scored++
}

func testEncoders(t *testing.T) *encoder.Set {
	t.Helper()
	set, err := encoder.LoadSet([]byte(`{
		"version": "enc-1",
		"encoders": {
			"Diagnosis": {"classes": ["Cancer", "Diabetes", "Flu", "Heart Disease"]},
			"HospitalType": {"classes": ["Clinic", "Private", "Public"]}
		}
	}`))
	require.NoError(t, err)
	return set
}

type fixture struct {
	scorer   *Scorer
	history  *mockHistory
	audit    *memoryAudit
	model    *fixedModel
	observer *recordingObserver
}

func newFixture(t *testing.T, base float64) *fixture {
	t.Helper()

	engine, err := rules.NewEngine(4)
	require.NoError(t, err)
	require.NoError(t, engine.LoadRules(domain.DefaultRules()))
	t.Cleanup(func() { engine.Close() })

	f := &fixture{
		history:  &mockHistory{},
		audit:    &memoryAudit{},
		model:    &fixedModel{p: base},
		observer: &recordingObserver{},
	}

	f.scorer, err = New(Deps{
		History:  f.history,
		Audit:    f.audit,
		Encoders: testEncoders(t),
		Model:    f.model,
		Rules:    engine,
		Policy:   decision.NewPolicy(),
		Observer: f.observer,
		Now:      func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) },
		NewID:    func() string { return "score-1" },
	})
	require.NoError(t, err)
	return f
}

func TestScoreAllRulesFire(t *testing.T) {
	f := newFixture(t, 0.05)
	f.history.On("LatestProfile", mock.Anything, tenant, "C1", "Alice").
		Return(&domain.CustomerProfile{Age: 50, PreviousClaims: 7}, nil)

	result, err := f.scorer.Score(context.Background(), tenant, &domain.ClaimRequest{
		CustomerID: "C1", Name: "Alice", Diagnosis: "Cancer", HospitalType: "Private", ClaimAmount: "350000",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.VerdictFraud, result.Verdict)
	assert.InDelta(t, 0.60, result.Probability, 1e-9)
	assert.InDelta(t, 0.05, result.BaseProbability, 1e-12)
	assert.Len(t, result.RulesFired, 4)
	assert.Equal(t, "score-1", result.ID)
	assert.Equal(t, tenant, result.TenantID)
	assert.Equal(t, "fixed-1", result.ModelVersion)
	assert.True(t, result.AuditPersisted)
	assert.False(t, result.ModelDegraded)
	assert.Empty(t, result.FallbackFields)

	// Encoded features reach the model in fixed order
	require.Len(t, f.model.seen, 1)
	assert.Equal(t, domain.EncodedFeatures{
		ClaimAmount: 350000, Age: 50, DiagnosisCode: 0, HospitalCode: 1, PreviousClaims: 7,
	}, f.model.seen[0])

	require.Equal(t, 1, f.audit.count())
	assert.Same(t, result, f.audit.results[0])
	f.history.AssertExpectations(t)
}

func TestScoreNoRulesFire(t *testing.T) {
	f := newFixture(t, 0.02)
	f.history.On("LatestProfile", mock.Anything, tenant, "C2", "Bob").
		Return(&domain.CustomerProfile{Age: 30, PreviousClaims: 1}, nil)

	result, err := f.scorer.Score(context.Background(), tenant, &domain.ClaimRequest{
		CustomerID: "C2", Name: "Bob", Diagnosis: "Flu", HospitalType: "Public", ClaimAmount: "12000",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.VerdictLegitimate, result.Verdict)
	assert.InDelta(t, 0.02, result.Probability, 1e-12)
	assert.Empty(t, result.RulesFired)
}

func TestScoreClampsToOne(t *testing.T) {
	f := newFixture(t, 0.9)
	f.history.On("LatestProfile", mock.Anything, tenant, "C3", "Carol").
		Return(&domain.CustomerProfile{Age: 61, PreviousClaims: 9}, nil)

	result, err := f.scorer.Score(context.Background(), tenant, &domain.ClaimRequest{
		CustomerID: "C3", Name: "Carol", Diagnosis: "Heart Disease", HospitalType: "Private", ClaimAmount: "500000.50",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.VerdictFraud, result.Verdict)
	assert.Equal(t, 1.0, result.Probability)
	assert.InDelta(t, 500000.50, result.Claim.ClaimAmount, 1e-9)
}

func TestScoreProfileNotFound(t *testing.T) {
	f := newFixture(t, 0.5)
	f.history.On("LatestProfile", mock.Anything, tenant, "ghost", "Nobody").
		Return(nil, domain.ErrProfileNotFound)

	result, err := f.scorer.Score(context.Background(), tenant, &domain.ClaimRequest{
		CustomerID: "ghost", Name: "Nobody", Diagnosis: "Flu", HospitalType: "Public", ClaimAmount: "10",
	})
	assert.ErrorIs(t, err, domain.ErrProfileNotFound)
	assert.Nil(t, result)
	assert.Zero(t, f.audit.count())
	assert.Empty(t, f.model.seen)
}

func TestScoreHistoryStoreError(t *testing.T) {
	f := newFixture(t, 0.5)
	f.history.On("LatestProfile", mock.Anything, tenant, "C1", "Alice").
		Return(nil, errors.New("connection refused"))

	_, err := f.scorer.Score(context.Background(), tenant, &domain.ClaimRequest{
		CustomerID: "C1", Name: "Alice", Diagnosis: "Flu", HospitalType: "Public", ClaimAmount: "10",
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrProfileNotFound)
	assert.Zero(t, f.audit.count())
}

func TestScoreInvalidClaimData(t *testing.T) {
	tests := []struct {
		name    string
		amount  domain.Amount
		profile domain.CustomerProfile
	}{
		{"NotANumber", "lots", domain.CustomerProfile{Age: 40}},
		{"Negative", "-5", domain.CustomerProfile{Age: 40}},
		{"Empty", "", domain.CustomerProfile{Age: 40}},
		{"NegativeAge", "100", domain.CustomerProfile{Age: -1}},
		{"NegativePreviousClaims", "100", domain.CustomerProfile{Age: 40, PreviousClaims: -3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 0.5)
			profile := tt.profile
			f.history.On("LatestProfile", mock.Anything, tenant, "C1", "Alice").Return(&profile, nil)

			_, err := f.scorer.Score(context.Background(), tenant, &domain.ClaimRequest{
				CustomerID: "C1", Name: "Alice", Diagnosis: "Flu", HospitalType: "Public", ClaimAmount: tt.amount,
			})
			assert.ErrorIs(t, err, domain.ErrInvalidClaimData)
			assert.Zero(t, f.audit.count())
		})
	}
}

func TestScoreModelFailureFailsOpen(t *testing.T) {
	tests := []struct {
		name  string
		model *fixedModel
	}{
		{"Error", &fixedModel{err: errors.New("artifact corrupt")}},
		{"NaN", &fixedModel{p: math.NaN()}},
		{"OutOfRange", &fixedModel{p: 1.7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 0)
			f.scorer.model = tt.model
			f.history.On("LatestProfile", mock.Anything, tenant, "C1", "Alice").
				Return(&domain.CustomerProfile{Age: 50, PreviousClaims: 7}, nil)

			result, err := f.scorer.Score(context.Background(), tenant, &domain.ClaimRequest{
				CustomerID: "C1", Name: "Alice", Diagnosis: "Cancer", HospitalType: "Private", ClaimAmount: "350000",
			})
			require.NoError(t, err)

			// Base 0 plus all four deltas
			assert.Equal(t, 0.0, result.BaseProbability)
			assert.InDelta(t, 0.55, result.Probability, 1e-9)
			assert.Equal(t, domain.VerdictFraud, result.Verdict)
			assert.True(t, result.ModelDegraded)
			assert.Equal(t, 1, f.observer.degraded)
			assert.Equal(t, 1, f.audit.count())
		})
	}
}

func TestScoreUnknownCategoryFallback(t *testing.T) {
	f := newFixture(t, 0.1)
	f.history.On("LatestProfile", mock.Anything, tenant, "C1", "Alice").
		Return(&domain.CustomerProfile{Age: 50, PreviousClaims: 0}, nil)

	// Encoders are case-sensitive; rules are not
	result, err := f.scorer.Score(context.Background(), tenant, &domain.ClaimRequest{
		CustomerID: "C1", Name: "Alice", Diagnosis: "cancer", HospitalType: "Mobile Unit", ClaimAmount: "100",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{encoder.FeatureDiagnosis, encoder.FeatureHospitalType}, result.FallbackFields)
	assert.Equal(t, []string{encoder.FeatureDiagnosis, encoder.FeatureHospitalType}, f.observer.fallbacks)
	assert.Equal(t, encoder.FallbackCode, f.model.seen[0].DiagnosisCode)
	assert.Equal(t, encoder.FallbackCode, f.model.seen[0].HospitalCode)

	require.Len(t, result.RulesFired, 1)
	assert.Equal(t, domain.RuleSuspiciousDiagnosis, result.RulesFired[0].RuleID)
	assert.InDelta(t, 0.30, result.Probability, 1e-9)
}

func TestScoreAuditOutage(t *testing.T) {
	f := newFixture(t, 0.05)
	f.audit.err = errors.New("disk full")
	f.history.On("LatestProfile", mock.Anything, tenant, "C1", "Alice").
		Return(&domain.CustomerProfile{Age: 50, PreviousClaims: 7}, nil)

	result, err := f.scorer.Score(context.Background(), tenant, &domain.ClaimRequest{
		CustomerID: "C1", Name: "Alice", Diagnosis: "Cancer", HospitalType: "Private", ClaimAmount: "350000",
	})
	require.NoError(t, err)

	assert.False(t, result.AuditPersisted)
	assert.Equal(t, domain.VerdictFraud, result.Verdict)
	assert.Equal(t, 1, f.observer.auditFail)
	assert.Equal(t, 1, f.observer.scored)
	assert.Zero(t, f.audit.count())
}

func TestScoreAuditCountTrailsOutage(t *testing.T) {
	f := newFixture(t, 0.02)
	f.history.On("LatestProfile", mock.Anything, tenant, "C2", "Bob").
		Return(&domain.CustomerProfile{Age: 30, PreviousClaims: 1}, nil)

	req := &domain.ClaimRequest{
		CustomerID: "C2", Name: "Bob", Diagnosis: "Flu", HospitalType: "Public", ClaimAmount: "5000",
	}
	score := func() *domain.ScoringResult {
		result, err := f.scorer.Score(context.Background(), tenant, req)
		require.NoError(t, err)
		assert.Equal(t, domain.VerdictLegitimate, result.Verdict)
		assert.InDelta(t, 0.02, result.Probability, 1e-9)
		return result
	}

	for i := 0; i < 3; i++ {
		assert.True(t, score().AuditPersisted)
	}
	assert.Equal(t, 3, f.audit.count())

	f.audit.mu.Lock()
	f.audit.err = errors.New("connection reset")
	f.audit.mu.Unlock()
	for i := 0; i < 2; i++ {
		assert.False(t, score().AuditPersisted)
	}

	f.audit.mu.Lock()
	f.audit.err = nil
	f.audit.mu.Unlock()
	assert.True(t, score().AuditPersisted)

	// Six verdicts returned, four persisted.
	assert.Equal(t, 6, f.observer.scored)
	assert.Equal(t, 2, f.observer.auditFail)
	assert.Equal(t, 4, f.audit.count())
}

func TestScoreNilProfileIsNotFound(t *testing.T) {
	f := newFixture(t, 0.5)
	f.history.On("LatestProfile", mock.Anything, tenant, "C1", "Alice").Return(nil, nil)

	result, err := f.scorer.Score(context.Background(), tenant, &domain.ClaimRequest{
		CustomerID: "C1", Name: "Alice", Diagnosis: "Flu", HospitalType: "Public", ClaimAmount: "10",
	})
	assert.ErrorIs(t, err, domain.ErrProfileNotFound)
	assert.Nil(t, result)
	assert.Zero(t, f.audit.count())
	assert.Empty(t, f.model.seen)
}

func TestScoreIsDeterministic(t *testing.T) {
	f := newFixture(t, 0.137)
	f.history.On("LatestProfile", mock.Anything, tenant, mock.Anything, mock.Anything).
		Return(&domain.CustomerProfile{Age: 44, PreviousClaims: 6}, nil)

	req := &domain.ClaimRequest{
		CustomerID: "C9", Name: "Dana", Diagnosis: "Heart Disease", HospitalType: "Private", ClaimAmount: "310000.01",
	}
	first, err := f.scorer.Score(context.Background(), tenant, req)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := f.scorer.Score(context.Background(), tenant, req)
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, first.Verdict, r.Verdict)
			assert.Equal(t, math.Float64bits(first.Probability), math.Float64bits(r.Probability))
			assert.Equal(t, first.RulesFired, r.RulesFired)
		}()
	}
	wg.Wait()
	assert.Equal(t, 17, f.audit.count())
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)

	s, err := New(Deps{
		History:  &mockHistory{},
		Audit:    &memoryAudit{},
		Encoders: testEncoders(t),
		Model:    &fixedModel{},
		Rules:    noRules{},
	})
	require.NoError(t, err)
	assert.NotNil(t, s.policy)
	assert.NotEmpty(t, s.newID())
	assert.Equal(t, "fixed-1", s.ModelVersion())
}

type noRules struct{}

func (noRules) Apply(_ context.Context, base float64, _ *domain.ClaimInput, _ *domain.CustomerProfile) (float64, []domain.RuleHit) {
	return base, nil
}

func ExampleScorer_Score() {
	// A scorer wired with in-memory collaborators.
	engine, _ := rules.NewEngine(2)
	_ = engine.LoadRules(domain.DefaultRules())

	history := &mockHistory{}
	history.On("LatestProfile", mock.Anything, "acme", "C1", "Alice").
		Return(&domain.CustomerProfile{Age: 50, PreviousClaims: 7}, nil)

	encoders, _ := encoder.LoadSet([]byte(`{"encoders":{"Diagnosis":{"classes":["Cancer"]},"HospitalType":{"classes":["Private"]}}}`))
	scorer, _ := New(Deps{
		History:  history,
		Audit:    &memoryAudit{},
		Encoders: encoders,
		Model:    &fixedModel{p: 0.05},
		Rules:    engine,
	})

	result, _ := scorer.Score(context.Background(), "acme", &domain.ClaimRequest{
		CustomerID: "C1", Name: "Alice", Diagnosis: "Cancer", HospitalType: "Private", ClaimAmount: "350000",
	})
	fmt.Printf("%s %.2f %d\n", result.Verdict, result.Probability, len(result.RulesFired))
	// Output: Fraud 0.60 4
}
